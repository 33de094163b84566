package stream

import "errors"

var (
	// ErrNonPositiveRequest indicates Subscription.Request was called with n <= 0.
	ErrNonPositiveRequest = errors.New("stream: request must be positive")
	// ErrAlreadySubscribed indicates a publisher already accepted its single subscriber.
	ErrAlreadySubscribed = errors.New("stream: publisher already has a subscriber")
	// ErrNilSubscriber indicates Publisher.Subscribe was called with a nil subscriber.
	ErrNilSubscriber = errors.New("stream: nil subscriber")
	// ErrSubscriberPanic indicates a subscriber callback panicked and was cancelled.
	ErrSubscriberPanic = errors.New("stream: subscriber callback panicked")
	// ErrInvalidWaterMarks indicates a water mark pair without hysteresis.
	ErrInvalidWaterMarks = errors.New("stream: invalid water marks")
	// ErrPublisherClosed indicates the publisher's event loop no longer accepts work.
	ErrPublisherClosed = errors.New("stream: publisher closed")
)
