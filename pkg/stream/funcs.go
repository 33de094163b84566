package stream

// PublisherFunc adapts a function into a Publisher.
type PublisherFunc[T any] func(subscriber Subscriber[T])

// Subscribe implements Publisher.
func (f PublisherFunc[T]) Subscribe(subscriber Subscriber[T]) {
	f(subscriber)
}

// SubscriberFuncs adapts plain functions into a Subscriber.
//
// Nil fields are treated as no-ops.
type SubscriberFuncs[T any] struct {
	Subscribe func(subscription Subscription)
	Next      func(element T)
	Error     func(err error)
	Complete  func()
}

// OnSubscribe implements Subscriber.
func (f SubscriberFuncs[T]) OnSubscribe(subscription Subscription) {
	if f.Subscribe != nil {
		f.Subscribe(subscription)
	}
}

// OnNext implements Subscriber.
func (f SubscriberFuncs[T]) OnNext(element T) {
	if f.Next != nil {
		f.Next(element)
	}
}

// OnError implements Subscriber.
func (f SubscriberFuncs[T]) OnError(err error) {
	if f.Error != nil {
		f.Error(err)
	}
}

// OnComplete implements Subscriber.
func (f SubscriberFuncs[T]) OnComplete() {
	if f.Complete != nil {
		f.Complete()
	}
}

// NoopSubscription ignores all requests. It is handed to rejected subscribers.
type NoopSubscription struct{}

// Request implements Subscription.
func (NoopSubscription) Request(int64) {}

// Cancel implements Subscription.
func (NoopSubscription) Cancel() {}

var (
	_ Publisher[int]  = PublisherFunc[int](nil)
	_ Subscriber[int] = SubscriberFuncs[int]{}
	_ Subscription    = NoopSubscription{}
)
