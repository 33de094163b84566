package publisher

import "chanpub/pkg/stream"

// subscription is the consumer handle. It holds no mutable state: every call
// is marshaled onto the publisher loop, where the state machine ignores calls
// that arrive after termination.
type subscription[T any] struct {
	publisher *Publisher[T]
}

// Request implements stream.Subscription.
func (s *subscription[T]) Request(n int64) {
	s.marshal("request", func() { s.publisher.request(s, n) })
}

// Cancel implements stream.Subscription.
func (s *subscription[T]) Cancel() {
	s.marshal("cancel", func() { s.publisher.cancel(s) })
}

func (s *subscription[T]) marshal(op string, task func()) {
	if err := s.publisher.loop.Execute(task); err != nil {
		s.publisher.logger.Debug("subscription call dropped", "op", op, "error", err)
	}
}

var _ stream.Subscription = (*subscription[int])(nil)
