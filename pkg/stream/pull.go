package stream

import (
	"context"
	"fmt"
	"iter"
	"sync"
)

// MaxPullBatch bounds the demand window used by Pull.
const MaxPullBatch = 4096

// Pull subscribes to publisher and exposes it as a pull-based iterator.
//
// Demand is granted in windows of batch elements: a new window is requested
// once the previous one was fully consumed. The subscription is cancelled when
// iteration stops early or ctx is done. A terminal error is yielded once with a
// zero element; normal completion ends iteration without an error.
func Pull[T any](ctx context.Context, publisher Publisher[T], batch int64) iter.Seq2[T, error] {
	batch = clampBatch(batch)

	return func(yield func(T, error) bool) {
		var zero T

		sub := newPullSubscriber[T](batch)
		publisher.Subscribe(sub)

		var subscription Subscription
		select {
		case subscription = <-sub.subscriptions:
		case <-ctx.Done():
			sub.abandon()
			yield(zero, fmt.Errorf("pull subscribe: %w", ctx.Err()))
			return
		}
		defer subscription.Cancel()

		subscription.Request(batch)
		remaining := batch
		for {
			select {
			case <-ctx.Done():
				yield(zero, fmt.Errorf("pull next: %w", ctx.Err()))
				return
			case sig := <-sub.signals:
				if sig.complete {
					return
				}
				if sig.err != nil {
					yield(zero, sig.err)
					return
				}
				if !yield(sig.element, nil) {
					return
				}
				remaining--
				if remaining == 0 {
					remaining = batch
					subscription.Request(batch)
				}
			}
		}
	}
}

// Collect drains publisher into a slice using Pull.
func Collect[T any](ctx context.Context, publisher Publisher[T], batch int64) ([]T, error) {
	collected := make([]T, 0)
	for element, err := range Pull(ctx, publisher, batch) {
		if err != nil {
			return collected, fmt.Errorf("collect: %w", err)
		}
		collected = append(collected, element)
	}

	return collected, nil
}

func clampBatch(batch int64) int64 {
	if batch <= 0 {
		return 1
	}
	if batch > MaxPullBatch {
		return MaxPullBatch
	}

	return batch
}

type pullSignal[T any] struct {
	element  T
	err      error
	complete bool
}

// pullSubscriber hands signals to the iterating goroutine.
// The signal buffer holds one full demand window plus the terminal signal, so
// a publisher honoring demand never blocks in a callback.
type pullSubscriber[T any] struct {
	subscriptions chan Subscription
	signals       chan pullSignal[T]

	mu        sync.Mutex
	abandoned bool
}

func newPullSubscriber[T any](batch int64) *pullSubscriber[T] {
	return &pullSubscriber[T]{
		subscriptions: make(chan Subscription, 1),
		signals:       make(chan pullSignal[T], batch+1),
	}
}

func (s *pullSubscriber[T]) OnSubscribe(subscription Subscription) {
	s.mu.Lock()
	accepted := false
	if !s.abandoned {
		select {
		case s.subscriptions <- subscription:
			accepted = true
		default:
		}
	}
	s.mu.Unlock()

	if !accepted {
		subscription.Cancel()
	}
}

// abandon marks the iterator as gone before a subscription was taken. A
// subscription that is already queued, or that arrives later, is cancelled.
func (s *pullSubscriber[T]) abandon() {
	s.mu.Lock()
	s.abandoned = true
	var pending Subscription
	select {
	case pending = <-s.subscriptions:
	default:
	}
	s.mu.Unlock()

	if pending != nil {
		pending.Cancel()
	}
}

func (s *pullSubscriber[T]) OnNext(element T) {
	s.signals <- pullSignal[T]{element: element}
}

func (s *pullSubscriber[T]) OnError(err error) {
	s.signals <- pullSignal[T]{err: err}
}

func (s *pullSubscriber[T]) OnComplete() {
	s.signals <- pullSignal[T]{complete: true}
}
