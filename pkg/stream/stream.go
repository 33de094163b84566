package stream

import "math"

// Unbounded is the saturating demand sentinel.
//
// A subscription whose cumulative demand reaches Unbounded is treated as having
// requested an effectively infinite number of elements.
const Unbounded int64 = math.MaxInt64

// Publisher is a provider of sequenced elements delivered according to the
// demand received from its Subscriber.
type Publisher[T any] interface {
	// Subscribe attaches one subscriber.
	//
	// Implementations signal OnSubscribe before any other signal, and report
	// rejection through OnError rather than a return value.
	Subscribe(subscriber Subscriber[T])
}

// Subscriber receives signals from a Publisher.
//
// Signals are delivered serially. Implementations must not block in any
// callback because callbacks run on the publisher's owning event loop.
type Subscriber[T any] interface {
	// OnSubscribe is the first signal delivered after Publisher.Subscribe.
	OnSubscribe(subscription Subscription)
	// OnNext delivers one element within granted demand.
	OnNext(element T)
	// OnError is a terminal signal carrying the stream failure.
	OnError(err error)
	// OnComplete is a terminal signal for normal end of stream.
	OnComplete()
}

// Subscription is the consumer handle for one Publisher/Subscriber pair.
//
// Both methods are safe to call from any goroutine, never block, and become
// no-ops once the stream reached a terminal state.
type Subscription interface {
	// Request grants n additional elements of demand.
	//
	// Non-positive n is a protocol violation that terminates the stream with
	// ErrNonPositiveRequest.
	Request(n int64)
	// Cancel stops delivery and releases buffered elements. It is idempotent.
	Cancel()
}

// AddDemand adds n to current demand and saturates at Unbounded.
func AddDemand(current, n int64) int64 {
	if n <= 0 {
		return current
	}
	if current >= Unbounded-n {
		return Unbounded
	}

	return current + n
}
