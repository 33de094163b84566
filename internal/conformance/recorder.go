package conformance

import (
	"context"
	"fmt"
	"sync"

	"chanpub/pkg/stream"
)

// recording is an immutable copy of what a recorder observed.
type recording[T any] struct {
	signals     []string
	elements    []T
	errs        []error
	completions int
	// overlaps counts OnNext calls that started while another was running.
	overlaps int
	// nested counts OnNext calls entered from inside a subscriber callback.
	nested int
}

func (r recording[T]) terminals() int {
	return len(r.errs) + r.completions
}

// recorder is the subscriber used by every rule.
type recorder[T any] struct {
	mu           sync.Mutex
	subscription stream.Subscription
	rec          recording[T]
	running      int
	inCallback   bool
	onNext       func(stream.Subscription)
	changed      chan struct{}
}

func newRecorder[T any]() *recorder[T] {
	return &recorder[T]{changed: make(chan struct{}, 1)}
}

func (r *recorder[T]) OnSubscribe(subscription stream.Subscription) {
	r.mu.Lock()
	if r.subscription == nil {
		r.subscription = subscription
	}
	r.rec.signals = append(r.rec.signals, "subscribe")
	r.mu.Unlock()
	r.notify()
}

func (r *recorder[T]) OnNext(element T) {
	r.mu.Lock()
	if r.running > 0 {
		r.rec.overlaps++
	}
	if r.inCallback {
		r.rec.nested++
	}
	r.running++
	r.rec.elements = append(r.rec.elements, element)
	r.rec.signals = append(r.rec.signals, "next")
	callback := r.onNext
	subscription := r.subscription
	r.mu.Unlock()

	if callback != nil {
		r.setInCallback(true)
		callback(subscription)
		r.setInCallback(false)
	}

	r.mu.Lock()
	r.running--
	r.mu.Unlock()
	r.notify()
}

func (r *recorder[T]) OnError(err error) {
	r.mu.Lock()
	r.rec.errs = append(r.rec.errs, err)
	r.rec.signals = append(r.rec.signals, "error")
	r.mu.Unlock()
	r.notify()
}

func (r *recorder[T]) OnComplete() {
	r.mu.Lock()
	r.rec.completions++
	r.rec.signals = append(r.rec.signals, "complete")
	r.mu.Unlock()
	r.notify()
}

func (r *recorder[T]) setInCallback(value bool) {
	r.mu.Lock()
	r.inCallback = value
	r.mu.Unlock()
}

func (r *recorder[T]) notify() {
	select {
	case r.changed <- struct{}{}:
	default:
	}
}

// snapshot copies the recording.
func (r *recorder[T]) snapshot() recording[T] {
	r.mu.Lock()
	defer r.mu.Unlock()

	return recording[T]{
		signals:     append([]string(nil), r.rec.signals...),
		elements:    append([]T(nil), r.rec.elements...),
		errs:        append([]error(nil), r.rec.errs...),
		completions: r.rec.completions,
		overlaps:    r.rec.overlaps,
		nested:      r.rec.nested,
	}
}

// await blocks until condition holds for the recording or ctx ends.
func (r *recorder[T]) await(ctx context.Context, what string, condition func(recording[T]) bool) (recording[T], error) {
	for {
		current := r.snapshot()
		if condition(current) {
			return current, nil
		}

		select {
		case <-r.changed:
		case <-ctx.Done():
			return current, fmt.Errorf("await %s (signals %v): %w", what, current.signals, ctx.Err())
		}
	}
}

// awaitSubscription waits for OnSubscribe and returns the handle.
func (r *recorder[T]) awaitSubscription(ctx context.Context) (stream.Subscription, error) {
	if _, err := r.await(ctx, "subscription", func(rec recording[T]) bool {
		return len(rec.signals) > 0
	}); err != nil {
		return nil, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.subscription == nil {
		return nil, violation("first signal was %s, want OnSubscribe", r.rec.signals[0])
	}

	return r.subscription, nil
}

// awaitTerminal waits for OnComplete or OnError.
func (r *recorder[T]) awaitTerminal(ctx context.Context) (recording[T], error) {
	return r.await(ctx, "terminal signal", func(rec recording[T]) bool {
		return rec.terminals() > 0
	})
}

// awaitElements waits until at least n elements arrived.
func (r *recorder[T]) awaitElements(ctx context.Context, n int) (recording[T], error) {
	return r.await(ctx, fmt.Sprintf("%d elements", n), func(rec recording[T]) bool {
		return len(rec.elements) >= n
	})
}
