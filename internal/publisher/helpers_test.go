package publisher

import (
	"context"
	"sync"
	"testing"
	"time"

	"chanpub/internal/channel"
	"chanpub/internal/eventloop"
	"chanpub/internal/producer"
	"chanpub/pkg/stream"
)

// probe is a recording subscriber.
type probe struct {
	mu           sync.Mutex
	subscription stream.Subscription
	signals      []string
	elements     []int64
	errs         []error
	completions  int
	onNext       func(subscription stream.Subscription, element int64)
}

func (p *probe) OnSubscribe(subscription stream.Subscription) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.subscription = subscription
	p.signals = append(p.signals, "subscribe")
}

func (p *probe) OnNext(element int64) {
	p.mu.Lock()
	p.elements = append(p.elements, element)
	p.signals = append(p.signals, "next")
	callback := p.onNext
	subscription := p.subscription
	p.mu.Unlock()

	if callback != nil {
		callback(subscription, element)
	}
}

func (p *probe) OnError(err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.errs = append(p.errs, err)
	p.signals = append(p.signals, "error")
}

func (p *probe) OnComplete() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.completions++
	p.signals = append(p.signals, "complete")
}

type probeState struct {
	signals     []string
	elements    []int64
	errs        []error
	completions int
}

func (p *probe) state() probeState {
	p.mu.Lock()
	defer p.mu.Unlock()
	return probeState{
		signals:     append([]string(nil), p.signals...),
		elements:    append([]int64(nil), p.elements...),
		errs:        append([]error(nil), p.errs...),
		completions: p.completions,
	}
}

func (s probeState) terminals() int {
	return len(s.errs) + s.completions
}

// awaitSubscription waits for OnSubscribe and returns the handle.
func (p *probe) awaitSubscription(t *testing.T) stream.Subscription {
	t.Helper()

	var subscription stream.Subscription
	eventually(t, 2*time.Second, func() bool {
		p.mu.Lock()
		defer p.mu.Unlock()
		subscription = p.subscription
		return subscription != nil
	})

	return subscription
}

func newTestLoop(t *testing.T) *eventloop.Loop {
	t.Helper()

	loop := eventloop.New(eventloop.WithName(t.Name()))
	t.Cleanup(func() {
		if err := loop.Stop(context.Background()); err != nil {
			t.Errorf("stop loop: %v", err)
		}
	})

	return loop
}

func newTestPublisher(t *testing.T, loop *eventloop.Loop, options ...Option) *Publisher[int64] {
	t.Helper()

	publisher, err := New[int64](loop, options...)
	if err != nil {
		t.Fatalf("new publisher: %v", err)
	}

	return publisher
}

// attachProducer registers a batched producer channel feeding publisher.
func attachProducer(
	t *testing.T,
	loop *eventloop.Loop,
	publisher *Publisher[int64],
	options ...producer.Option,
) *channel.Channel[int64] {
	t.Helper()

	ch := channel.New[int64](loop, producer.NewBatched(options...), publisher.Handler())
	if err := ch.Register(); err != nil {
		t.Fatalf("register channel: %v", err)
	}

	return ch
}

// flush waits until every task queued on loop so far, and every task those
// tasks queued, has run.
func flush(t *testing.T, loop *eventloop.Loop) {
	t.Helper()

	for i := 0; i < 3; i++ {
		done := make(chan struct{})
		if err := loop.Execute(func() { close(done) }); err != nil {
			t.Fatalf("execute barrier: %v", err)
		}
		select {
		case <-done:
		case <-time.After(2 * time.Second):
			t.Fatal("timed out waiting for loop barrier")
		}
	}
}

func snapshot(t *testing.T, publisher *Publisher[int64]) Snapshot {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	snap, err := publisher.Snapshot(ctx)
	if err != nil {
		t.Fatalf("snapshot: %v", err)
	}

	return snap
}

func sequence(n int64) []int64 {
	values := make([]int64, n)
	for i := range values {
		values[i] = int64(i)
	}

	return values
}

func eventually(t *testing.T, timeout time.Duration, condition func() bool) {
	t.Helper()

	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if condition() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}

	t.Fatal("condition not met before timeout")
}
