package publisher

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"chanpub/internal/channel"
	"chanpub/internal/eventloop"
	"chanpub/pkg/stream"
)

// Publisher is the demand/buffer state machine bridging one channel to one
// subscriber.
//
// Every field below the loop marker is owned by the loop goroutine. Public
// methods only marshal work onto the loop.
type Publisher[T any] struct {
	id     string
	cfg    config
	loop   *eventloop.Loop
	logger *slog.Logger
	done   chan struct{}

	// loop-owned state
	state          state
	ch             *channel.Channel[T]
	subscriber     stream.Subscriber[T]
	handle         *subscription[T]
	demand         int64
	buffer         elementQueue[T]
	completed      bool
	failure        error
	readsSuspended bool
	delivered      int64
}

// New creates a publisher owned by loop. The publisher receives events once its
// Handler is attached to a channel on the same loop.
func New[T any](loop *eventloop.Loop, options ...Option) (*Publisher[T], error) {
	if loop == nil {
		return nil, fmt.Errorf("new publisher: nil loop")
	}

	cfg := defaultConfig()
	for _, option := range options {
		option(&cfg)
	}
	if err := cfg.waterMarks.Validate(); err != nil {
		return nil, fmt.Errorf("new publisher %s: %w", cfg.name, err)
	}

	id := uuid.NewString()

	return &Publisher[T]{
		id:     id,
		cfg:    cfg,
		loop:   loop,
		logger: cfg.logger.With("publisher", cfg.name, "publisher_id", id),
		done:   make(chan struct{}),
	}, nil
}

// Attach creates a publisher, binds it to a new channel reading from upstream,
// and registers the channel.
func Attach[T any](
	loop *eventloop.Loop,
	upstream channel.Upstream[T],
	options ...Option,
) (*Publisher[T], *channel.Channel[T], error) {
	publisher, err := New[T](loop, options...)
	if err != nil {
		return nil, nil, fmt.Errorf("attach publisher: %w", err)
	}

	ch := channel.New[T](loop, upstream, publisher.Handler(), channel.WithLogger[T](publisher.logger))
	if err := ch.Register(); err != nil {
		return nil, nil, fmt.Errorf("attach publisher %s: %w", publisher.cfg.name, err)
	}

	return publisher, ch, nil
}

// ID returns the publisher instance identifier.
func (p *Publisher[T]) ID() string {
	return p.id
}

// Handler returns the channel event adapter feeding this publisher.
func (p *Publisher[T]) Handler() channel.Handler[T] {
	return &adapter[T]{publisher: p}
}

// Done is closed once the publisher entered a terminal state.
func (p *Publisher[T]) Done() <-chan struct{} {
	return p.done
}

// Subscribe implements stream.Publisher.
//
// The first subscriber is accepted. Every later subscriber receives
// OnSubscribe with a no-op subscription followed by OnError wrapping
// stream.ErrAlreadySubscribed; the accepted subscription is unaffected.
func (p *Publisher[T]) Subscribe(subscriber stream.Subscriber[T]) {
	if subscriber == nil {
		p.cfg.onAsyncError(context.Background(), p.scope(), fmt.Errorf("subscribe: %w", stream.ErrNilSubscriber))
		return
	}

	if err := p.loop.Execute(func() { p.subscribe(subscriber) }); err != nil {
		p.rejectSubscriber(subscriber, fmt.Errorf("subscribe: %w: %w", stream.ErrPublisherClosed, err))
	}
}

// Snapshot returns the current state as observed on the loop.
func (p *Publisher[T]) Snapshot(ctx context.Context) (Snapshot, error) {
	result := make(chan Snapshot, 1)
	if err := p.loop.Execute(func() {
		result <- Snapshot{
			ID:                p.id,
			State:             p.state.String(),
			Demand:            p.demand,
			Buffered:          p.buffer.len(),
			ReadsSuspended:    p.readsSuspended,
			UpstreamCompleted: p.completed,
			Delivered:         p.delivered,
		}
	}); err != nil {
		return Snapshot{}, fmt.Errorf("snapshot %s: %w", p.cfg.name, err)
	}

	select {
	case snapshot := <-result:
		return snapshot, nil
	case <-ctx.Done():
		return Snapshot{}, fmt.Errorf("snapshot %s: %w", p.cfg.name, ctx.Err())
	}
}

func (p *Publisher[T]) scope() string {
	return "publisher " + p.cfg.name
}

// subscribe accepts the first subscriber and replays any terminal state that
// was reached before it arrived.
func (p *Publisher[T]) subscribe(subscriber stream.Subscriber[T]) {
	if p.state != stateNoSubscriber {
		p.logger.Debug("duplicate subscriber rejected", "state", p.state.String())
		p.rejectSubscriber(subscriber, fmt.Errorf("subscribe: %w", stream.ErrAlreadySubscribed))
		return
	}

	handle := &subscription[T]{publisher: p}
	p.subscriber = subscriber
	p.handle = handle
	p.state = stateActive
	p.logger.Debug("subscriber attached", "buffered", p.buffer.len(), "upstream_completed", p.completed)

	if !p.signal("OnSubscribe", func() { subscriber.OnSubscribe(handle) }) {
		return
	}

	switch {
	case p.failure != nil:
		p.fail(p.failure)
	case p.completed && p.buffer.len() == 0:
		p.complete()
	}
}

// rejectSubscriber signals a subscriber that will never be served.
func (p *Publisher[T]) rejectSubscriber(subscriber stream.Subscriber[T], err error) {
	if panicErr := eventloop.RunSafely(p.scope()+" reject subscriber", func() error {
		subscriber.OnSubscribe(stream.NoopSubscription{})
		subscriber.OnError(err)
		return nil
	}); panicErr != nil {
		p.cfg.onAsyncError(context.Background(), p.scope(), panicErr)
	}
}

// onElement buffers one upstream element and drains it through demand.
func (p *Publisher[T]) onElement(element T) {
	if !p.accepting() {
		return
	}

	p.buffer.push(element)
	p.drain()
	p.updateReads()
}

// onUpstreamCompleted records normal end of stream. Completion is delivered once
// the buffer drained.
func (p *Publisher[T]) onUpstreamCompleted() {
	if !p.accepting() {
		return
	}

	p.completed = true
	p.logger.Debug("upstream completed", "buffered", p.buffer.len())
	if p.state == stateActive && p.buffer.len() == 0 {
		p.complete()
	}
}

// onUpstreamFailed discards buffered elements and fails the stream immediately.
// Before a subscriber arrives the failure is kept and replayed on subscribe.
func (p *Publisher[T]) onUpstreamFailed(err error) {
	if !p.accepting() {
		return
	}
	if err == nil {
		err = errors.New("upstream failed")
	}

	dropped := p.buffer.clear()
	p.cfg.metrics.observeBuffered(p.cfg.name, 0)
	p.failure = err
	p.logger.Debug("upstream failed", "dropped", dropped, "error", err)

	if p.state == stateActive {
		p.fail(err)
		return
	}
	p.detach()
}

// request grants demand from the subscription handle.
func (p *Publisher[T]) request(handle *subscription[T], n int64) {
	if p.state != stateActive || handle != p.handle {
		return
	}
	if n <= 0 {
		p.fail(fmt.Errorf("request %d: %w", n, stream.ErrNonPositiveRequest))
		return
	}

	p.demand = stream.AddDemand(p.demand, n)
	p.drain()
	p.updateReads()
}

// cancel stops the stream on behalf of the subscription handle. Idempotent.
func (p *Publisher[T]) cancel(handle *subscription[T]) {
	if p.state != stateActive || handle != p.handle {
		return
	}

	dropped := p.buffer.clear()
	p.state = stateCancelled
	p.logger.Debug("subscription cancelled", "dropped", dropped)
	p.cfg.metrics.observeTerminal(p.cfg.name, "cancel")
	p.release()
}

// drain delivers buffered elements while demand remains, then delivers a
// deferred completion once the buffer is empty.
func (p *Publisher[T]) drain() {
	for p.state == stateActive && p.demand > 0 {
		element, ok := p.buffer.pop()
		if !ok {
			break
		}
		if p.demand != stream.Unbounded {
			p.demand--
		}
		p.delivered++
		p.cfg.metrics.observeDelivered(p.cfg.name)

		subscriber := p.subscriber
		if !p.signal("OnNext", func() { subscriber.OnNext(element) }) {
			return
		}
	}
	p.cfg.metrics.observeBuffered(p.cfg.name, p.buffer.len())

	if p.state == stateActive && p.completed && p.buffer.len() == 0 {
		p.complete()
	}
}

// updateReads applies water mark hysteresis to the channel read-enable flag.
func (p *Publisher[T]) updateReads() {
	if !p.accepting() {
		return
	}

	buffered := p.buffer.len()
	switch {
	case !p.readsSuspended && p.cfg.waterMarks.ShouldPause(buffered):
		p.readsSuspended = true
		p.cfg.metrics.observePause(p.cfg.name)
		p.logger.Debug("upstream reads paused", "buffered", buffered)
		p.applyReadDirective()
	case p.readsSuspended && p.cfg.waterMarks.ShouldResume(buffered):
		p.readsSuspended = false
		p.cfg.metrics.observeResume(p.cfg.name)
		p.logger.Debug("upstream reads resumed", "buffered", buffered)
		p.applyReadDirective()
	}
}

func (p *Publisher[T]) applyReadDirective() {
	if p.ch == nil {
		return
	}
	p.ch.SetReadEnabled(!p.readsSuspended)
}

// accepting reports whether upstream events and reads still matter.
func (p *Publisher[T]) accepting() bool {
	return !p.state.terminal() && !p.completed && p.failure == nil
}

// complete delivers the completion signal and enters the completed state.
func (p *Publisher[T]) complete() {
	subscriber := p.subscriber
	p.state = stateCompleted
	p.cfg.metrics.observeTerminal(p.cfg.name, "complete")
	p.logger.Debug("stream completed", "delivered", p.delivered)
	p.release()

	p.signalTerminal("OnComplete", func() { subscriber.OnComplete() })
}

// fail discards buffered elements, delivers err, and enters the errored state.
func (p *Publisher[T]) fail(err error) {
	subscriber := p.subscriber
	dropped := p.buffer.clear()
	p.state = stateErrored
	p.cfg.metrics.observeTerminal(p.cfg.name, "error")
	p.logger.Debug("stream failed", "dropped", dropped, "error", err)
	p.release()

	p.signalTerminal("OnError", func() { subscriber.OnError(err) })
}

// release drops the subscriber reference, detaches the channel, and closes done.
func (p *Publisher[T]) release() {
	p.subscriber = nil
	p.demand = 0
	p.cfg.metrics.observeBuffered(p.cfg.name, 0)
	p.detach()
	select {
	case <-p.done:
	default:
		close(p.done)
	}
}

func (p *Publisher[T]) detach() {
	if p.ch != nil && !p.ch.Detached() {
		p.ch.Detach()
	}
}

// bind records the channel feeding this publisher and applies pending directives.
func (p *Publisher[T]) bind(ch *channel.Channel[T]) bool {
	if p.ch == ch {
		return true
	}
	if p.ch != nil {
		p.cfg.onAsyncError(context.Background(), p.scope(), fmt.Errorf("bind channel: publisher already attached"))
		ch.Detach()
		return false
	}

	p.ch = ch
	switch {
	case p.state.terminal() || p.failure != nil:
		p.detach()
	case p.readsSuspended:
		p.applyReadDirective()
	}

	return true
}

// signal invokes a non-terminal subscriber callback. A panicking subscriber is
// reported and its subscription cancelled.
func (p *Publisher[T]) signal(name string, callback func()) bool {
	err := eventloop.RunSafely(p.scope()+" "+name, func() error {
		callback()
		return nil
	})
	if err == nil {
		return true
	}

	p.cfg.onAsyncError(context.Background(), p.scope(), fmt.Errorf("%w: %w", stream.ErrSubscriberPanic, err))
	if p.state == stateActive {
		p.cancel(p.handle)
	}

	return false
}

// signalTerminal invokes a terminal subscriber callback and reports panics.
func (p *Publisher[T]) signalTerminal(name string, callback func()) {
	if err := eventloop.RunSafely(p.scope()+" "+name, func() error {
		callback()
		return nil
	}); err != nil {
		p.cfg.onAsyncError(context.Background(), p.scope(), fmt.Errorf("%w: %w", stream.ErrSubscriberPanic, err))
	}
}

var _ stream.Publisher[int] = (*Publisher[int])(nil)
