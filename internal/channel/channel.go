package channel

import (
	"fmt"
	"log/slog"

	"chanpub/internal/eventloop"
)

// Channel is a single-owner element channel with a read-enable flag.
//
// Fire methods and Close are safe from any goroutine: they are marshaled onto
// the owning loop. SetReadEnabled, ReadEnabled, Detach, and the accessors are
// loop-only and are meant to be called from Handler or Upstream callbacks.
type Channel[T any] struct {
	loop     *eventloop.Loop
	upstream Upstream[T]
	handler  Handler[T]
	logger   *slog.Logger

	// loop-owned state
	registered  bool
	active      bool
	closed      bool
	readEnabled bool
	reading     bool
	detached    bool
}

// Option mutates channel construction.
type Option[T any] func(*Channel[T])

// WithLogger configures channel debug logging.
func WithLogger[T any](logger *slog.Logger) Option[T] {
	return func(ch *Channel[T]) {
		if logger != nil {
			ch.logger = logger
		}
	}
}

// WithReadEnabled configures the initial read-enable flag. Reads start enabled.
func WithReadEnabled[T any](enabled bool) Option[T] {
	return func(ch *Channel[T]) {
		ch.readEnabled = enabled
	}
}

// New creates an unregistered channel bound to loop.
func New[T any](loop *eventloop.Loop, upstream Upstream[T], handler Handler[T], options ...Option[T]) *Channel[T] {
	if handler == nil {
		handler = discardHandler[T]{}
	}

	ch := &Channel[T]{
		loop:        loop,
		upstream:    upstream,
		handler:     handler,
		logger:      slog.Default(),
		readEnabled: true,
	}
	for _, option := range options {
		option(ch)
	}

	return ch
}

// Loop returns the owning loop.
func (c *Channel[T]) Loop() *eventloop.Loop {
	return c.loop
}

// Register activates the channel on its loop and issues the first read when
// reads are enabled.
func (c *Channel[T]) Register() error {
	return c.execute("register", func() {
		if c.registered || c.closed {
			return
		}
		c.registered = true
		c.active = true
		c.handler.Active(c)
		c.maybeRead()
	})
}

// FireRead delivers one element to the handler.
func (c *Channel[T]) FireRead(element T) error {
	return c.execute("fire read", func() {
		if c.closed {
			c.logger.Debug("channel read after close dropped", "loop", c.loop.Name())
			return
		}
		c.handler.Read(c, element)
	})
}

// FireReadComplete ends the outstanding read and triggers the next one while
// reads remain enabled.
func (c *Channel[T]) FireReadComplete() error {
	return c.execute("fire read complete", func() {
		c.reading = false
		c.maybeRead()
	})
}

// FireFinished signals normal end of stream from the upstream.
func (c *Channel[T]) FireFinished() error {
	return c.execute("fire finished", func() {
		c.reading = false
		if c.closed {
			return
		}
		c.handler.Finished(c)
	})
}

// FireFailed signals an upstream failure.
func (c *Channel[T]) FireFailed(err error) error {
	return c.execute("fire failed", func() {
		c.reading = false
		if c.closed {
			return
		}
		c.handler.Failed(c, err)
	})
}

// Close deactivates the channel. The handler observes Inactive exactly once.
func (c *Channel[T]) Close() error {
	return c.execute("close", func() {
		if c.closed {
			return
		}
		c.closed = true
		c.active = false
		c.reading = false
		c.handler.Inactive(c)
	})
}

// SetReadEnabled applies a pause (false) or resume (true) directive.
// Resuming issues a read when none is outstanding.
func (c *Channel[T]) SetReadEnabled(enabled bool) {
	if c.detached {
		return
	}
	c.readEnabled = enabled
	c.maybeRead()
}

// ReadEnabled reports the current read-enable flag.
func (c *Channel[T]) ReadEnabled() bool {
	return c.readEnabled
}

// Active reports whether the channel is registered and not closed.
func (c *Channel[T]) Active() bool {
	return c.active
}

// Detach disconnects the handler and stops reading. Later events are discarded.
func (c *Channel[T]) Detach() {
	c.detached = true
	c.readEnabled = false
	c.handler = discardHandler[T]{}
}

// Detached reports whether Detach was called.
func (c *Channel[T]) Detached() bool {
	return c.detached
}

// maybeRead asks the upstream for more data when the channel is active, reads
// are enabled, and no read is outstanding.
func (c *Channel[T]) maybeRead() {
	if !c.active || !c.readEnabled || c.reading || c.upstream == nil {
		return
	}
	c.reading = true
	c.upstream.Read(c)
}

func (c *Channel[T]) execute(op string, task func()) error {
	if err := c.loop.Execute(task); err != nil {
		return fmt.Errorf("channel %s: %w", op, err)
	}

	return nil
}
