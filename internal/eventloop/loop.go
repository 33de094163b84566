package eventloop

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/juju/clock"
	"gopkg.in/tomb.v2"
)

// ErrLoopClosed indicates that the loop no longer accepts tasks.
var ErrLoopClosed = errors.New("eventloop: loop closed")

// Loop is a single-goroutine task executor.
//
// The queue lock is held only to append or swap the pending slice; tasks
// themselves run without any lock held.
type Loop struct {
	cfg  config
	tomb tomb.Tomb
	wake chan struct{}

	mu      sync.Mutex
	pending []func()
	closed  bool
}

// New creates a loop and starts its goroutine.
func New(options ...Option) *Loop {
	cfg := defaultConfig()
	for _, option := range options {
		option(&cfg)
	}

	loop := &Loop{
		cfg:  cfg,
		wake: make(chan struct{}, 1),
	}
	loop.tomb.Go(loop.run)

	return loop
}

// Name returns the configured loop name.
func (l *Loop) Name() string {
	return l.cfg.name
}

// Clock returns the clock used for scheduled tasks.
func (l *Loop) Clock() clock.Clock {
	return l.cfg.clock
}

// Execute enqueues task for execution on the loop goroutine.
// It never blocks and is safe to call from any goroutine, including from a
// running task, in which case the new task runs after the current batch.
func (l *Loop) Execute(task func()) error {
	if task == nil {
		return fmt.Errorf("execute on %s: nil task", l.cfg.name)
	}

	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return fmt.Errorf("execute on %s: %w", l.cfg.name, ErrLoopClosed)
	}
	l.pending = append(l.pending, task)
	l.mu.Unlock()

	l.signal()

	return nil
}

// Schedule enqueues task after delay has elapsed on the loop clock.
func (l *Loop) Schedule(delay time.Duration, task func()) (clock.Timer, error) {
	if task == nil {
		return nil, fmt.Errorf("schedule on %s: nil task", l.cfg.name)
	}
	if l.isClosed() {
		return nil, fmt.Errorf("schedule on %s: %w", l.cfg.name, ErrLoopClosed)
	}

	timer := l.cfg.clock.AfterFunc(delay, func() {
		if err := l.Execute(task); err != nil {
			l.cfg.logger.Debug("scheduled task dropped", "loop", l.cfg.name, "error", err)
		}
	})

	return timer, nil
}

// Stop rejects new tasks, runs tasks that were already queued, and waits for
// the loop goroutine to exit or ctx to expire.
func (l *Loop) Stop(ctx context.Context) error {
	l.tomb.Kill(nil)

	select {
	case <-l.tomb.Dead():
		if err := l.tomb.Err(); err != nil {
			return fmt.Errorf("stop %s: %w", l.cfg.name, err)
		}
		return nil
	case <-ctx.Done():
		return fmt.Errorf("stop %s: %w", l.cfg.name, ctx.Err())
	}
}

// Dying is closed once Stop was requested.
func (l *Loop) Dying() <-chan struct{} {
	return l.tomb.Dying()
}

// Dead is closed once the loop goroutine exited.
func (l *Loop) Dead() <-chan struct{} {
	return l.tomb.Dead()
}

// Err returns the reason the loop died. While the loop runs it returns
// tomb.ErrStillAlive.
func (l *Loop) Err() error {
	return l.tomb.Err()
}

func (l *Loop) run() error {
	for {
		select {
		case <-l.tomb.Dying():
			l.mu.Lock()
			l.closed = true
			l.mu.Unlock()
			for l.runBatch() {
			}
			return nil
		case <-l.wake:
			if l.runBatch() {
				l.signal()
			}
		}
	}
}

// runBatch runs the tasks queued so far and reports whether more were queued
// while they ran. Running one batch per wake-up keeps Stop responsive under
// self-rescheduling tasks.
func (l *Loop) runBatch() bool {
	l.mu.Lock()
	tasks := l.pending
	l.pending = nil
	l.mu.Unlock()

	for _, task := range tasks {
		l.runTask(task)
	}

	l.mu.Lock()
	more := len(l.pending) > 0
	l.mu.Unlock()

	return more
}

func (l *Loop) runTask(task func()) {
	if err := RunSafely(l.cfg.name+" task", func() error {
		task()
		return nil
	}); err != nil {
		l.cfg.onAsyncError(context.Background(), l.cfg.name, err)
	}
}

func (l *Loop) signal() {
	select {
	case l.wake <- struct{}{}:
	default:
	}
}

func (l *Loop) isClosed() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.closed
}
