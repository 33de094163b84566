package producer

import (
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"chanpub/internal/channel"
)

// Never disables a sequence threshold.
const Never int64 = math.MaxInt64

// ErrProducerFailed is the default failure fired by FailOn.
var ErrProducerFailed = errors.New("producer: injected failure")

type config struct {
	start     int64
	batchSize int
	closeOn   int64
	finishOn  int64
	failOn    int64
	failErr   error
	delay     time.Duration
	scheduled bool
}

// Option configures a Batched producer.
type Option func(*config)

// Sequence sets the first emitted value.
func Sequence(start int64) Option {
	return func(cfg *config) {
		if start >= 0 {
			cfg.start = start
		}
	}
}

// BatchSize sets how many values one read emits.
func BatchSize(size int) Option {
	return func(cfg *config) {
		if size > 0 {
			cfg.batchSize = size
		}
	}
}

// CloseOn closes the channel once the sequence reaches value.
func CloseOn(value int64) Option {
	return func(cfg *config) {
		cfg.closeOn = value
	}
}

// FinishOn fires the upstream finished signal once the sequence reaches value.
func FinishOn(value int64) Option {
	return func(cfg *config) {
		cfg.finishOn = value
	}
}

// FailOn fires err once the sequence reaches value. A nil err uses ErrProducerFailed.
func FailOn(value int64, err error) Option {
	return func(cfg *config) {
		cfg.failOn = value
		cfg.failErr = err
	}
}

// Scheduled defers each batch by delay on the channel loop clock.
func Scheduled(delay time.Duration) Option {
	return func(cfg *config) {
		cfg.scheduled = true
		if delay > 0 {
			cfg.delay = delay
		}
	}
}

// Batched emits sequential values in batches whenever its channel reads.
type Batched struct {
	cfg config

	mu      sync.Mutex
	next    int64
	emitted int64
	ended   bool
}

// NewBatched creates a producer. Without options it emits single values from
// zero and never ends.
func NewBatched(options ...Option) *Batched {
	cfg := config{
		batchSize: 1,
		closeOn:   Never,
		finishOn:  Never,
		failOn:    Never,
		failErr:   ErrProducerFailed,
	}
	for _, option := range options {
		option(&cfg)
	}
	if cfg.failErr == nil {
		cfg.failErr = ErrProducerFailed
	}

	return &Batched{cfg: cfg, next: cfg.start}
}

// Read implements channel.Upstream.
func (b *Batched) Read(ch *channel.Channel[int64]) {
	if !b.cfg.scheduled {
		b.emitBatch(ch)
		return
	}

	// A stopped loop has nobody left to read for, so the batch is dropped.
	_, _ = ch.Loop().Schedule(b.cfg.delay, func() { b.emitBatch(ch) })
}

// Emitted reports how many values were fired into the channel.
func (b *Batched) Emitted() int64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.emitted
}

// Ended reports whether the producer signaled the end of its stream.
func (b *Batched) Ended() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.ended
}

func (b *Batched) emitBatch(ch *channel.Channel[int64]) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.ended {
		return
	}
	for i := 0; i < b.cfg.batchSize; i++ {
		if b.endIfReached(ch) {
			return
		}
		if err := ch.FireRead(b.next); err != nil {
			return
		}
		b.next++
		b.emitted++
	}
	if b.endIfReached(ch) {
		return
	}
	_ = ch.FireReadComplete()
}

// endIfReached fires the configured end signal when the sequence hit a threshold.
func (b *Batched) endIfReached(ch *channel.Channel[int64]) bool {
	switch {
	case b.next >= b.cfg.failOn:
		_ = ch.FireFailed(fmt.Errorf("produce value %d: %w", b.next, b.cfg.failErr))
	case b.next >= b.cfg.finishOn:
		_ = ch.FireFinished()
	case b.next >= b.cfg.closeOn:
		_ = ch.Close()
	default:
		return false
	}
	b.ended = true

	return true
}

// Prefill fires values 0..n-1 into ch. Called before Register it reproduces
// elements that arrive before any subscriber exists.
func Prefill(ch *channel.Channel[int64], n int64) error {
	for value := int64(0); value < n; value++ {
		if err := ch.FireRead(value); err != nil {
			return fmt.Errorf("prefill value %d: %w", value, err)
		}
	}

	return nil
}

var _ channel.Upstream[int64] = (*Batched)(nil)
