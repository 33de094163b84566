package conformance

import (
	"context"
	"errors"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"chanpub/internal/channel"
	"chanpub/internal/eventloop"
	"chanpub/internal/producer"
	"chanpub/internal/publisher"
	"chanpub/pkg/stream"
)

// ScheduledDelay is the producer delay used by scheduled combinations.
const ScheduledDelay = 5 * time.Millisecond

// Combo is one producer configuration of the verification matrix.
type Combo struct {
	// BatchSize is the number of elements emitted per upstream read.
	BatchSize int `json:"batch_size" yaml:"batch_size"`
	// Initial is the number of elements fired before any subscriber exists.
	Initial int64 `json:"initial" yaml:"initial"`
	// Close ends the stream by closing the channel instead of a finished event.
	Close bool `json:"close" yaml:"close"`
	// Scheduled emits every batch after ScheduledDelay on the loop clock.
	Scheduled bool `json:"scheduled" yaml:"scheduled"`
}

// String renders the combo as a stable identifier.
func (c Combo) String() string {
	return fmt.Sprintf("batch=%d/initial=%d/close=%t/scheduled=%t", c.BatchSize, c.Initial, c.Close, c.Scheduled)
}

// Matrix returns every combination of batch size {1,3}, initial elements
// {0,3}, close-completion {false,true} and scheduling {false,true}.
func Matrix() []Combo {
	combos := make([]Combo, 0, 16)
	for _, scheduled := range []bool{false, true} {
		for _, closing := range []bool{false, true} {
			for _, batch := range []int{1, 3} {
				for _, initial := range []int64{0, 3} {
					combos = append(combos, Combo{
						BatchSize: batch,
						Initial:   initial,
						Close:     closing,
						Scheduled: scheduled,
					})
				}
			}
		}
	}

	return combos
}

// NewInt64Factory builds publishers fed by a batched producer on loop.
//
// The first min(Initial, elements) values are fired before the channel is
// registered. The producer continues the sequence from Initial and ends at
// elements, either with a finished event or by closing the channel. When the
// prefilled values already cover the stream the channel is closed right away.
func NewInt64Factory(loop *eventloop.Loop, combo Combo, options ...publisher.Option) Factory[int64] {
	return func(elements int64) (stream.Publisher[int64], func(), error) {
		pub, err := publisher.New[int64](loop, options...)
		if err != nil {
			return nil, nil, fmt.Errorf("build publisher %s: %w", combo, err)
		}

		producerOptions := []producer.Option{
			producer.Sequence(combo.Initial),
			producer.BatchSize(combo.BatchSize),
		}
		if combo.Close {
			producerOptions = append(producerOptions, producer.CloseOn(elements))
		} else {
			producerOptions = append(producerOptions, producer.FinishOn(elements))
		}
		if combo.Scheduled {
			producerOptions = append(producerOptions, producer.Scheduled(ScheduledDelay))
		}

		ch := channel.New[int64](loop, producer.NewBatched(producerOptions...), pub.Handler())
		cleanup := func() {
			// The loop may already be stopping; a closed loop has released the channel.
			_ = ch.Close()
		}

		if err := producer.Prefill(ch, min(combo.Initial, elements)); err != nil {
			return nil, nil, fmt.Errorf("build publisher %s: %w", combo, err)
		}
		if elements <= combo.Initial {
			err = ch.Close()
		} else {
			err = ch.Register()
		}
		if err != nil {
			return nil, nil, fmt.Errorf("build publisher %s: %w", combo, err)
		}

		return pub, cleanup, nil
	}
}

// ComboReport holds the rule results of one combination.
type ComboReport struct {
	Combo   Combo
	Results []Result
}

// Failed returns the results that did not pass.
func (r ComboReport) Failed() []Result {
	var failed []Result
	for _, result := range r.Results {
		if !result.Passed() {
			failed = append(failed, result)
		}
	}

	return failed
}

// MatrixConfig configures RunMatrix.
type MatrixConfig struct {
	// Parallelism caps concurrently verified combinations. Zero means unlimited.
	Parallelism int
	// Loop options apply to the event loop created per combination.
	Loop []eventloop.Option
	// Publisher options apply to every publisher built by the factory.
	Publisher []publisher.Option
	// Verifier options apply to every combination's verifier.
	Verifier []Option
}

// RunMatrix verifies every combo on its own event loop and returns reports in
// combo order. Rule failures are reported in the results; the returned error
// covers setup failures, loop shutdown failures and ctx cancellation.
func RunMatrix(ctx context.Context, combos []Combo, cfg MatrixConfig) ([]ComboReport, error) {
	reports := make([]ComboReport, len(combos))

	group, groupCtx := errgroup.WithContext(ctx)
	if cfg.Parallelism > 0 {
		group.SetLimit(cfg.Parallelism)
	}
	for i, combo := range combos {
		group.Go(func() error {
			report, err := runCombo(groupCtx, combo, cfg)
			if err != nil {
				return fmt.Errorf("run combo %s: %w", combo, err)
			}
			reports[i] = report
			return nil
		})
	}
	if err := group.Wait(); err != nil {
		return reports, fmt.Errorf("run matrix: %w", err)
	}
	if err := ctx.Err(); err != nil {
		return reports, fmt.Errorf("run matrix: %w", err)
	}

	return reports, nil
}

func runCombo(ctx context.Context, combo Combo, cfg MatrixConfig) (report ComboReport, err error) {
	loopOptions := append([]eventloop.Option{eventloop.WithName(combo.String())}, cfg.Loop...)
	loop := eventloop.New(loopOptions...)
	defer func() {
		stopCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), defaultRuleTimeout)
		defer cancel()
		if stopErr := loop.Stop(stopCtx); stopErr != nil {
			err = errors.Join(err, fmt.Errorf("stop loop: %w", stopErr))
		}
	}()

	verifier, err := NewVerifier(NewInt64Factory(loop, combo, cfg.Publisher...), cfg.Verifier...)
	if err != nil {
		return ComboReport{}, err
	}

	return ComboReport{Combo: combo, Results: verifier.Verify(ctx)}, nil
}
