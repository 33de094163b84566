package conformance

import (
	"context"
	"testing"
	"time"

	"github.com/juju/clock/testclock"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"chanpub/internal/eventloop"
	"chanpub/internal/publisher"
	"chanpub/pkg/stream"
)

func TestMatrixCoversEveryCombination(t *testing.T) {
	t.Parallel()

	combos := Matrix()
	if len(combos) != 16 {
		t.Fatalf("combo count = %d, want 16", len(combos))
	}

	seen := make(map[string]struct{}, len(combos))
	for _, combo := range combos {
		key := combo.String()
		if _, ok := seen[key]; ok {
			t.Fatalf("duplicate combo %s", key)
		}
		seen[key] = struct{}{}
	}
}

// TestRunMatrix verifies the channel publisher against every rule in every
// producer configuration.
func TestRunMatrix(t *testing.T) {
	t.Parallel()

	registry := prometheus.NewRegistry()
	metrics, err := publisher.NewMetrics(registry)
	if err != nil {
		t.Fatalf("new metrics: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	reports, err := RunMatrix(ctx, Matrix(), MatrixConfig{
		Parallelism: 4,
		Publisher:   []publisher.Option{publisher.WithName("matrix"), publisher.WithMetrics(metrics)},
		Verifier:    []Option{WithSettle(20 * time.Millisecond)},
	})
	if err != nil {
		t.Fatalf("RunMatrix: %v", err)
	}
	if len(reports) != 16 {
		t.Fatalf("report count = %d, want 16", len(reports))
	}

	for _, report := range reports {
		if len(report.Results) != len(RuleIDs()) {
			t.Fatalf("%s: result count = %d, want %d", report.Combo, len(report.Results), len(RuleIDs()))
		}
		for _, result := range report.Failed() {
			t.Errorf("%s: %v", report.Combo, result.Err)
		}
	}

	count, err := testutil.GatherAndCount(registry, "chanpub_terminal_signals_total")
	if err != nil {
		t.Fatalf("gather metrics: %v", err)
	}
	if count == 0 {
		t.Fatal("expected terminal signals to be counted")
	}
}

// TestNewInt64Factory checks the stream produced by each wiring.
func TestNewInt64Factory(t *testing.T) {
	t.Parallel()

	type testCase struct {
		name     string
		combo    Combo
		elements int64
	}

	tests := []testCase{
		{name: "finish after prefill and reads", combo: Combo{BatchSize: 3, Initial: 3}, elements: 7},
		{name: "close after reads", combo: Combo{BatchSize: 1, Close: true}, elements: 4},
		{name: "prefill covers stream", combo: Combo{BatchSize: 1, Initial: 3, Close: true}, elements: 2},
		{name: "empty stream", combo: Combo{BatchSize: 3}, elements: 0},
	}

	for _, testCase := range tests {
		testCase := testCase
		t.Run(testCase.name, func(t *testing.T) {
			t.Parallel()

			loop := eventloop.New(eventloop.WithName(t.Name()))
			t.Cleanup(func() {
				if err := loop.Stop(context.Background()); err != nil {
					t.Errorf("stop loop: %v", err)
				}
			})

			pub, cleanup, err := NewInt64Factory(loop, testCase.combo)(testCase.elements)
			if err != nil {
				t.Fatalf("factory: %v", err)
			}
			t.Cleanup(cleanup)

			ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			got, err := stream.Collect[int64](ctx, pub, 2)
			if err != nil {
				t.Fatalf("collect: %v", err)
			}
			if int64(len(got)) != testCase.elements {
				t.Fatalf("elements = %v, want %d values", got, testCase.elements)
			}
			for i, value := range got {
				if value != int64(i) {
					t.Fatalf("elements = %v, want 0..%d in order", got, testCase.elements-1)
				}
			}
		})
	}
}

// TestNewInt64FactoryScheduled drives the scheduled producer with a test clock.
func TestNewInt64FactoryScheduled(t *testing.T) {
	t.Parallel()

	clk := testclock.NewClock(time.Now())
	loop := eventloop.New(eventloop.WithName(t.Name()), eventloop.WithClock(clk))
	t.Cleanup(func() {
		if err := loop.Stop(context.Background()); err != nil {
			t.Errorf("stop loop: %v", err)
		}
	})

	pub, cleanup, err := NewInt64Factory(loop, Combo{BatchSize: 3, Scheduled: true})(3)
	if err != nil {
		t.Fatalf("factory: %v", err)
	}
	t.Cleanup(cleanup)

	done := make(chan []int64, 1)
	errs := make(chan error, 1)
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		got, err := stream.Collect[int64](ctx, pub, 8)
		if err != nil {
			errs <- err
			return
		}
		done <- got
	}()

	if err := clk.WaitAdvance(ScheduledDelay, time.Second, 1); err != nil {
		t.Fatalf("advance clock: %v", err)
	}

	select {
	case got := <-done:
		if len(got) != 3 {
			t.Fatalf("elements = %v, want 3", got)
		}
	case err := <-errs:
		t.Fatalf("collect: %v", err)
	case <-time.After(2 * time.Second):
		t.Fatal("scheduled stream did not complete")
	}
}
