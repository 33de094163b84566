package eventloop

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/juju/clock/testclock"
	"gopkg.in/tomb.v2"
)

// TestLoopExecutesInEnqueueOrder verifies FIFO execution per producer goroutine.
func TestLoopExecutesInEnqueueOrder(t *testing.T) {
	t.Parallel()

	loop := newTestLoop(t)

	const producers = 4
	const perProducer = 200

	var mu sync.Mutex
	seen := make(map[int][]int, producers)
	var wg sync.WaitGroup
	for producer := 0; producer < producers; producer++ {
		producer := producer
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < perProducer; i++ {
				value := i
				if err := loop.Execute(func() {
					mu.Lock()
					seen[producer] = append(seen[producer], value)
					mu.Unlock()
				}); err != nil {
					t.Errorf("execute failed: %v", err)
					return
				}
			}
		}()
	}
	wg.Wait()

	awaitLoop(t, loop)

	mu.Lock()
	defer mu.Unlock()
	want := make([]int, perProducer)
	for i := range want {
		want[i] = i
	}
	for producer := 0; producer < producers; producer++ {
		if diff := cmp.Diff(want, seen[producer]); diff != "" {
			t.Fatalf("producer %d order mismatch (-want +got):\n%s", producer, diff)
		}
	}
}

// TestLoopTasksNeverOverlap verifies that tasks run one at a time.
func TestLoopTasksNeverOverlap(t *testing.T) {
	t.Parallel()

	loop := newTestLoop(t)

	running := 0
	overlapped := false
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				_ = loop.Execute(func() {
					running++
					if running > 1 {
						overlapped = true
					}
					running--
				})
			}
		}()
	}
	wg.Wait()
	awaitLoop(t, loop)

	done := make(chan bool, 1)
	_ = loop.Execute(func() { done <- overlapped })
	if <-done {
		t.Fatal("tasks overlapped on the loop goroutine")
	}
}

// TestLoopReentrantExecuteRunsLater verifies tasks enqueued from a task run after it returns.
func TestLoopReentrantExecuteRunsLater(t *testing.T) {
	t.Parallel()

	loop := newTestLoop(t)

	order := make(chan string, 3)
	if err := loop.Execute(func() {
		_ = loop.Execute(func() { order <- "inner" })
		order <- "outer"
	}); err != nil {
		t.Fatalf("execute failed: %v", err)
	}

	if got := receive(t, order); got != "outer" {
		t.Fatalf("first = %s, want outer", got)
	}
	if got := receive(t, order); got != "inner" {
		t.Fatalf("second = %s, want inner", got)
	}
}

// TestLoopRecoversTaskPanic verifies a panicking task is reported and the loop keeps running.
func TestLoopRecoversTaskPanic(t *testing.T) {
	t.Parallel()

	reported := make(chan error, 1)
	loop := New(
		WithName("panicky"),
		WithAsyncErrorHandler(func(_ context.Context, scope string, err error) {
			if scope != "panicky" {
				t.Errorf("scope = %s, want panicky", scope)
			}
			reported <- err
		}),
	)
	t.Cleanup(func() {
		_ = loop.Stop(context.Background())
	})

	_ = loop.Execute(func() { panic("boom") })
	select {
	case err := <-reported:
		if err == nil {
			t.Fatal("expected reported panic error")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for panic report")
	}

	awaitLoop(t, loop)
}

// TestLoopStopDrainsQueuedTasks verifies queued work runs before the loop exits.
func TestLoopStopDrainsQueuedTasks(t *testing.T) {
	t.Parallel()

	loop := New()
	if !errors.Is(loop.Err(), tomb.ErrStillAlive) {
		t.Fatalf("Err() before stop = %v, want ErrStillAlive", loop.Err())
	}
	release := make(chan struct{})
	ran := make(chan int, 10)
	_ = loop.Execute(func() { <-release })
	for i := 0; i < 5; i++ {
		i := i
		_ = loop.Execute(func() { ran <- i })
	}

	stopped := make(chan error, 1)
	go func() {
		stopped <- loop.Stop(context.Background())
	}()
	close(release)

	select {
	case err := <-stopped:
		if err != nil {
			t.Fatalf("stop failed: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for stop")
	}
	if len(ran) != 5 {
		t.Fatalf("drained tasks = %d, want 5", len(ran))
	}
	if err := loop.Err(); err != nil {
		t.Fatalf("Err() after stop = %v, want nil", err)
	}
}

// TestLoopRejectsAfterStop verifies Execute and Schedule fail once the loop is closed.
func TestLoopRejectsAfterStop(t *testing.T) {
	t.Parallel()

	loop := New()
	if err := loop.Stop(context.Background()); err != nil {
		t.Fatalf("stop failed: %v", err)
	}

	if err := loop.Execute(func() {}); !errors.Is(err, ErrLoopClosed) {
		t.Fatalf("Execute error = %v, want ErrLoopClosed", err)
	}
	if _, err := loop.Schedule(time.Millisecond, func() {}); !errors.Is(err, ErrLoopClosed) {
		t.Fatalf("Schedule error = %v, want ErrLoopClosed", err)
	}
	if err := loop.Stop(context.Background()); err != nil {
		t.Fatalf("second stop failed: %v", err)
	}
}

// TestLoopScheduleUsesClock verifies delayed tasks fire on clock advance.
func TestLoopScheduleUsesClock(t *testing.T) {
	t.Parallel()

	clk := testclock.NewClock(time.Time{})
	loop := New(WithClock(clk))
	t.Cleanup(func() {
		_ = loop.Stop(context.Background())
	})

	fired := make(chan struct{}, 1)
	if _, err := loop.Schedule(5*time.Millisecond, func() { fired <- struct{}{} }); err != nil {
		t.Fatalf("schedule failed: %v", err)
	}

	select {
	case <-fired:
		t.Fatal("task fired before clock advanced")
	default:
	}

	if err := clk.WaitAdvance(5*time.Millisecond, time.Second, 1); err != nil {
		t.Fatalf("advance clock: %v", err)
	}
	select {
	case <-fired:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for scheduled task")
	}
}

// TestRunSafelyWrapsErrors verifies error and panic conversion.
func TestRunSafelyWrapsErrors(t *testing.T) {
	t.Parallel()

	boom := errors.New("boom")
	if err := RunSafely("scope", func() error { return boom }); !errors.Is(err, boom) {
		t.Fatalf("RunSafely error = %v, want wrapped boom", err)
	}
	err := RunSafely("scope", func() error { panic("bad") })
	if !errors.Is(err, ErrTaskPanicked) {
		t.Fatalf("RunSafely error = %v, want ErrTaskPanicked", err)
	}
	if errors.Is(RunSafely("scope", func() error { return boom }), ErrTaskPanicked) {
		t.Fatal("returned error must not be reported as a panic")
	}
	if err := RunSafely("scope", func() error { return nil }); err != nil {
		t.Fatalf("RunSafely unexpected error: %v", err)
	}
}

func newTestLoop(t *testing.T) *Loop {
	t.Helper()

	loop := New(WithName(t.Name()))
	t.Cleanup(func() {
		if err := loop.Stop(context.Background()); err != nil {
			t.Errorf("stop loop: %v", err)
		}
	})

	return loop
}

// awaitLoop blocks until every task queued before the call has run.
func awaitLoop(t *testing.T, loop *Loop) {
	t.Helper()

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

func receive[T any](t *testing.T, ch <-chan T) T {
	t.Helper()

	select {
	case value := <-ch:
		return value
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for value")
	}

	var zero T
	return zero
}
