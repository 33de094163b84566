package conformance

import (
	"context"
	"errors"

	"github.com/sourcegraph/conc"

	"chanpub/pkg/stream"
)

// Rule ids.
const (
	RuleProducesRequestedElements       = "produces_requested_elements"
	RuleRespectsDemand                  = "respects_demand"
	RuleCompletesAfterElements          = "completes_after_elements"
	RuleEmptyStreamCompletes            = "empty_stream_completes"
	RuleOnSubscribeFirst                = "on_subscribe_first"
	RuleRejectsSecondSubscriber         = "rejects_second_subscriber"
	RuleRejectsZeroRequest              = "rejects_zero_request"
	RuleRejectsNegativeRequest          = "rejects_negative_request"
	RuleCancelStopsSignals              = "cancel_stops_signals"
	RuleCancelIsIdempotent              = "cancel_is_idempotent"
	RuleUnboundedRequestNoOverflow      = "unbounded_request_no_overflow"
	RuleReentrantRequestIsBounded       = "reentrant_request_is_bounded"
	RuleConcurrentRequestsAreSerialized = "concurrent_requests_are_serialized"
	RulePostTerminalCallsAreNoops       = "post_terminal_calls_are_noops"
)

// Rule is one publisher expectation.
type Rule[T any] struct {
	ID          string
	Description string
	Check       func(ctx context.Context, v *Verifier[T]) error
}

// RuleIDs lists every rule id in execution order.
func RuleIDs() []string {
	rules := Rules[struct{}]()
	ids := make([]string, 0, len(rules))
	for _, rule := range rules {
		ids = append(ids, rule.ID)
	}

	return ids
}

// Rules returns every rule in execution order.
func Rules[T any]() []Rule[T] {
	return []Rule[T]{
		{
			ID:          RuleProducesRequestedElements,
			Description: "delivers exactly the requested number of elements",
			Check:       checkProducesRequestedElements[T],
		},
		{
			ID:          RuleRespectsDemand,
			Description: "never delivers more elements than requested",
			Check:       checkRespectsDemand[T],
		},
		{
			ID:          RuleCompletesAfterElements,
			Description: "completes after the last element when demand exceeds the stream",
			Check:       checkCompletesAfterElements[T],
		},
		{
			ID:          RuleEmptyStreamCompletes,
			Description: "completes an empty stream without any demand",
			Check:       checkEmptyStreamCompletes[T],
		},
		{
			ID:          RuleOnSubscribeFirst,
			Description: "signals OnSubscribe exactly once and before anything else",
			Check:       checkOnSubscribeFirst[T],
		},
		{
			ID:          RuleRejectsSecondSubscriber,
			Description: "rejects a second subscriber without disturbing the first",
			Check:       checkRejectsSecondSubscriber[T],
		},
		{
			ID:          RuleRejectsZeroRequest,
			Description: "signals an error for Request(0)",
			Check: func(ctx context.Context, v *Verifier[T]) error {
				return checkRejectsRequest(ctx, v, 0)
			},
		},
		{
			ID:          RuleRejectsNegativeRequest,
			Description: "signals an error for a negative request",
			Check: func(ctx context.Context, v *Verifier[T]) error {
				return checkRejectsRequest(ctx, v, -1)
			},
		},
		{
			ID:          RuleCancelStopsSignals,
			Description: "stops signaling after cancel",
			Check:       checkCancelStopsSignals[T],
		},
		{
			ID:          RuleCancelIsIdempotent,
			Description: "tolerates repeated cancel calls",
			Check:       checkCancelIsIdempotent[T],
		},
		{
			ID:          RuleUnboundedRequestNoOverflow,
			Description: "treats accumulated demand past the maximum as unbounded",
			Check:       checkUnboundedRequestNoOverflow[T],
		},
		{
			ID:          RuleReentrantRequestIsBounded,
			Description: "does not recurse into OnNext from Request",
			Check:       checkReentrantRequestIsBounded[T],
		},
		{
			ID:          RuleConcurrentRequestsAreSerialized,
			Description: "serializes signals for requests from many goroutines",
			Check:       checkConcurrentRequestsAreSerialized[T],
		},
		{
			ID:          RulePostTerminalCallsAreNoops,
			Description: "ignores request and cancel after a terminal signal",
			Check:       checkPostTerminalCallsAreNoops[T],
		},
	}
}

// start creates a publisher with elements elements and subscribes a recorder.
func start[T any](ctx context.Context, v *Verifier[T], elements int64) (*recorder[T], stream.Subscription, func(), error) {
	publisher, cleanup, err := v.publisher(elements)
	if err != nil {
		return nil, nil, nil, err
	}

	rec := newRecorder[T]()
	publisher.Subscribe(rec)
	subscription, err := rec.awaitSubscription(ctx)
	if err != nil {
		cleanup()
		return nil, nil, nil, err
	}

	return rec, subscription, cleanup, nil
}

// expectCompleted checks a recording ended with completion after want elements.
func expectCompleted[T any](got recording[T], want int) error {
	if len(got.errs) > 0 {
		return violation("unexpected error: %v", got.errs[0])
	}
	if got.completions != 1 {
		return violation("completions = %d, want 1", got.completions)
	}
	if len(got.elements) != want {
		return violation("elements = %d, want %d", len(got.elements), want)
	}

	return nil
}

func checkProducesRequestedElements[T any](ctx context.Context, v *Verifier[T]) error {
	rec, subscription, cleanup, err := start(ctx, v, 5)
	if err != nil {
		return err
	}
	defer cleanup()

	subscription.Request(5)
	got, err := rec.awaitTerminal(ctx)
	if err != nil {
		return err
	}

	return expectCompleted(got, 5)
}

func checkRespectsDemand[T any](ctx context.Context, v *Verifier[T]) error {
	rec, subscription, cleanup, err := start(ctx, v, 10)
	if err != nil {
		return err
	}
	defer cleanup()

	subscription.Request(3)
	if _, err := rec.awaitElements(ctx, 3); err != nil {
		return err
	}
	if err := v.settle(ctx); err != nil {
		return err
	}
	if got := rec.snapshot(); len(got.elements) != 3 || got.terminals() != 0 {
		return violation("after Request(3) got %d elements and %d terminal signals", len(got.elements), got.terminals())
	}

	subscription.Request(7)
	got, err := rec.awaitTerminal(ctx)
	if err != nil {
		return err
	}

	return expectCompleted(got, 10)
}

func checkCompletesAfterElements[T any](ctx context.Context, v *Verifier[T]) error {
	rec, subscription, cleanup, err := start(ctx, v, 3)
	if err != nil {
		return err
	}
	defer cleanup()

	subscription.Request(10)
	got, err := rec.awaitTerminal(ctx)
	if err != nil {
		return err
	}

	return expectCompleted(got, 3)
}

func checkEmptyStreamCompletes[T any](ctx context.Context, v *Verifier[T]) error {
	rec, _, cleanup, err := start(ctx, v, 0)
	if err != nil {
		return err
	}
	defer cleanup()

	got, err := rec.awaitTerminal(ctx)
	if err != nil {
		return err
	}

	return expectCompleted(got, 0)
}

func checkOnSubscribeFirst[T any](ctx context.Context, v *Verifier[T]) error {
	rec, subscription, cleanup, err := start(ctx, v, 3)
	if err != nil {
		return err
	}
	defer cleanup()

	subscription.Request(3)
	got, err := rec.awaitTerminal(ctx)
	if err != nil {
		return err
	}
	if got.signals[0] != "subscribe" {
		return violation("first signal = %s, want subscribe", got.signals[0])
	}
	for _, signal := range got.signals[1:] {
		if signal == "subscribe" {
			return violation("OnSubscribe signaled more than once: %v", got.signals)
		}
	}

	return expectCompleted(got, 3)
}

func checkRejectsSecondSubscriber[T any](ctx context.Context, v *Verifier[T]) error {
	publisher, cleanup, err := v.publisher(3)
	if err != nil {
		return err
	}
	defer cleanup()

	first := newRecorder[T]()
	second := newRecorder[T]()
	publisher.Subscribe(first)
	publisher.Subscribe(second)

	rejected, err := second.awaitTerminal(ctx)
	if err != nil {
		return err
	}
	if len(rejected.errs) != 1 || !errors.Is(rejected.errs[0], stream.ErrAlreadySubscribed) {
		return violation("second subscriber signals %v, want OnError(ErrAlreadySubscribed)", rejected.signals)
	}
	if rejected.signals[0] != "subscribe" {
		return violation("second subscriber first signal = %s, want subscribe", rejected.signals[0])
	}

	subscription, err := first.awaitSubscription(ctx)
	if err != nil {
		return err
	}
	subscription.Request(3)
	got, err := first.awaitTerminal(ctx)
	if err != nil {
		return err
	}

	return expectCompleted(got, 3)
}

func checkRejectsRequest[T any](ctx context.Context, v *Verifier[T], n int64) error {
	rec, subscription, cleanup, err := start(ctx, v, 10)
	if err != nil {
		return err
	}
	defer cleanup()

	subscription.Request(n)
	got, err := rec.awaitTerminal(ctx)
	if err != nil {
		return err
	}
	if len(got.errs) != 1 || !errors.Is(got.errs[0], stream.ErrNonPositiveRequest) {
		return violation("Request(%d) signals %v, want OnError(ErrNonPositiveRequest)", n, got.signals)
	}
	if len(got.elements) != 0 {
		return violation("Request(%d) delivered %d elements", n, len(got.elements))
	}

	return nil
}

func checkCancelStopsSignals[T any](ctx context.Context, v *Verifier[T]) error {
	rec, subscription, cleanup, err := start(ctx, v, 20)
	if err != nil {
		return err
	}
	defer cleanup()

	subscription.Request(2)
	if _, err := rec.awaitElements(ctx, 2); err != nil {
		return err
	}
	subscription.Cancel()
	subscription.Request(5)
	if err := v.settle(ctx); err != nil {
		return err
	}

	got := rec.snapshot()
	if len(got.elements) != 2 || got.terminals() != 0 {
		return violation("after cancel got %d elements and %d terminal signals", len(got.elements), got.terminals())
	}

	return nil
}

func checkCancelIsIdempotent[T any](ctx context.Context, v *Verifier[T]) error {
	rec, subscription, cleanup, err := start(ctx, v, 5)
	if err != nil {
		return err
	}
	defer cleanup()

	subscription.Cancel()
	subscription.Cancel()
	subscription.Cancel()
	if err := v.settle(ctx); err != nil {
		return err
	}

	if got := rec.snapshot(); len(got.elements) != 0 || got.terminals() != 0 {
		return violation("repeated cancel produced signals %v", got.signals)
	}

	return nil
}

func checkUnboundedRequestNoOverflow[T any](ctx context.Context, v *Verifier[T]) error {
	rec, subscription, cleanup, err := start(ctx, v, 10)
	if err != nil {
		return err
	}
	defer cleanup()

	subscription.Request(stream.Unbounded)
	subscription.Request(stream.Unbounded)
	subscription.Request(1)
	got, err := rec.awaitTerminal(ctx)
	if err != nil {
		return err
	}

	return expectCompleted(got, 10)
}

func checkReentrantRequestIsBounded[T any](ctx context.Context, v *Verifier[T]) error {
	const elements = 64

	publisher, cleanup, err := v.publisher(elements)
	if err != nil {
		return err
	}
	defer cleanup()

	rec := newRecorder[T]()
	rec.onNext = func(subscription stream.Subscription) {
		subscription.Request(1)
	}
	publisher.Subscribe(rec)
	subscription, err := rec.awaitSubscription(ctx)
	if err != nil {
		return err
	}

	subscription.Request(1)
	got, err := rec.awaitTerminal(ctx)
	if err != nil {
		return err
	}
	if got.nested > 0 {
		return violation("OnNext re-entered %d times from Request", got.nested)
	}

	return expectCompleted(got, elements)
}

func checkConcurrentRequestsAreSerialized[T any](ctx context.Context, v *Verifier[T]) error {
	const callers = 32

	rec, subscription, cleanup, err := start(ctx, v, callers)
	if err != nil {
		return err
	}
	defer cleanup()

	var wg conc.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Go(func() {
			subscription.Request(1)
		})
	}
	wg.Wait()

	got, err := rec.awaitTerminal(ctx)
	if err != nil {
		return err
	}
	if got.overlaps > 0 {
		return violation("OnNext overlapped %d times", got.overlaps)
	}

	return expectCompleted(got, callers)
}

func checkPostTerminalCallsAreNoops[T any](ctx context.Context, v *Verifier[T]) error {
	rec, subscription, cleanup, err := start(ctx, v, 2)
	if err != nil {
		return err
	}
	defer cleanup()

	subscription.Request(2)
	if _, err := rec.awaitTerminal(ctx); err != nil {
		return err
	}

	subscription.Request(-1)
	subscription.Request(1)
	subscription.Cancel()
	if err := v.settle(ctx); err != nil {
		return err
	}

	return expectCompleted(rec.snapshot(), 2)
}
