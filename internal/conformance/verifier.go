package conformance

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"chanpub/internal/eventloop"
	"chanpub/pkg/stream"
)

const (
	defaultRuleTimeout = 5 * time.Second
	defaultSettle      = 50 * time.Millisecond
)

// ErrRuleViolated marks a rule whose expectations were not met.
var ErrRuleViolated = errors.New("conformance: rule violated")

// Factory builds a publisher that emits exactly elements elements and then
// completes. The returned cleanup releases resources held for the publisher.
type Factory[T any] func(elements int64) (stream.Publisher[T], func(), error)

// Result is the outcome of one rule.
type Result struct {
	Rule     string
	Err      error
	Duration time.Duration
}

// Passed reports whether the rule held.
func (r Result) Passed() bool {
	return r.Err == nil
}

type config struct {
	timeout time.Duration
	settle  time.Duration
	logger  *slog.Logger
	only    map[string]struct{}
}

// Option mutates verifier configuration.
type Option func(*config)

func defaultConfig() config {
	return config{
		timeout: defaultRuleTimeout,
		settle:  defaultSettle,
		logger:  slog.Default(),
	}
}

// WithTimeout bounds each rule run.
func WithTimeout(timeout time.Duration) Option {
	return func(cfg *config) {
		if timeout > 0 {
			cfg.timeout = timeout
		}
	}
}

// WithSettle configures how long a rule waits to observe that no further
// signals arrive.
func WithSettle(settle time.Duration) Option {
	return func(cfg *config) {
		if settle > 0 {
			cfg.settle = settle
		}
	}
}

// WithLogger configures verifier logging.
func WithLogger(logger *slog.Logger) Option {
	return func(cfg *config) {
		if logger != nil {
			cfg.logger = logger
		}
	}
}

// WithRules restricts verification to the named rule ids.
func WithRules(ids ...string) Option {
	return func(cfg *config) {
		if len(ids) == 0 {
			return
		}
		cfg.only = make(map[string]struct{}, len(ids))
		for _, id := range ids {
			cfg.only[id] = struct{}{}
		}
	}
}

// Verifier runs publisher rules against a factory.
type Verifier[T any] struct {
	factory Factory[T]
	cfg     config
	rules   []Rule[T]
}

// NewVerifier creates a verifier for factory.
func NewVerifier[T any](factory Factory[T], options ...Option) (*Verifier[T], error) {
	if factory == nil {
		return nil, fmt.Errorf("new verifier: nil factory")
	}

	cfg := defaultConfig()
	for _, option := range options {
		option(&cfg)
	}

	rules := Rules[T]()
	if cfg.only != nil {
		known := make(map[string]struct{}, len(rules))
		selected := rules[:0]
		for _, rule := range rules {
			known[rule.ID] = struct{}{}
			if _, ok := cfg.only[rule.ID]; ok {
				selected = append(selected, rule)
			}
		}
		for id := range cfg.only {
			if _, ok := known[id]; !ok {
				return nil, fmt.Errorf("new verifier: unknown rule %q", id)
			}
		}
		rules = selected
	}

	return &Verifier[T]{factory: factory, cfg: cfg, rules: rules}, nil
}

// Verify runs every selected rule in order and returns one result per rule.
// Rules still run after a failure; a cancelled ctx fails the remaining ones.
func (v *Verifier[T]) Verify(ctx context.Context) []Result {
	results := make([]Result, 0, len(v.rules))
	for _, rule := range v.rules {
		results = append(results, v.run(ctx, rule))
	}

	return results
}

func (v *Verifier[T]) run(ctx context.Context, rule Rule[T]) Result {
	started := time.Now()
	ruleCtx, cancel := context.WithTimeout(ctx, v.cfg.timeout)
	defer cancel()

	err := eventloop.RunSafely("conformance rule "+rule.ID, func() error {
		return rule.Check(ruleCtx, v)
	})
	if err != nil {
		err = fmt.Errorf("rule %s: %w", rule.ID, err)
		v.cfg.logger.DebugContext(ctx, "conformance rule failed", "rule", rule.ID, "error", err)
	}

	return Result{Rule: rule.ID, Err: err, Duration: time.Since(started)}
}

// publisher builds a fresh publisher for one rule and registers its cleanup.
func (v *Verifier[T]) publisher(elements int64) (stream.Publisher[T], func(), error) {
	publisher, cleanup, err := v.factory(elements)
	if err != nil {
		return nil, nil, fmt.Errorf("create publisher with %d elements: %w", elements, err)
	}
	if cleanup == nil {
		cleanup = func() {}
	}

	return publisher, cleanup, nil
}

// settle waits for the quiet period, returning early when ctx ends.
func (v *Verifier[T]) settle(ctx context.Context) error {
	timer := time.NewTimer(v.cfg.settle)
	defer timer.Stop()

	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("settle: %w", ctx.Err())
	}
}

// violation builds a rule failure.
func violation(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrRuleViolated, fmt.Sprintf(format, args...))
}
