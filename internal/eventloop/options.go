package eventloop

import (
	"context"
	"log/slog"

	"github.com/juju/clock"
)

const defaultLoopName = "eventloop"

// config stores resolved loop settings after option application.
type config struct {
	name         string
	clock        clock.Clock
	logger       *slog.Logger
	onAsyncError func(context.Context, string, error)
}

// Option mutates loop construction configuration.
type Option func(*config)

func defaultConfig() config {
	logger := slog.Default()

	return config{
		name:   defaultLoopName,
		clock:  clock.WallClock,
		logger: logger,
		onAsyncError: func(ctx context.Context, scope string, err error) {
			logger.ErrorContext(ctx, "eventloop async error", "scope", scope, "error", err)
		},
	}
}

// WithName configures the loop name used in logs and error scopes.
func WithName(name string) Option {
	return func(cfg *config) {
		if name != "" {
			cfg.name = name
		}
	}
}

// WithClock configures the clock used by Schedule.
func WithClock(clk clock.Clock) Option {
	return func(cfg *config) {
		if clk != nil {
			cfg.clock = clk
		}
	}
}

// WithLogger configures the loop logger and the default async error sink.
func WithLogger(logger *slog.Logger) Option {
	return func(cfg *config) {
		if logger == nil {
			return
		}

		cfg.logger = logger
		cfg.onAsyncError = func(ctx context.Context, scope string, err error) {
			logger.ErrorContext(ctx, "eventloop async error", "scope", scope, "error", err)
		}
	}
}

// WithAsyncErrorHandler configures reporting of recovered task panics.
func WithAsyncErrorHandler(handler func(context.Context, string, error)) Option {
	return func(cfg *config) {
		if handler != nil {
			cfg.onAsyncError = handler
		}
	}
}
