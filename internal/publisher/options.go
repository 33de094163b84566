package publisher

import (
	"context"
	"log/slog"

	"chanpub/pkg/stream"
)

const defaultPublisherName = "publisher"

// config stores resolved publisher settings after option application.
type config struct {
	name         string
	waterMarks   stream.WaterMarks
	logger       *slog.Logger
	metrics      *Metrics
	onAsyncError func(context.Context, string, error)
}

// Option mutates publisher construction configuration.
type Option func(*config)

func defaultConfig() config {
	logger := slog.Default()

	return config{
		name:       defaultPublisherName,
		waterMarks: stream.DefaultWaterMarks(),
		logger:     logger,
		onAsyncError: func(ctx context.Context, scope string, err error) {
			logger.ErrorContext(ctx, "publisher async error", "scope", scope, "error", err)
		},
	}
}

// WithName configures the publisher name used in logs and metric labels.
func WithName(name string) Option {
	return func(cfg *config) {
		if name != "" {
			cfg.name = name
		}
	}
}

// WithWaterMarks configures buffer pause/resume thresholds.
// New rejects pairs that fail stream.WaterMarks.Validate.
func WithWaterMarks(marks stream.WaterMarks) Option {
	return func(cfg *config) {
		cfg.waterMarks = marks
	}
}

// WithLogger configures the publisher logger and the default async error sink.
func WithLogger(logger *slog.Logger) Option {
	return func(cfg *config) {
		if logger == nil {
			return
		}

		cfg.logger = logger
		cfg.onAsyncError = func(ctx context.Context, scope string, err error) {
			logger.ErrorContext(ctx, "publisher async error", "scope", scope, "error", err)
		}
	}
}

// WithAsyncErrorHandler configures reporting of subscriber panics and
// rejected calls that cannot be surfaced through a subscriber.
func WithAsyncErrorHandler(handler func(context.Context, string, error)) Option {
	return func(cfg *config) {
		if handler != nil {
			cfg.onAsyncError = handler
		}
	}
}

// WithMetrics configures Prometheus instrumentation.
func WithMetrics(metrics *Metrics) Option {
	return func(cfg *config) {
		if metrics != nil {
			cfg.metrics = metrics
		}
	}
}
