package config

import (
	"fmt"
	"slices"
	"strings"

	"chanpub/internal/conformance"
	"chanpub/pkg/stream"
)

// ValidationError represents a single validation failure
type ValidationError struct {
	Field   string // config key, e.g. "publisher.low_water_mark"
	Value   any
	Message string
}

// Error implements the error interface for ValidationError
func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s (got: %v)", e.Field, e.Message, e.Value)
}

// ValidationErrors is a collection of validation errors
type ValidationErrors []ValidationError

// Error implements the error interface for ValidationErrors
func (e ValidationErrors) Error() string {
	if len(e) == 0 {
		return ""
	}
	if len(e) == 1 {
		return e[0].Error()
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("%d validation errors:\n", len(e)))
	for i, err := range e {
		sb.WriteString(fmt.Sprintf("  %d. %s\n", i+1, err.Error()))
	}
	return sb.String()
}

// ValidLogLevels returns the list of valid log levels
func ValidLogLevels() []string {
	return []string{"debug", "info", "warn", "error"}
}

// ValidReportFormats returns the list of valid verify report formats
func ValidReportFormats() []string {
	return []string{"yaml", "json"}
}

// ValidStreamFormats returns the list of valid stream output formats
func ValidStreamFormats() []string {
	return []string{"text", "json"}
}

// Validate checks the Config for invalid values and returns all validation errors found
func (c *Config) Validate() []ValidationError {
	var errs []ValidationError
	add := func(field string, value any, message string) {
		errs = append(errs, ValidationError{Field: field, Value: value, Message: message})
	}

	if !slices.Contains(ValidLogLevels(), strings.ToLower(c.LogLevel)) {
		add("log_level", c.LogLevel, "must be one of "+strings.Join(ValidLogLevels(), ", "))
	}

	if c.Publisher.Name == "" {
		add("publisher.name", c.Publisher.Name, "must not be empty")
	}
	if err := c.Publisher.WaterMarks().Validate(); err != nil {
		add("publisher.low_water_mark", c.Publisher.LowWaterMark,
			fmt.Sprintf("must be >= 0 and below high_water_mark %d", c.Publisher.HighWaterMark))
	}

	if c.Producer.BatchSize < 1 {
		add("producer.batch_size", c.Producer.BatchSize, "must be at least 1")
	}
	if c.Producer.Initial < 0 {
		add("producer.initial", c.Producer.Initial, "must not be negative")
	}
	if c.Producer.Elements < 0 {
		add("producer.elements", c.Producer.Elements, "must not be negative")
	}
	if c.Producer.ScheduledDelayMs < 0 {
		add("producer.scheduled_delay_ms", c.Producer.ScheduledDelayMs, "must not be negative")
	}

	if c.Verify.Parallelism < 0 {
		add("verify.parallelism", c.Verify.Parallelism, "must not be negative")
	}
	if c.Verify.RuleTimeoutMs <= 0 {
		add("verify.rule_timeout_ms", c.Verify.RuleTimeoutMs, "must be positive")
	}
	if c.Verify.SettleMs <= 0 {
		add("verify.settle_ms", c.Verify.SettleMs, "must be positive")
	}
	known := conformance.RuleIDs()
	for _, rule := range c.Verify.Rules {
		if !slices.Contains(known, rule) {
			add("verify.rules", rule, "unknown rule")
		}
	}
	if !slices.Contains(ValidReportFormats(), c.Verify.Output) {
		add("verify.output", c.Verify.Output, "must be one of "+strings.Join(ValidReportFormats(), ", "))
	}

	if c.Stream.RequestBatch < 1 || c.Stream.RequestBatch > stream.MaxPullBatch {
		add("stream.request_batch", c.Stream.RequestBatch, fmt.Sprintf("must be between 1 and %d", stream.MaxPullBatch))
	}
	if c.Stream.TimeoutMs < 0 {
		add("stream.timeout_ms", c.Stream.TimeoutMs, "must not be negative")
	}
	if !slices.Contains(ValidStreamFormats(), c.Stream.Output) {
		add("stream.output", c.Stream.Output, "must be one of "+strings.Join(ValidStreamFormats(), ", "))
	}

	return errs
}
