// Package config loads chanpub CLI configuration from defaults, an optional
// config file and CHANPUB_* environment variables.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"chanpub/pkg/stream"
)

// EnvPrefix prefixes every environment override, e.g. CHANPUB_LOG_LEVEL.
const EnvPrefix = "CHANPUB"

// Config is the full CLI configuration.
type Config struct {
	LogLevel  string          `mapstructure:"log_level"`
	Publisher PublisherConfig `mapstructure:"publisher"`
	Producer  ProducerConfig  `mapstructure:"producer"`
	Verify    VerifyConfig    `mapstructure:"verify"`
	Stream    StreamConfig    `mapstructure:"stream"`
}

// PublisherConfig controls publisher buffering.
type PublisherConfig struct {
	Name          string `mapstructure:"name"`
	HighWaterMark int    `mapstructure:"high_water_mark"`
	LowWaterMark  int    `mapstructure:"low_water_mark"`
}

// WaterMarks returns the configured read pause thresholds.
func (c PublisherConfig) WaterMarks() stream.WaterMarks {
	return stream.WaterMarks{High: c.HighWaterMark, Low: c.LowWaterMark}
}

// ProducerConfig controls the synthetic upstream driven by the stream command.
type ProducerConfig struct {
	BatchSize int   `mapstructure:"batch_size"`
	Initial   int64 `mapstructure:"initial"`
	Elements  int64 `mapstructure:"elements"`
	// Close ends the stream by closing the channel instead of a finished event.
	Close            bool `mapstructure:"close"`
	ScheduledDelayMs int  `mapstructure:"scheduled_delay_ms"`
	// FailAt fails the stream when the sequence reaches it. Negative disables.
	FailAt int64 `mapstructure:"fail_at"`
}

// ScheduledDelay returns the per-batch delay; zero means synchronous batches.
func (c ProducerConfig) ScheduledDelay() time.Duration {
	return time.Duration(c.ScheduledDelayMs) * time.Millisecond
}

// VerifyConfig controls the conformance matrix run.
type VerifyConfig struct {
	Parallelism   int      `mapstructure:"parallelism"`
	RuleTimeoutMs int      `mapstructure:"rule_timeout_ms"`
	SettleMs      int      `mapstructure:"settle_ms"`
	Rules         []string `mapstructure:"rules"`
	Output        string   `mapstructure:"output"`
}

// RuleTimeout returns the per-rule timeout.
func (c VerifyConfig) RuleTimeout() time.Duration {
	return time.Duration(c.RuleTimeoutMs) * time.Millisecond
}

// Settle returns the quiet period used by negative checks.
func (c VerifyConfig) Settle() time.Duration {
	return time.Duration(c.SettleMs) * time.Millisecond
}

// StreamConfig controls the stream command consumer.
type StreamConfig struct {
	RequestBatch int64  `mapstructure:"request_batch"`
	TimeoutMs    int    `mapstructure:"timeout_ms"`
	Output       string `mapstructure:"output"`
}

// Timeout returns the overall stream deadline; zero means none.
func (c StreamConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutMs) * time.Millisecond
}

// Default returns a config with default values.
func Default() *Config {
	marks := stream.DefaultWaterMarks()

	return &Config{
		LogLevel: "info",
		Publisher: PublisherConfig{
			Name:          "chanpub",
			HighWaterMark: marks.High,
			LowWaterMark:  marks.Low,
		},
		Producer: ProducerConfig{
			BatchSize: 3,
			Initial:   0,
			Elements:  10,
			FailAt:    -1,
		},
		Verify: VerifyConfig{
			Parallelism:   4,
			RuleTimeoutMs: 5000,
			SettleMs:      50,
			Rules:         []string{},
			Output:        "yaml",
		},
		Stream: StreamConfig{
			RequestBatch: 4,
			TimeoutMs:    30000,
			Output:       "text",
		},
	}
}

// SetDefaults registers every default on v so file and environment values
// can override them key by key.
func SetDefaults(v *viper.Viper) {
	defaults := Default()

	v.SetDefault("log_level", defaults.LogLevel)

	v.SetDefault("publisher.name", defaults.Publisher.Name)
	v.SetDefault("publisher.high_water_mark", defaults.Publisher.HighWaterMark)
	v.SetDefault("publisher.low_water_mark", defaults.Publisher.LowWaterMark)

	v.SetDefault("producer.batch_size", defaults.Producer.BatchSize)
	v.SetDefault("producer.initial", defaults.Producer.Initial)
	v.SetDefault("producer.elements", defaults.Producer.Elements)
	v.SetDefault("producer.close", defaults.Producer.Close)
	v.SetDefault("producer.scheduled_delay_ms", defaults.Producer.ScheduledDelayMs)
	v.SetDefault("producer.fail_at", defaults.Producer.FailAt)

	v.SetDefault("verify.parallelism", defaults.Verify.Parallelism)
	v.SetDefault("verify.rule_timeout_ms", defaults.Verify.RuleTimeoutMs)
	v.SetDefault("verify.settle_ms", defaults.Verify.SettleMs)
	v.SetDefault("verify.rules", defaults.Verify.Rules)
	v.SetDefault("verify.output", defaults.Verify.Output)

	v.SetDefault("stream.request_batch", defaults.Stream.RequestBatch)
	v.SetDefault("stream.timeout_ms", defaults.Stream.TimeoutMs)
	v.SetDefault("stream.output", defaults.Stream.Output)
}

// New returns a viper instance with defaults and environment overrides. When
// configFile is set it is read as well; its extension selects the format.
func New(configFile string) (*viper.Viper, error) {
	v := viper.New()
	SetDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configFile != "" {
		v.SetConfigFile(configFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", configFile, err)
		}
	}

	return v, nil
}

// Load unmarshals and validates the configuration held by v.
func Load(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if errs := cfg.Validate(); len(errs) > 0 {
		return nil, ValidationErrors(errs)
	}

	return &cfg, nil
}
