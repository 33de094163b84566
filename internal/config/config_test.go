package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
)

func TestDefault(t *testing.T) {
	t.Parallel()

	cfg := Default()
	if errs := cfg.Validate(); len(errs) > 0 {
		t.Fatalf("Default().Validate() = %v, want no errors", errs)
	}
	if cfg.Publisher.HighWaterMark != 16 || cfg.Publisher.LowWaterMark != 4 {
		t.Errorf("water marks = %d/%d, want 16/4", cfg.Publisher.HighWaterMark, cfg.Publisher.LowWaterMark)
	}
	if cfg.Verify.RuleTimeout() != 5*time.Second {
		t.Errorf("Verify.RuleTimeout() = %v, want 5s", cfg.Verify.RuleTimeout())
	}
	if cfg.Producer.ScheduledDelay() != 0 {
		t.Errorf("Producer.ScheduledDelay() = %v, want 0", cfg.Producer.ScheduledDelay())
	}
}

func TestLoadDefaults(t *testing.T) {
	t.Parallel()

	v, err := New("")
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	cfg, err := Load(v)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if diff := cmp.Diff(Default(), cfg, cmpopts.EquateEmpty()); diff != "" {
		t.Fatalf("loaded defaults mismatch (-want +got):\n%s", diff)
	}
}

func TestLoadFile(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "chanpub.yaml")
	content := `
log_level: debug
publisher:
  high_water_mark: 8
  low_water_mark: 2
producer:
  batch_size: 1
  close: true
  scheduled_delay_ms: 5
verify:
  rules: [respects_demand, cancel_is_idempotent]
  output: json
`
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}

	v, err := New(path)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	cfg, err := Load(v)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	want := Default()
	want.LogLevel = "debug"
	want.Publisher.HighWaterMark = 8
	want.Publisher.LowWaterMark = 2
	want.Producer.BatchSize = 1
	want.Producer.Close = true
	want.Producer.ScheduledDelayMs = 5
	want.Verify.Rules = []string{"respects_demand", "cancel_is_idempotent"}
	want.Verify.Output = "json"
	if diff := cmp.Diff(want, cfg, cmpopts.EquateEmpty()); diff != "" {
		t.Fatalf("loaded config mismatch (-want +got):\n%s", diff)
	}
	if cfg.Producer.ScheduledDelay() != 5*time.Millisecond {
		t.Fatalf("ScheduledDelay() = %v, want 5ms", cfg.Producer.ScheduledDelay())
	}
}

func TestLoadEnvironmentOverride(t *testing.T) {
	t.Setenv("CHANPUB_LOG_LEVEL", "warn")
	t.Setenv("CHANPUB_PUBLISHER_HIGH_WATER_MARK", "32")

	v, err := New("")
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	cfg, err := Load(v)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.LogLevel != "warn" {
		t.Errorf("LogLevel = %q, want warn", cfg.LogLevel)
	}
	if cfg.Publisher.HighWaterMark != 32 {
		t.Errorf("HighWaterMark = %d, want 32", cfg.Publisher.HighWaterMark)
	}
}

func TestNewMissingFile(t *testing.T) {
	t.Parallel()

	if _, err := New(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Fatal("expected missing config file to fail")
	}
}

func TestValidate(t *testing.T) {
	t.Parallel()

	type testCase struct {
		name       string
		mutate     func(*Config)
		wantFields []string
	}

	tests := []testCase{
		{
			name:   "defaults are valid",
			mutate: func(*Config) {},
		},
		{
			name: "inverted water marks",
			mutate: func(cfg *Config) {
				cfg.Publisher.HighWaterMark = 2
				cfg.Publisher.LowWaterMark = 2
			},
			wantFields: []string{"publisher.low_water_mark"},
		},
		{
			name: "producer bounds",
			mutate: func(cfg *Config) {
				cfg.Producer.BatchSize = 0
				cfg.Producer.Elements = -1
			},
			wantFields: []string{"producer.batch_size", "producer.elements"},
		},
		{
			name: "unknown rule and format",
			mutate: func(cfg *Config) {
				cfg.Verify.Rules = []string{"respects_demand", "made_up"}
				cfg.Verify.Output = "xml"
			},
			wantFields: []string{"verify.rules", "verify.output"},
		},
		{
			name: "log level and request batch",
			mutate: func(cfg *Config) {
				cfg.LogLevel = "loud"
				cfg.Stream.RequestBatch = 0
			},
			wantFields: []string{"log_level", "stream.request_batch"},
		},
	}

	for _, testCase := range tests {
		testCase := testCase
		t.Run(testCase.name, func(t *testing.T) {
			t.Parallel()

			cfg := Default()
			testCase.mutate(cfg)

			var fields []string
			for _, err := range cfg.Validate() {
				fields = append(fields, err.Field)
			}
			if diff := cmp.Diff(testCase.wantFields, fields); diff != "" {
				t.Fatalf("invalid fields mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestLoadReturnsValidationErrors(t *testing.T) {
	t.Parallel()

	v, err := New("")
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	v.Set("producer.batch_size", 0)

	_, err = Load(v)
	var validation ValidationErrors
	if !errors.As(err, &validation) || len(validation) != 1 {
		t.Fatalf("Load error = %v, want one validation error", err)
	}
}
