package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"chanpub/internal/conformance"
	"chanpub/internal/eventloop"
	"chanpub/internal/publisher"
)

type verifyReport struct {
	Passed    int           `json:"passed" yaml:"passed"`
	Failed    int           `json:"failed" yaml:"failed"`
	Delivered float64       `json:"delivered" yaml:"delivered"`
	Combos    []comboReport `json:"combos" yaml:"combos"`
}

type comboReport struct {
	Combo conformance.Combo `json:"combo" yaml:"combo"`
	Rules []ruleReport      `json:"rules" yaml:"rules"`
}

type ruleReport struct {
	Rule       string `json:"rule" yaml:"rule"`
	Passed     bool   `json:"passed" yaml:"passed"`
	Error      string `json:"error,omitempty" yaml:"error,omitempty"`
	DurationMs int64  `json:"duration_ms" yaml:"duration_ms"`
}

func (a *app) newVerifyCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "verify",
		Short: "Run the publisher conformance rules over every producer configuration",
		Args:  cobra.NoArgs,
	}
	cmd.Flags().StringSlice("rules", nil, "rule ids to run (default all)")
	cmd.Flags().String("output", "", "report format: yaml or json")
	cmd.Flags().Int("parallelism", 0, "concurrently verified configurations")

	cmd.RunE = a.withConfig([]flagBinding{
		{flag: "rules", key: "verify.rules"},
		{flag: "output", key: "verify.output"},
		{flag: "parallelism", key: "verify.parallelism"},
	}, a.runVerify)

	return cmd
}

func (a *app) runVerify(ctx context.Context) error {
	registry := prometheus.NewRegistry()
	metrics, err := publisher.NewMetrics(registry)
	if err != nil {
		return fmt.Errorf("verify: %w", err)
	}

	cfg := a.cfg
	a.logger.InfoContext(ctx, "verification started",
		"combos", len(conformance.Matrix()),
		"rules", len(cfg.Verify.Rules),
		"parallelism", cfg.Verify.Parallelism,
	)

	started := time.Now()
	reports, err := conformance.RunMatrix(ctx, conformance.Matrix(), conformance.MatrixConfig{
		Parallelism: cfg.Verify.Parallelism,
		Loop:        []eventloop.Option{eventloop.WithLogger(a.logger)},
		Publisher: []publisher.Option{
			publisher.WithName(cfg.Publisher.Name),
			publisher.WithWaterMarks(cfg.Publisher.WaterMarks()),
			publisher.WithLogger(a.logger),
			publisher.WithMetrics(metrics),
		},
		Verifier: []conformance.Option{
			conformance.WithTimeout(cfg.Verify.RuleTimeout()),
			conformance.WithSettle(cfg.Verify.Settle()),
			conformance.WithLogger(a.logger),
			conformance.WithRules(cfg.Verify.Rules...),
		},
	})
	if err != nil {
		return fmt.Errorf("verify: %w", err)
	}

	report := buildVerifyReport(reports)
	report.Delivered, err = counterTotal(registry, "chanpub_elements_delivered_total")
	if err != nil {
		return fmt.Errorf("verify: %w", err)
	}
	a.logger.InfoContext(ctx, "verification finished",
		"passed", report.Passed,
		"failed", report.Failed,
		"elapsed", time.Since(started).String(),
	)

	if err := writeReport(a.stdout, cfg.Verify.Output, report); err != nil {
		return fmt.Errorf("verify: %w", err)
	}
	if report.Failed > 0 {
		return fmt.Errorf("verify: %d of %d rule checks failed", report.Failed, report.Passed+report.Failed)
	}

	return nil
}

func buildVerifyReport(reports []conformance.ComboReport) verifyReport {
	report := verifyReport{Combos: make([]comboReport, 0, len(reports))}
	for _, combo := range reports {
		entry := comboReport{Combo: combo.Combo, Rules: make([]ruleReport, 0, len(combo.Results))}
		for _, result := range combo.Results {
			rule := ruleReport{
				Rule:       result.Rule,
				Passed:     result.Passed(),
				DurationMs: result.Duration.Milliseconds(),
			}
			if result.Passed() {
				report.Passed++
			} else {
				rule.Error = result.Err.Error()
				report.Failed++
			}
			entry.Rules = append(entry.Rules, rule)
		}
		report.Combos = append(report.Combos, entry)
	}

	return report
}

// counterTotal sums every series of the named counter family.
func counterTotal(gatherer prometheus.Gatherer, name string) (float64, error) {
	families, err := gatherer.Gather()
	if err != nil {
		return 0, fmt.Errorf("gather metrics: %w", err)
	}

	var total float64
	for _, family := range families {
		if family.GetName() != name {
			continue
		}
		for _, metric := range family.GetMetric() {
			total += metric.GetCounter().GetValue()
		}
	}

	return total, nil
}

func writeReport(w io.Writer, format string, report verifyReport) error {
	switch format {
	case "json":
		encoder := json.NewEncoder(w)
		encoder.SetIndent("", "  ")
		if err := encoder.Encode(report); err != nil {
			return fmt.Errorf("encode json report: %w", err)
		}
	case "yaml":
		encoder := yaml.NewEncoder(w)
		encoder.SetIndent(2)
		if err := encoder.Encode(report); err != nil {
			return fmt.Errorf("encode yaml report: %w", err)
		}
		if err := encoder.Close(); err != nil {
			return fmt.Errorf("encode yaml report: %w", err)
		}
	default:
		return fmt.Errorf("unsupported report format %q", format)
	}

	return nil
}
