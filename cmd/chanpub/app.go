package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"slices"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"chanpub/internal/config"
)

const (
	envConfigFile          = "CHANPUB_CONFIG_FILE"
	defaultConfigFilePath  = "config/chanpub.yaml"
	defaultShutdownTimeout = 10 * time.Second
)

// app carries state shared by every subcommand once configuration is loaded.
type app struct {
	stdout io.Writer
	stderr io.Writer

	configFile string
	cfg        *config.Config
	logger     *slog.Logger
}

// flagBinding maps a command flag onto a configuration key.
type flagBinding struct {
	flag string
	key  string
}

func newRootCommand(stdout io.Writer, stderr io.Writer) *cobra.Command {
	a := &app{stdout: stdout, stderr: stderr}

	root := &cobra.Command{
		Use:           "chanpub",
		Short:         "Bridge channel events into a demand-driven stream",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.SetOut(stdout)
	root.SetErr(stderr)
	root.PersistentFlags().StringVar(&a.configFile, "config", "", "config file (default $"+envConfigFile+" or "+defaultConfigFilePath+")")
	root.PersistentFlags().String("log-level", "", "log level: debug, info, warn, error")

	root.AddCommand(a.newVerifyCommand())
	root.AddCommand(a.newStreamCommand())

	return root
}

// withConfig loads configuration for cmd, applying its flag bindings, before
// running the command body under a signal-aware context.
func (a *app) withConfig(bindings []flagBinding, run func(ctx context.Context) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, _ []string) error {
		all := append(slices.Clone(bindings), flagBinding{flag: "log-level", key: "log_level"})
		if err := a.load(cmd, all); err != nil {
			return err
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		return run(ctx)
	}
}

func (a *app) load(cmd *cobra.Command, bindings []flagBinding) error {
	configFile, err := resolveConfigFilePath(a.configFile)
	if err != nil {
		return err
	}

	v, err := config.New(configFile)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	for _, binding := range bindings {
		flag := cmd.Flags().Lookup(binding.flag)
		if flag == nil {
			return fmt.Errorf("bind flag %s: not defined", binding.flag)
		}
		if err := v.BindPFlag(binding.key, flag); err != nil {
			return fmt.Errorf("bind flag %s: %w", binding.flag, err)
		}
	}

	cfg, err := config.Load(v)
	if err != nil {
		if configFile == "" {
			return fmt.Errorf("validate config: %w", err)
		}
		return fmt.Errorf("validate config file %s: %w", configFile, err)
	}

	level, err := parseLogLevel(cfg.LogLevel)
	if err != nil {
		return fmt.Errorf("parse log level: %w", err)
	}

	a.cfg = cfg
	a.logger = slog.New(slog.NewJSONHandler(a.stderr, &slog.HandlerOptions{Level: level}))

	return nil
}

// resolveConfigFilePath picks the explicit path, then the environment, then
// the default location. An empty result means defaults and environment only.
func resolveConfigFilePath(explicit string) (string, error) {
	if configFile := strings.TrimSpace(explicit); configFile != "" {
		return configFile, nil
	}
	if configFile := strings.TrimSpace(os.Getenv(envConfigFile)); configFile != "" {
		return configFile, nil
	}

	info, err := os.Stat(defaultConfigFilePath)
	switch {
	case err == nil && info.IsDir():
		return "", fmt.Errorf("config file %s is a directory", defaultConfigFilePath)
	case err == nil:
		return defaultConfigFilePath, nil
	case errors.Is(err, os.ErrNotExist):
		return "", nil
	default:
		return "", fmt.Errorf("stat config file %s: %w", defaultConfigFilePath, err)
	}
}

func parseLogLevel(raw string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "debug":
		return slog.LevelDebug, nil
	case "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return 0, fmt.Errorf("unsupported level %q", raw)
	}
}
