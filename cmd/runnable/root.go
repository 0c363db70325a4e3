package main

import (
	"context"
	"fmt"
	"time"

	"github.com/getsentry/sentry-go"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/agentstation/runnable"
	"github.com/agentstation/runnable/internal/config"
	"github.com/agentstation/runnable/internal/logging"
	"github.com/agentstation/runnable/internal/tracing"
	"github.com/agentstation/runnable/middleware"
)

var (
	// Global flags.
	configFile string
	verbose    bool
	output     string
)

// app holds what every command needs once flags are parsed.
type app struct {
	cfg      *config.Config
	zap      *zap.Logger
	logger   runnable.Logger
	shutdown func(context.Context) error

	// tracing and reporting record which optional exporters are active.
	tracing   bool
	reporting bool
}

var current *app

// rootCmd represents the base command when called without any subcommands.
var rootCmd = &cobra.Command{
	Use:   "runnable",
	Short: "Compose and run LLM pipelines",
	Long: `runnable composes nodes into sequences, parallel fan-outs, branches
and retries, and runs them from YAML definitions, a chat REPL, a retrieval
chain, a tool agent or a NATS service.`,
	Version:           fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, buildDate),
	SilenceUsage:      true,
	SilenceErrors:     true,
	PersistentPreRunE: setup,
	PersistentPostRunE: func(cmd *cobra.Command, _ []string) error {
		if current == nil || current.shutdown == nil {
			return nil
		}
		return current.shutdown(cmd.Context())
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configFile, "config", "", "Config file (yaml, json or toml)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable debug logging")
	rootCmd.PersistentFlags().StringVar(&output, "output", textFormat, "Output format (text, json, yaml)")

	rootCmd.CompletionOptions.DisableDefaultCmd = true
}

func setup(cmd *cobra.Command, _ []string) error {
	switch output {
	case textFormat, jsonFormat, yamlFormat:
	default:
		return fmt.Errorf("unknown output format %q", output)
	}

	cfg, err := config.Load(viper.New(), configFile)
	if err != nil {
		return err
	}

	level := cfg.Log.Level
	if verbose {
		level = "debug"
	}
	zl, err := logging.New(level, cfg.Log.Development)
	if err != nil {
		return err
	}
	runnable.SetDefaults(cfg.RetryOptions()...)

	a := &app{cfg: cfg, zap: zl, logger: logging.Wrap(zl)}
	if cfg.Tracing.Endpoint != "" {
		tc := tracing.DefaultConfig("runnable")
		tc.ServiceVersion = version
		tc.OTLPEndpoint = cfg.Tracing.Endpoint
		tc.SampleRatio = cfg.Tracing.SampleRatio
		shutdown, err := tracing.Setup(cmd.Context(), tc, zl)
		if err != nil {
			return err
		}
		a.shutdown = shutdown
		a.tracing = true
	}
	if cfg.Sentry.DSN != "" {
		err := sentry.Init(sentry.ClientOptions{
			Dsn:         cfg.Sentry.DSN,
			Environment: cfg.Sentry.Environment,
			Release:     version,
		})
		if err != nil {
			return fmt.Errorf("init sentry: %w", err)
		}
		a.reporting = true
		prev := a.shutdown
		a.shutdown = func(ctx context.Context) error {
			sentry.Flush(2 * time.Second)
			if prev != nil {
				return prev(ctx)
			}
			return nil
		}
	}
	current = a
	return nil
}

// instrument wraps a root node with the configured reporting middleware.
func (a *app) instrument(node runnable.Node) runnable.Node {
	if !a.reporting {
		return node
	}
	return middleware.Apply(node, middleware.Sentry(sentry.CurrentHub()))
}

// nodeOptions are applied to every composite node the CLI builds.
func (a *app) nodeOptions() []runnable.Option {
	opts := []runnable.Option{runnable.WithLogger(a.logger)}
	if a.tracing {
		opts = append(opts, runnable.WithTracer(tracing.NewTracer(nil)))
	}
	return opts
}
