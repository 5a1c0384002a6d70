package cli

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/PipeOpsHQ/campaign-engine/app/campaigns"
	"github.com/PipeOpsHQ/campaign-engine/internal/config"
	"github.com/PipeOpsHQ/campaign-engine/internal/logging"
	"github.com/PipeOpsHQ/campaign-engine/state"
)

type rootOptions struct {
	envFile   string
	logLevel  string
	logFormat string
	server    string

	logger *zap.Logger
}

func NewRootCmd(version string) *cobra.Command {
	opts := &rootOptions{}

	cmd := &cobra.Command{
		Use:          "campaign-engine",
		Short:        "Run and control outbound email campaigns",
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if err := config.LoadDotEnv(opts.envFile); err != nil {
				return fmt.Errorf("load env file: %w", err)
			}
			cfg := config.Load()
			level, format := cfg.LogLevel, cfg.LogFormat
			if cmd.Flags().Changed("log-level") {
				level = opts.logLevel
			}
			if cmd.Flags().Changed("log-format") {
				format = opts.logFormat
			}
			logger, err := logging.New(level, format)
			if err != nil {
				return err
			}
			opts.logger = logger
			return nil
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			if opts.logger != nil {
				_ = opts.logger.Sync()
			}
		},
	}

	cmd.PersistentFlags().StringVar(&opts.envFile, "env-file", ".env", "Environment file loaded before reading configuration")
	cmd.PersistentFlags().StringVar(&opts.logLevel, "log-level", "info", "Log level (debug, info, warn, error)")
	cmd.PersistentFlags().StringVar(&opts.logFormat, "log-format", "auto", "Log format (auto, json, console)")
	cmd.PersistentFlags().StringVar(&opts.server, "server", "", "Base URL of a running serve process; control commands go through its API")

	cmd.AddCommand(newServeCmd(opts))
	cmd.AddCommand(newRunCmd(opts))
	cmd.AddCommand(newControlCmd(opts, "start", "Start or restart a campaign"))
	cmd.AddCommand(newControlCmd(opts, "pause", "Pause a campaign at its current recipient"))
	cmd.AddCommand(newControlCmd(opts, "stop", "Stop a campaign; it is not resumed on boot"))
	cmd.AddCommand(newStatusCmd(opts))
	cmd.AddCommand(newScoreCmd(opts))
	cmd.AddCommand(newImportCmd(opts))
	cmd.AddCommand(newResetCmd(opts))
	cmd.AddCommand(newSettingsCmd(opts))
	cmd.AddCommand(newAgentCmd(opts))

	cmd.SetOut(os.Stdout)
	cmd.SetErr(os.Stderr)

	if version != "" {
		cmd.Version = version
	} else {
		cmd.Version = "dev"
	}
	return cmd
}

// Execute runs the command tree and returns the process exit code.
func Execute(ctx context.Context, version string, args []string) int {
	root := NewRootCmd(version)
	root.SetArgs(args)
	if err := root.ExecuteContext(ctx); err != nil {
		return 1
	}
	return 0
}

func (o *rootOptions) log() *zap.Logger {
	if o.logger == nil {
		return zap.NewNop()
	}
	return o.logger
}

func openApp(ctx context.Context, opts *rootOptions) (*campaigns.App, func(), error) {
	app, err := campaigns.New(ctx, campaigns.Options{Logger: opts.log()})
	if err != nil {
		return nil, nil, err
	}
	closeFn := func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := app.Close(shutdownCtx); err != nil {
			opts.log().Warn("shutdown incomplete", zap.Error(err))
		}
	}
	return app, closeFn, nil
}

func isNotFound(err error) bool {
	return errors.Is(err, state.ErrNotFound)
}
