// Package cmd defines the exporter CLI: the serve and graph commands.
package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/figure-exporter/internal/app"
	"github.com/JakeFAU/figure-exporter/internal/config"
	"github.com/JakeFAU/figure-exporter/internal/logging"
)

var cfgFile string

// appKeyType is the key for storing the App in the context.
type appKeyType string

const appKey appKeyType = "app"

// shutdownTimeout bounds draining the event hub and closing backends.
const shutdownTimeout = 10 * time.Second

// Runner is what commands need from the application. Tests inject a fake.
type Runner interface {
	Serve(ctx context.Context) error
	Graph(ctx context.Context, items []string) (int, error)
	Close(ctx context.Context)
}

// newApp is the application factory. It's a variable so tests can replace
// it.
var newApp = func(ctx context.Context, cfg config.Config, logger *zap.Logger) (Runner, error) {
	a, err := app.Build(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}
	return appRunner{a}, nil
}

type appRunner struct{ *app.App }

func (r appRunner) Graph(ctx context.Context, items []string) (int, error) {
	sum, err := r.App.Graph(ctx, items)
	return int(sum.Code), err
}

// exitError carries a non-zero process exit code.
type exitError struct{ code int }

func (e exitError) Error() string { return fmt.Sprintf("exit code %d", e.code) }

// bind maps a flag name to its config key. Commands store their bindings in
// cobra annotations so the root hook can load config for any subcommand.
func bind(cmd *cobra.Command, flag, key string) {
	if cmd.Annotations == nil {
		cmd.Annotations = map[string]string{}
	}
	cmd.Annotations[flag] = key
}

func loadConfig(cmd *cobra.Command) (config.Config, error) {
	opts := make([]config.Option, 0, len(cmd.Annotations))
	for flag, key := range cmd.Annotations {
		opts = append(opts, config.WithFlag(key, cmd.Flags().Lookup(flag)))
	}
	return config.Load(cfgFile, opts...)
}

func newLogger(cfg config.Config) (*zap.Logger, error) {
	level := cfg.Logging.Level
	if cfg.Server.Debug || cfg.Batch.Debug {
		level = "debug"
	}
	return logging.Build(logging.Options{Development: cfg.Logging.Development, Level: level})
}

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "exporter",
		Short: "Exports plotly.js figures to static images.",
		Long: `exporter renders figures in headless Chrome windows, one per component.
It runs either as an HTTP export server or as a one-shot batch command.`,
		SilenceUsage:  true,
		SilenceErrors: true,

		// Runs after flags are parsed and before the subcommand's RunE.
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			if len(cmd.Annotations) == 0 {
				return nil
			}
			cfg, err := loadConfig(cmd)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			logger, err := newLogger(cfg)
			if err != nil {
				return fmt.Errorf("logger init failed: %w", err)
			}
			zap.ReplaceGlobals(logger)

			appInstance, err := newApp(cmd.Context(), cfg, logger)
			if err != nil {
				return fmt.Errorf("failed to initialize application services: %w", err)
			}
			cmd.SetContext(context.WithValue(cmd.Context(), appKey, appInstance))
			return nil
		},

		PersistentPostRun: func(cmd *cobra.Command, _ []string) {
			closeApp(cmd.Context())
		},
	}

	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (yaml, json or toml)")
	cmd.AddCommand(newServeCmd(), newGraphCmd())
	return cmd
}

func resolveApp(ctx context.Context) (Runner, error) {
	appInstance, ok := ctx.Value(appKey).(Runner)
	if !ok || appInstance == nil {
		return nil, errors.New("application not initialized")
	}
	return appInstance, nil
}

func closeApp(ctx context.Context) {
	appInstance, err := resolveApp(ctx)
	if err != nil {
		return
	}
	closeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()
	appInstance.Close(closeCtx)
	_ = zap.L().Sync()
}

// Execute runs the CLI and exits with the command's status.
func Execute() {
	os.Exit(run(context.Background(), os.Args[1:]))
}

func run(ctx context.Context, args []string) int {
	root := newRootCmd()
	root.SetArgs(args)
	err := root.ExecuteContext(ctx)
	if err == nil {
		return 0
	}
	var exit exitError
	if errors.As(err, &exit) {
		return exit.code
	}
	fmt.Fprintln(os.Stderr, "exporter:", err)
	return 1
}
