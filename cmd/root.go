// Package cmd defines the CLI commands for the panels executable.
package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/ashmod/panels/internal/app"
	"github.com/ashmod/panels/internal/config"
	"github.com/ashmod/panels/internal/harvest"
	"github.com/ashmod/panels/internal/logging"
)

// App is what the commands need from the service container. Tests swap in a fake.
type App interface {
	Handler() http.Handler
	Harvest(ctx context.Context) (harvest.Report, error)
	Close(ctx context.Context)
}

// env is the per-invocation state built by the root command.
type env struct {
	cfg    config.Config
	logger *zap.Logger
	app    App
}

type envKeyType struct{}

var envKey envKeyType

// newApp is the application factory, replaced in tests.
var newApp = func(ctx context.Context, cfg config.Config, logger *zap.Logger) (App, error) {
	return app.New(ctx, app.Options{Config: cfg, Logger: logger})
}

// newRootCmd creates the root command and its subcommands. The returned func
// closes the services built for the invocation, if any; cobra skips post-run hooks
// when a command fails, so callers run it themselves.
func newRootCmd() (*cobra.Command, func(ctx context.Context)) {
	var (
		cfgFile string
		current *env
	)
	cmd := &cobra.Command{
		Use:   "panels",
		Short: "Comic strip retrieval service.",
		Long: `panels serves normalized comic strips from several providers over HTTP.
It also ships the bulk harvester that fills the archived strip table.`,
		SilenceUsage: true,

		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(cfgFile)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			logger, err := logging.New(logging.Options{
				Development: cfg.Logging.Development,
				Level:       cfg.Logging.Level,
			})
			if err != nil {
				return fmt.Errorf("init logger: %w", err)
			}
			zap.ReplaceGlobals(logger)

			appInstance, err := newApp(cmd.Context(), cfg, logger)
			if err != nil {
				return fmt.Errorf("failed to initialize application services: %w", err)
			}
			current = &env{cfg: cfg, logger: logger, app: appInstance}
			cmd.SetContext(context.WithValue(cmd.Context(), envKey, current))
			return nil
		},
	}

	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (YAML, TOML or JSON)")
	cmd.AddCommand(newServeCmd(), newHarvestCmd())

	closeEnv := func(ctx context.Context) {
		if current == nil {
			return
		}
		ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), current.cfg.Server.ShutdownTimeout)
		defer cancel()
		current.app.Close(ctx)
		current = nil
	}
	return cmd, closeEnv
}

func resolveEnv(ctx context.Context) (*env, error) {
	e, ok := ctx.Value(envKey).(*env)
	if !ok || e == nil {
		return nil, errors.New("application services not initialized")
	}
	return e, nil
}

// Execute runs the command line and shuts the services down afterwards.
func Execute(ctx context.Context) error {
	root, closeEnv := newRootCmd()
	defer closeEnv(ctx)
	return root.ExecuteContext(ctx)
}
