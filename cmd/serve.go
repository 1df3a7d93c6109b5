package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-co-op/gocron/v2"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/ashmod/panels/internal/app"
)

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Serve the HTTP API",
		Long: `Starts the HTTP API and, when harvest.schedule is set, runs the bulk harvester
on that cron schedule in the background.`,
		RunE: runServe,
	}
}

func runServe(cmd *cobra.Command, _ []string) error {
	e, err := resolveEnv(cmd.Context())
	if err != nil {
		return err
	}
	ctx := cmd.Context()

	sched, err := scheduleHarvest(ctx, e)
	if err != nil {
		return err
	}
	if sched != nil {
		defer func() {
			if err := sched.Shutdown(); err != nil {
				e.logger.Warn("scheduler shutdown failed", zap.Error(err))
			}
		}()
	}

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", e.cfg.Server.Port),
		Handler:           e.app.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	serveErr := make(chan error, 1)
	go func() {
		e.logger.Info("http server started", zap.Int("port", e.cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case <-ctx.Done():
		e.logger.Info("shutdown initiated")
	case err := <-serveErr:
		if err != nil {
			return fmt.Errorf("http server: %w", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), e.cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown: %w", err)
	}
	e.logger.Info("shutdown complete")
	return nil
}

// scheduleHarvest starts a cron scheduler running the harvester, or returns nil
// when no schedule is configured. Overlapping runs are skipped.
func scheduleHarvest(ctx context.Context, e *env) (gocron.Scheduler, error) {
	expr := e.cfg.Harvest.Schedule
	if expr == "" {
		return nil, nil
	}
	s, err := gocron.NewScheduler()
	if err != nil {
		return nil, fmt.Errorf("create harvest scheduler: %w", err)
	}
	_, err = s.NewJob(
		gocron.CronJob(expr, false),
		gocron.NewTask(func() {
			report, err := e.app.Harvest(ctx)
			switch {
			case errors.Is(err, app.ErrHarvestRunning):
				e.logger.Info("scheduled harvest skipped, previous run still active")
			case err != nil:
				e.logger.Error("scheduled harvest failed", zap.Error(err))
			default:
				e.logger.Info("scheduled harvest finished",
					zap.String("run_id", report.RunID.String()),
					zap.Int64("fetched", report.Fetched))
			}
		}),
		gocron.WithName("harvest"),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
	)
	if err != nil {
		_ = s.Shutdown()
		return nil, fmt.Errorf("schedule harvest %q: %w", expr, err)
	}
	s.Start()
	e.logger.Info("harvest scheduled", zap.String("cron", expr))
	return s, nil
}
