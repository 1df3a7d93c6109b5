package cmd

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

func newHarvestCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "harvest",
		Short: "Fill the archived strip table from the web archive",
		Long: `Enumerates every archived snapshot of the defunct provider, fetches the dates
missing from the stored table and saves the table at checkpoints and at the end.
Dates already stored are never fetched again, so an interrupted run can simply be
restarted.`,
		RunE: runHarvest,
	}
}

func runHarvest(cmd *cobra.Command, _ []string) error {
	e, err := resolveEnv(cmd.Context())
	if err != nil {
		return err
	}
	report, err := e.app.Harvest(cmd.Context())
	if err != nil {
		return fmt.Errorf("harvest: %w", err)
	}
	e.logger.Info("harvest command finished", zap.String("run_id", report.RunID.String()))
	_, _ = fmt.Fprintf(cmd.OutOrStdout(),
		"cached %d, fetched %d, errors %d, total %d, entries %d in %s\n",
		report.Cached, report.Fetched, report.Errors, report.Total, report.Entries, report.Duration.Round(time.Millisecond))
	return nil
}
