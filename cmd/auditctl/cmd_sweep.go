package main

import (
	"context"
	"time"

	"github.com/spf13/cobra"

	"github.com/kirillkom/product-truth-audit/internal/bootstrap"
)

var (
	sweepBatch     int
	sweepStaleDays int
	sweepBudget    time.Duration
)

var sweepCmd = &cobra.Command{
	Use:   "sweep",
	Short: "Run one refresh sweep over stale products",
	Long: `Processes flagged and aged products in sequence, re-running stages 2-4
for each one. Defaults come from the loaded configuration.`,
	Args: cobra.NoArgs,
	RunE: runSweep,
}

func init() {
	sweepCmd.Flags().IntVar(&sweepBatch, "batch", 0, "maximum products to process (default from config)")
	sweepCmd.Flags().IntVar(&sweepStaleDays, "stale-days", 0, "snapshot age that counts as stale (default from config)")
	sweepCmd.Flags().DurationVar(&sweepBudget, "budget", 0, "overall time budget (default from config)")
	rootCmd.AddCommand(sweepCmd)
}

func runSweep(cmd *cobra.Command, _ []string) error {
	return withApp(cmd, func(ctx context.Context, app *bootstrap.App) error {
		batch := firstPositive(sweepBatch, app.Config.SweepBatchSize)
		staleDays := firstPositive(sweepStaleDays, app.Config.StaleDays)
		budget := sweepBudget
		if budget <= 0 {
			budget = app.Config.SweepBudget
		}
		if budget > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, budget)
			defer cancel()
		}

		report, err := app.Scheduler.Sweep(ctx, batch, staleDays)
		if report != nil {
			if printErr := printJSON(cmd.OutOrStdout(), report); printErr != nil {
				return printErr
			}
		}
		return err
	})
}

func firstPositive(values ...int) int {
	for _, v := range values {
		if v > 0 {
			return v
		}
	}
	return 0
}
