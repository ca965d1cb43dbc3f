package main

import (
	"context"
	"errors"

	"github.com/spf13/cobra"

	"github.com/kirillkom/product-truth-audit/internal/bootstrap"
	"github.com/kirillkom/product-truth-audit/internal/core/domain"
)

var stepCount int

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Manage queued audit runs",
}

var runEnqueueCmd = &cobra.Command{
	Use:   "enqueue <product-id>",
	Short: "Queue a run through all four stages",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, func(ctx context.Context, app *bootstrap.App) error {
			run, err := app.Coordinator.Enqueue(ctx, args[0], forceRedo)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), run)
		})
	},
}

var runGetCmd = &cobra.Command{
	Use:   "get <run-id>",
	Short: "Show a run and its per-stage status",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, func(ctx context.Context, app *bootstrap.App) error {
			run, err := app.Coordinator.GetRun(ctx, args[0])
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), run)
		})
	},
}

var runStepCmd = &cobra.Command{
	Use:   "step",
	Short: "Perform worker activations in the foreground",
	Long: `Each activation claims one run and advances it by one stage, exactly as
a pooled worker would. Stops early when the queue is empty.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		return withApp(cmd, func(ctx context.Context, app *bootstrap.App) error {
			outcomes := make([]*domain.StepOutcome, 0, stepCount)
			for i := 0; i < max(stepCount, 1); i++ {
				outcome, err := app.Coordinator.Step(ctx)
				if errors.Is(err, domain.ErrClaimEmpty) {
					break
				}
				if outcome != nil {
					outcomes = append(outcomes, outcome)
				}
				if err != nil {
					_ = printJSON(cmd.OutOrStdout(), outcomes)
					return err
				}
			}
			return printJSON(cmd.OutOrStdout(), outcomes)
		})
	},
}

func init() {
	runEnqueueCmd.Flags().BoolVar(&forceRedo, "force", false, "recompute stages that are already done")
	runStepCmd.Flags().IntVar(&stepCount, "count", 1, "maximum activations to perform")
	runCmd.AddCommand(runEnqueueCmd, runGetCmd, runStepCmd)
	rootCmd.AddCommand(runCmd)
}
