package main

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/kirillkom/product-truth-audit/internal/bootstrap"
)

var freshnessCmd = &cobra.Command{
	Use:   "freshness <slug>",
	Short: "Report audit freshness for a product; never runs a stage",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, func(ctx context.Context, app *bootstrap.App) error {
			report, err := app.Freshness.Check(ctx, args[0])
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), report)
		})
	},
}

var snapshotCmd = &cobra.Command{
	Use:   "snapshot",
	Short: "Canonical snapshot maintenance",
}

var snapshotRebuildCmd = &cobra.Command{
	Use:   "rebuild <product-id>",
	Short: "Re-merge every done stage output into the snapshot",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, func(ctx context.Context, app *bootstrap.App) error {
			snapshot, err := app.Orchestrator.RebuildSnapshot(ctx, args[0])
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), snapshot)
		})
	},
}

func init() {
	snapshotCmd.AddCommand(snapshotRebuildCmd)
	rootCmd.AddCommand(freshnessCmd, snapshotCmd)
}
