package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/kirillkom/product-truth-audit/internal/bootstrap"
	"github.com/kirillkom/product-truth-audit/internal/core/domain"
)

var stageCmd = &cobra.Command{
	Use:   "stage",
	Short: "Inspect or run individual stages",
}

var stageRunCmd = &cobra.Command{
	Use:   "run <product-id> <stage>",
	Short: "Run one stage (1-4) through the orchestrator",
	Long: `Runs a single stage with the same caching, prerequisite and validation
rules as POST /v1/stages/{stage}. A done stage is served from storage unless
--force is given.`,
	Args: cobra.ExactArgs(2),
	RunE: runStage,
}

func init() {
	stageRunCmd.Flags().BoolVar(&forceRedo, "force", false, "recompute even when a done output exists")
	stageCmd.AddCommand(stageRunCmd)
	rootCmd.AddCommand(stageCmd)
}

func runStage(cmd *cobra.Command, args []string) error {
	stage, err := domain.ParseStageID(args[1])
	if err != nil {
		return err
	}
	return withApp(cmd, func(ctx context.Context, app *bootstrap.App) error {
		result, err := app.Orchestrator.RunStage(ctx, args[0], stage, forceRedo)
		if err != nil {
			return err
		}
		if err := printJSON(cmd.OutOrStdout(), result); err != nil {
			return err
		}
		if result.Error != nil {
			return fmt.Errorf("stage %d: %w", stage, result.Error)
		}
		return nil
	})
}
