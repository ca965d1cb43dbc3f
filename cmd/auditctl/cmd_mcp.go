package main

import (
	"context"

	"github.com/spf13/cobra"

	mcpadapter "github.com/kirillkom/product-truth-audit/internal/adapters/mcp"
	"github.com/kirillkom/product-truth-audit/internal/bootstrap"
)

var mcpCmd = &cobra.Command{
	Use:   "mcp",
	Short: "Model Context Protocol integration",
}

var mcpServeCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve run_stage, check_freshness and enqueue_run over stdio",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		return withApp(cmd, func(_ context.Context, app *bootstrap.App) error {
			server := mcpadapter.NewServer(mcpadapter.Services{
				Stages:    app.Orchestrator,
				Freshness: app.Freshness,
				Runs:      app.Coordinator,
			}, version)
			return server.ServeStdio()
		})
	},
}

func init() {
	mcpCmd.AddCommand(mcpServeCmd)
	rootCmd.AddCommand(mcpCmd)
}
