package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/kirillkom/product-truth-audit/internal/bootstrap"
	"github.com/kirillkom/product-truth-audit/internal/config"
	"github.com/kirillkom/product-truth-audit/internal/observability/logging"
)

var version = "dev"

var (
	cfgFile   string
	storeFlag string
	forceRedo bool
)

var rootCmd = &cobra.Command{
	Use:   "auditctl",
	Short: "Operate the product truth audit pipeline",
	Long: `auditctl runs the same stage orchestrator the API and worker use.

It is meant for operators: seeding products, forcing a stage, running a
refresh sweep outside the cron window, stepping the run queue by hand and
serving the pipeline as MCP tools.`,
	SilenceErrors: true,
	SilenceUsage:  true,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, _ []string) {
		fmt.Fprintln(cmd.OutOrStdout(), "auditctl "+version)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "YAML config file (overrides CONFIG_FILE)")
	rootCmd.PersistentFlags().StringVar(&storeFlag, "store", "", "store driver override: postgres or sqlite")
	rootCmd.AddCommand(versionCmd)
}

// loadConfig resolves configuration the same way the services do; flags only
// override the file location and the store driver.
func loadConfig() (config.Config, error) {
	if cfgFile != "" {
		if err := os.Setenv("CONFIG_FILE", cfgFile); err != nil {
			return config.Config{}, fmt.Errorf("set CONFIG_FILE: %w", err)
		}
	}
	cfg, err := config.Load()
	if err != nil {
		return config.Config{}, err
	}
	if storeFlag != "" {
		cfg.StoreDriver = storeFlag
		if err := cfg.Validate(); err != nil {
			return config.Config{}, err
		}
	}
	return cfg, nil
}

// withApp builds the application graph for one command and tears it down
// afterwards. Logs go to stderr so command output stays machine-readable.
func withApp(cmd *cobra.Command, fn func(ctx context.Context, app *bootstrap.App) error) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	logger := logging.New(os.Stderr, "auditctl", cfg.LogLevel)

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	app, err := bootstrap.New(ctx, cfg, bootstrap.Options{Logger: logger, ClientName: "auditctl"})
	if err != nil {
		return fmt.Errorf("bootstrap: %w", err)
	}
	defer app.Close()

	return fn(ctx, app)
}

func printJSON(w io.Writer, payload any) error {
	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")
	return encoder.Encode(payload)
}
