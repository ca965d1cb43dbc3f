package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	httpadapter "github.com/kirillkom/product-truth-audit/internal/adapters/http"
	"github.com/kirillkom/product-truth-audit/internal/bootstrap"
	"github.com/kirillkom/product-truth-audit/internal/config"
	"github.com/kirillkom/product-truth-audit/internal/observability/logging"
	"github.com/kirillkom/product-truth-audit/internal/observability/metrics"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("config_load_failed", "error", err)
		os.Exit(1)
	}
	logger := logging.NewJSONLogger("api", cfg.LogLevel)
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	apiMetrics := metrics.NewHTTPServerMetrics("api")
	app, err := bootstrap.New(ctx, cfg, bootstrap.Options{
		Logger:     logger,
		Telemetry:  apiMetrics,
		ClientName: "audit-api",
	})
	if err != nil {
		logger.Error("bootstrap_failed", "error", err)
		os.Exit(1)
	}
	defer app.Close()

	router := httpadapter.NewRouter(cfg, httpadapter.Services{
		Stages:    app.Orchestrator,
		Sweeper:   app.Scheduler,
		Freshness: app.Freshness,
		Runs:      app.Coordinator,
		Evidence:  app.Evidence,
	}, apiMetrics)

	writeTimeout := cfg.StageTimeout + 30*time.Second
	if cfg.SweepBudget+30*time.Second > writeTimeout {
		writeTimeout = cfg.SweepBudget + 30*time.Second
	}
	server := &http.Server{
		Addr:              ":" + cfg.APIPort,
		Handler:           router.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      writeTimeout,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		logger.Info("api_listening", "addr", server.Addr, "store", cfg.StoreDriver, "inference", cfg.InferenceProvider)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("api_server_failed", "error", err)
			stop()
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("api_shutdown_failed", "error", err)
	}
}
