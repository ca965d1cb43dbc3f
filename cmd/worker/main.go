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

	"golang.org/x/sync/errgroup"

	"github.com/kirillkom/product-truth-audit/internal/bootstrap"
	"github.com/kirillkom/product-truth-audit/internal/config"
	"github.com/kirillkom/product-truth-audit/internal/core/domain"
	"github.com/kirillkom/product-truth-audit/internal/core/ports"
	"github.com/kirillkom/product-truth-audit/internal/observability/logging"
	"github.com/kirillkom/product-truth-audit/internal/observability/metrics"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("config_load_failed", "error", err)
		os.Exit(1)
	}
	logger := logging.NewJSONLogger("worker", cfg.LogLevel)
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	workerMetrics := metrics.NewWorkerMetrics("worker")
	app, err := bootstrap.New(ctx, cfg, bootstrap.Options{
		Logger:     logger,
		Telemetry:  workerMetrics,
		ClientName: "audit-worker",
	})
	if err != nil {
		logger.Error("bootstrap_failed", "error", err)
		os.Exit(1)
	}
	defer app.Close()

	metricsServer := &http.Server{
		Addr:              ":" + cfg.WorkerMetricsPort,
		Handler:           workerMetrics.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	wake := make(chan struct{}, 1)
	group, groupCtx := errgroup.WithContext(ctx)

	group.Go(func() error {
		logger.Info("worker_metrics_listening", "addr", metricsServer.Addr)
		if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	group.Go(func() error {
		<-groupCtx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return metricsServer.Shutdown(shutdownCtx)
	})

	if app.Queue != nil {
		group.Go(func() error {
			logger.Info("worker_subscribed", "subject", cfg.NATSSubject)
			return app.Queue.SubscribeRunQueued(groupCtx, func(context.Context, string) error {
				select {
				case wake <- struct{}{}:
				default:
				}
				return nil
			})
		})
	}

	loop := &stepLoop{
		stepper:      app.Coordinator,
		metrics:      workerMetrics,
		logger:       logger,
		stepTimeout:  cfg.WorkerStepTimeout,
		claimsPerRun: cfg.WorkerClaimsPerWake,
	}
	pollInterval := cfg.WorkerPollInterval
	if pollInterval <= 0 {
		pollInterval = 30 * time.Second
	}
	group.Go(func() error {
		ticker := time.NewTicker(pollInterval)
		defer ticker.Stop()

		loop.drain(groupCtx)
		for {
			select {
			case <-groupCtx.Done():
				return nil
			case <-wake:
			case <-ticker.C:
			}
			loop.drain(groupCtx)
		}
	})

	if err := group.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("worker_stopped", "error", err)
		os.Exit(1)
	}
}

type stepLoop struct {
	stepper      ports.RunStepper
	metrics      *metrics.WorkerMetrics
	logger       *slog.Logger
	stepTimeout  time.Duration
	claimsPerRun int
}

// drain performs up to claimsPerRun activations and stops early once the
// queue is empty. Each activation advances one run by one stage.
func (l *stepLoop) drain(ctx context.Context) {
	limit := max(l.claimsPerRun, 1)
	for i := 0; i < limit; i++ {
		if ctx.Err() != nil {
			return
		}
		outcome, err := l.step(ctx)
		if outcome == nil && err == nil {
			return
		}
	}
}

func (l *stepLoop) step(ctx context.Context) (*domain.StepOutcome, error) {
	stepCtx := ctx
	if l.stepTimeout > 0 {
		var cancel context.CancelFunc
		stepCtx, cancel = context.WithTimeout(ctx, l.stepTimeout)
		defer cancel()
	}

	l.metrics.StartStep()
	startedAt := time.Now()
	outcome, err := l.stepper.Step(stepCtx)
	if domain.IsKind(err, domain.ErrClaimEmpty) {
		outcome, err = nil, nil
	}
	l.metrics.FinishStep(outcome, time.Since(startedAt), err)
	if err != nil {
		l.logger.Error("worker_step_failed", "error", err)
	}
	return outcome, err
}
