package bootstrap

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"

	"github.com/sony/gobreaker/v2"

	"github.com/kirillkom/product-truth-audit/internal/config"
	"github.com/kirillkom/product-truth-audit/internal/core/ports"
	"github.com/kirillkom/product-truth-audit/internal/core/usecase"
	"github.com/kirillkom/product-truth-audit/internal/infrastructure/extractor/htmltext"
	"github.com/kirillkom/product-truth-audit/internal/infrastructure/fetch"
	"github.com/kirillkom/product-truth-audit/internal/infrastructure/llm/ollama"
	"github.com/kirillkom/product-truth-audit/internal/infrastructure/llm/openai"
	"github.com/kirillkom/product-truth-audit/internal/infrastructure/queue/nats"
	"github.com/kirillkom/product-truth-audit/internal/infrastructure/repository/postgres"
	"github.com/kirillkom/product-truth-audit/internal/infrastructure/repository/sqlite"
	"github.com/kirillkom/product-truth-audit/internal/infrastructure/resilience"
	"github.com/kirillkom/product-truth-audit/internal/infrastructure/schema"
)

// Telemetry is implemented by the per-binary metrics sets.
type Telemetry interface {
	ports.StageObserver
	ObserveBreakerTransition(operation, from, to string)
}

type Options struct {
	Logger    *slog.Logger
	Telemetry Telemetry
	// ClientName identifies the process on the NATS connection.
	ClientName string
}

type App struct {
	Config config.Config

	Products ports.ProductRepository
	Writer   ports.ProductWriter
	Queue    *nats.Queue

	Orchestrator *usecase.StageOrchestrator
	Scheduler    *usecase.RefreshScheduler
	Coordinator  *usecase.WorkClaimCoordinator
	Freshness    *usecase.FreshnessService
	Evidence     *usecase.EvidenceExport

	closeFn func()
}

type stores struct {
	products  ports.ProductRepository
	writer    ports.ProductWriter
	stages    ports.StageRepository
	snapshots ports.SnapshotRepository
	runs      ports.RunRepository
}

func New(ctx context.Context, cfg config.Config, opts Options) (*App, error) {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	db, st, err := openStores(ctx, cfg)
	if err != nil {
		return nil, err
	}

	resilienceCfg := resilience.Config{
		RetryMaxAttempts:    cfg.RetryMaxAttempts,
		RetryInitialBackoff: cfg.RetryInitialBackoff,
		RetryMaxBackoff:     cfg.RetryMaxBackoff,
		BreakerEnabled:      cfg.BreakerEnabled,
		BreakerOpenTimeout:  cfg.BreakerOpenTimeout,
	}
	executorOpts := []resilience.Option{resilience.WithLogger(logger)}
	if opts.Telemetry != nil {
		telemetry := opts.Telemetry
		executorOpts = append(executorOpts, resilience.WithStateObserver(func(operation string, from, to gobreaker.State) {
			telemetry.ObserveBreakerTransition(operation, from.String(), to.String())
		}))
	}
	executor := resilience.NewExecutor(resilienceCfg, executorOpts...)
	fetchExecutor := resilience.NewExecutor(resilience.FetchConfig(resilienceCfg), executorOpts...)

	inference, err := newInferenceClient(cfg, executor)
	if err != nil {
		_ = db.Close()
		return nil, err
	}

	validator, err := schema.NewValidator()
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("load output schemas: %w", err)
	}

	fetcher := fetch.New(fetch.Options{
		UserAgent:     cfg.FetchUserAgent,
		Timeout:       cfg.FetchTimeout,
		MaxBytes:      cfg.FetchMaxBytes,
		HostRate:      cfg.FetchHostRPS,
		HostBurst:     cfg.FetchHostBurst,
		CacheTTL:      cfg.FetchCacheTTL,
		RespectRobots: cfg.FetchRespectRobots,
		Executor:      fetchExecutor,
		Logger:        logger,
	})
	extractor := htmltext.New(htmltext.Options{})

	executors := []usecase.StageExecutor{
		usecase.NewClaimExtractionExecutor(),
		usecase.NewEvidenceDiscoveryExecutor(inference, fetcher, extractor, usecase.EvidenceLimits{
			MaxSources:       cfg.EvidenceMaxSources,
			FetchConcurrency: cfg.EvidenceFetchConcurrency,
		}),
		usecase.NewDiscrepancyVerificationExecutor(inference),
		usecase.NewFinalAssessmentExecutor(inference),
	}

	orchestratorOpts := usecase.OrchestratorOptions{
		StageTimeout: cfg.StageTimeout,
		Logger:       logger,
	}
	if opts.Telemetry != nil {
		orchestratorOpts.Observer = opts.Telemetry
	}
	orchestrator := usecase.NewStageOrchestrator(st.products, st.stages, st.snapshots, validator, executors, orchestratorOpts)

	var (
		queue    *nats.Queue
		notifier ports.RunNotifier
	)
	if cfg.NATSURL != "" {
		queue, err = nats.New(cfg.NATSURL, cfg.NATSSubject, nats.Options{
			ClientName:         opts.ClientName,
			ResilienceExecutor: executor,
			Logger:             logger,
		})
		if err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("init message queue: %w", err)
		}
		notifier = queue
	} else {
		logger.Warn("nats_disabled", "reason", "NATS_URL is empty, workers rely on polling")
	}

	coordinator := usecase.NewWorkClaimCoordinator(st.runs, st.products, orchestrator, notifier, usecase.CoordinatorOptions{
		Lease:  cfg.WorkerLease,
		Logger: logger,
	})

	return &App{
		Config:   cfg,
		Products: st.products,
		Writer:   st.writer,
		Queue:    queue,

		Orchestrator: orchestrator,
		Scheduler:    usecase.NewRefreshScheduler(st.products, st.snapshots, orchestrator, logger),
		Coordinator:  coordinator,
		Freshness:    usecase.NewFreshnessService(st.products, st.snapshots, st.stages, cfg.StaleDays, logger),
		Evidence:     usecase.NewEvidenceExport(st.products, st.snapshots),

		closeFn: func() {
			if queue != nil {
				queue.Close()
			}
			_ = db.Close()
		},
	}, nil
}

func (a *App) Close() {
	if a.closeFn != nil {
		a.closeFn()
	}
}

func openStores(ctx context.Context, cfg config.Config) (*sql.DB, stores, error) {
	switch cfg.StoreDriver {
	case "sqlite":
		db, err := sqlite.Open(cfg.SQLitePath)
		if err != nil {
			return nil, stores{}, fmt.Errorf("open sqlite: %w", err)
		}
		if err := sqlite.EnsureSchema(ctx, db); err != nil {
			_ = db.Close()
			return nil, stores{}, fmt.Errorf("ensure schema: %w", err)
		}
		products := sqlite.NewProductRepository(db)
		return db, stores{
			products:  products,
			writer:    products,
			stages:    sqlite.NewStageRepository(db),
			snapshots: sqlite.NewSnapshotRepository(db),
			runs:      sqlite.NewRunRepository(db),
		}, nil
	default:
		db, err := postgres.OpenDB(cfg.PostgresDSN)
		if err != nil {
			return nil, stores{}, fmt.Errorf("open postgres: %w", err)
		}
		if err := postgres.EnsureSchema(ctx, db); err != nil {
			_ = db.Close()
			return nil, stores{}, fmt.Errorf("ensure schema: %w", err)
		}
		products := postgres.NewProductRepository(db)
		return db, stores{
			products:  products,
			writer:    products,
			stages:    postgres.NewStageRepository(db),
			snapshots: postgres.NewSnapshotRepository(db),
			runs:      postgres.NewRunRepository(db),
		}, nil
	}
}

func newInferenceClient(cfg config.Config, executor *resilience.Executor) (ports.InferenceClient, error) {
	switch cfg.InferenceProvider {
	case "openai":
		client, err := openai.New(openai.Config{
			APIKey:   cfg.OpenAIAPIKey,
			BaseURL:  cfg.OpenAIBaseURL,
			Model:    cfg.OpenAIModel,
			Timeout:  cfg.InferenceTimeout,
			Executor: executor,
		})
		if err != nil {
			return nil, fmt.Errorf("init openai client: %w", err)
		}
		return client, nil
	default:
		return ollama.New(cfg.OllamaURL, cfg.OllamaModel, ollama.Options{
			Timeout:  cfg.InferenceTimeout,
			Executor: executor,
		}), nil
	}
}
