package ports

import (
	"context"

	"github.com/kirillkom/product-truth-audit/internal/core/domain"
)

// StageRunner is the single contract every entry point uses to execute a stage.
type StageRunner interface {
	RunStage(ctx context.Context, productID string, stage domain.StageID, forceRedo bool) (*domain.StageResult, error)
}

// RefreshSweeper drives stale products through the stage chain.
type RefreshSweeper interface {
	Sweep(ctx context.Context, batchSize, staleDays int) (*domain.SweepReport, error)
}

// FreshnessChecker is the read-only status path.
type FreshnessChecker interface {
	Check(ctx context.Context, slug string) (*domain.FreshnessReport, error)
}

// RunScheduler enqueues and reads background audit runs.
type RunScheduler interface {
	Enqueue(ctx context.Context, productID string, forceRedo bool) (*domain.AuditRun, error)
	GetRun(ctx context.Context, id string) (*domain.AuditRun, error)
}

// RunStepper performs exactly one claimed stage transition per call.
type RunStepper interface {
	Step(ctx context.Context) (*domain.StepOutcome, error)
}

// EvidenceReader exposes snapshot data for exports.
type EvidenceReader interface {
	EvidenceBySlug(ctx context.Context, slug string) (*domain.Product, *domain.EvidenceOutput, error)
}
