package ports

import (
	"context"
	"encoding/json"
	"time"

	"github.com/kirillkom/product-truth-audit/internal/core/domain"
)

// ProductRepository reads audited products. The pipeline only writes the stale flag.
type ProductRepository interface {
	GetByID(ctx context.Context, id string) (*domain.Product, error)
	GetBySlug(ctx context.Context, slug string) (*domain.Product, error)
	// ListFlaggedStale returns ids only, so one malformed row cannot hide the others.
	ListFlaggedStale(ctx context.Context, limit int) ([]string, error)
	SetStale(ctx context.Context, id string, stale bool) error
}

// ProductWriter is used by operator tooling to seed products.
type ProductWriter interface {
	Upsert(ctx context.Context, product *domain.Product) error
}

// StageRepository persists per-(product, stage) state.
type StageRepository interface {
	ListByProduct(ctx context.Context, productID string) ([]domain.StageRecord, error)
	MarkRunning(ctx context.Context, productID string, stage domain.StageID) error
	MarkDone(ctx context.Context, productID string, stage domain.StageID, output json.RawMessage) error
	MarkError(ctx context.Context, productID string, stage domain.StageID, stageErr domain.StageError) error
	// MarkBlocked sets status=blocked without touching a previously stored output.
	MarkBlocked(ctx context.Context, productID string, stage domain.StageID, stageErr domain.StageError) error
}

// SnapshotRepository stores the merged per-product view.
type SnapshotRepository interface {
	// Get returns (nil, nil) when no snapshot exists yet.
	Get(ctx context.Context, productID string) (*domain.CanonicalSnapshot, error)
	// MergeStage atomically replaces one stage entry and keeps all others.
	MergeStage(ctx context.Context, productID string, stage domain.StageID, entry domain.SnapshotStage, patch domain.SnapshotPatch) error
	ListStale(ctx context.Context, olderThan time.Time, limit int) ([]string, error)
}

// RunRepository stores queued audit runs and implements the atomic claim.
type RunRepository interface {
	Create(ctx context.Context, run *domain.AuditRun) error
	GetByID(ctx context.Context, id string) (*domain.AuditRun, error)
	// ClaimNext atomically moves one queued (or lease-expired) run to running
	// and returns it, or domain.ErrClaimEmpty.
	ClaimNext(ctx context.Context, token string, now time.Time, leaseExpiredBefore time.Time) (*domain.AuditRun, error)
	// Release persists the run state if the caller still holds the claim,
	// otherwise it returns domain.ErrClaimLost.
	Release(ctx context.Context, run *domain.AuditRun) error
}

// InferenceClient is the black-box text generation service.
type InferenceClient interface {
	Generate(ctx context.Context, prompt string) (string, error)
}

// SourceFetcher returns capped, markup-only page content.
type SourceFetcher interface {
	Fetch(ctx context.Context, url string) (*domain.FetchedPage, error)
}

// FragmentExtractor turns a fetched page into claim fragments mentioning any of the terms.
type FragmentExtractor interface {
	Extract(page *domain.FetchedPage, terms []string) ([]domain.ClaimFragment, error)
}

// OutputValidator checks raw stage output against the stage schema.
type OutputValidator interface {
	Validate(stage domain.StageID, output json.RawMessage) error
}

// RunNotifier wakes pooled workers when claimable work exists.
type RunNotifier interface {
	NotifyRunQueued(ctx context.Context, runID string) error
}

// StageObserver receives stage execution telemetry.
type StageObserver interface {
	ObserveStage(stage domain.StageID, outcome string, cached bool, duration time.Duration)
}
