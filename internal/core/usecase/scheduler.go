package usecase

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/kirillkom/product-truth-audit/internal/core/domain"
	"github.com/kirillkom/product-truth-audit/internal/core/ports"
)

const (
	DefaultSweepBatchSize = 10
	DefaultStaleDays      = 30
)

// refreshChain skips stage 1: specifications only change through product
// imports, which re-run it explicitly.
var refreshChain = []domain.StageID{domain.StageEvidence, domain.StageVerify, domain.StageAssessment}

// RefreshScheduler re-audits stale products in bounded, strictly sequential batches.
type RefreshScheduler struct {
	products  ports.ProductRepository
	snapshots ports.SnapshotRepository
	runner    ports.StageRunner
	logger    *slog.Logger
	now       func() time.Time
}

func NewRefreshScheduler(
	products ports.ProductRepository,
	snapshots ports.SnapshotRepository,
	runner ports.StageRunner,
	logger *slog.Logger,
) *RefreshScheduler {
	if logger == nil {
		logger = slog.Default()
	}
	return &RefreshScheduler{
		products:  products,
		snapshots: snapshots,
		runner:    runner,
		logger:    logger,
		now:       time.Now,
	}
}

func (s *RefreshScheduler) Sweep(ctx context.Context, batchSize, staleDays int) (*domain.SweepReport, error) {
	if batchSize <= 0 {
		batchSize = DefaultSweepBatchSize
	}
	if staleDays <= 0 {
		staleDays = DefaultStaleDays
	}

	candidates, err := s.candidates(ctx, batchSize, staleDays)
	if err != nil {
		return nil, err
	}

	report := &domain.SweepReport{Results: make([]domain.SweepItem, 0, len(candidates))}
	for _, productID := range candidates {
		if err := ctx.Err(); err != nil {
			s.logger.Warn("sweep_budget_exhausted", "processed", report.Processed, "remaining", len(candidates)-report.Processed)
			break
		}

		result := s.refresh(ctx, productID)
		report.Processed++
		report.Results = append(report.Results, domain.SweepItem{ProductID: productID, Result: result})
		s.logger.Info("sweep_candidate", "product_id", productID, "result", result)
	}
	return report, nil
}

// candidates merges snapshot staleness with explicit stale flags, deduplicated
// by product id and capped at batchSize.
func (s *RefreshScheduler) candidates(ctx context.Context, batchSize, staleDays int) ([]string, error) {
	cutoff := staleCutoff(s.now(), staleDays)
	staleSnapshots, err := s.snapshots.ListStale(ctx, cutoff, batchSize)
	if err != nil {
		return nil, fmt.Errorf("list stale snapshots: %w", err)
	}

	ids := make([]string, 0, batchSize)
	seen := make(map[string]struct{}, batchSize)
	add := func(id string) {
		if _, ok := seen[id]; ok || len(ids) >= batchSize {
			return
		}
		seen[id] = struct{}{}
		ids = append(ids, id)
	}
	for _, id := range staleSnapshots {
		add(id)
	}
	if len(ids) >= batchSize {
		return ids, nil
	}

	flagged, err := s.products.ListFlaggedStale(ctx, batchSize)
	if err != nil {
		return nil, fmt.Errorf("list flagged products: %w", err)
	}
	for _, id := range flagged {
		add(id)
	}
	return ids, nil
}

// staleCutoff counts whole days like FreshnessService: a snapshot is stale
// once it is more than staleDays full days old.
func staleCutoff(now time.Time, staleDays int) time.Time {
	return now.UTC().Add(-time.Duration(staleDays+1) * 24 * time.Hour)
}

// refresh drives one product through the chain. Any failure, including a store
// or decode error, ends only this product's chain.
func (s *RefreshScheduler) refresh(ctx context.Context, productID string) string {
	for _, stage := range refreshChain {
		result, err := s.runner.RunStage(ctx, productID, stage, true)
		if err != nil {
			s.logger.Error("sweep_stage_error", "product_id", productID, "stage", int(stage), "error", err)
			return fmt.Sprintf("s%d_failed: %v", stage, err)
		}
		if !result.OK() {
			reason := "stage did not complete"
			if result.Error != nil {
				reason = result.Error.Message
			}
			return fmt.Sprintf("s%d_failed: %s", stage, reason)
		}
	}

	// A flag left set only means the product is swept again.
	if err := s.products.SetStale(ctx, productID, false); err != nil && !domain.IsKind(err, domain.ErrProductNotFound) {
		s.logger.Warn("sweep_clear_stale_failed", "product_id", productID, "error", err)
	}
	return "ok"
}
