package usecase

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/kirillkom/product-truth-audit/internal/core/domain"
	"github.com/kirillkom/product-truth-audit/internal/core/ports"
)

// FreshnessService answers the read-only freshness check. It never computes a
// stage; a stale product is only flagged for the next sweep.
type FreshnessService struct {
	products  ports.ProductRepository
	snapshots ports.SnapshotRepository
	stages    ports.StageRepository
	staleDays int
	logger    *slog.Logger
	now       func() time.Time
}

func NewFreshnessService(
	products ports.ProductRepository,
	snapshots ports.SnapshotRepository,
	stages ports.StageRepository,
	staleDays int,
	logger *slog.Logger,
) *FreshnessService {
	if staleDays <= 0 {
		staleDays = DefaultStaleDays
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &FreshnessService{
		products:  products,
		snapshots: snapshots,
		stages:    stages,
		staleDays: staleDays,
		logger:    logger,
		now:       time.Now,
	}
}

func (s *FreshnessService) Check(ctx context.Context, slug string) (*domain.FreshnessReport, error) {
	slug = strings.TrimSpace(slug)
	if slug == "" {
		return nil, domain.WrapError(domain.ErrInvalidInput, "freshness check", errors.New("slug is required"))
	}

	product, err := s.products.GetBySlug(ctx, slug)
	if err != nil {
		return nil, fmt.Errorf("load product: %w", err)
	}

	snapshot, err := s.snapshots.Get(ctx, product.ID)
	if err != nil {
		return nil, fmt.Errorf("load snapshot: %w", err)
	}

	report := &domain.FreshnessReport{Slug: product.Slug, Status: domain.FreshnessNoAudit}
	if snapshot == nil || len(snapshot.Stages) == 0 {
		return report, nil
	}

	checksum, err := snapshotChecksum(snapshot)
	if err != nil {
		return nil, err
	}
	lastVerified := snapshot.UpdatedAt.UTC()
	days := int(s.now().UTC().Sub(lastVerified) / (24 * time.Hour))
	if days < 0 {
		days = 0
	}

	report.Checksum = checksum
	report.LastVerifiedAt = &lastVerified
	report.FreshnessDays = &days
	report.NeedsRefresh = days > s.staleDays
	report.Status = domain.FreshnessPartial
	if snapshot.HasStage(domain.StageAssessment) {
		// The snapshot keeps stage 4's last good output even when the record
		// is blocked behind a newer invalid stage 3.
		done, err := s.stageDone(ctx, product.ID, domain.StageAssessment)
		if err != nil {
			return nil, err
		}
		if done {
			report.Status = domain.FreshnessVerified
		}
	}

	if report.NeedsRefresh && !product.Stale {
		if err := s.products.SetStale(ctx, product.ID, true); err != nil {
			s.logger.Warn("freshness_flag_failed", "product_id", product.ID, "error", err)
		}
	}
	return report, nil
}

func (s *FreshnessService) stageDone(ctx context.Context, productID string, stage domain.StageID) (bool, error) {
	records, err := s.stages.ListByProduct(ctx, productID)
	if err != nil {
		return false, fmt.Errorf("list stage records: %w", err)
	}
	for _, record := range records {
		if record.Stage == stage {
			return record.Status == domain.StageStatusDone, nil
		}
	}
	return false, nil
}

// snapshotChecksum hashes the stage map (encoding/json sorts map keys) and the
// snapshot timestamp.
func snapshotChecksum(snapshot *domain.CanonicalSnapshot) (string, error) {
	stages, err := json.Marshal(snapshot.Stages)
	if err != nil {
		return "", fmt.Errorf("encode snapshot stages: %w", err)
	}
	hash := sha256.New()
	hash.Write(stages)
	hash.Write([]byte(snapshot.UpdatedAt.UTC().Format(time.RFC3339Nano)))
	return hex.EncodeToString(hash.Sum(nil)), nil
}

// EvidenceExport reads the evidence stage from the snapshot for exports.
type EvidenceExport struct {
	products  ports.ProductRepository
	snapshots ports.SnapshotRepository
}

func NewEvidenceExport(products ports.ProductRepository, snapshots ports.SnapshotRepository) *EvidenceExport {
	return &EvidenceExport{products: products, snapshots: snapshots}
}

func (e *EvidenceExport) EvidenceBySlug(ctx context.Context, slug string) (*domain.Product, *domain.EvidenceOutput, error) {
	product, err := e.products.GetBySlug(ctx, strings.TrimSpace(slug))
	if err != nil {
		return nil, nil, fmt.Errorf("load product: %w", err)
	}
	snapshot, err := e.snapshots.Get(ctx, product.ID)
	if err != nil {
		return nil, nil, fmt.Errorf("load snapshot: %w", err)
	}

	evidence := &domain.EvidenceOutput{}
	entry, ok := snapshotEntry(snapshot, domain.StageEvidence)
	if !ok {
		return product, evidence, nil
	}
	if err := json.Unmarshal(entry.Output, evidence); err != nil {
		return nil, nil, fmt.Errorf("decode evidence snapshot: %w", err)
	}
	return product, evidence, nil
}

func snapshotEntry(snapshot *domain.CanonicalSnapshot, stage domain.StageID) (domain.SnapshotStage, bool) {
	if snapshot == nil {
		return domain.SnapshotStage{}, false
	}
	entry, ok := snapshot.Stages[stage.Key()]
	return entry, ok && len(entry.Output) > 0
}
