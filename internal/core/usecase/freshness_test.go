package usecase

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/kirillkom/product-truth-audit/internal/core/domain"
)

func freshnessFixture(t *testing.T, age time.Duration, stages ...domain.StageID) (*FreshnessService, *productRepoFake, *stageRepoFake) {
	t.Helper()
	now := time.Date(2026, 6, 15, 12, 0, 0, 0, time.UTC)
	products := newProductRepoFake(domain.Product{ID: "p1", Slug: "kettle"})
	snapshots := newSnapshotRepoFake()
	records := newStageRepoFake()
	for _, stage := range stages {
		records.seed("p1", stage, domain.StageStatusDone, `{"stage":`+stage.Key()+`}`)
		entry := domain.SnapshotStage{Output: json.RawMessage(`{"stage":` + stage.Key() + `}`), CompletedAt: now.Add(-age)}
		if err := snapshots.MergeStage(context.Background(), "p1", stage, entry, domain.SnapshotPatch{}); err != nil {
			t.Fatalf("seed snapshot: %v", err)
		}
	}
	uc := NewFreshnessService(products, snapshots, records, 30, nil)
	uc.now = func() time.Time { return now }
	return uc, products, records
}

func TestFreshnessThirtyDaysIsFresh(t *testing.T) {
	uc, products, _ := freshnessFixture(t, 30*24*time.Hour, domain.StageClaims, domain.StageAssessment)

	report, err := uc.Check(context.Background(), "kettle")
	if err != nil {
		t.Fatalf("check: %v", err)
	}
	if report.NeedsRefresh {
		t.Fatalf("30 days old must not need refresh")
	}
	if report.FreshnessDays == nil || *report.FreshnessDays != 30 {
		t.Fatalf("expected 30 freshness days, got %v", report.FreshnessDays)
	}
	if report.Status != domain.FreshnessVerified {
		t.Fatalf("expected verified, got %s", report.Status)
	}
	if products.isStale("p1") {
		t.Fatalf("fresh product must not be flagged")
	}
}

func TestFreshnessThirtyOneDaysFlagsProduct(t *testing.T) {
	uc, products, _ := freshnessFixture(t, 31*24*time.Hour, domain.StageClaims, domain.StageEvidence)

	report, err := uc.Check(context.Background(), "kettle")
	if err != nil {
		t.Fatalf("check: %v", err)
	}
	if !report.NeedsRefresh {
		t.Fatalf("31 days old must need refresh")
	}
	if report.Status != domain.FreshnessPartial {
		t.Fatalf("expected partial, got %s", report.Status)
	}
	if !products.isStale("p1") {
		t.Fatalf("stale product must be flagged for the next sweep")
	}
}

func TestFreshnessBlockedAssessmentIsPartial(t *testing.T) {
	uc, _, records := freshnessFixture(t, time.Hour, domain.StageClaims, domain.StageEvidence, domain.StageVerify, domain.StageAssessment)
	records.seed("p1", domain.StageAssessment, domain.StageStatusBlocked, `{"stage":4}`)

	report, err := uc.Check(context.Background(), "kettle")
	if err != nil {
		t.Fatalf("check: %v", err)
	}
	if report.Status != domain.FreshnessPartial {
		t.Fatalf("blocked stage 4 must not report verified, got %s", report.Status)
	}
}

func TestFreshnessWithoutSnapshot(t *testing.T) {
	uc, products, _ := freshnessFixture(t, 0)

	report, err := uc.Check(context.Background(), "kettle")
	if err != nil {
		t.Fatalf("check: %v", err)
	}
	if report.Status != domain.FreshnessNoAudit || report.NeedsRefresh || report.Checksum != "" {
		t.Fatalf("unexpected report: %+v", report)
	}
	if report.LastVerifiedAt != nil || report.FreshnessDays != nil {
		t.Fatalf("expected nil timestamps, got %+v", report)
	}
	if products.isStale("p1") {
		t.Fatalf("missing audit must not flag the product")
	}
}

func TestFreshnessChecksumIsStable(t *testing.T) {
	uc, _, _ := freshnessFixture(t, time.Hour, domain.StageClaims)

	first, err := uc.Check(context.Background(), "kettle")
	if err != nil {
		t.Fatalf("check: %v", err)
	}
	second, err := uc.Check(context.Background(), "kettle")
	if err != nil {
		t.Fatalf("check: %v", err)
	}
	if first.Checksum == "" || first.Checksum != second.Checksum {
		t.Fatalf("checksum not stable: %q vs %q", first.Checksum, second.Checksum)
	}
	if len(first.Checksum) != 64 {
		t.Fatalf("expected sha256 hex, got %q", first.Checksum)
	}
}

func TestFreshnessUnknownSlug(t *testing.T) {
	uc, _, _ := freshnessFixture(t, 0)

	_, err := uc.Check(context.Background(), "nope")
	if !domain.IsKind(err, domain.ErrProductNotFound) {
		t.Fatalf("expected ErrProductNotFound, got %v", err)
	}
}

func TestEvidenceExportReadsSnapshot(t *testing.T) {
	products := newProductRepoFake(domain.Product{ID: "p1", Slug: "kettle"})
	snapshots := newSnapshotRepoFake()
	output := `{"sources":[{"url":"https://a","status":"fetched","fragments":2}],"corroboration":{"claims":[{"key":"k","count":2,"sources":["https://a"],"samples":["K"]}],"source_count":1,"claim_count":1}}`
	_ = snapshots.MergeStage(context.Background(), "p1", domain.StageEvidence, domain.SnapshotStage{Output: json.RawMessage(output)}, domain.SnapshotPatch{})

	product, evidence, err := NewEvidenceExport(products, snapshots).EvidenceBySlug(context.Background(), "kettle")
	if err != nil {
		t.Fatalf("export: %v", err)
	}
	if product.ID != "p1" || len(evidence.Sources) != 1 || evidence.Corroboration.ClaimCount != 1 {
		t.Fatalf("unexpected export: %+v %+v", product, evidence)
	}
}
