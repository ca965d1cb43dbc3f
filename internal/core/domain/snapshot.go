package domain

import (
	"encoding/json"
	"time"
)

// SnapshotStage is the last-known-good output of one stage.
type SnapshotStage struct {
	Output      json.RawMessage `json:"output"`
	CompletedAt time.Time       `json:"completed_at"`
}

// CanonicalSnapshot merges every stage's last successful output for a product.
// Keys of Stages are StageID.Key() values.
type CanonicalSnapshot struct {
	ProductID    string                   `json:"product_id"`
	Stages       map[string]SnapshotStage `json:"stages"`
	Verified     bool                     `json:"verified"`
	QualityScore float64                  `json:"quality_score"`
	UpdatedAt    time.Time                `json:"updated_at"`
}

func (s *CanonicalSnapshot) HasStage(stage StageID) bool {
	if s == nil {
		return false
	}
	_, ok := s.Stages[stage.Key()]
	return ok
}

// SnapshotPatch carries the optional scalar updates applied with a stage merge.
type SnapshotPatch struct {
	Verified     *bool
	QualityScore *float64
}

type FreshnessStatus string

const (
	FreshnessVerified FreshnessStatus = "verified"
	FreshnessPartial  FreshnessStatus = "partial"
	FreshnessNoAudit  FreshnessStatus = "no_audit"
)

type FreshnessReport struct {
	Slug           string          `json:"slug"`
	Checksum       string          `json:"checksum"`
	LastVerifiedAt *time.Time      `json:"lastVerifiedAt"`
	FreshnessDays  *int            `json:"freshnessDays"`
	NeedsRefresh   bool            `json:"needsRefresh"`
	Status         FreshnessStatus `json:"status"`
}
