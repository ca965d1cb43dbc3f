package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/kirillkom/product-truth-audit/internal/core/domain"
)

type SnapshotRepository struct {
	db  *sql.DB
	now func() time.Time
}

func NewSnapshotRepository(db *sql.DB) *SnapshotRepository {
	return &SnapshotRepository{db: db, now: time.Now}
}

func (r *SnapshotRepository) Get(ctx context.Context, productID string) (*domain.CanonicalSnapshot, error) {
	var (
		snapshot  domain.CanonicalSnapshot
		stages    string
		updatedAt int64
	)
	err := r.db.QueryRowContext(ctx, `
SELECT product_id, stages, verified, quality_score, updated_at
FROM canonical_snapshots
WHERE product_id = ?
`, productID).Scan(&snapshot.ProductID, &stages, &snapshot.Verified, &snapshot.QualityScore, &updatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("scan snapshot: %w", err)
	}
	snapshot.UpdatedAt = fromUnix(updatedAt)
	snapshot.Stages = make(map[string]domain.SnapshotStage)
	if stages != "" {
		if err := json.Unmarshal([]byte(stages), &snapshot.Stages); err != nil {
			return nil, fmt.Errorf("unmarshal snapshot stages: %w", err)
		}
	}
	return &snapshot, nil
}

// MergeStage uses json_set on a single top-level key, so other stage
// entries are left exactly as stored.
func (r *SnapshotRepository) MergeStage(
	ctx context.Context,
	productID string,
	stage domain.StageID,
	entry domain.SnapshotStage,
	patch domain.SnapshotPatch,
) error {
	entryJSON, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("marshal snapshot entry: %w", err)
	}

	_, err = r.db.ExecContext(ctx, `
INSERT INTO canonical_snapshots (product_id, stages, verified, quality_score, updated_at)
VALUES (?1, json_object(?2, json(?3)), COALESCE(?4, 0), COALESCE(?5, 0), ?6)
ON CONFLICT(product_id) DO UPDATE SET
	stages = json_set(canonical_snapshots.stages, '$."' || ?2 || '"', json(?3)),
	verified = COALESCE(?4, canonical_snapshots.verified),
	quality_score = COALESCE(?5, canonical_snapshots.quality_score),
	updated_at = excluded.updated_at
`, productID, stage.Key(), string(entryJSON), patch.Verified, patch.QualityScore, toUnix(r.now()))
	if err != nil {
		return fmt.Errorf("merge snapshot stage: %w", err)
	}
	return nil
}

func (r *SnapshotRepository) ListStale(ctx context.Context, olderThan time.Time, limit int) ([]string, error) {
	rows, err := r.db.QueryContext(ctx, `
SELECT product_id
FROM canonical_snapshots
WHERE updated_at < ?
ORDER BY updated_at ASC
LIMIT ?
`, toUnix(olderThan), limit)
	if err != nil {
		return nil, fmt.Errorf("list stale snapshots: %w", err)
	}
	defer rows.Close()

	out := make([]string, 0)
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan stale snapshot: %w", err)
		}
		out = append(out, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate stale snapshots: %w", err)
	}
	return out, nil
}
