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

type RunRepository struct {
	db *sql.DB
}

func NewRunRepository(db *sql.DB) *RunRepository {
	return &RunRepository{db: db}
}

const runColumns = `id, product_id, status, stage_cursor, stages, force_redo, error_message, claim_token, claimed_at, finished_at, created_at, updated_at`

func (r *RunRepository) Create(ctx context.Context, run *domain.AuditRun) error {
	stagesJSON, err := json.Marshal(run.Stages)
	if err != nil {
		return fmt.Errorf("marshal run stages: %w", err)
	}
	_, err = r.db.ExecContext(ctx, `
INSERT INTO audit_runs (id, product_id, status, stage_cursor, stages, force_redo, error_message, created_at, updated_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
`, run.ID, run.ProductID, string(run.Status), int(run.Cursor), string(stagesJSON), run.ForceRedo, run.Error,
		toUnix(run.CreatedAt), toUnix(run.UpdatedAt))
	if err != nil {
		return fmt.Errorf("insert audit run: %w", err)
	}
	return nil
}

func (r *RunRepository) GetByID(ctx context.Context, id string) (*domain.AuditRun, error) {
	run, err := scanRun(r.db.QueryRowContext(ctx, `SELECT `+runColumns+` FROM audit_runs WHERE id = ?`, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.WrapError(domain.ErrRunNotFound, "get audit run", fmt.Errorf("id=%s", id))
		}
		return nil, err
	}
	return run, nil
}

// ClaimNext is one UPDATE ... RETURNING statement. SQLite takes the write
// lock for the whole statement, so two claimers never receive the same row.
func (r *RunRepository) ClaimNext(ctx context.Context, token string, now time.Time, leaseExpiredBefore time.Time) (*domain.AuditRun, error) {
	row := r.db.QueryRowContext(ctx, `
UPDATE audit_runs
SET status = 'running', claim_token = ?1, claimed_at = ?2
WHERE id = (
	SELECT id
	FROM audit_runs
	WHERE status = 'queued'
		OR (status = 'running' AND claimed_at < ?3)
	ORDER BY updated_at ASC, id ASC
	LIMIT 1
)
RETURNING `+runColumns, token, toUnix(now), toUnix(leaseExpiredBefore))

	run, err := scanRun(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrClaimEmpty
		}
		return nil, fmt.Errorf("claim audit run: %w", err)
	}
	return run, nil
}

func (r *RunRepository) Release(ctx context.Context, run *domain.AuditRun) error {
	stagesJSON, err := json.Marshal(run.Stages)
	if err != nil {
		return fmt.Errorf("marshal run stages: %w", err)
	}
	res, err := r.db.ExecContext(ctx, `
UPDATE audit_runs
SET status = ?3,
	stage_cursor = ?4,
	stages = ?5,
	error_message = ?6,
	finished_at = ?7,
	updated_at = ?8,
	claim_token = NULL,
	claimed_at = NULL
WHERE id = ?1 AND claim_token = ?2
`, run.ID, run.ClaimToken, string(run.Status), int(run.Cursor), string(stagesJSON), run.Error,
		nullableUnix(run.FinishedAt), toUnix(run.UpdatedAt))
	if err != nil {
		return fmt.Errorf("release audit run: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("release audit run rows affected: %w", err)
	}
	if affected == 0 {
		return domain.WrapError(domain.ErrClaimLost, "release audit run", fmt.Errorf("id=%s", run.ID))
	}
	return nil
}

func scanRun(row rowScanner) (*domain.AuditRun, error) {
	var (
		run        domain.AuditRun
		status     string
		cursor     int
		stagesRaw  string
		claimToken sql.NullString
		claimedAt  sql.NullInt64
		finishedAt sql.NullInt64
		createdAt  int64
		updatedAt  int64
	)
	err := row.Scan(
		&run.ID, &run.ProductID, &status, &cursor, &stagesRaw, &run.ForceRedo, &run.Error,
		&claimToken, &claimedAt, &finishedAt, &createdAt, &updatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("scan audit run: %w", err)
	}

	run.Status = domain.RunStatus(status)
	run.Cursor = domain.StageID(cursor)
	run.ClaimToken = claimToken.String
	run.ClaimedAt = timeFromNull(claimedAt)
	run.FinishedAt = timeFromNull(finishedAt)
	run.CreatedAt = fromUnix(createdAt)
	run.UpdatedAt = fromUnix(updatedAt)
	if stagesRaw != "" {
		if err := json.Unmarshal([]byte(stagesRaw), &run.Stages); err != nil {
			return nil, fmt.Errorf("unmarshal run stages: %w", err)
		}
	}
	return &run, nil
}
