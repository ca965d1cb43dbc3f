package postgres

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
VALUES ($1, $2, $3, $4, $5::jsonb, $6, $7, $8, $9)
`, run.ID, run.ProductID, string(run.Status), int(run.Cursor), string(stagesJSON), run.ForceRedo, run.Error, run.CreatedAt, run.UpdatedAt)
	if err != nil {
		return fmt.Errorf("insert audit run: %w", err)
	}
	return nil
}

func (r *RunRepository) GetByID(ctx context.Context, id string) (*domain.AuditRun, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+runColumns+` FROM audit_runs WHERE id = $1`, id)
	run, err := scanRun(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.WrapError(domain.ErrRunNotFound, "get audit run", fmt.Errorf("id=%s", id))
		}
		return nil, err
	}
	return run, nil
}

// ClaimNext selects and claims in one statement; SKIP LOCKED lets concurrent
// claimers pass over a row another transaction is claiming.
func (r *RunRepository) ClaimNext(ctx context.Context, token string, now time.Time, leaseExpiredBefore time.Time) (*domain.AuditRun, error) {
	row := r.db.QueryRowContext(ctx, `
UPDATE audit_runs
SET status = 'running', claim_token = $1, claimed_at = $2
WHERE id = (
	SELECT id
	FROM audit_runs
	WHERE status = 'queued'
		OR (status = 'running' AND claimed_at < $3)
	ORDER BY updated_at ASC
	LIMIT 1
	FOR UPDATE SKIP LOCKED
)
RETURNING `+runColumns, token, now.UTC(), leaseExpiredBefore.UTC())

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
SET status = $3,
	stage_cursor = $4,
	stages = $5::jsonb,
	error_message = $6,
	finished_at = $7,
	updated_at = $8,
	claim_token = NULL,
	claimed_at = NULL
WHERE id = $1 AND claim_token = $2
`, run.ID, run.ClaimToken, string(run.Status), int(run.Cursor), string(stagesJSON), run.Error, run.FinishedAt, run.UpdatedAt)
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
		stagesRaw  []byte
		claimToken sql.NullString
		claimedAt  sql.NullTime
		finishedAt sql.NullTime
	)
	err := row.Scan(
		&run.ID, &run.ProductID, &status, &cursor, &stagesRaw, &run.ForceRedo, &run.Error,
		&claimToken, &claimedAt, &finishedAt, &run.CreatedAt, &run.UpdatedAt,
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
	if claimedAt.Valid {
		t := claimedAt.Time
		run.ClaimedAt = &t
	}
	if finishedAt.Valid {
		t := finishedAt.Time
		run.FinishedAt = &t
	}
	if len(stagesRaw) > 0 {
		if err := json.Unmarshal(stagesRaw, &run.Stages); err != nil {
			return nil, fmt.Errorf("unmarshal run stages: %w", err)
		}
	}
	return &run, nil
}
