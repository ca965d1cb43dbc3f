package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/kirillkom/product-truth-audit/internal/core/domain"
)

type StageRepository struct {
	db  *sql.DB
	now func() time.Time
}

func NewStageRepository(db *sql.DB) *StageRepository {
	return &StageRepository{db: db, now: time.Now}
}

func (r *StageRepository) ListByProduct(ctx context.Context, productID string) ([]domain.StageRecord, error) {
	rows, err := r.db.QueryContext(ctx, `
SELECT product_id, stage, status, output, error_code, error_message, updated_at
FROM stage_records
WHERE product_id = $1
ORDER BY stage ASC
`, productID)
	if err != nil {
		return nil, fmt.Errorf("list stage records: %w", err)
	}
	defer rows.Close()

	out := make([]domain.StageRecord, 0, len(domain.AllStages))
	for rows.Next() {
		var (
			record  domain.StageRecord
			stage   int
			status  string
			output  []byte
			errCode sql.NullString
			errMsg  sql.NullString
		)
		if err := rows.Scan(&record.ProductID, &stage, &status, &output, &errCode, &errMsg, &record.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan stage record: %w", err)
		}
		record.Stage = domain.StageID(stage)
		record.Status = domain.StageStatus(status)
		if len(output) > 0 {
			record.Output = json.RawMessage(output)
		}
		if errCode.Valid && errCode.String != "" {
			record.Error = &domain.StageError{Code: domain.StageErrorCode(errCode.String), Message: errMsg.String}
		}
		out = append(out, record)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate stage records: %w", err)
	}
	return out, nil
}

func (r *StageRepository) MarkRunning(ctx context.Context, productID string, stage domain.StageID) error {
	_, err := r.db.ExecContext(ctx, `
INSERT INTO stage_records (product_id, stage, status, updated_at)
VALUES ($1, $2, 'running', $3)
ON CONFLICT (product_id, stage) DO UPDATE SET
	status = 'running',
	error_code = NULL,
	error_message = NULL,
	updated_at = EXCLUDED.updated_at
`, productID, int(stage), r.now().UTC())
	if err != nil {
		return fmt.Errorf("mark stage running: %w", err)
	}
	return nil
}

func (r *StageRepository) MarkDone(ctx context.Context, productID string, stage domain.StageID, output json.RawMessage) error {
	_, err := r.db.ExecContext(ctx, `
INSERT INTO stage_records (product_id, stage, status, output, updated_at)
VALUES ($1, $2, 'done', $3::jsonb, $4)
ON CONFLICT (product_id, stage) DO UPDATE SET
	status = 'done',
	output = EXCLUDED.output,
	error_code = NULL,
	error_message = NULL,
	updated_at = EXCLUDED.updated_at
`, productID, int(stage), string(output), r.now().UTC())
	if err != nil {
		return fmt.Errorf("mark stage done: %w", err)
	}
	return nil
}

func (r *StageRepository) MarkError(ctx context.Context, productID string, stage domain.StageID, stageErr domain.StageError) error {
	return r.markFailed(ctx, productID, stage, domain.StageStatusError, stageErr)
}

func (r *StageRepository) MarkBlocked(ctx context.Context, productID string, stage domain.StageID, stageErr domain.StageError) error {
	return r.markFailed(ctx, productID, stage, domain.StageStatusBlocked, stageErr)
}

// markFailed never writes the output column: a blocked or failed stage keeps
// its last successful output.
func (r *StageRepository) markFailed(ctx context.Context, productID string, stage domain.StageID, status domain.StageStatus, stageErr domain.StageError) error {
	_, err := r.db.ExecContext(ctx, `
INSERT INTO stage_records (product_id, stage, status, error_code, error_message, updated_at)
VALUES ($1, $2, $3, $4, $5, $6)
ON CONFLICT (product_id, stage) DO UPDATE SET
	status = EXCLUDED.status,
	error_code = EXCLUDED.error_code,
	error_message = EXCLUDED.error_message,
	updated_at = EXCLUDED.updated_at
`, productID, int(stage), string(status), string(stageErr.Code), stageErr.Message, r.now().UTC())
	if err != nil {
		return fmt.Errorf("mark stage %s: %w", status, err)
	}
	return nil
}
