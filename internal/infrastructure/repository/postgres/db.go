package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
)

const schemaLockID int64 = 2026101901

func OpenDB(dsn string) (*sql.DB, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("sql open: %w", err)
	}
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(10)
	db.SetConnMaxLifetime(30 * time.Minute)

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("db ping: %w", err)
	}
	return db, nil
}

func EnsureSchema(ctx context.Context, db *sql.DB) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin schema tx: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	// Serialize bootstrap DDL across api/worker startups.
	if _, err := tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock($1)`, schemaLockID); err != nil {
		return fmt.Errorf("acquire schema lock: %w", err)
	}

	if _, err := tx.ExecContext(ctx, schemaDDL); err != nil {
		return fmt.Errorf("execute schema ddl: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit schema tx: %w", err)
	}
	return nil
}

const schemaDDL = `
CREATE TABLE IF NOT EXISTS products (
	id TEXT PRIMARY KEY,
	slug TEXT NOT NULL UNIQUE,
	name TEXT NOT NULL DEFAULT '',
	category TEXT NOT NULL DEFAULT '',
	specs JSONB NOT NULL DEFAULT '[]'::jsonb,
	stale BOOLEAN NOT NULL DEFAULT FALSE,
	created_at TIMESTAMPTZ NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_products_stale ON products(updated_at) WHERE stale;

CREATE TABLE IF NOT EXISTS stage_records (
	product_id TEXT NOT NULL REFERENCES products(id) ON DELETE CASCADE,
	stage SMALLINT NOT NULL CHECK (stage BETWEEN 1 AND 4),
	status TEXT NOT NULL,
	output JSONB,
	error_code TEXT,
	error_message TEXT,
	updated_at TIMESTAMPTZ NOT NULL,
	PRIMARY KEY (product_id, stage)
);

CREATE TABLE IF NOT EXISTS canonical_snapshots (
	product_id TEXT PRIMARY KEY REFERENCES products(id) ON DELETE CASCADE,
	stages JSONB NOT NULL DEFAULT '{}'::jsonb,
	verified BOOLEAN NOT NULL DEFAULT FALSE,
	quality_score DOUBLE PRECISION NOT NULL DEFAULT 0,
	updated_at TIMESTAMPTZ NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_snapshots_updated_at ON canonical_snapshots(updated_at);

CREATE TABLE IF NOT EXISTS audit_runs (
	id TEXT PRIMARY KEY,
	product_id TEXT NOT NULL REFERENCES products(id) ON DELETE CASCADE,
	status TEXT NOT NULL,
	stage_cursor SMALLINT NOT NULL,
	stages JSONB NOT NULL DEFAULT '{}'::jsonb,
	force_redo BOOLEAN NOT NULL DEFAULT FALSE,
	error_message TEXT NOT NULL DEFAULT '',
	claim_token TEXT,
	claimed_at TIMESTAMPTZ,
	finished_at TIMESTAMPTZ,
	created_at TIMESTAMPTZ NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_audit_runs_claimable ON audit_runs(status, updated_at);
`
