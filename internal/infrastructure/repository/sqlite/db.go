package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"net/url"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

// Open returns a single-connection pool. Every statement is serialized
// through that connection, and WAL plus busy_timeout cover other processes
// sharing the file.
func Open(path string) (*sql.DB, error) {
	db, err := sql.Open("sqlite", dsn(path))
	if err != nil {
		return nil, fmt.Errorf("sql open: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("db ping: %w", err)
	}
	return db, nil
}

func dsn(path string) string {
	path = strings.TrimSpace(path)
	if path == "" || path == ":memory:" {
		return "file::memory:?_pragma=foreign_keys(1)"
	}
	params := url.Values{}
	params.Add("_pragma", "busy_timeout(5000)")
	params.Add("_pragma", "journal_mode(WAL)")
	params.Add("_pragma", "foreign_keys(1)")
	return "file:" + path + "?" + params.Encode()
}

func EnsureSchema(ctx context.Context, db *sql.DB) error {
	if _, err := db.ExecContext(ctx, schemaDDL); err != nil {
		return fmt.Errorf("execute schema ddl: %w", err)
	}
	return nil
}

const schemaDDL = `
CREATE TABLE IF NOT EXISTS products (
	id TEXT PRIMARY KEY,
	slug TEXT NOT NULL UNIQUE,
	name TEXT NOT NULL DEFAULT '',
	category TEXT NOT NULL DEFAULT '',
	specs TEXT NOT NULL DEFAULT '[]',
	stale INTEGER NOT NULL DEFAULT 0,
	created_at INTEGER NOT NULL,
	updated_at INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS stage_records (
	product_id TEXT NOT NULL REFERENCES products(id) ON DELETE CASCADE,
	stage INTEGER NOT NULL CHECK (stage BETWEEN 1 AND 4),
	status TEXT NOT NULL,
	output TEXT,
	error_code TEXT,
	error_message TEXT,
	updated_at INTEGER NOT NULL,
	PRIMARY KEY (product_id, stage)
);

CREATE TABLE IF NOT EXISTS canonical_snapshots (
	product_id TEXT PRIMARY KEY REFERENCES products(id) ON DELETE CASCADE,
	stages TEXT NOT NULL DEFAULT '{}',
	verified INTEGER NOT NULL DEFAULT 0,
	quality_score REAL NOT NULL DEFAULT 0,
	updated_at INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_snapshots_updated_at ON canonical_snapshots(updated_at);

CREATE TABLE IF NOT EXISTS audit_runs (
	id TEXT PRIMARY KEY,
	product_id TEXT NOT NULL REFERENCES products(id) ON DELETE CASCADE,
	status TEXT NOT NULL,
	stage_cursor INTEGER NOT NULL,
	stages TEXT NOT NULL DEFAULT '{}',
	force_redo INTEGER NOT NULL DEFAULT 0,
	error_message TEXT NOT NULL DEFAULT '',
	claim_token TEXT,
	claimed_at INTEGER,
	finished_at INTEGER,
	created_at INTEGER NOT NULL,
	updated_at INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_audit_runs_claimable ON audit_runs(status, updated_at);
`

// Timestamps are stored as unix nanoseconds so ordering and range filters
// stay numeric.
func toUnix(t time.Time) int64 {
	return t.UTC().UnixNano()
}

func fromUnix(n int64) time.Time {
	return time.Unix(0, n).UTC()
}

func nullableUnix(t *time.Time) any {
	if t == nil {
		return nil
	}
	return toUnix(*t)
}

func timeFromNull(n sql.NullInt64) *time.Time {
	if !n.Valid {
		return nil
	}
	t := fromUnix(n.Int64)
	return &t
}

type rowScanner interface {
	Scan(dest ...any) error
}
