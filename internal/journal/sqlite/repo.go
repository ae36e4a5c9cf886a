// Package sqlite is the default journal backend. The journal lands in
// a single local file, which suits the one-process worker deployment.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"

	_ "modernc.org/sqlite"

	"kustoingest/internal/journal"
)

type Repo struct {
	db *sql.DB
}

func init() {
	journal.Register("sqlite", New)
}

func New(ctx context.Context, cfg journal.Config) (journal.Repository, error) {
	db, err := sql.Open("sqlite", cfg.DSN)
	if err != nil {
		return nil, err
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &Repo{db: db}, nil
}

func (r *Repo) Close() { _ = r.db.Close() }

// EnsureSchema is idempotent; timestamps are stored as RFC3339 strings
// since SQLite has no native timestamp type.
func (r *Repo) EnsureSchema(ctx context.Context) error {
	const ddl = `CREATE TABLE IF NOT EXISTS ingest_files (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	run_id TEXT NOT NULL,
	file TEXT NOT NULL,
	table_name TEXT NOT NULL,
	database_name TEXT NOT NULL,
	state TEXT NOT NULL,
	chunks_total INTEGER NOT NULL,
	chunks_failed INTEGER NOT NULL,
	error TEXT NOT NULL DEFAULT '',
	finished_at TEXT NOT NULL
)`
	if _, err := r.db.ExecContext(ctx, ddl); err != nil {
		return fmt.Errorf("create journal table: %w", err)
	}
	return nil
}

func (r *Repo) RecordFile(ctx context.Context, rep journal.FileReport) error {
	const q = `INSERT INTO ingest_files
	(run_id, file, table_name, database_name, state, chunks_total, chunks_failed, error, finished_at)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`
	_, err := r.db.ExecContext(ctx, q,
		rep.RunID, rep.File, rep.Table, rep.Database, rep.State,
		rep.ChunksTotal, rep.ChunksFailed, rep.Error,
		rep.FinishedAt.UTC().Format("2006-01-02T15:04:05.999999999Z07:00"))
	if err != nil {
		return fmt.Errorf("record file report: %w", err)
	}
	return nil
}
