// Package postgres is the journal backend for deployments where
// several workers share one journal database.
package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"kustoingest/internal/journal"
)

type Repo struct {
	pool *pgxpool.Pool
}

func init() {
	journal.Register("postgres", New)
}

func New(ctx context.Context, cfg journal.Config) (journal.Repository, error) {
	pool, err := pgxpool.New(ctx, cfg.DSN)
	if err != nil {
		return nil, err
	}
	return &Repo{pool: pool}, nil
}

func (r *Repo) Close() { r.pool.Close() }

func (r *Repo) EnsureSchema(ctx context.Context) error {
	const ddl = `CREATE TABLE IF NOT EXISTS ingest_files (
	id BIGSERIAL PRIMARY KEY,
	run_id TEXT NOT NULL,
	file TEXT NOT NULL,
	table_name TEXT NOT NULL,
	database_name TEXT NOT NULL,
	state TEXT NOT NULL,
	chunks_total INTEGER NOT NULL,
	chunks_failed INTEGER NOT NULL,
	error TEXT NOT NULL DEFAULT '',
	finished_at TIMESTAMPTZ NOT NULL
)`
	if _, err := r.pool.Exec(ctx, ddl); err != nil {
		return fmt.Errorf("create journal table: %w", err)
	}
	return nil
}

func (r *Repo) RecordFile(ctx context.Context, rep journal.FileReport) error {
	const q = `INSERT INTO ingest_files
	(run_id, file, table_name, database_name, state, chunks_total, chunks_failed, error, finished_at)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`
	_, err := r.pool.Exec(ctx, q,
		rep.RunID, rep.File, rep.Table, rep.Database, rep.State,
		rep.ChunksTotal, rep.ChunksFailed, rep.Error, rep.FinishedAt.UTC())
	if err != nil {
		return fmt.Errorf("record file report: %w", err)
	}
	return nil
}
