// Package postgres provides Postgres-backed persistence implementations.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/JakeFAU/goodreads-search-crawler/internal/store"
)

// Schema creates the tables RunStore writes to.
const Schema = `
CREATE TABLE IF NOT EXISTS search_runs (
	id            uuid PRIMARY KEY,
	started_at    timestamptz NOT NULL,
	finished_at   timestamptz,
	status        text NOT NULL,
	total         bigint NOT NULL DEFAULT 0,
	completed     bigint NOT NULL DEFAULT 0,
	active        bigint NOT NULL DEFAULT 0,
	failed        bigint NOT NULL DEFAULT 0,
	rows_merged   bigint NOT NULL DEFAULT 0,
	output        text NOT NULL DEFAULT '',
	error_message text,
	updated_at    timestamptz NOT NULL DEFAULT now()
);
CREATE TABLE IF NOT EXISTS search_snapshots (
	run_id   uuid NOT NULL REFERENCES search_runs (id),
	percent  int NOT NULL,
	path     text NOT NULL,
	rows     bigint NOT NULL,
	taken_at timestamptz NOT NULL,
	PRIMARY KEY (run_id, percent)
);`

// RunStoreConfig controls the Postgres connection pool.
type RunStoreConfig struct {
	DSN             string
	MaxConns        int32
	MaxConnLifetime time.Duration
}

type querier interface {
	Exec(context.Context, string, ...any) (pgconn.CommandTag, error)
	Query(context.Context, string, ...any) (pgx.Rows, error)
	QueryRow(context.Context, string, ...any) pgx.Row
	Close()
}

// RunStore implements store.RunRepository on Postgres.
type RunStore struct {
	pool querier
}

// NewRunStore connects a pool using cfg.
func NewRunStore(ctx context.Context, cfg RunStoreConfig) (*RunStore, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("db.dsn is required")
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	return &RunStore{pool: pool}, nil
}

// NewRunStoreWithPool constructs a store from an existing pool (primarily for testing).
func NewRunStoreWithPool(pool querier) (*RunStore, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	return &RunStore{pool: pool}, nil
}

// Close closes the underlying connection pool.
func (s *RunStore) Close() {
	s.pool.Close()
}

// EnsureSchema creates the run tables if they are missing.
func (s *RunStore) EnsureSchema(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, Schema); err != nil {
		return fmt.Errorf("ensure schema: %w", err)
	}
	return nil
}

// UpsertRunStart inserts the run row, or resets it to running on a retry.
func (s *RunStore) UpsertRunStart(ctx context.Context, runID uuid.UUID, startedAt time.Time, total int64) error {
	query := `
		INSERT INTO search_runs (id, started_at, status, total)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (id) DO UPDATE
		SET status = EXCLUDED.status, total = EXCLUDED.total, updated_at = now();
	`
	if _, err := s.pool.Exec(ctx, query, runID, startedAt, store.RunRunning, total); err != nil {
		return fmt.Errorf("failed to upsert run start: %w", err)
	}
	return nil
}

// UpdateRunProgress stores the latest counters for a run.
func (s *RunStore) UpdateRunProgress(
	ctx context.Context,
	runID uuid.UUID,
	completed,
	active,
	failed int64,
	at time.Time,
) error {
	query := `
		UPDATE search_runs
		SET completed = $1, active = $2, failed = $3, updated_at = $4
		WHERE id = $5;
	`
	res, err := s.pool.Exec(ctx, query, completed, active, failed, at, runID)
	if err != nil {
		return fmt.Errorf("failed to update run progress: %w", err)
	}
	if res.RowsAffected() == 0 {
		return store.ErrNotFound
	}
	return nil
}

// RecordSnapshot stores one snapshot; re-recording a percent overwrites it.
func (s *RunStore) RecordSnapshot(ctx context.Context, snap store.Snapshot) error {
	query := `
		INSERT INTO search_snapshots (run_id, percent, path, rows, taken_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (run_id, percent) DO UPDATE
		SET path = EXCLUDED.path, rows = EXCLUDED.rows, taken_at = EXCLUDED.taken_at;
	`
	if _, err := s.pool.Exec(ctx, query, snap.RunID, snap.Percent, snap.Path, snap.Rows, snap.TakenAt); err != nil {
		return fmt.Errorf("failed to record snapshot: %w", err)
	}
	return nil
}

// CompleteRun marks a run finished with its final status.
func (s *RunStore) CompleteRun(
	ctx context.Context,
	runID uuid.UUID,
	finishedAt time.Time,
	status store.RunStatus,
	rows int64,
	output string,
	errMsg *string,
) error {
	query := `
		UPDATE search_runs
		SET finished_at = $1, status = $2, rows_merged = $3, output = $4, error_message = $5, updated_at = $1
		WHERE id = $6;
	`
	if _, err := s.pool.Exec(ctx, query, finishedAt, status, rows, output, errMsg, runID); err != nil {
		return fmt.Errorf("failed to complete run: %w", err)
	}
	return nil
}

// GetRun retrieves a single run by its ID.
func (s *RunStore) GetRun(ctx context.Context, runID uuid.UUID) (store.Run, error) {
	query := `
		SELECT id, started_at, finished_at, status, total, completed, active, failed, rows_merged, output, error_message
		FROM search_runs
		WHERE id = $1;
	`
	var run store.Run
	err := s.pool.QueryRow(ctx, query, runID).Scan(
		&run.ID,
		&run.StartedAt,
		&run.FinishedAt,
		&run.Status,
		&run.Total,
		&run.Completed,
		&run.Active,
		&run.Failed,
		&run.Rows,
		&run.Output,
		&run.ErrorMessage,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return store.Run{}, store.ErrNotFound
		}
		return store.Run{}, fmt.Errorf("failed to get run: %w", err)
	}
	return run, nil
}

// ListSnapshots returns the snapshots taken for a run.
func (s *RunStore) ListSnapshots(ctx context.Context, runID uuid.UUID) ([]store.Snapshot, error) {
	query := `
		SELECT run_id, percent, path, rows, taken_at
		FROM search_snapshots
		WHERE run_id = $1
		ORDER BY percent ASC;
	`
	rows, err := s.pool.Query(ctx, query, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to list snapshots: %w", err)
	}
	defer rows.Close()

	var snaps []store.Snapshot
	for rows.Next() {
		var snap store.Snapshot
		if err := rows.Scan(&snap.RunID, &snap.Percent, &snap.Path, &snap.Rows, &snap.TakenAt); err != nil {
			return nil, fmt.Errorf("failed to scan snapshot row: %w", err)
		}
		snaps = append(snaps, snap)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate snapshots: %w", err)
	}
	return snaps, nil
}
