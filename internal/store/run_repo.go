package store

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

// ErrNotFound signals that the requested record does not exist.
var ErrNotFound = errors.New("run record not found")

// RunStatus mirrors the search_runs status column.
type RunStatus string

// Run statuses persisted in search_runs.status.
const (
	RunRunning RunStatus = "running"
	// RunSuccess means every worker exited cleanly.
	RunSuccess RunStatus = "success"
	// RunPartial means the merge ran but at least one worker failed.
	RunPartial RunStatus = "partial"
	RunError   RunStatus = "error"
)

// Run models one orchestrated search run.
type Run struct {
	ID         uuid.UUID
	StartedAt  time.Time
	FinishedAt *time.Time
	Status     RunStatus
	// Total is the task count of the whole input, completed ones included.
	Total     int64
	Completed int64
	Active    int64
	Failed    int64
	// Rows is the data row count of the final merged output.
	Rows         int64
	Output       string
	ErrorMessage *string
}

// Snapshot records one intermediate merge.
type Snapshot struct {
	RunID   uuid.UUID
	Percent int
	Path    string
	Rows    int64
	TakenAt time.Time
}

// RunRepository persists incremental run progress.
type RunRepository interface {
	// UpsertRunStart inserts (or idempotently refreshes) the run row.
	UpsertRunStart(ctx context.Context, runID uuid.UUID, startedAt time.Time, total int64) error
	// UpdateRunProgress stores the latest counters.
	UpdateRunProgress(ctx context.Context, runID uuid.UUID, completed, active, failed int64, at time.Time) error
	// RecordSnapshot appends a snapshot row.
	RecordSnapshot(ctx context.Context, snap Snapshot) error
	// CompleteRun marks the run finished.
	CompleteRun(
		ctx context.Context,
		runID uuid.UUID,
		finishedAt time.Time,
		status RunStatus,
		rows int64,
		output string,
		errMsg *string,
	) error

	// GetRun loads a single run or returns ErrNotFound.
	GetRun(ctx context.Context, runID uuid.UUID) (Run, error)
	// ListSnapshots returns a run's snapshots by ascending percent.
	ListSnapshots(ctx context.Context, runID uuid.UUID) ([]Snapshot, error)
}
