package postgres

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/goodreads-search-crawler/internal/store"
)

func newMockStore(t *testing.T) (*RunStore, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(mock.Close)
	s, err := NewRunStoreWithPool(mock)
	require.NoError(t, err)
	return s, mock
}

func TestUpsertRunStart(t *testing.T) {
	t.Parallel()

	s, mock := newMockStore(t)
	runID := uuid.New()
	now := time.Unix(1700000000, 0).UTC()

	mock.ExpectExec("INSERT INTO search_runs").
		WithArgs(runID, now, store.RunRunning, int64(10)).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	require.NoError(t, s.UpsertRunStart(context.Background(), runID, now, 10))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestUpdateRunProgressMissingRun(t *testing.T) {
	t.Parallel()

	s, mock := newMockStore(t)
	runID := uuid.New()
	now := time.Unix(1700000000, 0).UTC()

	mock.ExpectExec("UPDATE search_runs").
		WithArgs(int64(4), int64(2), int64(1), now, runID).
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))

	err := s.UpdateRunProgress(context.Background(), runID, 4, 2, 1, now)
	require.ErrorIs(t, err, store.ErrNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRecordSnapshotAndComplete(t *testing.T) {
	t.Parallel()

	s, mock := newMockStore(t)
	runID := uuid.New()
	now := time.Unix(1700000000, 0).UTC()
	snap := store.Snapshot{RunID: runID, Percent: 10, Path: "cp/snapshot_10pct.csv", Rows: 1, TakenAt: now}

	mock.ExpectExec("INSERT INTO search_snapshots").
		WithArgs(runID, 10, snap.Path, int64(1), now).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectExec("UPDATE search_runs").
		WithArgs(now, store.RunPartial, int64(9), "out.csv", (*string)(nil), runID).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	require.NoError(t, s.RecordSnapshot(context.Background(), snap))
	require.NoError(t, s.CompleteRun(context.Background(), runID, now, store.RunPartial, 9, "out.csv", nil))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestGetRunNotFound(t *testing.T) {
	t.Parallel()

	s, mock := newMockStore(t)
	runID := uuid.New()
	mock.ExpectQuery("SELECT id, started_at").WithArgs(runID).WillReturnError(pgx.ErrNoRows)

	_, err := s.GetRun(context.Background(), runID)
	require.ErrorIs(t, err, store.ErrNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestGetRun(t *testing.T) {
	t.Parallel()

	s, mock := newMockStore(t)
	runID := uuid.New()
	now := time.Unix(1700000000, 0).UTC()
	rows := pgxmock.NewRows([]string{
		"id", "started_at", "finished_at", "status", "total", "completed", "active", "failed",
		"rows_merged", "output", "error_message",
	}).AddRow(runID, now, (*time.Time)(nil), store.RunRunning, int64(10), int64(4), int64(3), int64(0), int64(0), "", (*string)(nil))
	mock.ExpectQuery("SELECT id, started_at").WithArgs(runID).WillReturnRows(rows)

	run, err := s.GetRun(context.Background(), runID)
	require.NoError(t, err)
	assert.Equal(t, runID, run.ID)
	assert.Equal(t, int64(4), run.Completed)
	assert.Nil(t, run.FinishedAt)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestListSnapshots(t *testing.T) {
	t.Parallel()

	s, mock := newMockStore(t)
	runID := uuid.New()
	now := time.Unix(1700000000, 0).UTC()
	rows := pgxmock.NewRows([]string{"run_id", "percent", "path", "rows", "taken_at"}).
		AddRow(runID, 10, "a.csv", int64(1), now).
		AddRow(runID, 20, "b.csv", int64(2), now)
	mock.ExpectQuery("FROM search_snapshots").WithArgs(runID).WillReturnRows(rows)

	snaps, err := s.ListSnapshots(context.Background(), runID)
	require.NoError(t, err)
	require.Len(t, snaps, 2)
	assert.Equal(t, 20, snaps[1].Percent)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestNewRunStoreRequiresDSN(t *testing.T) {
	t.Parallel()

	_, err := NewRunStore(context.Background(), RunStoreConfig{})
	require.Error(t, err)
}
