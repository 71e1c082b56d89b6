package sinks

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/goodreads-search-crawler/internal/progress"
	"github.com/JakeFAU/goodreads-search-crawler/internal/store"
)

func TestStoreSinkPersistsEvents(t *testing.T) {
	t.Parallel()

	repo := &fakeRunRepo{}
	sink := NewStoreSink(repo, nil)
	runUUID := uuid.New()
	runID := progress.UUIDToBytes(runUUID)
	now := time.Now()

	batch := []progress.Event{
		{RunID: runID, Stage: progress.StageRunStart, TS: now, Total: 10},
		{RunID: runID, Stage: progress.StageRunProgress, TS: now, Total: 10, Completed: 1},
		{RunID: runID, Stage: progress.StageRunProgress, TS: now, Total: 10, Completed: 3, Active: 2},
		{RunID: runID, Stage: progress.StageSnapshot, TS: now, Percent: 10, Path: "snap.csv", Rows: 3},
	}
	require.NoError(t, sink.Consume(context.Background(), batch))

	require.Len(t, repo.starts, 1)
	assert.Equal(t, int64(10), repo.starts[0])
	require.Len(t, repo.progress, 1, "only the newest tick is written")
	assert.Equal(t, int64(3), repo.progress[0])
	require.Len(t, repo.snapshots, 1)
	assert.Equal(t, runUUID, repo.snapshots[0].RunID)
}

func TestStoreSinkCompletionStatus(t *testing.T) {
	t.Parallel()

	runID := progress.UUIDToBytes(uuid.New())
	tests := []struct {
		name string
		evt  progress.Event
		want store.RunStatus
	}{
		{"success", progress.Event{Completed: 10, Total: 10}, store.RunSuccess},
		{"partial", progress.Event{Completed: 7, Total: 10, Failed: 1}, store.RunPartial},
		{"error", progress.Event{Note: "merge failed"}, store.RunError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			repo := &fakeRunRepo{}
			evt := tt.evt
			evt.RunID = runID
			evt.TS = time.Now()
			evt.Stage = progress.StageRunDone
			require.NoError(t, NewStoreSink(repo, nil).Consume(context.Background(), []progress.Event{evt}))
			require.Len(t, repo.completed, 1)
			assert.Equal(t, tt.want, repo.completed[0])
			assert.Len(t, repo.progress, 1)
		})
	}
}

func TestStoreSinkHandlesErrors(t *testing.T) {
	t.Parallel()

	repo := &fakeRunRepo{err: errors.New("db down")}
	sink := NewStoreSink(repo, nil)
	err := sink.Consume(context.Background(), []progress.Event{
		{RunID: progress.UUIDToBytes(uuid.New()), Stage: progress.StageRunStart, TS: time.Now()},
	})
	require.ErrorContains(t, err, "db down")

	var nilSink *StoreSink
	require.NoError(t, nilSink.Consume(context.Background(), nil))
}

type fakeRunRepo struct {
	err       error
	starts    []int64
	progress  []int64
	snapshots []store.Snapshot
	completed []store.RunStatus
}

func (f *fakeRunRepo) UpsertRunStart(_ context.Context, _ uuid.UUID, _ time.Time, total int64) error {
	if f.err != nil {
		return f.err
	}
	f.starts = append(f.starts, total)
	return nil
}

func (f *fakeRunRepo) UpdateRunProgress(_ context.Context, _ uuid.UUID, completed, _, _ int64, _ time.Time) error {
	if f.err != nil {
		return f.err
	}
	f.progress = append(f.progress, completed)
	return nil
}

func (f *fakeRunRepo) RecordSnapshot(_ context.Context, snap store.Snapshot) error {
	if f.err != nil {
		return f.err
	}
	f.snapshots = append(f.snapshots, snap)
	return nil
}

func (f *fakeRunRepo) CompleteRun(
	_ context.Context,
	_ uuid.UUID,
	_ time.Time,
	status store.RunStatus,
	_ int64,
	_ string,
	_ *string,
) error {
	if f.err != nil {
		return f.err
	}
	f.completed = append(f.completed, status)
	return nil
}

func (f *fakeRunRepo) GetRun(context.Context, uuid.UUID) (store.Run, error) {
	return store.Run{}, store.ErrNotFound
}

func (f *fakeRunRepo) ListSnapshots(context.Context, uuid.UUID) ([]store.Snapshot, error) {
	return f.snapshots, nil
}
