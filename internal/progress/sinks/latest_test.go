package sinks

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/goodreads-search-crawler/internal/progress"
)

func TestLatestSink(t *testing.T) {
	t.Parallel()

	sink := NewLatestSink()
	_, ok := sink.Latest()
	require.False(t, ok)

	id := uuid.New()
	runID := progress.UUIDToBytes(id)
	now := time.Now()
	require.NoError(t, sink.Consume(context.Background(), []progress.Event{
		{RunID: runID, TS: now, Stage: progress.StageRunProgress, Total: 10, Completed: 2, Active: 3},
		{RunID: runID, TS: now, Stage: progress.StageSnapshot, Percent: 10, Path: "s"},
		{RunID: runID, TS: now, Stage: progress.StageWorkerExit, WorkerID: 0},
	}))
	st, ok := sink.Latest()
	require.True(t, ok)
	assert.Equal(t, id.String(), st.RunID)
	assert.Equal(t, 2, st.Completed)
	assert.Equal(t, []int{10}, st.Snapshots)
	assert.False(t, st.Done)

	require.NoError(t, sink.Consume(context.Background(), []progress.Event{
		{RunID: runID, TS: now, Stage: progress.StageRunDone, Total: 10, Completed: 10, Path: "out.csv", Rows: 10},
	}))
	st, _ = sink.Latest()
	assert.True(t, st.Done)
	assert.Equal(t, "out.csv", st.Output)
	assert.Equal(t, 0, st.Active)
}

func TestBarSinkRendersCount(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	sink := NewBarSink(&buf)
	runID := progress.UUIDToBytes(uuid.New())
	now := time.Now()
	require.NoError(t, sink.Consume(context.Background(), []progress.Event{
		{RunID: runID, TS: now, Stage: progress.StageRunStart, Total: 4},
		{RunID: runID, TS: now, Stage: progress.StageSnapshot, Percent: 10, Path: "s"},
		{RunID: runID, TS: now, Stage: progress.StageRunDone, Total: 4, Completed: 4},
	}))
	assert.Contains(t, buf.String(), "4/4")
	assert.Equal(t, int64(4), sink.max)
}
