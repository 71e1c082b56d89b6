package sinks

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/goodreads-search-crawler/internal/progress"
)

func TestPrometheusSinkRecordsMetrics(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	sink, err := NewPrometheusSink(reg)
	require.NoError(t, err)

	runID := progress.UUIDToBytes(uuid.New())
	now := time.Now()
	batch := []progress.Event{
		{RunID: runID, TS: now, Stage: progress.StageRunStart, Total: 10, Active: 3},
		{RunID: runID, TS: now, Stage: progress.StageRunProgress, Total: 10, Completed: 4, Active: 2, Failed: 1},
		{RunID: runID, TS: now, Stage: progress.StageSnapshot, Percent: 10, Path: "s.csv", Rows: 4},
		{RunID: runID, TS: now, Stage: progress.StageWorkerExit, WorkerID: 1, ExitCode: 2},
	}
	require.NoError(t, sink.Consume(context.Background(), batch))

	require.InDelta(t, 10.0, testutil.ToFloat64(sink.tasksTotal), 1e-9)
	require.InDelta(t, 4.0, testutil.ToFloat64(sink.tasksCompleted), 1e-9)
	require.InDelta(t, 2.0, testutil.ToFloat64(sink.workersActive), 1e-9)
	require.InDelta(t, 1.0, testutil.ToFloat64(sink.workersFailed), 1e-9)
	require.InDelta(t, 0.4, testutil.ToFloat64(sink.progressRatio), 1e-9)
	require.InDelta(t, 1.0, testutil.ToFloat64(sink.snapshots), 1e-9)
	require.InDelta(t, 4.0, testutil.ToFloat64(sink.mergedRows), 1e-9)
	require.InDelta(t, 1.0, testutil.ToFloat64(sink.workerExits.WithLabelValues("2")), 1e-9)

	require.NoError(t, sink.Consume(context.Background(), []progress.Event{
		{RunID: runID, TS: now, Stage: progress.StageRunDone, Total: 10, Completed: 10, Rows: 10, Path: "out.csv"},
	}))
	require.InDelta(t, 1.0, testutil.ToFloat64(sink.progressRatio), 1e-9)
	require.InDelta(t, 10.0, testutil.ToFloat64(sink.mergedRows), 1e-9)
}

func TestPrometheusSinkDuplicateRegistration(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	_, err := NewPrometheusSink(reg)
	require.NoError(t, err)
	_, err = NewPrometheusSink(reg)
	require.Error(t, err)
}
