package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/goodreads-search-crawler/internal/metrics"
	"github.com/JakeFAU/goodreads-search-crawler/internal/progress"
	"github.com/JakeFAU/goodreads-search-crawler/internal/progress/sinks"
	"github.com/JakeFAU/goodreads-search-crawler/internal/store"
)

type fakeRuns struct {
	run   store.Run
	snaps []store.Snapshot
	err   error
}

func (f *fakeRuns) UpsertRunStart(context.Context, uuid.UUID, time.Time, int64) error { return nil }

func (f *fakeRuns) UpdateRunProgress(context.Context, uuid.UUID, int64, int64, int64, time.Time) error {
	return nil
}

func (f *fakeRuns) RecordSnapshot(context.Context, store.Snapshot) error { return nil }

func (f *fakeRuns) CompleteRun(
	context.Context, uuid.UUID, time.Time, store.RunStatus, int64, string, *string,
) error {
	return nil
}

func (f *fakeRuns) GetRun(_ context.Context, id uuid.UUID) (store.Run, error) {
	if f.err != nil {
		return store.Run{}, f.err
	}
	run := f.run
	run.ID = id
	return run, nil
}

func (f *fakeRuns) ListSnapshots(context.Context, uuid.UUID) ([]store.Snapshot, error) {
	return f.snaps, f.err
}

func do(t *testing.T, s *Server, path string) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	return rec
}

func TestServerHealth(t *testing.T) {
	t.Parallel()

	s := NewServer(Options{})
	rec := do(t, s, "/healthz")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
	assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))

	rec = do(t, s, "/readyz")
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestServerMetricsUsesRegistry(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	gauge := prometheus.NewGauge(prometheus.GaugeOpts{Name: "grsearch_test_gauge", Help: "test"})
	reg.MustRegister(gauge)
	gauge.Set(7)

	rec := do(t, NewServer(Options{Gatherer: reg}), "/metrics")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "grsearch_test_gauge 7")
}

func TestServerProgress(t *testing.T) {
	t.Parallel()

	latest := sinks.NewLatestSink()
	s := NewServer(Options{Latest: latest})

	rec := do(t, s, "/v1/progress")
	require.Equal(t, http.StatusNotFound, rec.Code)

	runID := uuid.New()
	require.NoError(t, latest.Consume(context.Background(), []progress.Event{{
		RunID:     progress.UUIDToBytes(runID),
		Stage:     progress.StageRunProgress,
		Total:     10,
		Completed: 4,
		Active:    2,
	}}))
	rec = do(t, s, "/v1/progress")
	require.Equal(t, http.StatusOK, rec.Code)
	var got sinks.Status
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, runID.String(), got.RunID)
	assert.Equal(t, 4, got.Completed)
	assert.Equal(t, 2, got.Active)
}

func TestServerProgressUnavailable(t *testing.T) {
	t.Parallel()

	rec := do(t, NewServer(Options{}), "/v1/progress")
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestRunHandlerGetRun(t *testing.T) {
	t.Parallel()

	finished := time.Unix(200, 0).UTC()
	repo := &fakeRuns{run: store.Run{
		StartedAt:  time.Unix(100, 0).UTC(),
		FinishedAt: &finished,
		Status:     store.RunPartial,
		Total:      10,
		Completed:  8,
		Failed:     1,
		Rows:       8,
		Output:     "out.csv",
	}}
	s := NewServer(Options{Runs: repo})
	runID := uuid.New()

	rec := do(t, s, "/v1/runs/"+runID.String())
	require.Equal(t, http.StatusOK, rec.Code)
	var body struct {
		Run runDTO `json:"run"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, runID.String(), body.Run.ID)
	assert.Equal(t, "partial", body.Run.Status)
	assert.Equal(t, int64(8), body.Run.Rows)
	require.NotNil(t, body.Run.FinishedAt)
}

func TestRunHandlerErrors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		opts Options
		path string
		want int
	}{
		{name: "no repository", opts: Options{}, path: "/v1/runs/" + uuid.NewString(), want: http.StatusServiceUnavailable},
		{name: "bad id", opts: Options{Runs: &fakeRuns{}}, path: "/v1/runs/nope", want: http.StatusBadRequest},
		{
			name: "not found",
			opts: Options{Runs: &fakeRuns{err: store.ErrNotFound}},
			path: "/v1/runs/" + uuid.NewString(),
			want: http.StatusNotFound,
		},
		{
			name: "repository failure",
			opts: Options{Runs: &fakeRuns{err: errors.New("db down")}},
			path: "/v1/runs/" + uuid.NewString(),
			want: http.StatusInternalServerError,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			rec := do(t, NewServer(tt.opts), tt.path)
			assert.Equal(t, tt.want, rec.Code)
		})
	}
}

func TestRunHandlerListSnapshots(t *testing.T) {
	t.Parallel()

	repo := &fakeRuns{snaps: []store.Snapshot{
		{Percent: 10, Path: "snapshot_10pct.csv", Rows: 1},
		{Percent: 20, Path: "snapshot_20pct.csv", Rows: 2},
	}}
	rec := do(t, NewServer(Options{Runs: repo}), "/v1/runs/"+uuid.NewString()+"/snapshots")
	require.Equal(t, http.StatusOK, rec.Code)
	var body struct {
		Snapshots []snapshotDTO `json:"snapshots"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Len(t, body.Snapshots, 2)
	assert.Equal(t, 20, body.Snapshots[1].Percent)
}

func TestServerServeStopsOnCancel(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	errs, err := NewServer(Options{}).Serve(ctx, "127.0.0.1:0")
	require.NoError(t, err)
	cancel()
	select {
	case err, ok := <-errs:
		if ok {
			require.NoError(t, err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("server did not stop")
	}
}

func TestServerRecordsRequestMetrics(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	m, err := metrics.NewHTTP(reg)
	require.NoError(t, err)
	s := NewServer(Options{Gatherer: reg, Metrics: m})

	require.Equal(t, http.StatusOK, do(t, s, "/healthz").Code)
	rec := do(t, s, "/metrics")
	assert.Contains(t, rec.Body.String(), `grsearch_http_requests_total{code="200",method="GET",route="/healthz"} 1`)
}
