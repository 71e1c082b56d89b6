// Package monitor polls a running search: it counts completion markers,
// observes worker processes, publishes progress and takes snapshot merges at
// fixed completion percentages.
package monitor

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/goodreads-search-crawler/internal/checkpoint"
	"github.com/JakeFAU/goodreads-search-crawler/internal/clock/system"
	"github.com/JakeFAU/goodreads-search-crawler/internal/crawler"
	"github.com/JakeFAU/goodreads-search-crawler/internal/progress"
	"github.com/JakeFAU/goodreads-search-crawler/internal/results"
)

// DefaultInterval is the pause between polls.
const DefaultInterval = 2 * time.Second

// Worker is the view of a worker process the monitor needs.
type Worker interface {
	Alive() bool
	ExitCode() int
	Done() <-chan struct{}
}

// MergeFunc merges sinks into dest and returns the data row count.
type MergeFunc func(sinks []string, dest string) (int, error)

// Counters is one observation of the run.
type Counters struct {
	Completed int
	Active    int
	Failed    int
}

// Snapshot describes one snapshot merge.
type Snapshot struct {
	Percent int
	Path    string
	Rows    int
}

// Config wires a Monitor.
type Config struct {
	RunID         [16]byte
	CheckpointDir string
	// Total is the number of tasks in the whole input, so resumed runs start
	// from their already completed share.
	Total int
	// Resumed is the number of tasks completed before this run started.
	// Thresholds it already reaches never fire.
	Resumed  int
	Sinks    []string
	Workers  []Worker
	Interval time.Duration
	Step     int
	Merge    MergeFunc
	Emitter  progress.Emitter
	Clock    crawler.Clock
	Logger   *zap.Logger
}

// Monitor is the polling loop of a run. It is not safe for concurrent use.
type Monitor struct {
	cfg       Config
	policy    *SnapshotPolicy
	logger    *zap.Logger
	last      Counters
	reported  map[int]bool
	snapshots []Snapshot
}

// New applies defaults and returns a Monitor.
func New(cfg Config) *Monitor {
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultInterval
	}
	if cfg.Merge == nil {
		cfg.Merge = results.Merge
	}
	if cfg.Emitter == nil {
		cfg.Emitter = progress.EmitterFunc(func(progress.Event) {})
	}
	if cfg.Clock == nil {
		cfg.Clock = system.New()
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	policy := NewSnapshotPolicy(cfg.Step)
	if skipped := policy.Skip(cfg.Resumed, cfg.Total); skipped > 0 {
		logger.Debug("snapshot thresholds covered by an earlier run",
			zap.Int("skipped", skipped), zap.Int("next", policy.Next()))
	}
	return &Monitor{
		cfg:      cfg,
		policy:   policy,
		logger:   logger.Named("monitor"),
		reported: make(map[int]bool),
	}
}

// SnapshotPath returns the file a snapshot at pct is merged into.
func SnapshotPath(dir string, pct int) string {
	return filepath.Join(dir, fmt.Sprintf("snapshot_%dpct.csv", pct))
}

// Run polls until no worker is alive and returns the final counters.
// Cancellation of ctx does not end the loop early: workers receive the
// cancellation as a signal and the loop waits for their exit so the final
// merge sees their last writes.
func (m *Monitor) Run(ctx context.Context) Counters {
	allDone := m.allDone()
	ticker := time.NewTicker(m.cfg.Interval)
	defer ticker.Stop()

	interrupted := ctx.Done()
	for {
		c := m.Poll()
		if c.Active == 0 {
			break
		}
		select {
		case <-ticker.C:
		case <-allDone:
		case <-interrupted:
			m.logger.Warn("interrupted, waiting for workers to stop", zap.Int("active", c.Active))
			interrupted = nil
		}
	}
	// Markers written between the last poll and the final exit.
	return m.Poll()
}

// Poll performs one observation, publishes it and takes at most one snapshot.
func (m *Monitor) Poll() Counters {
	c := m.last
	if n, err := checkpoint.CountAll(m.cfg.CheckpointDir); err != nil {
		m.logger.Warn("count checkpoints failed", zap.Error(err))
	} else {
		c.Completed = n
	}
	c.Active, c.Failed = 0, 0
	for id, w := range m.cfg.Workers {
		if w.Alive() {
			c.Active++
			continue
		}
		code := w.ExitCode()
		if code != 0 {
			c.Failed++
		}
		if !m.reported[id] {
			m.reported[id] = true
			m.emit(progress.Event{Stage: progress.StageWorkerExit, WorkerID: id, ExitCode: code}, c)
		}
	}
	m.last = c
	m.emit(progress.Event{Stage: progress.StageRunProgress}, c)
	m.logger.Debug("poll",
		zap.Int("completed", c.Completed),
		zap.Int("total", m.cfg.Total),
		zap.Int("active", c.Active),
		zap.Int("failed", c.Failed),
	)
	m.maybeSnapshot(c)
	return c
}

// Snapshots returns the snapshots taken so far.
func (m *Monitor) Snapshots() []Snapshot {
	return append([]Snapshot(nil), m.snapshots...)
}

func (m *Monitor) maybeSnapshot(c Counters) {
	pct, due := m.policy.Due(c.Completed, m.cfg.Total)
	if !due {
		return
	}
	m.policy.Advance()
	path := SnapshotPath(m.cfg.CheckpointDir, pct)
	rows, err := m.cfg.Merge(m.cfg.Sinks, path)
	if err != nil {
		m.logger.Warn("snapshot merge failed", zap.Int("percent", pct), zap.Error(err))
		return
	}
	m.snapshots = append(m.snapshots, Snapshot{Percent: pct, Path: path, Rows: rows})
	m.emit(progress.Event{Stage: progress.StageSnapshot, Percent: pct, Path: path, Rows: rows}, c)
}

func (m *Monitor) emit(evt progress.Event, c Counters) {
	evt.RunID = m.cfg.RunID
	evt.TS = m.cfg.Clock.Now()
	evt.Total = m.cfg.Total
	evt.Completed = c.Completed
	evt.Active = c.Active
	evt.Failed = c.Failed
	m.cfg.Emitter.Emit(evt)
}

// allDone closes once every worker has exited.
func (m *Monitor) allDone() <-chan struct{} {
	out := make(chan struct{})
	go func() {
		defer close(out)
		for _, w := range m.cfg.Workers {
			<-w.Done()
		}
	}()
	return out
}
