// Package orchestrator drives one search run: it loads the task list,
// partitions the remaining tasks across worker processes, monitors them
// through the checkpoint directory, merges their outputs and reports.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/JakeFAU/goodreads-search-crawler/internal/checkpoint"
	"github.com/JakeFAU/goodreads-search-crawler/internal/clock/system"
	"github.com/JakeFAU/goodreads-search-crawler/internal/crawler"
	idgen "github.com/JakeFAU/goodreads-search-crawler/internal/id/uuid"
	"github.com/JakeFAU/goodreads-search-crawler/internal/monitor"
	"github.com/JakeFAU/goodreads-search-crawler/internal/partition"
	"github.com/JakeFAU/goodreads-search-crawler/internal/progress"
	"github.com/JakeFAU/goodreads-search-crawler/internal/results"
	"github.com/JakeFAU/goodreads-search-crawler/internal/tasks"
	"github.com/JakeFAU/goodreads-search-crawler/internal/worker"
)

// Spawner starts worker processes; *worker.Runner implements it.
type Spawner interface {
	Spawn(ctx context.Context, spec worker.Spec) (*worker.Handle, error)
}

// RunIDGenerator produces run ids.
type RunIDGenerator interface {
	NewRunID() (uuid.UUID, error)
}

// Config describes one run.
type Config struct {
	InputPath     string
	OutputPath    string
	CheckpointDir string
	LogDir        string
	Workers       int
	Resume        bool
	Debug         bool
	PollInterval  time.Duration
	SnapshotStep  int
}

// Deps are the collaborators of a run. Only Runner is required.
type Deps struct {
	Runner  Spawner
	Emitter progress.Emitter
	Clock   crawler.Clock
	IDs     RunIDGenerator
	// Load reads the task list; defaults to tasks.Load.
	Load func(path string) ([]crawler.Task, error)
	// Merge defaults to results.Merge.
	Merge monitor.MergeFunc
	// Publication is optional; see Publisher.
	Publication *Publication
	Logger      *zap.Logger
}

// WorkerFailure reports a worker that exited unsuccessfully.
type WorkerFailure struct {
	ID       int
	ExitCode int
	LogPath  string
	Err      error
}

// Result summarizes a run.
type Result struct {
	RunID uuid.UUID
	// Total is the size of the task list; Remaining what this run scheduled.
	Total       int
	Remaining   int
	Workers     int
	Completed   int
	Failed      []WorkerFailure
	Rows        int
	Output      string
	Snapshots   []monitor.Snapshot
	NothingToDo bool
	// OutputURI and SnapshotURIs are set when files were published to a
	// blob store.
	OutputURI    string
	SnapshotURIs []string
	States       []State
}

// Orchestrator runs searches. It is not safe for concurrent use.
type Orchestrator struct {
	cfg    Config
	deps   Deps
	logger *zap.Logger
}

// New validates cfg and applies defaults.
func New(cfg Config, deps Deps) (*Orchestrator, error) {
	switch {
	case cfg.InputPath == "":
		return nil, errors.New("input path is required")
	case cfg.OutputPath == "":
		return nil, errors.New("output path is required")
	case cfg.CheckpointDir == "":
		return nil, errors.New("checkpoint dir is required")
	case deps.Runner == nil:
		return nil, errors.New("worker runner is required")
	}
	if cfg.LogDir == "" {
		cfg.LogDir = cfg.CheckpointDir
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	if deps.Emitter == nil {
		deps.Emitter = progress.EmitterFunc(func(progress.Event) {})
	}
	if deps.Clock == nil {
		deps.Clock = system.New()
	}
	if deps.IDs == nil {
		deps.IDs = idgen.New()
	}
	if deps.Load == nil {
		deps.Load = tasks.Load
	}
	if deps.Merge == nil {
		deps.Merge = results.Merge
	}
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Orchestrator{cfg: cfg, deps: deps, logger: logger.Named("orchestrator")}, nil
}

// Run executes the run to completion. Worker failures are reported in the
// Result, not as errors; Run fails only when the task list cannot be read
// (tasks.ErrInput) or the final merge is impossible (results.ErrMerge).
// Cancelling ctx stops the workers but the final merge and report still run.
func (o *Orchestrator) Run(ctx context.Context) (Result, error) {
	var res Result
	runID, err := o.deps.IDs.NewRunID()
	if err != nil {
		return res, fmt.Errorf("new run id: %w", err)
	}
	res.RunID = runID
	res.Output = o.cfg.OutputPath
	logger := o.logger.With(zap.Stringer("run_id", runID))

	// Loading
	o.enter(&res, logger, StateLoading)
	if err := o.prepareDirs(); err != nil {
		return o.abort(&res, logger, err)
	}
	all, err := o.deps.Load(o.cfg.InputPath)
	if err != nil {
		return o.abort(&res, logger, fmt.Errorf("load tasks: %w", err))
	}
	res.Total = len(all)
	remaining := all
	if o.cfg.Resume {
		done, err := checkpoint.ScanAll(o.cfg.CheckpointDir)
		if err != nil {
			return o.abort(&res, logger, fmt.Errorf("scan checkpoints: %w", err))
		}
		remaining = tasks.Excluding(all, done)
		logger.Info("resuming", zap.Int("already_completed", len(done)), zap.Int("remaining", len(remaining)))
	}
	res.Remaining = len(remaining)

	// Partitioning
	o.enter(&res, logger, StatePartitioning)
	if len(remaining) == 0 {
		res.NothingToDo = true
		res.Completed = res.Total
		o.enter(&res, logger, StateReporting)
		if rows, err := results.CountRows(o.cfg.OutputPath); err == nil {
			res.Rows = rows
		}
		logger.Info("nothing to do", zap.Int("total", res.Total), zap.Int("rows", res.Rows))
		o.enter(&res, logger, StateDone)
		return res, nil
	}
	parts := partition.Split(remaining, o.cfg.Workers)
	res.Workers = len(parts)
	o.emit(runID, progress.Event{
		Stage:     progress.StageRunStart,
		Total:     res.Total,
		Completed: res.Total - res.Remaining,
		Active:    len(parts),
	})

	// Running
	o.enter(&res, logger, StateRunning)
	handles := o.spawn(ctx, logger, parts)
	current := make([]string, len(handles))
	watched := make([]monitor.Worker, len(handles))
	for i, h := range handles {
		current[i] = h.OutputPath
		watched[i] = h
	}
	sinks, err := results.DiscoverSinks(o.cfg.CheckpointDir, current...)
	if err != nil {
		logger.Warn("discover earlier sinks failed", zap.Error(err))
		sinks = current
	}

	// Monitoring
	o.enter(&res, logger, StateMonitoring)
	mon := monitor.New(monitor.Config{
		RunID:         progress.UUIDToBytes(runID),
		CheckpointDir: o.cfg.CheckpointDir,
		Total:         res.Total,
		Resumed:       res.Total - res.Remaining,
		Sinks:         sinks,
		Workers:       watched,
		Interval:      o.cfg.PollInterval,
		Step:          o.cfg.SnapshotStep,
		Merge:         o.deps.Merge,
		Emitter:       o.deps.Emitter,
		Clock:         o.deps.Clock,
		Logger:        logger,
	})
	counters := mon.Run(ctx)
	res.Completed = counters.Completed
	res.Snapshots = mon.Snapshots()

	// Merging
	o.enter(&res, logger, StateMerging)
	rows, mergeErr := o.deps.Merge(sinks, o.cfg.OutputPath)
	res.Rows = rows

	// Reporting
	o.enter(&res, logger, StateReporting)
	res.Failed = o.report(logger, handles)
	done := progress.Event{
		Stage:     progress.StageRunDone,
		Total:     res.Total,
		Completed: res.Completed,
		Failed:    len(res.Failed),
		Path:      o.cfg.OutputPath,
		Rows:      res.Rows,
	}
	if mergeErr != nil {
		done.Note = mergeErr.Error()
		o.emit(runID, done)
		return res, fmt.Errorf("final merge: %w", mergeErr)
	}
	logger.Info("final output written", zap.String("path", o.cfg.OutputPath), zap.Int("rows", rows))
	if o.deps.Publication != nil {
		// Publication must not be cut short by the interrupt that stopped the workers.
		o.deps.Publication.Publish(context.WithoutCancel(ctx), logger, &res)
	}
	o.emit(runID, done)
	o.enter(&res, logger, StateDone)
	return res, nil
}

// abort reports a run that failed before any worker started.
func (o *Orchestrator) abort(res *Result, logger *zap.Logger, err error) (Result, error) {
	o.enter(res, logger, StateReporting)
	logger.Error("run failed before start", zap.Error(err))
	o.emit(res.RunID, progress.Event{Stage: progress.StageRunDone, Total: res.Total, Note: err.Error()})
	return *res, err
}

func (o *Orchestrator) spawn(ctx context.Context, logger *zap.Logger, parts [][]crawler.Task) []*worker.Handle {
	handles := make([]*worker.Handle, 0, len(parts))
	for id, part := range parts {
		spec := worker.Spec{
			ID:             id,
			Partition:      part,
			TasksPath:      worker.TasksPath(o.cfg.CheckpointDir, id),
			OutputPath:     results.SinkPath(o.cfg.CheckpointDir, id),
			CheckpointPath: checkpoint.Path(o.cfg.CheckpointDir, id),
			Debug:          o.cfg.Debug,
		}
		h, err := o.deps.Runner.Spawn(ctx, spec)
		if err != nil {
			logger.Error("worker launch failed", zap.Int("worker_id", id), zap.Error(err))
			h = worker.FailedHandle(spec, err)
		}
		handles = append(handles, h)
	}
	logger.Info("workers started", zap.Int("workers", len(handles)))
	return handles
}

func (o *Orchestrator) report(logger *zap.Logger, handles []*worker.Handle) []WorkerFailure {
	var failed []WorkerFailure
	for _, h := range handles {
		if !h.Failed() {
			continue
		}
		f := WorkerFailure{ID: h.ID, ExitCode: h.ExitCode(), LogPath: h.LogPath, Err: h.Err()}
		failed = append(failed, f)
		fields := []zap.Field{zap.Int("worker_id", f.ID), zap.Int("exit_code", f.ExitCode)}
		if f.LogPath != "" && !o.cfg.Debug {
			fields = append(fields, zap.String("hint", "see "+f.LogPath))
		}
		logger.Warn("worker failed", fields...)
	}
	if len(failed) == 0 {
		logger.Info(fmt.Sprintf("all %d workers finished successfully", len(handles)))
	}
	return failed
}

// prepareDirs ensures the run directories exist. Fresh runs also remove the
// files of a previous run so its markers cannot leak into this one.
func (o *Orchestrator) prepareDirs() error {
	for _, dir := range []string{o.cfg.CheckpointDir, o.cfg.LogDir} {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return fmt.Errorf("create %s: %w", dir, err)
		}
	}
	if o.cfg.Resume {
		return nil
	}
	patterns := []string{
		filepath.Join(o.cfg.CheckpointDir, "checkpoint_*.txt"),
		filepath.Join(o.cfg.CheckpointDir, "worker_*.csv"),
		filepath.Join(o.cfg.CheckpointDir, "tasks_*.jsonl"),
		filepath.Join(o.cfg.CheckpointDir, "snapshot_*pct.csv"),
		filepath.Join(o.cfg.LogDir, "worker_*.log"),
		filepath.Join(o.cfg.LogDir, "debug_responses_worker_*"),
	}
	for _, pattern := range patterns {
		matches, err := filepath.Glob(pattern)
		if err != nil {
			return fmt.Errorf("clean %s: %w", pattern, err)
		}
		for _, m := range matches {
			if err := os.RemoveAll(m); err != nil {
				return fmt.Errorf("clean %s: %w", m, err)
			}
		}
	}
	if err := os.Remove(o.cfg.OutputPath); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("remove previous output: %w", err)
	}
	return nil
}

func (o *Orchestrator) enter(res *Result, logger *zap.Logger, s State) {
	res.States = append(res.States, s)
	logger.Debug("state", zap.String("state", string(s)))
}

func (o *Orchestrator) emit(runID uuid.UUID, evt progress.Event) {
	evt.RunID = progress.UUIDToBytes(runID)
	evt.TS = o.deps.Clock.Now()
	o.deps.Emitter.Emit(evt)
}
