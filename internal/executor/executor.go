// Package executor runs a worker's partition: it executes every task, writes
// exactly one result row per task to the worker's output sink, and only then
// appends the task's completion marker. It also hosts the Goodreads
// search-and-extract executor used by the worker subcommand.
package executor

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/JakeFAU/goodreads-search-crawler/internal/crawler"
)

// ErrSink reports a failure to record a row or marker. It aborts the worker.
var ErrSink = errors.New("sink write failed")

// ErrUnavailable marks an executor failure that says nothing about the book
// (network errors, exhausted 5xx or 429 retries). Such tasks are left
// unrecorded so a resumed run attempts them again.
var ErrUnavailable = errors.New("source unavailable")

// Executor turns one task into one result row.
type Executor interface {
	Execute(ctx context.Context, task crawler.Task) (crawler.ResultRow, error)
}

// ExecutorFunc adapts a function to Executor.
type ExecutorFunc func(ctx context.Context, task crawler.Task) (crawler.ResultRow, error)

// Execute implements Executor.
func (f ExecutorFunc) Execute(ctx context.Context, task crawler.Task) (crawler.ResultRow, error) {
	return f(ctx, task)
}

// RowSink receives result rows.
type RowSink interface {
	Write(row crawler.ResultRow) error
}

// MarkerSink receives completion markers.
type MarkerSink interface {
	Append(index int) error
}

// Options tune RunPartition.
type Options struct {
	// Concurrency bounds in-flight tasks; defaults to 1.
	Concurrency int
	Logger      *zap.Logger
}

// Stats summarizes a partition run.
type Stats struct {
	Found    int
	NotFound int
	// Failed counts tasks whose executor gave up; they are recorded as
	// not_found rows and included in NotFound.
	Failed int
	// Unavailable counts tasks left without row or marker after ErrUnavailable.
	Unavailable int
}

// RunPartition executes part and records every outcome. For each task the
// row is written before the marker is appended, and the pair is written under
// one lock, so a marker never refers to a row that is not on disk. A task
// whose executor fails permanently is recorded as not_found; one that fails
// with ErrUnavailable is skipped without row or marker. Sink errors stop the
// run with ErrSink; cancellation stops dispatching and leaves unfinished
// tasks unmarked for a later resume.
func RunPartition(
	ctx context.Context,
	exec Executor,
	part []crawler.Task,
	rows RowSink,
	markers MarkerSink,
	opts Options,
) (Stats, error) {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	limit := opts.Concurrency
	if limit <= 0 {
		limit = 1
	}

	var (
		mu    sync.Mutex
		stats Stats
	)
	record := func(task crawler.Task, row crawler.ResultRow, failed bool) error {
		mu.Lock()
		defer mu.Unlock()
		if err := rows.Write(row); err != nil {
			return fmt.Errorf("%w: row for task %d: %v", ErrSink, task.Index, err)
		}
		if err := markers.Append(task.Index); err != nil {
			return fmt.Errorf("%w: marker for task %d: %v", ErrSink, task.Index, err)
		}
		switch {
		case row.Status == crawler.StatusFound:
			stats.Found++
		default:
			stats.NotFound++
		}
		if failed {
			stats.Failed++
		}
		return nil
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(limit)
	for _, task := range part {
		if gctx.Err() != nil {
			break
		}
		g.Go(func() error {
			// g.Go may have waited for a slot while the run was canceled.
			if err := gctx.Err(); err != nil {
				return fmt.Errorf("task %d not started: %w", task.Index, err)
			}
			row, err := exec.Execute(gctx, task)
			failed := false
			if err != nil {
				if gctx.Err() != nil {
					return fmt.Errorf("task %d interrupted: %w", task.Index, gctx.Err())
				}
				if errors.Is(err, ErrUnavailable) {
					logger.Warn("task left for a later run", zap.Int("index", task.Index), zap.Error(err))
					mu.Lock()
					stats.Unavailable++
					mu.Unlock()
					return nil
				}
				logger.Warn("task failed, recording not_found", zap.Int("index", task.Index), zap.Error(err))
				row = crawler.NotFoundRow(task)
				failed = true
			}
			return record(task, row, failed)
		})
	}
	err := g.Wait()
	mu.Lock()
	defer mu.Unlock()
	if err != nil {
		return stats, err
	}
	if ctx.Err() != nil {
		return stats, fmt.Errorf("partition interrupted: %w", ctx.Err())
	}
	return stats, nil
}
