package sinks

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/JakeFAU/goodreads-search-crawler/internal/progress"
	"github.com/JakeFAU/goodreads-search-crawler/internal/store"
)

// StoreSink persists run progress via a store.RunRepository. Within a batch
// only the newest progress tick is written.
type StoreSink struct {
	repo   store.RunRepository
	logger *zap.Logger
}

// NewStoreSink constructs a StoreSink for the provided repository.
func NewStoreSink(repo store.RunRepository, logger *zap.Logger) *StoreSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &StoreSink{repo: repo, logger: logger}
}

// Consume forwards the batch to the repository and returns the first error.
func (s *StoreSink) Consume(ctx context.Context, batch []progress.Event) error {
	if s == nil || s.repo == nil {
		return nil
	}
	var pending *progress.Event
	flushPending := func() error {
		if pending == nil {
			return nil
		}
		evt := *pending
		pending = nil
		if err := s.repo.UpdateRunProgress(ctx, evt.RunUUID(), int64(evt.Completed), int64(evt.Active),
			int64(evt.Failed), evt.TS); err != nil {
			return fmt.Errorf("update run progress: %w", err)
		}
		return nil
	}

	for i := range batch {
		evt := batch[i]
		switch evt.Stage {
		case progress.StageRunStart:
			if err := s.repo.UpsertRunStart(ctx, evt.RunUUID(), evt.TS, int64(evt.Total)); err != nil {
				return fmt.Errorf("upsert run start: %w", err)
			}
		case progress.StageRunProgress:
			pending = &evt
		case progress.StageSnapshot:
			snap := store.Snapshot{
				RunID:   evt.RunUUID(),
				Percent: evt.Percent,
				Path:    evt.Path,
				Rows:    int64(evt.Rows),
				TakenAt: evt.TS,
			}
			if err := s.repo.RecordSnapshot(ctx, snap); err != nil {
				return fmt.Errorf("record snapshot: %w", err)
			}
		case progress.StageRunDone:
			pending = &evt
			if err := flushPending(); err != nil {
				return err
			}
			if err := s.complete(ctx, evt); err != nil {
				return err
			}
		}
	}
	return flushPending()
}

func (s *StoreSink) complete(ctx context.Context, evt progress.Event) error {
	status := store.RunSuccess
	var note *string
	switch {
	case evt.Note != "":
		status = store.RunError
		note = &evt.Note
	case evt.Failed > 0:
		status = store.RunPartial
	}
	if err := s.repo.CompleteRun(ctx, evt.RunUUID(), evt.TS, status, int64(evt.Rows), evt.Path, note); err != nil {
		return fmt.Errorf("complete run: %w", err)
	}
	s.logger.Debug("run persisted", zap.Stringer("run_id", evt.RunUUID()), zap.String("status", string(status)))
	return nil
}

// Close implements the Sink interface; it performs no action.
func (s *StoreSink) Close(context.Context) error {
	return nil
}
