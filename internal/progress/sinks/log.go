package sinks

import (
	"context"

	"go.uber.org/zap"

	"github.com/JakeFAU/goodreads-search-crawler/internal/progress"
)

// LogSink emits one structured log line per event. Progress ticks log at
// debug level so quiet runs only show milestones.
type LogSink struct {
	logger *zap.Logger
}

// NewLogSink wires a Zap logger to the sink interface.
func NewLogSink(logger *zap.Logger) *LogSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogSink{logger: logger}
}

// Consume logs each event in the batch using structured fields.
func (s *LogSink) Consume(_ context.Context, batch []progress.Event) error {
	for _, evt := range batch {
		fields := []zap.Field{
			zap.Stringer("run_id", evt.RunUUID()),
			zap.String("stage", string(evt.Stage)),
			zap.Int("completed", evt.Completed),
			zap.Int("total", evt.Total),
			zap.Int("active", evt.Active),
			zap.Int("failed", evt.Failed),
		}
		switch evt.Stage {
		case progress.StageRunProgress:
			s.logger.Debug("progress", fields...)
		case progress.StageSnapshot:
			s.logger.Info("snapshot written", append(fields,
				zap.Int("percent", evt.Percent), zap.String("path", evt.Path), zap.Int("rows", evt.Rows))...)
		case progress.StageWorkerExit:
			fields = append(fields, zap.Int("worker_id", evt.WorkerID), zap.Int("exit_code", evt.ExitCode))
			if evt.ExitCode != 0 {
				s.logger.Warn("worker exited with failure", append(fields, zap.String("note", evt.Note))...)
			} else {
				s.logger.Info("worker finished", fields...)
			}
		default:
			if evt.Note != "" {
				fields = append(fields, zap.String("note", evt.Note))
			}
			if evt.Path != "" {
				fields = append(fields, zap.String("path", evt.Path), zap.Int("rows", evt.Rows))
			}
			s.logger.Info("run event", fields...)
		}
	}
	return nil
}

// Close implements the Sink interface; it performs no action.
func (s *LogSink) Close(context.Context) error {
	return nil
}
