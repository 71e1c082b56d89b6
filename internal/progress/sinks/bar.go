package sinks

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/schollz/progressbar/v3"

	"github.com/JakeFAU/goodreads-search-crawler/internal/progress"
)

// BarSink draws a terminal progress bar of completed tasks.
type BarSink struct {
	out io.Writer
	bar *progressbar.ProgressBar
	max int64
}

// NewBarSink renders onto out (usually stderr).
func NewBarSink(out io.Writer) *BarSink {
	return &BarSink{out: out}
}

// Consume advances the bar to the newest completed count of the batch.
func (s *BarSink) Consume(_ context.Context, batch []progress.Event) error {
	for _, evt := range batch {
		switch evt.Stage {
		case progress.StageRunStart, progress.StageRunProgress, progress.StageRunDone:
		default:
			continue
		}
		s.ensure(int64(evt.Total))
		s.bar.Describe(fmt.Sprintf("searching (%d active, %d failed)", evt.Active, evt.Failed))
		if err := s.bar.Set64(min(int64(evt.Completed), s.max)); err != nil {
			return fmt.Errorf("update progress bar: %w", err)
		}
		if evt.Stage == progress.StageRunDone {
			if err := s.bar.Finish(); err != nil {
				return fmt.Errorf("finish progress bar: %w", err)
			}
		}
	}
	return nil
}

func (s *BarSink) ensure(total int64) {
	if total < 1 {
		total = 1
	}
	if s.bar != nil {
		if total != s.max {
			s.bar.ChangeMax64(total)
			s.max = total
		}
		return
	}
	s.max = total
	s.bar = progressbar.NewOptions64(total,
		progressbar.OptionSetWriter(s.out),
		progressbar.OptionSetDescription("searching"),
		progressbar.OptionShowCount(),
		progressbar.OptionSetPredictTime(true),
		progressbar.OptionThrottle(200*time.Millisecond),
		progressbar.OptionOnCompletion(func() { _, _ = fmt.Fprintln(s.out) }),
	)
}

// Close implements the Sink interface; it performs no action.
func (s *BarSink) Close(context.Context) error {
	return nil
}
