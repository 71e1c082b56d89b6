package sinks

import (
	"context"
	"sync"

	"github.com/JakeFAU/goodreads-search-crawler/internal/progress"
)

// Status is the latest view of a run.
type Status struct {
	RunID     string `json:"run_id"`
	Stage     string `json:"stage"`
	Total     int    `json:"total"`
	Completed int    `json:"completed"`
	Active    int    `json:"active"`
	Failed    int    `json:"failed"`
	// Snapshots lists the percentages written so far.
	Snapshots []int  `json:"snapshots"`
	Output    string `json:"output,omitempty"`
	Rows      int    `json:"rows"`
	Done      bool   `json:"done"`
}

// LatestSink keeps the latest run status in memory for the status API.
type LatestSink struct {
	mu     sync.RWMutex
	status Status
	seen   bool
}

// NewLatestSink returns an empty LatestSink.
func NewLatestSink() *LatestSink {
	return &LatestSink{}
}

// Consume folds the batch into the latest status.
func (s *LatestSink) Consume(_ context.Context, batch []progress.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, evt := range batch {
		s.seen = true
		s.status.RunID = evt.RunUUID().String()
		s.status.Stage = string(evt.Stage)
		switch evt.Stage {
		case progress.StageSnapshot:
			s.status.Snapshots = append(s.status.Snapshots, evt.Percent)
			continue
		case progress.StageWorkerExit:
			continue
		case progress.StageRunDone:
			s.status.Done = true
			s.status.Output = evt.Path
			s.status.Rows = evt.Rows
		}
		s.status.Total = evt.Total
		s.status.Completed = evt.Completed
		s.status.Active = evt.Active
		s.status.Failed = evt.Failed
	}
	return nil
}

// Latest returns a copy of the latest status; ok is false before any event.
func (s *LatestSink) Latest() (Status, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := s.status
	out.Snapshots = append([]int(nil), s.status.Snapshots...)
	return out, s.seen
}

// Close implements the Sink interface; it performs no action.
func (s *LatestSink) Close(context.Context) error {
	return nil
}
