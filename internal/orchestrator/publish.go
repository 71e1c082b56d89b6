package orchestrator

import (
	"context"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/goodreads-search-crawler/internal/crawler"
)

// Publication uploads the final output and the snapshots of a run and
// announces the finished run.
// Either half may be nil.
type Publication struct {
	Store     crawler.BlobStore
	Publisher crawler.Publisher
	Topic     string
	Clock     crawler.Clock
}

// Summary is the notification payload for a finished run.
type Summary struct {
	RunID      string    `json:"run_id"`
	Total      int       `json:"total"`
	Completed  int       `json:"completed"`
	Rows       int       `json:"rows"`
	Workers    int       `json:"workers"`
	Failed     []int     `json:"failed_workers,omitempty"`
	Output     string    `json:"output"`
	OutputURI  string    `json:"output_uri,omitempty"`
	Snapshots  []string  `json:"snapshot_uris,omitempty"`
	FinishedAt time.Time `json:"finished_at"`
}

// NewSummary builds the notification payload for res.
func NewSummary(res Result, at time.Time) Summary {
	s := Summary{
		RunID:      res.RunID.String(),
		Total:      res.Total,
		Completed:  res.Completed,
		Rows:       res.Rows,
		Workers:    res.Workers,
		Output:     res.Output,
		OutputURI:  res.OutputURI,
		Snapshots:  res.SnapshotURIs,
		FinishedAt: at.UTC(),
	}
	for _, f := range res.Failed {
		s.Failed = append(s.Failed, f.ID)
	}
	return s
}

// Publish uploads the output and every snapshot under <run id>/<file name>
// and publishes the summary. Failures are logged; the local files are
// already complete. It returns the output URI, or "" when the output was not
// uploaded.
func (p *Publication) Publish(ctx context.Context, logger *zap.Logger, res *Result) string {
	uri := ""
	if p.Store != nil {
		uri = p.upload(ctx, logger, res.RunID.String(), res.Output)
		res.OutputURI = uri
		for _, snap := range res.Snapshots {
			if u := p.upload(ctx, logger, res.RunID.String(), snap.Path); u != "" {
				res.SnapshotURIs = append(res.SnapshotURIs, u)
			}
		}
	}
	if p.Publisher == nil {
		return uri
	}
	now := time.Now()
	if p.Clock != nil {
		now = p.Clock.Now()
	}
	id, err := p.Publisher.Publish(ctx, p.Topic, NewSummary(*res, now))
	if err != nil {
		logger.Warn("publish run summary failed", zap.Error(err))
		return uri
	}
	logger.Info("run summary published", zap.String("message_id", id))
	return uri
}

func (p *Publication) upload(ctx context.Context, logger *zap.Logger, prefix, path string) string {
	f, err := os.Open(path) //nolint:gosec // run output written by this process
	if err != nil {
		logger.Warn("open file for upload failed", zap.String("path", path), zap.Error(err))
		return ""
	}
	defer func() { _ = f.Close() }()
	name := prefix + "/" + filepath.Base(path)
	uri, err := p.Store.PutObject(ctx, name, "text/csv", f)
	if err != nil {
		logger.Warn("upload failed", zap.String("path", path), zap.Error(err))
		return ""
	}
	logger.Info("uploaded", zap.String("uri", uri))
	return uri
}
