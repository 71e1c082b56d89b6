package executor

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/goodreads-search-crawler/internal/crawler"
	"github.com/JakeFAU/goodreads-search-crawler/internal/policy/ratelimit"
)

// DefaultBaseURL is the Goodreads site root.
const DefaultBaseURL = "https://www.goodreads.com"

// Goodreads searches Goodreads for a task's book and extracts its details.
type Goodreads struct {
	baseURL  string
	fetcher  crawler.Fetcher
	renderer crawler.Fetcher
	detector crawler.RenderDetector
	retry    crawler.RetryPolicy
	limiter  *ratelimit.Limiter
	dumper   *Dumper
	logger   *zap.Logger
	sleep    func(context.Context, time.Duration) error
}

// Option customizes a Goodreads executor.
type Option func(*Goodreads)

// WithBaseURL points the executor at another site root (tests, mirrors).
func WithBaseURL(base string) Option {
	return func(g *Goodreads) { g.baseURL = strings.TrimRight(base, "/") }
}

// WithRenderer enables headless re-fetching of book pages the detector flags.
func WithRenderer(renderer crawler.Fetcher, detector crawler.RenderDetector) Option {
	return func(g *Goodreads) {
		g.renderer = renderer
		g.detector = detector
	}
}

// WithRetryPolicy overrides the default retry policy.
func WithRetryPolicy(p crawler.RetryPolicy) Option {
	return func(g *Goodreads) { g.retry = p }
}

// WithLimiter paces requests.
func WithLimiter(l *ratelimit.Limiter) Option {
	return func(g *Goodreads) { g.limiter = l }
}

// WithDumper saves every fetched page.
func WithDumper(d *Dumper) Option {
	return func(g *Goodreads) { g.dumper = d }
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(g *Goodreads) {
		if l != nil {
			g.logger = l
		}
	}
}

// NewGoodreads builds the executor around a plain HTTP fetcher.
func NewGoodreads(fetcher crawler.Fetcher, opts ...Option) *Goodreads {
	g := &Goodreads{
		baseURL: DefaultBaseURL,
		fetcher: fetcher,
		retry:   crawler.NewExponentialRetryPolicy(),
		logger:  zap.NewNop(),
		sleep:   sleepContext,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// SearchURL returns the search page URL for a task.
func (g *Goodreads) SearchURL(task crawler.Task) string {
	return g.baseURL + "/search?q=" + url.QueryEscape(task.Query())
}

// Execute runs the search, follows the first book result, and extracts the
// book's details. A search without results yields a not_found row.
func (g *Goodreads) Execute(ctx context.Context, task crawler.Task) (crawler.ResultRow, error) {
	logger := g.logger.With(zap.Int("index", task.Index), zap.String("title", task.Title))

	searchURL := g.SearchURL(task)
	search, err := g.fetch(ctx, searchURL)
	if err != nil {
		return crawler.ResultRow{}, fmt.Errorf("search %q: %w", task.Query(), err)
	}
	bookURL, ok := FirstBookLink(search.URL, search.Body)
	if !ok {
		logger.Warn("no book link in search results", zap.String("url", search.URL))
		return crawler.NotFoundRow(task), nil
	}
	logger.Debug("found book link", zap.String("book_url", bookURL))

	page, err := g.fetch(ctx, bookURL)
	if err != nil {
		return crawler.ResultRow{}, fmt.Errorf("fetch book page: %w", err)
	}
	page = g.maybeRender(ctx, logger, bookURL, page)

	details, present, err := ExtractBook(page.Body)
	switch {
	case err != nil:
		logger.Warn("book page data unreadable", zap.String("url", page.URL), zap.Error(err))
	case !present:
		logger.Warn("__NEXT_DATA__ not found, fields will be empty", zap.String("url", page.URL))
	}
	row := crawler.ResultRow{
		Title:         task.Title,
		Author:        task.Author,
		Genres:        strings.Join(details.Genres, genreSeparator),
		Description:   details.Description,
		PublishedYear: details.PublishedYear,
		SourceURL:     page.URL,
		Status:        crawler.StatusFound,
	}
	logger.Info("book extracted",
		zap.Int("description_chars", len(row.Description)),
		zap.Int("genres", len(details.Genres)),
		zap.String("year", row.PublishedYear),
	)
	return row, nil
}

// fetch performs one rate-limited GET with retries.
func (g *Goodreads) fetch(ctx context.Context, target string) (crawler.FetchResponse, error) {
	var lastErr error
	for attempt := 0; ; attempt++ {
		if err := g.limiter.Wait(ctx, target); err != nil {
			return crawler.FetchResponse{}, err
		}
		resp, err := g.fetcher.Fetch(ctx, crawler.FetchRequest{URL: target})
		if err == nil {
			g.dump(ctx, resp)
			if resp.StatusCode >= http.StatusBadRequest {
				err = &crawler.StatusError{URL: target, Code: resp.StatusCode}
			} else {
				if resp.URL == "" {
					resp.URL = target
				}
				return resp, nil
			}
		}
		lastErr = err
		if g.retry == nil || !g.retry.ShouldRetry(err, attempt) {
			return crawler.FetchResponse{}, classifyFetchError(lastErr)
		}
		wait := g.retry.Backoff(attempt)
		g.logger.Debug("retrying fetch", zap.String("url", target), zap.Int("attempt", attempt+1), zap.Duration("backoff", wait), zap.Error(err))
		if err := g.sleep(ctx, wait); err != nil {
			return crawler.FetchResponse{}, errors.Join(lastErr, err)
		}
	}
}

// classifyFetchError keeps definitive HTTP answers (404, 410, ...) as they are
// and marks every other final fetch failure with ErrUnavailable.
func classifyFetchError(err error) error {
	var statusErr *crawler.StatusError
	if errors.As(err, &statusErr) && !statusErr.Retryable() {
		return err
	}
	return fmt.Errorf("%w: %w", ErrUnavailable, err)
}

func (g *Goodreads) maybeRender(
	ctx context.Context,
	logger *zap.Logger,
	target string,
	resp crawler.FetchResponse,
) crawler.FetchResponse {
	if g.renderer == nil || g.detector == nil || !g.detector.ShouldRender(resp) {
		return resp
	}
	rendered, err := g.renderer.Fetch(ctx, crawler.FetchRequest{URL: target})
	if err != nil {
		logger.Warn("headless render failed", zap.String("url", target), zap.Error(err))
		return resp
	}
	rendered.UsedHeadless = true
	g.dump(ctx, rendered)
	logger.Debug("headless render applied", zap.String("url", target))
	return rendered
}

func (g *Goodreads) dump(ctx context.Context, resp crawler.FetchResponse) {
	if g.dumper == nil {
		return
	}
	uri, err := g.dumper.Save(ctx, resp)
	if err != nil {
		g.logger.Warn("dump response failed", zap.String("url", resp.URL), zap.Error(err))
		return
	}
	if uri != "" {
		g.logger.Debug("saved response", zap.String("uri", uri), zap.Int("status", resp.StatusCode))
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return fmt.Errorf("backoff canceled: %w", ctx.Err())
	case <-timer.C:
		return nil
	}
}
