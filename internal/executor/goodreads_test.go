package executor

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/goodreads-search-crawler/internal/crawler"
	"github.com/JakeFAU/goodreads-search-crawler/internal/storage/memory"
)

// stubFetcher serves canned responses keyed by URL, in order per URL.
type stubFetcher struct {
	mu        sync.Mutex
	responses map[string][]stubResponse
	calls     []string
}

type stubResponse struct {
	status int
	body   string
	err    error
}

func (s *stubFetcher) Fetch(_ context.Context, req crawler.FetchRequest) (crawler.FetchResponse, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, req.URL)
	queue := s.responses[req.URL]
	if len(queue) == 0 {
		return crawler.FetchResponse{URL: req.URL, StatusCode: http.StatusNotFound}, nil
	}
	next := queue[0]
	if len(queue) > 1 {
		s.responses[req.URL] = queue[1:]
	}
	if next.err != nil {
		return crawler.FetchResponse{}, next.err
	}
	return crawler.FetchResponse{
		URL:        req.URL,
		StatusCode: next.status,
		Headers:    http.Header{"Content-Type": {"text/html"}},
		Body:       []byte(next.body),
	}, nil
}

// downFetcher fails every request like an unreachable host.
type downFetcher struct {
	calls atomic.Int32
}

func (d *downFetcher) Fetch(context.Context, crawler.FetchRequest) (crawler.FetchResponse, error) {
	d.calls.Add(1)
	return crawler.FetchResponse{}, errors.New("dial tcp: connection refused")
}

type alwaysRender struct{}

func (alwaysRender) ShouldRender(crawler.FetchResponse) bool { return true }

const (
	testBase    = "https://gr.test"
	hobbitQuery = testBase + "/search?q=The+Hobbit+Tolkien"
	hobbitBook  = testBase + "/book/show/5907.The_Hobbit?from_search=true"
)

func noSleep(context.Context, time.Duration) error { return nil }

func newTestGoodreads(f crawler.Fetcher, opts ...Option) *Goodreads {
	g := NewGoodreads(f, append([]Option{WithBaseURL(testBase + "/")}, opts...)...)
	g.sleep = noSleep
	return g
}

func TestSearchURL(t *testing.T) {
	t.Parallel()

	g := newTestGoodreads(&stubFetcher{})
	assert.Equal(t, hobbitQuery, g.SearchURL(crawler.Task{Title: "The Hobbit", Author: "Tolkien"}))
	assert.Equal(t, testBase+"/search?q=Dune", g.SearchURL(crawler.Task{Title: "Dune"}))
}

func TestExecuteFound(t *testing.T) {
	t.Parallel()

	f := &stubFetcher{responses: map[string][]stubResponse{
		hobbitQuery: {{status: 200, body: searchPage}},
		hobbitBook:  {{status: 200, body: bookPage}},
	}}
	store := memory.NewBlobStore()
	g := newTestGoodreads(f, WithDumper(newTestDumper(store)))

	row, err := g.Execute(context.Background(), crawler.Task{Index: 3, Title: "The Hobbit", Author: "Tolkien"})
	require.NoError(t, err)
	assert.Equal(t, crawler.ResultRow{
		Title:         "The Hobbit",
		Author:        "Tolkien",
		Genres:        "Fantasy;Classics",
		Description:   "In a hole in the ground lived a hobbit.",
		PublishedYear: "1937",
		SourceURL:     hobbitBook,
		Status:        crawler.StatusFound,
	}, row)
	assert.Len(t, store.Paths(), 2)
}

func TestExecuteNoResults(t *testing.T) {
	t.Parallel()

	f := &stubFetcher{responses: map[string][]stubResponse{
		hobbitQuery: {{status: 200, body: "<html>No results</html>"}},
	}}
	row, err := newTestGoodreads(f).Execute(context.Background(), crawler.Task{Title: "The Hobbit", Author: "Tolkien"})
	require.NoError(t, err)
	assert.Equal(t, crawler.StatusNotFound, row.Status)
	assert.Equal(t, "The Hobbit", row.Title)
	assert.Equal(t, "Tolkien", row.Author)
	assert.Empty(t, row.SourceURL)
}

func TestExecuteMissingNextDataStillFound(t *testing.T) {
	t.Parallel()

	f := &stubFetcher{responses: map[string][]stubResponse{
		hobbitQuery: {{status: 200, body: searchPage}},
		hobbitBook:  {{status: 200, body: "<html>spinner</html>"}},
	}}
	row, err := newTestGoodreads(f).Execute(context.Background(), crawler.Task{Title: "The Hobbit", Author: "Tolkien"})
	require.NoError(t, err)
	assert.Equal(t, crawler.StatusFound, row.Status)
	assert.Empty(t, row.Description)
	assert.Equal(t, hobbitBook, row.SourceURL)
}

func TestExecuteRetriesTransientStatus(t *testing.T) {
	t.Parallel()

	f := &stubFetcher{responses: map[string][]stubResponse{
		hobbitQuery: {{status: 503}, {status: 200, body: searchPage}},
		hobbitBook:  {{status: 200, body: bookPage}},
	}}
	row, err := newTestGoodreads(f).Execute(context.Background(), crawler.Task{Title: "The Hobbit", Author: "Tolkien"})
	require.NoError(t, err)
	assert.Equal(t, crawler.StatusFound, row.Status)
	assert.Equal(t, []string{hobbitQuery, hobbitQuery, hobbitBook}, f.calls)
}

func TestExecuteGivesUpAfterMaxAttempts(t *testing.T) {
	t.Parallel()

	f := &stubFetcher{responses: map[string][]stubResponse{
		hobbitQuery: {{status: 429}},
	}}
	g := newTestGoodreads(f, WithRetryPolicy(crawler.NewRetryPolicy(2, time.Millisecond, time.Millisecond)))
	_, err := g.Execute(context.Background(), crawler.Task{Title: "The Hobbit", Author: "Tolkien"})
	var statusErr *crawler.StatusError
	require.ErrorAs(t, err, &statusErr)
	assert.Equal(t, 429, statusErr.Code)
	require.ErrorIs(t, err, ErrUnavailable)
	assert.Len(t, f.calls, 2)
}

func TestExecuteDoesNotRetryPermanentStatus(t *testing.T) {
	t.Parallel()

	f := &stubFetcher{responses: map[string][]stubResponse{
		hobbitQuery: {{status: 404}},
	}}
	_, err := newTestGoodreads(f).Execute(context.Background(), crawler.Task{Title: "The Hobbit", Author: "Tolkien"})
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrUnavailable)
	assert.Len(t, f.calls, 1)
}

func TestExecuteNetworkFailureIsUnavailable(t *testing.T) {
	t.Parallel()

	refused := errors.New("dial tcp 127.0.0.1:443: connect: connection refused")
	f := &stubFetcher{responses: map[string][]stubResponse{
		hobbitQuery: {{err: refused}},
	}}
	g := newTestGoodreads(f, WithRetryPolicy(crawler.NewRetryPolicy(3, time.Millisecond, time.Millisecond)))
	_, err := g.Execute(context.Background(), crawler.Task{Title: "The Hobbit", Author: "Tolkien"})
	require.ErrorIs(t, err, ErrUnavailable)
	require.ErrorIs(t, err, refused)
}

func TestRunPartitionLeavesUnreachableBooksForResume(t *testing.T) {
	t.Parallel()

	down := &downFetcher{}
	g := newTestGoodreads(down, WithRetryPolicy(crawler.NewRetryPolicy(3, time.Millisecond, time.Millisecond)))
	rec := &recorder{}
	stats, err := RunPartition(context.Background(), g, tasksN(3), rec, rec, Options{})
	require.NoError(t, err)
	assert.Equal(t, Stats{Unavailable: 3}, stats)
	assert.Empty(t, rec.rows)
	assert.Empty(t, rec.markers)
	assert.Equal(t, int32(9), down.calls.Load())
}

func TestExecuteRendersWhenDetectorAsks(t *testing.T) {
	t.Parallel()

	plain := &stubFetcher{responses: map[string][]stubResponse{
		hobbitQuery: {{status: 200, body: searchPage}},
		hobbitBook:  {{status: 200, body: "<html>spinner</html>"}},
	}}
	headless := &stubFetcher{responses: map[string][]stubResponse{
		hobbitBook: {{status: 200, body: bookPage}},
	}}
	g := newTestGoodreads(plain, WithRenderer(headless, alwaysRender{}))
	row, err := g.Execute(context.Background(), crawler.Task{Title: "The Hobbit", Author: "Tolkien"})
	require.NoError(t, err)
	assert.Equal(t, "1937", row.PublishedYear)
	assert.Equal(t, []string{hobbitBook}, headless.calls)
}

func TestExecuteRenderFailureKeepsPlainPage(t *testing.T) {
	t.Parallel()

	plain := &stubFetcher{responses: map[string][]stubResponse{
		hobbitQuery: {{status: 200, body: searchPage}},
		hobbitBook:  {{status: 200, body: bookPage}},
	}}
	headless := &stubFetcher{responses: map[string][]stubResponse{
		hobbitBook: {{err: errors.New("chrome missing")}},
	}}
	g := newTestGoodreads(plain, WithRenderer(headless, alwaysRender{}))
	row, err := g.Execute(context.Background(), crawler.Task{Title: "The Hobbit", Author: "Tolkien"})
	require.NoError(t, err)
	assert.Equal(t, "Fantasy;Classics", row.Genres)
}

func TestExecuteCanceledDuringBackoff(t *testing.T) {
	t.Parallel()

	f := &stubFetcher{responses: map[string][]stubResponse{
		hobbitQuery: {{status: 503}},
	}}
	ctx, cancel := context.WithCancel(context.Background())
	g := NewGoodreads(f, WithBaseURL(testBase))
	g.sleep = func(context.Context, time.Duration) error {
		cancel()
		return context.Canceled
	}
	_, err := g.Execute(ctx, crawler.Task{Title: "The Hobbit", Author: "Tolkien"})
	require.ErrorIs(t, err, context.Canceled)
}
