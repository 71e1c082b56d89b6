package executor

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/goodreads-search-crawler/internal/clock/system"
	"github.com/JakeFAU/goodreads-search-crawler/internal/crawler"
	"github.com/JakeFAU/goodreads-search-crawler/internal/hash/sha256"
	"github.com/JakeFAU/goodreads-search-crawler/internal/storage/memory"
)

func TestDumpName(t *testing.T) {
	t.Parallel()

	at := time.Date(2024, 3, 9, 14, 5, 7, 0, time.UTC)
	assert.Equal(t, "20240309_140507_200_0123456789.html", DumpName(at, 200, "0123456789abcdef"))
	assert.Equal(t, "20240309_140507_503_abc.html", DumpName(at, 503, "abc"))
}

func newTestDumper(store crawler.BlobStore) *Dumper {
	return NewDumper(store, sha256.New(), system.NewFixed(time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)))
}

func TestDumperSave(t *testing.T) {
	t.Parallel()

	store := memory.NewBlobStore()
	d := newTestDumper(store)

	html := crawler.FetchResponse{
		URL:        "https://example.com/a",
		StatusCode: 200,
		Headers:    http.Header{"Content-Type": {"text/html; charset=utf-8"}},
		Body:       []byte("<html></html>"),
	}
	uri, err := d.Save(context.Background(), html)
	require.NoError(t, err)
	assert.Regexp(t, `^memory://20240102_030405_200_[0-9a-f]{10}\.html$`, uri)

	other := html
	other.URL = "https://example.com/b"
	uri2, err := d.Save(context.Background(), other)
	require.NoError(t, err)
	assert.NotEqual(t, uri, uri2)

	uri, err = d.Save(context.Background(), crawler.FetchResponse{
		URL:     "https://example.com/data.json",
		Headers: http.Header{"Content-Type": {"application/json"}},
	})
	require.NoError(t, err)
	assert.Empty(t, uri)
	assert.Len(t, store.Paths(), 2)

	var nilDumper *Dumper
	uri, err = nilDumper.Save(context.Background(), html)
	require.NoError(t, err)
	assert.Empty(t, uri)
}
