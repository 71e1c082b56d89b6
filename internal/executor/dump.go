package executor

import (
	"bytes"
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/JakeFAU/goodreads-search-crawler/internal/crawler"
)

const dumpHashChars = 10

// Dumper saves fetched HTML pages for offline inspection in debug mode.
type Dumper struct {
	store  crawler.BlobStore
	hasher crawler.Hasher
	clock  crawler.Clock
}

// NewDumper writes dumps through store, naming them with hasher and clock.
func NewDumper(store crawler.BlobStore, hasher crawler.Hasher, clock crawler.Clock) *Dumper {
	return &Dumper{store: store, hasher: hasher, clock: clock}
}

// DumpName returns <ts>_<status>_<digest[:10]>.html.
func DumpName(at time.Time, status int, digest string) string {
	if len(digest) > dumpHashChars {
		digest = digest[:dumpHashChars]
	}
	return fmt.Sprintf("%s_%d_%s.html", at.UTC().Format("20060102_150405"), status, digest)
}

// Save stores resp if it is an HTML page and returns the stored URI. Non-HTML
// responses are skipped with an empty URI.
func (d *Dumper) Save(ctx context.Context, resp crawler.FetchResponse) (string, error) {
	if d == nil || d.store == nil {
		return "", nil
	}
	if ct := resp.Headers.Get("Content-Type"); ct != "" && !strings.Contains(ct, "text/html") {
		return "", nil
	}
	digest, err := d.hasher.Hash([]byte(resp.URL))
	if err != nil {
		return "", fmt.Errorf("hash dump url: %w", err)
	}
	name := DumpName(d.clock.Now(), resp.StatusCode, digest)
	uri, err := d.store.PutObject(ctx, name, "text/html", bytes.NewReader(resp.Body))
	if err != nil {
		return "", fmt.Errorf("dump response: %w", err)
	}
	return uri, nil
}
