// Package detector decides when a book page must be re-fetched with a
// headless browser.
package detector

import (
	"bytes"
	"net/http"

	"github.com/JakeFAU/goodreads-search-crawler/internal/crawler"
)

// Heuristic flags successful responses that lack the embedded page state the
// extractor reads, or that are too small to be a rendered book page.
type Heuristic struct {
	BodyLengthThreshold int
}

// NewHeuristic creates a new detector. A zero threshold uses 2048 bytes.
func NewHeuristic(threshold int) *Heuristic {
	if threshold == 0 {
		threshold = 2048
	}
	return &Heuristic{BodyLengthThreshold: threshold}
}

var nextDataMarker = []byte(`id="__NEXT_DATA__"`)

// ShouldRender implements crawler.RenderDetector.
func (h *Heuristic) ShouldRender(resp crawler.FetchResponse) bool {
	if resp.StatusCode != http.StatusOK || resp.UsedHeadless {
		return false
	}
	if len(resp.Body) < h.BodyLengthThreshold {
		return true
	}
	return !bytes.Contains(resp.Body, nextDataMarker)
}
