package crawler

import (
	"fmt"
	"net/http"
	"time"
)

// Task is one unit of work: search for a single book and extract its details.
// Index is the zero-based position of the record in the loaded input and is
// the only identity the checkpoint logs know about.
type Task struct {
	Index  int    `json:"index"`
	Title  string `json:"title"`
	Author string `json:"author,omitempty"`
}

// Query renders the free-text search query for the task.
func (t Task) Query() string {
	if t.Author == "" {
		return t.Title
	}
	return t.Title + " " + t.Author
}

// RowStatus records whether the search produced a matching book.
type RowStatus string

// Row status values written to the status column.
const (
	StatusFound    RowStatus = "found"
	StatusNotFound RowStatus = "not_found"
)

// ResultRow is the fixed-schema record a worker writes for every task it
// completes. A not_found row still counts as a completion.
type ResultRow struct {
	Title         string    `json:"title"`
	Author        string    `json:"author"`
	Genres        string    `json:"genres"`
	Description   string    `json:"description"`
	PublishedYear string    `json:"published_year"`
	SourceURL     string    `json:"source_url"`
	Status        RowStatus `json:"status"`
}

// NotFoundRow builds the row recorded when no book matched the task.
func NotFoundRow(task Task) ResultRow {
	return ResultRow{Title: task.Title, Author: task.Author, Status: StatusNotFound}
}

// FetchRequest captures everything needed to fetch a URL.
type FetchRequest struct {
	URL     string
	Headers http.Header
}

// FetchResponse is the result returned by a Fetcher implementation.
type FetchResponse struct {
	URL          string
	StatusCode   int
	Headers      http.Header
	Body         []byte
	Duration     time.Duration
	UsedHeadless bool
}

// StatusError reports a response whose HTTP status code made the page unusable.
type StatusError struct {
	URL  string
	Code int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("unexpected status %d for %s", e.Code, e.URL)
}

// Retryable reports whether the status is worth another attempt.
func (e *StatusError) Retryable() bool {
	switch e.Code {
	case http.StatusRequestTimeout, http.StatusForbidden, http.StatusTooManyRequests,
		http.StatusInternalServerError, http.StatusBadGateway, http.StatusServiceUnavailable,
		http.StatusGatewayTimeout, 522, 524:
		return true
	default:
		return false
	}
}
