// Package results owns the fixed-schema CSV output: the per-worker sinks the
// worker processes append to, and the merge that consolidates them into a
// snapshot or the final output file.
package results

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/JakeFAU/goodreads-search-crawler/internal/crawler"
)

// Columns is the output schema, in order.
var Columns = []string{"title", "author", "genres", "description", "published_year", "source_url", "status"}

// ErrMerge reports a merge that could not produce its destination file.
var ErrMerge = errors.New("merge failed")

// SinkPath returns the output sink path for a worker.
func SinkPath(dir string, workerID int) string {
	return filepath.Join(dir, fmt.Sprintf("worker_%d.csv", workerID))
}

// DiscoverSinks lists the worker sinks present in dir ordered by worker id,
// merged with extra paths (which need not exist yet). A missing dir is empty.
func DiscoverSinks(dir string, extra ...string) ([]string, error) {
	byID := make(map[int]string)
	entries, err := os.ReadDir(dir)
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("list sinks in %s: %w", dir, err)
	}
	for _, e := range entries {
		var id int
		if e.IsDir() {
			continue
		}
		if _, err := fmt.Sscanf(e.Name(), "worker_%d.csv", &id); err != nil || SinkPath(dir, id) != filepath.Join(dir, e.Name()) {
			continue
		}
		byID[id] = SinkPath(dir, id)
	}
	var unnamed []string
	for _, p := range extra {
		var id int
		if _, err := fmt.Sscanf(filepath.Base(p), "worker_%d.csv", &id); err == nil && filepath.Dir(p) == filepath.Clean(dir) {
			byID[id] = p
			continue
		}
		unnamed = append(unnamed, p)
	}
	ids := make([]int, 0, len(byID))
	for id := range byID {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	out := make([]string, 0, len(ids)+len(unnamed))
	for _, id := range ids {
		out = append(out, byID[id])
	}
	return append(out, unnamed...), nil
}

// Record projects a row onto Columns.
func Record(row crawler.ResultRow) []string {
	return []string{
		row.Title,
		row.Author,
		row.Genres,
		row.Description,
		row.PublishedYear,
		row.SourceURL,
		string(row.Status),
	}
}

// Writer appends rows to one worker's output sink.
type Writer struct {
	mu   sync.Mutex
	file *os.File
	csv  *csv.Writer
}

// OpenWriter opens (or creates) the sink at path in append mode. The header
// is written only when the file is new or empty.
func OpenWriter(path string) (*Writer, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return nil, fmt.Errorf("create sink dir: %w", err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600) //nolint:gosec // orchestrator-owned path
	if err != nil {
		return nil, fmt.Errorf("open sink: %w", err)
	}
	info, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("stat sink: %w", err)
	}
	w := &Writer{file: f, csv: csv.NewWriter(f)}
	if info.Size() == 0 {
		if err := w.writeRecord(Columns); err != nil {
			_ = f.Close()
			return nil, err
		}
	}
	return w, nil
}

// Write appends one row and syncs it to disk before returning.
func (w *Writer) Write(row crawler.ResultRow) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.writeRecord(Record(row))
}

func (w *Writer) writeRecord(record []string) error {
	if err := w.csv.Write(record); err != nil {
		return fmt.Errorf("write sink row: %w", err)
	}
	w.csv.Flush()
	if err := w.csv.Error(); err != nil {
		return fmt.Errorf("flush sink row: %w", err)
	}
	if err := w.file.Sync(); err != nil {
		return fmt.Errorf("sync sink: %w", err)
	}
	return nil
}

// Close closes the sink file.
func (w *Writer) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if err := w.file.Close(); err != nil {
		return fmt.Errorf("close sink: %w", err)
	}
	return nil
}

// CountRows returns the number of data rows in a merged CSV file.
func CountRows(path string) (int, error) {
	f, err := os.Open(path) //nolint:gosec // caller supplied output path
	if err != nil {
		return 0, fmt.Errorf("open %s: %w", path, err)
	}
	defer func() { _ = f.Close() }()

	r := csv.NewReader(f)
	r.FieldsPerRecord = -1
	rows := -1
	for {
		_, err := r.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return 0, fmt.Errorf("read %s: %w", path, err)
		}
		rows++
	}
	if rows < 0 {
		return 0, nil
	}
	return rows, nil
}
