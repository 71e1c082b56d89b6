// Package tasks loads the book list that drives a search run and hands
// partitions to worker processes.
package tasks

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/JakeFAU/goodreads-search-crawler/internal/crawler"
)

// ErrInput reports an input file that cannot be turned into tasks.
var ErrInput = errors.New("task input error")

// authorColumns lists the accepted author columns in priority order.
var authorColumns = []string{"author", "name", "author_name", "authors"}

// Load reads the tasks in path, picking a reader by file extension. Records
// with an empty title are skipped but still consume their position, so every
// task's Index is its position in the source.
func Load(path string) ([]crawler.Task, error) {
	var (
		out []crawler.Task
		err error
	)
	switch strings.ToLower(filepath.Ext(path)) {
	case ".csv":
		out, err = loadCSV(path)
	case ".jsonl", ".ndjson":
		out, err = loadJSONL(path)
	case ".parquet":
		out, err = loadParquet(path)
	default:
		return nil, fmt.Errorf("%w: unsupported input format %q", ErrInput, filepath.Ext(path))
	}
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Excluding returns the tasks whose index is not in done, preserving order
// and original indices.
func Excluding(all []crawler.Task, done map[int]struct{}) []crawler.Task {
	if len(done) == 0 {
		return append([]crawler.Task(nil), all...)
	}
	out := make([]crawler.Task, 0, len(all))
	for _, t := range all {
		if _, ok := done[t.Index]; ok {
			continue
		}
		out = append(out, t)
	}
	return out
}

// pickAuthorColumn returns the first accepted author column present in cols.
func pickAuthorColumn(has func(string) bool) string {
	for _, c := range authorColumns {
		if has(c) {
			return c
		}
	}
	return ""
}

func newTask(index int, title, author string) (crawler.Task, bool) {
	title = strings.TrimSpace(title)
	if title == "" {
		return crawler.Task{}, false
	}
	return crawler.Task{Index: index, Title: title, Author: strings.TrimSpace(author)}, true
}
