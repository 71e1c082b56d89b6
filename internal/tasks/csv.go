package tasks

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/JakeFAU/goodreads-search-crawler/internal/crawler"
)

func loadCSV(path string) ([]crawler.Task, error) {
	f, err := os.Open(path) //nolint:gosec // user supplied input path
	if err != nil {
		return nil, fmt.Errorf("%w: open %s: %v", ErrInput, path, err)
	}
	defer func() { _ = f.Close() }()

	r := csv.NewReader(f)
	r.FieldsPerRecord = -1
	r.LazyQuotes = true
	header, err := r.Read()
	if err != nil {
		return nil, fmt.Errorf("%w: read csv header: %v", ErrInput, err)
	}
	cols := make(map[string]int, len(header))
	for i, name := range header {
		name = strings.TrimPrefix(strings.TrimSpace(name), "\ufeff")
		if _, dup := cols[name]; !dup {
			cols[name] = i
		}
	}
	titleCol, ok := cols["title"]
	if !ok {
		return nil, fmt.Errorf("%w: %s has no title column", ErrInput, path)
	}
	authorCol := -1
	if name := pickAuthorColumn(func(c string) bool { _, ok := cols[c]; return ok }); name != "" {
		authorCol = cols[name]
	}

	var out []crawler.Task
	for pos := 0; ; pos++ {
		record, err := r.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("%w: read csv row %d: %v", ErrInput, pos, err)
		}
		task, ok := newTask(pos, field(record, titleCol), field(record, authorCol))
		if ok {
			out = append(out, task)
		}
	}
	return out, nil
}

func field(record []string, idx int) string {
	if idx < 0 || idx >= len(record) {
		return ""
	}
	return record[idx]
}
