package tasks

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/JakeFAU/goodreads-search-crawler/internal/crawler"
)

const maxLineBytes = 16 << 20

func loadJSONL(path string) ([]crawler.Task, error) {
	f, err := os.Open(path) //nolint:gosec // user supplied input path
	if err != nil {
		return nil, fmt.Errorf("%w: open %s: %v", ErrInput, path, err)
	}
	defer func() { _ = f.Close() }()

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 64*1024), maxLineBytes)

	var (
		out      []crawler.Task
		pos      int
		sawTitle bool
	)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		var rec map[string]any
		if err := json.Unmarshal([]byte(line), &rec); err != nil {
			return nil, fmt.Errorf("%w: decode record %d: %v", ErrInput, pos, err)
		}
		if _, ok := rec["title"]; ok {
			sawTitle = true
		}
		authorKey := pickAuthorColumn(func(c string) bool { _, ok := rec[c]; return ok })
		task, ok := newTask(pos, stringValue(rec["title"]), stringValue(rec[authorKey]))
		if ok {
			out = append(out, task)
		}
		pos++
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("%w: scan %s: %v", ErrInput, path, err)
	}
	if pos > 0 && !sawTitle {
		return nil, fmt.Errorf("%w: %s has no title field", ErrInput, path)
	}
	return out, nil
}

// stringValue flattens a decoded JSON value. Lists yield their first element.
func stringValue(v any) string {
	switch val := v.(type) {
	case nil:
		return ""
	case string:
		return val
	case []any:
		if len(val) == 0 {
			return ""
		}
		return stringValue(val[0])
	case map[string]any:
		if name, ok := val["name"]; ok {
			return stringValue(name)
		}
		return ""
	case float64:
		return strconv.FormatFloat(val, 'f', -1, 64)
	default:
		return fmt.Sprint(val)
	}
}

// WritePartition writes the hand-off file a worker process reads its tasks
// from, one JSON task per line.
func WritePartition(path string, part []crawler.Task) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return fmt.Errorf("create partition dir: %w", err)
	}
	tmp := path + ".tmp"
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o600) //nolint:gosec // derived from checkpoint dir
	if err != nil {
		return fmt.Errorf("create partition file: %w", err)
	}
	w := bufio.NewWriter(f)
	enc := json.NewEncoder(w)
	for _, t := range part {
		if err := enc.Encode(t); err != nil {
			_ = f.Close()
			return fmt.Errorf("encode partition task: %w", err)
		}
	}
	if err := w.Flush(); err != nil {
		_ = f.Close()
		return fmt.Errorf("flush partition file: %w", err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("close partition file: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("rename partition file: %w", err)
	}
	return nil
}

// ReadPartition reads a hand-off file written by WritePartition.
func ReadPartition(path string) ([]crawler.Task, error) {
	f, err := os.Open(path) //nolint:gosec // path passed by the orchestrator
	if err != nil {
		return nil, fmt.Errorf("%w: open partition: %v", ErrInput, err)
	}
	defer func() { _ = f.Close() }()

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 64*1024), maxLineBytes)
	var out []crawler.Task
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(strings.TrimSpace(string(line))) == 0 {
			continue
		}
		var t crawler.Task
		if err := json.Unmarshal(line, &t); err != nil {
			return nil, fmt.Errorf("%w: decode partition task: %v", ErrInput, err)
		}
		out = append(out, t)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("%w: scan partition: %v", ErrInput, err)
	}
	return out, nil
}
