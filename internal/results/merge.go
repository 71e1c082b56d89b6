package results

import (
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// Merge concatenates every existing sink, in the given order, into dest
// under a single header. Each sink's rows are re-projected onto Columns via
// the sink's own header. Missing sinks are skipped. dest is replaced
// atomically, so repeated merges simply overwrite it. Merge returns the
// number of data rows written.
//
// Sinks may still be appended to while a snapshot merge runs; only complete
// lines are read, and a sink whose tail cannot be parsed contributes the rows
// read before the damage.
func Merge(sinks []string, dest string) (int, error) {
	dir := filepath.Dir(dest)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return 0, fmt.Errorf("%w: create %s: %v", ErrMerge, dir, err)
	}
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(dest)+".*.tmp")
	if err != nil {
		return 0, fmt.Errorf("%w: create temp file: %v", ErrMerge, err)
	}
	tmpName := tmp.Name()
	cleanup := func() {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
	}

	w := csv.NewWriter(tmp)
	if err := w.Write(Columns); err != nil {
		cleanup()
		return 0, fmt.Errorf("%w: write header: %v", ErrMerge, err)
	}
	total := 0
	for _, sink := range sinks {
		n, err := copySink(w, sink)
		if err != nil {
			cleanup()
			return 0, err
		}
		total += n
	}
	w.Flush()
	if err := w.Error(); err != nil {
		cleanup()
		return 0, fmt.Errorf("%w: flush %s: %v", ErrMerge, tmpName, err)
	}
	if err := tmp.Sync(); err != nil {
		cleanup()
		return 0, fmt.Errorf("%w: sync %s: %v", ErrMerge, tmpName, err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return 0, fmt.Errorf("%w: close %s: %v", ErrMerge, tmpName, err)
	}
	if err := os.Rename(tmpName, dest); err != nil {
		_ = os.Remove(tmpName)
		return 0, fmt.Errorf("%w: replace %s: %v", ErrMerge, dest, err)
	}
	return total, nil
}

// copySink streams the complete rows of one sink into w. A sink that is
// missing or cannot be opened contributes no rows.
func copySink(w *csv.Writer, path string) (int, error) {
	f, err := os.Open(path) //nolint:gosec // sink paths are orchestrator-owned
	if err != nil {
		return 0, nil
	}
	defer func() { _ = f.Close() }()

	limit, err := completeLength(f)
	if err != nil || limit == 0 {
		return 0, nil
	}
	r := csv.NewReader(io.LimitReader(f, limit))
	r.FieldsPerRecord = -1
	header, err := r.Read()
	if err != nil {
		return 0, nil
	}
	mapping := projection(header)

	rows := 0
	for {
		rec, err := r.Read()
		if err != nil {
			// io.EOF or a torn tail: keep what was read.
			break
		}
		if err := w.Write(project(rec, mapping)); err != nil {
			return 0, fmt.Errorf("%w: write row from %s: %v", ErrMerge, path, err)
		}
		rows++
	}
	return rows, nil
}

// completeLength returns the length of f up to and including its last
// newline, leaving the read offset at the start of the file.
func completeLength(f *os.File) (int64, error) {
	info, err := f.Stat()
	if err != nil {
		return 0, fmt.Errorf("stat sink: %w", err)
	}
	const chunk = 4096
	buf := make([]byte, chunk)
	end := info.Size()
	for end > 0 {
		start := end - chunk
		if start < 0 {
			start = 0
		}
		n, err := f.ReadAt(buf[:end-start], start)
		if err != nil && !errors.Is(err, io.EOF) {
			return 0, fmt.Errorf("read sink tail: %w", err)
		}
		if i := bytes.LastIndexByte(buf[:n], '\n'); i >= 0 {
			return start + int64(i) + 1, nil
		}
		end = start
	}
	return 0, nil
}

// projection maps each output column to its position in header, or -1.
func projection(header []string) []int {
	pos := make(map[string]int, len(header))
	for i, name := range header {
		if _, dup := pos[name]; !dup {
			pos[name] = i
		}
	}
	out := make([]int, len(Columns))
	for i, col := range Columns {
		idx, ok := pos[col]
		if !ok {
			idx = -1
		}
		out[i] = idx
	}
	return out
}

func project(rec []string, mapping []int) []string {
	out := make([]string, len(mapping))
	for i, idx := range mapping {
		if idx >= 0 && idx < len(rec) {
			out[i] = rec[idx]
		}
	}
	return out
}
