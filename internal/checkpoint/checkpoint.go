// Package checkpoint persists per-worker completion markers. Each worker owns
// one append-only log (checkpoint_<id>.txt) holding one task index per line;
// the union of all logs is the set of tasks that never need to run again.
package checkpoint

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"
)

const (
	filePrefix = "checkpoint_"
	fileSuffix = ".txt"
)

// Path returns the checkpoint log path for a worker.
func Path(dir string, workerID int) string {
	return filepath.Join(dir, fmt.Sprintf("%s%d%s", filePrefix, workerID, fileSuffix))
}

// Log is an open checkpoint log owned by a single worker process.
type Log struct {
	mu   sync.Mutex
	file *os.File
}

// Open opens (or creates) the log for workerID inside dir.
func Open(dir string, workerID int) (*Log, error) {
	return OpenFile(Path(dir, workerID))
}

// OpenFile opens (or creates) a checkpoint log at path. Complete markers are
// never truncated, so a restarted worker keeps appending to the same file. A
// torn final line left by an interrupted append is cut off first so the next
// marker starts on its own line.
func OpenFile(path string) (*Log, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return nil, fmt.Errorf("create checkpoint dir: %w", err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_RDWR, 0o600)
	if err != nil {
		return nil, fmt.Errorf("open checkpoint log: %w", err)
	}
	if err := trimTornTail(f); err != nil {
		_ = f.Close()
		return nil, err
	}
	return &Log{file: f}, nil
}

// trimTornTail truncates f after its last newline.
func trimTornTail(f *os.File) error {
	info, err := f.Stat()
	if err != nil {
		return fmt.Errorf("stat checkpoint log: %w", err)
	}
	size := info.Size()
	if size == 0 {
		return nil
	}
	const chunk = 512
	buf := make([]byte, chunk)
	keep := int64(0)
	for end := size; end > 0; {
		start := max(end-chunk, 0)
		n, err := f.ReadAt(buf[:end-start], start)
		if err != nil && !errors.Is(err, io.EOF) {
			return fmt.Errorf("read checkpoint log tail: %w", err)
		}
		if i := bytes.LastIndexByte(buf[:n], '\n'); i >= 0 {
			keep = start + int64(i) + 1
			break
		}
		end = start
	}
	if keep == size {
		return nil
	}
	if err := f.Truncate(keep); err != nil {
		return fmt.Errorf("trim torn checkpoint marker: %w", err)
	}
	if err := f.Sync(); err != nil {
		return fmt.Errorf("sync checkpoint log: %w", err)
	}
	return nil
}

// Append records index as completed. The marker is synced to disk before
// Append returns.
func (l *Log) Append(index int) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, err := l.file.WriteString(strconv.Itoa(index) + "\n"); err != nil {
		return fmt.Errorf("append checkpoint marker: %w", err)
	}
	if err := l.file.Sync(); err != nil {
		return fmt.Errorf("sync checkpoint log: %w", err)
	}
	return nil
}

// Close closes the underlying file.
func (l *Log) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if err := l.file.Close(); err != nil {
		return fmt.Errorf("close checkpoint log: %w", err)
	}
	return nil
}

// Append is a one-shot helper that opens the worker's log, appends a single
// marker, and closes it again.
func Append(dir string, workerID, index int) error {
	l, err := Open(dir, workerID)
	if err != nil {
		return err
	}
	if err := l.Append(index); err != nil {
		_ = l.Close()
		return err
	}
	return l.Close()
}

// Summary aggregates every checkpoint log found in a directory.
type Summary struct {
	// Completed is the union of all well-formed markers.
	Completed map[int]struct{}
	// Lines counts non-blank lines across all logs, duplicates included.
	Lines int
	// PerWorker counts non-blank lines per worker id.
	PerWorker map[int]int
	// Skipped counts non-blank lines that were not a valid index.
	Skipped int
	// Torn counts final lines without a newline. They come from an
	// interrupted append and are ignored.
	Torn int
	// Unreadable lists logs that could not be opened or read.
	Unreadable []string
}

// Scan reads every checkpoint log in dir. A missing directory is an empty
// summary; an unreadable single log contributes nothing and is listed in
// Summary.Unreadable instead of failing the scan.
func Scan(dir string) (Summary, error) {
	sum := Summary{Completed: make(map[int]struct{}), PerWorker: make(map[int]int)}
	entries, err := os.ReadDir(dir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return sum, nil
		}
		return sum, fmt.Errorf("read checkpoint dir: %w", err)
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Name() < entries[j].Name() })
	for _, entry := range entries {
		id, ok := parseName(entry.Name())
		if !ok || entry.IsDir() {
			continue
		}
		path := filepath.Join(dir, entry.Name())
		if err := scanFile(path, id, &sum); err != nil {
			sum.Unreadable = append(sum.Unreadable, path)
		}
	}
	return sum, nil
}

func scanFile(path string, workerID int, sum *Summary) error {
	f, err := os.Open(path) //nolint:gosec // path comes from a directory listing
	if err != nil {
		return fmt.Errorf("open checkpoint log: %w", err)
	}
	defer func() { _ = f.Close() }()

	r := bufio.NewReader(f)
	for {
		raw, err := r.ReadString('\n')
		if err != nil {
			if !errors.Is(err, io.EOF) {
				return fmt.Errorf("scan checkpoint log: %w", err)
			}
			if strings.TrimSpace(raw) != "" {
				sum.Torn++
			}
			return nil
		}
		line := strings.TrimSpace(raw)
		if line == "" {
			continue
		}
		sum.Lines++
		if workerID >= 0 {
			sum.PerWorker[workerID]++
		}
		idx, err := strconv.Atoi(line)
		if err != nil || idx < 0 {
			sum.Skipped++
			continue
		}
		sum.Completed[idx] = struct{}{}
	}
}

// parseName matches checkpoint_<id>.txt. Logs with a non-numeric id still
// count towards the union; they report id -1.
func parseName(name string) (int, bool) {
	if !strings.HasPrefix(name, filePrefix) || !strings.HasSuffix(name, fileSuffix) {
		return 0, false
	}
	raw := strings.TrimSuffix(strings.TrimPrefix(name, filePrefix), fileSuffix)
	id, err := strconv.Atoi(raw)
	if err != nil {
		return -1, true
	}
	return id, true
}

// ScanAll returns the set of completed task indices across all logs in dir.
func ScanAll(dir string) (map[int]struct{}, error) {
	sum, err := Scan(dir)
	if err != nil {
		return nil, err
	}
	return sum.Completed, nil
}

// CountAll returns the total number of non-blank marker lines in dir. It does
// not deduplicate and is cheap enough to call on every monitor tick.
func CountAll(dir string) (int, error) {
	sum, err := Scan(dir)
	if err != nil {
		return 0, err
	}
	return sum.Lines, nil
}

// CountWorkers returns the number of marker lines per worker id.
func CountWorkers(dir string) (map[int]int, error) {
	sum, err := Scan(dir)
	if err != nil {
		return nil, err
	}
	return sum.PerWorker, nil
}
