// Package worker launches and supervises the worker processes of a search
// run. Each worker is a separate OS process (by default this binary's hidden
// worker subcommand) that receives its partition through a hand-off file and
// reports progress only through its output and checkpoint files.
package worker

import (
	"errors"
	"fmt"
	"path/filepath"
	"strconv"

	"github.com/spf13/pflag"
)

// ErrWorkerLaunch reports a worker process that could not be started.
var ErrWorkerLaunch = errors.New("worker launch failed")

// TasksPath returns the partition hand-off file for a worker.
func TasksPath(dir string, workerID int) string {
	return filepath.Join(dir, fmt.Sprintf("tasks_%d.jsonl", workerID))
}

// LogPath returns the log file a quiet worker writes to.
func LogPath(dir string, workerID int) string {
	return filepath.Join(dir, fmt.Sprintf("worker_%d.log", workerID))
}

// Assignment is everything a worker process needs to know about its share of
// the run. It travels on the worker's command line.
type Assignment struct {
	ID             int
	TasksPath      string
	OutputPath     string
	CheckpointPath string
	Debug          bool
}

// BindFlags registers the assignment flags on fs.
func BindFlags(fs *pflag.FlagSet, a *Assignment) {
	fs.IntVar(&a.ID, "id", -1, "worker id")
	fs.StringVar(&a.TasksPath, "tasks", "", "partition hand-off file (JSON lines)")
	fs.StringVar(&a.OutputPath, "output", "", "output sink (CSV)")
	fs.StringVar(&a.CheckpointPath, "checkpoint", "", "checkpoint log")
	fs.BoolVar(&a.Debug, "debug", false, "verbose logging and HTML dumps")
}

// Args renders the assignment as flags understood by BindFlags.
func (a Assignment) Args() []string {
	args := []string{
		"--id=" + strconv.Itoa(a.ID),
		"--tasks=" + a.TasksPath,
		"--output=" + a.OutputPath,
		"--checkpoint=" + a.CheckpointPath,
	}
	if a.Debug {
		args = append(args, "--debug")
	}
	return args
}

// Validate checks that every path was provided.
func (a Assignment) Validate() error {
	switch {
	case a.ID < 0:
		return fmt.Errorf("worker id must be >= 0")
	case a.TasksPath == "":
		return fmt.Errorf("tasks path is required")
	case a.OutputPath == "":
		return fmt.Errorf("output path is required")
	case a.CheckpointPath == "":
		return fmt.Errorf("checkpoint path is required")
	}
	return nil
}
