package worker

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/goodreads-search-crawler/internal/crawler"
	"github.com/JakeFAU/goodreads-search-crawler/internal/tasks"
)

const defaultStopGrace = 5 * time.Second

// Config controls how worker processes are started.
type Config struct {
	// Executable is the program to run; defaults to the current binary.
	Executable string
	// BaseArgs precede the assignment flags; defaults to ["worker"].
	BaseArgs []string
	// Env is appended to the parent environment.
	Env []string
	// LogDir receives worker_<id>.log for quiet workers.
	LogDir string
	// StopGrace is the wait between SIGTERM and SIGKILL on cancellation.
	StopGrace time.Duration
	// Stdout and Stderr receive debug worker output; default os.Stdout/os.Stderr.
	Stdout io.Writer
	Stderr io.Writer
	Logger *zap.Logger
}

// Spec describes one worker to start.
type Spec struct {
	ID             int
	Partition      []crawler.Task
	TasksPath      string
	OutputPath     string
	CheckpointPath string
	Debug          bool
}

// Runner starts worker processes.
type Runner struct {
	cfg    Config
	logger *zap.Logger
}

// NewRunner applies defaults and returns a Runner.
func NewRunner(cfg Config) (*Runner, error) {
	if cfg.Executable == "" {
		exe, err := os.Executable()
		if err != nil {
			return nil, fmt.Errorf("resolve executable: %w", err)
		}
		cfg.Executable = exe
	}
	if cfg.BaseArgs == nil {
		cfg.BaseArgs = []string{"worker"}
	}
	if cfg.StopGrace <= 0 {
		cfg.StopGrace = defaultStopGrace
	}
	if cfg.Stdout == nil {
		cfg.Stdout = os.Stdout
	}
	if cfg.Stderr == nil {
		cfg.Stderr = os.Stderr
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Runner{cfg: cfg, logger: logger.Named("worker_runner")}, nil
}

// Spawn writes the partition hand-off file and starts the worker process. The
// process runs in its own process group; cancelling ctx terminates it with
// SIGTERM followed by SIGKILL after the stop grace period. Spawn returns
// immediately; use the Handle to observe the process.
func (r *Runner) Spawn(ctx context.Context, spec Spec) (*Handle, error) {
	tasksPath := spec.TasksPath
	if tasksPath == "" {
		tasksPath = TasksPath(filepath.Dir(spec.CheckpointPath), spec.ID)
	}
	if err := tasks.WritePartition(tasksPath, spec.Partition); err != nil {
		return nil, fmt.Errorf("%w: worker %d: %v", ErrWorkerLaunch, spec.ID, err)
	}

	assignment := Assignment{
		ID:             spec.ID,
		TasksPath:      tasksPath,
		OutputPath:     spec.OutputPath,
		CheckpointPath: spec.CheckpointPath,
		Debug:          spec.Debug,
	}
	args := append(append([]string(nil), r.cfg.BaseArgs...), assignment.Args()...)
	cmd := exec.Command(r.cfg.Executable, args...) //nolint:gosec // executable is this binary or configured by the operator
	cmd.Env = append(os.Environ(), r.cfg.Env...)

	logPath := ""
	var logFile *os.File
	if spec.Debug {
		cmd.Stdout = r.cfg.Stdout
		cmd.Stderr = r.cfg.Stderr
	} else {
		logPath = LogPath(r.cfg.LogDir, spec.ID)
		f, err := openLog(logPath)
		if err != nil {
			return nil, fmt.Errorf("%w: worker %d: %v", ErrWorkerLaunch, spec.ID, err)
		}
		logFile = f
		cmd.Stdout = f
		cmd.Stderr = f
	}
	configureProcess(cmd)

	if err := cmd.Start(); err != nil {
		if logFile != nil {
			_ = logFile.Close()
		}
		return nil, fmt.Errorf("%w: worker %d: %v", ErrWorkerLaunch, spec.ID, err)
	}

	h := newHandle(spec, logPath)
	h.pid = cmd.Process.Pid
	h.proc = cmd.Process
	r.logger.Debug("worker started",
		zap.Int("worker_id", spec.ID),
		zap.Int("pid", h.pid),
		zap.Int("tasks", len(spec.Partition)),
	)

	go func() {
		err := cmd.Wait()
		if logFile != nil {
			_ = logFile.Close()
		}
		h.finish(commandExitCode(err), err)
		r.logger.Debug("worker exited", zap.Int("worker_id", spec.ID), zap.Int("exit_code", h.ExitCode()))
	}()
	go r.watch(ctx, cmd, h)
	return h, nil
}

// watch terminates the worker's process group once ctx is cancelled.
func (r *Runner) watch(ctx context.Context, cmd *exec.Cmd, h *Handle) {
	select {
	case <-h.Done():
		return
	case <-ctx.Done():
	}
	r.logger.Info("stopping worker", zap.Int("worker_id", h.ID))
	signalGroup(cmd, termSignal)
	select {
	case <-h.Done():
	case <-time.After(r.cfg.StopGrace):
		r.logger.Warn("worker ignored SIGTERM, killing", zap.Int("worker_id", h.ID))
		signalGroup(cmd, killSignal)
	}
}

func openLog(path string) (*os.File, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return nil, fmt.Errorf("create log dir: %w", err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600) //nolint:gosec // derived from log dir
	if err != nil {
		return nil, fmt.Errorf("open worker log: %w", err)
	}
	return f, nil
}

func commandExitCode(err error) int {
	if err == nil {
		return 0
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		if code := exitErr.ExitCode(); code >= 0 {
			return code
		}
		return signalExitCode(exitErr)
	}
	return 1
}
