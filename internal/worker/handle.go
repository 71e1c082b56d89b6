package worker

import (
	"os"
	"sync"
	"time"
)

// Handle observes one worker process.
type Handle struct {
	ID             int
	OutputPath     string
	CheckpointPath string
	LogPath        string

	pid  int
	proc *os.Process
	done chan struct{}

	mu       sync.RWMutex
	exitCode int
	err      error
}

func newHandle(spec Spec, logPath string) *Handle {
	return &Handle{
		ID:             spec.ID,
		OutputPath:     spec.OutputPath,
		CheckpointPath: spec.CheckpointPath,
		LogPath:        logPath,
		done:           make(chan struct{}),
		exitCode:       -1,
	}
}

// FailedHandle returns an already-exited handle for a worker whose process
// could not be started. Its exit code is -1.
func FailedHandle(spec Spec, err error) *Handle {
	h := newHandle(spec, "")
	h.err = err
	close(h.done)
	return h
}

func (h *Handle) finish(code int, err error) {
	h.mu.Lock()
	h.exitCode = code
	h.err = err
	h.mu.Unlock()
	close(h.done)
}

// PID returns the operating-system process id, or 0 if never started.
func (h *Handle) PID() int {
	return h.pid
}

// Alive reports whether the process is still running.
func (h *Handle) Alive() bool {
	select {
	case <-h.done:
		return false
	default:
		return true
	}
}

// ExitCode returns the exit code, or -1 while the process is running.
// Processes killed by a signal report 128+signal.
func (h *Handle) ExitCode() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.exitCode
}

// Failed reports whether the process has exited unsuccessfully.
func (h *Handle) Failed() bool {
	return !h.Alive() && h.ExitCode() != 0
}

// Err returns the wait or launch error, if any.
func (h *Handle) Err() error {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.err
}

// Done is closed once the process has exited.
func (h *Handle) Done() <-chan struct{} {
	return h.done
}

// Wait blocks until the process exits or timeout elapses and reports whether
// it exited. A non-positive timeout waits indefinitely.
func (h *Handle) Wait(timeout time.Duration) bool {
	if timeout <= 0 {
		<-h.done
		return true
	}
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case <-h.done:
		return true
	case <-timer.C:
		return false
	}
}

// Signal delivers sig to the worker process.
func (h *Handle) Signal(sig os.Signal) error {
	if h.proc == nil || !h.Alive() {
		return os.ErrProcessDone
	}
	return h.proc.Signal(sig) //nolint:wrapcheck // caller inspects os errors
}
