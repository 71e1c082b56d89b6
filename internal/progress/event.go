package progress

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Stage denotes the type of milestone represented by an Event.
type Stage string

// Supported progress stages.
const (
	StageRunStart    Stage = "RUN_START"
	StageRunProgress Stage = "RUN_PROGRESS"
	StageSnapshot    Stage = "SNAPSHOT"
	StageWorkerExit  Stage = "WORKER_EXIT"
	StageRunDone     Stage = "RUN_DONE"
)

// Event captures one observation of a search run.
type Event struct {
	// RunID identifies the run using the 16-byte UUID form.
	RunID [16]byte
	TS    time.Time
	Stage Stage
	// Total is the number of tasks in the input, completed ones included.
	Total     int
	Completed int
	Active    int
	Failed    int
	// WorkerID and ExitCode are set on WORKER_EXIT.
	WorkerID int
	ExitCode int
	// Percent, Path and Rows describe a snapshot, or the final merge on RUN_DONE.
	Percent int
	Path    string
	Rows    int
	// Note lets emitters attach low-volume context (e.g. error text).
	Note string
}

// Validate performs coarse validation on Event payloads.
func (e Event) Validate() error {
	if e.RunID == [16]byte{} {
		return errors.New("run id is required")
	}
	if e.TS.IsZero() {
		return errors.New("timestamp is required")
	}
	if e.Total < 0 || e.Completed < 0 || e.Active < 0 || e.Failed < 0 || e.Rows < 0 {
		return errors.New("counters must be >= 0")
	}
	switch e.Stage {
	case StageRunStart, StageRunProgress, StageRunDone:
	case StageSnapshot:
		if e.Percent <= 0 || e.Percent > 100 {
			return fmt.Errorf("snapshot percent %d out of range", e.Percent)
		}
		if e.Path == "" {
			return errors.New("snapshot requires path")
		}
	case StageWorkerExit:
		if e.WorkerID < 0 {
			return errors.New("worker exit requires worker id")
		}
	default:
		return fmt.Errorf("unknown stage %q", e.Stage)
	}
	return nil
}

// RunUUID converts the binary run ID to uuid.UUID for repositories.
func (e Event) RunUUID() uuid.UUID {
	return uuid.UUID(e.RunID)
}

// Fraction returns Completed/Total in [0,1]; an empty run counts as done.
func (e Event) Fraction() float64 {
	if e.Total <= 0 {
		return 1
	}
	f := float64(e.Completed) / float64(e.Total)
	if f > 1 {
		return 1
	}
	return f
}

// UUIDToBytes encodes a uuid.UUID into the Event form.
func UUIDToBytes(id uuid.UUID) [16]byte {
	var dest [16]byte
	copy(dest[:], id[:])
	return dest
}
