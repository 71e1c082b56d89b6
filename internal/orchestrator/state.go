package orchestrator

// State is a step of a run.
type State string

// Run states, in order.
const (
	StateLoading      State = "loading"
	StatePartitioning State = "partitioning"
	StateRunning      State = "running"
	StateMonitoring   State = "monitoring"
	StateMerging      State = "merging"
	StateReporting    State = "reporting"
	StateDone         State = "done"
)
