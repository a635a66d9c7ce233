package miner

// State is where a job is in its local lifecycle. Transitions are logged so
// the diagnostic file tells the whole story of every job.
type State int

const (
	StateIdle State = iota
	StateClaimed
	StateRunning
	StateSucceeded
	StateCancelled
	StateExhausted
	StateBroken
	StateUploading
	StateFatal
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateClaimed:
		return "claimed"
	case StateRunning:
		return "running"
	case StateSucceeded:
		return "succeeded"
	case StateCancelled:
		return "cancelled"
	case StateExhausted:
		return "exhausted"
	case StateBroken:
		return "broken"
	case StateUploading:
		return "uploading"
	case StateFatal:
		return "fatal"
	default:
		return "unknown"
	}
}
