package reporter

// State is the reporter's position in its delivery cycle.
type State int32

const (
	// StateIdle waits for the next tick; the buffer fills meanwhile.
	StateIdle State = iota

	// StateReporting has drained the buffer and is sending a report.
	StateReporting

	// StateBackoff waits before retrying a failed send.
	StateBackoff

	// StateDisabled was rejected by the control plane. It is permanent for
	// the life of the process: ticks keep draining but never send.
	StateDisabled

	// StateStopped has shut down.
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateReporting:
		return "reporting"
	case StateBackoff:
		return "backoff"
	case StateDisabled:
		return "disabled"
	case StateStopped:
		return "stopped"
	default:
		return "unknown"
	}
}
