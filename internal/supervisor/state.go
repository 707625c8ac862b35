// Package supervisor runs the background poller: a single cancellable task
// that wakes ahead of aligned boundaries and runs one poll cycle per slot.
package supervisor

// State represents the current state of the background poller.
type State int

const (
	// StateIdle is the initial state before the poller has been started.
	StateIdle State = iota

	// StateWaiting indicates the poller is sleeping until its next wake time.
	StateWaiting

	// StatePolling indicates a poll cycle is in progress.
	StatePolling

	// StateStopped indicates the loop ended by cancellation or cycle count.
	StateStopped

	// StateFailed indicates the loop ended because a cycle failed.
	StateFailed
)

// String returns a human-readable name for the state.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateWaiting:
		return "waiting"
	case StatePolling:
		return "polling"
	case StateStopped:
		return "stopped"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// MarshalText encodes the state by name.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// IsActive returns true while the loop is running.
func (s State) IsActive() bool {
	return s == StateWaiting || s == StatePolling
}

// IsTerminal returns true once the loop has ended.
func (s State) IsTerminal() bool {
	return s == StateStopped || s == StateFailed
}
