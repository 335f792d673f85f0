// Package lifecycle runs the gateway process through a validated state
// machine: start hooks, a blocking serve loop, and graceful shutdown.
//
// The flow of a healthy process is:
//
//	Unknown → Starting → Running → Stopping → Stopped
//
// Any non-terminal state may move to Failed. Both terminal states (Stopped,
// Failed) may move back to Starting for a restart.
//
// State reads and writes on [Runner] are safe for concurrent use. The
// health endpoint reads the state while the serve loop and signal handler
// drive transitions.
package lifecycle

import "slices"

// State is the lifecycle state of a [Runner]. The zero value is not a
// valid state; runners begin in [StateUnknown].
type State string

const (
	// StateUnknown is the state of a runner that was never started.
	StateUnknown State = "unknown"

	// StateStarting is set before the start hook runs. Health checks fail
	// while starting.
	StateStarting State = "starting"

	// StateRunning means the start hook succeeded and the serve loop is
	// accepting requests. It is the only healthy state.
	StateRunning State = "running"

	// StateStopping is set before the stop hook runs, while in-flight
	// requests drain.
	StateStopping State = "stopping"

	// StateStopped is a clean shutdown.
	StateStopped State = "stopped"

	// StateFailed means a hook or the serve loop returned an error.
	StateFailed State = "failed"
)

func (s State) String() string {
	return string(s)
}

// Valid reports whether s is one of the defined states.
func (s State) Valid() bool {
	switch s {
	case StateUnknown, StateStarting, StateRunning, StateStopping, StateStopped, StateFailed:
		return true
	default:
		return false
	}
}

// IsTerminal reports whether s is [StateStopped] or [StateFailed].
func (s State) IsTerminal() bool {
	return s == StateStopped || s == StateFailed
}

// validTransitions is the transition matrix:
//
//	Unknown  → Starting, Failed
//	Starting → Running, Stopping, Failed
//	Running  → Stopping, Failed
//	Stopping → Stopped, Failed
//	Stopped  → Starting
//	Failed   → Starting
var validTransitions = map[State][]State{
	StateUnknown:  {StateStarting, StateFailed},
	StateStarting: {StateRunning, StateStopping, StateFailed},
	StateRunning:  {StateStopping, StateFailed},
	StateStopping: {StateStopped, StateFailed},
	StateStopped:  {StateStarting},
	StateFailed:   {StateStarting},
}

// ValidTransition reports whether from may move to to. Same-state
// transitions are always rejected.
func ValidTransition(from, to State) bool {
	if from == to {
		return false
	}
	return slices.Contains(validTransitions[from], to)
}
