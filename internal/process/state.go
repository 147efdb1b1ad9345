package process

import "time"

// State represents where the supervisor is in its lifecycle.
// Transitions only move forward.
type State string

// Supervisor states.
const (
	StateRunning     State = "running"     // Child running, nothing requested
	StateTerminating State = "terminating" // Cascade issued, waiting for the child
	StateExited      State = "exited"      // Child reported an exit status
	StateGaveUp      State = "gave_up"     // Grace period elapsed without an exit status
)

// Reason explains why termination started.
type Reason string

// Termination reasons.
const (
	ReasonNone          Reason = ""
	ReasonSignal        Reason = "signal"
	ReasonParentGone    Reason = "parent_gone"
	ReasonContextCancel Reason = "context_cancelled"
)

// Info is a point-in-time view of the supervised child.
type Info struct {
	PID              int
	ParentPID        int
	Command          []string
	State            State
	Reason           Reason
	StartedAt        time.Time
	TerminatingSince time.Time
	Descendants      []int
	ExitCode         *int
}
