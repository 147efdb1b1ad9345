package events

import "time"

// Event type constants for kelindar/event.
const (
	TypeChildSpawned uint32 = iota + 1
	TypeTerminationStarted
	TypeDescendantKilled
	TypeChildExited
	TypeGaveUp
)

// Event interface required by kelindar/event.
type Event interface {
	Type() uint32
}

// ChildSpawnedEvent is published once the managed child is running.
type ChildSpawnedEvent struct {
	PID       int       `json:"pid"`
	ParentPID int       `json:"parent_pid"`
	Command   []string  `json:"command"`
	Timestamp time.Time `json:"timestamp"`
}

// Type returns the event type identifier for ChildSpawnedEvent.
func (e ChildSpawnedEvent) Type() uint32 { return TypeChildSpawned }

// TerminationStartedEvent is published on the running -> terminating edge,
// after the descendant set was resolved and before any kill is sent.
type TerminationStartedEvent struct {
	PID         int       `json:"pid"`
	Reason      string    `json:"reason"`
	Descendants []int     `json:"descendants"`
	Timestamp   time.Time `json:"timestamp"`
}

// Type returns the event type identifier for TerminationStartedEvent.
func (e TerminationStartedEvent) Type() uint32 { return TypeTerminationStarted }

// DescendantKilledEvent reports one kill attempt against a descendant.
// Error is empty when the signal was delivered.
type DescendantKilledEvent struct {
	PID       int       `json:"pid"`
	Error     string    `json:"error,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// Type returns the event type identifier for DescendantKilledEvent.
func (e DescendantKilledEvent) Type() uint32 { return TypeDescendantKilled }

// ChildExitedEvent is published when the child reported an exit status.
type ChildExitedEvent struct {
	PID       int       `json:"pid"`
	ExitCode  int       `json:"exit_code"`
	HasCode   bool      `json:"has_code"`
	Status    string    `json:"status"`
	Timestamp time.Time `json:"timestamp"`
}

// Type returns the event type identifier for ChildExitedEvent.
func (e ChildExitedEvent) Type() uint32 { return TypeChildExited }

// GaveUpEvent is published when the grace period elapsed without the child
// reporting an exit status.
type GaveUpEvent struct {
	PID         int           `json:"pid"`
	GracePeriod time.Duration `json:"grace_period"`
	Timestamp   time.Time     `json:"timestamp"`
}

// Type returns the event type identifier for GaveUpEvent.
func (e GaveUpEvent) Type() uint32 { return TypeGaveUp }
