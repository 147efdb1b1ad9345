package supervisor

import (
	"errors"
	"fmt"
	"os"
	"time"

	"golang.org/x/sys/unix"

	"github.com/smazurov/kill-orphan/internal/events"
	"github.com/smazurov/kill-orphan/internal/logging"
	"github.com/smazurov/kill-orphan/internal/proctree"
)

// ErrRootKill is returned when the root child could not be killed.
var ErrRootKill = errors.New("kill root child")

// Killable is the root of a tree the Canceller terminates.
type Killable interface {
	PID() int
	Kill() error
}

// Canceller sends SIGKILL to a child and every PID of its descendant set.
type Canceller struct {
	logger logging.Logger
	bus    *events.Bus
	kill   func(pid int) error
}

// NewCanceller creates a canceller. bus may be nil.
func NewCanceller(logger logging.Logger, bus *events.Bus) *Canceller {
	return &Canceller{
		logger: logger,
		bus:    bus,
		kill:   sigkill,
	}
}

func sigkill(pid int) error {
	return unix.Kill(pid, unix.SIGKILL)
}

// TerminateAll kills the root through its handle, then each descendant by
// PID. Descendant failures are logged and swallowed. A root that was
// already reaped is not a failure.
func (c *Canceller) TerminateAll(root Killable, descendants proctree.PIDSet) error {
	var rootErr error

	c.logger.Info("Killing main child process", "pid", root.PID())
	if err := root.Kill(); err != nil && !errors.Is(err, os.ErrProcessDone) {
		c.logger.Error("Failed to kill main child process", "pid", root.PID(), "error", err)
		rootErr = fmt.Errorf("%w %d: %w", ErrRootKill, root.PID(), err)
	}

	for _, pid := range descendants.Sorted() {
		c.logger.Info("Killing descendant of child", "pid", pid)
		ev := events.DescendantKilledEvent{PID: pid, Timestamp: time.Now()}
		if err := c.kill(pid); err != nil {
			// ESRCH: exited between snapshot and kill. EPERM: not ours to kill.
			c.logger.Debug("Failed to kill descendant", "pid", pid, "error", err)
			ev.Error = err.Error()
		}
		c.bus.Publish(ev)
	}

	return rootErr
}
