package supervisor

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/smazurov/kill-orphan/internal/events"
	"github.com/smazurov/kill-orphan/internal/logging"
	"github.com/smazurov/kill-orphan/internal/process"
	"github.com/smazurov/kill-orphan/internal/proctree"
)

// Defaults for Options.
const (
	DefaultPollInterval = 100 * time.Millisecond
	DefaultGracePeriod  = 5 * time.Second
)

// ExitTimeout is returned when the child did not report an exit status
// within the grace period after the kill cascade.
const ExitTimeout = 1

// Child is the supervised process as seen by the loop.
type Child interface {
	Killable
	Exited() (process.Status, bool)
}

// Latch reports whether a termination signal has been received.
type Latch interface {
	Tripped() bool
}

// Options configures a Supervisor.
type Options struct {
	Provider proctree.Provider
	Latch    Latch
	Child    Child

	// ParentPID is the process whose disappearance triggers the cascade.
	ParentPID int
	// WatchOwnParent marks ParentPID as the supervisor's own parent, so a
	// change of os.Getppid() also counts as the parent being gone.
	WatchOwnParent bool

	PollInterval time.Duration
	GracePeriod  time.Duration

	// Command and StartedAt are reported by Info only.
	Command   []string
	StartedAt time.Time

	Bus    *events.Bus
	Logger logging.Logger
}

// Supervisor owns the polling loop for a single child.
type Supervisor struct {
	opts      Options
	canceller *Canceller
	logger    logging.Logger
	getppid   func() int

	mu   sync.RWMutex
	info process.Info
}

// New validates opts and creates a Supervisor in the running state.
func New(opts Options) (*Supervisor, error) {
	if opts.Provider == nil {
		return nil, errors.New("supervisor: provider is required")
	}
	if opts.Latch == nil {
		return nil, errors.New("supervisor: latch is required")
	}
	if opts.Child == nil {
		return nil, errors.New("supervisor: child is required")
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = DefaultPollInterval
	}
	if opts.GracePeriod <= 0 {
		opts.GracePeriod = DefaultGracePeriod
	}
	if opts.Logger == nil {
		opts.Logger = logging.GetLogger("supervisor")
	}

	return &Supervisor{
		opts:      opts,
		canceller: NewCanceller(opts.Logger, opts.Bus),
		logger:    opts.Logger,
		getppid:   os.Getppid,
		info: process.Info{
			PID:       opts.Child.PID(),
			ParentPID: opts.ParentPID,
			Command:   append([]string(nil), opts.Command...),
			State:     process.StateRunning,
			StartedAt: opts.StartedAt,
		},
	}, nil
}

// Info returns a snapshot of the supervisor state. Safe for concurrent use.
func (s *Supervisor) Info() process.Info {
	s.mu.RLock()
	defer s.mu.RUnlock()
	info := s.info
	info.Command = append([]string(nil), s.info.Command...)
	info.Descendants = append([]int(nil), s.info.Descendants...)
	if s.info.ExitCode != nil {
		code := *s.info.ExitCode
		info.ExitCode = &code
	}
	return info
}

// Run polls until the child reports an exit status or the grace period
// after the cascade elapses. It returns the exit code for the supervisor
// process. A non-nil error means the cascade itself failed.
//
// Cancelling ctx has the same effect as a termination signal.
func (s *Supervisor) Run(ctx context.Context) (int, error) {
	ticker := time.NewTicker(s.opts.PollInterval)
	defer ticker.Stop()

	s.opts.Bus.Publish(events.ChildSpawnedEvent{
		PID:       s.opts.Child.PID(),
		ParentPID: s.opts.ParentPID,
		Command:   append([]string(nil), s.opts.Command...),
		Timestamp: time.Now(),
	})

	done := ctx.Done()
	for {
		if s.state() == process.StateRunning {
			if reason := s.trigger(ctx); reason != process.ReasonNone {
				done = nil
				if err := s.terminate(reason); err != nil {
					return process.ExitFallback, err
				}
			}
		}

		if status, ok := s.opts.Child.Exited(); ok {
			return s.exited(status), nil
		}

		if since, terminating := s.terminatingSince(); terminating {
			if time.Since(since) > s.opts.GracePeriod {
				s.gaveUp()
				return ExitTimeout, nil
			}
		}

		select {
		case <-ticker.C:
		case <-done:
			// Handled by trigger on the next pass.
			done = nil
		}
	}
}

// trigger returns why the cascade should start now, if at all.
func (s *Supervisor) trigger(ctx context.Context) process.Reason {
	if s.opts.Latch.Tripped() {
		s.logger.Info("Received termination signal, killing process")
		return process.ReasonSignal
	}
	if s.parentGone() {
		s.logger.Info("Parent process doesn't exist anymore, killing process", "parent_pid", s.opts.ParentPID)
		return process.ReasonParentGone
	}
	if ctx.Err() != nil {
		s.logger.Info("Context cancelled, killing process")
		return process.ReasonContextCancel
	}
	return process.ReasonNone
}

func (s *Supervisor) parentGone() bool {
	if !s.opts.Provider.IsAlive(s.opts.ParentPID) {
		return true
	}
	// Reparenting to init or a subreaper means the original parent is gone
	// even if its PID was reused in the meantime.
	return s.opts.WatchOwnParent && s.getppid() != s.opts.ParentPID
}

// terminate runs the one and only cascade.
func (s *Supervisor) terminate(reason process.Reason) error {
	now := time.Now()
	root := s.opts.Child.PID()

	var descendants proctree.PIDSet
	snap, snapErr := s.opts.Provider.Snapshot()
	if snapErr == nil {
		descendants = proctree.Descendants(root, snap)
	}

	s.mu.Lock()
	s.info.State = process.StateTerminating
	s.info.Reason = reason
	s.info.TerminatingSince = now
	s.info.Descendants = descendants.Sorted()
	s.mu.Unlock()

	s.opts.Bus.Publish(events.TerminationStartedEvent{
		PID:         root,
		Reason:      string(reason),
		Descendants: descendants.Sorted(),
		Timestamp:   now,
	})

	// Without a snapshot the root is still killed so the child cannot outlive us.
	err := s.canceller.TerminateAll(s.opts.Child, descendants)
	if snapErr != nil {
		return errors.Join(fmt.Errorf("snapshot descendants of %d: %w", root, snapErr), err)
	}
	return err
}

func (s *Supervisor) exited(status process.Status) int {
	code := status.ExitCode()
	if status.HasCode {
		s.logger.Info("Process exited with status", "code", status.Code)
	} else {
		s.logger.Info("Process exited with status", "code", nil, "status", status.String())
	}

	s.mu.Lock()
	s.info.State = process.StateExited
	s.info.ExitCode = &code
	s.mu.Unlock()

	s.opts.Bus.Publish(events.ChildExitedEvent{
		PID:       s.opts.Child.PID(),
		ExitCode:  status.Code,
		HasCode:   status.HasCode,
		Status:    status.String(),
		Timestamp: time.Now(),
	})
	return code
}

func (s *Supervisor) gaveUp() {
	s.logger.Warn(fmt.Sprintf("Process didn't exit after %s, giving up", graceText(s.opts.GracePeriod)),
		"pid", s.opts.Child.PID())

	code := ExitTimeout
	s.mu.Lock()
	s.info.State = process.StateGaveUp
	s.info.ExitCode = &code
	s.mu.Unlock()

	s.opts.Bus.Publish(events.GaveUpEvent{
		PID:         s.opts.Child.PID(),
		GracePeriod: s.opts.GracePeriod,
		Timestamp:   time.Now(),
	})
}

func (s *Supervisor) state() process.State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.info.State
}

func (s *Supervisor) terminatingSince() (time.Time, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.info.TerminatingSince, s.info.State == process.StateTerminating
}

// graceText renders whole seconds as "5 seconds".
func graceText(d time.Duration) string {
	if d%time.Second == 0 {
		n := int(d / time.Second)
		if n == 1 {
			return "1 second"
		}
		return fmt.Sprintf("%d seconds", n)
	}
	return d.String()
}
