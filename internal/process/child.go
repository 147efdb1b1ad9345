package process

import (
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"syscall"
	"time"
)

// ExitFallback is reported for a child that ended without an exit code,
// e.g. because it was killed by a signal.
const ExitFallback = 1

// ErrEmptyCommand is returned by Spawn when argv is empty.
var ErrEmptyCommand = errors.New("empty command")

// Stdio holds the streams handed to the child. *os.File values are passed
// to the child directly, so its output is not buffered or transformed.
type Stdio struct {
	Stdin  io.Reader
	Stdout io.Writer
	Stderr io.Writer
}

// InheritStdio returns the supervisor's own standard streams.
func InheritStdio() Stdio {
	return Stdio{Stdin: os.Stdin, Stdout: os.Stdout, Stderr: os.Stderr}
}

// Status describes how the child ended.
type Status struct {
	// Code is the exit code; only meaningful when HasCode is true.
	Code    int
	HasCode bool
	// Signal is set when the child was terminated by a signal.
	Signal os.Signal
	// Err holds a wait failure that is not an exit status.
	Err error
}

// ExitCode returns the code the supervisor should exit with for this status.
func (s Status) ExitCode() int {
	if s.HasCode {
		return s.Code
	}
	return ExitFallback
}

// String renders the status the way the exit log line shows it.
func (s Status) String() string {
	switch {
	case s.HasCode:
		return fmt.Sprintf("exit code %d", s.Code)
	case s.Signal != nil:
		return fmt.Sprintf("signal: %s", s.Signal)
	case s.Err != nil:
		return s.Err.Error()
	default:
		return "unknown"
	}
}

// Child is the single process spawned and owned by the supervisor.
type Child struct {
	cmd       *exec.Cmd
	argv      []string
	startedAt time.Time
	done      chan struct{}
	status    Status
}

// Spawn starts argv with the given streams.
//
// The exit status is collected by a background goroutine so that Exited can
// poll it without blocking.
func Spawn(argv []string, stdio Stdio) (*Child, error) {
	if len(argv) == 0 {
		return nil, ErrEmptyCommand
	}

	cmd := exec.Command(argv[0], argv[1:]...)
	cmd.Stdin = stdio.Stdin
	cmd.Stdout = stdio.Stdout
	cmd.Stderr = stdio.Stderr

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start %s: %w", argv[0], err)
	}

	c := &Child{
		cmd:       cmd,
		argv:      append([]string(nil), argv...),
		startedAt: time.Now(),
		done:      make(chan struct{}),
	}
	go func() {
		c.status = statusFromError(cmd.Wait())
		close(c.done)
	}()
	return c, nil
}

// PID returns the process ID of the child.
func (c *Child) PID() int {
	return c.cmd.Process.Pid
}

// Args returns the command line the child was started with.
func (c *Child) Args() []string {
	return append([]string(nil), c.argv...)
}

// StartedAt returns the spawn time.
func (c *Child) StartedAt() time.Time {
	return c.startedAt
}

// Kill sends SIGKILL through the process handle. It returns
// os.ErrProcessDone when the child has already been reaped.
func (c *Child) Kill() error {
	return c.cmd.Process.Kill()
}

// Exited polls the exit status without blocking.
func (c *Child) Exited() (Status, bool) {
	select {
	case <-c.done:
		return c.status, true
	default:
		return Status{}, false
	}
}

// Done is closed once the exit status is available.
func (c *Child) Done() <-chan struct{} {
	return c.done
}

// statusFromError converts the result of exec.Cmd.Wait into a Status.
func statusFromError(err error) Status {
	if err == nil {
		return Status{Code: 0, HasCode: true}
	}
	var exitErr *exec.ExitError
	if !errors.As(err, &exitErr) {
		return Status{Err: err}
	}
	if ws, ok := exitErr.Sys().(syscall.WaitStatus); ok && ws.Signaled() {
		return Status{Signal: ws.Signal()}
	}
	if code := exitErr.ExitCode(); code >= 0 {
		return Status{Code: code, HasCode: true}
	}
	return Status{Err: err}
}
