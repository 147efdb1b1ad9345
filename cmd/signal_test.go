package cmd

import (
	"bufio"
	"errors"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"testing"
	"time"

	"golang.org/x/sys/unix"

	"github.com/smazurov/kill-orphan/internal/proctree"
)

// grandchildScript starts a descendant, prints its pid and waits on it.
const grandchildScript = "sleep 100 & echo $!; wait"

const treeTimeout = 10 * time.Second

type supervised struct {
	cmd        *exec.Cmd
	stderr     *lockedBuffer
	stderrDone chan struct{}
	grandchild int
}

// startSupervised starts name with the re-exec environment and returns once
// the grandchild pid has been printed. By then the signal handlers of the
// kill-orphan process are installed.
func startSupervised(t *testing.T, name string, args ...string) *supervised {
	t.Helper()

	outR, outW, err := os.Pipe()
	if err != nil {
		t.Fatal(err)
	}
	errR, errW, err := os.Pipe()
	if err != nil {
		t.Fatal(err)
	}

	c := exec.Command(name, args...)
	c.Env = append(os.Environ(),
		reexecEnv+"=1",
		"KILL_ORPHAN_STATUS_ADDR=",
		"KILL_ORPHAN_LOGGING_FORMAT=text",
	)
	c.Stdout = outW
	c.Stderr = errW
	if err := c.Start(); err != nil {
		t.Fatalf("start %s: %v", name, err)
	}
	outW.Close()
	errW.Close()

	s := &supervised{cmd: c, stderr: &lockedBuffer{}, stderrDone: make(chan struct{})}
	go func() {
		// EOF once every process holding the pipe has exited.
		_, _ = io.Copy(s.stderr, errR)
		errR.Close()
		close(s.stderrDone)
	}()

	lines := make(chan string, 1)
	go func() {
		line, _ := bufio.NewReader(outR).ReadString('\n')
		lines <- line
	}()

	t.Cleanup(func() {
		if s.grandchild > 0 {
			_ = unix.Kill(s.grandchild, unix.SIGKILL)
		}
		_ = c.Process.Kill()
		_ = c.Wait()
		outR.Close()
	})

	select {
	case line := <-lines:
		pid, err := strconv.Atoi(strings.TrimSpace(line))
		if err != nil {
			t.Fatalf("grandchild pid %q: %v (stderr: %s)", line, err, s.stderr.String())
		}
		s.grandchild = pid
	case <-time.After(treeTimeout):
		t.Fatalf("no grandchild pid printed (stderr: %s)", s.stderr.String())
	}
	return s
}

func (s *supervised) wait(t *testing.T) int {
	t.Helper()
	done := make(chan error, 1)
	go func() { done <- s.cmd.Wait() }()

	select {
	case err := <-done:
		var exitErr *exec.ExitError
		if err != nil && !errors.As(err, &exitErr) {
			t.Fatalf("wait: %v", err)
		}
	case <-time.After(treeTimeout):
		t.Fatalf("process did not exit (stderr: %s)", s.stderr.String())
	}
	return s.cmd.ProcessState.ExitCode()
}

// logs returns the output of the whole tree once all of it has exited.
func (s *supervised) logs(t *testing.T) string {
	t.Helper()
	select {
	case <-s.stderrDone:
	case <-time.After(treeTimeout):
		t.Fatalf("process tree still holds stderr open: %s", s.stderr.String())
	}
	return s.stderr.String()
}

func assertDead(t *testing.T, pid int) {
	t.Helper()
	provider, err := proctree.NewProvider(slog.New(slog.NewTextHandler(io.Discard, nil)))
	if err != nil {
		t.Skipf("no process provider: %v", err)
	}
	deadline := time.Now().Add(treeTimeout)
	for provider.IsAlive(pid) {
		if time.Now().After(deadline) {
			t.Errorf("descendant %d survived", pid)
			return
		}
		time.Sleep(20 * time.Millisecond)
	}
}

func TestTerminationSignalKillsTree(t *testing.T) {
	for _, sig := range []unix.Signal{unix.SIGINT, unix.SIGTERM, unix.SIGQUIT} {
		t.Run(unix.SignalName(sig), func(t *testing.T) {
			s := startSupervised(t, os.Args[0], "sh", "-c", grandchildScript)

			if err := s.cmd.Process.Signal(sig); err != nil {
				t.Fatalf("signal: %v", err)
			}
			// Repeated signals must not start another cascade.
			_ = s.cmd.Process.Signal(unix.SIGTERM)

			if code := s.wait(t); code != ExitFailure {
				t.Errorf("exit code = %d, want %d", code, ExitFailure)
			}
			out := s.logs(t)
			if !strings.Contains(out, "Received termination signal") {
				t.Errorf("signal not logged: %s", out)
			}
			if got := strings.Count(out, "Killing main child process"); got != 1 {
				t.Errorf("cascade ran %d times, want 1: %s", got, out)
			}
			assertDead(t, s.grandchild)
		})
	}
}

func TestParentDeathKillsTree(t *testing.T) {
	// test -> sh -> kill-orphan -> sh -> sleep; the first sh is killed.
	s := startSupervised(t, "sh", "-c", `"$0" "$@" & wait`, os.Args[0], "sh", "-c", grandchildScript)

	if err := s.cmd.Process.Kill(); err != nil {
		t.Fatalf("kill intermediate parent: %v", err)
	}
	s.wait(t)

	out := s.logs(t)
	if !strings.Contains(out, "Parent process doesn't exist anymore") {
		t.Errorf("parent death not logged: %s", out)
	}
	if got := strings.Count(out, "Killing main child process"); got != 1 {
		t.Errorf("cascade ran %d times, want 1: %s", got, out)
	}
	assertDead(t, s.grandchild)
}
