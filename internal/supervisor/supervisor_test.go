package supervisor

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"golang.org/x/sys/unix"

	"github.com/smazurov/kill-orphan/internal/events"
	"github.com/smazurov/kill-orphan/internal/process"
	"github.com/smazurov/kill-orphan/internal/proctree"
	"github.com/smazurov/kill-orphan/internal/signals"
)

// syncBuffer lets the test read log output while the loop may still write.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func newTestLogger(w io.Writer) *slog.Logger {
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: slog.LevelDebug}))
}

// fakeChild exits with status once killed, unless stubborn.
type fakeChild struct {
	mu       sync.Mutex
	pid      int
	kills    int
	stubborn bool
	exited   bool
	status   process.Status
	killErr  error
}

func (c *fakeChild) PID() int { return c.pid }

func (c *fakeChild) Kill() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.kills++
	if c.killErr != nil {
		return c.killErr
	}
	if !c.stubborn {
		c.exited = true
		c.status = process.Status{Signal: unix.SIGKILL}
	}
	return nil
}

func (c *fakeChild) Exited() (process.Status, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.status, c.exited
}

func (c *fakeChild) exit(status process.Status) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.exited = true
	c.status = status
}

func (c *fakeChild) killCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.kills
}

// fakeProvider serves a fixed snapshot and a switchable parent.
type fakeProvider struct {
	mu        sync.Mutex
	snap      proctree.Snapshot
	snapErr   error
	dead      map[int]bool
	snapshots int
}

func (p *fakeProvider) Snapshot() (proctree.Snapshot, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.snapshots++
	return p.snap, p.snapErr
}

func (p *fakeProvider) snapshotCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.snapshots
}

func (p *fakeProvider) IsAlive(pid int) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return !p.dead[pid]
}

func (p *fakeProvider) kill(pid int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.dead == nil {
		p.dead = make(map[int]bool)
	}
	p.dead[pid] = true
}

func newFakeSupervisor(t *testing.T, child Child, provider proctree.Provider, latch Latch, logs io.Writer, grace time.Duration) *Supervisor {
	t.Helper()
	s, err := New(Options{
		Provider:     provider,
		Latch:        latch,
		Child:        child,
		ParentPID:    1000,
		PollInterval: 10 * time.Millisecond,
		GracePeriod:  grace,
		Logger:       newTestLogger(logs),
	})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	// Never treat the real test binary's parent as relevant.
	s.getppid = func() int { return 1000 }
	s.canceller.kill = func(int) error { return nil }
	return s
}

func TestNewRequiresCollaborators(t *testing.T) {
	if _, err := New(Options{}); err == nil {
		t.Error("expected error without provider")
	}
	if _, err := New(Options{Provider: &fakeProvider{}}); err == nil {
		t.Error("expected error without latch")
	}
	if _, err := New(Options{Provider: &fakeProvider{}, Latch: signals.New()}); err == nil {
		t.Error("expected error without child")
	}
}

func TestRunPassesThroughExitCode(t *testing.T) {
	tests := []struct {
		name   string
		status process.Status
		want   int
	}{
		{"success", process.Status{Code: 0, HasCode: true}, 0},
		{"failure", process.Status{Code: 3, HasCode: true}, 3},
		{"signalled", process.Status{Signal: unix.SIGTERM}, process.ExitFallback},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			child := &fakeChild{pid: 4242}
			child.exit(tt.status)
			var logs syncBuffer
			s := newFakeSupervisor(t, child, &fakeProvider{}, signals.New(), &logs, time.Second)

			code, err := s.Run(context.Background())
			if err != nil {
				t.Fatalf("Run returned error: %v", err)
			}
			if code != tt.want {
				t.Errorf("exit code = %d, want %d", code, tt.want)
			}
			if child.killCount() != 0 {
				t.Errorf("child was killed %d times, want 0", child.killCount())
			}
			if !strings.Contains(logs.String(), "Process exited with status") {
				t.Errorf("missing exit log: %s", logs.String())
			}
			if s.Info().State != process.StateExited {
				t.Errorf("state = %s, want exited", s.Info().State)
			}
		})
	}
}

func TestSignalTriggersSingleCascade(t *testing.T) {
	child := &fakeChild{pid: 10, stubborn: true}
	provider := &fakeProvider{snap: proctree.NewSnapshot([]proctree.Process{
		{PID: 10, PPID: 1000},
		{PID: 11, PPID: 10},
		{PID: 12, PPID: 11},
		{PID: 20, PPID: 1},
	})}
	latch := signals.New()
	var logs syncBuffer
	s := newFakeSupervisor(t, child, provider, latch, &logs, 150*time.Millisecond)

	var killed []int
	var killedMu sync.Mutex
	s.canceller.kill = func(pid int) error {
		killedMu.Lock()
		defer killedMu.Unlock()
		killed = append(killed, pid)
		return nil
	}

	// Keep "delivering" signals for the whole run.
	stop := make(chan struct{})
	defer close(stop)
	go func() {
		for {
			select {
			case <-stop:
				return
			default:
				latch.Trip()
				time.Sleep(time.Millisecond)
			}
		}
	}()

	code, err := s.Run(context.Background())
	if err != nil {
		t.Fatalf("Run returned error: %v", err)
	}
	if code != ExitTimeout {
		t.Errorf("exit code = %d, want %d", code, ExitTimeout)
	}
	if child.killCount() != 1 {
		t.Errorf("root killed %d times, want 1", child.killCount())
	}
	if got := strings.Count(logs.String(), "Killing main child process"); got != 1 {
		t.Errorf("cascade logged %d times, want 1", got)
	}
	if got := provider.snapshotCount(); got != 1 {
		t.Errorf("took %d snapshots, want 1", got)
	}

	killedMu.Lock()
	defer killedMu.Unlock()
	if len(killed) != 2 || killed[0] != 11 || killed[1] != 12 {
		t.Errorf("descendants killed = %v, want [11 12]", killed)
	}

	info := s.Info()
	if info.State != process.StateGaveUp || info.Reason != process.ReasonSignal {
		t.Errorf("info = %+v, want gave_up/signal", info)
	}
}

func TestTimeoutBoundary(t *testing.T) {
	const (
		grace = 300 * time.Millisecond
		poll  = 10 * time.Millisecond
		slack = 150 * time.Millisecond
	)

	child := &fakeChild{pid: 10, stubborn: true}
	latch := signals.New()
	latch.Trip()
	var logs syncBuffer
	s := newFakeSupervisor(t, child, &fakeProvider{}, latch, &logs, grace)

	start := time.Now()
	code, err := s.Run(context.Background())
	elapsed := time.Since(start)

	if err != nil {
		t.Fatalf("Run returned error: %v", err)
	}
	if code != ExitTimeout {
		t.Errorf("exit code = %d, want %d", code, ExitTimeout)
	}
	if elapsed < grace || elapsed > grace+poll+slack {
		t.Errorf("elapsed = %v, want within [%v, %v]", elapsed, grace, grace+poll+slack)
	}
	if !strings.Contains(logs.String(), "giving up") {
		t.Errorf("missing give-up log: %s", logs.String())
	}
}

func TestCascadeRunsBeforeExitPoll(t *testing.T) {
	// Child already exited, signal already received: the cascade still runs.
	child := &fakeChild{pid: 10}
	child.exit(process.Status{Code: 0, HasCode: true})
	latch := signals.New()
	latch.Trip()
	var logs syncBuffer
	s := newFakeSupervisor(t, child, &fakeProvider{}, latch, &logs, time.Second)

	code, err := s.Run(context.Background())
	if err != nil {
		t.Fatalf("Run returned error: %v", err)
	}
	if code != 0 {
		t.Errorf("exit code = %d, want 0", code)
	}
	if child.killCount() != 1 {
		t.Errorf("root killed %d times, want 1", child.killCount())
	}
}

func TestParentGoneTriggersCascade(t *testing.T) {
	child := &fakeChild{pid: 10}
	provider := &fakeProvider{}
	var logs syncBuffer
	s := newFakeSupervisor(t, child, provider, signals.New(), &logs, time.Second)

	go func() {
		time.Sleep(50 * time.Millisecond)
		provider.kill(1000)
	}()

	code, err := s.Run(context.Background())
	if err != nil {
		t.Fatalf("Run returned error: %v", err)
	}
	if code != process.ExitFallback {
		t.Errorf("exit code = %d, want %d", code, process.ExitFallback)
	}
	if s.Info().Reason != process.ReasonParentGone {
		t.Errorf("reason = %q, want %q", s.Info().Reason, process.ReasonParentGone)
	}
}

func TestReparentingCountsAsParentGone(t *testing.T) {
	child := &fakeChild{pid: 10}
	var logs syncBuffer
	s := newFakeSupervisor(t, child, &fakeProvider{}, signals.New(), &logs, time.Second)
	s.opts.WatchOwnParent = true

	// First call sees the original parent, later calls see init.
	calls := 0
	s.getppid = func() int {
		calls++
		if calls == 1 {
			return 1000
		}
		return 1
	}

	if _, err := s.Run(context.Background()); err != nil {
		t.Fatalf("Run returned error: %v", err)
	}
	if s.Info().Reason != process.ReasonParentGone {
		t.Errorf("reason = %q, want %q", s.Info().Reason, process.ReasonParentGone)
	}
}

func TestContextCancelTriggersCascade(t *testing.T) {
	child := &fakeChild{pid: 10}
	var logs syncBuffer
	s := newFakeSupervisor(t, child, &fakeProvider{}, signals.New(), &logs, time.Second)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := s.Run(ctx); err != nil {
		t.Fatalf("Run returned error: %v", err)
	}
	if child.killCount() != 1 {
		t.Errorf("root killed %d times, want 1", child.killCount())
	}
	if s.Info().Reason != process.ReasonContextCancel {
		t.Errorf("reason = %q, want %q", s.Info().Reason, process.ReasonContextCancel)
	}
}

func TestRootKillFailureIsFatal(t *testing.T) {
	child := &fakeChild{pid: 10, killErr: unix.EPERM}
	latch := signals.New()
	latch.Trip()
	var logs syncBuffer
	s := newFakeSupervisor(t, child, &fakeProvider{}, latch, &logs, time.Second)

	code, err := s.Run(context.Background())
	if !errors.Is(err, ErrRootKill) {
		t.Fatalf("err = %v, want ErrRootKill", err)
	}
	if code != process.ExitFallback {
		t.Errorf("exit code = %d, want %d", code, process.ExitFallback)
	}
}

func TestSnapshotFailureStillKillsRoot(t *testing.T) {
	child := &fakeChild{pid: 10}
	latch := signals.New()
	latch.Trip()
	var logs syncBuffer
	provider := &fakeProvider{snapErr: errors.New("proc unreadable")}
	s := newFakeSupervisor(t, child, provider, latch, &logs, time.Second)

	if _, err := s.Run(context.Background()); err == nil {
		t.Fatal("expected snapshot error")
	}
	if child.killCount() != 1 {
		t.Errorf("root killed %d times, want 1", child.killCount())
	}
}

func TestRunPublishesLifecycleEvents(t *testing.T) {
	bus := events.New()
	defer bus.Close()

	var mu sync.Mutex
	var seen []string
	record := func(name string) {
		mu.Lock()
		seen = append(seen, name)
		mu.Unlock()
	}
	defer bus.Subscribe(func(events.ChildSpawnedEvent) { record("spawned") })()
	defer bus.Subscribe(func(events.TerminationStartedEvent) { record("terminating") })()
	defer bus.Subscribe(func(events.ChildExitedEvent) { record("exited") })()

	child := &fakeChild{pid: 10}
	latch := signals.New()
	latch.Trip()
	s, err := New(Options{
		Provider:     &fakeProvider{},
		Latch:        latch,
		Child:        child,
		ParentPID:    1000,
		PollInterval: 10 * time.Millisecond,
		Bus:          bus,
		Logger:       newTestLogger(io.Discard),
	})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	if _, err := s.Run(context.Background()); err != nil {
		t.Fatalf("Run returned error: %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for {
		mu.Lock()
		n := len(seen)
		mu.Unlock()
		if n == 3 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("saw events %v, want 3", seen)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestGraceText(t *testing.T) {
	tests := []struct {
		in   time.Duration
		want string
	}{
		{5 * time.Second, "5 seconds"},
		{time.Second, "1 second"},
		{1500 * time.Millisecond, "1.5s"},
	}
	for _, tt := range tests {
		if got := graceText(tt.in); got != tt.want {
			t.Errorf("graceText(%v) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestResolveParent(t *testing.T) {
	provider := &fakeProvider{snap: proctree.NewSnapshot([]proctree.Process{
		{PID: 10, PPID: 7},
		{PID: 20, PPID: 0},
		{PID: 1, PPID: 0},
	})}

	tests := []struct {
		name    string
		pid     int
		want    int
		wantErr error
	}{
		{"has parent", 10, 7, nil},
		{"not in table", 11, 0, ErrNoParent},
		{"parent pid zero", 20, 0, ErrNoParent},
		{"container init", 1, 0, ErrNoParent},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ppid, err := ResolveParent(provider, tt.pid)
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("err = %v, want %v", err, tt.wantErr)
			}
			if ppid != tt.want {
				t.Errorf("ppid = %d, want %d", ppid, tt.want)
			}
		})
	}
}

func TestResolveParentSnapshotError(t *testing.T) {
	boom := errors.New("boom")
	provider := &fakeProvider{snapErr: boom}
	if _, err := ResolveParent(provider, 10); !errors.Is(err, boom) {
		t.Errorf("err = %v, want %v", err, boom)
	}
}

func TestResolveParentOfSelf(t *testing.T) {
	provider, err := proctree.NewProvider(newTestLogger(io.Discard))
	if err != nil {
		t.Skipf("no process provider: %v", err)
	}
	ppid, err := ResolveParent(provider, os.Getpid())
	if err != nil {
		t.Fatalf("ResolveParent failed: %v", err)
	}
	if ppid != os.Getppid() {
		t.Errorf("ppid = %d, want %d", ppid, os.Getppid())
	}
}
