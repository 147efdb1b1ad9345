package signals

import (
	"syscall"
	"testing"
	"time"
)

func waitTripped(t *testing.T, l *Latch) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !l.Tripped() {
		if time.Now().After(deadline) {
			t.Fatal("latch not tripped")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestLatchTripsOnSignal(t *testing.T) {
	l, err := Install(syscall.SIGUSR1)
	if err != nil {
		t.Fatalf("Install failed: %v", err)
	}
	defer l.Stop()

	if l.Tripped() {
		t.Fatal("latch should start untripped")
	}

	if err := syscall.Kill(syscall.Getpid(), syscall.SIGUSR1); err != nil {
		t.Fatalf("kill: %v", err)
	}

	waitTripped(t, l)
	if l.Signal() != syscall.SIGUSR1 {
		t.Errorf("Signal() = %v, want %v", l.Signal(), syscall.SIGUSR1)
	}
}

func TestLatchStaysTripped(t *testing.T) {
	l, err := Install(syscall.SIGUSR2)
	if err != nil {
		t.Fatalf("Install failed: %v", err)
	}
	defer l.Stop()

	for range 3 {
		if err := syscall.Kill(syscall.Getpid(), syscall.SIGUSR2); err != nil {
			t.Fatalf("kill: %v", err)
		}
	}
	waitTripped(t, l)

	for range 10 {
		if !l.Tripped() {
			t.Fatal("latch must never reset")
		}
	}
}

func TestManualTrip(t *testing.T) {
	l := New()
	if l.Tripped() {
		t.Fatal("new latch should be untripped")
	}
	l.Trip()
	if !l.Tripped() {
		t.Error("Trip() should set the latch")
	}
	if l.Signal() != nil {
		t.Errorf("Signal() = %v, want nil", l.Signal())
	}

	// Stop on an unconnected latch is a no-op
	l.Stop()
}

func TestStopIsIdempotent(t *testing.T) {
	l, err := Install(syscall.SIGUSR1)
	if err != nil {
		t.Fatalf("Install failed: %v", err)
	}
	l.Stop()
	l.Stop()
}
