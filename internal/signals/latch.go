// Package signals latches termination-class signals into a flag that a
// polling loop can read.
package signals

import (
	"errors"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
)

// Termination lists the signals that trip the latch by default.
var Termination = []os.Signal{syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT}

// ErrNoSignals is returned by Install when no signal was requested.
var ErrNoSignals = errors.New("no signals to install")

// Latch is a write-once flag tripped by signal delivery. The forwarding
// goroutine is its only writer; readers never reset it.
type Latch struct {
	tripped atomic.Bool
	last    atomic.Int32
	ch      chan os.Signal
	done    chan struct{}
}

// New returns a latch that is not connected to any signal. Trip it by hand.
func New() *Latch {
	return &Latch{}
}

// Install connects a latch to the given signals (Termination when empty).
// Delivery of any of them trips the latch; nothing else happens in response.
func Install(sigs ...os.Signal) (*Latch, error) {
	if len(sigs) == 0 {
		sigs = Termination
	}
	for _, sig := range sigs {
		if sig == nil {
			return nil, ErrNoSignals
		}
	}

	l := &Latch{
		ch:   make(chan os.Signal, len(sigs)),
		done: make(chan struct{}),
	}
	signal.Notify(l.ch, sigs...)
	go l.forward()
	return l, nil
}

func (l *Latch) forward() {
	for {
		select {
		case sig := <-l.ch:
			if s, ok := sig.(syscall.Signal); ok {
				l.last.Store(int32(s))
			}
			l.tripped.Store(true)
		case <-l.done:
			return
		}
	}
}

// Trip sets the latch without a signal.
func (l *Latch) Trip() {
	l.tripped.Store(true)
}

// Tripped reports whether a termination signal has arrived. Once true it
// stays true.
func (l *Latch) Tripped() bool {
	return l.tripped.Load()
}

// Signal returns the most recent signal that tripped the latch, or nil.
func (l *Latch) Signal() os.Signal {
	if n := l.last.Load(); n != 0 {
		return syscall.Signal(n)
	}
	return nil
}

// Stop disconnects the latch from signal delivery. The flag keeps its value.
func (l *Latch) Stop() {
	if l.ch == nil {
		return
	}
	signal.Stop(l.ch)
	select {
	case <-l.done:
	default:
		close(l.done)
	}
}
