package proctree

import (
	"slices"
	"strings"
	"time"
)

// Provider queries the operating system for process information.
type Provider interface {
	// Snapshot enumerates every visible process and its parent link.
	Snapshot() (Snapshot, error)
	// IsAlive re-checks a single PID without taking a full snapshot.
	// Zombies count as dead.
	IsAlive(pid int) bool
}

// Process is a single entry of a Snapshot.
type Process struct {
	PID   int
	PPID  int
	State string
	Comm  string
}

// Alive reports whether the process was running (or sleeping, stopped...)
// when the snapshot was taken. Zombie and dead entries are not alive.
func (p Process) Alive() bool {
	return !strings.HasPrefix(p.State, "Z") && !strings.HasPrefix(p.State, "X")
}

// Snapshot is a point-in-time mapping from PID to process entry.
type Snapshot struct {
	Taken     time.Time
	processes map[int]Process
}

// NewSnapshot builds a snapshot from a list of processes.
// Later duplicates of a PID replace earlier ones.
func NewSnapshot(processes []Process) Snapshot {
	return Snapshot{Taken: time.Now(), processes: toMap(processes)}
}

func toMap(entries []Process) map[int]Process {
	m := make(map[int]Process, len(entries))
	for _, e := range entries {
		m[e.PID] = e
	}
	return m
}

// Get returns the entry for pid.
func (s Snapshot) Get(pid int) (Process, bool) {
	p, ok := s.processes[pid]
	return p, ok
}

// Parent returns the parent PID of pid, if pid is part of the snapshot.
func (s Snapshot) Parent(pid int) (int, bool) {
	p, ok := s.processes[pid]
	if !ok {
		return 0, false
	}
	return p.PPID, true
}

// Len returns the number of processes in the snapshot.
func (s Snapshot) Len() int {
	return len(s.processes)
}

// PIDSet is an unordered set of process IDs.
type PIDSet map[int]struct{}

// Contains reports whether pid is in the set.
func (s PIDSet) Contains(pid int) bool {
	_, ok := s[pid]
	return ok
}

// Sorted returns the members in ascending order.
func (s PIDSet) Sorted() []int {
	pids := make([]int, 0, len(s))
	for pid := range s {
		pids = append(pids, pid)
	}
	slices.Sort(pids)
	return pids
}
