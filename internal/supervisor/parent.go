package supervisor

import (
	"errors"
	"fmt"

	"github.com/smazurov/kill-orphan/internal/proctree"
)

// ErrNoParent is returned when the parent of a process cannot be found in
// the process table, or when the process has none (PPID 0, as for PID 1 in
// a container or a process entered with docker exec).
var ErrNoParent = errors.New("parent process not found")

// ResolveParent looks up the parent PID of pid in a fresh snapshot.
func ResolveParent(provider proctree.Provider, pid int) (int, error) {
	snap, err := provider.Snapshot()
	if err != nil {
		return 0, fmt.Errorf("snapshot: %w", err)
	}
	ppid, ok := snap.Parent(pid)
	if !ok {
		return 0, fmt.Errorf("%w: pid %d", ErrNoParent, pid)
	}
	// There is no process 0 to watch, it would read as gone on the first tick.
	if ppid <= 0 {
		return 0, fmt.Errorf("%w: pid %d has parent pid %d", ErrNoParent, pid, ppid)
	}
	return ppid, nil
}
