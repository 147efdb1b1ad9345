package proctree

import (
	"errors"
	"fmt"
	"io/fs"
	"time"

	"github.com/prometheus/procfs"

	"github.com/smazurov/kill-orphan/internal/logging"
)

// ProcFS reads the process table from a procfs mount.
type ProcFS struct {
	fs     procfs.FS
	logger logging.Logger
}

// NewProcFS opens the procfs mounted at mountPoint.
func NewProcFS(mountPoint string, logger logging.Logger) (*ProcFS, error) {
	pfs, err := procfs.NewFS(mountPoint)
	if err != nil {
		return nil, fmt.Errorf("open procfs at %s: %w", mountPoint, err)
	}
	return &ProcFS{fs: pfs, logger: logger}, nil
}

// Snapshot implements Provider.
func (p *ProcFS) Snapshot() (Snapshot, error) {
	procs, err := p.fs.AllProcs()
	if err != nil {
		return Snapshot{}, fmt.Errorf("list processes: %w", err)
	}

	entries := make([]Process, 0, len(procs))
	for _, proc := range procs {
		stat, statErr := proc.Stat()
		if statErr != nil {
			// Exited between the directory listing and the stat read
			if !errors.Is(statErr, fs.ErrNotExist) {
				p.logger.Debug("Skipping unreadable process", "pid", proc.PID, "error", statErr)
			}
			continue
		}
		entries = append(entries, Process{
			PID:   stat.PID,
			PPID:  stat.PPID,
			State: stat.State,
			Comm:  stat.Comm,
		})
	}

	return Snapshot{Taken: time.Now(), processes: toMap(entries)}, nil
}

// IsAlive implements Provider.
func (p *ProcFS) IsAlive(pid int) bool {
	proc, err := p.fs.Proc(pid)
	if err != nil {
		return false
	}
	stat, err := proc.Stat()
	if err != nil {
		return false
	}
	return Process{State: stat.State}.Alive()
}
