package proctree

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"os/exec"
	"strconv"
	"strings"
	"time"

	"golang.org/x/sys/unix"
)

// PS reads the process table by running ps(1). It is used where no procfs
// is mounted, e.g. on macOS.
type PS struct {
	path string
}

// NewPS locates the ps binary on PATH.
func NewPS() (*PS, error) {
	path, err := exec.LookPath("ps")
	if err != nil {
		return nil, fmt.Errorf("locate ps: %w", err)
	}
	return &PS{path: path}, nil
}

// Snapshot implements Provider.
func (p *PS) Snapshot() (Snapshot, error) {
	out, err := exec.Command(p.path, "-A", "-o", "pid=", "-o", "ppid=", "-o", "stat=", "-o", "comm=").Output()
	if err != nil {
		return Snapshot{}, fmt.Errorf("execute ps: %w", err)
	}
	entries, err := parsePS(out)
	if err != nil {
		return Snapshot{}, err
	}
	return Snapshot{Taken: time.Now(), processes: toMap(entries)}, nil
}

// IsAlive implements Provider.
func (p *PS) IsAlive(pid int) bool {
	if pid <= 0 {
		return false
	}
	// EPERM still means the process exists
	if err := unix.Kill(pid, 0); err != nil && !errors.Is(err, unix.EPERM) {
		return false
	}
	out, err := exec.Command(p.path, "-o", "stat=", "-p", strconv.Itoa(pid)).Output()
	if err != nil {
		// ps exits non-zero when the PID vanished in between
		return false
	}
	return Process{State: strings.TrimSpace(string(out))}.Alive()
}

// parsePS parses "pid ppid stat comm" lines. comm may contain spaces.
func parsePS(out []byte) ([]Process, error) {
	var entries []Process
	scanner := bufio.NewScanner(bytes.NewReader(out))
	for scanner.Scan() {
		fields := strings.Fields(scanner.Text())
		if len(fields) < 3 {
			continue
		}
		pid, err := strconv.Atoi(fields[0])
		if err != nil {
			return nil, fmt.Errorf("parse pid %q: %w", fields[0], err)
		}
		ppid, err := strconv.Atoi(fields[1])
		if err != nil {
			return nil, fmt.Errorf("parse ppid %q: %w", fields[1], err)
		}
		entries = append(entries, Process{
			PID:   pid,
			PPID:  ppid,
			State: fields[2],
			Comm:  strings.Join(fields[3:], " "),
		})
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read ps output: %w", err)
	}
	return entries, nil
}
