package proctree

import (
	"os"

	"github.com/prometheus/procfs"

	"github.com/smazurov/kill-orphan/internal/logging"
)

// NewProvider returns a ProcFS provider when /proc is mounted and falls back
// to PS otherwise.
func NewProvider(logger logging.Logger) (Provider, error) {
	if _, err := os.Stat(procfs.DefaultMountPoint + "/self/stat"); err == nil {
		p, err := NewProcFS(procfs.DefaultMountPoint, logger)
		if err == nil {
			return p, nil
		}
		logger.Warn("procfs unusable, falling back to ps", "error", err)
	}
	ps, err := NewPS()
	if err != nil {
		return nil, err
	}
	return ps, nil
}
