// Package proctree takes point-in-time snapshots of the process table and
// resolves the descendant set of a process from them.
//
// A Snapshot is only consistent for the instant it was taken: PIDs are
// reused by the kernel once a process exits, so callers take a fresh
// snapshot for every kill cascade instead of caching one across ticks.
//
// Two providers are available:
//   - ProcFS reads /proc through github.com/prometheus/procfs (Linux)
//   - PS parses the output of ps(1) (other Unix systems)
//
// NewProvider picks ProcFS whenever /proc is mounted.
package proctree
