// Package logging provides structured logging with per-module log level configuration.
//
// # Overview
//
// The logging system uses Go's slog package. Records are written to stderr
// (stdout belongs to the supervised command), kept in an in-memory ring
// buffer for the status API and, when enabled, sent to the systemd journal.
//
// # Usage
//
// Initialize the logging system once at startup:
//
//	logging.Initialize(logging.Config{
//		Level:  "info",      // Global log level: debug, info, warn, error
//		Format: "text",      // Output format: text, json or auto
//		Modules: map[string]string{
//			"proctree": "debug", // Per-module overrides
//		},
//	})
//
// Get a logger for your module:
//
//	logger := logging.GetLogger("supervisor")
//	logger.Info("Spawned process with pid", "pid", pid)
//
// Levels of existing loggers can be changed later with [SetLevels], which
// is how config file reloads take effect without restarting the supervised
// command.
//
// # Output Destinations
//
//	stderr       always (text or json; "auto" picks text on a terminal)
//	ring buffer  always, served by GET /api/logs
//	journal      when Config.Journal is set and journald is reachable
//
// Journal availability is checked via [github.com/coreos/go-systemd/v22/journal.Enabled].
//
// # Viewing Logs
//
//	journalctl -t kill-orphan -f
//	journalctl -t kill-orphan MODULE=supervisor
//	journalctl -t kill-orphan RUN_ID=<id>
//
// # Configuration
//
// Example TOML configuration:
//
//	[logging]
//	level = "info"
//	format = "text"
//	journal = false
//
//	[logging.modules]
//	proctree = "debug"
package logging
