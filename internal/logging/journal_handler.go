package logging

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/coreos/go-systemd/v22/journal"
)

const journalIdentifier = "kill-orphan"

// JournalHandler is a slog.Handler that sends records to the systemd journal.
//
// Attributes become journal fields. A "pid" attribute, which names the child
// or descendant a record is about, is also sent as OBJECT_PID so journald
// attaches that process's metadata to the entry.
type JournalHandler struct {
	level  slog.Leveler
	attrs  []slog.Attr
	prefix string
	send   func(message string, priority journal.Priority, fields map[string]string) error
}

// NewJournalHandler creates a new journal handler.
func NewJournalHandler(level slog.Leveler) *JournalHandler {
	return &JournalHandler{level: level, send: journal.Send}
}

// Enabled reports whether the handler handles records at the given level.
func (h *JournalHandler) Enabled(_ context.Context, level slog.Level) bool {
	return level >= h.level.Level()
}

// Handle sends the record to the journal. Errors are returned rather than
// printed, stderr belongs to the supervised command as well.
func (h *JournalHandler) Handle(_ context.Context, r slog.Record) error {
	priority := journalPriority(r.Level)
	if err := h.send(r.Message, priority, h.fields(r)); err != nil {
		return fmt.Errorf("journal: %w", err)
	}
	return nil
}

func (h *JournalHandler) fields(r slog.Record) map[string]string {
	fields := map[string]string{
		"SYSLOG_IDENTIFIER": journalIdentifier,
	}
	for _, a := range h.attrs {
		addJournalField(fields, "", a)
	}
	r.Attrs(func(a slog.Attr) bool {
		addJournalField(fields, h.prefix, a)
		return true
	})
	if pid, ok := fields["PID"]; ok {
		if _, err := strconv.Atoi(pid); err == nil {
			fields["OBJECT_PID"] = pid
		}
	}
	return fields
}

// WithAttrs returns a new handler with additional attributes.
func (h *JournalHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	clone := *h
	clone.attrs = make([]slog.Attr, 0, len(h.attrs)+len(attrs))
	clone.attrs = append(clone.attrs, h.attrs...)
	for _, a := range attrs {
		// Bake the current group into the key so later groups don't rename it.
		if h.prefix != "" {
			a.Key = h.prefix + a.Key
		}
		clone.attrs = append(clone.attrs, a)
	}
	return &clone
}

// WithGroup returns a new handler whose attributes are prefixed with name.
func (h *JournalHandler) WithGroup(name string) slog.Handler {
	if name == "" {
		return h
	}
	clone := *h
	clone.prefix = h.prefix + name + "_"
	return &clone
}

// journalPriority maps slog levels to syslog priorities.
func journalPriority(level slog.Level) journal.Priority {
	switch {
	case level >= slog.LevelError:
		return journal.PriErr
	case level >= slog.LevelWarn:
		return journal.PriWarning
	case level >= slog.LevelInfo:
		return journal.PriInfo
	default:
		return journal.PriDebug
	}
}

func addJournalField(fields map[string]string, prefix string, a slog.Attr) {
	a.Value = a.Value.Resolve()
	if a.Equal(slog.Attr{}) {
		return
	}
	if a.Value.Kind() == slog.KindGroup {
		groupPrefix := prefix
		if a.Key != "" {
			groupPrefix = prefix + a.Key + "_"
		}
		for _, ga := range a.Value.Group() {
			addJournalField(fields, groupPrefix, ga)
		}
		return
	}

	key := journalKey(prefix + a.Key)
	if key == "" {
		return
	}
	switch a.Value.Kind() {
	case slog.KindTime:
		fields[key] = a.Value.Time().Format(time.RFC3339Nano)
	case slog.KindFloat64:
		fields[key] = strconv.FormatFloat(a.Value.Float64(), 'f', -1, 64)
	default:
		fields[key] = a.Value.String()
	}
}

// journalKey turns an attribute key into a valid journal field name:
// upper case letters, digits and underscores, not starting with an
// underscore or digit. Returns "" when nothing usable is left.
func journalKey(key string) string {
	var b strings.Builder
	for _, c := range strings.ToUpper(key) {
		switch {
		case c >= 'A' && c <= 'Z', c >= '0' && c <= '9', c == '_':
			b.WriteRune(c)
		default:
			b.WriteByte('_')
		}
	}
	out := strings.TrimLeft(b.String(), "_0123456789")
	switch out {
	case "MESSAGE", "PRIORITY":
		// Owned by journal.Send.
		return "ATTR_" + out
	}
	return out
}

// IsJournalAvailable checks if systemd journal is available.
func IsJournalAvailable() bool {
	return journal.Enabled()
}
