// Package systemd reports supervisor state to systemd when kill-orphan runs
// as a Type=notify service. Outside of systemd every call is a no-op.
package systemd

import (
	"context"
	"fmt"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"

	"github.com/smazurov/kill-orphan/internal/events"
	"github.com/smazurov/kill-orphan/internal/logging"
)

// Notifier sends sd_notify messages.
type Notifier struct {
	logger logging.Logger
	unsubs []func()
}

// NewNotifier creates a notifier.
func NewNotifier(logger logging.Logger) *Notifier {
	return &Notifier{logger: logger}
}

// notify sends state and reports whether systemd is listening.
// NOTIFY_SOCKET is left in the environment so the child can still reach
// systemd when NotifyAccess=all is configured.
func (n *Notifier) notify(state string) bool {
	sent, err := daemon.SdNotify(false, state)
	if err != nil {
		n.logger.Debug("sd_notify failed", "state", state, "error", err)
		return false
	}
	return sent
}

// Attach reports the child lifecycle published on bus.
func (n *Notifier) Attach(bus *events.Bus) {
	n.unsubs = append(n.unsubs,
		bus.Subscribe(func(e events.ChildSpawnedEvent) {
			if n.notify(fmt.Sprintf("%s\nSTATUS=Supervising pid %d", daemon.SdNotifyReady, e.PID)) {
				n.logger.Debug("Notified systemd of readiness", "pid", e.PID)
			}
		}),
		bus.Subscribe(func(e events.TerminationStartedEvent) {
			n.notify(fmt.Sprintf("%s\nSTATUS=Killing pid %d and %d descendants (%s)",
				daemon.SdNotifyStopping, e.PID, len(e.Descendants), e.Reason))
		}),
		bus.Subscribe(func(e events.ChildExitedEvent) {
			n.notify(fmt.Sprintf("STATUS=Pid %d exited: %s", e.PID, e.Status))
		}),
		bus.Subscribe(func(e events.GaveUpEvent) {
			n.notify(fmt.Sprintf("STATUS=Pid %d did not exit after %s", e.PID, e.GracePeriod))
		}),
	)
}

// Detach stops reporting bus events.
func (n *Notifier) Detach() {
	for _, unsub := range n.unsubs {
		unsub()
	}
	n.unsubs = nil
}

// RunWatchdog pings the systemd watchdog at half the configured interval
// until ctx is done. It returns immediately when no watchdog is configured.
func (n *Notifier) RunWatchdog(ctx context.Context) error {
	interval, err := daemon.SdWatchdogEnabled(false)
	if err != nil {
		return fmt.Errorf("watchdog: %w", err)
	}
	if interval == 0 {
		return nil
	}

	n.logger.Debug("Systemd watchdog enabled", "interval", interval)
	ticker := time.NewTicker(interval / 2)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			n.notify(daemon.SdNotifyWatchdog)
		}
	}
}
