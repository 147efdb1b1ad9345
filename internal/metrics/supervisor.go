// Package metrics provides Prometheus metrics for the supervision loop.
package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/smazurov/kill-orphan/internal/events"
)

var (
	childRunning = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "kill_orphan",
		Subsystem: "child",
		Name:      "running",
		Help:      "Whether the supervised child is running (1) or has exited (0)",
	})

	childExitCode = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "kill_orphan",
		Subsystem: "child",
		Name:      "exit_code",
		Help:      "Exit code reported by the supervised child, -1 when it reported none",
	})

	cascadesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "kill_orphan",
		Subsystem: "cascade",
		Name:      "started_total",
		Help:      "Kill cascades started, by trigger",
	}, []string{"reason"})

	descendantsKilled = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "kill_orphan",
		Subsystem: "cascade",
		Name:      "descendants_killed_total",
		Help:      "Descendant processes that were sent SIGKILL",
	})

	descendantKillFailures = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "kill_orphan",
		Subsystem: "cascade",
		Name:      "descendant_kill_failures_total",
		Help:      "Descendant kill attempts that failed (already gone, permission denied)",
	})

	gaveUpTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "kill_orphan",
		Subsystem: "cascade",
		Name:      "gave_up_total",
		Help:      "Cascades where the child did not exit within the grace period",
	})

	shutdownSeconds = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "kill_orphan",
		Subsystem: "cascade",
		Name:      "shutdown_seconds",
		Help:      "Time from cascade start until the child reported its exit status",
		Buckets:   []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
	})
)

// Recorder keeps the metrics in sync with supervisor events.
type Recorder struct {
	mu          sync.Mutex
	cascadeFrom time.Time
	unsubs      []func()
}

// Attach subscribes a Recorder to bus. Call Detach to stop recording.
func Attach(bus *events.Bus) *Recorder {
	r := &Recorder{}
	r.unsubs = []func(){
		bus.Subscribe(r.onSpawned),
		bus.Subscribe(r.onTerminationStarted),
		bus.Subscribe(r.onDescendantKilled),
		bus.Subscribe(r.onExited),
		bus.Subscribe(r.onGaveUp),
	}
	return r
}

// Detach unsubscribes from the bus.
func (r *Recorder) Detach() {
	for _, unsub := range r.unsubs {
		unsub()
	}
	r.unsubs = nil
}

func (r *Recorder) onSpawned(events.ChildSpawnedEvent) {
	childRunning.Set(1)
}

func (r *Recorder) onTerminationStarted(e events.TerminationStartedEvent) {
	cascadesTotal.WithLabelValues(e.Reason).Inc()
	r.mu.Lock()
	r.cascadeFrom = e.Timestamp
	r.mu.Unlock()
}

func (r *Recorder) onDescendantKilled(e events.DescendantKilledEvent) {
	if e.Error != "" {
		descendantKillFailures.Inc()
		return
	}
	descendantsKilled.Inc()
}

func (r *Recorder) onExited(e events.ChildExitedEvent) {
	childRunning.Set(0)
	if e.HasCode {
		childExitCode.Set(float64(e.ExitCode))
	} else {
		childExitCode.Set(-1)
	}

	r.mu.Lock()
	from := r.cascadeFrom
	r.mu.Unlock()
	if !from.IsZero() {
		shutdownSeconds.Observe(e.Timestamp.Sub(from).Seconds())
	}
}

func (r *Recorder) onGaveUp(events.GaveUpEvent) {
	gaveUpTotal.Inc()
}
