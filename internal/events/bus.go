package events

import (
	"context"
	"sync"

	"github.com/kelindar/event"
)

// Bus wraps kelindar/event dispatcher for event broadcasting.
// It also counts queued deliveries so Drain can wait for the last events
// before the process exits.
type Bus struct {
	dispatcher *event.Dispatcher

	mu      sync.Mutex
	subs    map[uint32]int
	pending int
	idle    chan struct{}
}

// New creates a new event bus
func New() *Bus {
	idle := make(chan struct{})
	close(idle)
	return &Bus{
		dispatcher: event.NewDispatcher(),
		subs:       make(map[uint32]int),
		idle:       idle,
	}
}

// Publish publishes an event to all subscribers. Delivery is asynchronous,
// so publishing never blocks the supervision loop on a slow subscriber.
// A nil bus drops the event.
func (b *Bus) Publish(ev Event) {
	if b == nil {
		return
	}
	switch e := ev.(type) {
	case ChildSpawnedEvent:
		publish(b, e)
	case TerminationStartedEvent:
		publish(b, e)
	case DescendantKilledEvent:
		publish(b, e)
	case ChildExitedEvent:
		publish(b, e)
	case GaveUpEvent:
		publish(b, e)
	}
}

// Subscribe subscribes to events with a handler function
// The handler type determines which events it receives (type inference)
// Returns an unsubscribe function
// Usage: unsub := bus.Subscribe(func(e ChildExitedEvent) { ... })
func (b *Bus) Subscribe(handler any) func() {
	switch h := handler.(type) {
	case func(ChildSpawnedEvent):
		return subscribe(b, h)
	case func(TerminationStartedEvent):
		return subscribe(b, h)
	case func(DescendantKilledEvent):
		return subscribe(b, h)
	case func(ChildExitedEvent):
		return subscribe(b, h)
	case func(GaveUpEvent):
		return subscribe(b, h)
	default:
		// Return a no-op function if handler type is not recognized
		return func() {}
	}
}

// Drain waits until every event published so far has been handled by the
// subscribers that were registered when it was published.
func (b *Bus) Drain(ctx context.Context) error {
	b.mu.Lock()
	idle := b.idle
	b.mu.Unlock()

	select {
	case <-idle:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close stops delivery to all subscribers. Events not yet handled are dropped,
// call Drain first to keep them.
func (b *Bus) Close() error {
	return b.dispatcher.Close()
}

// publish queues ev for the current subscribers of its type. The count is
// taken under the same lock as unsubscribe, and kelindar consumers finish
// their queue after removal, so every counted delivery completes.
func publish[T Event](b *Bus, ev T) {
	b.mu.Lock()
	defer b.mu.Unlock()
	n := b.subs[ev.Type()]
	if n == 0 {
		return
	}
	if b.pending == 0 {
		b.idle = make(chan struct{})
	}
	b.pending += n
	event.Publish(b.dispatcher, ev)
}

func subscribe[T Event](b *Bus, handler func(T)) func() {
	var zero T
	typ := zero.Type()

	b.mu.Lock()
	b.subs[typ]++
	cancel := event.Subscribe(b.dispatcher, func(ev T) {
		defer b.delivered()
		handler(ev)
	})
	b.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			b.mu.Lock()
			b.subs[typ]--
			cancel()
			b.mu.Unlock()
		})
	}
}

func (b *Bus) delivered() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.pending--
	if b.pending == 0 {
		close(b.idle)
	}
}
