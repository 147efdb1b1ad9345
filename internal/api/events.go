package api

import (
	"context"
	"net/http"

	"github.com/danielgtaylor/huma/v2"
	"github.com/danielgtaylor/huma/v2/sse"

	"github.com/smazurov/kill-orphan/internal/events"
)

// eventBuffer bounds how far a slow SSE client may fall behind before
// events are dropped for it.
const eventBuffer = 32

// registerEventRoutes streams supervisor lifecycle events.
func (s *Server) registerEventRoutes() {
	sse.Register(s.api, huma.Operation{
		OperationID: "events-stream",
		Method:      http.MethodGet,
		Path:        "/api/events",
		Summary:     "Lifecycle events",
		Description: "Supervisor lifecycle events via Server-Sent Events",
		Tags:        []string{"supervisor"},
	}, map[string]any{
		"child_spawned":       events.ChildSpawnedEvent{},
		"termination_started": events.TerminationStartedEvent{},
		"descendant_killed":   events.DescendantKilledEvent{},
		"child_exited":        events.ChildExitedEvent{},
		"gave_up":             events.GaveUpEvent{},
	}, func(ctx context.Context, _ *struct{}, send sse.Sender) {
		eventCh := make(chan any, eventBuffer)
		unsubscribe := subscribeAll(s.options.Bus, eventCh)
		defer unsubscribe()

		for {
			select {
			case <-ctx.Done():
				return
			case event := <-eventCh:
				if err := send.Data(event); err != nil {
					return
				}
			}
		}
	})
}

// subscribeAll forwards every lifecycle event into ch without blocking
// the bus.
func subscribeAll(bus *events.Bus, ch chan<- any) func() {
	forward := func(e any) {
		select {
		case ch <- e:
		default:
		}
	}
	unsubs := []func(){
		bus.Subscribe(func(e events.ChildSpawnedEvent) { forward(e) }),
		bus.Subscribe(func(e events.TerminationStartedEvent) { forward(e) }),
		bus.Subscribe(func(e events.DescendantKilledEvent) { forward(e) }),
		bus.Subscribe(func(e events.ChildExitedEvent) { forward(e) }),
		bus.Subscribe(func(e events.GaveUpEvent) { forward(e) }),
	}
	return func() {
		for _, unsub := range unsubs {
			unsub()
		}
	}
}
