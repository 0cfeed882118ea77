// Package streaming fans run lifecycle events out to live subscribers.
package streaming

import (
	"context"
	"time"
)

// StreamEvent is one real-time event emitted while a run executes.
// EventType is one of the schema event constants.
type StreamEvent struct {
	RunID     string    `json:"run_id"`
	Workflow  string    `json:"workflow,omitempty"`
	ActionID  string    `json:"action_id,omitempty"`
	EventType string    `json:"event_type"`
	Payload   any       `json:"payload,omitempty"`
	At        time.Time `json:"at"`
}

// EventFilter selects which events a subscriber receives. Zero fields
// match everything.
type EventFilter struct {
	RunID      string   `json:"run_id,omitempty"`
	EventTypes []string `json:"event_types,omitempty"`
}

// EventHub is pub/sub for run events. Delivery is best-effort: slow
// subscribers lose events rather than stall the run.
type EventHub interface {
	Publish(ctx context.Context, event StreamEvent) error
	Subscribe(ctx context.Context, filter EventFilter) (<-chan StreamEvent, func(), error)
}

// Listen subscribes and pumps matching events into handler on a
// goroutine until the context ends or the returned cancel runs. The
// handler is called sequentially, one event at a time.
func Listen(ctx context.Context, hub EventHub, filter EventFilter, handler func(StreamEvent)) (func(), error) {
	ch, cancel, err := hub.Subscribe(ctx, filter)
	if err != nil {
		return nil, err
	}
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-ch:
				if !ok {
					return
				}
				handler(ev)
			}
		}
	}()
	return cancel, nil
}
