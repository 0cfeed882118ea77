package store

import (
	"context"
	"fmt"

	"github.com/Phazzie/autoclick/pkg/schema"
)

// EventLog provides event-sourcing operations over any Store. Appends
// delegate to the store, which owns per-run sequencing.
type EventLog struct {
	store Store
}

// NewEventLog wraps a store with event-sourcing operations.
func NewEventLog(s Store) *EventLog {
	return &EventLog{store: s}
}

// AppendEvent appends an event; the store assigns the per-run sequence.
func (el *EventLog) AppendEvent(ctx context.Context, event *Event) error {
	return el.store.AppendEvent(ctx, event)
}

// GetEvents returns events for a run with sequence > since, ascending.
func (el *EventLog) GetEvents(ctx context.Context, runID string, since int64) ([]*Event, error) {
	return el.store.GetEvents(ctx, runID, since)
}

// GetEventsByType returns events of one type matching the filter.
func (el *EventLog) GetEventsByType(ctx context.Context, eventType string, filter EventFilter) ([]*Event, error) {
	return el.store.GetEventsByType(ctx, eventType, filter)
}

// ReplayEvents folds a run's event log into per-action step states.
// Returns an error if the sequence has gaps; a log with gaps cannot be
// trusted to reconstruct state.
func (el *EventLog) ReplayEvents(ctx context.Context, runID string) (map[string]*StepState, error) {
	events, err := el.store.GetEvents(ctx, runID, 0)
	if err != nil {
		return nil, fmt.Errorf("get events for replay: %w", err)
	}

	states := make(map[string]*StepState)
	if len(events) == 0 {
		return states, nil
	}

	for i, e := range events {
		expected := int64(i + 1)
		if e.Sequence != expected {
			return nil, schema.NewErrorf(schema.ErrCodeStore,
				"sequence gap in run %s: expected %d, got %d", runID, expected, e.Sequence)
		}
	}

	for _, e := range events {
		if e.ActionID == "" {
			continue
		}

		ss, ok := states[e.ActionID]
		if !ok {
			ss = &StepState{
				RunID:    runID,
				ActionID: e.ActionID,
				Status:   schema.StepStatusPending,
			}
			states[e.ActionID] = ss
		}

		switch e.Type {
		case schema.EventStepStarted:
			ss.Status = schema.StepStatusRunning
			ts := e.Timestamp
			ss.StartedAt = &ts

		case schema.EventStepCompleted:
			ss.Status = schema.StepStatusCompleted
			ts := e.Timestamp
			ss.CompletedAt = &ts
			ss.Output = e.Payload
			if ss.StartedAt != nil {
				ss.DurationMs = ts.Sub(*ss.StartedAt).Milliseconds()
			}

		case schema.EventStepFailed:
			ss.Status = schema.StepStatusFailed
			ss.Error = e.Payload

		case schema.EventStepSkipped:
			ss.Status = schema.StepStatusSkipped

		case schema.EventStepRetrying:
			ss.Status = schema.StepStatusRetrying
			ss.Attempts++

		case schema.EventRecoverySucceeded:
			ss.Status = schema.StepStatusRecovered
		}
	}

	return states, nil
}
