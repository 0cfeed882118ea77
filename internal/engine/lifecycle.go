package engine

import (
	"time"

	"github.com/Phazzie/autoclick/internal/store"
	"github.com/Phazzie/autoclick/pkg/schema"
)

// validStepTransitions defines the allowed step lifecycle transitions.
// Recovered is reachable only from failed: a step fails first, then a
// recovery strategy rescues it.
var validStepTransitions = map[schema.StepStatus][]schema.StepStatus{
	schema.StepStatusPending:   {schema.StepStatusRunning, schema.StepStatusSkipped},
	schema.StepStatusRunning:   {schema.StepStatusCompleted, schema.StepStatusFailed, schema.StepStatusSkipped, schema.StepStatusRetrying},
	schema.StepStatusRetrying:  {schema.StepStatusRunning, schema.StepStatusFailed},
	schema.StepStatusFailed:    {schema.StepStatusRecovered},
	schema.StepStatusCompleted: {},
	schema.StepStatusSkipped:   {},
	schema.StepStatusRecovered: {},
}

func isValidStepTransition(from, to schema.StepStatus) bool {
	for _, a := range validStepTransitions[from] {
		if a == to {
			return true
		}
	}
	return false
}

// stepEventType maps a step status to the event emitted on entering it.
func stepEventType(to schema.StepStatus) string {
	switch to {
	case schema.StepStatusRunning:
		return schema.EventStepStarted
	case schema.StepStatusCompleted:
		return schema.EventStepCompleted
	case schema.StepStatusFailed:
		return schema.EventStepFailed
	case schema.StepStatusSkipped:
		return schema.EventStepSkipped
	case schema.StepStatusRetrying:
		return schema.EventStepRetrying
	case schema.StepStatusRecovered:
		return schema.EventRecoverySucceeded
	default:
		return ""
	}
}

// isTerminalStep reports whether a step status is final.
func isTerminalStep(s schema.StepStatus) bool {
	switch s {
	case schema.StepStatusCompleted, schema.StepStatusFailed, schema.StepStatusSkipped, schema.StepStatusRecovered:
		return true
	}
	return false
}

// stepTracker carries one step's materialized state through its
// lifecycle. Every move goes through advance, which enforces the
// transition table and stamps timestamps, so the tracked state always
// matches what event log replay would rebuild.
type stepTracker struct {
	state *store.StepState
}

func newStepTracker(runID, actionID string) *stepTracker {
	return &stepTracker{state: &store.StepState{
		RunID:    runID,
		ActionID: actionID,
		Status:   schema.StepStatusPending,
	}}
}

// advance moves the step to the given status and returns the event type
// to emit for the move.
func (t *stepTracker) advance(to schema.StepStatus) (string, error) {
	from := t.state.Status
	if !isValidStepTransition(from, to) {
		return "", schema.NewErrorf(schema.ErrCodeInvalidTransition,
			"invalid step transition: %s -> %s", from, to).
			WithAction(t.state.ActionID)
	}

	now := time.Now().UTC()
	switch to {
	case schema.StepStatusRunning:
		if t.state.StartedAt == nil {
			t.state.StartedAt = &now
		}
	case schema.StepStatusRetrying:
		// Attempts counts retries, matching event log replay.
		t.state.Attempts++
	case schema.StepStatusCompleted, schema.StepStatusFailed, schema.StepStatusSkipped, schema.StepStatusRecovered:
		t.state.CompletedAt = &now
		if t.state.StartedAt != nil {
			t.state.DurationMs = now.Sub(*t.state.StartedAt).Milliseconds()
		}
	}
	t.state.Status = to
	return stepEventType(to), nil
}
