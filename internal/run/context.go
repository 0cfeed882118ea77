// Package run holds the per-run execution context: lifecycle state machine,
// history, checkpoints and the result model actions produce.
package run

import (
	stdctx "context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/Phazzie/autoclick/internal/variables"
	"github.com/Phazzie/autoclick/pkg/schema"
)

// validTransitions defines the allowed run lifecycle transitions.
var validTransitions = map[schema.RunStatus][]schema.RunStatus{
	schema.RunStatusCreated:   {schema.RunStatusRunning, schema.RunStatusCancelled},
	schema.RunStatusRunning:   {schema.RunStatusPaused, schema.RunStatusCompleted, schema.RunStatusFailed, schema.RunStatusCancelled},
	schema.RunStatusPaused:    {schema.RunStatusRunning, schema.RunStatusFailed, schema.RunStatusCancelled},
	schema.RunStatusCompleted: {},
	schema.RunStatusFailed:    {},
	schema.RunStatusCancelled: {},
}

func isValidTransition(from, to schema.RunStatus) bool {
	for _, a := range validTransitions[from] {
		if a == to {
			return true
		}
	}
	return false
}

// HistoryEntry is one executed action in run order.
type HistoryEntry struct {
	ActionID   string            `json:"action_id"`
	Type       string            `json:"type"`
	Status     schema.StepStatus `json:"status"`
	Message    string            `json:"message,omitempty"`
	At         time.Time         `json:"at"`
	DurationMs int64             `json:"duration_ms"`
}

// Checkpoint is a restorable snapshot of run progress. JSON-serializable
// so stores can persist it across pause/resume.
type Checkpoint struct {
	ContextID  string             `json:"context_id"`
	NextStep   int                `json:"next_step"`
	Variables  variables.Snapshot `json:"variables"`
	HistoryLen int                `json:"history_len"`
	TakenAt    time.Time          `json:"taken_at"`
}

// Context is the mutable state of one workflow run. Status changes go
// through the transition table; everything else is mutex-guarded so
// listeners and the engine can observe a run concurrently.
type Context struct {
	ID           string
	WorkflowID   string
	WorkflowName string

	Vars *variables.Store

	mu          sync.RWMutex
	status      schema.RunStatus
	history     []HistoryEntry
	checkpoints []Checkpoint
	resumed     chan struct{}
	parent      *Context
	startedAt   time.Time
	endedAt     time.Time
}

// NewContext creates a run context in the created state.
func NewContext(wf *schema.Workflow) *Context {
	store := variables.NewStore()
	name := ""
	id := ""
	if wf != nil {
		name = wf.Name
		id = wf.ID
		for k, v := range wf.Variables {
			store.SetIn(variables.ScopeWorkflow, k, v)
		}
	}
	return &Context{
		ID:           uuid.NewString(),
		WorkflowID:   id,
		WorkflowName: name,
		Vars:         store,
		status:       schema.RunStatusCreated,
	}
}

// Status returns the current lifecycle state.
func (c *Context) Status() schema.RunStatus {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.status
}

func (c *Context) transition(to schema.RunStatus) error {
	if !isValidTransition(c.status, to) {
		return schema.NewErrorf(schema.ErrCodeInvalidTransition,
			"invalid run transition: %s -> %s", c.status, to).
			WithDetails(map[string]any{"run_id": c.ID, "from": string(c.status), "to": string(to)})
	}
	c.status = to
	return nil
}

// Begin moves created -> running.
func (c *Context) Begin() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.transition(schema.RunStatusRunning); err != nil {
		return err
	}
	c.startedAt = time.Now()
	return nil
}

// Pause moves running -> paused. The engine parks on AwaitResume at the
// next step boundary.
func (c *Context) Pause() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.transition(schema.RunStatusPaused); err != nil {
		return err
	}
	c.resumed = make(chan struct{})
	return nil
}

// Resume moves paused -> running and wakes AwaitResume waiters.
func (c *Context) Resume() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.transition(schema.RunStatusRunning); err != nil {
		return err
	}
	close(c.resumed)
	c.resumed = nil
	return nil
}

// Complete moves running -> completed.
func (c *Context) Complete() error {
	return c.finish(schema.RunStatusCompleted)
}

// Fail moves running|paused -> failed.
func (c *Context) Fail() error {
	return c.finish(schema.RunStatusFailed)
}

// Cancel moves created|running|paused -> cancelled and wakes any waiters.
func (c *Context) Cancel() error {
	return c.finish(schema.RunStatusCancelled)
}

func (c *Context) finish(to schema.RunStatus) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.transition(to); err != nil {
		return err
	}
	c.endedAt = time.Now()
	if c.resumed != nil {
		close(c.resumed)
		c.resumed = nil
	}
	return nil
}

// AwaitResume blocks while the run is paused. It returns nil once running
// again, a CANCELLED error if the run was cancelled while parked, and the
// context error if ctx expires first.
func (c *Context) AwaitResume(ctx stdctx.Context) error {
	for {
		c.mu.RLock()
		status := c.status
		ch := c.resumed
		c.mu.RUnlock()

		switch status {
		case schema.RunStatusPaused:
			// fall through to wait
		case schema.RunStatusCancelled:
			return schema.NewErrorf(schema.ErrCodeCancelled, "run %s cancelled", c.ID)
		default:
			return nil
		}

		// Pause always installs the channel before flipping status,
		// so ch is non-nil here.
		select {
		case <-ch:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// Done reports whether the run reached a terminal state.
func (c *Context) Done() bool {
	switch c.Status() {
	case schema.RunStatusCompleted, schema.RunStatusFailed, schema.RunStatusCancelled:
		return true
	}
	return false
}

// Elapsed returns the wall time of the run so far, or the final duration
// once terminal.
func (c *Context) Elapsed() time.Duration {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.startedAt.IsZero() {
		return 0
	}
	if c.endedAt.IsZero() {
		return time.Since(c.startedAt)
	}
	return c.endedAt.Sub(c.startedAt)
}

// --- History ---

// AppendHistory records one executed action.
func (c *Context) AppendHistory(entry HistoryEntry) {
	if entry.At.IsZero() {
		entry.At = time.Now()
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.history = append(c.history, entry)
}

// History returns a copy of the entries in append order.
func (c *Context) History() []HistoryEntry {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]HistoryEntry, len(c.history))
	copy(out, c.history)
	return out
}

// HistoryLen returns the number of recorded entries.
func (c *Context) HistoryLen() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.history)
}

// --- Checkpoints ---

// TakeCheckpoint snapshots variables and progress before nextStep.
func (c *Context) TakeCheckpoint(nextStep int) Checkpoint {
	snap := c.Vars.Snapshot()
	c.mu.Lock()
	defer c.mu.Unlock()
	cp := Checkpoint{
		ContextID:  c.ID,
		NextStep:   nextStep,
		Variables:  snap,
		HistoryLen: len(c.history),
		TakenAt:    time.Now(),
	}
	c.checkpoints = append(c.checkpoints, cp)
	return cp
}

// LatestCheckpoint returns the most recent checkpoint, if any.
func (c *Context) LatestCheckpoint() (Checkpoint, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if len(c.checkpoints) == 0 {
		return Checkpoint{}, false
	}
	return c.checkpoints[len(c.checkpoints)-1], true
}

// RestoreCheckpoint rewinds variables to the checkpoint snapshot and
// returns the step index execution should resume from.
func (c *Context) RestoreCheckpoint(cp Checkpoint) int {
	c.Vars.Restore(cp.Variables)
	return cp.NextStep
}

// --- Child contexts ---

// Child creates an isolated context for a parallel branch: own ID, cloned
// variables, running from the start. The parent link lets stats fold
// upward when the branch finishes.
func (c *Context) Child() *Context {
	return &Context{
		ID:           uuid.NewString(),
		WorkflowID:   c.WorkflowID,
		WorkflowName: c.WorkflowName,
		Vars:         c.Vars.Clone(),
		status:       schema.RunStatusRunning,
		parent:       c,
		startedAt:    time.Now(),
	}
}

// Parent returns the spawning context, or nil for a root run.
func (c *Context) Parent() *Context { return c.parent }

// AdoptHistory folds a finished child's history into the parent.
func (c *Context) AdoptHistory(child *Context) {
	entries := child.History()
	c.mu.Lock()
	defer c.mu.Unlock()
	c.history = append(c.history, entries...)
}
