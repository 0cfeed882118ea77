package run

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Phazzie/autoclick/internal/variables"
	"github.com/Phazzie/autoclick/pkg/schema"
)

func newTestContext(t *testing.T) *Context {
	t.Helper()
	return NewContext(&schema.Workflow{
		ID:   "wf-1",
		Name: "login-check",
		Variables: map[string]any{
			"base_url": "https://example.com",
		},
	})
}

// --- Lifecycle transitions ---

func TestContextStartsCreated(t *testing.T) {
	c := newTestContext(t)
	assert.Equal(t, schema.RunStatusCreated, c.Status())
	assert.NotEmpty(t, c.ID)
	assert.Equal(t, "wf-1", c.WorkflowID)
	assert.False(t, c.Done())
}

func TestContextSeedsWorkflowVariables(t *testing.T) {
	c := newTestContext(t)
	v, err := c.Vars.Get("base_url")
	require.NoError(t, err)
	assert.Equal(t, "https://example.com", v.Raw())
}

func TestContextHappyPath(t *testing.T) {
	c := newTestContext(t)
	require.NoError(t, c.Begin())
	assert.Equal(t, schema.RunStatusRunning, c.Status())
	require.NoError(t, c.Complete())
	assert.Equal(t, schema.RunStatusCompleted, c.Status())
	assert.True(t, c.Done())
}

func TestContextPauseResume(t *testing.T) {
	c := newTestContext(t)
	require.NoError(t, c.Begin())
	require.NoError(t, c.Pause())
	assert.Equal(t, schema.RunStatusPaused, c.Status())
	require.NoError(t, c.Resume())
	assert.Equal(t, schema.RunStatusRunning, c.Status())
}

func TestContextInvalidTransitions(t *testing.T) {
	tests := []struct {
		name string
		prep func(c *Context)
		act  func(c *Context) error
	}{
		{"complete before begin", func(c *Context) {}, (*Context).Complete},
		{"pause before begin", func(c *Context) {}, (*Context).Pause},
		{"resume while running", func(c *Context) { _ = c.Begin() }, (*Context).Resume},
		{"begin twice", func(c *Context) { _ = c.Begin() }, (*Context).Begin},
		{"cancel after complete", func(c *Context) { _ = c.Begin(); _ = c.Complete() }, (*Context).Cancel},
		{"fail after cancel", func(c *Context) { _ = c.Begin(); _ = c.Cancel() }, (*Context).Fail},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := newTestContext(t)
			tt.prep(c)
			err := tt.act(c)
			require.Error(t, err)
			var autoErr *schema.AutomationError
			require.True(t, errors.As(err, &autoErr))
			assert.Equal(t, schema.ErrCodeInvalidTransition, autoErr.Code)
		})
	}
}

func TestContextCancelFromAnyLiveState(t *testing.T) {
	fresh := newTestContext(t)
	require.NoError(t, fresh.Cancel())

	running := newTestContext(t)
	require.NoError(t, running.Begin())
	require.NoError(t, running.Cancel())

	paused := newTestContext(t)
	require.NoError(t, paused.Begin())
	require.NoError(t, paused.Pause())
	require.NoError(t, paused.Cancel())

	for _, c := range []*Context{fresh, running, paused} {
		assert.Equal(t, schema.RunStatusCancelled, c.Status())
	}
}

func TestContextFailFromPaused(t *testing.T) {
	c := newTestContext(t)
	require.NoError(t, c.Begin())
	require.NoError(t, c.Pause())
	require.NoError(t, c.Fail())
	assert.Equal(t, schema.RunStatusFailed, c.Status())
}

// --- AwaitResume ---

func TestAwaitResumeReturnsImmediatelyWhenRunning(t *testing.T) {
	c := newTestContext(t)
	require.NoError(t, c.Begin())
	require.NoError(t, c.AwaitResume(context.Background()))
}

func TestAwaitResumeBlocksUntilResumed(t *testing.T) {
	c := newTestContext(t)
	require.NoError(t, c.Begin())
	require.NoError(t, c.Pause())

	done := make(chan error, 1)
	go func() {
		done <- c.AwaitResume(context.Background())
	}()

	select {
	case <-done:
		t.Fatal("AwaitResume returned while paused")
	case <-time.After(20 * time.Millisecond):
	}

	require.NoError(t, c.Resume())
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("AwaitResume did not wake after Resume")
	}
}

func TestAwaitResumeObservesCancel(t *testing.T) {
	c := newTestContext(t)
	require.NoError(t, c.Begin())
	require.NoError(t, c.Pause())

	done := make(chan error, 1)
	go func() {
		done <- c.AwaitResume(context.Background())
	}()

	require.NoError(t, c.Cancel())
	select {
	case err := <-done:
		require.Error(t, err)
		var autoErr *schema.AutomationError
		require.True(t, errors.As(err, &autoErr))
		assert.Equal(t, schema.ErrCodeCancelled, autoErr.Code)
	case <-time.After(time.Second):
		t.Fatal("AwaitResume did not wake after Cancel")
	}
}

func TestAwaitResumeHonorsContextDeadline(t *testing.T) {
	c := newTestContext(t)
	require.NoError(t, c.Begin())
	require.NoError(t, c.Pause())

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	err := c.AwaitResume(ctx)
	require.Error(t, err)
	assert.True(t, errors.Is(err, context.DeadlineExceeded))
}

// --- History ---

func TestContextHistoryAppendsInOrder(t *testing.T) {
	c := newTestContext(t)
	c.AppendHistory(HistoryEntry{ActionID: "s1", Type: "navigate", Status: schema.StepStatusCompleted})
	c.AppendHistory(HistoryEntry{ActionID: "s2", Type: "click", Status: schema.StepStatusFailed})

	entries := c.History()
	require.Len(t, entries, 2)
	assert.Equal(t, "s1", entries[0].ActionID)
	assert.Equal(t, "s2", entries[1].ActionID)
	assert.False(t, entries[0].At.IsZero(), "At defaulted")
	assert.Equal(t, 2, c.HistoryLen())
}

func TestContextHistoryIsCopy(t *testing.T) {
	c := newTestContext(t)
	c.AppendHistory(HistoryEntry{ActionID: "s1"})

	entries := c.History()
	entries[0].ActionID = "mutated"
	assert.Equal(t, "s1", c.History()[0].ActionID)
}

// --- Checkpoints ---

func TestCheckpointRestoreRewindsVariables(t *testing.T) {
	c := newTestContext(t)
	require.NoError(t, c.Begin())
	c.Vars.Set("counter", 1)

	cp := c.TakeCheckpoint(3)
	assert.Equal(t, 3, cp.NextStep)
	assert.Equal(t, c.ID, cp.ContextID)

	c.Vars.Set("counter", 99)
	c.Vars.Set("extra", "junk")

	next := c.RestoreCheckpoint(cp)
	assert.Equal(t, 3, next)

	v, err := c.Vars.Get("counter")
	require.NoError(t, err)
	n, err := v.AsNumber()
	require.NoError(t, err)
	assert.Equal(t, float64(1), n)

	_, err = c.Vars.Get("extra")
	require.Error(t, err)
}

func TestCheckpointJSONRoundTrip(t *testing.T) {
	c := newTestContext(t)
	require.NoError(t, c.Begin())
	c.Vars.Set("user", "alice")
	cp := c.TakeCheckpoint(2)

	raw, err := json.Marshal(cp)
	require.NoError(t, err)

	var restored Checkpoint
	require.NoError(t, json.Unmarshal(raw, &restored))
	assert.Equal(t, cp.NextStep, restored.NextStep)
	assert.Equal(t, "alice", restored.Variables.Workflow["user"])
}

func TestLatestCheckpoint(t *testing.T) {
	c := newTestContext(t)
	_, ok := c.LatestCheckpoint()
	assert.False(t, ok)

	c.TakeCheckpoint(1)
	c.TakeCheckpoint(5)

	cp, ok := c.LatestCheckpoint()
	require.True(t, ok)
	assert.Equal(t, 5, cp.NextStep)
}

// --- Child contexts ---

func TestChildContextIsIsolated(t *testing.T) {
	parent := newTestContext(t)
	require.NoError(t, parent.Begin())
	parent.Vars.Set("shared", "before")

	child := parent.Child()
	assert.NotEqual(t, parent.ID, child.ID)
	assert.Equal(t, parent.WorkflowID, child.WorkflowID)
	assert.Equal(t, schema.RunStatusRunning, child.Status())
	assert.Same(t, parent, child.Parent())

	child.Vars.Set("shared", "child-only")
	v, err := parent.Vars.Get("shared")
	require.NoError(t, err)
	assert.Equal(t, "before", v.Raw())
}

func TestAdoptHistoryFoldsUpward(t *testing.T) {
	parent := newTestContext(t)
	require.NoError(t, parent.Begin())
	parent.AppendHistory(HistoryEntry{ActionID: "p1"})

	child := parent.Child()
	child.AppendHistory(HistoryEntry{ActionID: "c1"})
	child.AppendHistory(HistoryEntry{ActionID: "c2"})

	parent.AdoptHistory(child)
	entries := parent.History()
	require.Len(t, entries, 3)
	assert.Equal(t, "c2", entries[2].ActionID)
}

// --- Elapsed ---

func TestElapsedZeroBeforeBegin(t *testing.T) {
	c := newTestContext(t)
	assert.Zero(t, c.Elapsed())
}

func TestElapsedFrozenAfterFinish(t *testing.T) {
	c := newTestContext(t)
	require.NoError(t, c.Begin())
	require.NoError(t, c.Complete())

	first := c.Elapsed()
	time.Sleep(5 * time.Millisecond)
	assert.Equal(t, first, c.Elapsed())
}

// Verify the store wiring matches what actions rely on.
func TestContextVarsScopePrecedence(t *testing.T) {
	c := newTestContext(t)
	c.Vars.SetIn(variables.ScopeGlobal, "who", "global")
	c.Vars.SetIn(variables.ScopeWorkflow, "who", "workflow")

	v, err := c.Vars.Get("who")
	require.NoError(t, err)
	assert.Equal(t, "workflow", v.Raw())
}
