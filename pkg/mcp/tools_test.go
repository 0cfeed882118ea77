package mcp

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"sync"
	"testing"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Phazzie/autoclick/internal/actions"
	"github.com/Phazzie/autoclick/internal/conditions"
	"github.com/Phazzie/autoclick/internal/engine"
	"github.com/Phazzie/autoclick/internal/loops"
	"github.com/Phazzie/autoclick/internal/run"
	"github.com/Phazzie/autoclick/internal/scheduler"
	"github.com/Phazzie/autoclick/internal/store"
	"github.com/Phazzie/autoclick/internal/streaming"
	"github.com/Phazzie/autoclick/internal/validation"
	"github.com/Phazzie/autoclick/pkg/schema"
)

// --- Mock engine ---

type mockEngine struct {
	mu       sync.Mutex
	executed []*schema.Workflow

	report    *run.Report
	execErr   error
	pauseErr  error
	resumeRep *run.Report
	resumeErr error
	cancelErr error
	status    *engine.RunStatus
	statusErr error
}

func (m *mockEngine) Execute(_ context.Context, wf *schema.Workflow, _ ...engine.ExecOption) (*run.Report, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.executed = append(m.executed, wf)
	if m.execErr != nil {
		return nil, m.execErr
	}
	if m.report != nil {
		return m.report, nil
	}
	return &run.Report{RunID: "run-mock", Workflow: wf.Name, Status: schema.RunStatusCompleted}, nil
}

func (m *mockEngine) Pause(_ context.Context, _ string) error { return m.pauseErr }

func (m *mockEngine) Resume(_ context.Context, _ string) (*run.Report, error) {
	return m.resumeRep, m.resumeErr
}

func (m *mockEngine) Cancel(_ context.Context, _ string) error { return m.cancelErr }

func (m *mockEngine) Status(_ context.Context, _ string) (*engine.RunStatus, error) {
	return m.status, m.statusErr
}

func (m *mockEngine) Subscribe(_ context.Context, _ streaming.EventFilter, _ func(streaming.StreamEvent)) (func(), error) {
	return func() {}, nil
}

func (m *mockEngine) executedCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.executed)
}

// --- Helpers ---

func newTestServer(t *testing.T, deps AutoclickServerDeps) *AutoclickServer {
	t.Helper()
	if deps.Validator == nil {
		v, err := validation.NewWorkflowValidator(validation.Registries{
			Actions:    actions.DefaultRegistry(),
			Conditions: conditions.DefaultRegistry(),
			Loops:      loops.DefaultRegistry(),
		})
		require.NoError(t, err)
		deps.Validator = v
	}
	if deps.Logger == nil {
		deps.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return NewAutoclickServer(deps)
}

func workflowDoc() map[string]any {
	return map[string]any{
		"name": "checkout",
		"steps": []any{
			map[string]any{"id": "s1", "type": "navigate", "params": map[string]any{"url": "https://shop.test"}},
		},
	}
}

func buildRequest(toolName string, args map[string]any) mcp.CallToolRequest {
	return mcp.CallToolRequest{
		Params: mcp.CallToolParams{
			Name:      toolName,
			Arguments: args,
		},
	}
}

func extractText(t *testing.T, result *mcp.CallToolResult) string {
	t.Helper()
	require.NotEmpty(t, result.Content)
	return mcp.GetTextFromContent(result.Content[0])
}

func unmarshalResult(t *testing.T, result *mcp.CallToolResult, target any) {
	t.Helper()
	text := extractText(t, result)
	require.NoError(t, json.Unmarshal([]byte(text), target))
}

// --- Tests ---

func TestRunTool(t *testing.T) {
	eng := &mockEngine{}
	s := newTestServer(t, AutoclickServerDeps{Engine: eng})

	req := buildRequest("autoclick.run", map[string]any{
		"workflow": workflowDoc(),
		"params":   map[string]any{"env": "prod"},
	})

	result, err := s.handleRun(context.Background(), req)
	require.NoError(t, err)
	require.NotNil(t, result)
	assert.False(t, result.IsError)

	require.Equal(t, 1, eng.executedCount())
	assert.Equal(t, "checkout", eng.executed[0].Name)

	var report run.Report
	unmarshalResult(t, result, &report)
	assert.Equal(t, "run-mock", report.RunID)
	assert.Equal(t, schema.RunStatusCompleted, report.Status)
}

func TestRunToolMissingWorkflow(t *testing.T) {
	s := newTestServer(t, AutoclickServerDeps{Engine: &mockEngine{}})

	req := buildRequest("autoclick.run", map[string]any{})
	result, err := s.handleRun(context.Background(), req)
	require.NoError(t, err)
	assert.True(t, result.IsError)
}

func TestRunToolInvalidWorkflow(t *testing.T) {
	eng := &mockEngine{}
	s := newTestServer(t, AutoclickServerDeps{Engine: eng})

	// No steps: rejected by validation before the engine sees it.
	req := buildRequest("autoclick.run", map[string]any{
		"workflow": map[string]any{"name": "empty"},
	})
	result, err := s.handleRun(context.Background(), req)
	require.NoError(t, err)
	assert.True(t, result.IsError)
	assert.Equal(t, 0, eng.executedCount())
}

func TestRunToolUnknownActionType(t *testing.T) {
	eng := &mockEngine{}
	s := newTestServer(t, AutoclickServerDeps{Engine: eng})

	req := buildRequest("autoclick.run", map[string]any{
		"workflow": map[string]any{
			"name": "bad",
			"steps": []any{
				map[string]any{"id": "s1", "type": "teleport"},
			},
		},
	})
	result, err := s.handleRun(context.Background(), req)
	require.NoError(t, err)
	assert.True(t, result.IsError)
	assert.Contains(t, extractText(t, result), "teleport")
	assert.Equal(t, 0, eng.executedCount())
}

func TestRunToolExecError(t *testing.T) {
	eng := &mockEngine{execErr: assert.AnError}
	s := newTestServer(t, AutoclickServerDeps{Engine: eng})

	req := buildRequest("autoclick.run", map[string]any{"workflow": workflowDoc()})
	result, err := s.handleRun(context.Background(), req)
	require.NoError(t, err)
	assert.True(t, result.IsError)
}

func TestStatusTool(t *testing.T) {
	eng := &mockEngine{
		status: &engine.RunStatus{RunID: "run-123", Workflow: "checkout", Status: schema.RunStatusRunning},
	}
	s := newTestServer(t, AutoclickServerDeps{Engine: eng})

	req := buildRequest("autoclick.status", map[string]any{"run_id": "run-123"})
	result, err := s.handleStatus(context.Background(), req)
	require.NoError(t, err)
	assert.False(t, result.IsError)

	text := extractText(t, result)
	assert.Contains(t, text, "run-123")
	assert.Contains(t, text, "running")
}

func TestStatusToolMissingID(t *testing.T) {
	s := newTestServer(t, AutoclickServerDeps{Engine: &mockEngine{}})

	req := buildRequest("autoclick.status", map[string]any{})
	result, err := s.handleStatus(context.Background(), req)
	require.NoError(t, err)
	assert.True(t, result.IsError)
}

func TestStatusToolNotFound(t *testing.T) {
	eng := &mockEngine{
		statusErr: schema.NewError(schema.ErrCodeNotFound, "run not found"),
	}
	s := newTestServer(t, AutoclickServerDeps{Engine: eng})

	req := buildRequest("autoclick.status", map[string]any{"run_id": "missing"})
	result, err := s.handleStatus(context.Background(), req)
	require.NoError(t, err)
	assert.True(t, result.IsError)
}

func TestPauseTool(t *testing.T) {
	s := newTestServer(t, AutoclickServerDeps{Engine: &mockEngine{}})

	req := buildRequest("autoclick.pause", map[string]any{"run_id": "run-1"})
	result, err := s.handlePause(context.Background(), req)
	require.NoError(t, err)
	assert.False(t, result.IsError)
	assert.Contains(t, extractText(t, result), "run-1")
}

func TestPauseToolError(t *testing.T) {
	eng := &mockEngine{
		pauseErr: schema.NewError(schema.ErrCodeInvalidTransition, "run is not running"),
	}
	s := newTestServer(t, AutoclickServerDeps{Engine: eng})

	req := buildRequest("autoclick.pause", map[string]any{"run_id": "run-1"})
	result, err := s.handlePause(context.Background(), req)
	require.NoError(t, err)
	assert.True(t, result.IsError)
}

func TestResumeToolInflight(t *testing.T) {
	// Engine returns no report: the original Execute call carries on.
	s := newTestServer(t, AutoclickServerDeps{Engine: &mockEngine{}})

	req := buildRequest("autoclick.resume", map[string]any{"run_id": "run-1"})
	result, err := s.handleResume(context.Background(), req)
	require.NoError(t, err)
	assert.False(t, result.IsError)

	var out map[string]any
	unmarshalResult(t, result, &out)
	assert.Equal(t, true, out["ok"])
	assert.Equal(t, true, out["resumed"])
	assert.Equal(t, "run-1", out["run_id"])
}

func TestResumeToolContinuation(t *testing.T) {
	eng := &mockEngine{
		resumeRep: &run.Report{RunID: "run-9", Workflow: "checkout", Status: schema.RunStatusCompleted},
	}
	s := newTestServer(t, AutoclickServerDeps{Engine: eng})

	req := buildRequest("autoclick.resume", map[string]any{"run_id": "run-9"})
	result, err := s.handleResume(context.Background(), req)
	require.NoError(t, err)
	assert.False(t, result.IsError)

	var report run.Report
	unmarshalResult(t, result, &report)
	assert.Equal(t, "run-9", report.RunID)
	assert.Equal(t, schema.RunStatusCompleted, report.Status)
}

func TestCancelTool(t *testing.T) {
	s := newTestServer(t, AutoclickServerDeps{Engine: &mockEngine{}})

	req := buildRequest("autoclick.cancel", map[string]any{"run_id": "run-1"})
	result, err := s.handleCancel(context.Background(), req)
	require.NoError(t, err)
	assert.False(t, result.IsError)
}

func TestCancelToolError(t *testing.T) {
	eng := &mockEngine{
		cancelErr: schema.NewError(schema.ErrCodeNotFound, "run not found"),
	}
	s := newTestServer(t, AutoclickServerDeps{Engine: eng})

	req := buildRequest("autoclick.cancel", map[string]any{"run_id": "ghost"})
	result, err := s.handleCancel(context.Background(), req)
	require.NoError(t, err)
	assert.True(t, result.IsError)
}

func TestQueryRuns(t *testing.T) {
	ctx := context.Background()
	ms := store.NewMemoryStore()
	require.NoError(t, ms.CreateRun(ctx, &store.Run{ID: "run-1", WorkflowName: "checkout", Status: schema.RunStatusCompleted}))
	require.NoError(t, ms.CreateRun(ctx, &store.Run{ID: "run-2", WorkflowName: "checkout", Status: schema.RunStatusRunning}))
	require.NoError(t, ms.CreateRun(ctx, &store.Run{ID: "run-3", WorkflowName: "signup", Status: schema.RunStatusCompleted}))

	s := newTestServer(t, AutoclickServerDeps{Engine: &mockEngine{}, Store: ms})

	// Query all.
	req := buildRequest("autoclick.query", map[string]any{"resource": "runs"})
	result, err := s.handleQuery(ctx, req)
	require.NoError(t, err)
	assert.False(t, result.IsError)

	var out struct {
		Runs []*store.Run `json:"runs"`
	}
	unmarshalResult(t, result, &out)
	assert.Len(t, out.Runs, 3)

	// Query with status filter.
	req = buildRequest("autoclick.query", map[string]any{
		"resource": "runs",
		"filter":   map[string]any{"status": "completed"},
	})
	result, err = s.handleQuery(ctx, req)
	require.NoError(t, err)
	unmarshalResult(t, result, &out)
	assert.Len(t, out.Runs, 2)

	// Query by workflow name.
	req = buildRequest("autoclick.query", map[string]any{
		"resource": "runs",
		"filter":   map[string]any{"workflow": "signup"},
	})
	result, err = s.handleQuery(ctx, req)
	require.NoError(t, err)
	unmarshalResult(t, result, &out)
	require.Len(t, out.Runs, 1)
	assert.Equal(t, "run-3", out.Runs[0].ID)
}

func TestQueryEvents(t *testing.T) {
	ctx := context.Background()
	ms := store.NewMemoryStore()
	require.NoError(t, ms.AppendEvent(ctx, &store.Event{RunID: "run-1", Type: schema.EventStepStarted, ActionID: "s1"}))
	require.NoError(t, ms.AppendEvent(ctx, &store.Event{RunID: "run-1", Type: schema.EventStepCompleted, ActionID: "s1"}))
	require.NoError(t, ms.AppendEvent(ctx, &store.Event{RunID: "run-2", Type: schema.EventStepStarted, ActionID: "s1"}))

	s := newTestServer(t, AutoclickServerDeps{Engine: &mockEngine{}, Store: ms})

	// All events for one run.
	req := buildRequest("autoclick.query", map[string]any{
		"resource": "events",
		"filter":   map[string]any{"run_id": "run-1"},
	})
	result, err := s.handleQuery(ctx, req)
	require.NoError(t, err)
	assert.False(t, result.IsError)

	var out struct {
		Events []*store.Event `json:"events"`
	}
	unmarshalResult(t, result, &out)
	assert.Len(t, out.Events, 2)

	// Filter by event type across runs.
	req = buildRequest("autoclick.query", map[string]any{
		"resource": "events",
		"filter":   map[string]any{"event_type": schema.EventStepStarted},
	})
	result, err = s.handleQuery(ctx, req)
	require.NoError(t, err)
	unmarshalResult(t, result, &out)
	assert.Len(t, out.Events, 2)
}

func TestQueryEventsRequiresFilter(t *testing.T) {
	s := newTestServer(t, AutoclickServerDeps{Engine: &mockEngine{}, Store: store.NewMemoryStore()})

	req := buildRequest("autoclick.query", map[string]any{"resource": "events"})
	result, err := s.handleQuery(context.Background(), req)
	require.NoError(t, err)
	assert.True(t, result.IsError)
	assert.Contains(t, extractText(t, result), "run_id")
}

func TestQueryJobs(t *testing.T) {
	ctx := context.Background()
	ms := store.NewMemoryStore()
	require.NoError(t, ms.CreateScheduledJob(ctx, &store.ScheduledJob{ID: "job-1", Name: "nightly", CronExpr: "0 0 * * *", Enabled: true}))
	require.NoError(t, ms.CreateScheduledJob(ctx, &store.ScheduledJob{ID: "job-2", Name: "weekly", CronExpr: "0 0 * * 0", Enabled: false}))

	s := newTestServer(t, AutoclickServerDeps{Engine: &mockEngine{}, Store: ms})

	req := buildRequest("autoclick.query", map[string]any{
		"resource": "jobs",
		"filter":   map[string]any{"enabled": true},
	})
	result, err := s.handleQuery(ctx, req)
	require.NoError(t, err)
	assert.False(t, result.IsError)

	var out struct {
		Jobs []*store.ScheduledJob `json:"jobs"`
	}
	unmarshalResult(t, result, &out)
	require.Len(t, out.Jobs, 1)
	assert.Equal(t, "job-1", out.Jobs[0].ID)
}

func TestQueryUnknownResource(t *testing.T) {
	s := newTestServer(t, AutoclickServerDeps{Engine: &mockEngine{}})

	req := buildRequest("autoclick.query", map[string]any{"resource": "invalid"})
	result, err := s.handleQuery(context.Background(), req)
	require.NoError(t, err)
	assert.True(t, result.IsError)
}

func TestScheduleTool(t *testing.T) {
	ctx := context.Background()
	ms := store.NewMemoryStore()
	eng := &mockEngine{}
	sched := scheduler.New(scheduler.Config{
		Store:  ms,
		Runner: eng,
		Logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
	s := newTestServer(t, AutoclickServerDeps{Engine: eng, Store: ms, Scheduler: sched})

	req := buildRequest("autoclick.schedule", map[string]any{
		"workflow": workflowDoc(),
		"cron":     "0 6 * * *",
		"name":     "morning-sync",
	})
	result, err := s.handleSchedule(ctx, req)
	require.NoError(t, err)
	assert.False(t, result.IsError)

	var out map[string]any
	unmarshalResult(t, result, &out)
	assert.NotEmpty(t, out["id"])
	assert.Equal(t, "morning-sync", out["name"])
	assert.Equal(t, "0 6 * * *", out["cron"])
	assert.NotEmpty(t, out["next_run_at"])

	jobs, err := ms.ListScheduledJobs(ctx, store.ScheduledJobFilter{})
	require.NoError(t, err)
	require.Len(t, jobs, 1)
	assert.Equal(t, "checkout", jobs[0].Workflow.Name)
	assert.True(t, jobs[0].Enabled)
}

func TestScheduleToolBadCron(t *testing.T) {
	ms := store.NewMemoryStore()
	eng := &mockEngine{}
	sched := scheduler.New(scheduler.Config{
		Store:  ms,
		Runner: eng,
		Logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
	s := newTestServer(t, AutoclickServerDeps{Engine: eng, Store: ms, Scheduler: sched})

	req := buildRequest("autoclick.schedule", map[string]any{
		"workflow": workflowDoc(),
		"cron":     "whenever",
	})
	result, err := s.handleSchedule(context.Background(), req)
	require.NoError(t, err)
	assert.True(t, result.IsError)
	assert.Contains(t, extractText(t, result), "invalid cron expression")
}

func TestScheduleToolNotConfigured(t *testing.T) {
	s := newTestServer(t, AutoclickServerDeps{Engine: &mockEngine{}})

	req := buildRequest("autoclick.schedule", map[string]any{
		"workflow": workflowDoc(),
		"cron":     "0 6 * * *",
	})
	result, err := s.handleSchedule(context.Background(), req)
	require.NoError(t, err)
	assert.True(t, result.IsError)
	assert.Contains(t, extractText(t, result), "not configured")
}

func TestPushRunEventForgetsTerminalRuns(t *testing.T) {
	s := newTestServer(t, AutoclickServerDeps{Engine: &mockEngine{}})
	s.sessions.Register("run-x", "sess-1")

	s.pushRunEvent(streaming.StreamEvent{RunID: "run-x", EventType: schema.EventRunCompleted})

	_, ok := s.sessions.SessionFor("run-x")
	assert.False(t, ok)
}

func TestExtractInt(t *testing.T) {
	assert.Equal(t, 7, extractInt(map[string]any{"limit": float64(7)}, "limit", 50))
	assert.Equal(t, 7, extractInt(map[string]any{"limit": 7}, "limit", 50))
	assert.Equal(t, 7, extractInt(map[string]any{"limit": "7"}, "limit", 50))
	assert.Equal(t, 50, extractInt(map[string]any{"limit": "many"}, "limit", 50))
	assert.Equal(t, 50, extractInt(map[string]any{}, "limit", 50))
	assert.Equal(t, 50, extractInt(nil, "limit", 50))
}
