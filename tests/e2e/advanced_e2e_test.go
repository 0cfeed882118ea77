package e2e

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Phazzie/autoclick/internal/actions"
	"github.com/Phazzie/autoclick/internal/datasource"
	"github.com/Phazzie/autoclick/internal/engine"
	"github.com/Phazzie/autoclick/internal/recovery"
	"github.com/Phazzie/autoclick/internal/scheduler"
	"github.com/Phazzie/autoclick/internal/store"
	"github.com/Phazzie/autoclick/pkg/schema"
)

// engineWith builds a second engine over the harness store and hub.
// Used where a scenario needs its own recovery chain, breaker
// thresholds or row sources.
func engineWith(t *testing.T, h *harness, deps actions.Deps, cfg engine.Config) engine.Engine {
	t.Helper()
	cfg.Store = h.store
	cfg.Hub = h.hub
	if cfg.Logger == nil {
		cfg.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return engine.New(nil, deps, cfg)
}

func (h *harness) eventTypes(runID string) []string {
	h.t.Helper()
	events, err := h.store.GetEvents(context.Background(), runID, 0)
	require.NoError(h.t, err)
	out := make([]string, 0, len(events))
	for _, e := range events {
		out = append(out, e.Type)
	}
	return out
}

func countType(types []string, want string) int {
	n := 0
	for _, typ := range types {
		if typ == want {
			n++
		}
	}
	return n
}

// --- TestEventLogReplay: run finishes → replaying its events rebuilds every step outcome ---

func TestEventLogReplayRebuildsStepStates(t *testing.T) {
	h := newHarness(t)
	runID := uuid.New().String()

	wf := workflow("replayable")
	wf.Steps = []schema.ActionSpec{
		{ID: "open", Type: schema.ActionNavigate,
			Params: rawJSON(map[string]any{"url": "https://shop.test"})},
		{ID: "flaky", Type: schema.ActionClick,
			Params: rawJSON(map[string]any{"selector": "#gone"}), ContinueOnError: true},
		{ID: "mark", Type: schema.ActionSetVariable,
			Params: rawJSON(map[string]any{"name": "seen", "value": true})},
	}
	h.run(wf, engine.WithRunID(runID))

	// ReplayEvents also proves the sequence is gap-free.
	states, err := store.NewEventLog(h.store).ReplayEvents(context.Background(), runID)
	require.NoError(t, err)

	require.Contains(t, states, "open")
	require.Contains(t, states, "flaky")
	require.Contains(t, states, "mark")
	assert.Equal(t, schema.StepStatusCompleted, states["open"].Status)
	assert.Equal(t, schema.StepStatusFailed, states["flaky"].Status)
	assert.Equal(t, schema.StepStatusCompleted, states["mark"].Status)
}

// --- TestResumeAfterRestart: run parks paused → process restarts → a fresh engine resumes it from the store ---

func TestResumeAfterRestart(t *testing.T) {
	h := newHarness(t)
	runID := uuid.New().String()

	h.parkPaused(slowLoop("restartable"), runID)

	// A second engine over the same store stands in for a restarted
	// process: it knows the run only through its checkpoint and events.
	eng := engineWith(t, h, fullDeps(t, h.session), engine.Config{})
	rep, err := eng.Resume(context.Background(), runID)
	require.NoError(t, err)
	require.NotNil(t, rep)
	assert.Equal(t, schema.RunStatusCompleted, rep.Status)
	assert.Equal(t, schema.StepStatusCompleted, historyStatus(rep, "spin"))
	assert.Equal(t, schema.StepStatusCompleted, historyStatus(rep, "finish"))

	rec, err := h.store.GetRun(context.Background(), runID)
	require.NoError(t, err)
	assert.Equal(t, schema.RunStatusCompleted, rec.Status)

	assert.Contains(t, h.eventTypes(runID), schema.EventCheckpointRestore)
}

// --- TestAlternativePath: step fails → fallback action runs → step settles recovered, run completes ---

func TestAlternativePathRecovery(t *testing.T) {
	h := newHarness(t)
	runID := uuid.New().String()

	deps := fullDeps(t, h.session)
	fallback, err := actions.DefaultRegistry().Build(
		step("leave-note", schema.ActionSetVariable,
			map[string]any{"name": "note", "value": "fell back"}),
		deps)
	require.NoError(t, err)

	mgr := recovery.NewManager(slog.New(slog.NewTextHandler(io.Discard, nil)))
	mgr.AddStrategy(&recovery.AlternativePath{Fallback: fallback})

	eng := engineWith(t, h, deps, engine.Config{Recovery: mgr})
	rep, err := eng.Execute(context.Background(), workflow("fallible",
		step("flaky", schema.ActionClick, map[string]any{"selector": "#gone"}),
		step("after", schema.ActionSetVariable, map[string]any{"name": "message", "value": "note=${$note}"}),
	), engine.WithRunID(runID))
	require.NoError(t, err)

	assert.Equal(t, schema.RunStatusCompleted, rep.Status)
	assert.Equal(t, schema.StepStatusRecovered, historyStatus(rep, "flaky"))
	assert.Equal(t, 1, rep.Stats.Recovered)

	// The fallback wrote into the live run context; the next step sees it.
	require.NotNil(t, rep.Result)
	assert.Equal(t, "note=fell back", rep.Result.Data["value"])

	types := h.eventTypes(runID)
	assert.Contains(t, types, schema.EventRecoveryAttempted)
	assert.Contains(t, types, schema.EventRecoverySucceeded)
}

// --- TestResetRewind: step fails → reset rewinds to the checkpoint → budget runs out → failure stands ---

func TestResetRewindExhaustsBudget(t *testing.T) {
	h := newHarness(t)
	runID := uuid.New().String()

	mgr := recovery.NewManager(slog.New(slog.NewTextHandler(io.Discard, nil)))
	mgr.AddStrategy(&recovery.Reset{})

	eng := engineWith(t, h, fullDeps(t, h.session), engine.Config{Recovery: mgr, MaxRewinds: 2})
	rep, err := eng.Execute(context.Background(), workflow("rewinding",
		step("prep", schema.ActionSetVariable, map[string]any{"name": "ready", "value": true}),
		step("flaky", schema.ActionClick, map[string]any{"selector": "#gone"}),
	), engine.WithRunID(runID))
	require.NoError(t, err)

	assert.Equal(t, schema.RunStatusFailed, rep.Status)
	require.NotNil(t, rep.Error)
	assert.Equal(t, schema.ErrKindElementNotFound, rep.Error.Kind)

	// Initial attempt plus one rerun per rewind; prep never reruns
	// because the rewind target is the failing step's own boundary.
	assert.Equal(t, 3, journalOps(h.session, "click"))
	assert.Equal(t, 1, rep.Stats.Succeeded)
	assert.Equal(t, 3, rep.Stats.Failed)
	assert.Equal(t, 2, countType(h.eventTypes(runID), schema.EventCheckpointRestore))
}

// --- TestCircuitBreaker: one action type keeps failing → circuit opens → later steps are refused before dispatch ---

func TestCircuitBreakerOpens(t *testing.T) {
	h := newHarness(t)
	runID := uuid.New().String()

	eng := engineWith(t, h, fullDeps(t, h.session), engine.Config{
		Breaker: &engine.CircuitBreakerConfig{FailureThreshold: 2, Cooldown: time.Minute, HalfOpenMax: 1},
	})

	wf := workflow("tripping")
	wf.Steps = []schema.ActionSpec{
		{ID: "c1", Type: schema.ActionClick,
			Params: rawJSON(map[string]any{"selector": "#gone"}), ContinueOnError: true},
		{ID: "c2", Type: schema.ActionClick,
			Params: rawJSON(map[string]any{"selector": "#gone"}), ContinueOnError: true},
		{ID: "c3", Type: schema.ActionClick,
			Params: rawJSON(map[string]any{"selector": "#gone"}), ContinueOnError: true},
		{ID: "wrap", Type: schema.ActionSetVariable,
			Params: rawJSON(map[string]any{"name": "done", "value": true})},
	}

	rep, err := eng.Execute(context.Background(), wf, engine.WithRunID(runID))
	require.NoError(t, err)

	assert.Equal(t, schema.RunStatusCompleted, rep.Status)
	assert.Equal(t, 3, rep.Stats.Failed)
	assert.Equal(t, 1, rep.Stats.Succeeded)

	// The third click never reached the page: the open circuit refused it.
	assert.Equal(t, 2, journalOps(h.session, "click"))
	assert.Contains(t, h.eventTypes(runID), schema.EventCircuitBreakerOpen)
}

// --- TestSchedulerRecoverMissed: job is past due after downtime → recovery fires it once and reschedules ---

func TestSchedulerRecoversMissedRun(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	past := time.Now().UTC().Add(-2 * time.Minute)
	job := &store.ScheduledJob{
		ID:   uuid.New().String(),
		Name: "nightly-audit",
		Workflow: *workflow("nightly-audit",
			step("open", schema.ActionNavigate, map[string]any{"url": "https://shop.test/audit"}),
		),
		CronExpr:  "*/5 * * * *",
		Enabled:   true,
		NextRunAt: &past,
		CreatedAt: past,
	}
	require.NoError(t, h.store.CreateScheduledJob(ctx, job))

	sched := scheduler.New(scheduler.Config{
		Store:  h.store,
		Runner: h.engine,
		Logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
	require.NoError(t, sched.RecoverMissed(ctx))

	got, err := h.store.GetScheduledJob(ctx, job.ID)
	require.NoError(t, err)
	require.NotNil(t, got.LastRunAt)
	assert.Equal(t, string(schema.RunStatusCompleted), got.LastRunStatus)
	require.NotNil(t, got.NextRunAt)
	assert.True(t, got.NextRunAt.After(past), "job must be rescheduled forward")

	runs, err := h.store.ListRuns(ctx, store.RunFilter{ScheduleID: job.ID})
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, schema.RunStatusCompleted, runs[0].Status)
	assert.Equal(t, job.ID, runs[0].ScheduleID)
}

// --- TestParallelRows: data_driven with parallel > 1 → rows fan out over the pool → every row lands ---

func TestDataDrivenParallelRows(t *testing.T) {
	h := newHarness(t)
	h.session.WithElements("#email", 1)

	deps := fullDeps(t, h.session)
	deps.Sources["batch"] = datasource.NewMemorySource("batch",
		[]string{"email"},
		[]datasource.Row{
			{"email": "a@example.com"},
			{"email": "b@example.com"},
			{"email": "c@example.com"},
			{"email": "d@example.com"},
		})

	eng := engineWith(t, h, deps, engine.Config{})
	rep, err := eng.Execute(context.Background(), workflow("fanout",
		step("rows", schema.ActionDataDriven, map[string]any{
			"source":   "batch",
			"parallel": 2,
			"actions": []any{
				map[string]any{"id": "fill", "type": schema.ActionInput,
					"params": map[string]any{"selector": "#email", "value": "${$email}"}},
			},
		}),
	))
	require.NoError(t, err)

	assert.Equal(t, schema.RunStatusCompleted, rep.Status)
	require.NotNil(t, rep.Result)
	assert.EqualValues(t, 4, rep.Result.Data["rows"])
	assert.EqualValues(t, 0, rep.Result.Data["failed_rows"])
	assert.EqualValues(t, 2, rep.Result.Data["parallel"])
	assert.Equal(t, 4, journalOps(h.session, "input"))
}

// --- TestRowFailureTolerance: one row fails → continue_on_error keeps the rest running → aggregate still reports it ---

func TestDataDrivenContinueOnErrorRows(t *testing.T) {
	h := newHarness(t)
	h.session.WithElements("#ok", 1)

	deps := fullDeps(t, h.session)
	deps.Sources["targets"] = datasource.NewMemorySource("targets",
		[]string{"sel"},
		[]datasource.Row{{"sel": "#ok"}, {"sel": "#missing"}, {"sel": "#ok"}})

	eng := engineWith(t, h, deps, engine.Config{})

	wf := workflow("tolerant-rows")
	wf.Steps = []schema.ActionSpec{
		{
			ID:   "visit",
			Type: schema.ActionDataDriven,
			Params: rawJSON(map[string]any{
				"source":            "targets",
				"mappings":          map[string]any{"sel": "sel"},
				"continue_on_error": true,
				"actions": []any{
					map[string]any{"id": "tap", "type": schema.ActionClick,
						"params": map[string]any{"selector": "${$sel}"}},
				},
			}),
			ContinueOnError: true,
		},
		{ID: "wrap", Type: schema.ActionSetVariable,
			Params: rawJSON(map[string]any{"name": "done", "value": true})},
	}

	rep, err := eng.Execute(context.Background(), wf)
	require.NoError(t, err)

	assert.Equal(t, schema.RunStatusCompleted, rep.Status)
	// Every row ran; the aggregate still reports the middle failure.
	assert.Equal(t, 3, journalOps(h.session, "click"))
	assert.Equal(t, schema.StepStatusFailed, historyStatus(rep, "visit"))
	assert.Equal(t, schema.StepStatusCompleted, historyStatus(rep, "wrap"))
	assert.Equal(t, 1, rep.Stats.Failed)
	assert.Equal(t, 1, rep.Stats.Succeeded)
}
