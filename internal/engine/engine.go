// Package engine drives workflow runs: it walks the step list in
// order, enforcing guards, timeouts, retry policies and recovery, and
// publishes lifecycle events to the stream hub and the persistent
// event log.
package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/Phazzie/autoclick/internal/actions"
	"github.com/Phazzie/autoclick/internal/recovery"
	"github.com/Phazzie/autoclick/internal/run"
	"github.com/Phazzie/autoclick/internal/store"
	"github.com/Phazzie/autoclick/internal/streaming"
	"github.com/Phazzie/autoclick/internal/variables"
	"github.com/Phazzie/autoclick/pkg/schema"
)

// Engine is the central workflow execution coordinator.
type Engine interface {
	// Execute runs a workflow until it completes, fails, is cancelled
	// or parks paused. The report covers every step that reached an
	// outcome.
	Execute(ctx context.Context, wf *schema.Workflow, opts ...ExecOption) (*run.Report, error)

	// Pause asks an in-flight run to stop at the next step boundary.
	Pause(ctx context.Context, runID string) error

	// Resume wakes a paused in-flight run and returns (nil, nil); the
	// report comes out of the original Execute call. A run that is not
	// in flight is reloaded from the store and re-executed from its
	// last checkpoint, and the report of that continuation is returned.
	Resume(ctx context.Context, runID string) (*run.Report, error)

	// Cancel terminates a run. In-flight runs stop at the next step
	// boundary and their remaining steps are marked skipped.
	Cancel(ctx context.Context, runID string) error

	// Status returns a snapshot of a run's current state.
	Status(ctx context.Context, runID string) (*RunStatus, error)

	// Subscribe registers a handler for matching run events. The
	// returned function unsubscribes.
	Subscribe(ctx context.Context, filter streaming.EventFilter, handler func(streaming.StreamEvent)) (func(), error)
}

// RunStatus is a snapshot of a run's current state for querying.
type RunStatus struct {
	RunID    string             `json:"run_id"`
	Workflow string             `json:"workflow,omitempty"`
	Status   schema.RunStatus   `json:"status"`
	Steps    []*store.StepState `json:"steps,omitempty"`
}

// DefaultOnTimeout is the behavior applied when a run-level timeout
// fires and the workflow does not choose one.
const DefaultOnTimeout = "fail"

// DefaultMaxRewinds caps checkpoint rewinds per run so reset-style
// recovery cannot loop a run forever.
const DefaultMaxRewinds = 3

// Config carries the engine's collaborators. Store is optional (nil
// disables persistence) and so is Hub (nil disables streaming).
type Config struct {
	Store      store.Store
	Hub        streaming.EventHub
	Recovery   *recovery.Manager
	Breaker    *CircuitBreakerConfig
	Logger     *slog.Logger
	MaxRewinds int
}

// ExecOption adjusts a single Execute call.
type ExecOption func(*execOptions)

type execOptions struct {
	runID      string
	scheduleID string
	params     map[string]any
}

// WithRunID fixes the run ID instead of generating one.
func WithRunID(id string) ExecOption {
	return func(o *execOptions) { o.runID = id }
}

// WithParams seeds workflow-scope variables for this run. Params
// override declared workflow defaults of the same name.
func WithParams(params map[string]any) ExecOption {
	return func(o *execOptions) { o.params = params }
}

// WithScheduleID links the run to the scheduled job that triggered it.
func WithScheduleID(id string) ExecOption {
	return func(o *execOptions) { o.scheduleID = id }
}

// engineImpl is the concrete Engine implementation.
type engineImpl struct {
	registry   *actions.Registry
	deps       actions.Deps
	store      store.Store
	events     *store.EventLog
	hub        streaming.EventHub
	recovery   *recovery.Manager
	breaker    *CircuitBreakerRegistry
	logger     *slog.Logger
	maxRewinds int

	// mu guards running.
	mu      sync.Mutex
	running map[string]*activeRun
}

// activeRun tracks a single in-flight execution.
type activeRun struct {
	rctx   *run.Context
	cancel context.CancelFunc
}

// New creates an Engine. The registry builds one action per top-level
// step; deps is handed to every built action.
func New(registry *actions.Registry, deps actions.Deps, cfg Config) Engine {
	if registry == nil {
		registry = actions.DefaultRegistry()
	}
	if deps.Registry == nil {
		deps.Registry = registry
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Recovery == nil {
		cfg.Recovery = recovery.NewManager(cfg.Logger)
	}
	bcfg := DefaultCircuitBreakerConfig()
	if cfg.Breaker != nil {
		bcfg = *cfg.Breaker
	}
	if cfg.MaxRewinds <= 0 {
		cfg.MaxRewinds = DefaultMaxRewinds
	}
	var events *store.EventLog
	if cfg.Store != nil {
		events = store.NewEventLog(cfg.Store)
	}
	return &engineImpl{
		registry:   registry,
		deps:       deps,
		store:      cfg.Store,
		events:     events,
		hub:        cfg.Hub,
		recovery:   cfg.Recovery,
		breaker:    NewCircuitBreakerRegistry(bcfg),
		logger:     cfg.Logger,
		maxRewinds: cfg.MaxRewinds,
		running:    make(map[string]*activeRun),
	}
}

// Execute starts a new run of the workflow.
func (e *engineImpl) Execute(ctx context.Context, wf *schema.Workflow, opts ...ExecOption) (*run.Report, error) {
	if wf == nil {
		return nil, schema.NewError(schema.ErrCodeValidation, "workflow is nil")
	}
	if len(wf.Steps) == 0 {
		return nil, schema.NewError(schema.ErrCodeValidation, "workflow has no steps")
	}

	var o execOptions
	for _, opt := range opts {
		opt(&o)
	}

	rctx := run.NewContext(wf)
	if o.runID != "" {
		rctx.ID = o.runID
	}
	for k, v := range o.params {
		rctx.Vars.SetIn(variables.ScopeWorkflow, k, v)
	}

	// Register the run row before starting so queries can see it.
	if e.store != nil {
		rec := &store.Run{
			ID:           rctx.ID,
			WorkflowName: wf.Name,
			Definition:   *wf,
			Status:       schema.RunStatusCreated,
			Params:       o.params,
			ScheduleID:   o.scheduleID,
		}
		if err := e.store.CreateRun(ctx, rec); err != nil {
			return nil, schema.NewErrorf(schema.ErrCodeStore, "create run: %s", err.Error()).WithCause(err)
		}
	}

	return e.execute(ctx, wf, rctx, 0, false)
}

// execute drives rctx through wf.Steps starting at fromStep. It owns
// the run lifecycle from begin to terminal state (or parked pause).
func (e *engineImpl) execute(ctx context.Context, wf *schema.Workflow, rctx *run.Context, fromStep int, resumed bool) (*run.Report, error) {
	built, err := e.registry.BuildAll(wf.Steps, e.deps)
	if err != nil {
		return nil, err
	}

	onTimeout := wf.OnTimeout
	if onTimeout == "" {
		onTimeout = DefaultOnTimeout
	}

	execCtx, cancel := context.WithCancel(ctx)
	if wf.Timeout != "" {
		dur, perr := time.ParseDuration(wf.Timeout)
		if perr != nil {
			cancel()
			return nil, schema.NewErrorf(schema.ErrCodeValidation, "invalid workflow timeout %q: %s", wf.Timeout, perr.Error())
		}
		execCtx, cancel = context.WithTimeout(ctx, dur)
	}
	defer cancel()

	if err := rctx.Begin(); err != nil {
		return nil, err
	}

	e.mu.Lock()
	e.running[rctx.ID] = &activeRun{rctx: rctx, cancel: cancel}
	e.mu.Unlock()
	defer func() {
		e.mu.Lock()
		delete(e.running, rctx.ID)
		e.mu.Unlock()
	}()

	now := time.Now().UTC()
	runningStatus := schema.RunStatusRunning
	upd := store.RunUpdate{Status: &runningStatus}
	if !resumed {
		upd.StartedAt = &now
	}
	e.updateRun(execCtx, rctx.ID, upd)
	if resumed {
		e.emit(execCtx, rctx, "", schema.EventRunResumed, map[string]any{"from_step": fromStep})
	} else {
		e.emit(execCtx, rctx, "", schema.EventRunStarted, map[string]any{"workflow": wf.Name, "steps": len(wf.Steps)})
	}

	var last *run.Result
	var abort *run.Result
	rewinds := 0

	// next is the step a resume would rerun; skipFrom is the first step
	// that never settled. They differ when a step was interrupted
	// mid-flight: that step reruns on resume but is already settled.
	i := fromStep
	next := fromStep
	skipFrom := fromStep
	for i < len(built) {
		next, skipFrom = i, i

		// Step boundary: snapshot progress, then honor pause and cancel.
		cp := rctx.TakeCheckpoint(i)
		if rctx.Status() == schema.RunStatusPaused {
			e.persistPause(execCtx, rctx, cp)
		}
		if err := rctx.AwaitResume(execCtx); err != nil {
			break
		}
		if execCtx.Err() != nil {
			break
		}

		spec := wf.Steps[i]
		res, settled, rewindTo := e.runStep(execCtx, rctx, built[i], spec)
		skipFrom = i + 1

		rctx.AppendHistory(run.HistoryEntry{
			ActionID:   spec.ID,
			Type:       spec.Type,
			Status:     settled,
			Message:    res.Message,
			DurationMs: res.DurationMs,
		})

		if rewindTo >= 0 && rewinds < e.maxRewinds {
			rewinds++
			e.emit(execCtx, rctx, spec.ID, schema.EventCheckpointRestore,
				map[string]any{"resume_step": rewindTo, "rewind": rewinds})
			i = rewindTo
			continue
		}
		if rewindTo >= 0 {
			// Rewind budget spent: put variables back at this step's
			// boundary and let the failure stand.
			rctx.RestoreCheckpoint(cp)
			e.logger.WarnContext(execCtx, "rewind budget exhausted",
				"run_id", rctx.ID, "action_id", spec.ID, "rewinds", rewinds)
		}

		last = res
		next = i + 1

		if settled == schema.StepStatusFailed && !spec.ContinueOnError && !wf.ContinueOnError {
			if execCtx.Err() != nil {
				// The deadline or a cancel interrupted the step rather
				// than the step failing on its own; a resume reruns it.
				next = i
			}
			if res.Error != nil {
				if res.Error.Details == nil {
					res.Error.Details = map[string]any{}
				}
				res.Error.Details["step_index"] = i
			}
			abort = res
			break
		}
		i++
	}

	switch {
	case rctx.Status() == schema.RunStatusCancelled:
		return e.finishCancelled(rctx, wf, skipFrom, last)
	case execCtx.Err() == context.DeadlineExceeded:
		return e.handleTimeout(rctx, wf, next, skipFrom, onTimeout, last)
	case rctx.Status() == schema.RunStatusPaused && execCtx.Err() != nil:
		// The caller's context ended while the run was parked paused.
		// Checkpoint and status rows are already durable; a later
		// Resume picks the run back up from the store.
		return run.BuildReport(rctx, last), nil
	case execCtx.Err() == context.Canceled:
		return e.finishCancelled(rctx, wf, skipFrom, last)
	case abort != nil:
		return e.finishFailed(rctx, abort)
	default:
		return e.finishCompleted(rctx, last)
	}
}

// runStep executes one top-level step through the breaker gate, the
// per-action timeout, the step's retry policy and the recovery chain.
// It returns the step result, the settled step status, and a step
// index to rewind to when reset recovery asks for one (-1 otherwise).
func (e *engineImpl) runStep(ctx context.Context, rctx *run.Context, act actions.Action, spec schema.ActionSpec) (*run.Result, schema.StepStatus, int) {
	tracker := newStepTracker(rctx.ID, spec.ID)
	e.stepTo(ctx, rctx, tracker, schema.StepStatusRunning, nil)

	state, err := e.breaker.AllowRequest(spec.Type)
	if err != nil {
		res, rewind := e.settleFailure(ctx, rctx, tracker, act, spec,
			run.Failed(recovery.RecordFromError(spec.ID, err)))
		return res, tracker.state.Status, rewind
	}
	if state == CircuitHalfOpen {
		e.emit(ctx, rctx, spec.ID, schema.EventCircuitBreakerHalfOpen, e.breaker.GetStats(spec.Type))
	}

	res := e.dispatch(ctx, rctx, act, spec)
	if res.Success {
		if res.WasSkipped() {
			e.stepTo(ctx, rctx, tracker, schema.StepStatusSkipped, res)
			return res, tracker.state.Status, -1
		}
		e.stepTo(ctx, rctx, tracker, schema.StepStatusCompleted, res)
		return res, tracker.state.Status, -1
	}

	out, rewind := e.settleFailure(ctx, rctx, tracker, act, spec, res)
	return out, tracker.state.Status, rewind
}

// dispatch runs the action once under its own timeout and feeds the
// outcome to the circuit breaker. Guard skips bypass the breaker: a
// step that never touched the page proves nothing about it.
func (e *engineImpl) dispatch(ctx context.Context, rctx *run.Context, act actions.Action, spec schema.ActionSpec) *run.Result {
	stepCtx := ctx
	if spec.Timeout != "" {
		dur, err := time.ParseDuration(spec.Timeout)
		if err != nil {
			return run.Failed(recovery.RecordFromError(spec.ID,
				schema.NewErrorf(schema.ErrCodeValidation, "invalid timeout %q: %s", spec.Timeout, err.Error())))
		}
		var stepCancel context.CancelFunc
		stepCtx, stepCancel = context.WithTimeout(ctx, dur)
		defer stepCancel()
	}

	res := act.Execute(stepCtx, rctx)

	// An action reporting success after its deadline fired still timed out.
	if stepCtx.Err() == context.DeadlineExceeded && ctx.Err() == nil && res.Success {
		res = run.Failed(&schema.ErrorRecord{
			Kind:      schema.ErrKindTimeout,
			Message:   fmt.Sprintf("step %s exceeded its %s timeout", spec.ID, spec.Timeout),
			ActionID:  spec.ID,
			Timestamp: time.Now().UTC(),
		})
	}

	if res.WasSkipped() {
		return res
	}
	if res.Success {
		if prev := e.breaker.RecordSuccess(spec.Type); prev == CircuitHalfOpen {
			e.emit(ctx, rctx, spec.ID, schema.EventCircuitBreakerClosed, e.breaker.GetStats(spec.Type))
		}
		return res
	}
	if st := e.breaker.RecordFailure(spec.Type); st == CircuitOpen {
		e.emit(ctx, rctx, spec.ID, schema.EventCircuitBreakerOpen, e.breaker.GetStats(spec.Type))
	}
	return res
}

// settleFailure routes a failed result through the step's own retry
// policy and then the engine-wide recovery chain, settling the step's
// final status. A non-negative second return is a rewind target.
func (e *engineImpl) settleFailure(ctx context.Context, rctx *run.Context, tracker *stepTracker, act actions.Action, spec schema.ActionSpec, res *run.Result) (*run.Result, int) {
	rec := res.Error
	if rec == nil {
		rec = recovery.RecordFromError(spec.ID,
			schema.NewErrorf(schema.ErrCodeExecution, "step %s failed: %s", spec.ID, res.Message))
		res.Error = rec
	}
	e.emit(ctx, rctx, spec.ID, schema.EventErrorDetected, rec)

	retryFn := recovery.RetryFunc(func(c context.Context) *run.Result {
		// Retries before the step settles surface as retrying/running;
		// chain-driven reruns after failure stay recovery-internal.
		if tracker.state.Status == schema.StepStatusRunning {
			e.stepTo(c, rctx, tracker, schema.StepStatusRetrying, nil)
			e.stepTo(c, rctx, tracker, schema.StepStatusRunning, nil)
		}
		return e.dispatch(c, rctx, act, spec)
	})

	// The step's own retry policy runs first, while the step is still
	// live: those attempts are retries, not recoveries.
	if spec.Retry != nil && spec.Retry.Max > 0 {
		strat := &recovery.Retry{MaxAttempts: spec.Retry.Max + 1, Policy: spec.Retry}
		if strat.CanRecover(rec) {
			out, rerr := strat.Recover(ctx, rec, rctx, retryFn)
			if rerr == nil && out != nil && out.Success {
				e.stepTo(ctx, rctx, tracker, schema.StepStatusCompleted, out)
				return out, -1
			}
			if rerr != nil {
				e.logger.WarnContext(ctx, "step retries exhausted",
					"run_id", rctx.ID, "action_id", spec.ID, "error", rerr)
			}
		}
	}

	// Retries spent; the step settles failed and the engine-wide chain
	// gets the last word.
	e.stepTo(ctx, rctx, tracker, schema.StepStatusFailed, res)

	e.emit(ctx, rctx, spec.ID, schema.EventRecoveryAttempted, map[string]any{"kind": string(rec.Kind)})
	out, ok := e.recovery.Handle(ctx, rec, rctx, retryFn)
	if !ok {
		e.emit(ctx, rctx, spec.ID, schema.EventRecoveryFailed, map[string]any{"kind": string(rec.Kind)})
		return res, -1
	}

	// A reset recovery rewinds the run instead of fixing the step in
	// place; the run loop owns accepting or declining the rewind.
	if rewound, _ := out.Data["rewound"].(bool); rewound {
		if step, okStep := out.Data["resume_step"].(int); okStep {
			return res, step
		}
	}

	e.stepTo(ctx, rctx, tracker, schema.StepStatusRecovered, out)
	return out, -1
}

// --- Run settlement ---

func (e *engineImpl) finishCompleted(rctx *run.Context, last *run.Result) (*run.Report, error) {
	bgCtx := context.Background()

	// A pause that lands after the last step loses to completion.
	if rctx.Status() == schema.RunStatusPaused {
		_ = rctx.Resume()
	}
	_ = rctx.Complete()

	completed := schema.RunStatusCompleted
	end := time.Now().UTC()
	var resJSON json.RawMessage
	if last != nil {
		resJSON, _ = json.Marshal(last)
	}
	e.updateRun(bgCtx, rctx.ID, store.RunUpdate{Status: &completed, CompletedAt: &end, Result: resJSON})
	if e.store != nil {
		// Completed runs keep no checkpoint row.
		_ = e.store.DeleteCheckpoint(bgCtx, rctx.ID)
	}
	e.emit(bgCtx, rctx, "", schema.EventRunCompleted, map[string]any{"steps": rctx.HistoryLen()})
	return run.BuildReport(rctx, last), nil
}

func (e *engineImpl) finishFailed(rctx *run.Context, failure *run.Result) (*run.Report, error) {
	bgCtx := context.Background()
	if !rctx.Done() {
		_ = rctx.Fail()
	}

	failed := schema.RunStatusFailed
	end := time.Now().UTC()
	var errJSON json.RawMessage
	if failure.Error != nil {
		errJSON, _ = json.Marshal(failure.Error)
	}
	e.updateRun(bgCtx, rctx.ID, store.RunUpdate{Status: &failed, CompletedAt: &end, Error: errJSON})
	e.emit(bgCtx, rctx, "", schema.EventRunFailed, failure.Error)
	return run.BuildReport(rctx, failure), nil
}

func (e *engineImpl) finishCancelled(rctx *run.Context, wf *schema.Workflow, skipFrom int, last *run.Result) (*run.Report, error) {
	bgCtx := context.Background()
	if rctx.Status() != schema.RunStatusCancelled {
		_ = rctx.Cancel()
	}
	e.skipRemaining(bgCtx, rctx, wf, skipFrom)

	cancelled := schema.RunStatusCancelled
	end := time.Now().UTC()
	e.updateRun(bgCtx, rctx.ID, store.RunUpdate{Status: &cancelled, CompletedAt: &end})
	if e.store != nil {
		_ = e.store.DeleteCheckpoint(bgCtx, rctx.ID)
	}
	e.emit(bgCtx, rctx, "", schema.EventRunCancelled, nil)
	return run.BuildReport(rctx, last), nil
}

// handleTimeout settles a run whose deadline fired. The behavior comes
// from the workflow's on_timeout: fail (default), pause or cancel.
func (e *engineImpl) handleTimeout(rctx *run.Context, wf *schema.Workflow, next, skipFrom int, behavior string, last *run.Result) (*run.Report, error) {
	// The run context is spent; emissions use a fresh one.
	bgCtx := context.Background()
	e.emit(bgCtx, rctx, "", schema.EventRunTimedOut, map[string]any{"behavior": behavior, "timeout": wf.Timeout})

	end := time.Now().UTC()
	switch behavior {
	case "pause":
		// Park instead of killing: checkpoint what we have so a later
		// Resume picks the run up at the next step.
		if rctx.Status() == schema.RunStatusRunning {
			_ = rctx.Pause()
		}
		cp := rctx.TakeCheckpoint(next)
		e.persistCheckpoint(rctx, cp)
		paused := schema.RunStatusPaused
		e.updateRun(bgCtx, rctx.ID, store.RunUpdate{Status: &paused})
		e.emit(bgCtx, rctx, "", schema.EventRunPaused, map[string]any{"reason": "timeout"})
		return run.BuildReport(rctx, last), nil

	case "cancel":
		if !rctx.Done() {
			_ = rctx.Cancel()
		}
		e.skipRemaining(bgCtx, rctx, wf, skipFrom)
		cancelled := schema.RunStatusCancelled
		e.updateRun(bgCtx, rctx.ID, store.RunUpdate{Status: &cancelled, CompletedAt: &end})
		if e.store != nil {
			_ = e.store.DeleteCheckpoint(bgCtx, rctx.ID)
		}
		e.emit(bgCtx, rctx, "", schema.EventRunCancelled, map[string]any{"reason": "timeout"})
		return run.BuildReport(rctx, last), nil

	default: // fail
		res := run.Failed(&schema.ErrorRecord{
			Kind:      schema.ErrKindTimeout,
			Message:   fmt.Sprintf("run exceeded its %s deadline", wf.Timeout),
			Timestamp: end,
		})
		if !rctx.Done() {
			_ = rctx.Fail()
		}
		failed := schema.RunStatusFailed
		errJSON, _ := json.Marshal(res.Error)
		e.updateRun(bgCtx, rctx.ID, store.RunUpdate{Status: &failed, CompletedAt: &end, Error: errJSON})
		e.emit(bgCtx, rctx, "", schema.EventRunFailed, res.Error)
		return run.BuildReport(rctx, res), nil
	}
}

// skipRemaining marks every step the run never reached as skipped so
// queries and replay see a settled plan instead of dangling pendings.
func (e *engineImpl) skipRemaining(ctx context.Context, rctx *run.Context, wf *schema.Workflow, from int) {
	for i := from; i < len(wf.Steps); i++ {
		t := newStepTracker(rctx.ID, wf.Steps[i].ID)
		e.stepTo(ctx, rctx, t, schema.StepStatusSkipped, nil)
		rctx.AppendHistory(run.HistoryEntry{
			ActionID: wf.Steps[i].ID,
			Type:     wf.Steps[i].Type,
			Status:   schema.StepStatusSkipped,
			Message:  "run ended before this step",
		})
	}
}

// --- Control surface ---

// Pause asks a running run to stop at the next step boundary.
func (e *engineImpl) Pause(ctx context.Context, runID string) error {
	e.mu.Lock()
	ar, ok := e.running[runID]
	e.mu.Unlock()
	if !ok {
		return schema.NewErrorf(schema.ErrCodeNotFound, "run %s is not in flight", runID)
	}
	if err := ar.rctx.Pause(); err != nil {
		return err
	}

	// Make the pause durable right away; the run loop refreshes the
	// checkpoint when it parks at the boundary.
	if cp, taken := ar.rctx.LatestCheckpoint(); taken {
		e.persistCheckpoint(ar.rctx, cp)
	}
	paused := schema.RunStatusPaused
	e.updateRun(ctx, runID, store.RunUpdate{Status: &paused})
	e.emit(ctx, ar.rctx, "", schema.EventRunPaused, nil)
	return nil
}

// Resume wakes a paused in-flight run, or re-executes a stored paused
// run from its checkpoint.
func (e *engineImpl) Resume(ctx context.Context, runID string) (*run.Report, error) {
	e.mu.Lock()
	ar, ok := e.running[runID]
	e.mu.Unlock()
	if ok {
		if err := ar.rctx.Resume(); err != nil {
			return nil, err
		}
		runningStatus := schema.RunStatusRunning
		e.updateRun(ctx, runID, store.RunUpdate{Status: &runningStatus})
		e.emit(ctx, ar.rctx, "", schema.EventRunResumed, nil)
		return nil, nil
	}
	return e.resumeFromStore(ctx, runID)
}

// resumeFromStore reloads a paused run and continues it in this
// process from its last durable checkpoint.
func (e *engineImpl) resumeFromStore(ctx context.Context, runID string) (*run.Report, error) {
	if e.store == nil {
		return nil, schema.NewErrorf(schema.ErrCodeNotFound, "run %s is not in flight", runID)
	}
	rec, err := e.store.GetRun(ctx, runID)
	if err != nil {
		return nil, err
	}
	if rec.Status != schema.RunStatusPaused {
		return nil, schema.NewErrorf(schema.ErrCodeConflict, "cannot resume run in status %s", rec.Status)
	}
	stored, err := e.store.GetCheckpoint(ctx, runID)
	if err != nil {
		return nil, err
	}
	var cp run.Checkpoint
	if err := json.Unmarshal(stored.Payload, &cp); err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeStore, "decode checkpoint for run %s: %s", runID, err.Error()).WithCause(err)
	}

	wf := rec.Definition

	// The run deadline keeps ticking across the pause.
	if wf.Timeout != "" {
		dur, perr := time.ParseDuration(wf.Timeout)
		if perr == nil && rec.StartedAt != nil {
			remaining := dur - time.Since(*rec.StartedAt)
			if remaining <= 0 {
				return nil, schema.NewErrorf(schema.ErrCodeTimeout, "run %s deadline already passed", runID)
			}
			wf.Timeout = remaining.String()
		}
	}

	rctx := run.NewContext(&wf)
	rctx.ID = runID
	nextStep := rctx.RestoreCheckpoint(cp)

	// Fold the pre-pause step outcomes back into run history so the
	// final report covers the whole run, not just the continuation.
	if e.events != nil {
		if states, rerr := e.events.ReplayEvents(ctx, runID); rerr == nil {
			rebuildHistory(rctx, &wf, states, nextStep)
		} else {
			e.logger.WarnContext(ctx, "event replay failed on resume", "run_id", runID, "error", rerr)
		}
	}

	e.emit(ctx, rctx, "", schema.EventCheckpointRestore, map[string]any{"next_step": nextStep})
	return e.execute(ctx, &wf, rctx, nextStep, true)
}

// rebuildHistory folds replayed step states back into run history in
// plan order, covering the steps settled before the pause.
func rebuildHistory(rctx *run.Context, wf *schema.Workflow, states map[string]*store.StepState, next int) {
	for _, spec := range wf.Steps[:min(next, len(wf.Steps))] {
		ss, ok := states[spec.ID]
		if !ok || !isTerminalStep(ss.Status) {
			continue
		}
		entry := run.HistoryEntry{
			ActionID:   spec.ID,
			Type:       spec.Type,
			Status:     ss.Status,
			DurationMs: ss.DurationMs,
		}
		if ss.CompletedAt != nil {
			entry.At = *ss.CompletedAt
		}
		rctx.AppendHistory(entry)
	}
}

// Cancel terminates a run. In-flight runs stop at the next boundary;
// stored paused runs are settled directly.
func (e *engineImpl) Cancel(ctx context.Context, runID string) error {
	e.mu.Lock()
	ar, ok := e.running[runID]
	e.mu.Unlock()
	if ok {
		if err := ar.rctx.Cancel(); err != nil {
			return err
		}
		ar.cancel()
		return nil
	}

	if e.store == nil {
		return schema.NewErrorf(schema.ErrCodeNotFound, "run %s is not in flight", runID)
	}
	rec, err := e.store.GetRun(ctx, runID)
	if err != nil {
		return err
	}
	switch rec.Status {
	case schema.RunStatusCompleted, schema.RunStatusFailed, schema.RunStatusCancelled:
		return schema.NewErrorf(schema.ErrCodeConflict, "run %s already %s", runID, rec.Status)
	}
	cancelled := schema.RunStatusCancelled
	end := time.Now().UTC()
	e.updateRun(ctx, runID, store.RunUpdate{Status: &cancelled, CompletedAt: &end})
	_ = e.store.DeleteCheckpoint(ctx, runID)
	e.publish(ctx, runID, rec.WorkflowName, "", schema.EventRunCancelled, nil)
	return nil
}

// Status returns a snapshot of a run. In-flight runs answer from
// memory; settled ones from the store.
func (e *engineImpl) Status(ctx context.Context, runID string) (*RunStatus, error) {
	e.mu.Lock()
	ar, inFlight := e.running[runID]
	e.mu.Unlock()

	st := &RunStatus{RunID: runID}
	if inFlight {
		st.Workflow = ar.rctx.WorkflowName
		st.Status = ar.rctx.Status()
	}

	if e.store == nil {
		if !inFlight {
			return nil, schema.NewErrorf(schema.ErrCodeNotFound, "run %s not found", runID)
		}
		return st, nil
	}

	rec, err := e.store.GetRun(ctx, runID)
	if err != nil {
		if inFlight {
			return st, nil
		}
		return nil, err
	}
	if !inFlight {
		st.Workflow = rec.WorkflowName
		st.Status = rec.Status
	}
	if steps, serr := e.store.ListStepStates(ctx, runID); serr == nil {
		st.Steps = steps
	}
	return st, nil
}

// Subscribe registers a handler for matching run events.
func (e *engineImpl) Subscribe(ctx context.Context, filter streaming.EventFilter, handler func(streaming.StreamEvent)) (func(), error) {
	if e.hub == nil {
		return nil, schema.NewError(schema.ErrCodeValidation, "engine has no event hub")
	}
	return streaming.Listen(ctx, e.hub, filter, handler)
}

// --- Persistence and emission helpers ---

// stepTo advances a step's lifecycle, persists the materialized state
// and emits the transition event.
func (e *engineImpl) stepTo(ctx context.Context, rctx *run.Context, t *stepTracker, to schema.StepStatus, res *run.Result) {
	ev, err := t.advance(to)
	if err != nil {
		e.logger.WarnContext(ctx, "step transition rejected",
			"run_id", rctx.ID, "action_id", t.state.ActionID, "error", err)
		return
	}

	var payload any
	switch to {
	case schema.StepStatusCompleted, schema.StepStatusRecovered:
		if res != nil {
			t.state.Output = marshalOrNil(res.Data)
			payload = res.Data
		}
	case schema.StepStatusFailed:
		if res != nil && res.Error != nil {
			t.state.Error = marshalOrNil(res.Error)
			payload = res.Error
		}
	case schema.StepStatusRetrying:
		payload = map[string]any{"attempt": t.state.Attempts}
	case schema.StepStatusSkipped:
		if res != nil {
			payload = map[string]any{"reason": res.Message}
		}
	}

	e.persistStep(t)
	if ev != "" {
		e.emit(ctx, rctx, t.state.ActionID, ev, payload)
	}
}

// emit publishes one event for a live run context.
func (e *engineImpl) emit(ctx context.Context, rctx *run.Context, actionID, eventType string, payload any) {
	e.publish(ctx, rctx.ID, rctx.WorkflowName, actionID, eventType, payload)
}

// publish sends one event to the stream hub and the persistent log.
// Both are best-effort: a full hub or a store error never fails a run.
func (e *engineImpl) publish(ctx context.Context, runID, workflow, actionID, eventType string, payload any) {
	if ctx.Err() != nil {
		ctx = context.Background()
	}
	now := time.Now().UTC()

	if e.hub != nil {
		_ = e.hub.Publish(ctx, streaming.StreamEvent{
			RunID:     runID,
			Workflow:  workflow,
			ActionID:  actionID,
			EventType: eventType,
			Payload:   payload,
			At:        now,
		})
	}
	if e.events != nil {
		var raw json.RawMessage
		if payload != nil {
			raw, _ = json.Marshal(payload)
		}
		if err := e.events.AppendEvent(ctx, &store.Event{
			RunID:     runID,
			ActionID:  actionID,
			Type:      eventType,
			Payload:   raw,
			Timestamp: now,
		}); err != nil {
			e.logger.WarnContext(ctx, "event append failed",
				"run_id", runID, "event", eventType, "error", err)
		}
	}
}

func (e *engineImpl) persistStep(t *stepTracker) {
	if e.store == nil {
		return
	}
	// Best-effort with a fresh context; the run keeps going even when
	// the store does not.
	st := *t.state
	if err := e.store.UpsertStepState(context.Background(), &st); err != nil {
		e.logger.Warn("persist step state failed",
			"run_id", st.RunID, "action_id", st.ActionID, "error", err)
	}
}

func (e *engineImpl) updateRun(ctx context.Context, runID string, upd store.RunUpdate) {
	if e.store == nil {
		return
	}
	if ctx.Err() != nil {
		ctx = context.Background()
	}
	if err := e.store.UpdateRun(ctx, runID, upd); err != nil {
		e.logger.WarnContext(ctx, "persist run failed", "run_id", runID, "error", err)
	}
}

func (e *engineImpl) persistCheckpoint(rctx *run.Context, cp run.Checkpoint) {
	if e.store == nil {
		return
	}
	payload, err := json.Marshal(cp)
	if err != nil {
		e.logger.Warn("marshal checkpoint failed", "run_id", rctx.ID, "error", err)
		return
	}
	if err := e.store.SaveCheckpoint(context.Background(), &store.Checkpoint{
		RunID:   rctx.ID,
		Payload: payload,
		TakenAt: cp.TakenAt,
	}); err != nil {
		e.logger.Warn("persist checkpoint failed", "run_id", rctx.ID, "error", err)
	}
}

// persistPause makes a paused run durable: fresh checkpoint, status
// row and a checkpoint event, so a restart can pick the run back up
// from this boundary.
func (e *engineImpl) persistPause(ctx context.Context, rctx *run.Context, cp run.Checkpoint) {
	e.persistCheckpoint(rctx, cp)
	paused := schema.RunStatusPaused
	e.updateRun(ctx, rctx.ID, store.RunUpdate{Status: &paused})
	e.emit(ctx, rctx, "", schema.EventCheckpointTaken, map[string]any{"next_step": cp.NextStep})
}

func marshalOrNil(v any) json.RawMessage {
	if v == nil {
		return nil
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return nil
	}
	return raw
}
