// Package actions implements the executable units of a workflow: control
// flow (if, switch, loop), variable mutation, page interaction and the
// data/credential iteration wrappers. Every failure is captured into a
// failed result carrying an error record; Execute never panics past the
// boundary and never returns nil.
package actions

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/Phazzie/autoclick/internal/conditions"
	"github.com/Phazzie/autoclick/internal/credentials"
	"github.com/Phazzie/autoclick/internal/datasource"
	"github.com/Phazzie/autoclick/internal/expressions"
	"github.com/Phazzie/autoclick/internal/loops"
	"github.com/Phazzie/autoclick/internal/page"
	"github.com/Phazzie/autoclick/internal/recovery"
	"github.com/Phazzie/autoclick/internal/run"
	"github.com/Phazzie/autoclick/internal/variables"
	"github.com/Phazzie/autoclick/pkg/schema"
)

// Action is one executable workflow step.
type Action interface {
	// Type returns the registry tag for this action variant.
	Type() string
	// Execute runs the action against a live run context. The result is
	// never nil; failures carry an ErrorRecord instead of panicking.
	Execute(ctx context.Context, rctx *run.Context) *run.Result
	// Spec re-serializes the action for round-tripping.
	Spec() schema.ActionSpec
}

// Deps carries the capabilities actions execute against. Zero fields are
// tolerated where an action can do without them; an action that needs a
// missing capability fails at build time with VALIDATION.
type Deps struct {
	Session     page.Session
	Interp      *expressions.Interpolator
	Engines     map[string]expressions.Engine
	Conditions  *conditions.Registry
	Loops       *loops.Registry
	Credentials credentials.Manager
	Sources     map[string]datasource.Source
	// Registry builds nested actions (branches, loop bodies, rows).
	// Build fills it in.
	Registry *Registry
}

func (d Deps) condDeps() conditions.Deps {
	return conditions.Deps{
		Session:  d.Session,
		Interp:   d.Interp,
		Engines:  d.Engines,
		Registry: d.Conditions,
	}
}

func (d Deps) loopDeps() loops.Deps {
	return loops.Deps{Cond: d.condDeps(), Registry: d.Conditions}
}

// Builder constructs an action variant from its spec.
type Builder func(spec schema.ActionSpec, deps Deps) (Action, error)

// Registry maps action type tags to builders.
type Registry struct {
	mu       sync.RWMutex
	builders map[string]Builder
}

// NewRegistry creates an empty action registry.
func NewRegistry() *Registry {
	return &Registry{builders: make(map[string]Builder)}
}

// Register adds a builder. Duplicate tags are a CONFLICT.
func (r *Registry) Register(typeTag string, b Builder) error {
	if typeTag == "" {
		return schema.NewError(schema.ErrCodeValidation, "action type tag is empty")
	}
	if b == nil {
		return schema.NewError(schema.ErrCodeValidation, "action builder is nil")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.builders[typeTag]; exists {
		return schema.NewErrorf(schema.ErrCodeConflict, "action type %q already registered", typeTag)
	}
	r.builders[typeTag] = b
	return nil
}

// Has reports whether a type tag is registered.
func (r *Registry) Has(typeTag string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.builders[typeTag]
	return ok
}

// Count returns the number of registered builders.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.builders)
}

// Build constructs the action a spec describes and wraps it with the
// execution boundary: guard evaluation, panic containment, duration
// stamping.
func (r *Registry) Build(spec schema.ActionSpec, deps Deps) (Action, error) {
	r.mu.RLock()
	b, ok := r.builders[spec.Type]
	r.mu.RUnlock()
	if !ok {
		return nil, schema.NewErrorf(schema.ErrCodeValidation, "unknown action type %q", spec.Type).WithAction(spec.ID)
	}
	if deps.Registry == nil {
		deps.Registry = r
	}

	var guard expressions.Engine
	if spec.Guard != "" {
		guard, ok = deps.Engines["cel"]
		if !ok {
			return nil, schema.NewErrorf(schema.ErrCodeValidation,
				"action %q has a guard but no cel engine is wired", spec.ID).WithAction(spec.ID)
		}
	}

	inner, err := b(spec, deps)
	if err != nil {
		return nil, err
	}
	return &boundedAction{inner: inner, guard: guard}, nil
}

// BuildAll constructs a slice of actions, failing on the first bad spec.
func (r *Registry) BuildAll(specs []schema.ActionSpec, deps Deps) ([]Action, error) {
	out := make([]Action, 0, len(specs))
	for _, spec := range specs {
		a, err := r.Build(spec, deps)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, nil
}

// DefaultRegistry returns a registry with every built-in action variant.
func DefaultRegistry() *Registry {
	r := NewRegistry()
	for tag, b := range map[string]Builder{
		schema.ActionIf:                buildIf,
		schema.ActionSwitch:            buildSwitch,
		schema.ActionLoop:              buildLoop,
		schema.ActionBreak:             buildBreak,
		schema.ActionContinue:          buildContinue,
		schema.ActionSetVariable:       buildSetVariable,
		schema.ActionIncrementVariable: buildIncrementVariable,
		schema.ActionExtractText:       buildExtractText,
		schema.ActionDataDriven:        buildDataDriven,
		schema.ActionCredentialFilter:  buildCredentialFilter,
		schema.ActionNavigate:          buildNavigate,
		schema.ActionClick:             buildClick,
		schema.ActionInput:             buildInput,
		schema.ActionWaitForElement:    buildWaitForElement,
		schema.ActionTransform:         buildTransform,
		schema.ActionEval:              buildEval,
	} {
		// Tags are unique at compile time, Register cannot fail here.
		_ = r.Register(tag, b)
	}
	return r
}

// boundedAction is the execution boundary around every built action:
// a false guard skips the action, panics become failed results, nil
// results are repaired, and wall time is stamped.
type boundedAction struct {
	inner Action
	guard expressions.Engine
}

func (s *boundedAction) Type() string            { return s.inner.Type() }
func (s *boundedAction) Spec() schema.ActionSpec { return s.inner.Spec() }

func (s *boundedAction) Execute(ctx context.Context, rctx *run.Context) (res *run.Result) {
	start := time.Now()
	spec := s.inner.Spec()
	defer func() {
		if r := recover(); r != nil {
			res = run.Failed(recovery.RecordFromError(spec.ID,
				schema.NewErrorf(schema.ErrCodeExecution, "action %s panicked: %v", spec.ID, r)))
		}
		if res == nil {
			res = run.FailedKind(schema.ErrKindUnknown, spec.ID, "action produced no result")
		}
		res.DurationMs = time.Since(start).Milliseconds()
	}()

	if s.guard != nil {
		verdict, err := s.guard.Evaluate(ctx, spec.Guard, guardData(rctx))
		if err != nil {
			// Engine errors keep their own codes so syntax errors stay fatal.
			return run.Failed(recovery.RecordFromError(spec.ID, err))
		}
		pass, ok := verdict.(bool)
		if !ok {
			return run.Failed(recovery.RecordFromError(spec.ID,
				schema.NewErrorf(schema.ErrCodeExpressionType, "guard %q evaluated to %T, want bool", spec.Guard, verdict)))
		}
		if !pass {
			return run.Skipped(fmt.Sprintf("guard %q is false", spec.Guard))
		}
	}

	return s.inner.Execute(ctx, rctx)
}

// guardData shapes the CEL activation for a guard: run variables under
// vars, run metadata under run.
func guardData(rctx *run.Context) map[string]any {
	return map[string]any{
		"vars": rctx.Vars.Flatten(),
		"run": map[string]any{
			"run_id":   rctx.ID,
			"workflow": rctx.WorkflowName,
		},
	}
}

// base carries the spec every action answers Type and Spec from.
type base struct {
	spec schema.ActionSpec
}

func (b base) Type() string            { return b.spec.Type }
func (b base) Spec() schema.ActionSpec { return b.spec }
func (b base) id() string              { return b.spec.ID }

// fail converts an error into this action's failed result.
func (b base) fail(err error) *run.Result {
	return run.Failed(b.record(err))
}

// record classifies an error into this action's error record.
func (b base) record(err error) *schema.ErrorRecord {
	return recovery.RecordFromError(b.id(), err)
}

// sequence executes nested actions in order. The first break or
// continue signal short-circuits the rest and surfaces on the
// aggregate; a failing child aborts unless its spec opts into
// continue_on_error.
type sequence struct {
	actions []Action
}

func buildSequence(specs []schema.ActionSpec, deps Deps) (*sequence, error) {
	if len(specs) == 0 {
		return &sequence{}, nil
	}
	if deps.Registry == nil {
		return nil, schema.NewError(schema.ErrCodeValidation, "nested actions require a registry")
	}
	acts, err := deps.Registry.BuildAll(specs, deps)
	if err != nil {
		return nil, err
	}
	return &sequence{actions: acts}, nil
}

func (s *sequence) empty() bool { return s == nil || len(s.actions) == 0 }

func (s *sequence) run(ctx context.Context, rctx *run.Context) *run.Result {
	agg := run.Succeed("")
	if s == nil {
		return agg
	}
	for _, a := range s.actions {
		// Pause lands between actions, cancellation aborts the body.
		if err := rctx.AwaitResume(ctx); err != nil {
			rec := recovery.RecordFromError(a.Spec().ID, err)
			agg.Success = false
			agg.Error = rec
			agg.Message = rec.Message
			return agg
		}

		res := a.Execute(ctx, rctx)
		agg.AddChild(res)

		if res.Signal != run.SignalNone {
			agg.Signal = res.Signal
			return agg
		}
		if !res.Success {
			if a.Spec().ContinueOnError {
				continue
			}
			agg.Success = false
			agg.Error = res.Error
			agg.Message = res.Message
			return agg
		}
	}
	return agg
}

// resolveValue turns a raw params value into a typed one: strings go
// through the interpolator ($name, ${expr}), everything else is a
// literal. A nil interpolator passes strings through unchanged.
func resolveValue(ctx context.Context, interp *expressions.Interpolator, v any, vars *variables.Store) (variables.Value, error) {
	s, ok := v.(string)
	if !ok || interp == nil {
		return variables.New(v), nil
	}
	return interp.Interpolate(ctx, s, vars)
}

// resolveString resolves a params string to its display form.
func resolveString(ctx context.Context, interp *expressions.Interpolator, s string, vars *variables.Store) (string, error) {
	if interp == nil {
		return s, nil
	}
	return interp.InterpolateString(ctx, s, vars)
}

// scopeOf validates a params scope string. Empty means workflow scope,
// matching the variable store's default write target.
func scopeOf(s string) (variables.Scope, error) {
	switch s {
	case "":
		return variables.ScopeWorkflow, nil
	case string(variables.ScopeLocal):
		return variables.ScopeLocal, nil
	case string(variables.ScopeWorkflow):
		return variables.ScopeWorkflow, nil
	case string(variables.ScopeGlobal):
		return variables.ScopeGlobal, nil
	default:
		return "", schema.NewErrorf(schema.ErrCodeValidation, "unknown scope %q", s)
	}
}

func decodeParams(spec schema.ActionSpec, dst any) error {
	if len(spec.Params) == 0 {
		return schema.NewErrorf(schema.ErrCodeValidation, "action %q requires params", spec.Type).WithAction(spec.ID)
	}
	if err := json.Unmarshal(spec.Params, dst); err != nil {
		return schema.NewErrorf(schema.ErrCodeValidation, "action %q params: %s", spec.Type, err.Error()).
			WithAction(spec.ID).WithCause(err)
	}
	return nil
}
