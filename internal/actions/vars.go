package actions

import (
	"context"

	"github.com/Phazzie/autoclick/internal/expressions"
	"github.com/Phazzie/autoclick/internal/run"
	"github.com/Phazzie/autoclick/internal/variables"
	"github.com/Phazzie/autoclick/pkg/schema"
)

// --- set_variable ---

type setVariableParams struct {
	Name  string `json:"name"`
	Value any    `json:"value"`
	Scope string `json:"scope,omitempty"`
}

type setVariableAction struct {
	base
	interp *expressions.Interpolator
	params setVariableParams
	scope  variables.Scope
}

func buildSetVariable(spec schema.ActionSpec, deps Deps) (Action, error) {
	var p setVariableParams
	if err := decodeParams(spec, &p); err != nil {
		return nil, err
	}
	if p.Name == "" {
		return nil, schema.NewError(schema.ErrCodeValidation, "set_variable requires a name").WithAction(spec.ID)
	}
	scope, err := scopeOf(p.Scope)
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeValidation, "set_variable %q: %s", p.Name, err.Error()).WithAction(spec.ID)
	}
	return &setVariableAction{base: base{spec: spec}, interp: deps.Interp, params: p, scope: scope}, nil
}

func (a *setVariableAction) Execute(ctx context.Context, rctx *run.Context) *run.Result {
	v, err := resolveValue(ctx, a.interp, a.params.Value, rctx.Vars)
	if err != nil {
		return a.fail(err)
	}
	rctx.Vars.SetIn(a.scope, a.params.Name, v.Raw())
	return run.SucceedWith("variable set", map[string]any{
		"name":  a.params.Name,
		"value": v.Raw(),
		"scope": string(a.scope),
	})
}

// --- increment_variable ---

type incrementVariableParams struct {
	Name  string   `json:"name"`
	Step  any      `json:"step,omitempty"`
	Min   *float64 `json:"min,omitempty"`
	Max   *float64 `json:"max,omitempty"`
	Scope string   `json:"scope,omitempty"`
}

// incrementVariableAction adds a step to a numeric variable, clamping
// into [min, max] when bounds are set. A variable that does not exist
// yet starts from zero.
type incrementVariableAction struct {
	base
	interp *expressions.Interpolator
	params incrementVariableParams
	scope  variables.Scope
}

func buildIncrementVariable(spec schema.ActionSpec, deps Deps) (Action, error) {
	var p incrementVariableParams
	if err := decodeParams(spec, &p); err != nil {
		return nil, err
	}
	if p.Name == "" {
		return nil, schema.NewError(schema.ErrCodeValidation, "increment_variable requires a name").WithAction(spec.ID)
	}
	if p.Min != nil && p.Max != nil && *p.Min > *p.Max {
		return nil, schema.NewErrorf(schema.ErrCodeValidation,
			"increment_variable %q: min %v exceeds max %v", p.Name, *p.Min, *p.Max).WithAction(spec.ID)
	}
	scope, err := scopeOf(p.Scope)
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeValidation, "increment_variable %q: %s", p.Name, err.Error()).WithAction(spec.ID)
	}
	return &incrementVariableAction{base: base{spec: spec}, interp: deps.Interp, params: p, scope: scope}, nil
}

func (a *incrementVariableAction) Execute(ctx context.Context, rctx *run.Context) *run.Result {
	current := 0.0
	if v, ok := rctx.Vars.Lookup(a.params.Name); ok {
		n, err := v.AsNumber()
		if err != nil {
			return a.fail(schema.NewErrorf(schema.ErrCodeTypeMismatch,
				"variable %q holds %s, cannot increment", a.params.Name, v.Kind()).WithCause(err))
		}
		current = n
	}

	step := 1.0
	if a.params.Step != nil {
		v, err := resolveValue(ctx, a.interp, a.params.Step, rctx.Vars)
		if err != nil {
			return a.fail(err)
		}
		n, err := v.AsNumber()
		if err != nil {
			return a.fail(schema.NewErrorf(schema.ErrCodeTypeMismatch,
				"step for %q is %s, want a number", a.params.Name, v.Kind()).WithCause(err))
		}
		step = n
	}

	next := current + step
	clamped := false
	if a.params.Min != nil && next < *a.params.Min {
		next = *a.params.Min
		clamped = true
	}
	if a.params.Max != nil && next > *a.params.Max {
		next = *a.params.Max
		clamped = true
	}

	rctx.Vars.SetIn(a.scope, a.params.Name, next)
	return run.SucceedWith("variable incremented", map[string]any{
		"name":     a.params.Name,
		"previous": current,
		"value":    next,
		"clamped":  clamped,
	})
}
