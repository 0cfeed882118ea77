package loops

import (
	"context"
	"encoding/json"

	"github.com/Phazzie/autoclick/internal/expressions"
	"github.com/Phazzie/autoclick/internal/variables"
	"github.com/Phazzie/autoclick/pkg/schema"
)

// countLoop runs a fixed number of iterations, binding the zero-based
// iteration index to the loop variable.
type countLoop struct {
	params countParams
	interp *expressions.Interpolator

	count  int
	cursor int
}

type countParams struct {
	// Count is either a JSON number or a templated string resolved at
	// Init time. Negative counts are rejected as early as they can be
	// detected: at build for literals, at Init for templates.
	Count    any    `json:"count"`
	Variable string `json:"variable,omitempty"`
}

func buildCount(params json.RawMessage, deps Deps) (Loop, error) {
	var p countParams
	if err := decodeParams(params, &p, schema.LoopCount); err != nil {
		return nil, err
	}
	if p.Variable == "" {
		p.Variable = "index"
	}
	l := &countLoop{params: p, interp: deps.Cond.Interp}
	if n, ok := p.Count.(float64); ok {
		if n < 0 {
			return nil, schema.NewErrorf(schema.ErrCodeValidation, "count loop requires count >= 0, got %v", n)
		}
		l.count = int(n)
	} else if _, isString := p.Count.(string); !isString {
		return nil, schema.NewErrorf(schema.ErrCodeValidation, "count loop count must be a number or template, got %T", p.Count)
	}
	return l, nil
}

func (l *countLoop) Type() string { return schema.LoopCount }

func (l *countLoop) Spec() schema.LoopSpec {
	return marshalSpec(schema.LoopCount, l.params)
}

func (l *countLoop) Init(ctx context.Context, vars *variables.Store) error {
	if s, ok := l.params.Count.(string); ok {
		resolved, err := l.interp.Interpolate(ctx, s, vars)
		if err != nil {
			return err
		}
		n, err := resolved.AsNumber()
		if err != nil {
			return schema.NewErrorf(schema.ErrCodeValidation, "count loop count: %s", err.Error())
		}
		if n < 0 {
			return schema.NewErrorf(schema.ErrCodeValidation, "count loop requires count >= 0, got %v", n)
		}
		l.count = int(n)
	}
	l.cursor = 0
	vars.SetIn(variables.ScopeLocal, l.params.Variable, 0)
	return nil
}

func (l *countLoop) HasNext(_ context.Context, _ *variables.Store) (bool, error) {
	return l.cursor < l.count, nil
}

func (l *countLoop) Next(_ context.Context, vars *variables.Store) error {
	l.cursor++
	if l.cursor < l.count {
		vars.SetIn(variables.ScopeLocal, l.params.Variable, l.cursor)
	}
	return nil
}
