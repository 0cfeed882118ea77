package loops

import (
	"context"
	"encoding/json"

	"github.com/Phazzie/autoclick/internal/expressions"
	"github.com/Phazzie/autoclick/internal/page"
	"github.com/Phazzie/autoclick/internal/variables"
	"github.com/Phazzie/autoclick/pkg/schema"
)

// forEachLoop iterates a materialized collection. Two sources:
//
//   - items: a templated value resolving to a list (data rows, extracted
//     values); the current element binds to the loop variable.
//   - selector: page elements; the match count is taken once at Init and
//     the zero-based element index binds to the loop variable, for use in
//     indexed selectors inside the body.
//
// The element index is always available as <variable>_index.
type forEachLoop struct {
	params  forEachParams
	interp  *expressions.Interpolator
	session page.Session

	items  []any
	cursor int
}

type forEachParams struct {
	Items    any    `json:"items,omitempty"`
	Selector string `json:"selector,omitempty"`
	Variable string `json:"variable,omitempty"`
}

func buildForEach(params json.RawMessage, deps Deps) (Loop, error) {
	var p forEachParams
	if err := decodeParams(params, &p, schema.LoopForEach); err != nil {
		return nil, err
	}
	if p.Items == nil && p.Selector == "" {
		return nil, schema.NewError(schema.ErrCodeValidation, "for_each loop requires items or a selector")
	}
	if p.Items != nil && p.Selector != "" {
		return nil, schema.NewError(schema.ErrCodeValidation, "for_each loop takes items or a selector, not both")
	}
	if p.Variable == "" {
		p.Variable = "item"
	}
	return &forEachLoop{params: p, interp: deps.Cond.Interp, session: deps.Cond.Session}, nil
}

func (l *forEachLoop) Type() string { return schema.LoopForEach }

func (l *forEachLoop) Spec() schema.LoopSpec {
	return marshalSpec(schema.LoopForEach, l.params)
}

func (l *forEachLoop) Init(ctx context.Context, vars *variables.Store) error {
	items, err := l.materialize(ctx, vars)
	if err != nil {
		return err
	}
	l.items = items
	l.cursor = 0
	if len(items) > 0 {
		l.bind(vars)
	}
	return nil
}

func (l *forEachLoop) materialize(ctx context.Context, vars *variables.Store) ([]any, error) {
	if l.params.Selector != "" {
		if l.session == nil {
			return nil, schema.NewError(schema.ErrCodeExecution, "for_each selector requires a page session")
		}
		selector, err := l.interp.InterpolateString(ctx, l.params.Selector, vars)
		if err != nil {
			return nil, err
		}
		count, err := l.session.Count(ctx, selector)
		if err != nil {
			return nil, err
		}
		items := make([]any, count)
		for i := range items {
			items[i] = i
		}
		return items, nil
	}

	resolved, err := l.resolveItems(ctx, vars)
	if err != nil {
		return nil, err
	}
	list, err := resolved.AsList()
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeTypeMismatch, "for_each items: %s", err.Error())
	}
	return list, nil
}

func (l *forEachLoop) resolveItems(ctx context.Context, vars *variables.Store) (variables.Value, error) {
	if s, ok := l.params.Items.(string); ok {
		return l.interp.Interpolate(ctx, s, vars)
	}
	return variables.New(l.params.Items), nil
}

func (l *forEachLoop) bind(vars *variables.Store) {
	vars.SetIn(variables.ScopeLocal, l.params.Variable, l.items[l.cursor])
	vars.SetIn(variables.ScopeLocal, l.params.Variable+"_index", l.cursor)
}

func (l *forEachLoop) HasNext(_ context.Context, _ *variables.Store) (bool, error) {
	return l.cursor < len(l.items), nil
}

func (l *forEachLoop) Next(_ context.Context, vars *variables.Store) error {
	l.cursor++
	if l.cursor < len(l.items) {
		l.bind(vars)
	}
	return nil
}
