package conditions

import (
	"context"
	"encoding/json"

	"github.com/Phazzie/autoclick/internal/variables"
	"github.com/Phazzie/autoclick/pkg/schema"
)

// Composite operators.
const (
	CompositeAnd = "AND"
	CompositeOr  = "OR"
	CompositeNot = "NOT"
)

// composite combines sub-conditions with AND/OR/NOT. AND and OR
// short-circuit left to right; a sub-condition error propagates.
type composite struct {
	operator string
	specs    []schema.ConditionSpec
	children []Condition
}

type compositeParams struct {
	Operator   string                 `json:"operator"`
	Conditions []schema.ConditionSpec `json:"conditions"`
}

func buildComposite(params json.RawMessage, deps Deps) (Condition, error) {
	var p compositeParams
	if err := decodeParams(params, &p, schema.ConditionComposite); err != nil {
		return nil, err
	}
	switch p.Operator {
	case CompositeAnd, CompositeOr:
		if len(p.Conditions) == 0 {
			return nil, schema.NewErrorf(schema.ErrCodeValidation,
				"composite %s requires at least one sub-condition", p.Operator)
		}
	case CompositeNot:
		if len(p.Conditions) != 1 {
			return nil, schema.NewErrorf(schema.ErrCodeValidation,
				"composite NOT requires exactly one sub-condition, got %d", len(p.Conditions))
		}
	default:
		return nil, schema.NewErrorf(schema.ErrCodeValidation, "unknown composite operator %q", p.Operator)
	}

	children := make([]Condition, 0, len(p.Conditions))
	for i, spec := range p.Conditions {
		child, err := deps.Registry.Build(spec, deps)
		if err != nil {
			return nil, schema.NewErrorf(schema.ErrCodeValidation,
				"composite sub-condition %d: %s", i, err.Error()).WithCause(err)
		}
		children = append(children, child)
	}
	return &composite{operator: p.Operator, specs: p.Conditions, children: children}, nil
}

func (c *composite) Type() string { return schema.ConditionComposite }

func (c *composite) Spec() schema.ConditionSpec {
	return marshalSpec(schema.ConditionComposite, compositeParams{
		Operator:   c.operator,
		Conditions: c.specs,
	})
}

func (c *composite) Evaluate(ctx context.Context, vars *variables.Store) (bool, error) {
	switch c.operator {
	case CompositeNot:
		ok, err := c.children[0].Evaluate(ctx, vars)
		if err != nil {
			return false, err
		}
		return !ok, nil
	case CompositeAnd:
		for _, child := range c.children {
			ok, err := child.Evaluate(ctx, vars)
			if err != nil {
				return false, err
			}
			if !ok {
				return false, nil
			}
		}
		return true, nil
	default: // OR
		for _, child := range c.children {
			ok, err := child.Evaluate(ctx, vars)
			if err != nil {
				return false, err
			}
			if ok {
				return true, nil
			}
		}
		return false, nil
	}
}
