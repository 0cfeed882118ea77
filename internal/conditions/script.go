package conditions

import (
	"context"
	"encoding/json"

	"github.com/Phazzie/autoclick/internal/expressions"
	"github.com/Phazzie/autoclick/internal/variables"
	"github.com/Phazzie/autoclick/pkg/schema"
)

// expression evaluates a template-language expression to a boolean.
type expression struct {
	params expressionParams
	interp *expressions.Interpolator
}

type expressionParams struct {
	Expression string `json:"expression"`
}

func buildExpression(params json.RawMessage, deps Deps) (Condition, error) {
	var p expressionParams
	if err := decodeParams(params, &p, schema.ConditionExpression); err != nil {
		return nil, err
	}
	if p.Expression == "" {
		return nil, schema.NewError(schema.ErrCodeValidation, "expression condition requires an expression")
	}
	if deps.Interp == nil {
		return nil, schema.NewError(schema.ErrCodeValidation, "expression condition requires an interpolator")
	}
	return &expression{params: p, interp: deps.Interp}, nil
}

func (c *expression) Type() string { return schema.ConditionExpression }

func (c *expression) Spec() schema.ConditionSpec {
	return marshalSpec(schema.ConditionExpression, c.params)
}

func (c *expression) Evaluate(ctx context.Context, vars *variables.Store) (bool, error) {
	return c.interp.Evaluator().EvalBool(ctx, c.params.Expression, vars)
}

// script evaluates a snippet through one of the pluggable engines
// (expr, cel) against the flattened variable map. The result must be
// boolean; anything else is a type mismatch.
type script struct {
	params scriptParams
	engine expressions.Engine
}

type scriptParams struct {
	Engine string `json:"engine"`
	Script string `json:"script"`
}

func buildScript(params json.RawMessage, deps Deps) (Condition, error) {
	var p scriptParams
	if err := decodeParams(params, &p, schema.ConditionScript); err != nil {
		return nil, err
	}
	if p.Script == "" {
		return nil, schema.NewError(schema.ErrCodeValidation, "script condition requires a script")
	}
	engine, ok := deps.Engines[p.Engine]
	if !ok {
		return nil, schema.NewErrorf(schema.ErrCodeValidation, "unknown script engine %q", p.Engine)
	}
	return &script{params: p, engine: engine}, nil
}

func (c *script) Type() string { return schema.ConditionScript }

func (c *script) Spec() schema.ConditionSpec {
	return marshalSpec(schema.ConditionScript, c.params)
}

func (c *script) Evaluate(ctx context.Context, vars *variables.Store) (bool, error) {
	result, err := c.engine.Evaluate(ctx, c.params.Script, vars.Flatten())
	if err != nil {
		return false, err
	}
	b, ok := result.(bool)
	if !ok {
		return false, schema.NewErrorf(schema.ErrCodeTypeMismatch,
			"script condition returned %T, want bool", result)
	}
	return b, nil
}
