package conditions

import (
	"context"
	"encoding/json"
	"errors"
	"strings"

	"github.com/Phazzie/autoclick/internal/expressions"
	"github.com/Phazzie/autoclick/internal/page"
	"github.com/Phazzie/autoclick/internal/variables"
	"github.com/Phazzie/autoclick/pkg/schema"
)

// elementExists is true when at least one element matches the selector.
type elementExists struct {
	params  elementExistsParams
	session page.Session
	interp  *expressions.Interpolator
}

type elementExistsParams struct {
	Selector string `json:"selector"`
}

func buildElementExists(params json.RawMessage, deps Deps) (Condition, error) {
	var p elementExistsParams
	if err := decodeParams(params, &p, schema.ConditionElementExists); err != nil {
		return nil, err
	}
	if p.Selector == "" {
		return nil, schema.NewError(schema.ErrCodeValidation, "element_exists requires a selector")
	}
	return &elementExists{params: p, session: deps.Session, interp: deps.Interp}, nil
}

func (c *elementExists) Type() string { return schema.ConditionElementExists }

func (c *elementExists) Spec() schema.ConditionSpec {
	return marshalSpec(schema.ConditionElementExists, c.params)
}

func (c *elementExists) Evaluate(ctx context.Context, vars *variables.Store) (bool, error) {
	if c.session == nil {
		return false, schema.NewError(schema.ErrCodeExecution, "element_exists requires a page session")
	}
	selector, err := resolveString(ctx, c.interp, c.params.Selector, vars)
	if err != nil {
		return false, err
	}
	return c.session.Exists(ctx, selector)
}

// textContains is true when the element's text contains the expected
// string. A missing element makes the condition false, not an error.
type textContains struct {
	params  textContainsParams
	session page.Session
	interp  *expressions.Interpolator
}

type textContainsParams struct {
	Selector string `json:"selector"`
	Text     string `json:"text"`
}

func buildTextContains(params json.RawMessage, deps Deps) (Condition, error) {
	var p textContainsParams
	if err := decodeParams(params, &p, schema.ConditionTextContains); err != nil {
		return nil, err
	}
	if p.Selector == "" {
		return nil, schema.NewError(schema.ErrCodeValidation, "text_contains requires a selector")
	}
	return &textContains{params: p, session: deps.Session, interp: deps.Interp}, nil
}

func (c *textContains) Type() string { return schema.ConditionTextContains }

func (c *textContains) Spec() schema.ConditionSpec {
	return marshalSpec(schema.ConditionTextContains, c.params)
}

func (c *textContains) Evaluate(ctx context.Context, vars *variables.Store) (bool, error) {
	if c.session == nil {
		return false, schema.NewError(schema.ErrCodeExecution, "text_contains requires a page session")
	}
	selector, err := resolveString(ctx, c.interp, c.params.Selector, vars)
	if err != nil {
		return false, err
	}
	expected, err := resolveString(ctx, c.interp, c.params.Text, vars)
	if err != nil {
		return false, err
	}
	text, err := c.session.Text(ctx, selector)
	if err != nil {
		if errors.Is(err, page.ErrElementNotFound) {
			return false, nil
		}
		return false, err
	}
	return strings.Contains(text, expected), nil
}

func resolveString(ctx context.Context, in *expressions.Interpolator, input string, vars *variables.Store) (string, error) {
	if in == nil {
		return input, nil
	}
	return in.InterpolateString(ctx, input, vars)
}

// resolveOperand turns a raw JSON operand into a typed value. String
// operands go through the interpolator so `$name` and `${expr}` resolve;
// everything else is a literal.
func resolveOperand(ctx context.Context, in *expressions.Interpolator, operand any, vars *variables.Store) (variables.Value, error) {
	s, ok := operand.(string)
	if !ok || in == nil {
		return variables.New(operand), nil
	}
	return in.Interpolate(ctx, s, vars)
}
