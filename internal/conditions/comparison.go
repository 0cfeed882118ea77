package conditions

import (
	"context"
	"encoding/json"
	"regexp"
	"strings"

	"github.com/Phazzie/autoclick/internal/expressions"
	"github.com/Phazzie/autoclick/internal/variables"
	"github.com/Phazzie/autoclick/pkg/schema"
)

// Comparison operators. Operand typing follows the loose rules of the
// expression language: equality and ordering compare numerically when
// both sides coerce to numbers, lexically otherwise.
const (
	OpEqual              = "EQUAL"
	OpNotEqual           = "NOT_EQUAL"
	OpGreaterThan        = "GREATER_THAN"
	OpGreaterThanOrEqual = "GREATER_THAN_OR_EQUAL"
	OpLessThan           = "LESS_THAN"
	OpLessThanOrEqual    = "LESS_THAN_OR_EQUAL"
	OpContains           = "CONTAINS"
	OpNotContains        = "NOT_CONTAINS"
	OpStartsWith         = "STARTS_WITH"
	OpEndsWith           = "ENDS_WITH"
	OpMatchesRegex       = "MATCHES_REGEX"
)

var comparisonOperators = map[string]bool{
	OpEqual: true, OpNotEqual: true,
	OpGreaterThan: true, OpGreaterThanOrEqual: true,
	OpLessThan: true, OpLessThanOrEqual: true,
	OpContains: true, OpNotContains: true,
	OpStartsWith: true, OpEndsWith: true,
	OpMatchesRegex: true,
}

type comparison struct {
	params comparisonParams
	interp *expressions.Interpolator
}

type comparisonParams struct {
	Left     any    `json:"left"`
	Operator string `json:"operator"`
	Right    any    `json:"right"`
}

func buildComparison(params json.RawMessage, deps Deps) (Condition, error) {
	var p comparisonParams
	if err := decodeParams(params, &p, schema.ConditionComparison); err != nil {
		return nil, err
	}
	if !comparisonOperators[p.Operator] {
		return nil, schema.NewErrorf(schema.ErrCodeValidation, "unknown comparison operator %q", p.Operator)
	}
	return &comparison{params: p, interp: deps.Interp}, nil
}

func (c *comparison) Type() string { return schema.ConditionComparison }

func (c *comparison) Spec() schema.ConditionSpec {
	return marshalSpec(schema.ConditionComparison, c.params)
}

func (c *comparison) Evaluate(ctx context.Context, vars *variables.Store) (bool, error) {
	left, err := resolveOperand(ctx, c.interp, c.params.Left, vars)
	if err != nil {
		return false, err
	}
	right, err := resolveOperand(ctx, c.interp, c.params.Right, vars)
	if err != nil {
		return false, err
	}

	switch c.params.Operator {
	case OpEqual:
		return variables.Equal(left, right), nil
	case OpNotEqual:
		return !variables.Equal(left, right), nil
	case OpGreaterThan, OpGreaterThanOrEqual, OpLessThan, OpLessThanOrEqual:
		return c.ordered(left, right)
	case OpContains:
		return c.contains(left, right)
	case OpNotContains:
		ok, err := c.contains(left, right)
		return !ok, err
	case OpStartsWith:
		l, r, err := c.stringPair(left, right)
		if err != nil {
			return false, err
		}
		return strings.HasPrefix(l, r), nil
	case OpEndsWith:
		l, r, err := c.stringPair(left, right)
		if err != nil {
			return false, err
		}
		return strings.HasSuffix(l, r), nil
	case OpMatchesRegex:
		return c.matches(left, right)
	}
	return false, schema.NewErrorf(schema.ErrCodeValidation, "unknown comparison operator %q", c.params.Operator)
}

func (c *comparison) ordered(left, right variables.Value) (bool, error) {
	if !orderable(left) || !orderable(right) {
		return false, schema.NewErrorf(schema.ErrCodeTypeMismatch,
			"operator %s cannot order %s and %s operands",
			c.params.Operator, left.Kind(), right.Kind())
	}
	cmp := variables.Compare(left, right)
	switch c.params.Operator {
	case OpGreaterThan:
		return cmp > 0, nil
	case OpGreaterThanOrEqual:
		return cmp >= 0, nil
	case OpLessThan:
		return cmp < 0, nil
	default:
		return cmp <= 0, nil
	}
}

func orderable(v variables.Value) bool {
	switch v.Kind() {
	case variables.KindList, variables.KindMap, variables.KindNull:
		return false
	}
	return true
}

// contains is substring match for string operands and membership (loose
// equality) for list operands. Other shapes are a type mismatch.
func (c *comparison) contains(left, right variables.Value) (bool, error) {
	switch left.Kind() {
	case variables.KindString:
		return strings.Contains(left.AsString(), right.AsString()), nil
	case variables.KindList:
		items, err := left.AsList()
		if err != nil {
			return false, err
		}
		for _, item := range items {
			if variables.Equal(variables.New(item), right) {
				return true, nil
			}
		}
		return false, nil
	}
	return false, schema.NewErrorf(schema.ErrCodeTypeMismatch,
		"operator %s requires a string or list left operand, got %s",
		c.params.Operator, left.Kind())
}

func (c *comparison) stringPair(left, right variables.Value) (string, string, error) {
	if left.Kind() != variables.KindString || right.Kind() != variables.KindString {
		return "", "", schema.NewErrorf(schema.ErrCodeTypeMismatch,
			"operator %s requires string operands, got %s and %s",
			c.params.Operator, left.Kind(), right.Kind())
	}
	return left.AsString(), right.AsString(), nil
}

func (c *comparison) matches(left, right variables.Value) (bool, error) {
	if left.Kind() != variables.KindString {
		return false, schema.NewErrorf(schema.ErrCodeTypeMismatch,
			"operator MATCHES_REGEX requires a string operand, got %s", left.Kind())
	}
	if right.Kind() != variables.KindString {
		return false, schema.NewErrorf(schema.ErrCodeTypeMismatch,
			"operator MATCHES_REGEX requires a string pattern, got %s", right.Kind())
	}
	re, err := regexp.Compile(right.AsString())
	if err != nil {
		return false, schema.NewErrorf(schema.ErrCodeValidation,
			"invalid regex %q: %s", right.AsString(), err.Error()).WithCause(err)
	}
	return re.MatchString(left.AsString()), nil
}
