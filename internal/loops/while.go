package loops

import (
	"context"
	"encoding/json"
	"time"

	"github.com/Phazzie/autoclick/internal/conditions"
	"github.com/Phazzie/autoclick/internal/variables"
	"github.com/Phazzie/autoclick/pkg/schema"
)

// DefaultMaxIterations caps while loops that do not set their own fuse.
const DefaultMaxIterations = 1000

// whileLoop re-evaluates its condition before each iteration. The
// max_iterations fuse is mandatory: hitting it ends the loop like a
// false condition, so a stuck page cannot spin forever.
type whileLoop struct {
	params    whileParams
	condition conditions.Condition
	maxIter   int
	delay     time.Duration

	iterations int
}

type whileParams struct {
	Condition     schema.ConditionSpec `json:"condition"`
	MaxIterations *int                 `json:"max_iterations,omitempty"`
	Delay         string               `json:"delay,omitempty"`
}

func buildWhile(params json.RawMessage, deps Deps) (Loop, error) {
	var p whileParams
	if err := decodeParams(params, &p, schema.LoopWhile); err != nil {
		return nil, err
	}
	if p.Condition.Type == "" {
		return nil, schema.NewError(schema.ErrCodeValidation, "while loop requires a condition")
	}
	if deps.Registry == nil {
		return nil, schema.NewError(schema.ErrCodeValidation, "while loop requires a condition registry")
	}
	cond, err := deps.Registry.Build(p.Condition, deps.Cond)
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeValidation, "while loop condition: %s", err.Error()).WithCause(err)
	}

	maxIter := DefaultMaxIterations
	if p.MaxIterations != nil {
		if *p.MaxIterations <= 0 {
			return nil, schema.NewErrorf(schema.ErrCodeValidation,
				"while loop requires max_iterations > 0, got %d", *p.MaxIterations)
		}
		maxIter = *p.MaxIterations
	}

	var delay time.Duration
	if p.Delay != "" {
		delay, err = time.ParseDuration(p.Delay)
		if err != nil {
			return nil, schema.NewErrorf(schema.ErrCodeValidation, "while loop delay %q: %s", p.Delay, err.Error())
		}
		if delay < 0 {
			return nil, schema.NewErrorf(schema.ErrCodeValidation, "while loop delay must not be negative")
		}
	}

	return &whileLoop{params: p, condition: cond, maxIter: maxIter, delay: delay}, nil
}

func (l *whileLoop) Type() string { return schema.LoopWhile }

func (l *whileLoop) Spec() schema.LoopSpec {
	return marshalSpec(schema.LoopWhile, l.params)
}

func (l *whileLoop) Init(_ context.Context, _ *variables.Store) error {
	l.iterations = 0
	return nil
}

func (l *whileLoop) HasNext(ctx context.Context, vars *variables.Store) (bool, error) {
	if l.iterations >= l.maxIter {
		return false, nil
	}
	return l.condition.Evaluate(ctx, vars)
}

// Next counts the finished iteration and applies the inter-iteration
// delay, waking early if the run is cancelled.
func (l *whileLoop) Next(ctx context.Context, _ *variables.Store) error {
	l.iterations++
	if l.delay <= 0 {
		return nil
	}
	timer := time.NewTimer(l.delay)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Iterations returns the number of completed iterations.
func (l *whileLoop) Iterations() int { return l.iterations }
