package loops

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Phazzie/autoclick/internal/conditions"
	"github.com/Phazzie/autoclick/internal/expressions"
	"github.com/Phazzie/autoclick/internal/page"
	"github.com/Phazzie/autoclick/internal/variables"
	"github.com/Phazzie/autoclick/pkg/schema"
)

func testDeps(t *testing.T, sess page.Session) Deps {
	t.Helper()
	interp := expressions.NewInterpolator(expressions.NewEvaluator())
	return Deps{
		Cond: conditions.Deps{
			Session: sess,
			Interp:  interp,
			Engines: map[string]expressions.Engine{"expr": expressions.NewExprEngine()},
		},
		Registry: conditions.DefaultRegistry(),
	}
}

func buildLoop(t *testing.T, deps Deps, typeTag string, params any) Loop {
	t.Helper()
	raw, err := json.Marshal(params)
	require.NoError(t, err)
	l, err := DefaultRegistry().Build(schema.LoopSpec{Type: typeTag, Params: raw}, deps)
	require.NoError(t, err)
	return l
}

// drive runs a loop to completion, returning the loop-variable value
// observed by each iteration and the HasNext/Next call counts.
func drive(t *testing.T, l Loop, vars *variables.Store, variable string) (seen []any, hasNextCalls, nextCalls int) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, l.Init(ctx, vars))
	for {
		ok, err := l.HasNext(ctx, vars)
		require.NoError(t, err)
		hasNextCalls++
		if !ok {
			return seen, hasNextCalls, nextCalls
		}
		if variable != "" {
			v, err := vars.Get(variable)
			require.NoError(t, err)
			seen = append(seen, v.Raw())
		}
		require.NoError(t, l.Next(ctx, vars))
		nextCalls++
	}
}

// --- count ---

func TestCountLoopCalls(t *testing.T) {
	for _, n := range []int{0, 1, 3} {
		vars := variables.NewStore()
		l := buildLoop(t, testDeps(t, nil), schema.LoopCount, map[string]any{"count": n})

		seen, hasNext, next := drive(t, l, vars, "index")
		assert.Len(t, seen, n, "count=%d", n)
		assert.Equal(t, n+1, hasNext, "count=%d: HasNext calls", n)
		assert.Equal(t, n, next, "count=%d: Next calls", n)
	}
}

func TestCountLoopBindsIndex(t *testing.T) {
	vars := variables.NewStore()
	l := buildLoop(t, testDeps(t, nil), schema.LoopCount, map[string]any{"count": 3, "variable": "i"})

	seen, _, _ := drive(t, l, vars, "i")
	assert.Equal(t, []any{float64(0), float64(1), float64(2)}, seen)
}

func TestCountLoopNegativeRejectedAtBuild(t *testing.T) {
	_, err := DefaultRegistry().Build(schema.LoopSpec{
		Type:   schema.LoopCount,
		Params: json.RawMessage(`{"count": -1}`),
	}, testDeps(t, nil))
	require.Error(t, err)
	var autoErr *schema.AutomationError
	require.True(t, errors.As(err, &autoErr))
	assert.Equal(t, schema.ErrCodeValidation, autoErr.Code)
}

func TestCountLoopTemplatedCount(t *testing.T) {
	vars := variables.NewStore()
	vars.Set("total", 2)
	l := buildLoop(t, testDeps(t, nil), schema.LoopCount, map[string]any{"count": "$total"})

	seen, _, _ := drive(t, l, vars, "index")
	assert.Len(t, seen, 2)
}

func TestCountLoopTemplatedNegativeRejectedAtInit(t *testing.T) {
	vars := variables.NewStore()
	vars.Set("total", -5)
	l := buildLoop(t, testDeps(t, nil), schema.LoopCount, map[string]any{"count": "$total"})

	err := l.Init(context.Background(), vars)
	require.Error(t, err)
}

func TestCountLoopReinitRestarts(t *testing.T) {
	vars := variables.NewStore()
	l := buildLoop(t, testDeps(t, nil), schema.LoopCount, map[string]any{"count": 2})

	seen, _, _ := drive(t, l, vars, "index")
	assert.Len(t, seen, 2)
	seen, _, _ = drive(t, l, vars, "index")
	assert.Len(t, seen, 2, "second drive after re-Init")
}

// --- for_each ---

func TestForEachItemsFromVariable(t *testing.T) {
	vars := variables.NewStore()
	vars.Set("rows", []any{"alpha", "beta", "gamma"})
	l := buildLoop(t, testDeps(t, nil), schema.LoopForEach, map[string]any{
		"items": "$rows", "variable": "row",
	})

	seen, hasNext, next := drive(t, l, vars, "row")
	assert.Equal(t, []any{"alpha", "beta", "gamma"}, seen)
	assert.Equal(t, 4, hasNext)
	assert.Equal(t, 3, next)
}

func TestForEachLiteralItems(t *testing.T) {
	vars := variables.NewStore()
	l := buildLoop(t, testDeps(t, nil), schema.LoopForEach, map[string]any{
		"items": []any{float64(10), float64(20)},
	})

	seen, _, _ := drive(t, l, vars, "item")
	assert.Equal(t, []any{float64(10), float64(20)}, seen)
}

func TestForEachBindsIndexAlongsideItem(t *testing.T) {
	vars := variables.NewStore()
	vars.Set("rows", []any{"a", "b"})
	l := buildLoop(t, testDeps(t, nil), schema.LoopForEach, map[string]any{
		"items": "$rows", "variable": "row",
	})

	ctx := context.Background()
	require.NoError(t, l.Init(ctx, vars))
	ok, err := l.HasNext(ctx, vars)
	require.NoError(t, err)
	require.True(t, ok)

	idx, err := vars.Get("row_index")
	require.NoError(t, err)
	assert.Equal(t, float64(0), idx.Raw())

	require.NoError(t, l.Next(ctx, vars))
	idx, err = vars.Get("row_index")
	require.NoError(t, err)
	assert.Equal(t, float64(1), idx.Raw())
}

func TestForEachEmptyCollection(t *testing.T) {
	vars := variables.NewStore()
	vars.Set("rows", []any{})
	l := buildLoop(t, testDeps(t, nil), schema.LoopForEach, map[string]any{"items": "$rows"})

	seen, hasNext, next := drive(t, l, vars, "")
	assert.Empty(t, seen)
	assert.Equal(t, 1, hasNext)
	assert.Zero(t, next)
}

func TestForEachNonListIsTypeMismatch(t *testing.T) {
	vars := variables.NewStore()
	vars.Set("rows", "not-a-list")
	l := buildLoop(t, testDeps(t, nil), schema.LoopForEach, map[string]any{"items": "$rows"})

	err := l.Init(context.Background(), vars)
	require.Error(t, err)
	var autoErr *schema.AutomationError
	require.True(t, errors.As(err, &autoErr))
	assert.Equal(t, schema.ErrCodeTypeMismatch, autoErr.Code)
}

func TestForEachSelectorIteratesElementIndexes(t *testing.T) {
	sess := page.NewScriptedSession().WithElements(".result", 3)
	vars := variables.NewStore()
	l := buildLoop(t, testDeps(t, sess), schema.LoopForEach, map[string]any{
		"selector": ".result", "variable": "el",
	})

	seen, _, _ := drive(t, l, vars, "el")
	assert.Equal(t, []any{float64(0), float64(1), float64(2)}, seen)
}

func TestForEachValidation(t *testing.T) {
	deps := testDeps(t, nil)
	for name, params := range map[string]string{
		"neither": `{"variable": "x"}`,
		"both":    `{"items": [1], "selector": ".x"}`,
	} {
		t.Run(name, func(t *testing.T) {
			_, err := DefaultRegistry().Build(schema.LoopSpec{
				Type:   schema.LoopForEach,
				Params: json.RawMessage(params),
			}, deps)
			require.Error(t, err)
		})
	}
}

// --- while ---

func TestWhileLoopStopsOnFalse(t *testing.T) {
	vars := variables.NewStore()
	vars.Set("n", 0)
	l := buildLoop(t, testDeps(t, nil), schema.LoopWhile, map[string]any{
		"condition": map[string]any{
			"type":   schema.ConditionExpression,
			"params": map[string]any{"expression": "$n < 3"},
		},
	})

	ctx := context.Background()
	require.NoError(t, l.Init(ctx, vars))
	iterations := 0
	for {
		ok, err := l.HasNext(ctx, vars)
		require.NoError(t, err)
		if !ok {
			break
		}
		iterations++
		// Body mutates the variable the condition reads.
		v, err := vars.Get("n")
		require.NoError(t, err)
		n, err := v.AsNumber()
		require.NoError(t, err)
		vars.Set("n", n+1)
		require.NoError(t, l.Next(ctx, vars))
	}
	assert.Equal(t, 3, iterations)
}

func TestWhileLoopFuseStopsRunaway(t *testing.T) {
	vars := variables.NewStore()
	maxIter := 5
	l := buildLoop(t, testDeps(t, nil), schema.LoopWhile, map[string]any{
		"condition": map[string]any{
			"type":   schema.ConditionExpression,
			"params": map[string]any{"expression": "true"},
		},
		"max_iterations": maxIter,
	})

	_, hasNext, next := drive(t, l, vars, "")
	assert.Equal(t, maxIter, next)
	assert.Equal(t, maxIter+1, hasNext)
}

func TestWhileLoopDefaultFuse(t *testing.T) {
	l := buildLoop(t, testDeps(t, nil), schema.LoopWhile, map[string]any{
		"condition": map[string]any{
			"type":   schema.ConditionExpression,
			"params": map[string]any{"expression": "true"},
		},
	})

	wl, ok := l.(*whileLoop)
	require.True(t, ok)
	assert.Equal(t, DefaultMaxIterations, wl.maxIter)
}

func TestWhileLoopRejectsZeroFuse(t *testing.T) {
	for _, bad := range []int{0, -1} {
		params, err := json.Marshal(map[string]any{
			"condition": map[string]any{
				"type":   schema.ConditionExpression,
				"params": map[string]any{"expression": "true"},
			},
			"max_iterations": bad,
		})
		require.NoError(t, err)
		_, err = DefaultRegistry().Build(schema.LoopSpec{Type: schema.LoopWhile, Params: params}, testDeps(t, nil))
		require.Error(t, err, "max_iterations=%d", bad)
	}
}

func TestWhileLoopDelayHonorsCancellation(t *testing.T) {
	vars := variables.NewStore()
	l := buildLoop(t, testDeps(t, nil), schema.LoopWhile, map[string]any{
		"condition": map[string]any{
			"type":   schema.ConditionExpression,
			"params": map[string]any{"expression": "true"},
		},
		"delay": "10s",
	})

	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, l.Init(ctx, vars))

	done := make(chan error, 1)
	go func() { done <- l.Next(ctx, vars) }()
	cancel()

	select {
	case err := <-done:
		require.Error(t, err)
		assert.True(t, errors.Is(err, context.Canceled))
	case <-time.After(time.Second):
		t.Fatal("Next did not return after cancellation")
	}
}

func TestWhileLoopBadDelay(t *testing.T) {
	_, err := DefaultRegistry().Build(schema.LoopSpec{
		Type: schema.LoopWhile,
		Params: json.RawMessage(`{
			"condition": {"type": "expression", "params": {"expression": "true"}},
			"delay": "soon"
		}`),
	}, testDeps(t, nil))
	require.Error(t, err)
}

func TestWhileLoopConditionAgainstPage(t *testing.T) {
	sess := page.NewScriptedSession().WithText("#spinner", "loading")
	vars := variables.NewStore()
	l := buildLoop(t, testDeps(t, sess), schema.LoopWhile, map[string]any{
		"condition": map[string]any{
			"type":   schema.ConditionElementExists,
			"params": map[string]any{"selector": "#spinner"},
		},
		"max_iterations": 2,
	})

	_, _, next := drive(t, l, vars, "")
	// The spinner never disappears, so the fuse ends the loop.
	assert.Equal(t, 2, next)
}

// --- Registry / round-trip ---

func TestLoopRegistryRejectsDuplicate(t *testing.T) {
	r := NewRegistry()
	b := func(json.RawMessage, Deps) (Loop, error) { return nil, nil }
	require.NoError(t, r.Register("custom", b))
	err := r.Register("custom", b)
	require.Error(t, err)
}

func TestLoopSpecRoundTrip(t *testing.T) {
	deps := testDeps(t, nil)
	vars := variables.NewStore()
	vars.Set("rows", []any{"x", "y"})

	specs := []struct {
		typeTag string
		params  any
	}{
		{schema.LoopCount, map[string]any{"count": 2, "variable": "i"}},
		{schema.LoopForEach, map[string]any{"items": "$rows", "variable": "row"}},
		{schema.LoopWhile, map[string]any{
			"condition":      map[string]any{"type": schema.ConditionExpression, "params": map[string]any{"expression": "false"}},
			"max_iterations": 7,
		}},
	}

	for _, tt := range specs {
		t.Run(tt.typeTag, func(t *testing.T) {
			original := buildLoop(t, deps, tt.typeTag, tt.params)
			rebuilt, err := DefaultRegistry().Build(original.Spec(), deps)
			require.NoError(t, err)
			assert.Equal(t, original.Type(), rebuilt.Type())

			_, origHasNext, origNext := drive(t, original, vars.Clone(), "")
			_, rebHasNext, rebNext := drive(t, rebuilt, vars.Clone(), "")
			assert.Equal(t, origHasNext, rebHasNext)
			assert.Equal(t, origNext, rebNext)
		})
	}
}
