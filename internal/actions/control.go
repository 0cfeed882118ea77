package actions

import (
	"context"
	"fmt"

	"github.com/Phazzie/autoclick/internal/conditions"
	"github.com/Phazzie/autoclick/internal/expressions"
	"github.com/Phazzie/autoclick/internal/loops"
	"github.com/Phazzie/autoclick/internal/run"
	"github.com/Phazzie/autoclick/internal/variables"
	"github.com/Phazzie/autoclick/pkg/schema"
)

// --- if ---

type ifParams struct {
	Condition schema.ConditionSpec `json:"condition"`
	Then      []schema.ActionSpec  `json:"then"`
	Else      []schema.ActionSpec  `json:"else,omitempty"`
}

// ifAction evaluates its condition exactly once per execution and runs
// the selected branch inside a local frame.
type ifAction struct {
	base
	cond conditions.Condition
	then *sequence
	els  *sequence
}

func buildIf(spec schema.ActionSpec, deps Deps) (Action, error) {
	var p ifParams
	if err := decodeParams(spec, &p); err != nil {
		return nil, err
	}
	if p.Condition.Type == "" {
		return nil, schema.NewError(schema.ErrCodeValidation, "if action requires a condition").WithAction(spec.ID)
	}
	if deps.Conditions == nil {
		return nil, schema.NewError(schema.ErrCodeValidation, "if action requires a condition registry").WithAction(spec.ID)
	}
	cond, err := deps.Conditions.Build(p.Condition, deps.condDeps())
	if err != nil {
		return nil, err
	}
	then, err := buildSequence(p.Then, deps)
	if err != nil {
		return nil, err
	}
	els, err := buildSequence(p.Else, deps)
	if err != nil {
		return nil, err
	}
	return &ifAction{base: base{spec: spec}, cond: cond, then: then, els: els}, nil
}

func (a *ifAction) Execute(ctx context.Context, rctx *run.Context) *run.Result {
	verdict, err := a.cond.Evaluate(ctx, rctx.Vars)
	if err != nil {
		return a.fail(err)
	}

	branch, label := a.then, "then"
	if !verdict {
		branch, label = a.els, "else"
	}
	if branch.empty() {
		return run.SucceedWith(fmt.Sprintf("condition %t, no %s branch", verdict, label),
			map[string]any{"condition": verdict, "branch": label})
	}

	rctx.Vars.PushFrame()
	defer rctx.Vars.PopFrame()

	res := branch.run(ctx, rctx)
	if res.Data == nil {
		res.Data = map[string]any{}
	}
	res.Data["condition"] = verdict
	res.Data["branch"] = label
	return res
}

// --- switch ---

type switchCase struct {
	Value   any                 `json:"value"`
	Actions []schema.ActionSpec `json:"actions"`
}

type switchParams struct {
	Selector string              `json:"selector"`
	Cases    []switchCase        `json:"cases"`
	Default  []schema.ActionSpec `json:"default,omitempty"`
}

type builtCase struct {
	value any
	seq   *sequence
}

// switchAction compares the selector against case values in declaration
// order with the loose equality the comparison condition uses.
type switchAction struct {
	base
	interp   *expressions.Interpolator
	selector string
	cases    []builtCase
	def      *sequence
}

func buildSwitch(spec schema.ActionSpec, deps Deps) (Action, error) {
	var p switchParams
	if err := decodeParams(spec, &p); err != nil {
		return nil, err
	}
	if p.Selector == "" {
		return nil, schema.NewError(schema.ErrCodeValidation, "switch action requires a selector expression").WithAction(spec.ID)
	}
	if len(p.Cases) == 0 {
		return nil, schema.NewError(schema.ErrCodeValidation, "switch action requires at least one case").WithAction(spec.ID)
	}

	cases := make([]builtCase, 0, len(p.Cases))
	for i, c := range p.Cases {
		seq, err := buildSequence(c.Actions, deps)
		if err != nil {
			return nil, schema.NewErrorf(schema.ErrCodeValidation, "switch case %d: %s", i, err.Error()).
				WithAction(spec.ID).WithCause(err)
		}
		cases = append(cases, builtCase{value: c.Value, seq: seq})
	}
	def, err := buildSequence(p.Default, deps)
	if err != nil {
		return nil, err
	}
	return &switchAction{base: base{spec: spec}, interp: deps.Interp, selector: p.Selector, cases: cases, def: def}, nil
}

func (a *switchAction) Execute(ctx context.Context, rctx *run.Context) *run.Result {
	sel, err := resolveValue(ctx, a.interp, a.selector, rctx.Vars)
	if err != nil {
		return a.fail(err)
	}

	for i, c := range a.cases {
		want, err := resolveValue(ctx, a.interp, c.value, rctx.Vars)
		if err != nil {
			return a.fail(err)
		}
		if variables.Equal(sel, want) {
			rctx.Vars.PushFrame()
			res := c.seq.run(ctx, rctx)
			rctx.Vars.PopFrame()
			if res.Data == nil {
				res.Data = map[string]any{}
			}
			res.Data["matched_case"] = i
			return res
		}
	}

	if !a.def.empty() {
		rctx.Vars.PushFrame()
		res := a.def.run(ctx, rctx)
		rctx.Vars.PopFrame()
		if res.Data == nil {
			res.Data = map[string]any{}
		}
		res.Data["matched_case"] = "default"
		return res
	}
	return run.SucceedWith("no case matched", map[string]any{"matched_case": nil})
}

// --- loop ---

type loopParams struct {
	Loop schema.LoopSpec     `json:"loop"`
	Body []schema.ActionSpec `json:"body"`
}

// loopAction drives a loop driver over its body. The loop variable lives
// in a frame owned by the action; body failures abort the loop, break
// and continue signals steer it without failing.
type loopAction struct {
	base
	driver loops.Loop
	body   *sequence
}

func buildLoop(spec schema.ActionSpec, deps Deps) (Action, error) {
	var p loopParams
	if err := decodeParams(spec, &p); err != nil {
		return nil, err
	}
	if p.Loop.Type == "" {
		return nil, schema.NewError(schema.ErrCodeValidation, "loop action requires a loop driver").WithAction(spec.ID)
	}
	if deps.Loops == nil {
		return nil, schema.NewError(schema.ErrCodeValidation, "loop action requires a loop registry").WithAction(spec.ID)
	}
	driver, err := deps.Loops.Build(p.Loop, deps.loopDeps())
	if err != nil {
		return nil, err
	}
	body, err := buildSequence(p.Body, deps)
	if err != nil {
		return nil, err
	}
	return &loopAction{base: base{spec: spec}, driver: driver, body: body}, nil
}

func (a *loopAction) Execute(ctx context.Context, rctx *run.Context) *run.Result {
	rctx.Vars.PushFrame()
	defer rctx.Vars.PopFrame()

	if err := a.driver.Init(ctx, rctx.Vars); err != nil {
		return a.fail(err)
	}

	agg := run.Succeed("")
	iterations := 0
	for {
		ok, err := a.driver.HasNext(ctx, rctx.Vars)
		if err != nil {
			agg.Success = false
			agg.Error = a.record(err)
			agg.Message = agg.Error.Message
			break
		}
		if !ok {
			break
		}

		res := a.body.run(ctx, rctx)
		agg.AddChild(res)
		iterations++

		if res.Broke() {
			break
		}
		if !res.Success {
			agg.Success = false
			agg.Error = res.Error
			agg.Message = res.Message
			break
		}

		if err := a.driver.Next(ctx, rctx.Vars); err != nil {
			agg.Success = false
			agg.Error = a.record(err)
			agg.Message = agg.Error.Message
			break
		}
	}

	if agg.Data == nil {
		agg.Data = map[string]any{}
	}
	agg.Data["iterations"] = iterations
	return agg
}

// --- break / continue ---

type breakAction struct {
	base
}

func buildBreak(spec schema.ActionSpec, _ Deps) (Action, error) {
	return &breakAction{base: base{spec: spec}}, nil
}

func (a *breakAction) Execute(_ context.Context, _ *run.Context) *run.Result {
	return run.Signalled(run.SignalBreak)
}

type continueAction struct {
	base
}

func buildContinue(spec schema.ActionSpec, _ Deps) (Action, error) {
	return &continueAction{base: base{spec: spec}}, nil
}

func (a *continueAction) Execute(_ context.Context, _ *run.Context) *run.Result {
	return run.Signalled(run.SignalContinue)
}
