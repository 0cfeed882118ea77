package actions

import (
	"context"
	"fmt"

	"github.com/Phazzie/autoclick/internal/datasource"
	"github.com/Phazzie/autoclick/internal/expressions"
	"github.com/Phazzie/autoclick/internal/page"
	"github.com/Phazzie/autoclick/internal/run"
	"github.com/Phazzie/autoclick/internal/variables"
	"github.com/Phazzie/autoclick/internal/workerpool"
	"github.com/Phazzie/autoclick/pkg/schema"
)

// --- data_driven ---

type dataDrivenParams struct {
	Source          string              `json:"source"`
	Mappings        map[string]string   `json:"mappings,omitempty"`
	Actions         []schema.ActionSpec `json:"actions"`
	ContinueOnError bool                `json:"continue_on_error,omitempty"`
	Parallel        int                 `json:"parallel,omitempty"`
}

// dataDrivenAction runs its body once per source row, binding mapped
// columns into a local frame. One child result per row; the aggregate
// succeeds only when every row did. continue_on_error keeps later rows
// running past a failed one; parallel > 1 fans rows out over isolated
// child contexts.
type dataDrivenAction struct {
	base
	source datasource.Source
	body   *sequence
	specs  []schema.ActionSpec
	deps   Deps
	params dataDrivenParams
}

func buildDataDriven(spec schema.ActionSpec, deps Deps) (Action, error) {
	var p dataDrivenParams
	if err := decodeParams(spec, &p); err != nil {
		return nil, err
	}
	if p.Source == "" {
		return nil, schema.NewError(schema.ErrCodeValidation, "data_driven requires a source name").WithAction(spec.ID)
	}
	if len(p.Actions) == 0 {
		return nil, schema.NewError(schema.ErrCodeValidation, "data_driven requires at least one inner action").WithAction(spec.ID)
	}
	src, ok := deps.Sources[p.Source]
	if !ok {
		return nil, schema.NewErrorf(schema.ErrCodeValidation, "data source %q is not wired", p.Source).WithAction(spec.ID)
	}
	if p.Parallel < 0 {
		return nil, schema.NewErrorf(schema.ErrCodeValidation, "data_driven parallel must not be negative, got %d", p.Parallel).WithAction(spec.ID)
	}
	body, err := buildSequence(p.Actions, deps)
	if err != nil {
		return nil, err
	}
	return &dataDrivenAction{
		base:   base{spec: spec},
		source: src,
		body:   body,
		specs:  p.Actions,
		deps:   deps,
		params: p,
	}, nil
}

func (a *dataDrivenAction) Execute(ctx context.Context, rctx *run.Context) *run.Result {
	if a.params.Parallel > 1 {
		return a.executeParallel(ctx, rctx)
	}
	return a.executeSequential(ctx, rctx)
}

func (a *dataDrivenAction) executeSequential(ctx context.Context, rctx *run.Context) *run.Result {
	it, err := a.source.Rows(ctx)
	if err != nil {
		return a.fail(err)
	}
	defer it.Close()

	agg := run.Succeed("")
	failed := 0
	index := 0
	for {
		if err := rctx.AwaitResume(ctx); err != nil {
			agg.Success = false
			agg.Error = a.record(err)
			agg.Message = agg.Error.Message
			break
		}

		row, ok, err := it.Next(ctx)
		if err != nil {
			agg.Success = false
			agg.Error = a.record(err)
			agg.Message = agg.Error.Message
			break
		}
		if !ok {
			break
		}

		res := a.runRow(ctx, rctx, row, index)
		agg.AddChild(res)
		index++

		if res.Broke() {
			break
		}
		if !res.Success {
			failed++
			if !a.params.ContinueOnError {
				break
			}
		}
	}

	if failed > 0 {
		agg.Success = false
		if agg.Message == "" {
			agg.Message = fmt.Sprintf("%d of %d rows failed", failed, index)
		}
	}
	if agg.Data == nil {
		agg.Data = map[string]any{}
	}
	agg.Data["rows"] = index
	agg.Data["failed_rows"] = failed
	return agg
}

// runRow executes the body against one row inside a local frame on the
// shared context.
func (a *dataDrivenAction) runRow(ctx context.Context, rctx *run.Context, row datasource.Row, index int) *run.Result {
	rctx.Vars.PushFrame()
	defer rctx.Vars.PopFrame()

	if res := bindRow(rctx.Vars, row, a.params.Mappings, index); res != nil {
		return run.Failed(a.record(res))
	}
	return a.body.run(ctx, rctx)
}

// executeParallel materializes all rows, then fans them out over child
// contexts through a bounded pool. The body is rebuilt per row so loop
// cursors and other per-action state never cross goroutines. Break and
// continue signals are not meaningful across parallel rows and are
// ignored.
func (a *dataDrivenAction) executeParallel(ctx context.Context, rctx *run.Context) *run.Result {
	it, err := a.source.Rows(ctx)
	if err != nil {
		return a.fail(err)
	}
	rows := make([]datasource.Row, 0)
	for {
		row, ok, err := it.Next(ctx)
		if err != nil {
			_ = it.Close()
			return a.fail(err)
		}
		if !ok {
			break
		}
		rows = append(rows, row)
	}
	_ = it.Close()

	children := make([]*run.Result, len(rows))
	pool := workerpool.New(a.params.Parallel)
	for i := range rows {
		i := i
		err := pool.Submit(ctx, func(jobCtx context.Context) error {
			body, buildErr := buildSequence(a.specs, a.deps)
			if buildErr != nil {
				children[i] = run.Failed(a.record(buildErr))
				return buildErr
			}

			child := rctx.Child()
			child.Vars.PushFrame()
			if bindErr := bindRow(child.Vars, rows[i], a.params.Mappings, i); bindErr != nil {
				children[i] = run.Failed(a.record(bindErr))
				return bindErr
			}
			res := body.run(jobCtx, child)
			children[i] = res
			rctx.AdoptHistory(child)
			if !res.Success {
				return fmt.Errorf("row %d failed", i)
			}
			return nil
		})
		if err != nil {
			children[i] = run.Failed(a.record(err))
		}
	}
	pool.Wait()
	pool.Shutdown()

	agg := run.Succeed("")
	failed := 0
	for _, res := range children {
		if res == nil {
			res = run.FailedKind(schema.ErrKindUnknown, a.id(), "row produced no result")
		}
		agg.AddChild(res)
		if !res.Success {
			failed++
		}
	}
	if failed > 0 {
		agg.Success = false
		agg.Message = fmt.Sprintf("%d of %d rows failed", failed, len(rows))
	}
	agg.Data = map[string]any{"rows": len(rows), "failed_rows": failed, "parallel": a.params.Parallel}
	return agg
}

// bindRow writes row fields into the innermost frame. With explicit
// mappings only the mapped columns bind, and a missing column is an
// error; without mappings every column binds under its own name.
func bindRow(vars *variables.Store, row datasource.Row, mappings map[string]string, index int) error {
	if len(mappings) > 0 {
		for varName, column := range mappings {
			val, ok := row[column]
			if !ok {
				return schema.NewErrorf(schema.ErrCodeValidation,
					"row %d has no column %q", index, column)
			}
			vars.SetIn(variables.ScopeLocal, varName, val)
		}
	} else {
		for column, val := range row {
			vars.SetIn(variables.ScopeLocal, column, val)
		}
	}
	vars.SetIn(variables.ScopeLocal, "row_index", index)
	return nil
}

// --- transform ---

type transformParams struct {
	Query    string `json:"query"`
	Variable string `json:"variable"`
	Scope    string `json:"scope,omitempty"`
}

// transformAction runs a jq program over the flattened variables and
// stores the output.
type transformAction struct {
	base
	engine expressions.Engine
	params transformParams
	scope  variables.Scope
}

func buildTransform(spec schema.ActionSpec, deps Deps) (Action, error) {
	var p transformParams
	if err := decodeParams(spec, &p); err != nil {
		return nil, err
	}
	if p.Query == "" || p.Variable == "" {
		return nil, schema.NewError(schema.ErrCodeValidation,
			"transform requires a query and a variable").WithAction(spec.ID)
	}
	engine, ok := deps.Engines["jq"]
	if !ok {
		return nil, schema.NewError(schema.ErrCodeValidation, "transform needs the jq engine").WithAction(spec.ID)
	}
	scope, err := scopeOf(p.Scope)
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeValidation, "transform %q: %s", p.Variable, err.Error()).WithAction(spec.ID)
	}
	return &transformAction{base: base{spec: spec}, engine: engine, params: p, scope: scope}, nil
}

func (a *transformAction) Execute(ctx context.Context, rctx *run.Context) *run.Result {
	out, err := a.engine.Evaluate(ctx, a.params.Query, rctx.Vars.Flatten())
	if err != nil {
		return a.fail(err)
	}
	rctx.Vars.SetIn(a.scope, a.params.Variable, out)
	return run.SucceedWith("transformed", map[string]any{
		"variable": a.params.Variable,
		"value":    out,
	})
}

// --- eval ---

type evalParams struct {
	Engine   string `json:"engine"`
	Script   string `json:"script"`
	Variable string `json:"variable,omitempty"`
	Scope    string `json:"scope,omitempty"`
}

// evalAction runs a script through a named expression engine, or in the
// page itself with engine "js". Scripts are never interpolated; they
// read run state through the engine's own data binding.
type evalAction struct {
	base
	engine  expressions.Engine
	session page.Session
	params  evalParams
	scope   variables.Scope
}

func buildEval(spec schema.ActionSpec, deps Deps) (Action, error) {
	var p evalParams
	if err := decodeParams(spec, &p); err != nil {
		return nil, err
	}
	if p.Script == "" {
		return nil, schema.NewError(schema.ErrCodeValidation, "eval requires a script").WithAction(spec.ID)
	}
	scope, err := scopeOf(p.Scope)
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeValidation, "eval: %s", err.Error()).WithAction(spec.ID)
	}

	a := &evalAction{base: base{spec: spec}, params: p, scope: scope}
	if p.Engine == "js" {
		if err := requireSession(spec, deps); err != nil {
			return nil, err
		}
		a.session = deps.Session
		return a, nil
	}
	engine, ok := deps.Engines[p.Engine]
	if !ok {
		return nil, schema.NewErrorf(schema.ErrCodeValidation, "eval engine %q is not wired", p.Engine).WithAction(spec.ID)
	}
	a.engine = engine
	return a, nil
}

func (a *evalAction) Execute(ctx context.Context, rctx *run.Context) *run.Result {
	var (
		out any
		err error
	)
	if a.session != nil {
		out, err = a.session.Eval(ctx, a.params.Script)
	} else {
		out, err = a.engine.Evaluate(ctx, a.params.Script, rctx.Vars.Flatten())
	}
	if err != nil {
		return a.fail(err)
	}

	if a.params.Variable != "" {
		rctx.Vars.SetIn(a.scope, a.params.Variable, out)
	}
	return run.SucceedWith("evaluated", map[string]any{"result": out})
}
