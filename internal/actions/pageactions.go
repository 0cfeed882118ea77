package actions

import (
	"context"
	"regexp"
	"strings"
	"time"

	"github.com/Phazzie/autoclick/internal/expressions"
	"github.com/Phazzie/autoclick/internal/page"
	"github.com/Phazzie/autoclick/internal/run"
	"github.com/Phazzie/autoclick/internal/variables"
	"github.com/Phazzie/autoclick/pkg/schema"
)

// requireSession rejects page actions built without a session.
func requireSession(spec schema.ActionSpec, deps Deps) error {
	if deps.Session == nil {
		return schema.NewErrorf(schema.ErrCodeValidation,
			"action %q needs a page session", spec.Type).WithAction(spec.ID)
	}
	return nil
}

// --- navigate ---

type navigateParams struct {
	URL string `json:"url"`
}

type navigateAction struct {
	base
	interp  *expressions.Interpolator
	session page.Session
	params  navigateParams
}

func buildNavigate(spec schema.ActionSpec, deps Deps) (Action, error) {
	var p navigateParams
	if err := decodeParams(spec, &p); err != nil {
		return nil, err
	}
	if p.URL == "" {
		return nil, schema.NewError(schema.ErrCodeValidation, "navigate requires a url").WithAction(spec.ID)
	}
	if err := requireSession(spec, deps); err != nil {
		return nil, err
	}
	return &navigateAction{base: base{spec: spec}, interp: deps.Interp, session: deps.Session, params: p}, nil
}

func (a *navigateAction) Execute(ctx context.Context, rctx *run.Context) *run.Result {
	url, err := resolveString(ctx, a.interp, a.params.URL, rctx.Vars)
	if err != nil {
		return a.fail(err)
	}
	if err := a.session.Navigate(ctx, url); err != nil {
		return a.fail(err)
	}
	return run.SucceedWith("navigated", map[string]any{"url": url})
}

// --- click ---

type clickParams struct {
	Selector string `json:"selector"`
}

type clickAction struct {
	base
	interp  *expressions.Interpolator
	session page.Session
	params  clickParams
}

func buildClick(spec schema.ActionSpec, deps Deps) (Action, error) {
	var p clickParams
	if err := decodeParams(spec, &p); err != nil {
		return nil, err
	}
	if p.Selector == "" {
		return nil, schema.NewError(schema.ErrCodeValidation, "click requires a selector").WithAction(spec.ID)
	}
	if err := requireSession(spec, deps); err != nil {
		return nil, err
	}
	return &clickAction{base: base{spec: spec}, interp: deps.Interp, session: deps.Session, params: p}, nil
}

func (a *clickAction) Execute(ctx context.Context, rctx *run.Context) *run.Result {
	selector, err := resolveString(ctx, a.interp, a.params.Selector, rctx.Vars)
	if err != nil {
		return a.fail(err)
	}
	if err := a.session.Click(ctx, selector); err != nil {
		return a.fail(err)
	}
	return run.SucceedWith("clicked", map[string]any{"selector": selector})
}

// --- input ---

type inputParams struct {
	Selector string `json:"selector"`
	Value    string `json:"value"`
}

type inputAction struct {
	base
	interp  *expressions.Interpolator
	session page.Session
	params  inputParams
}

func buildInput(spec schema.ActionSpec, deps Deps) (Action, error) {
	var p inputParams
	if err := decodeParams(spec, &p); err != nil {
		return nil, err
	}
	if p.Selector == "" {
		return nil, schema.NewError(schema.ErrCodeValidation, "input requires a selector").WithAction(spec.ID)
	}
	if err := requireSession(spec, deps); err != nil {
		return nil, err
	}
	return &inputAction{base: base{spec: spec}, interp: deps.Interp, session: deps.Session, params: p}, nil
}

func (a *inputAction) Execute(ctx context.Context, rctx *run.Context) *run.Result {
	selector, err := resolveString(ctx, a.interp, a.params.Selector, rctx.Vars)
	if err != nil {
		return a.fail(err)
	}
	text, err := resolveString(ctx, a.interp, a.params.Value, rctx.Vars)
	if err != nil {
		return a.fail(err)
	}
	if err := a.session.Input(ctx, selector, text); err != nil {
		return a.fail(err)
	}
	return run.SucceedWith("input set", map[string]any{"selector": selector})
}

// --- wait_for_element ---

const (
	defaultWaitTimeout  = 10 * time.Second
	defaultWaitInterval = 100 * time.Millisecond
)

type waitForElementParams struct {
	Selector string `json:"selector"`
	Timeout  string `json:"timeout,omitempty"`
	Interval string `json:"interval,omitempty"`
}

// waitForElementAction polls the selector until it appears or the wait
// budget runs out, which surfaces as a TIMEOUT record.
type waitForElementAction struct {
	base
	interp   *expressions.Interpolator
	session  page.Session
	selector string
	timeout  time.Duration
	interval time.Duration
}

func buildWaitForElement(spec schema.ActionSpec, deps Deps) (Action, error) {
	var p waitForElementParams
	if err := decodeParams(spec, &p); err != nil {
		return nil, err
	}
	if p.Selector == "" {
		return nil, schema.NewError(schema.ErrCodeValidation, "wait_for_element requires a selector").WithAction(spec.ID)
	}
	if err := requireSession(spec, deps); err != nil {
		return nil, err
	}

	timeout := defaultWaitTimeout
	if p.Timeout != "" {
		d, err := time.ParseDuration(p.Timeout)
		if err != nil || d <= 0 {
			return nil, schema.NewErrorf(schema.ErrCodeValidation,
				"wait_for_element timeout %q is not a positive duration", p.Timeout).WithAction(spec.ID)
		}
		timeout = d
	}
	interval := defaultWaitInterval
	if p.Interval != "" {
		d, err := time.ParseDuration(p.Interval)
		if err != nil || d <= 0 {
			return nil, schema.NewErrorf(schema.ErrCodeValidation,
				"wait_for_element interval %q is not a positive duration", p.Interval).WithAction(spec.ID)
		}
		interval = d
	}

	return &waitForElementAction{
		base:     base{spec: spec},
		interp:   deps.Interp,
		session:  deps.Session,
		selector: p.Selector,
		timeout:  timeout,
		interval: interval,
	}, nil
}

func (a *waitForElementAction) Execute(ctx context.Context, rctx *run.Context) *run.Result {
	selector, err := resolveString(ctx, a.interp, a.selector, rctx.Vars)
	if err != nil {
		return a.fail(err)
	}

	start := time.Now()
	deadline := start.Add(a.timeout)

	for {
		found, err := a.session.Exists(ctx, selector)
		if err != nil {
			return a.fail(err)
		}
		if found {
			return run.SucceedWith("element appeared", map[string]any{
				"selector":  selector,
				"waited_ms": time.Since(start).Milliseconds(),
			})
		}
		if time.Now().Add(a.interval).After(deadline) {
			return run.FailedKind(schema.ErrKindTimeout, a.id(),
				"element "+selector+" did not appear within "+a.timeout.String())
		}

		timer := time.NewTimer(a.interval)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			return a.fail(ctx.Err())
		}
	}
}

// --- extract_text ---

type extractTextParams struct {
	Selector   string   `json:"selector"`
	Variable   string   `json:"variable"`
	Pattern    string   `json:"pattern,omitempty"`
	Group      *int     `json:"group,omitempty"`
	Transforms []string `json:"transforms,omitempty"`
	Scope      string   `json:"scope,omitempty"`
}

// extractTextAction reads element text into a variable, optionally
// narrowing through a regex group and applying text transforms. With a
// pattern that has capture groups the first group is the default
// extraction target.
type extractTextAction struct {
	base
	interp  *expressions.Interpolator
	session page.Session
	params  extractTextParams
	re      *regexp.Regexp
	group   int
	scope   variables.Scope
}

func buildExtractText(spec schema.ActionSpec, deps Deps) (Action, error) {
	var p extractTextParams
	if err := decodeParams(spec, &p); err != nil {
		return nil, err
	}
	if p.Selector == "" || p.Variable == "" {
		return nil, schema.NewError(schema.ErrCodeValidation,
			"extract_text requires a selector and a variable").WithAction(spec.ID)
	}
	if err := requireSession(spec, deps); err != nil {
		return nil, err
	}
	scope, err := scopeOf(p.Scope)
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeValidation, "extract_text %q: %s", p.Variable, err.Error()).WithAction(spec.ID)
	}

	var re *regexp.Regexp
	group := 0
	if p.Pattern != "" {
		re, err = regexp.Compile(p.Pattern)
		if err != nil {
			return nil, schema.NewErrorf(schema.ErrCodeValidation,
				"extract_text pattern %q: %s", p.Pattern, err.Error()).WithAction(spec.ID).WithCause(err)
		}
		if re.NumSubexp() > 0 {
			group = 1
		}
		if p.Group != nil {
			group = *p.Group
			if group < 0 || group > re.NumSubexp() {
				return nil, schema.NewErrorf(schema.ErrCodeValidation,
					"extract_text group %d out of range, pattern has %d groups", group, re.NumSubexp()).WithAction(spec.ID)
			}
		}
	}

	for _, tr := range p.Transforms {
		switch tr {
		case "trim", "upper", "lower":
		default:
			return nil, schema.NewErrorf(schema.ErrCodeValidation,
				"extract_text transform %q is not one of trim, upper, lower", tr).WithAction(spec.ID)
		}
	}

	return &extractTextAction{
		base:    base{spec: spec},
		interp:  deps.Interp,
		session: deps.Session,
		params:  p,
		re:      re,
		group:   group,
		scope:   scope,
	}, nil
}

func (a *extractTextAction) Execute(ctx context.Context, rctx *run.Context) *run.Result {
	selector, err := resolveString(ctx, a.interp, a.params.Selector, rctx.Vars)
	if err != nil {
		return a.fail(err)
	}
	text, err := a.session.Text(ctx, selector)
	if err != nil {
		return a.fail(err)
	}

	if a.re != nil {
		m := a.re.FindStringSubmatch(text)
		if m == nil {
			return run.FailedKind(schema.ErrKindUnknown, a.id(),
				"pattern "+a.params.Pattern+" did not match element text")
		}
		text = m[a.group]
	}

	for _, tr := range a.params.Transforms {
		switch tr {
		case "trim":
			text = strings.TrimSpace(text)
		case "upper":
			text = strings.ToUpper(text)
		case "lower":
			text = strings.ToLower(text)
		}
	}

	rctx.Vars.SetIn(a.scope, a.params.Variable, text)
	return run.SucceedWith("text extracted", map[string]any{
		"variable": a.params.Variable,
		"value":    text,
	})
}
