package validation

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/Phazzie/autoclick/pkg/schema"
)

// Param shapes mirrored from the action builders, reduced to the fields
// the semantic pass inspects. Builders re-decode params at build time and
// report anything this pass cannot see.
type ifShape struct {
	Condition schema.ConditionSpec `json:"condition"`
	Then      []schema.ActionSpec  `json:"then"`
	Else      []schema.ActionSpec  `json:"else"`
}

type switchCaseShape struct {
	Actions []schema.ActionSpec `json:"actions"`
}

type switchShape struct {
	Selector string              `json:"selector"`
	Cases    []switchCaseShape   `json:"cases"`
	Default  []schema.ActionSpec `json:"default"`
}

type loopShape struct {
	Loop schema.LoopSpec     `json:"loop"`
	Body []schema.ActionSpec `json:"body"`
}

type rowsShape struct {
	Source   string              `json:"source"`
	Actions  []schema.ActionSpec `json:"actions"`
	Parallel int                 `json:"parallel"`
}

type credentialShape struct {
	Actions []schema.ActionSpec `json:"actions"`
}

type compositeShape struct {
	Operator   string                 `json:"operator"`
	Conditions []schema.ConditionSpec `json:"conditions"`
}

type whileShape struct {
	Condition     schema.ConditionSpec `json:"condition"`
	MaxIterations *int                 `json:"max_iterations"`
	Delay         string               `json:"delay"`
}

type countShape struct {
	Count any `json:"count"`
}

type forEachShape struct {
	Items    any    `json:"items"`
	Selector string `json:"selector"`
}

// validateSemantic walks the whole action tree, including the nested lists
// the JSON Schema cannot see inside params. Checks: unique IDs across the
// tree, registered type tags, timing and retry sanity, loop bounds, switch
// and branch shape.
func validateSemantic(wf *schema.Workflow, regs Registries) *schema.ValidationResult {
	result := &schema.ValidationResult{}

	seen := make(map[string]string, len(wf.Steps))
	for i := range wf.Steps {
		validateStep(&wf.Steps[i], fmt.Sprintf("steps[%d]", i), regs, seen, result)
	}

	if wf.Timeout != "" {
		if _, err := time.ParseDuration(wf.Timeout); err != nil {
			result.AddErrorf("timeout", schema.ErrCodeValidation, "invalid workflow timeout %q", wf.Timeout)
		}
	}
	switch wf.OnTimeout {
	case "", "fail", "pause", "cancel":
	default:
		result.AddErrorf("on_timeout", schema.ErrCodeValidation, "unknown on_timeout behavior %q", wf.OnTimeout)
	}

	return result
}

func validateStep(spec *schema.ActionSpec, path string, regs Registries, seen map[string]string, result *schema.ValidationResult) {
	if spec.ID == "" {
		result.AddError(path+".id", schema.ErrCodeValidation, "step id is required")
	} else if first, dup := seen[spec.ID]; dup {
		result.AddErrorf(path+".id", schema.ErrCodeValidation, "duplicate step id %q (first used at %s)", spec.ID, first)
	} else {
		seen[spec.ID] = path
	}

	if spec.Type == "" {
		result.AddError(path+".type", schema.ErrCodeValidation, "step type is required")
		return
	}
	if regs.Actions != nil && !regs.Actions.Has(spec.Type) {
		result.AddErrorf(path+".type", schema.ErrCodeValidation, "unknown action type %q", spec.Type)
		return
	}

	validateTiming(spec, path, result)

	switch spec.Type {
	case schema.ActionIf:
		validateIf(spec, path, regs, seen, result)
	case schema.ActionSwitch:
		validateSwitch(spec, path, regs, seen, result)
	case schema.ActionLoop:
		validateLoop(spec, path, regs, seen, result)
	case schema.ActionDataDriven:
		validateRows(spec, path, regs, seen, result)
	case schema.ActionCredentialFilter:
		validateCredentialFilter(spec, path, regs, seen, result)
	}
}

// validateTiming checks timeout and retry fields. Nested steps bypass the
// JSON Schema, so ranges are re-checked here for every depth.
func validateTiming(spec *schema.ActionSpec, path string, result *schema.ValidationResult) {
	if spec.Timeout != "" {
		if _, err := time.ParseDuration(spec.Timeout); err != nil {
			result.AddErrorf(path+".timeout", schema.ErrCodeValidation, "invalid timeout %q", spec.Timeout)
		}
	}

	if spec.Retry == nil {
		return
	}
	if spec.Retry.Max < 0 {
		result.AddError(path+".retry.max", schema.ErrCodeValidation, "retry max cannot be negative")
	}
	if spec.Retry.Max > 10 {
		result.AddWarning(path+".retry.max", schema.ErrCodeValidation,
			fmt.Sprintf("high retry count (%d) may stall the run", spec.Retry.Max))
	}
	switch spec.Retry.Backoff {
	case "", "none", "constant", "linear", "exponential":
	default:
		result.AddErrorf(path+".retry.backoff", schema.ErrCodeValidation, "unknown backoff mode %q", spec.Retry.Backoff)
	}
	if spec.Retry.Delay != "" {
		if _, err := time.ParseDuration(spec.Retry.Delay); err != nil {
			result.AddErrorf(path+".retry.delay", schema.ErrCodeValidation, "invalid retry delay %q", spec.Retry.Delay)
		}
	}
	if spec.Retry.MaxDelay != "" {
		if _, err := time.ParseDuration(spec.Retry.MaxDelay); err != nil {
			result.AddErrorf(path+".retry.max_delay", schema.ErrCodeValidation, "invalid retry max_delay %q", spec.Retry.MaxDelay)
		}
	}
}

func validateIf(spec *schema.ActionSpec, path string, regs Registries, seen map[string]string, result *schema.ValidationResult) {
	var p ifShape
	if !decodeShape(spec.Params, &p, path, result) {
		return
	}
	validateCondition(p.Condition, path+".params.condition", regs, result)
	validateNested(p.Then, path+".params.then", regs, seen, result)
	validateNested(p.Else, path+".params.else", regs, seen, result)
}

func validateSwitch(spec *schema.ActionSpec, path string, regs Registries, seen map[string]string, result *schema.ValidationResult) {
	var p switchShape
	if !decodeShape(spec.Params, &p, path, result) {
		return
	}
	if p.Selector == "" {
		result.AddError(path+".params.selector", schema.ErrCodeValidation, "switch requires a selector expression")
	}
	if len(p.Cases) == 0 {
		result.AddError(path+".params.cases", schema.ErrCodeValidation, "switch requires at least one case")
	}
	for i, c := range p.Cases {
		casePath := fmt.Sprintf("%s.params.cases[%d]", path, i)
		if len(c.Actions) == 0 {
			result.AddError(casePath+".actions", schema.ErrCodeValidation, "switch case has no actions")
		}
		validateNested(c.Actions, casePath+".actions", regs, seen, result)
	}
	validateNested(p.Default, path+".params.default", regs, seen, result)
}

func validateLoop(spec *schema.ActionSpec, path string, regs Registries, seen map[string]string, result *schema.ValidationResult) {
	var p loopShape
	if !decodeShape(spec.Params, &p, path, result) {
		return
	}
	validateLoopDriver(p.Loop, path+".params.loop", regs, result)
	if len(p.Body) == 0 {
		result.AddError(path+".params.body", schema.ErrCodeValidation, "loop has no body")
	}
	validateNested(p.Body, path+".params.body", regs, seen, result)
}

func validateRows(spec *schema.ActionSpec, path string, regs Registries, seen map[string]string, result *schema.ValidationResult) {
	var p rowsShape
	if !decodeShape(spec.Params, &p, path, result) {
		return
	}
	if p.Source == "" {
		result.AddError(path+".params.source", schema.ErrCodeValidation, "data_driven requires a source name")
	}
	if len(p.Actions) == 0 {
		result.AddError(path+".params.actions", schema.ErrCodeValidation, "data_driven has no actions")
	}
	if p.Parallel < 0 {
		result.AddError(path+".params.parallel", schema.ErrCodeValidation, "parallel cannot be negative")
	}
	validateNested(p.Actions, path+".params.actions", regs, seen, result)
}

func validateCredentialFilter(spec *schema.ActionSpec, path string, regs Registries, seen map[string]string, result *schema.ValidationResult) {
	var p credentialShape
	if !decodeShape(spec.Params, &p, path, result) {
		return
	}
	if len(p.Actions) == 0 {
		result.AddError(path+".params.actions", schema.ErrCodeValidation, "credential_filter has no actions")
	}
	validateNested(p.Actions, path+".params.actions", regs, seen, result)
}

func validateNested(steps []schema.ActionSpec, path string, regs Registries, seen map[string]string, result *schema.ValidationResult) {
	for i := range steps {
		validateStep(&steps[i], fmt.Sprintf("%s[%d]", path, i), regs, seen, result)
	}
}

func validateCondition(cs schema.ConditionSpec, path string, regs Registries, result *schema.ValidationResult) {
	if cs.Type == "" {
		result.AddError(path+".type", schema.ErrCodeValidation, "condition type is required")
		return
	}
	if regs.Conditions != nil && !regs.Conditions.Has(cs.Type) {
		result.AddErrorf(path+".type", schema.ErrCodeValidation, "unknown condition type %q", cs.Type)
		return
	}

	if cs.Type != schema.ConditionComposite {
		return
	}
	var p compositeShape
	if !decodeShape(cs.Params, &p, path, result) {
		return
	}
	switch p.Operator {
	case "AND", "OR":
		if len(p.Conditions) == 0 {
			result.AddErrorf(path+".params.conditions", schema.ErrCodeValidation,
				"composite %s requires at least one sub-condition", p.Operator)
		}
	case "NOT":
		if len(p.Conditions) != 1 {
			result.AddErrorf(path+".params.conditions", schema.ErrCodeValidation,
				"composite NOT requires exactly one sub-condition, got %d", len(p.Conditions))
		}
	default:
		result.AddErrorf(path+".params.operator", schema.ErrCodeValidation, "unknown composite operator %q", p.Operator)
	}
	for i, sub := range p.Conditions {
		validateCondition(sub, fmt.Sprintf("%s.params.conditions[%d]", path, i), regs, result)
	}
}

func validateLoopDriver(ls schema.LoopSpec, path string, regs Registries, result *schema.ValidationResult) {
	if ls.Type == "" {
		result.AddError(path+".type", schema.ErrCodeValidation, "loop driver type is required")
		return
	}
	if regs.Loops != nil && !regs.Loops.Has(ls.Type) {
		result.AddErrorf(path+".type", schema.ErrCodeValidation, "unknown loop type %q", ls.Type)
		return
	}

	switch ls.Type {
	case schema.LoopCount:
		var p countShape
		if !decodeShape(ls.Params, &p, path, result) {
			return
		}
		// Count may be an expression string; only literal numbers are
		// checkable here.
		if n, ok := p.Count.(float64); ok && n <= 0 {
			result.AddErrorf(path+".params.count", schema.ErrCodeValidation, "count must be positive, got %v", p.Count)
		}
	case schema.LoopForEach:
		var p forEachShape
		if !decodeShape(ls.Params, &p, path, result) {
			return
		}
		if p.Items == nil && p.Selector == "" {
			result.AddError(path+".params", schema.ErrCodeValidation, "for_each requires items or a selector")
		}
	case schema.LoopWhile:
		var p whileShape
		if !decodeShape(ls.Params, &p, path, result) {
			return
		}
		validateCondition(p.Condition, path+".params.condition", regs, result)
		if p.MaxIterations != nil && *p.MaxIterations <= 0 {
			result.AddErrorf(path+".params.max_iterations", schema.ErrCodeValidation,
				"max_iterations must be positive, got %d", *p.MaxIterations)
		}
		if p.Delay != "" {
			if _, err := time.ParseDuration(p.Delay); err != nil {
				result.AddErrorf(path+".params.delay", schema.ErrCodeValidation, "invalid loop delay %q", p.Delay)
			}
		}
	}
}

// decodeShape unmarshals params into the given shape, reporting malformed
// JSON as a validation error. Params are opaque to the structural pass, so
// this is the first place bad nesting surfaces.
func decodeShape(params json.RawMessage, into any, path string, result *schema.ValidationResult) bool {
	if len(params) == 0 {
		result.AddError(path+".params", schema.ErrCodeValidation, "params are required")
		return false
	}
	if err := json.Unmarshal(params, into); err != nil {
		result.AddErrorf(path+".params", schema.ErrCodeValidation, "malformed params: %s", err.Error())
		return false
	}
	return true
}
