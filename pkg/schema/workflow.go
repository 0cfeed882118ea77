package schema

import "encoding/json"

// Workflow is the JSON-serializable workflow format. Steps execute in
// declaration order; nesting happens inside action params (branches, loop
// bodies), not through dependency edges.
type Workflow struct {
	ID              string         `json:"id,omitempty"`
	Name            string         `json:"name"`
	Version         string         `json:"version,omitempty"`
	Description     string         `json:"description,omitempty"`
	Variables       map[string]any `json:"variables,omitempty"` // initial workflow-scope variables
	Steps           []ActionSpec   `json:"steps"`
	Timeout         string         `json:"timeout,omitempty"`
	OnTimeout       string         `json:"on_timeout,omitempty"` // fail | pause | cancel (default: fail)
	ContinueOnError bool           `json:"continue_on_error,omitempty"`
	Metadata        map[string]any `json:"metadata,omitempty"`
}

// ActionSpec describes a single action in a workflow. Type selects the
// constructor in the action registry; Params is decoded by that constructor.
type ActionSpec struct {
	ID              string          `json:"id"`
	Type            string          `json:"type"`
	Params          json.RawMessage `json:"params,omitempty"`
	Guard           string          `json:"guard,omitempty"`   // CEL expression, evaluated before execution
	Retry           *RetryPolicy    `json:"retry,omitempty"`
	Timeout         string          `json:"timeout,omitempty"` // action-level timeout (e.g. "30s", "5m")
	ContinueOnError bool            `json:"continue_on_error,omitempty"`
}

// ConditionSpec describes a condition variant by type tag.
type ConditionSpec struct {
	Type   string          `json:"type"`
	Params json.RawMessage `json:"params,omitempty"`
}

// LoopSpec describes a loop driver variant by type tag.
type LoopSpec struct {
	Type   string          `json:"type"`
	Params json.RawMessage `json:"params,omitempty"`
}

// Action type tags understood by the default registry.
const (
	ActionIf                = "if"
	ActionSwitch            = "switch"
	ActionLoop              = "loop"
	ActionBreak             = "break"
	ActionContinue          = "continue"
	ActionSetVariable       = "set_variable"
	ActionIncrementVariable = "increment_variable"
	ActionExtractText       = "extract_text"
	ActionDataDriven        = "data_driven"
	ActionCredentialFilter  = "credential_filter"
	ActionNavigate          = "navigate"
	ActionClick             = "click"
	ActionInput             = "input"
	ActionWaitForElement    = "wait_for_element"
	ActionTransform         = "transform"
	ActionEval              = "eval"
)

// Condition type tags understood by the default registry.
const (
	ConditionElementExists = "element_exists"
	ConditionTextContains  = "text_contains"
	ConditionComparison    = "comparison"
	ConditionComposite     = "composite"
	ConditionExpression    = "expression"
	ConditionScript        = "script"
)

// Loop type tags understood by the default registry.
const (
	LoopCount   = "count"
	LoopForEach = "for_each"
	LoopWhile   = "while"
)

// RetryPolicy configures retry behavior for an action.
type RetryPolicy struct {
	Max      int    `json:"max"`                 // max retry attempts
	Backoff  string `json:"backoff,omitempty"`   // none | constant | linear | exponential (default: none)
	Delay    string `json:"delay,omitempty"`     // initial delay (e.g. "1s", "500ms")
	MaxDelay string `json:"max_delay,omitempty"` // cap for growing backoff
}
