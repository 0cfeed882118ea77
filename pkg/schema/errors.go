package schema

import (
	"fmt"
	"time"
)

// Error codes for structured error reporting.
const (
	ErrCodeValidation        = "VALIDATION_ERROR"
	ErrCodeExpressionSyntax  = "EXPRESSION_SYNTAX"
	ErrCodeExpressionType    = "EXPRESSION_TYPE"
	ErrCodeExpressionEval    = "EXPRESSION_EVAL"
	ErrCodeVariableNotFound  = "VARIABLE_NOT_FOUND"
	ErrCodeTypeMismatch      = "TYPE_MISMATCH"
	ErrCodeInvalidTransition = "INVALID_TRANSITION"
	ErrCodeExecution         = "EXECUTION_ERROR"
	ErrCodeTimeout           = "TIMEOUT_ERROR"
	ErrCodeCancelled         = "CANCELLED"
	ErrCodeRetryExhausted    = "RETRY_EXHAUSTED"
	ErrCodeRecoveryFailed    = "RECOVERY_FAILED"
	ErrCodeNotFound          = "NOT_FOUND"
	ErrCodeConflict          = "CONFLICT"
	ErrCodeStore             = "STORE_ERROR"
	ErrCodeCircuitOpen       = "CIRCUIT_OPEN"
	ErrCodeCredential        = "CREDENTIAL_ERROR"
)

// AutomationError is the structured error type for all autoclick operations.
type AutomationError struct {
	Code     string         `json:"code"`
	Message  string         `json:"message"`
	Details  map[string]any `json:"details,omitempty"`
	ActionID string         `json:"action_id,omitempty"`
	Cause    error          `json:"-"`
}

func (e *AutomationError) Error() string {
	if e.ActionID != "" {
		return fmt.Sprintf("[%s] action %s: %s", e.Code, e.ActionID, e.Message)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

func (e *AutomationError) Unwrap() error {
	return e.Cause
}

// NewError creates a new AutomationError.
func NewError(code, message string) *AutomationError {
	return &AutomationError{Code: code, Message: message}
}

// NewErrorf creates a new AutomationError with a formatted message.
func NewErrorf(code, format string, args ...any) *AutomationError {
	return &AutomationError{Code: code, Message: fmt.Sprintf(format, args...)}
}

// WithAction attaches an action ID to the error.
func (e *AutomationError) WithAction(actionID string) *AutomationError {
	e.ActionID = actionID
	return e
}

// WithCause attaches an underlying cause.
func (e *AutomationError) WithCause(err error) *AutomationError {
	e.Cause = err
	return e
}

// WithDetails attaches key-value details.
func (e *AutomationError) WithDetails(details map[string]any) *AutomationError {
	e.Details = details
	return e
}

// ErrorKind classifies runtime failures into the fixed recovery taxonomy.
// Recovery strategies and listeners match on kind, never on message text.
type ErrorKind string

const (
	ErrKindElementNotFound ErrorKind = "ELEMENT_NOT_FOUND"
	ErrKindTimeout         ErrorKind = "TIMEOUT"
	ErrKindNavigation      ErrorKind = "NAVIGATION_ERROR"
	ErrKindJavaScript      ErrorKind = "JAVASCRIPT_ERROR"
	ErrKindAuthentication  ErrorKind = "AUTHENTICATION_ERROR"
	ErrKindNetwork         ErrorKind = "NETWORK_ERROR"
	ErrKindUnknown         ErrorKind = "UNKNOWN"
)

// ErrorRecord is the serializable failure report attached to action results
// and handed to the recovery chain.
type ErrorRecord struct {
	Kind      ErrorKind      `json:"kind"`
	Message   string         `json:"message"`
	ActionID  string         `json:"action_id,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
	Details   map[string]any `json:"details,omitempty"`
}

func (r *ErrorRecord) String() string {
	if r.ActionID != "" {
		return fmt.Sprintf("[%s] action %s: %s", r.Kind, r.ActionID, r.Message)
	}
	return fmt.Sprintf("[%s] %s", r.Kind, r.Message)
}
