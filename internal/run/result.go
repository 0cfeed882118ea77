package run

import (
	"time"

	"github.com/Phazzie/autoclick/pkg/schema"
)

// Signal is the control-flow marker a result carries out of a loop body.
type Signal string

const (
	// SignalNone is the default: no control-flow effect.
	SignalNone Signal = ""
	// SignalBreak stops the enclosing loop after the current iteration.
	SignalBreak Signal = "break"
	// SignalContinue skips the rest of the current iteration.
	SignalContinue Signal = "continue"
)

// Result is the outcome of executing one action. Composite actions nest
// their per-branch or per-iteration outcomes under Children.
type Result struct {
	Success    bool                `json:"success"`
	Message    string              `json:"message,omitempty"`
	Data       map[string]any      `json:"data,omitempty"`
	Error      *schema.ErrorRecord `json:"error,omitempty"`
	Children   []*Result           `json:"children,omitempty"`
	Signal     Signal              `json:"signal,omitempty"`
	DurationMs int64               `json:"duration_ms"`
}

// Succeed returns a successful result with a message.
func Succeed(message string) *Result {
	return &Result{Success: true, Message: message}
}

// SucceedWith returns a successful result carrying data.
func SucceedWith(message string, data map[string]any) *Result {
	return &Result{Success: true, Message: message, Data: data}
}

// Signalled returns a successful result carrying a loop control signal.
func Signalled(sig Signal) *Result {
	return &Result{Success: true, Signal: sig}
}

// Skipped returns the result of a step whose guard evaluated false.
// Skipped steps count as successful but are tallied separately.
func Skipped(message string) *Result {
	return &Result{Success: true, Message: message, Data: map[string]any{"skipped": true}}
}

// Failed returns a failed result wrapping an error record.
func Failed(rec *schema.ErrorRecord) *Result {
	msg := ""
	if rec != nil {
		msg = rec.Message
	}
	return &Result{Success: false, Message: msg, Error: rec}
}

// FailedKind builds the error record inline.
func FailedKind(kind schema.ErrorKind, actionID, message string) *Result {
	return Failed(&schema.ErrorRecord{
		Kind:      kind,
		Message:   message,
		ActionID:  actionID,
		Timestamp: time.Now(),
	})
}

// WithDuration stamps the elapsed time and returns the result.
func (r *Result) WithDuration(d time.Duration) *Result {
	r.DurationMs = d.Milliseconds()
	return r
}

// AddChild appends a nested result.
func (r *Result) AddChild(child *Result) *Result {
	r.Children = append(r.Children, child)
	return r
}

// WasSkipped reports whether a guard skipped this step.
func (r *Result) WasSkipped() bool {
	if r.Data == nil {
		return false
	}
	skipped, _ := r.Data["skipped"].(bool)
	return skipped
}

// Broke reports whether the result carries a break signal.
func (r *Result) Broke() bool { return r.Signal == SignalBreak }

// Continued reports whether the result carries a continue signal.
func (r *Result) Continued() bool { return r.Signal == SignalContinue }
