// Package recovery classifies runtime failures and drives the recovery
// chain: listeners first, then strategies in registration order until
// one succeeds.
package recovery

import (
	"context"
	"errors"
	"net"
	"strings"
	"time"

	"github.com/Phazzie/autoclick/internal/page"
	"github.com/Phazzie/autoclick/pkg/schema"
)

// Classify maps an error into the fixed failure taxonomy. Sentinels and
// typed errors decide first; string heuristics catch what leaks through
// from drivers and transports.
func Classify(err error) schema.ErrorKind {
	if err == nil {
		return schema.ErrKindUnknown
	}

	switch {
	case errors.Is(err, page.ErrElementNotFound):
		return schema.ErrKindElementNotFound
	case errors.Is(err, context.DeadlineExceeded):
		return schema.ErrKindTimeout
	case errors.Is(err, page.ErrNavigation):
		return schema.ErrKindNavigation
	case errors.Is(err, page.ErrScript):
		return schema.ErrKindJavaScript
	}

	var autoErr *schema.AutomationError
	if errors.As(err, &autoErr) && autoErr.Code == schema.ErrCodeTimeout {
		return schema.ErrKindTimeout
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		if netErr.Timeout() {
			return schema.ErrKindTimeout
		}
		return schema.ErrKindNetwork
	}

	msg := strings.ToLower(err.Error())
	switch {
	case containsAny(msg, "element not found", "no element", "no node", "stale element"):
		return schema.ErrKindElementNotFound
	case containsAny(msg, "timeout", "timed out", "deadline exceeded"):
		return schema.ErrKindTimeout
	case containsAny(msg, "navigation", "net::err", "dns", "no such host"):
		return schema.ErrKindNavigation
	case containsAny(msg, "javascript", "script error", "evaluate failed"):
		return schema.ErrKindJavaScript
	case containsAny(msg, "unauthorized", "authentication", "invalid password", "invalid credentials", "login failed", "forbidden"):
		return schema.ErrKindAuthentication
	case containsAny(msg, "connection refused", "connection reset", "broken pipe", "service unavailable", "bad gateway", "i/o timeout", "network"):
		return schema.ErrKindNetwork
	}
	return schema.ErrKindUnknown
}

func containsAny(msg string, patterns ...string) bool {
	for _, p := range patterns {
		if strings.Contains(msg, p) {
			return true
		}
	}
	return false
}

// RecordFromError builds the error record the recovery chain consumes.
// Structured codes ride along in Details so strategy eligibility can
// distinguish syntax, runtime and domain failures.
func RecordFromError(actionID string, err error) *schema.ErrorRecord {
	rec := &schema.ErrorRecord{
		Kind:      Classify(err),
		Message:   err.Error(),
		ActionID:  actionID,
		Timestamp: time.Now(),
	}
	var autoErr *schema.AutomationError
	if errors.As(err, &autoErr) {
		rec.Details = map[string]any{"code": autoErr.Code}
	}
	return rec
}

// errClass buckets records per the propagation policy: syntax failures
// are never recovered, runtime failures only when a strategy explicitly
// targets their code, domain failures are fair game.
type errClass int

const (
	classDomain errClass = iota
	classSyntax
	classRuntime
)

func recordCode(rec *schema.ErrorRecord) string {
	if rec == nil || rec.Details == nil {
		return ""
	}
	code, _ := rec.Details["code"].(string)
	return code
}

func classOf(rec *schema.ErrorRecord) errClass {
	switch recordCode(rec) {
	case schema.ErrCodeExpressionSyntax, schema.ErrCodeValidation, schema.ErrCodeInvalidTransition, schema.ErrCodeCancelled:
		return classSyntax
	case schema.ErrCodeVariableNotFound, schema.ErrCodeTypeMismatch,
		schema.ErrCodeExpressionType, schema.ErrCodeExpressionEval:
		return classRuntime
	}
	return classDomain
}

// eligible applies the shared strategy gate: syntax-class records are
// never eligible, runtime-class records need their code listed
// explicitly, and domain records pass the optional kind filter.
func eligible(rec *schema.ErrorRecord, kinds []schema.ErrorKind, codes []string) bool {
	if rec == nil {
		return false
	}
	switch classOf(rec) {
	case classSyntax:
		return false
	case classRuntime:
		code := recordCode(rec)
		for _, c := range codes {
			if c == code {
				return true
			}
		}
		return false
	}
	if len(kinds) == 0 {
		return true
	}
	for _, k := range kinds {
		if k == rec.Kind {
			return true
		}
	}
	return false
}
