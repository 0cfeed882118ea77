// Package conditions evaluates the boolean tests that gate branches,
// switch cases and while loops. Evaluation never panics past the
// boundary: a condition returns its verdict or a structured error.
package conditions

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/Phazzie/autoclick/internal/expressions"
	"github.com/Phazzie/autoclick/internal/page"
	"github.com/Phazzie/autoclick/internal/variables"
	"github.com/Phazzie/autoclick/pkg/schema"
)

// Condition is one boolean test against the run's variables and page.
type Condition interface {
	// Type returns the registry tag for this condition variant.
	Type() string
	// Evaluate returns the verdict. Errors carry structured codes
	// (TYPE_MISMATCH for operand shape problems) and never panic.
	Evaluate(ctx context.Context, vars *variables.Store) (bool, error)
	// Spec re-serializes the condition for round-tripping.
	Spec() schema.ConditionSpec
}

// Deps carries the capabilities conditions evaluate against.
type Deps struct {
	Session page.Session
	Interp  *expressions.Interpolator
	Engines map[string]expressions.Engine
	// Registry builds nested conditions (composites). Build fills it in.
	Registry *Registry
}

// Builder constructs a condition variant from its decoded params.
type Builder func(params json.RawMessage, deps Deps) (Condition, error)

// Registry maps condition type tags to builders.
type Registry struct {
	mu       sync.RWMutex
	builders map[string]Builder
}

// NewRegistry creates an empty condition registry.
func NewRegistry() *Registry {
	return &Registry{builders: make(map[string]Builder)}
}

// Register adds a builder. Duplicate tags are a CONFLICT.
func (r *Registry) Register(typeTag string, b Builder) error {
	if typeTag == "" {
		return schema.NewError(schema.ErrCodeValidation, "condition type tag is empty")
	}
	if b == nil {
		return schema.NewError(schema.ErrCodeValidation, "condition builder is nil")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.builders[typeTag]; exists {
		return schema.NewErrorf(schema.ErrCodeConflict, "condition type %q already registered", typeTag)
	}
	r.builders[typeTag] = b
	return nil
}

// Has reports whether a type tag is registered.
func (r *Registry) Has(typeTag string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.builders[typeTag]
	return ok
}

// Build constructs the condition a spec describes.
func (r *Registry) Build(spec schema.ConditionSpec, deps Deps) (Condition, error) {
	r.mu.RLock()
	b, ok := r.builders[spec.Type]
	r.mu.RUnlock()
	if !ok {
		return nil, schema.NewErrorf(schema.ErrCodeValidation, "unknown condition type %q", spec.Type)
	}
	if deps.Registry == nil {
		deps.Registry = r
	}
	return b(spec.Params, deps)
}

// DefaultRegistry returns a registry with all built-in condition variants.
func DefaultRegistry() *Registry {
	r := NewRegistry()
	for tag, b := range map[string]Builder{
		schema.ConditionElementExists: buildElementExists,
		schema.ConditionTextContains:  buildTextContains,
		schema.ConditionComparison:    buildComparison,
		schema.ConditionComposite:     buildComposite,
		schema.ConditionExpression:    buildExpression,
		schema.ConditionScript:        buildScript,
	} {
		// Tags are unique at compile time, Register cannot fail here.
		_ = r.Register(tag, b)
	}
	return r
}

func decodeParams(params json.RawMessage, dst any, typeTag string) error {
	if len(params) == 0 {
		return schema.NewErrorf(schema.ErrCodeValidation, "condition %q requires params", typeTag)
	}
	if err := json.Unmarshal(params, dst); err != nil {
		return schema.NewErrorf(schema.ErrCodeValidation, "condition %q params: %s", typeTag, err.Error()).WithCause(err)
	}
	return nil
}

func marshalSpec(typeTag string, params any) schema.ConditionSpec {
	raw, _ := json.Marshal(params)
	return schema.ConditionSpec{Type: typeTag, Params: raw}
}
