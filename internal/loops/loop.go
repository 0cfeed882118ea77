// Package loops implements the iteration drivers behind loop actions:
// count, for_each and while. A driver owns the cursor and the loop
// variable binding; the loop action owns the body and the local frame.
package loops

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/Phazzie/autoclick/internal/conditions"
	"github.com/Phazzie/autoclick/internal/variables"
	"github.com/Phazzie/autoclick/pkg/schema"
)

// Loop drives one iteration cursor. The expected call pattern is
//
//	Init(ctx, vars)
//	for { ok, _ := HasNext(ctx, vars); if !ok { break }; <body>; Next(ctx, vars) }
//
// so HasNext runs exactly once more than Next.
type Loop interface {
	// Type returns the registry tag for this driver variant.
	Type() string
	// Init seeds the cursor and binds the loop variable in local scope.
	Init(ctx context.Context, vars *variables.Store) error
	// HasNext reports whether another iteration should run.
	HasNext(ctx context.Context, vars *variables.Store) (bool, error)
	// Next advances the cursor and rebinds the loop variable.
	Next(ctx context.Context, vars *variables.Store) error
	// Spec re-serializes the driver for round-tripping.
	Spec() schema.LoopSpec
}

// Deps carries the capabilities loop drivers resolve against. Cond is
// shared with the condition registry so while-conditions see the same
// session and engines.
type Deps struct {
	Cond     conditions.Deps
	Registry *conditions.Registry
}

// Builder constructs a loop driver from its decoded params.
type Builder func(params json.RawMessage, deps Deps) (Loop, error)

// Registry maps loop type tags to builders.
type Registry struct {
	mu       sync.RWMutex
	builders map[string]Builder
}

// NewRegistry creates an empty loop registry.
func NewRegistry() *Registry {
	return &Registry{builders: make(map[string]Builder)}
}

// Register adds a builder. Duplicate tags are a CONFLICT.
func (r *Registry) Register(typeTag string, b Builder) error {
	if typeTag == "" {
		return schema.NewError(schema.ErrCodeValidation, "loop type tag is empty")
	}
	if b == nil {
		return schema.NewError(schema.ErrCodeValidation, "loop builder is nil")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.builders[typeTag]; exists {
		return schema.NewErrorf(schema.ErrCodeConflict, "loop type %q already registered", typeTag)
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

// Build constructs the driver a spec describes.
func (r *Registry) Build(spec schema.LoopSpec, deps Deps) (Loop, error) {
	r.mu.RLock()
	b, ok := r.builders[spec.Type]
	r.mu.RUnlock()
	if !ok {
		return nil, schema.NewErrorf(schema.ErrCodeValidation, "unknown loop type %q", spec.Type)
	}
	return b(spec.Params, deps)
}

// DefaultRegistry returns a registry with all built-in loop drivers.
func DefaultRegistry() *Registry {
	r := NewRegistry()
	for tag, b := range map[string]Builder{
		schema.LoopCount:   buildCount,
		schema.LoopForEach: buildForEach,
		schema.LoopWhile:   buildWhile,
	} {
		_ = r.Register(tag, b)
	}
	return r
}

func decodeParams(params json.RawMessage, dst any, typeTag string) error {
	if len(params) == 0 {
		return schema.NewErrorf(schema.ErrCodeValidation, "loop %q requires params", typeTag)
	}
	if err := json.Unmarshal(params, dst); err != nil {
		return schema.NewErrorf(schema.ErrCodeValidation, "loop %q params: %s", typeTag, err.Error()).WithCause(err)
	}
	return nil
}

func marshalSpec(typeTag string, params any) schema.LoopSpec {
	raw, _ := json.Marshal(params)
	return schema.LoopSpec{Type: typeTag, Params: raw}
}
