package variables

import (
	"sync"

	"github.com/Phazzie/autoclick/pkg/schema"
)

// Scope identifies where a variable lives. Resolution walks local
// frames innermost-first, then workflow, then global.
type Scope string

const (
	ScopeGlobal   Scope = "global"
	ScopeWorkflow Scope = "workflow"
	ScopeLocal    Scope = "local"
)

// Store holds the variables of a single run. Workflow scope is the
// default working set, global scope survives ClearWorkflow, and local
// scope is a stack of frames pushed around loop and branch bodies.
//
// A Store is safe for concurrent use; writers are serialized.
type Store struct {
	mu       sync.RWMutex
	global   map[string]any
	workflow map[string]any
	local    []map[string]any // frame stack, index 0 is the base frame
}

// NewStore creates an empty store with a single base local frame.
func NewStore() *Store {
	return &Store{
		global:   make(map[string]any),
		workflow: make(map[string]any),
		local:    []map[string]any{make(map[string]any)},
	}
}

// NewStoreWithGlobals creates a store seeded with global-scope values.
func NewStoreWithGlobals(globals map[string]any) *Store {
	s := NewStore()
	for k, v := range globals {
		s.global[k] = New(v).Raw()
	}
	return s
}

// Get resolves a variable by precedence: innermost local frame first,
// then outer frames, then workflow, then global. A miss is a
// VARIABLE_NOT_FOUND error.
func (s *Store) Get(name string) (Value, error) {
	v, ok := s.Lookup(name)
	if !ok {
		return Value{}, schema.NewErrorf(schema.ErrCodeVariableNotFound, "variable %q is not defined", name)
	}
	return v, nil
}

// Lookup resolves a variable without producing an error on a miss.
func (s *Store) Lookup(name string) (Value, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for i := len(s.local) - 1; i >= 0; i-- {
		if raw, ok := s.local[i][name]; ok {
			return New(raw), true
		}
	}
	if raw, ok := s.workflow[name]; ok {
		return New(raw), true
	}
	if raw, ok := s.global[name]; ok {
		return New(raw), true
	}
	return Value{}, false
}

// Set stores a value in workflow scope.
func (s *Store) Set(name string, value any) {
	s.SetIn(ScopeWorkflow, name, value)
}

// SetIn stores a value in an explicit scope. Local writes target the
// innermost frame.
func (s *Store) SetIn(scope Scope, name string, value any) {
	s.mu.Lock()
	defer s.mu.Unlock()

	raw := New(value).Raw()
	switch scope {
	case ScopeGlobal:
		s.global[name] = raw
	case ScopeLocal:
		s.local[len(s.local)-1][name] = raw
	default:
		s.workflow[name] = raw
	}
}

// Delete removes a variable from the given scope. Local deletes target
// the innermost frame only.
func (s *Store) Delete(scope Scope, name string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch scope {
	case ScopeGlobal:
		delete(s.global, name)
	case ScopeLocal:
		delete(s.local[len(s.local)-1], name)
	default:
		delete(s.workflow, name)
	}
}

// PushFrame opens a new local frame. Loop and branch bodies push on
// entry and pop on exit so their locals never leak outward.
func (s *Store) PushFrame() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.local = append(s.local, make(map[string]any))
}

// PopFrame discards the innermost local frame. The base frame is never
// popped.
func (s *Store) PopFrame() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.local) > 1 {
		s.local = s.local[:len(s.local)-1]
	}
}

// FrameDepth reports how many local frames are open, including the base.
func (s *Store) FrameDepth() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.local)
}

// ClearScope empties one scope. Clearing local resets the stack to a
// single empty base frame.
func (s *Store) ClearScope(scope Scope) {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch scope {
	case ScopeGlobal:
		s.global = make(map[string]any)
	case ScopeLocal:
		s.local = []map[string]any{make(map[string]any)}
	default:
		s.workflow = make(map[string]any)
	}
}

// ClearAll empties every scope.
func (s *Store) ClearAll() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.global = make(map[string]any)
	s.workflow = make(map[string]any)
	s.local = []map[string]any{make(map[string]any)}
}

// Snapshot is the serializable image of a store, captured for
// checkpoints and restored on rewind.
type Snapshot struct {
	Global   map[string]any   `json:"global,omitempty"`
	Workflow map[string]any   `json:"workflow,omitempty"`
	Local    []map[string]any `json:"local,omitempty"`
}

// Snapshot deep-copies the current state of all scopes.
func (s *Store) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()

	frames := make([]map[string]any, len(s.local))
	for i, f := range s.local {
		frames[i] = deepCopyMap(f)
	}
	return Snapshot{
		Global:   deepCopyMap(s.global),
		Workflow: deepCopyMap(s.workflow),
		Local:    frames,
	}
}

// Restore replaces all scopes with a previously captured snapshot.
func (s *Store) Restore(snap Snapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.global = deepCopyMap(snap.Global)
	s.workflow = deepCopyMap(snap.Workflow)
	if len(snap.Local) == 0 {
		s.local = []map[string]any{make(map[string]any)}
		return
	}
	frames := make([]map[string]any, len(snap.Local))
	for i, f := range snap.Local {
		frames[i] = deepCopyMap(f)
	}
	s.local = frames
}

// Clone deep-copies the store for an isolated child run.
func (s *Store) Clone() *Store {
	snap := s.Snapshot()
	clone := NewStore()
	clone.Restore(snap)
	return clone
}

// Flatten merges all scopes into one map by precedence, for handing to
// expression engines as evaluation data.
func (s *Store) Flatten() map[string]any {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make(map[string]any, len(s.global)+len(s.workflow))
	for k, v := range s.global {
		out[k] = deepCopyAny(v)
	}
	for k, v := range s.workflow {
		out[k] = deepCopyAny(v)
	}
	for _, frame := range s.local {
		for k, v := range frame {
			out[k] = deepCopyAny(v)
		}
	}
	return out
}

// Names lists all visible variable names in stable order.
func (s *Store) Names() []string {
	return sortedKeys(s.Flatten())
}

func deepCopyMap(src map[string]any) map[string]any {
	dst := make(map[string]any, len(src))
	for k, v := range src {
		dst[k] = deepCopyAny(v)
	}
	return dst
}

func deepCopyAny(v any) any {
	switch t := v.(type) {
	case map[string]any:
		return deepCopyMap(t)
	case []any:
		cp := make([]any, len(t))
		for i, e := range t {
			cp[i] = deepCopyAny(e)
		}
		return cp
	default:
		return v
	}
}
