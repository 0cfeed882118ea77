package variables

import (
	"errors"
	"testing"

	"github.com/Phazzie/autoclick/pkg/schema"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// --- Resolution Tests ---

func TestStore_Precedence(t *testing.T) {
	s := NewStore()
	s.SetIn(ScopeGlobal, "name", "global")
	s.SetIn(ScopeWorkflow, "name", "workflow")

	v, err := s.Get("name")
	require.NoError(t, err)
	assert.Equal(t, "workflow", v.AsString(), "workflow shadows global")

	s.SetIn(ScopeLocal, "name", "local")
	v, err = s.Get("name")
	require.NoError(t, err)
	assert.Equal(t, "local", v.AsString(), "local shadows workflow")
}

func TestStore_InnermostFrameWins(t *testing.T) {
	s := NewStore()
	s.SetIn(ScopeLocal, "i", 1)
	s.PushFrame()
	s.SetIn(ScopeLocal, "i", 2)

	v, err := s.Get("i")
	require.NoError(t, err)
	f, _ := v.AsNumber()
	assert.Equal(t, 2.0, f)

	s.PopFrame()
	v, err = s.Get("i")
	require.NoError(t, err)
	f, _ = v.AsNumber()
	assert.Equal(t, 1.0, f)
}

func TestStore_MissingVariable(t *testing.T) {
	s := NewStore()
	_, err := s.Get("ghost")
	require.Error(t, err)

	var autoErr *schema.AutomationError
	require.True(t, errors.As(err, &autoErr))
	assert.Equal(t, schema.ErrCodeVariableNotFound, autoErr.Code)

	_, ok := s.Lookup("ghost")
	assert.False(t, ok)
}

func TestStore_DefaultScopeIsWorkflow(t *testing.T) {
	s := NewStore()
	s.Set("x", 10)
	s.ClearScope(ScopeLocal)

	v, err := s.Get("x")
	require.NoError(t, err)
	f, _ := v.AsNumber()
	assert.Equal(t, 10.0, f)

	s.ClearScope(ScopeWorkflow)
	_, err = s.Get("x")
	assert.Error(t, err)
}

// --- Frame Tests ---

func TestStore_FrameLocalsDoNotLeak(t *testing.T) {
	s := NewStore()
	s.PushFrame()
	s.SetIn(ScopeLocal, "item", "apple")
	s.PopFrame()

	_, ok := s.Lookup("item")
	assert.False(t, ok, "frame locals must vanish with the frame")
}

func TestStore_BaseFrameNeverPopped(t *testing.T) {
	s := NewStore()
	s.PopFrame()
	s.PopFrame()
	assert.Equal(t, 1, s.FrameDepth())

	// Base frame still usable after pop attempts.
	s.SetIn(ScopeLocal, "x", 1)
	_, ok := s.Lookup("x")
	assert.True(t, ok)
}

func TestStore_Delete(t *testing.T) {
	s := NewStore()
	s.Set("a", 1)
	s.SetIn(ScopeGlobal, "b", 2)

	s.Delete(ScopeWorkflow, "a")
	_, ok := s.Lookup("a")
	assert.False(t, ok)

	s.Delete(ScopeGlobal, "b")
	_, ok = s.Lookup("b")
	assert.False(t, ok)
}

// --- Snapshot Tests ---

func TestStore_SnapshotRestore(t *testing.T) {
	s := NewStore()
	s.SetIn(ScopeGlobal, "env", "prod")
	s.Set("count", 3)
	s.PushFrame()
	s.SetIn(ScopeLocal, "item", "pear")

	snap := s.Snapshot()

	s.Set("count", 99)
	s.SetIn(ScopeLocal, "item", "plum")
	s.SetIn(ScopeGlobal, "env", "dev")

	s.Restore(snap)

	v, _ := s.Get("count")
	f, _ := v.AsNumber()
	assert.Equal(t, 3.0, f)
	v, _ = s.Get("item")
	assert.Equal(t, "pear", v.AsString())
	v, _ = s.Get("env")
	assert.Equal(t, "prod", v.AsString())
	assert.Equal(t, 2, s.FrameDepth())
}

func TestStore_SnapshotIsDeepCopy(t *testing.T) {
	s := NewStore()
	s.Set("cfg", map[string]any{"retries": 3})

	snap := s.Snapshot()
	snap.Workflow["cfg"].(map[string]any)["retries"] = 100

	v, _ := s.Get("cfg")
	m, _ := v.AsMap()
	assert.Equal(t, 3.0, m["retries"], "mutating the snapshot must not touch the store")
}

func TestStore_CloneIsolation(t *testing.T) {
	s := NewStore()
	s.Set("shared", "original")

	clone := s.Clone()
	clone.Set("shared", "changed")
	clone.Set("extra", true)

	v, _ := s.Get("shared")
	assert.Equal(t, "original", v.AsString())
	_, ok := s.Lookup("extra")
	assert.False(t, ok)
}

// --- Flatten Tests ---

func TestStore_Flatten(t *testing.T) {
	s := NewStoreWithGlobals(map[string]any{"env": "prod", "region": "eu"})
	s.Set("env", "staging")
	s.PushFrame()
	s.SetIn(ScopeLocal, "item", 1)

	flat := s.Flatten()
	assert.Equal(t, "staging", flat["env"], "flatten honors precedence")
	assert.Equal(t, "eu", flat["region"])
	assert.Equal(t, float64(1), flat["item"])
}

func TestStore_Names(t *testing.T) {
	s := NewStore()
	s.Set("b", 1)
	s.Set("a", 2)
	s.SetIn(ScopeGlobal, "c", 3)

	assert.Equal(t, []string{"a", "b", "c"}, s.Names())
}

func TestStore_ClearAll(t *testing.T) {
	s := NewStoreWithGlobals(map[string]any{"g": 1})
	s.Set("w", 2)
	s.SetIn(ScopeLocal, "l", 3)

	s.ClearAll()
	assert.Empty(t, s.Names())
	assert.Equal(t, 1, s.FrameDepth())
}
