package variables

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// --- Value Tests ---

func TestNew_Normalization(t *testing.T) {
	tests := []struct {
		name string
		in   any
		kind Kind
		raw  any
	}{
		{"nil", nil, KindNull, nil},
		{"string", "hello", KindString, "hello"},
		{"bool", true, KindBool, true},
		{"int", 42, KindNumber, float64(42)},
		{"int64", int64(7), KindNumber, float64(7)},
		{"float", 3.5, KindNumber, 3.5},
		{"list", []any{1, "a"}, KindList, []any{float64(1), "a"}},
		{"string slice", []string{"a", "b"}, KindList, []any{"a", "b"}},
		{"map", map[string]any{"n": 1}, KindMap, map[string]any{"n": float64(1)}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v := New(tt.in)
			assert.Equal(t, tt.kind, v.Kind())
			assert.Equal(t, tt.raw, v.Raw())
		})
	}
}

func TestValue_AsString(t *testing.T) {
	assert.Equal(t, "42", New(42).AsString())
	assert.Equal(t, "3.5", New(3.5).AsString())
	assert.Equal(t, "true", New(true).AsString())
	assert.Equal(t, "", New(nil).AsString())
	assert.Equal(t, `["a","b"]`, New([]any{"a", "b"}).AsString())
}

func TestValue_AsNumber(t *testing.T) {
	f, err := New("12.5").AsNumber()
	require.NoError(t, err)
	assert.Equal(t, 12.5, f)

	f, err = New(3).AsNumber()
	require.NoError(t, err)
	assert.Equal(t, 3.0, f)

	_, err = New("twelve").AsNumber()
	assert.Error(t, err)

	_, err = New(true).AsNumber()
	assert.Error(t, err)
}

func TestValue_AsBool(t *testing.T) {
	b, err := New("true").AsBool()
	require.NoError(t, err)
	assert.True(t, b)

	b, err = New(false).AsBool()
	require.NoError(t, err)
	assert.False(t, b)

	_, err = New("yes").AsBool()
	assert.Error(t, err)

	_, err = New(1).AsBool()
	assert.Error(t, err)
}

func TestValue_AsListAsMap(t *testing.T) {
	l, err := New([]any{"x"}).AsList()
	require.NoError(t, err)
	assert.Equal(t, []any{"x"}, l)

	_, err = New("x").AsList()
	assert.Error(t, err)

	m, err := New(map[string]any{"k": "v"}).AsMap()
	require.NoError(t, err)
	assert.Equal(t, "v", m["k"])

	_, err = New(1).AsMap()
	assert.Error(t, err)
}

// --- Comparison Tests ---

func TestEqual_NumericWhenBothCoercible(t *testing.T) {
	assert.True(t, Equal(New("5"), New(5)))
	assert.True(t, Equal(New(5.0), New(5)))
	assert.False(t, Equal(New("5"), New(6)))
}

func TestEqual_LexicalFallback(t *testing.T) {
	assert.True(t, Equal(New("abc"), New("abc")))
	assert.False(t, Equal(New("abc"), New("abd")))
	// "5" vs "5a" cannot both coerce, so display forms are compared.
	assert.False(t, Equal(New("5"), New("5a")))
}

func TestEqual_Booleans(t *testing.T) {
	assert.True(t, Equal(New(true), New("true")))
	assert.False(t, Equal(New(true), New("false")))
}

func TestCompare_Ordering(t *testing.T) {
	assert.Equal(t, -1, Compare(New(2), New("10")))
	assert.Equal(t, 1, Compare(New("10"), New(2)))
	assert.Equal(t, 0, Compare(New("2"), New(2)))
	// Lexical: "10" < "9" as strings.
	assert.Equal(t, -1, Compare(New("10x"), New("9x")))
}
