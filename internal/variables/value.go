package variables

import (
	"encoding/json"
	"fmt"
	"sort"

	"github.com/spf13/cast"
)

// Kind enumerates the value types a variable can hold.
type Kind string

const (
	KindString Kind = "string"
	KindNumber Kind = "number"
	KindBool   Kind = "boolean"
	KindList   Kind = "list"
	KindMap    Kind = "map"
	KindNull   Kind = "null"
)

// Value is a typed variable value. Numbers are normalized to float64,
// lists to []any and maps to map[string]any, so values round-trip
// through JSON without changing kind.
type Value struct {
	kind Kind
	raw  any
}

// New normalizes an arbitrary Go value into a Value.
func New(v any) Value {
	switch t := v.(type) {
	case nil:
		return Value{kind: KindNull}
	case Value:
		return t
	case string:
		return Value{kind: KindString, raw: t}
	case bool:
		return Value{kind: KindBool, raw: t}
	case float64:
		return Value{kind: KindNumber, raw: t}
	case float32:
		return Value{kind: KindNumber, raw: float64(t)}
	case int:
		return Value{kind: KindNumber, raw: float64(t)}
	case int32:
		return Value{kind: KindNumber, raw: float64(t)}
	case int64:
		return Value{kind: KindNumber, raw: float64(t)}
	case uint:
		return Value{kind: KindNumber, raw: float64(t)}
	case uint64:
		return Value{kind: KindNumber, raw: float64(t)}
	case json.Number:
		f, err := t.Float64()
		if err != nil {
			return Value{kind: KindString, raw: t.String()}
		}
		return Value{kind: KindNumber, raw: f}
	case []any:
		cp := make([]any, len(t))
		for i, e := range t {
			cp[i] = New(e).Raw()
		}
		return Value{kind: KindList, raw: cp}
	case []string:
		cp := make([]any, len(t))
		for i, e := range t {
			cp[i] = e
		}
		return Value{kind: KindList, raw: cp}
	case map[string]any:
		cp := make(map[string]any, len(t))
		for k, e := range t {
			cp[k] = New(e).Raw()
		}
		return Value{kind: KindMap, raw: cp}
	default:
		return Value{kind: KindString, raw: cast.ToString(t)}
	}
}

// Kind returns the value's type tag.
func (v Value) Kind() Kind {
	if v.kind == "" {
		return KindNull
	}
	return v.kind
}

// Raw returns the normalized underlying value (float64, string, bool,
// []any, map[string]any or nil).
func (v Value) Raw() any {
	return v.raw
}

// IsNull reports whether the value is absent or JSON null.
func (v Value) IsNull() bool {
	return v.Kind() == KindNull
}

// AsString renders the value in its display form. Lists and maps render
// as compact JSON.
func (v Value) AsString() string {
	switch v.Kind() {
	case KindNull:
		return ""
	case KindString:
		return v.raw.(string)
	case KindNumber:
		f := v.raw.(float64)
		if f == float64(int64(f)) {
			return fmt.Sprintf("%d", int64(f))
		}
		return cast.ToString(f)
	case KindBool:
		if v.raw.(bool) {
			return "true"
		}
		return "false"
	default:
		b, err := json.Marshal(v.raw)
		if err != nil {
			return fmt.Sprintf("%v", v.raw)
		}
		return string(b)
	}
}

// AsNumber coerces the value to a float64. Numbers pass through and
// numeric strings parse; everything else is an error.
func (v Value) AsNumber() (float64, error) {
	switch v.Kind() {
	case KindNumber:
		return v.raw.(float64), nil
	case KindString:
		f, err := cast.ToFloat64E(v.raw)
		if err != nil {
			return 0, fmt.Errorf("value %q is not numeric", v.raw)
		}
		return f, nil
	default:
		return 0, fmt.Errorf("value of kind %s is not numeric", v.Kind())
	}
}

// AsBool coerces the value to a bool. Booleans pass through and the
// strings "true"/"false" parse; everything else is an error.
func (v Value) AsBool() (bool, error) {
	switch v.Kind() {
	case KindBool:
		return v.raw.(bool), nil
	case KindString:
		switch v.raw.(string) {
		case "true", "True", "TRUE":
			return true, nil
		case "false", "False", "FALSE":
			return false, nil
		}
		return false, fmt.Errorf("value %q is not boolean", v.raw)
	default:
		return false, fmt.Errorf("value of kind %s is not boolean", v.Kind())
	}
}

// AsList returns the value as a slice. Non-list values are an error.
func (v Value) AsList() ([]any, error) {
	if v.Kind() != KindList {
		return nil, fmt.Errorf("value of kind %s is not a list", v.Kind())
	}
	return v.raw.([]any), nil
}

// AsMap returns the value as a string-keyed map. Non-map values are an error.
func (v Value) AsMap() (map[string]any, error) {
	if v.Kind() != KindMap {
		return nil, fmt.Errorf("value of kind %s is not a map", v.Kind())
	}
	return v.raw.(map[string]any), nil
}

// Equal compares two values loosely: if both coerce to numbers the
// comparison is numeric, otherwise the display forms are compared.
func Equal(a, b Value) bool {
	if af, err := a.AsNumber(); err == nil {
		if bf, err := b.AsNumber(); err == nil {
			return af == bf
		}
	}
	if a.Kind() == KindBool || b.Kind() == KindBool {
		ab, aerr := a.AsBool()
		bb, berr := b.AsBool()
		if aerr == nil && berr == nil {
			return ab == bb
		}
	}
	return a.AsString() == b.AsString()
}

// Compare orders two values: numeric when both coerce to numbers,
// lexical on display forms otherwise. Returns -1, 0 or 1.
func Compare(a, b Value) int {
	if af, err := a.AsNumber(); err == nil {
		if bf, err := b.AsNumber(); err == nil {
			switch {
			case af < bf:
				return -1
			case af > bf:
				return 1
			default:
				return 0
			}
		}
	}
	as, bs := a.AsString(), b.AsString()
	switch {
	case as < bs:
		return -1
	case as > bs:
		return 1
	default:
		return 0
	}
}

// sortedKeys returns map keys in stable order, for deterministic output.
func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
