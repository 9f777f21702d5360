package ir

import (
	"fmt"
	"math"
	"sort"
)

// FromNative converts decoded YAML/JSON data or plain Go values into a
// Value. Strings of the form ":name" become keywords; a leading '~' escapes
// a literal string. Whole floats are accepted as Int, fractional ones are
// rejected.
func FromNative(v any) (Value, error) {
	switch val := v.(type) {
	case nil:
		return Null{}, nil
	case Value:
		return val, nil
	case string:
		return decodeString(val), nil
	case bool:
		return Bool(val), nil
	case int:
		return Int(val), nil
	case int32:
		return Int(val), nil
	case int64:
		return Int(val), nil
	case uint:
		return Int(val), nil
	case uint64:
		if val > math.MaxInt64 {
			return nil, fmt.Errorf("integer out of range: %d", val)
		}
		return Int(val), nil
	case float64:
		if val != math.Trunc(val) || math.IsInf(val, 0) {
			return nil, fmt.Errorf("floats are not allowed: %v", val)
		}
		return Int(int64(val)), nil
	case []any:
		vec := make(Vector, len(val))
		for i, elem := range val {
			iv, err := FromNative(elem)
			if err != nil {
				return nil, fmt.Errorf("[%d]: %w", i, err)
			}
			vec[i] = iv
		}
		return vec, nil
	case []string:
		vec := make(Vector, len(val))
		for i, s := range val {
			vec[i] = decodeString(s)
		}
		return vec, nil
	case map[string]any:
		m := make(Map, len(val))
		for k, elem := range val {
			iv, err := FromNative(elem)
			if err != nil {
				return nil, fmt.Errorf("[%q]: %w", k, err)
			}
			m[k] = iv
		}
		return m, nil
	case map[any]any:
		m := make(Map, len(val))
		for k, elem := range val {
			ks, ok := k.(string)
			if !ok {
				return nil, fmt.Errorf("map key %v: keys must be strings", k)
			}
			iv, err := FromNative(elem)
			if err != nil {
				return nil, fmt.Errorf("[%q]: %w", ks, err)
			}
			m[ks] = iv
		}
		return m, nil
	default:
		return nil, fmt.Errorf("unsupported type: %T", v)
	}
}

// MustFromNative is like FromNative but panics on error.
// Use only in tests or when inputs are known to be valid.
func MustFromNative(v any) Value {
	val, err := FromNative(v)
	if err != nil {
		panic(err)
	}
	return val
}

// ToNative converts a Value into plain Go data suitable for YAML or JSON
// output. It is the inverse of FromNative.
func ToNative(v Value) any {
	switch val := v.(type) {
	case nil, Null:
		return nil
	case String:
		return escapeString(string(val))
	case Keyword:
		return val.String()
	case Int:
		return int64(val)
	case Bool:
		return bool(val)
	case Vector:
		out := make([]any, len(val))
		for i, elem := range val {
			out[i] = ToNative(elem)
		}
		return out
	case Map:
		out := make(map[string]any, len(val))
		for k, elem := range val {
			out[k] = ToNative(elem)
		}
		return out
	default:
		return nil
	}
}

// Format renders a value in a compact, human readable form for logs:
// keywords as :name, strings quoted, maps with sorted keys.
func Format(v Value) string {
	switch val := v.(type) {
	case nil, Null:
		return "nil"
	case String:
		return fmt.Sprintf("%q", string(val))
	case Keyword:
		return val.String()
	case Int:
		return fmt.Sprintf("%d", int64(val))
	case Bool:
		return fmt.Sprintf("%t", bool(val))
	case Vector:
		s := "["
		for i, elem := range val {
			if i > 0 {
				s += " "
			}
			s += Format(elem)
		}
		return s + "]"
	case Map:
		keys := make([]string, 0, len(val))
		for k := range val {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		s := "{"
		for i, k := range keys {
			if i > 0 {
				s += ", "
			}
			s += fmt.Sprintf("%q %s", k, Format(val[k]))
		}
		return s + "}"
	default:
		return fmt.Sprintf("%v", v)
	}
}
