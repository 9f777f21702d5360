package ir

import (
	"slices"
	"unicode/utf16"
)

// Value is a sealed interface over the value types that may appear in
// events, query descriptors and serialisable application state.
// Only Null, String, Int, Bool, Keyword, Vector and Map implement it.
// There is no float type: canonical encodings must be deterministic.
type Value interface {
	value()
}

// Null is the explicit nil value.
type Null struct{}

func (Null) value() {}

// String is a string value.
type String string

func (String) value() {}

// Int is an integer value. Always int64.
type Int int64

func (Int) value() {}

// Bool is a boolean value.
type Bool bool

func (Bool) value() {}

// Keyword is a symbolic identifier. Event ids, effect kinds and query ids
// are keywords. Keywords and strings never compare equal.
type Keyword string

func (Keyword) value() {}

// String returns the keyword in its ":name" form.
func (k Keyword) String() string {
	return ":" + string(k)
}

// Vector is an ordered sequence of values.
type Vector []Value

func (Vector) value() {}

// Map is a string-keyed map of values. Use SortedKeys for deterministic
// iteration.
type Map map[string]Value

func (Map) value() {}

// K creates a Keyword.
func K(name string) Keyword {
	return Keyword(name)
}

// V creates a Vector from values.
func V(vals ...Value) Vector {
	return Vector(vals)
}

// Ev builds an event vector: the keyword id followed by its arguments.
//
//	ev := ir.Ev("add-todo", ir.String("milk"))
func Ev(id string, args ...Value) Vector {
	v := make(Vector, 0, len(args)+1)
	v = append(v, Keyword(id))
	return append(v, args...)
}

// Pair is a key/value pair for typed Map construction.
type Pair struct {
	Key   string
	Value Value
}

// P is shorthand for Pair.
func P(key string, value Value) Pair {
	return Pair{Key: key, Value: value}
}

// M creates a Map from pairs.
func M(pairs ...Pair) Map {
	m := make(Map, len(pairs))
	for _, p := range pairs {
		m[p.Key] = p.Value
	}
	return m
}

// Assoc returns a copy of the map with key set to val. The receiver is not
// modified, so older snapshots stay valid.
func (m Map) Assoc(key string, val Value) Map {
	out := make(Map, len(m)+1)
	for k, v := range m {
		out[k] = v
	}
	out[key] = val
	return out
}

// Dissoc returns a copy of the map without key.
func (m Map) Dissoc(key string) Map {
	out := make(Map, len(m))
	for k, v := range m {
		if k != key {
			out[k] = v
		}
	}
	return out
}

// GetIn walks nested maps along path. The second result is false if any
// step is missing or not a Map.
func (m Map) GetIn(path ...string) (Value, bool) {
	var cur Value = m
	for _, k := range path {
		mm, ok := cur.(Map)
		if !ok {
			return nil, false
		}
		cur, ok = mm[k]
		if !ok {
			return nil, false
		}
	}
	return cur, true
}

// AssocIn returns a copy of m with the value at path replaced, creating
// intermediate maps as needed. An empty path returns val if it is a Map.
func (m Map) AssocIn(path []string, val Value) Map {
	if len(path) == 0 {
		if mm, ok := val.(Map); ok {
			return mm
		}
		return m
	}
	if len(path) == 1 {
		return m.Assoc(path[0], val)
	}
	child, _ := m[path[0]].(Map)
	if child == nil {
		child = Map{}
	}
	return m.Assoc(path[0], child.AssocIn(path[1:], val))
}

// Conj returns a new vector with vals appended.
func (v Vector) Conj(vals ...Value) Vector {
	out := make(Vector, 0, len(v)+len(vals))
	out = append(out, v...)
	return append(out, vals...)
}

// SortedKeys returns keys in canonical order (UTF-16 code units), which
// differs from Go's UTF-8 byte order for some inputs.
func (m Map) SortedKeys() []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	slices.SortFunc(keys, compareKeysUTF16)
	return keys
}

func compareKeysUTF16(a, b string) int {
	a16 := utf16.Encode([]rune(a))
	b16 := utf16.Encode([]rune(b))

	for i := 0; i < min(len(a16), len(b16)); i++ {
		if a16[i] != b16[i] {
			if a16[i] < b16[i] {
				return -1
			}
			return 1
		}
	}
	switch {
	case len(a16) < len(b16):
		return -1
	case len(a16) > len(b16):
		return 1
	}
	return 0
}

// Equal reports whether two values are structurally equal.
func Equal(a, b Value) bool {
	switch av := a.(type) {
	case nil:
		return b == nil
	case Null:
		_, ok := b.(Null)
		return ok
	case Vector:
		bv, ok := b.(Vector)
		if !ok || len(av) != len(bv) {
			return false
		}
		for i := range av {
			if !Equal(av[i], bv[i]) {
				return false
			}
		}
		return true
	case Map:
		bm, ok := b.(Map)
		if !ok || len(av) != len(bm) {
			return false
		}
		for k, v := range av {
			other, ok := bm[k]
			if !ok || !Equal(v, other) {
				return false
			}
		}
		return true
	default:
		return a == b
	}
}
