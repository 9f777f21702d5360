package ir

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"golang.org/x/text/unicode/norm"
)

// Keywords are encoded as JSON strings with a leading ':'. Strings that
// would be mistaken for a keyword (or that start with the escape rune) are
// prefixed with '~'. This keeps encodings readable and unambiguous.
const (
	keywordPrefix = ':'
	escapePrefix  = '~'
)

// MarshalCanonical produces the canonical JSON encoding of a value, used for
// journal snapshots and event hashes. Query identity uses Key, which does not
// normalise strings.
//
// Differences from encoding/json:
//   - map keys sorted by UTF-16 code units
//   - no HTML escaping, U+2028/U+2029 emitted literally
//   - strings NFC normalised
//   - keywords encoded as ":name"
func MarshalCanonical(v Value) ([]byte, error) {
	var buf bytes.Buffer
	if err := writeCanonical(&buf, v); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func writeCanonical(buf *bytes.Buffer, v Value) error {
	switch val := v.(type) {
	case nil, Null:
		buf.WriteString("null")
	case String:
		return writeString(buf, escapeString(string(val)))
	case Keyword:
		if val == "" {
			return fmt.Errorf("empty keyword")
		}
		return writeString(buf, string(keywordPrefix)+string(val))
	case Int:
		buf.WriteString(strconv.FormatInt(int64(val), 10))
	case Bool:
		buf.WriteString(strconv.FormatBool(bool(val)))
	case Vector:
		buf.WriteByte('[')
		for i, elem := range val {
			if i > 0 {
				buf.WriteByte(',')
			}
			if err := writeCanonical(buf, elem); err != nil {
				return fmt.Errorf("[%d]: %w", i, err)
			}
		}
		buf.WriteByte(']')
	case Map:
		buf.WriteByte('{')
		for i, k := range val.SortedKeys() {
			if i > 0 {
				buf.WriteByte(',')
			}
			if err := writeString(buf, k); err != nil {
				return fmt.Errorf("key %q: %w", k, err)
			}
			buf.WriteByte(':')
			if err := writeCanonical(buf, val[k]); err != nil {
				return fmt.Errorf("[%q]: %w", k, err)
			}
		}
		buf.WriteByte('}')
	default:
		return fmt.Errorf("unsupported value type for canonical JSON: %T", v)
	}
	return nil
}

func escapeString(s string) string {
	if s != "" && (s[0] == keywordPrefix || s[0] == escapePrefix) {
		return string(escapePrefix) + s
	}
	return s
}

// writeString writes a JSON string: NFC normalised, no HTML escaping.
func writeString(buf *bytes.Buffer, s string) error {
	var tmp bytes.Buffer
	enc := json.NewEncoder(&tmp)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(norm.NFC.String(s)); err != nil {
		return err
	}
	out := bytes.TrimSuffix(tmp.Bytes(), []byte{'\n'})
	buf.Write(unescapeLineSeparators(out))
	return nil
}

// unescapeLineSeparators turns the \u2028 and \u2029 escapes that
// encoding/json emits back into literal runes. An escape preceded by an odd
// number of backslashes is a literal backslash sequence and is left alone.
func unescapeLineSeparators(data []byte) []byte {
	if !bytes.Contains(data, []byte(`\u202`)) {
		return data
	}
	out := make([]byte, 0, len(data))
	for i := 0; i < len(data); i++ {
		if data[i] == '\\' && i+5 < len(data) &&
			string(data[i+1:i+5]) == "u202" &&
			(data[i+5] == '8' || data[i+5] == '9') {
			slashes := 0
			for j := len(out) - 1; j >= 0 && out[j] == '\\'; j-- {
				slashes++
			}
			if slashes%2 == 0 {
				if data[i+5] == '8' {
					out = append(out, "\u2028"...)
				} else {
					out = append(out, "\u2029"...)
				}
				i += 5
				continue
			}
		}
		out = append(out, data[i])
	}
	return out
}

// UnmarshalCanonical decodes JSON produced by MarshalCanonical. Floats are
// rejected.
func UnmarshalCanonical(data []byte) (Value, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()

	var raw any
	if err := dec.Decode(&raw); err != nil {
		return nil, err
	}
	return fromJSON(raw)
}

func fromJSON(raw any) (Value, error) {
	switch val := raw.(type) {
	case nil:
		return Null{}, nil
	case bool:
		return Bool(val), nil
	case string:
		return decodeString(val), nil
	case json.Number:
		s := string(val)
		if strings.ContainsAny(s, ".eE") {
			return nil, fmt.Errorf("floats are not allowed: %s", s)
		}
		n, err := val.Int64()
		if err != nil {
			return nil, fmt.Errorf("number out of int64 range: %s", s)
		}
		return Int(n), nil
	case []any:
		vec := make(Vector, len(val))
		for i, elem := range val {
			v, err := fromJSON(elem)
			if err != nil {
				return nil, fmt.Errorf("[%d]: %w", i, err)
			}
			vec[i] = v
		}
		return vec, nil
	case map[string]any:
		m := make(Map, len(val))
		for k, elem := range val {
			v, err := fromJSON(elem)
			if err != nil {
				return nil, fmt.Errorf("[%q]: %w", k, err)
			}
			m[k] = v
		}
		return m, nil
	default:
		return nil, fmt.Errorf("unsupported JSON type: %T", raw)
	}
}

func decodeString(s string) Value {
	if s == "" {
		return String(s)
	}
	switch s[0] {
	case keywordPrefix:
		if len(s) > 1 {
			return Keyword(s[1:])
		}
	case escapePrefix:
		return String(s[1:])
	}
	return String(s)
}

// MarshalJSON encodes a Vector canonically.
func (v Vector) MarshalJSON() ([]byte, error) {
	return MarshalCanonical(v)
}

// MarshalJSON encodes a Map canonically.
func (m Map) MarshalJSON() ([]byte, error) {
	return MarshalCanonical(m)
}

// MarshalJSON encodes a Keyword as ":name".
func (k Keyword) MarshalJSON() ([]byte, error) {
	return MarshalCanonical(k)
}

// UnmarshalJSON decodes a canonical vector.
func (v *Vector) UnmarshalJSON(data []byte) error {
	val, err := UnmarshalCanonical(data)
	if err != nil {
		return err
	}
	vec, ok := val.(Vector)
	if !ok {
		return fmt.Errorf("expected JSON array, got %T", val)
	}
	*v = vec
	return nil
}

// UnmarshalJSON decodes a canonical map.
func (m *Map) UnmarshalJSON(data []byte) error {
	val, err := UnmarshalCanonical(data)
	if err != nil {
		return err
	}
	mm, ok := val.(Map)
	if !ok {
		return fmt.Errorf("expected JSON object, got %T", val)
	}
	*m = mm
	return nil
}

// MarshalJSON encodes a String, escaping a leading ':' or '~'.
func (s String) MarshalJSON() ([]byte, error) {
	return MarshalCanonical(s)
}

// MarshalJSON encodes Null as JSON null.
func (Null) MarshalJSON() ([]byte, error) {
	return []byte("null"), nil
}
