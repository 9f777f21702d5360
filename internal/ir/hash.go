package ir

import (
	"bytes"
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"slices"
)

// Domain prefixes for content-addressed identity. The version suffix leaves
// room for algorithm migration.
const (
	DomainQuery = "signalbox/query/v1"
	DomainEvent = "signalbox/event/v1"
)

// hashWithDomain computes SHA256(domain + 0x00 + data). The null separator
// prevents domain/data boundary ambiguity.
func hashWithDomain(domain string, data []byte) string {
	h := sha256.New()
	h.Write([]byte(domain))
	h.Write([]byte{0x00})
	h.Write(data)
	return hex.EncodeToString(h.Sum(nil))
}

// Key computes the structural identity of a query descriptor. Two vectors
// produce the same key exactly when Equal reports them equal. Strings are
// hashed byte for byte: no normalisation, no replacement of invalid UTF-8.
func Key(query Vector) (string, error) {
	var buf bytes.Buffer
	if err := writeIdentity(&buf, query); err != nil {
		return "", fmt.Errorf("Key: %w", err)
	}
	return hashWithDomain(DomainQuery, buf.Bytes()), nil
}

// writeIdentity writes a type-tagged, length-prefixed encoding of v.
// Map entries are ordered by raw key bytes.
func writeIdentity(buf *bytes.Buffer, v Value) error {
	switch val := v.(type) {
	case nil:
		buf.WriteByte('z')
	case Null:
		buf.WriteByte('n')
	case String:
		writeTagged(buf, 's', string(val))
	case Keyword:
		if val == "" {
			return fmt.Errorf("empty keyword")
		}
		writeTagged(buf, 'k', string(val))
	case Int:
		buf.WriteByte('i')
		buf.Write(binary.BigEndian.AppendUint64(nil, uint64(val)))
	case Bool:
		if val {
			buf.WriteByte('t')
		} else {
			buf.WriteByte('f')
		}
	case Vector:
		buf.WriteByte('v')
		buf.Write(binary.AppendUvarint(nil, uint64(len(val))))
		for i, elem := range val {
			if err := writeIdentity(buf, elem); err != nil {
				return fmt.Errorf("[%d]: %w", i, err)
			}
		}
	case Map:
		keys := make([]string, 0, len(val))
		for k := range val {
			keys = append(keys, k)
		}
		slices.Sort(keys)
		buf.WriteByte('m')
		buf.Write(binary.AppendUvarint(nil, uint64(len(keys))))
		for _, k := range keys {
			writeTagged(buf, 's', k)
			if err := writeIdentity(buf, val[k]); err != nil {
				return fmt.Errorf("[%q]: %w", k, err)
			}
		}
	default:
		return fmt.Errorf("unsupported value type %T", v)
	}
	return nil
}

func writeTagged(buf *bytes.Buffer, tag byte, s string) {
	buf.WriteByte(tag)
	buf.Write(binary.AppendUvarint(nil, uint64(len(s))))
	buf.WriteString(s)
}

// EventHash computes a content-addressed id for a journalled event. The
// sequence number makes repeated dispatches of equal events distinct.
func EventHash(session string, event Vector, seq int64) (string, error) {
	obj := Map{
		"session": String(session),
		"event":   event,
		"seq":     Int(seq),
	}
	canonical, err := MarshalCanonical(obj)
	if err != nil {
		return "", fmt.Errorf("EventHash: failed to marshal: %w", err)
	}
	return hashWithDomain(DomainEvent, canonical), nil
}

// MustKey is like Key but panics on error.
// Use only in tests or when inputs are known to be valid.
func MustKey(query Vector) string {
	k, err := Key(query)
	if err != nil {
		panic(err)
	}
	return k
}
