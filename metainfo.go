// Copyright 2026 The Fieldstore Authors. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

package fieldstore

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
)

// Errors raised by Metainfo operations.
var (
	// ErrKeyNotFound is returned by At when the key is absent.
	ErrKeyNotFound = errors.New("fieldstore: key not found")
)

// Metainfo is an ordered string-keyed map of tagged scalar or homogeneous
// array values. Iteration order is insertion order, and that order is
// preserved across a toJSON/fromJSON round trip (object key order in the
// serialized form mirrors it). A key's tag is fixed once inserted; callers
// that need to change it must Erase then Insert.
type Metainfo struct {
	keys   []string
	values map[string]Value
}

// NewMetainfo returns an empty, ready-to-use Metainfo.
func NewMetainfo() *Metainfo {
	return &Metainfo{values: make(map[string]Value)}
}

// Insert adds k/v if k is absent, reporting whether it inserted. It never
// fails on a duplicate key — it just returns false, matching spec.md
// §4.1's "never throws on duplicate" contract.
func (m *Metainfo) Insert(k string, v Value) bool {
	if _, exists := m.values[k]; exists {
		return false
	}
	m.keys = append(m.keys, k)
	m.values[k] = v
	return true
}

// OverwriteTyped replaces an existing key's value, failing if the key is
// absent or the new value's tag differs from the stored one.
func (m *Metainfo) OverwriteTyped(k string, v Value) error {
	existing, ok := m.values[k]
	if !ok {
		return fmt.Errorf("%w: %s", ErrKeyNotFound, k)
	}
	if existing.typ != v.typ || existing.isArray != v.isArray {
		return fmt.Errorf("%w: key %s is %s, not %s", ErrTypeMismatch, k, existing.describe(), v.describe())
	}
	m.values[k] = v
	return nil
}

// Erase removes k if present. Idempotent.
func (m *Metainfo) Erase(k string) {
	if _, ok := m.values[k]; !ok {
		return
	}
	delete(m.values, k)
	for i, key := range m.keys {
		if key == k {
			m.keys = append(m.keys[:i], m.keys[i+1:]...)
			break
		}
	}
}

// At returns the value stored at k, or ErrKeyNotFound.
func (m *Metainfo) At(k string) (Value, error) {
	v, ok := m.values[k]
	if !ok {
		return Value{}, fmt.Errorf("%w: %s", ErrKeyNotFound, k)
	}
	return v, nil
}

// Has reports whether k is present.
func (m *Metainfo) Has(k string) bool {
	_, ok := m.values[k]
	return ok
}

// Size returns the number of keys.
func (m *Metainfo) Size() int { return len(m.keys) }

// Empty reports whether Size() == 0.
func (m *Metainfo) Empty() bool { return len(m.keys) == 0 }

// Clear removes every key.
func (m *Metainfo) Clear() {
	m.keys = nil
	m.values = make(map[string]Value)
}

// Keys returns the keys in insertion order. The caller must not mutate
// the returned slice.
func (m *Metainfo) Keys() []string { return m.keys }

// Equal reports whether m and o carry the same keys and the same typed
// values, ignoring key order (spec.md §3: Savepoint equality is
// order-insensitive over meta).
func (m *Metainfo) Equal(o *Metainfo) bool {
	if m.Size() != o.Size() {
		return false
	}
	for k, v := range m.values {
		ov, ok := o.values[k]
		if !ok || !v.Equal(ov) {
			return false
		}
	}
	return true
}

// MarshalJSON encodes m as an object whose key order matches insertion
// order: { "k1": ["type", value], "k2": ["type", value], ... }.
// encoding/json's map marshaling would sort keys alphabetically, which
// would violate the ordering invariant, so the object is built by hand.
func (m *Metainfo) MarshalJSON() ([]byte, error) {
	var buf []byte
	buf = append(buf, '{')
	for i, k := range m.keys {
		if i > 0 {
			buf = append(buf, ',')
		}
		kb, err := json.Marshal(k)
		if err != nil {
			return nil, err
		}
		buf = append(buf, kb...)
		buf = append(buf, ':')
		vb, err := marshalValue(m.values[k])
		if err != nil {
			return nil, fmt.Errorf("fieldstore: encoding key %q: %w", k, err)
		}
		buf = append(buf, vb...)
	}
	buf = append(buf, '}')
	return buf, nil
}

// UnmarshalJSON decodes the object produced by MarshalJSON, preserving
// the on-disk key order using a token-level decoder rather than decoding
// into a Go map (which would discard order).
func (m *Metainfo) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()

	tok, err := dec.Token()
	if err != nil {
		return fmt.Errorf("fieldstore: metainfo: %w", err)
	}
	if d, ok := tok.(json.Delim); !ok || d != '{' {
		return fmt.Errorf("fieldstore: metainfo: expected object, got %v", tok)
	}

	m.keys = nil
	m.values = make(map[string]Value)

	for dec.More() {
		keyTok, err := dec.Token()
		if err != nil {
			return fmt.Errorf("fieldstore: metainfo: %w", err)
		}
		key, ok := keyTok.(string)
		if !ok {
			return fmt.Errorf("fieldstore: metainfo: non-string key %v", keyTok)
		}

		var raw json.RawMessage
		if err := dec.Decode(&raw); err != nil {
			return fmt.Errorf("fieldstore: metainfo: decoding value of %q: %w", key, err)
		}
		v, err := unmarshalValue(raw)
		if err != nil {
			return fmt.Errorf("fieldstore: metainfo: decoding value of %q: %w", key, err)
		}
		m.keys = append(m.keys, key)
		m.values[key] = v
	}

	if _, err := dec.Token(); err != nil {
		return fmt.Errorf("fieldstore: metainfo: %w", err)
	}
	return nil
}

// marshalValue encodes a single Value as [ "<tag>", <value> ].
func marshalValue(v Value) ([]byte, error) {
	payload, err := json.Marshal(v.raw())
	if err != nil {
		return nil, err
	}
	tag := v.typ.String()
	if v.isArray {
		tag += "[]"
	}
	tagJSON, err := json.Marshal(tag)
	if err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	buf.WriteByte('[')
	buf.Write(tagJSON)
	buf.WriteByte(',')
	buf.Write(payload)
	buf.WriteByte(']')
	return buf.Bytes(), nil
}

func unmarshalValue(raw json.RawMessage) (Value, error) {
	var pair []json.RawMessage
	if err := json.Unmarshal(raw, &pair); err != nil {
		return Value{}, err
	}
	if len(pair) != 2 {
		return Value{}, fmt.Errorf("fieldstore: malformed tagged value (want 2 elements, got %d)", len(pair))
	}
	var tagStr string
	if err := json.Unmarshal(pair[0], &tagStr); err != nil {
		return Value{}, err
	}
	isArray := false
	if len(tagStr) > 2 && tagStr[len(tagStr)-2:] == "[]" {
		isArray = true
		tagStr = tagStr[:len(tagStr)-2]
	}
	tag, err := elementTypeFromString(tagStr)
	if err != nil {
		return Value{}, err
	}
	return decodeTyped(tag, isArray, pair[1])
}

func decodeTyped(tag ElementType, isArray bool, raw json.RawMessage) (Value, error) {
	if !isArray {
		switch tag {
		case ElementTypeBoolean:
			var v bool
			if err := json.Unmarshal(raw, &v); err != nil {
				return Value{}, err
			}
			return NewBool(v), nil
		case ElementTypeInt32:
			var v int32
			if err := json.Unmarshal(raw, &v); err != nil {
				return Value{}, err
			}
			return NewInt32(v), nil
		case ElementTypeInt64:
			var v int64
			if err := json.Unmarshal(raw, &v); err != nil {
				return Value{}, err
			}
			return NewInt64(v), nil
		case ElementTypeFloat32:
			var v float32
			if err := json.Unmarshal(raw, &v); err != nil {
				return Value{}, err
			}
			return NewFloat32(v), nil
		case ElementTypeFloat64:
			var v float64
			if err := json.Unmarshal(raw, &v); err != nil {
				return Value{}, err
			}
			return NewFloat64(v), nil
		case ElementTypeString:
			var v string
			if err := json.Unmarshal(raw, &v); err != nil {
				return Value{}, err
			}
			return NewString(v), nil
		}
	} else {
		switch tag {
		case ElementTypeBoolean:
			var v []bool
			if err := json.Unmarshal(raw, &v); err != nil {
				return Value{}, err
			}
			return NewBoolArray(v), nil
		case ElementTypeInt32:
			var v []int32
			if err := json.Unmarshal(raw, &v); err != nil {
				return Value{}, err
			}
			return NewInt32Array(v), nil
		case ElementTypeInt64:
			var v []int64
			if err := json.Unmarshal(raw, &v); err != nil {
				return Value{}, err
			}
			return NewInt64Array(v), nil
		case ElementTypeFloat32:
			var v []float32
			if err := json.Unmarshal(raw, &v); err != nil {
				return Value{}, err
			}
			return NewFloat32Array(v), nil
		case ElementTypeFloat64:
			var v []float64
			if err := json.Unmarshal(raw, &v); err != nil {
				return Value{}, err
			}
			return NewFloat64Array(v), nil
		case ElementTypeString:
			var v []string
			if err := json.Unmarshal(raw, &v); err != nil {
				return Value{}, err
			}
			return NewStringArray(v), nil
		}
	}
	return Value{}, fmt.Errorf("%w: unsupported tag %s", ErrTypeMismatch, tag)
}
