// Copyright 2026 The Fieldstore Authors. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

package fieldstore

import (
	"encoding/json"
	"errors"
	"fmt"
)

// ErrFieldAlreadyRegisteredDifferently is returned when a field name is
// registered again with a FieldMeta that is not structurally equal to the
// one already on file. The engine never silently widens a field.
var ErrFieldAlreadyRegisteredDifferently = errors.New("fieldstore: field already registered with a different descriptor")

// fieldMapKey is the top-level JSON key FieldMap round-trips under.
const fieldMapKey = "field_map"

// ErrFieldMapSchema is returned when a top-level document is missing the
// "field_map" key.
var ErrFieldMapSchema = errors.New("fieldstore: document missing \"field_map\" key")

// FieldMap maps field name to FieldMeta. Insertion is idempotent only
// when an identical FieldMeta is already registered under the name;
// any other mismatch is rejected.
type FieldMap struct {
	names []string
	byKey map[string]FieldMeta
}

// NewFieldMap returns an empty FieldMap.
func NewFieldMap() *FieldMap {
	return &FieldMap{byKey: make(map[string]FieldMeta)}
}

// Insert registers name with fm, succeeding if name is absent or already
// registered with a structurally-equal FieldMeta.
func (m *FieldMap) Insert(name string, fm FieldMeta) error {
	existing, ok := m.byKey[name]
	if !ok {
		m.names = append(m.names, name)
		m.byKey[name] = fm
		return nil
	}
	if !existing.Equal(fm) {
		return fmt.Errorf("%w: %s", ErrFieldAlreadyRegisteredDifferently, name)
	}
	return nil
}

// FindField returns the FieldMeta registered for name, and whether it was
// found (the "end sentinel" of spec.md §4.2 is this false boolean).
func (m *FieldMap) FindField(name string) (FieldMeta, bool) {
	fm, ok := m.byKey[name]
	return fm, ok
}

// Names returns every registered field name, in registration order.
func (m *FieldMap) Names() []string { return m.names }

// Size returns the number of registered fields.
func (m *FieldMap) Size() int { return len(m.names) }

// fieldMapDocument is the top-level { "field_map": { name: FM, ... } }
// wrapper that MarshalDocument emits for a standalone round trip. The
// Serializer's metadata document carries the same "field_map" key in its
// own struct.
type fieldMapDocument struct {
	FieldMap json.RawMessage `json:"field_map"`
}

// MarshalJSON encodes m as the inner object { "<name>": FM.toJSON(), ... }
// (without the "field_map" envelope; see MarshalDocument), preserving
// registration order the same way Metainfo preserves key order.
func (m *FieldMap) MarshalJSON() ([]byte, error) {
	var buf []byte
	buf = append(buf, '{')
	for i, name := range m.names {
		if i > 0 {
			buf = append(buf, ',')
		}
		kb, err := json.Marshal(name)
		if err != nil {
			return nil, err
		}
		vb, err := m.byKey[name].MarshalJSON()
		if err != nil {
			return nil, err
		}
		buf = append(buf, kb...)
		buf = append(buf, ':')
		buf = append(buf, vb...)
	}
	buf = append(buf, '}')
	return buf, nil
}

// UnmarshalJSON decodes the inner object of a field_map document,
// preserving order via a streaming token decoder.
func (m *FieldMap) UnmarshalJSON(data []byte) error {
	m.names = nil
	m.byKey = make(map[string]FieldMeta)
	return decodeOrderedObject(data, func(name string, raw json.RawMessage) error {
		var fm FieldMeta
		if err := json.Unmarshal(raw, &fm); err != nil {
			return fmt.Errorf("fieldstore: field_map: field %q: %w", name, err)
		}
		m.names = append(m.names, name)
		m.byKey[name] = fm
		return nil
	})
}

// MarshalDocument wraps m in the top-level {"field_map": ...} envelope
// used when FieldMap is round-tripped standalone (spec.md §4.2).
func (m *FieldMap) MarshalDocument() ([]byte, error) {
	inner, err := m.MarshalJSON()
	if err != nil {
		return nil, err
	}
	return json.Marshal(fieldMapDocument{FieldMap: inner})
}

// UnmarshalDocument is the inverse of MarshalDocument. Absence of the
// "field_map" key is a schema error.
func (m *FieldMap) UnmarshalDocument(data []byte) error {
	var doc map[string]json.RawMessage
	if err := json.Unmarshal(data, &doc); err != nil {
		return fmt.Errorf("fieldstore: field_map document: %w", err)
	}
	raw, ok := doc[fieldMapKey]
	if !ok {
		return ErrFieldMapSchema
	}
	return m.UnmarshalJSON(raw)
}
