// Copyright 2026 The Fieldstore Authors. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

package fieldstore

import (
	"encoding/json"
	"errors"
	"fmt"
)

// ErrFieldAlreadyAtSavepoint is returned by AddField when the given
// savepoint index already has an entry for that field name.
var ErrFieldAlreadyAtSavepoint = errors.New("fieldstore: field already recorded at this savepoint")

// savepointEntry pairs one Savepoint with its ordered field-name →
// FieldID map. Go maps don't preserve insertion order, so the ordered
// field list is kept alongside, mirroring Metainfo's keys+values split.
type savepointEntry struct {
	sp          Savepoint
	fieldOrder  []string
	fieldByName map[string]FieldID
}

// SavepointVector is the ordered list of unique Savepoints a Serializer
// maintains, each carrying its own field name → FieldID map. Array
// position is identity: indices are stable for the in-memory vector's
// lifetime and persistence preserves them (spec.md §9). Deletions are not
// supported.
type SavepointVector struct {
	entries []*savepointEntry
}

// NewSavepointVector returns an empty SavepointVector.
func NewSavepointVector() *SavepointVector {
	return &SavepointVector{}
}

// Find returns the index of sp, or -1 if absent. Comparison is by
// (name, meta) per Savepoint.Equal, a linear scan per spec.md §4.3.
func (sv *SavepointVector) Find(sp Savepoint) int {
	for i, e := range sv.entries {
		if e.sp.Equal(sp) {
			return i
		}
	}
	return -1
}

// Insert appends sp if not already present, returning its index either
// way. It never mutates the fields map of an existing entry.
func (sv *SavepointVector) Insert(sp Savepoint) int {
	if idx := sv.Find(sp); idx >= 0 {
		return idx
	}
	sv.entries = append(sv.entries, &savepointEntry{
		sp:          sp,
		fieldByName: make(map[string]FieldID),
	})
	return len(sv.entries) - 1
}

// removeIfTrailingEmpty undoes a tentative Insert at idx if it is still
// the last entry and nothing has been recorded against it yet. Callers
// use this to roll back an Insert that was only provisional — a new
// savepoint appended in anticipation of a write that then failed before
// any field was attached to it (spec.md §5: a failed operation leaves
// the in-memory state unchanged).
func (sv *SavepointVector) removeIfTrailingEmpty(idx int) {
	if idx != len(sv.entries)-1 {
		return
	}
	if len(sv.entries[idx].fieldByName) != 0 {
		return
	}
	sv.entries = sv.entries[:idx]
}

// Len returns the number of savepoints.
func (sv *SavepointVector) Len() int { return len(sv.entries) }

// At returns the Savepoint at index i.
func (sv *SavepointVector) At(i int) Savepoint { return sv.entries[i].sp }

// HasField reports whether savepoint i already has an entry for name.
func (sv *SavepointVector) HasField(i int, name string) bool {
	_, ok := sv.entries[i].fieldByName[name]
	return ok
}

// AddField records fid under name at savepoint i, rejecting a duplicate
// field at the same savepoint.
func (sv *SavepointVector) AddField(i int, name string, fid FieldID) error {
	e := sv.entries[i]
	if _, ok := e.fieldByName[name]; ok {
		return fmt.Errorf("%w: %s at savepoint %d", ErrFieldAlreadyAtSavepoint, name, i)
	}
	e.fieldOrder = append(e.fieldOrder, name)
	e.fieldByName[name] = fid
	return nil
}

// GetFieldID returns the FieldID recorded for name at savepoint i.
func (sv *SavepointVector) GetFieldID(i int, name string) (FieldID, bool) {
	fid, ok := sv.entries[i].fieldByName[name]
	return fid, ok
}

// FieldNamesAt returns the field names recorded at savepoint i, in the
// order they were written.
func (sv *SavepointVector) FieldNamesAt(i int) []string {
	return sv.entries[i].fieldOrder
}

// savepointEntryJSON is one element of the SV JSON array:
// { "savepoint": SP.toJSON(), "fields": { name: [id], ... } }.
type savepointEntryJSON struct {
	Savepoint json.RawMessage `json:"savepoint"`
	Fields    json.RawMessage `json:"fields"`
}

// MarshalJSON encodes sv as an ordered array of savepointEntryJSON,
// array position defining the stable index per spec.md §4.3.
func (sv *SavepointVector) MarshalJSON() ([]byte, error) {
	var buf []byte
	buf = append(buf, '[')
	for i, e := range sv.entries {
		if i > 0 {
			buf = append(buf, ',')
		}
		spJSON, err := e.sp.MarshalJSON()
		if err != nil {
			return nil, err
		}
		fieldsJSON, err := marshalFieldIDMap(e.fieldOrder, e.fieldByName)
		if err != nil {
			return nil, err
		}
		entry, err := json.Marshal(savepointEntryJSON{Savepoint: spJSON, Fields: fieldsJSON})
		if err != nil {
			return nil, err
		}
		buf = append(buf, entry...)
	}
	buf = append(buf, ']')
	return buf, nil
}

// marshalFieldIDMap encodes { "name": [id], ... } in fieldOrder's order.
func marshalFieldIDMap(order []string, byName map[string]FieldID) ([]byte, error) {
	var buf []byte
	buf = append(buf, '{')
	for i, name := range order {
		if i > 0 {
			buf = append(buf, ',')
		}
		kb, err := json.Marshal(name)
		if err != nil {
			return nil, err
		}
		vb, err := json.Marshal([1]int{byName[name].ID})
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

// UnmarshalJSON decodes the array produced by MarshalJSON.
func (sv *SavepointVector) UnmarshalJSON(data []byte) error {
	var rawEntries []savepointEntryJSON
	if err := json.Unmarshal(data, &rawEntries); err != nil {
		return fmt.Errorf("fieldstore: savepoint_vector: %w", err)
	}
	sv.entries = make([]*savepointEntry, 0, len(rawEntries))
	for idx, raw := range rawEntries {
		var sp Savepoint
		if err := sp.UnmarshalJSON(raw.Savepoint); err != nil {
			return fmt.Errorf("fieldstore: savepoint_vector[%d]: %w", idx, err)
		}
		entry := &savepointEntry{sp: sp, fieldByName: make(map[string]FieldID)}
		err := decodeOrderedObject(raw.Fields, func(name string, fieldRaw json.RawMessage) error {
			var ids [1]int
			if err := json.Unmarshal(fieldRaw, &ids); err != nil {
				return err
			}
			entry.fieldOrder = append(entry.fieldOrder, name)
			entry.fieldByName[name] = FieldID{Name: name, ID: ids[0]}
			return nil
		})
		if err != nil {
			return fmt.Errorf("fieldstore: savepoint_vector[%d].fields: %w", idx, err)
		}
		sv.entries = append(sv.entries, entry)
	}
	return nil
}
