// Copyright 2026 The Fieldstore Authors. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

package fieldstore

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"
)

// Errors raised by the legacy migration path.
var (
	// ErrUpgradeReadOnly is returned when a directory holding only a
	// legacy document is opened in Write or Append mode; migrating is
	// only ever attempted on a Read-mode open (spec.md §4.6).
	ErrUpgradeReadOnly = errors.New("fieldstore: legacy archive must be opened in read mode to upgrade")

	// ErrUpgradeTypeInferenceFailure is returned when a legacy JSON value
	// has a shape the inference rules of spec.md §4.6 step 2 don't cover
	// (an object or a null, for instance).
	ErrUpgradeTypeInferenceFailure = errors.New("fieldstore: legacy value has no inferrable element type")
)

// legacyDocument is the top-level shape of a pre-MetaData-<prefix>.json
// archive: <prefix>.json with FieldsTable, GlobalMetainfo, and
// OffsetTable keys.
type legacyDocument struct {
	FieldsTable []map[string]json.RawMessage `json:"FieldsTable"`
	GlobalMeta  map[string]json.RawMessage   `json:"GlobalMetainfo"`
	OffsetTable []map[string]json.RawMessage `json:"OffsetTable"`
}

// legacyOffsetEntry is one (offset, checksum) pair as it appears inside
// an OffsetTable entry's __offsets map.
type legacyOffsetEntry struct {
	offset   int64
	checksum string
}

func (e *legacyOffsetEntry) UnmarshalJSON(data []byte) error {
	var pair [2]json.RawMessage
	if err := json.Unmarshal(data, &pair); err != nil {
		return err
	}
	if err := json.Unmarshal(pair[0], &e.offset); err != nil {
		return fmt.Errorf("offset: %w", err)
	}
	if err := json.Unmarshal(pair[1], &e.checksum); err != nil {
		return fmt.Errorf("checksum: %w", err)
	}
	return nil
}

// runLegacyUpgrade migrates s.legacyPath() into s.global/s.fields/s.sv/s.ar
// in memory, then best-effort persists the result (spec.md §4.6).
// Called only from a Read-mode Open.
func (s *Serializer) runLegacyUpgrade() error {
	data, err := os.ReadFile(s.legacyPath())
	if err != nil {
		return fmt.Errorf("fieldstore: reading %s: %w", s.legacyPath(), err)
	}

	var doc legacyDocument
	if err := json.Unmarshal(data, &doc); err != nil {
		return fmt.Errorf("%w: %s: %v", ErrMetadataCorrupt, s.legacyPath(), err)
	}

	floatTag := inferFloatTag(doc.FieldsTable)

	global := NewMetainfo()
	for key, raw := range doc.GlobalMeta {
		if strings.HasPrefix(key, "__") {
			continue
		}
		v, err := inferValue(raw, floatTag)
		if err != nil {
			return fmt.Errorf("%w: global meta key %q: %v", ErrUpgradeTypeInferenceFailure, key, err)
		}
		global.Insert(key, v)
	}

	fields := NewFieldMap()
	for i, entry := range doc.FieldsTable {
		name, dims, meta, err := decodeLegacyFieldEntry(entry, floatTag)
		if err != nil {
			return fmt.Errorf("fieldstore: FieldsTable[%d]: %w", i, err)
		}
		typ := legacyElementType(entry, floatTag)
		fm, err := NewFieldMeta(typ, dims, meta)
		if err != nil {
			return fmt.Errorf("fieldstore: FieldsTable[%d] %q: %w", i, name, err)
		}
		if err := fields.Insert(name, fm); err != nil {
			return fmt.Errorf("fieldstore: FieldsTable[%d] %q: %w", i, name, err)
		}
	}

	sv := NewSavepointVector()
	ar := newBinaryArchive(s.dir, s.prefix, s.mmap, s.logger)

	for i, entry := range doc.OffsetTable {
		nameRaw, ok := entry["__name"]
		if !ok {
			return fmt.Errorf("%w: OffsetTable[%d] missing __name", ErrMetadataCorrupt, i)
		}
		var spName string
		if err := json.Unmarshal(nameRaw, &spName); err != nil {
			return fmt.Errorf("%w: OffsetTable[%d].__name: %v", ErrMetadataCorrupt, i, err)
		}

		meta := NewMetainfo()
		for key, raw := range entry {
			if strings.HasPrefix(key, "__") {
				continue
			}
			v, err := inferValue(raw, floatTag)
			if err != nil {
				return fmt.Errorf("%w: OffsetTable[%d] key %q: %v", ErrUpgradeTypeInferenceFailure, i, key, err)
			}
			meta.Insert(key, v)
		}
		sp := NewSavepoint(spName, meta)
		idx := sv.Insert(sp)

		offsetsRaw, ok := entry["__offsets"]
		if !ok {
			continue
		}
		var offsets map[string][]legacyOffsetEntry
		if err := json.Unmarshal(offsetsRaw, &offsets); err != nil {
			return fmt.Errorf("%w: OffsetTable[%d].__offsets: %v", ErrMetadataCorrupt, i, err)
		}
		for fieldName, entries := range offsets {
			for _, oe := range entries {
				id, err := legacyUpgradeOffset(ar, fieldName, oe)
				if err != nil {
					return err
				}
				if err := sv.AddField(idx, fieldName, FieldID{Name: fieldName, ID: id}); err != nil {
					return fmt.Errorf("fieldstore: OffsetTable[%d]: %w", i, err)
				}
			}
		}
	}

	s.global = global
	s.fields = fields
	s.sv = sv
	s.ar = ar

	if err := s.ar.persist(); err != nil {
		s.logger.Warnf("fieldstore: best-effort persist of upgraded archive metadata failed: %v", err)
	}
	if err := s.persist(); err != nil {
		s.logger.Warnf("fieldstore: best-effort persist of upgraded metadata failed: %v", err)
	}
	return nil
}

// legacyUpgradeOffset records a legacy (offset, checksum) pair into a's
// in-memory table for fieldName, deduplicating against any entry already
// present under that checksum, and returns the resulting FieldID.ID
// (spec.md §4.6 step 4).
func legacyUpgradeOffset(ar *BinaryArchive, fieldName string, oe legacyOffsetEntry) (int, error) {
	ar.registerField(fieldName)
	table := ar.tables[fieldName]

	if idx := table.findChecksum(oe.checksum); idx >= 0 {
		return idx, nil
	}
	if len(table) == 0 {
		if oe.offset != 0 {
			return 0, fmt.Errorf("%w: field %q: first offset table entry must start at 0, got %d", ErrMetadataCorrupt, fieldName, oe.offset)
		}
	} else if oe.offset == 0 {
		return 0, fmt.Errorf("%w: field %q: non-first entry has offset 0 without a matching checksum", ErrMetadataCorrupt, fieldName)
	}

	size, err := legacyPayloadSize(ar, fieldName, oe.offset)
	if err != nil {
		return 0, err
	}
	for j, e := range table {
		if e.Offset < oe.offset && e.Offset+e.Size > oe.offset {
			table[j].Size = oe.offset - e.Offset
		}
	}
	table = append(table, offsetEntry{Offset: oe.offset, Size: size, Checksum: oe.checksum})
	ar.tables[fieldName] = table
	return len(table) - 1, nil
}

// legacyPayloadSize derives a payload's byte length from the legacy data
// file: the gap to the next known offset, or to end-of-file for the last
// entry. The legacy format carries no per-entry size, unlike this
// engine's own offset table (SPEC_FULL.md §6.4).
func legacyPayloadSize(ar *BinaryArchive, fieldName string, offset int64) (int64, error) {
	info, err := os.Stat(ar.dataFilePath(fieldName))
	if err != nil {
		return 0, fmt.Errorf("fieldstore: stat %s: %w", ar.dataFilePath(fieldName), err)
	}
	table := ar.tables[fieldName]
	next := info.Size()
	for _, e := range table {
		if e.Offset > offset && e.Offset < next {
			next = e.Offset
		}
	}
	return next - offset, nil
}

// inferFloatTag implements spec.md §4.6 step 1.
func inferFloatTag(fieldsTable []map[string]json.RawMessage) ElementType {
	for _, entry := range fieldsTable {
		raw, ok := entry["__elementtype"]
		if !ok {
			continue
		}
		var s string
		if json.Unmarshal(raw, &s) == nil && s == "float" {
			return ElementTypeFloat32
		}
	}
	return ElementTypeFloat64
}

// legacyElementType translates one FieldsTable entry's __elementtype tag
// per spec.md §4.6 step 3.
func legacyElementType(entry map[string]json.RawMessage, floatTag ElementType) ElementType {
	raw, ok := entry["__elementtype"]
	if !ok {
		return ElementTypeFloat64
	}
	var s string
	if json.Unmarshal(raw, &s) != nil {
		return ElementTypeFloat64
	}
	switch s {
	case "int":
		return ElementTypeInt32
	case "float":
		return floatTag
	case "double":
		return ElementTypeFloat64
	default:
		return ElementTypeFloat64
	}
}

// decodeLegacyFieldEntry reads __name and the __*size dims from a
// FieldsTable entry, collecting any remaining non-__ keys as field-local
// meta with the same tag inference global meta uses.
func decodeLegacyFieldEntry(entry map[string]json.RawMessage, floatTag ElementType) (string, []int, *Metainfo, error) {
	nameRaw, ok := entry["__name"]
	if !ok {
		return "", nil, nil, fmt.Errorf("%w: missing __name", ErrMetadataCorrupt)
	}
	var name string
	if err := json.Unmarshal(nameRaw, &name); err != nil {
		return "", nil, nil, fmt.Errorf("%w: __name: %v", ErrMetadataCorrupt, err)
	}

	var dims []int
	for _, key := range []string{"__isize", "__jsize", "__ksize", "__lsize"} {
		raw, ok := entry[key]
		if !ok {
			continue
		}
		var d int
		if err := json.Unmarshal(raw, &d); err != nil {
			return "", nil, nil, fmt.Errorf("%w: %s: %v", ErrMetadataCorrupt, key, err)
		}
		dims = append(dims, d)
	}

	meta := NewMetainfo()
	for key, raw := range entry {
		if strings.HasPrefix(key, "__") {
			continue
		}
		v, err := inferValue(raw, floatTag)
		if err != nil {
			return "", nil, nil, fmt.Errorf("%w: field %q key %q: %v", ErrUpgradeTypeInferenceFailure, name, key, err)
		}
		meta.Insert(key, v)
	}
	return name, dims, meta, nil
}

// inferValue implements spec.md §4.6 step 2's tag inference rule for an
// untagged legacy JSON value: string -> String, boolean -> Boolean,
// integer -> Int32, float -> floatTag. Arrays and objects are not legacy
// meta shapes and fail ErrUpgradeTypeInferenceFailure.
func inferValue(raw json.RawMessage, floatTag ElementType) (Value, error) {
	var asAny any
	dec := json.NewDecoder(strings.NewReader(string(raw)))
	dec.UseNumber()
	if err := dec.Decode(&asAny); err != nil {
		return Value{}, err
	}
	switch v := asAny.(type) {
	case string:
		return NewString(v), nil
	case bool:
		return NewBool(v), nil
	case json.Number:
		if !strings.ContainsAny(string(v), ".eE") {
			if n, err := v.Int64(); err == nil {
				return NewInt32(int32(n)), nil
			}
		}
		f, err := v.Float64()
		if err != nil {
			return Value{}, err
		}
		if floatTag == ElementTypeFloat32 {
			return NewFloat32(float32(f)), nil
		}
		return NewFloat64(f), nil
	default:
		return Value{}, fmt.Errorf("%w: unsupported JSON shape", ErrUpgradeTypeInferenceFailure)
	}
}
