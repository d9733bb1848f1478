// Copyright 2026 The Fieldstore Authors. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

package fieldstore

import (
	"encoding/json"
	"errors"
	"fmt"
)

// ErrInvalidDims is returned when a dims slice contains a non-positive
// entry.
var ErrInvalidDims = errors.New("fieldstore: dims must be all positive")

// FieldMeta is a field's element type, dimensions, and attached
// Metainfo. Dimensionality is fixed at construction; dims must be all
// positive integers.
type FieldMeta struct {
	Type ElementType
	Dims []int
	Meta *Metainfo
}

// NewFieldMeta validates dims and returns a FieldMeta. meta may be nil,
// in which case an empty Metainfo is attached.
func NewFieldMeta(typ ElementType, dims []int, meta *Metainfo) (FieldMeta, error) {
	for _, d := range dims {
		if d <= 0 {
			return FieldMeta{}, fmt.Errorf("%w: got %v", ErrInvalidDims, dims)
		}
	}
	if meta == nil {
		meta = NewMetainfo()
	}
	return FieldMeta{
		Type: typ,
		Dims: append([]int(nil), dims...),
		Meta: meta,
	}, nil
}

// NumElements returns the product of Dims, the element count of one
// payload conforming to this FieldMeta.
func (fm FieldMeta) NumElements() int {
	n := 1
	for _, d := range fm.Dims {
		n *= d
	}
	return n
}

// ByteSize returns the total payload size in bytes for a fixed-width
// element type, or -1 for String fields (whose size depends on content
// and must be computed from the actual view).
func (fm FieldMeta) ByteSize() int {
	sz := fm.Type.ByteSize()
	if sz < 0 {
		return -1
	}
	return sz * fm.NumElements()
}

// Equal reports structural equality across type, dims, and meta, per
// spec.md §3's FM equality invariant.
func (fm FieldMeta) Equal(o FieldMeta) bool {
	if fm.Type != o.Type || len(fm.Dims) != len(o.Dims) {
		return false
	}
	for i := range fm.Dims {
		if fm.Dims[i] != o.Dims[i] {
			return false
		}
	}
	return fm.Meta.Equal(o.Meta)
}

// fieldMetaJSON is FieldMeta's wire shape.
type fieldMetaJSON struct {
	Type string          `json:"type"`
	Dims []int           `json:"dims"`
	Meta json.RawMessage `json:"meta"`
}

// MarshalJSON encodes a FieldMeta as {"type":..., "dims":[...], "meta":{...}}.
func (fm FieldMeta) MarshalJSON() ([]byte, error) {
	metaJSON, err := fm.Meta.MarshalJSON()
	if err != nil {
		return nil, err
	}
	return json.Marshal(fieldMetaJSON{
		Type: fm.Type.String(),
		Dims: fm.Dims,
		Meta: metaJSON,
	})
}

// UnmarshalJSON is the inverse of MarshalJSON.
func (fm *FieldMeta) UnmarshalJSON(data []byte) error {
	var wire fieldMetaJSON
	if err := json.Unmarshal(data, &wire); err != nil {
		return fmt.Errorf("fieldstore: field_meta: %w", err)
	}
	typ, err := elementTypeFromString(wire.Type)
	if err != nil {
		return fmt.Errorf("fieldstore: field_meta: %w", err)
	}
	meta := NewMetainfo()
	if len(wire.Meta) > 0 {
		if err := meta.UnmarshalJSON(wire.Meta); err != nil {
			return fmt.Errorf("fieldstore: field_meta: %w", err)
		}
	}
	fm.Type = typ
	fm.Dims = wire.Dims
	fm.Meta = meta
	return nil
}
