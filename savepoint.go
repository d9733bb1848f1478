// Copyright 2026 The Fieldstore Authors. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

package fieldstore

import (
	"encoding/json"
	"fmt"
)

// Savepoint names an execution checkpoint of a host program and carries
// whatever metainfo the caller attached to it (run parameters, a step
// index, wall-clock time — anything the caller wants searchable). Two
// Savepoints are equal iff their names are equal and their Meta are equal
// (spec.md §3): same keys, same typed values, order-insensitive for
// equality, order-preserving on disk.
type Savepoint struct {
	Name string
	Meta *Metainfo
}

// NewSavepoint returns a Savepoint with the given name. meta may be nil,
// in which case an empty Metainfo is attached.
func NewSavepoint(name string, meta *Metainfo) Savepoint {
	if meta == nil {
		meta = NewMetainfo()
	}
	return Savepoint{Name: name, Meta: meta}
}

// Equal implements spec.md §3's Savepoint equality.
func (sp Savepoint) Equal(o Savepoint) bool {
	return sp.Name == o.Name && sp.Meta.Equal(o.Meta)
}

type savepointJSON struct {
	Name string          `json:"name"`
	Meta json.RawMessage `json:"meta"`
}

// MarshalJSON encodes sp as {"name": ..., "meta": M.toJSON()}.
func (sp Savepoint) MarshalJSON() ([]byte, error) {
	metaJSON, err := sp.Meta.MarshalJSON()
	if err != nil {
		return nil, err
	}
	return json.Marshal(savepointJSON{Name: sp.Name, Meta: metaJSON})
}

// UnmarshalJSON is the inverse of MarshalJSON.
func (sp *Savepoint) UnmarshalJSON(data []byte) error {
	var wire savepointJSON
	if err := json.Unmarshal(data, &wire); err != nil {
		return fmt.Errorf("fieldstore: savepoint: %w", err)
	}
	meta := NewMetainfo()
	if len(wire.Meta) > 0 {
		if err := meta.UnmarshalJSON(wire.Meta); err != nil {
			return fmt.Errorf("fieldstore: savepoint: %w", err)
		}
	}
	sp.Name = wire.Name
	sp.Meta = meta
	return nil
}
