// Copyright 2026 The Fieldstore Authors. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

package fieldstore

// FieldID identifies one stored payload: a field name plus a
// non-negative index into that field's FieldOffsetTable. Once a FieldID
// is recorded in a SavepointVector, it resolves forever to the same
// payload bytes within the same archive (spec.md §3).
type FieldID struct {
	Name string
	ID   int
}
