// Copyright 2026 The Fieldstore Authors. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

package fieldstore

import "fmt"

// StorageView is the caller-supplied shape/stride view over a tensor held
// in host memory. spec.md treats it as an opaque collaborator: the
// engine's job is to gather it into a contiguous little-endian byte
// buffer on write, and scatter a byte buffer back into it on read, in the
// view's own element order. Implementations live outside this package
// (this is the seam to the host language's array/tensor type); fieldstore
// only needs ElementType, Dims, and the two transfer methods.
type StorageView interface {
	// ElementType reports the view's declared scalar type.
	ElementType() ElementType

	// Dims reports the view's declared dimensions, outermost first.
	Dims() []int

	// Gather serializes the view into a contiguous little-endian buffer
	// in the view's element order. The returned slice's length must equal
	// ByteCount().
	Gather() ([]byte, error)

	// Scatter writes b, in the view's element order, back into the
	// underlying storage. len(b) always equals ByteCount() when called by
	// this package.
	Scatter(b []byte) error
}

// ByteCount returns the number of bytes a StorageView's declared shape and
// element type occupy, delegating to FieldMeta's sizing rule. For String
// views there is no fixed size: callers must Gather first and use the
// resulting length.
func ByteCount(v StorageView) (int, error) {
	sz := v.ElementType().ByteSize()
	if sz < 0 {
		return -1, fmt.Errorf("fieldstore: byte count of a %s view is content-dependent; Gather it first", v.ElementType())
	}
	n := 1
	for _, d := range v.Dims() {
		n *= d
	}
	return n * sz, nil
}

// dimsEqual compares two dims slices element-wise.
func dimsEqual(a, b []int) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
