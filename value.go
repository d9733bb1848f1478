// Copyright 2026 The Fieldstore Authors. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

package fieldstore

import (
	"errors"
	"fmt"
)

// ErrTypeMismatch is returned when a typed accessor is called against a
// Value whose stored tag differs and the requested tag cannot be reached
// by widening.
var ErrTypeMismatch = errors.New("fieldstore: type mismatch")

// Value is a tagged union of either a single scalar or a homogeneous
// sequence of scalars of one ElementType. The tag is fixed at
// construction; changing it requires building a new Value (Metainfo
// mirrors this at the map level: erase then reinsert).
type Value struct {
	typ     ElementType
	isArray bool
	data    any // concrete Go type matching typ (scalar) or []T (array)
}

// NewBool, NewInt32, ... construct scalar Values. Array variants take a
// slice and copy it so the Value owns independent storage.
func NewBool(v bool) Value       { return Value{typ: ElementTypeBoolean, data: v} }
func NewInt32(v int32) Value     { return Value{typ: ElementTypeInt32, data: v} }
func NewInt64(v int64) Value     { return Value{typ: ElementTypeInt64, data: v} }
func NewFloat32(v float32) Value { return Value{typ: ElementTypeFloat32, data: v} }
func NewFloat64(v float64) Value { return Value{typ: ElementTypeFloat64, data: v} }
func NewString(v string) Value   { return Value{typ: ElementTypeString, data: v} }

func NewBoolArray(v []bool) Value {
	cp := append([]bool(nil), v...)
	return Value{typ: ElementTypeBoolean, isArray: true, data: cp}
}
func NewInt32Array(v []int32) Value {
	cp := append([]int32(nil), v...)
	return Value{typ: ElementTypeInt32, isArray: true, data: cp}
}
func NewInt64Array(v []int64) Value {
	cp := append([]int64(nil), v...)
	return Value{typ: ElementTypeInt64, isArray: true, data: cp}
}
func NewFloat32Array(v []float32) Value {
	cp := append([]float32(nil), v...)
	return Value{typ: ElementTypeFloat32, isArray: true, data: cp}
}
func NewFloat64Array(v []float64) Value {
	cp := append([]float64(nil), v...)
	return Value{typ: ElementTypeFloat64, isArray: true, data: cp}
}
func NewStringArray(v []string) Value {
	cp := append([]string(nil), v...)
	return Value{typ: ElementTypeString, isArray: true, data: cp}
}

// Type reports the tag fixed at construction.
func (v Value) Type() ElementType { return v.typ }

// IsArray reports whether this Value holds a homogeneous sequence rather
// than a single scalar.
func (v Value) IsArray() bool { return v.isArray }

// Equal compares two Values structurally: same tag, same array-ness, same
// content.
func (v Value) Equal(o Value) bool {
	if v.typ != o.typ || v.isArray != o.isArray {
		return false
	}
	switch a := v.data.(type) {
	case []bool:
		b, ok := o.data.([]bool)
		return ok && boolSliceEqual(a, b)
	case []int32:
		b, ok := o.data.([]int32)
		return ok && int32SliceEqual(a, b)
	case []int64:
		b, ok := o.data.([]int64)
		return ok && int64SliceEqual(a, b)
	case []float32:
		b, ok := o.data.([]float32)
		return ok && float32SliceEqual(a, b)
	case []float64:
		b, ok := o.data.([]float64)
		return ok && float64SliceEqual(a, b)
	case []string:
		b, ok := o.data.([]string)
		return ok && stringSliceEqual(a, b)
	default:
		return v.data == o.data
	}
}

func boolSliceEqual(a, b []bool) bool {
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

func int32SliceEqual(a, b []int32) bool {
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

func int64SliceEqual(a, b []int64) bool {
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

func float32SliceEqual(a, b []float32) bool {
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

func float64SliceEqual(a, b []float64) bool {
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

func stringSliceEqual(a, b []string) bool {
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

// As attempts to read v as type to, performing the numeric widening
// spec.md §4.1 allows (Int32 may be read as Int64/Float32/Float64 iff
// exactly representable; nothing is ever narrowed silently). Arrays widen
// element-wise under the same rule.
func (v Value) As(to ElementType) (Value, error) {
	if v.isArray {
		return v.asArray(to)
	}
	return v.asScalar(to)
}

func (v Value) asScalar(to ElementType) (Value, error) {
	if v.typ == to {
		return v, nil
	}
	switch v.typ {
	case ElementTypeInt32:
		i := v.data.(int32)
		switch to {
		case ElementTypeInt64:
			return NewInt64(int64(i)), nil
		case ElementTypeFloat32:
			f := float32(i)
			if int32(f) != i {
				return Value{}, fmt.Errorf("%w: int32 %d not exactly representable as float32", ErrTypeMismatch, i)
			}
			return NewFloat32(f), nil
		case ElementTypeFloat64:
			return NewFloat64(float64(i)), nil
		}
	case ElementTypeFloat32:
		if to == ElementTypeFloat64 {
			return NewFloat64(float64(v.data.(float32))), nil
		}
	}
	return Value{}, fmt.Errorf("%w: cannot read %s as %s", ErrTypeMismatch, v.typ, to)
}

func (v Value) asArray(to ElementType) (Value, error) {
	if v.typ == to {
		return v, nil
	}
	switch v.typ {
	case ElementTypeInt32:
		arr := v.data.([]int32)
		switch to {
		case ElementTypeInt64:
			out := make([]int64, len(arr))
			for i, x := range arr {
				out[i] = int64(x)
			}
			return NewInt64Array(out), nil
		case ElementTypeFloat32:
			out := make([]float32, len(arr))
			for i, x := range arr {
				f := float32(x)
				if int32(f) != x {
					return Value{}, fmt.Errorf("%w: int32 %d not exactly representable as float32", ErrTypeMismatch, x)
				}
				out[i] = f
			}
			return NewFloat32Array(out), nil
		case ElementTypeFloat64:
			out := make([]float64, len(arr))
			for i, x := range arr {
				out[i] = float64(x)
			}
			return NewFloat64Array(out), nil
		}
	case ElementTypeFloat32:
		if to == ElementTypeFloat64 {
			arr := v.data.([]float32)
			out := make([]float64, len(arr))
			for i, x := range arr {
				out[i] = float64(x)
			}
			return NewFloat64Array(out), nil
		}
	}
	return Value{}, fmt.Errorf("%w: cannot read %s array as %s array", ErrTypeMismatch, v.typ, to)
}

// Bool, Int32, ... are scalar accessors. Bool, String and Int32 require
// the stored tag to match exactly; Int64, Float32 and Float64 also accept
// values that As can widen to the requested tag.
func (v Value) Bool() (bool, error) {
	if v.typ != ElementTypeBoolean || v.isArray {
		return false, fmt.Errorf("%w: value is %s", ErrTypeMismatch, v.describe())
	}
	return v.data.(bool), nil
}

func (v Value) Int32() (int32, error) {
	r, err := v.asScalar(ElementTypeInt32)
	if err != nil || r.isArray {
		return 0, fmt.Errorf("%w: value is %s", ErrTypeMismatch, v.describe())
	}
	return r.data.(int32), nil
}

func (v Value) Int64() (int64, error) {
	r, err := v.asScalar(ElementTypeInt64)
	if err != nil {
		return 0, err
	}
	return r.data.(int64), nil
}

func (v Value) Float32() (float32, error) {
	r, err := v.asScalar(ElementTypeFloat32)
	if err != nil {
		return 0, err
	}
	return r.data.(float32), nil
}

func (v Value) Float64() (float64, error) {
	r, err := v.asScalar(ElementTypeFloat64)
	if err != nil {
		return 0, err
	}
	return r.data.(float64), nil
}

func (v Value) String() (string, error) {
	if v.typ != ElementTypeString || v.isArray {
		return "", fmt.Errorf("%w: value is %s", ErrTypeMismatch, v.describe())
	}
	return v.data.(string), nil
}

func (v Value) describe() string {
	if v.isArray {
		return "array of " + v.typ.String()
	}
	return v.typ.String()
}

// raw exposes the underlying Go value for JSON encoding/dedup comparisons
// internal to the package.
func (v Value) raw() any { return v.data }
