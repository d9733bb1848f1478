// Copyright 2026 The Fieldstore Authors. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

package fieldstore

import (
	"bytes"
	"encoding/binary"
	"math"
)

// float64View is a minimal StorageView over a flat []float64, used by
// tests that exercise the archive and serializer without pulling in a
// real host-language tensor binding.
type float64View struct {
	dims []int
	data []float64
}

func newFloat64View(dims []int, data []float64) *float64View {
	return &float64View{dims: dims, data: data}
}

func (v *float64View) ElementType() ElementType { return ElementTypeFloat64 }
func (v *float64View) Dims() []int              { return v.dims }

func (v *float64View) Gather() ([]byte, error) {
	var buf bytes.Buffer
	for _, f := range v.data {
		if err := binary.Write(&buf, binary.LittleEndian, math.Float64bits(f)); err != nil {
			return nil, err
		}
	}
	return buf.Bytes(), nil
}

func (v *float64View) Scatter(b []byte) error {
	n := len(b) / 8
	out := make([]float64, n)
	for i := 0; i < n; i++ {
		bits := binary.LittleEndian.Uint64(b[i*8 : i*8+8])
		out[i] = math.Float64frombits(bits)
	}
	v.data = out
	return nil
}

// float32View is the Float32 analogue of float64View.
type float32View struct {
	dims []int
	data []float32
}

func newFloat32View(dims []int, data []float32) *float32View {
	return &float32View{dims: dims, data: data}
}

func (v *float32View) ElementType() ElementType { return ElementTypeFloat32 }
func (v *float32View) Dims() []int              { return v.dims }

func (v *float32View) Gather() ([]byte, error) {
	var buf bytes.Buffer
	for _, f := range v.data {
		if err := binary.Write(&buf, binary.LittleEndian, math.Float32bits(f)); err != nil {
			return nil, err
		}
	}
	return buf.Bytes(), nil
}

func (v *float32View) Scatter(b []byte) error {
	n := len(b) / 4
	out := make([]float32, n)
	for i := 0; i < n; i++ {
		bits := binary.LittleEndian.Uint32(b[i*4 : i*4+4])
		out[i] = math.Float32frombits(bits)
	}
	v.data = out
	return nil
}
