// Copyright 2026 The Fieldstore Authors. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

package fieldstore

import "testing"

func TestMetainfoInsertDuplicate(t *testing.T) {
	m := NewMetainfo()
	if !m.Insert("a", NewInt32(1)) {
		t.Fatalf("Insert(a) on empty map returned false")
	}
	if m.Insert("a", NewInt32(2)) {
		t.Errorf("Insert(a) on duplicate key returned true")
	}
	v, err := m.At("a")
	if err != nil {
		t.Fatalf("At(a) failed: %v", err)
	}
	got, err := v.Int32()
	if err != nil || got != 1 {
		t.Errorf("At(a) = %v, want 1 (duplicate insert must not overwrite)", got)
	}
}

func TestMetainfoRoundTrip(t *testing.T) {
	tests := []struct {
		name  string
		build func() *Metainfo
	}{
		{"scalars", func() *Metainfo {
			m := NewMetainfo()
			m.Insert("b", NewBool(true))
			m.Insert("i32", NewInt32(-7))
			m.Insert("i64", NewInt64(1<<40))
			m.Insert("f32", NewFloat32(1.5))
			m.Insert("f64", NewFloat64(2.5))
			m.Insert("s", NewString("hello"))
			return m
		}},
		{"arrays", func() *Metainfo {
			m := NewMetainfo()
			m.Insert("ints", NewInt32Array([]int32{1, 2, 3}))
			m.Insert("strs", NewStringArray([]string{"x", "y"}))
			return m
		}},
		{"empty", NewMetainfo},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := tt.build()
			data, err := m.MarshalJSON()
			if err != nil {
				t.Fatalf("MarshalJSON failed: %v", err)
			}
			got := NewMetainfo()
			if err := got.UnmarshalJSON(data); err != nil {
				t.Fatalf("UnmarshalJSON failed: %v", err)
			}
			if !m.Equal(got) {
				t.Errorf("round trip not equal: got keys %v, want %v", got.Keys(), m.Keys())
			}
		})
	}
}

func TestMetainfoRoundTripPreservesKeyOrder(t *testing.T) {
	m := NewMetainfo()
	order := []string{"z", "a", "m", "b"}
	for _, k := range order {
		m.Insert(k, NewInt32(0))
	}
	data, err := m.MarshalJSON()
	if err != nil {
		t.Fatalf("MarshalJSON failed: %v", err)
	}
	got := NewMetainfo()
	if err := got.UnmarshalJSON(data); err != nil {
		t.Fatalf("UnmarshalJSON failed: %v", err)
	}
	keys := got.Keys()
	if len(keys) != len(order) {
		t.Fatalf("got %d keys, want %d", len(keys), len(order))
	}
	for i, k := range order {
		if keys[i] != k {
			t.Errorf("key[%d] = %q, want %q (insertion order not preserved)", i, keys[i], k)
		}
	}
}

func TestMetainfoEqualIgnoresKeyOrder(t *testing.T) {
	a := NewMetainfo()
	a.Insert("x", NewInt32(1))
	a.Insert("y", NewInt32(2))

	b := NewMetainfo()
	b.Insert("y", NewInt32(2))
	b.Insert("x", NewInt32(1))

	if !a.Equal(b) {
		t.Errorf("maps with same keys/values in different insertion order are not Equal")
	}
}

func TestMetainfoWideningRejectsInexact(t *testing.T) {
	v := NewInt32(1<<24 + 1)
	if _, err := v.As(ElementTypeFloat32); err == nil {
		t.Errorf("widening int32 %d to float32 should fail (not exactly representable)", 1<<24+1)
	}
	small := NewInt32(42)
	widened, err := small.As(ElementTypeFloat32)
	if err != nil {
		t.Fatalf("widening int32 42 to float32 failed: %v", err)
	}
	f, err := widened.Float32()
	if err != nil || f != 42 {
		t.Errorf("widened value = %v, want 42", f)
	}
}

func TestMetainfoOverwriteTypedRejectsTagChange(t *testing.T) {
	m := NewMetainfo()
	m.Insert("k", NewInt32(1))
	if err := m.OverwriteTyped("k", NewString("x")); err == nil {
		t.Errorf("OverwriteTyped with a different tag should fail")
	}
	if err := m.OverwriteTyped("k", NewInt32(2)); err != nil {
		t.Errorf("OverwriteTyped with the same tag failed: %v", err)
	}
}

func TestMetainfoEraseIdempotent(t *testing.T) {
	m := NewMetainfo()
	m.Insert("k", NewInt32(1))
	m.Erase("k")
	m.Erase("k")
	if m.Has("k") {
		t.Errorf("key still present after Erase")
	}
	if !m.Empty() {
		t.Errorf("Empty() = false after erasing only key")
	}
}
