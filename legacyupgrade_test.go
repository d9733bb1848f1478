// Copyright 2026 The Fieldstore Authors. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

package fieldstore

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"testing"
)

func writeLegacyFixture(t *testing.T, dir, prefix string, payload []byte, checksum string) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(dir, prefix+"_u.dat"), payload, 0o644); err != nil {
		t.Fatalf("writing legacy data file: %v", err)
	}
	doc := fmt.Sprintf(`{
		"FieldsTable": [
			{"__name": "u", "__elementtype": "double", "__isize": 2, "__jsize": 2, "__ksize": 1}
		],
		"GlobalMetainfo": {"run": "r1"},
		"OffsetTable": [
			{"__name": "sp0", "__offsets": {"u": [[0, %q]]}}
		]
	}`, checksum)
	if err := os.WriteFile(filepath.Join(dir, prefix+".json"), []byte(doc), 0o644); err != nil {
		t.Fatalf("writing legacy document: %v", err)
	}
}

func TestLegacyUpgradeReadSucceeds(t *testing.T) {
	dir := t.TempDir()
	payload := make([]byte, 32) // 2*2*1 float64 values
	for i := range payload {
		payload[i] = byte(i)
	}
	checksum := digest(payload)
	writeLegacyFixture(t, dir, "p", payload, checksum)

	s, err := Open(dir, "p", ModeRead, nil)
	if err != nil {
		t.Fatalf("Open(Read) on legacy archive failed: %v", err)
	}
	defer s.Close()

	fm, ok := s.fields.FindField("u")
	if !ok {
		t.Fatalf("field u not registered after upgrade")
	}
	if fm.Type != ElementTypeFloat64 {
		t.Errorf("field u type = %s, want float64 (double maps to Float64)", fm.Type)
	}
	wantDims := []int{2, 2, 1}
	for i, d := range wantDims {
		if fm.Dims[i] != d {
			t.Errorf("dims[%d] = %d, want %d", i, fm.Dims[i], d)
		}
	}

	out := newFloat64View([]int{2, 2, 1}, nil)
	if err := s.Read("u", NewSavepoint("sp0", nil), out); err != nil {
		t.Fatalf("Read after legacy upgrade failed: %v", err)
	}
	got, err := out.Gather()
	if err != nil {
		t.Fatalf("Gather failed: %v", err)
	}
	if digest(got) != checksum {
		t.Errorf("read bytes' digest = %s, want %s", digest(got), checksum)
	}
}

func TestLegacyUpgradeReadOnly(t *testing.T) {
	dir := t.TempDir()
	payload := make([]byte, 32)
	checksum := digest(payload)
	writeLegacyFixture(t, dir, "p", payload, checksum)

	if _, err := Open(dir, "p", ModeAppend, nil); err == nil {
		t.Errorf("Open(Append) over a legacy-only archive should fail with ErrUpgradeReadOnly")
	}
	if _, err := Open(dir, "p", ModeWrite, nil); err == nil {
		t.Errorf("Open(Write) over a legacy-only archive should fail with ErrUpgradeReadOnly")
	}
}

func TestLegacyUpgradeDedupCarriesForward(t *testing.T) {
	dir := t.TempDir()
	payload := []byte("0123456789abcdef")
	checksum := digest(payload)

	if err := os.WriteFile(filepath.Join(dir, "p_u.dat"), payload, 0o644); err != nil {
		t.Fatalf("writing legacy data file: %v", err)
	}
	doc := fmt.Sprintf(`{
		"FieldsTable": [
			{"__name": "u", "__elementtype": "float", "__isize": 4}
		],
		"GlobalMetainfo": {},
		"OffsetTable": [
			{"__name": "sp0", "__offsets": {"u": [[0, %q]]}},
			{"__name": "sp1", "__offsets": {"u": [[0, %q]]}}
		]
	}`, checksum, checksum)
	if err := os.WriteFile(filepath.Join(dir, "p.json"), []byte(doc), 0o644); err != nil {
		t.Fatalf("writing legacy document: %v", err)
	}

	s, err := Open(dir, "p", ModeRead, nil)
	if err != nil {
		t.Fatalf("Open(Read) failed: %v", err)
	}
	defer s.Close()

	idx0 := s.sv.Find(NewSavepoint("sp0", nil))
	idx1 := s.sv.Find(NewSavepoint("sp1", nil))
	fid0, _ := s.sv.GetFieldID(idx0, "u")
	fid1, _ := s.sv.GetFieldID(idx1, "u")
	if fid0.ID != fid1.ID {
		t.Errorf("two legacy offset entries sharing a checksum got distinct ids: %d, %d", fid0.ID, fid1.ID)
	}
	if len(s.ar.tables["u"]) != 1 {
		t.Errorf("offset table for u has %d entries after dedup'd upgrade, want 1", len(s.ar.tables["u"]))
	}
}

func TestInferFloatTagPrefersFloat32WhenDeclared(t *testing.T) {
	entries := []map[string]json.RawMessage{
		{"__elementtype": json.RawMessage(`"double"`)},
		{"__elementtype": json.RawMessage(`"float"`)},
	}
	if got := inferFloatTag(entries); got != ElementTypeFloat32 {
		t.Errorf("inferFloatTag = %s, want float32 when any entry declares \"float\"", got)
	}

	noFloat := []map[string]json.RawMessage{
		{"__elementtype": json.RawMessage(`"double"`)},
	}
	if got := inferFloatTag(noFloat); got != ElementTypeFloat64 {
		t.Errorf("inferFloatTag = %s, want float64 when no entry declares \"float\"", got)
	}
}
