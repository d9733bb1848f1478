// Copyright 2026 The Fieldstore Authors. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

package fieldstore

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"
)

func TestSerializerWriteReadRoundTrip(t *testing.T) {
	dir := t.TempDir()

	w, err := Open(dir, "p", ModeWrite, nil)
	if err != nil {
		t.Fatalf("Open(Write) failed: %v", err)
	}
	if err := w.RegisterField("f", ElementTypeFloat64, []int{2, 3}, nil); err != nil {
		t.Fatalf("RegisterField failed: %v", err)
	}
	sp := NewSavepoint("s", nil)
	view := newFloat64View([]int{2, 3}, []float64{1, 2, 3, 4, 5, 6})
	if err := w.Write("f", sp, view); err != nil {
		t.Fatalf("Write failed: %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	r, err := Open(dir, "p", ModeRead, nil)
	if err != nil {
		t.Fatalf("Open(Read) failed: %v", err)
	}
	defer r.Close()

	out := newFloat64View([]int{2, 3}, nil)
	if err := r.Read("f", sp, out); err != nil {
		t.Fatalf("Read failed: %v", err)
	}
	want := []float64{1, 2, 3, 4, 5, 6}
	for i, v := range want {
		if out.data[i] != v {
			t.Errorf("data[%d] = %v, want %v", i, out.data[i], v)
		}
	}
}

func TestSerializerDedupAcrossSavepoints(t *testing.T) {
	dir := t.TempDir()
	w, err := Open(dir, "p", ModeWrite, nil)
	if err != nil {
		t.Fatalf("Open(Write) failed: %v", err)
	}
	if err := w.RegisterField("f", ElementTypeFloat32, []int{2}, nil); err != nil {
		t.Fatalf("RegisterField failed: %v", err)
	}

	s1 := NewSavepoint("s1", nil)
	s2 := NewSavepoint("s2", nil)
	if err := w.Write("f", s1, newFloat32View([]int{2}, []float32{1, 2})); err != nil {
		t.Fatalf("Write(s1) failed: %v", err)
	}
	if err := w.Write("f", s2, newFloat32View([]int{2}, []float32{1, 2})); err != nil {
		t.Fatalf("Write(s2) failed: %v", err)
	}
	defer w.Close()

	idx1 := w.sv.Find(s1)
	idx2 := w.sv.Find(s2)
	fid1, _ := w.sv.GetFieldID(idx1, "f")
	fid2, _ := w.sv.GetFieldID(idx2, "f")
	if fid1.ID != fid2.ID {
		t.Errorf("identical content at two savepoints got ids %d, %d", fid1.ID, fid2.ID)
	}
}

func TestSerializerDuplicateAtSameSavepoint(t *testing.T) {
	dir := t.TempDir()
	w, err := Open(dir, "p", ModeWrite, nil)
	if err != nil {
		t.Fatalf("Open(Write) failed: %v", err)
	}
	defer w.Close()
	if err := w.RegisterField("f", ElementTypeFloat32, []int{1}, nil); err != nil {
		t.Fatalf("RegisterField failed: %v", err)
	}
	sp := NewSavepoint("s", nil)
	if err := w.Write("f", sp, newFloat32View([]int{1}, []float32{1})); err != nil {
		t.Fatalf("first Write failed: %v", err)
	}
	if err := w.Write("f", sp, newFloat32View([]int{1}, []float32{2})); !errors.Is(err, ErrFieldAlreadyAtSavepoint) {
		t.Errorf("second Write at the same savepoint: got %v, want ErrFieldAlreadyAtSavepoint", err)
	}
}

func TestSerializerVersionMismatch(t *testing.T) {
	dir := t.TempDir()
	doc := `{"serialbox_version":1,"prefix":"p","global_meta_info":{},"savepoint_vector":[],"field_map":{}}`
	if err := os.WriteFile(dir+"/MetaData-p.json", []byte(doc), 0o644); err != nil {
		t.Fatalf("writing fixture: %v", err)
	}
	if _, err := Open(dir, "p", ModeRead, nil); !errors.Is(err, ErrVersionMismatch) {
		t.Errorf("Open with out-of-window version: got %v, want ErrVersionMismatch", err)
	}
}

func TestSerializerPrefixMismatch(t *testing.T) {
	dir := t.TempDir()
	// The document's internal "prefix" field can diverge from the
	// filename's prefix if a directory is copied or relabeled; Open
	// must catch that even though MetaData-<prefix>.json was found by
	// the expected name.
	doc := fmt.Sprintf(`{"serialbox_version":%d,"prefix":"other","global_meta_info":{},"savepoint_vector":[],"field_map":{}}`, CurrentVersion)
	if err := os.WriteFile(dir+"/MetaData-p.json", []byte(doc), 0o644); err != nil {
		t.Fatalf("writing fixture: %v", err)
	}
	if _, err := Open(dir, "p", ModeRead, nil); !errors.Is(err, ErrPrefixMismatch) {
		t.Errorf("Open with mismatched prefix: got %v, want ErrPrefixMismatch", err)
	}
}

func TestSerializerReadModeRejectsWrite(t *testing.T) {
	dir := t.TempDir()
	w, err := Open(dir, "p", ModeWrite, nil)
	if err != nil {
		t.Fatalf("Open(Write) failed: %v", err)
	}
	w.RegisterField("f", ElementTypeFloat32, []int{1}, nil)
	w.Close()

	r, err := Open(dir, "p", ModeRead, nil)
	if err != nil {
		t.Fatalf("Open(Read) failed: %v", err)
	}
	defer r.Close()
	if err := r.Write("f", NewSavepoint("s", nil), newFloat32View([]int{1}, []float32{1})); !errors.Is(err, ErrSerializerNotWritable) {
		t.Errorf("Write in read mode: got %v, want ErrSerializerNotWritable", err)
	}
}

func TestSerializerShapeMismatch(t *testing.T) {
	dir := t.TempDir()
	w, err := Open(dir, "p", ModeWrite, nil)
	if err != nil {
		t.Fatalf("Open(Write) failed: %v", err)
	}
	defer w.Close()
	if err := w.RegisterField("f", ElementTypeFloat32, []int{2}, nil); err != nil {
		t.Fatalf("RegisterField failed: %v", err)
	}
	err = w.Write("f", NewSavepoint("s", nil), newFloat32View([]int{3}, []float32{1, 2, 3}))
	var shapeErr *ShapeMismatch
	if !errors.As(err, &shapeErr) {
		t.Errorf("Write with mismatched dims: got %v, want *ShapeMismatch", err)
	}
}

func TestSerializerAppendModeWritesOverExistingArchive(t *testing.T) {
	dir := t.TempDir()
	w, err := Open(dir, "p", ModeWrite, nil)
	if err != nil {
		t.Fatalf("Open(Write) failed: %v", err)
	}
	w.RegisterField("f", ElementTypeFloat32, []int{1}, nil)
	if err := w.Write("f", NewSavepoint("s1", nil), newFloat32View([]int{1}, []float32{1})); err != nil {
		t.Fatalf("Write failed: %v", err)
	}
	w.Close()

	a, err := Open(dir, "p", ModeAppend, nil)
	if err != nil {
		t.Fatalf("Open(Append) failed: %v", err)
	}
	if err := a.Write("f", NewSavepoint("s2", nil), newFloat32View([]int{1}, []float32{1})); err != nil {
		t.Fatalf("Write in Append mode failed: %v", err)
	}
	a.Close()

	r, err := Open(dir, "p", ModeRead, nil)
	if err != nil {
		t.Fatalf("Open(Read) failed: %v", err)
	}
	defer r.Close()
	if len(r.SavepointNames()) != 2 {
		t.Errorf("got %d savepoints after append, want 2", len(r.SavepointNames()))
	}
	idx1 := r.sv.Find(NewSavepoint("s1", nil))
	idx2 := r.sv.Find(NewSavepoint("s2", nil))
	fid1, _ := r.sv.GetFieldID(idx1, "f")
	fid2, _ := r.sv.GetFieldID(idx2, "f")
	if fid1.ID != fid2.ID {
		t.Errorf("dedup across Write+Append sessions failed: ids %d, %d", fid1.ID, fid2.ID)
	}
}

func TestSerializerWriteModeClearsExistingArchive(t *testing.T) {
	dir := t.TempDir()

	w1, err := Open(dir, "p", ModeWrite, nil)
	if err != nil {
		t.Fatalf("first Open(Write) failed: %v", err)
	}
	if err := w1.RegisterField("f", ElementTypeFloat32, []int{2}, nil); err != nil {
		t.Fatalf("RegisterField failed: %v", err)
	}
	if err := w1.Write("f", NewSavepoint("s1", nil), newFloat32View([]int{2}, []float32{1, 2})); err != nil {
		t.Fatalf("first Write failed: %v", err)
	}
	if err := w1.Close(); err != nil {
		t.Fatalf("first Close failed: %v", err)
	}

	// Re-opening the same directory in Write mode must clear both the
	// in-memory and on-disk archive state, including the stale bytes
	// already sitting in p_f.dat, not just reset the offset table.
	w2, err := Open(dir, "p", ModeWrite, nil)
	if err != nil {
		t.Fatalf("second Open(Write) failed: %v", err)
	}
	if err := w2.RegisterField("f", ElementTypeFloat32, []int{1}, nil); err != nil {
		t.Fatalf("RegisterField failed: %v", err)
	}
	fid, err := w2.ar.Write("f", newFloat32View([]int{1}, []float32{9}))
	if err != nil {
		t.Fatalf("second Write failed: %v", err)
	}
	if fid.ID != 0 {
		t.Errorf("first write to a re-cleared archive got id %d, want 0", fid.ID)
	}
	if err := w2.Close(); err != nil {
		t.Fatalf("second Close failed: %v", err)
	}

	info, err := os.Stat(filepath.Join(dir, "p_f.dat"))
	if err != nil {
		t.Fatalf("stat data file: %v", err)
	}
	if info.Size() != 4 {
		t.Errorf("data file size after reopening in Write mode = %d, want 4 (stale bytes from the prior session must not survive)", info.Size())
	}
}

func TestSerializerReadHonorsMmapOption(t *testing.T) {
	dir := t.TempDir()
	w, err := Open(dir, "p", ModeWrite, nil)
	if err != nil {
		t.Fatalf("Open(Write) failed: %v", err)
	}
	if err := w.RegisterField("f", ElementTypeFloat32, []int{1}, nil); err != nil {
		t.Fatalf("RegisterField failed: %v", err)
	}
	if err := w.Write("f", NewSavepoint("s", nil), newFloat32View([]int{1}, []float32{1})); err != nil {
		t.Fatalf("Write failed: %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	disabled := false
	r, err := Open(dir, "p", ModeRead, &Options{Mmap: &disabled})
	if err != nil {
		t.Fatalf("Open(Read) failed: %v", err)
	}
	defer r.Close()
	if r.ar.mmap {
		t.Errorf("Options.Mmap: false was not honored by the Read-mode archive")
	}

	out := newFloat32View([]int{1}, nil)
	if err := r.Read("f", NewSavepoint("s", nil), out); err != nil {
		t.Fatalf("Read with mmap disabled failed: %v", err)
	}
	if out.data[0] != 1 {
		t.Errorf("Read with mmap disabled = %v, want [1]", out.data)
	}
}
