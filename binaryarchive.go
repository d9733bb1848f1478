// Copyright 2026 The Fieldstore Authors. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

package fieldstore

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"

	mmap "github.com/edsrzf/mmap-go"
	"github.com/go-kratos/kratos/v2/log"
)

// ErrMetadataCorrupt is returned when an on-disk document fails to parse
// or violates the schema spec.md requires of it — including a field data
// file whose length is less than the highest offset its own offset table
// references (spec.md §9 open question c).
var ErrMetadataCorrupt = errors.New("fieldstore: metadata corrupt")

const (
	archiveName           = "Binary"
	archiveChecksumSHA256 = 0x01
	archiveVersion        = 1<<8 | archiveChecksumSHA256 // low byte: checksum algorithm tag
)

// offsetRow is one [offset, size, "checksum"] entry as it appears in
// fields_table. It marshals to a 3-element JSON array with the checksum
// quoted as a string; encoding offset/size as json.Number instead would
// write the checksum as an unquoted (invalid) number literal, so this
// type exists purely to get the per-element JSON kind right.
type offsetRow struct {
	Offset   int64
	Size     int64
	Checksum string
}

func (r offsetRow) MarshalJSON() ([]byte, error) {
	return json.Marshal([3]any{r.Offset, r.Size, r.Checksum})
}

func (r *offsetRow) UnmarshalJSON(data []byte) error {
	var tuple [3]json.RawMessage
	if err := json.Unmarshal(data, &tuple); err != nil {
		return err
	}
	var offset, size int64
	var checksum string
	if err := json.Unmarshal(tuple[0], &offset); err != nil {
		return fmt.Errorf("offset: %w", err)
	}
	if err := json.Unmarshal(tuple[1], &size); err != nil {
		return fmt.Errorf("size: %w", err)
	}
	if err := json.Unmarshal(tuple[2], &checksum); err != nil {
		return fmt.Errorf("checksum: %w", err)
	}
	r.Offset, r.Size, r.Checksum = offset, size, checksum
	return nil
}

// archiveMetaDocument is the wire shape of ArchiveMetaData-<prefix>.json.
type archiveMetaDocument struct {
	ArchiveName    string                 `json:"archive_name"`
	ArchiveVersion int                    `json:"archive_version"`
	FieldsTable    map[string][]offsetRow `json:"fields_table"`
}

// BinaryArchive is the reference Archive: one append-only data file per
// field, plus a per-field offset/checksum table persisted to
// ArchiveMetaData-<prefix>.json. It is spec.md §4.4 in full.
type BinaryArchive struct {
	dir    string
	prefix string
	logger *log.Helper
	mmap   bool

	fieldOrder []string
	tables     map[string]FieldOffsetTable

	writeHandles map[string]*os.File
	readFiles    map[string]*os.File
	readMaps     map[string]mmap.MMap
}

// newBinaryArchive returns a BinaryArchive rooted at dir/prefix. It does
// not load existing metadata; call load for that.
func newBinaryArchive(dir, prefix string, useMmap bool, logger *log.Helper) *BinaryArchive {
	return &BinaryArchive{
		dir:          dir,
		prefix:       prefix,
		logger:       logger,
		mmap:         useMmap,
		tables:       make(map[string]FieldOffsetTable),
		writeHandles: make(map[string]*os.File),
		readFiles:    make(map[string]*os.File),
		readMaps:     make(map[string]mmap.MMap),
	}
}

func (a *BinaryArchive) metaPath() string {
	return filepath.Join(a.dir, "ArchiveMetaData-"+a.prefix+".json")
}

func (a *BinaryArchive) dataFilePath(name string) string {
	return filepath.Join(a.dir, a.prefix+"_"+name+".dat")
}

// load reads ArchiveMetaData-<prefix>.json if present. It is not an
// error for the file to be absent; the archive just starts empty (the
// Append-mode "metadata parsed if present, else created empty" rule in
// spec.md §4.5).
func (a *BinaryArchive) load() error {
	data, err := os.ReadFile(a.metaPath())
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("fieldstore: reading %s: %w", a.metaPath(), err)
	}

	var doc archiveMetaDocument
	if err := json.Unmarshal(data, &doc); err != nil {
		return fmt.Errorf("%w: %s: %v", ErrMetadataCorrupt, a.metaPath(), err)
	}
	if doc.ArchiveName != archiveName {
		return fmt.Errorf("%w: %s: unexpected archive_name %q", ErrMetadataCorrupt, a.metaPath(), doc.ArchiveName)
	}
	if doc.ArchiveVersion&0xff != archiveChecksumSHA256 {
		return fmt.Errorf("%w: %s: unsupported checksum algorithm tag %d", ErrMetadataCorrupt, a.metaPath(), doc.ArchiveVersion&0xff)
	}

	// doc.FieldsTable decodes via encoding/json's map support, which does
	// not preserve on-disk key order, so fieldOrder is sorted for
	// determinism across loads. persist does not consult fieldOrder:
	// encoding/json writes fields_table keys in sorted order.
	a.tables = make(map[string]FieldOffsetTable, len(doc.FieldsTable))
	a.fieldOrder = nil
	for name, rows := range doc.FieldsTable {
		table := make(FieldOffsetTable, 0, len(rows))
		for _, row := range rows {
			table = append(table, offsetEntry{Offset: row.Offset, Size: row.Size, Checksum: row.Checksum})
		}
		a.tables[name] = table
		a.fieldOrder = append(a.fieldOrder, name)
	}
	sort.Strings(a.fieldOrder)

	return a.verifyFileLengths()
}

// verifyFileLengths enforces spec.md §9's open question (c): a data file
// shorter than its highest referenced offset+size is corrupt.
func (a *BinaryArchive) verifyFileLengths() error {
	for name, table := range a.tables {
		if len(table) == 0 {
			continue
		}
		last := table[len(table)-1]
		want := last.Offset + last.Size
		info, err := os.Stat(a.dataFilePath(name))
		if err != nil {
			if errors.Is(err, os.ErrNotExist) {
				return fmt.Errorf("%w: missing data file for field %q", ErrMetadataCorrupt, name)
			}
			return fmt.Errorf("fieldstore: stat %s: %w", a.dataFilePath(name), err)
		}
		if info.Size() < want {
			return fmt.Errorf("%w: data file for field %q is %d bytes, shorter than referenced offset+size %d",
				ErrMetadataCorrupt, name, info.Size(), want)
		}
	}
	return nil
}

// persist atomically rewrites ArchiveMetaData-<prefix>.json.
func (a *BinaryArchive) persist() error {
	doc := archiveMetaDocument{
		ArchiveName:    archiveName,
		ArchiveVersion: archiveVersion,
		FieldsTable:    make(map[string][]offsetRow, len(a.tables)),
	}
	for name, table := range a.tables {
		rows := make([]offsetRow, len(table))
		for i, e := range table {
			rows[i] = offsetRow{Offset: e.Offset, Size: e.Size, Checksum: e.Checksum}
		}
		doc.FieldsTable[name] = rows
	}
	data, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("fieldstore: encoding %s: %w", a.metaPath(), err)
	}
	return writeFileAtomic(a.metaPath(), data, 0o644)
}

// registerField ensures a is tracking an (initially empty) offset table
// for name, appending name to fieldOrder the first time it is seen.
func (a *BinaryArchive) registerField(name string) {
	if _, ok := a.tables[name]; ok {
		return
	}
	a.tables[name] = FieldOffsetTable{}
	a.fieldOrder = append(a.fieldOrder, name)
}

// Write implements Archive.Write: spec.md §4.4's write algorithm.
func (a *BinaryArchive) Write(name string, view StorageView) (FieldID, error) {
	buf, err := view.Gather()
	if err != nil {
		return FieldID{}, fmt.Errorf("fieldstore: gathering view for field %q: %w", name, err)
	}
	c := digest(buf)

	a.registerField(name)
	table := a.tables[name]
	if idx := table.findChecksum(c); idx >= 0 {
		return FieldID{Name: name, ID: idx}, nil
	}

	f, err := a.writeHandle(name)
	if err != nil {
		return FieldID{}, err
	}
	info, err := f.Stat()
	if err != nil {
		return FieldID{}, fmt.Errorf("fieldstore: stat %s: %w", a.dataFilePath(name), err)
	}
	offset := info.Size()
	if _, err := f.Write(buf); err != nil {
		return FieldID{}, fmt.Errorf("fieldstore: appending to %s: %w", a.dataFilePath(name), err)
	}
	if err := f.Sync(); err != nil {
		return FieldID{}, fmt.Errorf("fieldstore: flushing %s: %w", a.dataFilePath(name), err)
	}

	table = append(table, offsetEntry{Offset: offset, Size: int64(len(buf)), Checksum: c})
	a.tables[name] = table
	id := len(table) - 1

	if err := a.persist(); err != nil {
		return FieldID{}, err
	}
	return FieldID{Name: name, ID: id}, nil
}

func (a *BinaryArchive) writeHandle(name string) (*os.File, error) {
	if f, ok := a.writeHandles[name]; ok {
		return f, nil
	}
	f, err := os.OpenFile(a.dataFilePath(name), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("fieldstore: opening %s for append: %w", a.dataFilePath(name), err)
	}
	a.writeHandles[name] = f
	return f, nil
}

// Read implements Archive.Read: spec.md §4.4's read algorithm.
func (a *BinaryArchive) Read(fid FieldID, view StorageView) error {
	table, ok := a.tables[fid.Name]
	if !ok || fid.ID < 0 || fid.ID >= len(table) {
		return fmt.Errorf("%w: %s[%d]", ErrArchiveEntryNotFound, fid.Name, fid.ID)
	}
	entry := table[fid.ID]

	buf := make([]byte, entry.Size)
	if err := a.readAt(fid.Name, entry.Offset, buf); err != nil {
		return err
	}
	if digest(buf) != entry.Checksum {
		return fmt.Errorf("%w: field %q id %d", ErrChecksumMismatch, fid.Name, fid.ID)
	}
	if err := view.Scatter(buf); err != nil {
		return fmt.Errorf("fieldstore: scattering field %q id %d into view: %w", fid.Name, fid.ID, err)
	}
	return nil
}

func (a *BinaryArchive) readAt(name string, offset int64, buf []byte) error {
	if a.mmap {
		m, err := a.readMap(name)
		if err != nil {
			return err
		}
		end := offset + int64(len(buf))
		if end > int64(len(m)) {
			return fmt.Errorf("%w: field %q", ErrShortRead, name)
		}
		copy(buf, m[offset:end])
		return nil
	}

	f, err := os.Open(a.dataFilePath(name))
	if err != nil {
		return fmt.Errorf("fieldstore: opening %s: %w", a.dataFilePath(name), err)
	}
	defer f.Close()

	n, err := f.ReadAt(buf, offset)
	if n == len(buf) {
		return nil
	}
	if errors.Is(err, io.EOF) || err == nil {
		return fmt.Errorf("%w: field %q", ErrShortRead, name)
	}
	return fmt.Errorf("fieldstore: reading %s: %w", a.dataFilePath(name), err)
}

func (a *BinaryArchive) readMap(name string) (mmap.MMap, error) {
	if m, ok := a.readMaps[name]; ok {
		return m, nil
	}
	f, err := os.Open(a.dataFilePath(name))
	if err != nil {
		return nil, fmt.Errorf("fieldstore: opening %s: %w", a.dataFilePath(name), err)
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("fieldstore: stat %s: %w", a.dataFilePath(name), err)
	}
	if info.Size() == 0 {
		// mmap.Map rejects zero-length files; nothing to map yet.
		a.readFiles[name] = f
		a.readMaps[name] = mmap.MMap{}
		return a.readMaps[name], nil
	}
	m, err := mmap.Map(f, mmap.RDONLY, 0)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("fieldstore: mmap %s: %w", a.dataFilePath(name), err)
	}
	a.readFiles[name] = f
	a.readMaps[name] = m
	return m, nil
}

// Clear implements Archive.Clear: truncate every field's data file and
// empty its offset table. It globs dir for <prefix>_*.dat rather than
// walking a.tables, since Clear is called right after construction on a
// ModeWrite open — before load() — when a.tables is still empty even
// though the directory may already hold data files from a prior session.
func (a *BinaryArchive) Clear() error {
	pattern := filepath.Join(a.dir, a.prefix+"_*.dat")
	matches, err := filepath.Glob(pattern)
	if err != nil {
		return fmt.Errorf("fieldstore: globbing %s: %w", pattern, err)
	}
	for _, path := range matches {
		if err := os.Truncate(path, 0); err != nil && !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("fieldstore: truncating %s: %w", path, err)
		}
	}
	a.tables = make(map[string]FieldOffsetTable)
	a.fieldOrder = nil
	for name, f := range a.writeHandles {
		f.Close()
		delete(a.writeHandles, name)
	}
	return a.persist()
}

// Close implements Archive.Close: release mmaps and write handles.
func (a *BinaryArchive) Close() error {
	var firstErr error
	for name, m := range a.readMaps {
		if len(m) > 0 {
			if err := m.Unmap(); err != nil && firstErr == nil {
				firstErr = err
			}
		}
		delete(a.readMaps, name)
	}
	for name, f := range a.readFiles {
		f.Close()
		delete(a.readFiles, name)
	}
	for name, f := range a.writeHandles {
		if err := f.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
		delete(a.writeHandles, name)
	}
	return firstErr
}
