// Copyright 2026 The Fieldstore Authors. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

package fieldstore

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/go-kratos/kratos/v2/log"
)

// Mode selects how a Serializer may be used for the lifetime of one Open
// call (spec.md §4.5).
type Mode int

const (
	// ModeRead opens an existing archive for reading only. No mutating
	// operation is permitted.
	ModeRead Mode = iota
	// ModeWrite creates the directory if absent and clears any existing
	// archive state for the prefix, in memory and on disk.
	ModeWrite
	// ModeAppend requires the directory to exist; existing metadata is
	// parsed if present, otherwise treated as empty. Dedup applies across
	// old and new content.
	ModeAppend
)

func (m Mode) String() string {
	switch m {
	case ModeRead:
		return "read"
	case ModeWrite:
		return "write"
	case ModeAppend:
		return "append"
	default:
		return "unknown"
	}
}

// CurrentVersion is this library's serialbox_version. Compatibility is
// "same major, on-disk minor <= current minor" (spec.md §9 open question
// a; see DESIGN.md for why this exact window was chosen over any other).
const CurrentVersion = 210

func versionMajor(v int) int { return v / 100 }
func versionMinor(v int) int { return (v / 10) % 10 }

// Options configures Open. A nil Options is equivalent to &Options{}: no
// logger override, lock enabled, mmap enabled.
type Options struct {
	// Logger overrides the default stdout/LevelError logger.
	Logger log.Logger
	// ChecksumAlgorithm is reserved for a future algorithm switch; the
	// engine currently always uses SHA-256 and this field has no effect
	// (spec.md §9 open question b; see SPEC_FULL.md §8 and DESIGN.md).
	ChecksumAlgorithm string
	// Lock disables the advisory writer lock when explicitly set false.
	// Defaults to true (enabled) for Write/Append modes; ignored in Read
	// mode, which never locks.
	Lock *bool
	// Mmap disables memory-mapped archive reads when explicitly set
	// false. Defaults to true.
	Mmap *bool
}

func (o *Options) logger() *log.Helper {
	if o != nil && o.Logger != nil {
		return log.NewHelper(o.Logger)
	}
	return log.NewHelper(log.NewFilter(log.NewStdLogger(os.Stdout), log.FilterLevel(log.LevelError)))
}

func (o *Options) lockEnabled() bool {
	if o != nil && o.Lock != nil {
		return *o.Lock
	}
	return true
}

func (o *Options) mmapEnabled() bool {
	if o != nil && o.Mmap != nil {
		return *o.Mmap
	}
	return true
}

// Errors raised directly by the Serializer core. Archive- and value-level
// errors are declared in their own files (archive.go, value.go, ...).
var (
	ErrSerializerNotWritable = errors.New("fieldstore: serializer not opened for writing")
	ErrSerializerNotReadable = errors.New("fieldstore: serializer not opened for reading")
	ErrDirectoryMissing      = errors.New("fieldstore: archive directory does not exist")
	ErrMetadataNotFound      = errors.New("fieldstore: metadata document not found")
	ErrFieldNotRegistered    = errors.New("fieldstore: field not registered")
	ErrSavepointNotFound     = errors.New("fieldstore: savepoint not found")
	ErrFieldNotAtSavepoint   = errors.New("fieldstore: field not recorded at savepoint")
	ErrVersionMismatch       = errors.New("fieldstore: serialbox_version outside compatibility window")
	ErrPrefixMismatch        = errors.New("fieldstore: prefix does not match archive directory")
)

// ShapeMismatch reports a storage view whose declared type or dims
// contradict the field's registered FieldMeta.
type ShapeMismatch struct {
	Field    string
	WantType ElementType
	GotType  ElementType
	WantDims []int
	GotDims  []int
}

func (e *ShapeMismatch) Error() string {
	return fmt.Sprintf("fieldstore: field %q: registered as %s%v, view is %s%v",
		e.Field, e.WantType, e.WantDims, e.GotType, e.GotDims)
}

// Serializer composes the global Metainfo, FieldMap, SavepointVector, and
// Archive into the read/write contract of spec.md §4.5. It is not safe
// for concurrent use from multiple goroutines.
type Serializer struct {
	dir    string
	prefix string
	mode   Mode
	logger *log.Helper
	mmap   bool

	global *Metainfo
	fields *FieldMap
	sv     *SavepointVector
	ar     *BinaryArchive

	lock *writerLock
}

// metaDocument is MetaData-<prefix>.json's wire shape.
type metaDocument struct {
	Version     int             `json:"serialbox_version"`
	Prefix      string          `json:"prefix"`
	GlobalMeta  json.RawMessage `json:"global_meta_info"`
	Savepoints  json.RawMessage `json:"savepoint_vector"`
	FieldMapDoc json.RawMessage `json:"field_map"`
}

func (s *Serializer) metaPath() string {
	return filepath.Join(s.dir, "MetaData-"+s.prefix+".json")
}

func (s *Serializer) legacyPath() string {
	return filepath.Join(s.dir, s.prefix+".json")
}

// Open opens or creates an archive rooted at dir under prefix, in mode.
// It is the sole constructor, mirroring the teacher's New/NewBytes pair —
// here there is no bytes-buffer variant, since archives are always
// directories on disk (spec.md §6).
func Open(dir, prefix string, mode Mode, opts *Options) (*Serializer, error) {
	s := &Serializer{
		dir:    dir,
		prefix: prefix,
		mode:   mode,
		logger: opts.logger(),
		mmap:   opts.mmapEnabled(),
		global: NewMetainfo(),
		fields: NewFieldMap(),
		sv:     NewSavepointVector(),
	}

	switch mode {
	case ModeRead:
		info, err := os.Stat(dir)
		if err != nil || !info.IsDir() {
			return nil, fmt.Errorf("%w: %s", ErrDirectoryMissing, dir)
		}
		if err := s.openForRead(); err != nil {
			return nil, err
		}

	case ModeWrite:
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("fieldstore: creating %s: %w", dir, err)
		}
		if legacy, err := s.needsUpgrade(); err != nil {
			return nil, err
		} else if legacy {
			return nil, fmt.Errorf("%w: %s", ErrUpgradeReadOnly, s.legacyPath())
		}
		if opts.lockEnabled() {
			l, err := acquireWriterLock(dir, prefix)
			if err != nil {
				return nil, err
			}
			s.lock = l
		}
		s.ar = newBinaryArchive(dir, prefix, s.mmap, s.logger)
		if err := s.ar.Clear(); err != nil {
			s.releaseLock()
			return nil, err
		}
		if err := s.persist(); err != nil {
			s.releaseLock()
			return nil, err
		}

	case ModeAppend:
		info, err := os.Stat(dir)
		if err != nil || !info.IsDir() {
			return nil, fmt.Errorf("%w: %s", ErrDirectoryMissing, dir)
		}
		if legacy, err := s.needsUpgrade(); err != nil {
			return nil, err
		} else if legacy {
			return nil, fmt.Errorf("%w: %s", ErrUpgradeReadOnly, s.legacyPath())
		}
		if opts.lockEnabled() {
			l, err := acquireWriterLock(dir, prefix)
			if err != nil {
				return nil, err
			}
			s.lock = l
		}
		if err := s.loadExistingOrEmpty(); err != nil {
			s.releaseLock()
			return nil, err
		}

	default:
		return nil, fmt.Errorf("fieldstore: unknown mode %v", mode)
	}

	return s, nil
}

func (s *Serializer) releaseLock() {
	if s.lock != nil {
		s.lock.release()
		s.lock = nil
	}
}

// openForRead loads an existing archive, running the legacy upgrade first
// if only the legacy document is present or it postdates the current one.
func (s *Serializer) openForRead() error {
	upgrade, err := s.needsUpgrade()
	if err != nil {
		return err
	}
	if upgrade {
		// runLegacyUpgrade already populates s.global/s.fields/s.sv/s.ar
		// in memory and best-effort persists them; re-reading the just-
		// written documents would only fail spuriously if that best-
		// effort persist didn't succeed.
		return s.runLegacyUpgrade()
	}

	data, err := os.ReadFile(s.metaPath())
	if errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("%w: %s", ErrMetadataNotFound, s.metaPath())
	}
	if err != nil {
		return fmt.Errorf("fieldstore: reading %s: %w", s.metaPath(), err)
	}
	if err := s.decodeMetaDocument(data); err != nil {
		return err
	}

	s.ar = newBinaryArchive(s.dir, s.prefix, s.mmap, s.logger)
	return s.ar.load()
}

// needsUpgrade reports whether the legacy document should be migrated
// before a Read-mode open proceeds (SPEC_FULL.md §6.6).
func (s *Serializer) needsUpgrade() (bool, error) {
	legacyInfo, err := os.Stat(s.legacyPath())
	if errors.Is(err, os.ErrNotExist) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("fieldstore: stat %s: %w", s.legacyPath(), err)
	}
	currentInfo, err := os.Stat(s.metaPath())
	if errors.Is(err, os.ErrNotExist) {
		return true, nil
	}
	if err != nil {
		return false, fmt.Errorf("fieldstore: stat %s: %w", s.metaPath(), err)
	}
	return legacyInfo.ModTime().After(currentInfo.ModTime()), nil
}

// loadExistingOrEmpty implements Append mode's "parsed if present, else
// created empty" rule.
func (s *Serializer) loadExistingOrEmpty() error {
	s.ar = newBinaryArchive(s.dir, s.prefix, s.mmap, s.logger)
	if err := s.ar.load(); err != nil {
		return err
	}

	data, err := os.ReadFile(s.metaPath())
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("fieldstore: reading %s: %w", s.metaPath(), err)
	}
	return s.decodeMetaDocument(data)
}

// decodeMetaDocument parses and validates MetaData-<prefix>.json,
// enforcing version and prefix checks before touching any in-memory
// state (spec.md §6).
func (s *Serializer) decodeMetaDocument(data []byte) error {
	var doc metaDocument
	if err := json.Unmarshal(data, &doc); err != nil {
		return fmt.Errorf("%w: %s: %v", ErrMetadataCorrupt, s.metaPath(), err)
	}
	if doc.Version == 0 {
		return fmt.Errorf("%w: %s: missing serialbox_version", ErrMetadataCorrupt, s.metaPath())
	}
	if versionMajor(doc.Version) != versionMajor(CurrentVersion) || versionMinor(doc.Version) > versionMinor(CurrentVersion) {
		return fmt.Errorf("%w: document version %d, library version %d", ErrVersionMismatch, doc.Version, CurrentVersion)
	}
	if doc.Prefix != s.prefix {
		return fmt.Errorf("%w: document prefix %q, expected %q", ErrPrefixMismatch, doc.Prefix, s.prefix)
	}

	global := NewMetainfo()
	if len(doc.GlobalMeta) > 0 {
		if err := global.UnmarshalJSON(doc.GlobalMeta); err != nil {
			return fmt.Errorf("%w: %s: global_meta_info: %v", ErrMetadataCorrupt, s.metaPath(), err)
		}
	}
	fields := NewFieldMap()
	if len(doc.FieldMapDoc) > 0 {
		if err := fields.UnmarshalJSON(doc.FieldMapDoc); err != nil {
			return fmt.Errorf("%w: %s: field_map: %v", ErrMetadataCorrupt, s.metaPath(), err)
		}
	}
	sv := NewSavepointVector()
	if len(doc.Savepoints) > 0 {
		if err := sv.UnmarshalJSON(doc.Savepoints); err != nil {
			return fmt.Errorf("%w: %s: savepoint_vector: %v", ErrMetadataCorrupt, s.metaPath(), err)
		}
	}

	s.global = global
	s.fields = fields
	s.sv = sv
	return nil
}

// persist atomically rewrites MetaData-<prefix>.json (spec.md §4.5 step
// 7, §5's temp-file+rename requirement).
func (s *Serializer) persist() error {
	globalJSON, err := s.global.MarshalJSON()
	if err != nil {
		return fmt.Errorf("fieldstore: encoding global_meta_info: %w", err)
	}
	svJSON, err := s.sv.MarshalJSON()
	if err != nil {
		return fmt.Errorf("fieldstore: encoding savepoint_vector: %w", err)
	}
	fieldsJSON, err := s.fields.MarshalJSON()
	if err != nil {
		return fmt.Errorf("fieldstore: encoding field_map: %w", err)
	}
	doc := metaDocument{
		Version:     CurrentVersion,
		Prefix:      s.prefix,
		GlobalMeta:  globalJSON,
		Savepoints:  svJSON,
		FieldMapDoc: fieldsJSON,
	}
	data, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("fieldstore: encoding %s: %w", s.metaPath(), err)
	}
	return writeFileAtomic(s.metaPath(), data, 0o644)
}

// Global returns the serializer's global Metainfo map. Mutations are
// visible immediately but are only persisted on the next write.
func (s *Serializer) Global() *Metainfo { return s.global }

// FieldNames returns every registered field name, in registration order.
func (s *Serializer) FieldNames() []string { return s.fields.Names() }

// SavepointNames returns every savepoint's name, in insertion order.
func (s *Serializer) SavepointNames() []string {
	names := make([]string, s.sv.Len())
	for i := range names {
		names[i] = s.sv.At(i).Name
	}
	return names
}

// RegisterField registers name with the given type, dims, and optional
// per-field meta, delegating to FieldMap's idempotent-insert rule
// (spec.md §4.2).
func (s *Serializer) RegisterField(name string, typ ElementType, dims []int, meta *Metainfo) error {
	fm, err := NewFieldMeta(typ, dims, meta)
	if err != nil {
		return err
	}
	return s.fields.Insert(name, fm)
}

// checkStorageView enforces spec.md §4.5's shared precondition for both
// write and read: the field must be registered, and the view's type and
// dims must match exactly.
func (s *Serializer) checkStorageView(name string, view StorageView) (FieldMeta, error) {
	fm, ok := s.fields.FindField(name)
	if !ok {
		return FieldMeta{}, fmt.Errorf("%w: %s", ErrFieldNotRegistered, name)
	}
	if fm.Type != view.ElementType() || !dimsEqual(fm.Dims, view.Dims()) {
		return FieldMeta{}, &ShapeMismatch{
			Field:    name,
			WantType: fm.Type,
			GotType:  view.ElementType(),
			WantDims: fm.Dims,
			GotDims:  view.Dims(),
		}
	}
	return fm, nil
}

// Write implements spec.md §4.5's write algorithm.
func (s *Serializer) Write(name string, sp Savepoint, view StorageView) error {
	if s.mode != ModeWrite && s.mode != ModeAppend {
		return ErrSerializerNotWritable
	}
	if _, err := s.checkStorageView(name, view); err != nil {
		return err
	}

	preexisting := s.sv.Find(sp) >= 0
	idx := s.sv.Insert(sp)
	if s.sv.HasField(idx, name) {
		if !preexisting {
			s.sv.removeIfTrailingEmpty(idx)
		}
		return fmt.Errorf("%w: %s at savepoint %q", ErrFieldAlreadyAtSavepoint, name, sp.Name)
	}

	fid, err := s.ar.Write(name, view)
	if err != nil {
		if !preexisting {
			s.sv.removeIfTrailingEmpty(idx)
		}
		return err
	}
	if err := s.sv.AddField(idx, name, fid); err != nil {
		return err
	}

	return s.persist()
}

// Read implements spec.md §4.5's read algorithm.
func (s *Serializer) Read(name string, sp Savepoint, view StorageView) error {
	if s.mode != ModeRead {
		return ErrSerializerNotReadable
	}
	if _, err := s.checkStorageView(name, view); err != nil {
		return err
	}

	idx := s.sv.Find(sp)
	if idx < 0 {
		return fmt.Errorf("%w: %q", ErrSavepointNotFound, sp.Name)
	}
	fid, ok := s.sv.GetFieldID(idx, name)
	if !ok {
		return fmt.Errorf("%w: %s at savepoint %q", ErrFieldNotAtSavepoint, name, sp.Name)
	}
	return s.ar.Read(fid, view)
}

// Flush is a documented no-op: every mutating operation already persists
// eagerly (spec.md §9, "default is eager persistence"). It exists so a
// caller written against a future batching mode does not need to change
// call sites if one is ever added.
func (s *Serializer) Flush() error { return nil }

// Close releases the archive's mmap'd regions and write handles and the
// advisory writer lock, if held. Safe to call more than once.
func (s *Serializer) Close() error {
	var firstErr error
	if s.ar != nil {
		if err := s.ar.Close(); err != nil {
			firstErr = err
		}
	}
	if err := s.lock.release(); err != nil && firstErr == nil {
		firstErr = err
	}
	s.lock = nil
	return firstErr
}
