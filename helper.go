// Copyright 2026 The Fieldstore Authors. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

package fieldstore

import (
	"bytes"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	sha256simd "github.com/minio/sha256-simd"
)

// digest computes the content hash spec.md §6 calls the checksum: SHA-256
// over the raw payload bytes, hex-encoded lowercase. It is both the dedup
// key and the integrity seal (spec.md §9) — picking one algorithm and
// never mixing it within an archive is load-bearing, so this is the only
// place in the package that touches a hash.Hash over payload content.
func digest(b []byte) string {
	sum := sha256simd.Sum256(b)
	return hex.EncodeToString(sum[:])
}

// writeFileAtomic writes data to path by writing a sibling temp file,
// flushing, and renaming over the target — spec.md §5's atomicity
// requirement for metadata documents. perm is applied to the temp file
// before rename.
func writeFileAtomic(path string, data []byte, perm os.FileMode) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, ".tmp-"+filepath.Base(path)+"-*")
	if err != nil {
		return fmt.Errorf("fieldstore: creating temp file for %s: %w", path, err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName) // no-op once the rename below succeeds

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("fieldstore: writing temp file for %s: %w", path, err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("fieldstore: flushing temp file for %s: %w", path, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("fieldstore: closing temp file for %s: %w", path, err)
	}
	if err := os.Chmod(tmpName, perm); err != nil {
		return fmt.Errorf("fieldstore: chmod temp file for %s: %w", path, err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		return fmt.Errorf("fieldstore: renaming temp file onto %s: %w", path, err)
	}
	return nil
}

// decodeOrderedObject walks a JSON object's keys in on-disk order,
// calling fn for each (key, rawValue) pair. encoding/json offers no
// order-preserving map decode, so this reimplements just enough of one
// using the token-level Decoder, the same technique Metainfo.UnmarshalJSON
// uses for its own object.
func decodeOrderedObject(data []byte, fn func(key string, raw json.RawMessage) error) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()

	tok, err := dec.Token()
	if err != nil {
		return err
	}
	if d, ok := tok.(json.Delim); !ok || d != '{' {
		return fmt.Errorf("fieldstore: expected object, got %v", tok)
	}
	for dec.More() {
		keyTok, err := dec.Token()
		if err != nil {
			return err
		}
		key, ok := keyTok.(string)
		if !ok {
			return fmt.Errorf("fieldstore: non-string key %v", keyTok)
		}
		var raw json.RawMessage
		if err := dec.Decode(&raw); err != nil {
			return err
		}
		if err := fn(key, raw); err != nil {
			return err
		}
	}
	_, err = dec.Token()
	return err
}
