// Copyright 2026 The Fieldstore Authors. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

package fieldstore

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"golang.org/x/sys/unix"
)

// ErrLocked is returned when a Serializer in Write or Append mode cannot
// acquire the sidecar writer lock because another process already holds
// it.
var ErrLocked = errors.New("fieldstore: directory locked by another writer")

// writerLock is the advisory, non-blocking flock(2) a Serializer holds
// over its directory for the lifetime of a Write or Append session
// (spec.md §5). It guards against two processes racing to rewrite the
// same prefix's metadata document, not against a concurrent reader —
// Read-mode Serializers never take it.
type writerLock struct {
	f *os.File
}

// lockPath is the sidecar file a writerLock flocks: dir/.prefix.lock.
func lockPath(dir, prefix string) string {
	return filepath.Join(dir, "."+prefix+".lock")
}

// acquireWriterLock opens (creating if needed) dir's sidecar lock file
// for prefix and takes an exclusive, non-blocking flock on it. The
// caller owns the returned lock and must call release when done, even
// on a later error path.
func acquireWriterLock(dir, prefix string) (*writerLock, error) {
	path := lockPath(dir, prefix)
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return nil, fmt.Errorf("fieldstore: opening lock file %s: %w", path, err)
	}
	if err := unix.Flock(int(f.Fd()), unix.LOCK_EX|unix.LOCK_NB); err != nil {
		f.Close()
		if errors.Is(err, unix.EWOULDBLOCK) {
			return nil, fmt.Errorf("%w: %s", ErrLocked, path)
		}
		return nil, fmt.Errorf("fieldstore: locking %s: %w", path, err)
	}
	return &writerLock{f: f}, nil
}

// release drops the flock and closes the sidecar file. It does not
// remove the lock file itself: a concurrent racer may still hold an
// open handle to the inode, and unlinking out from under it would let
// a third process reuse the path while the second still believes it
// holds the lock.
func (l *writerLock) release() error {
	if l == nil || l.f == nil {
		return nil
	}
	if err := unix.Flock(int(l.f.Fd()), unix.LOCK_UN); err != nil {
		l.f.Close()
		return fmt.Errorf("fieldstore: unlocking %s: %w", l.f.Name(), err)
	}
	return l.f.Close()
}
