// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package mapstore

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"golang.org/x/sys/unix"
)

// lockFileName is the file in the store root whose flock marks the
// store as open. It holds the owner's process id for error messages.
const lockFileName = "lock"

// rootLock is an exclusive flock on a store root, held from Open until
// Close. The in-flight set and stale generation removal both assume no
// other handle is working in the same root.
type rootLock struct {
	file *os.File
}

// lockRoot takes the root's lock without waiting. A root held by
// another handle, in this process or another, is ErrLocked.
func lockRoot(root string) (*rootLock, error) {
	path := filepath.Join(root, lockFileName)
	file, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return nil, fmt.Errorf("%w: opening %s: %w", ErrIO, path, err)
	}

	if err := unix.Flock(int(file.Fd()), unix.LOCK_EX|unix.LOCK_NB); err != nil {
		holder, _ := os.ReadFile(path)
		file.Close()
		if errors.Is(err, unix.EWOULDBLOCK) {
			if owner := string(bytes.TrimSpace(holder)); owner != "" {
				return nil, fmt.Errorf("%w: %s is held by process %s", ErrLocked, root, owner)
			}
			return nil, fmt.Errorf("%w: %s", ErrLocked, root)
		}
		return nil, fmt.Errorf("%w: locking %s: %w", ErrIO, path, err)
	}

	// The pid is only informational; a failure to record it leaves
	// the lock itself intact.
	if err := file.Truncate(0); err == nil {
		file.WriteAt([]byte(strconv.Itoa(os.Getpid())+"\n"), 0)
	}
	return &rootLock{file: file}, nil
}

// release drops the lock. The file stays so that the next Open does
// not race a removal.
func (l *rootLock) release() error {
	if err := l.file.Truncate(0); err != nil {
		l.file.Close()
		return fmt.Errorf("%w: clearing lock: %w", ErrIO, err)
	}
	// Closing the descriptor releases the flock.
	if err := l.file.Close(); err != nil {
		return fmt.Errorf("%w: releasing lock: %w", ErrIO, err)
	}
	return nil
}
