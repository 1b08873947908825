// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

//go:build darwin

package shardfile

import "golang.org/x/sys/unix"

// preallocate reserves length bytes past the current end of file.
// Contiguous allocation is tried first, then any allocation.
func preallocate(fd int, offset, length int64) error {
	store := &unix.Fstore_t{
		Flags:   unix.F_ALLOCATECONTIG | unix.F_ALLOCATEALL,
		Posmode: unix.F_PEOFPOSMODE,
		Offset:  0,
		Length:  length,
	}
	if err := unix.FcntlFstore(uintptr(fd), unix.F_PREALLOCATE, store); err == nil {
		return nil
	}
	store.Flags = unix.F_ALLOCATEALL
	return unix.FcntlFstore(uintptr(fd), unix.F_PREALLOCATE, store)
}
