// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

//go:build linux

package shardfile

import "golang.org/x/sys/unix"

// preallocate reserves blocks for [offset, offset+length). Mode 0
// extends the file size as well.
func preallocate(fd int, offset, length int64) error {
	return unix.Fallocate(fd, 0, offset, length)
}
