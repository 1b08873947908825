// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package shardfile manages the fixed-size backing files that hold
// blob bytes.
//
// A shard file is created at its full size up front. With
// preallocation the filesystem reserves every block immediately
// (fallocate on Linux, F_PREALLOCATE on Darwin), so a later write can
// never fail for lack of space. Without it the file is sparse and
// blocks are assigned on first write.
//
// Open files are read through a read-only shared memory map and
// written with pwrite, the same split used for other fixed-size
// devices: reads cost no system call once pages are resident, and
// writes never fault pages in just to overwrite them.
//
// [Set] owns the directory of shard files for one store, named
// <dir>/<id>.map, and caches open handles by shard id.
package shardfile
