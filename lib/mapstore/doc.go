// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package mapstore is a content-addressed blob store on pre-allocated
// shard files.
//
// A store's capacity is divided into fixed-size shard files. Each blob
// is placed first-fit into the free intervals of those shards and may
// be split across several of them. A transactional catalog records
// which byte ranges belong to which blob, and which are free.
//
// Storing a blob happens in three steps: space is reserved and an
// unfinished entry recorded, the bytes are written, and the entry is
// finalized. Only finalized entries are visible. Unfinished entries
// left behind by a crash are released by [Store.Reconcile], which
// [Open] runs automatically.
//
// On disk, a store root holds numbered generation directories and a
// "current" symlink naming the active one:
//
//	<root>/current -> gen-000001
//	<root>/gen-000001/catalog.sqlite
//	<root>/gen-000001/shards/1.map
//	<root>/gen-000001/shards/2.map
//
// [Store.Restructure] builds the next generation beside the active one
// and switches the link once every blob has been copied.
package mapstore
