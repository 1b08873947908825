// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package freespace tracks unallocated byte ranges inside fixed-size
// shard files and plans where new blobs go.
//
// Each shard owns a [FreeList]: sorted, disjoint, non-adjacent
// inclusive intervals [start, end]. A blob stored across shards is
// described by [Positions], a map from shard id to the [Segment] runs
// that hold it. Segments carry a source offset so the blob can be
// reassembled in order regardless of which shards hold which parts.
//
// All functions in this package are pure: they operate on in-memory
// snapshots ([Shard]) and return updated copies. Persisting the result
// is the caller's job, typically inside one catalog transaction:
//
//	plan, err := freespace.PlanAllocation(shards, size)
//	if err != nil {
//	    return err // ErrInsufficientSpace when capacity is exhausted
//	}
//	for _, shard := range plan.Shards {
//	    // write shard.FreeIntervals and shard.FreeSpace back
//	}
//	positions := plan.Positions()
//
// Freed segments go back through [Reclaim], which merges them into the
// owning shard's list and coalesces neighbours. Growing a shard appends
// its new tail through [Expand].
package freespace
