// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package layout computes shard geometry: how a total capacity is cut
// into fixed-size shards, and what has to change when the configured
// geometry differs from what is already on disk.
//
// The package does no I/O. [Plan] compares a target [Geometry] with the
// recorded one and the current shard snapshots, and returns the
// [Changes] the caller applies to shard files and the catalog.
package layout

import (
	"errors"
	"fmt"

	"github.com/bureau-foundation/mapstore/lib/freespace"
)

var (
	// ErrInvalidGeometry reports a zero or negative shard size or
	// capacity.
	ErrInvalidGeometry = errors.New("layout: invalid geometry")

	// ErrConflict reports a geometry change that would invalidate
	// stored data: a different shard size, or less capacity, while
	// blobs exist.
	ErrConflict = errors.New("layout: geometry conflicts with stored data")
)

// Geometry describes how capacity is partitioned into shards.
type Geometry struct {
	// ShardSize is the size of every shard except possibly the last.
	ShardSize int64 `json:"map_size"`

	// Capacity is the total number of bytes across all shards.
	Capacity int64 `json:"allocation_size"`
}

// Validate rejects geometries that cannot hold any data.
func (g Geometry) Validate() error {
	if g.ShardSize <= 0 {
		return fmt.Errorf("%w: shard size must be positive, got %d", ErrInvalidGeometry, g.ShardSize)
	}
	if g.Capacity <= 0 {
		return fmt.Errorf("%w: capacity must be positive, got %d", ErrInvalidGeometry, g.Capacity)
	}
	return nil
}

// ShardCount returns ceil(Capacity / ShardSize).
func (g Geometry) ShardCount() int {
	return int((g.Capacity + g.ShardSize - 1) / g.ShardSize)
}

// ShardSizeOf returns the size of the shard with the given 1-based id.
// Every shard is ShardSize bytes except the last, which holds the
// remainder of the capacity. Ids past the last shard have size 0.
func (g Geometry) ShardSizeOf(id int) int64 {
	count := g.ShardCount()
	switch {
	case id < 1 || id > count:
		return 0
	case id < count:
		return g.ShardSize
	default:
		return g.Capacity - int64(count-1)*g.ShardSize
	}
}

// Shards returns fresh, entirely free snapshots for every shard.
func (g Geometry) Shards() []freespace.Shard {
	count := g.ShardCount()
	shards := make([]freespace.Shard, 0, count)
	for id := 1; id <= count; id++ {
		shards = append(shards, freespace.NewShard(id, g.ShardSizeOf(id)))
	}
	return shards
}

func (g Geometry) String() string {
	return fmt.Sprintf("%d shards of %d bytes (capacity %d)", g.ShardCount(), g.ShardSize, g.Capacity)
}

// Growth is an existing shard that gets larger.
type Growth struct {
	Before freespace.Shard
	After  freespace.Shard
}

// Changes is the work needed to move the store to a target geometry.
type Changes struct {
	// Rebuild means every existing shard is discarded and Create holds
	// the complete new set. Only allowed when no blobs are stored.
	Rebuild bool

	// Grow lists existing shards extended in place.
	Grow []Growth

	// Create lists shards that do not exist yet.
	Create []freespace.Shard

	// RecordLayout is true when the target differs from the recorded
	// geometry, or nothing was recorded, and a new layout record
	// should be appended.
	RecordLayout bool
}

// Empty reports whether no shard work is needed.
func (c Changes) Empty() bool {
	return !c.Rebuild && len(c.Grow) == 0 && len(c.Create) == 0
}

// Plan decides how to reach target from the recorded geometry and the
// current shards. recorded is nil on first initialization. hasBlobs
// reports whether any blob entry exists, finalized or not. A store with
// no blobs accepts any new geometry, including a smaller capacity, and
// is rebuilt from scratch.
func Plan(target Geometry, recorded *Geometry, existing []freespace.Shard, hasBlobs bool) (Changes, error) {
	if err := target.Validate(); err != nil {
		return Changes{}, err
	}

	changes := Changes{RecordLayout: recorded == nil || *recorded != target}

	if len(existing) == 0 {
		changes.Create = target.Shards()
		changes.Rebuild = recorded != nil
		return changes, nil
	}

	if recorded != nil && (recorded.ShardSize != target.ShardSize || target.Capacity < recorded.Capacity) {
		if hasBlobs {
			return Changes{}, fmt.Errorf("%w: recorded %s, requested %s", ErrConflict, *recorded, target)
		}
		changes.Rebuild = true
		changes.Create = target.Shards()
		return changes, nil
	}

	byID := make(map[int]freespace.Shard, len(existing))
	for _, shard := range existing {
		byID[shard.ID] = shard
	}

	for id := 1; id <= target.ShardCount(); id++ {
		size := target.ShardSizeOf(id)
		current, ok := byID[id]
		if !ok {
			changes.Create = append(changes.Create, freespace.NewShard(id, size))
			continue
		}
		switch {
		case size > current.Size:
			grown, err := freespace.Expand(current, size)
			if err != nil {
				return Changes{}, err
			}
			changes.Grow = append(changes.Grow, Growth{Before: current, After: grown})
		case size < current.Size:
			if hasBlobs {
				return Changes{}, fmt.Errorf("%w: shard %d is %d bytes, target is %d",
					ErrConflict, id, current.Size, size)
			}
			changes.Rebuild = true
			changes.Grow = nil
			changes.Create = target.Shards()
			return changes, nil
		}
	}

	for _, shard := range existing {
		if shard.ID > target.ShardCount() {
			if hasBlobs {
				return Changes{}, fmt.Errorf("%w: shard %d lies beyond the requested %d shards",
					ErrConflict, shard.ID, target.ShardCount())
			}
			changes.Rebuild = true
			changes.Grow = nil
			changes.Create = target.Shards()
			return changes, nil
		}
	}

	return changes, nil
}
