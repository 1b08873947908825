// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package freespace

import (
	"errors"
	"fmt"
	"slices"
)

// SectorMin is the minimum free space a shard must exceed before the
// planner considers it. Zero means any shard with a free byte
// qualifies.
const SectorMin int64 = 0

var (
	// ErrInsufficientSpace reports that the shards together do not have
	// enough free bytes for the requested blob.
	ErrInsufficientSpace = errors.New("freespace: insufficient free space")

	// ErrUnknownShard reports a segment that names a shard missing from
	// the snapshot.
	ErrUnknownShard = errors.New("freespace: unknown shard")
)

// Shard is an in-memory snapshot of one shard's allocation state.
type Shard struct {
	ID            int      `json:"id"`
	Size          int64    `json:"size"`
	FreeSpace     int64    `json:"free_space"`
	FreeIntervals FreeList `json:"free_intervals"`
}

// NewShard returns a shard of the given size that is entirely free.
func NewShard(id int, size int64) Shard {
	return Shard{
		ID:            id,
		Size:          size,
		FreeSpace:     size,
		FreeIntervals: FreeList{{Start: 0, End: size - 1}},
	}
}

// UsedSpace returns the number of allocated bytes in the shard.
func (s Shard) UsedSpace() int64 {
	return s.Size - s.FreeSpace
}

// Validate checks the free list against the shard size and the
// recorded free space.
func (s Shard) Validate() error {
	if err := s.FreeIntervals.Validate(s.Size); err != nil {
		return fmt.Errorf("shard %d: %w", s.ID, err)
	}
	if total := s.FreeIntervals.Total(); total != s.FreeSpace {
		return fmt.Errorf("freespace: shard %d records %d free bytes but its intervals hold %d",
			s.ID, s.FreeSpace, total)
	}
	return nil
}

// ShardPlan is the part of a [Plan] that touches one shard: the
// segments claimed from it and the free list that remains.
type ShardPlan struct {
	ShardID       int
	Segments      []Segment
	FreeIntervals FreeList
	FreeSpace     int64
}

// Claimed returns the number of bytes the plan takes from the shard.
func (p ShardPlan) Claimed() int64 {
	var total int64
	for _, segment := range p.Segments {
		total += segment.Len()
	}
	return total
}

// Plan is a complete placement for one blob. Only shards that receive
// at least one segment appear in Shards, in ascending id order.
type Plan struct {
	Size   int64
	Shards []ShardPlan
}

// Positions returns the placement in the form stored with the blob.
func (p Plan) Positions() Positions {
	positions := make(Positions, len(p.Shards))
	for _, shard := range p.Shards {
		positions[shard.ShardID] = slices.Clone(shard.Segments)
	}
	return positions
}

// PlanAllocation places size bytes across shards, first-fit by shard
// id. Within a shard the free intervals are consumed in list order,
// each claim taken from the start of its interval. The input snapshot
// is not modified.
func PlanAllocation(shards []Shard, size int64) (Plan, error) {
	if size < 0 {
		return Plan{}, fmt.Errorf("freespace: negative blob size %d", size)
	}
	plan := Plan{Size: size}
	if size == 0 {
		return plan, nil
	}

	ordered := slices.Clone(shards)
	slices.SortFunc(ordered, func(a, b Shard) int { return a.ID - b.ID })

	remaining := size
	for _, shard := range ordered {
		if remaining == 0 {
			break
		}
		if shard.FreeSpace <= SectorMin {
			continue
		}

		shardPlan := ShardPlan{ShardID: shard.ID, FreeSpace: shard.FreeSpace}
		for index, interval := range shard.FreeIntervals {
			if remaining == 0 {
				shardPlan.FreeIntervals = append(shardPlan.FreeIntervals, shard.FreeIntervals[index:]...)
				break
			}
			claimed := min(interval.Len(), remaining)
			shardPlan.Segments = append(shardPlan.Segments, Segment{
				SourceOffset: size - remaining,
				Start:        interval.Start,
				End:          interval.Start + claimed - 1,
			})
			remaining -= claimed
			shardPlan.FreeSpace -= claimed
			if claimed < interval.Len() {
				shardPlan.FreeIntervals = append(shardPlan.FreeIntervals, Interval{
					Start: interval.Start + claimed,
					End:   interval.End,
				})
			}
		}
		if shardPlan.FreeIntervals == nil {
			shardPlan.FreeIntervals = FreeList{}
		}
		if len(shardPlan.Segments) > 0 {
			plan.Shards = append(plan.Shards, shardPlan)
		}
	}

	if remaining > 0 {
		return Plan{}, fmt.Errorf("%w: %d bytes requested, %d could not be placed",
			ErrInsufficientSpace, size, remaining)
	}
	return plan, nil
}

// Reclaim returns the segments of a deleted blob to their shards. The
// result holds one updated snapshot per touched shard, ascending by id,
// with each free list sorted and coalesced. A freed segment that
// overlaps free space or falls outside its shard is an error and no
// snapshot is returned.
func Reclaim(shards []Shard, positions Positions) ([]Shard, error) {
	byID := make(map[int]Shard, len(shards))
	for _, shard := range shards {
		byID[shard.ID] = shard
	}

	updated := make([]Shard, 0, len(positions))
	for _, shardID := range positions.ShardIDs() {
		shard, ok := byID[shardID]
		if !ok {
			return nil, fmt.Errorf("%w: %d", ErrUnknownShard, shardID)
		}

		merged := shard.FreeIntervals.Clone()
		for _, segment := range positions[shardID] {
			if segment.Start < 0 || segment.End >= shard.Size || segment.End < segment.Start {
				return nil, fmt.Errorf("%w: segment [%d,%d] in shard %d of %d bytes",
					ErrOutOfRange, segment.Start, segment.End, shardID, shard.Size)
			}
			merged = append(merged, segment.Interval())
		}

		normalized, err := merged.Normalize()
		if err != nil {
			return nil, fmt.Errorf("freespace: reclaiming into shard %d: %w", shardID, err)
		}
		shard.FreeIntervals = normalized
		shard.FreeSpace = normalized.Total()
		updated = append(updated, shard)
	}
	return updated, nil
}

// Expand grows a shard to newSize. The new tail [oldSize, newSize-1]
// becomes free and merges with a free interval ending at oldSize-1.
// Existing intervals are untouched.
func Expand(shard Shard, newSize int64) (Shard, error) {
	if newSize < shard.Size {
		return Shard{}, fmt.Errorf("freespace: shard %d cannot shrink from %d to %d bytes",
			shard.ID, shard.Size, newSize)
	}
	if newSize == shard.Size {
		return shard, nil
	}

	grown := append(shard.FreeIntervals.Clone(), Interval{Start: shard.Size, End: newSize - 1})
	normalized, err := grown.Normalize()
	if err != nil {
		return Shard{}, fmt.Errorf("freespace: expanding shard %d: %w", shard.ID, err)
	}
	shard.Size = newSize
	shard.FreeIntervals = normalized
	shard.FreeSpace = normalized.Total()
	return shard, nil
}
