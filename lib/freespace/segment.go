// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package freespace

import (
	"errors"
	"fmt"
	"slices"
)

// ErrNotTiled reports positions whose segments do not cover the blob
// exactly once.
var ErrNotTiled = errors.New("freespace: segments do not tile the blob")

// Segment is one contiguous run of a blob stored in a shard. The bytes
// [SourceOffset, SourceOffset+Len()) of the blob live at the inclusive
// shard range [Start, End].
type Segment struct {
	SourceOffset int64 `json:"source_offset"`
	Start        int64 `json:"start"`
	End          int64 `json:"end"`
}

// Len returns the number of bytes in the segment.
func (s Segment) Len() int64 {
	return s.End - s.Start + 1
}

// Interval returns the shard range occupied by the segment.
func (s Segment) Interval() Interval {
	return Interval{Start: s.Start, End: s.End}
}

// Placement is a segment together with the shard that holds it.
type Placement struct {
	ShardID int `json:"shard_id"`
	Segment
}

// Positions maps shard ids to the segments each shard holds for one
// blob. Within a shard, segments are listed in increasing source
// offset.
type Positions map[int][]Segment

// Ordered flattens the positions into placements sorted by source
// offset, which is the order the blob bytes are read back in.
func (p Positions) Ordered() []Placement {
	var placements []Placement
	for shardID, segments := range p {
		for _, segment := range segments {
			placements = append(placements, Placement{ShardID: shardID, Segment: segment})
		}
	}
	slices.SortFunc(placements, func(a, b Placement) int {
		switch {
		case a.SourceOffset < b.SourceOffset:
			return -1
		case a.SourceOffset > b.SourceOffset:
			return 1
		default:
			return 0
		}
	})
	return placements
}

// Total returns the sum of all segment lengths.
func (p Positions) Total() int64 {
	var total int64
	for _, segments := range p {
		for _, segment := range segments {
			total += segment.Len()
		}
	}
	return total
}

// SegmentCount returns the number of segments across all shards.
func (p Positions) SegmentCount() int {
	count := 0
	for _, segments := range p {
		count += len(segments)
	}
	return count
}

// ShardIDs returns the ids of the shards holding part of the blob, in
// ascending order.
func (p Positions) ShardIDs() []int {
	ids := make([]int, 0, len(p))
	for shardID := range p {
		ids = append(ids, shardID)
	}
	slices.Sort(ids)
	return ids
}

// Validate checks that the segments, ordered by source offset, cover
// [0, size) exactly once with no gap and no overlap.
func (p Positions) Validate(size int64) error {
	var cursor int64
	for _, placement := range p.Ordered() {
		if placement.End < placement.Start || placement.Start < 0 {
			return fmt.Errorf("%w: shard %d segment [%d,%d]",
				ErrMalformed, placement.ShardID, placement.Start, placement.End)
		}
		if placement.SourceOffset != cursor {
			return fmt.Errorf("%w: expected source offset %d, shard %d segment starts at %d",
				ErrNotTiled, cursor, placement.ShardID, placement.SourceOffset)
		}
		cursor += placement.Len()
	}
	if cursor != size {
		return fmt.Errorf("%w: segments cover %d bytes of %d", ErrNotTiled, cursor, size)
	}
	return nil
}
