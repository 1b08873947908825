// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package freespace

import (
	"errors"
	"fmt"
	"slices"
)

var (
	// ErrOverlap reports two ranges that claim the same byte. In a
	// healthy catalog a freed segment never overlaps a free interval,
	// so this means the metadata is corrupt.
	ErrOverlap = errors.New("freespace: overlapping ranges")

	// ErrOutOfRange reports a range that does not fit inside its shard.
	ErrOutOfRange = errors.New("freespace: range outside shard bounds")

	// ErrMalformed reports an interval whose end precedes its start.
	ErrMalformed = errors.New("freespace: malformed range")
)

// Interval is an inclusive byte range [Start, End] inside one shard.
type Interval struct {
	Start int64 `json:"start"`
	End   int64 `json:"end"`
}

// Len returns the number of bytes the interval covers.
func (i Interval) Len() int64 {
	return i.End - i.Start + 1
}

func (i Interval) String() string {
	return fmt.Sprintf("[%d,%d]", i.Start, i.End)
}

// FreeList is the set of unallocated intervals in one shard. At rest it
// is sorted by Start, with no overlapping and no adjacent intervals.
type FreeList []Interval

// Total returns the number of free bytes in the list.
func (l FreeList) Total() int64 {
	var total int64
	for _, interval := range l {
		total += interval.Len()
	}
	return total
}

// Clone returns an independent copy of the list.
func (l FreeList) Clone() FreeList {
	if l == nil {
		return nil
	}
	return slices.Clone(l)
}

// Normalize returns a sorted copy of the list with adjacent intervals
// merged. Overlapping or malformed intervals are an error: the list
// is left to the caller unchanged.
func (l FreeList) Normalize() (FreeList, error) {
	if len(l) == 0 {
		return FreeList{}, nil
	}

	sorted := slices.Clone(l)
	slices.SortFunc(sorted, func(a, b Interval) int {
		switch {
		case a.Start < b.Start:
			return -1
		case a.Start > b.Start:
			return 1
		default:
			return 0
		}
	})

	merged := make(FreeList, 0, len(sorted))
	for _, interval := range sorted {
		if interval.End < interval.Start {
			return nil, fmt.Errorf("%w: %s", ErrMalformed, interval)
		}
		if len(merged) == 0 {
			merged = append(merged, interval)
			continue
		}
		last := &merged[len(merged)-1]
		switch {
		case interval.Start <= last.End:
			return nil, fmt.Errorf("%w: %s and %s", ErrOverlap, *last, interval)
		case interval.Start == last.End+1:
			last.End = interval.End
		default:
			merged = append(merged, interval)
		}
	}
	return merged, nil
}

// Validate checks the at-rest invariants of a list belonging to a
// shard of the given size.
func (l FreeList) Validate(shardSize int64) error {
	for index, interval := range l {
		if interval.End < interval.Start {
			return fmt.Errorf("%w: %s", ErrMalformed, interval)
		}
		if interval.Start < 0 || interval.End >= shardSize {
			return fmt.Errorf("%w: %s in shard of %d bytes", ErrOutOfRange, interval, shardSize)
		}
		if index == 0 {
			continue
		}
		previous := l[index-1]
		if interval.Start <= previous.End {
			return fmt.Errorf("%w: %s and %s", ErrOverlap, previous, interval)
		}
		if interval.Start == previous.End+1 {
			return fmt.Errorf("freespace: adjacent intervals %s and %s not coalesced", previous, interval)
		}
	}
	return nil
}
