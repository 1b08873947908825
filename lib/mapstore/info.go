// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package mapstore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bureau-foundation/mapstore/lib/catalog"
	"github.com/bureau-foundation/mapstore/lib/freespace"
)

// DataInfo describes one stored blob.
type DataInfo struct {
	Hash         string    `json:"hash"`
	Size         int64     `json:"size"`
	Checksum     string    `json:"checksum"`
	CreatedAt    time.Time `json:"created_at"`
	SegmentCount int       `json:"segment_count"`
	Shards       []int     `json:"shards"`
}

// StoreInfo summarizes a store's capacity and contents.
type StoreInfo struct {
	FreeSpace      int64  `json:"free_space"`
	UsedSpace      int64  `json:"used_space"`
	AllocationSize int64  `json:"allocation_size"`
	MapSize        int64  `json:"map_size"`
	ShardCount     int    `json:"shard_count"`
	BlobCount      int    `json:"blob_count"`
	PendingCount   int    `json:"pending_count"`
	Generation     string `json:"generation"`
}

// ShardInfo describes one shard's allocation state.
type ShardInfo struct {
	ID            int   `json:"id"`
	Size          int64 `json:"size"`
	FreeSpace     int64 `json:"free_space"`
	FreeIntervals int   `json:"free_intervals"`
	LargestFree   int64 `json:"largest_free"`
}

// DataInfo returns the metadata of the blob stored under hash.
func (s *Store) DataInfo(ctx context.Context, hash string) (DataInfo, error) {
	current, err := s.acquire()
	if err != nil {
		return DataInfo{}, err
	}
	defer s.mu.RUnlock()

	var entry catalog.BlobEntry
	err = current.catalog.View(ctx, func(tx catalog.ReadTx) error {
		entry, err = finalized(tx, hash)
		return err
	})
	if err != nil {
		return DataInfo{}, classify("data info", ErrCatalog, err)
	}
	return DataInfo{
		Hash:         entry.Hash,
		Size:         entry.Size,
		Checksum:     entry.Checksum.String(),
		CreatedAt:    entry.CreatedAt,
		SegmentCount: entry.Positions.SegmentCount(),
		Shards:       entry.Positions.ShardIDs(),
	}, nil
}

// StoreInfo returns capacity and usage totals.
func (s *Store) StoreInfo(ctx context.Context) (StoreInfo, error) {
	current, err := s.acquire()
	if err != nil {
		return StoreInfo{}, err
	}
	defer s.mu.RUnlock()
	return current.info(ctx)
}

func (g *generation) info(ctx context.Context) (StoreInfo, error) {
	info := StoreInfo{Generation: g.name}
	err := g.catalog.View(ctx, func(tx catalog.ReadTx) error {
		totals, err := tx.Totals()
		if err != nil {
			return err
		}
		record, err := tx.LatestLayout()
		if err != nil {
			return err
		}
		if record != nil {
			info.AllocationSize = record.Geometry.Capacity
			info.MapSize = record.Geometry.ShardSize
		}
		info.FreeSpace = totals.FreeSpace
		info.UsedSpace = totals.Capacity - totals.FreeSpace
		info.ShardCount = totals.ShardCount
		info.BlobCount = totals.BlobCount
		info.PendingCount = totals.PendingCount
		return nil
	})
	if err != nil {
		return StoreInfo{}, classify("store info", ErrCatalog, err)
	}
	return info, nil
}

// Shards returns per-shard allocation state, ascending by id.
func (s *Store) Shards(ctx context.Context) ([]ShardInfo, error) {
	current, err := s.acquire()
	if err != nil {
		return nil, err
	}
	defer s.mu.RUnlock()

	var shards []freespace.Shard
	err = current.catalog.View(ctx, func(tx catalog.ReadTx) error {
		shards, err = tx.Shards()
		return err
	})
	if err != nil {
		return nil, classify("shards", ErrCatalog, err)
	}

	infos := make([]ShardInfo, 0, len(shards))
	for _, shard := range shards {
		info := ShardInfo{
			ID:            shard.ID,
			Size:          shard.Size,
			FreeSpace:     shard.FreeSpace,
			FreeIntervals: len(shard.FreeIntervals),
		}
		for _, interval := range shard.FreeIntervals {
			info.LargestFree = max(info.LargestFree, interval.Len())
		}
		infos = append(infos, info)
	}
	return infos, nil
}

// Check audits the catalog against itself and the shard files. Every
// free list must satisfy its invariants, every blob's segments must
// tile the blob, and in every shard the free intervals and the blob
// segments together must cover each byte exactly once. Every problem
// found is reported, joined, and matches ErrCatalog.
func (s *Store) Check(ctx context.Context) error {
	current, err := s.acquire()
	if err != nil {
		return err
	}
	defer s.mu.RUnlock()
	return current.check(ctx)
}

func (g *generation) check(ctx context.Context) error {
	var problems []error
	err := g.catalog.View(ctx, func(tx catalog.ReadTx) error {
		shards, err := tx.Shards()
		if err != nil {
			return err
		}
		hashes, err := tx.BlobHashes()
		if err != nil {
			return err
		}
		pending, err := tx.PendingBlobs()
		if err != nil {
			return err
		}

		coverage := make(map[int]freespace.FreeList, len(shards))
		sizes := make(map[int]int64, len(shards))
		for _, shard := range shards {
			if err := shard.Validate(); err != nil {
				problems = append(problems, err)
			}
			coverage[shard.ID] = shard.FreeIntervals.Clone()
			sizes[shard.ID] = shard.Size

			file, err := g.shards.Shard(shard.ID)
			if err != nil {
				problems = append(problems, err)
			} else if file.Size() < shard.Size {
				problems = append(problems, fmt.Errorf("shard %d file is %d bytes, catalog records %d",
					shard.ID, file.Size(), shard.Size))
			}
		}

		entries := pending
		for _, hash := range hashes {
			entry, err := tx.Blob(hash)
			if err != nil {
				return err
			}
			entries = append(entries, entry)
		}
		for _, entry := range entries {
			if err := entry.Positions.Validate(entry.Size); err != nil {
				problems = append(problems, fmt.Errorf("blob %s: %w", entry.Hash, err))
			}
			for shardID, segments := range entry.Positions {
				if _, ok := coverage[shardID]; !ok {
					problems = append(problems, fmt.Errorf("blob %s: %w: %d", entry.Hash, freespace.ErrUnknownShard, shardID))
					continue
				}
				for _, segment := range segments {
					coverage[shardID] = append(coverage[shardID], segment.Interval())
				}
			}
		}

		for id, ranges := range coverage {
			normalized, err := ranges.Normalize()
			if err != nil {
				problems = append(problems, fmt.Errorf("shard %d: %w", id, err))
				continue
			}
			full := len(normalized) == 1 && normalized[0] == freespace.Interval{Start: 0, End: sizes[id] - 1}
			if !full {
				problems = append(problems, fmt.Errorf("shard %d: free space and blobs cover %d of %d bytes",
					id, normalized.Total(), sizes[id]))
			}
		}
		return nil
	})
	if err != nil {
		return classify("check", ErrCatalog, err)
	}
	if len(problems) > 0 {
		return fmt.Errorf("mapstore: check: %w: %w", ErrCatalog, errors.Join(problems...))
	}
	return nil
}
