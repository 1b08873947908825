// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package mapstore

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/bureau-foundation/mapstore/lib/catalog"
	"github.com/bureau-foundation/mapstore/lib/layout"
)

// RestructureOptions tunes a restructure.
type RestructureOptions struct {
	// Workers is the number of blobs copied concurrently. Values below
	// one copy sequentially.
	Workers int

	// Progress, if set, is called after each blob is copied with the
	// number copied so far and the total. It may be called from
	// several goroutines, never concurrently with itself.
	Progress func(copied, total int)
}

// Restructure rebuilds the store with a new shard size and capacity.
// A fresh generation is laid out beside the active one, every blob is
// copied into it, and the current link is then switched over. Any
// failure before the switch leaves the active generation untouched and
// discards the new one. Every other operation waits for Restructure to
// finish.
func (s *Store) Restructure(ctx context.Context, mapSize, allocationSize int64, options RestructureOptions) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return fmt.Errorf("mapstore: restructure: %w: store is closed", ErrConfig)
	}

	target := layout.Geometry{ShardSize: mapSize, Capacity: allocationSize}
	if err := target.Validate(); err != nil {
		return fmt.Errorf("mapstore: restructure: %w: %w", ErrConfig, err)
	}

	old := s.generation
	// Nothing else can be storing; anything still pending is debris.
	if _, err := old.reconcile(ctx); err != nil {
		return err
	}
	before, err := old.info(ctx)
	if err != nil {
		return err
	}
	if before.UsedSpace > target.Capacity {
		return fmt.Errorf("mapstore: restructure: %w: %d bytes in use, new capacity is %d",
			ErrCapacity, before.UsedSpace, target.Capacity)
	}

	name, err := nextGeneration(s.root)
	if err != nil {
		return err
	}
	config := s.config
	config.MapSize = target.ShardSize
	config.AllocationSize = target.Capacity
	next, err := openGeneration(filepath.Join(s.root, name), config)
	if err != nil {
		return err
	}

	s.logger.Info("restructure started",
		"from", old.name,
		"to", next.name,
		"layout", target.String(),
		"blobs", before.BlobCount,
		"used_space", before.UsedSpace,
	)

	if err := migrate(ctx, old, next, target, options); err != nil {
		discard(next, s.logger)
		return err
	}
	if err := confirmMigration(ctx, before, next); err != nil {
		discard(next, s.logger)
		return err
	}
	if err := next.shards.Sync(); err != nil {
		discard(next, s.logger)
		return fmt.Errorf("mapstore: restructure: %w: %w", ErrIO, err)
	}
	if err := activate(s.root, next.name); err != nil {
		discard(next, s.logger)
		return fmt.Errorf("mapstore: restructure: %w", err)
	}

	// The new generation is live from here on; cleanup failures of the
	// old one are logged and left for the next Open.
	s.generation = next
	s.config = config
	if err := old.close(); err != nil {
		s.logger.Error("closing replaced generation", "generation", old.name, "error", err)
	}
	if err := os.RemoveAll(old.dir); err != nil {
		s.logger.Error("removing replaced generation", "generation", old.name, "error", err)
	}

	s.logger.Info("restructure complete",
		"generation", next.name,
		"layout", target.String(),
		"blobs", before.BlobCount,
	)
	return nil
}

// migrate lays out next with the target geometry and copies every blob
// of old into it.
func migrate(ctx context.Context, old, next *generation, target layout.Geometry, options RestructureOptions) error {
	var history []catalog.LayoutRecord
	var hashes []string
	err := old.catalog.View(ctx, func(tx catalog.ReadTx) error {
		var err error
		if history, err = tx.Layouts(); err != nil {
			return err
		}
		hashes, err = tx.BlobHashes()
		return err
	})
	if err != nil {
		return classify("restructure", ErrCatalog, err)
	}

	err = next.catalog.Update(ctx, func(tx catalog.Tx) error {
		for _, record := range history {
			if err := tx.AppendLayout(record); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return classify("restructure", ErrCatalog, err)
	}
	if err := next.initialize(ctx, target); err != nil {
		return err
	}

	group, groupCtx := errgroup.WithContext(ctx)
	group.SetLimit(max(options.Workers, 1))
	var (
		progressMu sync.Mutex
		copied     int
	)
	for _, hash := range hashes {
		group.Go(func() error {
			if err := copyBlob(groupCtx, old, next, hash); err != nil {
				return err
			}
			progressMu.Lock()
			defer progressMu.Unlock()
			copied++
			if options.Progress != nil {
				options.Progress(copied, len(hashes))
			}
			return nil
		})
	}
	return group.Wait()
}

// copyBlob streams one blob from old to next through a pipe and checks
// that the copy carries the same checksum.
func copyBlob(ctx context.Context, old, next *generation, hash string) error {
	var entry catalog.BlobEntry
	err := old.catalog.View(ctx, func(tx catalog.ReadTx) error {
		var err error
		entry, err = finalized(tx, hash)
		return err
	})
	if err != nil {
		return classify("restructure", ErrCatalog, err)
	}

	reader, writer := io.Pipe()
	group, groupCtx := errgroup.WithContext(ctx)
	group.Go(func() error {
		_, err := old.retrieve(groupCtx, hash, writer)
		writer.CloseWithError(err)
		return err
	})
	group.Go(func() error {
		err := next.store(groupCtx, hash, reader, entry.Size)
		reader.CloseWithError(err)
		return err
	})
	if err := group.Wait(); err != nil {
		return fmt.Errorf("mapstore: restructure: copying %s: %w", hash, err)
	}

	var copied catalog.BlobEntry
	err = next.catalog.View(ctx, func(tx catalog.ReadTx) error {
		var err error
		copied, err = finalized(tx, hash)
		return err
	})
	if err != nil {
		return classify("restructure", ErrCatalog, err)
	}
	if copied.Checksum != entry.Checksum {
		return fmt.Errorf("mapstore: restructure: copying %s: %w: source %s, copy %s",
			hash, ErrChecksumMismatch, entry.Checksum, copied.Checksum)
	}
	return nil
}

// confirmMigration compares the new generation's totals with the
// totals taken before copying.
func confirmMigration(ctx context.Context, before StoreInfo, next *generation) error {
	after, err := next.info(ctx)
	if err != nil {
		return err
	}
	var problems []error
	if after.BlobCount != before.BlobCount {
		problems = append(problems, fmt.Errorf("blob count %d, source had %d", after.BlobCount, before.BlobCount))
	}
	if after.UsedSpace != before.UsedSpace {
		problems = append(problems, fmt.Errorf("used space %d, source had %d", after.UsedSpace, before.UsedSpace))
	}
	if after.PendingCount != 0 {
		problems = append(problems, fmt.Errorf("%d entries left unfinished", after.PendingCount))
	}
	if len(problems) > 0 {
		return fmt.Errorf("mapstore: restructure: %w: %w", ErrCatalog, errors.Join(problems...))
	}
	return next.check(ctx)
}

// discard closes and deletes a generation that never became current.
func discard(g *generation, logger *slog.Logger) {
	if err := g.close(); err != nil {
		logger.Warn("closing abandoned generation", "generation", g.name, "error", err)
	}
	if err := os.RemoveAll(g.dir); err != nil {
		logger.Warn("removing abandoned generation", "generation", g.name, "error", err)
	}
}
