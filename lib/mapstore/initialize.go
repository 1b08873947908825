// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package mapstore

import (
	"context"
	"fmt"
	"os"

	"github.com/bureau-foundation/mapstore/lib/catalog"
	"github.com/bureau-foundation/mapstore/lib/freespace"
	"github.com/bureau-foundation/mapstore/lib/layout"
)

// initialize brings the generation to target: on first run it records
// the layout and creates every shard; afterwards it grows shards and
// adds new ones as capacity increases. Shard files are created or
// resized inside the catalog transaction, so a file failure leaves the
// catalog unchanged. Files that were already resized are harmless: a
// later run resizes them to the same length again.
func (g *generation) initialize(ctx context.Context, target layout.Geometry) error {
	err := g.catalog.Update(ctx, func(tx catalog.Tx) error {
		recordedLayout, err := tx.LatestLayout()
		if err != nil {
			return err
		}
		existing, err := tx.Shards()
		if err != nil {
			return err
		}
		hasBlobs, err := tx.HasBlobs()
		if err != nil {
			return err
		}

		var recorded *layout.Geometry
		if recordedLayout != nil {
			recorded = &recordedLayout.Geometry
		}
		changes, err := layout.Plan(target, recorded, existing, hasBlobs)
		if err != nil {
			return err
		}

		if changes.Rebuild {
			if err := g.removeAllShards(tx); err != nil {
				return err
			}
			g.logger.Info("rebuilding empty store layout", "layout", target.String())
		} else if err := g.checkShardFiles(existing); err != nil {
			return err
		}

		for _, growth := range changes.Grow {
			if err := g.shards.Grow(growth.After.ID, growth.After.Size); err != nil {
				return fmt.Errorf("%w: %w", ErrIO, err)
			}
			if err := tx.PutShard(growth.After); err != nil {
				return err
			}
		}
		for _, shard := range changes.Create {
			if err := g.shards.Create(shard.ID, shard.Size); err != nil {
				return fmt.Errorf("%w: %w", ErrIO, err)
			}
			if err := tx.PutShard(shard); err != nil {
				return err
			}
		}

		if changes.RecordLayout {
			if err := tx.AppendLayout(catalog.LayoutRecord{Geometry: target, CreatedAt: g.now()}); err != nil {
				return err
			}
			g.logger.Info("layout recorded",
				"map_size", target.ShardSize,
				"allocation_size", target.Capacity,
				"shard_count", target.ShardCount(),
				"grown", len(changes.Grow),
				"created", len(changes.Create),
			)
		}
		return nil
	})
	return classify("initialize", ErrCatalog, err)
}

// removeAllShards deletes every shard file and row.
func (g *generation) removeAllShards(tx catalog.Tx) error {
	existing, err := tx.Shards()
	if err != nil {
		return err
	}
	for _, shard := range existing {
		if err := tx.DeleteShard(shard.ID); err != nil {
			return err
		}
	}
	ids, err := g.shards.IDs()
	if err != nil {
		return fmt.Errorf("%w: %w", ErrIO, err)
	}
	for _, id := range ids {
		if err := g.shards.Remove(id); err != nil {
			return fmt.Errorf("%w: %w", ErrIO, err)
		}
	}
	return nil
}

// checkShardFiles confirms every catalog shard has a file at least as
// large as the catalog says.
func (g *generation) checkShardFiles(shards []freespace.Shard) error {
	for _, shard := range shards {
		info, err := os.Stat(g.shards.Path(shard.ID))
		if err != nil {
			return fmt.Errorf("%w: shard %d: %w", ErrIO, shard.ID, err)
		}
		if info.Size() < shard.Size {
			return fmt.Errorf("%w: shard %d file is %d bytes, catalog records %d",
				ErrIO, shard.ID, info.Size(), shard.Size)
		}
	}
	return nil
}

// recordedGeometry returns the geometry the generation last recorded.
// A generation that never recorded one cannot be opened without an
// explicit allocation size.
func (g *generation) recordedGeometry(ctx context.Context) (layout.Geometry, error) {
	var recorded *catalog.LayoutRecord
	err := g.catalog.View(ctx, func(tx catalog.ReadTx) error {
		var err error
		recorded, err = tx.LatestLayout()
		return err
	})
	if err != nil {
		return layout.Geometry{}, classify("initialize", ErrCatalog, err)
	}
	if recorded == nil {
		return layout.Geometry{}, fmt.Errorf("%w: store has no recorded layout, an allocation size is required", ErrConfig)
	}
	return recorded.Geometry, nil
}
