// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package mapstore

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/bureau-foundation/mapstore/lib/catalog"
	"github.com/bureau-foundation/mapstore/lib/layout"
	"github.com/bureau-foundation/mapstore/lib/segio"
)

// DefaultMapSize is the shard size used when Config.MapSize is zero.
const DefaultMapSize int64 = 1 << 31

// Config describes a store to open.
type Config struct {
	// Path is the store's root directory. Empty means the current
	// directory.
	Path string

	// AllocationSize is the total capacity across all shards. Zero
	// opens an existing store with the geometry it last recorded, and
	// MapSize is then ignored.
	AllocationSize int64

	// MapSize is the size of each shard. Zero selects DefaultMapSize.
	MapSize int64

	// Prealloc reserves every shard's disk blocks when the shard is
	// created or grown, instead of leaving the files sparse.
	Prealloc bool

	// Catalog selects the metadata backend. Empty selects SQLite.
	Catalog catalog.Backend

	// BufferSize is the chunk size for moving blob bytes. Zero selects
	// segio.DefaultBufferSize.
	BufferSize int

	// Logger receives lifecycle events. Nil discards them.
	Logger *slog.Logger

	// Now returns the current time for record timestamps. Nil uses
	// time.Now.
	Now func() time.Time
}

// Geometry returns the shard geometry the configuration asks for.
func (c Config) Geometry() layout.Geometry {
	mapSize := c.MapSize
	if mapSize == 0 {
		mapSize = DefaultMapSize
	}
	return layout.Geometry{ShardSize: mapSize, Capacity: c.AllocationSize}
}

// withDefaults fills unset fields and validates the rest.
func (c Config) withDefaults() (Config, error) {
	if c.Path == "" {
		c.Path = "."
	}
	if c.MapSize == 0 {
		c.MapSize = DefaultMapSize
	}
	if c.Logger == nil {
		c.Logger = slog.New(slog.DiscardHandler)
	}
	if c.Now == nil {
		c.Now = time.Now
	}
	if c.BufferSize <= 0 {
		c.BufferSize = segio.DefaultBufferSize
	}

	backend, err := catalog.ParseBackend(string(c.Catalog))
	if err != nil {
		return c, fmt.Errorf("%w: %w", ErrConfig, err)
	}
	c.Catalog = backend

	if c.AllocationSize == 0 && c.MapSize > 0 {
		return c, nil
	}
	if err := c.Geometry().Validate(); err != nil {
		return c, fmt.Errorf("%w: %w", ErrConfig, err)
	}
	return c, nil
}
