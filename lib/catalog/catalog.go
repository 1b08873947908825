// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package catalog persists the store's metadata: the layout history,
// each shard's free list, and each blob's placement.
//
// Every read and write happens inside a transaction. [Catalog.Update]
// runs its callback in a single serialized write transaction that
// commits when the callback returns nil and rolls back otherwise, so a
// plan-and-reserve or reclaim-and-delete sequence is all-or-nothing.
// [Catalog.View] runs a consistent read-only snapshot.
//
// Two backends implement the interface: [SQLite] (the default, one
// database file with three tables) and [Bolt] (a bbolt file with one
// bucket per record kind). Structured columns such as free lists and
// positions are stored as deterministic CBOR in both.
package catalog

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/bureau-foundation/mapstore/lib/contenthash"
	"github.com/bureau-foundation/mapstore/lib/freespace"
	"github.com/bureau-foundation/mapstore/lib/layout"
)

var (
	// ErrNotFound reports a missing shard or blob.
	ErrNotFound = errors.New("catalog: not found")

	// ErrDuplicate reports an insert of a hash that already has an
	// entry, finalized or not.
	ErrDuplicate = errors.New("catalog: duplicate entry")

	// ErrCorrupt reports a stored record that cannot be decoded.
	ErrCorrupt = errors.New("catalog: corrupt record")
)

// LayoutRecord is one entry of the append-only layout history. The
// newest record is the store's current geometry.
type LayoutRecord struct {
	Geometry  layout.Geometry
	CreatedAt time.Time
}

// BlobEntry is a blob's catalog row.
type BlobEntry struct {
	Hash      string
	Size      int64
	Positions freespace.Positions

	// Uploaded is false from the moment space is reserved until every
	// byte has been written to the shards.
	Uploaded bool

	// Checksum is set when the entry is finalized.
	Checksum contenthash.Checksum

	CreatedAt time.Time
}

// Totals summarizes the catalog.
type Totals struct {
	ShardCount   int
	Capacity     int64
	FreeSpace    int64
	BlobCount    int
	PendingCount int
}

// ReadTx is the read side of a transaction.
type ReadTx interface {
	// LatestLayout returns the newest layout record, or nil if none
	// was ever written.
	LatestLayout() (*LayoutRecord, error)

	// Layouts returns the full layout history, oldest first.
	Layouts() ([]LayoutRecord, error)

	// Shard returns one shard, or ErrNotFound.
	Shard(id int) (freespace.Shard, error)

	// Shards returns every shard in ascending id order.
	Shards() ([]freespace.Shard, error)

	// Blob returns the entry for hash, finalized or not, or
	// ErrNotFound.
	Blob(hash string) (BlobEntry, error)

	// BlobHashes returns the hashes of finalized entries, sorted.
	BlobHashes() ([]string, error)

	// PendingBlobs returns the entries that were never finalized.
	PendingBlobs() ([]BlobEntry, error)

	// HasBlobs reports whether any entry exists, finalized or not.
	HasBlobs() (bool, error)

	// Totals aggregates shard and blob counts.
	Totals() (Totals, error)
}

// Tx is a write transaction.
type Tx interface {
	ReadTx

	// AppendLayout adds a record to the layout history.
	AppendLayout(record LayoutRecord) error

	// PutShard inserts or replaces a shard.
	PutShard(shard freespace.Shard) error

	// DeleteShard removes a shard. A missing shard is not an error.
	DeleteShard(id int) error

	// InsertBlob adds a new entry, failing with ErrDuplicate when the
	// hash is already present.
	InsertBlob(entry BlobEntry) error

	// FinalizeBlob marks an entry uploaded and records its checksum.
	FinalizeBlob(hash string, checksum contenthash.Checksum) error

	// DeleteBlob removes an entry, or fails with ErrNotFound.
	DeleteBlob(hash string) error
}

// Catalog is a transactional metadata store.
type Catalog interface {
	View(ctx context.Context, fn func(ReadTx) error) error
	Update(ctx context.Context, fn func(Tx) error) error
	Close() error
}

// Backend names a catalog implementation.
type Backend string

const (
	BackendSQLite Backend = "sqlite"
	BackendBolt   Backend = "bolt"
)

// FileName returns the catalog file name used by the backend.
func (b Backend) FileName() string {
	switch b {
	case BackendBolt:
		return "catalog.bolt"
	default:
		return "catalog.sqlite"
	}
}

// ParseBackend validates a backend name. The empty string selects
// SQLite.
func ParseBackend(name string) (Backend, error) {
	switch Backend(name) {
	case "", BackendSQLite:
		return BackendSQLite, nil
	case BackendBolt:
		return BackendBolt, nil
	default:
		return "", fmt.Errorf("catalog: unknown backend %q (want %q or %q)", name, BackendSQLite, BackendBolt)
	}
}

// Open opens the catalog file at path with the given backend.
func Open(backend Backend, path string, logger *slog.Logger) (Catalog, error) {
	switch backend {
	case BackendSQLite, "":
		return OpenSQLite(path, logger)
	case BackendBolt:
		return OpenBolt(path, logger)
	default:
		return nil, fmt.Errorf("catalog: unknown backend %q", backend)
	}
}

// totalsFrom computes Totals from full listings. Backends without
// aggregate queries use it.
func totalsFrom(shards []freespace.Shard, finalized, pending int) Totals {
	totals := Totals{ShardCount: len(shards), BlobCount: finalized, PendingCount: pending}
	for _, shard := range shards {
		totals.Capacity += shard.Size
		totals.FreeSpace += shard.FreeSpace
	}
	return totals
}
