// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package mapstore

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/bureau-foundation/mapstore/lib/catalog"
	"github.com/bureau-foundation/mapstore/lib/contenthash"
	"github.com/bureau-foundation/mapstore/lib/freespace"
	"github.com/bureau-foundation/mapstore/lib/segio"
)

// Store writes size bytes from source under hash.
//
// A negative size asks the store to measure the source, which must
// then be an io.Seeker; the bytes from its current position to its end
// are stored. An existing entry for hash, finalized or still being
// written, fails with ErrDuplicate and changes nothing.
//
// Space is reserved and the entry recorded (not yet retrievable) in one
// catalog transaction. The bytes are then written outside the
// allocation lock, so stores of different blobs proceed in parallel,
// and the entry is finalized last. If writing fails the reservation is
// released; if the process dies instead, the next Open or Reconcile
// releases it.
func (s *Store) Store(ctx context.Context, hash string, source io.Reader, size int64) error {
	current, err := s.acquire()
	if err != nil {
		return err
	}
	defer s.mu.RUnlock()
	return current.store(ctx, hash, source, size)
}

// Retrieve writes the blob stored under hash to dest. Entries that are
// still being written are reported as ErrNotFound. The bytes are
// checksummed as they are copied; if they no longer match the recorded
// checksum, dest has received them but ErrChecksumMismatch is returned.
func (s *Store) Retrieve(ctx context.Context, hash string, dest io.Writer) error {
	current, err := s.acquire()
	if err != nil {
		return err
	}
	defer s.mu.RUnlock()
	_, err = current.retrieve(ctx, hash, dest)
	return err
}

// Delete removes the blob stored under hash and returns its bytes to
// the free lists of the shards that held it.
func (s *Store) Delete(ctx context.Context, hash string) error {
	current, err := s.acquire()
	if err != nil {
		return err
	}
	defer s.mu.RUnlock()
	return current.delete(ctx, hash)
}

// Verify re-reads the blob stored under hash and compares its bytes to
// the checksum recorded at store time.
func (s *Store) Verify(ctx context.Context, hash string) error {
	current, err := s.acquire()
	if err != nil {
		return err
	}
	defer s.mu.RUnlock()

	_, err = current.retrieve(ctx, hash, io.Discard)
	return err
}

// List returns the hashes of every retrievable blob, sorted.
func (s *Store) List(ctx context.Context) ([]string, error) {
	current, err := s.acquire()
	if err != nil {
		return nil, err
	}
	defer s.mu.RUnlock()
	return current.list(ctx)
}

func measure(source io.Reader) (int64, error) {
	seeker, ok := source.(io.Seeker)
	if !ok {
		return 0, fmt.Errorf("%w: size not given and source is not seekable", ErrConfig)
	}
	position, err := seeker.Seek(0, io.SeekCurrent)
	if err != nil {
		return 0, fmt.Errorf("%w: size not given and source cannot seek: %w", ErrConfig, err)
	}
	end, err := seeker.Seek(0, io.SeekEnd)
	if err != nil {
		return 0, fmt.Errorf("%w: measuring source: %w", ErrIO, err)
	}
	if _, err := seeker.Seek(position, io.SeekStart); err != nil {
		return 0, fmt.Errorf("%w: rewinding source: %w", ErrIO, err)
	}
	return end - position, nil
}

func (g *generation) store(ctx context.Context, hash string, source io.Reader, size int64) error {
	if hash == "" {
		return fmt.Errorf("mapstore: store: %w: empty hash", ErrConfig)
	}
	if size < 0 {
		measured, err := measure(source)
		if err != nil {
			return classify("store", ErrIO, err)
		}
		size = measured
	}

	entry, err := g.reserve(ctx, hash, size)
	if err != nil {
		return classify("store", ErrCatalog, err)
	}

	checksum, err := g.writeReserved(ctx, source, entry)
	if err == nil {
		err = g.finalize(ctx, hash, checksum)
	}
	if err != nil {
		if releaseErr := g.release(context.WithoutCancel(ctx), hash); releaseErr != nil {
			g.logger.Error("releasing failed store", "hash", hash, "error", releaseErr)
		}
		return err
	}

	g.logger.Debug("blob stored",
		"hash", hash,
		"size", size,
		"segments", entry.Positions.SegmentCount(),
	)
	return nil
}

// reserve plans space for the blob and records an unfinished entry,
// all under the allocation lock and in one catalog transaction.
func (g *generation) reserve(ctx context.Context, hash string, size int64) (catalog.BlobEntry, error) {
	g.allocationMu.Lock()
	defer g.allocationMu.Unlock()

	if _, busy := g.inFlight[hash]; busy {
		return catalog.BlobEntry{}, fmt.Errorf("%w: %s is being stored", ErrDuplicate, hash)
	}

	entry := catalog.BlobEntry{Hash: hash, Size: size, CreatedAt: g.now()}
	err := g.catalog.Update(ctx, func(tx catalog.Tx) error {
		if _, err := tx.Blob(hash); err == nil {
			return fmt.Errorf("%w: %s", ErrDuplicate, hash)
		} else if !errors.Is(err, catalog.ErrNotFound) {
			return err
		}

		shards, err := tx.Shards()
		if err != nil {
			return err
		}
		plan, err := freespace.PlanAllocation(shards, size)
		if err != nil {
			return err
		}
		for _, shardPlan := range plan.Shards {
			shard, err := tx.Shard(shardPlan.ShardID)
			if err != nil {
				return err
			}
			shard.FreeIntervals = shardPlan.FreeIntervals
			shard.FreeSpace = shardPlan.FreeSpace
			if err := tx.PutShard(shard); err != nil {
				return err
			}
		}
		entry.Positions = plan.Positions()
		return tx.InsertBlob(entry)
	})
	if err != nil {
		return catalog.BlobEntry{}, err
	}

	g.inFlight[hash] = struct{}{}
	return entry, nil
}

// writeReserved copies the blob bytes into the reserved segments and
// flushes the shards that received them.
func (g *generation) writeReserved(ctx context.Context, source io.Reader, entry catalog.BlobEntry) (contenthash.Checksum, error) {
	hasher := contenthash.NewChecksummer()
	written, err := segio.WriteBlob(ctx, source, entry.Positions, g.device, segio.Options{
		BufferSize: g.bufferSize,
		Observer:   hasher,
	})
	if err != nil {
		return contenthash.Checksum{}, classify("store", ErrIO, err)
	}
	if written != entry.Size {
		return contenthash.Checksum{}, fmt.Errorf("mapstore: store: %w: wrote %d of %d bytes", ErrIO, written, entry.Size)
	}

	for _, id := range entry.Positions.ShardIDs() {
		file, err := g.shards.Shard(id)
		if err == nil {
			err = file.Sync()
		}
		if err != nil {
			return contenthash.Checksum{}, classify("store", ErrIO, err)
		}
	}
	return contenthash.ChecksumFromHash(hasher), nil
}

func (g *generation) finalize(ctx context.Context, hash string, checksum contenthash.Checksum) error {
	err := g.catalog.Update(ctx, func(tx catalog.Tx) error {
		return tx.FinalizeBlob(hash, checksum)
	})
	if err != nil {
		return classify("store", ErrCatalog, err)
	}

	g.allocationMu.Lock()
	delete(g.inFlight, hash)
	g.allocationMu.Unlock()
	return nil
}

// release undoes a reservation whose bytes could not be written.
func (g *generation) release(ctx context.Context, hash string) error {
	g.allocationMu.Lock()
	defer g.allocationMu.Unlock()

	delete(g.inFlight, hash)
	err := g.catalog.Update(ctx, func(tx catalog.Tx) error {
		entry, err := tx.Blob(hash)
		if err != nil {
			return err
		}
		return g.reclaimEntry(tx, entry)
	})
	if err == nil {
		g.logger.Warn("released unfinished blob", "hash", hash)
	}
	return err
}

// reclaimEntry returns an entry's segments to their shards and removes
// the entry. The caller holds allocationMu and a write transaction.
func (g *generation) reclaimEntry(tx catalog.Tx, entry catalog.BlobEntry) error {
	shards, err := tx.Shards()
	if err != nil {
		return err
	}
	updated, err := freespace.Reclaim(shards, entry.Positions)
	if err != nil {
		return err
	}
	for _, shard := range updated {
		if err := tx.PutShard(shard); err != nil {
			return err
		}
	}
	return tx.DeleteBlob(entry.Hash)
}

// finalized loads hash's entry, treating unfinished entries as absent.
func finalized(tx catalog.ReadTx, hash string) (catalog.BlobEntry, error) {
	entry, err := tx.Blob(hash)
	if err != nil {
		return entry, err
	}
	if !entry.Uploaded {
		return entry, fmt.Errorf("%w: %s is still being written", ErrNotFound, hash)
	}
	return entry, nil
}

// retrieve copies the blob to dest, checksumming the bytes on the way,
// and fails with ErrChecksumMismatch if they differ from the recorded
// checksum. It returns the entry that was read.
func (g *generation) retrieve(ctx context.Context, hash string, dest io.Writer) (catalog.BlobEntry, error) {
	var entry catalog.BlobEntry
	err := g.catalog.View(ctx, func(tx catalog.ReadTx) error {
		var err error
		entry, err = finalized(tx, hash)
		return err
	})
	if err != nil {
		return entry, classify("retrieve", ErrCatalog, err)
	}

	hasher := contenthash.NewChecksummer()
	read, err := segio.ReadBlob(ctx, dest, entry.Positions, g.device, segio.Options{
		BufferSize: g.bufferSize,
		Observer:   hasher,
	})
	if err != nil {
		return entry, classify("retrieve", ErrIO, err)
	}
	if read != entry.Size {
		return entry, fmt.Errorf("mapstore: retrieve: %w: read %d of %d bytes", ErrIO, read, entry.Size)
	}
	if checksum := contenthash.ChecksumFromHash(hasher); checksum != entry.Checksum {
		return entry, fmt.Errorf("mapstore: retrieve %s: %w: recorded %s, read %s",
			hash, ErrChecksumMismatch, entry.Checksum, checksum)
	}
	return entry, nil
}

func (g *generation) delete(ctx context.Context, hash string) error {
	g.allocationMu.Lock()
	defer g.allocationMu.Unlock()

	if _, busy := g.inFlight[hash]; busy {
		return fmt.Errorf("mapstore: delete: %w: %s is still being written", ErrNotFound, hash)
	}

	var size int64
	err := g.catalog.Update(ctx, func(tx catalog.Tx) error {
		entry, err := finalized(tx, hash)
		if err != nil {
			return err
		}
		size = entry.Size
		return g.reclaimEntry(tx, entry)
	})
	if err != nil {
		return classify("delete", ErrCatalog, err)
	}

	g.logger.Debug("blob deleted", "hash", hash, "size", size)
	return nil
}

func (g *generation) list(ctx context.Context) ([]string, error) {
	var hashes []string
	err := g.catalog.View(ctx, func(tx catalog.ReadTx) error {
		var err error
		hashes, err = tx.BlobHashes()
		return err
	})
	if err != nil {
		return nil, classify("list", ErrCatalog, err)
	}
	return hashes, nil
}
