// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package catalog

import (
	"context"
	"encoding/binary"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"time"

	"go.etcd.io/bbolt"

	"github.com/bureau-foundation/mapstore/lib/codec"
	"github.com/bureau-foundation/mapstore/lib/contenthash"
	"github.com/bureau-foundation/mapstore/lib/freespace"
	"github.com/bureau-foundation/mapstore/lib/layout"
)

var (
	bucketLayouts = []byte("layouts")
	bucketShards  = []byte("shards")
	bucketBlobs   = []byte("blobs")
)

// Bolt is the bbolt catalog backend. It suits deployments that prefer
// a single pure-Go file without SQL.
type Bolt struct {
	db     *bbolt.DB
	logger *slog.Logger
}

var _ Catalog = (*Bolt)(nil)

// OpenBolt opens or creates the catalog database at path.
func OpenBolt(path string, logger *slog.Logger) (*Bolt, error) {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("catalog: creating directory: %w", err)
	}
	db, err := bbolt.Open(path, 0o600, &bbolt.Options{Timeout: 5 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("catalog: opening %s: %w", path, err)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		for _, name := range [][]byte{bucketLayouts, bucketShards, bucketBlobs} {
			if _, err := tx.CreateBucketIfNotExists(name); err != nil {
				return fmt.Errorf("creating bucket %q: %w", name, err)
			}
		}
		return nil
	})
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("catalog: %w", err)
	}

	logger.Debug("bolt catalog opened", "path", path)
	return &Bolt{db: db, logger: logger}, nil
}

// View runs fn in a read-only bbolt transaction.
func (c *Bolt) View(ctx context.Context, fn func(ReadTx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return c.db.View(func(tx *bbolt.Tx) error {
		return fn(&boltTx{tx: tx})
	})
}

// Update runs fn in a bbolt write transaction, committed when fn
// returns nil.
func (c *Bolt) Update(ctx context.Context, fn func(Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return c.db.Update(func(tx *bbolt.Tx) error {
		return fn(&boltTx{tx: tx})
	})
}

// Close closes the database file.
func (c *Bolt) Close() error {
	if err := c.db.Close(); err != nil {
		return fmt.Errorf("catalog: closing bolt database: %w", err)
	}
	return nil
}

type layoutValue struct {
	ShardSize int64 `cbor:"map_size"`
	Capacity  int64 `cbor:"allocation_size"`
	CreatedAt int64 `cbor:"created_at"`
}

type shardValue struct {
	Size          int64              `cbor:"size"`
	FreeSpace     int64              `cbor:"free_space"`
	FreeIntervals freespace.FreeList `cbor:"free_intervals"`
}

type blobValue struct {
	Size      int64               `cbor:"size"`
	Positions freespace.Positions `cbor:"positions"`
	Uploaded  bool                `cbor:"uploaded"`
	Checksum  []byte              `cbor:"checksum,omitempty"`
	CreatedAt int64               `cbor:"created_at"`
}

// sequenceKey encodes ids as big-endian so keys sort numerically.
func sequenceKey(id uint64) []byte {
	key := make([]byte, 8)
	binary.BigEndian.PutUint64(key, id)
	return key
}

type boltTx struct {
	tx *bbolt.Tx
}

func decodeLayout(data []byte) (LayoutRecord, error) {
	var value layoutValue
	if err := codec.Unmarshal(data, &value); err != nil {
		return LayoutRecord{}, fmt.Errorf("%w: layout: %w", ErrCorrupt, err)
	}
	return LayoutRecord{
		Geometry:  layout.Geometry{ShardSize: value.ShardSize, Capacity: value.Capacity},
		CreatedAt: time.Unix(value.CreatedAt, 0).UTC(),
	}, nil
}

func (b *boltTx) LatestLayout() (*LayoutRecord, error) {
	_, data := b.tx.Bucket(bucketLayouts).Cursor().Last()
	if data == nil {
		return nil, nil
	}
	record, err := decodeLayout(data)
	if err != nil {
		return nil, err
	}
	return &record, nil
}

func (b *boltTx) Layouts() ([]LayoutRecord, error) {
	var records []LayoutRecord
	err := b.tx.Bucket(bucketLayouts).ForEach(func(_, data []byte) error {
		record, err := decodeLayout(data)
		if err != nil {
			return err
		}
		records = append(records, record)
		return nil
	})
	return records, err
}

func decodeShard(key, data []byte) (freespace.Shard, error) {
	id := int(binary.BigEndian.Uint64(key))
	var value shardValue
	if err := codec.Unmarshal(data, &value); err != nil {
		return freespace.Shard{}, fmt.Errorf("%w: shard %d: %w", ErrCorrupt, id, err)
	}
	if value.FreeIntervals == nil {
		value.FreeIntervals = freespace.FreeList{}
	}
	return freespace.Shard{
		ID:            id,
		Size:          value.Size,
		FreeSpace:     value.FreeSpace,
		FreeIntervals: value.FreeIntervals,
	}, nil
}

func (b *boltTx) Shard(id int) (freespace.Shard, error) {
	key := sequenceKey(uint64(id))
	data := b.tx.Bucket(bucketShards).Get(key)
	if data == nil {
		return freespace.Shard{}, fmt.Errorf("%w: shard %d", ErrNotFound, id)
	}
	return decodeShard(key, data)
}

func (b *boltTx) Shards() ([]freespace.Shard, error) {
	var shards []freespace.Shard
	err := b.tx.Bucket(bucketShards).ForEach(func(key, data []byte) error {
		shard, err := decodeShard(key, data)
		if err != nil {
			return err
		}
		shards = append(shards, shard)
		return nil
	})
	return shards, err
}

func decodeBlob(key, data []byte) (BlobEntry, error) {
	var value blobValue
	if err := codec.Unmarshal(data, &value); err != nil {
		return BlobEntry{}, fmt.Errorf("%w: blob %s: %w", ErrCorrupt, key, err)
	}
	entry := BlobEntry{
		Hash:      string(key),
		Size:      value.Size,
		Positions: value.Positions,
		Uploaded:  value.Uploaded,
		CreatedAt: time.Unix(value.CreatedAt, 0).UTC(),
	}
	if entry.Positions == nil {
		entry.Positions = freespace.Positions{}
	}
	copy(entry.Checksum[:], value.Checksum)
	return entry, nil
}

func (b *boltTx) Blob(hash string) (BlobEntry, error) {
	data := b.tx.Bucket(bucketBlobs).Get([]byte(hash))
	if data == nil {
		return BlobEntry{}, fmt.Errorf("%w: blob %s", ErrNotFound, hash)
	}
	return decodeBlob([]byte(hash), data)
}

// eachBlob decodes every entry in key order, which is hash order.
func (b *boltTx) eachBlob(fn func(BlobEntry)) error {
	return b.tx.Bucket(bucketBlobs).ForEach(func(key, data []byte) error {
		entry, err := decodeBlob(key, data)
		if err != nil {
			return err
		}
		fn(entry)
		return nil
	})
}

func (b *boltTx) BlobHashes() ([]string, error) {
	var hashes []string
	err := b.eachBlob(func(entry BlobEntry) {
		if entry.Uploaded {
			hashes = append(hashes, entry.Hash)
		}
	})
	return hashes, err
}

func (b *boltTx) PendingBlobs() ([]BlobEntry, error) {
	var entries []BlobEntry
	err := b.eachBlob(func(entry BlobEntry) {
		if !entry.Uploaded {
			entries = append(entries, entry)
		}
	})
	return entries, err
}

func (b *boltTx) HasBlobs() (bool, error) {
	key, _ := b.tx.Bucket(bucketBlobs).Cursor().First()
	return key != nil, nil
}

func (b *boltTx) Totals() (Totals, error) {
	shards, err := b.Shards()
	if err != nil {
		return Totals{}, err
	}
	finalized, pending := 0, 0
	err = b.eachBlob(func(entry BlobEntry) {
		if entry.Uploaded {
			finalized++
		} else {
			pending++
		}
	})
	if err != nil {
		return Totals{}, err
	}
	return totalsFrom(shards, finalized, pending), nil
}

func (b *boltTx) put(bucket, key []byte, value any) error {
	data, err := codec.Marshal(value)
	if err != nil {
		return fmt.Errorf("catalog: encoding %s record: %w", bucket, err)
	}
	if err := b.tx.Bucket(bucket).Put(key, data); err != nil {
		return fmt.Errorf("catalog: writing %s record: %w", bucket, err)
	}
	return nil
}

func (b *boltTx) AppendLayout(record LayoutRecord) error {
	bucket := b.tx.Bucket(bucketLayouts)
	sequence, err := bucket.NextSequence()
	if err != nil {
		return fmt.Errorf("catalog: layout sequence: %w", err)
	}
	return b.put(bucketLayouts, sequenceKey(sequence), layoutValue{
		ShardSize: record.Geometry.ShardSize,
		Capacity:  record.Geometry.Capacity,
		CreatedAt: record.CreatedAt.Unix(),
	})
}

func (b *boltTx) PutShard(shard freespace.Shard) error {
	intervals := shard.FreeIntervals
	if intervals == nil {
		intervals = freespace.FreeList{}
	}
	return b.put(bucketShards, sequenceKey(uint64(shard.ID)), shardValue{
		Size:          shard.Size,
		FreeSpace:     shard.FreeSpace,
		FreeIntervals: intervals,
	})
}

func (b *boltTx) DeleteShard(id int) error {
	if err := b.tx.Bucket(bucketShards).Delete(sequenceKey(uint64(id))); err != nil {
		return fmt.Errorf("catalog: deleting shard %d: %w", id, err)
	}
	return nil
}

func (b *boltTx) InsertBlob(entry BlobEntry) error {
	key := []byte(entry.Hash)
	if b.tx.Bucket(bucketBlobs).Get(key) != nil {
		return fmt.Errorf("%w: blob %s", ErrDuplicate, entry.Hash)
	}
	value := blobValue{
		Size:      entry.Size,
		Positions: entry.Positions,
		Uploaded:  entry.Uploaded,
		CreatedAt: entry.CreatedAt.Unix(),
	}
	if value.Positions == nil {
		value.Positions = freespace.Positions{}
	}
	if !entry.Checksum.IsZero() {
		value.Checksum = slices.Clone(entry.Checksum[:])
	}
	return b.put(bucketBlobs, key, value)
}

func (b *boltTx) FinalizeBlob(hash string, checksum contenthash.Checksum) error {
	key := []byte(hash)
	data := b.tx.Bucket(bucketBlobs).Get(key)
	if data == nil {
		return fmt.Errorf("%w: blob %s", ErrNotFound, hash)
	}
	var value blobValue
	if err := codec.Unmarshal(data, &value); err != nil {
		return fmt.Errorf("%w: blob %s: %w", ErrCorrupt, hash, err)
	}
	value.Uploaded = true
	value.Checksum = slices.Clone(checksum[:])
	return b.put(bucketBlobs, key, value)
}

func (b *boltTx) DeleteBlob(hash string) error {
	bucket := b.tx.Bucket(bucketBlobs)
	key := []byte(hash)
	if bucket.Get(key) == nil {
		return fmt.Errorf("%w: blob %s", ErrNotFound, hash)
	}
	if err := bucket.Delete(key); err != nil {
		return fmt.Errorf("catalog: deleting blob %s: %w", hash, err)
	}
	return nil
}
