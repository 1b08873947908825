// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package catalog

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"zombiezen.com/go/sqlite"
	"zombiezen.com/go/sqlite/sqlitex"

	"github.com/bureau-foundation/mapstore/lib/codec"
	"github.com/bureau-foundation/mapstore/lib/contenthash"
	"github.com/bureau-foundation/mapstore/lib/freespace"
	"github.com/bureau-foundation/mapstore/lib/layout"
	"github.com/bureau-foundation/mapstore/lib/sqlitepool"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS layouts (
	id              INTEGER PRIMARY KEY AUTOINCREMENT,
	map_size        INTEGER NOT NULL,
	allocation_size INTEGER NOT NULL,
	created_at      INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS shards (
	id             INTEGER PRIMARY KEY,
	size           INTEGER NOT NULL,
	free_space     INTEGER NOT NULL,
	free_intervals BLOB NOT NULL
);

CREATE TABLE IF NOT EXISTS blobs (
	hash       TEXT PRIMARY KEY,
	size       INTEGER NOT NULL,
	positions  BLOB NOT NULL,
	uploaded   INTEGER NOT NULL DEFAULT 0,
	checksum   BLOB,
	created_at INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS blobs_pending ON blobs (uploaded) WHERE uploaded = 0;
`

// SQLite is the default catalog backend.
type SQLite struct {
	pool   *sqlitepool.Pool
	logger *slog.Logger
}

var _ Catalog = (*SQLite)(nil)

// OpenSQLite opens or creates the catalog database at path.
func OpenSQLite(path string, logger *slog.Logger) (*SQLite, error) {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	pool, err := sqlitepool.Open(sqlitepool.Config{
		Path:    path,
		Durable: true,
		Logger:  logger,
		OnConnect: func(conn *sqlite.Conn) error {
			return sqlitex.ExecuteScript(conn, sqliteSchema, nil)
		},
	})
	if err != nil {
		return nil, fmt.Errorf("catalog: %w", err)
	}
	return &SQLite{pool: pool, logger: logger}, nil
}

// View runs fn in a read transaction.
func (c *SQLite) View(ctx context.Context, fn func(ReadTx) error) (err error) {
	conn, err := c.pool.Take(ctx)
	if err != nil {
		return fmt.Errorf("catalog: %w", err)
	}
	defer c.pool.Put(conn)

	endTransaction := sqlitex.Transaction(conn)
	defer endTransaction(&err)

	return fn(&sqliteTx{conn: conn})
}

// Update runs fn in an IMMEDIATE write transaction. The transaction
// commits when fn returns nil.
func (c *SQLite) Update(ctx context.Context, fn func(Tx) error) (err error) {
	conn, err := c.pool.Take(ctx)
	if err != nil {
		return fmt.Errorf("catalog: %w", err)
	}
	defer c.pool.Put(conn)

	endTransaction, err := sqlitex.ImmediateTransaction(conn)
	if err != nil {
		return fmt.Errorf("catalog: begin transaction: %w", err)
	}
	defer endTransaction(&err)

	return fn(&sqliteTx{conn: conn})
}

// Close closes the connection pool.
func (c *SQLite) Close() error {
	return c.pool.Close()
}

type sqliteTx struct {
	conn *sqlite.Conn
}

func columnBytes(stmt *sqlite.Stmt, column int) []byte {
	data := make([]byte, stmt.ColumnLen(column))
	stmt.ColumnBytes(column, data)
	return data
}

func (tx *sqliteTx) LatestLayout() (*LayoutRecord, error) {
	var record *LayoutRecord
	err := sqlitex.Execute(tx.conn,
		`SELECT map_size, allocation_size, created_at FROM layouts ORDER BY id DESC LIMIT 1`,
		&sqlitex.ExecOptions{
			ResultFunc: func(stmt *sqlite.Stmt) error {
				record = &LayoutRecord{
					Geometry:  layout.Geometry{ShardSize: stmt.ColumnInt64(0), Capacity: stmt.ColumnInt64(1)},
					CreatedAt: time.Unix(stmt.ColumnInt64(2), 0).UTC(),
				}
				return nil
			},
		})
	if err != nil {
		return nil, fmt.Errorf("catalog: reading layout: %w", err)
	}
	return record, nil
}

func (tx *sqliteTx) Layouts() ([]LayoutRecord, error) {
	var records []LayoutRecord
	err := sqlitex.Execute(tx.conn,
		`SELECT map_size, allocation_size, created_at FROM layouts ORDER BY id`,
		&sqlitex.ExecOptions{
			ResultFunc: func(stmt *sqlite.Stmt) error {
				records = append(records, LayoutRecord{
					Geometry:  layout.Geometry{ShardSize: stmt.ColumnInt64(0), Capacity: stmt.ColumnInt64(1)},
					CreatedAt: time.Unix(stmt.ColumnInt64(2), 0).UTC(),
				})
				return nil
			},
		})
	if err != nil {
		return nil, fmt.Errorf("catalog: reading layouts: %w", err)
	}
	return records, nil
}

func (tx *sqliteTx) scanShard(stmt *sqlite.Stmt) (freespace.Shard, error) {
	shard := freespace.Shard{
		ID:        stmt.ColumnInt(0),
		Size:      stmt.ColumnInt64(1),
		FreeSpace: stmt.ColumnInt64(2),
	}
	if err := codec.Unmarshal(columnBytes(stmt, 3), &shard.FreeIntervals); err != nil {
		return shard, fmt.Errorf("%w: shard %d free list: %w", ErrCorrupt, shard.ID, err)
	}
	if shard.FreeIntervals == nil {
		shard.FreeIntervals = freespace.FreeList{}
	}
	return shard, nil
}

func (tx *sqliteTx) Shard(id int) (freespace.Shard, error) {
	var shard freespace.Shard
	found := false
	err := sqlitex.Execute(tx.conn,
		`SELECT id, size, free_space, free_intervals FROM shards WHERE id = ?`,
		&sqlitex.ExecOptions{
			Args: []any{id},
			ResultFunc: func(stmt *sqlite.Stmt) error {
				var err error
				shard, err = tx.scanShard(stmt)
				found = true
				return err
			},
		})
	if err != nil {
		return shard, fmt.Errorf("catalog: reading shard %d: %w", id, err)
	}
	if !found {
		return shard, fmt.Errorf("%w: shard %d", ErrNotFound, id)
	}
	return shard, nil
}

func (tx *sqliteTx) Shards() ([]freespace.Shard, error) {
	var shards []freespace.Shard
	err := sqlitex.Execute(tx.conn,
		`SELECT id, size, free_space, free_intervals FROM shards ORDER BY id`,
		&sqlitex.ExecOptions{
			ResultFunc: func(stmt *sqlite.Stmt) error {
				shard, err := tx.scanShard(stmt)
				if err != nil {
					return err
				}
				shards = append(shards, shard)
				return nil
			},
		})
	if err != nil {
		return nil, fmt.Errorf("catalog: reading shards: %w", err)
	}
	return shards, nil
}

const blobColumns = `hash, size, positions, uploaded, checksum, created_at`

func scanBlob(stmt *sqlite.Stmt) (BlobEntry, error) {
	entry := BlobEntry{
		Hash:      stmt.ColumnText(0),
		Size:      stmt.ColumnInt64(1),
		Uploaded:  stmt.ColumnInt(3) != 0,
		CreatedAt: time.Unix(stmt.ColumnInt64(5), 0).UTC(),
	}
	if err := codec.Unmarshal(columnBytes(stmt, 2), &entry.Positions); err != nil {
		return entry, fmt.Errorf("%w: blob %s positions: %w", ErrCorrupt, entry.Hash, err)
	}
	if entry.Positions == nil {
		entry.Positions = freespace.Positions{}
	}
	if length := stmt.ColumnLen(4); length == len(entry.Checksum) {
		stmt.ColumnBytes(4, entry.Checksum[:])
	}
	return entry, nil
}

func (tx *sqliteTx) Blob(hash string) (BlobEntry, error) {
	var entry BlobEntry
	found := false
	err := sqlitex.Execute(tx.conn,
		`SELECT `+blobColumns+` FROM blobs WHERE hash = ?`,
		&sqlitex.ExecOptions{
			Args: []any{hash},
			ResultFunc: func(stmt *sqlite.Stmt) error {
				var err error
				entry, err = scanBlob(stmt)
				found = true
				return err
			},
		})
	if err != nil {
		return entry, fmt.Errorf("catalog: reading blob %s: %w", hash, err)
	}
	if !found {
		return entry, fmt.Errorf("%w: blob %s", ErrNotFound, hash)
	}
	return entry, nil
}

func (tx *sqliteTx) BlobHashes() ([]string, error) {
	var hashes []string
	err := sqlitex.Execute(tx.conn,
		`SELECT hash FROM blobs WHERE uploaded = 1 ORDER BY hash`,
		&sqlitex.ExecOptions{
			ResultFunc: func(stmt *sqlite.Stmt) error {
				hashes = append(hashes, stmt.ColumnText(0))
				return nil
			},
		})
	if err != nil {
		return nil, fmt.Errorf("catalog: listing blobs: %w", err)
	}
	return hashes, nil
}

func (tx *sqliteTx) PendingBlobs() ([]BlobEntry, error) {
	var entries []BlobEntry
	err := sqlitex.Execute(tx.conn,
		`SELECT `+blobColumns+` FROM blobs WHERE uploaded = 0 ORDER BY hash`,
		&sqlitex.ExecOptions{
			ResultFunc: func(stmt *sqlite.Stmt) error {
				entry, err := scanBlob(stmt)
				if err != nil {
					return err
				}
				entries = append(entries, entry)
				return nil
			},
		})
	if err != nil {
		return nil, fmt.Errorf("catalog: listing pending blobs: %w", err)
	}
	return entries, nil
}

func (tx *sqliteTx) HasBlobs() (bool, error) {
	count, err := sqlitex.ResultInt(tx.conn.Prep(`SELECT EXISTS (SELECT 1 FROM blobs)`))
	if err != nil {
		return false, fmt.Errorf("catalog: checking for blobs: %w", err)
	}
	return count != 0, nil
}

func (tx *sqliteTx) Totals() (Totals, error) {
	var totals Totals
	err := sqlitex.Execute(tx.conn,
		`SELECT COUNT(*), COALESCE(SUM(size), 0), COALESCE(SUM(free_space), 0) FROM shards`,
		&sqlitex.ExecOptions{
			ResultFunc: func(stmt *sqlite.Stmt) error {
				totals.ShardCount = stmt.ColumnInt(0)
				totals.Capacity = stmt.ColumnInt64(1)
				totals.FreeSpace = stmt.ColumnInt64(2)
				return nil
			},
		})
	if err != nil {
		return totals, fmt.Errorf("catalog: summing shards: %w", err)
	}
	err = sqlitex.Execute(tx.conn,
		`SELECT COALESCE(SUM(uploaded = 1), 0), COALESCE(SUM(uploaded = 0), 0) FROM blobs`,
		&sqlitex.ExecOptions{
			ResultFunc: func(stmt *sqlite.Stmt) error {
				totals.BlobCount = stmt.ColumnInt(0)
				totals.PendingCount = stmt.ColumnInt(1)
				return nil
			},
		})
	if err != nil {
		return totals, fmt.Errorf("catalog: counting blobs: %w", err)
	}
	return totals, nil
}

func (tx *sqliteTx) AppendLayout(record LayoutRecord) error {
	err := sqlitex.Execute(tx.conn,
		`INSERT INTO layouts (map_size, allocation_size, created_at) VALUES (?, ?, ?)`,
		&sqlitex.ExecOptions{
			Args: []any{record.Geometry.ShardSize, record.Geometry.Capacity, record.CreatedAt.Unix()},
		})
	if err != nil {
		return fmt.Errorf("catalog: appending layout: %w", err)
	}
	return nil
}

func (tx *sqliteTx) PutShard(shard freespace.Shard) error {
	intervals := shard.FreeIntervals
	if intervals == nil {
		intervals = freespace.FreeList{}
	}
	encoded, err := codec.Marshal(intervals)
	if err != nil {
		return fmt.Errorf("catalog: encoding shard %d free list: %w", shard.ID, err)
	}
	err = sqlitex.Execute(tx.conn,
		`INSERT INTO shards (id, size, free_space, free_intervals) VALUES (?, ?, ?, ?)
		 ON CONFLICT (id) DO UPDATE SET
			size = excluded.size,
			free_space = excluded.free_space,
			free_intervals = excluded.free_intervals`,
		&sqlitex.ExecOptions{
			Args: []any{shard.ID, shard.Size, shard.FreeSpace, encoded},
		})
	if err != nil {
		return fmt.Errorf("catalog: writing shard %d: %w", shard.ID, err)
	}
	return nil
}

func (tx *sqliteTx) DeleteShard(id int) error {
	err := sqlitex.Execute(tx.conn, `DELETE FROM shards WHERE id = ?`, &sqlitex.ExecOptions{Args: []any{id}})
	if err != nil {
		return fmt.Errorf("catalog: deleting shard %d: %w", id, err)
	}
	return nil
}

func (tx *sqliteTx) InsertBlob(entry BlobEntry) error {
	if _, err := tx.Blob(entry.Hash); err == nil {
		return fmt.Errorf("%w: blob %s", ErrDuplicate, entry.Hash)
	} else if !errors.Is(err, ErrNotFound) {
		return err
	}

	positions := entry.Positions
	if positions == nil {
		positions = freespace.Positions{}
	}
	encoded, err := codec.Marshal(positions)
	if err != nil {
		return fmt.Errorf("catalog: encoding blob %s positions: %w", entry.Hash, err)
	}
	var checksum any
	if !entry.Checksum.IsZero() {
		checksum = entry.Checksum[:]
	}
	err = sqlitex.Execute(tx.conn,
		`INSERT INTO blobs (`+blobColumns+`) VALUES (?, ?, ?, ?, ?, ?)`,
		&sqlitex.ExecOptions{
			Args: []any{entry.Hash, entry.Size, encoded, entry.Uploaded, checksum, entry.CreatedAt.Unix()},
		})
	if err != nil {
		return fmt.Errorf("catalog: inserting blob %s: %w", entry.Hash, err)
	}
	return nil
}

func (tx *sqliteTx) FinalizeBlob(hash string, checksum contenthash.Checksum) error {
	err := sqlitex.Execute(tx.conn,
		`UPDATE blobs SET uploaded = 1, checksum = ? WHERE hash = ?`,
		&sqlitex.ExecOptions{Args: []any{checksum[:], hash}})
	if err != nil {
		return fmt.Errorf("catalog: finalizing blob %s: %w", hash, err)
	}
	if tx.conn.Changes() == 0 {
		return fmt.Errorf("%w: blob %s", ErrNotFound, hash)
	}
	return nil
}

func (tx *sqliteTx) DeleteBlob(hash string) error {
	err := sqlitex.Execute(tx.conn, `DELETE FROM blobs WHERE hash = ?`, &sqlitex.ExecOptions{Args: []any{hash}})
	if err != nil {
		return fmt.Errorf("catalog: deleting blob %s: %w", hash, err)
	}
	if tx.conn.Changes() == 0 {
		return fmt.Errorf("%w: blob %s", ErrNotFound, hash)
	}
	return nil
}
