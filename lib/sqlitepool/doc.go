// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package sqlitepool opens SQLite databases with the module's standard
// settings and hands out connections from a fixed-size pool.
//
// It wraps zombiezen.com/go/sqlite. Callers [Pool.Take] a connection,
// do their work, and [Pool.Put] it back. A connection is not safe for
// concurrent use, so each goroutine holds its own for the duration of
// its work.
//
// # Pragmas
//
// Every connection starts with:
//
//   - journal_mode=WAL: readers never block the single writer.
//   - synchronous=FULL when [Config.Durable] is set, NORMAL otherwise.
//     The catalog records which shard bytes belong to which blob, so
//     losing a committed transaction after a power failure would let
//     the allocator hand out bytes that still hold data.
//   - busy_timeout=5000: wait for the write lock instead of failing
//     with SQLITE_BUSY.
//   - foreign_keys=ON.
//   - temp_store=MEMORY.
//
// # Usage
//
//	pool, err := sqlitepool.Open(sqlitepool.Config{
//	    Path:    filepath.Join(dir, "catalog.sqlite"),
//	    Durable: true,
//	    Logger:  logger,
//	    OnConnect: func(conn *sqlite.Conn) error {
//	        return sqlitex.ExecuteScript(conn, schema, nil)
//	    },
//	})
//	if err != nil {
//	    return err
//	}
//	defer pool.Close()
//
// Transactions use sqlitex directly: ImmediateTransaction for writes,
// so the write lock is taken up front, and Transaction for reads.
package sqlitepool
