// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package sqlitepool_test

import (
	"context"
	"path/filepath"
	"sync"
	"testing"

	"zombiezen.com/go/sqlite"
	"zombiezen.com/go/sqlite/sqlitex"

	"github.com/bureau-foundation/mapstore/lib/sqlitepool"
)

func pragmaInt(t *testing.T, conn *sqlite.Conn, pragma string) int {
	t.Helper()
	var value int
	err := sqlitex.Execute(conn, "PRAGMA "+pragma, &sqlitex.ExecOptions{
		ResultFunc: func(stmt *sqlite.Stmt) error {
			value = stmt.ColumnInt(0)
			return nil
		},
	})
	if err != nil {
		t.Fatalf("PRAGMA %s: %v", pragma, err)
	}
	return value
}

func TestPragmas(t *testing.T) {
	tests := []struct {
		name            string
		durable         bool
		wantSynchronous int
	}{
		{name: "normal", durable: false, wantSynchronous: 1},
		{name: "durable", durable: true, wantSynchronous: 2},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			pool := openTestPool(t, sqlitepool.Config{Durable: test.durable})

			conn, err := pool.Take(context.Background())
			if err != nil {
				t.Fatalf("Take: %v", err)
			}
			defer pool.Put(conn)

			var journalMode string
			err = sqlitex.Execute(conn, "PRAGMA journal_mode", &sqlitex.ExecOptions{
				ResultFunc: func(stmt *sqlite.Stmt) error {
					journalMode = stmt.ColumnText(0)
					return nil
				},
			})
			if err != nil {
				t.Fatalf("PRAGMA journal_mode: %v", err)
			}
			if journalMode != "wal" {
				t.Errorf("journal_mode = %q, want wal", journalMode)
			}
			if got := pragmaInt(t, conn, "synchronous"); got != test.wantSynchronous {
				t.Errorf("synchronous = %d, want %d", got, test.wantSynchronous)
			}
			if got := pragmaInt(t, conn, "foreign_keys"); got != 1 {
				t.Errorf("foreign_keys = %d, want 1", got)
			}
		})
	}
}

func TestOnConnectCreatesSchema(t *testing.T) {
	var mu sync.Mutex
	calls := 0
	pool := openTestPool(t, sqlitepool.Config{
		OnConnect: func(conn *sqlite.Conn) error {
			mu.Lock()
			calls++
			mu.Unlock()
			return sqlitex.ExecuteScript(conn, `
				CREATE TABLE IF NOT EXISTS shards (
					id   INTEGER PRIMARY KEY,
					size INTEGER NOT NULL
				);
			`, nil)
		},
	})

	conn, err := pool.Take(context.Background())
	if err != nil {
		t.Fatalf("Take: %v", err)
	}
	defer pool.Put(conn)

	mu.Lock()
	if calls == 0 {
		t.Error("OnConnect was not called")
	}
	mu.Unlock()
	err = sqlitex.Execute(conn, "INSERT INTO shards (id, size) VALUES (?, ?)", &sqlitex.ExecOptions{
		Args: []any{1, 4096},
	})
	if err != nil {
		t.Fatalf("INSERT: %v", err)
	}
}

func TestImmediateTransactionRollsBack(t *testing.T) {
	pool := openTestPool(t, sqlitepool.Config{
		OnConnect: func(conn *sqlite.Conn) error {
			return sqlitex.ExecuteScript(conn, `CREATE TABLE IF NOT EXISTS counters (value INTEGER NOT NULL);`, nil)
		},
	})
	ctx := context.Background()

	write := func(fail bool) (err error) {
		conn, err := pool.Take(ctx)
		if err != nil {
			return err
		}
		defer pool.Put(conn)

		endTransaction, err := sqlitex.ImmediateTransaction(conn)
		if err != nil {
			return err
		}
		defer endTransaction(&err)

		if err := sqlitex.Execute(conn, "INSERT INTO counters (value) VALUES (1)", nil); err != nil {
			return err
		}
		if fail {
			return context.Canceled
		}
		return nil
	}

	if err := write(false); err != nil {
		t.Fatalf("committed write: %v", err)
	}
	if err := write(true); err == nil {
		t.Fatal("failing write returned nil")
	}

	conn, err := pool.Take(ctx)
	if err != nil {
		t.Fatalf("Take: %v", err)
	}
	defer pool.Put(conn)
	count, err := sqlitex.ResultInt(conn.Prep("SELECT COUNT(*) FROM counters"))
	if err != nil {
		t.Fatalf("count: %v", err)
	}
	if count != 1 {
		t.Errorf("row count = %d, want 1 (the failed write must roll back)", count)
	}
}

func TestEmptyPathRejected(t *testing.T) {
	if _, err := sqlitepool.Open(sqlitepool.Config{}); err == nil {
		t.Fatal("expected error for empty Path")
	}
}

func TestContextCancellation(t *testing.T) {
	pool := openTestPool(t, sqlitepool.Config{PoolSize: 1})

	conn, err := pool.Take(context.Background())
	if err != nil {
		t.Fatalf("Take: %v", err)
	}
	defer pool.Put(conn)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := pool.Take(ctx); err == nil {
		t.Fatal("expected error from cancelled context")
	}
}

// openTestPool opens a pool on a temporary file, closed when the test
// ends. Path is filled in; other fields come from cfg.
func openTestPool(t *testing.T, cfg sqlitepool.Config) *sqlitepool.Pool {
	t.Helper()

	cfg.Path = filepath.Join(t.TempDir(), "test.db")
	if cfg.PoolSize == 0 {
		cfg.PoolSize = 4
	}
	pool, err := sqlitepool.Open(cfg)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() {
		if err := pool.Close(); err != nil {
			t.Errorf("Close: %v", err)
		}
	})
	return pool
}
