// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package mapstore

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"reflect"
	"sync"
	"testing"

	"github.com/bureau-foundation/mapstore/lib/catalog"
	"github.com/bureau-foundation/mapstore/lib/contenthash"
	"github.com/bureau-foundation/mapstore/lib/freespace"
)

// pattern returns size deterministic bytes that differ per seed.
func pattern(size int, seed byte) []byte {
	data := make([]byte, size)
	for i := range data {
		data[i] = byte(i*7) ^ seed
	}
	return data
}

func testConfig(t *testing.T, backend catalog.Backend, capacity, mapSize int64) Config {
	t.Helper()
	return Config{
		Path:           t.TempDir(),
		AllocationSize: capacity,
		MapSize:        mapSize,
		Catalog:        backend,
		BufferSize:     32,
	}
}

func openStore(t *testing.T, config Config) *Store {
	t.Helper()
	store, err := Open(context.Background(), config)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() {
		if err := store.Close(); err != nil {
			t.Errorf("Close: %v", err)
		}
	})
	return store
}

// forEachBackend runs test against a fresh store on each catalog
// backend.
func forEachBackend(t *testing.T, capacity, mapSize int64, test func(t *testing.T, store *Store)) {
	t.Helper()
	for _, backend := range []catalog.Backend{catalog.BackendSQLite, catalog.BackendBolt} {
		t.Run(string(backend), func(t *testing.T) {
			test(t, openStore(t, testConfig(t, backend, capacity, mapSize)))
		})
	}
}

func put(t *testing.T, store *Store, data []byte) string {
	t.Helper()
	hash := contenthash.AddressBytes(data)
	if err := store.Store(context.Background(), hash, bytes.NewReader(data), int64(len(data))); err != nil {
		t.Fatalf("Store(%d bytes): %v", len(data), err)
	}
	return hash
}

func get(t *testing.T, store *Store, hash string) []byte {
	t.Helper()
	var buffer bytes.Buffer
	if err := store.Retrieve(context.Background(), hash, &buffer); err != nil {
		t.Fatalf("Retrieve(%s): %v", hash, err)
	}
	return buffer.Bytes()
}

func storeInfo(t *testing.T, store *Store) StoreInfo {
	t.Helper()
	info, err := store.StoreInfo(context.Background())
	if err != nil {
		t.Fatalf("StoreInfo: %v", err)
	}
	return info
}

func check(t *testing.T, store *Store) {
	t.Helper()
	if err := store.Check(context.Background()); err != nil {
		t.Errorf("Check: %v", err)
	}
}

func TestOpenCreatesShards(t *testing.T) {
	forEachBackend(t, 300, 128, func(t *testing.T, store *Store) {
		shards, err := store.Shards(context.Background())
		if err != nil {
			t.Fatalf("Shards: %v", err)
		}
		want := []ShardInfo{
			{ID: 1, Size: 128, FreeSpace: 128, FreeIntervals: 1, LargestFree: 128},
			{ID: 2, Size: 128, FreeSpace: 128, FreeIntervals: 1, LargestFree: 128},
			{ID: 3, Size: 44, FreeSpace: 44, FreeIntervals: 1, LargestFree: 44},
		}
		if !reflect.DeepEqual(shards, want) {
			t.Errorf("Shards = %+v, want %+v", shards, want)
		}

		for _, shard := range want {
			info, err := os.Stat(filepath.Join(store.Path(), currentLink, shardsDir, fmt.Sprintf("%d.map", shard.ID)))
			if err != nil {
				t.Fatalf("stat shard %d: %v", shard.ID, err)
			}
			if info.Size() != shard.Size {
				t.Errorf("shard %d file is %d bytes, want %d", shard.ID, info.Size(), shard.Size)
			}
		}

		info := storeInfo(t, store)
		if info.AllocationSize != 300 || info.MapSize != 128 || info.FreeSpace != 300 || info.UsedSpace != 0 {
			t.Errorf("StoreInfo = %+v", info)
		}
		check(t, store)
	})
}

func TestStoreSpansShards(t *testing.T) {
	forEachBackend(t, 512, 128, func(t *testing.T, store *Store) {
		data := pattern(256, 1)
		hash := put(t, store, data)

		shards, err := store.Shards(context.Background())
		if err != nil {
			t.Fatalf("Shards: %v", err)
		}
		free := []int64{shards[0].FreeSpace, shards[1].FreeSpace, shards[2].FreeSpace, shards[3].FreeSpace}
		if !reflect.DeepEqual(free, []int64{0, 0, 128, 128}) {
			t.Errorf("free space per shard = %v, want [0 0 128 128]", free)
		}

		info, err := store.DataInfo(context.Background(), hash)
		if err != nil {
			t.Fatalf("DataInfo: %v", err)
		}
		if info.Size != 256 || info.SegmentCount != 2 || !reflect.DeepEqual(info.Shards, []int{1, 2}) {
			t.Errorf("DataInfo = %+v", info)
		}
		if info.Checksum != contenthash.ChecksumBytes(data).String() {
			t.Errorf("DataInfo checksum = %s, want %s", info.Checksum, contenthash.ChecksumBytes(data))
		}

		if got := get(t, store, hash); !bytes.Equal(got, data) {
			t.Error("retrieved bytes differ from stored bytes")
		}
		if got := storeInfo(t, store); got.FreeSpace != 256 || got.UsedSpace != 256 || got.BlobCount != 1 {
			t.Errorf("StoreInfo = %+v", got)
		}
		check(t, store)
	})
}

func TestRoundTripSizes(t *testing.T) {
	for _, size := range []int{0, 1, 31, 127, 128, 129, 300, 512} {
		t.Run(fmt.Sprint(size), func(t *testing.T) {
			forEachBackend(t, 512, 128, func(t *testing.T, store *Store) {
				data := pattern(size, byte(size))
				hash := put(t, store, data)
				if got := get(t, store, hash); !bytes.Equal(got, data) {
					t.Errorf("round trip of %d bytes differs", size)
				}
				if info := storeInfo(t, store); info.UsedSpace != int64(size) {
					t.Errorf("UsedSpace = %d, want %d", info.UsedSpace, size)
				}
				check(t, store)
			})
		})
	}
}

func TestStoreBeyondCapacity(t *testing.T) {
	forEachBackend(t, 512, 128, func(t *testing.T, store *Store) {
		data := pattern(513, 2)
		err := store.Store(context.Background(), "big", bytes.NewReader(data), int64(len(data)))
		if !errors.Is(err, ErrCapacity) {
			t.Fatalf("Store error = %v, want ErrCapacity", err)
		}
		if info := storeInfo(t, store); info.FreeSpace != 512 || info.BlobCount != 0 || info.PendingCount != 0 {
			t.Errorf("StoreInfo after failed store = %+v", info)
		}
	})
}

func TestStoreDuplicate(t *testing.T) {
	forEachBackend(t, 512, 128, func(t *testing.T, store *Store) {
		data := pattern(100, 3)
		hash := put(t, store, data)
		before := storeInfo(t, store)

		err := store.Store(context.Background(), hash, bytes.NewReader(pattern(50, 4)), 50)
		if !errors.Is(err, ErrDuplicate) {
			t.Fatalf("Store error = %v, want ErrDuplicate", err)
		}
		if after := storeInfo(t, store); after != before {
			t.Errorf("StoreInfo changed: before %+v, after %+v", before, after)
		}
		if got := get(t, store, hash); !bytes.Equal(got, data) {
			t.Error("duplicate store changed the stored bytes")
		}
	})
}

func TestDeleteReturnsSpace(t *testing.T) {
	forEachBackend(t, 512, 128, func(t *testing.T, store *Store) {
		first := put(t, store, pattern(300, 5))
		second := put(t, store, pattern(100, 6))

		if err := store.Delete(context.Background(), first); err != nil {
			t.Fatalf("Delete: %v", err)
		}
		if info := storeInfo(t, store); info.FreeSpace != 412 || info.BlobCount != 1 {
			t.Errorf("StoreInfo after delete = %+v", info)
		}
		check(t, store)

		if err := store.Retrieve(context.Background(), first, io.Discard); !errors.Is(err, ErrNotFound) {
			t.Errorf("Retrieve after delete error = %v, want ErrNotFound", err)
		}
		if err := store.Delete(context.Background(), first); !errors.Is(err, ErrNotFound) {
			t.Errorf("second Delete error = %v, want ErrNotFound", err)
		}

		// The freed bytes are reusable up to the full remaining space.
		third := put(t, store, pattern(412, 7))
		if info := storeInfo(t, store); info.FreeSpace != 0 {
			t.Errorf("FreeSpace = %d, want 0", info.FreeSpace)
		}
		if got := get(t, store, second); !bytes.Equal(got, pattern(100, 6)) {
			t.Error("surviving blob changed")
		}
		if got := get(t, store, third); !bytes.Equal(got, pattern(412, 7)) {
			t.Error("blob stored into freed space differs")
		}
		check(t, store)

		hashes, err := store.List(context.Background())
		if err != nil {
			t.Fatalf("List: %v", err)
		}
		if len(hashes) != 2 {
			t.Errorf("List = %v, want 2 hashes", hashes)
		}
	})
}

func TestDeleteCoalescesFreeSpace(t *testing.T) {
	forEachBackend(t, 128, 128, func(t *testing.T, store *Store) {
		first := put(t, store, pattern(64, 8))
		second := put(t, store, pattern(64, 9))
		for _, hash := range []string{first, second} {
			if err := store.Delete(context.Background(), hash); err != nil {
				t.Fatalf("Delete: %v", err)
			}
		}
		shards, err := store.Shards(context.Background())
		if err != nil {
			t.Fatalf("Shards: %v", err)
		}
		if shards[0].FreeIntervals != 1 || shards[0].FreeSpace != 128 {
			t.Errorf("shard after deletes = %+v, want one 128-byte interval", shards[0])
		}
	})
}

func TestNotFound(t *testing.T) {
	forEachBackend(t, 512, 128, func(t *testing.T, store *Store) {
		ctx := context.Background()
		if err := store.Retrieve(ctx, "missing", io.Discard); !errors.Is(err, ErrNotFound) {
			t.Errorf("Retrieve error = %v, want ErrNotFound", err)
		}
		if _, err := store.DataInfo(ctx, "missing"); !errors.Is(err, ErrNotFound) {
			t.Errorf("DataInfo error = %v, want ErrNotFound", err)
		}
		if err := store.Verify(ctx, "missing"); !errors.Is(err, ErrNotFound) {
			t.Errorf("Verify error = %v, want ErrNotFound", err)
		}
	})
}

// onlyReader hides every method but Read.
type onlyReader struct{ io.Reader }

// onlyWriter hides every method but Write.
type onlyWriter struct{ io.Writer }

func TestStreamingSourceAndDestination(t *testing.T) {
	forEachBackend(t, 512, 128, func(t *testing.T, store *Store) {
		ctx := context.Background()
		data := pattern(200, 10)
		hash := contenthash.AddressBytes(data)

		if err := store.Store(ctx, hash, onlyReader{bytes.NewReader(data)}, -1); !errors.Is(err, ErrConfig) {
			t.Errorf("Store with unknown size error = %v, want ErrConfig", err)
		}
		if err := store.Store(ctx, hash, onlyReader{bytes.NewReader(data)}, int64(len(data))); err != nil {
			t.Fatalf("Store: %v", err)
		}

		var buffer bytes.Buffer
		if err := store.Retrieve(ctx, hash, onlyWriter{&buffer}); err != nil {
			t.Fatalf("Retrieve: %v", err)
		}
		if !bytes.Equal(buffer.Bytes(), data) {
			t.Error("streamed round trip differs")
		}
	})
}

func TestStoreMeasuresSeekableSource(t *testing.T) {
	forEachBackend(t, 512, 128, func(t *testing.T, store *Store) {
		data := pattern(150, 11)
		reader := bytes.NewReader(append([]byte("skip"), data...))
		if _, err := reader.Seek(4, io.SeekStart); err != nil {
			t.Fatal(err)
		}
		hash := contenthash.AddressBytes(data)
		if err := store.Store(context.Background(), hash, reader, -1); err != nil {
			t.Fatalf("Store: %v", err)
		}
		if got := get(t, store, hash); !bytes.Equal(got, data) {
			t.Error("measured store differs")
		}
	})
}

func TestShortSourceReleasesSpace(t *testing.T) {
	forEachBackend(t, 512, 128, func(t *testing.T, store *Store) {
		err := store.Store(context.Background(), "short", onlyReader{bytes.NewReader(pattern(50, 12))}, 100)
		if !errors.Is(err, ErrIO) {
			t.Fatalf("Store error = %v, want ErrIO", err)
		}
		if info := storeInfo(t, store); info.FreeSpace != 512 || info.BlobCount != 0 || info.PendingCount != 0 {
			t.Errorf("StoreInfo after short source = %+v", info)
		}
		check(t, store)
	})
}

func TestVerifyDetectsCorruption(t *testing.T) {
	forEachBackend(t, 512, 128, func(t *testing.T, store *Store) {
		ctx := context.Background()
		hash := put(t, store, pattern(64, 13))
		if err := store.Verify(ctx, hash); err != nil {
			t.Fatalf("Verify before corruption: %v", err)
		}

		file, err := os.OpenFile(filepath.Join(store.Path(), currentLink, shardsDir, "1.map"), os.O_WRONLY, 0)
		if err != nil {
			t.Fatal(err)
		}
		if _, err := file.WriteAt([]byte{0xff ^ pattern(64, 13)[10]}, 10); err != nil {
			t.Fatal(err)
		}
		if err := file.Close(); err != nil {
			t.Fatal(err)
		}

		if err := store.Verify(ctx, hash); !errors.Is(err, ErrChecksumMismatch) {
			t.Errorf("Verify error = %v, want ErrChecksumMismatch", err)
		}
	})
}

func TestConcurrentStores(t *testing.T) {
	forEachBackend(t, 1024, 128, func(t *testing.T, store *Store) {
		const blobs = 12
		var wg sync.WaitGroup
		errs := make(chan error, blobs)
		for i := range blobs {
			wg.Add(1)
			go func() {
				defer wg.Done()
				data := pattern(80, byte(i))
				errs <- store.Store(context.Background(), contenthash.AddressBytes(data), bytes.NewReader(data), int64(len(data)))
			}()
		}
		wg.Wait()
		close(errs)
		for err := range errs {
			if err != nil {
				t.Errorf("Store: %v", err)
			}
		}

		for i := range blobs {
			data := pattern(80, byte(i))
			if got := get(t, store, contenthash.AddressBytes(data)); !bytes.Equal(got, data) {
				t.Errorf("blob %d differs after concurrent stores", i)
			}
		}
		if info := storeInfo(t, store); info.UsedSpace != blobs*80 {
			t.Errorf("UsedSpace = %d, want %d", info.UsedSpace, blobs*80)
		}
		check(t, store)
	})
}

func TestReopenGrowsCapacity(t *testing.T) {
	for _, backend := range []catalog.Backend{catalog.BackendSQLite, catalog.BackendBolt} {
		t.Run(string(backend), func(t *testing.T) {
			ctx := context.Background()
			config := testConfig(t, backend, 500, 128)
			store, err := Open(ctx, config)
			if err != nil {
				t.Fatalf("Open: %v", err)
			}
			data := pattern(400, 14)
			hash := put(t, store, data)
			if err := store.Close(); err != nil {
				t.Fatalf("Close: %v", err)
			}

			config.AllocationSize = 1024
			store = openStore(t, config)
			shards, err := store.Shards(ctx)
			if err != nil {
				t.Fatalf("Shards: %v", err)
			}
			if len(shards) != 8 {
				t.Fatalf("%d shards after growth, want 8", len(shards))
			}
			// Shard 4 was 116 bytes, held bytes 384..399 of the blob,
			// and now extends to 128.
			if shards[3].Size != 128 || shards[3].FreeSpace != 128-16 || shards[3].FreeIntervals != 1 {
				t.Errorf("grown shard = %+v", shards[3])
			}
			info := storeInfo(t, store)
			if info.AllocationSize != 1024 || info.FreeSpace != 1024-400 {
				t.Errorf("StoreInfo after growth = %+v", info)
			}
			if got := get(t, store, hash); !bytes.Equal(got, data) {
				t.Error("blob changed across growth")
			}
			check(t, store)
		})
	}
}

func TestReopenWithRecordedGeometry(t *testing.T) {
	ctx := context.Background()
	config := testConfig(t, catalog.BackendBolt, 500, 128)
	store, err := Open(ctx, config)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	hash := put(t, store, pattern(200, 15))
	if err := store.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	config.AllocationSize, config.MapSize = 0, 0
	store = openStore(t, config)
	info := storeInfo(t, store)
	if info.AllocationSize != 500 || info.MapSize != 128 || info.ShardCount != 4 {
		t.Errorf("StoreInfo = %+v, want the recorded 500/128 geometry", info)
	}
	if got := get(t, store, hash); !bytes.Equal(got, pattern(200, 15)) {
		t.Error("blob changed across reopen")
	}
}

func TestReopenRejectsConflictingLayout(t *testing.T) {
	ctx := context.Background()
	config := testConfig(t, catalog.BackendSQLite, 512, 128)
	store, err := Open(ctx, config)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	put(t, store, pattern(10, 15))
	if err := store.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	for _, change := range []struct {
		name     string
		capacity int64
		mapSize  int64
	}{
		{name: "map size", capacity: 512, mapSize: 256},
		{name: "shrink", capacity: 256, mapSize: 128},
	} {
		t.Run(change.name, func(t *testing.T) {
			changed := config
			changed.AllocationSize = change.capacity
			changed.MapSize = change.mapSize
			if store, err := Open(ctx, changed); !errors.Is(err, ErrLayoutConflict) {
				if err == nil {
					store.Close()
				}
				t.Errorf("Open error = %v, want ErrLayoutConflict", err)
			}
		})
	}

	// The original layout still opens.
	openStore(t, config)
}

func TestReopenRebuildsEmptyStore(t *testing.T) {
	ctx := context.Background()
	config := testConfig(t, catalog.BackendBolt, 512, 128)
	store, err := Open(ctx, config)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if err := store.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	config.AllocationSize = 300
	config.MapSize = 100
	store = openStore(t, config)
	info := storeInfo(t, store)
	if info.ShardCount != 3 || info.MapSize != 100 || info.AllocationSize != 300 {
		t.Errorf("StoreInfo after rebuild = %+v", info)
	}
	if _, err := os.Stat(filepath.Join(store.Path(), currentLink, shardsDir, "4.map")); !errors.Is(err, os.ErrNotExist) {
		t.Errorf("stale shard 4 still present: %v", err)
	}
	check(t, store)
}

func TestOpenRejectsOtherBackend(t *testing.T) {
	ctx := context.Background()
	config := testConfig(t, catalog.BackendSQLite, 512, 128)
	store, err := Open(ctx, config)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	store.Close()

	config.Catalog = catalog.BackendBolt
	if store, err := Open(ctx, config); !errors.Is(err, ErrConfig) {
		if err == nil {
			store.Close()
		}
		t.Errorf("Open error = %v, want ErrConfig", err)
	}
}

func TestReconcileReleasesAbandonedEntry(t *testing.T) {
	for _, backend := range []catalog.Backend{catalog.BackendSQLite, catalog.BackendBolt} {
		t.Run(string(backend), func(t *testing.T) {
			ctx := context.Background()
			config := testConfig(t, backend, 512, 128)
			store, err := Open(ctx, config)
			if err != nil {
				t.Fatalf("Open: %v", err)
			}

			// A reservation still owned by this process survives
			// Reconcile.
			if _, err := store.generation.reserve(ctx, "abandoned", 200); err != nil {
				t.Fatalf("reserve: %v", err)
			}
			report, err := store.Reconcile(ctx)
			if err != nil {
				t.Fatalf("Reconcile: %v", err)
			}
			if len(report.Released) != 0 {
				t.Errorf("Reconcile released in-flight entry: %+v", report)
			}
			if info := storeInfo(t, store); info.PendingCount != 1 || info.FreeSpace != 312 {
				t.Errorf("StoreInfo with pending entry = %+v", info)
			}
			if err := store.Retrieve(ctx, "abandoned", io.Discard); !errors.Is(err, ErrNotFound) {
				t.Errorf("Retrieve of pending entry error = %v, want ErrNotFound", err)
			}
			if err := store.Close(); err != nil {
				t.Fatalf("Close: %v", err)
			}

			// After a restart nothing owns it.
			store = openStore(t, config)
			info := storeInfo(t, store)
			if info.PendingCount != 0 || info.FreeSpace != 512 {
				t.Errorf("StoreInfo after reopen = %+v", info)
			}
			check(t, store)
			put(t, store, pattern(512, 16))
		})
	}
}

func TestOpenRejectsRootInUse(t *testing.T) {
	ctx := context.Background()
	config := testConfig(t, catalog.BackendSQLite, 512, 128)
	store, err := Open(ctx, config)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}

	// Hold a store half written so that its entry is still pending.
	data := pattern(100, 30)
	reader, writer := io.Pipe()
	stored := make(chan error, 1)
	go func() {
		stored <- store.Store(ctx, "first", reader, int64(len(data)))
	}()
	if _, err := writer.Write(data[:50]); err != nil {
		t.Fatalf("Write: %v", err)
	}

	if second, err := Open(ctx, config); !errors.Is(err, ErrLocked) {
		if err == nil {
			second.Close()
		}
		t.Fatalf("second Open error = %v, want ErrLocked", err)
	}

	if _, err := writer.Write(data[50:]); err != nil {
		t.Fatalf("Write: %v", err)
	}
	writer.Close()
	if err := <-stored; err != nil {
		t.Fatalf("Store: %v", err)
	}
	if got := get(t, store, "first"); !bytes.Equal(got, data) {
		t.Error("pending blob changed while a second handle tried to open")
	}
	if err := store.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	// Once closed, the root opens again and the blob is intact.
	store = openStore(t, config)
	if got := get(t, store, "first"); !bytes.Equal(got, data) {
		t.Error("blob changed across reopen")
	}
	info := storeInfo(t, store)
	if info.PendingCount != 0 || info.UsedSpace != 100 {
		t.Errorf("StoreInfo after reopen = %+v", info)
	}
	check(t, store)
}

func TestRestructure(t *testing.T) {
	forEachBackend(t, 512, 128, func(t *testing.T, store *Store) {
		ctx := context.Background()
		blobs := map[string][]byte{}
		for i, size := range []int{100, 0, 250, 60} {
			data := pattern(size, byte(20+i))
			blobs[put(t, store, data)] = data
		}
		deleted := put(t, store, pattern(30, 30))
		if err := store.Delete(ctx, deleted); err != nil {
			t.Fatalf("Delete: %v", err)
		}

		var progress []int
		err := store.Restructure(ctx, 200, 1000, RestructureOptions{
			Workers:  3,
			Progress: func(copied, total int) { progress = append(progress, copied) },
		})
		if err != nil {
			t.Fatalf("Restructure: %v", err)
		}
		if len(progress) != len(blobs) || progress[len(progress)-1] != len(blobs) {
			t.Errorf("progress = %v, want %d calls ending at %d", progress, len(blobs), len(blobs))
		}

		info := storeInfo(t, store)
		if info.MapSize != 200 || info.AllocationSize != 1000 || info.ShardCount != 5 {
			t.Errorf("StoreInfo after restructure = %+v", info)
		}
		if info.UsedSpace != 410 || info.BlobCount != len(blobs) {
			t.Errorf("usage after restructure = %+v", info)
		}
		if info.Generation != generationName(2) {
			t.Errorf("generation = %s, want %s", info.Generation, generationName(2))
		}
		for hash, data := range blobs {
			if got := get(t, store, hash); !bytes.Equal(got, data) {
				t.Errorf("blob %s differs after restructure", hash)
			}
		}
		check(t, store)

		if _, err := os.Stat(filepath.Join(store.Path(), generationName(1))); !errors.Is(err, os.ErrNotExist) {
			t.Errorf("old generation still present: %v", err)
		}
		target, err := os.Readlink(filepath.Join(store.Path(), currentLink))
		if err != nil || target != generationName(2) {
			t.Errorf("current link = %q, %v", target, err)
		}

		// The store keeps working on the new generation.
		put(t, store, pattern(500, 31))
		if info := storeInfo(t, store); info.FreeSpace != 1000-910 {
			t.Errorf("FreeSpace = %d, want %d", info.FreeSpace, 1000-910)
		}
	})
}

func TestRestructureSurvivesReopen(t *testing.T) {
	ctx := context.Background()
	config := testConfig(t, catalog.BackendSQLite, 512, 128)
	store, err := Open(ctx, config)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	data := pattern(300, 40)
	hash := put(t, store, data)
	if err := store.Restructure(ctx, 64, 640, RestructureOptions{}); err != nil {
		t.Fatalf("Restructure: %v", err)
	}
	if err := store.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	// The old geometry now conflicts; the new one opens.
	if store, err := Open(ctx, config); !errors.Is(err, ErrLayoutConflict) {
		if err == nil {
			store.Close()
		}
		t.Errorf("Open with old geometry error = %v, want ErrLayoutConflict", err)
	}
	config.MapSize = 64
	config.AllocationSize = 640
	store = openStore(t, config)
	if got := get(t, store, hash); !bytes.Equal(got, data) {
		t.Error("blob differs after reopen")
	}

	var records []catalog.LayoutRecord
	err = store.generation.catalog.View(ctx, func(tx catalog.ReadTx) error {
		records, err = tx.Layouts()
		return err
	})
	if err != nil {
		t.Fatalf("Layouts: %v", err)
	}
	if len(records) != 2 || records[0].Geometry.ShardSize != 128 || records[1].Geometry.ShardSize != 64 {
		t.Errorf("layout history = %+v", records)
	}
}

func TestRestructureRejectsInsufficientCapacity(t *testing.T) {
	forEachBackend(t, 512, 128, func(t *testing.T, store *Store) {
		ctx := context.Background()
		data := pattern(300, 50)
		hash := put(t, store, data)
		before := storeInfo(t, store)

		if err := store.Restructure(ctx, 128, 299, RestructureOptions{}); !errors.Is(err, ErrCapacity) {
			t.Errorf("Restructure error = %v, want ErrCapacity", err)
		}
		if err := store.Restructure(ctx, 0, 1024, RestructureOptions{}); !errors.Is(err, ErrConfig) {
			t.Errorf("Restructure with zero map size error = %v, want ErrConfig", err)
		}
		if after := storeInfo(t, store); after != before {
			t.Errorf("StoreInfo changed: before %+v, after %+v", before, after)
		}
		if got := get(t, store, hash); !bytes.Equal(got, data) {
			t.Error("blob changed by rejected restructure")
		}
		entries, err := os.ReadDir(store.Path())
		if err != nil {
			t.Fatal(err)
		}
		for _, entry := range entries {
			if entry.IsDir() && entry.Name() != generationName(1) {
				t.Errorf("unexpected directory %s", entry.Name())
			}
		}
	})
}

func TestOpenRemovesStaleGeneration(t *testing.T) {
	ctx := context.Background()
	config := testConfig(t, catalog.BackendSQLite, 512, 128)
	store, err := Open(ctx, config)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	store.Close()

	stale := filepath.Join(config.Path, generationName(2))
	if err := os.MkdirAll(filepath.Join(stale, shardsDir), 0o755); err != nil {
		t.Fatal(err)
	}
	openStore(t, config)
	if _, err := os.Stat(stale); !errors.Is(err, os.ErrNotExist) {
		t.Errorf("stale generation still present: %v", err)
	}
}

func TestClosedStore(t *testing.T) {
	store, err := Open(context.Background(), testConfig(t, catalog.BackendSQLite, 512, 128))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if err := store.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := store.Close(); err != nil {
		t.Errorf("second Close: %v", err)
	}
	if _, err := store.List(context.Background()); !errors.Is(err, ErrConfig) {
		t.Errorf("List after Close error = %v, want ErrConfig", err)
	}
}

func TestOpenRejectsInvalidConfig(t *testing.T) {
	tests := []struct {
		name   string
		config Config
	}{
		{name: "zero capacity", config: Config{MapSize: 128}},
		{name: "negative map size", config: Config{AllocationSize: 512, MapSize: -1}},
		{name: "unknown backend", config: Config{AllocationSize: 512, Catalog: "leveldb"}},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			test.config.Path = t.TempDir()
			if store, err := Open(context.Background(), test.config); !errors.Is(err, ErrConfig) {
				if err == nil {
					store.Close()
				}
				t.Errorf("Open error = %v, want ErrConfig", err)
			}
		})
	}
}

func TestCheckReportsCorruptFreeList(t *testing.T) {
	ctx := context.Background()
	store := openStore(t, testConfig(t, catalog.BackendSQLite, 256, 128))
	put(t, store, pattern(100, 60))

	// Hand a blob's bytes back to the free list without deleting it.
	err := store.generation.catalog.Update(ctx, func(tx catalog.Tx) error {
		shard, err := tx.Shard(1)
		if err != nil {
			return err
		}
		shard.FreeIntervals = freespace.FreeList{{Start: 0, End: 127}}
		shard.FreeSpace = 128
		return tx.PutShard(shard)
	})
	if err != nil {
		t.Fatalf("Update: %v", err)
	}
	if err := store.Check(ctx); !errors.Is(err, ErrCatalog) {
		t.Errorf("Check error = %v, want ErrCatalog", err)
	}
}
