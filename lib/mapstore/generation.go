// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package mapstore

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/bureau-foundation/mapstore/lib/catalog"
	"github.com/bureau-foundation/mapstore/lib/segio"
	"github.com/bureau-foundation/mapstore/lib/shardfile"
)

const (
	// currentLink is the symlink in the store root naming the active
	// generation directory.
	currentLink = "current"

	generationPrefix = "gen-"
	shardsDir        = "shards"
)

func generationName(index int) string {
	return fmt.Sprintf("%s%06d", generationPrefix, index)
}

func parseGenerationName(name string) (int, bool) {
	digits, ok := strings.CutPrefix(name, generationPrefix)
	if !ok {
		return 0, false
	}
	index, err := strconv.Atoi(digits)
	if err != nil || index < 1 {
		return 0, false
	}
	return index, true
}

// readCurrent returns the generation the current link points at, or ""
// if the store has never been initialized.
func readCurrent(root string) (string, error) {
	target, err := os.Readlink(filepath.Join(root, currentLink))
	if errors.Is(err, os.ErrNotExist) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("%w: reading %s link: %w", ErrIO, currentLink, err)
	}
	name := filepath.Base(target)
	if _, ok := parseGenerationName(name); !ok {
		return "", fmt.Errorf("%w: %s link points at %q, not a generation", ErrIO, currentLink, target)
	}
	return name, nil
}

// activate points the current link at name. The new link is built
// beside the old one and renamed over it, so readers see either the old
// or the new generation and never a missing link.
func activate(root, name string) error {
	staging := filepath.Join(root, currentLink+".tmp")
	if err := os.Remove(staging); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("%w: clearing %s: %w", ErrIO, staging, err)
	}
	if err := os.Symlink(name, staging); err != nil {
		return fmt.Errorf("%w: linking %s: %w", ErrIO, name, err)
	}
	if err := os.Rename(staging, filepath.Join(root, currentLink)); err != nil {
		return fmt.Errorf("%w: activating %s: %w", ErrIO, name, err)
	}
	return syncDir(root)
}

func syncDir(path string) error {
	dir, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("%w: opening %s: %w", ErrIO, path, err)
	}
	defer dir.Close()
	if err := dir.Sync(); err != nil {
		return fmt.Errorf("%w: syncing %s: %w", ErrIO, path, err)
	}
	return nil
}

// removeStaleGenerations deletes generation directories other than
// keep, left behind by an interrupted restructure.
func removeStaleGenerations(root, keep string, logger *slog.Logger) error {
	entries, err := os.ReadDir(root)
	if err != nil {
		return fmt.Errorf("%w: listing %s: %w", ErrIO, root, err)
	}
	for _, entry := range entries {
		if !entry.IsDir() || entry.Name() == keep {
			continue
		}
		if _, ok := parseGenerationName(entry.Name()); !ok {
			continue
		}
		logger.Warn("removing stale generation", "generation", entry.Name())
		if err := os.RemoveAll(filepath.Join(root, entry.Name())); err != nil {
			return fmt.Errorf("%w: removing %s: %w", ErrIO, entry.Name(), err)
		}
	}
	return nil
}

// nextGeneration returns the name after the highest generation present
// in root.
func nextGeneration(root string) (string, error) {
	entries, err := os.ReadDir(root)
	if err != nil {
		return "", fmt.Errorf("%w: listing %s: %w", ErrIO, root, err)
	}
	highest := 0
	for _, entry := range entries {
		if index, ok := parseGenerationName(entry.Name()); ok && index > highest {
			highest = index
		}
	}
	return generationName(highest + 1), nil
}

// generation is one complete store instance: a catalog and the shard
// files it describes. A Store serves from exactly one generation;
// restructure builds the next one beside it.
type generation struct {
	name    string
	dir     string
	catalog catalog.Catalog
	shards  *shardfile.Set

	prealloc   bool
	bufferSize int
	logger     *slog.Logger
	now        func() time.Time

	// allocationMu serializes every read-modify-write of free lists.
	allocationMu sync.Mutex
	// inFlight holds hashes whose space is reserved but whose bytes
	// are still being written. Guarded by allocationMu.
	inFlight map[string]struct{}
}

// openGeneration opens the catalog and shard directory of an existing
// or new generation directory.
func openGeneration(dir string, config Config) (*generation, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("%w: creating %s: %w", ErrIO, dir, err)
	}

	// A generation written with one backend cannot be read by the
	// other.
	for _, other := range []catalog.Backend{catalog.BackendSQLite, catalog.BackendBolt} {
		if other == config.Catalog {
			continue
		}
		_, otherErr := os.Stat(filepath.Join(dir, other.FileName()))
		_, ownErr := os.Stat(filepath.Join(dir, config.Catalog.FileName()))
		if otherErr == nil && errors.Is(ownErr, os.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s holds a %s catalog, configured backend is %s",
				ErrConfig, dir, other, config.Catalog)
		}
	}

	name := filepath.Base(dir)
	logger := config.Logger.With("generation", name)

	meta, err := catalog.Open(config.Catalog, filepath.Join(dir, config.Catalog.FileName()), logger)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrCatalog, err)
	}
	shards, err := shardfile.NewSet(filepath.Join(dir, shardsDir), config.Prealloc, logger)
	if err != nil {
		meta.Close()
		return nil, fmt.Errorf("%w: %w", ErrIO, err)
	}

	return &generation{
		name:       name,
		dir:        dir,
		catalog:    meta,
		shards:     shards,
		prealloc:   config.Prealloc,
		bufferSize: config.BufferSize,
		logger:     logger,
		now:        config.Now,
		inFlight:   make(map[string]struct{}),
	}, nil
}

// device resolves a shard id for the I/O engine.
func (g *generation) device(id int) (segio.Device, error) {
	return g.shards.Shard(id)
}

func (g *generation) close() error {
	return errors.Join(g.shards.Close(), g.catalog.Close())
}
