// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package mapstore

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
)

// Store is an open content-addressed blob store. All methods are safe
// for concurrent use. Restructure excludes every other operation for
// its duration.
type Store struct {
	root   string
	config Config
	logger *slog.Logger
	lock   *rootLock

	// mu is held shared by blob operations and exclusively by
	// Restructure and Close, which replace or release generation.
	mu         sync.RWMutex
	generation *generation
	closed     bool
}

// Open opens the store rooted at config.Path, creating it on first use.
//
// Only one Store may have a root open at a time; a second Open, from
// this process or another, fails with ErrLocked until the first is
// closed.
//
// Opening does three things in order. Generations abandoned by an
// interrupted restructure are removed. Entries whose bytes were never
// finished (a crash between reservation and finalization) are released.
// Then the configured geometry is applied: recorded on first run,
// grown into when capacity increases, rejected with ErrLayoutConflict
// when it would invalidate stored blobs. A zero AllocationSize applies
// the geometry the store already recorded.
func Open(ctx context.Context, config Config) (*Store, error) {
	config, err := config.withDefaults()
	if err != nil {
		return nil, err
	}
	root, err := filepath.Abs(config.Path)
	if err != nil {
		return nil, fmt.Errorf("%w: resolving %s: %w", ErrConfig, config.Path, err)
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("%w: creating %s: %w", ErrIO, root, err)
	}
	lock, err := lockRoot(root)
	if err != nil {
		return nil, err
	}
	store, err := open(ctx, root, config)
	if err != nil {
		lock.release()
		return nil, err
	}
	store.lock = lock
	return store, nil
}

// open does the work of Open with the root lock held.
func open(ctx context.Context, root string, config Config) (*Store, error) {
	logger := config.Logger

	name, err := readCurrent(root)
	if err != nil {
		return nil, err
	}
	if name == "" {
		name = generationName(1)
		if err := os.MkdirAll(filepath.Join(root, name), 0o755); err != nil {
			return nil, fmt.Errorf("%w: creating %s: %w", ErrIO, name, err)
		}
		if err := activate(root, name); err != nil {
			return nil, err
		}
		logger.Info("store created", "path", root, "generation", name)
	}
	if err := removeStaleGenerations(root, name, logger); err != nil {
		return nil, err
	}

	current, err := openGeneration(filepath.Join(root, name), config)
	if err != nil {
		return nil, err
	}

	if _, err := current.reconcile(ctx); err != nil {
		current.close()
		return nil, err
	}
	if config.AllocationSize == 0 {
		recorded, err := current.recordedGeometry(ctx)
		if err != nil {
			current.close()
			return nil, err
		}
		config.AllocationSize, config.MapSize = recorded.Capacity, recorded.ShardSize
	}
	if err := current.initialize(ctx, config.Geometry()); err != nil {
		current.close()
		return nil, err
	}

	logger.Debug("store opened", "path", root, "generation", name)
	return &Store{
		root:       root,
		config:     config,
		logger:     logger,
		generation: current,
	}, nil
}

// Path returns the store's root directory.
func (s *Store) Path() string {
	return s.root
}

// acquire takes the shared lock and returns the active generation.
// The caller must call s.mu.RUnlock when done.
func (s *Store) acquire() (*generation, error) {
	s.mu.RLock()
	if s.closed {
		s.mu.RUnlock()
		return nil, fmt.Errorf("%w: store is closed", ErrConfig)
	}
	return s.generation, nil
}

// Close releases the catalog and shard files. Operations after Close
// fail.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true
	closeErr := s.generation.close()
	var lockErr error
	if s.lock != nil {
		lockErr = s.lock.release()
	}
	if closeErr != nil {
		return fmt.Errorf("mapstore: close: %w: %w", ErrIO, closeErr)
	}
	if lockErr != nil {
		return fmt.Errorf("mapstore: close: %w", lockErr)
	}
	return nil
}
