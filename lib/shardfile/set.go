// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

//go:build darwin || linux

package shardfile

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"strings"
	"sync"
)

// Extension is the file name suffix of shard files.
const Extension = ".map"

// Set is the directory of shard files belonging to one store. Open
// handles are cached by shard id until [Set.Close] or until the shard
// is resized or removed through the Set.
type Set struct {
	dir      string
	prealloc bool
	logger   *slog.Logger

	mu    sync.Mutex
	files map[int]*File
}

// NewSet returns a Set rooted at dir, creating the directory if
// needed. prealloc controls how shards created or grown through the
// Set reserve disk blocks.
func NewSet(dir string, prealloc bool, logger *slog.Logger) (*Set, error) {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("shardfile: creating %s: %w", dir, err)
	}
	return &Set{
		dir:      dir,
		prealloc: prealloc,
		logger:   logger,
		files:    make(map[int]*File),
	}, nil
}

// Dir returns the directory holding the shard files.
func (s *Set) Dir() string {
	return s.dir
}

// Path returns the file path of shard id.
func (s *Set) Path(id int) string {
	return filepath.Join(s.dir, strconv.Itoa(id)+Extension)
}

// Create makes shard id with the given size, replacing any existing
// file.
func (s *Set) Create(id int, size int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.closeLocked(id)
	if err := Create(s.Path(id), size, s.prealloc); err != nil {
		return err
	}
	s.logger.Info("shard created", "shard", id, "size", size, "prealloc", s.prealloc)
	return nil
}

// Grow extends shard id to size bytes.
func (s *Set) Grow(id int, size int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	// The mapping covers the old length only.
	s.closeLocked(id)
	if err := Grow(s.Path(id), size, s.prealloc); err != nil {
		return err
	}
	s.logger.Info("shard grown", "shard", id, "size", size)
	return nil
}

// Remove deletes shard id's file. A missing file is not an error.
func (s *Set) Remove(id int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.closeLocked(id)
	if err := os.Remove(s.Path(id)); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("shardfile: removing shard %d: %w", id, err)
	}
	return nil
}

// Shard returns the open file for shard id, mapping it on first use.
func (s *Set) Shard(id int) (*File, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if file, ok := s.files[id]; ok {
		return file, nil
	}
	file, err := Open(s.Path(id))
	if err != nil {
		return nil, err
	}
	s.files[id] = file
	return file, nil
}

// IDs lists the shard ids that have a file in the directory, in
// ascending order.
func (s *Set) IDs() ([]int, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, fmt.Errorf("shardfile: listing %s: %w", s.dir, err)
	}
	var ids []int
	for _, entry := range entries {
		name, ok := strings.CutSuffix(entry.Name(), Extension)
		if !ok || entry.IsDir() {
			continue
		}
		id, err := strconv.Atoi(name)
		if err != nil || id < 1 {
			continue
		}
		ids = append(ids, id)
	}
	// ReadDir sorts by name, which puts 10 before 2.
	slices.Sort(ids)
	return ids, nil
}

// Sync flushes every open shard.
func (s *Set) Sync() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var errs []error
	for _, file := range s.files {
		if err := file.Sync(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Close releases every open shard.
func (s *Set) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var errs []error
	for id, file := range s.files {
		if err := file.Close(); err != nil {
			errs = append(errs, err)
		}
		delete(s.files, id)
	}
	return errors.Join(errs...)
}

func (s *Set) closeLocked(id int) {
	if file, ok := s.files[id]; ok {
		if err := file.Close(); err != nil {
			s.logger.Warn("closing shard", "shard", id, "error", err)
		}
		delete(s.files, id)
	}
}
