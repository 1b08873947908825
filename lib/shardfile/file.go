// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

//go:build darwin || linux

package shardfile

import (
	"errors"
	"fmt"
	"io"
	"runtime/debug"

	"golang.org/x/sys/unix"
)

// ErrBounds reports an access outside the shard file.
var ErrBounds = errors.New("shardfile: access outside file bounds")

// File is an open shard file.
//
// File is safe for concurrent use. ReadAt calls are lock-free. WriteAt
// calls may run concurrently as long as their ranges are disjoint,
// which the allocator guarantees.
type File struct {
	path string
	fd   int
	data []byte // mmap'd MAP_SHARED, PROT_READ
	size int64
}

// Create makes a new shard file of exactly size bytes, replacing any
// file already at path.
func Create(path string, size int64, prealloc bool) error {
	if size <= 0 {
		return fmt.Errorf("shardfile: size must be positive, got %d", size)
	}

	fd, err := unix.Open(path, unix.O_CREAT|unix.O_RDWR|unix.O_TRUNC|unix.O_CLOEXEC, 0o644)
	if err != nil {
		return fmt.Errorf("shardfile: creating %s: %w", path, err)
	}
	defer unix.Close(fd)

	if err := resize(fd, 0, size, prealloc); err != nil {
		return fmt.Errorf("shardfile: sizing %s: %w", path, err)
	}
	return unix.Fsync(fd)
}

// Grow extends an existing shard file to size bytes. The existing
// contents are preserved. Growing to the current size is a no-op;
// shrinking is an error.
func Grow(path string, size int64, prealloc bool) error {
	fd, err := unix.Open(path, unix.O_RDWR|unix.O_CLOEXEC, 0)
	if err != nil {
		return fmt.Errorf("shardfile: opening %s: %w", path, err)
	}
	defer unix.Close(fd)

	var stat unix.Stat_t
	if err := unix.Fstat(fd, &stat); err != nil {
		return fmt.Errorf("shardfile: stating %s: %w", path, err)
	}
	switch {
	case stat.Size == size:
		return nil
	case stat.Size > size:
		return fmt.Errorf("shardfile: %s is %d bytes, cannot shrink to %d", path, stat.Size, size)
	}

	if err := resize(fd, stat.Size, size, prealloc); err != nil {
		return fmt.Errorf("shardfile: growing %s to %d bytes: %w", path, size, err)
	}
	return unix.Fsync(fd)
}

// resize extends the file from oldSize to newSize, reserving the new
// blocks when prealloc is set.
func resize(fd int, oldSize, newSize int64, prealloc bool) error {
	if prealloc {
		if err := preallocate(fd, oldSize, newSize-oldSize); err != nil {
			return fmt.Errorf("preallocating %d bytes: %w", newSize-oldSize, err)
		}
	}
	// Preallocation may leave the apparent size untouched (Darwin), so
	// the length is always set explicitly.
	if err := unix.Ftruncate(fd, newSize); err != nil {
		return fmt.Errorf("truncating to %d bytes: %w", newSize, err)
	}
	return nil
}

// Open maps an existing shard file.
func Open(path string) (*File, error) {
	fd, err := unix.Open(path, unix.O_RDWR|unix.O_CLOEXEC, 0)
	if err != nil {
		return nil, fmt.Errorf("shardfile: opening %s: %w", path, err)
	}

	var stat unix.Stat_t
	if err := unix.Fstat(fd, &stat); err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("shardfile: stating %s: %w", path, err)
	}
	if stat.Size <= 0 {
		unix.Close(fd)
		return nil, fmt.Errorf("shardfile: %s is empty", path)
	}

	// Writes go through pwrite and the kernel keeps the shared mapping
	// coherent.
	data, err := unix.Mmap(fd, 0, int(stat.Size), unix.PROT_READ, unix.MAP_SHARED)
	if err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("shardfile: memory-mapping %s: %w", path, err)
	}

	return &File{path: path, fd: fd, data: data, size: stat.Size}, nil
}

// ReadAt reads len(p) bytes starting at off. A read that runs past the
// end of the file returns the bytes available and io.EOF.
func (f *File) ReadAt(p []byte, off int64) (readCount int, err error) {
	if off < 0 || off >= f.size {
		return 0, io.EOF
	}

	// An I/O error on the backing storage surfaces as SIGBUS on the
	// mapping. Turn it into an error instead of a crash.
	old := debug.SetPanicOnFault(true)
	defer func() {
		debug.SetPanicOnFault(old)
		if r := recover(); r != nil {
			err = fmt.Errorf("shardfile: page fault reading %s at offset %d: %v", f.path, off, r)
		}
	}()

	readCount = copy(p, f.data[off:])
	if readCount < len(p) {
		return readCount, io.EOF
	}
	return readCount, nil
}

// WriteAt writes p at off. The whole range must lie inside the file.
func (f *File) WriteAt(p []byte, off int64) (int, error) {
	if off < 0 || off+int64(len(p)) > f.size {
		return 0, fmt.Errorf("%w: write of %d bytes at offset %d in %s (%d bytes)",
			ErrBounds, len(p), off, f.path, f.size)
	}

	totalWritten := 0
	for len(p) > 0 {
		written, err := unix.Pwrite(f.fd, p, off)
		totalWritten += written
		if err != nil {
			return totalWritten, fmt.Errorf("shardfile: pwrite at offset %d in %s: %w", off, f.path, err)
		}
		p = p[written:]
		off += int64(written)
	}
	return totalWritten, nil
}

// Sync flushes written data to storage.
func (f *File) Sync() error {
	if err := unix.Fsync(f.fd); err != nil {
		return fmt.Errorf("shardfile: syncing %s: %w", f.path, err)
	}
	return nil
}

// Close unmaps the file and releases the descriptor.
func (f *File) Close() error {
	var firstErr error
	if f.data != nil {
		if err := unix.Munmap(f.data); err != nil {
			firstErr = fmt.Errorf("shardfile: unmapping %s: %w", f.path, err)
		}
		f.data = nil
	}
	if f.fd >= 0 {
		if err := unix.Close(f.fd); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("shardfile: closing %s: %w", f.path, err)
		}
		f.fd = -1
	}
	return firstErr
}

// Size returns the file size in bytes.
func (f *File) Size() int64 {
	return f.size
}

// Path returns the file's location on disk.
func (f *File) Path() string {
	return f.path
}
