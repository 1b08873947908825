// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package mapstore

import (
	"context"
	"errors"
	"fmt"

	"github.com/bureau-foundation/mapstore/lib/catalog"
	"github.com/bureau-foundation/mapstore/lib/freespace"
	"github.com/bureau-foundation/mapstore/lib/layout"
)

// Error kinds. Every error returned by a Store matches exactly one of
// these with errors.Is, unless it is a context cancellation. The
// underlying cause stays in the chain as well.
var (
	// ErrConfig reports invalid parameters: zero sizes, an unknown
	// catalog backend, a source whose size cannot be determined.
	ErrConfig = errors.New("mapstore: invalid configuration")

	// ErrIO reports a failure reading or writing shard files, the
	// caller's source or destination, or the store directory.
	ErrIO = errors.New("mapstore: i/o failure")

	// ErrCapacity reports that the free space cannot hold the request.
	ErrCapacity = errors.New("mapstore: insufficient capacity")

	// ErrDuplicate reports a store of a hash that already has an entry.
	ErrDuplicate = errors.New("mapstore: duplicate hash")

	// ErrNotFound reports a hash with no finalized entry.
	ErrNotFound = errors.New("mapstore: not found")

	// ErrLayoutConflict reports a geometry change that would invalidate
	// stored blobs.
	ErrLayoutConflict = errors.New("mapstore: layout conflict")

	// ErrCatalog reports a metadata failure: the catalog could not be
	// read or written, or its contents are inconsistent.
	ErrCatalog = errors.New("mapstore: catalog failure")

	// ErrLocked reports a store root that another open Store holds,
	// in this process or another one.
	ErrLocked = errors.New("mapstore: store is in use")

	// ErrChecksumMismatch reports blob bytes that no longer match the
	// checksum recorded when they were stored.
	ErrChecksumMismatch = errors.New("mapstore: checksum mismatch")
)

// classify attaches the matching error kind to err. Errors from lower
// layers are mapped by their sentinel; anything unrecognized gets
// fallback.
func classify(operation string, fallback error, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("mapstore: %s: %w", operation, err)
	}

	kind := fallback
	switch {
	case errors.Is(err, ErrConfig), errors.Is(err, ErrIO), errors.Is(err, ErrCapacity),
		errors.Is(err, ErrDuplicate), errors.Is(err, ErrNotFound), errors.Is(err, ErrLayoutConflict),
		errors.Is(err, ErrCatalog), errors.Is(err, ErrChecksumMismatch), errors.Is(err, ErrLocked):
		return fmt.Errorf("mapstore: %s: %w", operation, err)
	case errors.Is(err, freespace.ErrInsufficientSpace):
		kind = ErrCapacity
	case errors.Is(err, catalog.ErrDuplicate):
		kind = ErrDuplicate
	case errors.Is(err, catalog.ErrNotFound):
		kind = ErrNotFound
	case errors.Is(err, layout.ErrConflict):
		kind = ErrLayoutConflict
	case errors.Is(err, layout.ErrInvalidGeometry):
		kind = ErrConfig
	case errors.Is(err, catalog.ErrCorrupt), errors.Is(err, freespace.ErrOverlap),
		errors.Is(err, freespace.ErrOutOfRange), errors.Is(err, freespace.ErrUnknownShard),
		errors.Is(err, freespace.ErrNotTiled), errors.Is(err, freespace.ErrMalformed):
		kind = ErrCatalog
	}
	return fmt.Errorf("mapstore: %s: %w: %w", operation, kind, err)
}
