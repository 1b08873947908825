// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package archive moves blobs between stores as a single portable
// stream.
//
// An archive is a CBOR sequence: a header, then each blob's hash, size
// and checksum followed by its bytes in compressed frames. Export
// reads from any [Source] and Import writes to any [Sink]; a
// [mapstore.Store] is both. Frames use LZ4 or zstd, and frames that do
// not compress are stored as they are.
package archive
