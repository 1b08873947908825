// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package segio moves blob bytes between a stream and the shard
// segments that hold them.
//
// A blob's [freespace.Positions] name, for every shard, the runs of
// shard bytes that hold which part of the blob. [WriteBlob] copies a
// source into those runs and [ReadBlob] reassembles them into a
// destination. Both always visit segments in source-offset order.
//
// When the source (or destination) supports positional access and
// seeking, each segment is transferred at its offset relative to the
// stream's current position. Otherwise the stream is consumed (or
// produced) strictly sequentially, and a running cursor must line up
// with every segment's source offset.
package segio

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/bureau-foundation/mapstore/lib/freespace"
)

// DefaultBufferSize is the chunk size used when Options.BufferSize is
// not set.
const DefaultBufferSize = 1 << 20

// ErrOrdering reports a sequential transfer whose cursor does not
// match the next segment's source offset. It means the positions do
// not tile the blob.
var ErrOrdering = errors.New("segio: segment out of order for sequential stream")

// Device is the random-access storage behind one shard.
type Device interface {
	io.ReaderAt
	io.WriterAt
}

// Lookup resolves a shard id to its device.
type Lookup func(shardID int) (Device, error)

// Options tunes a transfer. The zero value is usable.
type Options struct {
	// BufferSize is the largest chunk moved in one read/write pair.
	BufferSize int

	// Observer, if set, receives every blob byte in source order. A
	// hash.Hash here checksums the blob during the transfer.
	Observer io.Writer
}

func (o Options) bufferSize() int {
	if o.BufferSize <= 0 {
		return DefaultBufferSize
	}
	return o.BufferSize
}

// positionalReader reports whether source can be read at arbitrary
// offsets, and if so the offset of its current position.
func positionalReader(source io.Reader) (io.ReaderAt, int64, bool) {
	readerAt, ok := source.(io.ReaderAt)
	if !ok {
		return nil, 0, false
	}
	seeker, ok := source.(io.Seeker)
	if !ok {
		return nil, 0, false
	}
	base, err := seeker.Seek(0, io.SeekCurrent)
	if err != nil {
		return nil, 0, false
	}
	return readerAt, base, true
}

// positionalWriter is the write-side counterpart of positionalReader.
func positionalWriter(dest io.Writer) (io.WriterAt, io.Seeker, int64, bool) {
	writerAt, ok := dest.(io.WriterAt)
	if !ok {
		return nil, nil, 0, false
	}
	seeker, ok := dest.(io.Seeker)
	if !ok {
		return nil, nil, 0, false
	}
	base, err := seeker.Seek(0, io.SeekCurrent)
	if err != nil {
		return nil, nil, 0, false
	}
	return writerAt, seeker, base, true
}

// WriteBlob copies the blob from source into the shard segments named
// by positions. It returns the number of bytes written to shards.
func WriteBlob(ctx context.Context, source io.Reader, positions freespace.Positions, lookup Lookup, options Options) (int64, error) {
	placements := positions.Ordered()
	buffer := make([]byte, options.bufferSize())
	readerAt, base, positional := positionalReader(source)

	var total int64
	for _, placement := range placements {
		device, err := lookup(placement.ShardID)
		if err != nil {
			return total, fmt.Errorf("segio: shard %d: %w", placement.ShardID, err)
		}
		if !positional && placement.SourceOffset != total {
			return total, fmt.Errorf("%w: cursor at %d, segment at %d in shard %d",
				ErrOrdering, total, placement.SourceOffset, placement.ShardID)
		}

		length := placement.Len()
		for done := int64(0); done < length; {
			if err := ctx.Err(); err != nil {
				return total, err
			}
			chunk := buffer[:min(int64(len(buffer)), length-done)]

			if positional {
				count, err := readerAt.ReadAt(chunk, base+placement.SourceOffset+done)
				if count < len(chunk) {
					if err == nil || errors.Is(err, io.EOF) {
						err = io.ErrUnexpectedEOF
					}
					return total, fmt.Errorf("segio: reading source at %d: %w", placement.SourceOffset+done, err)
				}
			} else {
				if _, err := io.ReadFull(source, chunk); err != nil {
					if errors.Is(err, io.EOF) {
						err = io.ErrUnexpectedEOF
					}
					return total, fmt.Errorf("segio: reading source at %d: %w", placement.SourceOffset+done, err)
				}
			}

			if _, err := device.WriteAt(chunk, placement.Start+done); err != nil {
				return total, fmt.Errorf("segio: writing shard %d at %d: %w", placement.ShardID, placement.Start+done, err)
			}
			if options.Observer != nil {
				options.Observer.Write(chunk)
			}
			done += int64(len(chunk))
			total += int64(len(chunk))
		}
	}

	// Leave a positional source where a sequential copy would.
	if positional {
		if _, err := source.(io.Seeker).Seek(base+total, io.SeekStart); err != nil {
			return total, fmt.Errorf("segio: positioning source: %w", err)
		}
	}
	return total, nil
}

// ReadBlob reassembles the blob described by positions into dest. It
// returns the number of bytes delivered.
func ReadBlob(ctx context.Context, dest io.Writer, positions freespace.Positions, lookup Lookup, options Options) (int64, error) {
	placements := positions.Ordered()
	buffer := make([]byte, options.bufferSize())
	writerAt, seeker, base, positional := positionalWriter(dest)

	var total int64
	for _, placement := range placements {
		device, err := lookup(placement.ShardID)
		if err != nil {
			return total, fmt.Errorf("segio: shard %d: %w", placement.ShardID, err)
		}
		if !positional && placement.SourceOffset != total {
			return total, fmt.Errorf("%w: cursor at %d, segment at %d in shard %d",
				ErrOrdering, total, placement.SourceOffset, placement.ShardID)
		}

		length := placement.Len()
		for done := int64(0); done < length; {
			if err := ctx.Err(); err != nil {
				return total, err
			}
			chunk := buffer[:min(int64(len(buffer)), length-done)]

			count, err := device.ReadAt(chunk, placement.Start+done)
			if count < len(chunk) {
				if err == nil || errors.Is(err, io.EOF) {
					err = io.ErrUnexpectedEOF
				}
				return total, fmt.Errorf("segio: reading shard %d at %d: %w", placement.ShardID, placement.Start+done, err)
			}

			if positional {
				_, err = writerAt.WriteAt(chunk, base+placement.SourceOffset+done)
			} else {
				_, err = dest.Write(chunk)
			}
			if err != nil {
				return total, fmt.Errorf("segio: writing destination at %d: %w", placement.SourceOffset+done, err)
			}
			if options.Observer != nil {
				options.Observer.Write(chunk)
			}
			done += int64(len(chunk))
			total += int64(len(chunk))
		}
	}

	// Leave a positional destination where a sequential copy would.
	if positional {
		if _, err := seeker.Seek(base+total, io.SeekStart); err != nil {
			return total, fmt.Errorf("segio: positioning destination: %w", err)
		}
	}
	return total, nil
}
