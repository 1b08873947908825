// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package archive

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/bureau-foundation/mapstore/lib/codec"
	"github.com/bureau-foundation/mapstore/lib/contenthash"
	"github.com/bureau-foundation/mapstore/lib/mapstore"
)

const (
	formatName    = "mapstore-archive"
	formatVersion = 1

	// DefaultFrameSize is the number of blob bytes compressed as one
	// frame when ExportOptions.FrameSize is zero.
	DefaultFrameSize = 1 << 20

	// maxFrameSize bounds the allocation a hostile archive can force
	// on import.
	maxFrameSize = 64 << 20
)

var (
	// ErrFormat reports an archive that is truncated, from another
	// format version, or internally inconsistent.
	ErrFormat = errors.New("archive: malformed archive")

	// ErrChecksumMismatch reports blob bytes in an archive that do
	// not match the checksum recorded with them.
	ErrChecksumMismatch = errors.New("archive: checksum mismatch")
)

// Archive layout: one CBOR sequence. A header, then for each blob a
// blobHeader followed by frames whose uncompressed sizes sum to the
// blob's size. Empty blobs have no frames.

type header struct {
	Format    string `cbor:"format"`
	Version   int    `cbor:"version"`
	Codec     string `cbor:"codec"`
	CreatedAt int64  `cbor:"created_at"`
	BlobCount int    `cbor:"blob_count"`
}

type blobHeader struct {
	Hash     string `cbor:"hash"`
	Size     int64  `cbor:"size"`
	Checksum []byte `cbor:"checksum"`
}

type frame struct {
	Codec Codec  `cbor:"codec"`
	Size  int    `cbor:"size"`
	Data  []byte `cbor:"data"`
}

// Source is a store that blobs are exported from.
type Source interface {
	List(ctx context.Context) ([]string, error)
	DataInfo(ctx context.Context, hash string) (mapstore.DataInfo, error)
	Retrieve(ctx context.Context, hash string, dest io.Writer) error
}

// Sink is a store that blobs are imported into.
type Sink interface {
	Store(ctx context.Context, hash string, source io.Reader, size int64) error
}

// ExportOptions tunes Export.
type ExportOptions struct {
	// Codec compresses frames. The zero value stores them
	// uncompressed; CodecAuto chooses per frame.
	Codec Codec

	// FrameSize is the uncompressed size of each frame. Zero selects
	// DefaultFrameSize.
	FrameSize int

	Logger *slog.Logger
	Now    func() time.Time
}

// ImportOptions tunes Import.
type ImportOptions struct {
	// SkipExisting reads past blobs whose hash the sink already holds
	// instead of failing with mapstore.ErrDuplicate.
	SkipExisting bool

	Logger *slog.Logger
}

// Summary counts what an export or import moved.
type Summary struct {
	Blobs   int   `json:"blobs"`
	Bytes   int64 `json:"bytes"`
	Skipped int   `json:"skipped,omitempty"`
}

// Export writes every blob in source to w.
func Export(ctx context.Context, w io.Writer, source Source, options ExportOptions) (Summary, error) {
	logger := options.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	now := options.Now
	if now == nil {
		now = time.Now
	}
	frameSize := options.FrameSize
	if frameSize <= 0 {
		frameSize = DefaultFrameSize
	}
	if frameSize > maxFrameSize {
		return Summary{}, fmt.Errorf("archive: frame size %d exceeds %d", frameSize, maxFrameSize)
	}

	hashes, err := source.List(ctx)
	if err != nil {
		return Summary{}, fmt.Errorf("archive: listing blobs: %w", err)
	}

	buffered := bufio.NewWriter(w)
	encoder := codec.NewEncoder(buffered)
	err = encoder.Encode(header{
		Format:    formatName,
		Version:   formatVersion,
		Codec:     options.Codec.String(),
		CreatedAt: now().Unix(),
		BlobCount: len(hashes),
	})
	if err != nil {
		return Summary{}, fmt.Errorf("archive: writing header: %w", err)
	}

	var summary Summary
	for _, hash := range hashes {
		info, err := source.DataInfo(ctx, hash)
		if err != nil {
			return summary, fmt.Errorf("archive: exporting %s: %w", hash, err)
		}
		checksum, err := contenthash.ParseChecksum(info.Checksum)
		if err != nil {
			return summary, fmt.Errorf("archive: exporting %s: %w", hash, err)
		}
		if err := encoder.Encode(blobHeader{Hash: hash, Size: info.Size, Checksum: checksum[:]}); err != nil {
			return summary, fmt.Errorf("archive: exporting %s: %w", hash, err)
		}

		frames := &frameWriter{encoder: encoder, codec: options.Codec, buffer: make([]byte, 0, frameSize)}
		if err := source.Retrieve(ctx, hash, frames); err != nil {
			return summary, fmt.Errorf("archive: exporting %s: %w", hash, err)
		}
		if err := frames.flush(); err != nil {
			return summary, fmt.Errorf("archive: exporting %s: %w", hash, err)
		}
		if frames.total != info.Size {
			return summary, fmt.Errorf("archive: exporting %s: read %d bytes, expected %d", hash, frames.total, info.Size)
		}

		summary.Blobs++
		summary.Bytes += info.Size
		logger.Debug("blob exported", "hash", hash, "size", info.Size, "frames", frames.count)
	}

	if err := buffered.Flush(); err != nil {
		return summary, fmt.Errorf("archive: flushing: %w", err)
	}
	logger.Info("export complete", "blobs", summary.Blobs, "bytes", summary.Bytes, "codec", options.Codec.String())
	return summary, nil
}

// frameWriter cuts a blob's byte stream into compressed frames.
type frameWriter struct {
	encoder *codec.Encoder
	codec   Codec
	buffer  []byte
	total   int64
	count   int
}

func (f *frameWriter) Write(p []byte) (int, error) {
	written := 0
	for len(p) > 0 {
		n := min(len(p), cap(f.buffer)-len(f.buffer))
		f.buffer = append(f.buffer, p[:n]...)
		p = p[n:]
		written += n
		if len(f.buffer) == cap(f.buffer) {
			if err := f.flush(); err != nil {
				return written, err
			}
		}
	}
	return written, nil
}

func (f *frameWriter) flush() error {
	if len(f.buffer) == 0 {
		return nil
	}
	encoded, used, err := compress(f.buffer, f.codec)
	if err != nil {
		return err
	}
	if err := f.encoder.Encode(frame{Codec: used, Size: len(f.buffer), Data: encoded}); err != nil {
		return fmt.Errorf("writing frame: %w", err)
	}
	f.total += int64(len(f.buffer))
	f.count++
	f.buffer = f.buffer[:0]
	return nil
}

// Import reads an archive from r and stores every blob into sink.
// Each blob's bytes are checked against the checksum recorded in the
// archive before the last of them reaches the sink, so a damaged blob
// is never finalized.
func Import(ctx context.Context, r io.Reader, sink Sink, options ImportOptions) (Summary, error) {
	logger := options.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	decoder := codec.NewDecoder(bufio.NewReader(r))
	var head header
	if err := decoder.Decode(&head); err != nil {
		return Summary{}, fmt.Errorf("%w: reading header: %w", ErrFormat, err)
	}
	if head.Format != formatName || head.Version != formatVersion {
		return Summary{}, fmt.Errorf("%w: format %q version %d, want %q version %d",
			ErrFormat, head.Format, head.Version, formatName, formatVersion)
	}

	var summary Summary
	for index := range head.BlobCount {
		var blob blobHeader
		if err := decoder.Decode(&blob); err != nil {
			return summary, fmt.Errorf("%w: reading blob %d of %d: %w", ErrFormat, index+1, head.BlobCount, err)
		}
		if blob.Size < 0 || len(blob.Checksum) != len(contenthash.Checksum{}) {
			return summary, fmt.Errorf("%w: blob %s has size %d and a %d-byte checksum",
				ErrFormat, blob.Hash, blob.Size, len(blob.Checksum))
		}

		skipped, err := importBlob(ctx, decoder, blob, sink, options.SkipExisting)
		if err != nil {
			return summary, fmt.Errorf("archive: importing %s: %w", blob.Hash, err)
		}
		if skipped {
			summary.Skipped++
			logger.Debug("blob already present", "hash", blob.Hash)
			continue
		}
		summary.Blobs++
		summary.Bytes += blob.Size
		logger.Debug("blob imported", "hash", blob.Hash, "size", blob.Size)
	}

	logger.Info("import complete", "blobs", summary.Blobs, "bytes", summary.Bytes, "skipped", summary.Skipped)
	return summary, nil
}

// importBlob pipes one blob's frames into sink.Store.
func importBlob(ctx context.Context, decoder *codec.Decoder, blob blobHeader, sink Sink, skipExisting bool) (bool, error) {
	// An empty blob has no frame to hold back, so its checksum is
	// checked before the sink sees it.
	if blob.Size == 0 {
		if err := readFrames(decoder, blob, io.Discard); err != nil {
			return false, err
		}
	}

	reader, writer := io.Pipe()
	skipped := false

	group, groupCtx := errgroup.WithContext(ctx)
	group.Go(func() error {
		err := readFrames(decoder, blob, writer)
		writer.CloseWithError(err)
		return err
	})
	group.Go(func() error {
		err := sink.Store(groupCtx, blob.Hash, reader, blob.Size)
		if skipExisting && errors.Is(err, mapstore.ErrDuplicate) {
			// The frames still have to be consumed to reach the next
			// blob.
			skipped = true
			_, err = io.Copy(io.Discard, reader)
		}
		reader.CloseWithError(err)
		return err
	})
	return skipped, group.Wait()
}

// readFrames decodes a blob's frames into w, holding the final frame
// back until the whole blob has matched its checksum.
func readFrames(decoder *codec.Decoder, blob blobHeader, w io.Writer) error {
	hasher := contenthash.NewChecksummer()
	var held []byte
	for remaining := blob.Size; remaining > 0; {
		var f frame
		if err := decoder.Decode(&f); err != nil {
			return fmt.Errorf("%w: reading frame: %w", ErrFormat, err)
		}
		if f.Size <= 0 || f.Size > maxFrameSize || int64(f.Size) > remaining {
			return fmt.Errorf("%w: frame of %d bytes with %d remaining", ErrFormat, f.Size, remaining)
		}
		data, err := decompress(f.Data, f.Codec, f.Size)
		if err != nil {
			return fmt.Errorf("%w: %w", ErrFormat, err)
		}
		hasher.Write(data)
		if held != nil {
			if _, err := w.Write(held); err != nil {
				return err
			}
		}
		held = data
		remaining -= int64(f.Size)
	}

	var want contenthash.Checksum
	copy(want[:], blob.Checksum)
	if got := contenthash.ChecksumFromHash(hasher); got != want {
		return fmt.Errorf("%w: recorded %s, archive holds %s", ErrChecksumMismatch, want, got)
	}
	if held != nil {
		if _, err := w.Write(held); err != nil {
			return err
		}
	}
	return nil
}
