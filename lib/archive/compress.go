// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package archive

import (
	"errors"
	"fmt"

	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
)

// Codec identifies how a frame's bytes are compressed. Codec values
// are written into archives; changing them breaks existing archives.
type Codec uint8

const (
	// CodecNone stores bytes as they are.
	CodecNone Codec = 0

	// CodecLZ4 is LZ4 block compression: fast, modest ratio.
	CodecLZ4 Codec = 1

	// CodecZstd is zstd at the default level: slower, better ratio
	// on text-like data.
	CodecZstd Codec = 2

	// CodecAuto is not written to archives. As an export option it
	// tries zstd on each frame and picks zstd, LZ4 or none by the
	// ratio zstd achieves.
	CodecAuto Codec = 255
)

func (c Codec) String() string {
	switch c {
	case CodecNone:
		return "none"
	case CodecLZ4:
		return "lz4"
	case CodecZstd:
		return "zstd"
	case CodecAuto:
		return "auto"
	default:
		return fmt.Sprintf("unknown(%d)", uint8(c))
	}
}

// ParseCodec parses a codec name as accepted on the command line.
func ParseCodec(name string) (Codec, error) {
	switch name {
	case "none":
		return CodecNone, nil
	case "lz4":
		return CodecLZ4, nil
	case "zstd", "":
		return CodecZstd, nil
	case "auto":
		return CodecAuto, nil
	default:
		return 0, fmt.Errorf("archive: unknown codec %q (want none, lz4, zstd or auto)", name)
	}
}

// errIncompressible means compression did not shrink the input and
// the frame should be stored with CodecNone.
var errIncompressible = errors.New("archive: data is incompressible")

// zstd encoders and decoders are safe for concurrent use and costly to
// build, so one of each is shared.
var (
	zstdEncoder *zstd.Encoder
	zstdDecoder *zstd.Decoder
)

func init() {
	var err error
	zstdEncoder, err = zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		panic("archive: zstd encoder initialization failed: " + err.Error())
	}
	zstdDecoder, err = zstd.NewReader(nil)
	if err != nil {
		panic("archive: zstd decoder initialization failed: " + err.Error())
	}
}

// compress encodes data with codec, falling back to CodecNone when
// the result would not be smaller. It returns the bytes to write and
// the codec they are in.
func compress(data []byte, codec Codec) ([]byte, Codec, error) {
	if codec == CodecAuto {
		codec = selectCodec(data)
	}

	var (
		encoded []byte
		err     error
	)
	switch codec {
	case CodecNone:
		return data, CodecNone, nil
	case CodecLZ4:
		encoded, err = compressLZ4(data)
	case CodecZstd:
		encoded, err = compressZstd(data)
	default:
		return nil, 0, fmt.Errorf("archive: unsupported codec %s", codec)
	}
	if errors.Is(err, errIncompressible) {
		return data, CodecNone, nil
	}
	if err != nil {
		return nil, 0, err
	}
	return encoded, codec, nil
}

// decompress reverses compress. The output must be exactly size
// bytes.
func decompress(encoded []byte, codec Codec, size int) ([]byte, error) {
	switch codec {
	case CodecNone:
		if len(encoded) != size {
			return nil, fmt.Errorf("archive: stored frame is %d bytes, header says %d", len(encoded), size)
		}
		return encoded, nil
	case CodecLZ4:
		decoded := make([]byte, size)
		read, err := lz4.UncompressBlock(encoded, decoded)
		if err != nil {
			return nil, fmt.Errorf("archive: lz4 decompress: %w", err)
		}
		if read != size {
			return nil, fmt.Errorf("archive: lz4 decompress: got %d bytes, expected %d", read, size)
		}
		return decoded, nil
	case CodecZstd:
		decoded, err := zstdDecoder.DecodeAll(encoded, make([]byte, 0, size))
		if err != nil {
			return nil, fmt.Errorf("archive: zstd decompress: %w", err)
		}
		if len(decoded) != size {
			return nil, fmt.Errorf("archive: zstd decompress: got %d bytes, expected %d", len(decoded), size)
		}
		return decoded, nil
	default:
		return nil, fmt.Errorf("archive: unsupported codec %s", codec)
	}
}

func compressLZ4(data []byte) ([]byte, error) {
	destination := make([]byte, lz4.CompressBlockBound(len(data)))
	written, err := lz4.CompressBlock(data, destination, nil)
	if err != nil {
		return nil, fmt.Errorf("archive: lz4 compress: %w", err)
	}
	// CompressBlock returns 0 for data it cannot compress.
	if written == 0 || written >= len(data) {
		return nil, errIncompressible
	}
	return destination[:written], nil
}

func compressZstd(data []byte) ([]byte, error) {
	encoded := zstdEncoder.EncodeAll(data, nil)
	if len(encoded) >= len(data) {
		return nil, errIncompressible
	}
	return encoded, nil
}

// selectCodec compresses data with zstd. A ratio of 1.5 or better selects
// zstd, 1.1 or better LZ4, and anything less stores the frame as is.
func selectCodec(data []byte) Codec {
	if len(data) == 0 {
		return CodecNone
	}
	ratio := float64(len(data)) / float64(len(zstdEncoder.EncodeAll(data, nil)))
	switch {
	case ratio >= 1.5:
		return CodecZstd
	case ratio >= 1.1:
		return CodecLZ4
	default:
		return CodecNone
	}
}
