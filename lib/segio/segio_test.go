// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package segio

import (
	"bytes"
	"context"
	"crypto/sha256"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/bureau-foundation/mapstore/lib/freespace"
)

// memoryDevice is a fixed-size in-memory shard.
type memoryDevice struct {
	data []byte
}

func (d *memoryDevice) ReadAt(p []byte, off int64) (int, error) {
	if off >= int64(len(d.data)) {
		return 0, io.EOF
	}
	count := copy(p, d.data[off:])
	if count < len(p) {
		return count, io.EOF
	}
	return count, nil
}

func (d *memoryDevice) WriteAt(p []byte, off int64) (int, error) {
	if off+int64(len(p)) > int64(len(d.data)) {
		return 0, fmt.Errorf("write past end")
	}
	return copy(d.data[off:], p), nil
}

func newDevices(count int, size int) (map[int]*memoryDevice, Lookup) {
	devices := make(map[int]*memoryDevice, count)
	for id := 1; id <= count; id++ {
		devices[id] = &memoryDevice{data: make([]byte, size)}
	}
	return devices, func(id int) (Device, error) {
		device, ok := devices[id]
		if !ok {
			return nil, fmt.Errorf("no shard %d", id)
		}
		return device, nil
	}
}

// scatteredPositions spreads a 100-byte blob over three shards, with
// shard order deliberately different from source order.
func scatteredPositions() freespace.Positions {
	return freespace.Positions{
		1: {{SourceOffset: 60, Start: 0, End: 39}},
		2: {{SourceOffset: 0, Start: 10, End: 29}, {SourceOffset: 40, Start: 50, End: 69}},
		3: {{SourceOffset: 20, Start: 5, End: 24}},
	}
}

func testPayload(size int) []byte {
	payload := make([]byte, size)
	for index := range payload {
		payload[index] = byte(index*7 + 3)
	}
	return payload
}

// streamOnly hides every interface but io.Reader.
type streamOnly struct{ io.Reader }

// sinkOnly hides every interface but io.Writer.
type sinkOnly struct{ io.Writer }

func TestWriteReadRoundTrip(t *testing.T) {
	payload := testPayload(100)
	positions := scatteredPositions()

	sources := map[string]func() io.Reader{
		"positional": func() io.Reader { return bytes.NewReader(payload) },
		"sequential": func() io.Reader { return streamOnly{bytes.NewReader(payload)} },
	}
	for name, source := range sources {
		t.Run(name, func(t *testing.T) {
			devices, lookup := newDevices(3, 100)

			written, err := WriteBlob(context.Background(), source(), positions, lookup, Options{BufferSize: 7})
			if err != nil {
				t.Fatalf("WriteBlob: %v", err)
			}
			if written != 100 {
				t.Errorf("WriteBlob wrote %d bytes, want 100", written)
			}
			if !bytes.Equal(devices[2].data[10:30], payload[0:20]) {
				t.Error("shard 2 head segment holds the wrong bytes")
			}

			var output bytes.Buffer
			read, err := ReadBlob(context.Background(), sinkOnly{&output}, positions, lookup, Options{BufferSize: 9})
			if err != nil {
				t.Fatalf("ReadBlob: %v", err)
			}
			if read != 100 || !bytes.Equal(output.Bytes(), payload) {
				t.Errorf("ReadBlob returned %d bytes, content match %v", read, bytes.Equal(output.Bytes(), payload))
			}
		})
	}
}

func TestReadIntoSeekableFile(t *testing.T) {
	payload := testPayload(100)
	positions := scatteredPositions()
	_, lookup := newDevices(3, 100)
	if _, err := WriteBlob(context.Background(), bytes.NewReader(payload), positions, lookup, Options{}); err != nil {
		t.Fatalf("WriteBlob: %v", err)
	}

	file, err := os.Create(filepath.Join(t.TempDir(), "out"))
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	defer file.Close()
	// A prefix already in the file must be kept and the blob written
	// after it.
	if _, err := file.Write([]byte("prefix")); err != nil {
		t.Fatalf("Write: %v", err)
	}

	if _, err := ReadBlob(context.Background(), file, positions, lookup, Options{BufferSize: 16}); err != nil {
		t.Fatalf("ReadBlob: %v", err)
	}
	offset, err := file.Seek(0, io.SeekCurrent)
	if err != nil {
		t.Fatalf("Seek: %v", err)
	}
	if offset != 106 {
		t.Errorf("file offset after ReadBlob = %d, want 106", offset)
	}

	contents, err := os.ReadFile(file.Name())
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if !bytes.Equal(contents, append([]byte("prefix"), payload...)) {
		t.Error("file contents do not match prefix + payload")
	}
}

func TestWriteShortSource(t *testing.T) {
	_, lookup := newDevices(3, 100)
	short := testPayload(50)

	for name, source := range map[string]io.Reader{
		"positional": bytes.NewReader(short),
		"sequential": streamOnly{bytes.NewReader(short)},
	} {
		_, err := WriteBlob(context.Background(), source, scatteredPositions(), lookup, Options{})
		if !errors.Is(err, io.ErrUnexpectedEOF) {
			t.Errorf("%s: error = %v, want io.ErrUnexpectedEOF", name, err)
		}
	}
}

func TestSequentialRejectsGap(t *testing.T) {
	_, lookup := newDevices(1, 100)
	positions := freespace.Positions{1: {{SourceOffset: 0, Start: 0, End: 9}, {SourceOffset: 20, Start: 10, End: 19}}}

	_, err := WriteBlob(context.Background(), streamOnly{bytes.NewReader(testPayload(30))}, positions, lookup, Options{})
	if !errors.Is(err, ErrOrdering) {
		t.Errorf("error = %v, want ErrOrdering", err)
	}
}

func TestObserverSeesSourceOrder(t *testing.T) {
	payload := testPayload(100)
	_, lookup := newDevices(3, 100)

	writeHash := sha256.New()
	if _, err := WriteBlob(context.Background(), bytes.NewReader(payload), scatteredPositions(), lookup, Options{Observer: writeHash}); err != nil {
		t.Fatalf("WriteBlob: %v", err)
	}
	readHash := sha256.New()
	if _, err := ReadBlob(context.Background(), io.Discard, scatteredPositions(), lookup, Options{Observer: readHash}); err != nil {
		t.Fatalf("ReadBlob: %v", err)
	}

	want := sha256.Sum256(payload)
	if !bytes.Equal(writeHash.Sum(nil), want[:]) {
		t.Error("write observer digest does not match payload")
	}
	if !bytes.Equal(readHash.Sum(nil), want[:]) {
		t.Error("read observer digest does not match payload")
	}
}

func TestCancelledContext(t *testing.T) {
	_, lookup := newDevices(3, 100)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := WriteBlob(ctx, bytes.NewReader(testPayload(100)), scatteredPositions(), lookup, Options{})
	if !errors.Is(err, context.Canceled) {
		t.Errorf("error = %v, want context.Canceled", err)
	}
}

func TestEmptyBlob(t *testing.T) {
	_, lookup := newDevices(1, 10)
	var output bytes.Buffer
	written, err := WriteBlob(context.Background(), bytes.NewReader(nil), freespace.Positions{}, lookup, Options{})
	if err != nil || written != 0 {
		t.Errorf("WriteBlob = (%d, %v), want (0, nil)", written, err)
	}
	read, err := ReadBlob(context.Background(), &output, freespace.Positions{}, lookup, Options{})
	if err != nil || read != 0 {
		t.Errorf("ReadBlob = (%d, %v), want (0, nil)", read, err)
	}
}
