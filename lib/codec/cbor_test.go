// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package codec

import (
	"bytes"
	"errors"
	"io"
	"reflect"
	"testing"
)

type sampleRow struct {
	Hash      string          `cbor:"hash"`
	Size      int64           `cbor:"size"`
	Positions map[int][]int64 `cbor:"positions"`
}

func TestRoundtrip(t *testing.T) {
	original := sampleRow{
		Hash:      "b472a266d0bd89c13706a4132ccfb16f7c3b9fcb",
		Size:      300,
		Positions: map[int][]int64{2: {0, 99}, 1: {100, 299}},
	}

	data, err := Marshal(original)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	var decoded sampleRow
	if err := Unmarshal(data, &decoded); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if !reflect.DeepEqual(decoded, original) {
		t.Errorf("roundtrip mismatch: got %+v, want %+v", decoded, original)
	}
}

func TestMarshalDeterministic(t *testing.T) {
	// Map iteration order is random; the encoding must not be.
	value := map[int]string{5: "e", 1: "a", 3: "c", 2: "b", 4: "d"}

	first, err := Marshal(value)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	for range 50 {
		again, err := Marshal(value)
		if err != nil {
			t.Fatalf("Marshal: %v", err)
		}
		if !bytes.Equal(first, again) {
			t.Fatal("encoding differs between calls")
		}
	}
}

func TestStreamEncoding(t *testing.T) {
	var buffer bytes.Buffer
	encoder := NewEncoder(&buffer)
	for index := range 3 {
		if err := encoder.Encode(sampleRow{Hash: "h", Size: int64(index)}); err != nil {
			t.Fatalf("Encode: %v", err)
		}
	}

	decoder := NewDecoder(&buffer)
	for index := range 3 {
		var row sampleRow
		if err := decoder.Decode(&row); err != nil {
			t.Fatalf("Decode %d: %v", index, err)
		}
		if row.Size != int64(index) {
			t.Errorf("row %d has size %d", index, row.Size)
		}
	}
	var extra sampleRow
	if err := decoder.Decode(&extra); !errors.Is(err, io.EOF) {
		t.Errorf("Decode past end = %v, want io.EOF", err)
	}
}
