// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package codec provides the module's single CBOR configuration.
//
// CBOR is used wherever the store writes structured data that only it
// reads back: free lists and blob positions inside catalog rows, bbolt
// values, and the frames of an archive stream. JSON is reserved for
// what people and scripts consume, such as --json command output.
//
// The encoder uses Core Deterministic Encoding (RFC 8949 §4.2): sorted
// map keys, smallest integer encoding, no indefinite-length items. A
// given value always encodes to the same bytes, which keeps catalog
// rows comparable and archive streams reproducible.
//
// For buffers:
//
//	data, err := codec.Marshal(value)
//	err = codec.Unmarshal(data, &value)
//
// For streams:
//
//	encoder := codec.NewEncoder(w)
//	decoder := codec.NewDecoder(r)
//
// Types serialized only as CBOR use `cbor` struct tags. Types that are
// also printed as JSON use `json` tags; fxamacker/cbor falls back to
// them when no `cbor` tag is present.
package codec
