// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package contenthash computes the two digests a stored blob carries.
//
// The address is the name a blob is stored under:
// hex(RIPEMD-160(SHA-256(bytes))), 40 lowercase hex characters. The
// store itself treats addresses as opaque strings; this package is how
// the command line derives them from content.
//
// The checksum is a BLAKE3 digest recorded when the blob is written
// and compared when it is verified. It is keyed with a fixed domain so
// that a checksum can never be confused with a digest computed for
// another purpose over the same bytes.
package contenthash

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"hash"
	"io"

	"github.com/zeebo/blake3"
	"golang.org/x/crypto/ripemd160" //nolint:staticcheck // the address format is fixed
)

// AddressLength is the length of an address in hex characters.
const AddressLength = 2 * ripemd160.Size

// ErrInvalidAddress reports a string that is not a well-formed address.
var ErrInvalidAddress = errors.New("contenthash: invalid address")

// Address reads r to EOF and returns its content address along with
// the number of bytes read.
func Address(r io.Reader) (string, int64, error) {
	inner := sha256.New()
	size, err := io.Copy(inner, r)
	if err != nil {
		return "", size, fmt.Errorf("contenthash: reading content: %w", err)
	}
	return AddressFromSHA256(inner.Sum(nil)), size, nil
}

// AddressBytes returns the content address of data.
func AddressBytes(data []byte) string {
	digest := sha256.Sum256(data)
	return AddressFromSHA256(digest[:])
}

// AddressFromSHA256 finishes an address from a SHA-256 digest that was
// computed elsewhere, for example while spooling a stream to disk.
func AddressFromSHA256(digest []byte) string {
	outer := ripemd160.New()
	outer.Write(digest)
	return hex.EncodeToString(outer.Sum(nil))
}

// ValidateAddress checks that address is 40 lowercase hex characters.
func ValidateAddress(address string) error {
	if len(address) != AddressLength {
		return fmt.Errorf("%w: %q has %d characters, want %d", ErrInvalidAddress, address, len(address), AddressLength)
	}
	for _, character := range address {
		if (character < '0' || character > '9') && (character < 'a' || character > 'f') {
			return fmt.Errorf("%w: %q contains %q", ErrInvalidAddress, address, character)
		}
	}
	return nil
}

// Checksum is a 32-byte BLAKE3 digest of a blob's bytes.
type Checksum [32]byte

// checksumKey separates blob checksums from other BLAKE3 uses.
var checksumKey = [32]byte{
	'm', 'a', 'p', 's', 't', 'o', 'r', 'e', '.', 'b', 'l', 'o', 'b', '.',
	'c', 'h', 'e', 'c', 'k', 's', 'u', 'm', 0, 0, 0, 0, 0, 0, 0, 0, 0, 0,
}

// NewChecksummer returns a hasher for streaming checksum computation.
// Feed it the blob bytes in order, then pass its Sum to
// [ChecksumFromHash].
func NewChecksummer() hash.Hash {
	hasher, err := blake3.NewKeyed(checksumKey[:])
	if err != nil {
		panic("contenthash: BLAKE3 keyed hash initialization failed: " + err.Error())
	}
	return hasher
}

// ChecksumFromHash extracts the checksum from a hasher returned by
// [NewChecksummer].
func ChecksumFromHash(hasher hash.Hash) Checksum {
	var checksum Checksum
	copy(checksum[:], hasher.Sum(nil))
	return checksum
}

// ChecksumBytes returns the checksum of data.
func ChecksumBytes(data []byte) Checksum {
	hasher := NewChecksummer()
	hasher.Write(data)
	return ChecksumFromHash(hasher)
}

// IsZero reports whether the checksum was never set.
func (c Checksum) IsZero() bool {
	return c == Checksum{}
}

func (c Checksum) String() string {
	return hex.EncodeToString(c[:])
}

// ParseChecksum decodes a hex checksum.
func ParseChecksum(text string) (Checksum, error) {
	var checksum Checksum
	decoded, err := hex.DecodeString(text)
	if err != nil {
		return checksum, fmt.Errorf("contenthash: parsing checksum: %w", err)
	}
	if len(decoded) != len(checksum) {
		return checksum, fmt.Errorf("contenthash: checksum is %d bytes, want %d", len(decoded), len(checksum))
	}
	copy(checksum[:], decoded)
	return checksum, nil
}
