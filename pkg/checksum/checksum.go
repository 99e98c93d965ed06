// Package checksum provides payload digests for stored entries.
//
// Every digest is a 32-byte SHA-256 sum computed over the payload exactly
// as it is stored (after compression or encryption).
package checksum

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
)

// Size is the digest length in bytes.
const Size = sha256.Size

// Sum computes the SHA-256 digest of data.
func Sum(data []byte) []byte {
	h := sha256.Sum256(data)
	return h[:]
}

// Hex computes the SHA-256 digest of data, hex encoded.
func Hex(data []byte) string {
	return hex.EncodeToString(Sum(data))
}

// Verify reports whether data hashes to expected.
//
// Uses constant-time comparison. A digest of the wrong length never matches.
func Verify(data, expected []byte) bool {
	if len(expected) != Size {
		return false
	}
	return subtle.ConstantTimeCompare(Sum(data), expected) == 1
}

// VerifyHex verifies data against a hex encoded digest.
func VerifyHex(data []byte, expectedHex string) bool {
	expected, err := hex.DecodeString(expectedHex)
	if err != nil {
		return false
	}
	return Verify(data, expected)
}
