// Package cryptox computes the content hashes that identify attachment blobs.
package cryptox

import (
	"encoding/hex"

	"golang.org/x/crypto/blake2b"
)

// ContentHash returns the hex encoded BLAKE2b-256 digest of data.
func ContentHash(data []byte) string {
	sum := blake2b.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// Verify reports whether data hashes to want.
func Verify(data []byte, want string) bool {
	return ContentHash(data) == want
}
