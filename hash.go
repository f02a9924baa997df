package halnet

import (
	"encoding/hex"

	"github.com/zeebo/blake3"
)

// HashSize is the size of a BLAKE3 digest in bytes.
const HashSize = 32

// Hash is a BLAKE3 256-bit digest of page content.
type Hash [HashSize]byte

// Digest computes the BLAKE3 hash of content.
func Digest(content []byte) Hash {
	return Hash(blake3.Sum256(content))
}

// String returns the hex-encoded digest.
func (h Hash) String() string {
	return hex.EncodeToString(h[:])
}

// ShortString returns a shortened hex representation for logs.
func (h Hash) ShortString() string {
	return hex.EncodeToString(h[:8])
}

// IsZero returns true if the hash is all zeros (uninitialized).
func (h Hash) IsZero() bool {
	return h == Hash{}
}

// ETag formats the digest as a strong HTTP entity tag.
func (h Hash) ETag() string {
	return `"` + h.ShortString() + `"`
}
