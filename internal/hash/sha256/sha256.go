// Package sha256 derives stable hex keys for cache entries and archive objects.
package sha256

import (
	"crypto/sha256"
	"encoding/hex"
)

// Hasher hashes byte strings and tuples of strings with SHA-256.
type Hasher struct{}

// New returns a SHA-256 hasher.
func New() *Hasher {
	return &Hasher{}
}

// Hash returns the hex digest of data.
func (h *Hasher) Hash(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// Key hashes parts joined by a NUL byte, so ("ab", "c") and ("a", "bc") differ.
func (h *Hasher) Key(parts ...string) string {
	d := sha256.New()
	for i, part := range parts {
		if i > 0 {
			d.Write([]byte{0})
		}
		d.Write([]byte(part))
	}
	return hex.EncodeToString(d.Sum(nil))
}
