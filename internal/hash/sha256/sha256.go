// Package sha256 fingerprints provider credentials for rate-limit analytics.
package sha256

import (
	"crypto/sha256"
	"encoding/hex"
)

// fingerprintLen is the number of hex characters kept by Fingerprint.
const fingerprintLen = 16

// Hasher implements crawler.Hasher using SHA-256.
type Hasher struct{}

// New returns a SHA-256 hasher.
func New() *Hasher {
	return &Hasher{}
}

// Hash hashes the input and returns a hex digest.
func (h *Hasher) Hash(data []byte) (string, error) {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:]), nil
}

// Fingerprint returns a short digest identifying secret without revealing it.
// An empty secret yields an empty fingerprint.
func (h *Hasher) Fingerprint(secret string) string {
	if secret == "" {
		return ""
	}
	digest, _ := h.Hash([]byte(secret))
	return digest[:fingerprintLen]
}
