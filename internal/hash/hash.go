// Package hash provides content fingerprinting for workspace states.
//
// The engine hashes the canonical serialized form of a state to detect
// when a save carries no actual change, so redundant writes are skipped
// before they reach the scheduler.
package hash

import (
	"crypto/sha256"
	"encoding/hex"
)

// Hasher provides an abstraction for content fingerprinting.
type Hasher interface {
	// Sum computes the fingerprint of the given bytes.
	Sum(data []byte) string
}

// SHA256Hasher implements Hasher using SHA-256.
type SHA256Hasher struct{}

// NewSHA256Hasher creates a new SHA256Hasher.
func NewSHA256Hasher() *SHA256Hasher {
	return &SHA256Hasher{}
}

// Sum computes the SHA-256 fingerprint of the given bytes.
func (h *SHA256Hasher) Sum(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}
