package testutil

import (
	"crypto/sha256"
	"encoding/hex"
)

// SHA256Hex hashes data with SHA-256 and returns the lowercase hex digest,
// the same format the filesystem manager writes into state snapshots.
func SHA256Hex(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}
