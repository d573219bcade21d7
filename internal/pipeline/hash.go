package pipeline

import (
	"crypto/sha256"
	"encoding/hex"
)

// Hash computes the lowercase hex SHA-256 digest of the trimmed extracted
// content (spec §4.2.2). Grounded on mutation.HashHTML's use of
// crypto/sha256 — the teacher hashes DOM snapshots the same way.
func Hash(content string) string {
	sum := sha256.Sum256([]byte(content))
	return hex.EncodeToString(sum[:])
}
