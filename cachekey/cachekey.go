// Package cachekey derives content-addressed cache keys from canonical
// operation strings.
package cachekey

import (
	"crypto/sha256"
	"encoding/hex"
)

// Compute returns the lowercase hex SHA-256 digest of input.
//
// The keyer performs no normalization: callers own the canonical form
// of the input string, and two textually different representations of
// the same logical value ("50" vs "50.0") produce different keys.
func Compute(input string) string {
	digest := sha256.Sum256([]byte(input))
	return hex.EncodeToString(digest[:])
}
