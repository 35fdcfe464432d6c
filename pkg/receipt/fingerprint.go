package receipt

import (
	"crypto/sha256"
	"encoding/hex"
)

// Fingerprint derives the cache key for a (user, receipt) pair. Scoping by
// user keeps one user's cached result from ever serving another user who
// somehow submits identical receipt data.
func Fingerprint(userID, receiptData string) string {
	sum := sha256.Sum256([]byte(receiptData))
	return userID + ":" + hex.EncodeToString(sum[:16])
}

// Hash returns the full content hash of the raw receipt data, stored on the
// entitlement state to detect receipt reuse across accounts.
func Hash(receiptData string) string {
	sum := sha256.Sum256([]byte(receiptData))
	return hex.EncodeToString(sum[:])
}
