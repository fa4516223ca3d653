package checksum

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
)

// Sum returns the hex-encoded SHA-256 digest of data.
func Sum(data []byte) string {
	h := sha256.Sum256(data)
	return hex.EncodeToString(h[:])
}

// Matches reports whether data hashes to want, comparing in constant time.
func Matches(data []byte, want string) bool {
	return subtle.ConstantTimeCompare([]byte(Sum(data)), []byte(want)) == 1
}
