// Package kdf derives the symmetric master key from a passphrase.
//
// PBKDF2-HMAC-SHA256 is used deliberately: it is iteration-based and
// memory-light, and the iteration count is a stored per-library tunable so
// the brute-force cost can be raised later without breaking old libraries.
package kdf

import (
	"crypto/sha256"
	"fmt"

	"golang.org/x/crypto/pbkdf2"

	"github.com/arenfeld/codex/internal/apperr"
)

const (
	// KeyLen is the derived key length in bytes (AES-256).
	KeyLen = 32

	// MinIterations is the floor for the PBKDF2 iteration count.
	MinIterations = 100_000

	// MinSaltLen is the minimum accepted salt length in bytes.
	MinSaltLen = 16
)

// Derive stretches passphrase into a KeyLen-byte key. It is deterministic:
// the same passphrase, salt and iteration count always yield the same key,
// which is what lets a store be re-opened.
func Derive(passphrase, salt []byte, iterations int) ([]byte, error) {
	if len(passphrase) == 0 {
		return nil, fmt.Errorf("kdf: empty passphrase: %w", apperr.ErrConfiguration)
	}
	if len(salt) < MinSaltLen {
		return nil, fmt.Errorf("kdf: salt must be at least %d bytes, got %d: %w",
			MinSaltLen, len(salt), apperr.ErrConfiguration)
	}
	if iterations < MinIterations {
		return nil, fmt.Errorf("kdf: iteration count %d below minimum %d: %w",
			iterations, MinIterations, apperr.ErrConfiguration)
	}
	return pbkdf2.Key(passphrase, salt, iterations, KeyLen, sha256.New), nil
}
