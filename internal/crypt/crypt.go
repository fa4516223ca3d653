// Package crypt provides authenticated encryption of opaque payloads.
//
// Each sealed blob is laid out as nonce ∥ ciphertext ∥ tag. AES-256-GCM is
// the single supported scheme: confidentiality and integrity are verified in
// one step, so a blob that fails verification never yields any plaintext.
package crypt

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"fmt"
	"io"

	"github.com/arenfeld/codex/internal/apperr"
	"github.com/arenfeld/codex/internal/kdf"
)

// Codec seals and opens blobs under one symmetric key.
type Codec struct {
	aead cipher.AEAD
}

// New builds a Codec from a kdf.KeyLen-byte key.
func New(key []byte) (*Codec, error) {
	if len(key) != kdf.KeyLen {
		return nil, fmt.Errorf("crypt: key must be %d bytes, got %d: %w",
			kdf.KeyLen, len(key), apperr.ErrConfiguration)
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("crypt: init cipher: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("crypt: init gcm: %w", err)
	}
	return &Codec{aead: aead}, nil
}

// NonceSize returns the nonce length prepended to every sealed blob.
func (c *Codec) NonceSize() int { return c.aead.NonceSize() }

// Overhead returns the per-blob size overhead (nonce plus tag).
func (c *Codec) Overhead() int { return c.aead.NonceSize() + c.aead.Overhead() }

// Seal encrypts plaintext under a fresh random nonce and returns
// nonce ∥ ciphertext ∥ tag. The nonce comes from the system CSPRNG and is
// never derived from content, so re-encrypting identical payloads cannot
// collide.
func (c *Codec) Seal(plaintext []byte) ([]byte, error) {
	nonce := make([]byte, c.aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, fmt.Errorf("crypt: read nonce: %w", err)
	}
	return c.aead.Seal(nonce, nonce, plaintext, nil), nil
}

// Open splits blob into nonce and ciphertext∥tag, verifies the tag, and
// returns the plaintext. A blob that is too short or fails verification
// yields apperr.ErrAuthentication and no plaintext bytes.
func (c *Codec) Open(blob []byte) ([]byte, error) {
	ns := c.aead.NonceSize()
	if len(blob) < ns+c.aead.Overhead() {
		return nil, fmt.Errorf("crypt: blob too short (%d bytes): %w",
			len(blob), apperr.ErrAuthentication)
	}
	plaintext, err := c.aead.Open(nil, blob[:ns], blob[ns:], nil)
	if err != nil {
		return nil, fmt.Errorf("crypt: open: %w", apperr.ErrAuthentication)
	}
	return plaintext, nil
}

// RandBytes returns n bytes from the system CSPRNG.
func RandBytes(n int) ([]byte, error) {
	b := make([]byte, n)
	if _, err := io.ReadFull(rand.Reader, b); err != nil {
		return nil, fmt.Errorf("crypt: read random: %w", err)
	}
	return b, nil
}

// Zero overwrites b in place. Best-effort scrubbing of key material; the
// compiler is not prevented from having made earlier copies.
func Zero(b []byte) {
	for i := range b {
		b[i] = 0
	}
}
