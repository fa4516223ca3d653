// Package apperr defines the sentinel errors shared across Codex packages.
// Callers classify failures with errors.Is so the CLI and API layers can map
// them to distinct exit codes and status codes.
package apperr

import "errors"

var (
	// ErrConfiguration reports malformed KDF or cipher parameters.
	ErrConfiguration = errors.New("invalid configuration")

	// ErrAuthentication reports an AEAD tag verification failure: wrong key,
	// tampering, or corruption. The three are deliberately not distinguished.
	ErrAuthentication = errors.New("authentication failed")

	// ErrNotFound reports a lookup for an identifier that is not stored.
	ErrNotFound = errors.New("not found")

	// ErrDuplicateID reports an add with an identifier that already exists.
	ErrDuplicateID = errors.New("duplicate identifier")

	// ErrAlreadyExists reports creating a store at a path that already is one.
	ErrAlreadyExists = errors.New("already exists")

	// ErrFormat reports malformed on-disk structure (header, bundle, index image).
	ErrFormat = errors.New("malformed format")

	// ErrIntegrity reports a post-authentication consistency check failure.
	// Under correct operation this cannot happen; it signals a logic bug.
	ErrIntegrity = errors.New("integrity check failed")

	// ErrClosed reports an operation on a closed store.
	ErrClosed = errors.New("store is closed")
)
