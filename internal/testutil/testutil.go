// Package testutil provides shared test helpers for setting up encrypted stores.
package testutil

import (
	"path/filepath"
	"testing"

	"github.com/arenfeld/codex/internal/kdf"
	"github.com/arenfeld/codex/internal/library"
)

// TestPassphrase is the passphrase used by TestStore fixtures.
const TestPassphrase = "pw123"

// TestStore creates a temporary encrypted store that is automatically closed.
// The minimum KDF iteration count keeps test key derivation fast.
func TestStore(t *testing.T) *library.Store {
	t.Helper()

	store, err := library.Create(filepath.Join(t.TempDir(), "lib"), []byte(TestPassphrase), kdf.MinIterations)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}
