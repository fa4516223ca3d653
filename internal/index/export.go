package index

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"

	"github.com/arenfeld/codex/internal/apperr"
)

// sqliteMagic is the 16-byte header every well-formed database image starts with.
var sqliteMagic = []byte("SQLite format 3\x00")

// ExportRaw returns a consistent snapshot of the already-encrypted database
// image. VACUUM INTO folds the WAL into a standalone file, so the copy is
// durable on its own. Nothing is decrypted: export works without the
// passphrase.
func (db *DB) ExportRaw() ([]byte, error) {
	tmp, err := os.CreateTemp(filepath.Dir(db.path), ".codex-export-*")
	if err != nil {
		return nil, fmt.Errorf("index: export temp: %w", err)
	}
	tmpName := tmp.Name()
	_ = tmp.Close()
	// VACUUM INTO refuses to write an existing file.
	_ = os.Remove(tmpName)
	defer os.Remove(tmpName)

	if _, err := db.conn.Exec(`VACUUM INTO ?`, tmpName); err != nil {
		return nil, fmt.Errorf("index: vacuum into: %w", err)
	}
	data, err := os.ReadFile(tmpName)
	if err != nil {
		return nil, fmt.Errorf("index: read export: %w", err)
	}
	return data, nil
}

// ValidateRaw checks the structural integrity of a database image: the file
// magic and a plausible size. Cryptographic integrity of the records inside
// is only checked when they are later decrypted.
func ValidateRaw(data []byte) error {
	if len(data) < 512 || !bytes.HasPrefix(data, sqliteMagic) {
		return fmt.Errorf("index: not a database image: %w", apperr.ErrFormat)
	}
	return nil
}

// ImportRaw replaces the index contents with a previously exported image.
// The image is staged next to the live file and swapped in with one rename,
// then the connection is reopened against the new contents.
func (db *DB) ImportRaw(data []byte) error {
	if err := ValidateRaw(data); err != nil {
		return err
	}

	dir := filepath.Dir(db.path)
	tmp, err := os.CreateTemp(dir, ".codex-import-*")
	if err != nil {
		return fmt.Errorf("index: import temp: %w", err)
	}
	tmpName := tmp.Name()

	success := false
	defer func() {
		if !success {
			_ = tmp.Close()
			_ = os.Remove(tmpName)
		}
	}()

	if _, err := tmp.Write(data); err != nil {
		return fmt.Errorf("index: write import: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		return fmt.Errorf("index: fsync import: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("index: close import: %w", err)
	}

	// Drop the live connection so no WAL or shm file outlives the swap.
	if err := db.conn.Close(); err != nil {
		return fmt.Errorf("index: close before import: %w", err)
	}
	for _, suffix := range []string{"-wal", "-shm"} {
		_ = os.Remove(db.path + suffix)
	}
	if err := os.Rename(tmpName, db.path); err != nil {
		// Reopen the old contents; the live file was not touched.
		reopened, reopenErr := Open(db.path, db.codec)
		if reopenErr == nil {
			db.conn = reopened.conn
		}
		return fmt.Errorf("index: swap import: %w", err)
	}
	success = true

	reopened, err := Open(db.path, db.codec)
	if err != nil {
		return fmt.Errorf("index: reopen after import: %w", err)
	}
	db.conn = reopened.conn
	return nil
}
