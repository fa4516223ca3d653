package library

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/arenfeld/codex/internal/apperr"
	"github.com/arenfeld/codex/internal/kdf"
	"github.com/arenfeld/codex/internal/models"
)

// FormatVersion tags the on-disk store layout.
const FormatVersion = 1

const (
	headerFile = "codex.json"
	indexFile  = "index.db"
	blobsDir   = "blobs"
)

// canaryPlain is the fixed plaintext sealed into every header. Decrypting it
// proves a derived key is correct before any real record is touched.
const canaryPlain = "codex canary v1"

// Header is the plaintext, non-secret portion of a store: everything needed
// to re-derive the master key plus the canary that verifies it.
type Header struct {
	FormatVersion int    `json:"format_version"`
	SchemaVersion int    `json:"schema_version"`
	Salt          []byte `json:"salt"`
	Iterations    int    `json:"kdf_iterations"`
	Canary        []byte `json:"canary"`
}

func (h *Header) validate() error {
	if h.FormatVersion != FormatVersion {
		return fmt.Errorf("library: unsupported format version %d: %w", h.FormatVersion, apperr.ErrFormat)
	}
	if h.SchemaVersion != models.SchemaVersion {
		return fmt.Errorf("library: unsupported schema version %d: %w", h.SchemaVersion, apperr.ErrFormat)
	}
	if len(h.Salt) < kdf.MinSaltLen {
		return fmt.Errorf("library: header salt too short: %w", apperr.ErrFormat)
	}
	if h.Iterations < kdf.MinIterations {
		return fmt.Errorf("library: header iteration count %d too low: %w", h.Iterations, apperr.ErrFormat)
	}
	if len(h.Canary) == 0 {
		return fmt.Errorf("library: header canary missing: %w", apperr.ErrFormat)
	}
	return nil
}

// readHeader loads and validates the header of the store rooted at dir.
func readHeader(dir string) (*Header, error) {
	data, err := os.ReadFile(filepath.Join(dir, headerFile))
	if os.IsNotExist(err) {
		return nil, fmt.Errorf("library: %s is not a store: %w", dir, apperr.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("library: read header: %w", err)
	}
	return parseHeader(data)
}

// parseHeader decodes and validates raw header bytes.
func parseHeader(data []byte) (*Header, error) {
	var h Header
	if err := json.Unmarshal(data, &h); err != nil {
		return nil, fmt.Errorf("library: parse header: %w", apperr.ErrFormat)
	}
	if err := h.validate(); err != nil {
		return nil, err
	}
	return &h, nil
}

// writeHeader atomically persists the header: tmp file → fsync → rename.
func writeHeader(dir string, h *Header) error {
	data, err := json.MarshalIndent(h, "", "  ")
	if err != nil {
		return fmt.Errorf("library: marshal header: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".codex-hdr-*")
	if err != nil {
		return fmt.Errorf("library: create header temp: %w", err)
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
		return fmt.Errorf("library: write header: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		return fmt.Errorf("library: fsync header: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("library: close header: %w", err)
	}
	if err := os.Rename(tmpName, filepath.Join(dir, headerFile)); err != nil {
		return fmt.Errorf("library: rename header: %w", err)
	}
	success = true
	return nil
}
