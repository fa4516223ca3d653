// Package library implements the encrypted store orchestrator: it owns the
// on-disk layout and composes the key derivation, the payload codec, the
// encrypted metadata index, and the blob directory behind the public
// create/open/add/search/get/delete/export/import/close surface.
//
// One open Store instance per path at a time: nothing arbitrates concurrent
// access to the same path from multiple processes, and such use is undefined.
package library

import (
	"bytes"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/arenfeld/codex/internal/apperr"
	"github.com/arenfeld/codex/internal/checksum"
	"github.com/arenfeld/codex/internal/crypt"
	"github.com/arenfeld/codex/internal/index"
	"github.com/arenfeld/codex/internal/kdf"
	"github.com/arenfeld/codex/internal/models"
	"github.com/arenfeld/codex/internal/storage"
)

const saltLen = 32

// DefaultIterations is the KDF iteration count used for new stores unless
// configured otherwise.
const DefaultIterations = 200_000

// Store is one open library session. The master key lives exactly here: it is
// derived on open, never serialized, and zeroed on Close.
type Store struct {
	mu sync.Mutex

	dir    string
	header *Header
	key    []byte
	codec  *crypt.Codec
	idx    *index.DB
	blobs  *storage.FS
	logger *slog.Logger
	closed bool
}

// Option configures a Store being created or opened.
type Option func(*Store)

// WithLogger sets the logger used for sweep and import diagnostics.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Store) {
		s.logger = logger
	}
}

// Create initializes a new store at dir: fresh random salt, derived master
// key, sealed canary, empty index, empty blob directory. Fails with
// ErrAlreadyExists when dir already holds a store.
func Create(dir string, passphrase []byte, iterations int, opts ...Option) (*Store, error) {
	if _, err := os.Stat(filepath.Join(dir, headerFile)); err == nil {
		return nil, fmt.Errorf("library: %s: %w", dir, apperr.ErrAlreadyExists)
	}
	if err := os.MkdirAll(filepath.Join(dir, blobsDir), 0o700); err != nil {
		return nil, fmt.Errorf("library: create store dirs: %w", err)
	}

	salt, err := crypt.RandBytes(saltLen)
	if err != nil {
		return nil, err
	}
	key, err := kdf.Derive(passphrase, salt, iterations)
	if err != nil {
		return nil, err
	}
	codec, err := crypt.New(key)
	if err != nil {
		crypt.Zero(key)
		return nil, err
	}
	canary, err := codec.Seal([]byte(canaryPlain))
	if err != nil {
		crypt.Zero(key)
		return nil, err
	}

	header := &Header{
		FormatVersion: FormatVersion,
		SchemaVersion: models.SchemaVersion,
		Salt:          salt,
		Iterations:    iterations,
		Canary:        canary,
	}
	if err := writeHeader(dir, header); err != nil {
		crypt.Zero(key)
		return nil, err
	}

	return newStore(dir, header, key, codec, opts...)
}

// Open reads the header of the store at dir, re-derives the master key from
// passphrase, and verifies it against the canary before touching any record.
// A wrong passphrase fails fast with ErrAuthentication.
func Open(dir string, passphrase []byte, opts ...Option) (*Store, error) {
	header, err := readHeader(dir)
	if err != nil {
		return nil, err
	}
	key, err := kdf.Derive(passphrase, header.Salt, header.Iterations)
	if err != nil {
		return nil, err
	}
	codec, err := crypt.New(key)
	if err != nil {
		crypt.Zero(key)
		return nil, err
	}

	plain, err := codec.Open(header.Canary)
	if err != nil {
		crypt.Zero(key)
		return nil, fmt.Errorf("library: canary: %w", apperr.ErrAuthentication)
	}
	if !bytes.Equal(plain, []byte(canaryPlain)) {
		// Authenticated but wrong contents: the header was rebuilt by
		// something that is not this code.
		crypt.Zero(key)
		return nil, fmt.Errorf("library: canary contents: %w", apperr.ErrIntegrity)
	}

	return newStore(dir, header, key, codec, opts...)
}

// newStore wires up the index and blob store and sweeps orphan blobs.
func newStore(dir string, header *Header, key []byte, codec *crypt.Codec, opts ...Option) (*Store, error) {
	s := &Store{
		dir:    dir,
		header: header,
		key:    key,
		codec:  codec,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}

	blobs, err := storage.NewFS(filepath.Join(dir, blobsDir))
	if err != nil {
		crypt.Zero(key)
		return nil, err
	}
	idx, err := index.Open(filepath.Join(dir, indexFile), codec)
	if err != nil {
		crypt.Zero(key)
		return nil, err
	}
	s.blobs = blobs
	s.idx = idx

	if err := s.sweepOrphans(); err != nil {
		s.logger.Warn("orphan sweep failed", slog.String("error", err.Error()))
	}
	return s, nil
}

// sweepOrphans removes blobs no index record references. An interrupted add
// is the only thing that produces them; they are harmless but dead weight.
func (s *Store) sweepOrphans() error {
	refs, err := s.idx.AllBlobRefs()
	if err != nil {
		return err
	}
	stored, err := s.blobs.List()
	if err != nil {
		return err
	}
	for _, ref := range stored {
		if _, ok := refs[ref]; ok {
			continue
		}
		if err := s.blobs.Remove(ref); err != nil {
			s.logger.Warn("orphan blob removal failed",
				slog.String("ref", ref), slog.String("error", err.Error()))
		} else {
			s.logger.Info("removed orphan blob", slog.String("ref", ref))
		}
	}
	return nil
}

// guard returns ErrClosed when the store is no longer open. Callers must hold mu.
func (s *Store) guard() error {
	if s.closed {
		return fmt.Errorf("library: %w", apperr.ErrClosed)
	}
	return nil
}

// Add encrypts payload into a new blob, writes it durably, then commits the
// metadata record. Blob first, index second: a crash in between leaves an
// orphan blob the next open sweeps up, never a dangling index reference.
func (s *Store) Add(payload []byte, meta models.ItemMetadata) (*models.ItemMetadata, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.guard(); err != nil {
		return nil, err
	}

	if meta.ID == "" {
		meta.ID = uuid.NewString()
	}
	meta.SchemaVersion = models.SchemaVersion
	meta.AddedAt = time.Now().UTC()
	meta.Checksum = checksum.Sum(payload)
	meta.BlobRef = uuid.NewString()
	if meta.Tags == nil {
		meta.Tags = []string{}
	}
	if err := meta.Validate(); err != nil {
		return nil, fmt.Errorf("library: invalid metadata (%v): %w", err, apperr.ErrConfiguration)
	}

	blob, err := s.codec.Seal(payload)
	if err != nil {
		return nil, err
	}
	if err := s.blobs.Write(meta.BlobRef, blob); err != nil {
		return nil, err
	}
	if err := s.idx.Put(meta); err != nil {
		// Roll back the staged blob so a failed add leaves no residue.
		if rmErr := s.blobs.Remove(meta.BlobRef); rmErr != nil {
			s.logger.Warn("rollback blob removal failed",
				slog.String("ref", meta.BlobRef), slog.String("error", rmErr.Error()))
		}
		return nil, err
	}
	return &meta, nil
}

// Search returns all items matching f, fully materialized and ordered.
func (s *Store) Search(f models.Filter) ([]models.ItemMetadata, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.guard(); err != nil {
		return nil, err
	}
	return s.idx.Search(f)
}

// Get looks up id, decrypts its blob, verifies the checksum against the
// metadata, and writes the plaintext to outPath. A checksum mismatch after
// successful authentication means a logic bug and surfaces as ErrIntegrity.
func (s *Store) Get(id, outPath string) (*models.ItemMetadata, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.guard(); err != nil {
		return nil, err
	}

	meta, err := s.idx.Get(id)
	if err != nil {
		return nil, err
	}
	blob, err := s.blobs.Read(meta.BlobRef)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("library: blob %s missing for item %s: %w",
				meta.BlobRef, id, apperr.ErrIntegrity)
		}
		return nil, err
	}
	payload, err := s.codec.Open(blob)
	if err != nil {
		return nil, err
	}
	if !checksum.Matches(payload, meta.Checksum) {
		return nil, fmt.Errorf("library: checksum mismatch for item %s: %w", id, apperr.ErrIntegrity)
	}
	if err := writeFileAtomic(outPath, payload); err != nil {
		return nil, err
	}
	return meta, nil
}

// Update replaces the stored metadata fields of an existing item. The
// identifier, checksum, blob reference, and timestamps stay untouched.
func (s *Store) Update(id string, title, author string, tags []string) (*models.ItemMetadata, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.guard(); err != nil {
		return nil, err
	}

	meta, err := s.idx.Get(id)
	if err != nil {
		return nil, err
	}
	if title != "" {
		meta.Title = title
	}
	if author != "" {
		meta.Author = author
	}
	if tags != nil {
		meta.Tags = tags
	}
	if err := meta.Validate(); err != nil {
		return nil, fmt.Errorf("library: invalid metadata (%v): %w", err, apperr.ErrConfiguration)
	}
	if err := s.idx.Replace(*meta); err != nil {
		return nil, err
	}
	return meta, nil
}

// Delete removes the index record, then scrubs and unlinks the blob. The
// record goes first: if the scrub is interrupted the leftover is an orphan
// blob, which the next open cleans up.
func (s *Store) Delete(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.guard(); err != nil {
		return err
	}

	meta, err := s.idx.Get(id)
	if err != nil {
		return err
	}
	if err := s.idx.Delete(id); err != nil {
		return err
	}
	if err := s.blobs.Remove(meta.BlobRef); err != nil {
		return fmt.Errorf("library: erase blob for %s: %w", id, err)
	}
	return nil
}

// Close zeroes the master key and releases the index handle. Idempotent:
// closing twice is a no-op and does not double-free key material.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	crypt.Zero(s.key)
	s.key = nil
	s.codec = nil
	if err := s.idx.Close(); err != nil {
		return fmt.Errorf("library: close index: %w", err)
	}
	return nil
}

// Path returns the store's root directory.
func (s *Store) Path() string { return s.dir }

// writeFileAtomic writes data to path via a temp file in the same directory.
func writeFileAtomic(path string, data []byte) error {
	abs, err := filepath.Abs(path)
	if err != nil {
		return fmt.Errorf("library: resolve output path: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(abs), 0o755); err != nil {
		return fmt.Errorf("library: create output dir: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(abs), ".codex-out-*")
	if err != nil {
		return fmt.Errorf("library: create output temp: %w", err)
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
		return fmt.Errorf("library: write output: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		return fmt.Errorf("library: fsync output: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("library: close output: %w", err)
	}
	if err := os.Rename(tmpName, abs); err != nil {
		return fmt.Errorf("library: rename output: %w", err)
	}
	success = true
	return nil
}
