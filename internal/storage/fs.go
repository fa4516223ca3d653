package storage

import (
	"crypto/rand"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

const blobExt = ".enc"

// FS implements BlobStore backed by a flat directory of encrypted files.
type FS struct {
	root string // absolute path to the blob directory
}

// NewFS creates a new FS store rooted at the given directory. The directory
// must already exist.
func NewFS(root string) (*FS, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("storage: resolve root: %w", err)
	}
	info, err := os.Stat(abs)
	if err != nil {
		return nil, fmt.Errorf("storage: stat root: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("storage: root is not a directory: %s", abs)
	}
	return &FS{root: abs}, nil
}

// blobPath resolves a reference to an absolute file path. References are
// opaque flat names; anything that could escape the blob directory is
// rejected.
func (f *FS) blobPath(ref string) (string, error) {
	if ref == "" {
		return "", fmt.Errorf("storage: empty blob reference")
	}
	if strings.ContainsAny(ref, `/\`) || ref == "." || ref == ".." {
		return "", fmt.Errorf("storage: invalid blob reference: %s", ref)
	}
	return filepath.Join(f.root, ref+blobExt), nil
}

// Write atomically stores blob under ref: tmp file → fsync → rename.
func (f *FS) Write(ref string, blob []byte) error {
	abs, err := f.blobPath(ref)
	if err != nil {
		return err
	}

	tmp, err := os.CreateTemp(f.root, ".codex-tmp-*")
	if err != nil {
		return fmt.Errorf("storage: create temp: %w", err)
	}
	tmpName := tmp.Name()

	// Clean up on any failure path.
	success := false
	defer func() {
		if !success {
			_ = tmp.Close()
			_ = os.Remove(tmpName)
		}
	}()

	if _, err := tmp.Write(blob); err != nil {
		return fmt.Errorf("storage: write temp: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		return fmt.Errorf("storage: fsync: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("storage: close temp: %w", err)
	}
	if err := os.Rename(tmpName, abs); err != nil {
		return fmt.Errorf("storage: rename: %w", err)
	}
	success = true
	return nil
}

// Read returns the raw bytes of the blob named ref.
func (f *FS) Read(ref string) ([]byte, error) {
	abs, err := f.blobPath(ref)
	if err != nil {
		return nil, err
	}
	blob, err := os.ReadFile(abs)
	if err != nil {
		return nil, fmt.Errorf("storage: read %s: %w", ref, err)
	}
	return blob, nil
}

// Remove scrubs and unlinks the blob named ref. The contents are first
// overwritten with random bytes and synced; this is best effort only, since
// wear-leveled media may keep the old blocks regardless.
func (f *FS) Remove(ref string) error {
	abs, err := f.blobPath(ref)
	if err != nil {
		return err
	}
	if err := scrub(abs); err != nil {
		return fmt.Errorf("storage: scrub %s: %w", ref, err)
	}
	if err := os.Remove(abs); err != nil {
		return fmt.Errorf("storage: delete %s: %w", ref, err)
	}
	return nil
}

// List returns every stored blob reference.
func (f *FS) List() ([]string, error) {
	entries, err := os.ReadDir(f.root)
	if err != nil {
		return nil, fmt.Errorf("storage: list: %w", err)
	}
	var out []string
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), blobExt) {
			continue
		}
		out = append(out, strings.TrimSuffix(e.Name(), blobExt))
	}
	return out, nil
}

// scrub overwrites the file at abs in place with random bytes and syncs it.
func scrub(abs string) error {
	info, err := os.Stat(abs)
	if err != nil {
		return err
	}
	fh, err := os.OpenFile(abs, os.O_WRONLY, 0)
	if err != nil {
		return err
	}
	defer fh.Close()
	if _, err := io.CopyN(fh, rand.Reader, info.Size()); err != nil {
		return err
	}
	return fh.Sync()
}
