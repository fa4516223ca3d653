package library

import (
	"archive/tar"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/arenfeld/codex/internal/apperr"
	"github.com/arenfeld/codex/internal/index"
	"github.com/arenfeld/codex/internal/storage"
)

// swapRetries bounds how often a failed rename during the import swap is
// retried. Only the rename is retried, never key derivation or encryption.
const swapRetries = 3

// Export writes the whole store to w as a tar bundle: header, index image,
// and every blob, all in their at-rest encrypted form. No decryption happens,
// so an export never needs the passphrase beyond the already-open session.
func (s *Store) Export(w io.Writer) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.guard(); err != nil {
		return err
	}

	tw := tar.NewWriter(w)

	headerBytes, err := os.ReadFile(filepath.Join(s.dir, headerFile))
	if err != nil {
		return fmt.Errorf("library: export header: %w", err)
	}
	if err := writeTarEntry(tw, headerFile, headerBytes); err != nil {
		return err
	}

	image, err := s.idx.ExportRaw()
	if err != nil {
		return err
	}
	if err := writeTarEntry(tw, indexFile, image); err != nil {
		return err
	}

	refs, err := s.blobs.List()
	if err != nil {
		return err
	}
	for _, ref := range refs {
		blob, err := s.blobs.Read(ref)
		if err != nil {
			return err
		}
		if err := writeTarEntry(tw, blobsDir+"/"+ref+".enc", blob); err != nil {
			return err
		}
	}

	if err := tw.Close(); err != nil {
		return fmt.Errorf("library: finish bundle: %w", err)
	}
	return nil
}

// Import replaces the whole store with the bundle read from r. The bundle is
// staged and validated in full first, then swapped in with renames; a failure
// at any point before the swap leaves the store exactly as it was.
//
// The bundle must verify against the open session's key: its canary is
// checked before anything is replaced, so a bundle from a different store or
// passphrase is rejected with ErrAuthentication.
func (s *Store) Import(r io.Reader) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.guard(); err != nil {
		return err
	}

	staging, err := os.MkdirTemp(filepath.Dir(s.dir), ".codex-stage-*")
	if err != nil {
		return fmt.Errorf("library: create staging dir: %w", err)
	}
	swapped := false
	defer func() {
		if !swapped {
			_ = os.RemoveAll(staging)
		}
	}()

	if err := extractBundle(r, staging); err != nil {
		return err
	}
	if err := s.validateStaged(staging); err != nil {
		return err
	}
	if err := s.swapIn(staging); err != nil {
		return err
	}
	swapped = true

	return s.reopen()
}

// validateStaged checks the structural and key integrity of a staged bundle.
func (s *Store) validateStaged(staging string) error {
	header, err := readHeader(staging)
	if err != nil {
		if errors.Is(err, apperr.ErrNotFound) {
			return fmt.Errorf("library: bundle has no header: %w", apperr.ErrFormat)
		}
		return err
	}
	if _, err := s.codec.Open(header.Canary); err != nil {
		return fmt.Errorf("library: bundle canary does not verify under this key: %w",
			apperr.ErrAuthentication)
	}

	image, err := os.ReadFile(filepath.Join(staging, indexFile))
	if os.IsNotExist(err) {
		return fmt.Errorf("library: bundle has no index: %w", apperr.ErrFormat)
	}
	if err != nil {
		return fmt.Errorf("library: read staged index: %w", err)
	}
	if err := index.ValidateRaw(image); err != nil {
		return err
	}

	// A payload-less store is legal; just make sure the directory exists.
	if err := os.MkdirAll(filepath.Join(staging, blobsDir), 0o700); err != nil {
		return fmt.Errorf("library: staged blobs dir: %w", err)
	}
	return nil
}

// swapIn atomically replaces the store directory with the staged one.
func (s *Store) swapIn(staging string) error {
	if err := s.idx.Close(); err != nil {
		return fmt.Errorf("library: close index before swap: %w", err)
	}

	old := s.dir + ".old"
	_ = os.RemoveAll(old) // leftovers from an interrupted earlier swap

	if err := renameWithRetry(s.dir, old); err != nil {
		// Store dir untouched; bring the index back.
		if reopenErr := s.reopen(); reopenErr != nil {
			return errors.Join(err, reopenErr)
		}
		return err
	}
	if err := renameWithRetry(staging, s.dir); err != nil {
		// Roll the original back into place.
		if restoreErr := renameWithRetry(old, s.dir); restoreErr != nil {
			return errors.Join(err, restoreErr)
		}
		if reopenErr := s.reopen(); reopenErr != nil {
			return errors.Join(err, reopenErr)
		}
		return err
	}
	_ = os.RemoveAll(old)
	return nil
}

// reopen rebuilds the index and blob handles against s.dir and re-runs the
// orphan sweep. Used after an import swap and on swap rollback.
func (s *Store) reopen() error {
	header, err := readHeader(s.dir)
	if err != nil {
		return err
	}
	blobs, err := storage.NewFS(filepath.Join(s.dir, blobsDir))
	if err != nil {
		return err
	}
	idx, err := index.Open(filepath.Join(s.dir, indexFile), s.codec)
	if err != nil {
		return err
	}
	s.header = header
	s.blobs = blobs
	s.idx = idx

	if err := s.sweepOrphans(); err != nil {
		s.logger.Warn("orphan sweep failed", slog.String("error", err.Error()))
	}
	return nil
}

// extractBundle unpacks a tar bundle into dir, accepting only the store's
// known layout. Anything else is a malformed bundle.
func extractBundle(r io.Reader, dir string) error {
	tr := tar.NewReader(r)
	for {
		hdr, err := tr.Next()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("library: read bundle: %w", apperr.ErrFormat)
		}
		if hdr.Typeflag != tar.TypeReg {
			return fmt.Errorf("library: bundle entry %s is not a regular file: %w",
				hdr.Name, apperr.ErrFormat)
		}
		if !validBundlePath(hdr.Name) {
			return fmt.Errorf("library: unexpected bundle entry %s: %w", hdr.Name, apperr.ErrFormat)
		}

		dst := filepath.Join(dir, filepath.FromSlash(hdr.Name))
		if err := os.MkdirAll(filepath.Dir(dst), 0o700); err != nil {
			return fmt.Errorf("library: extract bundle: %w", err)
		}
		f, err := os.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o600)
		if err != nil {
			return fmt.Errorf("library: extract bundle: %w", err)
		}
		if _, err := io.Copy(f, tr); err != nil {
			f.Close()
			return fmt.Errorf("library: extract bundle entry %s: %w", hdr.Name, err)
		}
		if err := f.Close(); err != nil {
			return fmt.Errorf("library: extract bundle entry %s: %w", hdr.Name, err)
		}
	}
}

// validBundlePath accepts exactly the paths Export produces.
func validBundlePath(name string) bool {
	if name == headerFile || name == indexFile {
		return true
	}
	rest, ok := strings.CutPrefix(name, blobsDir+"/")
	if !ok || rest == "" {
		return false
	}
	return !strings.ContainsAny(rest, `/\`) && strings.HasSuffix(rest, ".enc")
}

func writeTarEntry(tw *tar.Writer, name string, data []byte) error {
	hdr := &tar.Header{
		Name:    name,
		Mode:    0o600,
		Size:    int64(len(data)),
		ModTime: time.Now(),
	}
	if err := tw.WriteHeader(hdr); err != nil {
		return fmt.Errorf("library: bundle entry %s: %w", name, err)
	}
	if _, err := tw.Write(data); err != nil {
		return fmt.Errorf("library: bundle entry %s: %w", name, err)
	}
	return nil
}

// renameWithRetry retries a rename a bounded number of times. Transient I/O
// failures on the swap step are the one place retrying can help.
func renameWithRetry(oldPath, newPath string) error {
	var err error
	for attempt := 0; attempt < swapRetries; attempt++ {
		if err = os.Rename(oldPath, newPath); err == nil {
			return nil
		}
		time.Sleep(time.Duration(attempt+1) * 50 * time.Millisecond)
	}
	return fmt.Errorf("library: rename %s: %w", newPath, err)
}
