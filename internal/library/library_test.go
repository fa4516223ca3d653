package library

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/arenfeld/codex/internal/apperr"
	"github.com/arenfeld/codex/internal/kdf"
	"github.com/arenfeld/codex/internal/models"
)

var (
	testPass    = []byte("pw123")
	testPayload = []byte("these are the raw bytes of a book file")
)

func testMeta() models.ItemMetadata {
	return models.ItemMetadata{
		Title:  "Deep Learning",
		Author: "Ian Goodfellow",
		Tags:   []string{"AI"},
	}
}

func createStore(t *testing.T) *Store {
	t.Helper()
	s, err := Create(filepath.Join(t.TempDir(), "lib"), testPass, kdf.MinIterations)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestScenario(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "lib")
	s, err := Create(dir, testPass, 200_000)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	defer s.Close()

	added, err := s.Add(testPayload, testMeta())
	if err != nil {
		t.Fatalf("Add: %v", err)
	}
	if added.ID == "" || added.BlobRef == "" {
		t.Fatalf("Add returned incomplete metadata: %+v", added)
	}

	hits, err := s.Search(models.Filter{Title: "deep"})
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(hits) != 1 || hits[0].Title != "Deep Learning" {
		t.Fatalf("search hits = %+v, want exactly the added item", hits)
	}

	out := filepath.Join(t.TempDir(), "out")
	got, err := s.Get(added.ID, out)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Author != "Ian Goodfellow" {
		t.Errorf("Author = %q", got.Author)
	}
	data, err := os.ReadFile(out)
	if err != nil {
		t.Fatalf("read output: %v", err)
	}
	if !bytes.Equal(data, testPayload) {
		t.Error("retrieved bytes differ from stored payload")
	}

	if err := s.Delete(added.ID); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, err := s.Get(added.ID, out); !errors.Is(err, apperr.ErrNotFound) {
		t.Errorf("Get after delete: err = %v, want ErrNotFound", err)
	}
}

func TestRoundTripMetadata(t *testing.T) {
	s := createStore(t)
	meta := testMeta()
	added, err := s.Add(testPayload, meta)
	if err != nil {
		t.Fatalf("Add: %v", err)
	}

	got, err := s.Get(added.ID, filepath.Join(t.TempDir(), "out"))
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Title != meta.Title || got.Author != meta.Author {
		t.Errorf("metadata mismatch: %+v", got)
	}
	if len(got.Tags) != 1 || got.Tags[0] != "AI" {
		t.Errorf("Tags = %v", got.Tags)
	}
	if got.Checksum == "" || got.AddedAt.IsZero() {
		t.Errorf("derived fields not populated: %+v", got)
	}
}

func TestReopenWithSamePassphrase(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "lib")
	s, err := Create(dir, testPass, kdf.MinIterations)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	added, err := s.Add(testPayload, testMeta())
	if err != nil {
		t.Fatalf("Add: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	s2, err := Open(dir, testPass)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer s2.Close()

	out := filepath.Join(t.TempDir(), "out")
	if _, err := s2.Get(added.ID, out); err != nil {
		t.Fatalf("Get after reopen: %v", err)
	}
	data, _ := os.ReadFile(out)
	if !bytes.Equal(data, testPayload) {
		t.Error("payload differs after reopen")
	}
}

func TestOpenWrongPassphrase(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "lib")
	s, _ := Create(dir, testPass, kdf.MinIterations)
	_ = s.Close()

	if _, err := Open(dir, []byte("wrong")); !errors.Is(err, apperr.ErrAuthentication) {
		t.Errorf("err = %v, want ErrAuthentication", err)
	}
}

func TestOpenNotAStore(t *testing.T) {
	if _, err := Open(t.TempDir(), testPass); !errors.Is(err, apperr.ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}

func TestCreateRejectsExistingStore(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "lib")
	s, _ := Create(dir, testPass, kdf.MinIterations)
	_ = s.Close()

	if _, err := Create(dir, testPass, kdf.MinIterations); !errors.Is(err, apperr.ErrAlreadyExists) {
		t.Errorf("err = %v, want ErrAlreadyExists", err)
	}
}

func TestCreateRejectsWeakKDF(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "lib")
	if _, err := Create(dir, testPass, 1000); !errors.Is(err, apperr.ErrConfiguration) {
		t.Errorf("err = %v, want ErrConfiguration", err)
	}
}

func TestGetDetectsTamperedBlob(t *testing.T) {
	s := createStore(t)
	added, err := s.Add(testPayload, testMeta())
	if err != nil {
		t.Fatalf("Add: %v", err)
	}

	blobPath := filepath.Join(s.dir, blobsDir, added.BlobRef+".enc")
	blob, err := os.ReadFile(blobPath)
	if err != nil {
		t.Fatalf("read blob: %v", err)
	}
	blob[len(blob)/2] ^= 0x01
	if err := os.WriteFile(blobPath, blob, 0o600); err != nil {
		t.Fatal(err)
	}

	_, err = s.Get(added.ID, filepath.Join(t.TempDir(), "out"))
	if !errors.Is(err, apperr.ErrAuthentication) {
		t.Errorf("err = %v, want ErrAuthentication", err)
	}
}

func TestAddDuplicateIDRollsBackBlob(t *testing.T) {
	s := createStore(t)
	meta := testMeta()
	meta.ID = "fixed-id"
	if _, err := s.Add(testPayload, meta); err != nil {
		t.Fatalf("Add: %v", err)
	}

	dup := testMeta()
	dup.ID = "fixed-id"
	if _, err := s.Add([]byte("other payload"), dup); !errors.Is(err, apperr.ErrDuplicateID) {
		t.Fatalf("err = %v, want ErrDuplicateID", err)
	}

	// Exactly one blob remains: the rolled-back one is gone.
	refs, err := s.blobs.List()
	if err != nil {
		t.Fatal(err)
	}
	if len(refs) != 1 {
		t.Errorf("blob count = %d after rollback, want 1", len(refs))
	}
}

func TestOrphanBlobSweptOnOpen(t *testing.T) {
	// Simulates a crash after the blob write but before the index commit:
	// the blob exists, the index never heard of it.
	dir := filepath.Join(t.TempDir(), "lib")
	s, _ := Create(dir, testPass, kdf.MinIterations)
	added, err := s.Add(testPayload, testMeta())
	if err != nil {
		t.Fatalf("Add: %v", err)
	}
	orphan := filepath.Join(dir, blobsDir, "deadbeef.enc")
	if err := os.WriteFile(orphan, []byte("interrupted add residue"), 0o600); err != nil {
		t.Fatal(err)
	}
	_ = s.Close()

	s2, err := Open(dir, testPass)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer s2.Close()

	if _, err := os.Stat(orphan); !errors.Is(err, os.ErrNotExist) {
		t.Error("orphan blob survived the sweep")
	}
	// The store is consistent and a fresh add succeeds.
	if _, err := s2.Get(added.ID, filepath.Join(t.TempDir(), "out")); err != nil {
		t.Errorf("Get after recovery: %v", err)
	}
	if _, err := s2.Add([]byte("new payload"), testMeta()); err != nil {
		t.Errorf("Add after recovery: %v", err)
	}
}

func TestUpdate(t *testing.T) {
	s := createStore(t)
	added, _ := s.Add(testPayload, testMeta())

	got, err := s.Update(added.ID, "Deep Learning, 2nd Edition", "", []string{"AI", "ML"})
	if err != nil {
		t.Fatalf("Update: %v", err)
	}
	if got.Title != "Deep Learning, 2nd Edition" || got.Author != "Ian Goodfellow" {
		t.Errorf("updated metadata = %+v", got)
	}
	if got.Checksum != added.Checksum || got.BlobRef != added.BlobRef {
		t.Error("update must not touch checksum or blob reference")
	}

	if _, err := s.Update("missing", "X", "", nil); !errors.Is(err, apperr.ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}

func TestCloseIdempotent(t *testing.T) {
	s := createStore(t)
	if err := s.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}
}

func TestOperationsAfterClose(t *testing.T) {
	s := createStore(t)
	added, _ := s.Add(testPayload, testMeta())
	_ = s.Close()

	if _, err := s.Add(testPayload, testMeta()); !errors.Is(err, apperr.ErrClosed) {
		t.Errorf("Add: err = %v, want ErrClosed", err)
	}
	if _, err := s.Search(models.Filter{}); !errors.Is(err, apperr.ErrClosed) {
		t.Errorf("Search: err = %v, want ErrClosed", err)
	}
	if _, err := s.Get(added.ID, "out"); !errors.Is(err, apperr.ErrClosed) {
		t.Errorf("Get: err = %v, want ErrClosed", err)
	}
	if err := s.Delete(added.ID); !errors.Is(err, apperr.ErrClosed) {
		t.Errorf("Delete: err = %v, want ErrClosed", err)
	}
	if err := s.Export(new(bytes.Buffer)); !errors.Is(err, apperr.ErrClosed) {
		t.Errorf("Export: err = %v, want ErrClosed", err)
	}
}

func TestExportImportRoundTrip(t *testing.T) {
	s := createStore(t)
	added, _ := s.Add(testPayload, testMeta())

	var bundle bytes.Buffer
	if err := s.Export(&bundle); err != nil {
		t.Fatalf("Export: %v", err)
	}

	// Mutate the store, then restore the snapshot.
	if err := s.Delete(added.ID); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if err := s.Import(bytes.NewReader(bundle.Bytes())); err != nil {
		t.Fatalf("Import: %v", err)
	}

	out := filepath.Join(t.TempDir(), "out")
	if _, err := s.Get(added.ID, out); err != nil {
		t.Fatalf("Get after import: %v", err)
	}
	data, _ := os.ReadFile(out)
	if !bytes.Equal(data, testPayload) {
		t.Error("payload differs after import")
	}
}

func TestImportRejectsMalformedBundle(t *testing.T) {
	s := createStore(t)
	added, _ := s.Add(testPayload, testMeta())

	if err := s.Import(bytes.NewReader([]byte("not a tar bundle"))); !errors.Is(err, apperr.ErrFormat) {
		t.Fatalf("err = %v, want ErrFormat", err)
	}

	// The failed import left the store in its prior state.
	if _, err := s.Get(added.ID, filepath.Join(t.TempDir(), "out")); err != nil {
		t.Errorf("Get after rejected import: %v", err)
	}
}

func TestImportRejectsForeignBundle(t *testing.T) {
	// A bundle exported from a store with a different salt cannot verify
	// under this session's key.
	other, err := Create(filepath.Join(t.TempDir(), "other"), testPass, kdf.MinIterations)
	if err != nil {
		t.Fatal(err)
	}
	defer other.Close()
	_, _ = other.Add(testPayload, testMeta())
	var bundle bytes.Buffer
	if err := other.Export(&bundle); err != nil {
		t.Fatal(err)
	}

	s := createStore(t)
	added, _ := s.Add([]byte("mine"), testMeta())
	if err := s.Import(bytes.NewReader(bundle.Bytes())); !errors.Is(err, apperr.ErrAuthentication) {
		t.Fatalf("err = %v, want ErrAuthentication", err)
	}
	if _, err := s.Get(added.ID, filepath.Join(t.TempDir(), "out")); err != nil {
		t.Errorf("Get after rejected import: %v", err)
	}
}

func TestHeaderSurvivesTamperDetection(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "lib")
	s, _ := Create(dir, testPass, kdf.MinIterations)
	_ = s.Close()

	path := filepath.Join(dir, headerFile)
	data, _ := os.ReadFile(path)
	if err := os.WriteFile(path, data[:len(data)/2], 0o600); err != nil {
		t.Fatal(err)
	}
	if _, err := Open(dir, testPass); !errors.Is(err, apperr.ErrFormat) {
		t.Errorf("err = %v, want ErrFormat", err)
	}
}
