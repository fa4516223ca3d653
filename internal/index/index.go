package index

import "github.com/arenfeld/codex/internal/models"

// ItemIndex defines the interface for encrypted metadata index operations.
// Consumers should depend on this interface rather than the concrete *DB type
// to facilitate testing with mocks.
type ItemIndex interface {
	Put(m models.ItemMetadata) error
	Replace(m models.ItemMetadata) error
	Get(id string) (*models.ItemMetadata, error)
	Search(f models.Filter) ([]models.ItemMetadata, error)
	Delete(id string) error
	AllBlobRefs() (map[string]struct{}, error)
	ExportRaw() ([]byte, error)
	ImportRaw(data []byte) error
	Close() error
}

// Verify *DB satisfies ItemIndex at compile time.
var _ ItemIndex = (*DB)(nil)
