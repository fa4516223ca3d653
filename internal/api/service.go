package api

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/arenfeld/codex/internal/library"
	"github.com/arenfeld/codex/internal/models"
	"github.com/arenfeld/codex/internal/sse"
)

// Service adapts an open library store for the API layer and publishes
// mutation events. It holds no storage or crypto logic of its own: every
// method goes through the store's public operation surface.
type Service struct {
	store  *library.Store
	broker *sse.Broker
}

// NewService creates a new API service. broker may be nil when event
// publishing is not wanted (tests, MCP mode).
func NewService(store *library.Store, broker *sse.Broker) *Service {
	return &Service{store: store, broker: broker}
}

// Search returns all items matching the filter.
func (s *Service) Search(f models.Filter) ([]models.ItemMetadata, error) {
	return s.store.Search(f)
}

// Add stores a payload with its metadata and announces the new item.
func (s *Service) Add(payload []byte, meta models.ItemMetadata) (*models.ItemMetadata, error) {
	added, err := s.store.Add(payload, meta)
	if err != nil {
		return nil, err
	}
	s.publish("added", added.ID)
	return added, nil
}

// Fetch retrieves an item's metadata and plaintext payload. The store only
// writes plaintext to a caller-chosen location, so the payload goes through
// a private scratch file that is removed as soon as it has been read.
func (s *Service) Fetch(id string) (*models.ItemMetadata, []byte, error) {
	scratch, err := os.MkdirTemp("", "codex-fetch-*")
	if err != nil {
		return nil, nil, fmt.Errorf("api: scratch dir: %w", err)
	}
	defer os.RemoveAll(scratch)

	out := filepath.Join(scratch, "payload")
	meta, err := s.store.Get(id, out)
	if err != nil {
		return nil, nil, err
	}
	payload, err := os.ReadFile(out)
	if err != nil {
		return nil, nil, fmt.Errorf("api: read scratch payload: %w", err)
	}
	return meta, payload, nil
}

// Update changes an item's metadata fields and announces the change.
func (s *Service) Update(id, title, author string, tags []string) (*models.ItemMetadata, error) {
	updated, err := s.store.Update(id, title, author, tags)
	if err != nil {
		return nil, err
	}
	s.publish("updated", id)
	return updated, nil
}

// Delete removes an item and announces the removal.
func (s *Service) Delete(id string) error {
	if err := s.store.Delete(id); err != nil {
		return err
	}
	s.publish("deleted", id)
	return nil
}

// Export streams the store bundle to w.
func (s *Service) Export(w io.Writer) error {
	return s.store.Export(w)
}

func (s *Service) publish(kind, id string) {
	if s.broker != nil {
		s.broker.PublishItemEvent(kind, id)
	}
}
