// Package models defines the domain types for Codex.
package models

import (
	"strings"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
)

// SchemaVersion tags the serialized metadata record layout. Records carrying
// an unknown version are rejected rather than guessed at.
const SchemaVersion = 1

// ItemMetadata is the plaintext-derived metadata of one stored item. It is
// persisted only in encrypted form; the identifier is immutable once assigned.
type ItemMetadata struct {
	SchemaVersion int       `json:"schema_version"`
	ID            string    `json:"id"`
	Title         string    `json:"title"`
	Author        string    `json:"author"`
	Tags          []string  `json:"tags"`
	AddedAt       time.Time `json:"added_at"`
	Checksum      string    `json:"checksum"`
	BlobRef       string    `json:"blob_ref"`
}

// Validate checks a fully populated record before it is persisted.
func (m ItemMetadata) Validate() error {
	return validation.ValidateStruct(&m,
		validation.Field(&m.SchemaVersion, validation.Required, validation.In(SchemaVersion)),
		validation.Field(&m.ID, validation.Required),
		validation.Field(&m.Title, validation.Required, validation.Length(1, 512)),
		validation.Field(&m.Checksum, validation.Required),
		validation.Field(&m.BlobRef, validation.Required),
	)
}

// Filter selects items by case-insensitive substring match on title and
// author and by exact tag membership. Zero-value fields match everything.
type Filter struct {
	Title  string
	Author string
	Tag    string
}

// Matches reports whether m satisfies every set field of f.
func (f Filter) Matches(m ItemMetadata) bool {
	if f.Title != "" && !strings.Contains(strings.ToLower(m.Title), strings.ToLower(f.Title)) {
		return false
	}
	if f.Author != "" && !strings.Contains(strings.ToLower(m.Author), strings.ToLower(f.Author)) {
		return false
	}
	if f.Tag != "" {
		found := false
		for _, tag := range m.Tags {
			if strings.EqualFold(tag, f.Tag) {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}
