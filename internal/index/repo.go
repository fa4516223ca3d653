package index

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sort"

	"github.com/mattn/go-sqlite3"

	"github.com/arenfeld/codex/internal/apperr"
	"github.com/arenfeld/codex/internal/models"
)

// sealRecord serializes and encrypts one metadata record. The record gets its
// own fresh nonce, never shared with the payload blob's.
func (db *DB) sealRecord(m models.ItemMetadata) ([]byte, error) {
	plain, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("index: marshal record: %w", err)
	}
	return db.codec.Seal(plain)
}

// openRecord decrypts and deserializes one stored record.
func (db *DB) openRecord(record []byte) (*models.ItemMetadata, error) {
	plain, err := db.codec.Open(record)
	if err != nil {
		return nil, fmt.Errorf("index: %w", err)
	}
	var m models.ItemMetadata
	if err := json.Unmarshal(plain, &m); err != nil {
		return nil, fmt.Errorf("index: unmarshal record: %w", apperr.ErrFormat)
	}
	if m.SchemaVersion != models.SchemaVersion {
		return nil, fmt.Errorf("index: record schema version %d, want %d: %w",
			m.SchemaVersion, models.SchemaVersion, apperr.ErrFormat)
	}
	return &m, nil
}

// Put inserts a new record and rejects an existing identifier. This is the
// add path; silently overwriting would lose the original item's blob ref.
func (db *DB) Put(m models.ItemMetadata) error {
	record, err := db.sealRecord(m)
	if err != nil {
		return err
	}
	_, err = db.conn.Exec(`INSERT INTO items (id, record) VALUES (?, ?)`, m.ID, record)
	if err != nil {
		var sqlErr sqlite3.Error
		if errors.As(err, &sqlErr) && sqlErr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey {
			return fmt.Errorf("index: put %s: %w", m.ID, apperr.ErrDuplicateID)
		}
		return fmt.Errorf("index: put %s: %w", m.ID, err)
	}
	return nil
}

// Replace atomically overwrites the record for an existing identifier. This
// is the update path; the identifier must already be stored.
func (db *DB) Replace(m models.ItemMetadata) error {
	record, err := db.sealRecord(m)
	if err != nil {
		return err
	}
	res, err := db.conn.Exec(`UPDATE items SET record = ? WHERE id = ?`, record, m.ID)
	if err != nil {
		return fmt.Errorf("index: replace %s: %w", m.ID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("index: replace %s: %w", m.ID, err)
	}
	if n == 0 {
		return fmt.Errorf("index: replace %s: %w", m.ID, apperr.ErrNotFound)
	}
	return nil
}

// Get reads, decrypts, and deserializes the record for id.
func (db *DB) Get(id string) (*models.ItemMetadata, error) {
	var record []byte
	err := db.conn.QueryRow(`SELECT record FROM items WHERE id = ?`, id).Scan(&record)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("index: get %s: %w", id, apperr.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("index: get %s: %w", id, err)
	}
	return db.openRecord(record)
}

// Search decrypts every stored record and filters in memory; the index cannot
// evaluate predicates over ciphertext. O(n) over stored items, acceptable at
// single-user scale. The result is fully materialized, ordered by AddedAt
// then identifier.
func (db *DB) Search(f models.Filter) ([]models.ItemMetadata, error) {
	rows, err := db.conn.Query(`SELECT record FROM items`)
	if err != nil {
		return nil, fmt.Errorf("index: search: %w", err)
	}
	defer rows.Close()

	out := []models.ItemMetadata{}
	for rows.Next() {
		var record []byte
		if err := rows.Scan(&record); err != nil {
			return nil, fmt.Errorf("index: search: %w", err)
		}
		m, err := db.openRecord(record)
		if err != nil {
			return nil, err
		}
		if f.Matches(*m) {
			out = append(out, *m)
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("index: search: %w", err)
	}

	sort.Slice(out, func(i, j int) bool {
		if !out[i].AddedAt.Equal(out[j].AddedAt) {
			return out[i].AddedAt.Before(out[j].AddedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

// Delete removes the record for id. Erasing the referenced blob is the
// caller's job; the index does not own blob storage.
func (db *DB) Delete(id string) error {
	res, err := db.conn.Exec(`DELETE FROM items WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("index: delete %s: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("index: delete %s: %w", id, err)
	}
	if n == 0 {
		return fmt.Errorf("index: delete %s: %w", id, apperr.ErrNotFound)
	}
	return nil
}

// AllBlobRefs returns the blob reference of every indexed item, used by the
// orphan sweep on open.
func (db *DB) AllBlobRefs() (map[string]struct{}, error) {
	rows, err := db.conn.Query(`SELECT record FROM items`)
	if err != nil {
		return nil, fmt.Errorf("index: all blob refs: %w", err)
	}
	defer rows.Close()

	out := make(map[string]struct{})
	for rows.Next() {
		var record []byte
		if err := rows.Scan(&record); err != nil {
			return nil, fmt.Errorf("index: all blob refs: %w", err)
		}
		m, err := db.openRecord(record)
		if err != nil {
			return nil, err
		}
		out[m.BlobRef] = struct{}{}
	}
	return out, rows.Err()
}
