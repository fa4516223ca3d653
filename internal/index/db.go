// Package index provides the SQLite-backed encrypted metadata index. Every
// row holds one independently encrypted record; identifiers are the only
// plaintext the database ever sees.
package index

import (
	"database/sql"
	"fmt"

	_ "github.com/mattn/go-sqlite3"

	"github.com/arenfeld/codex/internal/crypt"
)

const schemaSQL = `
CREATE TABLE IF NOT EXISTS items (
	id     TEXT PRIMARY KEY,
	record BLOB NOT NULL
);
`

// DB wraps a sql.DB plus the codec that seals and opens index records.
type DB struct {
	conn  *sql.DB
	codec *crypt.Codec
	path  string
}

// Open opens (or creates) the SQLite database at path and applies the schema.
// codec protects every record at rest; the database itself is treated as an
// untrusted container.
func Open(path string, codec *crypt.Codec) (*DB, error) {
	conn, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("index: open db: %w", err)
	}
	if err := conn.Ping(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("index: ping: %w", err)
	}
	if _, err := conn.Exec(schemaSQL); err != nil {
		conn.Close()
		return nil, fmt.Errorf("index: apply schema: %w", err)
	}
	return &DB{conn: conn, codec: codec, path: path}, nil
}

// Close closes the underlying database connection.
func (db *DB) Close() error {
	return db.conn.Close()
}
