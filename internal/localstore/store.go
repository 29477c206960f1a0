// Package localstore implements the local fallback store for workspace state.
//
// The store keeps one serialized blob per workspace kind in a small SQLite
// database. It is a best-effort fallback, not a primary store: the engine
// writes here when a backend write fails, or uses it directly when no
// project context exists. A corrupted entry is treated as absent and removed
// rather than surfaced as the user's actual state.
package localstore

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

const schemaSQL = `
CREATE TABLE IF NOT EXISTS workspace_state (
	kind       TEXT PRIMARY KEY,
	state      TEXT NOT NULL,
	updated_at TIMESTAMP NOT NULL
);
`

// Store persists one raw state blob per workspace kind.
type Store interface {
	// Get returns the stored blob for the kind. The second result is false
	// when no usable entry exists; corrupted entries are cleared and
	// reported as absent, never returned.
	Get(kind string) (json.RawMessage, bool, error)

	// Put stores the blob for the kind, replacing any previous entry.
	Put(kind string, state json.RawMessage) error

	// Remove deletes the entry for the kind. Removing a missing entry is
	// not an error.
	Remove(kind string) error

	// Close releases the underlying database.
	Close() error
}

// SQLiteStore implements Store on a local SQLite database.
type SQLiteStore struct {
	db *sql.DB
}

// Open opens (creating if necessary) the local store at the given path.
// Failure to open or initialize wraps ErrUnavailable.
func Open(path string) (*SQLiteStore, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	if _, err := db.Exec(schemaSQL); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	return &SQLiteStore{db: db}, nil
}

// Get returns the stored blob for the kind. An entry that no longer parses
// as JSON is deleted and reported as absent.
func (s *SQLiteStore) Get(kind string) (json.RawMessage, bool, error) {
	var state string
	err := s.db.QueryRow(`SELECT state FROM workspace_state WHERE kind = ?`, kind).Scan(&state)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	if !json.Valid([]byte(state)) {
		// Corrupted entry: clear it rather than surface it as state.
		if err := s.Remove(kind); err != nil {
			return nil, false, err
		}
		return nil, false, nil
	}

	return json.RawMessage(state), true, nil
}

// Put stores the blob for the kind, replacing any previous entry.
func (s *SQLiteStore) Put(kind string, state json.RawMessage) error {
	_, err := s.db.Exec(
		`INSERT INTO workspace_state (kind, state, updated_at) VALUES (?, ?, ?)
		 ON CONFLICT(kind) DO UPDATE SET state = excluded.state, updated_at = excluded.updated_at`,
		kind, string(state), time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return nil
}

// Remove deletes the entry for the kind.
func (s *SQLiteStore) Remove(kind string) error {
	if _, err := s.db.Exec(`DELETE FROM workspace_state WHERE kind = ?`, kind); err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return nil
}

// Close releases the underlying database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
