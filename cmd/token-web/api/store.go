package api

import (
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// ErrSessionNotFound is returned when a session id has no stored record.
var ErrSessionNotFound = errors.New("session not found")

// Store provides SQLite persistence for suspended login sessions. The
// session payload is an opaque serialized blob; the store only knows its
// id, state label, and timestamps.
type Store struct {
	db *sql.DB
	mu sync.RWMutex
}

// NewStore creates a new store with the given database path.
// Use ":memory:" for an in-memory database.
func NewStore(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	_, err = db.Exec(`
		PRAGMA foreign_keys = ON;
		PRAGMA journal_mode = WAL;
	`)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to configure database: %w", err)
	}

	s := &Store{db: db}

	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return s, nil
}

// migrate creates the database schema.
func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS sessions (
		id TEXT PRIMARY KEY,
		state TEXT NOT NULL,
		payload BLOB NOT NULL,
		created_at DATETIME NOT NULL,
		updated_at DATETIME NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_sessions_updated_at ON sessions(updated_at);
	`

	_, err := s.db.Exec(schema)
	return err
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// StoredSession is one persisted session row.
type StoredSession struct {
	ID        string
	State     string
	Payload   []byte
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Put inserts or replaces a session.
func (s *Store) Put(id, state string, payload []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now().UTC()
	_, err := s.db.Exec(`
		INSERT INTO sessions (id, state, payload, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			state = excluded.state,
			payload = excluded.payload,
			updated_at = excluded.updated_at
	`, id, state, payload, now, now)

	return err
}

// Get retrieves a session by id.
func (s *Store) Get(id string) (*StoredSession, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var sess StoredSession
	err := s.db.QueryRow(`
		SELECT id, state, payload, created_at, updated_at
		FROM sessions WHERE id = ?
	`, id).Scan(&sess.ID, &sess.State, &sess.Payload, &sess.CreatedAt, &sess.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrSessionNotFound
	}
	if err != nil {
		return nil, err
	}
	return &sess, nil
}

// Delete removes a session. Deleting a missing session is not an error.
func (s *Store) Delete(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.Exec(`DELETE FROM sessions WHERE id = ?`, id)
	return err
}

// Count returns the number of stored sessions.
func (s *Store) Count() (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var n int
	err := s.db.QueryRow(`SELECT COUNT(*) FROM sessions`).Scan(&n)
	return n, err
}

// PruneOlderThan deletes sessions not updated since the cutoff and returns
// how many were removed.
func (s *Store) PruneOlderThan(cutoff time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.Exec(`DELETE FROM sessions WHERE updated_at < ?`, cutoff.UTC())
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	return int(n), err
}
