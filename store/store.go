// Package store persists the last published entity states in SQLite. After a
// restart the bridge then knows which retained states are already on the
// broker, and bare ON commands can restore the last known brightness.
package store

import (
	"database/sql"
	"fmt"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// EntityState is the last state published for one entity.
type EntityState struct {
	UniqueID  string
	Endpoint  string
	On        bool
	Dimmer    int
	UpdatedAt time.Time
}

// Store wraps the SQLite connection. Safe for concurrent use.
type Store struct {
	db *sql.DB
	mu sync.RWMutex
}

// Open opens the database at path and initializes the schema.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := initSchema(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return &Store{db: db}, nil
}

func initSchema(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS entity_state (
			unique_id TEXT PRIMARY KEY,
			endpoint TEXT NOT NULL,
			is_on INTEGER NOT NULL,
			dimmer INTEGER NOT NULL,
			updated_at INTEGER NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_entity_state_endpoint ON entity_state(endpoint);
	`)
	if err != nil {
		return fmt.Errorf("failed to create entity_state table: %w", err)
	}
	return nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// Get retrieves the stored state for an entity, nil when none is stored.
func (s *Store) Get(uniqueID string) (*EntityState, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var state EntityState
	var on int64
	var updatedAt int64

	err := s.db.QueryRow(`
		SELECT unique_id, endpoint, is_on, dimmer, updated_at
		FROM entity_state
		WHERE unique_id = ?
	`, uniqueID).Scan(&state.UniqueID, &state.Endpoint, &on, &state.Dimmer, &updatedAt)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	state.On = on == 1
	state.UpdatedAt = time.Unix(updatedAt, 0).UTC()
	return &state, nil
}

// Put stores the state for an entity, replacing any previous state.
func (s *Store) Put(state EntityState) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var on int64
	if state.On {
		on = 1
	}

	_, err := s.db.Exec(`
		INSERT INTO entity_state (unique_id, endpoint, is_on, dimmer, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(unique_id) DO UPDATE SET
			endpoint = excluded.endpoint,
			is_on = excluded.is_on,
			dimmer = excluded.dimmer,
			updated_at = excluded.updated_at
	`, state.UniqueID, state.Endpoint, on, state.Dimmer, time.Now().UTC().Unix())

	return err
}

// LastDimmer returns the last stored dimmer level for an entity, 0 when
// nothing usable is stored.
func (s *Store) LastDimmer(uniqueID string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var dimmer int
	err := s.db.QueryRow(`
		SELECT dimmer FROM entity_state WHERE unique_id = ?
	`, uniqueID).Scan(&dimmer)
	if err != nil {
		return 0
	}
	return dimmer
}

// All returns the stored states of all entities.
func (s *Store) All() ([]*EntityState, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.Query(`
		SELECT unique_id, endpoint, is_on, dimmer, updated_at
		FROM entity_state
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var states []*EntityState
	for rows.Next() {
		var state EntityState
		var on int64
		var updatedAt int64

		if err := rows.Scan(&state.UniqueID, &state.Endpoint, &on, &state.Dimmer, &updatedAt); err != nil {
			return nil, err
		}
		state.On = on == 1
		state.UpdatedAt = time.Unix(updatedAt, 0).UTC()
		states = append(states, &state)
	}
	return states, rows.Err()
}

// Clear removes all stored states.
func (s *Store) Clear() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.Exec(`DELETE FROM entity_state`)
	return err
}
