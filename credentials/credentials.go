package credentials

import (
	"encoding/json"
	"fmt"

	"github.com/cockroachdb/pebble"

	"mediaconv/logger"
)

// ErrNotFound is returned when no credentials exist for a key.
var ErrNotFound = pebble.ErrNotFound

// Store maps random keys to storage backend credentials.
type Store struct {
	db *pebble.DB
}

// Open opens the Pebble DB for credentials at the specified path
func Open(dbPath string) (*Store, error) {
	db, err := pebble.Open(dbPath, &pebble.Options{})
	if err != nil {
		logger.Errorf("Failed to open Pebble DB: %v", err)
		return nil, err
	}
	return &Store{db: db}, nil
}

// Close closes the DB
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// GetCredentials returns the credentials stored under key, or ErrNotFound.
func (s *Store) GetCredentials(key string) (map[string]string, error) {
	if s == nil || s.db == nil {
		return nil, fmt.Errorf("credentials store not initialized")
	}
	value, closer, err := s.db.Get([]byte(key))
	if err != nil {
		return nil, err
	}
	defer closer.Close()
	creds := make(map[string]string)
	if err := json.Unmarshal(value, &creds); err != nil {
		return nil, err
	}
	return creds, nil
}

// StoreCredentials stores the credentials map under the given key
func (s *Store) StoreCredentials(key string, creds map[string]string) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("credentials store not initialized")
	}
	if key == "" {
		return fmt.Errorf("credentials key is required")
	}
	encodedCreds, err := json.Marshal(creds)
	if err != nil {
		return err
	}
	return s.db.Set([]byte(key), encodedCreds, pebble.Sync)
}

// DeleteCredentials deletes the credentials for the given key
func (s *Store) DeleteCredentials(key string) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("credentials store not initialized")
	}
	return s.db.Delete([]byte(key), pebble.Sync)
}
