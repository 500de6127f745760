package failures

import (
	"encoding/json"
	"fmt"
	"time"

	pebble "github.com/cockroachdb/pebble"

	"mediaconv/models"
)

// FailureRecord represents a processing failure
type FailureRecord struct {
	JobID     string      `json:"job_id"`
	Kind      models.Kind `json:"kind"`
	Filename  string      `json:"filename"`
	Timestamp time.Time   `json:"timestamp"`
	Error     string      `json:"error"`
	JobData   string      `json:"job_data"` // JSON string of the job settings
}

// Store persists failure records keyed by job id.
type Store struct {
	db  *pebble.DB
	now func() time.Time
}

// Open initializes the failure store
func Open(dbPath string) (*Store, error) {
	db, err := pebble.Open(dbPath, &pebble.Options{})
	if err != nil {
		return nil, fmt.Errorf("failed to open failure store: %w", err)
	}
	return &Store{db: db, now: time.Now}, nil
}

// Close closes the failure store
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// StoreFailure stores a processing failure
func (s *Store) StoreFailure(job models.Job, errMsg string) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("failure store not initialized")
	}

	// Convert job settings to JSON
	jobJSON, jsonErr := json.Marshal(job.Settings)
	if jsonErr != nil {
		jobJSON = []byte(fmt.Sprintf("failed to marshal job data: %v", jsonErr))
	}

	record := FailureRecord{
		JobID:     job.ID,
		Kind:      job.Kind,
		Filename:  job.Filename,
		Timestamp: s.now(),
		Error:     errMsg,
		JobData:   string(jobJSON),
	}

	data, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("failed to marshal failure record: %w", err)
	}
	return s.db.Set([]byte(job.ID), data, pebble.Sync)
}

// GetFailure retrieves a failure record by job id. A missing record is
// (nil, nil).
func (s *Store) GetFailure(jobID string) (*FailureRecord, error) {
	if s == nil || s.db == nil {
		return nil, fmt.Errorf("failure store not initialized")
	}

	data, closer, err := s.db.Get([]byte(jobID))
	if err != nil {
		if err == pebble.ErrNotFound {
			return nil, nil // No failure found
		}
		return nil, fmt.Errorf("failed to get failure: %w", err)
	}
	defer closer.Close()

	var record FailureRecord
	if err := json.Unmarshal(data, &record); err != nil {
		return nil, fmt.Errorf("failed to unmarshal failure record: %w", err)
	}
	return &record, nil
}

// DeleteFailure removes a failure record
func (s *Store) DeleteFailure(jobID string) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("failure store not initialized")
	}
	return s.db.Delete([]byte(jobID), pebble.Sync)
}

// ListFailures returns all failure records (for admin purposes)
func (s *Store) ListFailures() ([]FailureRecord, error) {
	if s == nil || s.db == nil {
		return nil, fmt.Errorf("failure store not initialized")
	}

	var failures []FailureRecord
	iter, err := s.db.NewIter(&pebble.IterOptions{})
	if err != nil {
		return nil, fmt.Errorf("failed to create iterator: %w", err)
	}
	defer iter.Close()

	for iter.First(); iter.Valid(); iter.Next() {
		var record FailureRecord
		if err := json.Unmarshal(iter.Value(), &record); err != nil {
			continue // Skip invalid records
		}
		failures = append(failures, record)
	}

	if err := iter.Error(); err != nil {
		return nil, fmt.Errorf("iteration error: %w", err)
	}
	return failures, nil
}

// CleanupOldRecords removes failure records older than maxAge and returns
// how many were deleted.
func (s *Store) CleanupOldRecords(maxAge time.Duration) (int, error) {
	if s == nil || s.db == nil {
		return 0, fmt.Errorf("failure store not initialized")
	}

	cutoff := s.now().Add(-maxAge)
	iter, err := s.db.NewIter(&pebble.IterOptions{})
	if err != nil {
		return 0, err
	}

	var keysToDelete [][]byte
	for iter.First(); iter.Valid(); iter.Next() {
		var record FailureRecord
		if err := json.Unmarshal(iter.Value(), &record); err != nil {
			continue
		}
		if record.Timestamp.Before(cutoff) {
			key := make([]byte, len(iter.Key()))
			copy(key, iter.Key())
			keysToDelete = append(keysToDelete, key)
		}
	}
	if err := iter.Close(); err != nil {
		return 0, err
	}

	for _, key := range keysToDelete {
		if err := s.db.Delete(key, pebble.Sync); err != nil {
			return 0, fmt.Errorf("failed to delete old failure record: %w", err)
		}
	}
	return len(keysToDelete), nil
}

// CheckHealth performs a basic health check on the failure database
func (s *Store) CheckHealth() error {
	if s == nil || s.db == nil {
		return fmt.Errorf("failure database not initialized")
	}

	_, closer, err := s.db.Get([]byte("__health_check__"))
	if err != nil && err != pebble.ErrNotFound {
		return fmt.Errorf("database health check failed: %w", err)
	}
	if closer != nil {
		closer.Close()
	}
	return nil
}
