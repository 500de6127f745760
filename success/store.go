package success

import (
	"encoding/json"
	"fmt"
	"time"

	pebble "github.com/cockroachdb/pebble"

	"mediaconv/models"
)

// SuccessRecord represents a successful job completion
type SuccessRecord struct {
	JobID        string      `json:"job_id"`
	Kind         models.Kind `json:"kind"`
	Filename     string      `json:"filename"`
	Output       string      `json:"output"`
	MediaType    string      `json:"media_type"`
	Bytes        int         `json:"bytes"`
	Timestamp    time.Time   `json:"timestamp"`
	JobData      string      `json:"job_data"`     // JSON string of the job settings
	Destinations []string    `json:"destinations"` // backends the output was written to
}

// Store persists success records keyed by job id.
type Store struct {
	db  *pebble.DB
	now func() time.Time
}

// Open initializes the success store
func Open(dbPath string) (*Store, error) {
	db, err := pebble.Open(dbPath, &pebble.Options{})
	if err != nil {
		return nil, fmt.Errorf("failed to open success store: %w", err)
	}
	return &Store{db: db, now: time.Now}, nil
}

// Close closes the success store
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// StoreSuccess stores a successful job completion
func (s *Store) StoreSuccess(job models.Job, result *models.Result, destinations []string) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("success store not initialized")
	}
	if result == nil {
		return fmt.Errorf("job %s has no result", job.ID)
	}

	jobJSON, jsonErr := json.Marshal(job.Settings)
	if jsonErr != nil {
		jobJSON = []byte(fmt.Sprintf("failed to marshal job data: %v", jsonErr))
	}

	record := SuccessRecord{
		JobID:        job.ID,
		Kind:         job.Kind,
		Filename:     job.Filename,
		Output:       result.Filename,
		MediaType:    result.MediaType,
		Bytes:        len(result.Data),
		Timestamp:    s.now(),
		JobData:      string(jobJSON),
		Destinations: destinations,
	}

	data, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("failed to marshal success record: %w", err)
	}
	return s.db.Set([]byte(job.ID), data, pebble.Sync)
}

// GetSuccess retrieves a success record by job id
func (s *Store) GetSuccess(jobID string) (*SuccessRecord, error) {
	if s == nil || s.db == nil {
		return nil, fmt.Errorf("success store not initialized")
	}

	data, closer, err := s.db.Get([]byte(jobID))
	if err != nil {
		if err == pebble.ErrNotFound {
			return nil, nil // Not found is not an error
		}
		return nil, err
	}
	defer closer.Close()

	var record SuccessRecord
	if err := json.Unmarshal(data, &record); err != nil {
		return nil, fmt.Errorf("failed to unmarshal success record: %w", err)
	}
	return &record, nil
}

// DeleteSuccess removes a success record
func (s *Store) DeleteSuccess(jobID string) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("success store not initialized")
	}
	return s.db.Delete([]byte(jobID), pebble.Sync)
}

// ListSuccessRecords returns all success records (for admin/debugging)
func (s *Store) ListSuccessRecords() ([]SuccessRecord, error) {
	if s == nil || s.db == nil {
		return nil, fmt.Errorf("success store not initialized")
	}

	var records []SuccessRecord
	iter, err := s.db.NewIter(&pebble.IterOptions{})
	if err != nil {
		return nil, err
	}
	defer iter.Close()

	for iter.First(); iter.Valid(); iter.Next() {
		var record SuccessRecord
		if err := json.Unmarshal(iter.Value(), &record); err != nil {
			continue // Skip invalid records
		}
		records = append(records, record)
	}
	return records, iter.Error()
}

// CleanupOldRecords removes success records older than the specified
// duration and returns how many were deleted.
func (s *Store) CleanupOldRecords(maxAge time.Duration) (int, error) {
	if s == nil || s.db == nil {
		return 0, fmt.Errorf("success store not initialized")
	}

	cutoff := s.now().Add(-maxAge)
	iter, err := s.db.NewIter(&pebble.IterOptions{})
	if err != nil {
		return 0, err
	}

	var keysToDelete [][]byte
	for iter.First(); iter.Valid(); iter.Next() {
		var record SuccessRecord
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

	// Delete old records
	for _, key := range keysToDelete {
		if err := s.db.Delete(key, pebble.Sync); err != nil {
			return 0, fmt.Errorf("failed to delete old success record: %w", err)
		}
	}
	return len(keysToDelete), nil
}

// CheckHealth performs a basic health check on the success database
func (s *Store) CheckHealth() error {
	if s == nil || s.db == nil {
		return fmt.Errorf("success database not initialized")
	}

	// Try a simple operation to verify database is accessible
	_, closer, err := s.db.Get([]byte("__health_check__"))
	if err != nil && err != pebble.ErrNotFound {
		return fmt.Errorf("database health check failed: %w", err)
	}
	if closer != nil {
		closer.Close()
	}
	return nil
}
