// Package artifacts keeps completed conversion outputs on disk so results
// can be fetched after the in-memory job is gone.
package artifacts

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/cockroachdb/pebble"

	"mediaconv/models"
)

// ErrNotFound is returned when no artifact exists for a job id.
var ErrNotFound = pebble.ErrNotFound

const (
	metaPrefix = "meta/"
	dataPrefix = "data/"
)

// Artifact describes one stored output.
type Artifact struct {
	JobID     string    `json:"job_id"`
	Filename  string    `json:"filename"`
	MediaType string    `json:"media_type"`
	Size      int       `json:"size"`
	CreatedAt time.Time `json:"created_at"`
}

// Store is a small wrapper around a Pebble DB instance. Metadata and
// payload live under separate keys so listing never reads payloads.
type Store struct {
	DB       *pebble.DB
	DataFile string
	now      func() time.Time
}

// Open opens (or creates) a pebble DB at the given dataFile path.
func Open(dataFile string) (*Store, error) {
	db, err := pebble.Open(dataFile, &pebble.Options{})
	if err != nil {
		return nil, err
	}
	return &Store{DB: db, DataFile: dataFile, now: time.Now}, nil
}

// Put stores result under jobID, replacing any previous artifact.
func (s *Store) Put(jobID string, result *models.Result) error {
	if result == nil {
		return fmt.Errorf("artifact %s: nil result", jobID)
	}
	meta, err := json.Marshal(Artifact{
		JobID:     jobID,
		Filename:  result.Filename,
		MediaType: result.MediaType,
		Size:      len(result.Data),
		CreatedAt: s.now(),
	})
	if err != nil {
		return err
	}

	b := s.DB.NewBatch()
	defer b.Close()
	if err := b.Set([]byte(metaPrefix+jobID), meta, nil); err != nil {
		return err
	}
	if err := b.Set([]byte(dataPrefix+jobID), result.Data, nil); err != nil {
		return err
	}
	return b.Commit(pebble.Sync)
}

// Get returns the stored result for jobID. The returned bytes are a copy.
func (s *Store) Get(jobID string) (*models.Result, error) {
	meta, err := s.Meta(jobID)
	if err != nil {
		return nil, err
	}
	value, closer, err := s.DB.Get([]byte(dataPrefix + jobID))
	if err != nil {
		return nil, err
	}
	defer closer.Close()

	data := make([]byte, len(value))
	copy(data, value)
	return &models.Result{Data: data, MediaType: meta.MediaType, Filename: meta.Filename}, nil
}

// Meta returns only the metadata for jobID.
func (s *Store) Meta(jobID string) (*Artifact, error) {
	value, closer, err := s.DB.Get([]byte(metaPrefix + jobID))
	if err != nil {
		return nil, err
	}
	defer closer.Close()

	var a Artifact
	if err := json.Unmarshal(value, &a); err != nil {
		return nil, fmt.Errorf("failed to unmarshal artifact %s: %w", jobID, err)
	}
	return &a, nil
}

// Delete removes the artifact for jobID.
func (s *Store) Delete(jobID string) error {
	b := s.DB.NewBatch()
	defer b.Close()
	if err := b.Delete([]byte(metaPrefix+jobID), nil); err != nil {
		return err
	}
	if err := b.Delete([]byte(dataPrefix+jobID), nil); err != nil {
		return err
	}
	return b.Commit(pebble.Sync)
}

// List returns metadata for every stored artifact.
func (s *Store) List() ([]Artifact, error) {
	iter, err := s.DB.NewIter(&pebble.IterOptions{
		LowerBound: []byte(metaPrefix),
		UpperBound: []byte(metaPrefix[:len(metaPrefix)-1] + "0"), // '0' follows '/'
	})
	if err != nil {
		return nil, err
	}
	defer iter.Close()

	var out []Artifact
	for iter.First(); iter.Valid(); iter.Next() {
		var a Artifact
		if err := json.Unmarshal(iter.Value(), &a); err != nil {
			continue
		}
		out = append(out, a)
	}
	return out, iter.Error()
}

// CleanupOlderThan deletes artifacts created before now-maxAge.
func (s *Store) CleanupOlderThan(maxAge time.Duration) (int, error) {
	list, err := s.List()
	if err != nil {
		return 0, err
	}
	cutoff := s.now().Add(-maxAge)
	removed := 0
	for _, a := range list {
		if a.CreatedAt.Before(cutoff) {
			if err := s.Delete(a.JobID); err != nil {
				return removed, err
			}
			removed++
		}
	}
	return removed, nil
}

// Close closes the underlying DB.
func (s *Store) Close() error {
	return s.DB.Close()
}
