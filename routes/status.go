package routes

import (
	"mime"
	"net/http"
	"time"

	"mediaconv/artifacts"
	"mediaconv/errors"
	"mediaconv/models"
	"mediaconv/scheduler"
)

// JobStatusResponse represents the job status response
type JobStatusResponse struct {
	ID        string        `json:"id"`
	Kind      models.Kind   `json:"kind,omitempty"`
	Filename  string        `json:"filename,omitempty"`
	Status    models.Status `json:"status"`
	Error     string        `json:"error,omitempty"`
	UpdatedAt time.Time     `json:"updated_at,omitzero"`
}

// ResultResponse carries a completed output as a data URL.
type ResultResponse struct {
	ID        string `json:"id"`
	Filename  string `json:"filename"`
	MediaType string `json:"media_type"`
	Data      string `json:"data"`
}

// JobStatusHandler returns the status of a job. Jobs no longer held in
// memory are answered from the success and failure records.
func (s *Server) JobStatusHandler(w http.ResponseWriter, r *http.Request) {
	s.log.Debugf("Job status request: method=%s, remoteAddr=%s", r.Method, r.RemoteAddr)
	if !requireMethod(w, r, http.MethodGet) {
		return
	}
	id, ok := requireID(w, r)
	if !ok {
		return
	}

	if job, ok := s.deps.Scheduler.Job(id); ok {
		s.writeJSON(w, http.StatusOK, JobStatusResponse{
			ID:        job.ID,
			Kind:      job.Kind,
			Filename:  job.Filename,
			Status:    job.Status,
			Error:     job.Error,
			UpdatedAt: job.UpdatedAt,
		})
		return
	}

	if rec, err := s.deps.Successes.GetSuccess(id); err == nil && rec != nil {
		s.writeJSON(w, http.StatusOK, JobStatusResponse{
			ID: id, Kind: rec.Kind, Filename: rec.Filename,
			Status: models.StatusCompleted, UpdatedAt: rec.Timestamp,
		})
		return
	}
	if rec, err := s.deps.Failures.GetFailure(id); err == nil && rec != nil {
		s.writeJSON(w, http.StatusOK, JobStatusResponse{
			ID: id, Kind: rec.Kind, Filename: rec.Filename,
			Status: models.StatusError, Error: rec.Error, UpdatedAt: rec.Timestamp,
		})
		return
	}

	s.log.Debugf("Job not found: %s", id)
	http.Error(w, "Job "+id+" not found", http.StatusNotFound)
}

// SubmitHandler moves an Idle job to Pending.
func (s *Server) SubmitHandler(w http.ResponseWriter, r *http.Request) {
	if !requireMethod(w, r, http.MethodPost) {
		return
	}
	id, ok := requireID(w, r)
	if !ok {
		return
	}

	if err := s.deps.Scheduler.Submit(id); err != nil {
		switch {
		case errors.Is(err, scheduler.ErrJobNotFound):
			http.Error(w, err.Error(), http.StatusNotFound)
		case errors.Is(err, scheduler.ErrNotIdle):
			http.Error(w, err.Error(), http.StatusConflict)
		default:
			http.Error(w, err.Error(), http.StatusInternalServerError)
		}
		return
	}
	s.writeJSON(w, http.StatusAccepted, JobStatusResponse{ID: id, Status: models.StatusPending})
}

// ResultHandler returns a completed output. With raw=1 the bytes are
// written directly with the output media type.
func (s *Server) ResultHandler(w http.ResponseWriter, r *http.Request) {
	if !requireMethod(w, r, http.MethodGet) {
		return
	}
	id, ok := requireID(w, r)
	if !ok {
		return
	}

	var result *models.Result
	if job, ok := s.deps.Scheduler.Job(id); ok {
		if job.Status != models.StatusCompleted || job.Result == nil {
			http.Error(w, "Job "+id+" is "+string(job.Status), http.StatusConflict)
			return
		}
		result = job.Result
	} else if s.deps.Artifacts != nil {
		stored, err := s.deps.Artifacts.Get(id)
		switch {
		case err == nil:
			result = stored
		case errors.Is(err, artifacts.ErrNotFound):
		default:
			s.log.Errorf("Failed to read artifact %s: %v", id, err)
			http.Error(w, "Internal server error", http.StatusInternalServerError)
			return
		}
	}
	if result == nil {
		http.Error(w, "Result for "+id+" not found", http.StatusNotFound)
		return
	}

	if r.URL.Query().Get("raw") == "1" {
		w.Header().Set("Content-Type", result.MediaType)
		w.Header().Set("Content-Disposition", mime.FormatMediaType("attachment", map[string]string{"filename": result.Filename}))
		w.WriteHeader(http.StatusOK)
		if _, err := w.Write(result.Data); err != nil {
			s.log.Warnf("Failed to write result %s: %v", id, err)
		}
		return
	}
	s.writeJSON(w, http.StatusOK, ResultResponse{
		ID:        id,
		Filename:  result.Filename,
		MediaType: result.MediaType,
		Data:      result.DataURL(),
	})
}
