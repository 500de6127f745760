package routes

import (
	"net/http"
)

// FailureQueryHandler handles queries for processing failures
func (s *Server) FailureQueryHandler(w http.ResponseWriter, r *http.Request) {
	if !requireMethod(w, r, http.MethodGet) {
		return
	}
	id, ok := requireID(w, r)
	if !ok {
		return
	}
	if s.deps.Failures == nil {
		http.Error(w, "Failure store unavailable", http.StatusServiceUnavailable)
		return
	}

	record, err := s.deps.Failures.GetFailure(id)
	if err != nil {
		s.log.Errorf("Failed to query failure for job %s: %v", id, err)
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	if record == nil {
		s.writeJSON(w, http.StatusOK, map[string]any{
			"id":      id,
			"status":  "not_found",
			"message": "No failure recorded for this job",
		})
		return
	}

	s.writeJSON(w, http.StatusOK, map[string]any{
		"id":        record.JobID,
		"status":    "failed",
		"kind":      record.Kind,
		"filename":  record.Filename,
		"timestamp": record.Timestamp,
		"error":     record.Error,
		"job_data":  record.JobData,
	})
}

// FailureListHandler handles listing all failures (admin endpoint)
func (s *Server) FailureListHandler(w http.ResponseWriter, r *http.Request) {
	if !requireMethod(w, r, http.MethodGet) {
		return
	}
	if s.deps.Failures == nil {
		http.Error(w, "Failure store unavailable", http.StatusServiceUnavailable)
		return
	}

	failuresList, err := s.deps.Failures.ListFailures()
	if err != nil {
		s.log.Errorf("Failed to list failures: %v", err)
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	s.writeJSON(w, http.StatusOK, map[string]any{
		"failures": failuresList,
		"count":    len(failuresList),
	})
}
