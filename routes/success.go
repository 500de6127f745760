package routes

import (
	"net/http"
)

// SuccessQueryHandler handles queries for successful processing
func (s *Server) SuccessQueryHandler(w http.ResponseWriter, r *http.Request) {
	if !requireMethod(w, r, http.MethodGet) {
		return
	}
	id, ok := requireID(w, r)
	if !ok {
		return
	}
	if s.deps.Successes == nil {
		http.Error(w, "Success store unavailable", http.StatusServiceUnavailable)
		return
	}

	record, err := s.deps.Successes.GetSuccess(id)
	if err != nil {
		s.log.Errorf("Failed to query success for job %s: %v", id, err)
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	if record == nil {
		s.writeJSON(w, http.StatusOK, map[string]any{
			"id":      id,
			"status":  "not_found",
			"message": "No success record found for this job",
		})
		return
	}

	s.writeJSON(w, http.StatusOK, map[string]any{
		"id":           record.JobID,
		"status":       "success",
		"kind":         record.Kind,
		"filename":     record.Filename,
		"output":       record.Output,
		"media_type":   record.MediaType,
		"bytes":        record.Bytes,
		"timestamp":    record.Timestamp,
		"destinations": record.Destinations,
		"job_data":     record.JobData,
	})
}

// SuccessListHandler handles listing all success records (admin endpoint)
func (s *Server) SuccessListHandler(w http.ResponseWriter, r *http.Request) {
	if !requireMethod(w, r, http.MethodGet) {
		return
	}
	if s.deps.Successes == nil {
		http.Error(w, "Success store unavailable", http.StatusServiceUnavailable)
		return
	}

	records, err := s.deps.Successes.ListSuccessRecords()
	if err != nil {
		s.log.Errorf("Failed to list success records: %v", err)
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	s.writeJSON(w, http.StatusOK, map[string]any{
		"success_records": records,
		"count":           len(records),
	})
}
