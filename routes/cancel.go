package routes

import (
	"net/http"

	"mediaconv/errors"
	"mediaconv/scheduler"
)

// CancelJobHandler removes an Idle or Pending job. A job already being
// processed cannot be cancelled.
func (s *Server) CancelJobHandler(w http.ResponseWriter, r *http.Request) {
	s.log.Debugf("Cancel job request: method=%s, remoteAddr=%s", r.Method, r.RemoteAddr)
	if !requireMethod(w, r, http.MethodDelete) {
		return
	}
	id, ok := requireID(w, r)
	if !ok {
		return
	}

	s.log.Infof("Attempting to cancel job: %s", id)
	if err := s.deps.Scheduler.Remove(id); err != nil {
		s.log.Warnf("Failed to cancel job %s: %v", id, err)
		switch {
		case errors.Is(err, scheduler.ErrJobNotFound):
			http.Error(w, "Job not found", http.StatusNotFound)
		case errors.Is(err, scheduler.ErrJobBusy):
			http.Error(w, "Job is processing and cannot be cancelled", http.StatusConflict)
		default:
			http.Error(w, err.Error(), http.StatusInternalServerError)
		}
		return
	}

	s.log.Infof("Job cancelled successfully: %s", id)
	w.WriteHeader(http.StatusNoContent)
}
