// Package routes is the HTTP surface of the conversion service.
package routes

import (
	"encoding/json"
	"net/http"
	"time"

	"go.uber.org/zap"

	"mediaconv/artifacts"
	"mediaconv/credentials"
	"mediaconv/delivery"
	"mediaconv/failures"
	"mediaconv/logger"
	"mediaconv/scheduler"
	"mediaconv/success"
	"mediaconv/utils"
)

// Deps wires the handlers. Stores may be nil; the matching endpoints then
// answer 503.
type Deps struct {
	Scheduler   *scheduler.Scheduler
	Events      *delivery.EventBus
	Artifacts   *artifacts.Store
	Successes   *success.Store
	Failures    *failures.Store
	Credentials *credentials.Store

	// Auth enables bearer JWT verification on /upload when non-nil.
	Auth *utils.VerifyConfig
}

// Server holds the handler dependencies.
type Server struct {
	deps      Deps
	log       *zap.SugaredLogger
	startTime time.Time
}

func New(deps Deps) *Server {
	if deps.Events == nil {
		deps.Events = delivery.NewEventBus(0)
	}
	return &Server{deps: deps, log: logger.Named("http"), startTime: time.Now()}
}

// Routes registers every endpoint on a new mux.
func (s *Server) Routes() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/upload", s.UploadHandler)
	mux.HandleFunc("/submit", s.SubmitHandler)
	mux.HandleFunc("/status", s.JobStatusHandler)
	mux.HandleFunc("/result", s.ResultHandler)
	mux.HandleFunc("/cancel", s.CancelJobHandler)
	mux.HandleFunc("/events", s.EventsHandler)
	mux.HandleFunc("/failures", s.FailureQueryHandler)
	mux.HandleFunc("/failures/list", s.FailureListHandler)
	mux.HandleFunc("/success", s.SuccessQueryHandler)
	mux.HandleFunc("/success/list", s.SuccessListHandler)
	mux.HandleFunc("/credentials", s.CredentialsHandler)
	mux.HandleFunc("/health", s.HealthHandler)
	mux.HandleFunc("/version", VersionHandler)
	return mux
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.log.Errorf("Failed to encode response: %v", err)
	}
}

// requireMethod answers 405 unless r uses one of methods.
func requireMethod(w http.ResponseWriter, r *http.Request, methods ...string) bool {
	for _, m := range methods {
		if r.Method == m {
			return true
		}
	}
	http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
	return false
}

func requireID(w http.ResponseWriter, r *http.Request) (string, bool) {
	id := r.URL.Query().Get("id")
	if id == "" {
		http.Error(w, "Missing id parameter", http.StatusBadRequest)
		return "", false
	}
	return id, true
}
