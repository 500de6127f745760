package routes

import (
	"fmt"
	"net/http"
	"runtime"
	"time"

	"mediaconv/scheduler"
)

// HealthResponse represents the health check response
type HealthResponse struct {
	Status    string            `json:"status"`
	Timestamp time.Time         `json:"timestamp"`
	Version   string            `json:"version"`
	GoVersion string            `json:"go_version"`
	Uptime    string            `json:"uptime"`
	StartTime string            `json:"start_time"`
	Jobs      scheduler.Stats   `json:"jobs"`
	Checks    map[string]string `json:"checks"`
}

// formatUptime formats a duration into days, hours, minutes, seconds
func formatUptime(d time.Duration) string {
	days := int(d.Hours() / 24)
	hours := int(d.Hours()) % 24
	minutes := int(d.Minutes()) % 60
	seconds := int(d.Seconds()) % 60
	return fmt.Sprintf("%dd %dh %dm %ds", days, hours, minutes, seconds)
}

// HealthHandler reports liveness, job counts and store health. Any failing
// store check turns the answer into 503 "degraded".
func (s *Server) HealthHandler(w http.ResponseWriter, r *http.Request) {
	s.log.Debugf("Health check request: method=%s, remoteAddr=%s", r.Method, r.RemoteAddr)
	if !requireMethod(w, r, http.MethodGet) {
		return
	}

	checks := map[string]string{}
	healthy := true
	check := func(name string, enabled bool, fn func() error) {
		if !enabled {
			return
		}
		if err := fn(); err != nil {
			checks[name] = err.Error()
			healthy = false
			return
		}
		checks[name] = "ok"
	}
	check("success_store", s.deps.Successes != nil, func() error { return s.deps.Successes.CheckHealth() })
	check("failure_store", s.deps.Failures != nil, func() error { return s.deps.Failures.CheckHealth() })

	response := HealthResponse{
		Status:    "healthy",
		Timestamp: time.Now(),
		Version:   version,
		GoVersion: runtime.Version(),
		Uptime:    formatUptime(time.Since(s.startTime)),
		StartTime: s.startTime.Format("2006-01-02 15:04:05 MST"),
		Jobs:      s.deps.Scheduler.Stats(),
		Checks:    checks,
	}
	status := http.StatusOK
	if !healthy {
		response.Status = "degraded"
		status = http.StatusServiceUnavailable
	}

	s.log.Debugf("Health check response: status=%s, version=%s", response.Status, response.Version)
	s.writeJSON(w, status, response)
}
