package routes

import (
	"net/http"
	"strconv"

	"mediaconv/delivery"
)

// EventsResponse is one page of the event log.
type EventsResponse struct {
	Events  []delivery.Event `json:"events"`
	LastSeq int64            `json:"last_seq"`
}

// EventsHandler returns events newer than ?since= (default 0).
func (s *Server) EventsHandler(w http.ResponseWriter, r *http.Request) {
	if !requireMethod(w, r, http.MethodGet) {
		return
	}
	var since int64
	if v := r.URL.Query().Get("since"); v != "" {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil || n < 0 {
			http.Error(w, "since must be a non-negative integer", http.StatusBadRequest)
			return
		}
		since = n
	}
	s.writeJSON(w, http.StatusOK, EventsResponse{
		Events:  s.deps.Events.Since(since),
		LastSeq: s.deps.Events.LastSeq(),
	})
}
