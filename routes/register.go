package routes

import (
	"encoding/json"
	"net/http"

	"mediaconv/utils"
)

// CredentialsHandler registers backend credentials (POST, JSON object body)
// and returns the generated access key. DELETE ?key= removes them.
func (s *Server) CredentialsHandler(w http.ResponseWriter, r *http.Request) {
	if !requireMethod(w, r, http.MethodPost, http.MethodDelete) {
		return
	}
	if s.deps.Credentials == nil {
		http.Error(w, "Credentials store unavailable", http.StatusServiceUnavailable)
		return
	}

	if r.Method == http.MethodDelete {
		key := r.URL.Query().Get("key")
		if key == "" {
			http.Error(w, "Missing key parameter", http.StatusBadRequest)
			return
		}
		if err := s.deps.Credentials.DeleteCredentials(key); err != nil {
			s.log.Errorf("Failed to delete credentials: %v", err)
			http.Error(w, "Failed to delete credentials", http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusNoContent)
		return
	}

	credsBody := make(map[string]string)
	if err := json.NewDecoder(r.Body).Decode(&credsBody); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	if len(credsBody) == 0 {
		http.Error(w, "Credentials cannot be empty", http.StatusBadRequest)
		return
	}

	keyString, err := utils.GenerateRandomHex(16)
	if err != nil {
		http.Error(w, "Failed to generate key", http.StatusInternalServerError)
		return
	}

	if err := s.deps.Credentials.StoreCredentials(keyString, credsBody); err != nil {
		s.log.Errorf("Failed to store credentials: %v", err)
		http.Error(w, "Failed to store credentials", http.StatusInternalServerError)
		return
	}

	s.writeJSON(w, http.StatusOK, map[string]string{"access_key": keyString})
}
