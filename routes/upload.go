package routes

import (
	"fmt"
	"io"
	"net"
	"net/http"
	"strconv"
	"strings"

	"mediaconv/encoder"
	"mediaconv/errors"
	"mediaconv/models"
	"mediaconv/utils"
)

const multipartMemory = 32 << 20

// UploadResponse is returned for an accepted upload.
type UploadResponse struct {
	ID               string        `json:"id"`
	Status           models.Status `json:"status"`
	ExpectedFilename string        `json:"expected_filename"`
}

// bearerClaims verifies the Authorization header. It returns nil claims when
// auth is disabled.
func (s *Server) bearerClaims(r *http.Request) (*models.MediaconvJWT, error) {
	if s.deps.Auth == nil {
		return nil, nil
	}
	authHeader := r.Header.Get("Authorization")
	if authHeader == "" {
		return nil, fmt.Errorf("authorization header required")
	}
	token := strings.TrimPrefix(authHeader, "Bearer ")
	if token == authHeader {
		return nil, fmt.Errorf("invalid authorization header format")
	}
	return utils.VerifyJWT(token, *s.deps.Auth)
}

// clientToken is the rate-limit identity of an unauthenticated request.
func clientToken(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// UploadHandler accepts a multipart upload and creates a job. The job is
// submitted immediately unless submit=false.
func (s *Server) UploadHandler(w http.ResponseWriter, r *http.Request) {
	s.log.Debugf("Upload request: method=%s, remoteAddr=%s", r.Method, r.RemoteAddr)
	if !requireMethod(w, r, http.MethodPost) {
		return
	}

	claims, err := s.bearerClaims(r)
	if err != nil {
		http.Error(w, fmt.Sprintf("Invalid token: %v", err), http.StatusUnauthorized)
		return
	}

	cfg := s.deps.Scheduler.Config()
	limit := max(cfg.MaxImageBytes, cfg.MaxVideoBytes)
	r.Body = http.MaxBytesReader(w, r.Body, limit+multipartMemory)
	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			http.Error(w, "File too large", http.StatusRequestEntityTooLarge)
			return
		}
		http.Error(w, "Failed to parse multipart form", http.StatusBadRequest)
		return
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		http.Error(w, "Failed to get file from form", http.StatusBadRequest)
		return
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		http.Error(w, "Failed to read file data", http.StatusInternalServerError)
		return
	}

	mediaType := models.DetectMediaType(header.Header.Get("Content-Type"), header.Filename, data)
	kind, err := models.KindFromMediaType(mediaType)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	kindLimit := cfg.MaxImageBytes
	if kind == models.KindVideo {
		kindLimit = cfg.MaxVideoBytes
	}
	if int64(len(data)) > kindLimit {
		http.Error(w, fmt.Sprintf("File size exceeds %dMB limit", kindLimit/(1024*1024)), http.StatusRequestEntityTooLarge)
		return
	}

	settings, err := settingsFromForm(r, kind)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	token := clientToken(r)
	if claims != nil {
		token = claims.Subject
		settings.Delivery = mergeDelivery(settings.Delivery, claims.Job.Delivery())
	}

	id, err := s.deps.Scheduler.AddJob(data, mediaType, header.Filename, token, settings)
	if err != nil {
		status := http.StatusInternalServerError
		if errors.IsValidation(err) {
			status = http.StatusBadRequest
		}
		http.Error(w, err.Error(), status)
		return
	}

	if r.FormValue("submit") != "false" {
		if err := s.deps.Scheduler.Submit(id); err != nil {
			s.log.Errorf("Failed to submit job %s: %v", id, err)
			http.Error(w, "Failed to submit job", http.StatusInternalServerError)
			return
		}
	}

	status, _ := s.deps.Scheduler.Status(id)
	s.log.Infof("Job accepted: id=%s kind=%s bytes=%d", id, kind, len(data))
	s.writeJSON(w, http.StatusOK, UploadResponse{
		ID:               id,
		Status:           status,
		ExpectedFilename: expectedFilename(header.Filename, settings, kind),
	})
}

func settingsFromForm(r *http.Request, kind models.Kind) (models.Settings, error) {
	var settings models.Settings
	var err error
	atoi := func(field string) int {
		v := r.FormValue(field)
		if v == "" || err != nil {
			return 0
		}
		n, convErr := strconv.Atoi(v)
		if convErr != nil {
			err = errors.NewValidation(field, "%q is not a number", v)
		}
		return n
	}
	boolean := func(field string) bool {
		v, _ := strconv.ParseBool(r.FormValue(field))
		return v
	}

	switch kind {
	case models.KindImage:
		img := &models.ImageSettings{
			Format:  r.FormValue("format"),
			Quality: atoi("quality"),
			Width:   atoi("width"),
			Height:  atoi("height"),
		}
		if color := r.FormValue("bgRemoveColor"); color != "" {
			threshold := 0.0
			if v := r.FormValue("bgRemoveThreshold"); v != "" {
				t, parseErr := strconv.ParseFloat(v, 64)
				if parseErr != nil {
					return settings, errors.NewValidation("bgRemoveThreshold", "%q is not a number", v)
				}
				threshold = t
			}
			img.RemoveBackground = &models.ChromaKeySettings{Color: color, Threshold: threshold}
		}
		settings.Image = img
	case models.KindVideo:
		settings.Video = &models.VideoSettings{
			Format:    r.FormValue("format"),
			Codec:     r.FormValue("codec"),
			Bitrate:   r.FormValue("bitrate"),
			Width:     atoi("width"),
			Height:    atoi("height"),
			MuteAudio: boolean("muteAudio"),
		}
	}
	if err != nil {
		return settings, err
	}

	settings.Delivery = models.Delivery{
		DirectServe: boolean("directServe"),
		SubDir:      r.FormValue("subDir"),
		CallbackURL: r.FormValue("callback"),
	}
	return settings, nil
}

// mergeDelivery overlays token-granted delivery options onto form values.
func mergeDelivery(form, granted models.Delivery) models.Delivery {
	out := form
	if granted.DirectServe {
		out.DirectServe = true
	}
	if granted.SubDir != "" {
		out.SubDir = granted.SubDir
	}
	if len(granted.StorageKeys) > 0 {
		out.StorageKeys = granted.StorageKeys
	}
	if granted.CallbackURL != "" {
		out.CallbackURL = granted.CallbackURL
		out.CallbackHeaders = granted.CallbackHeaders
	}
	return out
}

func expectedFilename(original string, settings models.Settings, kind models.Kind) string {
	if kind == models.KindVideo && settings.Video != nil {
		return models.OutputFilename(original, strings.ToLower(settings.Video.Format))
	}
	if settings.Image != nil {
		return models.OutputFilename(original, encoder.Extension(settings.Image.Format))
	}
	return ""
}
