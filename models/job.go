package models

import (
	"encoding/base64"
	"mime"
	"net/http"
	"path/filepath"
	"strings"
	"time"

	"mediaconv/errors"
)

// Kind is the media category of a job, fixed at creation.
type Kind string

const (
	KindImage Kind = "image"
	KindVideo Kind = "video"
)

// KindFromMediaType maps an input media type ("image/png", "video/mp4") to a
// job kind. Parameters after ';' are ignored.
func KindFromMediaType(mediaType string) (Kind, error) {
	mt := strings.ToLower(strings.TrimSpace(mediaType))
	if parsed, _, err := mime.ParseMediaType(mt); err == nil {
		mt = parsed
	}
	switch {
	case strings.HasPrefix(mt, "image/"):
		return KindImage, nil
	case strings.HasPrefix(mt, "video/"):
		return KindVideo, nil
	}
	return "", errors.NewValidation("mediaType", "unsupported media type %q", mediaType)
}

// DetectMediaType prefers a declared type, then the filename extension,
// then content sniffing.
func DetectMediaType(declared, filename string, data []byte) string {
	if mt, _, err := mime.ParseMediaType(declared); err == nil && mt != "application/octet-stream" {
		return mt
	}
	if mt := mime.TypeByExtension(strings.ToLower(filepath.Ext(filename))); mt != "" {
		if parsed, _, err := mime.ParseMediaType(mt); err == nil {
			return parsed
		}
	}
	mt, _, _ := mime.ParseMediaType(http.DetectContentType(data))
	return mt
}

// Status is a job's position in its lifecycle.
type Status string

const (
	StatusIdle       Status = "idle"
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusError      Status = "error"
)

// IsTerminal reports whether no further transitions can follow.
func (s Status) IsTerminal() bool {
	return s == StatusCompleted || s == StatusError
}

// Job is one unit of conversion work.
type Job struct {
	ID        string    `json:"id"`
	Kind      Kind      `json:"kind"`
	Filename  string    `json:"filename"`
	MediaType string    `json:"mediaType"`
	Token     string    `json:"-"`
	Payload   []byte    `json:"-"`
	Settings  Settings  `json:"settings"`
	Status    Status    `json:"status"`
	Result    *Result   `json:"result,omitempty"`
	Error     string    `json:"error,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Result is the converted output of a completed job.
type Result struct {
	Data      []byte `json:"-"`
	MediaType string `json:"mediaType"`
	Filename  string `json:"filename"`
}

// DataURL renders the result as an RFC 2397 data URL.
func (r *Result) DataURL() string {
	return "data:" + r.MediaType + ";base64," + base64.StdEncoding.EncodeToString(r.Data)
}

// OutputFilename replaces the extension of original with ext.
func OutputFilename(original, ext string) string {
	base := filepath.Base(original)
	if base == "." || base == string(filepath.Separator) || base == "" {
		base = "output"
	}
	base = strings.TrimSuffix(base, filepath.Ext(base))
	if base == "" {
		base = "output"
	}
	return base + "." + strings.TrimPrefix(ext, ".")
}

// Transition is emitted every time a job changes status.
type Transition struct {
	JobID  string    `json:"jobId"`
	Kind   Kind      `json:"kind"`
	Status Status    `json:"status"`
	Result *Result   `json:"result,omitempty"`
	Error  string    `json:"error,omitempty"`
	At     time.Time `json:"at"`
}
