package models

import (
	"maps"
	"strings"

	"mediaconv/errors"
)

// ImageFormats lists every output format accepted for image jobs.
var ImageFormats = []string{"jpeg", "jpg", "png", "webp", "avif", "tiff", "gif"}

// VideoFormats lists every output container accepted for video jobs.
var VideoFormats = []string{"mp4", "webm", "mov", "mkv", "avi"}

// ChromaKeySettings selects a color to make transparent.
type ChromaKeySettings struct {
	Color     string  `json:"color"`     // "#RRGGBB"
	Threshold float64 `json:"threshold"` // 0-100, percent of max RGB distance
}

type ImageSettings struct {
	Format           string             `json:"format"`
	Quality          int                `json:"quality,omitempty"` // 0 = format default
	Width            int                `json:"width,omitempty"`
	Height           int                `json:"height,omitempty"`
	RemoveBackground *ChromaKeySettings `json:"removeBackground,omitempty"`
}

type VideoSettings struct {
	Format    string `json:"format"`
	Codec     string `json:"codec,omitempty"`
	Bitrate   string `json:"bitrate,omitempty"` // ffmpeg syntax, e.g. "2M"
	Width     int    `json:"width,omitempty"`   // applied only together with Height
	Height    int    `json:"height,omitempty"`
	MuteAudio bool   `json:"muteAudio,omitempty"`
}

// Delivery describes where a completed output goes besides the in-memory
// result.
type Delivery struct {
	DirectServe     bool              `json:"directServe,omitempty"`
	SubDir          string            `json:"subDir,omitempty"`
	StorageKeys     map[string]string `json:"storageKeys,omitempty"` // backend type -> credentials key
	CallbackURL     string            `json:"callbackUrl,omitempty"`
	CallbackHeaders map[string]string `json:"callbackHeaders,omitempty"`
}

// Settings is the conversion configuration snapshotted into a job.
type Settings struct {
	Image    *ImageSettings `json:"image,omitempty"`
	Video    *VideoSettings `json:"video,omitempty"`
	Delivery Delivery       `json:"delivery"`
}

// Clone returns a deep copy that shares no memory with s.
func (s Settings) Clone() Settings {
	out := Settings{Delivery: s.Delivery}
	if s.Image != nil {
		img := *s.Image
		if s.Image.RemoveBackground != nil {
			rb := *s.Image.RemoveBackground
			img.RemoveBackground = &rb
		}
		out.Image = &img
	}
	if s.Video != nil {
		v := *s.Video
		out.Video = &v
	}
	out.Delivery.StorageKeys = maps.Clone(s.Delivery.StorageKeys)
	out.Delivery.CallbackHeaders = maps.Clone(s.Delivery.CallbackHeaders)
	return out
}

// Validate checks the settings that apply to kind.
func (s Settings) Validate(kind Kind) error {
	switch kind {
	case KindImage:
		if s.Image == nil {
			return errors.NewValidation("image", "image settings are required")
		}
		return s.Image.Validate()
	case KindVideo:
		if s.Video == nil {
			return errors.NewValidation("video", "video settings are required")
		}
		return s.Video.Validate()
	}
	return errors.NewValidation("kind", "unknown job kind %q", kind)
}

func (s *ImageSettings) Validate() error {
	if !contains(ImageFormats, s.Format) {
		return errors.NewValidation("format", "unsupported image format %q", s.Format)
	}
	if s.Quality < 0 || s.Quality > 100 {
		return errors.NewValidation("quality", "must be between 1 and 100, got %d", s.Quality)
	}
	if s.Width < 0 {
		return errors.NewValidation("width", "must not be negative, got %d", s.Width)
	}
	if s.Height < 0 {
		return errors.NewValidation("height", "must not be negative, got %d", s.Height)
	}
	if rb := s.RemoveBackground; rb != nil {
		if !isHexColor(rb.Color) {
			return errors.NewValidation("removeBackground.color", "expected #RRGGBB, got %q", rb.Color)
		}
		if rb.Threshold < 0 || rb.Threshold > 100 {
			return errors.NewValidation("removeBackground.threshold", "must be between 0 and 100, got %g", rb.Threshold)
		}
	}
	return nil
}

func (s *VideoSettings) Validate() error {
	if !contains(VideoFormats, s.Format) {
		return errors.NewValidation("format", "unsupported video format %q", s.Format)
	}
	if s.Width < 0 || s.Height < 0 {
		return errors.NewValidation("size", "must not be negative, got %dx%d", s.Width, s.Height)
	}
	if s.Width%2 != 0 || s.Height%2 != 0 {
		return errors.NewValidation("size", "dimensions must be even, got %dx%d", s.Width, s.Height)
	}
	if !isArgToken(s.Codec) {
		return errors.NewValidation("codec", "invalid codec %q", s.Codec)
	}
	if !isArgToken(s.Bitrate) {
		return errors.NewValidation("bitrate", "invalid bitrate %q", s.Bitrate)
	}
	return nil
}

func contains(list []string, v string) bool {
	v = strings.ToLower(v)
	for _, item := range list {
		if item == v {
			return true
		}
	}
	return false
}

func isHexColor(s string) bool {
	s = strings.TrimPrefix(s, "#")
	if len(s) != 6 {
		return false
	}
	for _, c := range s {
		switch {
		case c >= '0' && c <= '9', c >= 'a' && c <= 'f', c >= 'A' && c <= 'F':
		default:
			return false
		}
	}
	return true
}

// isArgToken accepts values safe to pass as a single ffmpeg option value.
func isArgToken(s string) bool {
	if strings.HasPrefix(s, "-") {
		return false
	}
	for _, c := range s {
		switch {
		case c >= '0' && c <= '9', c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z':
		case c == '_' || c == '.' || c == ':':
		default:
			return false
		}
	}
	return true
}
