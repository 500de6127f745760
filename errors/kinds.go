package errors

import (
	"fmt"
	"math"
	"time"
)

// ValidationError rejects bad settings or oversize input before a job is
// queued. It never becomes a job's terminal error.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return "validation failed: " + e.Message
	}
	return fmt.Sprintf("validation failed: %s: %s", e.Field, e.Message)
}

// NewValidation builds a ValidationError for field.
func NewValidation(field, format string, args ...interface{}) error {
	return &ValidationError{Field: field, Message: fmt.Sprintf(format, args...)}
}

// RateLimitExceeded is returned when the admission limiter denies a job.
type RateLimitExceeded struct {
	RetryAfter time.Duration
}

func (e *RateLimitExceeded) Error() string {
	secs := int(math.Ceil(e.RetryAfter.Seconds()))
	return fmt.Sprintf("rate limit exceeded, try again in %ds", secs)
}

// ProcessingError wraps an image decode/resize/encode failure. The
// underlying codec message is preserved as-is.
type ProcessingError struct {
	Op  string
	Err error
}

func (e *ProcessingError) Error() string {
	if e.Err == nil {
		return e.Op
	}
	if e.Op == "" {
		return e.Err.Error()
	}
	return e.Op + ": " + e.Err.Error()
}

func (e *ProcessingError) Unwrap() error { return e.Err }

// NewProcessing wraps err as a ProcessingError for op.
func NewProcessing(op string, err error) error {
	return &ProcessingError{Op: op, Err: err}
}

// TranscodeError is a stage-aware video pipeline failure. Message carries
// the transcoder's own output verbatim when there is one.
type TranscodeError struct {
	Stage   string
	Message string
	Stderr  string
	Err     error
}

func (e *TranscodeError) Error() string {
	msg := e.Message
	if msg == "" && e.Err != nil {
		msg = e.Err.Error()
	}
	return fmt.Sprintf("transcode %s: %s", e.Stage, msg)
}

func (e *TranscodeError) Unwrap() error { return e.Err }

// IsValidation reports whether err carries a ValidationError.
func IsValidation(err error) bool {
	var target *ValidationError
	return As(err, &target)
}

// IsRateLimited reports whether err carries a RateLimitExceeded and
// returns it.
func IsRateLimited(err error) (*RateLimitExceeded, bool) {
	var target *RateLimitExceeded
	if As(err, &target) {
		return target, true
	}
	return nil, false
}

// IsProcessing reports whether err carries a ProcessingError.
func IsProcessing(err error) bool {
	var target *ProcessingError
	return As(err, &target)
}

// IsTranscode reports whether err carries a TranscodeError.
func IsTranscode(err error) bool {
	var target *TranscodeError
	return As(err, &target)
}
