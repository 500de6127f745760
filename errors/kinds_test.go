package errors

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRateLimitExceededMessageRoundsUp(t *testing.T) {
	err := &RateLimitExceeded{RetryAfter: 1500 * time.Millisecond}
	assert.Equal(t, "rate limit exceeded, try again in 2s", err.Error())
}

func TestTaxonomySurvivesWrapping(t *testing.T) {
	base := fmt.Errorf("unexpected EOF")

	wrapped := Wrap(NewProcessing("decode", base), "job abc")
	assert.True(t, IsProcessing(wrapped))
	assert.True(t, Is(wrapped, base))
	assert.Contains(t, wrapped.Error(), "decode: unexpected EOF")

	rl := Wrap(&RateLimitExceeded{RetryAfter: time.Second}, "admit")
	got, ok := IsRateLimited(rl)
	require.True(t, ok)
	assert.Equal(t, time.Second, got.RetryAfter)

	assert.True(t, IsValidation(NewValidation("format", "unsupported %q", "bmp")))
	assert.False(t, IsValidation(base))
}

func TestTranscodeErrorKeepsTranscoderMessage(t *testing.T) {
	err := &TranscodeError{Stage: "invoke", Message: "Unknown encoder 'libfoo'", Err: fmt.Errorf("exit status 1")}
	assert.Equal(t, "transcode invoke: Unknown encoder 'libfoo'", err.Error())
	assert.True(t, IsTranscode(err))

	bare := &TranscodeError{Stage: "stage", Err: fmt.Errorf("disk full")}
	assert.Equal(t, "transcode stage: disk full", bare.Error())
}
