package transcode

import (
	"context"
	"encoding/json"
	"strconv"
	"time"

	"mediaconv/errors"
)

// Stream is one elementary stream reported by ffprobe.
type Stream struct {
	Index     int    `json:"index"`
	CodecType string `json:"codec_type"`
	CodecName string `json:"codec_name"`
	Width     int    `json:"width,omitempty"`
	Height    int    `json:"height,omitempty"`
	Duration  string `json:"duration,omitempty"`
}

// Format is the container section of ffprobe output.
type Format struct {
	FormatName string `json:"format_name"`
	Duration   string `json:"duration"`
	Size       string `json:"size"`
	BitRate    string `json:"bit_rate"`
}

// Metadata is the parsed ffprobe report for one file.
type Metadata struct {
	Streams []Stream `json:"streams"`
	Format  Format   `json:"format"`
}

func (m Metadata) streamsOf(kind string) []Stream {
	var out []Stream
	for _, s := range m.Streams {
		if s.CodecType == kind {
			out = append(out, s)
		}
	}
	return out
}

func (m Metadata) VideoStreams() []Stream { return m.streamsOf("video") }

func (m Metadata) AudioStreams() []Stream { return m.streamsOf("audio") }

// Duration parses the container duration; zero when unknown.
func (m Metadata) Duration() time.Duration {
	secs, err := strconv.ParseFloat(m.Format.Duration, 64)
	if err != nil {
		return 0
	}
	return time.Duration(secs * float64(time.Second))
}

// Probe stages data and reads its stream layout with ffprobe.
func (p *Pipeline) Probe(ctx context.Context, data []byte, filenameHint string) (Metadata, error) {
	if len(data) == 0 {
		return Metadata{}, &errors.TranscodeError{Stage: StageValidate, Message: "empty input"}
	}
	path, err := p.stage(data, "probe", filenameHint)
	if err != nil {
		return Metadata{}, err
	}
	defer p.cleanup(path)

	res, err := p.runner.Run(ctx, p.ffprobePath,
		"-v", "error", "-show_streams", "-show_format", "-of", "json", path)
	if err != nil {
		return Metadata{}, commandError(ctx, StageProbe, res, err)
	}

	var md Metadata
	if err := json.Unmarshal([]byte(res.Stdout), &md); err != nil {
		return Metadata{}, &errors.TranscodeError{Stage: StageProbe, Message: "unreadable ffprobe output: " + err.Error(), Err: err}
	}
	return md, nil
}
