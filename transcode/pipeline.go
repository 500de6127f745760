// Package transcode converts video through an external ffmpeg process.
//
// Input bytes are staged to uniquely named temporary files for the
// duration of one conversion and removed afterwards whatever the outcome.
package transcode

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"mediaconv/errors"
	"mediaconv/logger"
	"mediaconv/models"
)

// Stages reported in TranscodeError.
const (
	StageValidate = "validate"
	StageStage    = "stage"
	StageConvert  = "convert"
	StageRead     = "read"
	StageProbe    = "probe"
)

// Request is one video conversion.
type Request struct {
	Input        []byte
	FilenameHint string // original name, used for the staged file extension
	Format       string
	Codec        string // optional ffmpeg video encoder, e.g. libx264
	Bitrate      string // optional video bitrate, e.g. 2M
	Width        int    // applied only when Height is set too
	Height       int
	MuteAudio    bool
	JobID        string
}

// Options configures a Pipeline.
type Options struct {
	FFmpeg  string
	FFprobe string
	TempDir string // "" = os.TempDir()
}

// Pipeline runs ffmpeg conversions. Safe for concurrent use; every call
// stages its own files.
type Pipeline struct {
	ffmpegPath  string
	ffprobePath string
	tempDir     string
	runner      Runner
	createTemp  func(dir, pattern string) (*os.File, error)
	readFile    func(name string) ([]byte, error)
	remove      func(name string) error
}

// New constructs the production pipeline.
func New(opts Options) *Pipeline {
	return NewWithRunner(opts, ExecRunner{})
}

// NewWithRunner constructs a pipeline that executes commands through r.
func NewWithRunner(opts Options, r Runner) *Pipeline {
	if opts.FFmpeg == "" {
		opts.FFmpeg = "ffmpeg"
	}
	if opts.FFprobe == "" {
		opts.FFprobe = "ffprobe"
	}
	return &Pipeline{
		ffmpegPath:  opts.FFmpeg,
		ffprobePath: opts.FFprobe,
		tempDir:     opts.TempDir,
		runner:      r,
		createTemp:  os.CreateTemp,
		readFile:    os.ReadFile,
		remove:      os.Remove,
	}
}

var muxers = map[string]string{
	"mp4":  "mp4",
	"webm": "webm",
	"mov":  "mov",
	"mkv":  "matroska",
	"avi":  "avi",
}

var mediaTypes = map[string]string{
	"mp4":  "video/mp4",
	"webm": "video/webm",
	"mov":  "video/quicktime",
	"mkv":  "video/x-matroska",
	"avi":  "video/x-msvideo",
}

// MediaType returns the MIME type of an output container.
func MediaType(format string) string {
	if mt, ok := mediaTypes[strings.ToLower(format)]; ok {
		return mt
	}
	return "application/octet-stream"
}

// ConvertVideo transcodes req.Input into req.Format. Every failure is a
// *errors.TranscodeError carrying ffmpeg's own message.
func (p *Pipeline) ConvertVideo(ctx context.Context, req Request) ([]byte, error) {
	format := strings.ToLower(req.Format)
	muxer, ok := muxers[format]
	if !ok {
		return nil, &errors.TranscodeError{Stage: StageValidate, Message: fmt.Sprintf("unsupported output format %q", req.Format)}
	}
	if len(req.Input) == 0 {
		return nil, &errors.TranscodeError{Stage: StageValidate, Message: "empty input"}
	}

	inPath, err := p.stage(req.Input, req.JobID, req.FilenameHint)
	if err != nil {
		return nil, err
	}
	defer p.cleanup(inPath)

	outPath := strings.TrimSuffix(inPath, "-in"+filepath.Ext(inPath)) + "-out." + format
	defer p.cleanup(outPath)

	args := []string{"-hide_banner", "-nostdin", "-y", "-i", inPath}
	if req.Codec != "" {
		args = append(args, "-c:v", req.Codec)
	}
	if req.Bitrate != "" {
		args = append(args, "-b:v", req.Bitrate)
	}
	if req.Width > 0 && req.Height > 0 {
		args = append(args, "-s", fmt.Sprintf("%dx%d", req.Width, req.Height))
	}
	if req.MuteAudio {
		args = append(args, "-an")
	}
	args = append(args, "-f", muxer, outPath)

	logger.Debugf("job %s: %s %s", req.JobID, p.ffmpegPath, strings.Join(args, " "))
	res, err := p.runner.Run(ctx, p.ffmpegPath, args...)
	if err != nil {
		return nil, commandError(ctx, StageConvert, res, err)
	}

	out, err := p.readFile(outPath)
	if err != nil {
		return nil, &errors.TranscodeError{Stage: StageRead, Message: err.Error(), Err: err}
	}
	if len(out) == 0 {
		return nil, &errors.TranscodeError{Stage: StageRead, Message: "ffmpeg produced an empty file", Stderr: res.Stderr}
	}
	return out, nil
}

// Process runs a video job and builds its result.
func (p *Pipeline) Process(ctx context.Context, job *models.Job) (*models.Result, error) {
	s := job.Settings.Video
	if s == nil {
		return nil, &errors.TranscodeError{Stage: StageValidate, Message: "job has no video settings"}
	}
	data, err := p.ConvertVideo(ctx, Request{
		Input:        job.Payload,
		FilenameHint: job.Filename,
		Format:       s.Format,
		Codec:        s.Codec,
		Bitrate:      s.Bitrate,
		Width:        s.Width,
		Height:       s.Height,
		MuteAudio:    s.MuteAudio,
		JobID:        job.ID,
	})
	if err != nil {
		return nil, err
	}
	return &models.Result{
		Data:      data,
		MediaType: MediaType(s.Format),
		Filename:  models.OutputFilename(job.Filename, strings.ToLower(s.Format)),
	}, nil
}

// stage writes data to a new temp file named after the job and returns its
// path. The file keeps the hint's extension so ffmpeg can probe by name.
func (p *Pipeline) stage(data []byte, jobID, hint string) (string, error) {
	pattern := "mediaconv-" + safeName(jobID) + "-*-in" + safeExt(hint)
	f, err := p.createTemp(p.tempDir, pattern)
	if err != nil {
		return "", &errors.TranscodeError{Stage: StageStage, Message: err.Error(), Err: err}
	}
	name := f.Name()
	if _, err := f.Write(data); err != nil {
		f.Close()
		p.cleanup(name)
		return "", &errors.TranscodeError{Stage: StageStage, Message: err.Error(), Err: err}
	}
	if err := f.Close(); err != nil {
		p.cleanup(name)
		return "", &errors.TranscodeError{Stage: StageStage, Message: err.Error(), Err: err}
	}
	return name, nil
}

// cleanup removes a staged file. Failures are logged, never returned.
func (p *Pipeline) cleanup(path string) {
	if err := p.remove(path); err != nil && !os.IsNotExist(err) {
		logger.Warnf("failed to remove temp file %s: %v", path, err)
	}
}

func commandError(ctx context.Context, stage string, res CommandResult, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return &errors.TranscodeError{Stage: stage, Message: ctxErr.Error(), Stderr: res.Stderr, Err: ctxErr}
	}
	msg := lastLine(res.Stderr)
	if msg == "" {
		msg = err.Error()
	}
	return &errors.TranscodeError{Stage: stage, Message: msg, Stderr: res.Stderr, Err: err}
}

// lastLine returns the final non-empty line of ffmpeg output, which is
// where it reports the fatal error.
func lastLine(s string) string {
	lines := strings.Split(strings.TrimSpace(s), "\n")
	for i := len(lines) - 1; i >= 0; i-- {
		if l := strings.TrimSpace(lines[i]); l != "" {
			return l
		}
	}
	return ""
}

func safeName(s string) string {
	var b strings.Builder
	for _, c := range s {
		switch {
		case c >= '0' && c <= '9', c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c == '-':
			b.WriteRune(c)
		}
	}
	if b.Len() == 0 {
		return "job"
	}
	return b.String()
}

func safeExt(hint string) string {
	ext := strings.ToLower(filepath.Ext(hint))
	if len(ext) < 2 || len(ext) > 6 || safeName(ext[1:]) != ext[1:] {
		return ".bin"
	}
	return ext
}
