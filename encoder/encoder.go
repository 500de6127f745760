package encoder

import (
	"context"
	"image"
	"os/exec"
	"strings"
	"sync"

	"mediaconv/errors"
	"mediaconv/logger"
)

// EncodeFunc is the function signature for any encoder
type EncodeFunc func(ctx context.Context, img image.Image, opts Options) ([]byte, error)

// Options are passed to every encoder. Quality 0 lets the encoder pick.
type Options struct {
	Quality int // 1–100
	Speed   int // encoder speed/efficiency tradeoff, command encoders only
}

var (
	registryMu sync.RWMutex
	// Registry maps format name → encoder function
	Registry = map[string]EncodeFunc{}
)

// Register adds encoder if the underlying command exists, logs status
func Register(format string, cmdName string, fn EncodeFunc) bool {
	if _, err := exec.LookPath(cmdName); err != nil {
		logger.Warnf("encoder [%s] skipped: command '%s' not found in PATH", format, cmdName)
		return false
	}
	registryMu.Lock()
	Registry[normalize(format)] = fn
	registryMu.Unlock()
	logger.Debugf("encoder [%s] registered (command: %s)", format, cmdName)
	return true
}

// RegisterNative adds an encoder implemented in Go.
func RegisterNative(format string, fn EncodeFunc) {
	registryMu.Lock()
	Registry[normalize(format)] = fn
	registryMu.Unlock()
	logger.Debugf("encoder [%s] registered (native)", format)
}

// Lookup encoder by format
func Get(format string) (EncodeFunc, bool) {
	registryMu.RLock()
	defer registryMu.RUnlock()
	fn, ok := Registry[normalize(format)]
	return fn, ok
}

// Formats lists the registered output formats.
func Formats() []string {
	registryMu.RLock()
	defer registryMu.RUnlock()
	out := make([]string, 0, len(Registry))
	for f := range Registry {
		out = append(out, f)
	}
	return out
}

var defaultsOnce sync.Once

// Explicit defaults registration. Safe to call more than once.
func RegisterDefaults() {
	defaultsOnce.Do(func() {
		RegisterNative("jpeg", EncodeJPEG)
		RegisterNative("jpg", EncodeJPEG)
		RegisterNative("png", EncodePNG)
		RegisterNative("gif", EncodeGIF)
		RegisterNative("tiff", EncodeTIFF)
		Register("webp", MagickBinary, EncodeWebP)
		Register("avif", MagickBinary, EncodeAVIF)
	})
}

// Encode renders img in format using the registered encoder.
func Encode(ctx context.Context, img image.Image, format string, opts Options) ([]byte, error) {
	fn, ok := Get(format)
	if !ok {
		return nil, errors.Newf("no encoder available for format %q", format)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return fn(ctx, img, opts)
}

func normalize(format string) string {
	return strings.ToLower(strings.TrimPrefix(format, "."))
}
