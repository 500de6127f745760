package encoder

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/png"
	"io"
	"os/exec"
	"strings"

	"mediaconv/errors"
)

// MagickBinary is the ImageMagick entry point used by command encoders.
var MagickBinary = "magick"

// EncodeWebP encodes using ImageMagick
func EncodeWebP(ctx context.Context, img image.Image, o Options) ([]byte, error) {
	return magickEncode(ctx, img, o, "webp")
}

// EncodeAVIF encodes using ImageMagick
func EncodeAVIF(ctx context.Context, img image.Image, o Options) ([]byte, error) {
	return magickEncode(ctx, img, o, "avif")
}

// Shared helper for magick-based formats. The image is piped in as PNG and
// the result read from stdout, so nothing touches the filesystem.
func magickEncode(ctx context.Context, img image.Image, o Options, format string) ([]byte, error) {
	var in bytes.Buffer
	if err := (&png.Encoder{CompressionLevel: png.NoCompression}).Encode(&in, img); err != nil {
		return nil, err
	}

	args := []string{"png:-"}
	if o.Quality > 0 {
		args = append(args, "-quality", fmt.Sprint(o.Quality))
	}
	if o.Speed > 0 && format == "avif" {
		args = append(args, "-define", fmt.Sprintf("heic:speed=%d", o.Speed))
	}
	args = append(args, format+":-")
	return runMagick(ctx, &in, args...)
}

// magickDecode converts formats Go cannot read into PNG.
func magickDecode(ctx context.Context, data []byte) (image.Image, error) {
	out, err := runMagick(ctx, bytes.NewReader(data), "-", "png:-")
	if err != nil {
		return nil, err
	}
	return png.Decode(bytes.NewReader(out))
}

func runMagick(ctx context.Context, stdin io.Reader, args ...string) ([]byte, error) {
	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, MagickBinary, args...)
	cmd.Stdin = stdin
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		if msg := strings.TrimSpace(stderr.String()); msg != "" {
			return nil, errors.Newf("%s: %s", MagickBinary, msg)
		}
		return nil, errors.Wrapf(err, "%s", MagickBinary)
	}
	if stdout.Len() == 0 {
		return nil, errors.Newf("%s produced no output", MagickBinary)
	}
	return stdout.Bytes(), nil
}
