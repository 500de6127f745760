package encoder

import (
	"bytes"
	"context"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"os/exec"

	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"

	"mediaconv/errors"
)

// Decode reads any supported still image. Formats without a Go decoder
// (AVIF, HEIC) are converted through ImageMagick when it is installed.
func Decode(ctx context.Context, data []byte) (image.Image, string, error) {
	if len(data) == 0 {
		return nil, "", errors.New("empty image buffer")
	}
	img, format, err := image.Decode(bytes.NewReader(data))
	if err == nil {
		return img, format, nil
	}
	if !errors.Is(err, image.ErrFormat) {
		return nil, format, err
	}

	if _, lookErr := exec.LookPath(MagickBinary); lookErr != nil {
		return nil, "", errors.Wrap(err, "unsupported image format")
	}
	img, err = magickDecode(ctx, data)
	if err != nil {
		return nil, "", err
	}
	return img, sniffISOBMFF(data), nil
}

// sniffISOBMFF names HEIF-family containers by their ftyp brand.
func sniffISOBMFF(data []byte) string {
	if len(data) < 12 || string(data[4:8]) != "ftyp" {
		return "unknown"
	}
	switch string(data[8:12]) {
	case "avif", "avis":
		return "avif"
	case "heic", "heix", "mif1", "msf1":
		return "heic"
	}
	return "unknown"
}
