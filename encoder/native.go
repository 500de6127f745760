package encoder

import (
	"bytes"
	"context"
	"image"
	"image/gif"
	"image/jpeg"
	"image/png"

	"golang.org/x/image/tiff"
)

const defaultJPEGQuality = 80

// EncodeJPEG drops alpha. Transparent areas come out black.
func EncodeJPEG(_ context.Context, img image.Image, o Options) ([]byte, error) {
	q := o.Quality
	if q <= 0 {
		q = defaultJPEGQuality
	}
	if q > 100 {
		q = 100
	}
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: q}); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// EncodePNG is lossless; quality is ignored.
func EncodePNG(_ context.Context, img image.Image, _ Options) ([]byte, error) {
	var buf bytes.Buffer
	enc := png.Encoder{CompressionLevel: png.BestCompression}
	if err := enc.Encode(&buf, img); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func EncodeGIF(_ context.Context, img image.Image, _ Options) ([]byte, error) {
	var buf bytes.Buffer
	if err := gif.Encode(&buf, img, &gif.Options{NumColors: 256}); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func EncodeTIFF(_ context.Context, img image.Image, _ Options) ([]byte, error) {
	var buf bytes.Buffer
	if err := tiff.Encode(&buf, img, &tiff.Options{Compression: tiff.Deflate, Predictor: true}); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
