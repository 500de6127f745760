package encoder

import (
	"image"
	"math"

	"golang.org/x/image/draw"

	"mediaconv/errors"
)

// RawChannels is the channel count of every raw buffer produced here.
const RawChannels = 4

// Resize scales img to fit inside width x height, keeping aspect ratio.
// A zero dimension is derived from the other. Images are never enlarged.
func Resize(img image.Image, width, height int) image.Image {
	b := img.Bounds()
	srcW, srcH := b.Dx(), b.Dy()
	if (width <= 0 && height <= 0) || srcW == 0 || srcH == 0 {
		return img
	}

	var scale float64
	switch {
	case width > 0 && height > 0:
		scale = math.Min(float64(width)/float64(srcW), float64(height)/float64(srcH))
	case width > 0:
		scale = float64(width) / float64(srcW)
	default:
		scale = float64(height) / float64(srcH)
	}
	if scale >= 1 {
		return img
	}

	dstW := max(1, int(math.Round(float64(srcW)*scale)))
	dstH := max(1, int(math.Round(float64(srcH)*scale)))
	dst := image.NewNRGBA(image.Rect(0, 0, dstW, dstH))
	draw.CatmullRom.Scale(dst, dst.Bounds(), img, b, draw.Src, nil)
	return dst
}

// ToRaw returns a copy of img as tightly packed non-premultiplied RGBA.
// An opaque alpha channel is added when the source has none.
func ToRaw(img image.Image) (pix []byte, width, height, channels int) {
	b := img.Bounds()
	dst := image.NewNRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	draw.Draw(dst, dst.Bounds(), img, b.Min, draw.Src)
	return dst.Pix, b.Dx(), b.Dy(), RawChannels
}

// FromRaw wraps a raw RGBA buffer produced by ToRaw.
func FromRaw(pix []byte, width, height, channels int) (*image.NRGBA, error) {
	if channels != RawChannels {
		return nil, errors.Newf("raw buffer must have %d channels, got %d", RawChannels, channels)
	}
	if width <= 0 || height <= 0 {
		return nil, errors.Newf("invalid raw dimensions %dx%d", width, height)
	}
	if len(pix) < width*height*channels {
		return nil, errors.Newf("raw buffer too short: have %d bytes, need %d", len(pix), width*height*channels)
	}
	return &image.NRGBA{
		Pix:    pix[:width*height*channels],
		Stride: width * channels,
		Rect:   image.Rect(0, 0, width, height),
	}, nil
}
