// Package chromakey makes pixels near a target color fully transparent.
package chromakey

import (
	"image/color"
	"math"
	"strconv"
	"strings"

	"mediaconv/errors"
)

// MaxDistance is the largest Euclidean distance between two RGB colors,
// sqrt(3 * 255^2), rounded.
const MaxDistance = 441.67

// DefaultColor is used when a color cannot be parsed leniently.
var DefaultColor = color.RGBA{R: 0, G: 255, B: 0, A: 255}

// DistanceLimit converts a 0-100 threshold into an RGB distance.
func DistanceLimit(thresholdPercent float64) float64 {
	return thresholdPercent / 100 * MaxDistance
}

// RemoveColor sets alpha to 0 on every pixel whose RGB distance to target
// is at most DistanceLimit(thresholdPercent). pix is modified in place and
// returned. Only 4-channel RGBA buffers are accepted.
func RemoveColor(pix []byte, width, height, channels int, target color.RGBA, thresholdPercent float64) ([]byte, error) {
	if channels != 4 {
		return nil, errors.Newf("chroma key needs 4 channels, got %d", channels)
	}
	if width < 0 || height < 0 {
		return nil, errors.Newf("invalid dimensions %dx%d", width, height)
	}
	n := width * height * channels
	if len(pix) < n {
		return nil, errors.Newf("pixel buffer too short: have %d bytes, need %d", len(pix), n)
	}

	limit := DistanceLimit(thresholdPercent)
	tr, tg, tb := float64(target.R), float64(target.G), float64(target.B)

	for i := 0; i < n; i += channels {
		dr := float64(pix[i]) - tr
		dg := float64(pix[i+1]) - tg
		db := float64(pix[i+2]) - tb
		if math.Sqrt(dr*dr+dg*dg+db*db) <= limit {
			pix[i+3] = 0
		}
	}
	return pix, nil
}

// ParseHexColor parses "#RRGGBB" or "RRGGBB".
func ParseHexColor(s string) (color.RGBA, error) {
	hex := strings.TrimPrefix(strings.TrimSpace(s), "#")
	if len(hex) != 6 {
		return color.RGBA{}, errors.Newf("invalid hex color %q", s)
	}
	v, err := strconv.ParseUint(hex, 16, 32)
	if err != nil {
		return color.RGBA{}, errors.Wrapf(err, "invalid hex color %q", s)
	}
	return color.RGBA{R: uint8(v >> 16), G: uint8(v >> 8), B: uint8(v), A: 255}, nil
}

// MustParseHexColorOrDefault parses s and falls back to DefaultColor.
func MustParseHexColorOrDefault(s string) color.RGBA {
	c, err := ParseHexColor(s)
	if err != nil {
		return DefaultColor
	}
	return c
}
