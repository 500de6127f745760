package imageproc

import (
	"bytes"
	"context"
	"image"
	"image/color"
	"image/png"
	"os/exec"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mediaconv/encoder"
	"mediaconv/errors"
	"mediaconv/models"
)

// greenScreen is a w x h green image with a red square in the middle.
func greenScreen(t *testing.T, w, h int) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			c := color.RGBA{G: 255, A: 255}
			if x >= w/4 && x < 3*w/4 && y >= h/4 && y < 3*h/4 {
				c = color.RGBA{R: 255, A: 255}
			}
			img.SetRGBA(x, y, c)
		}
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func decodePNG(t *testing.T, data []byte) image.Image {
	t.Helper()
	img, err := png.Decode(bytes.NewReader(data))
	require.NoError(t, err)
	return img
}

func TestProcessImage_ResizeToPNG(t *testing.T) {
	p := New()
	out, err := p.ProcessImage(context.Background(), Request{
		Buffer: greenScreen(t, 200, 100),
		Format: "png",
		Width:  50,
	})
	require.NoError(t, err)

	img := decodePNG(t, out)
	assert.Equal(t, 50, img.Bounds().Dx())
	assert.Equal(t, 25, img.Bounds().Dy())
}

func TestProcessImage_NoUpscale(t *testing.T) {
	p := New()
	out, err := p.ProcessImage(context.Background(), Request{
		Buffer: greenScreen(t, 40, 20),
		Format: "png",
		Width:  400,
		Height: 400,
	})
	require.NoError(t, err)
	assert.Equal(t, image.Rect(0, 0, 40, 20), decodePNG(t, out).Bounds())
}

func TestProcessImage_RemoveBackground(t *testing.T) {
	p := New()
	out, err := p.ProcessImage(context.Background(), Request{
		Buffer:           greenScreen(t, 8, 8),
		Format:           "png",
		RemoveBackground: &Chroma{Color: "#00FF00", Threshold: 20},
	})
	require.NoError(t, err)

	img := decodePNG(t, out)
	_, _, _, cornerAlpha := img.At(0, 0).RGBA()
	_, _, _, centerAlpha := img.At(4, 4).RGBA()
	assert.Equal(t, uint32(0), cornerAlpha)
	assert.Equal(t, uint32(0xffff), centerAlpha)
}

func TestProcessImage_JPEG(t *testing.T) {
	p := New()
	out, err := p.ProcessImage(context.Background(), Request{
		Buffer: greenScreen(t, 16, 16),
		Format: "jpeg",
	})
	require.NoError(t, err)
	assert.Equal(t, []byte{0xff, 0xd8}, out[:2])
}

func TestProcessImage_Failures(t *testing.T) {
	p := New()
	tests := []struct {
		name string
		req  Request
	}{
		{"corrupt input", Request{Buffer: []byte("not an image"), Format: "png"}},
		{"empty input", Request{Format: "png"}},
		{"unknown format", Request{Buffer: greenScreen(t, 4, 4), Format: "bogus"}},
		{"bad color", Request{Buffer: greenScreen(t, 4, 4), Format: "png",
			RemoveBackground: &Chroma{Color: "green", Threshold: 10}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out, err := p.ProcessImage(context.Background(), tt.req)
			require.Error(t, err)
			assert.Nil(t, out)
			assert.True(t, errors.IsProcessing(err), "expected ProcessingError, got %T", err)
		})
	}
}

func TestProcess_BuildsResult(t *testing.T) {
	p := New()
	job := &models.Job{
		ID:       "j1",
		Kind:     models.KindImage,
		Filename: "holiday.png",
		Payload:  greenScreen(t, 10, 10),
		Settings: models.Settings{Image: &models.ImageSettings{Format: "jpeg", Quality: 60}},
	}

	res, err := p.Process(context.Background(), job)
	require.NoError(t, err)
	assert.Equal(t, "image/jpeg", res.MediaType)
	assert.Equal(t, "holiday.jpg", res.Filename)
	assert.NotEmpty(t, res.Data)
}

func TestQualityDefaults(t *testing.T) {
	assert.Equal(t, 80, qualityFor("jpeg", 0))
	assert.Equal(t, 100, qualityFor("png", 0))
	assert.Equal(t, 42, qualityFor("webp", 42))
}

func TestProcessImage_WebPRoundTripKeepsAspect(t *testing.T) {
	if _, err := exec.LookPath(encoder.MagickBinary); err != nil {
		t.Skip("ImageMagick not found in PATH")
	}
	p := New()
	out, err := p.ProcessImage(context.Background(), Request{
		Buffer: greenScreen(t, 200, 100),
		Format: "webp",
		Width:  50,
	})
	require.NoError(t, err)

	cfg, format, err := image.DecodeConfig(bytes.NewReader(out))
	require.NoError(t, err)
	assert.Equal(t, "webp", format)
	assert.Equal(t, 50, cfg.Width)
	assert.Equal(t, 25, cfg.Height)
}

func TestValidateSettings(t *testing.T) {
	p := New()

	require.NoError(t, p.ValidateSettings(models.Settings{Image: &models.ImageSettings{Format: "png"}}))
	require.NoError(t, p.ValidateSettings(models.Settings{}))

	for _, format := range []string{"webp", "avif"} {
		err := p.ValidateSettings(models.Settings{Image: &models.ImageSettings{Format: format}})
		if _, ok := encoder.Get(format); ok {
			assert.NoError(t, err, format)
			continue
		}
		require.Error(t, err, format)
		assert.True(t, errors.IsValidation(err), "got %v", err)
	}
}
