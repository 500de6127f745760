// Package imageproc converts still images in memory: decode, optional
// resize, optional chroma key, encode.
package imageproc

import (
	"context"
	"image"

	"mediaconv/chromakey"
	"mediaconv/encoder"
	"mediaconv/errors"
	"mediaconv/models"
)

const (
	DefaultQuality    = 80
	DefaultPNGQuality = 100
)

// Chroma selects the color to key out and its tolerance.
type Chroma struct {
	Color     string
	Threshold float64
}

// Request is one image conversion.
type Request struct {
	Buffer           []byte
	Format           string
	Quality          int // 0 = format default
	Width            int
	Height           int
	RemoveBackground *Chroma
}

// Pipeline runs image conversions. It has no state and is safe for
// concurrent use.
type Pipeline struct {
	Speed int // passed to command encoders
}

// New returns a Pipeline with the default encoders registered.
func New() *Pipeline {
	encoder.RegisterDefaults()
	return &Pipeline{}
}

// ProcessImage returns the encoded output or a *errors.ProcessingError. It
// never returns partial output.
func (p *Pipeline) ProcessImage(ctx context.Context, req Request) ([]byte, error) {
	img, _, err := encoder.Decode(ctx, req.Buffer)
	if err != nil {
		return nil, errors.NewProcessing("decode", err)
	}

	if req.Width > 0 || req.Height > 0 {
		img = encoder.Resize(img, req.Width, req.Height)
	}

	if req.RemoveBackground != nil {
		img, err = keyOut(img, req.RemoveBackground)
		if err != nil {
			return nil, errors.NewProcessing("remove background", err)
		}
	}

	out, err := encoder.Encode(ctx, img, req.Format, encoder.Options{
		Quality: qualityFor(req.Format, req.Quality),
		Speed:   p.Speed,
	})
	if err != nil {
		return nil, errors.NewProcessing("encode "+req.Format, err)
	}
	return out, nil
}

// Process runs an image job and builds its result.
func (p *Pipeline) Process(ctx context.Context, job *models.Job) (*models.Result, error) {
	s := job.Settings.Image
	if s == nil {
		return nil, errors.NewProcessing("process", errors.New("job has no image settings"))
	}

	req := Request{
		Buffer:  job.Payload,
		Format:  s.Format,
		Quality: s.Quality,
		Width:   s.Width,
		Height:  s.Height,
	}
	if rb := s.RemoveBackground; rb != nil {
		req.RemoveBackground = &Chroma{Color: rb.Color, Threshold: rb.Threshold}
	}

	data, err := p.ProcessImage(ctx, req)
	if err != nil {
		return nil, err
	}
	return &models.Result{
		Data:      data,
		MediaType: encoder.MediaType(s.Format),
		Filename:  models.OutputFilename(job.Filename, encoder.Extension(s.Format)),
	}, nil
}

// ValidateSettings rejects output formats with no registered encoder, so
// a host without ImageMagick refuses webp and avif up front.
func (p *Pipeline) ValidateSettings(settings models.Settings) error {
	s := settings.Image
	if s == nil {
		return nil
	}
	if _, ok := encoder.Get(s.Format); !ok {
		return errors.NewValidation("format", "no encoder available for %s on this server", s.Format)
	}
	return nil
}

func keyOut(img image.Image, c *Chroma) (image.Image, error) {
	target, err := chromakey.ParseHexColor(c.Color)
	if err != nil {
		return nil, err
	}
	pix, w, h, ch := encoder.ToRaw(img)
	pix, err = chromakey.RemoveColor(pix, w, h, ch, target, c.Threshold)
	if err != nil {
		return nil, err
	}
	return encoder.FromRaw(pix, w, h, ch)
}

func qualityFor(format string, q int) int {
	if q > 0 {
		return q
	}
	if format == "png" {
		return DefaultPNGQuality
	}
	return DefaultQuality
}
