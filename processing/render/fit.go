// Package render turns frames and stills into display-ready bitmaps.
package render

import (
	"bytes"
	"errors"
	"fmt"
	"image"

	"github.com/disintegration/imaging"
)

// FitSize computes the letterboxed size of an imgW×imgH image inside a
// vpW×vpH viewport. Both results stay within the viewport and are at least
// one pixel. ok is false while the viewport is not laid out yet (either side
// <= 1) or the image is empty.
func FitSize(imgW, imgH, vpW, vpH int) (w, h int, ok bool) {
	if vpW <= 1 || vpH <= 1 || imgW <= 0 || imgH <= 0 {
		return 0, 0, false
	}

	aspect := float64(imgW) / float64(imgH)
	containerAspect := float64(vpW) / float64(vpH)

	if aspect > containerAspect {
		w = vpW
		h = int(float64(vpW) / aspect)
	} else {
		h = vpH
		w = int(float64(vpH) * aspect)
	}

	return max(w, 1), max(h, 1), true
}

type Option func(*Renderer)

// WithFilter swaps the resampling filter. Lanczos is the default.
func WithFilter(f imaging.ResampleFilter) Option {
	return func(r *Renderer) { r.filter = f }
}

type Renderer struct {
	filter imaging.ResampleFilter
}

func New(opts ...Option) *Renderer {
	r := &Renderer{filter: imaging.Lanczos}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Fit scales img to fit the viewport, preserving its aspect ratio. The
// second result is false when there is nothing to draw.
func (r *Renderer) Fit(img image.Image, vpW, vpH int) (image.Image, bool) {
	if img == nil {
		return nil, false
	}

	b := img.Bounds()
	w, h, ok := FitSize(b.Dx(), b.Dy(), vpW, vpH)
	if !ok {
		return nil, false
	}

	return imaging.Resize(img, w, h, r.filter), true
}

// EncodePNG produces the upload payload for a frozen image.
func EncodePNG(img image.Image) ([]byte, error) {
	if img == nil {
		return nil, errors.New("encode png: nil image")
	}

	var buf bytes.Buffer
	if err := imaging.Encode(&buf, img, imaging.PNG); err != nil {
		return nil, fmt.Errorf("encode png: %w", err)
	}

	return buf.Bytes(), nil
}

// Encode produces the payload for mimeType. Only PNG and JPEG are supported.
func Encode(img image.Image, mimeType string) ([]byte, error) {
	switch mimeType {
	case "", "image/png":
		return EncodePNG(img)
	case "image/jpeg":
	default:
		return nil, fmt.Errorf("encode: unsupported mime type %q", mimeType)
	}

	if img == nil {
		return nil, errors.New("encode jpeg: nil image")
	}

	var buf bytes.Buffer
	if err := imaging.Encode(&buf, img, imaging.JPEG, imaging.JPEGQuality(90)); err != nil {
		return nil, fmt.Errorf("encode jpeg: %w", err)
	}

	return buf.Bytes(), nil
}
