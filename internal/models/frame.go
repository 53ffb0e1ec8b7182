package models

import (
	"image"
	"time"
)

// Frame is a decoded raster snapshot from a camera or an imported file.
// The wrapped image is never mutated once the frame is built; producers must
// hand over freshly allocated pixel buffers.
type Frame struct {
	img        image.Image
	source     string
	capturedAt time.Time
}

func NewFrame(img image.Image, source string, at time.Time) Frame {
	return Frame{img: img, source: source, capturedAt: at}
}

func (f Frame) Image() image.Image    { return f.img }
func (f Frame) Source() string        { return f.source }
func (f Frame) CapturedAt() time.Time { return f.capturedAt }

func (f Frame) Width() int {
	if f.img == nil {
		return 0
	}
	return f.img.Bounds().Dx()
}

func (f Frame) Height() int {
	if f.img == nil {
		return 0
	}
	return f.img.Bounds().Dy()
}

func (f Frame) IsZero() bool {
	return f.img == nil || f.Width() == 0 || f.Height() == 0
}

type Pane int

const (
	PaneLive Pane = iota
	PaneCaptured
)

func (p Pane) String() string {
	switch p {
	case PaneLive:
		return "live"
	case PaneCaptured:
		return "captured"
	default:
		return "unknown"
	}
}
