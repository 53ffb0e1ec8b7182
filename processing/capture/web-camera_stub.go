//go:build !gocv

package capture

import (
	"errors"
	"image"
)

var errNoGocv = errors.New("gocv build tag is not enabled")

// Webcam is the placeholder used when the binary is built without OpenCV.
// No camera ever opens, so the app runs in upload-only mode.
type Webcam struct{}

func OpenWebcam(id, width, height int) (*Webcam, error) {
	return nil, errNoGocv
}

func (w *Webcam) Read() (image.Image, error) {
	return nil, errNoGocv
}

func (w *Webcam) Close() error {
	return nil
}

func WebcamOpener(width, height int) Opener {
	return OpenerFunc(func(id int) (Device, error) {
		return OpenWebcam(id, width, height)
	})
}
