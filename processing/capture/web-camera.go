//go:build gocv

package capture

import (
	"errors"
	"fmt"
	"image"

	"gocv.io/x/gocv"
)

var errEmptyRead = errors.New("camera returned no frame")

// Webcam is a Device backed by an OpenCV capture handle.
type Webcam struct {
	id  int
	vc  *gocv.VideoCapture
	mat gocv.Mat
}

// OpenWebcam opens camera index id. Zero width or height keeps the driver's
// default resolution.
func OpenWebcam(id, width, height int) (*Webcam, error) {
	vc, err := gocv.VideoCaptureDevice(id)
	if err != nil {
		if vc != nil {
			vc.Close()
		}
		return nil, fmt.Errorf("open camera %d: %w", id, err)
	}

	if !vc.IsOpened() {
		vc.Close()
		return nil, fmt.Errorf("open camera %d: device not opened", id)
	}

	if width > 0 && height > 0 {
		vc.Set(gocv.VideoCaptureFrameWidth, float64(width))
		vc.Set(gocv.VideoCaptureFrameHeight, float64(height))
	}

	return &Webcam{
		id:  id,
		vc:  vc,
		mat: gocv.NewMat(),
	}, nil
}

// Read grabs the next frame as a freshly allocated RGBA image.
func (w *Webcam) Read() (image.Image, error) {
	if ok := w.vc.Read(&w.mat); !ok || w.mat.Empty() {
		return nil, errEmptyRead
	}

	img, err := w.mat.ToImage()
	if err != nil {
		return nil, fmt.Errorf("convert frame: %w", err)
	}

	return img, nil
}

func (w *Webcam) Close() error {
	if err := w.mat.Close(); err != nil {
		w.vc.Close()
		return err
	}
	return w.vc.Close()
}

// WebcamOpener opens gocv cameras with a fixed requested resolution.
func WebcamOpener(width, height int) Opener {
	return OpenerFunc(func(id int) (Device, error) {
		return OpenWebcam(id, width, height)
	})
}
