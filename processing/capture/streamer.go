package capture

import (
	"errors"
	"fmt"
	"image"
)

var (
	ErrDeviceUnavailable  = errors.New("capture: camera device unavailable")
	ErrDeviceDisconnected = errors.New("capture: camera device disconnected")
	ErrNoDevice           = errors.New("capture: no camera device open")
)

// Device is one open OS camera handle.
type Device interface {
	Read() (image.Image, error)
	Close() error
}

type Opener interface {
	Open(id int) (Device, error)
}

type OpenerFunc func(id int) (Device, error)

func (f OpenerFunc) Open(id int) (Device, error) { return f(id) }

// DecodeError reports an imported still that could not be read.
type DecodeError struct {
	Path string
	Err  error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("capture: decode %s: %v", e.Path, e.Err)
}

func (e *DecodeError) Unwrap() error { return e.Err }
