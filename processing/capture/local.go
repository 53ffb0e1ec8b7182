package capture

import (
	"errors"
	"path/filepath"
	"strings"
	"time"

	"github.com/disintegration/imaging"
	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"

	"plantdoctor/internal/models"
)

// SupportedExtensions lists the still formats accepted for import.
var SupportedExtensions = [...]string{
	".png",
	".jpg",
	".jpeg",
	".bmp",
	".webp",
	".tiff",
	".tif",
}

func IsSupported(path string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	for _, e := range SupportedExtensions {
		if ext == e {
			return true
		}
	}
	return false
}

// LoadImage decodes a still image from disk, honoring EXIF orientation.
// Failures come back as *DecodeError.
func LoadImage(path string) (models.Frame, error) {
	if path == "" {
		return models.Frame{}, &DecodeError{Path: path, Err: errors.New("empty path")}
	}

	img, err := imaging.Open(path, imaging.AutoOrientation(true))
	if err != nil {
		return models.Frame{}, &DecodeError{Path: path, Err: err}
	}

	b := img.Bounds()
	if b.Dx() == 0 || b.Dy() == 0 {
		return models.Frame{}, &DecodeError{Path: path, Err: errors.New("image has no pixels")}
	}

	return models.NewFrame(img, filepath.Base(path), time.Now()), nil
}
