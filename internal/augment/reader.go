// Package augment turns one image file and its annotations into the
// network-ready views used for training: the original view and, for
// self-supervised training, a horizontally mirrored view.
package augment

import (
	"errors"
	"fmt"

	"gocv.io/x/gocv"
)

// ErrCorruptImage is returned when an image is missing or cannot be decoded.
var ErrCorruptImage = errors.New("corrupt image")

// ImageReader decodes an image file into a 3-channel BGR mat owned by the
// caller.
type ImageReader interface {
	Read(path string) (gocv.Mat, error)
}

// FileReader reads images from disk with OpenCV.
type FileReader struct{}

// Read implements ImageReader.
func (FileReader) Read(path string) (gocv.Mat, error) {
	img := gocv.IMRead(path, gocv.IMReadColor)
	if img.Empty() {
		img.Close()
		return gocv.Mat{}, fmt.Errorf("%w: %s", ErrCorruptImage, path)
	}
	return img, nil
}
