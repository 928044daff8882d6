package augment

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gocv.io/x/gocv"

	"github.com/born-ml/jde/internal/geometry"
)

// ErrNoImages is returned by LoadImages when the path holds no images.
var ErrNoImages = errors.New("no images found")

var imageExts = map[string]bool{".jpg": true, ".jpeg": true, ".png": true, ".tif": true}

// ImageSource letterboxes a fixed list of images for inference.
type ImageSource struct {
	Files         []string
	Width, Height int
	Reader        ImageReader
}

// LoadImages lists the images in a directory, or the single image at path.
func LoadImages(path string, width, height int) (*ImageSource, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("%w in %s: %w", ErrNoImages, path, err)
	}

	var files []string
	if info.IsDir() {
		entries, err := os.ReadDir(path)
		if err != nil {
			return nil, err
		}
		for _, e := range entries {
			if e.IsDir() || !imageExts[strings.ToLower(filepath.Ext(e.Name()))] {
				continue
			}
			files = append(files, filepath.Join(path, e.Name()))
		}
		sort.Strings(files)
	} else {
		files = []string{path}
	}
	if len(files) == 0 {
		return nil, fmt.Errorf("%w in %s", ErrNoImages, path)
	}
	return &ImageSource{Files: files, Width: width, Height: height, Reader: FileReader{}}, nil
}

// Frame is one letterboxed inference image.
type Frame struct {
	Path   string
	Image  Image
	Box    geometry.Letterboxing // Maps detections back with Box.ToSource.
	Source gocv.Mat              // Decoded image; the caller must close it.
}

// Len returns the number of images.
func (s *ImageSource) Len() int { return len(s.Files) }

// Get decodes and letterboxes image i.
func (s *ImageSource) Get(i int) (*Frame, error) {
	src, err := s.Reader.Read(s.Files[i])
	if err != nil {
		return nil, err
	}
	boxed, lb := geometry.Letterbox(src, s.Height, s.Width)
	defer boxed.Close()
	return &Frame{Path: s.Files[i], Image: ToCHW(boxed), Box: lb, Source: src}, nil
}
