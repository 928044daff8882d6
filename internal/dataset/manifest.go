package dataset

import (
	"bufio"
	"os"
	"path/filepath"
	"strings"

	"github.com/pkg/errors"
)

// Descriptor is one registered dataset. It is built once and read-only
// afterwards.
type Descriptor struct {
	Name   string
	Images []string
	Labels []string // Parallel to Images.

	Identities int // Local identity count: max observed identity + 1.
	Offset     int // First global identity of this dataset.
}

// ReadManifest lists the images of a manifest file, one path per line
// relative to root. Blank lines are skipped.
func ReadManifest(name, root, manifest string) (*Descriptor, error) {
	f, err := os.Open(manifest)
	if err != nil {
		return nil, errors.WithMessagef(err, "opening manifest of dataset %q", name)
	}
	defer f.Close()

	d := &Descriptor{Name: name}
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		img := filepath.Join(root, line)
		d.Images = append(d.Images, img)
		d.Labels = append(d.Labels, LabelPath(img))
	}
	if err := sc.Err(); err != nil {
		return nil, errors.WithMessagef(err, "reading manifest %q", manifest)
	}
	return d, nil
}
