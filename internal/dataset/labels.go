package dataset

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	pkgerrors "github.com/pkg/errors"

	"github.com/born-ml/jde/internal/geometry"
)

// ErrMalformedLabel is returned for a label row without exactly six fields.
var ErrMalformedLabel = errors.New("malformed label")

// labelFields is the column count of a label row:
// class identity cx cy w h.
const labelFields = 6

// ParseLabels reads label rows from r. Blank lines are skipped; any other
// row must hold six numeric fields.
func ParseLabels(r io.Reader) ([]geometry.Annotation, error) {
	var out []geometry.Annotation
	sc := bufio.NewScanner(r)
	line := 0
	for sc.Scan() {
		line++
		fields := strings.Fields(sc.Text())
		if len(fields) == 0 {
			continue
		}
		if len(fields) != labelFields {
			return nil, fmt.Errorf("%w: line %d has %d fields, want %d", ErrMalformedLabel, line, len(fields), labelFields)
		}
		var v [labelFields]float64
		for i, f := range fields {
			x, err := strconv.ParseFloat(f, 64)
			if err != nil {
				return nil, fmt.Errorf("%w: line %d: %w", ErrMalformedLabel, line, err)
			}
			v[i] = x
		}
		out = append(out, geometry.Annotation{
			Class:    int(v[0]),
			Identity: int(v[1]),
			CX:       v[2],
			CY:       v[3],
			W:        v[4],
			H:        v[5],
		})
	}
	return out, sc.Err()
}

// ReadLabels parses the label file at path. A missing file holds no objects.
func ReadLabels(path string) ([]geometry.Annotation, error) {
	f, err := os.Open(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, pkgerrors.WithMessagef(err, "opening label file %q", path)
	}
	defer f.Close()
	anns, err := ParseLabels(f)
	if err != nil {
		return nil, pkgerrors.WithMessagef(err, "reading label file %q", path)
	}
	return anns, nil
}

// LabelPath derives the label file of an image: the images directory
// becomes labels_with_ids and the extension becomes .txt.
func LabelPath(imagePath string) string {
	p := strings.ReplaceAll(imagePath, "images", "labels_with_ids")
	p = strings.ReplaceAll(p, ".png", ".txt")
	return strings.ReplaceAll(p, ".jpg", ".txt")
}
