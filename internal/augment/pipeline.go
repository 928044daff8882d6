package augment

import (
	"gocv.io/x/gocv"

	"github.com/born-ml/jde/internal/geometry"
)

// View is one network-ready rendition of a sample.
type View struct {
	Image  Image
	Labels []geometry.Annotation // Normalized to the network input.
	Box    geometry.Letterboxing
}

// Views holds the original view and, in self-supervised mode, the mirrored
// view of the same image.
type Views struct {
	Path          string
	Height, Width int // Size of the decoded source image.
	Orig          View
	Flipped       *View
}

// Pipeline loads and augments samples. It is immutable after construction
// and safe for concurrent use; randomness comes from the per-call Rand.
type Pipeline struct {
	Width, Height int // Network input size.
	Augment       bool
	Ranges        geometry.AffineRanges
	Reader        ImageReader
}

// NewPipeline returns a pipeline for a width x height network input that
// reads images from disk.
func NewPipeline(width, height int, augment bool) *Pipeline {
	return &Pipeline{
		Width:   width,
		Height:  height,
		Augment: augment,
		Ranges:  geometry.TrainingAffineRanges(),
		Reader:  FileReader{},
	}
}

// Load decodes path and renders its views. labels are normalized to the
// source image. When unsup is set a mirrored copy of the image is rendered
// too; each view draws its own jitter and warp from rng.
func (p *Pipeline) Load(path string, labels []geometry.Annotation, unsup bool, rng geometry.Rand) (*Views, error) {
	img, err := p.Reader.Read(path)
	if err != nil {
		return nil, err
	}
	defer img.Close()

	out := &Views{Path: path, Height: img.Rows(), Width: img.Cols()}

	out.Orig, err = p.render(img, labels, unsup, rng)
	if err != nil {
		return nil, err
	}
	if !unsup {
		return out, nil
	}

	mirrored := geometry.FlipHorizontal(img)
	defer mirrored.Close()
	flippedLabels := append([]geometry.Annotation(nil), labels...)
	geometry.FlipAnnotations(flippedLabels)
	v, err := p.render(mirrored, flippedLabels, unsup, rng)
	if err != nil {
		return nil, err
	}
	out.Flipped = &v
	return out, nil
}

func (p *Pipeline) render(src gocv.Mat, labels []geometry.Annotation, unsup bool, rng geometry.Rand) (View, error) {
	origW, origH := src.Cols(), src.Rows()

	img := src
	if p.Augment {
		jittered, err := JitterHSV(src, rng, jitterFraction)
		if err != nil {
			return View{}, err
		}
		defer jittered.Close()
		img = jittered
	}

	boxed, lb := geometry.Letterbox(img, p.Height, p.Width)
	defer func() { boxed.Close() }()

	boxes := make([]geometry.Box, len(labels))
	for i, a := range labels {
		boxes[i] = geometry.PixelBox(a, lb, origW, origH)
	}

	kept := make([]int, len(labels))
	for i := range kept {
		kept[i] = i
	}
	if p.Augment {
		warped, k, b, _ := geometry.RandomAffine(boxed, boxes, rng, p.Ranges)
		boxed.Close()
		boxed = warped
		kept, boxes = k, b
	}

	out := make([]geometry.Annotation, len(kept))
	for j, i := range kept {
		out[j] = boxes[j].Normalized(labels[i], p.Width, p.Height)
		out[j].Source = i
	}

	if !unsup && p.Augment && rng.Float64() > 0.5 {
		flipped := geometry.FlipHorizontal(boxed)
		boxed.Close()
		boxed = flipped
		geometry.FlipAnnotations(out)
	}

	return View{Image: ToCHW(boxed), Labels: out, Box: lb}, nil
}
