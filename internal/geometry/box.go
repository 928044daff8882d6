// Package geometry implements the box-consistent image transforms used to
// augment training samples: letterbox resize, random affine warp and
// horizontal flip.
//
// Image operations work on BGR gocv mats. Box operations are pure functions
// so they can be checked without pixels.
package geometry

// Rand is the random source threaded through every augmentation call.
// Each worker owns one; *rand.Rand satisfies it.
type Rand interface {
	Float64() float64
}

// Annotation is one labeled object in normalized xywh coordinates.
type Annotation struct {
	Class    int
	Identity int // -1 = unknown
	CX, CY   float64
	W, H     float64

	// Source is the position of the object in the label list a view was
	// rendered from. Both views of a sample number their objects alike.
	Source int
}

// Row returns the annotation as [class, identity, cx, cy, w, h].
func (a Annotation) Row() [6]float32 {
	return [6]float32{float32(a.Class), float32(a.Identity), float32(a.CX), float32(a.CY), float32(a.W), float32(a.H)}
}

// Box is an axis-aligned box in absolute pixel coordinates.
type Box struct {
	X1, Y1, X2, Y2 float64
}

func (b Box) Width() float64  { return b.X2 - b.X1 }
func (b Box) Height() float64 { return b.Y2 - b.Y1 }
func (b Box) Area() float64   { return b.Width() * b.Height() }

// PixelBox maps a normalized annotation of an origW x origH image into the
// letterboxed image described by lb.
func PixelBox(a Annotation, lb Letterboxing, origW, origH int) Box {
	sw := lb.Ratio * float64(origW)
	sh := lb.Ratio * float64(origH)
	return Box{
		X1: sw*(a.CX-a.W/2) + lb.DW,
		Y1: sh*(a.CY-a.H/2) + lb.DH,
		X2: sw*(a.CX+a.W/2) + lb.DW,
		Y2: sh*(a.CY+a.H/2) + lb.DH,
	}
}

// Normalized writes b back into a as xywh relative to a width x height image.
func (b Box) Normalized(a Annotation, width, height int) Annotation {
	a.CX = (b.X1 + b.X2) / 2 / float64(width)
	a.CY = (b.Y1 + b.Y2) / 2 / float64(height)
	a.W = b.Width() / float64(width)
	a.H = b.Height() / float64(height)
	return a
}
