package geometry

import (
	"image"
	"image/color"
	"math"

	"gocv.io/x/gocv"
)

// PadColor fills letterbox borders and areas uncovered by a warp.
var PadColor = color.RGBA{R: 127, G: 127, B: 127, A: 0}

// Letterboxing describes how an image was fitted into the network input.
type Letterboxing struct {
	Ratio     float64 // Scale applied to the source image.
	NewWidth  int     // Size of the scaled image, before padding.
	NewHeight int
	DW, DH    float64 // Half of the total horizontal/vertical padding.
	Top       int
	Bottom    int
	Left      int
	Right     int
}

// LetterboxGeometry computes the scale and padding that fit an h x w image
// into a height x width canvas while preserving its aspect ratio. An odd
// padding is split floor/ceil around the midpoint.
func LetterboxGeometry(h, w, height, width int) Letterboxing {
	ratio := min(float64(height)/float64(h), float64(width)/float64(w))
	nw := int(math.RoundToEven(float64(w) * ratio))
	nh := int(math.RoundToEven(float64(h) * ratio))
	dw := float64(width-nw) / 2
	dh := float64(height-nh) / 2
	return Letterboxing{
		Ratio:     ratio,
		NewWidth:  nw,
		NewHeight: nh,
		DW:        dw,
		DH:        dh,
		Top:       int(math.Round(dh - 0.1)),
		Bottom:    int(math.Round(dh + 0.1)),
		Left:      int(math.Round(dw - 0.1)),
		Right:     int(math.Round(dw + 0.1)),
	}
}

// ToSource maps a box in letterboxed pixels back to the source image.
func (lb Letterboxing) ToSource(b Box) Box {
	return Box{
		X1: (b.X1 - lb.DW) / lb.Ratio,
		Y1: (b.Y1 - lb.DH) / lb.Ratio,
		X2: (b.X2 - lb.DW) / lb.Ratio,
		Y2: (b.Y2 - lb.DH) / lb.Ratio,
	}
}

// Letterbox resizes img into a height x width canvas padded with PadColor.
// The caller owns the returned mat.
func Letterbox(img gocv.Mat, height, width int) (gocv.Mat, Letterboxing) {
	lb := LetterboxGeometry(img.Rows(), img.Cols(), height, width)
	resized := gocv.NewMat()
	defer resized.Close()
	gocv.Resize(img, &resized, image.Pt(lb.NewWidth, lb.NewHeight), 0, 0, gocv.InterpolationArea)
	out := gocv.NewMat()
	gocv.CopyMakeBorder(resized, &out, lb.Top, lb.Bottom, lb.Left, lb.Right, gocv.BorderConstant, PadColor)
	return out, lb
}
