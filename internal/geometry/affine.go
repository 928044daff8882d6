package geometry

import (
	"image"
	"math"

	"gocv.io/x/gocv"
	"gonum.org/v1/gonum/mat"
)

// Limits of the box filter applied after a warp.
const (
	minBoxSide      = 4    // Boxes must stay wider and taller than this, in pixels.
	minAreaRatio    = 0.1  // Warped area over original area must exceed this.
	maxAspectRatio  = 10   // Either aspect ratio must stay below this.
	areaRatioGuard  = 1e-16
	aspectRatioEps  = 1e-16
	degreesToRadian = math.Pi / 180
)

// AffineRanges bounds the random draws of RandomAffine.
type AffineRanges struct {
	Degrees   [2]float64 // Rotation range.
	Translate [2]float64 // Max horizontal and vertical translation, as a fraction.
	Scale     [2]float64
	Shear     [2]float64 // Shear range in degrees, drawn independently for x and y.
}

// TrainingAffineRanges are the ranges used when augmenting training samples.
func TrainingAffineRanges() AffineRanges {
	return AffineRanges{
		Degrees:   [2]float64{-5, 5},
		Translate: [2]float64{0.10, 0.10},
		Scale:     [2]float64{0.50, 1.20},
		Shear:     [2]float64{-2, 2},
	}
}

// AffineParams is one draw of the warp parameters.
type AffineParams struct {
	Angle          float64 // Degrees.
	Scale          float64
	TX, TY         float64 // Pixels.
	ShearX, ShearY float64 // Degrees.
}

// IdentityAffine leaves images and boxes unchanged.
func IdentityAffine() AffineParams {
	return AffineParams{Scale: 1}
}

func uniform(rng Rand, r [2]float64) float64 {
	return rng.Float64()*(r[1]-r[0]) + r[0]
}

// DrawAffine draws warp parameters for a width x height image.
// The horizontal translation is scaled by the image height and the vertical
// one by the width, matching the transforms the published models were
// trained with.
func DrawAffine(rng Rand, r AffineRanges, width, height int) AffineParams {
	p := AffineParams{}
	p.Angle = uniform(rng, r.Degrees)
	p.Scale = uniform(rng, r.Scale)
	p.TX = (rng.Float64()*2 - 1) * r.Translate[0] * float64(height)
	p.TY = (rng.Float64()*2 - 1) * r.Translate[1] * float64(width)
	p.ShearX = uniform(rng, r.Shear)
	p.ShearY = uniform(rng, r.Shear)
	return p
}

// Matrix composes shear, translation and rotation-scale (about the image
// center) into one 3x3 transform, M = S * T * R.
func (p AffineParams) Matrix(width, height int) *mat.Dense {
	cx := float64(width) / 2
	cy := float64(height) / 2
	alpha := p.Scale * math.Cos(p.Angle*degreesToRadian)
	beta := p.Scale * math.Sin(p.Angle*degreesToRadian)
	r := mat.NewDense(3, 3, []float64{
		alpha, beta, (1-alpha)*cx - beta*cy,
		-beta, alpha, beta*cx + (1-alpha)*cy,
		0, 0, 1,
	})
	t := mat.NewDense(3, 3, []float64{
		1, 0, p.TX,
		0, 1, p.TY,
		0, 0, 1,
	})
	s := mat.NewDense(3, 3, []float64{
		1, math.Tan(p.ShearX * degreesToRadian), 0,
		math.Tan(p.ShearY * degreesToRadian), 1, 0,
		0, 0, 1,
	})
	var st mat.Dense
	st.Mul(s, t)
	var m mat.Dense
	m.Mul(&st, r)
	return &m
}

func apply(m *mat.Dense, x, y float64) (float64, float64) {
	return m.At(0, 0)*x + m.At(0, 1)*y + m.At(0, 2),
		m.At(1, 0)*x + m.At(1, 1)*y + m.At(1, 2)
}

// WarpBoxes transforms boxes by m and returns the indices of the boxes that
// survive together with their new coordinates.
//
// Each new box is the envelope of the four transformed corners, shrunk about
// its center by sqrt(max(|sin a|, |cos a|)) to undo envelope growth under
// rotation, then clipped to the image. A box is dropped when it ends up 4px
// or less wide or tall, keeps 10% or less of its area, or has an aspect
// ratio of 10 or more.
func WarpBoxes(boxes []Box, m *mat.Dense, angle float64, width, height int) ([]int, []Box) {
	radians := angle * degreesToRadian
	reduction := math.Sqrt(max(math.Abs(math.Sin(radians)), math.Abs(math.Cos(radians))))
	w := float64(width)
	h := float64(height)

	kept := make([]int, 0, len(boxes))
	out := make([]Box, 0, len(boxes))
	for i, b := range boxes {
		area0 := b.Area()
		xs := [4]float64{}
		ys := [4]float64{}
		xs[0], ys[0] = apply(m, b.X1, b.Y1)
		xs[1], ys[1] = apply(m, b.X2, b.Y2)
		xs[2], ys[2] = apply(m, b.X1, b.Y2)
		xs[3], ys[3] = apply(m, b.X2, b.Y1)
		env := Box{
			X1: min(xs[0], xs[1], xs[2], xs[3]),
			Y1: min(ys[0], ys[1], ys[2], ys[3]),
			X2: max(xs[0], xs[1], xs[2], xs[3]),
			Y2: max(ys[0], ys[1], ys[2], ys[3]),
		}

		cx := (env.X1 + env.X2) / 2
		cy := (env.Y1 + env.Y2) / 2
		bw := env.Width() * reduction
		bh := env.Height() * reduction
		nb := Box{
			X1: clamp(cx-bw/2, 0, w),
			Y1: clamp(cy-bh/2, 0, h),
			X2: clamp(cx+bw/2, 0, w),
			Y2: clamp(cy+bh/2, 0, h),
		}

		nw := nb.Width()
		nh := nb.Height()
		ar := max(nw/(nh+aspectRatioEps), nh/(nw+aspectRatioEps))
		if nw > minBoxSide && nh > minBoxSide && nb.Area()/(area0+areaRatioGuard) > minAreaRatio && ar < maxAspectRatio {
			kept = append(kept, i)
			out = append(out, nb)
		}
	}
	return kept, out
}

func clamp(v, lo, hi float64) float64 {
	return min(max(v, lo), hi)
}

// WarpImage applies m to img with a constant PadColor border.
// The caller owns the returned mat.
func WarpImage(img gocv.Mat, m *mat.Dense) gocv.Mat {
	cm := gocv.NewMatWithSize(3, 3, gocv.MatTypeCV64F)
	defer cm.Close()
	for r := 0; r < 3; r++ {
		for c := 0; c < 3; c++ {
			cm.SetDoubleAt(r, c, m.At(r, c))
		}
	}
	dst := gocv.NewMat()
	gocv.WarpPerspectiveWithParams(img, &dst, cm, image.Pt(img.Cols(), img.Rows()),
		gocv.InterpolationLinear, gocv.BorderConstant, PadColor)
	return dst
}

// RandomAffine warps img and its boxes with one random draw. It returns the
// warped image (owned by the caller), the indices of the surviving boxes,
// their new coordinates and the transform used.
func RandomAffine(img gocv.Mat, boxes []Box, rng Rand, r AffineRanges) (gocv.Mat, []int, []Box, *mat.Dense) {
	width, height := img.Cols(), img.Rows()
	p := DrawAffine(rng, r, width, height)
	m := p.Matrix(width, height)
	warped := WarpImage(img, m)
	kept, out := WarpBoxes(boxes, m, p.Angle, width, height)
	return warped, kept, out, m
}
