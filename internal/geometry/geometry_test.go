package geometry

import (
	"math"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gocv.io/x/gocv"
)

func TestLetterboxGeometry(t *testing.T) {
	cases := []struct{ h, w, th, tw int }{
		{1080, 1920, 608, 1088},
		{480, 640, 608, 1088},
		{1000, 333, 608, 1088},
		{608, 1088, 608, 1088},
		{7, 1001, 320, 320},
	}
	for _, c := range cases {
		lb := LetterboxGeometry(c.h, c.w, c.th, c.tw)
		assert.InDelta(t, float64(c.tw), lb.DW*2+math.RoundToEven(float64(c.w)*lb.Ratio), 1, "%+v", c)
		assert.InDelta(t, float64(c.th), lb.DH*2+math.RoundToEven(float64(c.h)*lb.Ratio), 1, "%+v", c)
		assert.Equal(t, c.tw, lb.Left+lb.NewWidth+lb.Right, "%+v", c)
		assert.Equal(t, c.th, lb.Top+lb.NewHeight+lb.Bottom, "%+v", c)
		assert.LessOrEqual(t, lb.Left, lb.Right)
		assert.LessOrEqual(t, lb.Top, lb.Bottom)
	}
}

func TestLetterboxImage(t *testing.T) {
	img := gocv.NewMatWithSize(480, 640, gocv.MatTypeCV8UC3)
	defer img.Close()
	out, lb := Letterbox(img, 608, 1088)
	defer out.Close()
	assert.Equal(t, 608, out.Rows())
	assert.Equal(t, 1088, out.Cols())
	assert.InDelta(t, 608.0/480.0, lb.Ratio, 1e-12)
}

func TestIdentityAffineKeepsBoxes(t *testing.T) {
	m := IdentityAffine().Matrix(1088, 608)
	boxes := []Box{{X1: 100, Y1: 50, X2: 180, Y2: 250}, {X1: 0, Y1: 0, X2: 40, Y2: 90}}
	kept, out := WarpBoxes(boxes, m, 0, 1088, 608)
	require.Equal(t, []int{0, 1}, kept)
	for i := range boxes {
		assert.InDelta(t, boxes[i].X1, out[i].X1, 1e-9)
		assert.InDelta(t, boxes[i].Y1, out[i].Y1, 1e-9)
		assert.InDelta(t, boxes[i].X2, out[i].X2, 1e-9)
		assert.InDelta(t, boxes[i].Y2, out[i].Y2, 1e-9)
	}
}

func TestWarpBoxesRejectsSlivers(t *testing.T) {
	m := IdentityAffine().Matrix(640, 480)
	boxes := []Box{
		{X1: 10, Y1: 10, X2: 14, Y2: 100},    // 4px wide
		{X1: 10, Y1: 10, X2: 100, Y2: 13},    // 3px tall
		{X1: 10, Y1: 10, X2: 20, Y2: 120},    // aspect ratio 11
		{X1: 630, Y1: 10, X2: 740, Y2: 60},   // mostly outside, 10/110 of area left
		{X1: 600, Y1: 400, X2: 660, Y2: 470}, // clipped but keeps 40/60 of width
	}
	kept, out := WarpBoxes(boxes, m, 0, 640, 480)
	require.Equal(t, []int{4}, kept)
	assert.Equal(t, 640.0, out[0].X2)
}

func TestWarpBoxesShrinkUnderRotation(t *testing.T) {
	p := AffineParams{Angle: 5, Scale: 1}
	m := p.Matrix(1000, 1000)
	kept, out := WarpBoxes([]Box{{X1: 400, Y1: 400, X2: 600, Y2: 600}}, m, p.Angle, 1000, 1000)
	require.Len(t, kept, 1)
	// A square rotated by 5 degrees has an envelope of 200*(cos+sin).
	reduction := math.Sqrt(math.Cos(5 * math.Pi / 180))
	want := 200 * (math.Cos(5*math.Pi/180) + math.Sin(5*math.Pi/180)) * reduction
	assert.InDelta(t, want, out[0].Width(), 1e-6)
	assert.InDelta(t, 500, (out[0].X1+out[0].X2)/2, 1e-6)
}

func TestMatrixOrder(t *testing.T) {
	// With pure translation and shear, M = S*T puts the shear into the translation column.
	p := AffineParams{Scale: 1, TX: 10, TY: 0, ShearX: 45}
	m := p.Matrix(100, 100)
	x, y := apply(m, 0, 0)
	assert.InDelta(t, 10, x, 1e-9)
	assert.InDelta(t, 0, y, 1e-9)
	x, _ = apply(m, 0, 1)
	assert.InDelta(t, 11, x, 1e-9)
}

func TestDrawAffineWithinRanges(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	r := TrainingAffineRanges()
	for i := 0; i < 100; i++ {
		p := DrawAffine(rng, r, 1088, 608)
		assert.GreaterOrEqual(t, p.Angle, -5.0)
		assert.Less(t, p.Angle, 5.0)
		assert.GreaterOrEqual(t, p.Scale, 0.5)
		assert.Less(t, p.Scale, 1.2)
		assert.LessOrEqual(t, math.Abs(p.TX), 0.1*608)
		assert.LessOrEqual(t, math.Abs(p.TY), 0.1*1088)
	}
}

func TestDrawAffineReproducible(t *testing.T) {
	a := DrawAffine(rand.New(rand.NewSource(3)), TrainingAffineRanges(), 640, 480)
	b := DrawAffine(rand.New(rand.NewSource(3)), TrainingAffineRanges(), 640, 480)
	assert.Equal(t, a, b)
}

func TestFlipTwice(t *testing.T) {
	anns := []Annotation{{CX: 0.25, W: 0.1}, {CX: 0.5, W: 0.2}, {CX: 0.875, W: 0.05}}
	orig := append([]Annotation(nil), anns...)
	FlipAnnotations(anns)
	assert.Equal(t, 0.75, anns[0].CX)
	FlipAnnotations(anns)
	assert.Equal(t, orig, anns)
}

func TestFlipImage(t *testing.T) {
	img := gocv.NewMatWithSizeFromScalar(gocv.NewScalar(0, 0, 0, 0), 2, 3, gocv.MatTypeCV8UC3)
	defer img.Close()
	img.SetUCharAt(0, 0, 255) // blue channel of the top-left pixel
	flipped := FlipHorizontal(img)
	defer flipped.Close()
	assert.Equal(t, uint8(255), flipped.GetUCharAt(0, 2*3))
	assert.Equal(t, uint8(0), flipped.GetUCharAt(0, 0))
}

func TestPixelBoxRoundTrip(t *testing.T) {
	lb := LetterboxGeometry(480, 640, 608, 1088)
	a := Annotation{Class: 0, Identity: 3, CX: 0.5, CY: 0.5, W: 0.25, H: 0.5}
	b := PixelBox(a, lb, 640, 480)
	// The scaled width is rounded to whole pixels, so the center may drift by half a pixel.
	assert.InDelta(t, 1088.0/2, (b.X1+b.X2)/2, 0.5)
	assert.InDelta(t, 608.0/2, (b.Y1+b.Y2)/2, 1e-9)
	n := b.Normalized(a, 1088, 608)
	assert.Equal(t, 3, n.Identity)
	assert.InDelta(t, 0.5, n.CX, 1e-3)
	assert.InDelta(t, 0.5, n.H, 1e-9)

	src := lb.ToSource(b)
	assert.InDelta(t, 240, src.X1, 1e-6)
	assert.InDelta(t, 120, src.Y1, 1e-6)
	assert.InDelta(t, 400, src.X2, 1e-6)
	assert.InDelta(t, 360, src.Y2, 1e-6)
}
