// Package target rasterizes per-sample annotations into the dense training
// targets of a center-point detector: class heatmaps, size and offset
// regressions, flat center indices, identities and their masks.
package target

import (
	"errors"
	"fmt"

	"github.com/chewxy/math32"

	"github.com/born-ml/jde/internal/config"
	"github.com/born-ml/jde/internal/geometry"
)

// ErrViewMismatch reports that the original and flipped views of a sample
// do not describe the same objects.
var ErrViewMismatch = errors.New("target: original and flipped views disagree")

// Target is the encoded ground truth of one sample. Fixed-capacity slices
// hold K entries; entries past the encoded objects are zero.
type Target struct {
	Classes, Height, Width int

	HM      []float32 // [C, H, W]
	WH      []float32 // [K, 2]
	Reg     []float32 // [K, 2]
	Ind     []int32   // [K], y*W + x on the output grid.
	RegMask []float32 // [K]
	IDs     []int32   // [K], global identity or -1.

	// Set when a flipped view was encoded.
	FlippedInd   []int32 // [K]
	FlippedValid bool

	NumObjs int
	// UnknownClasses counts annotations dropped for a class outside
	// [0, NumClasses).
	UnknownClasses int

	DenseWH     []float32 // [2, H, W], dense_wh only.
	DenseWHMask []float32 // [2, H, W], dense_wh only.
	CatSpecWH   []float32 // [K, 2C], cat_spec_wh only.
	CatSpecMask []float32 // [K, 2C], cat_spec_wh only.

	GT GTBoxes
}

// GTBoxes keeps the encoded boxes in output-grid coordinates for inspection.
type GTBoxes struct {
	Boxes        []geometry.Box
	Classes      []int
	Centers      [][2]float32
	FlippedBoxes []geometry.Box
	FlippedCts   [][2]float32
}

// Encoder converts annotations into targets on the output grid.
// It holds no mutable state and may be shared across workers.
type Encoder struct {
	k         int
	classes   int
	width     int
	height    int
	mse       bool
	hmGauss   int
	denseWH   bool
	catSpecWH bool
}

// NewEncoder returns an encoder for the output grid described by opt.
func NewEncoder(opt config.Options) *Encoder {
	return &Encoder{
		k:         opt.K,
		classes:   opt.NumClasses,
		width:     opt.OutputWidth(),
		height:    opt.OutputHeight(),
		mse:       opt.MSELoss,
		hmGauss:   opt.HMGauss,
		denseWH:   opt.DenseWH,
		catSpecWH: opt.CatSpecWH,
	}
}

// OutputSize returns the output grid width and height.
func (e *Encoder) OutputSize() (int, int) { return e.width, e.height }

// CheckViews returns ErrViewMismatch unless the flipped view holds the same
// objects as the original view, in the same order.
func CheckViews(orig, flipped []geometry.Annotation) error {
	if len(orig) != len(flipped) {
		return fmt.Errorf("%w: %d original vs %d flipped objects", ErrViewMismatch, len(orig), len(flipped))
	}
	for k := range orig {
		if orig[k].Source != flipped[k].Source {
			return fmt.Errorf("%w: object %d is label %d in the original view and %d in the flipped view",
				ErrViewMismatch, k, orig[k].Source, flipped[k].Source)
		}
	}
	return nil
}

type gridBox struct {
	cx, cy float32
	w, h   float32
}

func (e *Encoder) toGrid(a geometry.Annotation) gridBox {
	fw := float32(e.width)
	fh := float32(e.height)
	return gridBox{
		cx: min(max(float32(a.CX)*fw, 0), fw-1),
		cy: min(max(float32(a.CY)*fh, 0), fh-1),
		w:  float32(a.W) * fw,
		h:  float32(a.H) * fh,
	}
}

func (g gridBox) box() geometry.Box {
	return geometry.Box{
		X1: float64(g.cx - g.w/2), Y1: float64(g.cy - g.h/2),
		X2: float64(g.cx + g.w/2), Y2: float64(g.cy + g.h/2),
	}
}

// Encode rasterizes labels (with global identities already applied) into a
// Target. When flipped is non-nil it must correspond 1:1 with labels;
// otherwise the flipped indices are left zero and FlippedValid is false.
// Objects past the capacity K are dropped.
func (e *Encoder) Encode(labels, flipped []geometry.Annotation) *Target {
	hw := e.width * e.height
	t := &Target{
		Classes: e.classes,
		Height:  e.height,
		Width:   e.width,
		HM:      make([]float32, e.classes*hw),
		WH:      make([]float32, e.k*2),
		Reg:     make([]float32, e.k*2),
		Ind:     make([]int32, e.k),
		RegMask: make([]float32, e.k),
		IDs:     make([]int32, e.k),
	}
	if e.denseWH {
		t.DenseWH = make([]float32, 2*hw)
		t.DenseWHMask = make([]float32, 2*hw)
	}
	if e.catSpecWH {
		t.CatSpecWH = make([]float32, e.k*2*e.classes)
		t.CatSpecMask = make([]float32, e.k*2*e.classes)
	}
	planes := make([]Plane, e.classes)
	for c := range planes {
		planes[c] = Plane{Width: e.width, Height: e.height, Data: t.HM[c*hw : (c+1)*hw]}
	}
	var maxHeat Plane
	var denseRegs []Plane
	if e.denseWH {
		maxHeat = Plane{Width: e.width, Height: e.height, Data: make([]float32, hw)}
		denseRegs = []Plane{
			{Width: e.width, Height: e.height, Data: t.DenseWH[:hw]},
			{Width: e.width, Height: e.height, Data: t.DenseWH[hw:]},
		}
	}

	n := min(len(labels), e.k)
	for k := 0; k < n; k++ {
		a := labels[k]
		cls := a.Class
		if cls < 0 || cls >= e.classes {
			t.UnknownClasses++
			continue
		}
		g := e.toGrid(a)
		if g.h <= 0 || g.w <= 0 {
			continue
		}
		radius := max(0, int(GaussianRadius(float64(math32.Ceil(g.h)), float64(math32.Ceil(g.w)))))
		if e.mse {
			radius = e.hmGauss
		}
		ix, iy := int(g.cx), int(g.cy)
		if e.mse {
			DrawMSRA(planes[cls], g.cx, g.cy, radius)
		} else {
			DrawUMich(planes[cls], ix, iy, radius)
		}
		t.WH[2*k], t.WH[2*k+1] = g.w, g.h
		t.Ind[k] = int32(iy*e.width + ix)
		t.Reg[2*k], t.Reg[2*k+1] = g.cx-float32(ix), g.cy-float32(iy)
		t.RegMask[k] = 1
		t.IDs[k] = int32(a.Identity)
		t.NumObjs++

		if e.catSpecWH {
			row := k * 2 * e.classes
			t.CatSpecWH[row+2*cls], t.CatSpecWH[row+2*cls+1] = g.w, g.h
			t.CatSpecMask[row+2*cls], t.CatSpecMask[row+2*cls+1] = 1, 1
		}
		if e.denseWH {
			channelMax(maxHeat, planes)
			DrawDenseReg(denseRegs, maxHeat, ix, iy, []float32{g.w, g.h}, radius)
		}

		t.GT.Boxes = append(t.GT.Boxes, g.box())
		t.GT.Classes = append(t.GT.Classes, cls)
		t.GT.Centers = append(t.GT.Centers, [2]float32{g.cx, g.cy})
	}

	if e.denseWH {
		channelMax(maxHeat, planes)
		copy(t.DenseWHMask[:hw], maxHeat.Data)
		copy(t.DenseWHMask[hw:], maxHeat.Data)
	}

	if flipped != nil {
		e.encodeFlipped(t, labels, flipped)
	}
	return t
}

// encodeFlipped fills the flipped-view centers of every object encoded in
// the original view. Sizes and radii are not recomputed.
func (e *Encoder) encodeFlipped(t *Target, labels, flipped []geometry.Annotation) {
	t.FlippedInd = make([]int32, e.k)
	if CheckViews(labels, flipped) != nil {
		return
	}
	t.FlippedValid = true
	n := min(len(flipped), e.k)
	for k := 0; k < n; k++ {
		if t.RegMask[k] == 0 {
			continue
		}
		g := e.toGrid(flipped[k])
		if g.h <= 0 || g.w <= 0 {
			t.FlippedValid = false
			continue
		}
		t.FlippedInd[k] = int32(int(g.cy)*e.width + int(g.cx))
		t.GT.FlippedBoxes = append(t.GT.FlippedBoxes, g.box())
		t.GT.FlippedCts = append(t.GT.FlippedCts, [2]float32{g.cx, g.cy})
	}
}

func channelMax(dst Plane, planes []Plane) {
	for i := range dst.Data {
		var m float32
		for _, p := range planes {
			m = max(m, p.Data[i])
		}
		dst.Data[i] = m
	}
}
