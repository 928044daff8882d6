package target

import (
	"math"

	"github.com/chewxy/math32"
)

// minOverlap is the IoU a peak placed anywhere inside the radius must keep
// with the ground-truth box.
const minOverlap = 0.7

// float64 machine epsilon; kernel values below eps*peak are zeroed.
const kernelEps = 2.220446049250313e-16

// GaussianRadius returns the largest radius such that a box of the given
// size, shifted by up to that radius, still overlaps the original by
// minOverlap. It is the smallest root of the three corner cases.
func GaussianRadius(height, width float64) float64 {
	b1 := height + width
	c1 := width * height * (1 - minOverlap) / (1 + minOverlap)
	r1 := (b1 + math.Sqrt(b1*b1-4*c1)) / 2

	b2 := 2 * (height + width)
	c2 := (1 - minOverlap) * width * height
	r2 := (b2 + math.Sqrt(b2*b2-16*c2)) / 2

	a3 := 4 * minOverlap
	b3 := -2 * minOverlap * (height + width)
	c3 := (minOverlap - 1) * width * height
	r3 := (b3 + math.Sqrt(b3*b3-4*a3*c3)) / 2

	return min(r1, r2, r3)
}

// Kernel is a square, unnormalized Gaussian with value 1 at its center.
type Kernel struct {
	Size   int
	Values []float32
}

func (k Kernel) at(y, x int) float32 { return k.Values[y*k.Size+x] }

// NewKernel builds a (2*radius+1)^2 kernel with sigma = diameter/6.
func NewKernel(radius int) Kernel {
	d := 2*radius + 1
	return gaussianKernel(d, float32(d)/6)
}

func gaussianKernel(size int, sigma float32) Kernel {
	k := Kernel{Size: size, Values: make([]float32, size*size)}
	c := float32(size-1) / 2
	var peak float32
	for y := 0; y < size; y++ {
		for x := 0; x < size; x++ {
			dx := float32(x) - c
			dy := float32(y) - c
			v := math32.Exp(-(dx*dx + dy*dy) / (2 * sigma * sigma))
			k.Values[y*size+x] = v
			peak = max(peak, v)
		}
	}
	for i, v := range k.Values {
		if float64(v) < kernelEps*float64(peak) {
			k.Values[i] = 0
		}
	}
	return k
}

// Plane is a single H x W float32 channel backed by a shared slice.
type Plane struct {
	Width, Height int
	Data          []float32
}

func (p Plane) at(y, x int) float32     { return p.Data[y*p.Width+x] }
func (p Plane) set(y, x int, v float32) { p.Data[y*p.Width+x] = v }

// window is the intersection of a kernel centered at (cx, cy) with a plane.
type window struct {
	left, right, top, bottom int
}

func clipWindow(p Plane, cx, cy, radius int) window {
	return window{
		left:   min(cx, radius),
		right:  min(p.Width-cx, radius+1),
		top:    min(cy, radius),
		bottom: min(p.Height-cy, radius+1),
	}
}

func (w window) empty() bool {
	return w.left+w.right <= 0 || w.top+w.bottom <= 0
}

// DrawUMich stamps a radius-sized Gaussian peak at the integer center
// (cx, cy), keeping the per-pixel maximum with existing values.
func DrawUMich(p Plane, cx, cy, radius int) {
	k := NewKernel(radius)
	w := clipWindow(p, cx, cy, radius)
	if w.empty() {
		return
	}
	for dy := -w.top; dy < w.bottom; dy++ {
		for dx := -w.left; dx < w.right; dx++ {
			g := k.at(radius+dy, radius+dx)
			if g > p.at(cy+dy, cx+dx) {
				p.set(cy+dy, cx+dx, g)
			}
		}
	}
}

// DrawMSRA stamps a Gaussian with the given sigma at the rounded center,
// truncated at three sigma.
func DrawMSRA(p Plane, cx, cy float32, sigma int) {
	tmp := sigma * 3
	mux := int(cx + 0.5)
	muy := int(cy + 0.5)
	ulx, uly := mux-tmp, muy-tmp
	brx, bry := mux+tmp+1, muy+tmp+1
	if ulx >= p.Width || uly >= p.Height || brx < 0 || bry < 0 {
		return
	}
	size := 2*tmp + 1
	k := gaussianKernel(size, float32(sigma))
	for y := max(0, uly); y < min(bry, p.Height); y++ {
		for x := max(0, ulx); x < min(brx, p.Width); x++ {
			g := k.at(y-uly, x-ulx)
			if g > p.at(y, x) {
				p.set(y, x, g)
			}
		}
	}
}

// DrawDenseReg writes value into every regs plane over the radius-sized
// footprint at (cx, cy) wherever the kernel is at least the current
// heatmap value.
func DrawDenseReg(regs []Plane, heat Plane, cx, cy int, value []float32, radius int) {
	k := NewKernel(radius)
	w := clipWindow(heat, cx, cy, radius)
	if w.empty() {
		return
	}
	for dy := -w.top; dy < w.bottom; dy++ {
		for dx := -w.left; dx < w.right; dx++ {
			if k.at(radius+dy, radius+dx) < heat.at(cy+dy, cx+dx) {
				continue
			}
			for c, r := range regs {
				r.set(cy+dy, cx+dx, value[c])
			}
		}
	}
}
