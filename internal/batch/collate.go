// Package batch stacks encoded samples into fixed-shape batches and loads
// them in parallel.
package batch

import (
	"errors"
	"fmt"

	"github.com/born-ml/jde/internal/dataset"
)

// ErrEmptyBatch is returned when collating no samples.
var ErrEmptyBatch = errors.New("batch: no samples")

// Batch is a stack of samples in row-major float32/int32 buffers, ready to
// be wrapped by tensors. Per-sample targets share the shapes set by the
// encoder: K objects, C classes, an H x W output grid.
type Batch struct {
	Size          int
	InputWidth    int
	InputHeight   int
	Images        []float32 // [B, 3, InputHeight, InputWidth]
	FlippedImages []float32 // [B, 3, InputHeight, InputWidth], self-supervised only.

	// Raw labels padded to the longest list in the batch.
	MaxLabels int
	Labels    []float32 // [B, MaxLabels, 6]
	LabelMask []float32 // [B, MaxLabels]
	LabelsLen []int
	Paths     []string
	Sizes     [][2]int // Source (height, width).

	K, Classes    int
	Width, Height int       // Output grid.
	HM            []float32 // [B, C, H, W]
	WH            []float32 // [B, K, 2]
	Reg           []float32 // [B, K, 2]
	Ind           []int32   // [B, K]
	RegMask       []float32 // [B, K]
	IDs           []int32   // [B, K]
	NumObjs       []int

	FlippedInd   []int32 // [B, K]
	FlippedValid []bool

	DenseWH     []float32 // [B, 2, H, W]
	DenseWHMask []float32 // [B, 2, H, W]
	CatSpecWH   []float32 // [B, K, 2C]
	CatSpecMask []float32 // [B, K, 2C]
}

// Unsup reports whether the batch carries flipped views.
func (b *Batch) Unsup() bool { return b.FlippedInd != nil }

// Collate stacks samples. Every sample must come from the same dataset
// configuration; the flipped view must be present in all samples or none.
func Collate(samples []*dataset.Sample) (*Batch, error) {
	if len(samples) == 0 {
		return nil, ErrEmptyBatch
	}
	first := samples[0]
	tg := first.Target
	b := &Batch{
		Size:        len(samples),
		InputWidth:  first.Image.Width,
		InputHeight: first.Image.Height,
		K:           len(tg.Ind),
		Classes:     tg.Classes,
		Width:       tg.Width,
		Height:      tg.Height,
	}
	hw := len(tg.HM)
	for _, s := range samples {
		b.MaxLabels = max(b.MaxLabels, len(s.Labels))
	}
	unsup := first.FlippedImage != nil

	for i, s := range samples {
		if len(s.Image.Data) != len(first.Image.Data) || len(s.Target.HM) != hw || len(s.Target.Ind) != b.K {
			return nil, fmt.Errorf("batch: sample %d (%s) does not match the shape of sample 0", i, s.Path)
		}
		if (s.FlippedImage != nil) != unsup {
			return nil, fmt.Errorf("batch: sample %d (%s) disagrees on the flipped view", i, s.Path)
		}
		b.Images = append(b.Images, s.Image.Data...)
		if unsup {
			b.FlippedImages = append(b.FlippedImages, s.FlippedImage.Data...)
		}

		rows := make([]float32, b.MaxLabels*6)
		mask := make([]float32, b.MaxLabels)
		for k, a := range s.Labels {
			r := a.Row()
			copy(rows[k*6:], r[:])
			mask[k] = 1
		}
		b.Labels = append(b.Labels, rows...)
		b.LabelMask = append(b.LabelMask, mask...)
		b.LabelsLen = append(b.LabelsLen, len(s.Labels))
		b.Paths = append(b.Paths, s.Path)
		b.Sizes = append(b.Sizes, [2]int{s.Height, s.Width})

		t := s.Target
		b.HM = append(b.HM, t.HM...)
		b.WH = append(b.WH, t.WH...)
		b.Reg = append(b.Reg, t.Reg...)
		b.Ind = append(b.Ind, t.Ind...)
		b.RegMask = append(b.RegMask, t.RegMask...)
		b.IDs = append(b.IDs, t.IDs...)
		b.NumObjs = append(b.NumObjs, t.NumObjs)
		if unsup {
			b.FlippedInd = append(b.FlippedInd, t.FlippedInd...)
			b.FlippedValid = append(b.FlippedValid, t.FlippedValid)
		}
		b.DenseWH = append(b.DenseWH, t.DenseWH...)
		b.DenseWHMask = append(b.DenseWHMask, t.DenseWHMask...)
		b.CatSpecWH = append(b.CatSpecWH, t.CatSpecWH...)
		b.CatSpecMask = append(b.CatSpecMask, t.CatSpecMask...)
	}
	return b, nil
}
