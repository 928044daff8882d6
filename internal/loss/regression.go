package loss

import (
	"fmt"

	"github.com/born-ml/born/tensor"
)

// maskEps keeps mask-normalized losses finite when nothing is masked in.
const maskEps = 1e-4

// regTarget is a regression target at the K object slots of every sample.
type regTarget struct {
	ind    []int32   // [N*K]
	mask   []float32 // [N*K]
	target []float32 // [N*K*C]
	k      int
}

// maskedL1 is sum|pred*m - target*m| / (sum(m) + eps) over the gathered
// object slots, with the object mask repeated over channels.
func maskedL1[B tensor.Backend](feat *tensor.Tensor[float32, B], t regTarget) *tensor.Tensor[float32, B] {
	pred := transposeAndGather(feat, t.ind, t.k)
	c := pred.Shape()[2]
	m := expandMask(t.mask, c)
	return weightedL1(pred, t.target, m)
}

// maskedSmoothL1 is the smooth-L1 (beta 1) counterpart of maskedL1,
// normalized by the number of objects.
func maskedSmoothL1[B tensor.Backend](feat *tensor.Tensor[float32, B], t regTarget) *tensor.Tensor[float32, B] {
	pred := transposeAndGather(feat, t.ind, t.k)
	shape := pred.Shape()
	m := expandMask(t.mask, shape[2])
	b := pred.Backend()
	mt := constant(b, m, shape...)
	d := pred.Mul(mt).Sub(constant(b, t.target, shape...).Mul(mt))
	a := abs(d)
	sl := tensor.Where(a.Lt(fullLike(a, 1)), scale(d.Mul(d), 0.5), shift(a, -0.5))
	return scale(sumAll(sl), 1/(total(t.mask)+maskEps))
}

// normL1 compares pred/(target+eps) against 1, a scale-free size loss.
func normL1[B tensor.Backend](feat *tensor.Tensor[float32, B], t regTarget) *tensor.Tensor[float32, B] {
	pred := transposeAndGather(feat, t.ind, t.k)
	shape := pred.Shape()
	b := pred.Backend()
	ratio := pred.Div(shift(constant(b, t.target, shape...), maskEps))
	ones := make([]float32, len(t.target))
	for i := range ones {
		ones[i] = 1
	}
	return weightedL1(ratio, ones, expandMask(t.mask, shape[2]))
}

// catSpecL1 gathers class-specific sizes [N, K, 2C] and weights them with
// the per-class mask.
func catSpecL1[B tensor.Backend](feat *tensor.Tensor[float32, B], ind []int32, k int, target, mask []float32) *tensor.Tensor[float32, B] {
	pred := transposeAndGather(feat, ind, k)
	return weightedL1(pred, target, mask)
}

// denseL1 is the masked L1 over the full size map.
func denseL1[B tensor.Backend](feat *tensor.Tensor[float32, B], target, mask []float32) *tensor.Tensor[float32, B] {
	if feat.NumElements() != len(target) {
		panic(fmt.Sprintf("loss: dense size map has %d values, target %d", feat.NumElements(), len(target)))
	}
	return weightedL1(feat, target, mask)
}

func weightedL1[B tensor.Backend](pred *tensor.Tensor[float32, B], target, mask []float32) *tensor.Tensor[float32, B] {
	if pred.NumElements() != len(target) || len(target) != len(mask) {
		panic(fmt.Sprintf("loss: prediction %v does not match %d targets and %d mask values", pred.Shape(), len(target), len(mask)))
	}
	b := pred.Backend()
	shape := pred.Shape()
	mt := constant(b, mask, shape...)
	d := pred.Mul(mt).Sub(constant(b, target, shape...).Mul(mt))
	return scale(sumAll(abs(d)), 1/(total(mask)+maskEps))
}
