package loss

import (
	"fmt"

	"github.com/born-ml/born/tensor"
)

// focalLoss is the penalty-reduced pixel-wise focal loss of center-point
// detectors. pred holds probabilities, gt the Gaussian-encoded targets;
// cells with gt == 1 are positives and the loss is normalized by their
// count. Negatives near a peak are down-weighted by (1 - gt)^4.
func focalLoss[B tensor.Backend](pred *tensor.Tensor[float32, B], gt []float32) *tensor.Tensor[float32, B] {
	if pred.NumElements() != len(gt) {
		panic(fmt.Sprintf("loss: heatmap has %d cells, target %d", pred.NumElements(), len(gt)))
	}
	pos := make([]float32, len(gt))
	negWeight := make([]float32, len(gt))
	var numPos float32
	for i, g := range gt {
		if g == 1 {
			pos[i] = 1
			numPos++
			continue
		}
		w := 1 - g
		w *= w
		negWeight[i] = w * w
	}
	b := pred.Backend()
	shape := pred.Shape()

	q := oneMinus(pred)
	posTerm := pred.Log().Mul(q).Mul(q).Mul(constant(b, pos, shape...))
	negTerm := q.Log().Mul(pred).Mul(pred).Mul(constant(b, negWeight, shape...))
	if numPos == 0 {
		return scale(sumAll(negTerm), -1)
	}
	return scale(sumAll(posTerm.Add(negTerm)), -1/numPos)
}

// mseLoss is the mean squared error over all heatmap cells.
func mseLoss[B tensor.Backend](pred *tensor.Tensor[float32, B], gt []float32) *tensor.Tensor[float32, B] {
	if pred.NumElements() != len(gt) {
		panic(fmt.Sprintf("loss: heatmap has %d cells, target %d", pred.NumElements(), len(gt)))
	}
	d := pred.Sub(constant(pred.Backend(), gt, pred.Shape()...))
	return scale(sumAll(d.Mul(d)), 1/float32(len(gt)))
}
