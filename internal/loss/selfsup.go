package loss

import (
	"math"

	"github.com/born-ml/born/nn"
	"github.com/born-ml/born/tensor"
)

const (
	ntXentTemperature = 0.5
	tripletMargin     = 0.5
	maskedLogit       = -1e9
	distEps           = 1e-12
	positiveEps       = 1e-16
)

// group is the embeddings of one sample: row r of orig and flipped belong
// to the same object. orig rows carry the embedding scale, flipped rows are
// unit length. Groups never share negatives.
type group[B tensor.Backend] struct {
	orig, flipped *tensor.Tensor[float32, B] // [n, D]
	n             int
}

// pairLoss compares the original and mirrored embeddings of one group.
type pairLoss[B tensor.Backend] func(g group[B]) *tensor.Tensor[float32, B]

// stacked returns [orig; flipped], so row r and row r+n are the two views
// of object r.
func (g group[B]) stacked() *tensor.Tensor[float32, B] {
	return tensor.Cat([]*tensor.Tensor[float32, B]{g.orig, g.flipped}, 0)
}

// ntXent returns the normalized-temperature cross-entropy of a group: each
// embedding must pick out its mirror among all other 2n-1 embeddings.
// Similarities are cosines, so the embedding scale does not matter here.
func ntXent[B tensor.Backend](ce *nn.CrossEntropyLoss[B]) pairLoss[B] {
	return func(g group[B]) *tensor.Tensor[float32, B] {
		z := normalizeRows(g.stacked())
		m := 2 * g.n
		b := z.Backend()
		sim := scale(z.MatMul(z.Transpose(1, 0)), 1/float32(ntXentTemperature))

		diag := make([]bool, m*m)
		targets := make([]int32, m)
		for i := 0; i < m; i++ {
			diag[i*m+i] = true
			targets[i] = int32((i + g.n) % m)
		}
		logits := tensor.Where(boolMask(b, diag, m, m), fullLike(sim, maskedLogit), sim)
		return ce.Forward(logits, indices(b, targets, m)).Reshape(1)
	}
}

// distances returns the pairwise Euclidean distances [m, m] between the
// rows of z, from |a|^2 + |b|^2 - 2a.b.
func distances[B tensor.Backend](z *tensor.Tensor[float32, B]) *tensor.Tensor[float32, B] {
	m := z.Shape()[0]
	norms := repeatCols(rowSums(z.Mul(z)), m)
	sq := norms.Add(norms.Transpose(1, 0)).Sub(scale(z.MatMul(z.Transpose(1, 0)), 2))
	return shift(relu(sq), distEps).Sqrt()
}

// tripletAll averages the margin loss over every valid (anchor, positive,
// negative) triplet of the group that still violates the margin.
func tripletAll[B tensor.Backend]() pairLoss[B] {
	return func(g group[B]) *tensor.Tensor[float32, B] {
		z := g.stacked()
		m := 2 * g.n
		b := z.Backend()
		d := distances(z)

		// ap[(a,p), x] = d[a,p]; an[(a,p), x] = d[a,x].
		ap := repeatCols(d.Reshape(m*m, 1), m)
		anchor := make([]int32, m*m*m)
		valid := make([]float32, m*m*m)
		for a := 0; a < m; a++ {
			for p := 0; p < m; p++ {
				row := (a*m + p) * m
				for x := 0; x < m; x++ {
					anchor[row+x] = int32(a)
					if a != p && a != x && p != x && a%g.n == p%g.n && a%g.n != x%g.n {
						valid[row+x] = 1
					}
				}
			}
		}
		an := d.Gather(0, indices(b, anchor, m*m, m))
		t := relu(shift(ap.Sub(an), tripletMargin)).Mul(constant(b, valid, m*m, m))

		var positive float32
		for _, v := range t.Data() {
			if v > positiveEps {
				positive++
			}
		}
		return scale(sumAll(t), 1/(positive+positiveEps))
	}
}

// tripletHard uses, for every anchor, its farthest positive and nearest
// negative.
func tripletHard[B tensor.Backend]() pairLoss[B] {
	return func(g group[B]) *tensor.Tensor[float32, B] {
		z := g.stacked()
		m := 2 * g.n
		b := z.Backend()
		d := distances(z)
		dist := d.Data()

		hardPos := make([]int32, m)
		hardNeg := make([]int32, m)
		for a := 0; a < m; a++ {
			maxPos, minNeg := float32(-1), float32(math.MaxFloat32)
			for x := 0; x < m; x++ {
				v := dist[a*m+x]
				switch {
				case x == a:
				case x%g.n == a%g.n:
					if v > maxPos {
						maxPos, hardPos[a] = v, int32(x)
					}
				default:
					if v < minNeg {
						minNeg, hardNeg[a] = v, int32(x)
					}
				}
			}
		}
		pos := d.Gather(1, indices(b, hardPos, m, 1))
		neg := d.Gather(1, indices(b, hardNeg, m, 1))
		return scale(sumAll(relu(shift(pos.Sub(neg), tripletMargin))), 1/float32(m))
	}
}
