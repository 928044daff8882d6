package loss

import (
	"fmt"

	"github.com/born-ml/born/tensor"
)

// Tensor helpers. Everything here is built from ops that record a backward
// pass (element-wise binary ops, MatMul, Reshape, Transpose, Gather, Where,
// Exp, Log, Sqrt, Rsqrt), so losses built on them train under autodiff.
// Scalars enter as constant tensors of the operand's shape.

func constant[B tensor.Backend](b B, data []float32, shape ...int) *tensor.Tensor[float32, B] {
	t, err := tensor.FromSlice(data, tensor.Shape(shape), b)
	if err != nil {
		panic(fmt.Sprintf("loss: constant %v: %v", shape, err))
	}
	return t
}

func indices[B tensor.Backend](b B, data []int32, shape ...int) *tensor.Tensor[int32, B] {
	t, err := tensor.FromSlice(data, tensor.Shape(shape), b)
	if err != nil {
		panic(fmt.Sprintf("loss: index %v: %v", shape, err))
	}
	return t
}

func boolMask[B tensor.Backend](b B, data []bool, shape ...int) *tensor.Tensor[bool, B] {
	t, err := tensor.FromSlice(data, tensor.Shape(shape), b)
	if err != nil {
		panic(fmt.Sprintf("loss: mask %v: %v", shape, err))
	}
	return t
}

func fullLike[B tensor.Backend](x *tensor.Tensor[float32, B], v float32) *tensor.Tensor[float32, B] {
	return tensor.Full[float32](x.Shape(), v, x.Backend())
}

func zero[B tensor.Backend](b B) *tensor.Tensor[float32, B] {
	return tensor.Zeros[float32](tensor.Shape{1}, b)
}

func scale[B tensor.Backend](x *tensor.Tensor[float32, B], s float32) *tensor.Tensor[float32, B] {
	return x.Mul(fullLike(x, s))
}

func shift[B tensor.Backend](x *tensor.Tensor[float32, B], s float32) *tensor.Tensor[float32, B] {
	return x.Add(fullLike(x, s))
}

// oneMinus returns 1 - x.
func oneMinus[B tensor.Backend](x *tensor.Tensor[float32, B]) *tensor.Tensor[float32, B] {
	return fullLike(x, 1).Sub(x)
}

// sumAll reduces x to shape [1].
func sumAll[B tensor.Backend](x *tensor.Tensor[float32, B]) *tensor.Tensor[float32, B] {
	n := x.NumElements()
	ones := tensor.Ones[float32](tensor.Shape{n, 1}, x.Backend())
	return x.Reshape(1, n).MatMul(ones).Reshape(1)
}

// rowSums reduces [n, c] to [n, 1].
func rowSums[B tensor.Backend](x *tensor.Tensor[float32, B]) *tensor.Tensor[float32, B] {
	c := x.Shape()[1]
	return x.MatMul(tensor.Ones[float32](tensor.Shape{c, 1}, x.Backend()))
}

// repeatCols broadcasts [n, 1] to [n, c].
func repeatCols[B tensor.Backend](x *tensor.Tensor[float32, B], c int) *tensor.Tensor[float32, B] {
	return x.MatMul(tensor.Ones[float32](tensor.Shape{1, c}, x.Backend()))
}

func abs[B tensor.Backend](x *tensor.Tensor[float32, B]) *tensor.Tensor[float32, B] {
	return tensor.Where(x.Lt(fullLike(x, 0)), scale(x, -1), x)
}

func relu[B tensor.Backend](x *tensor.Tensor[float32, B]) *tensor.Tensor[float32, B] {
	zeros := fullLike(x, 0)
	return tensor.Where(x.Gt(zeros), x, zeros)
}

func sigmoid[B tensor.Backend](x *tensor.Tensor[float32, B]) *tensor.Tensor[float32, B] {
	return fullLike(x, 1).Div(shift(scale(x, -1).Exp(), 1))
}

// Heatmap probabilities are kept away from 0 and 1 so the focal loss logs
// stay finite.
const (
	probFloor = 1e-4
	probCeil  = 1 - 1e-4
)

func clampedSigmoid[B tensor.Backend](x *tensor.Tensor[float32, B]) *tensor.Tensor[float32, B] {
	y := sigmoid(x)
	lo := fullLike(y, probFloor)
	hi := fullLike(y, probCeil)
	y = tensor.Where(y.Lt(lo), lo, y)
	return tensor.Where(y.Gt(hi), hi, y)
}

// transposeAndGather picks the feature vector of feat [N, C, H, W] at each
// flat index ind[n*k + j] and returns [N, K, C].
func transposeAndGather[B tensor.Backend](feat *tensor.Tensor[float32, B], ind []int32, k int) *tensor.Tensor[float32, B] {
	s := feat.Shape()
	if len(s) != 4 {
		panic(fmt.Sprintf("loss: feature map must be [N, C, H, W], got %v", s))
	}
	n, c, hw := s[0], s[1], s[2]*s[3]
	if len(ind) != n*k {
		panic(fmt.Sprintf("loss: %d indices for %d samples of %d objects", len(ind), n, k))
	}
	idx := make([]int32, n*c*k)
	for b := 0; b < n; b++ {
		for ch := 0; ch < c; ch++ {
			copy(idx[(b*c+ch)*k:], ind[b*k:(b+1)*k])
		}
	}
	g := feat.Reshape(n, c, hw).Gather(2, indices(feat.Backend(), idx, n, c, k))
	return g.Transpose(0, 2, 1)
}

// selectRows returns the given rows of x [n, c], or nil for no rows.
func selectRows[B tensor.Backend](x *tensor.Tensor[float32, B], rows []int) *tensor.Tensor[float32, B] {
	if len(rows) == 0 {
		return nil
	}
	c := x.Shape()[1]
	idx := make([]int32, len(rows)*c)
	for i, r := range rows {
		for j := 0; j < c; j++ {
			idx[i*c+j] = int32(r)
		}
	}
	return x.Gather(0, indices(x.Backend(), idx, len(rows), c))
}

// normEps keeps the norm of an all-zero embedding finite.
const normEps = 1e-12

// normalizeRows scales each row of x [n, c] to unit L2 norm.
func normalizeRows[B tensor.Backend](x *tensor.Tensor[float32, B]) *tensor.Tensor[float32, B] {
	inv := shift(rowSums(x.Mul(x)), normEps).Rsqrt()
	return x.Mul(repeatCols(inv, x.Shape()[1]))
}

// expandMask repeats a per-object mask [N*K] over c channels.
func expandMask(mask []float32, c int) []float32 {
	out := make([]float32, len(mask)*c)
	for i, m := range mask {
		for j := 0; j < c; j++ {
			out[i*c+j] = m
		}
	}
	return out
}

func total(xs []float32) float32 {
	var s float32
	for _, x := range xs {
		s += x
	}
	return s
}
