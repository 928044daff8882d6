package geometry

import "gocv.io/x/gocv"

// FlipHorizontal mirrors the pixel columns of img. The caller owns the
// returned mat.
func FlipHorizontal(img gocv.Mat) gocv.Mat {
	dst := gocv.NewMat()
	gocv.Flip(img, &dst, 1)
	return dst
}

// FlipAnnotations mirrors normalized center x in place. Sizes are unchanged.
func FlipAnnotations(anns []Annotation) {
	for i := range anns {
		anns[i].CX = 1 - anns[i].CX
	}
}
