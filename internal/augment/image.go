package augment

import "gocv.io/x/gocv"

// Image is a normalized RGB image in CHW layout with values in [0, 1].
type Image struct {
	Width, Height int
	Data          []float32 // [3, Height, Width]
}

// ToCHW converts a BGR 8-bit mat to a normalized RGB Image.
func ToCHW(img gocv.Mat) Image {
	rgb := gocv.NewMat()
	defer rgb.Close()
	gocv.CvtColor(img, &rgb, gocv.ColorBGRToRGB)

	h, w := rgb.Rows(), rgb.Cols()
	pix := rgb.ToBytes()
	out := Image{Width: w, Height: h, Data: make([]float32, 3*h*w)}
	plane := h * w
	for i := 0; i < plane; i++ {
		for c := 0; c < 3; c++ {
			out.Data[c*plane+i] = float32(pix[3*i+c]) / 255
		}
	}
	return out
}
