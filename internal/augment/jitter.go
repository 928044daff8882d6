package augment

import (
	"gocv.io/x/gocv"

	"github.com/born-ml/jde/internal/geometry"
)

// jitterFraction bounds the saturation and brightness factors to [0.5, 1.5].
const jitterFraction = 0.5

// JitterHSV scales the saturation and value channels of a BGR image by
// independent random factors in [1-fraction, 1+fraction]. Values are
// clipped to 255 only when a factor increases them. The caller owns the
// returned mat.
func JitterHSV(img gocv.Mat, rng geometry.Rand, fraction float64) (gocv.Mat, error) {
	hsv := gocv.NewMat()
	defer hsv.Close()
	gocv.CvtColor(img, &hsv, gocv.ColorBGRToHSV)

	pix := hsv.ToBytes()
	for ch := 1; ch <= 2; ch++ {
		a := float32((rng.Float64()*2-1)*fraction + 1)
		for i := ch; i < len(pix); i += 3 {
			v := float32(pix[i]) * a
			if a > 1 {
				v = min(v, 255)
			}
			pix[i] = uint8(v)
		}
	}

	jittered, err := gocv.NewMatFromBytes(hsv.Rows(), hsv.Cols(), gocv.MatTypeCV8UC3, pix)
	if err != nil {
		return gocv.Mat{}, err
	}
	defer jittered.Close()
	out := gocv.NewMat()
	gocv.CvtColor(jittered, &out, gocv.ColorHSVToBGR)
	return out, nil
}
