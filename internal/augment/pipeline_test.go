package augment

import (
	"errors"
	"math/rand"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gocv.io/x/gocv"

	"github.com/born-ml/jde/internal/geometry"
)

type solidReader struct {
	rows, cols int
}

func (r solidReader) Read(string) (gocv.Mat, error) {
	return gocv.NewMatWithSizeFromScalar(gocv.NewScalar(40, 80, 120, 0), r.rows, r.cols, gocv.MatTypeCV8UC3), nil
}

func testPipeline(augment bool) *Pipeline {
	p := NewPipeline(128, 64, augment)
	p.Reader = solidReader{rows: 100, cols: 200}
	return p
}

func testLabels() []geometry.Annotation {
	return []geometry.Annotation{
		{Class: 0, Identity: 2, CX: 0.25, CY: 0.5, W: 0.25, H: 0.5},
		{Class: 0, Identity: -1, CX: 0.75, CY: 0.5, W: 0.125, H: 0.25},
	}
}

func TestLoadWithoutAugment(t *testing.T) {
	p := testPipeline(false)
	v, err := p.Load("img.jpg", testLabels(), false, rand.New(rand.NewSource(1)))
	require.NoError(t, err)
	assert.Equal(t, 100, v.Height)
	assert.Equal(t, 200, v.Width)
	assert.Nil(t, v.Flipped)
	assert.Equal(t, 128, v.Orig.Image.Width)
	assert.Equal(t, 64, v.Orig.Image.Height)
	assert.Len(t, v.Orig.Image.Data, 3*128*64)

	require.Len(t, v.Orig.Labels, 2)
	for i, want := range testLabels() {
		got := v.Orig.Labels[i]
		assert.Equal(t, want.Identity, got.Identity)
		assert.InDelta(t, want.CX, got.CX, 1e-9)
		assert.InDelta(t, want.CY, got.CY, 1e-9)
		assert.InDelta(t, want.W, got.W, 1e-9)
		assert.InDelta(t, want.H, got.H, 1e-9)
	}
	assert.InDelta(t, 120.0/255, v.Orig.Image.Data[0], 1e-6, "red plane first")
}

func TestLoadSelfSupervisedMirrors(t *testing.T) {
	p := testPipeline(false)
	v, err := p.Load("img.jpg", testLabels(), true, rand.New(rand.NewSource(1)))
	require.NoError(t, err)
	require.NotNil(t, v.Flipped)
	require.Len(t, v.Flipped.Labels, 2)
	assert.InDelta(t, 0.75, v.Flipped.Labels[0].CX, 1e-9)
	assert.InDelta(t, 0.25, v.Flipped.Labels[1].CX, 1e-9)
	assert.Equal(t, 2, v.Flipped.Labels[0].Identity)
	for k := range v.Orig.Labels {
		assert.Equal(t, k, v.Orig.Labels[k].Source)
		assert.Equal(t, k, v.Flipped.Labels[k].Source)
	}
}

func TestLoadKeepsSourceOfSurvivors(t *testing.T) {
	p := testPipeline(true)
	p.Ranges = geometry.AffineRanges{Scale: [2]float64{1, 1}}
	labels := []geometry.Annotation{
		{Identity: 2, CX: 0.25, CY: 0.5, W: 0.25, H: 0.5},
		{Identity: 5, CX: 0.5, CY: 0.5, W: 3.0 / 128, H: 0.5}, // 3px wide after letterboxing.
		{Identity: 7, CX: 0.75, CY: 0.5, W: 0.125, H: 0.25},
	}
	v, err := p.Load("img.jpg", labels, false, rand.New(rand.NewSource(3)))
	require.NoError(t, err)
	require.Len(t, v.Orig.Labels, 2)
	assert.Equal(t, 0, v.Orig.Labels[0].Source)
	assert.Equal(t, 2, v.Orig.Labels[1].Source)
	assert.Equal(t, 7, v.Orig.Labels[1].Identity)
}

func TestLoadAugmentReproducible(t *testing.T) {
	p := testPipeline(true)
	a, err := p.Load("img.jpg", testLabels(), true, rand.New(rand.NewSource(42)))
	require.NoError(t, err)
	b, err := p.Load("img.jpg", testLabels(), true, rand.New(rand.NewSource(42)))
	require.NoError(t, err)
	assert.Equal(t, a.Orig.Labels, b.Orig.Labels)
	assert.Equal(t, a.Flipped.Labels, b.Flipped.Labels)
	assert.Equal(t, a.Orig.Image.Data, b.Orig.Image.Data)
	for _, l := range a.Orig.Labels {
		assert.GreaterOrEqual(t, l.CX, 0.0)
		assert.LessOrEqual(t, l.CX, 1.0)
	}
}

func TestLoadCorruptImage(t *testing.T) {
	p := NewPipeline(128, 64, false)
	_, err := p.Load(filepath.Join(t.TempDir(), "missing.jpg"), nil, false, rand.New(rand.NewSource(1)))
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrCorruptImage))
}

func TestToCHW(t *testing.T) {
	img := gocv.NewMatWithSizeFromScalar(gocv.NewScalar(10, 20, 30, 0), 1, 2, gocv.MatTypeCV8UC3)
	defer img.Close()
	out := ToCHW(img)
	assert.Equal(t, 2, out.Width)
	assert.Equal(t, 1, out.Height)
	assert.InDeltaSlice(t, []float32{30. / 255, 30. / 255, 20. / 255, 20. / 255, 10. / 255, 10. / 255}, out.Data, 1e-6)
}

func TestJitterHSVKeepsGray(t *testing.T) {
	img := gocv.NewMatWithSizeFromScalar(gocv.NewScalar(100, 100, 100, 0), 4, 4, gocv.MatTypeCV8UC3)
	defer img.Close()
	out, err := JitterHSV(img, rand.New(rand.NewSource(5)), 0.5)
	require.NoError(t, err)
	defer out.Close()
	assert.Equal(t, 4, out.Rows())
	pix := out.ToBytes()
	// Zero saturation stays zero, so the three channels stay equal.
	for i := 0; i < len(pix); i += 3 {
		assert.Equal(t, pix[i], pix[i+1])
		assert.Equal(t, pix[i], pix[i+2])
	}
}

func TestLoadImages(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{"b.JPG", "a.png", "notes.txt"} {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), nil, 0o600))
	}
	src, err := LoadImages(dir, 128, 64)
	require.NoError(t, err)
	assert.Equal(t, []string{filepath.Join(dir, "a.png"), filepath.Join(dir, "b.JPG")}, src.Files)

	src.Reader = solidReader{rows: 32, cols: 32}
	f, err := src.Get(0)
	require.NoError(t, err)
	defer f.Source.Close()
	assert.Equal(t, src.Files[0], f.Path)
	assert.Equal(t, 128, f.Image.Width)
	assert.Equal(t, 32, f.Source.Cols())
	// A 32x32 source fills the 64 rows and is padded by 32 columns per side.
	assert.Equal(t, 2.0, f.Box.Ratio)
	assert.Equal(t, 32.0, f.Box.DW)
	full := f.Box.ToSource(geometry.Box{X1: 32, Y1: 0, X2: 96, Y2: 64})
	assert.Equal(t, geometry.Box{X1: 0, Y1: 0, X2: 32, Y2: 32}, full)

	_, err = LoadImages(t.TempDir(), 128, 64)
	assert.True(t, errors.Is(err, ErrNoImages))
}
