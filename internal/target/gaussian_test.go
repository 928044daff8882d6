package target

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestGaussianRadius(t *testing.T) {
	want := (-11.2 + math.Sqrt(11.2*11.2+4*2.8*4.8)) / 2
	assert.InDelta(t, want, GaussianRadius(4, 4), 1e-9)
	assert.Greater(t, GaussianRadius(40, 80), GaussianRadius(20, 40))
}

func TestKernel(t *testing.T) {
	k := NewKernel(2)
	assert.Equal(t, 5, k.Size)
	assert.Equal(t, float32(1), k.at(2, 2))
	assert.Equal(t, k.at(0, 1), k.at(1, 0))
	assert.Equal(t, k.at(4, 3), k.at(0, 1))
}

func TestDrawUMichAtBorder(t *testing.T) {
	p := Plane{Width: 4, Height: 3, Data: make([]float32, 12)}
	DrawUMich(p, 0, 0, 3)
	assert.Equal(t, float32(1), p.at(0, 0))
	assert.Greater(t, p.at(2, 3), float32(0))
}

func TestDrawMSRAOutside(t *testing.T) {
	p := Plane{Width: 4, Height: 4, Data: make([]float32, 16)}
	DrawMSRA(p, 20, 20, 1)
	assert.Equal(t, make([]float32, 16), p.Data)
}
