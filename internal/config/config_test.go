package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultIsValid(t *testing.T) {
	opt := Default()
	require.NoError(t, opt.Validate())
	assert.Equal(t, 272, opt.OutputWidth())
	assert.Equal(t, 152, opt.OutputHeight())
}

func TestLoadOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "train.yaml")
	yml := `
input_width: 864
input_height: 480
unsup: true
unsup_loss: triplet_hard
datasets:
  - name: mot17
    manifest: data/mot17.train
  - name: caltech
    manifest: data/caltech.train
`
	require.NoError(t, os.WriteFile(path, []byte(yml), 0o644))

	opt, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 864, opt.InputWidth)
	assert.Equal(t, 480, opt.InputHeight)
	assert.True(t, opt.Unsup)
	assert.Equal(t, UnsupTripletHard, opt.UnsupLoss)
	assert.Equal(t, []DatasetSpec{{"mot17", "data/mot17.train"}, {"caltech", "data/caltech.train"}}, opt.Datasets)
	// Untouched fields keep their defaults.
	assert.Equal(t, 500, opt.K)
	assert.Equal(t, float32(-1.85), opt.InitSDet)
	require.NoError(t, opt.Validate())
}

func TestLoadErrors(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)

	path := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("k: [1, 2"), 0o644))
	_, err = Load(path)
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		modify func(*Options)
	}{
		{"zero width", func(o *Options) { o.InputWidth = 0 }},
		{"zero down ratio", func(o *Options) { o.DownRatio = 0 }},
		{"indivisible input", func(o *Options) { o.InputWidth = 1090 }},
		{"zero k", func(o *Options) { o.K = 0 }},
		{"no classes", func(o *Options) { o.NumClasses = 0 }},
		{"mse without radius", func(o *Options) { o.MSELoss, o.HMGauss = true, 0 }},
		{"unknown reg loss", func(o *Options) { o.RegLoss = "l2" }},
		{"dense and cat spec", func(o *Options) { o.DenseWH, o.CatSpecWH = true, true }},
		{"norm and cat spec", func(o *Options) { o.NormWH, o.CatSpecWH = true, true }},
		{"no stacks", func(o *Options) { o.NumStacks = 0 }},
		{"no embedding", func(o *Options) { o.ReIDDim = 0 }},
		{"no batch", func(o *Options) { o.BatchSize = 0 }},
		{"unknown unsup loss", func(o *Options) { o.Unsup, o.UnsupLoss = true, "byol" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			opt := Default()
			tt.modify(&opt)
			err := opt.Validate()
			assert.True(t, errors.Is(err, ErrInvalidOption), "got %v", err)
		})
	}
}

func TestUnsupLossIgnoredWhenSupervised(t *testing.T) {
	opt := Default()
	opt.UnsupLoss = "byol"
	assert.NoError(t, opt.Validate())
}

func TestLossNames(t *testing.T) {
	opt := Default()
	assert.Equal(t, []string{"loss", "hm", "wh", "off", "id"}, opt.LossNames())

	opt.RegOffset = false
	opt.Unsup = true
	opt.UnsupLoss = UnsupTripletAll
	assert.Equal(t, []string{"loss", "hm", "wh", "triplet_all"}, opt.LossNames())
}
