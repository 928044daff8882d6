// Package config holds the options that shape target encoding and the
// multi-task loss.
package config

import (
	"errors"
	"fmt"
	"os"
	"runtime"

	"gopkg.in/yaml.v3"
)

// ErrInvalidOption is returned by Validate for impossible option values.
var ErrInvalidOption = errors.New("invalid option")

// Regression loss kinds for offsets and the generic size loss.
const (
	RegLossL1       = "l1"
	RegLossSmoothL1 = "sl1"
)

// Self-supervised embedding loss kinds.
const (
	UnsupNTXent      = "nt_xent"
	UnsupTripletAll  = "triplet_all"
	UnsupTripletHard = "triplet_hard"
)

// DatasetSpec names one dataset and the manifest listing its images.
type DatasetSpec struct {
	Name     string `yaml:"name"`
	Manifest string `yaml:"manifest"`
}

// Options is the configuration surface of the data pipeline and the loss.
type Options struct {
	// Network input, in pixels.
	InputWidth  int `yaml:"input_width"`
	InputHeight int `yaml:"input_height"`
	DownRatio   int `yaml:"down_ratio"` // Output stride of the network.

	K          int `yaml:"k"` // Max objects encoded per image.
	NumClasses int `yaml:"num_classes"`

	// Heatmap.
	MSELoss bool `yaml:"mse_loss"` // MSE against MSRA peaks instead of focal against center-point peaks.
	HMGauss int  `yaml:"hm_gauss"` // Fixed radius in MSE mode.

	// Size and offset.
	RegLoss   string `yaml:"reg_loss"`
	DenseWH   bool   `yaml:"dense_wh"`
	NormWH    bool   `yaml:"norm_wh"`
	CatSpecWH bool   `yaml:"cat_spec_wh"`
	RegOffset bool   `yaml:"reg_offset"`

	HMWeight  float32 `yaml:"hm_weight"`
	WHWeight  float32 `yaml:"wh_weight"`
	OffWeight float32 `yaml:"off_weight"`
	IDWeight  float32 `yaml:"id_weight"`

	// Identity embedding.
	Unsup         bool   `yaml:"unsup"`
	UnsupLoss     string `yaml:"unsup_loss"`
	NumStacks     int    `yaml:"num_stacks"`
	ReIDDim       int    `yaml:"reid_dim"`
	NumIdentities int    `yaml:"num_identities"` // 0 = use the dataset's total.

	// Initial log-uncertainties of the detection and identity tasks.
	InitSDet float32 `yaml:"init_s_det"`
	InitSID  float32 `yaml:"init_s_id"`

	// Data loading.
	Augment   bool          `yaml:"augment"`
	Seed      int64         `yaml:"seed"`
	Workers   int           `yaml:"workers"`
	BatchSize int           `yaml:"batch_size"`
	DataRoot  string        `yaml:"data_root"`
	Datasets  []DatasetSpec `yaml:"datasets"`
}

// Default returns the options used for training from scratch.
func Default() Options {
	return Options{
		InputWidth:  1088,
		InputHeight: 608,
		DownRatio:   4,
		K:           500,
		NumClasses:  1,
		HMGauss:     8,
		RegLoss:     RegLossL1,
		RegOffset:   true,
		HMWeight:    1,
		WHWeight:    0.1,
		OffWeight:   1,
		IDWeight:    1,
		UnsupLoss:   UnsupNTXent,
		NumStacks:   1,
		ReIDDim:     128,
		InitSDet:    -1.85,
		InitSID:     -1.05,
		Augment:     true,
		Workers:     runtime.NumCPU(),
		BatchSize:   12,
	}
}

// Load reads a YAML file on top of Default.
func Load(path string) (Options, error) {
	opt := Default()
	b, err := os.ReadFile(path)
	if err != nil {
		return opt, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(b, &opt); err != nil {
		return opt, fmt.Errorf("parse config %v: %w", path, err)
	}
	return opt, nil
}

// OutputWidth is the width of the model's output grid.
func (o *Options) OutputWidth() int {
	return o.InputWidth / o.DownRatio
}

// OutputHeight is the height of the model's output grid.
func (o *Options) OutputHeight() int {
	return o.InputHeight / o.DownRatio
}

// Validate checks that the options describe a buildable pipeline.
func (o *Options) Validate() error {
	switch {
	case o.InputWidth <= 0 || o.InputHeight <= 0:
		return fmt.Errorf("%w: input size %vx%v", ErrInvalidOption, o.InputWidth, o.InputHeight)
	case o.DownRatio <= 0:
		return fmt.Errorf("%w: down_ratio %v", ErrInvalidOption, o.DownRatio)
	case o.InputWidth%o.DownRatio != 0 || o.InputHeight%o.DownRatio != 0:
		return fmt.Errorf("%w: input size %vx%v is not divisible by down_ratio %v", ErrInvalidOption, o.InputWidth, o.InputHeight, o.DownRatio)
	case o.K <= 0:
		return fmt.Errorf("%w: k %v", ErrInvalidOption, o.K)
	case o.NumClasses <= 0:
		return fmt.Errorf("%w: num_classes %v", ErrInvalidOption, o.NumClasses)
	case o.MSELoss && o.HMGauss <= 0:
		return fmt.Errorf("%w: hm_gauss must be positive in mse mode", ErrInvalidOption)
	case o.RegLoss != RegLossL1 && o.RegLoss != RegLossSmoothL1:
		return fmt.Errorf("%w: reg_loss %q (want %v or %v)", ErrInvalidOption, o.RegLoss, RegLossL1, RegLossSmoothL1)
	case o.DenseWH && (o.NormWH || o.CatSpecWH), o.NormWH && o.CatSpecWH:
		return fmt.Errorf("%w: dense_wh, norm_wh and cat_spec_wh are mutually exclusive", ErrInvalidOption)
	case o.NumStacks <= 0:
		return fmt.Errorf("%w: num_stacks %v", ErrInvalidOption, o.NumStacks)
	case o.ReIDDim <= 0:
		return fmt.Errorf("%w: reid_dim %v", ErrInvalidOption, o.ReIDDim)
	case o.BatchSize <= 0:
		return fmt.Errorf("%w: batch_size %v", ErrInvalidOption, o.BatchSize)
	}
	if o.Unsup {
		switch o.UnsupLoss {
		case UnsupNTXent, UnsupTripletAll, UnsupTripletHard:
		default:
			return fmt.Errorf("%w: %q is not a supported self-supervised loss, choose %v, %v or %v",
				ErrInvalidOption, o.UnsupLoss, UnsupNTXent, UnsupTripletAll, UnsupTripletHard)
		}
	}
	return nil
}

// LossNames lists the diagnostic keys the loss reports for these options,
// in reporting order.
func (o *Options) LossNames() []string {
	names := []string{"loss", "hm", "wh"}
	if o.RegOffset {
		names = append(names, "off")
	}
	if o.Unsup {
		names = append(names, o.UnsupLoss)
	} else {
		names = append(names, "id")
	}
	return names
}
