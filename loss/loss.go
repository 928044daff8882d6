// Copyright 2025 Born ML Framework. All rights reserved.
// Use of this source code is governed by an Apache 2.0
// license that can be found in the LICENSE file.

// Package loss provides the joint detection and embedding training loss.
//
// The detection part is a center-point loss over heatmap, size and offset
// predictions. The identity part is either a classifier over the global
// identity space or, in self-supervised mode, a contrastive or triplet
// loss between an image and its mirror. Both parts are balanced by two
// learned log-uncertainties.
//
// Example:
//
//	backend := autodiff.New(cpu.New())
//	crit, err := loss.New(opt, ds.NumIdentities(), backend)
//	params := append(model.Parameters(), crit.Parameters()...)
//	optimizer := optim.NewAdam(params, optim.AdamConfig{LR: 1e-4}, backend)
//
//	backend.Tape().StartRecording()
//	total, stats, err := crit.Forward(model.Forward(b), nil, b)
//	grads := autodiff.Backward(total, backend)
//	optimizer.Step(grads)
//	backend.Tape().Clear()
package loss

import (
	"github.com/born-ml/born/tensor"

	"github.com/born-ml/jde/internal/config"
	"github.com/born-ml/jde/internal/loss"
)

// ErrUnsupportedLoss is returned by New for unknown loss kinds.
var ErrUnsupportedLoss = loss.ErrUnsupportedLoss

// Output is one refinement stage of the network's predictions.
type Output[B tensor.Backend] = loss.Output[B]

// MultiTaskLoss is the uncertainty-weighted detection and identity loss.
type MultiTaskLoss[B tensor.Backend] = loss.MultiTaskLoss[B]

// New builds the loss for the given options and identity count.
func New[B tensor.Backend](opt config.Options, numIdentities int, backend B) (*MultiTaskLoss[B], error) {
	return loss.New(opt, numIdentities, backend)
}
