// Copyright 2025 Born ML Framework. All rights reserved.
// Use of this source code is governed by an Apache 2.0
// license that can be found in the LICENSE file.

// Package dataset provides joint detection and embedding training data.
//
// Several labeled datasets are merged into one flat sample index with a
// shared identity space. Each sample is letterboxed, augmented and encoded
// into center-point targets on the network's output grid; a Loader stacks
// samples into batches in parallel.
//
// Example:
//
//	opt, err := dataset.LoadOptions("train.yaml")
//	ds, err := dataset.New(opt, log, os.Stderr)
//	loader := dataset.NewLoader(ds, opt, log)
//	err = loader.Run(ctx, epoch, func(b *dataset.Batch) error {
//	    // forward, loss, backward
//	    return nil
//	})
package dataset

import (
	"io"

	"github.com/cyclopcam/logs"

	"github.com/born-ml/jde/internal/augment"
	"github.com/born-ml/jde/internal/batch"
	"github.com/born-ml/jde/internal/config"
	"github.com/born-ml/jde/internal/dataset"
	"github.com/born-ml/jde/internal/geometry"
	"github.com/born-ml/jde/internal/target"
)

// Errors callers can test with errors.Is.
var (
	ErrCorruptImage   = dataset.ErrCorruptImage
	ErrMalformedLabel = dataset.ErrMalformedLabel
	ErrNoDatasets     = dataset.ErrNoDatasets
	ErrViewMismatch   = target.ErrViewMismatch
	ErrInvalidOption  = config.ErrInvalidOption
	ErrEmptyBatch     = batch.ErrEmptyBatch
	ErrNoImages       = augment.ErrNoImages
)

// Options configures the data pipeline and the loss.
type Options = config.Options

// DatasetSpec names one dataset and its image manifest.
type DatasetSpec = config.DatasetSpec

// DefaultOptions returns the training defaults.
func DefaultOptions() Options {
	return config.Default()
}

// LoadOptions reads YAML options on top of the defaults.
func LoadOptions(path string) (Options, error) {
	return config.Load(path)
}

// Annotation is one labeled object in normalized coordinates.
type Annotation = geometry.Annotation

// Target is the encoded ground truth of one sample.
type Target = target.Target

// Sample is one fetched and encoded training example.
type Sample = dataset.Sample

// JointDataset merges datasets into one flat index.
type JointDataset = dataset.JointDataset

// New reads the manifests, scans the identity space and returns the
// dataset. Scan progress is drawn to progress when it is not nil.
func New(opt Options, log logs.Log, progress io.Writer) (*JointDataset, error) {
	return dataset.New(opt, log, progress)
}

// Batch is a stack of samples.
type Batch = batch.Batch

// Collate stacks samples into a batch.
func Collate(samples []*Sample) (*Batch, error) {
	return batch.Collate(samples)
}

// Loader assembles batches in parallel.
type Loader = batch.Loader

// NewLoader returns a loader over ds.
func NewLoader(ds *JointDataset, opt Options, log logs.Log) *Loader {
	return batch.NewLoader(ds, opt, log)
}

// Box is an axis-aligned box in pixels.
type Box = geometry.Box

// Letterboxing records how an image was fitted into the network input.
type Letterboxing = geometry.Letterboxing

// ImageSource letterboxes images for inference.
type ImageSource = augment.ImageSource

// Frame is one letterboxed inference image.
type Frame = augment.Frame

// LoadImages lists the images in a directory, or the single image at path,
// for a width x height network input.
func LoadImages(path string, width, height int) (*ImageSource, error) {
	return augment.LoadImages(path, width, height)
}
