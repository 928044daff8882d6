// Package dataset merges several labeled image datasets into one training
// set with a shared global identity space, and produces encoded samples.
//
// A JointDataset is built in two phases. New scans every manifest and label
// file once and fixes the identity layout and sample index. After that the
// dataset is read-only and Get may be called concurrently, each caller
// passing its own random source.
package dataset

import (
	"errors"
	"io"
	"sync/atomic"

	"github.com/cyclopcam/logs"
	"github.com/dustin/go-humanize"
	pkgerrors "github.com/pkg/errors"
	"github.com/schollz/progressbar/v3"

	"github.com/born-ml/jde/internal/augment"
	"github.com/born-ml/jde/internal/config"
	"github.com/born-ml/jde/internal/geometry"
	"github.com/born-ml/jde/internal/target"
)

// ErrCorruptImage is returned by Get when a sample's image is missing or
// cannot be decoded.
var ErrCorruptImage = augment.ErrCorruptImage

// ErrNoDatasets is returned by New when the options register no dataset.
var ErrNoDatasets = errors.New("no datasets configured")

// Sample is one fully prepared training example.
type Sample struct {
	Index         int
	Dataset       int
	Path          string
	Height, Width int // Source image size.

	Image        augment.Image
	FlippedImage *augment.Image // Self-supervised mode only.

	Labels        []geometry.Annotation // Global identities, normalized to the input.
	FlippedLabels []geometry.Annotation
	Target        *target.Target
}

// JointDataset serves samples drawn from all registered datasets.
type JointDataset struct {
	Datasets []*Descriptor
	IDs      IdentitySpace
	Pipeline *augment.Pipeline

	opt        config.Options
	log        logs.Log
	index      Indexer
	encoder    *target.Encoder
	mismatches atomic.Int64
	unknown    atomic.Int64
}

// New reads the manifests in opt.Datasets, scans their label files and lays
// out the global identity space. When progress is non-nil the label scan
// reports to it.
func New(opt config.Options, log logs.Log, progress io.Writer) (*JointDataset, error) {
	if err := opt.Validate(); err != nil {
		return nil, err
	}
	if len(opt.Datasets) == 0 {
		return nil, ErrNoDatasets
	}

	d := &JointDataset{
		opt:      opt,
		log:      log,
		Pipeline: augment.NewPipeline(opt.InputWidth, opt.InputHeight, opt.Augment),
		encoder:  target.NewEncoder(opt),
	}

	labelFiles := 0
	for _, spec := range opt.Datasets {
		desc, err := ReadManifest(spec.Name, opt.DataRoot, spec.Manifest)
		if err != nil {
			return nil, err
		}
		d.Datasets = append(d.Datasets, desc)
		labelFiles += len(desc.Labels)
	}

	var bar *progressbar.ProgressBar
	if progress != nil {
		bar = progressbar.NewOptions(labelFiles,
			progressbar.OptionSetWriter(progress),
			progressbar.OptionSetDescription("scanning labels"),
			progressbar.OptionShowCount())
	}
	counts := make([]int, len(d.Datasets))
	sizes := make([]int, len(d.Datasets))
	for i, desc := range d.Datasets {
		n, err := ScanIdentities(desc, bar)
		if err != nil {
			return nil, pkgerrors.WithMessagef(err, "scanning identities of dataset %q", desc.Name)
		}
		counts[i] = n
		sizes[i] = len(desc.Images)
	}
	if bar != nil {
		_ = bar.Finish()
	}

	d.IDs = NewIdentitySpace(counts)
	for i, desc := range d.Datasets {
		desc.Identities = d.IDs.Counts[i]
		desc.Offset = d.IDs.Offsets[i]
	}
	d.index = NewIndexer(sizes)
	d.logSummary()
	return d, nil
}

func (d *JointDataset) logSummary() {
	for _, desc := range d.Datasets {
		d.log.Infof("Dataset %v: %v images, %v identities starting at %v",
			desc.Name, humanize.Comma(int64(len(desc.Images))), humanize.Comma(int64(desc.Identities)), desc.Offset)
	}
	d.log.Infof("Total: %v images, %v identities",
		humanize.Comma(int64(d.Len())), humanize.Comma(int64(d.NumIdentities())))
}

// Len returns the number of samples across all datasets.
func (d *JointDataset) Len() int { return d.index.Len() }

// NumIdentities returns the size of the global identity space.
func (d *JointDataset) NumIdentities() int { return d.IDs.Total }

// Mismatches returns how many fetched samples had original and flipped
// views that disagree on their objects.
func (d *JointDataset) Mismatches() int64 { return d.mismatches.Load() }

// UnknownClasses returns how many annotations of fetched samples were
// dropped for a class id outside [0, NumClasses).
func (d *JointDataset) UnknownClasses() int64 { return d.unknown.Load() }

// Locate resolves a flat sample index to its dataset and local position.
func (d *JointDataset) Locate(i int) (ds, local int, err error) {
	return d.index.Locate(i)
}

// Get loads, augments and encodes sample i using rng for every random draw.
func (d *JointDataset) Get(i int, rng geometry.Rand) (*Sample, error) {
	ds, local, err := d.index.Locate(i)
	if err != nil {
		return nil, err
	}
	desc := d.Datasets[ds]
	labels, err := ReadLabels(desc.Labels[local])
	if err != nil {
		return nil, err
	}

	views, err := d.Pipeline.Load(desc.Images[local], labels, d.opt.Unsup, rng)
	if err != nil {
		return nil, pkgerrors.WithMessagef(err, "loading sample %d of dataset %q", local, desc.Name)
	}

	s := &Sample{
		Index:   i,
		Dataset: ds,
		Path:    views.Path,
		Height:  views.Height,
		Width:   views.Width,
		Image:   views.Orig.Image,
		Labels:  d.remap(ds, views.Orig.Labels),
	}
	if views.Flipped != nil {
		s.FlippedImage = &views.Flipped.Image
		s.FlippedLabels = d.remap(ds, views.Flipped.Labels)
		if err := target.CheckViews(s.Labels, s.FlippedLabels); err != nil {
			d.mismatches.Add(1)
			d.log.Warnf("%v: %v", s.Path, err)
		}
	}
	s.Target = d.encoder.Encode(s.Labels, s.FlippedLabels)
	if n := s.Target.UnknownClasses; n > 0 {
		d.unknown.Add(int64(n))
		d.log.Warnf("%v: %v objects with a class outside [0, %v)", s.Path, n, d.opt.NumClasses)
	}
	return s, nil
}

func (d *JointDataset) remap(ds int, anns []geometry.Annotation) []geometry.Annotation {
	for k := range anns {
		anns[k].Identity = d.IDs.Global(ds, anns[k].Identity)
	}
	return anns
}
