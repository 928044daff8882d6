package batch

import (
	"context"
	"math/rand"

	"github.com/cyclopcam/logs"

	"github.com/born-ml/jde/internal/config"
	"github.com/born-ml/jde/internal/dataset"
	"github.com/born-ml/jde/internal/geometry"
	"github.com/born-ml/jde/internal/parallel"
)

// Source produces samples by flat index. *dataset.JointDataset implements it.
type Source interface {
	Len() int
	Get(i int, rng geometry.Rand) (*dataset.Sample, error)
}

// Loader assembles batches from a Source with a fixed worker pool. Each
// worker owns a random generator seeded with Seed + worker, and workers
// take contiguous slices of a batch, so a run is reproducible for a given
// seed and worker count.
//
// A Loader is not safe for concurrent use.
type Loader struct {
	Shuffle  bool
	DropLast bool

	src       Source
	batchSize int
	seed      int64
	par       parallel.Config
	rngs      []*rand.Rand
	log       logs.Log
}

// NewLoader returns a shuffling loader that drops the last partial batch.
func NewLoader(src Source, opt config.Options, log logs.Log) *Loader {
	par := parallel.WithWorkers(opt.Workers)
	l := &Loader{
		Shuffle:   true,
		DropLast:  true,
		src:       src,
		batchSize: opt.BatchSize,
		seed:      opt.Seed,
		par:       par,
		log:       log,
	}
	for w := 0; w < par.NumWorkers; w++ {
		l.rngs = append(l.rngs, rand.New(rand.NewSource(opt.Seed+int64(w))))
	}
	return l
}

// Order returns the sample order of an epoch, split into batches.
func (l *Loader) Order(epoch int) [][]int {
	n := l.src.Len()
	var order []int
	if l.Shuffle {
		order = rand.New(rand.NewSource(l.seed + int64(epoch))).Perm(n)
	} else {
		order = make([]int, n)
		for i := range order {
			order[i] = i
		}
	}
	var batches [][]int
	for start := 0; start < n; start += l.batchSize {
		end := min(start+l.batchSize, n)
		if end-start < l.batchSize && l.DropLast {
			break
		}
		batches = append(batches, order[start:end])
	}
	return batches
}

// Load fetches the given samples in parallel and collates them.
func (l *Loader) Load(indices []int) (*Batch, error) {
	samples := make([]*dataset.Sample, len(indices))
	err := parallel.For(len(indices), func(w, i int) error {
		s, err := l.src.Get(indices[i], l.rngs[w])
		if err != nil {
			return err
		}
		samples[i] = s
		return nil
	}, l.par)
	if err != nil {
		return nil, err
	}
	return Collate(samples)
}

// Run loads every batch of an epoch and hands it to fn. It stops at the
// first error, or when ctx is cancelled between batches.
func (l *Loader) Run(ctx context.Context, epoch int, fn func(*Batch) error) error {
	batches := l.Order(epoch)
	l.log.Debugf("Epoch %v: %v batches of %v", epoch, len(batches), l.batchSize)
	for _, idx := range batches {
		if err := ctx.Err(); err != nil {
			return err
		}
		b, err := l.Load(idx)
		if err != nil {
			return err
		}
		if err := fn(b); err != nil {
			return err
		}
	}
	return nil
}
