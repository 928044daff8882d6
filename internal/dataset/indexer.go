package dataset

import (
	"fmt"
	"sort"
)

// Indexer maps a flat sample index onto (dataset, local index) by
// concatenating the per-dataset sample counts.
type Indexer struct {
	starts []int
	total  int
}

// NewIndexer builds an indexer over datasets with the given sample counts.
func NewIndexer(counts []int) Indexer {
	ix := Indexer{starts: make([]int, len(counts))}
	for i, c := range counts {
		ix.starts[i] = ix.total
		ix.total += c
	}
	return ix
}

// Len returns the total number of samples.
func (ix Indexer) Len() int { return ix.total }

// Start returns the first flat index of dataset ds.
func (ix Indexer) Start(ds int) int { return ix.starts[ds] }

// Locate returns the last dataset whose start is at or before i, and the
// position of i inside it.
func (ix Indexer) Locate(i int) (ds, local int, err error) {
	if i < 0 || i >= ix.total {
		return 0, 0, fmt.Errorf("sample index %d out of range [0, %d)", i, ix.total)
	}
	ds = sort.Search(len(ix.starts), func(k int) bool { return ix.starts[k] > i }) - 1
	return ds, i - ix.starts[ds], nil
}
