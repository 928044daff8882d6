package dataset

import (
	"github.com/schollz/progressbar/v3"
)

// IdentitySpace assigns each dataset a contiguous block of global
// identities. Offsets are exclusive prefix sums of the local counts in
// registration order.
type IdentitySpace struct {
	Counts  []int
	Offsets []int
	Total   int // Sum of counts + 1.
}

// NewIdentitySpace lays out blocks for the given local identity counts.
func NewIdentitySpace(counts []int) IdentitySpace {
	s := IdentitySpace{
		Counts:  append([]int(nil), counts...),
		Offsets: make([]int, len(counts)),
	}
	next := 0
	for i, c := range counts {
		s.Offsets[i] = next
		next += c
	}
	s.Total = next + 1
	return s
}

// Global maps a local identity of dataset ds to its global identity.
// Unknown identities (-1) are returned unchanged.
func (s IdentitySpace) Global(ds, id int) int {
	if id <= -1 {
		return id
	}
	return id + s.Offsets[ds]
}

// ScanIdentities reads every label file of d and returns max identity + 1,
// or 0 when no identity is observed. bar may be nil.
func ScanIdentities(d *Descriptor, bar *progressbar.ProgressBar) (int, error) {
	maxID := -1
	for _, lp := range d.Labels {
		anns, err := ReadLabels(lp)
		if err != nil {
			return 0, err
		}
		for _, a := range anns {
			maxID = max(maxID, a.Identity)
		}
		if bar != nil {
			_ = bar.Add(1)
		}
	}
	return maxID + 1, nil
}
