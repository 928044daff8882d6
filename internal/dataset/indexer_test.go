package dataset

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIndexerLocate(t *testing.T) {
	ix := NewIndexer([]int{3, 5})
	require.Equal(t, 8, ix.Len())
	for i := 0; i < 3; i++ {
		ds, local, err := ix.Locate(i)
		require.NoError(t, err)
		assert.Equal(t, 0, ds)
		assert.Equal(t, i, local)
	}
	for i := 3; i < 8; i++ {
		ds, local, err := ix.Locate(i)
		require.NoError(t, err)
		assert.Equal(t, 1, ds)
		assert.Equal(t, i-3, local)
	}
	_, _, err := ix.Locate(8)
	assert.Error(t, err)
	_, _, err = ix.Locate(-1)
	assert.Error(t, err)
}

func TestIndexerSkipsEmptyDatasets(t *testing.T) {
	ix := NewIndexer([]int{2, 0, 0, 1})
	ds, local, err := ix.Locate(2)
	require.NoError(t, err)
	assert.Equal(t, 3, ds)
	assert.Equal(t, 0, local)
	assert.Equal(t, 2, ix.Start(1))
}

func TestIdentitySpace(t *testing.T) {
	s := NewIdentitySpace([]int{4, 0, 7, 2})
	assert.Equal(t, []int{0, 4, 4, 11}, s.Offsets)
	assert.Equal(t, 14, s.Total)
	assert.Equal(t, 11+1, s.Global(3, 1))
	assert.Equal(t, -1, s.Global(3, -1))
	// Blocks are contiguous and disjoint.
	for i := 1; i < len(s.Counts); i++ {
		assert.Equal(t, s.Offsets[i-1]+s.Counts[i-1], s.Offsets[i])
	}
}

func TestParseLabels(t *testing.T) {
	anns, err := ParseLabels(strings.NewReader("0 3 0.5 0.25 0.1 0.2\n\n1 -1 0.1 0.1 0.05 0.05\n"))
	require.NoError(t, err)
	require.Len(t, anns, 2)
	assert.Equal(t, 3, anns[0].Identity)
	assert.Equal(t, 0.25, anns[0].CY)
	assert.Equal(t, 1, anns[1].Class)
	assert.Equal(t, -1, anns[1].Identity)

	_, err = ParseLabels(strings.NewReader("0 3 0.5 0.25 0.1\n"))
	assert.ErrorIs(t, err, ErrMalformedLabel)
	_, err = ParseLabels(strings.NewReader("0 x 0.5 0.25 0.1 0.2\n"))
	assert.ErrorIs(t, err, ErrMalformedLabel)
}

func TestReadLabelsMissing(t *testing.T) {
	anns, err := ReadLabels("/nonexistent/labels_with_ids/a.txt")
	assert.NoError(t, err)
	assert.Empty(t, anns)
}

func TestLabelPath(t *testing.T) {
	assert.Equal(t, "/data/MOT17/labels_with_ids/train/000001.txt", LabelPath("/data/MOT17/images/train/000001.jpg"))
	assert.Equal(t, "/data/x/labels_with_ids/1.txt", LabelPath("/data/x/images/1.png"))
}
