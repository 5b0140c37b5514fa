package flat

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/annexlab/annex/index"
)

func TestRemoveRows(t *testing.T) {
	idx, err := New(2, index.MetricL2)
	require.NoError(t, err)
	require.NoError(t, idx.Add([]float32{
		0, 0,
		1, 1,
		2, 2,
		3, 3,
		4, 4,
	}))

	// Removal compacts and preserves the order of survivors.
	require.NoError(t, idx.RemoveRows([]int64{1, 3}))
	require.Equal(t, int64(3), idx.Ntotal())

	v, err := idx.ReconstructN(0, 3)
	require.NoError(t, err)
	assert.Equal(t, []float32{0, 0, 2, 2, 4, 4}, v)

	// Duplicates in the request collapse to one removal.
	require.NoError(t, idx.RemoveRows([]int64{0, 0}))
	require.Equal(t, int64(2), idx.Ntotal())

	// Out-of-range rows are ignored.
	require.NoError(t, idx.RemoveRows([]int64{5}))
	require.Equal(t, int64(2), idx.Ntotal())
}

func TestRangeSearchInnerProduct(t *testing.T) {
	idx, err := New(2, index.MetricInnerProduct)
	require.NoError(t, err)
	require.NoError(t, idx.Add([]float32{
		1, 0,
		0, 1,
		2, 2,
	}))

	// Inner product ranges keep scores above the threshold.
	res, err := idx.RangeSearch([]float32{1, 1}, 1.5)
	require.NoError(t, err)
	require.Equal(t, 1, res.Nq)
	labels, distances := res.GetResults(0)
	assert.Equal(t, []int64{2}, labels)
	assert.InDelta(t, 4, distances[0], 1e-6)
}

func TestRowIsAView(t *testing.T) {
	idx, err := New(2, index.MetricL2)
	require.NoError(t, err)
	require.NoError(t, idx.Add([]float32{7, 8}))

	row := idx.Row(0)
	assert.Equal(t, []float32{7, 8}, row)

	// Reconstruct returns a copy instead.
	v, err := idx.Reconstruct(0)
	require.NoError(t, err)
	v[0] = 99
	assert.Equal(t, []float32{7, 8}, idx.Row(0))
}
