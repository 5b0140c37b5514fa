package annex

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/annexlab/annex/transform"
)

func TestRefine(t *testing.T) {
	const (
		d = 8
		n = 128
	)
	x := randomVectors(n, d, 21)

	base, err := NewPQ(d, 2, 4, MetricL2)
	require.NoError(t, err)
	exact, err := NewFlat(d, MetricL2)
	require.NoError(t, err)

	idx, err := NewRefine(base, exact)
	require.NoError(t, err)
	require.Equal(t, VariantRefine, idx.Variant())
	require.NoError(t, idx.SetKFactor(32))

	require.NoError(t, idx.Train(x))
	require.NoError(t, idx.Add(x))
	require.Equal(t, int64(n), idx.Ntotal())

	// Both children received the vectors.
	assert.Equal(t, int64(n), base.Ntotal())
	assert.Equal(t, int64(n), exact.Ntotal())

	// Refined distances are exact for the surviving candidates.
	q := x[5*d : 6*d]
	distances, labels, err := idx.Search(q, 1)
	require.NoError(t, err)
	assert.Equal(t, int64(5), labels[0])
	assert.InDelta(t, 0, distances[0], 1e-6)
}

func TestPreTransform(t *testing.T) {
	const (
		d = 8
		n = 64
	)
	x := randomVectors(n, d, 23)

	t.Run("RotationPreservesNeighbors", func(t *testing.T) {
		rot, err := transform.NewRandomRotation(d, 99)
		require.NoError(t, err)
		base, err := NewFlat(d, MetricL2)
		require.NoError(t, err)

		idx, err := NewPreTransform(rot, base)
		require.NoError(t, err)
		require.Equal(t, d, idx.D())
		require.NoError(t, idx.Train(x))
		require.NoError(t, idx.Add(x))

		exact, err := NewFlat(d, MetricL2)
		require.NoError(t, err)
		require.NoError(t, exact.Add(x))

		q := x[9*d : 10*d]
		wantDist, wantLabels, err := exact.Search(q, 5)
		require.NoError(t, err)
		gotDist, gotLabels, err := idx.Search(q, 5)
		require.NoError(t, err)

		assert.Equal(t, wantLabels, gotLabels)
		assert.InDeltaSlice(t, wantDist, gotDist, 1e-4)
	})

	t.Run("DimensionChecked", func(t *testing.T) {
		pca, err := transform.NewPCA(d, 4)
		require.NoError(t, err)
		base, err := NewFlat(d, MetricL2)
		require.NoError(t, err)

		_, err = NewPreTransform(pca, base)
		var fe *Error
		require.ErrorAs(t, err, &fe)
		assert.Equal(t, KindInvalidArgument, fe.Kind)
	})

	t.Run("PCAProjectsBeforeAdd", func(t *testing.T) {
		pca, err := transform.NewPCA(d, 4)
		require.NoError(t, err)
		base, err := NewFlat(4, MetricL2)
		require.NoError(t, err)

		idx, err := NewPreTransform(pca, base)
		require.NoError(t, err)
		require.False(t, idx.IsTrained())

		require.NoError(t, idx.Train(x))
		require.True(t, idx.IsTrained())
		require.NoError(t, idx.Add(x))
		assert.Equal(t, int64(n), idx.Ntotal())
		assert.Equal(t, d, idx.D())
		assert.Equal(t, 4, base.D())
	})
}

func TestIDMap(t *testing.T) {
	const d = 2

	newIDMap := func(t *testing.T) (*Index, *Index) {
		t.Helper()
		base, err := NewFlat(d, MetricL2)
		require.NoError(t, err)
		idx, err := NewIDMap(base)
		require.NoError(t, err)
		return idx, base
	}

	t.Run("AddRequiresIDs", func(t *testing.T) {
		idx, _ := newIDMap(t)
		err := idx.Add([]float32{1, 2})
		var fe *Error
		require.ErrorAs(t, err, &fe)
		assert.Equal(t, KindInvalidArgument, fe.Kind)
	})

	t.Run("SearchReturnsExternalIDs", func(t *testing.T) {
		idx, _ := newIDMap(t)
		require.NoError(t, idx.AddWithIDs([]float32{
			0, 0,
			1, 0,
			0, 1,
		}, []int64{100, 200, 300}))

		_, labels, err := idx.Search([]float32{0.9, 0}, 2)
		require.NoError(t, err)
		assert.Equal(t, []int64{200, 100}, labels)
	})

	t.Run("ReconstructByExternalID", func(t *testing.T) {
		idx, _ := newIDMap(t)
		require.NoError(t, idx.AddWithIDs([]float32{
			0, 0,
			1, 0,
		}, []int64{10, 20}))

		v, err := idx.Reconstruct(20)
		require.NoError(t, err)
		assert.Equal(t, []float32{1, 0}, v)

		// Positional reconstruction walks storage rows, not identifiers.
		v, err = idx.ReconstructN(0, 2)
		require.NoError(t, err)
		assert.Equal(t, []float32{0, 0, 1, 0}, v)
	})

	t.Run("DuplicateIDsRejected", func(t *testing.T) {
		idx, base := newIDMap(t)
		require.NoError(t, idx.AddWithIDs([]float32{1, 1}, []int64{7}))

		err := idx.AddWithIDs([]float32{2, 2}, []int64{7})
		var fe *Error
		require.ErrorAs(t, err, &fe)
		assert.Equal(t, KindInvalidArgument, fe.Kind)
		assert.Equal(t, int64(1), idx.Ntotal())
		assert.Equal(t, int64(1), base.Ntotal())
	})

	t.Run("RemoveIDsReturnsExactCount", func(t *testing.T) {
		idx, base := newIDMap(t)
		require.NoError(t, idx.AddWithIDs([]float32{
			0, 0,
			1, 0,
			2, 0,
			3, 0,
		}, []int64{10, 20, 30, 40}))

		removed, err := idx.RemoveIDs(NewIDSelectorBatch([]int64{20, 40, 99}))
		require.NoError(t, err)
		assert.Equal(t, int64(2), removed)
		assert.Equal(t, int64(2), idx.Ntotal())
		assert.Equal(t, int64(2), base.Ntotal())

		// Remaining vectors keep their identifiers.
		_, labels, err := idx.Search([]float32{2, 0}, 2)
		require.NoError(t, err)
		assert.Equal(t, []int64{30, 10}, labels)

		v, err := idx.Reconstruct(30)
		require.NoError(t, err)
		assert.Equal(t, []float32{2, 0}, v)

		_, err = idx.Reconstruct(20)
		var fe *Error
		require.ErrorAs(t, err, &fe)
		assert.Equal(t, KindNotFound, fe.Kind)
	})

	t.Run("RemoveIDsRange", func(t *testing.T) {
		idx, _ := newIDMap(t)
		require.NoError(t, idx.AddWithIDs([]float32{
			0, 0,
			1, 0,
			2, 0,
		}, []int64{1, 2, 3}))

		removed, err := idx.RemoveIDs(NewIDSelectorRange(1, 3))
		require.NoError(t, err)
		assert.Equal(t, int64(2), removed)
		assert.Equal(t, int64(1), idx.Ntotal())
	})

	t.Run("RemoveIDsOnFlatMismatch", func(t *testing.T) {
		idx, err := NewFlat(d, MetricL2)
		require.NoError(t, err)
		_, err = idx.RemoveIDs(NewIDSelectorBatch([]int64{1}))
		var fe *Error
		require.ErrorAs(t, err, &fe)
		assert.Equal(t, KindCapabilityMismatch, fe.Kind)
	})
}

func TestShards(t *testing.T) {
	const (
		d = 4
		n = 60
	)
	x := randomVectors(n, d, 31)

	t.Run("FanOutMatchesExact", func(t *testing.T) {
		idx, err := NewShards(d, MetricL2)
		require.NoError(t, err)
		for i := 0; i < 3; i++ {
			child, err := NewFlat(d, MetricL2)
			require.NoError(t, err)
			require.NoError(t, idx.AddShard(child))
		}

		// Batches land on different shards; global ids stay sequential
		// in add order.
		for i := 0; i < n; i++ {
			require.NoError(t, idx.Add(x[i*d:(i+1)*d]))
		}
		require.Equal(t, int64(n), idx.Ntotal())

		exact, err := NewFlat(d, MetricL2)
		require.NoError(t, err)
		require.NoError(t, exact.Add(x))

		q := x[17*d : 18*d]
		wantDist, wantLabels, err := exact.Search(q, 7)
		require.NoError(t, err)
		gotDist, gotLabels, err := idx.Search(q, 7)
		require.NoError(t, err)

		assert.Equal(t, wantLabels, gotLabels)
		assert.InDeltaSlice(t, wantDist, gotDist, 1e-5)
	})

	t.Run("AddWithoutChildren", func(t *testing.T) {
		idx, err := NewShards(d, MetricL2)
		require.NoError(t, err)
		err = idx.Add(x[:d])
		var fe *Error
		require.ErrorAs(t, err, &fe)
		assert.Equal(t, KindInvalidArgument, fe.Kind)
	})

	t.Run("ChildDimensionChecked", func(t *testing.T) {
		idx, err := NewShards(d, MetricL2)
		require.NoError(t, err)
		child, err := NewFlat(d+1, MetricL2)
		require.NoError(t, err)
		err = idx.AddShard(child)
		var fe *Error
		require.ErrorAs(t, err, &fe)
		assert.Equal(t, KindInvalidArgument, fe.Kind)
	})

	t.Run("AddShardOnFlatMismatch", func(t *testing.T) {
		idx, err := NewFlat(d, MetricL2)
		require.NoError(t, err)
		child, err := NewFlat(d, MetricL2)
		require.NoError(t, err)
		err = idx.AddShard(child)
		var fe *Error
		require.ErrorAs(t, err, &fe)
		assert.Equal(t, KindCapabilityMismatch, fe.Kind)
	})
}

func TestClose(t *testing.T) {
	const d = 8

	t.Run("DoubleCloseErrors", func(t *testing.T) {
		idx, err := NewFlat(d, MetricL2)
		require.NoError(t, err)
		require.NoError(t, idx.Close())
		err = idx.Close()
		var fe *Error
		require.ErrorAs(t, err, &fe)
		assert.Equal(t, KindInvalidArgument, fe.Kind)
	})

	t.Run("ShardsClosesOwnedChildren", func(t *testing.T) {
		idx, err := NewShards(d, MetricL2)
		require.NoError(t, err)
		child, err := NewFlat(d, MetricL2)
		require.NoError(t, err)
		require.NoError(t, idx.AddShard(child))

		require.NoError(t, idx.Close())
		err = child.Close()
		var fe *Error
		require.ErrorAs(t, err, &fe)
		assert.Equal(t, KindInvalidArgument, fe.Kind)
	})

	t.Run("RefineLeavesChildrenOpen", func(t *testing.T) {
		base, err := NewFlat(d, MetricL2)
		require.NoError(t, err)
		ref, err := NewFlat(d, MetricL2)
		require.NoError(t, err)
		idx, err := NewRefine(base, ref)
		require.NoError(t, err)

		require.NoError(t, idx.Close())
		assert.NoError(t, base.Close())
		assert.NoError(t, ref.Close())
	})

	t.Run("IDMapLeavesBaseOpen", func(t *testing.T) {
		base, err := NewFlat(d, MetricL2)
		require.NoError(t, err)
		idx, err := NewIDMap(base)
		require.NoError(t, err)

		require.NoError(t, idx.Close())
		assert.NoError(t, base.Close())
	})

	t.Run("PreTransformLeavesBaseOpen", func(t *testing.T) {
		rot, err := transform.NewRandomRotation(d, 7)
		require.NoError(t, err)
		base, err := NewFlat(d, MetricL2)
		require.NoError(t, err)
		idx, err := NewPreTransform(rot, base)
		require.NoError(t, err)

		require.NoError(t, idx.Close())
		assert.NoError(t, base.Close())
	})

	t.Run("BinaryDoubleCloseErrors", func(t *testing.T) {
		idx, err := NewBinaryFlat(16)
		require.NoError(t, err)
		require.NoError(t, idx.Close())
		err = idx.Close()
		var fe *Error
		require.ErrorAs(t, err, &fe)
		assert.Equal(t, KindInvalidArgument, fe.Kind)
	})
}
