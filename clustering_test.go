package annex

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKmeans(t *testing.T) {
	const (
		d = 4
		k = 5
		n = 200
	)
	x := randomVectors(n, d, 61)

	t.Run("Deterministic", func(t *testing.T) {
		kopts := DefaultKmeansOptions
		kopts.Seed = 77

		first, err := NewKmeans(d, k, kopts)
		require.NoError(t, err)
		require.NoError(t, first.Train(x))
		c1, err := first.Centroids()
		require.NoError(t, err)

		second, err := NewKmeans(d, k, kopts)
		require.NoError(t, err)
		require.NoError(t, second.Train(x))
		c2, err := second.Centroids()
		require.NoError(t, err)

		assert.Equal(t, c1, c2)
		assert.Len(t, c1, k*d)
	})

	t.Run("DifferentSeedsDiffer", func(t *testing.T) {
		a := DefaultKmeansOptions
		a.Seed = 1
		b := DefaultKmeansOptions
		b.Seed = 2

		first, err := NewKmeans(d, k, a)
		require.NoError(t, err)
		require.NoError(t, first.Train(x))
		c1, _ := first.Centroids()

		second, err := NewKmeans(d, k, b)
		require.NoError(t, err)
		require.NoError(t, second.Train(x))
		c2, _ := second.Centroids()

		assert.NotEqual(t, c1, c2)
	})

	t.Run("AssignCoversAllCentroids", func(t *testing.T) {
		km, err := NewKmeans(d, k, DefaultKmeansOptions)
		require.NoError(t, err)
		require.NoError(t, km.Train(x))

		labels, err := km.Assign(x)
		require.NoError(t, err)
		require.Len(t, labels, n)

		seen := make(map[int64]bool)
		for _, l := range labels {
			require.GreaterOrEqual(t, l, int64(0))
			require.Less(t, l, int64(k))
			seen[l] = true
		}
		assert.Len(t, seen, k)
	})

	t.Run("CentroidsBeforeTrain", func(t *testing.T) {
		km, err := NewKmeans(d, k, DefaultKmeansOptions)
		require.NoError(t, err)

		_, err = km.Centroids()
		var fe *Error
		require.ErrorAs(t, err, &fe)
		assert.Equal(t, KindNotTrained, fe.Kind)
	})

	t.Run("TooFewPoints", func(t *testing.T) {
		km, err := NewKmeans(d, k, DefaultKmeansOptions)
		require.NoError(t, err)
		err = km.Train(randomVectors(k-1, d, 1))
		require.Error(t, err)
	})
}
