package cluster

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func clusteredVectors(n, d int, centers [][]float32, seed int64) []float32 {
	rng := rand.New(rand.NewSource(seed))
	x := make([]float32, n*d)
	for i := 0; i < n; i++ {
		c := centers[i%len(centers)]
		for j := 0; j < d; j++ {
			x[i*d+j] = c[j] + rng.Float32()*0.1
		}
	}
	return x
}

func TestKMeans(t *testing.T) {
	const (
		d = 2
		k = 3
		n = 300
	)
	centers := [][]float32{{0, 0}, {10, 0}, {0, 10}}
	x := clusteredVectors(n, d, centers, 43)

	t.Run("FindsSeparatedClusters", func(t *testing.T) {
		km, err := New(d, k)
		require.NoError(t, err)
		require.NoError(t, km.Train(x))

		// Each true center has a learned centroid nearby.
		got := km.Centroids()
		for _, c := range centers {
			best := float32(1e30)
			for i := 0; i < k; i++ {
				var dist float32
				for j := 0; j < d; j++ {
					diff := got[i*d+j] - c[j]
					dist += diff * diff
				}
				if dist < best {
					best = dist
				}
			}
			assert.Less(t, best, float32(0.1))
		}
	})

	t.Run("ObjectiveNonIncreasing", func(t *testing.T) {
		km, err := New(d, k)
		require.NoError(t, err)
		require.NoError(t, km.Train(x))

		obj := km.Objectives()
		require.NotEmpty(t, obj)
		for i := 1; i < len(obj); i++ {
			assert.LessOrEqual(t, obj[i], obj[i-1]+1e-3)
		}
	})

	t.Run("SeedDeterminism", func(t *testing.T) {
		train := func(seed int64) []float32 {
			km, err := New(d, k, func(o *Options) { o.Seed = seed })
			require.NoError(t, err)
			require.NoError(t, km.Train(x))
			return km.Centroids()
		}
		assert.Equal(t, train(9), train(9))
	})

	t.Run("AssignMatchesNearestCentroid", func(t *testing.T) {
		km, err := New(d, k)
		require.NoError(t, err)
		require.NoError(t, km.Train(x))

		labels, err := km.Assign(x)
		require.NoError(t, err)
		require.Len(t, labels, n)

		got := km.Centroids()
		for i := 0; i < 20; i++ {
			var bestLabel int64
			best := float32(1e30)
			for c := 0; c < k; c++ {
				var dist float32
				for j := 0; j < d; j++ {
					diff := x[i*d+j] - got[c*d+j]
					dist += diff * diff
				}
				if dist < best {
					best = dist
					bestLabel = int64(c)
				}
			}
			assert.Equal(t, bestLabel, labels[i])
		}
	})

	t.Run("Validation", func(t *testing.T) {
		_, err := New(0, k)
		require.Error(t, err)
		_, err = New(d, 0)
		require.Error(t, err)

		km, err := New(d, k)
		require.NoError(t, err)
		require.Error(t, km.Train(x[:d])) // fewer points than centroids

		_, err = km.Assign(x[:d])
		require.Error(t, err) // not trained
	})
}
