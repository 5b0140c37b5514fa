package sq

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/annexlab/annex/index"
)

func TestCodecErrorBound(t *testing.T) {
	const (
		d = 4
		n = 256
	)

	// Training batch spans [0, 1] in every dimension.
	rng := rand.New(rand.NewSource(9))
	x := make([]float32, n*d)
	for i := range x {
		x[i] = rng.Float32()
	}
	for j := 0; j < d; j++ {
		x[j] = 0
		x[d+j] = 1
	}

	tests := []struct {
		name  string
		qtype QuantizerType
		delta float64
	}{
		// Truncating encode plus midpoint decode keeps each component
		// within one and a half cells of the stored grid.
		{name: "QT8Bit", qtype: QT8Bit, delta: 1.5 / 256},
		{name: "QT4Bit", qtype: QT4Bit, delta: 1.5 / 16},
		{name: "QTFP16", qtype: QTFP16, delta: 0.001},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			idx, err := New(d, tt.qtype, index.MetricL2)
			require.NoError(t, err)
			require.NoError(t, idx.Train(x))
			require.NoError(t, idx.Add(x))

			for i := 0; i < n; i++ {
				got, err := idx.Reconstruct(int64(i))
				require.NoError(t, err)
				for j := 0; j < d; j++ {
					assert.InDelta(t, x[i*d+j], got[j], tt.delta)
				}
			}
		})
	}
}

func TestConstantDimensionReconstructsExactly(t *testing.T) {
	x := []float32{
		3, 0.0,
		3, 0.5,
		3, 1.0,
	}
	idx, err := New(2, QT8Bit, index.MetricL2)
	require.NoError(t, err)
	require.NoError(t, idx.Train(x))
	require.NoError(t, idx.Add(x))

	for i := 0; i < 3; i++ {
		got, err := idx.Reconstruct(int64(i))
		require.NoError(t, err)
		assert.Equal(t, float32(3), got[0])
	}
}
