package transform

import (
	"bytes"
	"math"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/annexlab/annex/persistence"
)

func randomVectors(n, d int, seed int64) []float32 {
	rng := rand.New(rand.NewSource(seed))
	x := make([]float32, n*d)
	for i := range x {
		x[i] = rng.Float32()
	}
	return x
}

func squaredDistance(a, b []float32) float64 {
	var sum float64
	for i := range a {
		diff := float64(a[i] - b[i])
		sum += diff * diff
	}
	return sum
}

func TestRandomRotation(t *testing.T) {
	const d = 16
	rot, err := NewRandomRotation(d, 5)
	require.NoError(t, err)
	require.True(t, rot.IsTrained())
	require.Equal(t, d, rot.DIn())
	require.Equal(t, d, rot.DOut())

	x := randomVectors(2, d, 17)
	a, b := x[:d], x[d:]

	tx, err := rot.Apply(x)
	require.NoError(t, err)
	ta, tb := tx[:d], tx[d:]

	// Orthonormal maps preserve distances.
	assert.InDelta(t, squaredDistance(a, b), squaredDistance(ta, tb), 1e-4)

	// Reverse is the transpose, an exact inverse up to float error.
	back, err := rot.Reverse(tx)
	require.NoError(t, err)
	for i := range x {
		assert.InDelta(t, x[i], back[i], 1e-5)
	}

	// Same seed, same rotation.
	again, err := NewRandomRotation(d, 5)
	require.NoError(t, err)
	tx2, err := again.Apply(x)
	require.NoError(t, err)
	assert.Equal(t, tx, tx2)
}

func TestPCA(t *testing.T) {
	const (
		dIn  = 6
		dOut = 2
		n    = 100
	)

	// Data confined to the plane spanned by the first two axes, so a
	// 2-component PCA loses nothing.
	rng := rand.New(rand.NewSource(29))
	x := make([]float32, n*dIn)
	for i := 0; i < n; i++ {
		x[i*dIn] = rng.Float32() * 10
		x[i*dIn+1] = rng.Float32() * 5
	}

	pca, err := NewPCA(dIn, dOut)
	require.NoError(t, err)
	require.False(t, pca.IsTrained())

	_, err = pca.Apply(x)
	require.ErrorIs(t, err, ErrNotTrained)

	require.NoError(t, pca.Train(x))
	require.True(t, pca.IsTrained())

	tx, err := pca.Apply(x)
	require.NoError(t, err)
	require.Len(t, tx, n*dOut)

	back, err := pca.Reverse(tx)
	require.NoError(t, err)
	for i := range x {
		assert.InDelta(t, x[i], back[i], 1e-3)
	}
}

func TestOPQ(t *testing.T) {
	const (
		d = 8
		m = 2
		n = 128
	)
	x := randomVectors(n, d, 31)

	opq, err := NewOPQ(d, m, 4)
	require.NoError(t, err)
	require.False(t, opq.IsTrained())

	require.NoError(t, opq.Train(x))
	require.True(t, opq.IsTrained())

	tx, err := opq.Apply(x)
	require.NoError(t, err)
	require.Len(t, tx, n*d)

	// OPQ is a rotation, so vector norms survive.
	for i := 0; i < 5; i++ {
		var orig, rot float64
		for j := 0; j < d; j++ {
			orig += float64(x[i*d+j]) * float64(x[i*d+j])
			rot += float64(tx[i*d+j]) * float64(tx[i*d+j])
		}
		assert.InDelta(t, math.Sqrt(orig), math.Sqrt(rot), 1e-3)
	}

	back, err := opq.Reverse(tx)
	require.NoError(t, err)
	for i := range x[:d] {
		assert.InDelta(t, x[i], back[i], 1e-4)
	}
}

func TestSaveLoad(t *testing.T) {
	const d = 8
	x := randomVectors(64, d, 37)

	transforms := map[string]Transform{}

	rot, err := NewRandomRotation(d, 5)
	require.NoError(t, err)
	transforms["RandomRotation"] = rot

	pca, err := NewPCA(d, 4)
	require.NoError(t, err)
	require.NoError(t, pca.Train(x))
	transforms["PCA"] = pca

	opq, err := NewOPQ(d, 2, 4)
	require.NoError(t, err)
	require.NoError(t, opq.Train(x))
	transforms["OPQ"] = opq

	for name, tr := range transforms {
		t.Run(name, func(t *testing.T) {
			var buf bytes.Buffer
			w := persistence.NewWriter(&buf)
			require.NoError(t, Save(w, tr))
			require.NoError(t, w.Err())

			got, err := Load(persistence.NewReader(bytes.NewReader(buf.Bytes())))
			require.NoError(t, err)
			require.Equal(t, tr.DIn(), got.DIn())
			require.Equal(t, tr.DOut(), got.DOut())
			require.True(t, got.IsTrained())

			want, err := tr.Apply(x)
			require.NoError(t, err)
			have, err := got.Apply(x)
			require.NoError(t, err)
			assert.Equal(t, want, have)
		})
	}
}
