package annex

import (
	"bytes"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/annexlab/annex/transform"
)

func TestSerializeRoundTrip(t *testing.T) {
	const (
		d = 8
		n = 64
	)
	x := randomVectors(n, d, 41)
	q := x[3*d : 4*d]

	roundTrip := func(t *testing.T, idx *Index, optFns ...func(o *SerializeOptions)) *Index {
		t.Helper()
		data, err := MarshalIndex(idx, optFns...)
		require.NoError(t, err)
		got, err := UnmarshalIndex(data)
		require.NoError(t, err)
		require.Equal(t, idx.Variant(), got.Variant())
		require.Equal(t, idx.Ntotal(), got.Ntotal())
		require.Equal(t, idx.D(), got.D())
		return got
	}

	sameSearch := func(t *testing.T, want, got *Index, k int) {
		t.Helper()
		wantDist, wantLabels, err := want.Search(q, k)
		require.NoError(t, err)
		gotDist, gotLabels, err := got.Search(q, k)
		require.NoError(t, err)
		assert.Equal(t, wantLabels, gotLabels)
		assert.Equal(t, wantDist, gotDist)
	}

	t.Run("Flat", func(t *testing.T) {
		idx, err := NewFlat(d, MetricL2)
		require.NoError(t, err)
		require.NoError(t, idx.Add(x))
		sameSearch(t, idx, roundTrip(t, idx), 5)
	})

	t.Run("IVFFlat", func(t *testing.T) {
		quantizer, err := NewFlat(d, MetricL2)
		require.NoError(t, err)
		idx, err := NewIVFFlat(quantizer, d, 4, MetricL2)
		require.NoError(t, err)
		require.NoError(t, idx.Train(x))
		require.NoError(t, idx.Add(x))
		require.NoError(t, idx.SetNProbe(2))

		got := roundTrip(t, idx)
		nprobe, err := got.NProbe()
		require.NoError(t, err)
		assert.Equal(t, 2, nprobe)
		sameSearch(t, idx, got, 5)
	})

	t.Run("HNSW", func(t *testing.T) {
		idx, err := NewHNSW(d, MetricL2)
		require.NoError(t, err)
		require.NoError(t, idx.Add(x))
		require.NoError(t, idx.SetEfSearch(32))

		got := roundTrip(t, idx)
		ef, err := got.EfSearch()
		require.NoError(t, err)
		assert.Equal(t, 32, ef)
		sameSearch(t, idx, got, 5)
	})

	t.Run("PQ", func(t *testing.T) {
		idx, err := NewPQ(d, 2, 4, MetricL2)
		require.NoError(t, err)
		require.NoError(t, idx.Train(x))
		require.NoError(t, idx.Add(x))
		sameSearch(t, idx, roundTrip(t, idx), 5)
	})

	t.Run("ScalarQuantizer", func(t *testing.T) {
		idx, err := NewScalarQuantizer(d, SQ8, MetricL2)
		require.NoError(t, err)
		require.NoError(t, idx.Train(x))
		require.NoError(t, idx.Add(x))
		sameSearch(t, idx, roundTrip(t, idx), 5)
	})

	t.Run("LSH", func(t *testing.T) {
		idx, err := NewLSH(d, 16)
		require.NoError(t, err)
		require.NoError(t, idx.Add(x))
		sameSearch(t, idx, roundTrip(t, idx), 5)
	})

	t.Run("IDMapOverFlat", func(t *testing.T) {
		base, err := NewFlat(d, MetricL2)
		require.NoError(t, err)
		idx, err := NewIDMap(base)
		require.NoError(t, err)
		ids := make([]int64, n)
		for i := range ids {
			ids[i] = int64(1000 + i)
		}
		require.NoError(t, idx.AddWithIDs(x, ids))

		got := roundTrip(t, idx)
		_, labels, err := got.Search(q, 1)
		require.NoError(t, err)
		assert.Equal(t, int64(1003), labels[0])
	})

	t.Run("PreTransformOwnsTransform", func(t *testing.T) {
		rot, err := transform.NewRandomRotation(d, 99)
		require.NoError(t, err)
		base, err := NewFlat(d, MetricL2)
		require.NoError(t, err)
		idx, err := NewPreTransform(rot, base)
		require.NoError(t, err)
		require.NoError(t, idx.Train(x))
		require.NoError(t, idx.Add(x))
		sameSearch(t, idx, roundTrip(t, idx), 5)
	})

	t.Run("RefineKeepsKFactor", func(t *testing.T) {
		base, err := NewFlat(d, MetricL2)
		require.NoError(t, err)
		exact, err := NewFlat(d, MetricL2)
		require.NoError(t, err)
		idx, err := NewRefine(base, exact)
		require.NoError(t, err)
		require.NoError(t, idx.SetKFactor(3))
		require.NoError(t, idx.Add(x))

		got := roundTrip(t, idx)
		factor, err := got.KFactor()
		require.NoError(t, err)
		assert.Equal(t, float32(3), factor)
		sameSearch(t, idx, got, 5)
	})

	t.Run("Shards", func(t *testing.T) {
		idx, err := NewShards(d, MetricL2)
		require.NoError(t, err)
		for i := 0; i < 2; i++ {
			child, err := NewFlat(d, MetricL2)
			require.NoError(t, err)
			require.NoError(t, idx.AddShard(child))
		}
		require.NoError(t, idx.Add(x[:n/2*d]))
		require.NoError(t, idx.Add(x[n/2*d:]))
		sameSearch(t, idx, roundTrip(t, idx), 5)
	})

	t.Run("CompressionCodecs", func(t *testing.T) {
		idx, err := NewFlat(d, MetricL2)
		require.NoError(t, err)
		require.NoError(t, idx.Add(x))

		for _, c := range []Compression{CompressionNone, CompressionZstd, CompressionLZ4} {
			got := roundTrip(t, idx, WithCompression(c))
			sameSearch(t, idx, got, 5)
		}
	})

	t.Run("FileRoundTrip", func(t *testing.T) {
		idx, err := NewFlat(d, MetricL2)
		require.NoError(t, err)
		require.NoError(t, idx.Add(x))

		filename := filepath.Join(t.TempDir(), "flat.annex")
		require.NoError(t, WriteIndexToFile(idx, filename))

		got, err := ReadIndexFromFile(filename)
		require.NoError(t, err)
		sameSearch(t, idx, got, 5)
	})

	t.Run("CorruptedHeader", func(t *testing.T) {
		idx, err := NewFlat(d, MetricL2)
		require.NoError(t, err)
		require.NoError(t, idx.Add(x))

		data, err := MarshalIndex(idx)
		require.NoError(t, err)
		data[0] ^= 0xff

		_, err = UnmarshalIndex(data)
		require.Error(t, err)
	})

	t.Run("CorruptedPayload", func(t *testing.T) {
		idx, err := NewFlat(d, MetricL2)
		require.NoError(t, err)
		require.NoError(t, idx.Add(x))

		data, err := MarshalIndex(idx, WithCompression(CompressionNone))
		require.NoError(t, err)
		data[len(data)-6] ^= 0xff

		_, err = UnmarshalIndex(data)
		require.Error(t, err)
	})

	t.Run("Truncated", func(t *testing.T) {
		idx, err := NewFlat(d, MetricL2)
		require.NoError(t, err)
		require.NoError(t, idx.Add(x))

		data, err := MarshalIndex(idx)
		require.NoError(t, err)

		_, err = ReadIndex(bytes.NewReader(data[:len(data)/2]))
		require.Error(t, err)
	})
}
