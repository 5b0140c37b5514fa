package annex

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIndexFactory(t *testing.T) {
	const d = 16

	t.Run("Variants", func(t *testing.T) {
		for _, tt := range []struct {
			desc    string
			variant Variant
		}{
			{desc: "Flat", variant: VariantFlat},
			{desc: "IVF8", variant: VariantIVFFlat},
			{desc: "IVF8,Flat", variant: VariantIVFFlat},
			{desc: "HNSW", variant: VariantHNSW},
			{desc: "HNSW32", variant: VariantHNSW},
			{desc: "PQ4", variant: VariantPQ},
			{desc: "SQ8", variant: VariantScalarQuantizer},
			{desc: "SQ4", variant: VariantScalarQuantizer},
			{desc: "SQfp16", variant: VariantScalarQuantizer},
			{desc: "LSH", variant: VariantLSH},
			{desc: "PCA8,Flat", variant: VariantPreTransform},
			{desc: "RR,Flat", variant: VariantPreTransform},
			{desc: "OPQ4,PQ4", variant: VariantPreTransform},
			{desc: "IDMap,Flat", variant: VariantIDMap},
			{desc: "Flat,RFlat", variant: VariantRefine},
			{desc: "IDMap,PCA8,SQ8,RFlat", variant: VariantIDMap},
		} {
			t.Run(tt.desc, func(t *testing.T) {
				idx, err := IndexFactory(d, tt.desc, MetricL2)
				require.NoError(t, err)
				assert.Equal(t, tt.variant, idx.Variant())
				assert.Equal(t, d, idx.D())
			})
		}
	})

	t.Run("HNSWParameter", func(t *testing.T) {
		idx, err := IndexFactory(d, "HNSW32", MetricL2)
		require.NoError(t, err)
		ef, err := idx.EfSearch()
		require.NoError(t, err)
		assert.Equal(t, DefaultHNSWOptions.EfSearch, ef)
	})

	t.Run("PCAShrinksBase", func(t *testing.T) {
		idx, err := IndexFactory(d, "PCA8,Flat", MetricL2)
		require.NoError(t, err)

		x := randomVectors(100, d, 51)
		require.NoError(t, idx.Train(x))
		require.NoError(t, idx.Add(x))
		assert.Equal(t, int64(100), idx.Ntotal())

		_, labels, err := idx.Search(x[:d], 1)
		require.NoError(t, err)
		assert.Equal(t, int64(0), labels[0])
	})

	t.Run("Invalid", func(t *testing.T) {
		for _, desc := range []string{
			"",
			"Flop",
			"IVF",
			"IVF0",
			"PQ",
			"PCA8",
			"Flat,Flat",
			"IDMap",
			"RFlat",
			"SQ2",
		} {
			t.Run(desc, func(t *testing.T) {
				err := ValidateIndexDescription(desc)
				require.Error(t, err)
				_, err = IndexFactory(d, desc, MetricL2)
				require.Error(t, err)
			})
		}
	})

	t.Run("ValidateDoesNotBuild", func(t *testing.T) {
		require.NoError(t, ValidateIndexDescription("IDMap,OPQ4,PQ4,RFlat"))
	})
}
