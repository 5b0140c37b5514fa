package annex

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCapabilityDispatch(t *testing.T) {
	t.Run("NProbeOnIVF", func(t *testing.T) {
		quantizer, err := NewFlat(4, MetricL2)
		require.NoError(t, err)
		idx, err := NewIVFFlat(quantizer, 4, 8, MetricL2)
		require.NoError(t, err)

		nprobe, err := idx.NProbe()
		require.NoError(t, err)
		assert.Equal(t, 1, nprobe)

		require.NoError(t, idx.SetNProbe(4))
		nprobe, err = idx.NProbe()
		require.NoError(t, err)
		assert.Equal(t, 4, nprobe)

		nlist, err := idx.NList()
		require.NoError(t, err)
		assert.Equal(t, 8, nlist)

		// Out of range leaves the parameter untouched.
		err = idx.SetNProbe(9)
		var fe *Error
		require.ErrorAs(t, err, &fe)
		assert.Equal(t, KindInvalidArgument, fe.Kind)
		nprobe, err = idx.NProbe()
		require.NoError(t, err)
		assert.Equal(t, 4, nprobe)
	})

	t.Run("NProbeOnFlatMismatch", func(t *testing.T) {
		idx, err := NewFlat(4, MetricL2)
		require.NoError(t, err)

		err = idx.SetNProbe(4)
		var fe *Error
		require.ErrorAs(t, err, &fe)
		assert.Equal(t, KindCapabilityMismatch, fe.Kind)

		_, err = idx.NProbe()
		require.ErrorAs(t, err, &fe)
		assert.Equal(t, KindCapabilityMismatch, fe.Kind)
	})

	t.Run("EfSearchOnHNSW", func(t *testing.T) {
		idx, err := NewHNSW(4, MetricL2)
		require.NoError(t, err)

		require.NoError(t, idx.SetEfSearch(48))
		ef, err := idx.EfSearch()
		require.NoError(t, err)
		assert.Equal(t, 48, ef)

		require.NoError(t, idx.SetEfConstruction(300))
		ef, err = idx.EfConstruction()
		require.NoError(t, err)
		assert.Equal(t, 300, ef)

		// Out of range leaves both parameters untouched.
		var fe *Error
		require.ErrorAs(t, idx.SetEfSearch(0), &fe)
		assert.Equal(t, KindInvalidArgument, fe.Kind)
		require.ErrorAs(t, idx.SetEfConstruction(-1), &fe)
		assert.Equal(t, KindInvalidArgument, fe.Kind)
		ef, err = idx.EfSearch()
		require.NoError(t, err)
		assert.Equal(t, 48, ef)
		ef, err = idx.EfConstruction()
		require.NoError(t, err)
		assert.Equal(t, 300, ef)
	})

	t.Run("EfSearchOnIVFMismatch", func(t *testing.T) {
		quantizer, err := NewFlat(4, MetricL2)
		require.NoError(t, err)
		idx, err := NewIVFFlat(quantizer, 4, 8, MetricL2)
		require.NoError(t, err)

		err = idx.SetEfSearch(48)
		var fe *Error
		require.ErrorAs(t, err, &fe)
		assert.Equal(t, KindCapabilityMismatch, fe.Kind)

		// The mismatch left the index fully usable.
		nprobe, err := idx.NProbe()
		require.NoError(t, err)
		assert.Equal(t, 1, nprobe)
	})

	t.Run("KFactorOnRefine", func(t *testing.T) {
		base, err := NewFlat(4, MetricL2)
		require.NoError(t, err)
		refine, err := NewFlat(4, MetricL2)
		require.NoError(t, err)
		idx, err := NewRefine(base, refine)
		require.NoError(t, err)

		factor, err := idx.KFactor()
		require.NoError(t, err)
		assert.Equal(t, float32(1), factor)

		require.NoError(t, idx.SetKFactor(4))
		factor, err = idx.KFactor()
		require.NoError(t, err)
		assert.Equal(t, float32(4), factor)

		err = idx.SetKFactor(0.5)
		var fe *Error
		require.ErrorAs(t, err, &fe)
		assert.Equal(t, KindInvalidArgument, fe.Kind)
	})

	t.Run("KFactorOnFlatMismatch", func(t *testing.T) {
		idx, err := NewFlat(4, MetricL2)
		require.NoError(t, err)

		err = idx.SetKFactor(2)
		var fe *Error
		require.ErrorAs(t, err, &fe)
		assert.Equal(t, KindCapabilityMismatch, fe.Kind)
	})
}
