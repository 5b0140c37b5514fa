package device

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/annexlab/annex"
)

func TestNoBackend(t *testing.T) {
	ctx := context.Background()

	idx, err := annex.NewFlat(4, annex.MetricL2)
	require.NoError(t, err)

	assert.Equal(t, 0, Count())
	assert.Equal(t, "none", Active().Name())

	assertUnsupported := func(t *testing.T, err error) {
		t.Helper()
		require.Error(t, err)
		var fe *annex.Error
		require.ErrorAs(t, err, &fe)
		assert.Equal(t, annex.KindUnsupported, fe.Kind)
	}

	_, err = IndexToDevice(ctx, idx, 0)
	assertUnsupported(t, err)

	_, err = IndexToHost(ctx, idx)
	assertUnsupported(t, err)

	_, err = IndexToAllDevices(ctx, idx)
	assertUnsupported(t, err)
}

func TestRegister(t *testing.T) {
	backend := &fakeBackend{devices: 2}
	Register(backend)
	t.Cleanup(func() { Register(nil) })

	assert.Equal(t, 2, Count())
	assert.Equal(t, "fake", Active().Name())

	idx, err := annex.NewFlat(4, annex.MetricL2)
	require.NoError(t, err)

	got, err := IndexToDevice(context.Background(), idx, 1)
	require.NoError(t, err)
	assert.Same(t, idx, got)
	assert.Equal(t, 1, backend.lastDev)

	// Nil restores graceful degradation.
	Register(nil)
	assert.Equal(t, 0, Count())
}

func TestResources(t *testing.T) {
	ctx := context.Background()

	t.Run("MemoryLimit", func(t *testing.T) {
		r := NewResources(Config{MemoryLimitBytes: 100})

		require.NoError(t, r.AcquireMemory(ctx, 60))
		assert.Equal(t, int64(60), r.MemoryUsage())

		assert.False(t, r.TryAcquireMemory(50))
		assert.True(t, r.TryAcquireMemory(40))

		r.ReleaseMemory(100)
		assert.Equal(t, int64(0), r.MemoryUsage())
	})

	t.Run("UnlimitedTracksOnly", func(t *testing.T) {
		r := NewResources(Config{})
		assert.True(t, r.TryAcquireMemory(1<<40))
		assert.Equal(t, int64(1<<40), r.MemoryUsage())
		r.ReleaseMemory(1 << 40)
	})

	t.Run("TransferSlots", func(t *testing.T) {
		r := NewResources(Config{MaxConcurrentTransfers: 1})

		require.NoError(t, r.BeginTransfer(ctx, 1024))

		canceled, cancel := context.WithCancel(ctx)
		cancel()
		err := r.BeginTransfer(canceled, 1024)
		require.Error(t, err)
		assert.True(t, errors.Is(err, context.Canceled))

		r.EndTransfer()
		require.NoError(t, r.BeginTransfer(ctx, 1024))
		r.EndTransfer()
	})
}

type fakeBackend struct {
	devices int
	lastDev int
}

func (f *fakeBackend) Name() string { return "fake" }

func (f *fakeBackend) Count() int { return f.devices }

func (f *fakeBackend) ToDevice(_ context.Context, idx *annex.Index, dev int) (*annex.Index, error) {
	f.lastDev = dev
	return idx, nil
}

func (f *fakeBackend) ToHost(_ context.Context, idx *annex.Index) (*annex.Index, error) {
	return idx, nil
}

func (f *fakeBackend) ToAllDevices(_ context.Context, idx *annex.Index) (*annex.Index, error) {
	return idx, nil
}
