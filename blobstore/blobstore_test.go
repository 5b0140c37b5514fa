package blobstore

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/annexlab/annex"
)

func testStore(t *testing.T, store Store) {
	t.Helper()
	ctx := context.Background()

	_, err := store.Get(ctx, "missing")
	require.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, store.Put(ctx, "a/one", []byte("first")))
	require.NoError(t, store.Put(ctx, "a/two", []byte("second")))
	require.NoError(t, store.Put(ctx, "b/three", []byte("third")))

	data, err := store.Get(ctx, "a/one")
	require.NoError(t, err)
	assert.Equal(t, []byte("first"), data)

	// Overwrite replaces content.
	require.NoError(t, store.Put(ctx, "a/one", []byte("replaced")))
	data, err = store.Get(ctx, "a/one")
	require.NoError(t, err)
	assert.Equal(t, []byte("replaced"), data)

	names, err := store.List(ctx, "a/")
	require.NoError(t, err)
	assert.Equal(t, []string{"a/one", "a/two"}, names)

	require.NoError(t, store.Delete(ctx, "a/one"))
	_, err = store.Get(ctx, "a/one")
	require.ErrorIs(t, err, ErrNotFound)

	// Deleting a missing blob is not an error.
	require.NoError(t, store.Delete(ctx, "a/one"))
}

func TestMemoryStore(t *testing.T) {
	testStore(t, NewMemoryStore())
}

func TestLocalStore(t *testing.T) {
	testStore(t, NewLocalStore(t.TempDir()))
}

func TestSaveLoadIndex(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	idx, err := annex.NewFlat(2, annex.MetricL2)
	require.NoError(t, err)
	require.NoError(t, idx.Add([]float32{
		0, 0,
		1, 0,
		0, 1,
	}))

	require.NoError(t, SaveIndex(ctx, store, "indexes/flat", idx))

	got, err := LoadIndex(ctx, store, "indexes/flat")
	require.NoError(t, err)
	assert.Equal(t, annex.VariantFlat, got.Variant())
	assert.Equal(t, int64(3), got.Ntotal())

	_, labels, err := got.Search([]float32{0.9, 0}, 1)
	require.NoError(t, err)
	assert.Equal(t, int64(1), labels[0])

	_, err = LoadIndex(ctx, store, "indexes/missing")
	require.ErrorIs(t, err, ErrNotFound)
}
