package blobstore

import (
	"bytes"
	"context"

	"github.com/annexlab/annex"
)

// SaveIndex serializes an index into the store under the given name.
func SaveIndex(ctx context.Context, store Store, name string, idx *annex.Index, optFns ...func(o *annex.SerializeOptions)) error {
	data, err := annex.MarshalIndex(idx, optFns...)
	if err != nil {
		return err
	}
	return store.Put(ctx, name, data)
}

// LoadIndex reads an index saved with SaveIndex.
func LoadIndex(ctx context.Context, store Store, name string, optFns ...func(o *annex.Options)) (*annex.Index, error) {
	data, err := store.Get(ctx, name)
	if err != nil {
		return nil, err
	}
	return annex.ReadIndex(bytes.NewReader(data), optFns...)
}
