package annex

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"

	"github.com/annexlab/annex/index/flat"
	"github.com/annexlab/annex/index/hnsw"
	"github.com/annexlab/annex/index/ivf"
	"github.com/annexlab/annex/index/lsh"
	"github.com/annexlab/annex/index/pq"
	"github.com/annexlab/annex/index/sq"
	"github.com/annexlab/annex/persistence"
	"github.com/annexlab/annex/transform"
)

// Compression selects the payload codec used when writing an index.
type Compression = persistence.Compression

const (
	// CompressionNone stores the payload uncompressed.
	CompressionNone = persistence.CompressionNone
	// CompressionZstd compresses the payload with zstd (the default).
	CompressionZstd = persistence.CompressionZstd
	// CompressionLZ4 compresses the payload with lz4.
	CompressionLZ4 = persistence.CompressionLZ4
)

// SerializeOptions configures index writing.
type SerializeOptions struct {
	Compression Compression
}

func applySerializeOptions(optFns []func(o *SerializeOptions)) SerializeOptions {
	opts := SerializeOptions{Compression: CompressionZstd}
	for _, fn := range optFns {
		fn(&opts)
	}
	return opts
}

// WithCompression sets the payload codec.
func WithCompression(c Compression) func(o *SerializeOptions) {
	return func(o *SerializeOptions) {
		o.Compression = c
	}
}

// WriteIndex writes an index to w. The payload starts with the variant
// tag, so readers recover the concrete type without probing. Composite
// indexes serialize their children inline, owned or not.
func WriteIndex(idx *Index, w io.Writer, optFns ...func(o *SerializeOptions)) error {
	if idx == nil {
		return newError(KindInvalidArgument, "write_index", "nil index")
	}
	opts := applySerializeOptions(optFns)
	err := guard("write_index", func() error {
		var buf bytes.Buffer
		bw := persistence.NewWriter(&buf)
		if err := writeIndexPayload(bw, idx); err != nil {
			return err
		}
		if err := bw.Err(); err != nil {
			return err
		}
		return persistence.Seal(w, opts.Compression, buf.Bytes())
	})
	return errValue(err)
}

// ReadIndex reads an index written by WriteIndex.
func ReadIndex(r io.Reader, optFns ...func(o *Options)) (*Index, error) {
	var idx *Index
	err := guard("read_index", func() error {
		payload, err := persistence.Open(r)
		if err != nil {
			return err
		}
		br := persistence.NewReader(bytes.NewReader(payload))
		idx, err = readIndexPayload(br, optFns)
		return err
	})
	if err != nil {
		return nil, err
	}
	return idx, nil
}

// WriteIndexToFile writes an index to a file, replacing any existing
// content.
func WriteIndexToFile(idx *Index, filename string, optFns ...func(o *SerializeOptions)) error {
	f, err := os.Create(filename)
	if err != nil {
		return translateError("write_index_file", err)
	}
	werr := WriteIndex(idx, f, optFns...)
	cerr := f.Close()
	if idx != nil {
		if werr != nil {
			idx.opts.Logger.LogSnapshot(context.Background(), filename, werr)
		} else {
			idx.opts.Logger.LogSnapshot(context.Background(), filename, cerr)
		}
	}
	if werr != nil {
		return werr
	}
	return errValue(translateError("write_index_file", cerr))
}

// ReadIndexFromFile reads an index written by WriteIndexToFile.
func ReadIndexFromFile(filename string, optFns ...func(o *Options)) (*Index, error) {
	f, err := os.Open(filename)
	if err != nil {
		return nil, translateError("read_index_file", err)
	}
	defer f.Close()
	return ReadIndex(f, optFns...)
}

// MarshalIndex serializes an index into a byte buffer.
func MarshalIndex(idx *Index, optFns ...func(o *SerializeOptions)) ([]byte, error) {
	var buf bytes.Buffer
	if err := WriteIndex(idx, &buf, optFns...); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// UnmarshalIndex deserializes an index from a byte buffer.
func UnmarshalIndex(data []byte, optFns ...func(o *Options)) (*Index, error) {
	return ReadIndex(bytes.NewReader(data), optFns...)
}

func writeIndexPayload(w *persistence.Writer, idx *Index) error {
	w.WriteString(idx.variant.String())
	switch impl := idx.impl.(type) {
	case *flat.Index:
		return impl.Save(w)
	case *ivf.Index:
		return impl.Save(w)
	case *hnsw.Index:
		return impl.Save(w)
	case *pq.Index:
		return impl.Save(w)
	case *sq.Index:
		return impl.Save(w)
	case *lsh.Index:
		return impl.Save(w)
	case *refineIndex:
		w.WriteFloat32(impl.kFactor)
		if err := writeIndexPayload(w, impl.base); err != nil {
			return err
		}
		return writeIndexPayload(w, impl.refine)
	case *preTransformIndex:
		if err := transform.Save(w, impl.tr); err != nil {
			return err
		}
		return writeIndexPayload(w, impl.base)
	case *idmapIndex:
		w.WriteInt64s(impl.ids)
		return writeIndexPayload(w, impl.base)
	case *shardsIndex:
		w.WriteInt(impl.d)
		w.WriteUint8(uint8(impl.met))
		w.WriteInt64(impl.next)
		w.WriteInt(impl.cursor)
		w.WriteInt(len(impl.children))
		for s, child := range impl.children {
			w.WriteInt64s(impl.ids[s])
			if err := writeIndexPayload(w, child); err != nil {
				return err
			}
		}
		return w.Err()
	default:
		return fmt.Errorf("serialize: unsupported variant %s", idx.variant)
	}
}

func readIndexPayload(r *persistence.Reader, optFns []func(o *Options)) (*Index, error) {
	tag := r.ReadString()
	if err := r.Err(); err != nil {
		return nil, err
	}
	switch tag {
	case VariantFlat.String():
		eng, err := flat.Load(r)
		if err != nil {
			return nil, err
		}
		return newHandle(VariantFlat, eng, eng, optFns), nil
	case VariantIVFFlat.String():
		eng, err := ivf.Load(r)
		if err != nil {
			return nil, err
		}
		return newHandle(VariantIVFFlat, eng, eng, optFns), nil
	case VariantHNSW.String():
		eng, err := hnsw.Load(r)
		if err != nil {
			return nil, err
		}
		return newHandle(VariantHNSW, eng, eng, optFns), nil
	case VariantPQ.String():
		eng, err := pq.Load(r)
		if err != nil {
			return nil, err
		}
		return newHandle(VariantPQ, eng, eng, optFns), nil
	case VariantScalarQuantizer.String():
		eng, err := sq.Load(r)
		if err != nil {
			return nil, err
		}
		return newHandle(VariantScalarQuantizer, eng, eng, optFns), nil
	case VariantLSH.String():
		eng, err := lsh.Load(r)
		if err != nil {
			return nil, err
		}
		return newHandle(VariantLSH, eng, eng, optFns), nil
	case VariantRefine.String():
		kFactor := r.ReadFloat32()
		if err := r.Err(); err != nil {
			return nil, err
		}
		base, err := readIndexPayload(r, optFns)
		if err != nil {
			return nil, err
		}
		refine, err := readIndexPayload(r, optFns)
		if err != nil {
			return nil, err
		}
		handle, err := NewRefine(base, refine, optFns...)
		if err != nil {
			return nil, err
		}
		handle.impl.(*refineIndex).kFactor = kFactor
		return handle, nil
	case VariantPreTransform.String():
		tr, err := transform.Load(r)
		if err != nil {
			return nil, err
		}
		base, err := readIndexPayload(r, optFns)
		if err != nil {
			return nil, err
		}
		return NewPreTransform(tr, base, optFns...)
	case VariantIDMap.String():
		ids := r.ReadInt64s()
		if err := r.Err(); err != nil {
			return nil, err
		}
		base, err := readIndexPayload(r, optFns)
		if err != nil {
			return nil, err
		}
		eng := &idmapIndex{base: base, ids: ids, rows: make(map[int64]int64, len(ids))}
		for row, id := range ids {
			eng.rows[id] = int64(row)
		}
		return newHandle(VariantIDMap, eng, eng, optFns), nil
	case VariantShards.String():
		d := r.ReadInt()
		met := Metric(r.ReadUint8())
		next := r.ReadInt64()
		cursor := r.ReadInt()
		nchildren := r.ReadInt()
		if err := r.Err(); err != nil {
			return nil, err
		}
		eng := &shardsIndex{d: d, met: met, next: next, cursor: cursor}
		for s := 0; s < nchildren; s++ {
			ids := r.ReadInt64s()
			child, err := readIndexPayload(r, optFns)
			if err != nil {
				return nil, err
			}
			eng.children = append(eng.children, child)
			eng.ids = append(eng.ids, ids)
		}
		return newHandle(VariantShards, eng, eng, optFns), nil
	default:
		return nil, fmt.Errorf("serialize: unknown variant tag %q", tag)
	}
}
