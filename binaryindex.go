package annex

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/annexlab/annex/index"
	"github.com/annexlab/annex/index/binary"
	"github.com/annexlab/annex/persistence"
)

// BinaryIndex is an opaque handle to a packed-bit index. Vectors are
// d/8 bytes each and distances are Hamming distances.
type BinaryIndex struct {
	variant Variant
	eng     index.BinaryIndex
	opts    Options
	closed  bool
}

// NewBinaryFlat creates an exact packed-bit index. d is the bit
// dimension and must be a multiple of 8.
func NewBinaryFlat(d int, optFns ...func(o *Options)) (*BinaryIndex, error) {
	eng, err := binary.NewFlat(d)
	if err != nil {
		return nil, translateError("new_binary_flat", err)
	}
	return newBinaryHandle(VariantBinaryFlat, eng, optFns), nil
}

// NewBinaryIVF creates an inverted-file index over packed bits. The
// quantizer handle is referenced, not owned: it must be a BinaryFlat
// index of the same dimension and training rewrites its contents with
// the learned centroids.
func NewBinaryIVF(quantizer *BinaryIndex, d, nlist int, optFns ...func(o *Options)) (*BinaryIndex, error) {
	if quantizer == nil {
		return nil, newError(KindInvalidArgument, "new_binary_ivf", "nil quantizer")
	}
	q, ok := quantizer.eng.(*binary.Flat)
	if !ok {
		return nil, newError(KindInvalidArgument, "new_binary_ivf",
			"quantizer must be BinaryFlat, got %s", quantizer.variant)
	}
	eng, err := binary.NewIVF(q, d, nlist)
	if err != nil {
		return nil, translateError("new_binary_ivf", err)
	}
	return newBinaryHandle(VariantBinaryIVF, eng, optFns), nil
}

// NewBinaryHash creates a packed-bit index bucketing on the first nbits
// bits.
func NewBinaryHash(d, nbits int, optFns ...func(o *Options)) (*BinaryIndex, error) {
	eng, err := binary.NewHash(d, nbits)
	if err != nil {
		return nil, translateError("new_binary_hash", err)
	}
	return newBinaryHandle(VariantBinaryHash, eng, optFns), nil
}

func newBinaryHandle(v Variant, eng index.BinaryIndex, optFns []func(o *Options)) *BinaryIndex {
	return &BinaryIndex{
		variant: v,
		eng:     eng,
		opts:    applyOptions(optFns),
	}
}

// Variant returns the implementation tag assigned at construction.
func (idx *BinaryIndex) Variant() Variant { return idx.variant }

// D returns the bit dimension.
func (idx *BinaryIndex) D() int {
	var d int
	_ = guard("d", func() error { d = idx.eng.D(); return nil })
	return d
}

// Ntotal returns the number of stored vectors.
func (idx *BinaryIndex) Ntotal() int64 {
	var n int64
	_ = guard("ntotal", func() error { n = idx.eng.Ntotal(); return nil })
	return n
}

// IsTrained reports whether the index is ready to accept vectors.
func (idx *BinaryIndex) IsTrained() bool {
	var t bool
	_ = guard("is_trained", func() error { t = idx.eng.IsTrained(); return nil })
	return t
}

// Train fits the index on representative packed vectors.
func (idx *BinaryIndex) Train(x []byte) error {
	start := time.Now()
	err := guard("train", func() error { return idx.eng.Train(x) })
	n := idx.rowCount(x)
	idx.opts.Metrics.RecordTrain(n, time.Since(start), errValue(err))
	idx.opts.Logger.LogTrain(context.Background(), n, errValue(err))
	return errValue(err)
}

// Add appends packed vectors, d/8 bytes per row.
func (idx *BinaryIndex) Add(x []byte) error {
	start := time.Now()
	err := guard("add", func() error { return idx.eng.Add(x) })
	n := idx.rowCount(x)
	idx.opts.Metrics.RecordAdd(n, time.Since(start), errValue(err))
	idx.opts.Logger.LogAdd(context.Background(), n, idx.Ntotal(), errValue(err))
	return errValue(err)
}

// Search returns the k nearest stored vectors by Hamming distance, k
// slots per query in rank order with label -1 padding.
func (idx *BinaryIndex) Search(x []byte, k int) ([]int32, []int64, error) {
	start := time.Now()
	var (
		distances []int32
		labels    []int64
	)
	err := guard("search", func() error {
		var e error
		distances, labels, e = idx.eng.Search(x, k)
		return e
	})
	nq := idx.rowCount(x)
	idx.opts.Metrics.RecordSearch(nq, k, time.Since(start), errValue(err))
	idx.opts.Logger.LogSearch(context.Background(), nq, k, errValue(err))
	if err != nil {
		return nil, nil, err
	}
	return distances, labels, nil
}

// Reconstruct returns the stored packed vector for a key.
func (idx *BinaryIndex) Reconstruct(key int64) ([]byte, error) {
	var v []byte
	err := guard("reconstruct", func() error {
		var e error
		v, e = idx.eng.Reconstruct(key)
		return e
	})
	if err != nil {
		return nil, err
	}
	return v, nil
}

// Reset removes all stored vectors. Training state is kept.
func (idx *BinaryIndex) Reset() error {
	return errValue(guard("reset", func() error { return idx.eng.Reset() }))
}

// Close releases the handle. Quantizers supplied by the caller stay
// open. Closing twice is an error.
func (idx *BinaryIndex) Close() error {
	if idx.closed {
		return errValue(newError(KindInvalidArgument, "close", "index already closed"))
	}
	idx.closed = true
	return nil
}

// SetNProbe sets the number of buckets probed per query. Only binary
// inverted-file indexes carry this parameter.
func (idx *BinaryIndex) SetNProbe(nprobe int) error {
	if idx.variant != VariantBinaryIVF {
		return newError(KindCapabilityMismatch, "set_nprobe",
			"variant %s has no nprobe parameter", idx.variant)
	}
	return errValue(guard("set_nprobe", func() error {
		return idx.eng.(*binary.IVF).SetNprobe(nprobe)
	}))
}

// NProbe returns the number of buckets probed per query.
func (idx *BinaryIndex) NProbe() (int, error) {
	if idx.variant != VariantBinaryIVF {
		return 0, newError(KindCapabilityMismatch, "nprobe",
			"variant %s has no nprobe parameter", idx.variant)
	}
	return idx.eng.(*binary.IVF).Nprobe(), nil
}

func (idx *BinaryIndex) rowCount(x []byte) int {
	d := idx.D()
	if d <= 0 {
		return 0
	}
	return len(x) / (d / 8)
}

// WriteBinaryIndex writes a packed-bit index to w.
func WriteBinaryIndex(idx *BinaryIndex, w io.Writer, optFns ...func(o *SerializeOptions)) error {
	if idx == nil {
		return newError(KindInvalidArgument, "write_binary_index", "nil index")
	}
	opts := applySerializeOptions(optFns)
	err := guard("write_binary_index", func() error {
		var buf bytes.Buffer
		bw := persistence.NewWriter(&buf)
		bw.WriteString(idx.variant.String())
		var serr error
		switch eng := idx.eng.(type) {
		case *binary.Flat:
			serr = eng.Save(bw)
		case *binary.IVF:
			serr = eng.Save(bw)
		case *binary.Hash:
			serr = eng.Save(bw)
		default:
			serr = fmt.Errorf("serialize: unsupported variant %s", idx.variant)
		}
		if serr != nil {
			return serr
		}
		if err := bw.Err(); err != nil {
			return err
		}
		return persistence.Seal(w, opts.Compression, buf.Bytes())
	})
	return errValue(err)
}

// ReadBinaryIndex reads an index written by WriteBinaryIndex.
func ReadBinaryIndex(r io.Reader, optFns ...func(o *Options)) (*BinaryIndex, error) {
	var idx *BinaryIndex
	err := guard("read_binary_index", func() error {
		payload, err := persistence.Open(r)
		if err != nil {
			return err
		}
		br := persistence.NewReader(bytes.NewReader(payload))
		tag := br.ReadString()
		if err := br.Err(); err != nil {
			return err
		}
		switch tag {
		case VariantBinaryFlat.String():
			eng, err := binary.LoadFlat(br)
			if err != nil {
				return err
			}
			idx = newBinaryHandle(VariantBinaryFlat, eng, optFns)
		case VariantBinaryIVF.String():
			eng, err := binary.LoadIVF(br)
			if err != nil {
				return err
			}
			idx = newBinaryHandle(VariantBinaryIVF, eng, optFns)
		case VariantBinaryHash.String():
			eng, err := binary.LoadHash(br)
			if err != nil {
				return err
			}
			idx = newBinaryHandle(VariantBinaryHash, eng, optFns)
		default:
			return fmt.Errorf("serialize: unknown variant tag %q", tag)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return idx, nil
}

// WriteBinaryIndexToFile writes a packed-bit index to a file.
func WriteBinaryIndexToFile(idx *BinaryIndex, filename string, optFns ...func(o *SerializeOptions)) error {
	f, err := os.Create(filename)
	if err != nil {
		return translateError("write_binary_index_file", err)
	}
	werr := WriteBinaryIndex(idx, f, optFns...)
	cerr := f.Close()
	if werr != nil {
		return werr
	}
	return errValue(translateError("write_binary_index_file", cerr))
}

// ReadBinaryIndexFromFile reads an index written by WriteBinaryIndexToFile.
func ReadBinaryIndexFromFile(filename string, optFns ...func(o *Options)) (*BinaryIndex, error) {
	f, err := os.Open(filename)
	if err != nil {
		return nil, translateError("read_binary_index_file", err)
	}
	defer f.Close()
	return ReadBinaryIndex(f, optFns...)
}
