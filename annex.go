// Package annex provides a crash-proof facade over a family of
// vector-similarity indexes. Every index is held through an opaque
// handle tagged with its variant; all operations return classified
// errors and no fault inside an implementation ever escapes as a panic.
package annex

import (
	"context"
	"time"

	"github.com/annexlab/annex/index"
	"github.com/annexlab/annex/index/flat"
	"github.com/annexlab/annex/index/hnsw"
	"github.com/annexlab/annex/index/ivf"
	"github.com/annexlab/annex/index/lsh"
	"github.com/annexlab/annex/index/pq"
	"github.com/annexlab/annex/index/sq"
)

// Metric identifies the distance metric of an index.
type Metric = index.Metric

const (
	// MetricL2 is squared Euclidean distance, lower is closer.
	MetricL2 = index.MetricL2
	// MetricInnerProduct is the inner product, higher is closer.
	MetricInnerProduct = index.MetricInnerProduct
)

// SQType selects the scalar quantizer encoding.
type SQType = sq.QuantizerType

const (
	// SQ8 stores one byte per component.
	SQ8 = sq.QT8Bit
	// SQ4 stores four bits per component.
	SQ4 = sq.QT4Bit
	// SQFP16 stores IEEE half-precision floats.
	SQFP16 = sq.QTFP16
)

// RangeSearchResult holds the variable-length results of a range search.
type RangeSearchResult = index.RangeSearchResult

// Index is an opaque handle to a vector index. Handles are created by
// the New* constructors or by deserialization and carry their variant
// for the lifetime of the handle.
//
// Handles are not safe for concurrent mutation; concurrent searches on
// an index that is not being modified are safe.
type Index struct {
	variant Variant
	eng     index.Index
	impl    any
	opts    Options
	closed  bool
}

// Variant returns the implementation tag assigned at construction.
func (idx *Index) Variant() Variant { return idx.variant }

// D returns the vector dimension.
func (idx *Index) D() int {
	var d int
	_ = guard("d", func() error { d = idx.eng.D(); return nil })
	return d
}

// Ntotal returns the number of stored vectors.
func (idx *Index) Ntotal() int64 {
	var n int64
	_ = guard("ntotal", func() error { n = idx.eng.Ntotal(); return nil })
	return n
}

// IsTrained reports whether the index is ready to accept vectors.
func (idx *Index) IsTrained() bool {
	var t bool
	_ = guard("is_trained", func() error { t = idx.eng.IsTrained(); return nil })
	return t
}

// Metric returns the index metric.
func (idx *Index) Metric() Metric {
	var m Metric
	_ = guard("metric", func() error { m = idx.eng.Metric(); return nil })
	return m
}

// Train fits the index on representative vectors. Variants that need no
// training accept any input and return nil.
func (idx *Index) Train(x []float32) error {
	start := time.Now()
	err := guard("train", func() error { return idx.eng.Train(x) })
	n := idx.rowCount(x)
	idx.opts.Metrics.RecordTrain(n, time.Since(start), errValue(err))
	idx.opts.Logger.LogTrain(context.Background(), n, errValue(err))
	return errValue(err)
}

// Add appends vectors in row-major layout.
func (idx *Index) Add(x []float32) error {
	start := time.Now()
	err := guard("add", func() error { return idx.eng.Add(x) })
	n := idx.rowCount(x)
	idx.opts.Metrics.RecordAdd(n, time.Since(start), errValue(err))
	idx.opts.Logger.LogAdd(context.Background(), n, idx.Ntotal(), errValue(err))
	return errValue(err)
}

// Search returns the k nearest neighbors for each query. Results are
// k slots per query in rank order; unused slots hold label -1.
func (idx *Index) Search(x []float32, k int) ([]float32, []int64, error) {
	start := time.Now()
	var (
		distances []float32
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

// RangeSearch returns all neighbors within radius of each query. For L2
// the bound is distance < radius; for inner product it is score > radius.
func (idx *Index) RangeSearch(x []float32, radius float32) (*RangeSearchResult, error) {
	rs, ok := idx.eng.(index.RangeSearcher)
	if !ok {
		return nil, newError(KindUnsupported, "range_search",
			"variant %s does not support range search", idx.variant)
	}
	var res *RangeSearchResult
	err := guard("range_search", func() error {
		var e error
		res, e = rs.RangeSearch(x, radius)
		return e
	})
	if err != nil {
		return nil, err
	}
	return res, nil
}

// Assign returns the nearest stored label for each query.
func (idx *Index) Assign(x []float32) ([]int64, error) {
	var labels []int64
	err := guard("assign", func() error {
		if as, ok := idx.eng.(index.Assigner); ok {
			var e error
			labels, e = as.Assign(x)
			return e
		}
		_, l, e := idx.eng.Search(x, 1)
		labels = l
		return e
	})
	if err != nil {
		return nil, err
	}
	return labels, nil
}

// Reconstruct returns the stored (or approximated) vector for a key.
func (idx *Index) Reconstruct(key int64) ([]float32, error) {
	rec, ok := idx.eng.(index.Reconstructor)
	if !ok {
		return nil, newError(KindUnsupported, "reconstruct",
			"variant %s does not support reconstruction", idx.variant)
	}
	var v []float32
	err := guard("reconstruct", func() error {
		var e error
		v, e = rec.Reconstruct(key)
		return e
	})
	if err != nil {
		return nil, err
	}
	return v, nil
}

// ReconstructN returns n consecutive stored vectors starting at start.
func (idx *Index) ReconstructN(start, n int64) ([]float32, error) {
	rec, ok := idx.eng.(index.Reconstructor)
	if !ok {
		return nil, newError(KindUnsupported, "reconstruct_n",
			"variant %s does not support reconstruction", idx.variant)
	}
	var v []float32
	err := guard("reconstruct_n", func() error {
		var e error
		v, e = rec.ReconstructN(start, n)
		return e
	})
	if err != nil {
		return nil, err
	}
	return v, nil
}

// Reset removes all stored vectors. Training state is kept.
func (idx *Index) Reset() error {
	return errValue(guard("reset", func() error { return idx.eng.Reset() }))
}

// Close releases the handle. Wrappers close what they own: Shards
// closes its children and PreTransform drops its transform; indexes
// supplied by the caller (Refine inputs, IDMap bases, IVF quantizers)
// stay open. Closing twice is an error.
func (idx *Index) Close() error {
	if idx.closed {
		return errValue(newError(KindInvalidArgument, "close", "index already closed"))
	}
	idx.closed = true
	switch impl := idx.impl.(type) {
	case *shardsIndex:
		for _, child := range impl.children {
			if err := child.Close(); err != nil {
				return err
			}
		}
	case *preTransformIndex:
		impl.tr = nil
	}
	return nil
}

func (idx *Index) rowCount(x []float32) int {
	d := idx.D()
	if d <= 0 {
		return 0
	}
	return len(x) / d
}

// errValue converts a typed facade error into a plain error, keeping
// nil as a true nil interface.
func errValue(e *Error) error {
	if e == nil {
		return nil
	}
	return e
}

// NewFlat creates an exact brute-force index.
func NewFlat(d int, metric Metric, optFns ...func(o *Options)) (*Index, error) {
	eng, err := flat.New(d, metric)
	if err != nil {
		return nil, translateError("new_flat", err)
	}
	return newHandle(VariantFlat, eng, eng, optFns), nil
}

// NewIVFFlat creates an inverted-file index with nlist buckets. The
// quantizer handle is referenced, not owned: it must be a Flat index of
// the same dimension, it stays usable on its own, and training this
// index rewrites its contents with the learned centroids.
func NewIVFFlat(quantizer *Index, d, nlist int, metric Metric, optFns ...func(o *Options)) (*Index, error) {
	if quantizer == nil {
		return nil, newError(KindInvalidArgument, "new_ivf_flat", "nil quantizer")
	}
	q, ok := quantizer.impl.(*flat.Index)
	if !ok {
		return nil, newError(KindInvalidArgument, "new_ivf_flat",
			"quantizer must be Flat, got %s", quantizer.variant)
	}
	eng, err := ivf.New(q, d, nlist, metric)
	if err != nil {
		return nil, translateError("new_ivf_flat", err)
	}
	return newHandle(VariantIVFFlat, eng, eng, optFns), nil
}

// HNSWOptions configures a graph index at construction.
type HNSWOptions struct {
	// M is the number of graph links per node.
	M int
	// EfConstruction is the candidate pool size during insertion.
	EfConstruction int
	// EfSearch is the candidate pool size during search.
	EfSearch int
	// Seed drives level assignment.
	Seed int64
}

// DefaultHNSWOptions are the construction defaults for NewHNSW.
var DefaultHNSWOptions = HNSWOptions{
	M:              16,
	EfConstruction: 200,
	EfSearch:       16,
	Seed:           42,
}

// NewHNSW creates a hierarchical navigable small world graph index.
func NewHNSW(d int, metric Metric, optFns ...func(o *Options)) (*Index, error) {
	return NewHNSWWithOptions(d, metric, DefaultHNSWOptions, optFns...)
}

// NewHNSWWithOptions creates a graph index with explicit graph parameters.
func NewHNSWWithOptions(d int, metric Metric, hopts HNSWOptions, optFns ...func(o *Options)) (*Index, error) {
	eng, err := hnsw.New(d, metric, func(o *hnsw.Options) {
		o.M = hopts.M
		o.EfConstruction = hopts.EfConstruction
		o.EfSearch = hopts.EfSearch
		o.Seed = hopts.Seed
	})
	if err != nil {
		return nil, translateError("new_hnsw", err)
	}
	return newHandle(VariantHNSW, eng, eng, optFns), nil
}

// NewPQ creates a product quantizer index with m subspaces of nbits each.
func NewPQ(d, m, nbits int, metric Metric, optFns ...func(o *Options)) (*Index, error) {
	eng, err := pq.New(d, m, nbits, metric)
	if err != nil {
		return nil, translateError("new_pq", err)
	}
	return newHandle(VariantPQ, eng, eng, optFns), nil
}

// NewScalarQuantizer creates a scalar quantizer index.
func NewScalarQuantizer(d int, qtype SQType, metric Metric, optFns ...func(o *Options)) (*Index, error) {
	eng, err := sq.New(d, qtype, metric)
	if err != nil {
		return nil, translateError("new_sq", err)
	}
	return newHandle(VariantScalarQuantizer, eng, eng, optFns), nil
}

// NewLSH creates a locality-sensitive hashing index with nbits hash bits.
func NewLSH(d, nbits int, optFns ...func(o *Options)) (*Index, error) {
	eng, err := lsh.New(d, nbits)
	if err != nil {
		return nil, translateError("new_lsh", err)
	}
	return newHandle(VariantLSH, eng, eng, optFns), nil
}

func newHandle(v Variant, eng index.Index, impl any, optFns []func(o *Options)) *Index {
	return &Index{
		variant: v,
		eng:     eng,
		impl:    impl,
		opts:    applyOptions(optFns),
	}
}
