// Package lsh implements the locality-sensitive-hash index: vectors are
// reduced to nbits random-hyperplane signatures and ranked by Hamming
// distance between signatures.
package lsh

import (
	"fmt"
	"math/rand"

	"github.com/annexlab/annex/index"
	"github.com/annexlab/annex/metric"
	"github.com/annexlab/annex/persistence"
	"github.com/annexlab/annex/transform"
)

// Options configures an LSH index.
type Options struct {
	// RotateData applies a random orthonormal rotation before hashing.
	RotateData bool

	// TrainThresholds learns a per-bit threshold from training data
	// instead of thresholding at zero. When set, the index starts
	// untrained.
	TrainThresholds bool

	// Seed drives hyperplane and rotation generation.
	Seed int64
}

// DefaultOptions are the options used when none are given.
var DefaultOptions = Options{
	Seed: 1234,
}

// Index is a binary-signature LSH index.
type Index struct {
	d     int
	nbits int
	opts  Options

	planes     []float32 // nbits * d hyperplane normals
	rotation   *transform.RandomRotation
	thresholds []float32 // per-bit, when trained
	sigs       []byte    // ntotal * codeSize packed signatures
	trained    bool
}

var _ index.Index = (*Index)(nil)

// New creates an LSH index mapping d-dimensional vectors to nbits-bit
// signatures.
func New(d, nbits int, optFns ...func(o *Options)) (*Index, error) {
	if d <= 0 {
		return nil, &index.ErrInvalidDimension{Dimension: d}
	}
	if nbits <= 0 {
		return nil, fmt.Errorf("lsh: nbits must be positive, got %d: %w", nbits, index.ErrInvalidParameter)
	}
	opts := DefaultOptions
	for _, fn := range optFns {
		fn(&opts)
	}

	idx := &Index{
		d:       d,
		nbits:   nbits,
		opts:    opts,
		trained: !opts.TrainThresholds,
	}

	rng := rand.New(rand.NewSource(opts.Seed))
	idx.planes = make([]float32, nbits*d)
	for i := range idx.planes {
		idx.planes[i] = float32(rng.NormFloat64())
	}

	if opts.RotateData {
		rot, err := transform.NewRandomRotation(d, opts.Seed+1)
		if err != nil {
			return nil, err
		}
		idx.rotation = rot
	}

	return idx, nil
}

// D returns the vector dimension.
func (idx *Index) D() int { return idx.d }

func (idx *Index) codeSize() int { return (idx.nbits + 7) / 8 }

// Ntotal returns the number of stored signatures.
func (idx *Index) Ntotal() int64 { return int64(len(idx.sigs) / idx.codeSize()) }

// IsTrained reports whether per-bit thresholds are available. Without
// threshold training the index is trained from construction.
func (idx *Index) IsTrained() bool { return idx.trained }

// Metric returns MetricL2; LSH approximates L2 proximity.
func (idx *Index) Metric() index.Metric { return index.MetricL2 }

// Nbits returns the signature width.
func (idx *Index) Nbits() int { return idx.nbits }

// project returns the nbits raw projections of one vector.
func (idx *Index) project(v []float32) ([]float32, error) {
	if idx.rotation != nil {
		rotated, err := idx.rotation.Apply(v)
		if err != nil {
			return nil, err
		}
		v = rotated
	}
	out := make([]float32, idx.nbits)
	for b := 0; b < idx.nbits; b++ {
		out[b] = metric.InnerProduct(v, idx.planes[b*idx.d:(b+1)*idx.d])
	}
	return out, nil
}

// signature packs the thresholded projections of one vector.
func (idx *Index) signature(v []float32) ([]byte, error) {
	proj, err := idx.project(v)
	if err != nil {
		return nil, err
	}
	sig := make([]byte, idx.codeSize())
	for b, p := range proj {
		var th float32
		if idx.thresholds != nil {
			th = idx.thresholds[b]
		}
		if p > th {
			sig[b/8] |= 1 << (b % 8)
		}
	}
	return sig, nil
}

// Train learns per-bit thresholds as the mean projection of the training
// batch. Without threshold training it is a no-op.
func (idx *Index) Train(x []float32) error {
	if !idx.opts.TrainThresholds {
		return nil
	}
	n, err := index.CheckVectors(x, idx.d)
	if err != nil {
		return err
	}

	sums := make([]float64, idx.nbits)
	for i := 0; i < n; i++ {
		proj, err := idx.project(x[i*idx.d : (i+1)*idx.d])
		if err != nil {
			return err
		}
		for b, p := range proj {
			sums[b] += float64(p)
		}
	}
	idx.thresholds = make([]float32, idx.nbits)
	for b := range idx.thresholds {
		idx.thresholds[b] = float32(sums[b] / float64(n))
	}
	idx.trained = true
	return nil
}

// Add hashes and stores vectors.
func (idx *Index) Add(x []float32) error {
	if !idx.trained {
		return index.ErrNotTrained
	}
	n, err := index.CheckVectors(x, idx.d)
	if err != nil {
		return err
	}
	for i := 0; i < n; i++ {
		sig, err := idx.signature(x[i*idx.d : (i+1)*idx.d])
		if err != nil {
			return err
		}
		idx.sigs = append(idx.sigs, sig...)
	}
	return nil
}

// Search ranks stored signatures by Hamming distance to each query's
// signature. Distances are reported as float32 bit counts.
func (idx *Index) Search(x []float32, k int) ([]float32, []int64, error) {
	if !idx.trained {
		return nil, nil, index.ErrNotTrained
	}
	nq, err := index.CheckVectors(x, idx.d)
	if err != nil {
		return nil, nil, err
	}
	if k <= 0 {
		return nil, nil, index.ErrInvalidK
	}

	cs := idx.codeSize()
	n := int(idx.Ntotal())
	distances := make([]float32, nq*k)
	labels := make([]int64, nq*k)

	for qi := 0; qi < nq; qi++ {
		sig, err := idx.signature(x[qi*idx.d : (qi+1)*idx.d])
		if err != nil {
			return nil, nil, err
		}
		coll := index.NewCollector(k, true)
		for i := 0; i < n; i++ {
			coll.Offer(int64(i), float32(metric.Hamming(sig, idx.sigs[i*cs:(i+1)*cs])))
		}
		coll.Emit(distances, labels, qi*k)
	}

	return distances, labels, nil
}

// Reset removes all signatures. Thresholds are kept.
func (idx *Index) Reset() error {
	idx.sigs = idx.sigs[:0]
	return nil
}

// Save writes the index state.
func (idx *Index) Save(w *persistence.Writer) error {
	w.WriteInt(idx.d)
	w.WriteInt(idx.nbits)
	w.WriteBool(idx.opts.RotateData)
	w.WriteBool(idx.opts.TrainThresholds)
	w.WriteInt64(idx.opts.Seed)
	w.WriteBool(idx.trained)
	w.WriteFloat32s(idx.thresholds)
	w.WriteBytes(idx.sigs)
	return w.Err()
}

// Load reads an index saved by Save.
func Load(r *persistence.Reader) (*Index, error) {
	d := r.ReadInt()
	nbits := r.ReadInt()
	rotate := r.ReadBool()
	trainThresholds := r.ReadBool()
	seed := r.ReadInt64()
	trained := r.ReadBool()
	thresholds := r.ReadFloat32s()
	sigs := r.ReadBytes()
	if err := r.Err(); err != nil {
		return nil, err
	}
	idx, err := New(d, nbits, func(o *Options) {
		o.RotateData = rotate
		o.TrainThresholds = trainThresholds
		o.Seed = seed
	})
	if err != nil {
		return nil, err
	}
	idx.trained = trained
	idx.thresholds = thresholds
	idx.sigs = sigs
	return idx, nil
}
