// Package pq implements the product-quantized index: vectors are split
// into M subvectors, each encoded as the id of its nearest per-subspace
// centroid. Search uses asymmetric distance computation over per-query
// lookup tables.
package pq

import (
	"fmt"

	"github.com/annexlab/annex/cluster"
	"github.com/annexlab/annex/index"
	"github.com/annexlab/annex/metric"
	"github.com/annexlab/annex/persistence"
)

// Index is a product-quantized index.
type Index struct {
	d     int
	m     int // subquantizers
	nbits int // bits per code
	ksub  int // centroids per subspace, 1<<nbits
	dsub  int // dimensions per subspace, d/m
	met   index.Metric
	seed  int64

	codebooks []float32 // m * ksub * dsub
	codes     []byte    // ntotal * m
	trained   bool
}

var (
	_ index.Index         = (*Index)(nil)
	_ index.Reconstructor = (*Index)(nil)
)

// New creates an untrained product-quantized index with m subquantizers
// of nbits each. d must be divisible by m and nbits must be in [1, 8].
func New(d, m, nbits int, met index.Metric) (*Index, error) {
	if d <= 0 {
		return nil, &index.ErrInvalidDimension{Dimension: d}
	}
	if m <= 0 || d%m != 0 {
		return nil, fmt.Errorf("pq: dimension %d not divisible by %d subquantizers: %w", d, m, index.ErrInvalidParameter)
	}
	if nbits < 1 || nbits > 8 {
		return nil, fmt.Errorf("pq: nbits must be in [1, 8], got %d: %w", nbits, index.ErrInvalidParameter)
	}
	return &Index{
		d:     d,
		m:     m,
		nbits: nbits,
		ksub:  1 << nbits,
		dsub:  d / m,
		met:   met,
		seed:  cluster.DefaultOptions.Seed,
	}, nil
}

// D returns the vector dimension.
func (idx *Index) D() int { return idx.d }

// Ntotal returns the number of encoded vectors.
func (idx *Index) Ntotal() int64 { return int64(len(idx.codes) / idx.m) }

// IsTrained reports whether the codebooks have been trained.
func (idx *Index) IsTrained() bool { return idx.trained }

// Metric returns the distance metric.
func (idx *Index) Metric() index.Metric { return idx.met }

// M returns the number of subquantizers.
func (idx *Index) M() int { return idx.m }

// Nbits returns the bits per subquantizer code.
func (idx *Index) Nbits() int { return idx.nbits }

func (idx *Index) centroid(sub, code int) []float32 {
	base := (sub*idx.ksub + code) * idx.dsub
	return idx.codebooks[base : base+idx.dsub]
}

// Train fits one k-means codebook per subspace.
func (idx *Index) Train(x []float32) error {
	n, err := index.CheckVectors(x, idx.d)
	if err != nil {
		return err
	}
	if n < idx.ksub {
		return fmt.Errorf("pq: need at least %d training vectors, got %d: %w", idx.ksub, n, index.ErrInvalidParameter)
	}

	idx.codebooks = make([]float32, idx.m*idx.ksub*idx.dsub)
	sub := make([]float32, n*idx.dsub)
	for s := 0; s < idx.m; s++ {
		for i := 0; i < n; i++ {
			copy(sub[i*idx.dsub:(i+1)*idx.dsub], x[i*idx.d+s*idx.dsub:i*idx.d+(s+1)*idx.dsub])
		}
		km, err := cluster.New(idx.dsub, idx.ksub, func(o *cluster.Options) {
			o.Seed = idx.seed + int64(s)
		})
		if err != nil {
			return err
		}
		if err := km.Train(sub); err != nil {
			return err
		}
		copy(idx.codebooks[s*idx.ksub*idx.dsub:(s+1)*idx.ksub*idx.dsub], km.Centroids())
	}

	idx.trained = true
	return nil
}

// encode appends the codes of one vector.
func (idx *Index) encode(v []float32) {
	for s := 0; s < idx.m; s++ {
		subv := v[s*idx.dsub : (s+1)*idx.dsub]
		best, bestDist := 0, float32(0)
		for c := 0; c < idx.ksub; c++ {
			dist := metric.SquaredL2(subv, idx.centroid(s, c))
			if c == 0 || dist < bestDist {
				best, bestDist = c, dist
			}
		}
		idx.codes = append(idx.codes, byte(best))
	}
}

// Add encodes and stores vectors.
func (idx *Index) Add(x []float32) error {
	if !idx.trained {
		return index.ErrNotTrained
	}
	n, err := index.CheckVectors(x, idx.d)
	if err != nil {
		return err
	}
	for i := 0; i < n; i++ {
		idx.encode(x[i*idx.d : (i+1)*idx.d])
	}
	return nil
}

// table builds the per-query ADC lookup table: m*ksub partial scores.
func (idx *Index) table(q []float32) []float32 {
	t := make([]float32, idx.m*idx.ksub)
	for s := 0; s < idx.m; s++ {
		subq := q[s*idx.dsub : (s+1)*idx.dsub]
		for c := 0; c < idx.ksub; c++ {
			if idx.met == index.MetricInnerProduct {
				t[s*idx.ksub+c] = metric.InnerProduct(subq, idx.centroid(s, c))
			} else {
				t[s*idx.ksub+c] = metric.SquaredL2(subq, idx.centroid(s, c))
			}
		}
	}
	return t
}

// Search scans all codes with table lookups and returns the k best.
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

	ascending := idx.met == index.MetricL2
	n := int(idx.Ntotal())
	distances := make([]float32, nq*k)
	labels := make([]int64, nq*k)

	for qi := 0; qi < nq; qi++ {
		t := idx.table(x[qi*idx.d : (qi+1)*idx.d])
		coll := index.NewCollector(k, ascending)
		for i := 0; i < n; i++ {
			codes := idx.codes[i*idx.m : (i+1)*idx.m]
			var score float32
			for s, c := range codes {
				score += t[s*idx.ksub+int(c)]
			}
			coll.Offer(int64(i), score)
		}
		coll.Emit(distances, labels, qi*k)
	}

	return distances, labels, nil
}

// Reconstruct decodes the approximate vector at a row position.
func (idx *Index) Reconstruct(row int64) ([]float32, error) {
	if row < 0 || row >= idx.Ntotal() {
		return nil, index.ErrNotFound
	}
	out := make([]float32, idx.d)
	codes := idx.codes[row*int64(idx.m) : (row+1)*int64(idx.m)]
	for s, c := range codes {
		copy(out[s*idx.dsub:(s+1)*idx.dsub], idx.centroid(s, int(c)))
	}
	return out, nil
}

// ReconstructN decodes n consecutive rows.
func (idx *Index) ReconstructN(start, n int64) ([]float32, error) {
	if start < 0 || n < 0 || start+n > idx.Ntotal() {
		return nil, index.ErrNotFound
	}
	out := make([]float32, 0, n*int64(idx.d))
	for row := start; row < start+n; row++ {
		v, err := idx.Reconstruct(row)
		if err != nil {
			return nil, err
		}
		out = append(out, v...)
	}
	return out, nil
}

// Reset removes all codes. Trained codebooks are kept.
func (idx *Index) Reset() error {
	idx.codes = idx.codes[:0]
	return nil
}

// Save writes the index state.
func (idx *Index) Save(w *persistence.Writer) error {
	w.WriteInt(idx.d)
	w.WriteInt(idx.m)
	w.WriteInt(idx.nbits)
	w.WriteUint8(uint8(idx.met))
	w.WriteInt64(idx.seed)
	w.WriteBool(idx.trained)
	w.WriteFloat32s(idx.codebooks)
	w.WriteBytes(idx.codes)
	return w.Err()
}

// Load reads an index saved by Save.
func Load(r *persistence.Reader) (*Index, error) {
	d := r.ReadInt()
	m := r.ReadInt()
	nbits := r.ReadInt()
	met := index.Metric(r.ReadUint8())
	seed := r.ReadInt64()
	trained := r.ReadBool()
	codebooks := r.ReadFloat32s()
	codes := r.ReadBytes()
	if err := r.Err(); err != nil {
		return nil, err
	}
	idx, err := New(d, m, nbits, met)
	if err != nil {
		return nil, err
	}
	idx.seed = seed
	idx.trained = trained
	idx.codebooks = codebooks
	idx.codes = codes
	return idx, nil
}
