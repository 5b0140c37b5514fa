// Package flat implements the exact brute-force index. It is always
// trained and stores vectors verbatim in a contiguous row-major buffer,
// which also makes it the coarse quantizer and re-ranking store for the
// composite variants.
package flat

import (
	"sort"

	"github.com/annexlab/annex/index"
	"github.com/annexlab/annex/metric"
	"github.com/annexlab/annex/persistence"
)

// Index is an exact nearest-neighbor index.
type Index struct {
	d    int
	met  index.Metric
	data []float32 // ntotal * d, row-major
}

var (
	_ index.Index         = (*Index)(nil)
	_ index.Reconstructor = (*Index)(nil)
	_ index.RangeSearcher = (*Index)(nil)
	_ index.Assigner      = (*Index)(nil)
	_ index.RowRemover    = (*Index)(nil)
)

// New creates an empty flat index.
func New(d int, met index.Metric) (*Index, error) {
	if d <= 0 {
		return nil, &index.ErrInvalidDimension{Dimension: d}
	}
	return &Index{d: d, met: met}, nil
}

// D returns the vector dimension.
func (idx *Index) D() int { return idx.d }

// Ntotal returns the number of stored vectors.
func (idx *Index) Ntotal() int64 { return int64(len(idx.data) / idx.d) }

// IsTrained always reports true; flat indexes need no training.
func (idx *Index) IsTrained() bool { return true }

// Metric returns the distance metric.
func (idx *Index) Metric() index.Metric { return idx.met }

// Train is a no-op.
func (idx *Index) Train(x []float32) error { return nil }

// Add appends vectors.
func (idx *Index) Add(x []float32) error {
	if _, err := index.CheckVectors(x, idx.d); err != nil {
		return err
	}
	idx.data = append(idx.data, x...)
	return nil
}

// Row returns a view of the stored vector at a row position.
func (idx *Index) Row(row int64) []float32 {
	return idx.data[row*int64(idx.d) : (row+1)*int64(idx.d)]
}

func (idx *Index) score(q, v []float32) float32 {
	if idx.met == index.MetricInnerProduct {
		return metric.InnerProduct(q, v)
	}
	return metric.SquaredL2(q, v)
}

// Search returns the k nearest stored vectors for each query.
func (idx *Index) Search(x []float32, k int) ([]float32, []int64, error) {
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
		q := x[qi*idx.d : (qi+1)*idx.d]
		coll := index.NewCollector(k, ascending)
		for i := 0; i < n; i++ {
			coll.Offer(int64(i), idx.score(q, idx.Row(int64(i))))
		}
		coll.Emit(distances, labels, qi*k)
	}

	return distances, labels, nil
}

// RangeSearch returns all stored vectors within radius of each query:
// distance < radius for L2, score > radius for inner product.
func (idx *Index) RangeSearch(x []float32, radius float32) (*index.RangeSearchResult, error) {
	nq, err := index.CheckVectors(x, idx.d)
	if err != nil {
		return nil, err
	}

	res := &index.RangeSearchResult{
		Nq:   nq,
		Lims: make([]int64, nq+1),
	}
	n := int(idx.Ntotal())

	for qi := 0; qi < nq; qi++ {
		q := x[qi*idx.d : (qi+1)*idx.d]
		type hit struct {
			label int64
			score float32
		}
		var hits []hit
		for i := 0; i < n; i++ {
			s := idx.score(q, idx.Row(int64(i)))
			if (idx.met == index.MetricL2 && s < radius) ||
				(idx.met == index.MetricInnerProduct && s > radius) {
				hits = append(hits, hit{label: int64(i), score: s})
			}
		}
		sort.Slice(hits, func(i, j int) bool {
			if idx.met == index.MetricL2 {
				return hits[i].score < hits[j].score
			}
			return hits[i].score > hits[j].score
		})
		for _, h := range hits {
			res.Labels = append(res.Labels, h.label)
			res.Distances = append(res.Distances, h.score)
		}
		res.Lims[qi+1] = int64(len(res.Labels))
	}

	return res, nil
}

// Assign returns the nearest stored row for each query vector.
func (idx *Index) Assign(x []float32) ([]int64, error) {
	_, labels, err := idx.Search(x, 1)
	if err != nil {
		return nil, err
	}
	return labels, nil
}

// Reconstruct returns a copy of the stored vector at a row position.
func (idx *Index) Reconstruct(row int64) ([]float32, error) {
	if row < 0 || row >= idx.Ntotal() {
		return nil, index.ErrNotFound
	}
	out := make([]float32, idx.d)
	copy(out, idx.Row(row))
	return out, nil
}

// ReconstructN returns copies of n consecutive stored vectors.
func (idx *Index) ReconstructN(start, n int64) ([]float32, error) {
	if start < 0 || n < 0 || start+n > idx.Ntotal() {
		return nil, index.ErrNotFound
	}
	out := make([]float32, n*int64(idx.d))
	copy(out, idx.data[start*int64(idx.d):(start+n)*int64(idx.d)])
	return out, nil
}

// RemoveRows deletes the given row positions, compacting the remaining
// rows in order. Duplicate and out-of-range positions are ignored.
func (idx *Index) RemoveRows(rows []int64) error {
	if len(rows) == 0 {
		return nil
	}
	drop := make(map[int64]struct{}, len(rows))
	for _, r := range rows {
		if r >= 0 && r < idx.Ntotal() {
			drop[r] = struct{}{}
		}
	}
	if len(drop) == 0 {
		return nil
	}

	n := idx.Ntotal()
	kept := idx.data[:0]
	for i := int64(0); i < n; i++ {
		if _, gone := drop[i]; gone {
			continue
		}
		kept = append(kept, idx.Row(i)...)
	}
	idx.data = kept
	return nil
}

// Reset removes all stored vectors.
func (idx *Index) Reset() error {
	idx.data = idx.data[:0]
	return nil
}

// Save writes the index state.
func (idx *Index) Save(w *persistence.Writer) error {
	w.WriteInt(idx.d)
	w.WriteUint8(uint8(idx.met))
	w.WriteFloat32s(idx.data)
	return w.Err()
}

// Load reads an index saved by Save.
func Load(r *persistence.Reader) (*Index, error) {
	d := r.ReadInt()
	met := index.Metric(r.ReadUint8())
	data := r.ReadFloat32s()
	if err := r.Err(); err != nil {
		return nil, err
	}
	idx, err := New(d, met)
	if err != nil {
		return nil, err
	}
	idx.data = data
	return idx, nil
}
