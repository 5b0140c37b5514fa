// Package ivf implements the inverted-file index: a coarse quantizer
// partitions vectors into nlist buckets and search probes the nprobe
// nearest buckets.
package ivf

import (
	"fmt"

	"github.com/annexlab/annex/cluster"
	"github.com/annexlab/annex/index"
	"github.com/annexlab/annex/index/flat"
	"github.com/annexlab/annex/metric"
	"github.com/annexlab/annex/persistence"
)

// Index is an inverted-file index over a flat coarse quantizer.
//
// The quantizer is referenced, not owned: it is reset and filled with
// centroids during Train, but closing or freeing it remains the caller's
// concern.
type Index struct {
	d      int
	nlist  int
	nprobe int
	met    index.Metric
	seed   int64

	quantizer *flat.Index
	lists     [][]int64 // vector ids per bucket
	vecs      []float32 // storage by insertion row
	ids       []int64   // external id per row
	byID      map[int64]int64
	nextID    int64
	trained   bool
}

var (
	_ index.Index         = (*Index)(nil)
	_ index.Reconstructor = (*Index)(nil)
	_ index.RangeSearcher = (*Index)(nil)
	_ index.Assigner      = (*Index)(nil)
)

// New creates an untrained inverted-file index using the given coarse
// quantizer.
func New(quantizer *flat.Index, d, nlist int, met index.Metric) (*Index, error) {
	if d <= 0 {
		return nil, &index.ErrInvalidDimension{Dimension: d}
	}
	if nlist <= 0 {
		return nil, fmt.Errorf("ivf: nlist must be positive, got %d: %w", nlist, index.ErrInvalidParameter)
	}
	if quantizer == nil {
		return nil, fmt.Errorf("ivf: nil quantizer: %w", index.ErrInvalidParameter)
	}
	if quantizer.D() != d {
		return nil, &index.ErrDimensionMismatch{Expected: d, Actual: quantizer.D()}
	}
	return &Index{
		d:         d,
		nlist:     nlist,
		nprobe:    1,
		met:       met,
		seed:      cluster.DefaultOptions.Seed,
		quantizer: quantizer,
		lists:     make([][]int64, nlist),
		byID:      make(map[int64]int64),
	}, nil
}

// D returns the vector dimension.
func (idx *Index) D() int { return idx.d }

// Ntotal returns the number of stored vectors.
func (idx *Index) Ntotal() int64 { return int64(len(idx.ids)) }

// IsTrained reports whether the coarse quantizer has been trained.
func (idx *Index) IsTrained() bool { return idx.trained }

// Metric returns the distance metric.
func (idx *Index) Metric() index.Metric { return idx.met }

// Nlist returns the number of buckets.
func (idx *Index) Nlist() int { return idx.nlist }

// Nprobe returns the number of buckets probed per query.
func (idx *Index) Nprobe() int { return idx.nprobe }

// SetNprobe sets the number of buckets probed per query.
func (idx *Index) SetNprobe(nprobe int) error {
	if nprobe <= 0 || nprobe > idx.nlist {
		return fmt.Errorf("ivf: nprobe must be in [1, %d], got %d: %w", idx.nlist, nprobe, index.ErrInvalidParameter)
	}
	idx.nprobe = nprobe
	return nil
}

// Train runs k-means over the training vectors and loads the resulting
// centroids into the coarse quantizer.
func (idx *Index) Train(x []float32) error {
	km, err := cluster.New(idx.d, idx.nlist, func(o *cluster.Options) {
		o.Seed = idx.seed
	})
	if err != nil {
		return err
	}
	if err := km.Train(x); err != nil {
		return err
	}
	if err := idx.quantizer.Reset(); err != nil {
		return err
	}
	if err := idx.quantizer.Add(km.Centroids()); err != nil {
		return err
	}
	idx.trained = true
	return nil
}

// Add appends vectors with sequential ids.
func (idx *Index) Add(x []float32) error {
	n, err := index.CheckVectors(x, idx.d)
	if err != nil {
		return err
	}
	ids := make([]int64, n)
	for i := range ids {
		ids[i] = idx.nextID + int64(i)
	}
	return idx.AddWithIDs(x, ids)
}

// AddWithIDs appends vectors under caller-supplied ids. IDs must be
// unique within the index.
func (idx *Index) AddWithIDs(x []float32, ids []int64) error {
	if !idx.trained {
		return index.ErrNotTrained
	}
	n, err := index.CheckVectors(x, idx.d)
	if err != nil {
		return err
	}
	if len(ids) != n {
		return fmt.Errorf("ivf: got %d ids for %d vectors: %w", len(ids), n, index.ErrInvalidParameter)
	}
	for _, id := range ids {
		if _, dup := idx.byID[id]; dup {
			return fmt.Errorf("ivf: duplicate id %d: %w", id, index.ErrInvalidParameter)
		}
	}

	buckets, err := idx.quantizer.Assign(x)
	if err != nil {
		return err
	}
	for i := 0; i < n; i++ {
		row := int64(len(idx.ids))
		idx.vecs = append(idx.vecs, x[i*idx.d:(i+1)*idx.d]...)
		idx.ids = append(idx.ids, ids[i])
		idx.byID[ids[i]] = row
		b := buckets[i]
		idx.lists[b] = append(idx.lists[b], ids[i])
		if ids[i] >= idx.nextID {
			idx.nextID = ids[i] + 1
		}
	}
	return nil
}

func (idx *Index) row(id int64) []float32 {
	r := idx.byID[id]
	return idx.vecs[r*int64(idx.d) : (r+1)*int64(idx.d)]
}

func (idx *Index) score(q, v []float32) float32 {
	if idx.met == index.MetricInnerProduct {
		return metric.InnerProduct(q, v)
	}
	return metric.SquaredL2(q, v)
}

// probe returns the bucket labels to scan for one query.
func (idx *Index) probe(q []float32) ([]int64, error) {
	nprobe := idx.nprobe
	if int64(nprobe) > idx.quantizer.Ntotal() {
		nprobe = int(idx.quantizer.Ntotal())
	}
	if nprobe == 0 {
		return nil, nil
	}
	_, buckets, err := idx.quantizer.Search(q, nprobe)
	if err != nil {
		return nil, err
	}
	return buckets, nil
}

// Search probes the nprobe nearest buckets and returns the k best hits.
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
	distances := make([]float32, nq*k)
	labels := make([]int64, nq*k)

	for qi := 0; qi < nq; qi++ {
		q := x[qi*idx.d : (qi+1)*idx.d]
		buckets, err := idx.probe(q)
		if err != nil {
			return nil, nil, err
		}
		coll := index.NewCollector(k, ascending)
		for _, b := range buckets {
			if b < 0 {
				continue
			}
			for _, id := range idx.lists[b] {
				coll.Offer(id, idx.score(q, idx.row(id)))
			}
		}
		coll.Emit(distances, labels, qi*k)
	}

	return distances, labels, nil
}

// RangeSearch scans the probed buckets for hits within radius.
func (idx *Index) RangeSearch(x []float32, radius float32) (*index.RangeSearchResult, error) {
	if !idx.trained {
		return nil, index.ErrNotTrained
	}
	nq, err := index.CheckVectors(x, idx.d)
	if err != nil {
		return nil, err
	}

	res := &index.RangeSearchResult{
		Nq:   nq,
		Lims: make([]int64, nq+1),
	}
	for qi := 0; qi < nq; qi++ {
		q := x[qi*idx.d : (qi+1)*idx.d]
		buckets, err := idx.probe(q)
		if err != nil {
			return nil, err
		}
		for _, b := range buckets {
			if b < 0 {
				continue
			}
			for _, id := range idx.lists[b] {
				s := idx.score(q, idx.row(id))
				if (idx.met == index.MetricL2 && s < radius) ||
					(idx.met == index.MetricInnerProduct && s > radius) {
					res.Labels = append(res.Labels, id)
					res.Distances = append(res.Distances, s)
				}
			}
		}
		res.Lims[qi+1] = int64(len(res.Labels))
	}
	return res, nil
}

// Assign returns the nearest bucket label for each vector.
func (idx *Index) Assign(x []float32) ([]int64, error) {
	if !idx.trained {
		return nil, index.ErrNotTrained
	}
	return idx.quantizer.Assign(x)
}

// Reconstruct returns a copy of the vector stored under an id.
func (idx *Index) Reconstruct(id int64) ([]float32, error) {
	if _, ok := idx.byID[id]; !ok {
		return nil, index.ErrNotFound
	}
	out := make([]float32, idx.d)
	copy(out, idx.row(id))
	return out, nil
}

// ReconstructN returns n vectors with consecutive ids starting at start.
func (idx *Index) ReconstructN(start, n int64) ([]float32, error) {
	out := make([]float32, 0, n*int64(idx.d))
	for id := start; id < start+n; id++ {
		v, err := idx.Reconstruct(id)
		if err != nil {
			return nil, err
		}
		out = append(out, v...)
	}
	return out, nil
}

// Reset removes all stored vectors. The trained quantizer is kept.
func (idx *Index) Reset() error {
	idx.lists = make([][]int64, idx.nlist)
	idx.vecs = idx.vecs[:0]
	idx.ids = idx.ids[:0]
	idx.byID = make(map[int64]int64)
	idx.nextID = 0
	return nil
}

// Quantizer returns the coarse quantizer.
func (idx *Index) Quantizer() *flat.Index { return idx.quantizer }

// Save writes the index state, including the quantizer inline.
func (idx *Index) Save(w *persistence.Writer) error {
	w.WriteInt(idx.d)
	w.WriteInt(idx.nlist)
	w.WriteInt(idx.nprobe)
	w.WriteUint8(uint8(idx.met))
	w.WriteInt64(idx.seed)
	w.WriteBool(idx.trained)
	if err := idx.quantizer.Save(w); err != nil {
		return err
	}
	for _, list := range idx.lists {
		w.WriteInt64s(list)
	}
	w.WriteFloat32s(idx.vecs)
	w.WriteInt64s(idx.ids)
	w.WriteInt64(idx.nextID)
	return w.Err()
}

// Load reads an index saved by Save.
func Load(r *persistence.Reader) (*Index, error) {
	d := r.ReadInt()
	nlist := r.ReadInt()
	nprobe := r.ReadInt()
	met := index.Metric(r.ReadUint8())
	seed := r.ReadInt64()
	trained := r.ReadBool()
	if err := r.Err(); err != nil {
		return nil, err
	}

	quantizer, err := flat.Load(r)
	if err != nil {
		return nil, err
	}
	idx, err := New(quantizer, d, nlist, met)
	if err != nil {
		return nil, err
	}
	idx.nprobe = nprobe
	idx.seed = seed
	idx.trained = trained
	for i := range idx.lists {
		idx.lists[i] = r.ReadInt64s()
	}
	idx.vecs = r.ReadFloat32s()
	idx.ids = r.ReadInt64s()
	idx.nextID = r.ReadInt64()
	if err := r.Err(); err != nil {
		return nil, err
	}
	for row, id := range idx.ids {
		idx.byID[id] = int64(row)
	}
	return idx, nil
}
