// Package hnsw implements the graph index: a hierarchical navigable
// small-world graph searched by greedy traversal, governed by the fan-out
// M and the efConstruction/efSearch breadth parameters.
package hnsw

import (
	"container/heap"
	"fmt"
	"math"
	"math/rand"

	"github.com/annexlab/annex/index"
	"github.com/annexlab/annex/metric"
	"github.com/annexlab/annex/persistence"
)

// Options configures graph construction.
type Options struct {
	// M is the number of connections per node and layer. The bottom
	// layer allows 2*M.
	M int

	// EfConstruction is the candidate-list breadth during insertion.
	EfConstruction int

	// EfSearch is the default candidate-list breadth during search.
	EfSearch int

	// Seed drives level assignment, making construction reproducible.
	Seed int64
}

// DefaultOptions are the options used when none are given.
var DefaultOptions = Options{
	M:              16,
	EfConstruction: 200,
	EfSearch:       16,
	Seed:           42,
}

type node struct {
	level int
	links [][]int64 // per level, neighbor ids
}

// Index is a proximity-graph index. It is always trained.
type Index struct {
	d    int
	met  index.Metric
	opts Options

	levelMult float64
	rng       *rand.Rand

	vecs     []float32
	nodes    []node
	entry    int64
	maxLevel int
}

var (
	_ index.Index         = (*Index)(nil)
	_ index.Reconstructor = (*Index)(nil)
)

// New creates an empty graph index.
func New(d int, met index.Metric, optFns ...func(o *Options)) (*Index, error) {
	if d <= 0 {
		return nil, &index.ErrInvalidDimension{Dimension: d}
	}
	opts := DefaultOptions
	for _, fn := range optFns {
		fn(&opts)
	}
	if opts.M < 2 {
		return nil, fmt.Errorf("hnsw: M must be at least 2, got %d: %w", opts.M, index.ErrInvalidParameter)
	}
	if opts.EfConstruction < 1 || opts.EfSearch < 1 {
		return nil, fmt.Errorf("hnsw: ef parameters must be positive: %w", index.ErrInvalidParameter)
	}
	return &Index{
		d:         d,
		met:       met,
		opts:      opts,
		levelMult: 1 / math.Log(float64(opts.M)),
		rng:       rand.New(rand.NewSource(opts.Seed)),
		entry:     -1,
	}, nil
}

// D returns the vector dimension.
func (idx *Index) D() int { return idx.d }

// Ntotal returns the number of stored vectors.
func (idx *Index) Ntotal() int64 { return int64(len(idx.nodes)) }

// IsTrained always reports true; the graph is built incrementally.
func (idx *Index) IsTrained() bool { return true }

// Metric returns the distance metric.
func (idx *Index) Metric() index.Metric { return idx.met }

// M returns the graph fan-out.
func (idx *Index) M() int { return idx.opts.M }

// EfConstruction returns the construction breadth.
func (idx *Index) EfConstruction() int { return idx.opts.EfConstruction }

// SetEfConstruction sets the construction breadth for future insertions.
func (idx *Index) SetEfConstruction(ef int) error {
	if ef < 1 {
		return fmt.Errorf("hnsw: efConstruction must be positive, got %d: %w", ef, index.ErrInvalidParameter)
	}
	idx.opts.EfConstruction = ef
	return nil
}

// EfSearch returns the search breadth.
func (idx *Index) EfSearch() int { return idx.opts.EfSearch }

// SetEfSearch sets the search breadth.
func (idx *Index) SetEfSearch(ef int) error {
	if ef < 1 {
		return fmt.Errorf("hnsw: efSearch must be positive, got %d: %w", ef, index.ErrInvalidParameter)
	}
	idx.opts.EfSearch = ef
	return nil
}

// Train is a no-op.
func (idx *Index) Train(x []float32) error { return nil }

func (idx *Index) row(id int64) []float32 {
	return idx.vecs[id*int64(idx.d) : (id+1)*int64(idx.d)]
}

// distance is the graph's traversal cost: smaller is closer. Inner
// product is negated so one ordering works for both metrics.
func (idx *Index) distance(a, b []float32) float32 {
	if idx.met == index.MetricInnerProduct {
		return -metric.InnerProduct(a, b)
	}
	return metric.SquaredL2(a, b)
}

func (idx *Index) maxLinks(level int) int {
	if level == 0 {
		return 2 * idx.opts.M
	}
	return idx.opts.M
}

// Add inserts vectors one by one.
func (idx *Index) Add(x []float32) error {
	n, err := index.CheckVectors(x, idx.d)
	if err != nil {
		return err
	}
	for i := 0; i < n; i++ {
		idx.insert(x[i*idx.d : (i+1)*idx.d])
	}
	return nil
}

func (idx *Index) insert(v []float32) {
	id := int64(len(idx.nodes))
	level := int(math.Floor(-math.Log(idx.rng.Float64()) * idx.levelMult))

	idx.vecs = append(idx.vecs, v...)
	nd := node{level: level, links: make([][]int64, level+1)}

	if idx.entry < 0 {
		idx.nodes = append(idx.nodes, nd)
		idx.entry = id
		idx.maxLevel = level
		return
	}

	cur := idx.entry
	curDist := idx.distance(v, idx.row(cur))

	// Greedy descent through layers above the new node's level.
	for l := idx.maxLevel; l > level; l-- {
		cur, curDist = idx.greedyStep(v, cur, curDist, l)
	}

	// Connect on each shared layer.
	for l := min(level, idx.maxLevel); l >= 0; l-- {
		candidates := idx.searchLayer(v, cur, idx.opts.EfConstruction, l)
		neighbors := closestFirst(candidates, idx.opts.M)
		nd.links[l] = neighbors
		if len(neighbors) > 0 {
			cur = neighbors[0]
			curDist = idx.distance(v, idx.row(cur))
		}
	}

	idx.nodes = append(idx.nodes, nd)

	// Backlink, pruning overflowing neighbor lists.
	for l := min(level, idx.maxLevel); l >= 0; l-- {
		for _, nb := range idx.nodes[id].links[l] {
			links := append(idx.nodes[nb].links[l], id)
			if limit := idx.maxLinks(l); len(links) > limit {
				links = idx.pruneLinks(nb, links, l, limit)
			}
			idx.nodes[nb].links[l] = links
		}
	}

	if level > idx.maxLevel {
		idx.entry = id
		idx.maxLevel = level
	}
}

// pruneLinks keeps the limit closest links of a node on one level.
func (idx *Index) pruneLinks(id int64, links []int64, level, limit int) []int64 {
	v := idx.row(id)
	h := &distHeap{closest: false}
	for _, nb := range links {
		heap.Push(h, distItem{id: nb, dist: idx.distance(v, idx.row(nb))})
		if h.Len() > limit {
			heap.Pop(h)
		}
	}
	out := make([]int64, h.Len())
	for i := h.Len() - 1; i >= 0; i-- {
		out[i] = heap.Pop(h).(distItem).id
	}
	return out
}

func (idx *Index) greedyStep(v []float32, cur int64, curDist float32, level int) (int64, float32) {
	for {
		improved := false
		for _, nb := range idx.nodes[cur].links[min(level, idx.nodes[cur].level)] {
			if d := idx.distance(v, idx.row(nb)); d < curDist {
				cur, curDist = nb, d
				improved = true
			}
		}
		if !improved {
			return cur, curDist
		}
	}
}

// searchLayer explores one level with breadth ef and returns candidates
// ordered worst-first in a max-heap slice.
func (idx *Index) searchLayer(v []float32, entry int64, ef, level int) []distItem {
	visited := map[int64]struct{}{entry: {}}

	entryDist := idx.distance(v, idx.row(entry))
	candidates := &distHeap{closest: true} // min-heap: explore closest next
	results := &distHeap{closest: false}   // max-heap: evict worst kept
	heap.Push(candidates, distItem{id: entry, dist: entryDist})
	heap.Push(results, distItem{id: entry, dist: entryDist})

	for candidates.Len() > 0 {
		c := heap.Pop(candidates).(distItem)
		if results.Len() >= ef && c.dist > results.items[0].dist {
			break
		}
		lvl := min(level, idx.nodes[c.id].level)
		for _, nb := range idx.nodes[c.id].links[lvl] {
			if _, seen := visited[nb]; seen {
				continue
			}
			visited[nb] = struct{}{}
			d := idx.distance(v, idx.row(nb))
			if results.Len() < ef || d < results.items[0].dist {
				heap.Push(candidates, distItem{id: nb, dist: d})
				heap.Push(results, distItem{id: nb, dist: d})
				if results.Len() > ef {
					heap.Pop(results)
				}
			}
		}
	}

	return results.items
}

// closestFirst returns up to m ids from candidates, closest first.
func closestFirst(candidates []distItem, m int) []int64 {
	h := &distHeap{closest: true, items: append([]distItem(nil), candidates...)}
	heap.Init(h)
	out := make([]int64, 0, m)
	for h.Len() > 0 && len(out) < m {
		out = append(out, heap.Pop(h).(distItem).id)
	}
	return out
}

// Search returns the k approximate nearest neighbors per query, explored
// with breadth max(efSearch, k).
func (idx *Index) Search(x []float32, k int) ([]float32, []int64, error) {
	nq, err := index.CheckVectors(x, idx.d)
	if err != nil {
		return nil, nil, err
	}
	if k <= 0 {
		return nil, nil, index.ErrInvalidK
	}

	distances := make([]float32, nq*k)
	labels := make([]int64, nq*k)
	ascending := idx.met == index.MetricL2

	for qi := 0; qi < nq; qi++ {
		q := x[qi*idx.d : (qi+1)*idx.d]
		coll := index.NewCollector(k, ascending)
		if idx.entry >= 0 {
			cur := idx.entry
			curDist := idx.distance(q, idx.row(cur))
			for l := idx.maxLevel; l > 0; l-- {
				cur, curDist = idx.greedyStep(q, cur, curDist, l)
			}
			ef := max(idx.opts.EfSearch, k)
			for _, it := range idx.searchLayer(q, cur, ef, 0) {
				score := it.dist
				if idx.met == index.MetricInnerProduct {
					score = -score
				}
				coll.Offer(it.id, score)
			}
		}
		coll.Emit(distances, labels, qi*k)
	}

	return distances, labels, nil
}

// Reconstruct returns a copy of the stored vector at a row position.
func (idx *Index) Reconstruct(row int64) ([]float32, error) {
	if row < 0 || row >= idx.Ntotal() {
		return nil, index.ErrNotFound
	}
	out := make([]float32, idx.d)
	copy(out, idx.row(row))
	return out, nil
}

// ReconstructN returns copies of n consecutive stored vectors.
func (idx *Index) ReconstructN(start, n int64) ([]float32, error) {
	if start < 0 || n < 0 || start+n > idx.Ntotal() {
		return nil, index.ErrNotFound
	}
	out := make([]float32, n*int64(idx.d))
	copy(out, idx.vecs[start*int64(idx.d):(start+n)*int64(idx.d)])
	return out, nil
}

// Reset removes all vectors and the graph.
func (idx *Index) Reset() error {
	idx.vecs = idx.vecs[:0]
	idx.nodes = idx.nodes[:0]
	idx.entry = -1
	idx.maxLevel = 0
	idx.rng = rand.New(rand.NewSource(idx.opts.Seed))
	return nil
}

// Save writes the index state.
func (idx *Index) Save(w *persistence.Writer) error {
	w.WriteInt(idx.d)
	w.WriteUint8(uint8(idx.met))
	w.WriteInt(idx.opts.M)
	w.WriteInt(idx.opts.EfConstruction)
	w.WriteInt(idx.opts.EfSearch)
	w.WriteInt64(idx.opts.Seed)
	w.WriteInt64(idx.entry)
	w.WriteInt(idx.maxLevel)
	w.WriteFloat32s(idx.vecs)
	w.WriteInt(len(idx.nodes))
	for _, nd := range idx.nodes {
		w.WriteInt(nd.level)
		for l := 0; l <= nd.level; l++ {
			w.WriteInt64s(nd.links[l])
		}
	}
	return w.Err()
}

// Load reads an index saved by Save.
func Load(r *persistence.Reader) (*Index, error) {
	d := r.ReadInt()
	met := index.Metric(r.ReadUint8())
	m := r.ReadInt()
	efc := r.ReadInt()
	efs := r.ReadInt()
	seed := r.ReadInt64()
	if err := r.Err(); err != nil {
		return nil, err
	}

	idx, err := New(d, met, func(o *Options) {
		o.M = m
		o.EfConstruction = efc
		o.EfSearch = efs
		o.Seed = seed
	})
	if err != nil {
		return nil, err
	}
	idx.entry = r.ReadInt64()
	idx.maxLevel = r.ReadInt()
	idx.vecs = r.ReadFloat32s()
	n := r.ReadInt()
	if err := r.Err(); err != nil {
		return nil, err
	}
	idx.nodes = make([]node, n)
	for i := range idx.nodes {
		level := r.ReadInt()
		if r.Err() != nil {
			return nil, r.Err()
		}
		links := make([][]int64, level+1)
		for l := 0; l <= level; l++ {
			links[l] = r.ReadInt64s()
		}
		idx.nodes[i] = node{level: level, links: links}
	}
	return idx, r.Err()
}

type distItem struct {
	id   int64
	dist float32
}

// distHeap is a min-heap when closest is true, max-heap otherwise.
type distHeap struct {
	items   []distItem
	closest bool
}

func (h *distHeap) Len() int { return len(h.items) }

func (h *distHeap) Less(i, j int) bool {
	if h.closest {
		return h.items[i].dist < h.items[j].dist
	}
	return h.items[i].dist > h.items[j].dist
}

func (h *distHeap) Swap(i, j int) { h.items[i], h.items[j] = h.items[j], h.items[i] }

func (h *distHeap) Push(x any) { h.items = append(h.items, x.(distItem)) }

func (h *distHeap) Pop() any {
	old := h.items
	n := len(old)
	it := old[n-1]
	h.items = old[:n-1]
	return it
}
