package annex

import (
	"context"
	"math"
	"time"

	"github.com/RoaringBitmap/roaring/v2/roaring64"
	"golang.org/x/sync/errgroup"

	"github.com/annexlab/annex/index"
	"github.com/annexlab/annex/metric"
	"github.com/annexlab/annex/transform"
)

// refineIndex pairs a fast candidate generator with an exact storage
// index. Searches over-fetch k*kFactor candidates from the base and
// re-rank them with distances recomputed from the refine index.
type refineIndex struct {
	base    *Index
	refine  *Index
	kFactor float32
}

var _ index.Index = (*refineIndex)(nil)

// NewRefine creates a refine index. Both handles are referenced, not
// owned: the caller keeps them alive and may use them independently.
// The refine index must support reconstruction and both must share
// dimension and metric.
func NewRefine(base, refine *Index, optFns ...func(o *Options)) (*Index, error) {
	if base == nil || refine == nil {
		return nil, newError(KindInvalidArgument, "new_refine", "nil child index")
	}
	if base.D() != refine.D() {
		return nil, newError(KindInvalidArgument, "new_refine",
			"dimension mismatch: base %d, refine %d", base.D(), refine.D())
	}
	if base.Metric() != refine.Metric() {
		return nil, newError(KindInvalidArgument, "new_refine",
			"metric mismatch: base %s, refine %s", base.Metric(), refine.Metric())
	}
	if _, ok := refine.eng.(index.Reconstructor); !ok {
		return nil, newError(KindInvalidArgument, "new_refine",
			"refine variant %s does not support reconstruction", refine.variant)
	}
	eng := &refineIndex{base: base, refine: refine, kFactor: 1}
	return newHandle(VariantRefine, eng, eng, optFns), nil
}

func (ri *refineIndex) setKFactor(factor float32) error {
	if factor < 1 {
		return newError(KindInvalidArgument, "set_k_factor",
			"k_factor must be >= 1, got %g", factor)
	}
	ri.kFactor = factor
	return nil
}

func (ri *refineIndex) D() int               { return ri.base.eng.D() }
func (ri *refineIndex) Ntotal() int64        { return ri.base.eng.Ntotal() }
func (ri *refineIndex) Metric() index.Metric { return ri.base.eng.Metric() }

func (ri *refineIndex) IsTrained() bool {
	return ri.base.eng.IsTrained() && ri.refine.eng.IsTrained()
}

func (ri *refineIndex) Train(x []float32) error {
	if err := ri.base.eng.Train(x); err != nil {
		return err
	}
	return ri.refine.eng.Train(x)
}

func (ri *refineIndex) Add(x []float32) error {
	if err := ri.base.eng.Add(x); err != nil {
		return err
	}
	return ri.refine.eng.Add(x)
}

func (ri *refineIndex) Search(x []float32, k int) ([]float32, []int64, error) {
	nq, err := index.CheckVectors(x, ri.D())
	if err != nil {
		return nil, nil, err
	}
	if k <= 0 {
		return nil, nil, index.ErrInvalidK
	}

	kBase := int(math.Ceil(float64(ri.kFactor) * float64(k)))
	if kBase < k {
		kBase = k
	}
	_, candidates, err := ri.base.eng.Search(x, kBase)
	if err != nil {
		return nil, nil, err
	}

	rec := ri.refine.eng.(index.Reconstructor)
	met := ri.Metric()
	d := ri.D()

	distances := make([]float32, nq*k)
	labels := make([]int64, nq*k)
	for qi := 0; qi < nq; qi++ {
		q := x[qi*d : (qi+1)*d]
		coll := index.NewCollector(k, met == index.MetricL2)
		for _, label := range candidates[qi*kBase : (qi+1)*kBase] {
			if label < 0 {
				continue
			}
			v, err := rec.Reconstruct(label)
			if err != nil {
				return nil, nil, err
			}
			var score float32
			if met == index.MetricL2 {
				score = metric.SquaredL2(q, v)
			} else {
				score = metric.InnerProduct(q, v)
			}
			coll.Offer(label, score)
		}
		coll.Emit(distances, labels, qi*k)
	}
	return distances, labels, nil
}

func (ri *refineIndex) Reset() error {
	if err := ri.base.eng.Reset(); err != nil {
		return err
	}
	return ri.refine.eng.Reset()
}

// preTransformIndex applies a vector transform before delegating to a
// base index of the transform's output dimension.
type preTransformIndex struct {
	tr   transform.Transform
	base *Index
}

var _ index.Index = (*preTransformIndex)(nil)

// NewPreTransform chains a transform in front of an index. The
// transform is owned by the returned handle; the base index is
// referenced, not owned. The base dimension must equal the transform's
// output dimension.
func NewPreTransform(tr transform.Transform, base *Index, optFns ...func(o *Options)) (*Index, error) {
	if tr == nil || base == nil {
		return nil, newError(KindInvalidArgument, "new_pre_transform", "nil transform or index")
	}
	if tr.DOut() != base.D() {
		return nil, newError(KindInvalidArgument, "new_pre_transform",
			"transform output dimension %d does not match index dimension %d", tr.DOut(), base.D())
	}
	eng := &preTransformIndex{tr: tr, base: base}
	return newHandle(VariantPreTransform, eng, eng, optFns), nil
}

func (pt *preTransformIndex) D() int               { return pt.tr.DIn() }
func (pt *preTransformIndex) Ntotal() int64        { return pt.base.eng.Ntotal() }
func (pt *preTransformIndex) Metric() index.Metric { return pt.base.eng.Metric() }

func (pt *preTransformIndex) IsTrained() bool {
	return pt.tr.IsTrained() && pt.base.eng.IsTrained()
}

func (pt *preTransformIndex) Train(x []float32) error {
	if !pt.tr.IsTrained() {
		if err := pt.tr.Train(x); err != nil {
			return err
		}
	}
	tx, err := pt.tr.Apply(x)
	if err != nil {
		return err
	}
	return pt.base.eng.Train(tx)
}

func (pt *preTransformIndex) Add(x []float32) error {
	tx, err := pt.tr.Apply(x)
	if err != nil {
		return err
	}
	return pt.base.eng.Add(tx)
}

func (pt *preTransformIndex) Search(x []float32, k int) ([]float32, []int64, error) {
	tx, err := pt.tr.Apply(x)
	if err != nil {
		return nil, nil, err
	}
	return pt.base.eng.Search(tx, k)
}

// Reconstruct maps the stored vector back through the transform. For
// lossy transforms the result is an approximation.
func (pt *preTransformIndex) Reconstruct(key int64) ([]float32, error) {
	rec, ok := pt.base.eng.(index.Reconstructor)
	if !ok {
		return nil, newError(KindUnsupported, "reconstruct",
			"base variant %s does not support reconstruction", pt.base.variant)
	}
	v, err := rec.Reconstruct(key)
	if err != nil {
		return nil, err
	}
	return pt.tr.Reverse(v)
}

func (pt *preTransformIndex) ReconstructN(start, n int64) ([]float32, error) {
	rec, ok := pt.base.eng.(index.Reconstructor)
	if !ok {
		return nil, newError(KindUnsupported, "reconstruct_n",
			"base variant %s does not support reconstruction", pt.base.variant)
	}
	v, err := rec.ReconstructN(start, n)
	if err != nil {
		return nil, err
	}
	return pt.tr.Reverse(v)
}

func (pt *preTransformIndex) Reset() error { return pt.base.eng.Reset() }

// IDSelector selects external identifiers for removal. It is backed by
// a roaring bitmap so large batches stay compact.
type IDSelector struct {
	bm *roaring64.Bitmap
}

// NewIDSelectorBatch selects exactly the given identifiers.
func NewIDSelectorBatch(ids []int64) *IDSelector {
	bm := roaring64.New()
	for _, id := range ids {
		if id >= 0 {
			bm.Add(uint64(id))
		}
	}
	return &IDSelector{bm: bm}
}

// NewIDSelectorRange selects identifiers in the half-open range [lo, hi).
func NewIDSelectorRange(lo, hi int64) *IDSelector {
	bm := roaring64.New()
	if lo < 0 {
		lo = 0
	}
	if hi > lo {
		bm.AddRange(uint64(lo), uint64(hi))
	}
	return &IDSelector{bm: bm}
}

// Contains reports whether the selector matches an identifier.
func (s *IDSelector) Contains(id int64) bool {
	return id >= 0 && s.bm.Contains(uint64(id))
}

// idmapIndex maps caller-chosen identifiers onto a base index that
// labels rows sequentially.
type idmapIndex struct {
	base *Index
	ids  []int64         // row -> external id
	rows map[int64]int64 // external id -> row
}

var (
	_ index.Index         = (*idmapIndex)(nil)
	_ index.Reconstructor = (*idmapIndex)(nil)
)

// NewIDMap wraps an index so vectors carry caller-chosen identifiers.
// The base index is referenced, not owned, and must be empty.
func NewIDMap(base *Index, optFns ...func(o *Options)) (*Index, error) {
	if base == nil {
		return nil, newError(KindInvalidArgument, "new_id_map", "nil index")
	}
	if base.Ntotal() != 0 {
		return nil, newError(KindInvalidArgument, "new_id_map",
			"base index must be empty, has %d vectors", base.Ntotal())
	}
	eng := &idmapIndex{base: base, rows: make(map[int64]int64)}
	return newHandle(VariantIDMap, eng, eng, optFns), nil
}

func (im *idmapIndex) D() int               { return im.base.eng.D() }
func (im *idmapIndex) Ntotal() int64        { return int64(len(im.ids)) }
func (im *idmapIndex) IsTrained() bool      { return im.base.eng.IsTrained() }
func (im *idmapIndex) Metric() index.Metric { return im.base.eng.Metric() }

func (im *idmapIndex) Train(x []float32) error { return im.base.eng.Train(x) }

// Add requires explicit identifiers on an id-mapped index.
func (im *idmapIndex) Add(x []float32) error {
	return newError(KindInvalidArgument, "add", "id-mapped index requires AddWithIDs")
}

func (im *idmapIndex) addWithIDs(x []float32, xids []int64) error {
	n, err := index.CheckVectors(x, im.D())
	if err != nil {
		return err
	}
	if len(xids) != n {
		return newError(KindInvalidArgument, "add_with_ids",
			"got %d ids for %d vectors", len(xids), n)
	}
	seen := make(map[int64]struct{}, n)
	for _, id := range xids {
		if id < 0 {
			return newError(KindInvalidArgument, "add_with_ids", "negative id %d", id)
		}
		if _, ok := im.rows[id]; ok {
			return newError(KindInvalidArgument, "add_with_ids", "duplicate id %d", id)
		}
		if _, ok := seen[id]; ok {
			return newError(KindInvalidArgument, "add_with_ids", "duplicate id %d in batch", id)
		}
		seen[id] = struct{}{}
	}
	if err := im.base.eng.Add(x); err != nil {
		return err
	}
	for _, id := range xids {
		im.rows[id] = int64(len(im.ids))
		im.ids = append(im.ids, id)
	}
	return nil
}

func (im *idmapIndex) Search(x []float32, k int) ([]float32, []int64, error) {
	distances, labels, err := im.base.eng.Search(x, k)
	if err != nil {
		return nil, nil, err
	}
	for i, label := range labels {
		if label >= 0 {
			labels[i] = im.ids[label]
		}
	}
	return distances, labels, nil
}

func (im *idmapIndex) removeIDs(sel *IDSelector) (int64, error) {
	remover, ok := im.base.eng.(index.RowRemover)
	if !ok {
		return 0, newError(KindUnsupported, "remove_ids",
			"base variant %s does not support removal", im.base.variant)
	}

	var rows []int64
	for row, id := range im.ids {
		if sel.Contains(id) {
			rows = append(rows, int64(row))
		}
	}
	if len(rows) == 0 {
		return 0, nil
	}
	if err := remover.RemoveRows(rows); err != nil {
		return 0, err
	}

	// Compact the mapping the same way the base compacted its rows.
	kept := im.ids[:0]
	for _, id := range im.ids {
		if !sel.Contains(id) {
			kept = append(kept, id)
		}
	}
	im.ids = kept
	im.rows = make(map[int64]int64, len(im.ids))
	for row, id := range im.ids {
		im.rows[id] = int64(row)
	}
	return int64(len(rows)), nil
}

// Reconstruct returns the vector stored under an external identifier.
func (im *idmapIndex) Reconstruct(id int64) ([]float32, error) {
	row, ok := im.rows[id]
	if !ok {
		return nil, index.ErrNotFound
	}
	rec, ok := im.base.eng.(index.Reconstructor)
	if !ok {
		return nil, newError(KindUnsupported, "reconstruct",
			"base variant %s does not support reconstruction", im.base.variant)
	}
	return rec.Reconstruct(row)
}

// ReconstructN returns n consecutive stored vectors in insertion order.
// Positions are storage rows, not external identifiers.
func (im *idmapIndex) ReconstructN(start, n int64) ([]float32, error) {
	rec, ok := im.base.eng.(index.Reconstructor)
	if !ok {
		return nil, newError(KindUnsupported, "reconstruct_n",
			"base variant %s does not support reconstruction", im.base.variant)
	}
	return rec.ReconstructN(start, n)
}

func (im *idmapIndex) Reset() error {
	if err := im.base.eng.Reset(); err != nil {
		return err
	}
	im.ids = im.ids[:0]
	im.rows = make(map[int64]int64)
	return nil
}

// shardsIndex fans operations out over child indexes. Children are
// owned by the handle and searched in parallel.
type shardsIndex struct {
	d   int
	met index.Metric

	children []*Index
	ids      [][]int64 // per shard: local row -> global id
	next     int64
	cursor   int
}

var _ index.Index = (*shardsIndex)(nil)

// NewShards creates an empty shard set. Children added with AddShard
// are owned by the set; callers must not mutate them directly.
func NewShards(d int, metric Metric, optFns ...func(o *Options)) (*Index, error) {
	if d <= 0 {
		return nil, newError(KindInvalidArgument, "new_shards", "invalid dimension %d", d)
	}
	eng := &shardsIndex{d: d, met: metric}
	return newHandle(VariantShards, eng, eng, optFns), nil
}

func (sh *shardsIndex) addShard(child *Index) error {
	if child == nil {
		return newError(KindInvalidArgument, "add_shard", "nil index")
	}
	if child.D() != sh.d {
		return newError(KindInvalidArgument, "add_shard",
			"dimension mismatch: shard set %d, child %d", sh.d, child.D())
	}
	if child.Metric() != sh.met {
		return newError(KindInvalidArgument, "add_shard",
			"metric mismatch: shard set %s, child %s", sh.met, child.Metric())
	}
	if child.Ntotal() != 0 {
		return newError(KindInvalidArgument, "add_shard",
			"child must be empty, has %d vectors", child.Ntotal())
	}
	sh.children = append(sh.children, child)
	sh.ids = append(sh.ids, nil)
	return nil
}

func (sh *shardsIndex) D() int               { return sh.d }
func (sh *shardsIndex) Metric() index.Metric { return sh.met }

func (sh *shardsIndex) Ntotal() int64 {
	var n int64
	for _, c := range sh.children {
		n += c.eng.Ntotal()
	}
	return n
}

func (sh *shardsIndex) IsTrained() bool {
	for _, c := range sh.children {
		if !c.eng.IsTrained() {
			return false
		}
	}
	return true
}

func (sh *shardsIndex) Train(x []float32) error {
	for _, c := range sh.children {
		if err := c.eng.Train(x); err != nil {
			return err
		}
	}
	return nil
}

// Add routes each batch to one shard, round-robin, and records the
// global identifiers assigned to its rows.
func (sh *shardsIndex) Add(x []float32) error {
	if len(sh.children) == 0 {
		return newError(KindInvalidArgument, "add", "shard set has no children")
	}
	n, err := index.CheckVectors(x, sh.d)
	if err != nil {
		return err
	}
	s := sh.cursor
	if err := sh.children[s].eng.Add(x); err != nil {
		return err
	}
	for i := 0; i < n; i++ {
		sh.ids[s] = append(sh.ids[s], sh.next)
		sh.next++
	}
	sh.cursor = (sh.cursor + 1) % len(sh.children)
	return nil
}

func (sh *shardsIndex) Search(x []float32, k int) ([]float32, []int64, error) {
	nq, err := index.CheckVectors(x, sh.d)
	if err != nil {
		return nil, nil, err
	}
	if k <= 0 {
		return nil, nil, index.ErrInvalidK
	}

	type shardResult struct {
		distances []float32
		labels    []int64
	}
	results := make([]shardResult, len(sh.children))

	var g errgroup.Group
	for s, c := range sh.children {
		g.Go(func() error {
			distances, labels, err := c.eng.Search(x, k)
			if err != nil {
				return err
			}
			results[s] = shardResult{distances: distances, labels: labels}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, nil, err
	}

	ascending := sh.met == index.MetricL2
	distances := make([]float32, nq*k)
	labels := make([]int64, nq*k)
	for qi := 0; qi < nq; qi++ {
		coll := index.NewCollector(k, ascending)
		for s, res := range results {
			for i := 0; i < k; i++ {
				label := res.labels[qi*k+i]
				if label < 0 {
					continue
				}
				coll.Offer(sh.ids[s][label], res.distances[qi*k+i])
			}
		}
		coll.Emit(distances, labels, qi*k)
	}
	return distances, labels, nil
}

func (sh *shardsIndex) Reset() error {
	for _, c := range sh.children {
		if err := c.eng.Reset(); err != nil {
			return err
		}
	}
	for s := range sh.ids {
		sh.ids[s] = nil
	}
	sh.next = 0
	sh.cursor = 0
	return nil
}

// AddWithIDs adds vectors under caller-chosen identifiers. Only
// id-mapped indexes carry this operation.
func (idx *Index) AddWithIDs(x []float32, xids []int64) error {
	if idx.variant != VariantIDMap {
		return newError(KindCapabilityMismatch, "add_with_ids",
			"variant %s does not map identifiers", idx.variant)
	}
	return errValue(guard("add_with_ids", func() error {
		return idx.impl.(*idmapIndex).addWithIDs(x, xids)
	}))
}

// RemoveIDs removes the selected identifiers and returns the exact
// number of vectors removed. Only id-mapped indexes carry this
// operation.
func (idx *Index) RemoveIDs(sel *IDSelector) (int64, error) {
	if idx.variant != VariantIDMap {
		return 0, newError(KindCapabilityMismatch, "remove_ids",
			"variant %s does not map identifiers", idx.variant)
	}
	if sel == nil {
		return 0, newError(KindInvalidArgument, "remove_ids", "nil selector")
	}
	start := time.Now()
	var removed int64
	err := guard("remove_ids", func() error {
		var e error
		removed, e = idx.impl.(*idmapIndex).removeIDs(sel)
		return e
	})
	idx.opts.Metrics.RecordRemove(removed, time.Since(start), errValue(err))
	idx.opts.Logger.LogRemove(context.Background(), int(sel.bm.GetCardinality()), removed, errValue(err))
	if err != nil {
		return 0, err
	}
	return removed, nil
}

// AddShard attaches a child index to a shard set. The shard set takes
// ownership of the child.
func (idx *Index) AddShard(child *Index) error {
	if idx.variant != VariantShards {
		return newError(KindCapabilityMismatch, "add_shard",
			"variant %s is not a shard set", idx.variant)
	}
	return errValue(guard("add_shard", func() error {
		return idx.impl.(*shardsIndex).addShard(child)
	}))
}
