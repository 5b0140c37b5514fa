package index

import "container/heap"

// Collector keeps the best k (label, score) pairs seen so far. For
// ascending order (L2 distances) the worst kept score is the largest; for
// descending order (inner-product scores) it is the smallest.
type Collector struct {
	k         int
	ascending bool
	items     pairHeap
}

type pair struct {
	label int64
	score float32
}

type pairHeap struct {
	pairs     []pair
	ascending bool
}

func (h *pairHeap) Len() int { return len(h.pairs) }

// Less keeps the worst kept pair at the heap root so it can be evicted.
func (h *pairHeap) Less(i, j int) bool {
	if h.ascending {
		return h.pairs[i].score > h.pairs[j].score
	}
	return h.pairs[i].score < h.pairs[j].score
}

func (h *pairHeap) Swap(i, j int) { h.pairs[i], h.pairs[j] = h.pairs[j], h.pairs[i] }

func (h *pairHeap) Push(x any) { h.pairs = append(h.pairs, x.(pair)) }

func (h *pairHeap) Pop() any {
	old := h.pairs
	n := len(old)
	it := old[n-1]
	h.pairs = old[:n-1]
	return it
}

// NewCollector creates a collector for k results. ascending selects the
// ordering sense: true for distances, false for similarity scores.
func NewCollector(k int, ascending bool) *Collector {
	return &Collector{
		k:         k,
		ascending: ascending,
		items:     pairHeap{pairs: make([]pair, 0, k), ascending: ascending},
	}
}

// Offer considers one candidate.
func (c *Collector) Offer(label int64, score float32) {
	if c.items.Len() < c.k {
		heap.Push(&c.items, pair{label: label, score: score})
		return
	}
	worst := c.items.pairs[0].score
	if (c.ascending && score < worst) || (!c.ascending && score > worst) {
		c.items.pairs[0] = pair{label: label, score: score}
		heap.Fix(&c.items, 0)
	}
}

// Emit writes the collected results in rank order into k-sized slots of
// distances and labels starting at offset. Unfilled slots get label -1
// and a zero score.
func (c *Collector) Emit(distances []float32, labels []int64, offset int) {
	n := c.items.Len()
	for i := offset; i < offset+c.k; i++ {
		distances[i] = 0
		labels[i] = -1
	}
	// Pop evicts worst-first; fill from the back.
	for i := n - 1; i >= 0; i-- {
		it := heap.Pop(&c.items).(pair)
		distances[offset+i] = it.score
		labels[offset+i] = it.label
	}
}
