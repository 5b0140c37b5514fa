// Package binary implements the packed-bit index variants: exact flat
// search, an inverted file over a binary coarse quantizer, and a
// prefix-bucket hash. All distances are Hamming distances.
package binary

import (
	"fmt"

	"github.com/annexlab/annex/cluster"
	"github.com/annexlab/annex/index"
	"github.com/annexlab/annex/metric"
	"github.com/annexlab/annex/persistence"
)

// Flat is an exact binary index. It is always trained.
type Flat struct {
	d     int // bit dimension, multiple of 8
	codes []byte
}

var _ index.BinaryIndex = (*Flat)(nil)

// NewFlat creates an empty exact binary index. d is the bit dimension
// and must be a multiple of 8.
func NewFlat(d int) (*Flat, error) {
	if d <= 0 || d%8 != 0 {
		return nil, &index.ErrInvalidDimension{Dimension: d}
	}
	return &Flat{d: d}, nil
}

// D returns the bit dimension.
func (idx *Flat) D() int { return idx.d }

func (idx *Flat) codeSize() int { return idx.d / 8 }

// Ntotal returns the number of stored vectors.
func (idx *Flat) Ntotal() int64 { return int64(len(idx.codes) / idx.codeSize()) }

// IsTrained always reports true.
func (idx *Flat) IsTrained() bool { return true }

// Train is a no-op.
func (idx *Flat) Train(x []byte) error { return nil }

// Add appends packed vectors.
func (idx *Flat) Add(x []byte) error {
	if _, err := index.CheckBinaryVectors(x, idx.d); err != nil {
		return err
	}
	idx.codes = append(idx.codes, x...)
	return nil
}

func (idx *Flat) row(i int64) []byte {
	cs := int64(idx.codeSize())
	return idx.codes[i*cs : (i+1)*cs]
}

// Search returns the k nearest stored vectors by Hamming distance.
func (idx *Flat) Search(x []byte, k int) ([]int32, []int64, error) {
	nq, err := index.CheckBinaryVectors(x, idx.d)
	if err != nil {
		return nil, nil, err
	}
	if k <= 0 {
		return nil, nil, index.ErrInvalidK
	}

	cs := idx.codeSize()
	n := int(idx.Ntotal())
	distances := make([]int32, nq*k)
	labels := make([]int64, nq*k)

	for qi := 0; qi < nq; qi++ {
		q := x[qi*cs : (qi+1)*cs]
		coll := index.NewCollector(k, true)
		for i := 0; i < n; i++ {
			coll.Offer(int64(i), float32(metric.Hamming(q, idx.row(int64(i)))))
		}
		emitBinary(coll, distances, labels, qi*k, k)
	}
	return distances, labels, nil
}

// Reconstruct returns a copy of the stored packed vector at a row.
func (idx *Flat) Reconstruct(row int64) ([]byte, error) {
	if row < 0 || row >= idx.Ntotal() {
		return nil, index.ErrNotFound
	}
	out := make([]byte, idx.codeSize())
	copy(out, idx.row(row))
	return out, nil
}

// Reset removes all vectors.
func (idx *Flat) Reset() error {
	idx.codes = idx.codes[:0]
	return nil
}

// Save writes the index state.
func (idx *Flat) Save(w *persistence.Writer) error {
	w.WriteInt(idx.d)
	w.WriteBytes(idx.codes)
	return w.Err()
}

// LoadFlat reads an index saved by Flat.Save.
func LoadFlat(r *persistence.Reader) (*Flat, error) {
	d := r.ReadInt()
	codes := r.ReadBytes()
	if err := r.Err(); err != nil {
		return nil, err
	}
	idx, err := NewFlat(d)
	if err != nil {
		return nil, err
	}
	idx.codes = codes
	return idx, nil
}

// emitBinary converts the float collector output into int32 distances.
func emitBinary(coll *index.Collector, distances []int32, labels []int64, offset, k int) {
	fd := make([]float32, k)
	fl := make([]int64, k)
	coll.Emit(fd, fl, 0)
	for i := 0; i < k; i++ {
		distances[offset+i] = int32(fd[i])
		labels[offset+i] = fl[i]
	}
}

// IVF is an inverted-file index over a binary coarse quantizer.
//
// The quantizer is referenced, not owned: Train resets and refills it
// with binarized centroids.
type IVF struct {
	d      int
	nlist  int
	nprobe int
	seed   int64

	quantizer *Flat
	lists     [][]int64
	codes     []byte
	trained   bool
}

var _ index.BinaryIndex = (*IVF)(nil)

// NewIVF creates an untrained binary inverted-file index.
func NewIVF(quantizer *Flat, d, nlist int) (*IVF, error) {
	if d <= 0 || d%8 != 0 {
		return nil, &index.ErrInvalidDimension{Dimension: d}
	}
	if nlist <= 0 {
		return nil, fmt.Errorf("binary: nlist must be positive, got %d: %w", nlist, index.ErrInvalidParameter)
	}
	if quantizer == nil {
		return nil, fmt.Errorf("binary: nil quantizer: %w", index.ErrInvalidParameter)
	}
	if quantizer.D() != d {
		return nil, &index.ErrDimensionMismatch{Expected: d, Actual: quantizer.D()}
	}
	return &IVF{
		d:         d,
		nlist:     nlist,
		nprobe:    1,
		seed:      cluster.DefaultOptions.Seed,
		quantizer: quantizer,
		lists:     make([][]int64, nlist),
	}, nil
}

// D returns the bit dimension.
func (idx *IVF) D() int { return idx.d }

func (idx *IVF) codeSize() int { return idx.d / 8 }

// Ntotal returns the number of stored vectors.
func (idx *IVF) Ntotal() int64 { return int64(len(idx.codes) / idx.codeSize()) }

// IsTrained reports whether the coarse quantizer has been trained.
func (idx *IVF) IsTrained() bool { return idx.trained }

// Nlist returns the number of buckets.
func (idx *IVF) Nlist() int { return idx.nlist }

// Nprobe returns the number of buckets probed per query.
func (idx *IVF) Nprobe() int { return idx.nprobe }

// SetNprobe sets the number of buckets probed per query.
func (idx *IVF) SetNprobe(nprobe int) error {
	if nprobe <= 0 || nprobe > idx.nlist {
		return fmt.Errorf("binary: nprobe must be in [1, %d], got %d: %w", idx.nlist, nprobe, index.ErrInvalidParameter)
	}
	idx.nprobe = nprobe
	return nil
}

// Train clusters the unpacked training bits and loads binarized
// centroids into the quantizer.
func (idx *IVF) Train(x []byte) error {
	n, err := index.CheckBinaryVectors(x, idx.d)
	if err != nil {
		return err
	}
	if n < idx.nlist {
		return fmt.Errorf("binary: need at least %d training vectors, got %d: %w", idx.nlist, n, index.ErrInvalidParameter)
	}

	unpacked := make([]float32, n*idx.d)
	cs := idx.codeSize()
	for i := 0; i < n; i++ {
		unpackBits(x[i*cs:(i+1)*cs], unpacked[i*idx.d:(i+1)*idx.d])
	}

	km, err := cluster.New(idx.d, idx.nlist, func(o *cluster.Options) {
		o.Seed = idx.seed
	})
	if err != nil {
		return err
	}
	if err := km.Train(unpacked); err != nil {
		return err
	}

	centroids := km.Centroids()
	packed := make([]byte, idx.nlist*cs)
	for c := 0; c < idx.nlist; c++ {
		packBits(centroids[c*idx.d:(c+1)*idx.d], packed[c*cs:(c+1)*cs])
	}
	if err := idx.quantizer.Reset(); err != nil {
		return err
	}
	if err := idx.quantizer.Add(packed); err != nil {
		return err
	}
	idx.trained = true
	return nil
}

func (idx *IVF) probe(q []byte) ([]int64, error) {
	nprobe := idx.nprobe
	if int64(nprobe) > idx.quantizer.Ntotal() {
		nprobe = int(idx.quantizer.Ntotal())
	}
	if nprobe == 0 {
		return nil, nil
	}
	_, buckets, err := idx.quantizer.Search(q, nprobe)
	return buckets, err
}

// Add assigns packed vectors to buckets.
func (idx *IVF) Add(x []byte) error {
	if !idx.trained {
		return index.ErrNotTrained
	}
	n, err := index.CheckBinaryVectors(x, idx.d)
	if err != nil {
		return err
	}
	cs := idx.codeSize()
	for i := 0; i < n; i++ {
		row := x[i*cs : (i+1)*cs]
		_, buckets, err := idx.quantizer.Search(row, 1)
		if err != nil {
			return err
		}
		id := idx.Ntotal()
		idx.codes = append(idx.codes, row...)
		idx.lists[buckets[0]] = append(idx.lists[buckets[0]], id)
	}
	return nil
}

// Search probes the nprobe nearest buckets.
func (idx *IVF) Search(x []byte, k int) ([]int32, []int64, error) {
	if !idx.trained {
		return nil, nil, index.ErrNotTrained
	}
	nq, err := index.CheckBinaryVectors(x, idx.d)
	if err != nil {
		return nil, nil, err
	}
	if k <= 0 {
		return nil, nil, index.ErrInvalidK
	}

	cs := idx.codeSize()
	distances := make([]int32, nq*k)
	labels := make([]int64, nq*k)

	for qi := 0; qi < nq; qi++ {
		q := x[qi*cs : (qi+1)*cs]
		buckets, err := idx.probe(q)
		if err != nil {
			return nil, nil, err
		}
		coll := index.NewCollector(k, true)
		for _, b := range buckets {
			if b < 0 {
				continue
			}
			for _, id := range idx.lists[b] {
				coll.Offer(id, float32(metric.Hamming(q, idx.codes[id*int64(cs):(id+1)*int64(cs)])))
			}
		}
		emitBinary(coll, distances, labels, qi*k, k)
	}
	return distances, labels, nil
}

// Reconstruct returns a copy of the stored packed vector at a row.
func (idx *IVF) Reconstruct(row int64) ([]byte, error) {
	if row < 0 || row >= idx.Ntotal() {
		return nil, index.ErrNotFound
	}
	cs := int64(idx.codeSize())
	out := make([]byte, cs)
	copy(out, idx.codes[row*cs:(row+1)*cs])
	return out, nil
}

// Reset removes all vectors. The trained quantizer is kept.
func (idx *IVF) Reset() error {
	idx.lists = make([][]int64, idx.nlist)
	idx.codes = idx.codes[:0]
	return nil
}

// Quantizer returns the coarse quantizer.
func (idx *IVF) Quantizer() *Flat { return idx.quantizer }

// Save writes the index state, including the quantizer inline.
func (idx *IVF) Save(w *persistence.Writer) error {
	w.WriteInt(idx.d)
	w.WriteInt(idx.nlist)
	w.WriteInt(idx.nprobe)
	w.WriteInt64(idx.seed)
	w.WriteBool(idx.trained)
	if err := idx.quantizer.Save(w); err != nil {
		return err
	}
	for _, list := range idx.lists {
		w.WriteInt64s(list)
	}
	w.WriteBytes(idx.codes)
	return w.Err()
}

// LoadIVF reads an index saved by IVF.Save.
func LoadIVF(r *persistence.Reader) (*IVF, error) {
	d := r.ReadInt()
	nlist := r.ReadInt()
	nprobe := r.ReadInt()
	seed := r.ReadInt64()
	trained := r.ReadBool()
	if err := r.Err(); err != nil {
		return nil, err
	}
	quantizer, err := LoadFlat(r)
	if err != nil {
		return nil, err
	}
	idx, err := NewIVF(quantizer, d, nlist)
	if err != nil {
		return nil, err
	}
	idx.nprobe = nprobe
	idx.seed = seed
	idx.trained = trained
	for i := range idx.lists {
		idx.lists[i] = r.ReadInt64s()
	}
	idx.codes = r.ReadBytes()
	return idx, r.Err()
}

func unpackBits(code []byte, out []float32) {
	for b := range out {
		if code[b/8]&(1<<(b%8)) != 0 {
			out[b] = 1
		} else {
			out[b] = 0
		}
	}
}

func packBits(v []float32, out []byte) {
	for i := range out {
		out[i] = 0
	}
	for b, f := range v {
		if f > 0.5 {
			out[b/8] |= 1 << (b % 8)
		}
	}
}

// Hash buckets vectors by their first nbits bits. Search scans the
// query's bucket and, when it needs more candidates, neighboring buckets
// at increasing prefix Hamming radius.
type Hash struct {
	d     int
	nbits int

	buckets map[uint64][]int64
	codes   []byte
}

var _ index.BinaryIndex = (*Hash)(nil)

// NewHash creates a binary hash index bucketing on the first nbits bits.
func NewHash(d, nbits int) (*Hash, error) {
	if d <= 0 || d%8 != 0 {
		return nil, &index.ErrInvalidDimension{Dimension: d}
	}
	if nbits <= 0 || nbits > 24 || nbits > d {
		return nil, fmt.Errorf("binary: hash nbits must be in [1, min(24, d)], got %d: %w", nbits, index.ErrInvalidParameter)
	}
	return &Hash{d: d, nbits: nbits, buckets: make(map[uint64][]int64)}, nil
}

// D returns the bit dimension.
func (idx *Hash) D() int { return idx.d }

func (idx *Hash) codeSize() int { return idx.d / 8 }

// Ntotal returns the number of stored vectors.
func (idx *Hash) Ntotal() int64 { return int64(len(idx.codes) / idx.codeSize()) }

// IsTrained always reports true.
func (idx *Hash) IsTrained() bool { return true }

// Nbits returns the bucket prefix width.
func (idx *Hash) Nbits() int { return idx.nbits }

// Train is a no-op.
func (idx *Hash) Train(x []byte) error { return nil }

func (idx *Hash) prefix(code []byte) uint64 {
	var p uint64
	for b := 0; b < idx.nbits; b++ {
		if code[b/8]&(1<<(b%8)) != 0 {
			p |= 1 << b
		}
	}
	return p
}

// Add appends packed vectors into their prefix buckets.
func (idx *Hash) Add(x []byte) error {
	n, err := index.CheckBinaryVectors(x, idx.d)
	if err != nil {
		return err
	}
	cs := idx.codeSize()
	for i := 0; i < n; i++ {
		row := x[i*cs : (i+1)*cs]
		id := idx.Ntotal()
		idx.codes = append(idx.codes, row...)
		p := idx.prefix(row)
		idx.buckets[p] = append(idx.buckets[p], id)
	}
	return nil
}

// Search scans buckets outward from the query's prefix until k
// candidates have been seen (or every bucket was scanned).
func (idx *Hash) Search(x []byte, k int) ([]int32, []int64, error) {
	nq, err := index.CheckBinaryVectors(x, idx.d)
	if err != nil {
		return nil, nil, err
	}
	if k <= 0 {
		return nil, nil, index.ErrInvalidK
	}

	cs := idx.codeSize()
	distances := make([]int32, nq*k)
	labels := make([]int64, nq*k)

	for qi := 0; qi < nq; qi++ {
		q := x[qi*cs : (qi+1)*cs]
		p := idx.prefix(q)
		coll := index.NewCollector(k, true)

		seen := idx.scanBucket(coll, q, p, cs)
		// Widen by one flipped prefix bit at a time.
		for radius := 0; radius < idx.nbits && seen < k; radius++ {
			seen += idx.scanBucket(coll, q, p^(1<<radius), cs)
		}
		if seen < k {
			// Sparse hash table: fall back to a full scan.
			for b, ids := range idx.buckets {
				if b == p {
					continue
				}
				idx.scanIDs(coll, q, ids, cs)
			}
		}
		emitBinary(coll, distances, labels, qi*k, k)
	}
	return distances, labels, nil
}

func (idx *Hash) scanBucket(coll *index.Collector, q []byte, p uint64, cs int) int {
	return idx.scanIDs(coll, q, idx.buckets[p], cs)
}

func (idx *Hash) scanIDs(coll *index.Collector, q []byte, ids []int64, cs int) int {
	for _, id := range ids {
		coll.Offer(id, float32(metric.Hamming(q, idx.codes[id*int64(cs):(id+1)*int64(cs)])))
	}
	return len(ids)
}

// Reconstruct returns a copy of the stored packed vector at a row.
func (idx *Hash) Reconstruct(row int64) ([]byte, error) {
	if row < 0 || row >= idx.Ntotal() {
		return nil, index.ErrNotFound
	}
	cs := int64(idx.codeSize())
	out := make([]byte, cs)
	copy(out, idx.codes[row*cs:(row+1)*cs])
	return out, nil
}

// Reset removes all vectors.
func (idx *Hash) Reset() error {
	idx.buckets = make(map[uint64][]int64)
	idx.codes = idx.codes[:0]
	return nil
}

// Save writes the index state.
func (idx *Hash) Save(w *persistence.Writer) error {
	w.WriteInt(idx.d)
	w.WriteInt(idx.nbits)
	w.WriteBytes(idx.codes)
	return w.Err()
}

// LoadHash reads an index saved by Hash.Save.
func LoadHash(r *persistence.Reader) (*Hash, error) {
	d := r.ReadInt()
	nbits := r.ReadInt()
	codes := r.ReadBytes()
	if err := r.Err(); err != nil {
		return nil, err
	}
	idx, err := NewHash(d, nbits)
	if err != nil {
		return nil, err
	}
	// Rebuild buckets from the stored codes.
	cs := idx.codeSize()
	for i := 0; i*cs < len(codes); i++ {
		row := codes[i*cs : (i+1)*cs]
		p := idx.prefix(row)
		idx.buckets[p] = append(idx.buckets[p], int64(i))
	}
	idx.codes = codes
	return idx, nil
}
