// Package sq implements the scalar-quantized index: each vector component
// is stored as a reduced-precision code, trained from per-dimension value
// ranges.
package sq

import (
	"fmt"
	"math"

	"github.com/annexlab/annex/index"
	"github.com/annexlab/annex/metric"
	"github.com/annexlab/annex/persistence"
)

// QuantizerType selects the per-component code.
type QuantizerType int

const (
	// QT8Bit stores each component as a uint8 over the trained range.
	QT8Bit QuantizerType = iota
	// QT4Bit stores each component as 4 bits over the trained range.
	QT4Bit
	// QTFP16 stores each component as an IEEE half-precision float.
	QTFP16
)

// String returns a stable tag for the quantizer type.
func (q QuantizerType) String() string {
	switch q {
	case QT8Bit:
		return "QT8"
	case QT4Bit:
		return "QT4"
	case QTFP16:
		return "QTfp16"
	default:
		return fmt.Sprintf("QuantizerType(%d)", int(q))
	}
}

// Index is a scalar-quantized index.
type Index struct {
	d     int
	qtype QuantizerType
	met   index.Metric

	vmin    []float32 // per-dimension range start (QT8/QT4)
	vdiff   []float32 // per-dimension range width (QT8/QT4)
	codes   []byte
	trained bool
}

var (
	_ index.Index         = (*Index)(nil)
	_ index.Reconstructor = (*Index)(nil)
)

// New creates an untrained scalar-quantized index.
func New(d int, qtype QuantizerType, met index.Metric) (*Index, error) {
	if d <= 0 {
		return nil, &index.ErrInvalidDimension{Dimension: d}
	}
	switch qtype {
	case QT8Bit, QT4Bit, QTFP16:
	default:
		return nil, fmt.Errorf("sq: unknown quantizer type %d: %w", qtype, index.ErrInvalidParameter)
	}
	return &Index{d: d, qtype: qtype, met: met}, nil
}

// D returns the vector dimension.
func (idx *Index) D() int { return idx.d }

// codeSize returns the bytes per stored vector.
func (idx *Index) codeSize() int {
	switch idx.qtype {
	case QT4Bit:
		return (idx.d + 1) / 2
	case QTFP16:
		return idx.d * 2
	default:
		return idx.d
	}
}

// Ntotal returns the number of stored vectors.
func (idx *Index) Ntotal() int64 { return int64(len(idx.codes) / idx.codeSize()) }

// IsTrained reports whether the value ranges have been trained.
func (idx *Index) IsTrained() bool { return idx.trained }

// Metric returns the distance metric.
func (idx *Index) Metric() index.Metric { return idx.met }

// QuantizerType returns the per-component code kind.
func (idx *Index) QuantizerType() QuantizerType { return idx.qtype }

// Train computes per-dimension value ranges. For QTFP16 there is nothing
// to estimate, but training is still required before Add for uniformity.
func (idx *Index) Train(x []float32) error {
	n, err := index.CheckVectors(x, idx.d)
	if err != nil {
		return err
	}

	if idx.qtype != QTFP16 {
		idx.vmin = make([]float32, idx.d)
		idx.vdiff = make([]float32, idx.d)
		for j := 0; j < idx.d; j++ {
			lo, hi := x[j], x[j]
			for i := 1; i < n; i++ {
				v := x[i*idx.d+j]
				if v < lo {
					lo = v
				}
				if v > hi {
					hi = v
				}
			}
			idx.vmin[j] = lo
			idx.vdiff[j] = hi - lo
		}
	}

	idx.trained = true
	return nil
}

func (idx *Index) levels() float32 {
	if idx.qtype == QT4Bit {
		return 15
	}
	return 255
}

// encodeComponent truncates into the code grid; decodeComponent returns
// the midpoint of the code's cell, so the pair shares one convention.
func (idx *Index) encodeComponent(j int, v float32) byte {
	if idx.vdiff[j] == 0 {
		return 0
	}
	q := (v - idx.vmin[j]) / idx.vdiff[j]
	if q < 0 {
		q = 0
	}
	if q > 1 {
		q = 1
	}
	return byte(q * idx.levels())
}

func (idx *Index) decodeComponent(j int, c byte) float32 {
	return idx.vmin[j] + (float32(c)+0.5)/(idx.levels()+1)*idx.vdiff[j]
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
		v := x[i*idx.d : (i+1)*idx.d]
		switch idx.qtype {
		case QTFP16:
			for _, f := range v {
				h := float32ToHalf(f)
				idx.codes = append(idx.codes, byte(h), byte(h>>8))
			}
		case QT4Bit:
			for j := 0; j < idx.d; j += 2 {
				lo := idx.encodeComponent(j, v[j])
				var hi byte
				if j+1 < idx.d {
					hi = idx.encodeComponent(j+1, v[j+1])
				}
				idx.codes = append(idx.codes, lo|hi<<4)
			}
		default:
			for j, f := range v {
				idx.codes = append(idx.codes, idx.encodeComponent(j, f))
			}
		}
	}
	return nil
}

// decode reconstructs the approximate vector at a row into out.
func (idx *Index) decode(row int64, out []float32) {
	cs := int64(idx.codeSize())
	code := idx.codes[row*cs : (row+1)*cs]
	switch idx.qtype {
	case QTFP16:
		for j := 0; j < idx.d; j++ {
			out[j] = halfToFloat32(uint16(code[2*j]) | uint16(code[2*j+1])<<8)
		}
	case QT4Bit:
		for j := 0; j < idx.d; j++ {
			c := code[j/2]
			if j%2 == 1 {
				c >>= 4
			}
			out[j] = idx.decodeComponent(j, c&0x0F)
		}
	default:
		for j := 0; j < idx.d; j++ {
			out[j] = idx.decodeComponent(j, code[j])
		}
	}
}

// Search decodes each stored vector and ranks by the metric.
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
	n := idx.Ntotal()
	distances := make([]float32, nq*k)
	labels := make([]int64, nq*k)
	buf := make([]float32, idx.d)

	for qi := 0; qi < nq; qi++ {
		q := x[qi*idx.d : (qi+1)*idx.d]
		coll := index.NewCollector(k, ascending)
		for i := int64(0); i < n; i++ {
			idx.decode(i, buf)
			var s float32
			if idx.met == index.MetricInnerProduct {
				s = metric.InnerProduct(q, buf)
			} else {
				s = metric.SquaredL2(q, buf)
			}
			coll.Offer(i, s)
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
	idx.decode(row, out)
	return out, nil
}

// ReconstructN decodes n consecutive rows.
func (idx *Index) ReconstructN(start, n int64) ([]float32, error) {
	if start < 0 || n < 0 || start+n > idx.Ntotal() {
		return nil, index.ErrNotFound
	}
	out := make([]float32, n*int64(idx.d))
	for i := int64(0); i < n; i++ {
		idx.decode(start+i, out[i*int64(idx.d):(i+1)*int64(idx.d)])
	}
	return out, nil
}

// Reset removes all codes. Trained ranges are kept.
func (idx *Index) Reset() error {
	idx.codes = idx.codes[:0]
	return nil
}

// Save writes the index state.
func (idx *Index) Save(w *persistence.Writer) error {
	w.WriteInt(idx.d)
	w.WriteUint8(uint8(idx.qtype))
	w.WriteUint8(uint8(idx.met))
	w.WriteBool(idx.trained)
	w.WriteFloat32s(idx.vmin)
	w.WriteFloat32s(idx.vdiff)
	w.WriteBytes(idx.codes)
	return w.Err()
}

// Load reads an index saved by Save.
func Load(r *persistence.Reader) (*Index, error) {
	d := r.ReadInt()
	qtype := QuantizerType(r.ReadUint8())
	met := index.Metric(r.ReadUint8())
	trained := r.ReadBool()
	vmin := r.ReadFloat32s()
	vdiff := r.ReadFloat32s()
	codes := r.ReadBytes()
	if err := r.Err(); err != nil {
		return nil, err
	}
	idx, err := New(d, qtype, met)
	if err != nil {
		return nil, err
	}
	idx.trained = trained
	idx.vmin = vmin
	idx.vdiff = vdiff
	idx.codes = codes
	return idx, nil
}

// float32ToHalf converts to IEEE 754 half precision, round-to-nearest.
func float32ToHalf(f float32) uint16 {
	b := math.Float32bits(f)
	sign := uint16(b >> 16 & 0x8000)
	exp := int32(b>>23&0xFF) - 127 + 15
	mant := b & 0x7FFFFF

	switch {
	case exp >= 31: // overflow or inf/nan
		if exp == 143 && mant != 0 {
			return sign | 0x7E00 // nan
		}
		return sign | 0x7C00 // inf
	case exp <= 0: // subnormal or zero
		if exp < -10 {
			return sign
		}
		mant |= 0x800000
		shift := uint32(14 - exp)
		return sign | uint16(mant>>shift)
	default:
		return sign | uint16(exp)<<10 | uint16(mant>>13)
	}
}

// halfToFloat32 converts from IEEE 754 half precision.
func halfToFloat32(h uint16) float32 {
	sign := uint32(h&0x8000) << 16
	exp := uint32(h >> 10 & 0x1F)
	mant := uint32(h & 0x3FF)

	switch exp {
	case 0:
		if mant == 0 {
			return math.Float32frombits(sign)
		}
		// subnormal: normalize
		for mant&0x400 == 0 {
			mant <<= 1
			exp--
		}
		mant &= 0x3FF
		return math.Float32frombits(sign | (exp+1+127-15)<<23 | mant<<13)
	case 31:
		return math.Float32frombits(sign | 0xFF<<23 | mant<<13)
	default:
		return math.Float32frombits(sign | (exp+127-15)<<23 | mant<<13)
	}
}
