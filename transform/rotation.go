package transform

import (
	"fmt"
	"math/rand"

	"gonum.org/v1/gonum/mat"

	"github.com/annexlab/annex/persistence"
)

// RandomRotation applies a fixed random orthonormal rotation. It needs no
// training: the rotation is drawn at construction from the given seed.
type RandomRotation struct {
	d   int
	rot []float32 // d * d, row-major
}

var _ Transform = (*RandomRotation)(nil)

// NewRandomRotation creates a seeded random rotation of dimension d.
func NewRandomRotation(d int, seed int64) (*RandomRotation, error) {
	if d <= 0 {
		return nil, fmt.Errorf("transform: invalid rotation dimension %d", d)
	}
	return &RandomRotation{d: d, rot: randomOrthonormal(d, seed)}, nil
}

// randomOrthonormal draws a gaussian matrix and orthonormalizes it via QR.
func randomOrthonormal(d int, seed int64) []float32 {
	rng := rand.New(rand.NewSource(seed))
	g := mat.NewDense(d, d, nil)
	for i := 0; i < d; i++ {
		for j := 0; j < d; j++ {
			g.Set(i, j, rng.NormFloat64())
		}
	}

	var qr mat.QR
	qr.Factorize(g)
	var q mat.Dense
	qr.QTo(&q)

	rot := make([]float32, d*d)
	for i := 0; i < d; i++ {
		for j := 0; j < d; j++ {
			rot[i*d+j] = float32(q.At(i, j))
		}
	}
	return rot
}

// DIn returns the input dimension.
func (t *RandomRotation) DIn() int { return t.d }

// DOut returns the output dimension, equal to the input dimension.
func (t *RandomRotation) DOut() int { return t.d }

// IsTrained always reports true.
func (t *RandomRotation) IsTrained() bool { return true }

// Train is a no-op.
func (t *RandomRotation) Train(x []float32) error { return nil }

// Apply rotates n vectors.
func (t *RandomRotation) Apply(x []float32) ([]float32, error) {
	return applyMatrix(t.rot, t.d, t.d, x, false)
}

// Reverse applies the transpose rotation, the exact inverse.
func (t *RandomRotation) Reverse(x []float32) ([]float32, error) {
	return applyMatrix(t.rot, t.d, t.d, x, true)
}

// Save writes the transform state.
func (t *RandomRotation) Save(w *persistence.Writer) error {
	w.WriteInt(t.d)
	w.WriteFloat32s(t.rot)
	return w.Err()
}

func loadRotation(r *persistence.Reader) (*RandomRotation, error) {
	d := r.ReadInt()
	rot := r.ReadFloat32s()
	if err := r.Err(); err != nil {
		return nil, err
	}
	if d <= 0 || len(rot) != d*d {
		return nil, fmt.Errorf("transform: corrupt rotation state")
	}
	return &RandomRotation{d: d, rot: rot}, nil
}

// applyMatrix multiplies each input row by an rows x cols matrix, or by
// its transpose. The matrix is row-major with shape (rows=dOut, cols=dIn).
func applyMatrix(m []float32, dOut, dIn int, x []float32, transpose bool) ([]float32, error) {
	inDim, outDim := dIn, dOut
	if transpose {
		inDim, outDim = dOut, dIn
	}
	n, err := checkBatch(x, inDim)
	if err != nil {
		return nil, err
	}

	out := make([]float32, n*outDim)
	for i := 0; i < n; i++ {
		row := x[i*inDim : (i+1)*inDim]
		dst := out[i*outDim : (i+1)*outDim]
		if transpose {
			for c := 0; c < dOut; c++ {
				v := row[c]
				if v == 0 {
					continue
				}
				mrow := m[c*dIn : (c+1)*dIn]
				for j := 0; j < dIn; j++ {
					dst[j] += v * mrow[j]
				}
			}
		} else {
			for c := 0; c < dOut; c++ {
				var s float32
				mrow := m[c*dIn : (c+1)*dIn]
				for j := 0; j < dIn; j++ {
					s += row[j] * mrow[j]
				}
				dst[c] = s
			}
		}
	}
	return out, nil
}
