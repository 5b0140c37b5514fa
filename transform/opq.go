package transform

import (
	"fmt"

	"gonum.org/v1/gonum/mat"

	"github.com/annexlab/annex/index"
	"github.com/annexlab/annex/index/pq"
	"github.com/annexlab/annex/persistence"
)

// OPQ learns a rotation that minimizes product-quantization error for a
// downstream index with m subquantizers of nbits each. Training
// alternates between fitting a product quantizer on the rotated data and
// solving the orthogonal Procrustes problem against its reconstructions.
type OPQ struct {
	d     int
	m     int
	nbits int
	niter int
	seed  int64

	rot     []float32 // d * d, row-major
	trained bool
}

var _ Transform = (*OPQ)(nil)

// OPQOptions configures OPQ training.
type OPQOptions struct {
	// Niter is the number of alternation rounds.
	Niter int

	// Seed drives the initial rotation.
	Seed int64
}

// DefaultOPQOptions are the options used when none are given.
var DefaultOPQOptions = OPQOptions{
	Niter: 10,
	Seed:  1234,
}

// NewOPQ creates an untrained OPQ rotation for a d-dimensional space
// quantized with m subquantizers of nbits each.
func NewOPQ(d, m, nbits int, optFns ...func(o *OPQOptions)) (*OPQ, error) {
	if d <= 0 || m <= 0 || d%m != 0 {
		return nil, fmt.Errorf("transform: invalid OPQ shape d=%d m=%d", d, m)
	}
	opts := DefaultOPQOptions
	for _, fn := range optFns {
		fn(&opts)
	}
	if opts.Niter <= 0 {
		return nil, fmt.Errorf("transform: OPQ niter must be positive, got %d", opts.Niter)
	}
	return &OPQ{d: d, m: m, nbits: nbits, niter: opts.Niter, seed: opts.Seed}, nil
}

// DIn returns the input dimension.
func (t *OPQ) DIn() int { return t.d }

// DOut returns the output dimension, equal to the input dimension.
func (t *OPQ) DOut() int { return t.d }

// IsTrained reports whether Train has completed.
func (t *OPQ) IsTrained() bool { return t.trained }

// Train alternates PQ fitting and Procrustes rotation updates.
func (t *OPQ) Train(x []float32) error {
	n, err := checkBatch(x, t.d)
	if err != nil {
		return err
	}
	if n < 1<<t.nbits {
		return fmt.Errorf("transform: OPQ needs at least %d training vectors, got %d", 1<<t.nbits, n)
	}

	t.rot = randomOrthonormal(t.d, t.seed)

	for iter := 0; iter < t.niter; iter++ {
		rotated, err := applyMatrix(t.rot, t.d, t.d, x, false)
		if err != nil {
			return err
		}

		quantizer, err := pq.New(t.d, t.m, t.nbits, index.MetricL2)
		if err != nil {
			return err
		}
		if err := quantizer.Train(rotated); err != nil {
			return err
		}
		if err := quantizer.Add(rotated); err != nil {
			return err
		}
		approx, err := quantizer.ReconstructN(0, int64(n))
		if err != nil {
			return err
		}

		t.rot = procrustes(x, approx, n, t.d)
	}

	t.trained = true
	return nil
}

// procrustes solves min_R ||X R^T - Y|| over orthonormal R via the SVD
// of X^T Y.
func procrustes(x, y []float32, n, d int) []float32 {
	xt := mat.NewDense(n, d, nil)
	yt := mat.NewDense(n, d, nil)
	for i := 0; i < n; i++ {
		for j := 0; j < d; j++ {
			xt.Set(i, j, float64(x[i*d+j]))
			yt.Set(i, j, float64(y[i*d+j]))
		}
	}

	var m mat.Dense
	m.Mul(xt.T(), yt)

	var svd mat.SVD
	svd.Factorize(&m, mat.SVDThin)
	var u, v mat.Dense
	svd.UTo(&u)
	svd.VTo(&v)

	// R rows map input to rotated space: R = (U V^T)^T = V U^T.
	var r mat.Dense
	r.Mul(&v, u.T())

	rot := make([]float32, d*d)
	for i := 0; i < d; i++ {
		for j := 0; j < d; j++ {
			rot[i*d+j] = float32(r.At(i, j))
		}
	}
	return rot
}

// Apply rotates n vectors.
func (t *OPQ) Apply(x []float32) ([]float32, error) {
	if !t.trained {
		return nil, ErrNotTrained
	}
	return applyMatrix(t.rot, t.d, t.d, x, false)
}

// Reverse applies the transpose rotation.
func (t *OPQ) Reverse(x []float32) ([]float32, error) {
	if !t.trained {
		return nil, ErrNotTrained
	}
	return applyMatrix(t.rot, t.d, t.d, x, true)
}

// Save writes the transform state.
func (t *OPQ) Save(w *persistence.Writer) error {
	w.WriteInt(t.d)
	w.WriteInt(t.m)
	w.WriteInt(t.nbits)
	w.WriteInt(t.niter)
	w.WriteInt64(t.seed)
	w.WriteBool(t.trained)
	w.WriteFloat32s(t.rot)
	return w.Err()
}

func loadOPQ(r *persistence.Reader) (*OPQ, error) {
	d := r.ReadInt()
	m := r.ReadInt()
	nbits := r.ReadInt()
	niter := r.ReadInt()
	seed := r.ReadInt64()
	trained := r.ReadBool()
	rot := r.ReadFloat32s()
	if err := r.Err(); err != nil {
		return nil, err
	}
	t, err := NewOPQ(d, m, nbits, func(o *OPQOptions) {
		o.Niter = niter
		o.Seed = seed
	})
	if err != nil {
		return nil, err
	}
	t.trained = trained
	t.rot = rot
	return t, nil
}
