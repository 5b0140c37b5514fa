package transform

import (
	"fmt"

	"gonum.org/v1/gonum/mat"

	"github.com/annexlab/annex/persistence"
)

// PCA projects vectors onto their dOut principal components, centering
// on the training mean.
type PCA struct {
	dIn  int
	dOut int

	mean    []float32
	basis   []float32 // dOut * dIn, row per component
	trained bool
}

var _ Transform = (*PCA)(nil)

// NewPCA creates an untrained PCA transform from dIn to dOut dimensions.
func NewPCA(dIn, dOut int) (*PCA, error) {
	if dIn <= 0 || dOut <= 0 || dOut > dIn {
		return nil, fmt.Errorf("transform: invalid PCA dimensions dIn=%d dOut=%d", dIn, dOut)
	}
	return &PCA{dIn: dIn, dOut: dOut}, nil
}

// DIn returns the input dimension.
func (p *PCA) DIn() int { return p.dIn }

// DOut returns the output dimension.
func (p *PCA) DOut() int { return p.dOut }

// IsTrained reports whether Train has completed.
func (p *PCA) IsTrained() bool { return p.trained }

// Train computes the principal axes from the covariance of the training
// batch via symmetric eigendecomposition.
func (p *PCA) Train(x []float32) error {
	n, err := checkBatch(x, p.dIn)
	if err != nil {
		return err
	}
	if n < 2 {
		return fmt.Errorf("transform: PCA needs at least 2 training vectors, got %d", n)
	}

	// Mean.
	p.mean = make([]float32, p.dIn)
	for i := 0; i < n; i++ {
		for j := 0; j < p.dIn; j++ {
			p.mean[j] += x[i*p.dIn+j]
		}
	}
	for j := range p.mean {
		p.mean[j] /= float32(n)
	}

	// Covariance.
	cov := mat.NewSymDense(p.dIn, nil)
	centered := make([]float64, p.dIn)
	for i := 0; i < n; i++ {
		for j := 0; j < p.dIn; j++ {
			centered[j] = float64(x[i*p.dIn+j] - p.mean[j])
		}
		for a := 0; a < p.dIn; a++ {
			for b := a; b < p.dIn; b++ {
				cov.SetSym(a, b, cov.At(a, b)+centered[a]*centered[b])
			}
		}
	}
	for a := 0; a < p.dIn; a++ {
		for b := a; b < p.dIn; b++ {
			cov.SetSym(a, b, cov.At(a, b)/float64(n-1))
		}
	}

	var eig mat.EigenSym
	if !eig.Factorize(cov, true) {
		return fmt.Errorf("transform: PCA eigendecomposition failed")
	}
	var vecs mat.Dense
	eig.VectorsTo(&vecs)
	vals := eig.Values(nil)

	// EigenSym returns ascending eigenvalues; take the top dOut.
	p.basis = make([]float32, p.dOut*p.dIn)
	for c := 0; c < p.dOut; c++ {
		col := len(vals) - 1 - c
		for j := 0; j < p.dIn; j++ {
			p.basis[c*p.dIn+j] = float32(vecs.At(j, col))
		}
	}

	p.trained = true
	return nil
}

// Apply projects n centered input vectors onto the principal axes.
func (p *PCA) Apply(x []float32) ([]float32, error) {
	if !p.trained {
		return nil, ErrNotTrained
	}
	n, err := checkBatch(x, p.dIn)
	if err != nil {
		return nil, err
	}

	out := make([]float32, n*p.dOut)
	for i := 0; i < n; i++ {
		row := x[i*p.dIn : (i+1)*p.dIn]
		for c := 0; c < p.dOut; c++ {
			var s float32
			axis := p.basis[c*p.dIn : (c+1)*p.dIn]
			for j := 0; j < p.dIn; j++ {
				s += (row[j] - p.mean[j]) * axis[j]
			}
			out[i*p.dOut+c] = s
		}
	}
	return out, nil
}

// Reverse maps projected vectors back into the input space; exact only
// on the principal subspace.
func (p *PCA) Reverse(x []float32) ([]float32, error) {
	if !p.trained {
		return nil, ErrNotTrained
	}
	n, err := checkBatch(x, p.dOut)
	if err != nil {
		return nil, err
	}

	out := make([]float32, n*p.dIn)
	for i := 0; i < n; i++ {
		row := x[i*p.dOut : (i+1)*p.dOut]
		dst := out[i*p.dIn : (i+1)*p.dIn]
		copy(dst, p.mean)
		for c := 0; c < p.dOut; c++ {
			axis := p.basis[c*p.dIn : (c+1)*p.dIn]
			for j := 0; j < p.dIn; j++ {
				dst[j] += row[c] * axis[j]
			}
		}
	}
	return out, nil
}

// Save writes the transform state.
func (p *PCA) Save(w *persistence.Writer) error {
	w.WriteInt(p.dIn)
	w.WriteInt(p.dOut)
	w.WriteBool(p.trained)
	w.WriteFloat32s(p.mean)
	w.WriteFloat32s(p.basis)
	return w.Err()
}

func loadPCA(r *persistence.Reader) (*PCA, error) {
	dIn := r.ReadInt()
	dOut := r.ReadInt()
	trained := r.ReadBool()
	mean := r.ReadFloat32s()
	basis := r.ReadFloat32s()
	if err := r.Err(); err != nil {
		return nil, err
	}
	p, err := NewPCA(dIn, dOut)
	if err != nil {
		return nil, err
	}
	p.trained = trained
	p.mean = mean
	p.basis = basis
	return p, nil
}
