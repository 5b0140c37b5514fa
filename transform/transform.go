// Package transform implements the vector transforms that can be chained
// in front of an index: PCA projection, learned rotation (OPQ), and
// random rotation.
package transform

import (
	"errors"
	"fmt"

	"github.com/annexlab/annex/index"
	"github.com/annexlab/annex/persistence"
)

// ErrNotTrained is returned when Apply or Reverse is called before Train.
var ErrNotTrained = errors.New("transform not trained")

// Transform maps d_in-dimensional vectors to d_out dimensions.
type Transform interface {
	DIn() int
	DOut() int
	IsTrained() bool

	// Train fits the transform on a flat row-major batch.
	Train(x []float32) error

	// Apply maps n input vectors to n output vectors.
	Apply(x []float32) ([]float32, error)

	// Reverse maps transformed vectors back. For lossy transforms this
	// is the pseudo-inverse, not an exact inverse.
	Reverse(x []float32) ([]float32, error)

	// Save writes the transform state for persistence.
	Save(w *persistence.Writer) error
}

// Tags identifying transform kinds in the persisted format.
const (
	tagPCA      = "PCA"
	tagOPQ      = "OPQ"
	tagRotation = "RandomRotation"
)

// Save writes a transform with its kind tag.
func Save(w *persistence.Writer, t Transform) error {
	switch t.(type) {
	case *PCA:
		w.WriteString(tagPCA)
	case *OPQ:
		w.WriteString(tagOPQ)
	case *RandomRotation:
		w.WriteString(tagRotation)
	default:
		return fmt.Errorf("transform: unsupported type %T", t)
	}
	return t.Save(w)
}

// Load reads a transform written by Save.
func Load(r *persistence.Reader) (Transform, error) {
	tag := r.ReadString()
	if err := r.Err(); err != nil {
		return nil, err
	}
	switch tag {
	case tagPCA:
		return loadPCA(r)
	case tagOPQ:
		return loadOPQ(r)
	case tagRotation:
		return loadRotation(r)
	default:
		return nil, fmt.Errorf("transform: unknown tag %q", tag)
	}
}

// checkBatch validates a row-major batch against dimension d.
func checkBatch(x []float32, d int) (int, error) {
	return index.CheckVectors(x, d)
}
