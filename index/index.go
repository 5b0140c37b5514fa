// Package index defines the contract between the annex facade and the
// concrete index implementations (the search engine proper).
//
// Vectors cross this boundary as flat row-major []float32 slices of length
// n*d. Binary indexes operate on packed-bit []byte rows of length d/8.
package index

import (
	"errors"
	"fmt"
)

var (
	// ErrNotTrained is returned when an operation requires a trained index.
	ErrNotTrained = errors.New("index not trained")

	// ErrInvalidK is returned when k is not positive.
	ErrInvalidK = errors.New("k must be positive")

	// ErrEmptyInput is returned when a batch operation receives no vectors.
	ErrEmptyInput = errors.New("empty input")

	// ErrNotFound is returned when a row or id is not present.
	ErrNotFound = errors.New("not found")

	// ErrInvalidParameter is wrapped by implementations when a
	// configuration or tuning parameter is out of range.
	ErrInvalidParameter = errors.New("invalid parameter")
)

// ErrDimensionMismatch indicates a vector/query dimensionality mismatch.
type ErrDimensionMismatch struct {
	Expected int
	Actual   int
}

func (e *ErrDimensionMismatch) Error() string {
	return fmt.Sprintf("dimension mismatch: expected %d, got %d", e.Expected, e.Actual)
}

// ErrInvalidDimension indicates an invalid configured dimension.
type ErrInvalidDimension struct {
	Dimension int
}

func (e *ErrInvalidDimension) Error() string {
	return fmt.Sprintf("invalid dimension: %d", e.Dimension)
}

// Metric selects the distance measure used by an index.
type Metric int

const (
	// MetricL2 ranks by squared Euclidean distance, ascending.
	MetricL2 Metric = iota
	// MetricInnerProduct ranks by dot-product score, descending.
	MetricInnerProduct
)

// String returns a stable tag for the metric, used by the persisted format.
func (m Metric) String() string {
	switch m {
	case MetricL2:
		return "L2"
	case MetricInnerProduct:
		return "IP"
	default:
		return fmt.Sprintf("Metric(%d)", int(m))
	}
}

// Index is the engine-side contract shared by all float32 index variants.
//
// Search fills exactly k result slots per query; slots beyond the number
// of stored vectors carry label -1. Ordering follows the metric: ascending
// distance for L2, descending score for inner product.
type Index interface {
	D() int
	Ntotal() int64
	IsTrained() bool
	Metric() Metric

	Train(x []float32) error
	Add(x []float32) error
	Search(x []float32, k int) (distances []float32, labels []int64, err error)
	Reset() error
}

// Reconstructor is implemented by indexes that can return stored vectors,
// exactly for flat storage and approximately for quantized storage.
type Reconstructor interface {
	Reconstruct(row int64) ([]float32, error)
	ReconstructN(start, n int64) ([]float32, error)
}

// RangeSearcher is implemented by indexes that support radius queries.
type RangeSearcher interface {
	RangeSearch(x []float32, radius float32) (*RangeSearchResult, error)
}

// Assigner is implemented by indexes that can map vectors to a partition
// or centroid label without producing distances.
type Assigner interface {
	Assign(x []float32) ([]int64, error)
}

// RowRemover is implemented by indexes whose dense storage supports
// removal by row position. Removal compacts the remaining rows in order,
// so positions after the removed set shift down.
type RowRemover interface {
	RemoveRows(rows []int64) error
}

// BinaryIndex is the engine-side contract for packed-bit index variants.
// Distances are Hamming distances.
type BinaryIndex interface {
	D() int
	Ntotal() int64
	IsTrained() bool

	Train(x []byte) error
	Add(x []byte) error
	Search(x []byte, k int) (distances []int32, labels []int64, err error)
	Reconstruct(row int64) ([]byte, error)
	Reset() error
}

// RangeSearchResult holds the variable-length result of a radius query.
// Lims has nq+1 entries delimiting the per-query runs inside Labels and
// Distances.
type RangeSearchResult struct {
	Nq        int
	Lims      []int64
	Labels    []int64
	Distances []float32
}

// GetResults returns the labels and distances for one query.
func (r *RangeSearchResult) GetResults(query int) (labels []int64, distances []float32) {
	if query < 0 || query >= r.Nq {
		return nil, nil
	}
	lo, hi := r.Lims[query], r.Lims[query+1]
	return r.Labels[lo:hi], r.Distances[lo:hi]
}

// NumResults returns the number of neighbors found for one query.
func (r *RangeSearchResult) NumResults(query int) int {
	if query < 0 || query >= r.Nq {
		return 0
	}
	return int(r.Lims[query+1] - r.Lims[query])
}

// TotalResults returns the number of neighbors across all queries.
func (r *RangeSearchResult) TotalResults() int {
	if len(r.Lims) == 0 {
		return 0
	}
	return int(r.Lims[len(r.Lims)-1])
}

// CheckVectors validates a flat row-major batch against dimension d and
// returns the row count.
func CheckVectors(x []float32, d int) (int, error) {
	if d <= 0 {
		return 0, &ErrInvalidDimension{Dimension: d}
	}
	if len(x) == 0 {
		return 0, ErrEmptyInput
	}
	if len(x)%d != 0 {
		return 0, &ErrDimensionMismatch{Expected: d, Actual: len(x) % d}
	}
	return len(x) / d, nil
}

// CheckBinaryVectors validates a packed-bit batch against bit dimension d
// and returns the row count.
func CheckBinaryVectors(x []byte, d int) (int, error) {
	if d <= 0 || d%8 != 0 {
		return 0, &ErrInvalidDimension{Dimension: d}
	}
	codeSize := d / 8
	if len(x) == 0 {
		return 0, ErrEmptyInput
	}
	if len(x)%codeSize != 0 {
		return 0, &ErrDimensionMismatch{Expected: d, Actual: 8 * (len(x) % codeSize)}
	}
	return len(x) / codeSize, nil
}
