// Package cluster implements the k-means optimizer used for coarse
// quantizer training and exposed directly through the annex facade.
package cluster

import (
	"fmt"
	"log/slog"
	"math"
	"math/rand"

	"github.com/annexlab/annex/index"
	"github.com/annexlab/annex/index/flat"
	"github.com/annexlab/annex/metric"
)

// Options configures a KMeans run.
type Options struct {
	// Niter is the number of Lloyd iterations.
	Niter int

	// Seed drives every random choice (init and empty-cluster reseeding),
	// so a fixed seed with fixed input yields bit-identical centroids.
	Seed int64

	// Verbose logs the objective after each iteration.
	Verbose bool

	// Logger receives verbose output. Defaults to slog.Default().
	Logger *slog.Logger
}

// DefaultOptions are the options used when none are given.
var DefaultOptions = Options{
	Niter: 25,
	Seed:  1234,
}

// KMeans clusters d-dimensional vectors into k centroids under squared L2.
type KMeans struct {
	d    int
	k    int
	opts Options

	centroids []float32 // k*d after Train
	obj       []float32 // objective per iteration
	trained   bool
}

// New creates a k-means job for k clusters of d-dimensional vectors.
func New(d, k int, optFns ...func(o *Options)) (*KMeans, error) {
	if d <= 0 {
		return nil, &index.ErrInvalidDimension{Dimension: d}
	}
	if k <= 0 {
		return nil, fmt.Errorf("cluster: k must be positive, got %d: %w", k, index.ErrInvalidParameter)
	}

	opts := DefaultOptions
	for _, fn := range optFns {
		fn(&opts)
	}
	if opts.Niter <= 0 {
		return nil, fmt.Errorf("cluster: niter must be positive, got %d: %w", opts.Niter, index.ErrInvalidParameter)
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	return &KMeans{d: d, k: k, opts: opts}, nil
}

// D returns the vector dimension.
func (km *KMeans) D() int { return km.d }

// K returns the number of clusters.
func (km *KMeans) K() int { return km.k }

// Niter returns the number of iterations.
func (km *KMeans) Niter() int { return km.opts.Niter }

// IsTrained reports whether Train has completed.
func (km *KMeans) IsTrained() bool { return km.trained }

// Centroids returns the k*d centroid buffer. Nil before Train.
func (km *KMeans) Centroids() []float32 {
	if !km.trained {
		return nil
	}
	out := make([]float32, len(km.centroids))
	copy(out, km.centroids)
	return out
}

// Objectives returns the per-iteration sum of squared distances.
func (km *KMeans) Objectives() []float32 {
	out := make([]float32, len(km.obj))
	copy(out, km.obj)
	return out
}

// Train runs the optimizer on a flat row-major batch of training vectors.
func (km *KMeans) Train(x []float32) error {
	n, err := index.CheckVectors(x, km.d)
	if err != nil {
		return err
	}
	if n < km.k {
		return fmt.Errorf("cluster: need at least %d training vectors for %d clusters, got %d: %w", km.k, km.k, n, index.ErrInvalidParameter)
	}

	rng := rand.New(rand.NewSource(km.opts.Seed))
	centroids := km.initPlusPlus(x, n, rng)
	assign := make([]int, n)
	counts := make([]int, km.k)
	sums := make([]float64, km.k*km.d)
	km.obj = km.obj[:0]

	for iter := 0; iter < km.opts.Niter; iter++ {
		// Assignment step.
		var obj float64
		for i := 0; i < n; i++ {
			row := x[i*km.d : (i+1)*km.d]
			best, bestDist := 0, float32(math.MaxFloat32)
			for c := 0; c < km.k; c++ {
				dist := metric.SquaredL2(row, centroids[c*km.d:(c+1)*km.d])
				if dist < bestDist {
					best, bestDist = c, dist
				}
			}
			assign[i] = best
			obj += float64(bestDist)
		}
		km.obj = append(km.obj, float32(obj))

		if km.opts.Verbose {
			km.opts.Logger.Info("kmeans iteration",
				"iter", iter,
				"objective", obj,
				"k", km.k,
			)
		}

		// Update step.
		for c := range counts {
			counts[c] = 0
		}
		for i := range sums {
			sums[i] = 0
		}
		for i := 0; i < n; i++ {
			c := assign[i]
			counts[c]++
			base := c * km.d
			row := x[i*km.d : (i+1)*km.d]
			for j, v := range row {
				sums[base+j] += float64(v)
			}
		}
		for c := 0; c < km.k; c++ {
			if counts[c] == 0 {
				// Reseed an empty cluster from a deterministic random row.
				src := rng.Intn(n)
				copy(centroids[c*km.d:(c+1)*km.d], x[src*km.d:(src+1)*km.d])
				continue
			}
			inv := 1.0 / float64(counts[c])
			base := c * km.d
			for j := 0; j < km.d; j++ {
				centroids[base+j] = float32(sums[base+j] * inv)
			}
		}
	}

	km.centroids = centroids
	km.trained = true
	return nil
}

// Assign maps each input vector to its nearest trained centroid. Per the
// engine contract this builds a disposable flat L2 index over the
// centroids rather than a dedicated assignment kernel.
func (km *KMeans) Assign(x []float32) ([]int64, error) {
	if !km.trained {
		return nil, index.ErrNotTrained
	}
	idx, err := flat.New(km.d, index.MetricL2)
	if err != nil {
		return nil, err
	}
	if err := idx.Add(km.centroids); err != nil {
		return nil, err
	}
	return idx.Assign(x)
}

// initPlusPlus performs k-means++ seeding.
func (km *KMeans) initPlusPlus(x []float32, n int, rng *rand.Rand) []float32 {
	centroids := make([]float32, km.k*km.d)
	first := rng.Intn(n)
	copy(centroids[:km.d], x[first*km.d:(first+1)*km.d])

	minDist := make([]float64, n)
	for i := 0; i < n; i++ {
		minDist[i] = float64(metric.SquaredL2(x[i*km.d:(i+1)*km.d], centroids[:km.d]))
	}

	for c := 1; c < km.k; c++ {
		var total float64
		for _, dv := range minDist {
			total += dv
		}

		pick := 0
		if total > 0 {
			target := rng.Float64() * total
			var acc float64
			for i, dv := range minDist {
				acc += dv
				if acc >= target {
					pick = i
					break
				}
			}
		} else {
			pick = rng.Intn(n)
		}

		dst := centroids[c*km.d : (c+1)*km.d]
		copy(dst, x[pick*km.d:(pick+1)*km.d])
		for i := 0; i < n; i++ {
			dist := float64(metric.SquaredL2(x[i*km.d:(i+1)*km.d], dst))
			if dist < minDist[i] {
				minDist[i] = dist
			}
		}
	}

	return centroids
}
