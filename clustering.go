package annex

import (
	"time"

	"github.com/annexlab/annex/cluster"
)

// Kmeans is the facade over the k-means clusterer. Identical inputs and
// seed always produce identical centroids.
type Kmeans struct {
	km   *cluster.KMeans
	opts Options
}

// KmeansOptions configures a clustering run.
type KmeansOptions struct {
	// Niter is the number of Lloyd iterations.
	Niter int
	// Seed drives centroid initialization and reseeding.
	Seed int64
	// Verbose logs per-iteration objectives.
	Verbose bool
}

// DefaultKmeansOptions are the defaults for NewKmeans.
var DefaultKmeansOptions = KmeansOptions{
	Niter: 25,
	Seed:  1234,
}

// NewKmeans creates a clusterer for k centroids in d dimensions.
func NewKmeans(d, k int, kopts KmeansOptions, optFns ...func(o *Options)) (*Kmeans, error) {
	opts := applyOptions(optFns)
	km, err := cluster.New(d, k, func(o *cluster.Options) {
		o.Niter = kopts.Niter
		o.Seed = kopts.Seed
		o.Verbose = kopts.Verbose
		o.Logger = opts.Logger.Logger
	})
	if err != nil {
		return nil, translateError("new_kmeans", err)
	}
	return &Kmeans{km: km, opts: opts}, nil
}

// Train fits the centroids on a row-major batch.
func (km *Kmeans) Train(x []float32) error {
	start := time.Now()
	err := guard("kmeans_train", func() error { return km.km.Train(x) })
	n := 0
	if d := km.km.D(); d > 0 {
		n = len(x) / d
	}
	km.opts.Metrics.RecordTrain(n, time.Since(start), errValue(err))
	return errValue(err)
}

// Centroids returns a copy of the trained centroids, k rows of d.
func (km *Kmeans) Centroids() ([]float32, error) {
	if !km.km.IsTrained() {
		return nil, newError(KindNotTrained, "kmeans_centroids", "clusterer is not trained")
	}
	var c []float32
	err := guard("kmeans_centroids", func() error {
		c = km.km.Centroids()
		return nil
	})
	if err != nil {
		return nil, err
	}
	return c, nil
}

// Assign returns the nearest centroid for each input vector.
func (km *Kmeans) Assign(x []float32) ([]int64, error) {
	var labels []int64
	err := guard("kmeans_assign", func() error {
		var e error
		labels, e = km.km.Assign(x)
		return e
	})
	if err != nil {
		return nil, err
	}
	return labels, nil
}
