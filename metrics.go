package annex

import (
	"sync/atomic"
	"time"
)

// MetricsCollector defines an interface for collecting operational metrics.
// Implement this interface to integrate with monitoring systems like Prometheus.
type MetricsCollector interface {
	// RecordTrain is called after each training run.
	// n is the number of training vectors, err is nil if successful.
	RecordTrain(n int, duration time.Duration, err error)

	// RecordAdd is called after each add operation.
	// n is the number of vectors attempted.
	RecordAdd(n int, duration time.Duration, err error)

	// RecordSearch is called after each search operation.
	// nq is the number of queries, k the number of neighbors requested.
	RecordSearch(nq, k int, duration time.Duration, err error)

	// RecordRemove is called after each identifier removal.
	// removed is the number of vectors actually removed.
	RecordRemove(removed int64, duration time.Duration, err error)
}

// NoopMetricsCollector is a no-op implementation of MetricsCollector.
// Use this when metrics collection is not needed.
type NoopMetricsCollector struct{}

func (NoopMetricsCollector) RecordTrain(int, time.Duration, error)       {}
func (NoopMetricsCollector) RecordAdd(int, time.Duration, error)         {}
func (NoopMetricsCollector) RecordSearch(int, int, time.Duration, error) {}
func (NoopMetricsCollector) RecordRemove(int64, time.Duration, error)    {}

// BasicMetricsCollector provides simple in-memory metrics collection.
// Useful for debugging and basic monitoring without external dependencies.
type BasicMetricsCollector struct {
	TrainCount       atomic.Int64
	TrainErrors      atomic.Int64
	AddCount         atomic.Int64
	AddVectors       atomic.Int64
	AddErrors        atomic.Int64
	SearchCount      atomic.Int64
	SearchQueries    atomic.Int64
	SearchErrors     atomic.Int64
	SearchTotalNanos atomic.Int64
	RemoveCount      atomic.Int64
	RemovedVectors   atomic.Int64
	RemoveErrors     atomic.Int64
}

// RecordTrain implements MetricsCollector.
func (b *BasicMetricsCollector) RecordTrain(n int, duration time.Duration, err error) {
	b.TrainCount.Add(1)
	if err != nil {
		b.TrainErrors.Add(1)
	}
}

// RecordAdd implements MetricsCollector.
func (b *BasicMetricsCollector) RecordAdd(n int, duration time.Duration, err error) {
	b.AddCount.Add(1)
	b.AddVectors.Add(int64(n))
	if err != nil {
		b.AddErrors.Add(1)
	}
}

// RecordSearch implements MetricsCollector.
func (b *BasicMetricsCollector) RecordSearch(nq, k int, duration time.Duration, err error) {
	b.SearchCount.Add(1)
	b.SearchQueries.Add(int64(nq))
	b.SearchTotalNanos.Add(duration.Nanoseconds())
	if err != nil {
		b.SearchErrors.Add(1)
	}
}

// RecordRemove implements MetricsCollector.
func (b *BasicMetricsCollector) RecordRemove(removed int64, duration time.Duration, err error) {
	b.RemoveCount.Add(1)
	b.RemovedVectors.Add(removed)
	if err != nil {
		b.RemoveErrors.Add(1)
	}
}

// GetStats returns a snapshot of current metrics.
func (b *BasicMetricsCollector) GetStats() BasicMetricsStats {
	return BasicMetricsStats{
		TrainCount:     b.TrainCount.Load(),
		TrainErrors:    b.TrainErrors.Load(),
		AddCount:       b.AddCount.Load(),
		AddVectors:     b.AddVectors.Load(),
		AddErrors:      b.AddErrors.Load(),
		SearchCount:    b.SearchCount.Load(),
		SearchQueries:  b.SearchQueries.Load(),
		SearchErrors:   b.SearchErrors.Load(),
		SearchAvgNanos: b.getAvgSearchNanos(),
		RemoveCount:    b.RemoveCount.Load(),
		RemovedVectors: b.RemovedVectors.Load(),
		RemoveErrors:   b.RemoveErrors.Load(),
	}
}

func (b *BasicMetricsCollector) getAvgSearchNanos() int64 {
	count := b.SearchCount.Load()
	if count == 0 {
		return 0
	}
	return b.SearchTotalNanos.Load() / count
}

// BasicMetricsStats is a snapshot of BasicMetricsCollector state.
type BasicMetricsStats struct {
	TrainCount     int64
	TrainErrors    int64
	AddCount       int64
	AddVectors     int64
	AddErrors      int64
	SearchCount    int64
	SearchQueries  int64
	SearchErrors   int64
	SearchAvgNanos int64
	RemoveCount    int64
	RemovedVectors int64
	RemoveErrors   int64
}
