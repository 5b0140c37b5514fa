package device

import (
	"context"
	"sync/atomic"

	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"
)

// Config holds device resource limits for a backend.
type Config struct {
	// MemoryLimitBytes is the hard limit for device-resident memory.
	// If 0, no hard limit is enforced (only tracking).
	MemoryLimitBytes int64

	// MaxConcurrentTransfers is the maximum number of in-flight
	// transfers. If 0, defaults to 1.
	MaxConcurrentTransfers int64

	// TransferLimitBytesPerSec throttles transfer throughput.
	// If 0, unlimited.
	TransferLimitBytesPerSec int64
}

// Resources tracks device memory and throttles transfers. Backends use
// one Resources per device.
type Resources struct {
	cfg Config

	memSem  *semaphore.Weighted // nil if unlimited
	memUsed atomic.Int64

	transferSem     *semaphore.Weighted
	transferLimiter *rate.Limiter
}

// NewResources creates resource tracking for one device.
func NewResources(cfg Config) *Resources {
	if cfg.MaxConcurrentTransfers <= 0 {
		cfg.MaxConcurrentTransfers = 1
	}

	r := &Resources{
		cfg:         cfg,
		transferSem: semaphore.NewWeighted(cfg.MaxConcurrentTransfers),
	}

	if cfg.MemoryLimitBytes > 0 {
		r.memSem = semaphore.NewWeighted(cfg.MemoryLimitBytes)
	}

	if cfg.TransferLimitBytesPerSec > 0 {
		r.transferLimiter = rate.NewLimiter(rate.Limit(cfg.TransferLimitBytesPerSec), int(cfg.TransferLimitBytesPerSec))
	}

	return r
}

// AcquireMemory reserves device memory, blocking until it is available
// or ctx is canceled.
func (r *Resources) AcquireMemory(ctx context.Context, bytes int64) error {
	if r == nil || bytes <= 0 {
		return nil
	}

	if r.memSem != nil {
		if err := r.memSem.Acquire(ctx, bytes); err != nil {
			return err
		}
	}

	r.memUsed.Add(bytes)
	return nil
}

// TryAcquireMemory reserves device memory without blocking.
func (r *Resources) TryAcquireMemory(bytes int64) bool {
	if r == nil || bytes <= 0 {
		return true
	}

	if r.memSem != nil {
		if !r.memSem.TryAcquire(bytes) {
			return false
		}
	}

	r.memUsed.Add(bytes)
	return true
}

// ReleaseMemory releases reserved device memory.
func (r *Resources) ReleaseMemory(bytes int64) {
	if r == nil || bytes <= 0 {
		return
	}

	if r.memSem != nil {
		r.memSem.Release(bytes)
	}
	r.memUsed.Add(-bytes)
}

// MemoryUsage returns the tracked device memory in bytes.
func (r *Resources) MemoryUsage() int64 {
	if r == nil {
		return 0
	}
	return r.memUsed.Load()
}

// BeginTransfer reserves a transfer slot and waits out the throughput
// limiter for a transfer of the given size. Call EndTransfer when done.
func (r *Resources) BeginTransfer(ctx context.Context, bytes int64) error {
	if r == nil {
		return nil
	}
	if err := r.transferSem.Acquire(ctx, 1); err != nil {
		return err
	}
	if r.transferLimiter != nil && bytes > 0 {
		n := int(bytes)
		if n > r.transferLimiter.Burst() {
			n = r.transferLimiter.Burst()
		}
		if err := r.transferLimiter.WaitN(ctx, n); err != nil {
			r.transferSem.Release(1)
			return err
		}
	}
	return nil
}

// EndTransfer releases a transfer slot.
func (r *Resources) EndTransfer() {
	if r == nil {
		return
	}
	r.transferSem.Release(1)
}
