// Package resource coordinates budgets shared by a selector and its
// background machinery: a hard cap on managed memory, a bound on
// concurrent background jobs, and a bytes-per-second budget for archive
// transfers.
//
// A nil *Controller is valid and enforces nothing, so callers can thread
// one through unconditionally.
package resource

import (
	"context"
	"sync/atomic"

	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"
)

// Config holds resource limits. Zero values disable enforcement.
type Config struct {
	// MemoryLimitBytes is the hard cap for managed memory. Zero tracks
	// usage without enforcing a cap.
	MemoryLimitBytes int64

	// MaxBackgroundJobs bounds concurrent background jobs such as segment
	// uploads. Zero means one.
	MaxBackgroundJobs int64

	// IOBytesPerSec is the transfer budget for archive reads and writes.
	// Zero means unlimited.
	IOBytesPerSec int64
}

// Controller tracks and enforces the configured budgets. All methods are
// safe for concurrent use.
type Controller struct {
	memSem  *semaphore.Weighted // nil when no cap is configured
	memUsed atomic.Int64

	jobSem *semaphore.Weighted

	ioLimiter *rate.Limiter
}

// NewController creates a controller for the given limits.
func NewController(cfg Config) *Controller {
	if cfg.MaxBackgroundJobs <= 0 {
		cfg.MaxBackgroundJobs = 1
	}

	c := &Controller{
		jobSem: semaphore.NewWeighted(cfg.MaxBackgroundJobs),
	}
	if cfg.MemoryLimitBytes > 0 {
		c.memSem = semaphore.NewWeighted(cfg.MemoryLimitBytes)
	}
	if cfg.IOBytesPerSec > 0 {
		c.ioLimiter = rate.NewLimiter(rate.Limit(cfg.IOBytesPerSec), int(cfg.IOBytesPerSec))
	}
	return c
}

// Reserve blocks until bytes of memory budget are available or ctx ends.
func (c *Controller) Reserve(ctx context.Context, bytes int64) error {
	if c == nil || bytes <= 0 {
		return nil
	}
	if c.memSem != nil {
		if err := c.memSem.Acquire(ctx, bytes); err != nil {
			return err
		}
	}
	c.memUsed.Add(bytes)
	return nil
}

// TryReserve reserves bytes of memory budget without blocking. It reports
// false when the reservation would exceed the cap.
func (c *Controller) TryReserve(bytes int64) bool {
	if c == nil || bytes <= 0 {
		return true
	}
	if c.memSem != nil && !c.memSem.TryAcquire(bytes) {
		return false
	}
	c.memUsed.Add(bytes)
	return true
}

// Release returns bytes of memory budget.
func (c *Controller) Release(bytes int64) {
	if c == nil || bytes <= 0 {
		return
	}
	if c.memSem != nil {
		c.memSem.Release(bytes)
	}
	c.memUsed.Add(-bytes)
}

// MemoryInUse returns the currently reserved bytes.
func (c *Controller) MemoryInUse() int64 {
	if c == nil {
		return 0
	}
	return c.memUsed.Load()
}

// AcquireJob blocks until a background job slot is free or ctx ends.
func (c *Controller) AcquireJob(ctx context.Context) error {
	if c == nil {
		return nil
	}
	return c.jobSem.Acquire(ctx, 1)
}

// TryAcquireJob claims a background job slot without blocking.
func (c *Controller) TryAcquireJob() bool {
	if c == nil {
		return true
	}
	return c.jobSem.TryAcquire(1)
}

// ReleaseJob returns a background job slot.
func (c *Controller) ReleaseJob() {
	if c == nil {
		return
	}
	c.jobSem.Release(1)
}

// AcquireIO waits until the transfer budget covers n bytes. Requests larger
// than the limiter burst are split so arbitrarily large transfers pace
// correctly instead of failing.
func (c *Controller) AcquireIO(ctx context.Context, n int) error {
	if c == nil || c.ioLimiter == nil || n <= 0 {
		return nil
	}
	burst := c.ioLimiter.Burst()
	for n > 0 {
		chunk := min(n, burst)
		if err := c.ioLimiter.WaitN(ctx, chunk); err != nil {
			return err
		}
		n -= chunk
	}
	return nil
}
