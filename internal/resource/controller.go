package resource

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"
)

// ErrBufferBudgetExceeded is returned by TryAcquireBuffer when the in-flight
// buffer budget is exhausted.
var ErrBufferBudgetExceeded = errors.New("buffer budget exceeded")

// Config holds the limits applied to backup and restore transfers.
type Config struct {
	// MaxInFlightBytes bounds the segment bytes held in memory by concurrent
	// transfers. If 0, usage is only tracked.
	MaxInFlightBytes int64

	// MaxTransfers is the number of segment uploads or downloads that may run
	// at once. If 0, defaults to 1.
	MaxTransfers int64

	// BytesPerSec caps transfer throughput. If 0, unlimited.
	BytesPerSec int64
}

// Controller governs transfer concurrency, buffer memory and IO rate.
// A nil *Controller imposes no limits.
type Controller struct {
	cfg Config

	bufSem  *semaphore.Weighted // nil if unlimited
	bufUsed atomic.Int64

	transferSem *semaphore.Weighted

	ioLimiter *rate.Limiter
}

// NewController creates a controller for cfg.
func NewController(cfg Config) *Controller {
	if cfg.MaxTransfers <= 0 {
		cfg.MaxTransfers = 1
	}

	c := &Controller{
		cfg:         cfg,
		transferSem: semaphore.NewWeighted(cfg.MaxTransfers),
	}
	if cfg.MaxInFlightBytes > 0 {
		c.bufSem = semaphore.NewWeighted(cfg.MaxInFlightBytes)
	}
	if cfg.BytesPerSec > 0 {
		c.ioLimiter = rate.NewLimiter(rate.Limit(cfg.BytesPerSec), int(cfg.BytesPerSec))
	}
	return c
}

// Config returns the effective configuration.
func (c *Controller) Config() Config {
	if c == nil {
		return Config{}
	}
	return c.cfg
}

// AcquireTransfer reserves a transfer slot, blocking until one is free or
// ctx is done.
func (c *Controller) AcquireTransfer(ctx context.Context) error {
	if c == nil {
		return nil
	}
	return c.transferSem.Acquire(ctx, 1)
}

// TryAcquireTransfer reserves a transfer slot without blocking.
func (c *Controller) TryAcquireTransfer() bool {
	if c == nil {
		return true
	}
	return c.transferSem.TryAcquire(1)
}

// ReleaseTransfer frees a slot taken by AcquireTransfer.
func (c *Controller) ReleaseTransfer() {
	if c == nil {
		return
	}
	c.transferSem.Release(1)
}

// AcquireBuffer reserves n bytes of in-flight buffer, blocking until enough
// budget is released. A request larger than the whole budget is clamped to
// it, so a single oversized segment still makes progress alone. It returns
// the amount actually reserved, which must be passed to ReleaseBuffer.
func (c *Controller) AcquireBuffer(ctx context.Context, n int64) (int64, error) {
	if c == nil || n <= 0 {
		return 0, nil
	}
	if c.bufSem != nil {
		n = min(n, c.cfg.MaxInFlightBytes)
		if err := c.bufSem.Acquire(ctx, n); err != nil {
			return 0, err
		}
	}
	c.bufUsed.Add(n)
	return n, nil
}

// TryAcquireBuffer reserves n bytes without blocking.
func (c *Controller) TryAcquireBuffer(n int64) error {
	if c == nil || n <= 0 {
		return nil
	}
	if c.bufSem != nil && !c.bufSem.TryAcquire(n) {
		return ErrBufferBudgetExceeded
	}
	c.bufUsed.Add(n)
	return nil
}

// ReleaseBuffer returns n reserved bytes.
func (c *Controller) ReleaseBuffer(n int64) {
	if c == nil || n <= 0 {
		return
	}
	if c.bufSem != nil {
		c.bufSem.Release(n)
	}
	c.bufUsed.Add(-n)
}

// BufferUsage returns the reserved in-flight bytes.
func (c *Controller) BufferUsage() int64 {
	if c == nil {
		return 0
	}
	return c.bufUsed.Load()
}

// WaitIO blocks until the rate limit admits n bytes. Requests larger than
// one second of budget are admitted in burst-sized steps.
func (c *Controller) WaitIO(ctx context.Context, n int) error {
	if c == nil || c.ioLimiter == nil {
		return nil
	}
	burst := c.ioLimiter.Burst()
	for n > 0 {
		step := min(n, burst)
		if err := c.ioLimiter.WaitN(ctx, step); err != nil {
			return err
		}
		n -= step
	}
	return nil
}

// TryIO reports whether n bytes are admitted right now, consuming tokens if so.
func (c *Controller) TryIO(n int) bool {
	if c == nil || c.ioLimiter == nil {
		return true
	}
	return c.ioLimiter.AllowN(time.Now(), n)
}
