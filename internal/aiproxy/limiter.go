package aiproxy

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"
)

var (
	ErrQueueFull      = errors.New("too many requests waiting for an upstream slot")
	ErrAcquireTimeout = errors.New("timed out waiting for an upstream slot")
	ErrLimiterClosed  = errors.New("limiter is closed")
)

// LimiterConfig bounds concurrent upstream calls.
type LimiterConfig struct {
	// MaxConcurrent is the number of simultaneous upstream calls; 0 means unlimited.
	MaxConcurrent int
	// AcquireTimeout caps the wait for a slot; 0 waits until the context ends.
	AcquireTimeout time.Duration
	// QueueSize caps the number of waiters; 0 means unbounded.
	QueueSize int
}

// Limiter is a counting semaphore with queue and wait bounds.
type Limiter struct {
	mu      sync.Mutex
	config  LimiterConfig
	permits chan struct{}
	closed  bool

	waiting atomic.Int32
	active  atomic.Int32

	acquired atomic.Int64
	rejected atomic.Int64
	timeouts atomic.Int64
}

// LimiterStats is a point-in-time view of a Limiter.
type LimiterStats struct {
	MaxConcurrent int   `json:"max_concurrent"`
	Active        int   `json:"active"`
	Waiting       int   `json:"waiting"`
	TotalAcquired int64 `json:"total_acquired"`
	TotalRejected int64 `json:"total_rejected"`
	TotalTimeouts int64 `json:"total_timeouts"`
}

// NewLimiter creates a limiter from cfg.
func NewLimiter(cfg LimiterConfig) *Limiter {
	l := &Limiter{config: cfg}
	if cfg.MaxConcurrent > 0 {
		l.permits = make(chan struct{}, cfg.MaxConcurrent)
		for i := 0; i < cfg.MaxConcurrent; i++ {
			l.permits <- struct{}{}
		}
	}
	return l
}

// Acquire blocks until a slot is free, the context ends, or the acquire
// timeout elapses. Every successful Acquire must be paired with Release.
func (l *Limiter) Acquire(ctx context.Context) error {
	if l.permits == nil {
		l.active.Add(1)
		l.acquired.Add(1)
		return nil
	}

	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return ErrLimiterClosed
	}
	if l.config.QueueSize > 0 && int(l.waiting.Load()) >= l.config.QueueSize {
		l.mu.Unlock()
		l.rejected.Add(1)
		return ErrQueueFull
	}
	l.waiting.Add(1)
	l.mu.Unlock()
	defer l.waiting.Add(-1)

	var timeout <-chan time.Time
	if l.config.AcquireTimeout > 0 {
		timer := time.NewTimer(l.config.AcquireTimeout)
		defer timer.Stop()
		timeout = timer.C
	}

	select {
	case _, ok := <-l.permits:
		if !ok {
			return ErrLimiterClosed
		}
		l.active.Add(1)
		l.acquired.Add(1)
		return nil
	case <-ctx.Done():
		l.timeouts.Add(1)
		return ctx.Err()
	case <-timeout:
		l.timeouts.Add(1)
		return ErrAcquireTimeout
	}
}

// Release returns a slot.
func (l *Limiter) Release() {
	l.active.Add(-1)
	if l.permits == nil {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return
	}
	select {
	case l.permits <- struct{}{}:
	default:
	}
}

// Close wakes every waiter with ErrLimiterClosed.
func (l *Limiter) Close() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return
	}
	l.closed = true
	if l.permits != nil {
		close(l.permits)
	}
}

// Stats reports the current counters.
func (l *Limiter) Stats() LimiterStats {
	return LimiterStats{
		MaxConcurrent: l.config.MaxConcurrent,
		Active:        int(l.active.Load()),
		Waiting:       int(l.waiting.Load()),
		TotalAcquired: l.acquired.Load(),
		TotalRejected: l.rejected.Load(),
		TotalTimeouts: l.timeouts.Load(),
	}
}
