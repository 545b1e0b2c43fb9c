package proxy

import (
	"context"
	"sync/atomic"

	"golang.org/x/sync/semaphore"
)

// Limiter bounds the number of connections handled concurrently. Admission
// is blocking: callers queue on Acquire until a slot frees up or their
// context is cancelled.
type Limiter struct {
	sem      *semaphore.Weighted
	inFlight atomic.Int64
}

// NewLimiter creates a limiter admitting at most n concurrent connections.
func NewLimiter(n int64) *Limiter {
	return &Limiter{sem: semaphore.NewWeighted(n)}
}

// Acquire blocks until a slot is available or ctx is done.
func (l *Limiter) Acquire(ctx context.Context) error {
	if err := l.sem.Acquire(ctx, 1); err != nil {
		return NewProxyError(ErrCodeConcurrencyLimitReached, "connection admission aborted", err)
	}
	l.inFlight.Add(1)
	return nil
}

// Release returns a slot to the limiter.
func (l *Limiter) Release() {
	l.inFlight.Add(-1)
	l.sem.Release(1)
}

// InFlight reports the number of currently admitted connections.
func (l *Limiter) InFlight() int64 {
	return l.inFlight.Load()
}
