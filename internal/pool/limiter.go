package pool

import (
	"context"
	"math"
	"sync"
	"time"
)

// Limiter is the token bucket shared by every worker in a pool. One token
// is one request initiation; Acquire blocks until the bucket refills, so
// the limiter governs how fast requests start, not how many are in
// flight. Workers never hold a token across the network wait.
type Limiter struct {
	mu           sync.Mutex
	capacity     float64
	tokens       float64
	refillPerSec float64
	last         time.Time
}

// NewLimiter returns a bucket refilling at perSecond with the given burst
// capacity. Burst below 1 is raised to 1; with burst 1 the initiation
// count inside any one-second window stays at the refill rate. A nil
// *Limiter never blocks.
func NewLimiter(perSecond float64, burst int) *Limiter {
	if perSecond <= 0 {
		return nil
	}
	cap := math.Max(1, float64(burst))
	return &Limiter{
		capacity:     cap,
		tokens:       cap,
		refillPerSec: perSecond,
		last:         time.Now(),
	}
}

// Acquire takes one token, blocking until one accrues or ctx is done.
func (l *Limiter) Acquire(ctx context.Context) error {
	if l == nil {
		return nil
	}
	for {
		l.mu.Lock()
		now := time.Now()
		if elapsed := now.Sub(l.last).Seconds(); elapsed > 0 {
			l.tokens = math.Min(l.capacity, l.tokens+elapsed*l.refillPerSec)
			l.last = now
		}
		if l.tokens >= 1 {
			l.tokens--
			l.mu.Unlock()
			return nil
		}
		wait := time.Duration((1 - l.tokens) / l.refillPerSec * float64(time.Second))
		l.mu.Unlock()

		if wait < time.Millisecond {
			wait = time.Millisecond
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
		}
	}
}
