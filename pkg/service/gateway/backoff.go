package gateway

import (
	"math/rand/v2"
	"time"
)

// Backoff computes capped exponential retry delays: Delay(n) = min(Cap, Base*2^n) + [0, Jitter)
type Backoff struct {
	Base        time.Duration
	Cap         time.Duration
	MaxAttempts int
	Jitter      time.Duration
}

// DefaultBackoff returns base 1s, cap 30s, 5 attempts and up to 500ms of jitter
func DefaultBackoff() Backoff {
	return Backoff{
		Base:        time.Second,
		Cap:         30 * time.Second,
		MaxAttempts: 5,
		Jitter:      500 * time.Millisecond,
	}
}

// BaseDelay returns the delay before retry n (0-based) without jitter
func (b Backoff) BaseDelay(n int) time.Duration {
	if n < 0 {
		n = 0
	}
	d := b.Base
	for i := 0; i < n; i++ {
		d *= 2
		if b.Cap > 0 && d >= b.Cap {
			return b.Cap
		}
	}
	if b.Cap > 0 && d > b.Cap {
		return b.Cap
	}
	return d
}

// Delay returns the delay before retry n (0-based) including jitter
func (b Backoff) Delay(n int) time.Duration {
	d := b.BaseDelay(n)
	if b.Jitter > 0 {
		d += time.Duration(rand.Int64N(int64(b.Jitter)))
	}
	return d
}

// RetryDelay honors a server-requested wait but never waits longer than Cap plus Jitter
func (b Backoff) RetryDelay(n int, retryAfter time.Duration) time.Duration {
	d := max(b.Delay(n), retryAfter)
	if b.Cap > 0 {
		d = min(d, b.Cap+b.Jitter)
	}
	return d
}

// Attempts returns MaxAttempts, treating non-positive values as one attempt
func (b Backoff) Attempts() int {
	if b.MaxAttempts < 1 {
		return 1
	}
	return b.MaxAttempts
}
