package gateway

import (
	"sync"
	"time"
)

// RateLimiter throttles outbound REST calls so the venue's request limits
// are never tripped by a busy tick.
type RateLimiter interface {
	Wait()
}

// TokenBucketLimiter is a minimal token bucket.
type TokenBucketLimiter struct {
	rate   float64
	burst  int
	tokens float64
	last   time.Time
	mu     sync.Mutex
}

func NewTokenBucketLimiter(rate float64, burst int) *TokenBucketLimiter {
	if rate <= 0 {
		rate = 1
	}
	if burst <= 0 {
		burst = 1
	}
	return &TokenBucketLimiter{
		rate:   rate,
		burst:  burst,
		tokens: float64(burst),
		last:   time.Now(),
	}
}

// Wait blocks until a token is available. Each waiter re-checks the bucket
// after sleeping, so concurrent callers cannot spend the same refill twice.
func (l *TokenBucketLimiter) Wait() {
	for {
		l.mu.Lock()
		now := time.Now()
		l.tokens += now.Sub(l.last).Seconds() * l.rate
		l.last = now
		if l.tokens > float64(l.burst) {
			l.tokens = float64(l.burst)
		}
		if l.tokens >= 1 {
			l.tokens--
			l.mu.Unlock()
			return
		}
		sleep := time.Duration((1 - l.tokens) / l.rate * float64(time.Second))
		l.mu.Unlock()
		time.Sleep(sleep)
	}
}
