package exchange

import (
	"sync"
	"time"
)

// RateLimiter is a token bucket sized to a venue's request budget. Take
// never blocks; callers translate an empty bucket into ErrRateLimited and
// apply their own backpressure.
type RateLimiter struct {
	mu       sync.Mutex
	capacity float64
	tokens   float64
	refill   float64 // tokens per second
	last     time.Time
	now      func() time.Time
}

// NewRateLimiter builds a full bucket with the given capacity and refill
// rate per second.
func NewRateLimiter(capacity int, perSecond float64) *RateLimiter {
	if capacity <= 0 {
		capacity = 1
	}
	if perSecond <= 0 {
		perSecond = 1
	}
	return &RateLimiter{
		capacity: float64(capacity),
		tokens:   float64(capacity),
		refill:   perSecond,
		last:     time.Now(),
		now:      time.Now,
	}
}

// Take consumes one token if available.
func (l *RateLimiter) Take() bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	elapsed := now.Sub(l.last).Seconds()
	if elapsed > 0 {
		l.tokens += elapsed * l.refill
		if l.tokens > l.capacity {
			l.tokens = l.capacity
		}
		l.last = now
	}
	if l.tokens < 1 {
		return false
	}
	l.tokens--
	return true
}
