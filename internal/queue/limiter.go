package queue

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// TokenBucketLimiter hands out a per-key token bucket, lazily created on
// first use. Used by the HTTP edge for per-credential storm protection on
// fetch_task/submit_result (abuse protection complements the temp-ban
// mechanism, which only kicks in after a task has actually timed out).
type TokenBucketLimiter struct {
	mu       sync.Mutex
	limiters map[string]*rate.Limiter
	r        rate.Limit
	b        int
}

// NewTokenBucketLimiter creates a limiter handing out buckets refilling at r
// tokens/sec with burst b.
func NewTokenBucketLimiter(r float64, b int) *TokenBucketLimiter {
	return &TokenBucketLimiter{
		limiters: make(map[string]*rate.Limiter),
		r:        rate.Limit(r),
		b:        b,
	}
}

func (l *TokenBucketLimiter) bucket(key string) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()

	lim, ok := l.limiters[key]
	if !ok {
		lim = rate.NewLimiter(l.r, l.b)
		l.limiters[key] = lim
	}
	return lim
}

// Allow reports whether a request for key may proceed right now.
func (l *TokenBucketLimiter) Allow(key string) bool {
	return l.bucket(key).Allow()
}

// Reserve reports whether key may proceed, and if not, how long the caller
// should back off before retrying.
func (l *TokenBucketLimiter) Reserve(key string) (bool, time.Duration) {
	r := l.bucket(key).Reserve()
	delay := r.Delay()
	if delay > 0 {
		r.Cancel()
		return false, delay
	}
	return true, 0
}
