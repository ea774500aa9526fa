package adapters

import (
	"context"
	"sync"

	ports "github.com/ZanzyTHEbar/srag-analyst/srag/generation/harness/ports"
	"golang.org/x/time/rate"
)

// RateLimiter keeps one token-bucket limiter per key and blocks until a token is
// available or the context ends.
type RateLimiter struct {
	mu       sync.Mutex
	limiters map[string]*rate.Limiter
	limit    rate.Limit
	burst    int
}

// NewRateLimiter allows perSecond events per key with the given burst.
func NewRateLimiter(perSecond float64, burst int) *RateLimiter {
	if burst < 1 {
		burst = 1
	}
	return &RateLimiter{
		limiters: make(map[string]*rate.Limiter),
		limit:    rate.Limit(perSecond),
		burst:    burst,
	}
}

// Acquire waits for a token for key.
func (r *RateLimiter) Acquire(ctx context.Context, key string) (release func(), err error) {
	if err := r.limiter(key).Wait(ctx); err != nil {
		return nil, err
	}
	return func() {}, nil
}

func (r *RateLimiter) limiter(key string) *rate.Limiter {
	r.mu.Lock()
	defer r.mu.Unlock()

	l, ok := r.limiters[key]
	if !ok {
		l = rate.NewLimiter(r.limit, r.burst)
		r.limiters[key] = l
	}
	return l
}

// Ensure RateLimiter implements the RateLimiter interface.
var _ ports.RateLimiter = (*RateLimiter)(nil)
