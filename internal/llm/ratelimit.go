package llm

import (
	"context"
	"sync"

	"golang.org/x/time/rate"
)

// limiterPool holds one token-bucket limiter per backend endpoint. The
// pipeline talks to a single backend in practice, but limits stay correct if
// a future config points different calls at different endpoints.
type limiterPool struct {
	limiters map[string]*rate.Limiter
	mu       sync.Mutex
}

func newLimiterPool() *limiterPool {
	return &limiterPool{limiters: make(map[string]*rate.Limiter)}
}

func (p *limiterPool) get(endpoint string, requestsPerMinute int) *rate.Limiter {
	p.mu.Lock()
	defer p.mu.Unlock()

	if limiter, ok := p.limiters[endpoint]; ok {
		return limiter
	}

	rps := float64(requestsPerMinute) / 60.0
	burst := requestsPerMinute / 5
	if burst < 1 {
		burst = 1
	}
	limiter := rate.NewLimiter(rate.Limit(rps), burst)
	p.limiters[endpoint] = limiter
	return limiter
}

// wait blocks until the limiter admits the next request or ctx is done.
func (p *limiterPool) wait(ctx context.Context, endpoint string, requestsPerMinute int) error {
	return p.get(endpoint, requestsPerMinute).Wait(ctx)
}
