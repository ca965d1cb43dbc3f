package fetch

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

const (
	defaultHostRate  = 1.0
	defaultHostBurst = 2
)

// hostLimiter keeps one token bucket per host.
type hostLimiter struct {
	mu       sync.Mutex
	limiters map[string]*rate.Limiter
	limit    rate.Limit
	burst    int
}

func newHostLimiter(perSecond float64, burst int) *hostLimiter {
	if perSecond <= 0 {
		perSecond = defaultHostRate
	}
	if burst <= 0 {
		burst = defaultHostBurst
	}
	return &hostLimiter{
		limiters: make(map[string]*rate.Limiter),
		limit:    rate.Limit(perSecond),
		burst:    burst,
	}
}

func (l *hostLimiter) wait(ctx context.Context, host string) error {
	return l.get(host).Wait(ctx)
}

// slowDown lowers the host rate to honor a robots.txt crawl delay. It never
// raises it.
func (l *hostLimiter) slowDown(host string, delay time.Duration) {
	limiter := l.get(host)
	if every := rate.Every(delay); every < limiter.Limit() {
		limiter.SetLimit(every)
	}
}

func (l *hostLimiter) get(host string) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()
	limiter, ok := l.limiters[host]
	if !ok {
		limiter = rate.NewLimiter(l.limit, l.burst)
		l.limiters[host] = limiter
	}
	return limiter
}
