package submitter

import (
	"context"
	"net/url"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// DomainThrottle enforces a minimum interval between submissions to the
// same host, so concurrent entries targeting one directory never hammer
// it. Hosts are throttled independently.
type DomainThrottle struct {
	mu       sync.Mutex
	limiters map[string]*rate.Limiter
	interval time.Duration
}

// NewDomainThrottle creates a throttle with the given per-host interval.
// A non-positive interval disables throttling.
func NewDomainThrottle(interval time.Duration) *DomainThrottle {
	return &DomainThrottle{
		limiters: make(map[string]*rate.Limiter),
		interval: interval,
	}
}

// Wait blocks until a submission to rawURL's host is allowed, or the
// context is cancelled.
func (t *DomainThrottle) Wait(ctx context.Context, rawURL string) error {
	if t.interval <= 0 {
		return nil
	}
	return t.limiterFor(hostOf(rawURL)).Wait(ctx)
}

func (t *DomainThrottle) limiterFor(host string) *rate.Limiter {
	t.mu.Lock()
	defer t.mu.Unlock()

	limiter, ok := t.limiters[host]
	if !ok {
		limiter = rate.NewLimiter(rate.Every(t.interval), 1)
		t.limiters[host] = limiter
	}
	return limiter
}

func hostOf(rawURL string) string {
	parsed, err := url.Parse(rawURL)
	if err != nil || parsed.Host == "" {
		return rawURL
	}
	return strings.TrimPrefix(parsed.Host, "www.")
}
