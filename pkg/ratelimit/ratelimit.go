package ratelimit

import (
	"context"
	"math/rand/v2"
	"net/url"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// HostLimiter spaces requests to the same host by a minimum interval, with
// optional positive jitter. Different hosts never block each other.
// It is safe for concurrent use by multiple goroutines.
type HostLimiter struct {
	interval time.Duration
	jitter   float64 // 0.0 to 1.0

	mu       sync.Mutex
	limiters map[string]*rate.Limiter
}

// NewHostLimiter creates a limiter allowing one request per interval per
// host. If interval is <= 0, the limiter does not block.
func NewHostLimiter(interval time.Duration, jitter float64) *HostLimiter {
	if jitter < 0 {
		jitter = 0
	} else if jitter > 1 {
		jitter = 1
	}
	return &HostLimiter{
		interval: interval,
		jitter:   jitter,
		limiters: make(map[string]*rate.Limiter),
	}
}

// Interval returns the configured per-host spacing.
func (l *HostLimiter) Interval() time.Duration {
	return l.interval
}

// Wait blocks until a request to rawURL's host may proceed, or ctx is done.
// URLs that do not parse share a single anonymous bucket.
func (l *HostLimiter) Wait(ctx context.Context, rawURL string) error {
	host := ""
	if u, err := url.Parse(rawURL); err == nil {
		host = u.Hostname()
	}
	return l.WaitHost(ctx, host)
}

// WaitHost blocks until a request to host may proceed, or ctx is done.
func (l *HostLimiter) WaitHost(ctx context.Context, host string) error {
	if l == nil || l.interval <= 0 {
		return ctx.Err()
	}

	if err := l.limiter(host).Wait(ctx); err != nil {
		return err
	}

	if l.jitter > 0 {
		extra := time.Duration(float64(l.interval) * l.jitter * rand.Float64())
		if extra > 0 {
			t := time.NewTimer(extra)
			defer t.Stop()
			select {
			case <-t.C:
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	}
	return nil
}

func (l *HostLimiter) limiter(host string) *rate.Limiter {
	host = strings.ToLower(host)

	l.mu.Lock()
	defer l.mu.Unlock()

	lim, ok := l.limiters[host]
	if !ok {
		lim = rate.NewLimiter(rate.Every(l.interval), 1)
		l.limiters[host] = lim
	}
	return lim
}

// Hosts returns the number of hosts seen so far.
func (l *HostLimiter) Hosts() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.limiters)
}
