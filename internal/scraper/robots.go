package scraper

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"

	"github.com/temoto/robotstxt"
	"golang.org/x/sync/singleflight"
)

// RobotsTxtAuditor fetches and caches robots.txt per origin. It fails open:
// an unreachable or unparsable robots.txt allows everything. Each origin is
// fetched at most once at a time, and a slow origin never holds up lookups
// for another.
type RobotsTxtAuditor struct {
	fetcher *Fetcher
	logger  *slog.Logger
	group   singleflight.Group

	mu    sync.Mutex
	cache map[string]*robotstxt.RobotsData
}

// NewRobotsTxtAuditor creates a new instance.
func NewRobotsTxtAuditor(fetcher *Fetcher, logger *slog.Logger) *RobotsTxtAuditor {
	if logger == nil {
		logger = slog.Default()
	}
	return &RobotsTxtAuditor{
		fetcher: fetcher,
		logger:  logger,
		cache:   make(map[string]*robotstxt.RobotsData),
	}
}

// IsAllowed determines if the given URL is allowed by the host's robots.txt for the provided User-Agent.
func (r *RobotsTxtAuditor) IsAllowed(ctx context.Context, targetURL string, userAgent string) (bool, error) {
	u, err := url.Parse(targetURL)
	if err != nil {
		return false, fmt.Errorf("robots: invalid url: %w", err)
	}

	data := r.get(ctx, u.Scheme+"://"+u.Host)
	if data == nil {
		return true, nil
	}

	return data.TestAgent(u.EscapedPath(), userAgent), nil
}

// Sitemaps returns the Sitemap: entries of origin's robots.txt.
func (r *RobotsTxtAuditor) Sitemaps(ctx context.Context, origin string) []string {
	if !strings.HasPrefix(origin, "http://") && !strings.HasPrefix(origin, "https://") {
		origin = "https://" + origin
	}
	data := r.get(ctx, strings.TrimRight(origin, "/"))
	if data == nil {
		return nil
	}
	return data.Sitemaps
}

func (r *RobotsTxtAuditor) get(ctx context.Context, origin string) *robotstxt.RobotsData {
	if data, ok := r.cached(origin); ok {
		return data
	}

	v, _, _ := r.group.Do(origin, func() (any, error) {
		if data, ok := r.cached(origin); ok {
			return data, nil
		}
		data := r.load(ctx, origin)
		// A canceled fetch says nothing about the origin.
		if ctx.Err() == nil {
			r.mu.Lock()
			r.cache[origin] = data
			r.mu.Unlock()
		}
		return data, nil
	})
	data, _ := v.(*robotstxt.RobotsData)
	return data
}

func (r *RobotsTxtAuditor) cached(origin string) (*robotstxt.RobotsData, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	data, ok := r.cache[origin]
	return data, ok
}

func (r *RobotsTxtAuditor) load(ctx context.Context, origin string) *robotstxt.RobotsData {
	// Bypass the robots check itself to avoid recursing into this auditor.
	result := r.fetcher.do(ctx, http.MethodGet, origin+"/robots.txt", false)
	if !result.OK() {
		r.logger.Debug("robots.txt unavailable, allowing all", "origin", origin, "reason", result.Failure)
		return nil
	}

	parsed, err := robotstxt.FromBytes(result.Body)
	if err != nil {
		r.logger.Debug("robots.txt unparsable, allowing all", "origin", origin, "err", err)
		return nil
	}
	return parsed
}
