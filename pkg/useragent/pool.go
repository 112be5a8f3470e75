package useragent

import (
	"crypto/rand"
	"math/big"
	"net/http"
	"strings"
	"sync/atomic"
)

// Family identifies the browser a User-Agent string claims to be.
type Family string

const (
	FamilyChrome  Family = "chrome"
	FamilyEdge    Family = "edge"
	FamilyFirefox Family = "firefox"
	FamilySafari  Family = "safari"
	FamilyUnknown Family = "unknown"
)

// DefaultPool holds current desktop browser User-Agents. Publishers that
// serve thumbnails often answer non-browser clients with a 403 or a stripped
// page, so every fetch presents one of these.
var DefaultPool = []string{
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/131.0.0.0 Safari/537.36",
	"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/131.0.0.0 Safari/537.36",
	"Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/130.0.0.0 Safari/537.36",
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64; rv:133.0) Gecko/20100101 Firefox/133.0",
	"Mozilla/5.0 (Macintosh; Intel Mac OS X 10.15; rv:132.0) Gecko/20100101 Firefox/132.0",
	"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/18.1 Safari/605.1.15",
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/131.0.0.0 Safari/537.36 Edg/131.0.0.0",
}

// Pool rotates through a fixed set of User-Agents.
type Pool struct {
	uas     []string
	counter atomic.Uint64
}

// NewPool creates a new User-Agent pool. If the provided slice is empty,
// it falls back to DefaultPool. Blank entries are dropped.
func NewPool(uas []string) *Pool {
	copied := make([]string, 0, len(uas))
	for _, ua := range uas {
		if ua = strings.TrimSpace(ua); ua != "" {
			copied = append(copied, ua)
		}
	}
	if len(copied) == 0 {
		copied = append(copied, DefaultPool...)
	}
	return &Pool{uas: copied}
}

// Next returns the next User-Agent in round-robin order. Safe for concurrent use.
func (p *Pool) Next() string {
	idx := p.counter.Add(1) - 1
	return p.uas[idx%uint64(len(p.uas))]
}

// Random returns a User-Agent chosen with crypto/rand, falling back to
// round-robin if the random source fails.
func (p *Pool) Random() string {
	n, err := rand.Int(rand.Reader, big.NewInt(int64(len(p.uas))))
	if err != nil {
		return p.Next()
	}
	return p.uas[n.Int64()]
}

// Len reports the number of User-Agents in the pool.
func (p *Pool) Len() int {
	return len(p.uas)
}

// Detect classifies a User-Agent string. Edge is checked before Chrome and
// Chrome before Safari because their tokens overlap.
func Detect(ua string) Family {
	switch {
	case strings.Contains(ua, "Edg/"):
		return FamilyEdge
	case strings.Contains(ua, "Firefox/"):
		return FamilyFirefox
	case strings.Contains(ua, "Chrome/"):
		return FamilyChrome
	case strings.Contains(ua, "Safari/") && strings.Contains(ua, "Version/"):
		return FamilySafari
	default:
		return FamilyUnknown
	}
}

// Headers returns the navigation headers a browser with the given
// User-Agent sends when loading a page.
func Headers(ua string) http.Header {
	h := http.Header{}
	h.Set("User-Agent", ua)
	h.Set("Accept-Language", "en-US,en;q=0.9")
	h.Set("Upgrade-Insecure-Requests", "1")

	switch Detect(ua) {
	case FamilyFirefox:
		h.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8")
	case FamilySafari:
		h.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8")
		h.Set("Accept-Language", "en-US,en;q=0.9")
	default:
		h.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,image/avif,image/webp,image/apng,*/*;q=0.8")
	}
	return h
}
