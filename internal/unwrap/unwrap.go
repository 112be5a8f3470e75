// Package unwrap turns aggregator and redirect-wrapped links into the
// publisher URL they point at.
package unwrap

import (
	"context"
	"log/slog"
	"net/url"
	"regexp"
	"strings"

	"github.com/FranksOps/newsthumb/internal/metrics"
	"github.com/FranksOps/newsthumb/internal/scraper"
)

// PageFetcher is the network dependency of the permalink rule.
type PageFetcher interface {
	Fetch(ctx context.Context, rawURL string) *scraper.Result
	Head(ctx context.Context, rawURL string) *scraper.Result
}

// Rule is one unwrap attempt. It returns the rewritten URL and true, or
// false when the pattern does not apply.
type Rule struct {
	Name  string
	Apply func(ctx context.Context, u *url.URL) (string, bool)
}

// Config configures a Normalizer.
type Config struct {
	// AggregatorDomains are hosts whose links never count as a publisher
	// target. Subdomains match too.
	AggregatorDomains []string
	// PermalinkHosts serve opaque article permalinks that can only be
	// resolved over the network.
	PermalinkHosts []string
	// RedirectParams are query parameter names that carry a wrapped target.
	RedirectParams []string
	// MaxDepth bounds repeated unwrapping of nested wrappers.
	MaxDepth int
	Logger   *slog.Logger
}

// DefaultConfig returns settings for Google News style links.
func DefaultConfig() Config {
	return Config{
		AggregatorDomains: []string{"google.com", "news.google.com", "googleusercontent.com"},
		PermalinkHosts:    []string{"news.google.com"},
		RedirectParams:    []string{"url", "u", "q", "target", "dest", "destination", "redirect", "redirect_url", "redirect_uri"},
		MaxDepth:          5,
	}
}

// Normalizer applies an ordered list of rules; the first that matches
// rewrites the URL, and the process repeats on the result until no rule
// matches. A fully unwrapped URL is therefore a fixed point.
type Normalizer struct {
	cfg     Config
	fetcher PageFetcher
	rules   []Rule
	logger  *slog.Logger
}

// New builds a Normalizer. fetcher may be nil, which disables the
// network-backed permalink rule.
func New(cfg Config, fetcher PageFetcher) *Normalizer {
	def := DefaultConfig()
	if len(cfg.AggregatorDomains) == 0 {
		cfg.AggregatorDomains = def.AggregatorDomains
	}
	if len(cfg.PermalinkHosts) == 0 {
		cfg.PermalinkHosts = def.PermalinkHosts
	}
	if len(cfg.RedirectParams) == 0 {
		cfg.RedirectParams = def.RedirectParams
	}
	if cfg.MaxDepth <= 0 {
		cfg.MaxDepth = def.MaxDepth
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	n := &Normalizer{cfg: cfg, fetcher: fetcher, logger: cfg.Logger}
	n.rules = []Rule{
		{Name: "query_param", Apply: n.queryParam},
		{Name: "embedded_url", Apply: n.embeddedURL},
		{Name: "amp_path", Apply: n.ampPath},
	}
	if fetcher != nil {
		n.rules = append(n.rules, Rule{Name: "permalink", Apply: n.permalink})
	}
	return n
}

// Normalize returns the unwrapped target of rawURL, or rawURL itself when
// nothing applies or parsing fails. It never fails.
func (n *Normalizer) Normalize(ctx context.Context, rawURL string) string {
	current := strings.TrimSpace(rawURL)
	if current == "" {
		return rawURL
	}

	for depth := 0; depth < n.cfg.MaxDepth; depth++ {
		u, err := url.Parse(current)
		if err != nil || !isHTTP(u) {
			break
		}

		next, rule, ok := n.step(ctx, u)
		if !ok || next == current {
			break
		}
		n.logger.Debug("unwrapped url", "rule", rule, "from", current, "to", next)
		metrics.UnwrapTotal.WithLabelValues(rule).Inc()
		current = next
	}

	if current == strings.TrimSpace(rawURL) {
		return rawURL
	}
	return current
}

func (n *Normalizer) step(ctx context.Context, u *url.URL) (string, string, bool) {
	for _, r := range n.rules {
		if next, ok := r.Apply(ctx, u); ok {
			return next, r.Name, true
		}
	}
	return "", "", false
}

// queryParam handles redirect endpoints such as google.com/url?url=<target>.
func (n *Normalizer) queryParam(_ context.Context, u *url.URL) (string, bool) {
	q := u.Query()
	for _, name := range n.cfg.RedirectParams {
		for _, v := range q[name] {
			if target, ok := absoluteTarget(v); ok {
				return target, true
			}
		}
	}
	return "", false
}

var embeddedURLPattern = regexp.MustCompile(`(?i)url=(https?(?:://|%3A%2F%2F)[^&"'\s]+)`)

// embeddedURL handles aggregator article-id paths that carry url=<target>
// outside a well-formed query string.
func (n *Normalizer) embeddedURL(_ context.Context, u *url.URL) (string, bool) {
	if !n.isAggregator(u.Hostname()) {
		return "", false
	}
	m := embeddedURLPattern.FindStringSubmatch(u.String())
	if m == nil {
		return "", false
	}
	return absoluteTarget(m[1])
}

// ampPath rewrites https://host/x/amp/story to https://host/story. A
// trailing segment, as in https://host/story/amp/, is dropped instead so
// the article path survives.
func (n *Normalizer) ampPath(_ context.Context, u *url.URL) (string, bool) {
	before, rest, found := strings.Cut(u.EscapedPath(), "/amp/")
	if !found {
		return "", false
	}
	if rest == "" {
		if before == "" {
			return "", false
		}
		return u.Scheme + "://" + u.Host + before + "/", true
	}
	return u.Scheme + "://" + u.Host + "/" + rest, true
}

// permalink resolves opaque aggregator permalinks by visiting them.
func (n *Normalizer) permalink(ctx context.Context, u *url.URL) (string, bool) {
	if !n.isPermalink(u) {
		return "", false
	}
	raw := u.String()

	for _, attempt := range []func(context.Context, string) (string, bool){
		n.followGet,
		n.followHead,
	} {
		if target, ok := attempt(ctx, raw); ok {
			return target, true
		}
	}
	return "", false
}

func (n *Normalizer) followGet(ctx context.Context, raw string) (string, bool) {
	res := n.fetcher.Fetch(ctx, raw)
	if !res.OK() {
		n.logger.Debug("permalink fetch failed", "url", raw, "reason", res.Failure)
		return "", false
	}

	if n.leavesAggregator(res.FinalURL) {
		return res.FinalURL, true
	}

	base := res.FinalURL
	if base == "" {
		base = raw
	}
	page, err := parsePage(res.HTML(), base)
	if err != nil {
		return "", false
	}
	for _, find := range []func() []string{page.anchors, page.canonicals} {
		for _, link := range find() {
			if n.leavesAggregator(link) {
				return link, true
			}
		}
	}
	return "", false
}

func (n *Normalizer) followHead(ctx context.Context, raw string) (string, bool) {
	res := n.fetcher.Head(ctx, raw)
	if !res.OK() || !n.leavesAggregator(res.FinalURL) {
		return "", false
	}
	return res.FinalURL, true
}

func (n *Normalizer) isAggregator(host string) bool {
	return matchesDomain(host, n.cfg.AggregatorDomains)
}

func (n *Normalizer) isPermalink(u *url.URL) bool {
	if !matchesDomain(u.Hostname(), n.cfg.PermalinkHosts) {
		return false
	}
	return strings.Contains(u.Path, "/articles/")
}

func (n *Normalizer) leavesAggregator(raw string) bool {
	if raw == "" {
		return false
	}
	u, err := url.Parse(raw)
	if err != nil || !isHTTP(u) {
		return false
	}
	return !n.isAggregator(u.Hostname())
}

func matchesDomain(host string, domains []string) bool {
	host = strings.ToLower(host)
	for _, d := range domains {
		d = strings.ToLower(d)
		if host == d || strings.HasSuffix(host, "."+d) {
			return true
		}
	}
	return false
}

func isHTTP(u *url.URL) bool {
	return (u.Scheme == "http" || u.Scheme == "https") && u.Host != ""
}

// absoluteTarget accepts v if it is, or percent-decodes to, an absolute
// http(s) URL.
func absoluteTarget(v string) (string, bool) {
	v = strings.TrimSpace(v)
	if !strings.HasPrefix(strings.ToLower(v), "http") {
		return "", false
	}
	if u, err := url.Parse(v); err == nil && isHTTP(u) {
		return v, true
	}
	dec, err := url.QueryUnescape(v)
	if err != nil {
		return "", false
	}
	if u, err := url.Parse(dec); err == nil && isHTTP(u) {
		return dec, true
	}
	return "", false
}
