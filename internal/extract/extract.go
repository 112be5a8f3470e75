// Package extract finds a representative image in an article page by
// running an ordered list of heuristic strategies over the document. The
// first strategy that yields an acceptable candidate wins; results from
// different strategies are never mixed.
package extract

import (
	"log/slog"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// Stage names the strategy that produced a candidate.
type Stage string

const (
	StageStructuredData Stage = "structured_data"
	StageMicrodata      Stage = "microdata"
	StagePicture        Stage = "picture"
	StageSocialMeta     Stage = "social_meta"
	StageSelectors      Stage = "selectors"
	StageLargestImage   Stage = "largest_image"
	StageFirstImage     Stage = "first_image"
)

// Candidate is an accepted image. URL is always absolute http(s).
type Candidate struct {
	URL   string
	Stage Stage
	// Area is the estimated pixel area, when the stage measured one.
	Area int
}

// Strategy inspects a page and returns its best acceptable candidate.
type Strategy func(p *Page) (Candidate, bool)

// Filters are the acceptance rules shared by every strategy.
type Filters struct {
	// PlaceholderPatterns mark generic aggregator artwork; a matching URL is
	// never accepted by any stage.
	PlaceholderPatterns []string
	// DecorativeTokens mark navigation chrome and tracking images in the
	// document-scanning stages. A source containing any token is rejected.
	DecorativeTokens []string
	// DecorativeExceptions are ordinary words that happen to contain a
	// token ("silicon" holds "icon"). They are removed before matching.
	DecorativeExceptions []string
	// MinArea is the smallest width*height the largest-image stage accepts.
	MinArea int
}

// DefaultFilters returns the stock acceptance rules.
func DefaultFilters() Filters {
	return Filters{
		PlaceholderPatterns: []string{"news.google.com/img/icons/"},
		DecorativeTokens: []string{
			"logo", "icon", "favicon", "avatar", "spinner", "loader",
			"pixel", "tracking", "spacer", "banner", "advertisement", "ad-", "sprite",
		},
		DecorativeExceptions: []string{"silicon", "lexicon"},
		MinArea: 200 * 200,
	}
}

// Page is a parsed document plus the URL it was served from.
type Page struct {
	Doc     *goquery.Document
	HTML    string
	Base    *url.URL
	filters Filters
}

// Cascade runs strategies in order.
type Cascade struct {
	strategies []Strategy
	filters    Filters
	logger     *slog.Logger
}

// DefaultStrategies returns the standard stage order.
func DefaultStrategies() []Strategy {
	return []Strategy{
		StructuredData,
		Microdata,
		Picture,
		SocialMeta,
		Selectors,
		LargestImage,
		FirstImage,
	}
}

// New builds a Cascade. A nil strategies slice selects DefaultStrategies.
func New(filters Filters, strategies []Strategy, logger *slog.Logger) *Cascade {
	if strategies == nil {
		strategies = DefaultStrategies()
	}
	if filters.MinArea <= 0 {
		filters.MinArea = DefaultFilters().MinArea
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Cascade{strategies: strategies, filters: filters, logger: logger}
}

// Default returns a Cascade with the stock filters and strategies.
func Default() *Cascade {
	return New(DefaultFilters(), nil, nil)
}

// Extract parses html served from baseURL and returns the first accepted
// candidate. It returns false, not an error, when nothing qualifies or the
// input cannot be parsed.
func (c *Cascade) Extract(html, baseURL string) (Candidate, bool) {
	p, err := c.NewPage(html, baseURL)
	if err != nil {
		c.logger.Debug("extract: unusable page", "url", baseURL, "err", err)
		return Candidate{}, false
	}
	return c.ExtractPage(p)
}

// NewPage parses html bound to this cascade's filters.
func (c *Cascade) NewPage(html, baseURL string) (*Page, error) {
	base, err := url.Parse(baseURL)
	if err != nil {
		return nil, err
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil, err
	}
	return &Page{Doc: doc, HTML: html, Base: base, filters: c.filters}, nil
}

// ExtractPage runs the strategies over an already parsed page.
func (c *Cascade) ExtractPage(p *Page) (Candidate, bool) {
	for _, s := range c.strategies {
		if cand, ok := s(p); ok {
			c.logger.Debug("extract: candidate accepted", "url", p.Base.String(), "stage", cand.Stage, "image", cand.URL)
			return cand, true
		}
	}
	return Candidate{}, false
}

// Absolutize qualifies src against base: "//host/x" gets https:, "/x" gets
// base's scheme and host. Anything that is not then an http(s) URL is
// rejected.
func Absolutize(src string, base *url.URL) (string, bool) {
	src = strings.TrimSpace(src)
	switch {
	case strings.HasPrefix(src, "//"):
		src = "https:" + src
	case strings.HasPrefix(src, "/"):
		if base == nil || base.Host == "" || (base.Scheme != "http" && base.Scheme != "https") {
			return "", false
		}
		src = base.Scheme + "://" + base.Host + src
	}

	lower := strings.ToLower(src)
	if !strings.HasPrefix(lower, "http://") && !strings.HasPrefix(lower, "https://") {
		return "", false
	}
	u, err := url.Parse(src)
	if err != nil || u.Host == "" {
		return "", false
	}
	return src, true
}

// IsPlaceholder reports whether src is empty or matches a placeholder pattern.
func (f Filters) IsPlaceholder(src string) bool {
	if strings.TrimSpace(src) == "" {
		return true
	}
	lower := strings.ToLower(src)
	for _, p := range f.PlaceholderPatterns {
		if strings.Contains(lower, strings.ToLower(p)) {
			return true
		}
	}
	return false
}

// IsDecorative reports whether src contains a decorative token.
func (f Filters) IsDecorative(src string) bool {
	lower := strings.ToLower(src)
	for _, w := range f.DecorativeExceptions {
		lower = strings.ReplaceAll(lower, strings.ToLower(w), " ")
	}
	for _, tok := range f.DecorativeTokens {
		if strings.Contains(lower, tok) {
			return true
		}
	}
	return false
}

// accept absolutizes src and applies the placeholder filter.
func (p *Page) accept(src string) (string, bool) {
	abs, ok := Absolutize(src, p.Base)
	if !ok || p.filters.IsPlaceholder(abs) {
		return "", false
	}
	return abs, true
}

// acceptAbsolute accepts src only if it is already a fully qualified URL.
func (p *Page) acceptAbsolute(src string) (string, bool) {
	src = strings.TrimSpace(src)
	lower := strings.ToLower(src)
	if !strings.HasPrefix(lower, "http://") && !strings.HasPrefix(lower, "https://") {
		return "", false
	}
	return p.accept(src)
}

// acceptScanned additionally rejects decorative images.
func (p *Page) acceptScanned(src string) (string, bool) {
	if p.filters.IsDecorative(src) {
		return "", false
	}
	return p.accept(src)
}
