package scraper

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/oxffaa/gopher-parse-sitemap"
)

const maxSitemapDepth = 3

// SitemapEntry is one <url> of a sitemap.
type SitemapEntry struct {
	URL          string
	LastModified *time.Time
}

// SitemapFetcher discovers article URLs from sitemaps and sitemap indexes.
type SitemapFetcher struct {
	fetcher *Fetcher
	logger  *slog.Logger
}

// NewSitemapFetcher initializes a new SitemapFetcher.
func NewSitemapFetcher(fetcher *Fetcher, logger *slog.Logger) *SitemapFetcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &SitemapFetcher{
		fetcher: fetcher,
		logger:  logger,
	}
}

// FetchSitemap fetches a sitemap or sitemap index and returns its entries,
// following nested indexes up to a fixed depth. Duplicate locations are
// reported once.
func (s *SitemapFetcher) FetchSitemap(ctx context.Context, sitemapURL string) ([]SitemapEntry, error) {
	seen := make(map[string]struct{})
	return s.fetch(ctx, sitemapURL, 0, seen)
}

func (s *SitemapFetcher) fetch(ctx context.Context, sitemapURL string, depth int, seen map[string]struct{}) ([]SitemapEntry, error) {
	s.logger.Debug("fetching sitemap", "url", sitemapURL, "depth", depth)

	result := s.fetcher.Fetch(ctx, sitemapURL)
	if !result.OK() {
		return nil, fmt.Errorf("sitemap: fetch %s: %w", sitemapURL, result.Failure)
	}

	var entries []SitemapEntry
	err := sitemap.Parse(bytes.NewReader(result.Body), func(e sitemap.Entry) error {
		loc := e.GetLocation()
		if _, dup := seen[loc]; dup || loc == "" {
			return nil
		}
		seen[loc] = struct{}{}
		entries = append(entries, SitemapEntry{URL: loc, LastModified: e.GetLastModified()})
		return nil
	})
	if err == nil && len(entries) > 0 {
		return entries, nil
	}

	var nested []string
	indexErr := sitemap.ParseIndex(bytes.NewReader(result.Body), func(e sitemap.IndexEntry) error {
		nested = append(nested, e.GetLocation())
		return nil
	})
	if indexErr != nil || len(nested) == 0 {
		if err != nil {
			return nil, fmt.Errorf("sitemap: parse %s: %w", sitemapURL, err)
		}
		return nil, fmt.Errorf("sitemap: %s: no entries", sitemapURL)
	}

	if depth >= maxSitemapDepth {
		s.logger.Warn("sitemap index nesting too deep", "url", sitemapURL)
		return entries, nil
	}

	for _, nestedURL := range nested {
		nestedEntries, fetchErr := s.fetch(ctx, nestedURL, depth+1, seen)
		if fetchErr != nil {
			s.logger.Warn("failed to fetch nested sitemap", "url", nestedURL, "err", fetchErr)
			continue
		}
		entries = append(entries, nestedEntries...)
	}
	return entries, nil
}
