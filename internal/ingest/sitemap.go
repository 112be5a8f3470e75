package ingest

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"github.com/FranksOps/newsthumb/internal/placeholder"
	"github.com/FranksOps/newsthumb/internal/scraper"
	"github.com/FranksOps/newsthumb/internal/storage"
)

// SitemapSource discovers article URLs from a publisher's sitemaps.
type SitemapSource struct {
	sitemaps *scraper.SitemapFetcher
	robots   *scraper.RobotsTxtAuditor
	store    Store
	logger   *slog.Logger
	clock    func() time.Time

	// Limit caps the articles stored per Collect call. Zero means no cap.
	Limit int
}

// NewSitemapSource creates a SitemapSource backed by fetcher.
func NewSitemapSource(fetcher *scraper.Fetcher, store Store, logger *slog.Logger) *SitemapSource {
	if logger == nil {
		logger = slog.Default()
	}
	return &SitemapSource{
		sitemaps: scraper.NewSitemapFetcher(fetcher, logger),
		robots:   scraper.NewRobotsTxtAuditor(fetcher, logger),
		store:    store,
		logger:   logger,
		clock:    time.Now,
	}
}

// Discover returns the sitemap URLs for target. A target that already
// names an .xml document is returned as is; otherwise the origin's
// robots.txt Sitemap lines are used, falling back to /sitemap.xml.
func (s *SitemapSource) Discover(ctx context.Context, target string) ([]string, error) {
	if !strings.Contains(target, "://") {
		target = "https://" + target
	}
	u, err := url.Parse(target)
	if err != nil || u.Host == "" {
		return nil, fmt.Errorf("ingest: invalid sitemap target %q", target)
	}
	if strings.HasSuffix(strings.ToLower(u.Path), ".xml") {
		return []string{u.String()}, nil
	}

	origin := u.Scheme + "://" + u.Host
	if found := s.robots.Sitemaps(ctx, origin); len(found) > 0 {
		return found, nil
	}
	return []string{origin + "/sitemap.xml"}, nil
}

// Collect stores every page listed in target's sitemaps as an article
// tagged with keyword. Sitemaps that fail are logged and skipped.
func (s *SitemapSource) Collect(ctx context.Context, target, keyword string) (Summary, error) {
	sum := Summary{Keywords: 1}

	maps, err := s.Discover(ctx, target)
	if err != nil {
		return sum, err
	}

	var fetched int
	for _, sm := range maps {
		entries, err := s.sitemaps.FetchSitemap(ctx, sm)
		if err != nil {
			s.logger.Warn("sitemap skipped", "sitemap", sm, "err", err)
			continue
		}
		fetched++

		for _, e := range entries {
			if s.Limit > 0 && sum.Items >= s.Limit {
				return sum, nil
			}
			if err := ctx.Err(); err != nil {
				return sum, fmt.Errorf("ingest: %w", err)
			}
			sum.Items++

			a := s.article(e, keyword)
			if err := s.store.Save(ctx, a); err != nil {
				s.logger.Error("save article failed", "url", a.URL, "err", err)
				sum.Failed++
				continue
			}
			sum.Saved++
		}
	}

	if fetched == 0 {
		return sum, fmt.Errorf("ingest: no readable sitemap for %s", target)
	}
	s.logger.Info("sitemap collected", "target", target, "items", sum.Items, "saved", sum.Saved)
	return sum, nil
}

func (s *SitemapSource) article(e scraper.SitemapEntry, keyword string) *storage.Article {
	a := &storage.Article{
		URL:         e.URL,
		Source:      placeholder.Domain(e.URL),
		Keyword:     keyword,
		PublishedAt: s.clock().UTC(),
	}
	if e.LastModified != nil {
		a.PublishedAt = e.LastModified.UTC()
	}
	return a
}
