// Package ingest collects articles from the news search feed and from
// publisher sitemaps into the article store.
package ingest

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"github.com/mmcdole/gofeed"

	"github.com/FranksOps/newsthumb/internal/scraper"
	"github.com/FranksOps/newsthumb/internal/storage"
	"github.com/FranksOps/newsthumb/internal/thumbnail"
)

// QueryMarker is replaced by the escaped search term in a feed template.
const QueryMarker = "{query}"

// DefaultFeedURL is the news search feed template.
const DefaultFeedURL = "https://news.google.com/rss/search?q=" + QueryMarker + "&hl=en-US&gl=US&ceid=US:en"

// Fetcher is satisfied by *scraper.Fetcher.
type Fetcher interface {
	Fetch(ctx context.Context, rawURL string) *scraper.Result
}

// Store is the part of storage.Backend collection writes to.
type Store interface {
	Save(ctx context.Context, a *storage.Article) error
}

// Resolver is satisfied by *thumbnail.Resolver.
type Resolver interface {
	Unwrap(ctx context.Context, rawURL string) string
	ResolveThumbnail(ctx context.Context, rawURL string) thumbnail.Image
}

// Config tunes a Collector.
type Config struct {
	FeedURL       string
	MaxPerKeyword int
	KeywordDelay  time.Duration
	// ResolveImages resolves a thumbnail for every collected article
	// before it is saved. Otherwise images are left to refresh.
	ResolveImages bool
	Logger        *slog.Logger
	Clock         func() time.Time
}

// Summary reports one collection run.
type Summary struct {
	Keywords int `json:"keywords"`
	Items    int `json:"items"`
	Saved    int `json:"saved"`
	Failed   int `json:"failed"`
}

func (s *Summary) add(o Summary) {
	s.Keywords += o.Keywords
	s.Items += o.Items
	s.Saved += o.Saved
	s.Failed += o.Failed
}

// Collector pulls feed items per keyword and stores them as articles.
type Collector struct {
	fetcher  Fetcher
	resolver Resolver
	store    Store
	parser   *gofeed.Parser
	cfg      Config
	logger   *slog.Logger
}

// NewCollector creates a Collector.
func NewCollector(fetcher Fetcher, resolver Resolver, store Store, cfg Config) *Collector {
	if cfg.FeedURL == "" {
		cfg.FeedURL = DefaultFeedURL
	}
	if cfg.MaxPerKeyword <= 0 {
		cfg.MaxPerKeyword = 25
	}
	if cfg.KeywordDelay < 0 {
		cfg.KeywordDelay = 0
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Clock == nil {
		cfg.Clock = time.Now
	}
	return &Collector{
		fetcher:  fetcher,
		resolver: resolver,
		store:    store,
		parser:   gofeed.NewParser(),
		cfg:      cfg,
		logger:   cfg.Logger,
	}
}

// Collect fetches the feed for each active keyword in turn, pausing
// KeywordDelay between keywords. A keyword whose feed cannot be fetched is
// logged and skipped; the error is non-nil only when ctx ends the run.
func (c *Collector) Collect(ctx context.Context, keywords []Keyword) (Summary, error) {
	var sum Summary
	active := Active(keywords)

	for i, kw := range active {
		if i > 0 && c.cfg.KeywordDelay > 0 {
			select {
			case <-ctx.Done():
				return sum, fmt.Errorf("ingest: %w", ctx.Err())
			case <-time.After(c.cfg.KeywordDelay):
			}
		}
		if err := ctx.Err(); err != nil {
			return sum, fmt.Errorf("ingest: %w", err)
		}

		s, err := c.CollectKeyword(ctx, kw)
		sum.add(s)
		if err != nil {
			c.logger.Warn("keyword collection failed", "keyword", kw.Query(), "err", err)
			continue
		}
		c.logger.Info("keyword collected", "keyword", kw.Query(), "items", s.Items, "saved", s.Saved)
	}

	c.logger.Info("collection finished", "keywords", sum.Keywords, "items", sum.Items, "saved", sum.Saved, "failed", sum.Failed)
	return sum, nil
}

// CollectKeyword fetches and stores the feed items for one keyword.
func (c *Collector) CollectKeyword(ctx context.Context, kw Keyword) (Summary, error) {
	sum := Summary{Keywords: 1}
	feedURL := FeedURL(c.cfg.FeedURL, kw.Query())

	res := c.fetcher.Fetch(ctx, feedURL)
	if !res.OK() {
		return sum, fmt.Errorf("ingest: fetch feed %s: %w", feedURL, res.Failure)
	}

	feed, err := c.parser.Parse(bytes.NewReader(res.Body))
	if err != nil {
		return sum, fmt.Errorf("ingest: parse feed %s: %w", feedURL, err)
	}

	items := feed.Items
	if len(items) > c.cfg.MaxPerKeyword {
		items = items[:c.cfg.MaxPerKeyword]
	}

	for _, item := range items {
		if ctx.Err() != nil {
			break
		}
		if item.Link == "" {
			continue
		}
		sum.Items++

		a := c.article(ctx, item, kw)
		if err := c.store.Save(ctx, a); err != nil {
			c.logger.Error("save article failed", "url", a.URL, "err", err)
			sum.Failed++
			continue
		}
		sum.Saved++
	}
	return sum, nil
}

func (c *Collector) article(ctx context.Context, item *gofeed.Item, kw Keyword) *storage.Article {
	now := c.cfg.Clock().UTC()
	title, source := SplitTitle(item.Title)

	a := &storage.Article{
		URL:         item.Link,
		Title:       title,
		Source:      source,
		Keyword:     kw.Query(),
		PublishedAt: now,
	}
	if item.PublishedParsed != nil {
		a.PublishedAt = item.PublishedParsed.UTC()
	}

	if c.resolver == nil {
		return a
	}
	if target := c.resolver.Unwrap(ctx, item.Link); target != item.Link {
		c.logger.Debug("unwrapped feed link", "from", item.Link, "to", target)
		a.URL = target
	}
	if c.cfg.ResolveImages {
		img := c.resolver.ResolveThumbnail(ctx, a.URL)
		a.ImageURL = img.Src()
		a.ImageKind = string(img.Kind)
		a.ImageUpdatedAt = now
	}
	return a
}

// FeedURL replaces every QueryMarker in template with the query-escaped
// search term. The rest of the template is used verbatim.
func FeedURL(template, query string) string {
	return strings.ReplaceAll(template, QueryMarker, url.QueryEscape(query))
}

// SplitTitle splits a feed title of the form "Headline - Publisher".
// Titles without the suffix report "Unknown Source".
func SplitTitle(title string) (headline, source string) {
	title = strings.TrimSpace(title)
	i := strings.LastIndex(title, " - ")
	if i <= 0 || i+3 >= len(title) {
		return title, "Unknown Source"
	}
	return strings.TrimSpace(title[:i]), strings.TrimSpace(title[i+3:])
}
