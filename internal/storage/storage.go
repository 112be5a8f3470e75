package storage

import (
	"cmp"
	"context"
	"errors"
	"net/url"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"
)

// ErrNotFound is returned when an article ID does not exist.
var ErrNotFound = errors.New("storage: not found")

// Image kinds recorded on an article.
const (
	ImageReal      = "real"
	ImageSynthetic = "synthetic"
)

// Article is a collected news item and its resolved thumbnail.
type Article struct {
	ID             string    `json:"id"`
	URL            string    `json:"url"`
	Title          string    `json:"title"`
	Source         string    `json:"source"`
	Keyword        string    `json:"keyword"`
	PublishedAt    time.Time `json:"published_at"`
	CollectedAt    time.Time `json:"collected_at"`
	ImageURL       string    `json:"image_url"`
	ImageKind      string    `json:"image_kind"`
	ImageUpdatedAt time.Time `json:"image_updated_at"`
}

// Filter allows querying for specific Articles.
type Filter struct {
	URL     string
	Keyword string
	// NeedsImage selects articles whose thumbnail should be (re)resolved.
	NeedsImage bool
	Since      *time.Time
	Limit      int
	Offset     int
}

// Backend defines the interface for storing and querying articles.
type Backend interface {
	// Save inserts a or, when an article with the same URL exists, updates
	// it in place. a.ID is set to the stored ID.
	Save(ctx context.Context, a *Article) error
	// Update rewrites the article with a.ID, including its URL.
	Update(ctx context.Context, a *Article) error
	Get(ctx context.Context, id string) (*Article, error)
	Query(ctx context.Context, filter Filter) ([]*Article, error)
	Close() error
}

// Prepare assigns an ID and collection time to a new article.
func (a *Article) Prepare(now time.Time) {
	if a.ID == "" {
		a.ID = uuid.NewString()
	}
	if a.CollectedAt.IsZero() {
		a.CollectedAt = now.UTC()
	}
}

// Merge folds an incoming Save into the stored article with the same URL.
// The stored ID and CollectedAt are kept, and the image fields only change
// when incoming carries an image, so re-collecting an article never
// discards its thumbnail.
func Merge(stored, incoming *Article) *Article {
	out := *incoming
	out.ID = stored.ID
	out.CollectedAt = stored.CollectedAt
	if incoming.ImageURL == "" {
		out.ImageURL = stored.ImageURL
		out.ImageKind = stored.ImageKind
		out.ImageUpdatedAt = stored.ImageUpdatedAt
	}
	return &out
}

// Markers of a thumbnail that should be replaced.
const (
	placeholderIconPath = "news.google.com/img/icons/"
	svgDataPrefix       = "data:image/svg"
	aggregatorHost      = "news.google.com"
)

// NeedsImageSQL is the WHERE fragment equivalent to NeedsImage for the SQL
// backends. It uses only portable LIKE syntax.
const NeedsImageSQL = `(image_url = '' OR image_url LIKE '%` + placeholderIconPath + `%' OR image_url LIKE '` + svgDataPrefix + `%' OR url LIKE '%://` + aggregatorHost + `/%')`

// NeedsImage reports whether a's thumbnail is missing, a known placeholder
// icon, a synthesized SVG, or was resolved against an unwrapped aggregator
// link.
func NeedsImage(a *Article) bool {
	img := strings.TrimSpace(a.ImageURL)
	switch {
	case img == "":
		return true
	case strings.Contains(img, placeholderIconPath):
		return true
	case strings.HasPrefix(img, svgDataPrefix):
		return true
	}
	if u, err := url.Parse(a.URL); err == nil && strings.EqualFold(u.Hostname(), aggregatorHost) {
		return true
	}
	return false
}

// Match reports whether a passes every set field of f except paging.
func (f Filter) Match(a *Article) bool {
	if f.URL != "" && a.URL != f.URL {
		return false
	}
	if f.Keyword != "" && a.Keyword != f.Keyword {
		return false
	}
	if f.NeedsImage && !NeedsImage(a) {
		return false
	}
	if f.Since != nil && a.CollectedAt.Before(*f.Since) {
		return false
	}
	return true
}

// Apply filters, orders newest-collected first and pages articles in
// memory, for backends without a query engine.
func (f Filter) Apply(articles []*Article) []*Article {
	out := make([]*Article, 0, len(articles))
	for _, a := range articles {
		if f.Match(a) {
			out = append(out, a)
		}
	}

	slices.SortStableFunc(out, func(a, b *Article) int {
		if c := b.CollectedAt.Compare(a.CollectedAt); c != 0 {
			return c
		}
		return cmp.Compare(a.ID, b.ID)
	})

	if f.Offset > 0 {
		if f.Offset >= len(out) {
			return []*Article{}
		}
		out = out[f.Offset:]
	}
	if f.Limit > 0 && f.Limit < len(out) {
		out = out[:f.Limit]
	}
	return out
}
