package ingest

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/FranksOps/newsthumb/internal/fingerprint"
	"github.com/FranksOps/newsthumb/internal/scraper"
	"github.com/FranksOps/newsthumb/internal/storage"
	"github.com/FranksOps/newsthumb/internal/thumbnail"
)

type memStore struct {
	mu      sync.Mutex
	index   *storage.Index
	failURL string
}

func newMemStore() *memStore {
	return &memStore{index: storage.NewIndex()}
}

func (s *memStore) Save(_ context.Context, a *storage.Article) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if a.URL == s.failURL {
		return errors.New("constraint violation")
	}
	a.Prepare(time.Now())
	rec := s.index.Upsert(a)
	a.ID = rec.ID
	return nil
}

func (s *memStore) byURL(u string) *storage.Article {
	s.mu.Lock()
	defer s.mu.Unlock()
	got := storage.Filter{URL: u}.Apply(s.index.All())
	if len(got) == 0 {
		return nil
	}
	return got[0]
}

type fakeResolver struct{}

func (fakeResolver) Unwrap(_ context.Context, raw string) string {
	if strings.Contains(raw, "/rss/articles/") {
		return "https://pub.example/" + raw[strings.LastIndex(raw, "/")+1:]
	}
	return raw
}

func (fakeResolver) ResolveThumbnail(_ context.Context, raw string) thumbnail.Image {
	return thumbnail.Image{Kind: thumbnail.KindReal, URL: raw + ".jpg"}
}

func newTestFetcher(t *testing.T) *scraper.Fetcher {
	t.Helper()
	f, err := scraper.NewFetcher(scraper.FetchConfig{Timeout: 5 * time.Second, Fingerprint: fingerprint.ProfileGo})
	if err != nil {
		t.Fatalf("NewFetcher: %v", err)
	}
	return f
}

func rssFeed(n int) string {
	var b strings.Builder
	b.WriteString(`<?xml version="1.0" encoding="UTF-8"?><rss version="2.0"><channel><title>search</title>`)
	for i := 0; i < n; i++ {
		fmt.Fprintf(&b, `<item><title>Story %d - Daily Wire</title><link>https://news.google.com/rss/articles/s%d</link><pubDate>Mon, 03 Jun 2024 10:00:00 GMT</pubDate></item>`, i, i)
	}
	b.WriteString(`</channel></rss>`)
	return b.String()
}

func TestSplitTitle(t *testing.T) {
	tests := []struct {
		in, headline, source string
	}{
		{"Shops go live - The Verge", "Shops go live", "The Verge"},
		{"A - B - Reuters", "A - B", "Reuters"},
		{"No publisher here", "No publisher here", "Unknown Source"},
		{"Trailing - ", "Trailing -", "Unknown Source"},
	}
	for _, tt := range tests {
		h, s := SplitTitle(tt.in)
		if h != tt.headline || s != tt.source {
			t.Errorf("SplitTitle(%q) = %q, %q; want %q, %q", tt.in, h, s, tt.headline, tt.source)
		}
	}
}

func TestFeedURL(t *testing.T) {
	got := FeedURL(DefaultFeedURL, "TikTok Shop")
	want := "https://news.google.com/rss/search?q=TikTok+Shop&hl=en-US&gl=US&ceid=US:en"
	if got != want {
		t.Errorf("FeedURL = %q, want %q", got, want)
	}

	got = FeedURL("https://feeds.example.com/search?topic=top%20stories&q={query}&pct=100%", "50% off")
	want = "https://feeds.example.com/search?topic=top%20stories&q=50%25+off&pct=100%"
	if got != want {
		t.Errorf("FeedURL with literal percent = %q, want %q", got, want)
	}
}

func TestCollector_Collect(t *testing.T) {
	var mu sync.Mutex
	var queries []string
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		queries = append(queries, r.URL.Query().Get("q"))
		mu.Unlock()
		if r.URL.Query().Get("q") == "broken" {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "application/rss+xml")
		fmt.Fprint(w, rssFeed(30))
	}))
	defer ts.Close()

	store := newMemStore()
	store.failURL = "https://pub.example/s3"
	c := NewCollector(newTestFetcher(t), fakeResolver{}, store, Config{
		FeedURL:       ts.URL + "/rss/search?q={query}",
		ResolveImages: true,
	})

	keywords := []Keyword{
		{Name: "tiktok_shop", DisplayName: "TikTok Shop", Active: true},
		{Name: "broken", Active: true},
		{Name: "idle", DisplayName: "Idle", Active: false},
	}
	sum, err := c.Collect(context.Background(), keywords)
	if err != nil {
		t.Fatalf("Collect: %v", err)
	}

	if sum.Keywords != 2 || sum.Items != 25 || sum.Saved != 24 || sum.Failed != 1 {
		t.Errorf("unexpected summary %+v", sum)
	}
	if len(queries) != 2 || queries[0] != "TikTok Shop" {
		t.Errorf("expected two feed queries, got %v", queries)
	}

	a := store.byURL("https://pub.example/s0")
	if a == nil {
		t.Fatalf("expected unwrapped article to be stored")
	}
	if a.Title != "Story 0" || a.Source != "Daily Wire" || a.Keyword != "TikTok Shop" {
		t.Errorf("unexpected article %+v", a)
	}
	if a.PublishedAt.Year() != 2024 || a.ImageURL != "https://pub.example/s0.jpg" || a.ImageKind != storage.ImageReal {
		t.Errorf("expected parsed date and resolved image, got %+v", a)
	}
}

func TestCollector_KeywordDelayHonorsContext(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, rssFeed(1))
	}))
	defer ts.Close()

	c := NewCollector(newTestFetcher(t), nil, newMemStore(), Config{
		FeedURL:      ts.URL + "/?q={query}",
		KeywordDelay: time.Hour,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()

	start := time.Now()
	sum, err := c.Collect(ctx, []Keyword{{Name: "a", Active: true}, {Name: "b", Active: true}})
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("expected deadline error, got %v", err)
	}
	if sum.Keywords != 1 {
		t.Errorf("expected only the first keyword to run, got %+v", sum)
	}
	if time.Since(start) > 5*time.Second {
		t.Errorf("expected delay to be cut short by context")
	}
}

func TestLoadKeywords(t *testing.T) {
	path := filepath.Join(t.TempDir(), "keywords.yaml")
	content := `keywords:
  - name: social_commerce
    display_name: Social Commerce
  - name: live_shopping
    active: false
  - name: group_buying
    active: true
`
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("write: %v", err)
	}

	got, err := LoadKeywords(path)
	if err != nil {
		t.Fatalf("LoadKeywords: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("expected 3 keywords, got %d", len(got))
	}
	if !got[0].Active || got[1].Active || !got[2].Active {
		t.Errorf("unexpected active flags %+v", got)
	}
	if got[2].Query() != "group buying" {
		t.Errorf("expected query from name, got %q", got[2].Query())
	}
	if n := len(Active(got)); n != 2 {
		t.Errorf("expected 2 active keywords, got %d", n)
	}

	if def, err := LoadKeywords(""); err != nil || len(def) == 0 {
		t.Errorf("expected default keywords, got %d (%v)", len(def), err)
	}

	bad := filepath.Join(t.TempDir(), "bad.yaml")
	if err := os.WriteFile(bad, []byte("keywords:\n  - active: true\n"), 0644); err != nil {
		t.Fatalf("write: %v", err)
	}
	if _, err := LoadKeywords(bad); err == nil {
		t.Errorf("expected error for unnamed keyword")
	}
	if _, err := LoadKeywords(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Errorf("expected error for missing file")
	}
}

func TestSitemapSource_Collect(t *testing.T) {
	var ts *httptest.Server
	ts = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/robots.txt":
			fmt.Fprintf(w, "User-agent: *\nAllow: /\nSitemap: %s/news-sitemap.xml\n", ts.URL)
		case "/news-sitemap.xml":
			w.Header().Set("Content-Type", "application/xml")
			fmt.Fprintf(w, `<?xml version="1.0" encoding="UTF-8"?>
<urlset xmlns="http://www.sitemaps.org/schemas/sitemap/0.9">
  <url><loc>%[1]s/2024/06/a</loc><lastmod>2024-06-01T10:00:00Z</lastmod></url>
  <url><loc>%[1]s/2024/06/b</loc></url>
  <url><loc>%[1]s/2024/06/c</loc></url>
</urlset>`, ts.URL)
		default:
			http.NotFound(w, r)
		}
	}))
	defer ts.Close()

	store := newMemStore()
	src := NewSitemapSource(newTestFetcher(t), store, nil)
	src.Limit = 2

	maps, err := src.Discover(context.Background(), ts.URL)
	if err != nil || len(maps) != 1 || maps[0] != ts.URL+"/news-sitemap.xml" {
		t.Fatalf("expected robots sitemap, got %v (%v)", maps, err)
	}

	sum, err := src.Collect(context.Background(), ts.URL, "publisher")
	if err != nil {
		t.Fatalf("Collect: %v", err)
	}
	if sum.Items != 2 || sum.Saved != 2 {
		t.Errorf("expected limit of 2, got %+v", sum)
	}

	a := store.byURL(ts.URL + "/2024/06/a")
	if a == nil {
		t.Fatalf("expected sitemap article")
	}
	if a.Keyword != "publisher" || a.Source != "127.0.0.1" || a.PublishedAt.Day() != 1 {
		t.Errorf("unexpected article %+v", a)
	}
}

func TestSitemapSource_Discover(t *testing.T) {
	ts := httptest.NewServer(http.NotFoundHandler())
	defer ts.Close()

	src := NewSitemapSource(newTestFetcher(t), newMemStore(), nil)

	got, err := src.Discover(context.Background(), ts.URL+"/section/news")
	if err != nil || len(got) != 1 || got[0] != ts.URL+"/sitemap.xml" {
		t.Errorf("expected /sitemap.xml fallback, got %v (%v)", got, err)
	}

	got, err = src.Discover(context.Background(), "https://pub.example/feeds/sitemap-news.xml")
	if err != nil || got[0] != "https://pub.example/feeds/sitemap-news.xml" {
		t.Errorf("expected explicit sitemap kept, got %v (%v)", got, err)
	}

	if _, err := src.Collect(context.Background(), ts.URL, ""); err == nil {
		t.Errorf("expected error when no sitemap is readable")
	}
}
