package unwrap

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/FranksOps/newsthumb/internal/fingerprint"
	"github.com/FranksOps/newsthumb/internal/scraper"
)

// stubFetcher serves canned results keyed by URL and records every call.
type stubFetcher struct {
	get   map[string]*scraper.Result
	head  map[string]*scraper.Result
	calls []string
}

func (s *stubFetcher) Fetch(_ context.Context, rawURL string) *scraper.Result {
	s.calls = append(s.calls, "GET "+rawURL)
	if r, ok := s.get[rawURL]; ok {
		return r
	}
	return &scraper.Result{URL: rawURL, Failure: &scraper.Failure{Reason: scraper.FailureTransport}}
}

func (s *stubFetcher) Head(_ context.Context, rawURL string) *scraper.Result {
	s.calls = append(s.calls, "HEAD "+rawURL)
	if r, ok := s.head[rawURL]; ok {
		return r
	}
	return &scraper.Result{URL: rawURL, Failure: &scraper.Failure{Reason: scraper.FailureTransport}}
}

func TestNormalize_PureRules(t *testing.T) {
	n := New(Config{}, nil)
	ctx := context.Background()

	tests := []struct {
		name string
		in   string
		want string
	}{
		{"google url param", "https://news.google.com/url?sa=t&url=https%3A%2F%2Fsite.test%2Fa", "https://site.test/a"},
		{"google.com/url q param", "https://www.google.com/url?q=https://pub.example/story&sa=D", "https://pub.example/story"},
		{"double encoded", "https://www.google.com/url?url=https%253A%252F%252Fsite.test%252Fb", "https://site.test/b"},
		{"non-url param ignored", "https://pub.example/story?ref=homepage", "https://pub.example/story?ref=homepage"},
		{"embedded in article path", "https://news.google.com/__i/rss/rd/articles/CBMi;url=https%3A%2F%2Fsite.test%2Fc", "https://site.test/c"},
		{"amp segment", "https://pub.example/news/amp/2024/story-slug", "https://pub.example/2024/story-slug"},
		{"trailing amp segment", "https://pub.example/2024/story-slug/amp/", "https://pub.example/2024/story-slug/"},
		{"bare amp path", "https://pub.example/amp/", "https://pub.example/amp/"},
		{"amp nested wrapper", "https://www.google.com/url?url=https%3A%2F%2Fpub.example%2Famp%2Fstory", "https://pub.example/story"},
		{"plain", "https://pub.example/2024/story", "https://pub.example/2024/story"},
		{"unparsable", "://bad url", "://bad url"},
		{"not http", "mailto:news@pub.example", "mailto:news@pub.example"},
		{"empty", "", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := n.Normalize(ctx, tt.in)
			if got != tt.want {
				t.Errorf("Normalize(%q) = %q, want %q", tt.in, got, tt.want)
			}
			if again := n.Normalize(ctx, got); again != got {
				t.Errorf("Normalize not idempotent: %q -> %q", got, again)
			}
		})
	}
}

func TestNormalize_PermalinkFinalURL(t *testing.T) {
	permalink := "https://news.google.com/rss/articles/CBMiabc?oc=5"
	f := &stubFetcher{get: map[string]*scraper.Result{
		permalink: {URL: permalink, FinalURL: "https://pub.example/story", Body: []byte("<html></html>")},
	}}

	got := New(Config{}, f).Normalize(context.Background(), permalink)
	if got != "https://pub.example/story" {
		t.Errorf("expected redirect target, got %q", got)
	}
}

func TestNormalize_PermalinkAnchor(t *testing.T) {
	permalink := "https://news.google.com/articles/CBMixyz"
	html := `<html><head><link rel="canonical" href="https://canonical.example/story"></head>
<body><a href="./topics">topics</a><a href="https://support.google.com/help">help</a>
<a href="https://pub.example/first">story</a></body></html>`
	f := &stubFetcher{get: map[string]*scraper.Result{
		permalink: {URL: permalink, FinalURL: permalink, Body: []byte(html)},
	}}

	got := New(Config{}, f).Normalize(context.Background(), permalink)
	if got != "https://pub.example/first" {
		t.Errorf("expected first outbound anchor, got %q", got)
	}
}

func TestNormalize_PermalinkCanonical(t *testing.T) {
	permalink := "https://news.google.com/articles/CBMixyz"
	html := `<html><head><link rel="canonical" href="https://canonical.example/story"></head>
<body><a href="/home">home</a></body></html>`
	f := &stubFetcher{get: map[string]*scraper.Result{
		permalink: {URL: permalink, FinalURL: permalink, Body: []byte(html)},
	}}

	got := New(Config{}, f).Normalize(context.Background(), permalink)
	if got != "https://canonical.example/story" {
		t.Errorf("expected canonical link, got %q", got)
	}
}

func TestNormalize_PermalinkHeadFallback(t *testing.T) {
	permalink := "https://news.google.com/articles/CBMihead"
	f := &stubFetcher{head: map[string]*scraper.Result{
		permalink: {URL: permalink, FinalURL: "https://pub.example/via-head"},
	}}

	got := New(Config{}, f).Normalize(context.Background(), permalink)
	if got != "https://pub.example/via-head" {
		t.Errorf("expected HEAD redirect target, got %q", got)
	}
}

func TestNormalize_PermalinkFailureReturnsInput(t *testing.T) {
	permalink := "https://news.google.com/articles/CBMidead"
	f := &stubFetcher{}

	got := New(Config{}, f).Normalize(context.Background(), permalink)
	if got != permalink {
		t.Errorf("expected original URL on failure, got %q", got)
	}
	if len(f.calls) != 2 {
		t.Errorf("expected GET then HEAD, got %v", f.calls)
	}
}

func TestNormalize_NonPermalinkSkipsNetwork(t *testing.T) {
	f := &stubFetcher{}
	n := New(Config{}, f)

	_ = n.Normalize(context.Background(), "https://news.google.com/topstories?hl=en-US")
	_ = n.Normalize(context.Background(), "https://pub.example/articles/42")

	if len(f.calls) != 0 {
		t.Errorf("expected no network calls, got %v", f.calls)
	}
}

func TestNormalize_PermalinkOverHTTP(t *testing.T) {
	pub := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("<html>story</html>"))
	}))
	defer pub.Close()

	agg := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, pub.URL+"/story", http.StatusFound)
	}))
	defer agg.Close()

	fetcher, err := scraper.NewFetcher(scraper.FetchConfig{Timeout: 2 * time.Second, Fingerprint: fingerprint.ProfileGo})
	if err != nil {
		t.Fatalf("NewFetcher: %v", err)
	}

	// Both servers share 127.0.0.1; only the /articles/ path marks the permalink.
	n := New(Config{AggregatorDomains: []string{"news.google.com"}, PermalinkHosts: []string{"127.0.0.1"}}, fetcher)

	got := n.Normalize(context.Background(), agg.URL+"/articles/abc")
	if got != pub.URL+"/story" {
		t.Errorf("expected %s/story, got %q", pub.URL, got)
	}
}
