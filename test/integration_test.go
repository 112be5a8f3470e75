//go:build integration

package test

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/FranksOps/newsthumb/internal/api"
	"github.com/FranksOps/newsthumb/internal/fingerprint"
	"github.com/FranksOps/newsthumb/internal/ingest"
	"github.com/FranksOps/newsthumb/internal/refresh"
	"github.com/FranksOps/newsthumb/internal/scraper"
	"github.com/FranksOps/newsthumb/internal/storage"
	"github.com/FranksOps/newsthumb/internal/storage/jsonbackend"
	"github.com/FranksOps/newsthumb/internal/thumbnail"
	"github.com/FranksOps/newsthumb/internal/unwrap"
	"github.com/FranksOps/newsthumb/pkg/ratelimit"
)

// publisher serves three article shapes: one with an og:image, one with
// no usable image and one behind a bot challenge.
func publisher() *httptest.Server {
	mux := http.NewServeMux()
	mux.HandleFunc("/story", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		fmt.Fprint(w, `<html><head>
			<meta property="og:image" content="/media/hero.jpg">
			<link rel="icon" href="/favicon.ico">
		</head><body><article><p>Story</p></article></body></html>`)
	})
	mux.HandleFunc("/bare", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		fmt.Fprint(w, `<html><body><img src="/img/logo.png" width="900" height="600"></body></html>`)
	})
	mux.HandleFunc("/blocked", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Server", "cloudflare")
		w.Header().Set("Content-Type", "text/html")
		w.WriteHeader(http.StatusForbidden)
		fmt.Fprint(w, `<html><body>cf-browser-verification <meta property="og:image" content="/trap.jpg"></body></html>`)
	})
	return httptest.NewServer(mux)
}

// aggregator serves a search feed whose links are opaque permalinks that
// redirect to the publisher. It is addressed as "localhost" so its host
// differs from the publisher's 127.0.0.1.
func aggregator(pub string) *httptest.Server {
	mux := http.NewServeMux()
	var self string
	mux.HandleFunc("/rss/search", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/rss+xml")
		fmt.Fprintf(w, `<?xml version="1.0"?><rss version="2.0"><channel><title>q</title>
			<item><title>Hero story - Pub Daily</title><link>%[1]s/rss/articles/story</link><pubDate>Mon, 03 Jun 2024 10:00:00 GMT</pubDate></item>
			<item><title>Bare story - Pub Daily</title><link>%[1]s/rss/articles/bare</link></item>
			<item><title>Blocked story - Pub Daily</title><link>%[1]s/rss/articles/blocked</link></item>
		</channel></rss>`, self)
	})
	mux.HandleFunc("/rss/articles/", func(w http.ResponseWriter, r *http.Request) {
		id := strings.TrimPrefix(r.URL.Path, "/rss/articles/")
		http.Redirect(w, r, pub+"/"+id, http.StatusFound)
	})
	srv := httptest.NewServer(mux)
	self = strings.Replace(srv.URL, "127.0.0.1", "localhost", 1)
	return srv
}

func newResolver(t *testing.T) (*scraper.Fetcher, *thumbnail.Resolver) {
	t.Helper()
	fetcher, err := scraper.NewFetcher(scraper.FetchConfig{
		Timeout:      5 * time.Second,
		UseCookieJar: true,
		Fingerprint:  fingerprint.ProfileGo,
		Limiter:      ratelimit.NewHostLimiter(0, 0),
	})
	if err != nil {
		t.Fatalf("NewFetcher: %v", err)
	}

	uc := unwrap.DefaultConfig()
	uc.AggregatorDomains = []string{"localhost"}
	uc.PermalinkHosts = []string{"localhost"}

	return fetcher, thumbnail.New(fetcher, thumbnail.Config{Normalizer: unwrap.New(uc, fetcher)})
}

func TestIntegration_CollectRefreshServe(t *testing.T) {
	pub := publisher()
	defer pub.Close()
	agg := aggregator(pub.URL)
	defer agg.Close()
	aggURL := strings.Replace(agg.URL, "127.0.0.1", "localhost", 1)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	store, err := jsonbackend.New(filepath.Join(t.TempDir(), "articles.jsonl"))
	if err != nil {
		t.Fatalf("store: %v", err)
	}
	defer store.Close()

	fetcher, resolver := newResolver(t)

	// 1. Collect: feed links are unwrapped to publisher URLs, images left
	// for refresh.
	collector := ingest.NewCollector(fetcher, resolver, store, ingest.Config{
		FeedURL: aggURL + "/rss/search?q={query}",
	})
	sum, err := collector.Collect(ctx, []ingest.Keyword{{Name: "live_shopping", Active: true}})
	if err != nil {
		t.Fatalf("collect: %v", err)
	}
	if sum.Saved != 3 {
		t.Fatalf("expected 3 saved articles, got %+v", sum)
	}

	articles, err := store.Query(ctx, storage.Filter{})
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	for _, a := range articles {
		if !strings.HasPrefix(a.URL, pub.URL+"/") {
			t.Errorf("expected unwrapped publisher URL, got %s", a.URL)
		}
		if a.Source != "Pub Daily" || a.Keyword != "live shopping" {
			t.Errorf("unexpected article metadata %+v", a)
		}
	}

	// 2. Refresh: every article needs an image.
	rs, err := refresh.New(store, resolver, refresh.Config{Concurrency: 2}).Run(ctx, storage.Filter{})
	if err != nil {
		t.Fatalf("refresh: %v", err)
	}
	if rs.Total != 3 || rs.UpdatedWithThumbnail != 1 || rs.UpdatedWithPlaceholder != 2 {
		t.Errorf("unexpected refresh summary %+v", rs)
	}

	story, err := store.Query(ctx, storage.Filter{URL: pub.URL + "/story"})
	if err != nil || len(story) != 1 {
		t.Fatalf("expected story article, got %v (%v)", story, err)
	}
	if story[0].ImageURL != pub.URL+"/media/hero.jpg" || story[0].ImageKind != storage.ImageReal {
		t.Errorf("expected og:image stored, got %+v", story[0])
	}

	blocked, _ := store.Query(ctx, storage.Filter{URL: pub.URL + "/blocked"})
	if len(blocked) != 1 || blocked[0].ImageKind != storage.ImageSynthetic {
		t.Errorf("expected placeholder for challenge page, got %+v", blocked)
	}

	// A second refresh only revisits the placeholders and changes nothing.
	rs, err = refresh.New(store, resolver, refresh.Config{}).Run(ctx, storage.Filter{})
	if err != nil {
		t.Fatalf("second refresh: %v", err)
	}
	if rs.Total != 2 || rs.Skipped != 2 {
		t.Errorf("expected two unchanged placeholders, got %+v", rs)
	}

	// 3. Serve: the API resolves through the same stack.
	srv := httptest.NewServer(api.NewRouter(api.Config{Resolver: resolver, Store: store}))
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/v1/thumbnail?url=" + url.QueryEscape(aggURL+"/rss/articles/story"))
	if err != nil {
		t.Fatalf("GET thumbnail: %v", err)
	}
	defer resp.Body.Close()
	var img thumbnail.Image
	if err := json.NewDecoder(resp.Body).Decode(&img); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if img.Kind != thumbnail.KindReal || img.URL != pub.URL+"/media/hero.jpg" {
		t.Errorf("expected real image through the API, got %+v", img)
	}
}

func TestIntegration_UnreachableSiteGetsPlaceholder(t *testing.T) {
	_, resolver := newResolver(t)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	img := resolver.ResolveThumbnail(ctx, "http://127.0.0.1:1/gone")
	if img.Kind != thumbnail.KindSynthetic || img.Domain != "127.0.0.1" {
		t.Errorf("expected placeholder, got %+v", img)
	}
}
