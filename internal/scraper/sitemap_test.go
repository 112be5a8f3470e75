package scraper

import (
	"context"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
)

func xmlHandler(body string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/xml")
		_, _ = w.Write([]byte(body))
	}
}

func TestSitemapFetcher_FlatSitemap(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/sitemap.xml", xmlHandler(`<?xml version="1.0" encoding="UTF-8"?>
<urlset xmlns="http://www.sitemaps.org/schemas/sitemap/0.9">
   <url>
      <loc>http://example.com/news/a</loc>
      <lastmod>2024-03-01T10:00:00Z</lastmod>
   </url>
   <url>
      <loc>http://example.com/news/b</loc>
   </url>
   <url>
      <loc>http://example.com/news/a</loc>
   </url>
</urlset>`))

	ts := httptest.NewServer(mux)
	defer ts.Close()

	sf := NewSitemapFetcher(newTestFetcher(t, FetchConfig{}), slog.Default())

	entries, err := sf.FetchSitemap(context.Background(), ts.URL+"/sitemap.xml")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(entries) != 2 {
		t.Fatalf("expected 2 deduplicated entries, got %d", len(entries))
	}
	if entries[0].URL != "http://example.com/news/a" || entries[0].LastModified == nil {
		t.Errorf("unexpected first entry: %+v", entries[0])
	}
	if entries[1].URL != "http://example.com/news/b" {
		t.Errorf("expected second entry http://example.com/news/b, got %s", entries[1].URL)
	}
}

func TestSitemapFetcher_SitemapIndex(t *testing.T) {
	mux := http.NewServeMux()
	ts := httptest.NewServer(mux)
	defer ts.Close()

	mux.HandleFunc("/sitemap_index.xml", xmlHandler(`<?xml version="1.0" encoding="UTF-8"?>
<sitemapindex xmlns="http://www.sitemaps.org/schemas/sitemap/0.9">
   <sitemap><loc>`+ts.URL+`/sitemap1.xml</loc></sitemap>
   <sitemap><loc>`+ts.URL+`/sitemap2.xml</loc></sitemap>
   <sitemap><loc>`+ts.URL+`/gone.xml</loc></sitemap>
</sitemapindex>`))
	mux.HandleFunc("/sitemap1.xml", xmlHandler(`<?xml version="1.0" encoding="UTF-8"?>
<urlset xmlns="http://www.sitemaps.org/schemas/sitemap/0.9">
   <url><loc>http://example.com/s1-1</loc></url>
</urlset>`))
	mux.HandleFunc("/sitemap2.xml", xmlHandler(`<?xml version="1.0" encoding="UTF-8"?>
<urlset xmlns="http://www.sitemaps.org/schemas/sitemap/0.9">
   <url><loc>http://example.com/s2-1</loc></url>
   <url><loc>http://example.com/s2-2</loc></url>
</urlset>`))

	sf := NewSitemapFetcher(newTestFetcher(t, FetchConfig{}), slog.Default())

	entries, err := sf.FetchSitemap(context.Background(), ts.URL+"/sitemap_index.xml")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	expected := map[string]bool{
		"http://example.com/s1-1": true,
		"http://example.com/s2-1": true,
		"http://example.com/s2-2": true,
	}
	if len(entries) != len(expected) {
		t.Fatalf("expected %d entries from nested sitemaps, got %d", len(expected), len(entries))
	}
	for _, e := range entries {
		if !expected[e.URL] {
			t.Errorf("unexpected URL parsed: %s", e.URL)
		}
	}
}

func TestSitemapFetcher_InvalidXML(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/sitemap.xml", xmlHandler(`this is not xml`))

	ts := httptest.NewServer(mux)
	defer ts.Close()

	sf := NewSitemapFetcher(newTestFetcher(t, FetchConfig{}), slog.Default())

	if _, err := sf.FetchSitemap(context.Background(), ts.URL+"/sitemap.xml"); err == nil {
		t.Errorf("expected parsing error")
	}
}

func TestSitemapFetcher_FetchFailure(t *testing.T) {
	ts := httptest.NewServer(http.NotFoundHandler())
	defer ts.Close()

	sf := NewSitemapFetcher(newTestFetcher(t, FetchConfig{}), nil)
	if _, err := sf.FetchSitemap(context.Background(), ts.URL+"/sitemap.xml"); err == nil {
		t.Errorf("expected fetch error")
	}
}
