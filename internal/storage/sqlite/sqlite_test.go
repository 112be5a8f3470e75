package sqlite

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/FranksOps/newsthumb/internal/storage"
)

func newTestBackend(t *testing.T) storage.Backend {
	t.Helper()
	b, err := New(filepath.Join(t.TempDir(), "newsthumb.db"))
	if err != nil {
		t.Fatalf("Failed to create SQLite backend: %v", err)
	}
	t.Cleanup(func() { _ = b.Close() })
	return b
}

func TestSQLiteBackend(t *testing.T) {
	b := newTestBackend(t)
	ctx := context.Background()
	now := time.Now().UTC()

	a := &storage.Article{
		URL:         "https://pub.example/story",
		Title:       "Chip output rises",
		Source:      "Pub Example",
		Keyword:     "semiconductors",
		PublishedAt: now.Add(-time.Hour),
		CollectedAt: now,
	}
	if err := b.Save(ctx, a); err != nil {
		t.Fatalf("Failed to save article: %v", err)
	}
	if a.ID == "" {
		t.Fatalf("expected Save to assign an ID")
	}

	got, err := b.Get(ctx, a.ID)
	if err != nil {
		t.Fatalf("Failed to get article: %v", err)
	}
	if got.URL != a.URL || got.Title != a.Title || got.Source != a.Source || got.Keyword != a.Keyword {
		t.Errorf("Expected %+v, got %+v", a, got)
	}
	if !got.PublishedAt.Equal(a.PublishedAt) || !got.CollectedAt.Equal(a.CollectedAt) {
		t.Errorf("Expected times to round-trip, got published=%v collected=%v", got.PublishedAt, got.CollectedAt)
	}
	if !got.ImageUpdatedAt.IsZero() {
		t.Errorf("Expected zero ImageUpdatedAt, got %v", got.ImageUpdatedAt)
	}

	if _, err := b.Get(ctx, "missing"); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("Expected ErrNotFound, got %v", err)
	}
}

func TestSQLiteBackend_UpsertKeepsImage(t *testing.T) {
	b := newTestBackend(t)
	ctx := context.Background()
	now := time.Now().UTC()

	first := &storage.Article{
		URL:            "https://pub.example/story",
		Title:          "Old title",
		CollectedAt:    now.Add(-time.Hour),
		ImageURL:       "https://cdn.example/a.jpg",
		ImageKind:      storage.ImageReal,
		ImageUpdatedAt: now.Add(-time.Hour),
	}
	if err := b.Save(ctx, first); err != nil {
		t.Fatalf("save: %v", err)
	}

	again := &storage.Article{URL: "https://pub.example/story", Title: "New title", CollectedAt: now}
	if err := b.Save(ctx, again); err != nil {
		t.Fatalf("save again: %v", err)
	}

	if again.ID != first.ID {
		t.Errorf("Expected upsert to keep ID %s, got %s", first.ID, again.ID)
	}
	if again.ImageURL != first.ImageURL {
		t.Errorf("Expected image to survive re-save, got %q", again.ImageURL)
	}

	all, err := b.Query(ctx, storage.Filter{})
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if len(all) != 1 {
		t.Fatalf("Expected 1 article, got %d", len(all))
	}
	if all[0].Title != "New title" {
		t.Errorf("Expected updated title, got %q", all[0].Title)
	}
	if !all[0].CollectedAt.Equal(first.CollectedAt) {
		t.Errorf("Expected original CollectedAt, got %v", all[0].CollectedAt)
	}
}

func TestSQLiteBackend_Update(t *testing.T) {
	b := newTestBackend(t)
	ctx := context.Background()

	a := &storage.Article{URL: "https://news.google.com/rss/articles/CBMi"}
	if err := b.Save(ctx, a); err != nil {
		t.Fatalf("save: %v", err)
	}

	a.URL = "https://pub.example/story"
	a.ImageURL = "https://cdn.example/a.jpg"
	a.ImageKind = storage.ImageReal
	a.ImageUpdatedAt = time.Now().UTC()
	if err := b.Update(ctx, a); err != nil {
		t.Fatalf("update: %v", err)
	}

	got, err := b.Get(ctx, a.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.URL != a.URL || got.ImageURL != a.ImageURL || got.ImageKind != storage.ImageReal {
		t.Errorf("Expected updated article, got %+v", got)
	}

	missing := &storage.Article{ID: "nope", URL: "https://pub.example/x"}
	if err := b.Update(ctx, missing); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("Expected ErrNotFound, got %v", err)
	}
}

func TestSQLiteBackend_QueryFilters(t *testing.T) {
	b := newTestBackend(t)
	ctx := context.Background()
	now := time.Now().UTC()

	articles := []*storage.Article{
		{URL: "https://pub.example/1", Keyword: "ai", CollectedAt: now.Add(-3 * time.Hour)},
		{URL: "https://pub.example/2", Keyword: "ai", CollectedAt: now.Add(-2 * time.Hour), ImageURL: "https://cdn.example/2.jpg", ImageKind: storage.ImageReal},
		{URL: "https://pub.example/3", Keyword: "chips", CollectedAt: now.Add(-1 * time.Hour), ImageURL: "data:image/svg+xml;base64,AAAA", ImageKind: storage.ImageSynthetic},
		{URL: "https://pub.example/4", Keyword: "chips", CollectedAt: now, ImageURL: "https://news.google.com/img/icons/x.png"},
		{URL: "https://news.google.com/rss/articles/5", Keyword: "ai", CollectedAt: now.Add(-4 * time.Hour), ImageURL: "https://cdn.example/5.jpg"},
	}
	for _, a := range articles {
		if err := b.Save(ctx, a); err != nil {
			t.Fatalf("save %s: %v", a.URL, err)
		}
	}

	all, err := b.Query(ctx, storage.Filter{})
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if len(all) != 5 || all[0].URL != "https://pub.example/4" {
		t.Fatalf("Expected 5 articles newest first, got %d (first %s)", len(all), all[0].URL)
	}

	tests := []struct {
		name   string
		filter storage.Filter
		want   int
	}{
		{"keyword", storage.Filter{Keyword: "ai"}, 3},
		{"needs image", storage.Filter{NeedsImage: true}, 4},
		{"needs image and keyword", storage.Filter{NeedsImage: true, Keyword: "chips"}, 2},
		{"url", storage.Filter{URL: "https://pub.example/2"}, 1},
		{"limit", storage.Filter{Limit: 2}, 2},
		{"offset only", storage.Filter{Offset: 3}, 2},
		{"limit and offset", storage.Filter{Limit: 2, Offset: 4}, 1},
	}
	for _, tt := range tests {
		got, err := b.Query(ctx, tt.filter)
		if err != nil {
			t.Fatalf("%s: %v", tt.name, err)
		}
		if len(got) != tt.want {
			t.Errorf("%s: expected %d results, got %d", tt.name, tt.want, len(got))
		}
	}

	since := now.Add(-90 * time.Minute)
	recent, err := b.Query(ctx, storage.Filter{Since: &since})
	if err != nil {
		t.Fatalf("since: %v", err)
	}
	if len(recent) != 2 {
		t.Errorf("Expected 2 recent articles, got %d", len(recent))
	}
}
