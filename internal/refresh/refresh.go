// Package refresh re-resolves thumbnails for stored articles whose image is
// missing or a placeholder.
package refresh

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/FranksOps/newsthumb/internal/metrics"
	"github.com/FranksOps/newsthumb/internal/storage"
	"github.com/FranksOps/newsthumb/internal/thumbnail"
)

// Store is the part of storage.Backend a refresh needs.
type Store interface {
	Query(ctx context.Context, filter storage.Filter) ([]*storage.Article, error)
	Update(ctx context.Context, a *storage.Article) error
}

// Resolver is satisfied by *thumbnail.Resolver.
type Resolver interface {
	Unwrap(ctx context.Context, rawURL string) string
	ResolveThumbnail(ctx context.Context, rawURL string) thumbnail.Image
	Forget(rawURL string)
}

// Config tunes a Refresher.
type Config struct {
	// Concurrency bounds the number of articles resolved at once. Per-host
	// pacing is enforced by the fetcher's limiter.
	Concurrency int
	// BatchSize caps articles per run when the filter sets no limit.
	BatchSize int
	Logger    *slog.Logger
	Clock     func() time.Time
}

// Result labels for a processed article.
const (
	ResultThumbnail   = "thumbnail"
	ResultPlaceholder = "placeholder"
	ResultSkipped     = "skipped"
	ResultFailed      = "failed"
)

// Summary reports one run.
type Summary struct {
	RunID                  string        `json:"run_id"`
	Total                  int           `json:"total"`
	UpdatedWithThumbnail   int           `json:"updated_with_thumbnail"`
	UpdatedWithPlaceholder int           `json:"updated_with_placeholder"`
	Skipped                int           `json:"skipped"`
	Failed                 int           `json:"failed"`
	StartTime              time.Time     `json:"start_time"`
	EndTime                time.Time     `json:"end_time"`
	Duration               time.Duration `json:"duration"`
}

// Refresher runs batch refreshes.
type Refresher struct {
	store    Store
	resolver Resolver
	cfg      Config
	logger   *slog.Logger
}

// New creates a Refresher.
func New(store Store, resolver Resolver, cfg Config) *Refresher {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 3
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Clock == nil {
		cfg.Clock = time.Now
	}
	return &Refresher{store: store, resolver: resolver, cfg: cfg, logger: cfg.Logger}
}

// Run resolves every article matching filter that needs an image. Per
// article failures are counted, not returned; the error is non-nil only
// when the store cannot be queried or ctx ends the run early.
func (r *Refresher) Run(ctx context.Context, filter storage.Filter) (sum Summary, err error) {
	sum = Summary{RunID: uuid.NewString(), StartTime: r.cfg.Clock()}
	defer func() {
		sum.EndTime = r.cfg.Clock()
		sum.Duration = sum.EndTime.Sub(sum.StartTime)
	}()

	filter.NeedsImage = true
	if filter.Limit <= 0 {
		filter.Limit = r.cfg.BatchSize
	}

	articles, err := r.store.Query(ctx, filter)
	if err != nil {
		return sum, fmt.Errorf("refresh: query: %w", err)
	}
	sum.Total = len(articles)
	r.logger.Info("refresh started", "run_id", sum.RunID, "articles", sum.Total, "concurrency", r.cfg.Concurrency)

	var mu sync.Mutex
	record := func(result string) {
		metrics.RefreshArticlesTotal.WithLabelValues(result).Inc()
		mu.Lock()
		defer mu.Unlock()
		switch result {
		case ResultThumbnail:
			sum.UpdatedWithThumbnail++
		case ResultPlaceholder:
			sum.UpdatedWithPlaceholder++
		case ResultSkipped:
			sum.Skipped++
		default:
			sum.Failed++
		}
	}

	queue := make(chan *storage.Article)
	g, gCtx := errgroup.WithContext(ctx)

	g.Go(func() error {
		defer close(queue)
		for _, a := range articles {
			select {
			case <-gCtx.Done():
				return gCtx.Err()
			case queue <- a:
			}
		}
		return nil
	})

	for i := 0; i < r.cfg.Concurrency; i++ {
		g.Go(func() error {
			for a := range queue {
				record(r.process(gCtx, a))
			}
			return nil
		})
	}

	err = g.Wait()
	if err == nil {
		err = ctx.Err()
	}

	r.logger.Info("refresh finished",
		"run_id", sum.RunID,
		"total", sum.Total,
		"thumbnail", sum.UpdatedWithThumbnail,
		"placeholder", sum.UpdatedWithPlaceholder,
		"skipped", sum.Skipped,
		"failed", sum.Failed,
	)
	if err != nil {
		return sum, fmt.Errorf("refresh: %w", err)
	}
	return sum, nil
}

func (r *Refresher) process(ctx context.Context, a *storage.Article) string {
	if ctx.Err() != nil {
		return ResultSkipped
	}

	target := r.resolver.Unwrap(ctx, a.URL)
	// A stored placeholder is being replaced, so the memoized one must go.
	r.resolver.Forget(target)
	img := r.resolver.ResolveThumbnail(ctx, target)
	if ctx.Err() != nil {
		return ResultSkipped
	}

	if img.Src() == a.ImageURL && target == a.URL {
		r.logger.Debug("refresh: unchanged", "id", a.ID, "url", a.URL)
		return ResultSkipped
	}

	updated := *a
	updated.URL = target
	updated.ImageURL = img.Src()
	updated.ImageKind = string(img.Kind)
	updated.ImageUpdatedAt = r.cfg.Clock().UTC()

	if err := r.store.Update(ctx, &updated); err != nil {
		if target == a.URL {
			r.logger.Error("refresh: update failed", "id", a.ID, "url", a.URL, "err", err)
			return ResultFailed
		}
		// The publisher URL may already be stored under another article;
		// keep the image but leave the URL as it was.
		r.logger.Warn("refresh: keeping original url", "id", a.ID, "target", target, "err", err)
		updated.URL = a.URL
		if err := r.store.Update(ctx, &updated); err != nil {
			r.logger.Error("refresh: update failed", "id", a.ID, "url", a.URL, "err", err)
			return ResultFailed
		}
	}

	if img.Kind == thumbnail.KindReal {
		return ResultThumbnail
	}
	return ResultPlaceholder
}
