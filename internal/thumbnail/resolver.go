// Package thumbnail resolves an article URL to a representative image. It
// unwraps aggregator links, fetches the page, runs the extraction cascade
// and falls back to a synthesized placeholder, memoizing every outcome.
package thumbnail

import (
	"context"
	"log/slog"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/FranksOps/newsthumb/internal/cache"
	"github.com/FranksOps/newsthumb/internal/extract"
	"github.com/FranksOps/newsthumb/internal/metrics"
	"github.com/FranksOps/newsthumb/internal/placeholder"
	"github.com/FranksOps/newsthumb/internal/unwrap"
)

// Kind tags a resolved image.
type Kind string

const (
	KindReal      Kind = "real"
	KindSynthetic Kind = "synthetic"
)

// Image is a resolved thumbnail. Real images carry URL and Stage;
// synthetic ones carry DataURI and Domain.
type Image struct {
	Kind    Kind          `json:"kind"`
	URL     string        `json:"url,omitempty"`
	Stage   extract.Stage `json:"stage,omitempty"`
	DataURI string        `json:"data_uri,omitempty"`
	Domain  string        `json:"domain,omitempty"`
}

// Src returns the value to put in an <img src>.
func (i Image) Src() string {
	if i.Kind == KindReal {
		return i.URL
	}
	return i.DataURI
}

// DefaultTimeout bounds one shared resolution when Config.Timeout is unset.
const DefaultTimeout = 30 * time.Second

// Config wires optional collaborators. Zero fields get defaults.
type Config struct {
	Cache       *cache.Cache[string, Image]
	Normalizer  *unwrap.Normalizer
	Extractor   *extract.Cascade
	Synthesizer *placeholder.Synthesizer
	// Timeout bounds a resolution independently of the caller that started
	// it, since other callers may be waiting on the same result.
	Timeout time.Duration
	Logger  *slog.Logger
}

// Resolver is safe for concurrent use. Concurrent lookups of the same
// uncached URL share one resolution.
type Resolver struct {
	fetcher    unwrap.PageFetcher
	cache      *cache.Cache[string, Image]
	normalizer *unwrap.Normalizer
	extractor  *extract.Cascade
	synth      *placeholder.Synthesizer
	group      singleflight.Group
	timeout    time.Duration
	logger     *slog.Logger
}

// New builds a Resolver that fetches pages through fetcher.
func New(fetcher unwrap.PageFetcher, cfg Config) *Resolver {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	r := &Resolver{
		fetcher:    fetcher,
		cache:      cfg.Cache,
		normalizer: cfg.Normalizer,
		extractor:  cfg.Extractor,
		synth:      cfg.Synthesizer,
		timeout:    cfg.Timeout,
		logger:     logger,
	}
	if r.timeout <= 0 {
		r.timeout = DefaultTimeout
	}
	if r.cache == nil {
		r.cache = cache.New[string, Image]()
	}
	if r.normalizer == nil {
		uc := unwrap.DefaultConfig()
		uc.Logger = logger
		r.normalizer = unwrap.New(uc, fetcher)
	}
	if r.extractor == nil {
		r.extractor = extract.New(extract.DefaultFilters(), nil, logger)
	}
	if r.synth == nil {
		r.synth = placeholder.New(placeholder.DefaultPalette())
	}
	return r
}

// ResolveThumbnail returns an image for rawURL. It never fails: transport
// and parse problems end in a synthetic placeholder. A cached result is
// returned without network access.
//
// Concurrent callers for the same uncached URL share one resolution. That
// resolution runs under its own deadline, so a caller that gives up gets a
// placeholder for itself without cutting the others short.
func (r *Resolver) ResolveThumbnail(ctx context.Context, rawURL string) Image {
	if img, ok := r.cache.Get(rawURL); ok {
		metrics.RecordCacheLookup(true)
		return img
	}
	metrics.RecordCacheLookup(false)

	if ctx.Err() != nil {
		return r.SynthesizePlaceholder(rawURL)
	}

	ch := r.group.DoChan(rawURL, func() (any, error) {
		if img, ok := r.cache.Get(rawURL); ok {
			return img, nil
		}
		rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), r.timeout)
		defer cancel()

		img := r.resolve(rctx, rawURL)
		// An interrupted resolution says nothing about the URL.
		if rctx.Err() == nil {
			r.cache.Put(rawURL, img)
		}
		return img, nil
	})

	select {
	case res := <-ch:
		if res.Shared {
			r.logger.Debug("thumbnail: shared in-flight resolution", "url", rawURL)
		}
		return res.Val.(Image)
	case <-ctx.Done():
		r.logger.Debug("thumbnail: caller gave up", "url", rawURL, "err", ctx.Err())
		return r.SynthesizePlaceholder(rawURL)
	}
}

func (r *Resolver) resolve(ctx context.Context, rawURL string) Image {
	target := r.normalizer.Normalize(ctx, rawURL)

	res := r.fetcher.Fetch(ctx, target)
	if res.OK() {
		base := res.FinalURL
		if base == "" {
			base = target
		}
		if cand, ok := r.extractor.Extract(res.HTML(), base); ok {
			metrics.RecordResolution(string(KindReal), string(cand.Stage))
			r.logger.Debug("thumbnail: resolved", "url", rawURL, "target", target, "stage", cand.Stage, "image", cand.URL)
			return Image{Kind: KindReal, URL: cand.URL, Stage: cand.Stage}
		}
		r.logger.Debug("thumbnail: no image in page", "url", rawURL, "target", target)
	} else {
		r.logger.Debug("thumbnail: fetch failed", "url", rawURL, "target", target, "reason", res.Failure)
	}

	metrics.RecordResolution(string(KindSynthetic), "placeholder")
	return r.SynthesizePlaceholder(target)
}

// Unwrap returns the publisher URL behind rawURL.
func (r *Resolver) Unwrap(ctx context.Context, rawURL string) string {
	return r.normalizer.Normalize(ctx, rawURL)
}

// SynthesizePlaceholder renders the placeholder for rawURL without any
// network access.
func (r *Resolver) SynthesizePlaceholder(rawURL string) Image {
	ph := r.synth.Synthesize(rawURL)
	return Image{Kind: KindSynthetic, DataURI: ph.DataURI, Domain: ph.Domain}
}

// Forget drops rawURL from the cache so the next lookup resolves afresh.
func (r *Resolver) Forget(rawURL string) {
	r.cache.Remove(rawURL)
}
