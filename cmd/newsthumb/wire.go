package main

import (
	"context"
	"fmt"
	"time"

	"github.com/FranksOps/newsthumb/internal/cache"
	"github.com/FranksOps/newsthumb/internal/config"
	"github.com/FranksOps/newsthumb/internal/extract"
	"github.com/FranksOps/newsthumb/internal/fingerprint"
	"github.com/FranksOps/newsthumb/internal/placeholder"
	"github.com/FranksOps/newsthumb/internal/scraper"
	"github.com/FranksOps/newsthumb/internal/storage"
	"github.com/FranksOps/newsthumb/internal/storage/csvbackend"
	"github.com/FranksOps/newsthumb/internal/storage/jsonbackend"
	"github.com/FranksOps/newsthumb/internal/storage/postgres"
	"github.com/FranksOps/newsthumb/internal/storage/sqlite"
	"github.com/FranksOps/newsthumb/internal/thumbnail"
	"github.com/FranksOps/newsthumb/internal/unwrap"
	"github.com/FranksOps/newsthumb/pkg/ratelimit"
	"github.com/FranksOps/newsthumb/pkg/useragent"
)

// pipeline is the resolution stack shared by the commands.
type pipeline struct {
	fetcher  *scraper.Fetcher
	resolver *thumbnail.Resolver
}

func (c *cli) newPipeline() (*pipeline, error) {
	fc := c.cfg.Fetch

	profile, err := fingerprint.ParseProfile(fc.Fingerprint)
	if err != nil {
		return nil, err
	}

	fetcher, err := scraper.NewFetcher(scraper.FetchConfig{
		Timeout:       fc.Timeout,
		MaxRedirects:  fc.MaxRedirects,
		MaxBodyBytes:  fc.MaxBodyBytes,
		UseCookieJar:  true,
		UAPool:        useragent.NewPool(fc.UserAgents),
		Fingerprint:   profile,
		Limiter:       ratelimit.NewHostLimiter(c.cfg.RateLimit.PerHostInterval, c.cfg.RateLimit.Jitter),
		RespectRobots: fc.RespectRobots,
		Logger:        c.logger,
	})
	if err != nil {
		return nil, fmt.Errorf("build fetcher: %w", err)
	}

	uc := unwrap.DefaultConfig()
	uc.AggregatorDomains = c.cfg.Unwrap.AggregatorDomains
	uc.PermalinkHosts = c.cfg.Unwrap.PermalinkHosts
	uc.MaxDepth = c.cfg.Unwrap.MaxDepth
	uc.Logger = c.logger

	resolver := thumbnail.New(fetcher, thumbnail.Config{
		Cache: cache.New[string, thumbnail.Image](
			cache.WithTTL(c.cfg.Cache.TTL),
			cache.WithCapacity(c.cfg.Cache.Capacity),
		),
		Normalizer:  unwrap.New(uc, fetcher),
		Extractor:   extract.New(extract.DefaultFilters(), nil, c.logger),
		Synthesizer: placeholder.New(placeholder.DefaultPalette()),
		Timeout:     resolveTimeout(fc),
		Logger:      c.logger,
	})

	return &pipeline{fetcher: fetcher, resolver: resolver}, nil
}

// resolveTimeout leaves room for a full page fetch plus unwrapping hops.
func resolveTimeout(fc config.FetchConfig) time.Duration {
	return 3*fc.Timeout + 5*time.Second
}

// openStore opens the backend named by cfg.Driver.
func openStore(ctx context.Context, cfg config.StoreConfig) (storage.Backend, error) {
	var (
		b   storage.Backend
		err error
	)
	switch cfg.Driver {
	case "sqlite":
		b, err = sqlite.New(cfg.DSN)
	case "postgres":
		b, err = postgres.New(ctx, cfg.DSN)
	case "csv":
		b, err = csvbackend.New(cfg.DSN)
	case "json":
		b, err = jsonbackend.New(cfg.DSN)
	default:
		return nil, fmt.Errorf("unknown store driver %q", cfg.Driver)
	}
	if err != nil {
		return nil, fmt.Errorf("open %s store: %w", cfg.Driver, err)
	}
	return b, nil
}
