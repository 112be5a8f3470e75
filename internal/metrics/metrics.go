package metrics

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	ResolutionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "newsthumb_resolutions_total",
			Help: "Thumbnail resolutions by outcome (real/synthetic) and producing stage",
		},
		[]string{"outcome", "stage"},
	)

	CacheLookupsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "newsthumb_cache_lookups_total",
			Help: "Resolution cache lookups by result (hit/miss)",
		},
		[]string{"result"},
	)

	FetchTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "newsthumb_fetch_total",
			Help: "Page fetches by domain and outcome",
		},
		[]string{"domain", "outcome"},
	)

	FetchDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "newsthumb_fetch_duration_seconds",
			Help:    "Duration of page fetches in seconds",
			Buckets: []float64{0.1, 0.25, 0.5, 1, 2, 5, 10},
		},
		[]string{"domain"},
	)

	FetchBytesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "newsthumb_fetch_bytes_total",
			Help: "Total bytes downloaded across all page fetches",
		},
		[]string{"domain"},
	)

	UnwrapTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "newsthumb_unwrap_total",
			Help: "URL normalizations by the rule that rewrote the URL",
		},
		[]string{"rule"},
	)

	RefreshArticlesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "newsthumb_refresh_articles_total",
			Help: "Articles processed by batch refresh, by result",
		},
		[]string{"result"},
	)
)

// RecordFetch updates fetch metrics for one request. outcome is "ok" or a
// failure reason.
func RecordFetch(domain, outcome string, d time.Duration, bytes int) {
	FetchTotal.WithLabelValues(domain, outcome).Inc()
	FetchDuration.WithLabelValues(domain).Observe(d.Seconds())
	FetchBytesTotal.WithLabelValues(domain).Add(float64(bytes))
}

// RecordResolution counts one resolver result.
func RecordResolution(outcome, stage string) {
	ResolutionsTotal.WithLabelValues(outcome, stage).Inc()
}

// RecordCacheLookup counts a cache hit or miss.
func RecordCacheLookup(hit bool) {
	if hit {
		CacheLookupsTotal.WithLabelValues("hit").Inc()
		return
	}
	CacheLookupsTotal.WithLabelValues("miss").Inc()
}

// Handler exposes the default registry, for mounting on an existing router.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Server encapsulates an HTTP server for Prometheus metrics.
type Server struct {
	srv *http.Server
}

// Start begins listening on addr (e.g. ":9090") and exposes /metrics.
func Start(addr string, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", Handler())

	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("metrics server failed", "addr", addr, "err", err)
		}
	}()

	return &Server{srv: srv}
}

// Stop gracefully shuts down the metrics server.
func (s *Server) Stop(ctx context.Context) error {
	if s.srv == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	return s.srv.Shutdown(ctx)
}
