// Package api serves thumbnail lookups over HTTP.
package api

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/FranksOps/newsthumb/internal/metrics"
	"github.com/FranksOps/newsthumb/internal/report"
	"github.com/FranksOps/newsthumb/internal/storage"
	"github.com/FranksOps/newsthumb/internal/thumbnail"
)

// Resolver is satisfied by *thumbnail.Resolver.
type Resolver interface {
	ResolveThumbnail(ctx context.Context, rawURL string) thumbnail.Image
	Unwrap(ctx context.Context, rawURL string) string
	SynthesizePlaceholder(rawURL string) thumbnail.Image
}

// Store is the read side of storage.Backend.
type Store interface {
	Query(ctx context.Context, filter storage.Filter) ([]*storage.Article, error)
}

// Config configures the router.
type Config struct {
	Resolver Resolver
	// Store enables /v1/articles and /report. It may be nil.
	Store Store
	// RequestTimeout bounds one request. A thumbnail lookup that runs out
	// of time answers with a placeholder.
	RequestTimeout time.Duration
	AllowedOrigins []string
	Logger         *slog.Logger
}

const maxPageSize = 500

// NewRouter builds the HTTP handler.
func NewRouter(cfg Config) http.Handler {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 30 * time.Second
	}
	if len(cfg.AllowedOrigins) == 0 {
		cfg.AllowedOrigins = []string{"*"}
	}
	h := &handlers{resolver: cfg.Resolver, store: cfg.Store, logger: cfg.Logger}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger(cfg.Logger))
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: cfg.AllowedOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodOptions},
		MaxAge:         300,
	}))

	r.Get("/healthz", h.health)
	r.Handle("/metrics", metrics.Handler())

	r.Route("/v1", func(r chi.Router) {
		r.Use(middleware.Timeout(cfg.RequestTimeout))
		r.Get("/thumbnail", h.thumbnail)
		r.Get("/unwrap", h.unwrap)
		r.Get("/placeholder", h.placeholder)
		r.Get("/articles", h.articles)
	})
	r.Get("/report", h.report)

	return r
}

type handlers struct {
	resolver Resolver
	store    Store
	logger   *slog.Logger
}

type errorBody struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorBody{Error: msg})
}

// targetURL reads the url query parameter; only http(s) URLs are accepted.
func targetURL(r *http.Request) (string, bool) {
	raw := strings.TrimSpace(r.URL.Query().Get("url"))
	lower := strings.ToLower(raw)
	if !strings.HasPrefix(lower, "http://") && !strings.HasPrefix(lower, "https://") {
		return "", false
	}
	return raw, true
}

func (h *handlers) health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *handlers) thumbnail(w http.ResponseWriter, r *http.Request) {
	target, ok := targetURL(r)
	if !ok {
		writeError(w, http.StatusBadRequest, "url must be an absolute http(s) URL")
		return
	}
	writeJSON(w, http.StatusOK, h.resolver.ResolveThumbnail(r.Context(), target))
}

func (h *handlers) unwrap(w http.ResponseWriter, r *http.Request) {
	target, ok := targetURL(r)
	if !ok {
		writeError(w, http.StatusBadRequest, "url must be an absolute http(s) URL")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"url":       target,
		"unwrapped": h.resolver.Unwrap(r.Context(), target),
	})
}

// placeholder answers with JSON, or with the SVG itself for format=svg so
// the endpoint can back an <img> tag.
func (h *handlers) placeholder(w http.ResponseWriter, r *http.Request) {
	target := strings.TrimSpace(r.URL.Query().Get("url"))
	if target == "" {
		writeError(w, http.StatusBadRequest, "url is required")
		return
	}
	img := h.resolver.SynthesizePlaceholder(target)

	if r.URL.Query().Get("format") != "svg" {
		writeJSON(w, http.StatusOK, img)
		return
	}
	_, payload, found := strings.Cut(img.DataURI, ";base64,")
	svg, err := base64.StdEncoding.DecodeString(payload)
	if !found || err != nil {
		writeError(w, http.StatusInternalServerError, "placeholder encoding")
		return
	}
	w.Header().Set("Content-Type", "image/svg+xml")
	w.Header().Set("Cache-Control", "public, max-age=86400")
	_, _ = w.Write(svg)
}

func (h *handlers) articles(w http.ResponseWriter, r *http.Request) {
	if h.store == nil {
		writeError(w, http.StatusNotFound, "no article store configured")
		return
	}
	filter, err := parseFilter(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	articles, err := h.store.Query(r.Context(), filter)
	if err != nil {
		h.logger.Error("article query failed", "err", err)
		writeError(w, http.StatusInternalServerError, "query failed")
		return
	}
	if articles == nil {
		articles = []*storage.Article{}
	}
	writeJSON(w, http.StatusOK, articles)
}

func (h *handlers) report(w http.ResponseWriter, r *http.Request) {
	if h.store == nil {
		writeError(w, http.StatusNotFound, "no article store configured")
		return
	}
	articles, err := h.store.Query(r.Context(), storage.Filter{})
	if err != nil {
		h.logger.Error("report query failed", "err", err)
		writeError(w, http.StatusInternalServerError, "query failed")
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := report.WriteHTML(w, report.GenerateCoverage(articles)); err != nil {
		h.logger.Error("report render failed", "err", err)
	}
}

func parseFilter(r *http.Request) (storage.Filter, error) {
	q := r.URL.Query()
	f := storage.Filter{
		URL:     q.Get("url"),
		Keyword: q.Get("keyword"),
		Limit:   100,
	}

	if v := q.Get("needs_image"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return f, errors.New("needs_image must be a boolean")
		}
		f.NeedsImage = b
	}
	if v := q.Get("since"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			return f, errors.New("since must be RFC 3339")
		}
		f.Since = &t
	}
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			return f, errors.New("limit must be a positive integer")
		}
		f.Limit = min(n, maxPageSize)
	}
	if v := q.Get("offset"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			return f, errors.New("offset must be a non-negative integer")
		}
		f.Offset = n
	}
	return f, nil
}

func requestLogger(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()
			next.ServeHTTP(ww, r)
			logger.Debug("http request",
				"method", r.Method,
				"path", r.URL.Path,
				"status", ww.Status(),
				"bytes", ww.BytesWritten(),
				"duration", time.Since(start),
				"request_id", middleware.GetReqID(r.Context()),
			)
		})
	}
}
