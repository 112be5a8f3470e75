package scraper

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"time"

	"github.com/FranksOps/newsthumb/internal/blockdetect"
	"github.com/FranksOps/newsthumb/internal/fingerprint"
	"github.com/FranksOps/newsthumb/internal/metrics"
	"github.com/FranksOps/newsthumb/pkg/httpclient"
	"github.com/FranksOps/newsthumb/pkg/ratelimit"
	"github.com/FranksOps/newsthumb/pkg/useragent"
)

// FailureReason classifies why a fetch produced no usable page.
type FailureReason string

const (
	FailureInvalidURL FailureReason = "invalid_url"
	FailureTimeout    FailureReason = "timeout"
	FailureCanceled   FailureReason = "canceled"
	FailureTransport  FailureReason = "transport"
	FailureStatus     FailureReason = "status"
	FailureBlocked    FailureReason = "blocked"
	FailureRobots     FailureReason = "robots"
)

// Failure describes a fetch that did not yield a page.
type Failure struct {
	Reason FailureReason
	Detail string
}

func (f *Failure) Error() string {
	if f.Detail == "" {
		return string(f.Reason)
	}
	return fmt.Sprintf("%s: %s", f.Reason, f.Detail)
}

// Result is the outcome of one fetch: a page (Failure == nil) or a Failure.
// StatusCode, Header and Body are kept on failure when a response arrived.
type Result struct {
	URL        string
	FinalURL   string
	StatusCode int
	Header     http.Header
	Body       []byte
	Duration   time.Duration
	Failure    *Failure
}

// OK reports whether the fetch succeeded.
func (r *Result) OK() bool {
	return r != nil && r.Failure == nil
}

// HTML returns the response body as text.
func (r *Result) HTML() string {
	return string(r.Body)
}

// FetchConfig configures a Fetcher.
type FetchConfig struct {
	Timeout      time.Duration
	MaxRedirects int
	// MaxBodyBytes truncates larger bodies. The cascade only needs the
	// document head and the first screens of markup.
	MaxBodyBytes  int64
	UseCookieJar  bool
	UAPool        *useragent.Pool
	Fingerprint   fingerprint.Profile
	Limiter       *ratelimit.HostLimiter
	Detectors     []blockdetect.Detector
	RespectRobots bool
	Logger        *slog.Logger
}

// Fetcher performs bounded-timeout page fetches with a browser identity.
// Fetch and Head never return Go errors; every failure is a Result.Failure.
type Fetcher struct {
	config FetchConfig
	client *httpclient.Client
	robots *RobotsTxtAuditor
	logger *slog.Logger
}

// NewFetcher initializes a new Fetcher with the given configuration.
// A single client is held across requests so connections and cookies are reused.
func NewFetcher(cfg FetchConfig) (*Fetcher, error) {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = 5 << 20
	}
	if cfg.UAPool == nil {
		cfg.UAPool = useragent.NewPool(nil)
	}
	if cfg.Fingerprint == "" {
		cfg.Fingerprint = fingerprint.ProfileChrome
	}
	if cfg.Detectors == nil {
		cfg.Detectors = blockdetect.DefaultDetectors()
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	transport, err := fingerprint.Transport(cfg.Fingerprint)
	if err != nil {
		return nil, fmt.Errorf("scraper: transport: %w", err)
	}

	client, err := httpclient.New(httpclient.Config{
		Timeout:      cfg.Timeout,
		MaxRedirects: cfg.MaxRedirects,
		UseCookieJar: cfg.UseCookieJar,
		Transport:    transport,
	})
	if err != nil {
		return nil, fmt.Errorf("scraper: client: %w", err)
	}

	f := &Fetcher{
		config: cfg,
		client: client,
		logger: cfg.Logger,
	}
	if cfg.RespectRobots {
		f.robots = NewRobotsTxtAuditor(f, cfg.Logger)
	}
	return f, nil
}

// Timeout returns the per-request timeout in effect.
func (f *Fetcher) Timeout() time.Duration {
	return f.config.Timeout
}

// Fetch GETs targetURL following redirects.
func (f *Fetcher) Fetch(ctx context.Context, targetURL string) *Result {
	return f.do(ctx, http.MethodGet, targetURL, f.robots != nil)
}

// Head issues a HEAD request following redirects. Useful when only the
// final URL matters.
func (f *Fetcher) Head(ctx context.Context, targetURL string) *Result {
	return f.do(ctx, http.MethodHead, targetURL, f.robots != nil)
}

func (f *Fetcher) do(ctx context.Context, method, targetURL string, checkRobots bool) *Result {
	start := time.Now()
	result := &Result{URL: targetURL}

	u, err := url.Parse(targetURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		result.Failure = &Failure{Reason: FailureInvalidURL, Detail: targetURL}
		return result
	}
	domain := u.Hostname()

	defer func() {
		result.Duration = time.Since(start)
		outcome := "ok"
		if result.Failure != nil {
			outcome = string(result.Failure.Reason)
		}
		metrics.RecordFetch(domain, outcome, result.Duration, len(result.Body))
		f.logger.Debug("fetch", "method", method, "url", targetURL, "outcome", outcome,
			"status", result.StatusCode, "duration", result.Duration)
	}()

	ua := f.config.UAPool.Next()

	if checkRobots {
		allowed, err := f.robots.IsAllowed(ctx, targetURL, ua)
		if err == nil && !allowed {
			result.Failure = &Failure{Reason: FailureRobots, Detail: "disallowed by robots.txt"}
			return result
		}
	}

	if err := f.config.Limiter.WaitHost(ctx, domain); err != nil {
		result.Failure = &Failure{Reason: classify(err), Detail: fmt.Sprintf("rate limiter: %v", err)}
		return result
	}

	req, err := http.NewRequestWithContext(ctx, method, targetURL, nil)
	if err != nil {
		result.Failure = &Failure{Reason: FailureInvalidURL, Detail: err.Error()}
		return result
	}
	for k, v := range useragent.Headers(ua) {
		req.Header[k] = v
	}

	resp, err := f.client.Do(ctx, req)
	if err != nil {
		result.Failure = &Failure{Reason: classify(err), Detail: err.Error()}
		return result
	}
	defer resp.Body.Close()

	result.StatusCode = resp.StatusCode
	result.Header = resp.Header
	result.FinalURL = httpclient.FinalURL(resp)

	body, err := io.ReadAll(io.LimitReader(resp.Body, f.config.MaxBodyBytes))
	result.Body = body
	if err != nil {
		result.Failure = &Failure{Reason: classify(err), Detail: fmt.Sprintf("read body: %v", err)}
		return result
	}

	if blocked, vendor := blockdetect.Analyze(&blockdetect.Response{
		StatusCode: resp.StatusCode,
		Header:     resp.Header,
		Body:       body,
	}, f.config.Detectors); blocked {
		result.Failure = &Failure{Reason: FailureBlocked, Detail: vendor}
		return result
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		result.Failure = &Failure{Reason: FailureStatus, Detail: resp.Status}
		return result
	}

	return result
}

func classify(err error) FailureReason {
	var netErr net.Error
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return FailureTimeout
	case errors.As(err, &netErr) && netErr.Timeout():
		return FailureTimeout
	case errors.Is(err, context.Canceled):
		return FailureCanceled
	default:
		return FailureTransport
	}
}
