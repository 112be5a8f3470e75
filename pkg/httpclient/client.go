package httpclient

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/cookiejar"
	"time"

	"golang.org/x/net/publicsuffix"
)

// ErrTooManyRedirects is returned when a response chain exceeds MaxRedirects.
var ErrTooManyRedirects = errors.New("httpclient: too many redirects")

// ErrUnsupportedRedirect is returned when a redirect leaves http/https.
var ErrUnsupportedRedirect = errors.New("httpclient: redirect to unsupported scheme")

// Config defines the setup for the HTTP Client.
type Config struct {
	Timeout time.Duration
	// MaxRedirects caps the redirect chain. Zero uses the default of 10;
	// a negative value disables redirect following.
	MaxRedirects int
	UseCookieJar bool
	// Transport overrides the round tripper, e.g. for uTLS fingerprinting.
	Transport http.RoundTripper
}

// Client wraps a standard http.Client with a bounded timeout, a redirect
// policy that never leaves http/https, and an optional cookie jar.
type Client struct {
	*http.Client
}

// New creates a new HTTP client based on the provided configuration.
func New(cfg Config) (*Client, error) {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.MaxRedirects == 0 {
		cfg.MaxRedirects = 10
	}

	c := &http.Client{
		Timeout: cfg.Timeout,
	}

	if cfg.MaxRedirects > 0 {
		limit := cfg.MaxRedirects
		c.CheckRedirect = func(req *http.Request, via []*http.Request) error {
			if req.URL.Scheme != "http" && req.URL.Scheme != "https" {
				return fmt.Errorf("%w: %s", ErrUnsupportedRedirect, req.URL.Scheme)
			}
			if len(via) >= limit {
				return fmt.Errorf("%w: stopped after %d", ErrTooManyRedirects, limit)
			}
			return nil
		}
	} else {
		c.CheckRedirect = func(req *http.Request, via []*http.Request) error {
			return http.ErrUseLastResponse
		}
	}

	// Aggregator permalinks set consent cookies on the first hop and expect
	// them back on the next one.
	if cfg.UseCookieJar {
		jar, err := cookiejar.New(&cookiejar.Options{PublicSuffixList: publicsuffix.List})
		if err != nil {
			return nil, fmt.Errorf("httpclient: cookie jar: %w", err)
		}
		c.Jar = jar
	}

	if cfg.Transport != nil {
		c.Transport = cfg.Transport
	}

	return &Client{Client: c}, nil
}

// Do executes req bound to ctx. The context controls cancellation
// independently of the client timeout.
func (c *Client) Do(ctx context.Context, req *http.Request) (*http.Response, error) {
	if ctx == nil {
		return nil, errors.New("httpclient: nil context")
	}

	resp, err := c.Client.Do(req.Clone(ctx))
	if err != nil {
		return nil, fmt.Errorf("httpclient: %s %s: %w", req.Method, req.URL.Redacted(), err)
	}
	return resp, nil
}

// FinalURL returns the URL that produced resp after redirects.
func FinalURL(resp *http.Response) string {
	if resp == nil || resp.Request == nil || resp.Request.URL == nil {
		return ""
	}
	return resp.Request.URL.String()
}
