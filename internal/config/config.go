// Package config loads newsthumb settings from config.yaml and
// NEWSTHUMB_* environment variables.
package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/FranksOps/newsthumb/internal/cache"
	"github.com/FranksOps/newsthumb/internal/fingerprint"
	"github.com/FranksOps/newsthumb/internal/ingest"
	"github.com/FranksOps/newsthumb/internal/refresh"
	"github.com/FranksOps/newsthumb/internal/unwrap"
)

// ErrInvalid is wrapped by every Validate failure.
var ErrInvalid = errors.New("config: invalid")

// Config is the top-level configuration.
type Config struct {
	Fetch     FetchConfig     `yaml:"fetch" mapstructure:"fetch"`
	Cache     CacheConfig     `yaml:"cache" mapstructure:"cache"`
	Unwrap    UnwrapConfig    `yaml:"unwrap" mapstructure:"unwrap"`
	RateLimit RateLimitConfig `yaml:"ratelimit" mapstructure:"ratelimit"`
	Refresh   RefreshConfig   `yaml:"refresh" mapstructure:"refresh"`
	Store     StoreConfig     `yaml:"store" mapstructure:"store"`
	Collect   CollectConfig   `yaml:"collect" mapstructure:"collect"`
	Server    ServerConfig    `yaml:"server" mapstructure:"server"`
	Metrics   MetricsConfig   `yaml:"metrics" mapstructure:"metrics"`
	Log       LogConfig       `yaml:"log" mapstructure:"log"`
}

// FetchConfig holds page fetch settings.
type FetchConfig struct {
	Timeout       time.Duration `yaml:"timeout" mapstructure:"timeout"`
	MaxRedirects  int           `yaml:"max_redirects" mapstructure:"max_redirects"`
	MaxBodyBytes  int64         `yaml:"max_body_bytes" mapstructure:"max_body_bytes"`
	Fingerprint   string        `yaml:"fingerprint" mapstructure:"fingerprint"`
	UserAgents    []string      `yaml:"user_agents" mapstructure:"user_agents"`
	RespectRobots bool          `yaml:"respect_robots" mapstructure:"respect_robots"`
}

// CacheConfig holds resolution cache settings.
type CacheConfig struct {
	TTL      time.Duration `yaml:"ttl" mapstructure:"ttl"`
	Capacity int           `yaml:"capacity" mapstructure:"capacity"`
}

// UnwrapConfig holds URL normalizer settings.
type UnwrapConfig struct {
	AggregatorDomains []string `yaml:"aggregator_domains" mapstructure:"aggregator_domains"`
	PermalinkHosts    []string `yaml:"permalink_hosts" mapstructure:"permalink_hosts"`
	MaxDepth          int      `yaml:"max_depth" mapstructure:"max_depth"`
}

// RateLimitConfig holds per-host pacing.
type RateLimitConfig struct {
	PerHostInterval time.Duration `yaml:"per_host_interval" mapstructure:"per_host_interval"`
	Jitter          float64       `yaml:"jitter" mapstructure:"jitter"`
}

// RefreshConfig holds batch refresh settings.
type RefreshConfig struct {
	Concurrency int    `yaml:"concurrency" mapstructure:"concurrency"`
	BatchSize   int    `yaml:"batch_size" mapstructure:"batch_size"`
	Schedule    string `yaml:"schedule" mapstructure:"schedule"`
}

// StoreConfig selects the article store.
type StoreConfig struct {
	Driver string `yaml:"driver" mapstructure:"driver"`
	DSN    string `yaml:"dsn" mapstructure:"dsn"`
}

// CollectConfig holds ingestion settings.
type CollectConfig struct {
	KeywordsFile  string        `yaml:"keywords_file" mapstructure:"keywords_file"`
	MaxPerKeyword int           `yaml:"max_per_keyword" mapstructure:"max_per_keyword"`
	KeywordDelay  time.Duration `yaml:"keyword_delay" mapstructure:"keyword_delay"`
	ResolveImages bool          `yaml:"resolve_images" mapstructure:"resolve_images"`
	// FeedURL is the search feed template; {query} marks the search term.
	FeedURL string `yaml:"feed_url" mapstructure:"feed_url"`
}

// ServerConfig holds the HTTP API settings.
type ServerConfig struct {
	Port int `yaml:"port" mapstructure:"port"`
}

// MetricsConfig holds the standalone metrics listener. Port 0 disables it;
// serve also exposes /metrics on the API port.
type MetricsConfig struct {
	Port int `yaml:"port" mapstructure:"port"`
}

// LogConfig holds logger settings.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// Drivers are the accepted store.driver values.
var Drivers = []string{"sqlite", "postgres", "csv", "json"}

func setDefaults(v *viper.Viper) {
	uw := unwrap.DefaultConfig()

	v.SetDefault("fetch.timeout", 10*time.Second)
	v.SetDefault("fetch.max_redirects", 10)
	v.SetDefault("fetch.max_body_bytes", 5<<20)
	v.SetDefault("fetch.fingerprint", string(fingerprint.ProfileChrome))
	v.SetDefault("fetch.user_agents", []string{})
	v.SetDefault("fetch.respect_robots", false)
	v.SetDefault("cache.ttl", cache.DefaultTTL)
	v.SetDefault("cache.capacity", cache.DefaultCapacity)
	v.SetDefault("unwrap.aggregator_domains", uw.AggregatorDomains)
	v.SetDefault("unwrap.permalink_hosts", uw.PermalinkHosts)
	v.SetDefault("unwrap.max_depth", uw.MaxDepth)
	v.SetDefault("ratelimit.per_host_interval", 500*time.Millisecond)
	v.SetDefault("ratelimit.jitter", 0.0)
	v.SetDefault("refresh.concurrency", 3)
	v.SetDefault("refresh.batch_size", 0)
	v.SetDefault("refresh.schedule", "")
	v.SetDefault("store.driver", "sqlite")
	v.SetDefault("store.dsn", "newsthumb.db")
	v.SetDefault("collect.keywords_file", "")
	v.SetDefault("collect.max_per_keyword", 25)
	v.SetDefault("collect.keyword_delay", 2*time.Second)
	v.SetDefault("collect.resolve_images", false)
	v.SetDefault("collect.feed_url", ingest.DefaultFeedURL)
	v.SetDefault("server.port", 8080)
	v.SetDefault("metrics.port", 0)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")
}

// Load reads configuration. path names an explicit config file; when empty
// an optional config.yaml in the working directory is used.
func Load(path string) (*Config, error) {
	v := viper.New()

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
	}

	v.SetEnvPrefix("NEWSTHUMB")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("config: read file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("config: unmarshal: %w", err)
	}
	return &cfg, nil
}

// Validate reports the first unusable setting, wrapping ErrInvalid.
func (c *Config) Validate() error {
	switch {
	case c.Fetch.Timeout <= 0:
		return fmt.Errorf("%w: fetch.timeout must be positive", ErrInvalid)
	case c.Fetch.MaxBodyBytes <= 0:
		return fmt.Errorf("%w: fetch.max_body_bytes must be positive", ErrInvalid)
	case c.Cache.Capacity <= 0:
		return fmt.Errorf("%w: cache.capacity must be positive", ErrInvalid)
	case c.Cache.TTL <= 0:
		return fmt.Errorf("%w: cache.ttl must be positive", ErrInvalid)
	case c.Unwrap.MaxDepth <= 0:
		return fmt.Errorf("%w: unwrap.max_depth must be positive", ErrInvalid)
	case c.RateLimit.PerHostInterval < 0:
		return fmt.Errorf("%w: ratelimit.per_host_interval must not be negative", ErrInvalid)
	case c.RateLimit.Jitter < 0 || c.RateLimit.Jitter > 1:
		return fmt.Errorf("%w: ratelimit.jitter must be within [0,1]", ErrInvalid)
	case c.Refresh.Concurrency <= 0:
		return fmt.Errorf("%w: refresh.concurrency must be positive", ErrInvalid)
	case c.Collect.MaxPerKeyword <= 0:
		return fmt.Errorf("%w: collect.max_per_keyword must be positive", ErrInvalid)
	}

	if !strings.Contains(c.Collect.FeedURL, ingest.QueryMarker) {
		return fmt.Errorf("%w: collect.feed_url must contain %s", ErrInvalid, ingest.QueryMarker)
	}
	if _, err := fingerprint.ParseProfile(c.Fetch.Fingerprint); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	if !validDriver(c.Store.Driver) {
		return fmt.Errorf("%w: store.driver %q (want one of %s)", ErrInvalid, c.Store.Driver, strings.Join(Drivers, ", "))
	}
	if c.Refresh.Schedule != "" {
		if err := refresh.ValidateSchedule(c.Refresh.Schedule); err != nil {
			return fmt.Errorf("%w: %v", ErrInvalid, err)
		}
	}
	if _, err := parseLevel(c.Log.Level); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	if f := strings.ToLower(c.Log.Format); f != "text" && f != "json" {
		return fmt.Errorf("%w: log.format %q", ErrInvalid, c.Log.Format)
	}
	return nil
}

func validDriver(d string) bool {
	for _, known := range Drivers {
		if d == known {
			return true
		}
	}
	return false
}

func parseLevel(s string) (slog.Level, error) {
	var l slog.Level
	if err := l.UnmarshalText([]byte(s)); err != nil {
		return 0, fmt.Errorf("log.level %q: %w", s, err)
	}
	return l, nil
}

// NewLogger builds the process logger described by cfg.
func NewLogger(cfg LogConfig, w io.Writer) (*slog.Logger, error) {
	level, err := parseLevel(cfg.Level)
	if err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	opts := &slog.HandlerOptions{Level: level}

	var h slog.Handler
	switch strings.ToLower(cfg.Format) {
	case "json":
		h = slog.NewJSONHandler(w, opts)
	case "text", "":
		h = slog.NewTextHandler(w, opts)
	default:
		return nil, fmt.Errorf("config: unknown log format %q", cfg.Format)
	}
	return slog.New(h), nil
}
