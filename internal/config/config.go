// Package config loads and validates scraper configuration via Viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Auth      AuthConfig      `mapstructure:"auth"`
	Scraper   ScraperConfig   `mapstructure:"scraper"`
	HTTP      HTTPConfig      `mapstructure:"http"`
	DB        DBConfig        `mapstructure:"db"`
	Redis     RedisConfig     `mapstructure:"redis"`
	Queue     QueueConfig     `mapstructure:"queue"`
	Storage   StorageConfig   `mapstructure:"storage"`
	PubSub    PubSubConfig    `mapstructure:"pubsub"`
	RateLimit RateLimitConfig `mapstructure:"rate_limit"`
	Logging   LoggingConfig   `mapstructure:"logging"`
}

// ServerConfig controls HTTP server behavior.
type ServerConfig struct {
	Port                   int `mapstructure:"port"`
	RequestTimeoutSeconds  int `mapstructure:"request_timeout_seconds"`
	ShutdownTimeoutSeconds int `mapstructure:"shutdown_timeout_seconds"`
}

// AuthConfig defines API authentication toggles.
type AuthConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	APIKey  string `mapstructure:"api_key"`
}

// ScraperConfig governs batch fan-out and retry behavior.
type ScraperConfig struct {
	Concurrency      int    `mapstructure:"concurrency"`
	MaxRetries       int    `mapstructure:"max_retries"`
	MaxBatchSize     int    `mapstructure:"max_batch_size"`
	MediaChunkSize   int    `mapstructure:"media_chunk_size"`
	BackoffInitialMs int    `mapstructure:"backoff_initial_ms"`
	BackoffMaxMs     int    `mapstructure:"backoff_max_ms"`
	ArchivePages     bool   `mapstructure:"archive_pages"`
	NotifyTopic      string `mapstructure:"notify_topic"`
}

// HTTPConfig configures the outbound page fetcher.
type HTTPConfig struct {
	TimeoutSeconds int    `mapstructure:"timeout_seconds"`
	MaxBodyBytes   int    `mapstructure:"max_body_bytes"`
	MaxRedirects   int    `mapstructure:"max_redirects"`
	UserAgent      string `mapstructure:"user_agent"`
	RespectRobots  bool   `mapstructure:"respect_robots"`
	// BlockedDomains are never fetched; "*.example.com" covers subdomains.
	BlockedDomains []string `mapstructure:"blocked_domains"`
}

// DBConfig controls access to the relational database. An empty DSN selects
// the in-memory store.
type DBConfig struct {
	DSN                    string `mapstructure:"dsn"`
	MaxConns               int32  `mapstructure:"max_conns"`
	MinConns               int32  `mapstructure:"min_conns"`
	MaxConnLifetimeMinutes int    `mapstructure:"max_conn_lifetime_minutes"`
	AutoMigrate            bool   `mapstructure:"auto_migrate"`
}

// RedisConfig points at the Redis instance backing the redis queue.
type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// QueueConfig selects the async batch queue and its worker pool.
type QueueConfig struct {
	Backend     string `mapstructure:"backend"`
	Capacity    int    `mapstructure:"capacity"`
	Workers     int    `mapstructure:"workers"`
	Key         string `mapstructure:"key"`
	PollSeconds int    `mapstructure:"poll_seconds"`
}

// StorageConfig selects where archived pages are written.
type StorageConfig struct {
	Backend   string `mapstructure:"backend"`
	GCSBucket string `mapstructure:"gcs_bucket"`
	Prefix    string `mapstructure:"prefix"`
	LocalDir  string `mapstructure:"local_dir"`
}

// PubSubConfig holds metadata for publish-subscribe notifications. An empty
// project keeps notifications in memory.
type PubSubConfig struct {
	ProjectID string `mapstructure:"project_id"`
}

// RateLimitConfig bounds API requests per client address.
type RateLimitConfig struct {
	Enabled bool    `mapstructure:"enabled"`
	RPS     float64 `mapstructure:"rps"`
	Burst   int     `mapstructure:"burst"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool   `mapstructure:"development"`
	Level       string `mapstructure:"level"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("SCRAPER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.request_timeout_seconds", 60)
	v.SetDefault("server.shutdown_timeout_seconds", 10)
	v.SetDefault("auth.enabled", false)
	v.SetDefault("auth.api_key", "")
	v.SetDefault("scraper.concurrency", 100)
	v.SetDefault("scraper.max_retries", 3)
	v.SetDefault("scraper.max_batch_size", 1000)
	v.SetDefault("scraper.media_chunk_size", 100)
	v.SetDefault("scraper.backoff_initial_ms", 250)
	v.SetDefault("scraper.backoff_max_ms", 2000)
	v.SetDefault("scraper.archive_pages", false)
	v.SetDefault("scraper.notify_topic", "")
	v.SetDefault("http.timeout_seconds", 30)
	v.SetDefault("http.max_body_bytes", 10<<20)
	v.SetDefault("http.max_redirects", 3)
	v.SetDefault("http.user_agent", "media-scraper/1.0")
	v.SetDefault("http.respect_robots", false)
	v.SetDefault("http.blocked_domains", []string{"localhost", "metadata.google.internal"})
	v.SetDefault("db.dsn", "")
	v.SetDefault("db.max_conns", 10)
	v.SetDefault("db.min_conns", 0)
	v.SetDefault("db.max_conn_lifetime_minutes", 30)
	v.SetDefault("db.auto_migrate", true)
	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("queue.backend", "memory")
	v.SetDefault("queue.capacity", 64)
	v.SetDefault("queue.workers", 2)
	v.SetDefault("queue.key", "media-scraper:batches")
	v.SetDefault("queue.poll_seconds", 5)
	v.SetDefault("storage.backend", "memory")
	v.SetDefault("storage.gcs_bucket", "")
	v.SetDefault("storage.prefix", "")
	v.SetDefault("storage.local_dir", "data/pages")
	v.SetDefault("pubsub.project_id", "")
	v.SetDefault("rate_limit.enabled", true)
	v.SetDefault("rate_limit.rps", 2)
	v.SetDefault("rate_limit.burst", 20)
	v.SetDefault("logging.development", true)
	v.SetDefault("logging.level", "info")
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	if c.Scraper.Concurrency <= 0 {
		return fmt.Errorf("scraper.concurrency must be > 0")
	}
	if c.Scraper.MaxRetries <= 0 {
		return fmt.Errorf("scraper.max_retries must be > 0")
	}
	if c.Scraper.MaxBatchSize <= 0 {
		return fmt.Errorf("scraper.max_batch_size must be > 0")
	}
	if c.HTTP.TimeoutSeconds <= 0 {
		return fmt.Errorf("http.timeout_seconds must be > 0")
	}
	if c.HTTP.MaxBodyBytes <= 0 {
		return fmt.Errorf("http.max_body_bytes must be > 0")
	}
	if c.Auth.Enabled && c.Auth.APIKey == "" {
		return fmt.Errorf("auth.api_key must be set when auth is enabled")
	}
	switch c.Queue.Backend {
	case "memory":
	case "redis":
		if c.Redis.Addr == "" {
			return fmt.Errorf("redis.addr must be set when queue.backend is redis")
		}
	default:
		return fmt.Errorf("queue.backend must be one of memory, redis")
	}
	if c.Queue.Workers <= 0 {
		return fmt.Errorf("queue.workers must be > 0")
	}
	switch c.Storage.Backend {
	case "memory", "":
	case "local":
		if c.Storage.LocalDir == "" {
			return fmt.Errorf("storage.local_dir must be set when storage.backend is local")
		}
	case "gcs":
		if c.Storage.GCSBucket == "" {
			return fmt.Errorf("storage.gcs_bucket must be set when storage.backend is gcs")
		}
	default:
		return fmt.Errorf("storage.backend must be one of memory, local, gcs")
	}
	if c.RateLimit.Enabled && c.RateLimit.RPS <= 0 {
		return fmt.Errorf("rate_limit.rps must be > 0 when rate limiting is enabled")
	}
	return nil
}

// FetchTimeout converts the HTTP timeout into a duration.
func (c Config) FetchTimeout() time.Duration {
	return time.Duration(c.HTTP.TimeoutSeconds) * time.Second
}

// RequestTimeout bounds a single API request. The synchronous scrape route is
// exempt: it is bounded by the batch retry budget instead.
func (c Config) RequestTimeout() time.Duration {
	return time.Duration(c.Server.RequestTimeoutSeconds) * time.Second
}

// ShutdownTimeout is the grace period for in-flight requests on shutdown.
func (c Config) ShutdownTimeout() time.Duration {
	return time.Duration(c.Server.ShutdownTimeoutSeconds) * time.Second
}
