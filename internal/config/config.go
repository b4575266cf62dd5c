// Package config loads and validates service configuration via Viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Server     ServerConfig  `mapstructure:"server"`
	Scraper    ScraperConfig `mapstructure:"scraper"`
	Reddit     RedditConfig  `mapstructure:"reddit"`
	FetchRetry RetryConfig   `mapstructure:"fetch_retry"`
	Webhook    WebhookConfig `mapstructure:"webhook"`
	Jobs       JobsConfig    `mapstructure:"jobs"`
	Storage    StorageConfig `mapstructure:"storage"`
	Logging    LoggingConfig `mapstructure:"logging"`
}

// ServerConfig controls HTTP server behavior.
type ServerConfig struct {
	Port           int `mapstructure:"port"`
	TimeoutSeconds int `mapstructure:"timeout_seconds"`
}

// ScraperConfig governs the worker pool and job queue.
type ScraperConfig struct {
	Workers         int `mapstructure:"workers"`
	QueueDepth      int `mapstructure:"queue_depth"`
	FetchTimeoutSec int `mapstructure:"fetch_timeout_seconds"`
	DefaultMaxItems int `mapstructure:"default_max_items"`
	MaxItemsCeiling int `mapstructure:"max_items_ceiling"`
	SyncTimeoutSec  int `mapstructure:"sync_timeout_seconds"`
}

// RedditConfig configures the remote listing client.
type RedditConfig struct {
	BaseURL           string   `mapstructure:"base_url"`
	UserAgent         string   `mapstructure:"user_agent"`
	TimeoutSeconds    int      `mapstructure:"timeout_seconds"`
	Proxies           []string `mapstructure:"proxies"`
	RequestsPerSecond float64  `mapstructure:"requests_per_second"`
	Burst             int      `mapstructure:"burst"`
}

// RetryConfig configures page-fetch retry behavior.
type RetryConfig struct {
	MaxAttempts      int `mapstructure:"max_attempts"`
	BackoffInitialMs int `mapstructure:"backoff_initial_ms"`
	BackoffMaxMs     int `mapstructure:"backoff_max_ms"`
}

// WebhookConfig configures the delivery dispatcher.
type WebhookConfig struct {
	Workers          int `mapstructure:"workers"`
	QueueDepth       int `mapstructure:"queue_depth"`
	TimeoutSeconds   int `mapstructure:"timeout_seconds"`
	MaxAttempts      int `mapstructure:"max_attempts"`
	BackoffInitialMs int `mapstructure:"backoff_initial_ms"`
	BackoffMaxMs     int `mapstructure:"backoff_max_ms"`
}

// JobsConfig controls job retention.
type JobsConfig struct {
	RetentionHours   int `mapstructure:"retention_hours"`
	SweepIntervalMin int `mapstructure:"sweep_interval_minutes"`
}

// StorageConfig selects the job store backend.
type StorageConfig struct {
	Backend      string `mapstructure:"backend"`
	DSN          string `mapstructure:"dsn"`
	MaxOpenConns int    `mapstructure:"max_open_conns"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool   `mapstructure:"development"`
	Level       string `mapstructure:"level"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("REDDITEXTRACT")
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
	v.SetDefault("server.timeout_seconds", 60)
	v.SetDefault("scraper.workers", 4)
	v.SetDefault("scraper.queue_depth", 64)
	v.SetDefault("scraper.fetch_timeout_seconds", 15)
	v.SetDefault("scraper.default_max_items", 100)
	v.SetDefault("scraper.max_items_ceiling", 10000)
	v.SetDefault("scraper.sync_timeout_seconds", 55)
	v.SetDefault("reddit.base_url", "https://www.reddit.com")
	v.SetDefault("reddit.user_agent", "RedditExtract/1.0")
	v.SetDefault("reddit.timeout_seconds", 15)
	v.SetDefault("reddit.requests_per_second", 1.0)
	v.SetDefault("reddit.burst", 2)
	v.SetDefault("fetch_retry.max_attempts", 3)
	v.SetDefault("fetch_retry.backoff_initial_ms", 250)
	v.SetDefault("fetch_retry.backoff_max_ms", 5000)
	v.SetDefault("webhook.workers", 2)
	v.SetDefault("webhook.queue_depth", 64)
	v.SetDefault("webhook.timeout_seconds", 30)
	v.SetDefault("webhook.max_attempts", 5)
	v.SetDefault("webhook.backoff_initial_ms", 1000)
	v.SetDefault("webhook.backoff_max_ms", 60000)
	v.SetDefault("jobs.retention_hours", 24)
	v.SetDefault("jobs.sweep_interval_minutes", 15)
	v.SetDefault("storage.backend", "memory")
	v.SetDefault("storage.max_open_conns", 10)
	v.SetDefault("logging.development", true)
	v.SetDefault("logging.level", "")
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	if c.Scraper.Workers <= 0 {
		return fmt.Errorf("scraper.workers must be > 0")
	}
	if c.Scraper.QueueDepth <= 0 {
		return fmt.Errorf("scraper.queue_depth must be > 0")
	}
	if c.Scraper.MaxItemsCeiling <= 0 {
		return fmt.Errorf("scraper.max_items_ceiling must be > 0")
	}
	if c.FetchRetry.MaxAttempts <= 0 {
		return fmt.Errorf("fetch_retry.max_attempts must be > 0")
	}
	if c.Webhook.MaxAttempts <= 0 {
		return fmt.Errorf("webhook.max_attempts must be > 0")
	}
	switch c.Storage.Backend {
	case "memory":
	case "postgres":
		if c.Storage.DSN == "" {
			return fmt.Errorf("storage.dsn must be set for the postgres backend")
		}
	default:
		return fmt.Errorf("storage.backend must be memory or postgres, got %q", c.Storage.Backend)
	}
	return nil
}

// FetchTimeout returns the per-page fetch budget.
func (c Config) FetchTimeout() time.Duration {
	return time.Duration(c.Scraper.FetchTimeoutSec) * time.Second
}

// SyncTimeout returns the budget for synchronous scrape requests.
func (c Config) SyncTimeout() time.Duration {
	return time.Duration(c.Scraper.SyncTimeoutSec) * time.Second
}

// Retention returns how long terminal jobs are kept before sweeping.
func (c Config) Retention() time.Duration {
	return time.Duration(c.Jobs.RetentionHours) * time.Hour
}
