// Package config loads and validates registry crawler configuration via Viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// EnvPrefix namespaces environment overrides, e.g. REGISTRY_SERVER_PORT.
const EnvPrefix = "REGISTRY"

// Provider names accepted by the warehouse and storage sections.
const (
	ProviderNone     = "none"
	ProviderMemory   = "memory"
	ProviderPostgres = "postgres"
	ProviderLocal    = "local"
	ProviderGCS      = "gcs"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Auth      AuthConfig      `mapstructure:"auth"`
	Registry  RegistryConfig  `mapstructure:"registry"`
	Crawler   CrawlerConfig   `mapstructure:"crawler"`
	HTTP      HTTPConfig      `mapstructure:"http"`
	Headless  HeadlessConfig  `mapstructure:"headless"`
	Warehouse WarehouseConfig `mapstructure:"warehouse"`
	Storage   StorageConfig   `mapstructure:"storage"`
	PubSub    PubSubConfig    `mapstructure:"pubsub"`
	Progress  ProgressConfig  `mapstructure:"progress"`
	Logging   LoggingConfig   `mapstructure:"logging"`
}

// ServerConfig controls HTTP server behavior.
type ServerConfig struct {
	Port                  int `mapstructure:"port"`
	RequestTimeoutSeconds int `mapstructure:"request_timeout_seconds"`
	ShutdownSeconds       int `mapstructure:"shutdown_seconds"`
}

// AuthConfig defines API authentication toggles.
type AuthConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	APIKey  string `mapstructure:"api_key"`
}

// RegistryConfig locates the two registry listings.
type RegistryConfig struct {
	RegularURL     string `mapstructure:"regular_url"`
	GrandMasterURL string `mapstructure:"grand_master_url"`
	UserAgent      string `mapstructure:"user_agent"`
	OrgMapPath     string `mapstructure:"org_map_path"`
}

// CrawlerConfig bounds crawl fan-out, deadlines, and politeness.
type CrawlerConfig struct {
	Concurrency         int     `mapstructure:"concurrency"`
	PageTimeoutSeconds  int     `mapstructure:"page_timeout_seconds"`
	CrawlTimeoutSeconds int     `mapstructure:"crawl_timeout_seconds"`
	RequestsPerSecond   float64 `mapstructure:"requests_per_second"`
	Burst               int     `mapstructure:"burst"`
}

// HTTPConfig configures the outbound HTTP client.
type HTTPConfig struct {
	TimeoutSeconds int `mapstructure:"timeout_seconds"`
}

// HeadlessConfig configures the optional chromedp fetcher.
type HeadlessConfig struct {
	Enabled       bool `mapstructure:"enabled"`
	MaxParallel   int  `mapstructure:"max_parallel"`
	NavTimeoutSec int  `mapstructure:"nav_timeout_seconds"`
}

// WarehouseConfig selects and configures the record warehouse.
type WarehouseConfig struct {
	Provider    string `mapstructure:"provider"`
	DSN         string `mapstructure:"dsn"`
	Schema      string `mapstructure:"schema"`
	Table       string `mapstructure:"table"`
	MaxConns    int32  `mapstructure:"max_conns"`
	CachedLimit int    `mapstructure:"cached_limit"`
}

// StorageConfig selects where raw registry pages are archived.
type StorageConfig struct {
	Provider     string `mapstructure:"provider"`
	GCSBucket    string `mapstructure:"gcs_bucket"`
	LocalDir     string `mapstructure:"local_dir"`
	Prefix       string `mapstructure:"prefix"`
	CacheControl string `mapstructure:"cache_control"`
}

// PubSubConfig holds the trigger subscription and the completion topic.
type PubSubConfig struct {
	ProjectID      string `mapstructure:"project_id"`
	Subscription   string `mapstructure:"subscription"`
	TopicName      string `mapstructure:"topic_name"`
	MaxOutstanding int    `mapstructure:"max_outstanding"`
}

// ProgressConfig tunes the progress event hub.
type ProgressConfig struct {
	BufferSize     int `mapstructure:"buffer_size"`
	MaxBatchEvents int `mapstructure:"max_batch_events"`
	MaxBatchWaitMs int `mapstructure:"max_batch_wait_ms"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool   `mapstructure:"development"`
	Level       string `mapstructure:"level"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
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
	v.SetDefault("server.request_timeout_seconds", 360)
	v.SetDefault("server.shutdown_seconds", 15)
	v.SetDefault("auth.enabled", false)
	v.SetDefault("auth.api_key", "")
	v.SetDefault("registry.regular_url", "https://certification.acquia.com/registry")
	v.SetDefault("registry.grand_master_url", "https://certification.acquia.com/registry/grand-masters")
	v.SetDefault("registry.user_agent", "cert-registry-crawler/0.1")
	v.SetDefault("registry.org_map_path", "")
	v.SetDefault("crawler.concurrency", 4)
	v.SetDefault("crawler.page_timeout_seconds", 20)
	v.SetDefault("crawler.crawl_timeout_seconds", 300)
	v.SetDefault("crawler.requests_per_second", 4)
	v.SetDefault("crawler.burst", 4)
	v.SetDefault("http.timeout_seconds", 15)
	v.SetDefault("headless.enabled", false)
	v.SetDefault("headless.max_parallel", 1)
	v.SetDefault("headless.nav_timeout_seconds", 25)
	v.SetDefault("warehouse.provider", ProviderMemory)
	v.SetDefault("warehouse.dsn", "")
	v.SetDefault("warehouse.schema", "certifications")
	v.SetDefault("warehouse.table", "records")
	v.SetDefault("warehouse.max_conns", 4)
	v.SetDefault("warehouse.cached_limit", 100)
	v.SetDefault("storage.provider", ProviderNone)
	v.SetDefault("storage.gcs_bucket", "")
	v.SetDefault("storage.local_dir", "data/pages")
	v.SetDefault("storage.prefix", "pages")
	v.SetDefault("storage.cache_control", "")
	v.SetDefault("pubsub.project_id", "")
	v.SetDefault("pubsub.subscription", "")
	v.SetDefault("pubsub.topic_name", "")
	v.SetDefault("pubsub.max_outstanding", 1)
	v.SetDefault("progress.buffer_size", 4096)
	v.SetDefault("progress.max_batch_events", 1000)
	v.SetDefault("progress.max_batch_wait_ms", 500)
	v.SetDefault("logging.development", false)
	v.SetDefault("logging.level", "info")
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	if c.Auth.Enabled && c.Auth.APIKey == "" {
		return fmt.Errorf("auth.api_key must be set when auth is enabled")
	}
	if c.Registry.RegularURL == "" || c.Registry.GrandMasterURL == "" {
		return fmt.Errorf("registry.regular_url and registry.grand_master_url are required")
	}
	if c.Crawler.Concurrency < 1 || c.Crawler.Concurrency > 16 {
		return fmt.Errorf("crawler.concurrency must be between 1 and 16")
	}
	if c.Crawler.PageTimeoutSeconds <= 0 {
		return fmt.Errorf("crawler.page_timeout_seconds must be > 0")
	}
	if c.Crawler.CrawlTimeoutSeconds < c.Crawler.PageTimeoutSeconds {
		return fmt.Errorf("crawler.crawl_timeout_seconds must be >= crawler.page_timeout_seconds")
	}
	if c.Crawler.RequestsPerSecond < 0 {
		return fmt.Errorf("crawler.requests_per_second must be >= 0")
	}
	if c.HTTP.TimeoutSeconds <= 0 {
		return fmt.Errorf("http.timeout_seconds must be > 0")
	}
	if c.Headless.Enabled && c.Headless.MaxParallel <= 0 {
		return fmt.Errorf("headless.max_parallel must be > 0 when headless is enabled")
	}
	switch c.Warehouse.Provider {
	case ProviderMemory:
	case ProviderPostgres:
		if c.Warehouse.DSN == "" {
			return fmt.Errorf("warehouse.dsn must be set for the postgres provider")
		}
	default:
		return fmt.Errorf("warehouse.provider %q is not one of memory, postgres", c.Warehouse.Provider)
	}
	switch c.Storage.Provider {
	case ProviderNone, ProviderMemory:
	case ProviderLocal:
		if c.Storage.LocalDir == "" {
			return fmt.Errorf("storage.local_dir must be set for the local provider")
		}
	case ProviderGCS:
		if c.Storage.GCSBucket == "" {
			return fmt.Errorf("storage.gcs_bucket must be set for the gcs provider")
		}
	default:
		return fmt.Errorf("storage.provider %q is not one of none, memory, local, gcs", c.Storage.Provider)
	}
	if c.PubSub.TopicName != "" && c.PubSub.ProjectID == "" {
		return fmt.Errorf("pubsub.project_id must be set when pubsub.topic_name is set")
	}
	return nil
}

// ValidateSubscriber checks the settings the asynchronous trigger needs.
func (c Config) ValidateSubscriber() error {
	if c.PubSub.ProjectID == "" || c.PubSub.Subscription == "" {
		return fmt.Errorf("pubsub.project_id and pubsub.subscription are required to subscribe")
	}
	return nil
}

// PageTimeout bounds a single page pipeline.
func (c Config) PageTimeout() time.Duration {
	return time.Duration(c.Crawler.PageTimeoutSeconds) * time.Second
}

// CrawlTimeout bounds a whole-registry crawl.
func (c Config) CrawlTimeout() time.Duration {
	return time.Duration(c.Crawler.CrawlTimeoutSeconds) * time.Second
}

// RequestTimeout bounds a /v1 HTTP request.
func (c Config) RequestTimeout() time.Duration {
	return time.Duration(c.Server.RequestTimeoutSeconds) * time.Second
}

// FetchTimeout bounds one outbound HTTP request.
func (c Config) FetchTimeout() time.Duration {
	return time.Duration(c.HTTP.TimeoutSeconds) * time.Second
}
