// Package config loads and validates scraper configuration via Viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/JakeFAU/marketplace-scraper/internal/crawler"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Server       ServerConfig                     `mapstructure:"server"`
	Auth         AuthConfig                       `mapstructure:"auth"`
	Crawler      CrawlerConfig                    `mapstructure:"crawler"`
	HTTP         HTTPConfig                       `mapstructure:"http"`
	Politeness   PolitenessConfig                 `mapstructure:"politeness"`
	Listing      ListingConfig                    `mapstructure:"listing"`
	Extract      ExtractConfig                    `mapstructure:"extract"`
	Regions      map[string]string                `mapstructure:"regions"`
	JobStore     JobStoreConfig                   `mapstructure:"job_store"`
	Database     DatabaseConfig                   `mapstructure:"database"`
	Redis        RedisConfig                      `mapstructure:"redis"`
	Storage      StorageConfig                    `mapstructure:"storage"`
	PubSub       PubSubConfig                     `mapstructure:"pubsub"`
	Logging      LoggingConfig                    `mapstructure:"logging"`
	StandardJobs map[string]crawler.JobParameters `mapstructure:"standard_jobs"`
}

// ServerConfig controls HTTP server behavior.
type ServerConfig struct {
	Port           int      `mapstructure:"port"`
	AllowedOrigins []string `mapstructure:"allowed_origins"`
}

// AuthConfig defines API authentication toggles.
type AuthConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	APIKey  string `mapstructure:"api_key"`
}

// CrawlerConfig governs dispatcher and per-job defaults.
type CrawlerConfig struct {
	Workers                 int `mapstructure:"workers"`
	QueueDepth              int `mapstructure:"queue_depth"`
	MaxPagesDefault         int `mapstructure:"max_pages_default"`
	ConcurrencyLimitDefault int `mapstructure:"concurrency_limit_default"`
	JobTimeoutSeconds       int `mapstructure:"job_timeout_seconds"`
}

// HTTPConfig configures the page client.
type HTTPConfig struct {
	TimeoutSeconds    int      `mapstructure:"timeout_seconds"`
	MaxRetries        int      `mapstructure:"max_retries"`
	BackoffInitialMs  int      `mapstructure:"backoff_initial_ms"`
	BackoffMultiplier float64  `mapstructure:"backoff_multiplier"`
	UserAgents        []string `mapstructure:"user_agents"`
	AcceptLanguage    string   `mapstructure:"accept_language"`
	BlockIndicators   []string `mapstructure:"block_indicators"`
}

// PolitenessConfig configures request pacing.
type PolitenessConfig struct {
	MinHostIntervalMs int `mapstructure:"min_host_interval_ms"`
	MaxInFlight       int `mapstructure:"max_in_flight"`
	InterPageMinMs    int `mapstructure:"inter_page_min_ms"`
	InterPageMaxMs    int `mapstructure:"inter_page_max_ms"`
	CooldownEvery     int `mapstructure:"cooldown_every"`
	CooldownMinMs     int `mapstructure:"cooldown_min_ms"`
	CooldownMaxMs     int `mapstructure:"cooldown_max_ms"`
	EmptyRetryDelayMs int `mapstructure:"empty_retry_delay_ms"`
	MaxEmptyRetries   int `mapstructure:"max_empty_retries"`
}

// ListingConfig holds the listing page selectors.
type ListingConfig struct {
	LinkSelector string `mapstructure:"link_selector"`
	NextSelector string `mapstructure:"next_selector"`
}

// ExtractConfig controls product extraction.
type ExtractConfig struct {
	RequiredFields []string `mapstructure:"required_fields"`
	MaxReviews     int      `mapstructure:"max_reviews"`
	ParallelTables bool     `mapstructure:"parallel_tables"`
	Category       string   `mapstructure:"category"`
	Timezone       string   `mapstructure:"timezone"`
}

// JobStoreConfig selects where job metadata and results live.
type JobStoreConfig struct {
	Backend string `mapstructure:"backend"`
}

// DatabaseConfig controls access to Postgres.
type DatabaseConfig struct {
	DSN             string        `mapstructure:"dsn"`
	Table           string        `mapstructure:"table"`
	MaxConns        int32         `mapstructure:"max_conns"`
	MinConns        int32         `mapstructure:"min_conns"`
	MaxConnLifetime time.Duration `mapstructure:"max_conn_lifetime"`
}

// RedisConfig controls access to Redis.
type RedisConfig struct {
	Addr       string `mapstructure:"addr"`
	Password   string `mapstructure:"password"`
	DB         int    `mapstructure:"db"`
	KeyPrefix  string `mapstructure:"key_prefix"`
	TTLSeconds int    `mapstructure:"ttl_seconds"`
}

// StorageConfig sets the blob backend used for result exports.
type StorageConfig struct {
	Backend     string             `mapstructure:"backend"`
	Bucket      string             `mapstructure:"bucket"`
	Prefix      string             `mapstructure:"prefix"`
	ContentType string             `mapstructure:"content_type"`
	HashLength  int                `mapstructure:"hash_length"`
	Local       LocalStorageConfig `mapstructure:"local"`
}

// LocalStorageConfig configures the filesystem blob backend.
type LocalStorageConfig struct {
	BaseDir string `mapstructure:"base_dir"`
}

// PubSubConfig holds metadata for publish-subscribe notifications.
type PubSubConfig struct {
	ProjectID string `mapstructure:"project_id"`
	TopicName string `mapstructure:"topic_name"`
}

// LoggingConfig toggles zap development features and the level.
type LoggingConfig struct {
	Development bool   `mapstructure:"development"`
	Level       string `mapstructure:"level"`
}

// DefaultUserAgents is the identity rotation list sent with page requests.
var DefaultUserAgents = []string{
	"Mozilla/5.0 (X11; Ubuntu; Linux x86_64; rv:91.0) Gecko/20100101 Firefox/91.0",
	"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/93.0.4577.63 Safari/537.36",
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/93.0.4577.63 Safari/537.36 Edg/93.0.961.38",
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/92.0.4515.159 Safari/537.36 OPR/79.0.4143.50",
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/92.0.4515.159 Safari/537.36 Vivaldi/4.1",
	"Mozilla/5.0 (Windows NT 6.1; Win64; x64; rv:54.0) Gecko/20100101 Firefox/54.0",
	"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_11_6) AppleWebKit/601.7.7 (KHTML, like Gecko) Version/9.1.2 Safari/601.7.7",
}

// DefaultBlockIndicators are final-URL substrings that mark an anti-bot page.
var DefaultBlockIndicators = []string{
	"captcha",
	"i am not a robot",
	"robot",
	"prove you are human",
	"enter the characters",
}

var requiredFieldNames = map[string]struct{}{
	"title":       {},
	"price":       {},
	"discount":    {},
	"rating":      {},
	"image_url":   {},
	"description": {},
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
	v.SetDefault("server.allowed_origins", []string{"*"})
	v.SetDefault("crawler.workers", 2)
	v.SetDefault("crawler.queue_depth", 64)
	v.SetDefault("crawler.max_pages_default", 17)
	v.SetDefault("crawler.concurrency_limit_default", 5)
	v.SetDefault("crawler.job_timeout_seconds", 270)
	v.SetDefault("http.timeout_seconds", 15)
	v.SetDefault("http.max_retries", 2)
	v.SetDefault("http.backoff_initial_ms", 2000)
	v.SetDefault("http.backoff_multiplier", 1.5)
	v.SetDefault("http.user_agents", DefaultUserAgents)
	v.SetDefault("http.accept_language", "ja-JP,ja;q=0.9,en-US;q=0.8,en;q=0.7")
	v.SetDefault("http.block_indicators", DefaultBlockIndicators)
	v.SetDefault("politeness.min_host_interval_ms", 1000)
	v.SetDefault("politeness.max_in_flight", 8)
	v.SetDefault("politeness.inter_page_min_ms", 2000)
	v.SetDefault("politeness.inter_page_max_ms", 5000)
	v.SetDefault("politeness.cooldown_every", 10)
	v.SetDefault("politeness.cooldown_min_ms", 5000)
	v.SetDefault("politeness.cooldown_max_ms", 9000)
	v.SetDefault("politeness.empty_retry_delay_ms", 5000)
	v.SetDefault("politeness.max_empty_retries", 3)
	v.SetDefault("listing.link_selector", "a.a-link-normal.s-underline-text.s-underline-link-text.s-link-style.a-text-normal")
	v.SetDefault("listing.next_selector", "a.s-pagination-next")
	v.SetDefault("extract.required_fields", []string{"title", "price"})
	v.SetDefault("extract.max_reviews", 5)
	v.SetDefault("extract.parallel_tables", true)
	v.SetDefault("extract.category", "mobile phones")
	v.SetDefault("extract.timezone", "UTC")
	v.SetDefault("regions", map[string]string(crawler.DefaultRegions()))
	v.SetDefault("job_store.backend", "memory")
	v.SetDefault("database.table", "scrape_jobs")
	v.SetDefault("redis.key_prefix", "scraper:job:")
	v.SetDefault("redis.ttl_seconds", 86400)
	v.SetDefault("storage.backend", "memory")
	v.SetDefault("storage.prefix", "results")
	v.SetDefault("storage.content_type", "application/json")
	v.SetDefault("storage.hash_length", 16)
	v.SetDefault("pubsub.topic_name", "scrape-results")
	v.SetDefault("logging.development", true)
	v.SetDefault("logging.level", "info")
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	if c.Crawler.Workers <= 0 {
		return fmt.Errorf("crawler.workers must be > 0")
	}
	if c.Crawler.ConcurrencyLimitDefault <= 0 {
		return fmt.Errorf("crawler.concurrency_limit_default must be > 0")
	}
	if c.HTTP.TimeoutSeconds <= 0 {
		return fmt.Errorf("http.timeout_seconds must be > 0")
	}
	if c.HTTP.MaxRetries <= 0 {
		return fmt.Errorf("http.max_retries must be > 0")
	}
	if c.HTTP.BackoffMultiplier <= 1 {
		return fmt.Errorf("http.backoff_multiplier must be > 1")
	}
	if len(c.HTTP.UserAgents) == 0 {
		return fmt.Errorf("http.user_agents must not be empty")
	}
	if c.Politeness.MaxInFlight <= 0 {
		return fmt.Errorf("politeness.max_in_flight must be > 0")
	}
	if c.Politeness.InterPageMaxMs < c.Politeness.InterPageMinMs {
		return fmt.Errorf("politeness.inter_page_max_ms must be >= inter_page_min_ms")
	}
	if c.Politeness.CooldownMaxMs < c.Politeness.CooldownMinMs {
		return fmt.Errorf("politeness.cooldown_max_ms must be >= cooldown_min_ms")
	}
	for _, field := range c.Extract.RequiredFields {
		if _, ok := requiredFieldNames[field]; !ok {
			return fmt.Errorf("extract.required_fields: unknown field %q", field)
		}
	}
	if _, err := time.LoadLocation(c.Extract.Timezone); err != nil {
		return fmt.Errorf("extract.timezone: %w", err)
	}
	if err := crawler.Regions(c.Regions).Validate(); err != nil {
		return fmt.Errorf("regions: %w", err)
	}
	if c.Auth.Enabled && c.Auth.APIKey == "" {
		return fmt.Errorf("auth.api_key must be set when auth is enabled")
	}
	switch c.JobStore.Backend {
	case "memory", "":
	case "postgres":
		if c.Database.DSN == "" {
			return fmt.Errorf("database.dsn must be set when job_store.backend is postgres")
		}
	case "redis":
		if c.Redis.Addr == "" {
			return fmt.Errorf("redis.addr must be set when job_store.backend is redis")
		}
	default:
		return fmt.Errorf("job_store.backend %q is not supported", c.JobStore.Backend)
	}
	if c.Storage.Backend == "gcs" && c.Storage.Bucket == "" {
		return fmt.Errorf("storage.bucket must be set when storage.backend is gcs")
	}
	return nil
}

// BackoffPolicy converts the HTTP retry knobs into a crawler.BackoffPolicy.
func (c Config) BackoffPolicy() crawler.BackoffPolicy {
	return crawler.BackoffPolicy{
		MaxAttempts: c.HTTP.MaxRetries,
		Initial:     time.Duration(c.HTTP.BackoffInitialMs) * time.Millisecond,
		Multiplier:  c.HTTP.BackoffMultiplier,
	}.Normalize()
}

// JobTimeout bounds one engine run.
func (c Config) JobTimeout() time.Duration {
	return time.Duration(c.Crawler.JobTimeoutSeconds) * time.Second
}

// Millis converts a millisecond knob to a duration.
func Millis(ms int) time.Duration {
	return time.Duration(ms) * time.Millisecond
}
