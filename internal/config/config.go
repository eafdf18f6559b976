// Package config loads and validates service configuration via Viper.
package config

import (
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/JakeFAU/topicstreams/internal/fetcher/htmlparse"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Logging  LoggingConfig  `mapstructure:"logging"`
	Scraper  ScraperConfig  `mapstructure:"scraper"`
	Fetcher  FetcherConfig  `mapstructure:"fetcher"`
	Storage  StorageConfig  `mapstructure:"storage"`
	Database DatabaseConfig `mapstructure:"database"`
	Dedup    DedupConfig    `mapstructure:"dedup"`
	Live     LiveConfig     `mapstructure:"live"`
	Relay    RelayConfig    `mapstructure:"relay"`
	PubSub   PubSubConfig   `mapstructure:"pubsub"`
	Redis    RedisConfig    `mapstructure:"redis"`
	Archive  ArchiveConfig  `mapstructure:"archive"`
}

// ServerConfig controls HTTP server behavior.
type ServerConfig struct {
	Port                  int `mapstructure:"port"`
	RequestTimeoutSeconds int `mapstructure:"request_timeout_seconds"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool   `mapstructure:"development"`
	Level       string `mapstructure:"level"`
}

// ScraperConfig governs the scheduler loop.
type ScraperConfig struct {
	// IntervalSeconds of zero or less starts each cycle right after the last.
	IntervalSeconds     int    `mapstructure:"interval_seconds"`
	MaxPages            int    `mapstructure:"max_pages"`
	FetchTimeoutSeconds int    `mapstructure:"fetch_timeout_seconds"`
	MinVisitGapMs       int    `mapstructure:"min_visit_gap_ms"`
	ShuffleSeed         uint64 `mapstructure:"shuffle_seed"`
}

// FetcherConfig selects and tunes the fetch adapter.
type FetcherConfig struct {
	Backend           string              `mapstructure:"backend"`
	UserAgent         string              `mapstructure:"user_agent"`
	SearchURL         string              `mapstructure:"search_url"`
	RSSURL            string              `mapstructure:"rss_url"`
	RespectRobots     bool                `mapstructure:"respect_robots"`
	Selectors         htmlparse.Selectors `mapstructure:"selectors"`
	NavTimeoutSeconds int                 `mapstructure:"nav_timeout_seconds"`
}

// StorageConfig selects the item store.
type StorageConfig struct {
	Backend    string `mapstructure:"backend"`
	SQLitePath string `mapstructure:"sqlite_path"`
}

// DatabaseConfig controls access to Postgres.
type DatabaseConfig struct {
	DSN             string        `mapstructure:"dsn"`
	MaxConns        int32         `mapstructure:"max_conns"`
	MinConns        int32         `mapstructure:"min_conns"`
	MaxConnLifetime time.Duration `mapstructure:"max_conn_lifetime"`
	Migrate         bool          `mapstructure:"migrate"`
}

// DedupConfig selects the seen-cache in front of the item store.
type DedupConfig struct {
	Backend    string `mapstructure:"backend"`
	MaxEntries int    `mapstructure:"max_entries"`
	TTLSeconds int    `mapstructure:"ttl_seconds"`
}

// LiveConfig tunes live subscriptions.
type LiveConfig struct {
	BufferSize          int `mapstructure:"buffer_size"`
	SendTimeoutMs       int `mapstructure:"send_timeout_ms"`
	PingIntervalSeconds int `mapstructure:"ping_interval_seconds"`
}

// RelayConfig controls the optional outbound notification relay.
type RelayConfig struct {
	Enabled         bool     `mapstructure:"enabled"`
	Backends        []string `mapstructure:"backends"`
	BufferSize      int      `mapstructure:"buffer_size"`
	MaxEvents       int      `mapstructure:"max_events"`
	MaxWaitMs       int      `mapstructure:"max_wait_ms"`
	SinkTimeoutMs   int      `mapstructure:"sink_timeout_ms"`
	PostgresChannel string   `mapstructure:"postgres_channel"`
}

// PubSubConfig holds metadata for Google Cloud Pub/Sub notifications.
type PubSubConfig struct {
	ProjectID string `mapstructure:"project_id"`
	TopicName string `mapstructure:"topic_name"`
}

// RedisConfig points at the Redis server used by the relay and the seen-cache.
type RedisConfig struct {
	Addr      string `mapstructure:"addr"`
	Password  string `mapstructure:"password"`
	DB        int    `mapstructure:"db"`
	Channel   string `mapstructure:"channel"`
	KeyPrefix string `mapstructure:"key_prefix"`
}

// ArchiveConfig selects where raw visit snapshots are written.
type ArchiveConfig struct {
	Backend string `mapstructure:"backend"`
	BaseDir string `mapstructure:"base_dir"`
	Bucket  string `mapstructure:"bucket"`
	Prefix  string `mapstructure:"prefix"`
}

// Backend names accepted by Validate.
const (
	BackendNone     = "none"
	BackendMemory   = "memory"
	BackendSQLite   = "sqlite"
	BackendPostgres = "postgres"
	BackendRedis    = "redis"
	BackendLocal    = "local"
	BackendGCS      = "gcs"
	BackendLog      = "log"
	BackendPubSub   = "pubsub"
	BackendStatic   = "static"
	BackendRSS      = "rss"
	BackendColly    = "colly"
	BackendChromedp = "chromedp"
)

// SearchPaths are scanned for config.{yaml,json,toml} when Load gets no path.
var SearchPaths = []string{".", "/etc/topicstreams"}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("TOPICSTREAMS")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	} else {
		v.SetConfigName("config")
		for _, dir := range SearchPaths {
			v.AddConfigPath(dir)
		}
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return Config{}, fmt.Errorf("read config: %w", err)
			}
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
	v.SetDefault("server.port", 5000)
	v.SetDefault("server.request_timeout_seconds", 30)
	v.SetDefault("logging.development", false)
	v.SetDefault("logging.level", "")
	v.SetDefault("scraper.interval_seconds", 60)
	v.SetDefault("scraper.max_pages", 1)
	v.SetDefault("scraper.fetch_timeout_seconds", 60)
	v.SetDefault("scraper.min_visit_gap_ms", 0)
	v.SetDefault("scraper.shuffle_seed", 0)
	v.SetDefault("fetcher.backend", BackendColly)
	v.SetDefault("fetcher.user_agent", "")
	v.SetDefault("fetcher.search_url", "")
	v.SetDefault("fetcher.rss_url", "")
	v.SetDefault("fetcher.respect_robots", false)
	v.SetDefault("fetcher.nav_timeout_seconds", 45)
	for _, key := range []string{"item", "title", "link", "source", "snippet"} {
		v.SetDefault("fetcher.selectors."+key, "")
	}
	v.SetDefault("storage.backend", BackendSQLite)
	v.SetDefault("storage.sqlite_path", "topicstreams.db")
	v.SetDefault("database.dsn", "")
	v.SetDefault("database.max_conns", 10)
	v.SetDefault("database.min_conns", 1)
	v.SetDefault("database.max_conn_lifetime", time.Hour)
	v.SetDefault("database.migrate", true)
	v.SetDefault("dedup.backend", BackendMemory)
	v.SetDefault("dedup.max_entries", 25000)
	v.SetDefault("dedup.ttl_seconds", 7*24*60*60)
	v.SetDefault("live.buffer_size", 64)
	v.SetDefault("live.send_timeout_ms", 0)
	v.SetDefault("live.ping_interval_seconds", 30)
	v.SetDefault("relay.enabled", false)
	v.SetDefault("relay.backends", []string{BackendLog})
	v.SetDefault("relay.buffer_size", 1024)
	v.SetDefault("relay.max_events", 100)
	v.SetDefault("relay.max_wait_ms", 250)
	v.SetDefault("relay.sink_timeout_ms", 5000)
	v.SetDefault("relay.postgres_channel", "news_inserted")
	v.SetDefault("pubsub.project_id", "")
	v.SetDefault("pubsub.topic_name", "")
	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.channel", "topicstreams:news")
	v.SetDefault("redis.key_prefix", "topicstreams")
	v.SetDefault("archive.backend", BackendNone)
	v.SetDefault("archive.base_dir", "snapshots")
	v.SetDefault("archive.bucket", "")
	v.SetDefault("archive.prefix", "snapshots")
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	if c.Scraper.MaxPages < 1 {
		return fmt.Errorf("scraper.max_pages must be >= 1")
	}
	if c.Scraper.MinVisitGapMs < 0 {
		return fmt.Errorf("scraper.min_visit_gap_ms must be >= 0")
	}
	if err := oneOf("fetcher.backend", c.Fetcher.Backend, BackendStatic, BackendRSS, BackendColly, BackendChromedp); err != nil {
		return err
	}
	if err := oneOf("storage.backend", c.Storage.Backend, BackendMemory, BackendSQLite, BackendPostgres); err != nil {
		return err
	}
	if c.Storage.Backend == BackendSQLite && c.Storage.SQLitePath == "" {
		return fmt.Errorf("storage.sqlite_path must be set for the sqlite backend")
	}
	if c.usesPostgres() && c.Database.DSN == "" {
		return fmt.Errorf("database.dsn must be set when postgres is used")
	}
	if err := oneOf("dedup.backend", c.Dedup.Backend, BackendNone, BackendMemory, BackendRedis); err != nil {
		return err
	}
	if c.Live.BufferSize <= 0 {
		return fmt.Errorf("live.buffer_size must be > 0")
	}
	if c.Relay.Enabled {
		if len(c.Relay.Backends) == 0 {
			return fmt.Errorf("relay.backends must not be empty when relay is enabled")
		}
		for _, b := range c.Relay.Backends {
			if err := oneOf("relay.backends", b, BackendLog, BackendPostgres, BackendPubSub, BackendRedis); err != nil {
				return err
			}
		}
		if c.RelayUses(BackendPubSub) && (c.PubSub.ProjectID == "" || c.PubSub.TopicName == "") {
			return fmt.Errorf("pubsub.project_id and pubsub.topic_name must be set for the pubsub relay")
		}
	}
	if c.usesRedis() && c.Redis.Addr == "" {
		return fmt.Errorf("redis.addr must be set when redis is used")
	}
	if c.Dedup.Backend == BackendRedis && c.Storage.Backend == BackendMemory {
		return fmt.Errorf("dedup.backend redis needs a durable storage.backend, got %q", c.Storage.Backend)
	}
	if err := oneOf("archive.backend", c.Archive.Backend, BackendNone, BackendMemory, BackendLocal, BackendGCS); err != nil {
		return err
	}
	if c.Archive.Backend == BackendGCS && c.Archive.Bucket == "" {
		return fmt.Errorf("archive.bucket must be set for the gcs archive")
	}
	if c.Archive.Backend == BackendLocal && c.Archive.BaseDir == "" {
		return fmt.Errorf("archive.base_dir must be set for the local archive")
	}
	return nil
}

func oneOf(key, value string, allowed ...string) error {
	if slices.Contains(allowed, value) {
		return nil
	}
	return fmt.Errorf("%s must be one of %s, got %q", key, strings.Join(allowed, "|"), value)
}

// RelayUses reports whether the relay is enabled with the given backend.
func (c Config) RelayUses(backend string) bool {
	return c.Relay.Enabled && slices.Contains(c.Relay.Backends, backend)
}

func (c Config) usesPostgres() bool {
	return c.Storage.Backend == BackendPostgres || c.RelayUses(BackendPostgres)
}

func (c Config) usesRedis() bool {
	return c.Dedup.Backend == BackendRedis || c.RelayUses(BackendRedis)
}

// Interval is the target time between scheduler cycles.
func (c Config) Interval() time.Duration {
	return time.Duration(c.Scraper.IntervalSeconds) * time.Second
}

// FetchTimeout bounds one fetch call.
func (c Config) FetchTimeout() time.Duration {
	return time.Duration(c.Scraper.FetchTimeoutSeconds) * time.Second
}

// MinVisitGap is the pause enforced between consecutive visits.
func (c Config) MinVisitGap() time.Duration {
	return time.Duration(c.Scraper.MinVisitGapMs) * time.Millisecond
}

// RequestTimeout bounds non-streaming HTTP handlers.
func (c Config) RequestTimeout() time.Duration {
	return time.Duration(c.Server.RequestTimeoutSeconds) * time.Second
}

func millis(ms int) time.Duration {
	return time.Duration(ms) * time.Millisecond
}

// SendTimeout bounds delivery to one live subscriber.
func (c LiveConfig) SendTimeout() time.Duration { return millis(c.SendTimeoutMs) }

// PingInterval is the keep-alive period of live connections.
func (c LiveConfig) PingInterval() time.Duration {
	return time.Duration(c.PingIntervalSeconds) * time.Second
}

// MaxWait is the longest a relay batch is held before flushing.
func (c RelayConfig) MaxWait() time.Duration { return millis(c.MaxWaitMs) }

// SinkTimeout bounds one relay sink call.
func (c RelayConfig) SinkTimeout() time.Duration { return millis(c.SinkTimeoutMs) }

// TTL is how long the redis seen-cache remembers a pair.
func (c DedupConfig) TTL() time.Duration {
	return time.Duration(c.TTLSeconds) * time.Second
}
