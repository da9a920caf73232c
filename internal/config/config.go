// Package config provides configuration management for feedreel using Viper.
// It supports configuration from files, environment variables, and defaults.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Default configuration values.
const (
	defaultServerPort        = 8080
	defaultServerTimeout     = 30 * time.Second
	defaultShutdownTimeout   = 10 * time.Second
	defaultMaxOpenConns      = 25
	defaultMaxIdleConns      = 10
	defaultConnMaxIdleTime   = 30 * time.Minute
	defaultSourceTimeout     = 60 * time.Second
	defaultSourceRetries     = 2
	defaultSourceRetryDelay  = 500 * time.Millisecond
	defaultMaxResourceBytes  = 256 * 1024 * 1024
	defaultCircuitThreshold  = 5
	defaultCircuitTimeout    = 30 * time.Second
	defaultLookahead         = 8
	defaultLookbehind        = 1
	defaultMaxConcurrent     = 4
	defaultTransientBackoff  = 10 * time.Second
	defaultAwaitTimeout      = 750 * time.Millisecond
	defaultDirectTimeout     = 30 * time.Second
	defaultResourceCapacity  = 24
	defaultPreviewCapacity   = 128
	defaultPreviewEdge       = 320
	defaultRenderedSlots     = 3
	defaultResumeThreshold   = time.Second
	defaultPositionCapacity  = 500
	defaultPositionRetention = 30 * 24 * time.Hour
	defaultPruneCron         = "0 30 3 * * *"
	defaultOverscroll        = 0.2
	defaultLoadMoreThreshold = 3
	defaultProgressCapacity  = 50
)

// Config holds all configuration for the application.
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Database DatabaseConfig `mapstructure:"database"`
	Logging  LoggingConfig  `mapstructure:"logging"`
	Source   SourceConfig   `mapstructure:"source"`
	Feed     FeedConfig     `mapstructure:"feed"`
	Prefetch PrefetchConfig `mapstructure:"prefetch"`
	Cache    CacheConfig    `mapstructure:"cache"`
	Playback PlaybackConfig `mapstructure:"playback"`
	Paging   PagingConfig   `mapstructure:"paging"`
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	CORSOrigins     []string      `mapstructure:"cors_origins"`
	EnableMetrics   bool          `mapstructure:"enable_metrics"`
}

// DatabaseConfig holds database connection configuration.
type DatabaseConfig struct {
	Driver          string        `mapstructure:"driver"` // sqlite, postgres, mysql
	DSN             string        `mapstructure:"dsn"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	ConnMaxIdleTime time.Duration `mapstructure:"conn_max_idle_time"`
	LogLevel        string        `mapstructure:"log_level"` // silent, error, warn, info
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level      string `mapstructure:"level"`  // debug, info, warn, error
	Format     string `mapstructure:"format"` // json, text
	AddSource  bool   `mapstructure:"add_source"`
	TimeFormat string `mapstructure:"time_format"` // Go layout, empty for RFC3339
}

// SourceConfig selects where media resources and previews are loaded from.
type SourceConfig struct {
	Kind             string        `mapstructure:"kind"` // http, directory
	BaseURL          string        `mapstructure:"base_url"`
	Directory        string        `mapstructure:"directory"`
	Timeout          time.Duration `mapstructure:"timeout"`
	RetryAttempts    int           `mapstructure:"retry_attempts"`
	RetryDelay       time.Duration `mapstructure:"retry_delay"`
	MaxResourceBytes int64         `mapstructure:"max_resource_bytes"`
	AuthToken        string        `mapstructure:"auth_token"`
	CircuitThreshold int           `mapstructure:"circuit_breaker_threshold"`
	CircuitTimeout   time.Duration `mapstructure:"circuit_breaker_timeout"`
	// DefaultDuration applies to directory resources without a sidecar.
	DefaultDuration time.Duration `mapstructure:"default_duration"`
}

// FeedConfig configures where feed pages come from.
type FeedConfig struct {
	Kind     string   `mapstructure:"kind"` // static, http
	URL      string   `mapstructure:"url"`
	Items    []string `mapstructure:"items"` // static feed entries, "video:<id>" or "photos:<id>"
	PageSize int      `mapstructure:"page_size"`
}

// PrefetchConfig configures the sliding prefetch window and the fetch coordinator.
type PrefetchConfig struct {
	Lookahead        int           `mapstructure:"lookahead"`
	Lookbehind       int           `mapstructure:"lookbehind"`
	MaxConcurrent    int           `mapstructure:"max_concurrent"`
	TransientBackoff time.Duration `mapstructure:"transient_backoff"`
	ProgressCapacity int           `mapstructure:"progress_capacity"`
}

// CacheConfig configures the resource and preview caches.
type CacheConfig struct {
	ResourceCapacity int `mapstructure:"resource_capacity"`
	PreviewCapacity  int `mapstructure:"preview_capacity"`
	PreviewEdge      int `mapstructure:"preview_edge"`
}

// PlaybackConfig configures player sessions and position persistence.
type PlaybackConfig struct {
	AwaitTimeout        time.Duration `mapstructure:"await_timeout"`
	DirectFetchTimeout  time.Duration `mapstructure:"direct_fetch_timeout"`
	RenderedSlots       int           `mapstructure:"rendered_slots"`
	ResumeMinOffset     time.Duration `mapstructure:"resume_min_offset"`
	ResumeEndThreshold  time.Duration `mapstructure:"resume_end_threshold"`
	PositionCapacity    int           `mapstructure:"position_capacity"`
	PositionRetention   time.Duration `mapstructure:"position_retention"`
	PruneSchedule       string        `mapstructure:"prune_schedule"`
	PruneScheduleEnable bool          `mapstructure:"prune_schedule_enabled"`
}

// PagingConfig configures the vertical pager.
type PagingConfig struct {
	Overscroll        float64 `mapstructure:"overscroll"`
	LoadMoreThreshold int     `mapstructure:"load_more_threshold"`
}

// Load reads configuration from file, environment variables, and defaults.
// The configPath parameter is optional; if empty, it searches default locations.
func Load(configPath string) (*Config, error) {
	v := viper.New()

	SetDefaults(v)

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./configs")
		v.AddConfigPath("/etc/feedreel")
		v.AddConfigPath("$HOME/.feedreel")
	}

	v.SetEnvPrefix("FEEDREEL")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var configFileNotFoundError viper.ConfigFileNotFoundError
		if !errors.As(err, &configFileNotFoundError) {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
	}

	return FromViper(v)
}

// FromViper decodes and validates configuration already loaded into v. The
// CLI uses it so that bound flags take part in precedence.
func FromViper(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return &cfg, nil
}

// SetDefaults configures default values for all configuration options.
// This should be called before reading the config file to ensure defaults are in place.
func SetDefaults(v *viper.Viper) {
	// Server defaults
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", defaultServerPort)
	v.SetDefault("server.read_timeout", defaultServerTimeout)
	v.SetDefault("server.write_timeout", defaultServerTimeout)
	v.SetDefault("server.shutdown_timeout", defaultShutdownTimeout)
	v.SetDefault("server.cors_origins", []string{"*"})
	v.SetDefault("server.enable_metrics", true)

	// Database defaults
	v.SetDefault("database.driver", "sqlite")
	v.SetDefault("database.dsn", "feedreel.db")
	v.SetDefault("database.max_open_conns", defaultMaxOpenConns)
	v.SetDefault("database.max_idle_conns", defaultMaxIdleConns)
	v.SetDefault("database.conn_max_lifetime", time.Hour)
	v.SetDefault("database.conn_max_idle_time", defaultConnMaxIdleTime)
	v.SetDefault("database.log_level", "warn")

	// Logging defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.add_source", false)
	v.SetDefault("logging.time_format", "")

	// Source defaults
	v.SetDefault("source.kind", "http")
	v.SetDefault("source.base_url", "http://localhost:9000")
	v.SetDefault("source.directory", "./media")
	v.SetDefault("source.timeout", defaultSourceTimeout)
	v.SetDefault("source.retry_attempts", defaultSourceRetries)
	v.SetDefault("source.retry_delay", defaultSourceRetryDelay)
	v.SetDefault("source.max_resource_bytes", defaultMaxResourceBytes)
	v.SetDefault("source.auth_token", "")
	v.SetDefault("source.circuit_breaker_threshold", defaultCircuitThreshold)
	v.SetDefault("source.circuit_breaker_timeout", defaultCircuitTimeout)
	v.SetDefault("source.default_duration", time.Duration(0))

	// Feed defaults
	v.SetDefault("feed.kind", "static")
	v.SetDefault("feed.url", "")
	v.SetDefault("feed.items", []string{})
	v.SetDefault("feed.page_size", 20)

	// Prefetch defaults
	v.SetDefault("prefetch.lookahead", defaultLookahead)
	v.SetDefault("prefetch.lookbehind", defaultLookbehind)
	v.SetDefault("prefetch.max_concurrent", defaultMaxConcurrent)
	v.SetDefault("prefetch.transient_backoff", defaultTransientBackoff)
	v.SetDefault("prefetch.progress_capacity", defaultProgressCapacity)

	// Cache defaults
	v.SetDefault("cache.resource_capacity", defaultResourceCapacity)
	v.SetDefault("cache.preview_capacity", defaultPreviewCapacity)
	v.SetDefault("cache.preview_edge", defaultPreviewEdge)

	// Playback defaults
	v.SetDefault("playback.await_timeout", defaultAwaitTimeout)
	v.SetDefault("playback.direct_fetch_timeout", defaultDirectTimeout)
	v.SetDefault("playback.rendered_slots", defaultRenderedSlots)
	v.SetDefault("playback.resume_min_offset", defaultResumeThreshold)
	v.SetDefault("playback.resume_end_threshold", defaultResumeThreshold)
	v.SetDefault("playback.position_capacity", defaultPositionCapacity)
	v.SetDefault("playback.position_retention", defaultPositionRetention)
	v.SetDefault("playback.prune_schedule", defaultPruneCron) // 6-field cron, daily at 03:30
	v.SetDefault("playback.prune_schedule_enabled", true)

	// Paging defaults
	v.SetDefault("paging.overscroll", defaultOverscroll)
	v.SetDefault("paging.load_more_threshold", defaultLoadMoreThreshold)
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	const maxPort = 65535
	if c.Server.Port < 1 || c.Server.Port > maxPort {
		return fmt.Errorf("server.port must be between 1 and %d", maxPort)
	}

	validDrivers := map[string]bool{"sqlite": true, "postgres": true, "mysql": true}
	if !validDrivers[c.Database.Driver] {
		return fmt.Errorf("database.driver must be one of: sqlite, postgres, mysql")
	}
	if c.Database.DSN == "" {
		return fmt.Errorf("database.dsn is required")
	}

	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[c.Logging.Level] {
		return fmt.Errorf("logging.level must be one of: debug, info, warn, error")
	}
	validFormats := map[string]bool{"json": true, "text": true}
	if !validFormats[c.Logging.Format] {
		return fmt.Errorf("logging.format must be one of: json, text")
	}

	switch c.Source.Kind {
	case "http":
		if c.Source.BaseURL == "" {
			return fmt.Errorf("source.base_url is required for the http source")
		}
	case "directory":
		if c.Source.Directory == "" {
			return fmt.Errorf("source.directory is required for the directory source")
		}
	default:
		return fmt.Errorf("source.kind must be one of: http, directory")
	}
	if c.Source.RetryAttempts < 0 {
		return fmt.Errorf("source.retry_attempts cannot be negative")
	}
	if c.Source.DefaultDuration < 0 {
		return fmt.Errorf("source.default_duration cannot be negative")
	}

	switch c.Feed.Kind {
	case "static":
	case "http":
		if c.Feed.URL == "" {
			return fmt.Errorf("feed.url is required for the http feed")
		}
	default:
		return fmt.Errorf("feed.kind must be one of: static, http")
	}

	if c.Prefetch.Lookahead < 0 || c.Prefetch.Lookbehind < 0 {
		return fmt.Errorf("prefetch.lookahead and prefetch.lookbehind cannot be negative")
	}
	if c.Prefetch.MaxConcurrent < 1 {
		return fmt.Errorf("prefetch.max_concurrent must be at least 1")
	}
	if c.Prefetch.ProgressCapacity < 1 {
		return fmt.Errorf("prefetch.progress_capacity must be at least 1")
	}

	if c.Cache.ResourceCapacity < 1 {
		return fmt.Errorf("cache.resource_capacity must be at least 1")
	}
	if c.Cache.PreviewCapacity < 1 {
		return fmt.Errorf("cache.preview_capacity must be at least 1")
	}

	if c.Playback.RenderedSlots < 1 {
		return fmt.Errorf("playback.rendered_slots must be at least 1")
	}
	if c.Playback.AwaitTimeout <= 0 {
		return fmt.Errorf("playback.await_timeout must be positive")
	}
	if c.Playback.PositionCapacity < 1 {
		return fmt.Errorf("playback.position_capacity must be at least 1")
	}

	if c.Paging.Overscroll < 0 || c.Paging.Overscroll > 1 {
		return fmt.Errorf("paging.overscroll must be between 0 and 1")
	}

	return nil
}

// Address returns the server address in host:port format.
func (c *ServerConfig) Address() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}
