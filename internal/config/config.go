package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/sells-group/geolookup/internal/store"
)

// Config holds the full application configuration.
type Config struct {
	Lookup  LookupConfig  `yaml:"lookup" mapstructure:"lookup"`
	Geocode GeocodeConfig `yaml:"geocode" mapstructure:"geocode"`
	Store   StoreConfig   `yaml:"store" mapstructure:"store"`
	Golden  GoldenConfig  `yaml:"golden" mapstructure:"golden"`
	Server  ServerConfig  `yaml:"server" mapstructure:"server"`
	Log     LogConfig     `yaml:"log" mapstructure:"log"`
}

// LookupConfig configures tier traversal and the local cache.
type LookupConfig struct {
	ConfidenceThreshold float64 `yaml:"confidence_threshold" mapstructure:"confidence_threshold"`
	MinMatchScore       float64 `yaml:"min_match_score" mapstructure:"min_match_score"`
	CacheTTLHours       int     `yaml:"cache_ttl_hours" mapstructure:"cache_ttl_hours"`
	MaxCacheEntries     int     `yaml:"max_cache_entries" mapstructure:"max_cache_entries"`
	BatchConcurrency    int     `yaml:"batch_concurrency" mapstructure:"batch_concurrency"`
	BreakerThreshold    int     `yaml:"breaker_threshold" mapstructure:"breaker_threshold"`
	BreakerCooldownSecs int     `yaml:"breaker_cooldown_secs" mapstructure:"breaker_cooldown_secs"`
}

// CacheTTL returns the cache entry lifetime.
func (c LookupConfig) CacheTTL() time.Duration {
	return time.Duration(c.CacheTTLHours) * time.Hour
}

// GeocodeConfig configures the Google geocoding client.
type GeocodeConfig struct {
	APIKey             string  `yaml:"api_key" mapstructure:"api_key"`
	BaseURL            string  `yaml:"base_url" mapstructure:"base_url"`
	TimeoutSecs        int     `yaml:"timeout_secs" mapstructure:"timeout_secs"`
	AttemptTimeoutSecs int     `yaml:"attempt_timeout_secs" mapstructure:"attempt_timeout_secs"`
	MaxAttempts        int     `yaml:"max_attempts" mapstructure:"max_attempts"`
	RateLimit          float64 `yaml:"rate_limit" mapstructure:"rate_limit"`
	MaxCallsPerDay     int     `yaml:"max_calls_per_day" mapstructure:"max_calls_per_day"`
	WarningThreshold   int     `yaml:"warning_threshold" mapstructure:"warning_threshold"`
	TimeZone           string  `yaml:"time_zone" mapstructure:"time_zone"`
}

// Timeout returns the per-call timeout including retries.
func (c GeocodeConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSecs) * time.Second
}

// AttemptTimeout returns the bound on a single provider request.
func (c GeocodeConfig) AttemptTimeout() time.Duration {
	return time.Duration(c.AttemptTimeoutSecs) * time.Second
}

// StoreConfig configures the shared record store.
type StoreConfig struct {
	Driver      string             `yaml:"driver" mapstructure:"driver"`
	DatabaseURL string             `yaml:"database_url" mapstructure:"database_url"`
	Pool        store.PoolConfig   `yaml:"pool" mapstructure:"pool"`
	Sheets      store.SheetsConfig `yaml:"sheets" mapstructure:"sheets"`
}

// GoldenConfig configures the golden mapping table.
type GoldenConfig struct {
	SeedFile string `yaml:"seed_file" mapstructure:"seed_file"`
}

// ServerConfig configures the HTTP API.
type ServerConfig struct {
	Port int `yaml:"port" mapstructure:"port"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// Load reads configuration from file and environment.
func Load() (*Config, error) {
	v := viper.New()

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Environment
	v.SetEnvPrefix("GEOLOOKUP")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("lookup.confidence_threshold", 0.80)
	v.SetDefault("lookup.min_match_score", 0.75)
	v.SetDefault("lookup.cache_ttl_hours", 24)
	v.SetDefault("lookup.max_cache_entries", 10000)
	v.SetDefault("lookup.batch_concurrency", 4)
	v.SetDefault("lookup.breaker_threshold", 5)
	v.SetDefault("lookup.breaker_cooldown_secs", 30)
	v.SetDefault("geocode.api_key", "")
	v.SetDefault("geocode.base_url", "https://maps.googleapis.com/maps/api/geocode/json")
	v.SetDefault("geocode.timeout_secs", 60)
	v.SetDefault("geocode.attempt_timeout_secs", 20)
	v.SetDefault("geocode.max_attempts", 3)
	v.SetDefault("geocode.rate_limit", 10)
	v.SetDefault("geocode.max_calls_per_day", 1000)
	v.SetDefault("geocode.warning_threshold", 800)
	v.SetDefault("geocode.time_zone", "UTC")
	v.SetDefault("store.driver", "sqlite")
	v.SetDefault("store.database_url", "geolookup.db")
	v.SetDefault("store.sheets.spreadsheet_id", "")
	v.SetDefault("store.sheets.worksheet", "Registry")
	v.SetDefault("store.sheets.credentials_file", "")
	v.SetDefault("golden.seed_file", "")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("server.port", 8080)

	// Read config file (optional)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, eris.Wrap(err, "config: read file")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, eris.Wrap(err, "config: unmarshal")
	}

	return &cfg, nil
}

// Validate checks the settings a command needs. mode is one of "resolve",
// "serve" or "migrate". All problems are reported together.
func (c *Config) Validate(mode string) error {
	var errs []string

	switch mode {
	case "resolve", "migrate":
	case "serve":
		if c.Server.Port <= 0 {
			errs = append(errs, "server.port must be > 0")
		}
	default:
		return eris.Errorf("config: unknown mode %q", mode)
	}

	switch c.Store.Driver {
	case "sqlite", "postgres":
		if c.Store.DatabaseURL == "" {
			errs = append(errs, "store.database_url is required")
		}
	case "sheets":
		if c.Store.Sheets.SpreadsheetID == "" {
			errs = append(errs, "store.sheets.spreadsheet_id is required")
		}
	default:
		errs = append(errs, fmt.Sprintf("store.driver %q is not one of sqlite, postgres, sheets", c.Store.Driver))
	}

	if mode != "migrate" {
		l := c.Lookup
		if l.ConfidenceThreshold <= 0 || l.ConfidenceThreshold > 1 {
			errs = append(errs, "lookup.confidence_threshold must be in (0, 1]")
		}
		if l.MinMatchScore <= 0 || l.MinMatchScore >= l.ConfidenceThreshold {
			errs = append(errs, "lookup.min_match_score must be > 0 and below confidence_threshold")
		}
		if l.MaxCacheEntries <= 0 {
			errs = append(errs, "lookup.max_cache_entries must be > 0")
		}
		if l.CacheTTLHours <= 0 {
			errs = append(errs, "lookup.cache_ttl_hours must be > 0")
		}
		if l.BatchConcurrency < 1 || l.BatchConcurrency > 64 {
			errs = append(errs, "lookup.batch_concurrency must be between 1 and 64")
		}

		g := c.Geocode
		if g.APIKey == "" {
			errs = append(errs, "geocode.api_key is required")
		}
		if g.MaxCallsPerDay <= 0 {
			errs = append(errs, "geocode.max_calls_per_day must be > 0")
		}
		if g.WarningThreshold < 0 || g.WarningThreshold > g.MaxCallsPerDay {
			errs = append(errs, "geocode.warning_threshold must be between 0 and max_calls_per_day")
		}
		if g.MaxAttempts < 1 {
			errs = append(errs, "geocode.max_attempts must be >= 1")
		}
		if g.AttemptTimeoutSecs < 0 || (g.TimeoutSecs > 0 && g.AttemptTimeoutSecs > g.TimeoutSecs) {
			errs = append(errs, "geocode.attempt_timeout_secs must be between 0 and timeout_secs")
		}
		if _, err := time.LoadLocation(g.TimeZone); err != nil {
			errs = append(errs, fmt.Sprintf("geocode.time_zone %q is not a known location", g.TimeZone))
		}
	}

	if len(errs) > 0 {
		return eris.Errorf("config: %s", strings.Join(errs, "; "))
	}
	return nil
}

// InitLogger initializes the global zap logger.
func InitLogger(cfg LogConfig) error {
	var zapCfg zap.Config
	if cfg.Format == "console" {
		zapCfg = zap.NewDevelopmentConfig()
	} else {
		zapCfg = zap.NewProductionConfig()
	}

	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return eris.Wrap(err, "config: parse log level")
	}
	zapCfg.Level.SetLevel(level)

	logger, err := zapCfg.Build()
	if err != nil {
		return eris.Wrap(err, "config: build logger")
	}
	zap.ReplaceGlobals(logger)

	return nil
}
