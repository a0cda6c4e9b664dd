// Package config defines the top-level configuration for the perp engine and
// provides validation helpers.
package config

import (
	"fmt"
	"strings"
	"time"
)

// Config is the root configuration structure. Fields are populated from a
// TOML file and then optionally overridden by PERPBOT_* environment
// variables.
type Config struct {
	Venue     VenueConfig     `toml:"venue"`
	Evaluator EvaluatorConfig `toml:"evaluator"`
	Engine    EngineConfig    `toml:"engine"`
	Postgres  PostgresConfig  `toml:"postgres"`
	Redis     RedisConfig     `toml:"redis"`
	S3        S3Config        `toml:"s3"`
	Notify    NotifyConfig    `toml:"notify"`
	Mode      string          `toml:"mode"`
	LogLevel  string          `toml:"log_level"`
}

// VenueConfig holds exchange connection parameters. Name selects the venue
// adapter; "sim" runs against the in-memory simulator.
type VenueConfig struct {
	Name       string `toml:"name"`
	BaseURL    string `toml:"base_url"`
	ApiKey     string `toml:"api_key"`
	ApiSecret  string `toml:"api_secret"`
	QuoteAsset string `toml:"quote_asset"`
}

// EvaluatorConfig holds the external evaluation service parameters. An empty
// endpoint disables discretionary exits; hard rules and staged stops still
// run.
type EvaluatorConfig struct {
	Endpoint   string   `toml:"endpoint"`
	ApiKey     string   `toml:"api_key"`
	RateLimit  int      `toml:"rate_limit"`
	RateWindow duration `toml:"rate_window"`
}

// EngineConfig tunes the reconciliation loop and position sizing.
type EngineConfig struct {
	// Interval between reconciliation passes.
	Interval duration `toml:"interval"`
	// Leverage applied when sizing trial and add-on tranches.
	Leverage float64 `toml:"leverage"`
	// TrialFraction is the share of available capital used for a trial entry.
	TrialFraction float64 `toml:"trial_fraction"`
	// TriggerSweepEvery / OrphanSweepEvery / StaleSweepEvery gate the
	// protective-order sweeps to every Nth pass.
	TriggerSweepEvery int `toml:"trigger_sweep_every"`
	OrphanSweepEvery  int `toml:"orphan_sweep_every"`
	StaleSweepEvery   int `toml:"stale_sweep_every"`
	// StaleAfter flags trackers unchecked for this long.
	StaleAfter duration `toml:"stale_after"`
	// DustLeverage is the leverage assumed when estimating margin for the
	// dust sweep.
	DustLeverage float64 `toml:"dust_leverage"`
	// PriceCacheTTL bounds how long cached marks are served.
	PriceCacheTTL duration `toml:"price_cache_ttl"`
	// ArchiveRetentionDays is how much trade history stays in Postgres before
	// the archive mode moves it to object storage.
	ArchiveRetentionDays int `toml:"archive_retention_days"`
}

// PostgresConfig holds PostgreSQL connection parameters.
type PostgresConfig struct {
	DSN           string `toml:"dsn"`
	Host          string `toml:"host"`
	Port          int    `toml:"port"`
	Database      string `toml:"database"`
	User          string `toml:"user"`
	Password      string `toml:"password"`
	SSLMode       string `toml:"ssl_mode"`
	PoolMaxConns  int    `toml:"pool_max_conns"`
	PoolMinConns  int    `toml:"pool_min_conns"`
	RunMigrations bool   `toml:"run_migrations"`
}

// RedisConfig holds Redis connection parameters.
type RedisConfig struct {
	Addr       string `toml:"addr"`
	Password   string `toml:"password"`
	DB         int    `toml:"db"`
	PoolSize   int    `toml:"pool_size"`
	MaxRetries int    `toml:"max_retries"`
	TLSEnabled bool   `toml:"tls_enabled"`
}

// S3Config holds S3-compatible object storage parameters.
type S3Config struct {
	Endpoint       string `toml:"endpoint"`
	Region         string `toml:"region"`
	Bucket         string `toml:"bucket"`
	AccessKey      string `toml:"access_key"`
	SecretKey      string `toml:"secret_key"`
	UseSSL         bool   `toml:"use_ssl"`
	ForcePathStyle bool   `toml:"force_path_style"`
}

// NotifyConfig holds notification channel credentials.
type NotifyConfig struct {
	TelegramToken     string   `toml:"telegram_token"`
	TelegramChatID    string   `toml:"telegram_chat_id"`
	DiscordWebhookURL string   `toml:"discord_webhook_url"`
	Events            []string `toml:"events"`
}

// duration wraps time.Duration so the TOML decoder can parse strings like
// "3m" or "30s".
type duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	return err
}

// MarshalText implements encoding.TextMarshaler for round-trip encoding.
func (d duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// Defaults returns a Config populated with reasonable default values.
func Defaults() Config {
	return Config{
		Venue: VenueConfig{
			Name:       "sim",
			QuoteAsset: "USDT",
		},
		Evaluator: EvaluatorConfig{
			RateLimit:  10,
			RateWindow: duration{time.Minute},
		},
		Engine: EngineConfig{
			Interval:             duration{3 * time.Minute},
			Leverage:             10,
			TrialFraction:        0.10,
			TriggerSweepEvery:    2,
			OrphanSweepEvery:     10,
			StaleSweepEvery:      12,
			StaleAfter:           duration{24 * time.Hour},
			DustLeverage:         15,
			PriceCacheTTL:        duration{10 * time.Minute},
			ArchiveRetentionDays: 90,
		},
		Postgres: PostgresConfig{
			Host:          "localhost",
			Port:          5432,
			Database:      "perpbot",
			User:          "postgres",
			SSLMode:       "disable",
			PoolMaxConns:  10,
			PoolMinConns:  2,
			RunMigrations: true,
		},
		Redis: RedisConfig{
			Addr:       "localhost:6379",
			DB:         0,
			PoolSize:   20,
			MaxRetries: 3,
			TLSEnabled: false,
		},
		S3: S3Config{
			Endpoint:       "http://localhost:9000",
			Region:         "us-east-1",
			Bucket:         "perpbot-data",
			UseSSL:         false,
			ForcePathStyle: true,
		},
		Notify: NotifyConfig{
			Events: []string{"position.trial_opened", "position.stage_advanced", "trade.closed", "critical"},
		},
		Mode:     "paper",
		LogLevel: "info",
	}
}

// validModes enumerates the accepted values for Config.Mode.
var validModes = map[string]bool{
	"trade":   true,
	"paper":   true,
	"monitor": true,
	"archive": true,
}

// validLogLevels enumerates the accepted values for Config.LogLevel.
var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

// Validate checks Config for obviously invalid or missing values and returns
// a combined error describing every problem found.
func (c *Config) Validate() error {
	var errs []string

	if !validModes[strings.ToLower(c.Mode)] {
		errs = append(errs, fmt.Sprintf("unknown mode %q (valid: trade, paper, monitor, archive)", c.Mode))
	}
	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		errs = append(errs, fmt.Sprintf("unknown log_level %q (valid: debug, info, warn, error)", c.LogLevel))
	}

	// Venue -- live trading needs credentials, the simulator does not.
	if c.Venue.Name == "" {
		errs = append(errs, "venue: name must not be empty")
	}
	if c.Mode == "trade" && c.Venue.Name != "sim" {
		if c.Venue.BaseURL == "" {
			errs = append(errs, "venue: base_url is required for mode trade")
		}
		if c.Venue.ApiKey == "" || c.Venue.ApiSecret == "" {
			errs = append(errs, "venue: api_key and api_secret are required for mode trade")
		}
	}
	if c.Venue.QuoteAsset == "" {
		errs = append(errs, "venue: quote_asset must not be empty")
	}

	// Evaluator
	if c.Evaluator.Endpoint != "" {
		if c.Evaluator.RateLimit < 1 {
			errs = append(errs, "evaluator: rate_limit must be >= 1")
		}
		if c.Evaluator.RateWindow.Duration <= 0 {
			errs = append(errs, "evaluator: rate_window must be positive")
		}
	}

	// Engine
	if c.Engine.Interval.Duration <= 0 {
		errs = append(errs, "engine: interval must be positive")
	}
	if c.Engine.Leverage <= 0 {
		errs = append(errs, "engine: leverage must be > 0")
	}
	if c.Engine.TrialFraction <= 0 || c.Engine.TrialFraction > 1 {
		errs = append(errs, fmt.Sprintf("engine: trial_fraction must be in (0, 1], got %g", c.Engine.TrialFraction))
	}
	if c.Engine.DustLeverage <= 0 {
		errs = append(errs, "engine: dust_leverage must be > 0")
	}
	if c.Engine.ArchiveRetentionDays < 1 {
		errs = append(errs, "engine: archive_retention_days must be >= 1")
	}

	// Postgres
	if strings.TrimSpace(c.Postgres.DSN) == "" {
		if c.Postgres.Host == "" {
			errs = append(errs, "postgres: host must not be empty (or set postgres.dsn)")
		}
		if c.Postgres.Port <= 0 || c.Postgres.Port > 65535 {
			errs = append(errs, fmt.Sprintf("postgres: port must be 1-65535, got %d", c.Postgres.Port))
		}
		if c.Postgres.Database == "" {
			errs = append(errs, "postgres: database must not be empty")
		}
	}
	if c.Postgres.PoolMaxConns < 1 {
		errs = append(errs, "postgres: pool_max_conns must be >= 1")
	}
	if c.Postgres.PoolMinConns < 0 {
		errs = append(errs, "postgres: pool_min_conns must be >= 0")
	}
	if c.Postgres.PoolMinConns > c.Postgres.PoolMaxConns {
		errs = append(errs, "postgres: pool_min_conns must not exceed pool_max_conns")
	}

	// Redis
	if c.Redis.Addr == "" {
		errs = append(errs, "redis: addr must not be empty")
	}
	if c.Redis.PoolSize < 1 {
		errs = append(errs, "redis: pool_size must be >= 1")
	}

	// S3 -- required only by the archive mode.
	if c.Mode == "archive" {
		if c.S3.Endpoint == "" {
			errs = append(errs, "s3: endpoint must not be empty for mode archive")
		}
		if c.S3.Bucket == "" {
			errs = append(errs, "s3: bucket must not be empty for mode archive")
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}
