// Package config loads server settings from the environment.
// Variables are prefixed with LEDGER_ (LEDGER_PORT, LEDGER_STORE_DRIVER, ...).
// A .env file in the working directory is read first when present.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
	"github.com/sirupsen/logrus"

	"github.com/warp/recognition-ledger/ledger"
)

const Prefix = "LEDGER"

// Store drivers.
const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
	DriverMemory   = "memory"
)

// Config holds every server setting.
type Config struct {
	// --- HTTP ---
	Port        int      `envconfig:"PORT" default:"8080"`
	CORSOrigins []string `envconfig:"CORS_ORIGINS"`

	// --- Storage ---
	StoreDriver          string `envconfig:"STORE_DRIVER" default:"sqlite"`
	SQLitePath           string `envconfig:"SQLITE_PATH" default:"ledger.db"`
	DatabaseURL          string `envconfig:"DATABASE_URL"`
	DBMaxConns           int32  `envconfig:"DB_MAX_CONNS" default:"10"`
	SerializationRetries int    `envconfig:"SERIALIZATION_RETRIES" default:"5"`

	// --- Logging ---
	LogLevel  string `envconfig:"LOG_LEVEL" default:"info"`
	LogFormat string `envconfig:"LOG_FORMAT" default:"text"`

	// --- Read models ---
	// 0 disables the leaderboard cache.
	LeaderboardCacheTTL time.Duration `envconfig:"LEADERBOARD_CACHE_TTL" default:"15s"`
	WeekStart           string        `envconfig:"WEEK_START" default:"monday"`

	// --- Rate limiting (per actor) ---
	RateLimitRPS   float64 `envconfig:"RATE_LIMIT_RPS" default:"20"`
	RateLimitBurst int     `envconfig:"RATE_LIMIT_BURST" default:"40"`

	// --- Demo ---
	Scenario string `envconfig:"SCENARIO"`
}

// Load reads .env (if present) and the environment, then validates.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	var cfg Config
	if err := envconfig.Process(Prefix, &cfg); err != nil {
		return nil, fmt.Errorf("load configuration: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate rejects settings the server cannot start with.
func (c *Config) Validate() error {
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("%s_PORT must be between 1 and 65535, got %d", Prefix, c.Port)
	}

	switch c.StoreDriver {
	case DriverSQLite:
		if strings.TrimSpace(c.SQLitePath) == "" {
			return fmt.Errorf("%s_SQLITE_PATH is required for the sqlite driver", Prefix)
		}
	case DriverPostgres:
		if strings.TrimSpace(c.DatabaseURL) == "" {
			return fmt.Errorf("%s_DATABASE_URL is required for the postgres driver", Prefix)
		}
		if c.DBMaxConns <= 0 {
			return fmt.Errorf("%s_DB_MAX_CONNS must be > 0", Prefix)
		}
	case DriverMemory:
	default:
		return fmt.Errorf("%s_STORE_DRIVER must be sqlite, postgres or memory, got %q", Prefix, c.StoreDriver)
	}

	if c.SerializationRetries < 0 {
		return fmt.Errorf("%s_SERIALIZATION_RETRIES must be >= 0", Prefix)
	}
	if _, err := logrus.ParseLevel(c.LogLevel); err != nil {
		return fmt.Errorf("%s_LOG_LEVEL: %w", Prefix, err)
	}
	if c.LogFormat != "text" && c.LogFormat != "json" {
		return fmt.Errorf("%s_LOG_FORMAT must be text or json, got %q", Prefix, c.LogFormat)
	}
	if c.LeaderboardCacheTTL < 0 {
		return fmt.Errorf("%s_LEADERBOARD_CACHE_TTL must be >= 0", Prefix)
	}
	if _, err := ledger.ParseWeekday(c.WeekStart); err != nil {
		return fmt.Errorf("%s_WEEK_START: %w", Prefix, err)
	}
	if c.RateLimitRPS < 0 || c.RateLimitBurst < 0 {
		return fmt.Errorf("%s_RATE_LIMIT_RPS and %s_RATE_LIMIT_BURST must be >= 0", Prefix, Prefix)
	}
	return nil
}

// Weekday returns the parsed WeekStart. Call after Validate.
func (c *Config) Weekday() time.Weekday {
	d, _ := ledger.ParseWeekday(c.WeekStart)
	return d
}

// Logger builds the process logger from LogLevel and LogFormat.
func (c *Config) Logger() *logrus.Logger {
	log := logrus.New()
	if c.LogFormat == "json" {
		log.SetFormatter(&logrus.JSONFormatter{})
	} else {
		log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}
	if level, err := logrus.ParseLevel(c.LogLevel); err == nil {
		log.SetLevel(level)
	}
	return log
}

// Addr is the HTTP listen address.
func (c *Config) Addr() string {
	return fmt.Sprintf(":%d", c.Port)
}
