package config

import (
	"errors"
	"os"
	"strconv"
	"time"
)

// ErrMissingDatabaseURL is returned when no database is configured.
var ErrMissingDatabaseURL = errors.New("DATABASE_URL is required")

// MemoryDatabaseURL selects the in-memory store instead of PostgreSQL.
const MemoryDatabaseURL = "memory://"

// Config holds application configuration.
type Config struct {
	DatabaseURL string `yaml:"database_url" env:"DATABASE_URL"`
	ServerPort  string `yaml:"server_port" env:"SERVER_PORT"`
	RedisURL    string `yaml:"redis_url" env:"REDIS_URL"`

	TMDBToken     string        `yaml:"tmdb_api_read_access_token" env:"TMDB_API_READ_ACCESS_TOKEN"`
	TMDBBaseURL   string        `yaml:"tmdb_base_url" env:"TMDB_BASE_URL"`
	TMDBTimeout   time.Duration `yaml:"tmdb_timeout" env:"TMDB_TIMEOUT"`
	TMDBRateLimit float64       `yaml:"tmdb_rate_limit" env:"TMDB_RATE_LIMIT"` // requests per second

	SyncTimeout time.Duration `yaml:"sync_timeout" env:"SYNC_TIMEOUT"`
	StaleAfter  time.Duration `yaml:"stale_after" env:"STALE_AFTER"`

	AuthJWTSecret string `yaml:"auth_jwt_secret" env:"AUTH_JWT_SECRET"`

	LogLevel  string `yaml:"log_level" env:"LOG_LEVEL"`
	LogFormat string `yaml:"log_format" env:"LOG_FORMAT"`
}

// Defaults.
const (
	DefaultServerPort    = "8080"
	DefaultTMDBBaseURL   = "https://api.themoviedb.org/3"
	DefaultTMDBTimeout   = 30 * time.Second
	DefaultTMDBRateLimit = 20
	DefaultSyncTimeout   = 60 * time.Second
	DefaultStaleAfter    = 24 * time.Hour
	DefaultLogLevel      = "info"
	DefaultLogFormat     = "console"
)

// Load builds config from environment variables.
// If DATABASE_URL is not set, Load tries to load .env.local and .env from the current
// directory and from the directory of the executable. DATABASE_URL is required.
func Load() (*Config, error) {
	if os.Getenv("DATABASE_URL") == "" {
		loadEnvFiles()
	}
	c := &Config{
		DatabaseURL:   os.Getenv("DATABASE_URL"),
		ServerPort:    os.Getenv("SERVER_PORT"),
		RedisURL:      os.Getenv("REDIS_URL"),
		TMDBToken:     os.Getenv("TMDB_API_READ_ACCESS_TOKEN"),
		TMDBBaseURL:   os.Getenv("TMDB_BASE_URL"),
		AuthJWTSecret: os.Getenv("AUTH_JWT_SECRET"),
		LogLevel:      os.Getenv("LOG_LEVEL"),
		LogFormat:     os.Getenv("LOG_FORMAT"),
	}
	c.TMDBTimeout = envDuration("TMDB_TIMEOUT")
	c.SyncTimeout = envDuration("SYNC_TIMEOUT")
	c.StaleAfter = envDuration("STALE_AFTER")
	if s := os.Getenv("TMDB_RATE_LIMIT"); s != "" {
		if f, err := strconv.ParseFloat(s, 64); err == nil {
			c.TMDBRateLimit = f
		}
	}
	c.applyDefaults()
	if c.DatabaseURL == "" {
		return nil, ErrMissingDatabaseURL
	}
	return c, nil
}

// UseMemoryStore reports whether the in-memory store was requested.
func (c *Config) UseMemoryStore() bool {
	return c.DatabaseURL == MemoryDatabaseURL
}

func (c *Config) applyDefaults() {
	if c.ServerPort == "" {
		c.ServerPort = DefaultServerPort
	}
	if c.TMDBBaseURL == "" {
		c.TMDBBaseURL = DefaultTMDBBaseURL
	}
	if c.TMDBTimeout <= 0 {
		c.TMDBTimeout = DefaultTMDBTimeout
	}
	if c.TMDBRateLimit <= 0 {
		c.TMDBRateLimit = DefaultTMDBRateLimit
	}
	if c.SyncTimeout <= 0 {
		c.SyncTimeout = DefaultSyncTimeout
	}
	if c.StaleAfter <= 0 {
		c.StaleAfter = DefaultStaleAfter
	}
	if c.LogLevel == "" {
		c.LogLevel = DefaultLogLevel
	}
	if c.LogFormat == "" {
		c.LogFormat = DefaultLogFormat
	}
}

// envDuration parses a duration variable; invalid or missing values yield zero so
// the default applies.
func envDuration(key string) time.Duration {
	s := os.Getenv(key)
	if s == "" {
		return 0
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0
	}
	return d
}
