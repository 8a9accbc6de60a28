package config

import (
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

type fileConfig struct {
	DatabaseURL   string  `yaml:"database_url"`
	ServerPort    string  `yaml:"server_port"`
	RedisURL      string  `yaml:"redis_url"`
	TMDBToken     string  `yaml:"tmdb_api_read_access_token"`
	TMDBBaseURL   string  `yaml:"tmdb_base_url"`
	TMDBTimeout   string  `yaml:"tmdb_timeout"`
	TMDBRateLimit float64 `yaml:"tmdb_rate_limit"`
	SyncTimeout   string  `yaml:"sync_timeout"`
	StaleAfter    string  `yaml:"stale_after"`
	AuthJWTSecret string  `yaml:"auth_jwt_secret"`
	LogLevel      string  `yaml:"log_level"`
	LogFormat     string  `yaml:"log_format"`
}

// LoadFromFile loads config from a YAML file. database_url is required.
func LoadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var f fileConfig
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, err
	}
	if f.DatabaseURL == "" {
		return nil, ErrMissingDatabaseURL
	}
	c := &Config{
		DatabaseURL:   f.DatabaseURL,
		ServerPort:    f.ServerPort,
		RedisURL:      f.RedisURL,
		TMDBToken:     f.TMDBToken,
		TMDBBaseURL:   f.TMDBBaseURL,
		TMDBTimeout:   parseDuration(f.TMDBTimeout),
		TMDBRateLimit: f.TMDBRateLimit,
		SyncTimeout:   parseDuration(f.SyncTimeout),
		StaleAfter:    parseDuration(f.StaleAfter),
		AuthJWTSecret: f.AuthJWTSecret,
		LogLevel:      f.LogLevel,
		LogFormat:     f.LogFormat,
	}
	c.applyDefaults()
	return c, nil
}

func parseDuration(s string) time.Duration {
	if s == "" {
		return 0
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0
	}
	return d
}
