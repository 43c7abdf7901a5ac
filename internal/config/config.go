package config

import (
	"errors"
	"fmt"
	"io/fs"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config holds service configuration loaded from .env, YAML and env.
type Config struct {
	ServerPort string

	DatasetBackend        string // "sqlite" or "csv"
	SQLitePath            string
	SQLiteMaxOpenConns    int
	SQLiteConnMaxLifetime time.Duration
	MeasurementsCSV       string
	StationsCSV           string

	RequestTimeout     time.Duration
	EmptyDatasetStatus int

	CacheBackend string // "in_memory", "memcached" or "none"
	CacheTTL     time.Duration

	MemcachedAddrs        string
	MemcachedTimeout      time.Duration
	MemcachedMaxIdleConns int

	CacheBreakerEnabled          bool
	CacheBreakerFailureThreshold int
	CacheBreakerTimeout          time.Duration

	CoalesceEnabled bool
	CoalesceTimeout time.Duration

	WarmCache    bool
	WarmInterval time.Duration

	RateLimitRPS   int
	RateLimitBurst int

	ShutdownTimeout               time.Duration
	ShutdownInFlightTimeout       time.Duration
	ShutdownInFlightCheckInterval time.Duration

	OverloadWindow       time.Duration
	OverloadThresholdPct int
	DegradedWindow       time.Duration
	DegradedErrorPct     int
}

type fileConfig struct {
	Server struct {
		Port string `yaml:"port"`
	} `yaml:"server"`

	Dataset struct {
		Backend         string `yaml:"backend"`
		SQLitePath      string `yaml:"sqlite_path"`
		MaxOpenConns    int    `yaml:"max_open_conns"`
		ConnMaxLifetime string `yaml:"conn_max_lifetime"`
		MeasurementsCSV string `yaml:"measurements_csv"`
		StationsCSV     string `yaml:"stations_csv"`
	} `yaml:"dataset"`

	Request struct {
		Timeout string `yaml:"timeout"`
	} `yaml:"request"`

	Query struct {
		EmptyDatasetStatus int `yaml:"empty_dataset_status"`
	} `yaml:"query"`

	Cache struct {
		Backend   string `yaml:"backend"`
		TTL       string `yaml:"ttl"`
		Memcached struct {
			Addrs        string `yaml:"addrs"`
			Timeout      string `yaml:"timeout"`
			MaxIdleConns int    `yaml:"max_idle_conns"`
		} `yaml:"memcached"`
		Breaker struct {
			Enabled          *bool  `yaml:"enabled"`
			FailureThreshold int    `yaml:"failure_threshold"`
			Timeout          string `yaml:"timeout"`
		} `yaml:"breaker"`
		Coalesce struct {
			Enabled *bool  `yaml:"enabled"`
			Timeout string `yaml:"timeout"`
		} `yaml:"coalesce"`
		Warm struct {
			Enabled  bool   `yaml:"enabled"`
			Interval string `yaml:"interval"`
		} `yaml:"warm"`
	} `yaml:"cache"`

	Reliability struct {
		RateLimitRPS   int `yaml:"rate_limit_rps"`
		RateLimitBurst int `yaml:"rate_limit_burst"`
	} `yaml:"reliability"`

	Shutdown struct {
		Timeout               string `yaml:"timeout"`
		InFlightTimeout       string `yaml:"in_flight_timeout"`
		InFlightCheckInterval string `yaml:"in_flight_check_interval"`
	} `yaml:"shutdown"`

	Lifecycle struct {
		OverloadWindow       string `yaml:"overload_window"`
		OverloadThresholdPct int    `yaml:"overload_threshold_pct"`
		DegradedWindow       string `yaml:"degraded_window"`
		DegradedErrorPct     int    `yaml:"degraded_error_pct"`
	} `yaml:"lifecycle"`
}

// Load reads an optional .env file, then config/{ENV_NAME}.yaml (default dev),
// then env overrides. Call from project root.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	env := os.Getenv("ENV_NAME")
	if env == "" {
		env = "dev"
	}

	cwd, err := os.Getwd()
	if err != nil {
		return nil, fmt.Errorf("config: get working directory: %w", err)
	}
	configPath := filepath.Join(cwd, "config", env+".yaml")
	data, err := os.ReadFile(configPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("config file not found: %s", configPath)
		}
		return nil, fmt.Errorf("read config file: %w", err)
	}

	var fc fileConfig
	if err := yaml.Unmarshal(data, &fc); err != nil {
		return nil, fmt.Errorf("parse config file: %w", err)
	}

	cfg := &Config{}

	cfg.ServerPort = firstNonEmpty(os.Getenv("SERVER_PORT"), fc.Server.Port, "8080")

	cfg.DatasetBackend = strings.ToLower(firstNonEmpty(os.Getenv("DATASET_BACKEND"), fc.Dataset.Backend, "sqlite"))
	cfg.SQLitePath = firstNonEmpty(os.Getenv("CLIMATE_DB_PATH"), fc.Dataset.SQLitePath, "Resources/hawaii.sqlite")
	cfg.SQLiteMaxOpenConns = fc.Dataset.MaxOpenConns
	if cfg.SQLiteMaxOpenConns <= 0 {
		cfg.SQLiteMaxOpenConns = 4
	}
	cfg.SQLiteConnMaxLifetime = parseDuration(fc.Dataset.ConnMaxLifetime, 30*time.Minute)
	cfg.MeasurementsCSV = firstNonEmpty(fc.Dataset.MeasurementsCSV, "Resources/hawaii_measurements.csv")
	cfg.StationsCSV = firstNonEmpty(fc.Dataset.StationsCSV, "Resources/hawaii_stations.csv")

	cfg.RequestTimeout = parseDuration(fc.Request.Timeout, 5*time.Second)
	cfg.EmptyDatasetStatus = fc.Query.EmptyDatasetStatus
	if cfg.EmptyDatasetStatus == 0 {
		cfg.EmptyDatasetStatus = http.StatusNotFound
	}

	cfg.CacheBackend = strings.ToLower(firstNonEmpty(os.Getenv("CACHE_BACKEND"), fc.Cache.Backend, "in_memory"))
	cfg.CacheTTL = parseDuration(fc.Cache.TTL, time.Hour)
	cfg.MemcachedAddrs = firstNonEmpty(os.Getenv("MEMCACHED_ADDRS"), fc.Cache.Memcached.Addrs, "localhost:11211")
	cfg.MemcachedTimeout = parseDuration(fc.Cache.Memcached.Timeout, 500*time.Millisecond)
	cfg.MemcachedMaxIdleConns = fc.Cache.Memcached.MaxIdleConns
	if cfg.MemcachedMaxIdleConns <= 0 {
		cfg.MemcachedMaxIdleConns = 2
	}

	cfg.CacheBreakerEnabled = true
	if fc.Cache.Breaker.Enabled != nil {
		cfg.CacheBreakerEnabled = *fc.Cache.Breaker.Enabled
	}
	cfg.CacheBreakerFailureThreshold = fc.Cache.Breaker.FailureThreshold
	if cfg.CacheBreakerFailureThreshold <= 0 {
		cfg.CacheBreakerFailureThreshold = 5
	}
	cfg.CacheBreakerTimeout = parseDuration(fc.Cache.Breaker.Timeout, 30*time.Second)

	cfg.CoalesceEnabled = true
	if fc.Cache.Coalesce.Enabled != nil {
		cfg.CoalesceEnabled = *fc.Cache.Coalesce.Enabled
	}
	cfg.CoalesceTimeout = parseDuration(fc.Cache.Coalesce.Timeout, 5*time.Second)

	cfg.WarmCache = fc.Cache.Warm.Enabled
	cfg.WarmInterval = parseDurationOrZero(fc.Cache.Warm.Interval, 0)

	cfg.RateLimitRPS = fc.Reliability.RateLimitRPS
	if cfg.RateLimitRPS <= 0 {
		cfg.RateLimitRPS = 100
	}
	cfg.RateLimitBurst = fc.Reliability.RateLimitBurst
	if cfg.RateLimitBurst <= 0 {
		cfg.RateLimitBurst = 250
	}

	cfg.ShutdownTimeout = parseDuration(fc.Shutdown.Timeout, 30*time.Second)
	cfg.ShutdownInFlightTimeout = parseDuration(fc.Shutdown.InFlightTimeout, 10*time.Second)
	cfg.ShutdownInFlightCheckInterval = parseDuration(fc.Shutdown.InFlightCheckInterval, 100*time.Millisecond)

	cfg.OverloadWindow = parseDuration(fc.Lifecycle.OverloadWindow, 60*time.Second)
	cfg.OverloadThresholdPct = fc.Lifecycle.OverloadThresholdPct
	if cfg.OverloadThresholdPct <= 0 {
		cfg.OverloadThresholdPct = 80
	}
	cfg.DegradedWindow = parseDuration(fc.Lifecycle.DegradedWindow, 60*time.Second)
	cfg.DegradedErrorPct = fc.Lifecycle.DegradedErrorPct
	if cfg.DegradedErrorPct <= 0 {
		cfg.DegradedErrorPct = 5
	}

	if err := validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return ""
}

// parseDuration parses a duration string and returns defaultVal if parsing fails or result is <= 0.
func parseDuration(s string, defaultVal time.Duration) time.Duration {
	d := parseDurationOrZero(s, defaultVal)
	if d <= 0 {
		return defaultVal
	}
	return d
}

// parseDurationOrZero parses a duration string, returning defaultVal on empty string or parse error.
// Returns zero or negative durations as-is (caller should handle fallback).
func parseDurationOrZero(s string, defaultVal time.Duration) time.Duration {
	s = strings.TrimSpace(s)
	if s == "" {
		return defaultVal
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return defaultVal
	}
	return d
}

// validate performs post-load validation of configuration values.
func validate(cfg *Config) error {
	switch cfg.DatasetBackend {
	case "sqlite":
		if cfg.SQLitePath == "" {
			return fmt.Errorf("dataset.sqlite_path is required for the sqlite backend")
		}
	case "csv":
		if cfg.MeasurementsCSV == "" || cfg.StationsCSV == "" {
			return fmt.Errorf("dataset.measurements_csv and dataset.stations_csv are required for the csv backend")
		}
	default:
		return fmt.Errorf("dataset.backend must be sqlite or csv, got %q", cfg.DatasetBackend)
	}
	switch cfg.CacheBackend {
	case "in_memory", "memcached", "none":
		// valid
	default:
		return fmt.Errorf("cache.backend must be in_memory, memcached or none, got %q", cfg.CacheBackend)
	}
	switch cfg.EmptyDatasetStatus {
	case http.StatusNotFound, http.StatusServiceUnavailable:
		// valid
	default:
		return fmt.Errorf("query.empty_dataset_status must be 404 or 503, got %d", cfg.EmptyDatasetStatus)
	}
	if cfg.CoalesceTimeout > cfg.RequestTimeout {
		cfg.CoalesceTimeout = cfg.RequestTimeout
	}
	return nil
}
