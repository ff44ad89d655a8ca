package config

import (
	"errors"
	"fmt"
	"io/fs"
	"math"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
	"gopkg.in/yaml.v3"

	"github.com/sawpanic/anomscan/internal/anomaly"
	"github.com/sawpanic/anomscan/internal/cache"
	applog "github.com/sawpanic/anomscan/internal/log"
	"github.com/sawpanic/anomscan/internal/series"
)

// Config represents the complete anomscan configuration
type Config struct {
	Anomaly AnomalyConfig `yaml:"anomaly"`
	Server  ServerConfig  `yaml:"server"`
	Cache   CacheConfig   `yaml:"cache"`
	Source  SourceConfig  `yaml:"source"`
	Log     LogConfig     `yaml:"log"`
}

// AnomalyConfig holds the engine defaults used when a request omits them
type AnomalyConfig struct {
	Keys      []anomaly.MetricKey `yaml:"keys"`
	Threshold float64             `yaml:"threshold"`
	Edges     bool                `yaml:"edges"`
}

// ServerConfig configures the HTTP API
type ServerConfig struct {
	Host           string        `yaml:"host"`
	Port           int           `yaml:"port"`
	ReadTimeout    time.Duration `yaml:"read_timeout"`
	WriteTimeout   time.Duration `yaml:"write_timeout"`
	IdleTimeout    time.Duration `yaml:"idle_timeout"`
	RequestTimeout time.Duration `yaml:"request_timeout"`
	RateLimitRPS   float64       `yaml:"rate_limit_rps"`   // 0 disables limiting
	RateLimitBurst int           `yaml:"rate_limit_burst"` // Burst capacity
}

// CacheConfig configures result memoization
type CacheConfig struct {
	Backend         string        `yaml:"backend"` // none | memory | redis
	TTL             time.Duration `yaml:"ttl"`
	MaxEntries      int           `yaml:"max_entries"` // Memory backend only
	RedisAddr       string        `yaml:"redis_addr"`
	RedisDB         int           `yaml:"redis_db"`
	KeyPrefix       string        `yaml:"key_prefix"`
	BreakerFailures uint32        `yaml:"breaker_failures"` // Consecutive failures to open circuit
	BreakerTimeout  time.Duration `yaml:"breaker_timeout"`
}

// SourceConfig configures SQL and S3 inputs
type SourceConfig struct {
	Query        string        `yaml:"query"`
	LabelColumn  string        `yaml:"label_column"`
	QueryTimeout time.Duration `yaml:"query_timeout"`
	S3Region     string        `yaml:"s3_region"`
	S3Endpoint   string        `yaml:"s3_endpoint"`
	S3PathStyle  bool          `yaml:"s3_path_style"`
}

// LogConfig configures the process logger
type LogConfig struct {
	Level      string `yaml:"level"`
	Format     string `yaml:"format"` // console | json
	File       string `yaml:"file"`
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups"`
	MaxAgeDays int    `yaml:"max_age_days"`
}

// DefaultConfig returns the configuration used when no file is given
func DefaultConfig() *Config {
	return &Config{
		Anomaly: AnomalyConfig{
			Threshold: anomaly.DefaultThreshold,
		},
		Server: ServerConfig{
			Host:           "127.0.0.1",
			Port:           8080,
			ReadTimeout:    10 * time.Second,
			WriteTimeout:   10 * time.Second,
			IdleTimeout:    60 * time.Second,
			RequestTimeout: 5 * time.Second,
			RateLimitRPS:   20,
			RateLimitBurst: 40,
		},
		Cache: CacheConfig{
			Backend:         cache.BackendMemory,
			TTL:             10 * time.Minute,
			MaxEntries:      cache.DefaultMaxEntries,
			RedisAddr:       "localhost:6379",
			KeyPrefix:       "anomscan:",
			BreakerFailures: 3,
			BreakerTimeout:  30 * time.Second,
		},
		Source: SourceConfig{
			LabelColumn:  "name",
			QueryTimeout: 30 * time.Second,
			S3Region:     "us-east-1",
		},
		Log: LogConfig{
			Level:      "info",
			Format:     applog.FormatConsole,
			MaxSizeMB:  100,
			MaxBackups: 3,
			MaxAgeDays: 28,
		},
	}
}

// Load reads the optional .env file and YAML file, applies ANOMSCAN_*
// overrides and validates the result. Empty paths are skipped.
func Load(configPath, envPath string) (*Config, error) {
	if envPath != "" {
		if err := godotenv.Load(envPath); err != nil {
			if !errors.Is(err, fs.ErrNotExist) {
				return nil, fmt.Errorf("failed to load env file: %w", err)
			}
			log.Debug().Str("path", envPath).Msg("No env file, using process environment")
		}
	}

	cfg := DefaultConfig()
	if configPath != "" {
		data, err := os.ReadFile(configPath)
		if err != nil {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config: %w", err)
		}
	}

	if err := cfg.ApplyEnv(os.LookupEnv); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// ApplyEnv overrides fields from ANOMSCAN_* variables
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) error {
	if v, ok := lookup("ANOMSCAN_KEYS"); ok {
		c.Anomaly.Keys = anomaly.ParseKeys(v)
	}
	if v, ok := lookup("ANOMSCAN_THRESHOLD"); ok {
		t, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return fmt.Errorf("ANOMSCAN_THRESHOLD: %w", err)
		}
		c.Anomaly.Threshold = t
	}
	if v, ok := lookup("ANOMSCAN_HOST"); ok {
		c.Server.Host = v
	}
	if v, ok := lookup("ANOMSCAN_PORT"); ok {
		p, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("ANOMSCAN_PORT: %w", err)
		}
		c.Server.Port = p
	}
	if v, ok := lookup("ANOMSCAN_CACHE_BACKEND"); ok {
		c.Cache.Backend = v
	}
	if v, ok := lookup("ANOMSCAN_REDIS_ADDR"); ok {
		c.Cache.RedisAddr = v
	}
	if v, ok := lookup("ANOMSCAN_LOG_LEVEL"); ok {
		c.Log.Level = v
	}
	if v, ok := lookup("ANOMSCAN_LOG_FORMAT"); ok {
		c.Log.Format = v
	}
	if v, ok := lookup("ANOMSCAN_SQL_QUERY"); ok {
		c.Source.Query = v
	}
	return nil
}

// Validate ensures the configuration is valid and consistent. Keys may be
// empty here since requests and CLI flags can supply them.
func (c *Config) Validate() error {
	if math.IsNaN(c.Anomaly.Threshold) || math.IsInf(c.Anomaly.Threshold, 0) || c.Anomaly.Threshold <= 0 {
		return fmt.Errorf("anomaly.threshold must be a finite number > 0, got %v", c.Anomaly.Threshold)
	}
	for _, k := range c.Anomaly.Keys {
		if k == "" {
			return fmt.Errorf("anomaly.keys must not contain blank keys")
		}
	}

	if c.Server.Port < 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port must be in 0-65535, got %d", c.Server.Port)
	}
	if c.Server.RateLimitRPS < 0 {
		return fmt.Errorf("server.rate_limit_rps must be >= 0")
	}
	if c.Server.RateLimitRPS > 0 && c.Server.RateLimitBurst <= 0 {
		return fmt.Errorf("server.rate_limit_burst must be > 0 when rate limiting is enabled")
	}

	switch c.Cache.Backend {
	case "", cache.BackendNone, cache.BackendMemory:
	case cache.BackendRedis:
		if c.Cache.RedisAddr == "" {
			return fmt.Errorf("cache.redis_addr is required for the redis backend")
		}
	default:
		return fmt.Errorf("cache.backend must be none, memory or redis, got %q", c.Cache.Backend)
	}
	if c.Cache.TTL < 0 {
		return fmt.Errorf("cache.ttl must be >= 0")
	}
	if c.Cache.MaxEntries < 0 {
		return fmt.Errorf("cache.max_entries must be >= 0")
	}

	switch c.Log.Format {
	case "", applog.FormatConsole, applog.FormatJSON:
	default:
		return fmt.Errorf("log.format must be console or json, got %q", c.Log.Format)
	}

	return nil
}

// EngineConfig builds the engine configuration. Explicit keys win over the
// configured ones.
func (c *Config) EngineConfig(keys ...anomaly.MetricKey) anomaly.Config {
	if len(keys) == 0 {
		keys = c.Anomaly.Keys
	}
	return anomaly.Config{
		Keys:      keys,
		Threshold: c.Anomaly.Threshold,
		Edges:     c.Anomaly.Edges,
	}
}

// CacheOptions converts the cache section
func (c *Config) CacheOptions() cache.Options {
	return cache.Options{
		Backend:         c.Cache.Backend,
		MaxEntries:      c.Cache.MaxEntries,
		RedisAddr:       c.Cache.RedisAddr,
		RedisDB:         c.Cache.RedisDB,
		KeyPrefix:       c.Cache.KeyPrefix,
		BreakerFailures: c.Cache.BreakerFailures,
		BreakerTimeout:  c.Cache.BreakerTimeout,
	}
}

// SourceOptions converts the source section
func (c *Config) SourceOptions() series.Options {
	return series.Options{
		Query:        c.Source.Query,
		LabelColumn:  c.Source.LabelColumn,
		QueryTimeout: c.Source.QueryTimeout,
		S3: series.S3Config{
			Region:       c.Source.S3Region,
			Endpoint:     c.Source.S3Endpoint,
			UsePathStyle: c.Source.S3PathStyle,
		},
	}
}

// LogOptions converts the log section
func (c *Config) LogOptions() applog.Options {
	return applog.Options{
		Level:      c.Log.Level,
		Format:     c.Log.Format,
		File:       c.Log.File,
		MaxSizeMB:  c.Log.MaxSizeMB,
		MaxBackups: c.Log.MaxBackups,
		MaxAgeDays: c.Log.MaxAgeDays,
	}
}

// Addr returns the listen address of the HTTP server
func (c *ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}
