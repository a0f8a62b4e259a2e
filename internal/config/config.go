// Package config loads runtime settings from defaults, an optional YAML
// file and CARDSYNERGY_* environment variables, in increasing precedence.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/dshills/cardsynergy-mcp/internal/embedder"
)

// DefaultDBPath is used when no database path is configured
const DefaultDBPath = "cardsynergy.db"

type Config struct {
	DBPath   string `yaml:"db_path"`
	LogLevel string `yaml:"log_level"`

	Embedder EmbedderConfig `yaml:"embedder"`
	Search   SearchConfig   `yaml:"search"`
	Builder  BuilderConfig  `yaml:"builder"`
	NATS     NATSConfig     `yaml:"nats"`

	// MetricsAddr enables the Prometheus endpoint when non-empty, e.g. ":9090"
	MetricsAddr string `yaml:"metrics_addr"`
}

type EmbedderConfig struct {
	Provider  string `yaml:"provider"` // jina, openai, local; empty auto-detects
	Endpoint  string `yaml:"endpoint"`
	Model     string `yaml:"model"`
	Dimension int    `yaml:"dimension"`
	CacheSize int    `yaml:"cache_size"`

	// Keys are read from the environment only
	JinaKey   string `yaml:"-"`
	OpenAIKey string `yaml:"-"`

	BreakerMinRequests  uint32        `yaml:"breaker_min_requests"`
	BreakerFailureRatio float64       `yaml:"breaker_failure_ratio"`
	BreakerOpenTimeout  time.Duration `yaml:"breaker_open_timeout"`
}

type SearchConfig struct {
	CandidateWindow   int           `yaml:"candidate_window"`
	DefaultLimit      int           `yaml:"default_limit"`
	MaxLimit          int           `yaml:"max_limit"`
	DefaultTimeout    time.Duration `yaml:"default_timeout"`
	ResponseCacheSize int           `yaml:"response_cache_size"`
	ThemeSeeds        int           `yaml:"theme_seeds"`
}

type BuilderConfig struct {
	PoolSize      int `yaml:"pool_size"`
	PartitionSize int `yaml:"partition_size"`
}

type NATSConfig struct {
	URL     string `yaml:"url"` // Empty disables notifications
	Subject string `yaml:"subject"`
}

// Default returns the built-in settings
func Default() Config {
	return Config{
		DBPath:   DefaultDBPath,
		LogLevel: "info",
		Embedder: EmbedderConfig{
			Dimension:           256,
			CacheSize:           1000,
			BreakerMinRequests:  5,
			BreakerFailureRatio: 0.5,
			BreakerOpenTimeout:  30 * time.Second,
		},
		Search: SearchConfig{
			CandidateWindow:   100,
			DefaultLimit:      20,
			MaxLimit:          100,
			DefaultTimeout:    2 * time.Second,
			ResponseCacheSize: 256,
			ThemeSeeds:        5,
		},
		Builder: BuilderConfig{
			PartitionSize: 512,
		},
		NATS: NATSConfig{
			Subject: "cardsynergy.cache.rebuilt",
		},
	}
}

// Load applies the YAML file at path (if non-empty) over the defaults,
// then environment overrides, and validates the result
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config %s: %w", path, err)
		}
	}
	applyEnv(&cfg)
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func applyEnv(cfg *Config) {
	cfg.DBPath = envString("CARDSYNERGY_DB_PATH", cfg.DBPath)
	cfg.LogLevel = envString("CARDSYNERGY_LOG_LEVEL", cfg.LogLevel)
	cfg.MetricsAddr = envString("CARDSYNERGY_METRICS_ADDR", cfg.MetricsAddr)

	cfg.Embedder.Provider = envString("CARDSYNERGY_EMBEDDER_PROVIDER", cfg.Embedder.Provider)
	cfg.Embedder.Endpoint = envString("CARDSYNERGY_EMBEDDER_ENDPOINT", cfg.Embedder.Endpoint)
	cfg.Embedder.Model = envString("CARDSYNERGY_EMBEDDER_MODEL", cfg.Embedder.Model)
	cfg.Embedder.Dimension = envInt("CARDSYNERGY_EMBEDDER_DIMENSION", cfg.Embedder.Dimension)
	cfg.Embedder.CacheSize = envInt("CARDSYNERGY_EMBEDDER_CACHE_SIZE", cfg.Embedder.CacheSize)
	cfg.Embedder.JinaKey = envString("JINA_API_KEY", cfg.Embedder.JinaKey)
	cfg.Embedder.OpenAIKey = envString("OPENAI_API_KEY", cfg.Embedder.OpenAIKey)

	cfg.Search.CandidateWindow = envInt("CARDSYNERGY_CANDIDATE_WINDOW", cfg.Search.CandidateWindow)
	cfg.Search.DefaultTimeout = envDuration("CARDSYNERGY_SEARCH_TIMEOUT", cfg.Search.DefaultTimeout)
	cfg.Search.ResponseCacheSize = envInt("CARDSYNERGY_RESPONSE_CACHE_SIZE", cfg.Search.ResponseCacheSize)

	cfg.Builder.PoolSize = envInt("CARDSYNERGY_BUILDER_POOL_SIZE", cfg.Builder.PoolSize)
	cfg.Builder.PartitionSize = envInt("CARDSYNERGY_BUILDER_PARTITION_SIZE", cfg.Builder.PartitionSize)

	cfg.NATS.URL = envString("CARDSYNERGY_NATS_URL", cfg.NATS.URL)
	cfg.NATS.Subject = envString("CARDSYNERGY_NATS_SUBJECT", cfg.NATS.Subject)
}

// Validate rejects settings the components cannot run with
func (c Config) Validate() error {
	var problems []error
	if c.DBPath == "" {
		problems = append(problems, errors.New("db_path is required"))
	}
	if _, err := ParseLevel(c.LogLevel); err != nil {
		problems = append(problems, err)
	}
	if c.Embedder.Dimension <= 0 {
		problems = append(problems, fmt.Errorf("embedder dimension must be positive, got %d", c.Embedder.Dimension))
	}
	if c.Search.CandidateWindow <= 0 {
		problems = append(problems, fmt.Errorf("candidate_window must be positive, got %d", c.Search.CandidateWindow))
	}
	if c.Search.DefaultLimit <= 0 || c.Search.DefaultLimit > c.Search.MaxLimit {
		problems = append(problems, fmt.Errorf("default_limit must be in [1, %d], got %d", c.Search.MaxLimit, c.Search.DefaultLimit))
	}
	if c.Builder.PartitionSize <= 0 {
		problems = append(problems, fmt.Errorf("partition_size must be positive, got %d", c.Builder.PartitionSize))
	}
	if c.NATS.URL != "" && c.NATS.Subject == "" {
		problems = append(problems, errors.New("nats subject is required when nats url is set"))
	}
	return errors.Join(problems...)
}

// EmbedderSettings converts to the embedder factory configuration
func (c Config) EmbedderSettings() embedder.Config {
	return embedder.Config{
		Provider:  c.Embedder.Provider,
		JinaKey:   c.Embedder.JinaKey,
		OpenAIKey: c.Embedder.OpenAIKey,
		Endpoint:  c.Embedder.Endpoint,
		Model:     c.Embedder.Model,
		Dimension: c.Embedder.Dimension,
		CacheSize: c.Embedder.CacheSize,
		Breaker: embedder.BreakerConfig{
			MinRequests:  c.Embedder.BreakerMinRequests,
			FailureRatio: c.Embedder.BreakerFailureRatio,
			OpenTimeout:  c.Embedder.BreakerOpenTimeout,
		},
	}
}

// ParseLevel maps a level name to a slog level
func ParseLevel(s string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug, nil
	case "", "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	}
	return slog.LevelInfo, fmt.Errorf("unknown log level %q", s)
}

func envString(key, fallback string) string {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	return v
}

func envInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}

func envDuration(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fallback
	}
	return d
}
