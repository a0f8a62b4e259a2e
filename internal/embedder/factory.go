package embedder

import (
	"fmt"
	"log/slog"
	"strings"
)

// Config holds embedder configuration
type Config struct {
	Provider  string // jina, openai, local; empty auto-detects from keys
	APIKey    string
	JinaKey   string
	OpenAIKey string
	Endpoint  string
	Model     string
	Dimension int
	CacheSize int
	Breaker   BreakerConfig
}

// DetectProvider returns the provider New would use for cfg
func DetectProvider(cfg Config) string {
	if cfg.Provider != "" {
		return strings.ToLower(cfg.Provider)
	}
	if cfg.JinaKey != "" {
		return ProviderJina
	}
	if cfg.OpenAIKey != "" {
		return ProviderOpenAI
	}
	return ProviderLocal
}

// New creates a provider wrapped in a circuit breaker
func New(cfg Config, logger *slog.Logger) (*Breaker, error) {
	var cache *Cache
	if cfg.CacheSize > 0 {
		cache = NewCache(cfg.CacheSize)
	}

	var opts []HTTPOption
	if cfg.Endpoint != "" {
		opts = append(opts, WithEndpoint(cfg.Endpoint))
	}
	if cfg.Model != "" && cfg.Dimension > 0 {
		opts = append(opts, WithModel(cfg.Model, cfg.Dimension))
	}

	var (
		inner Embedder
		err   error
	)
	switch provider := DetectProvider(cfg); provider {
	case ProviderJina:
		inner, err = NewJinaProvider(firstNonEmpty(cfg.APIKey, cfg.JinaKey), cache, opts...)
	case ProviderOpenAI:
		inner, err = NewOpenAIProvider(firstNonEmpty(cfg.APIKey, cfg.OpenAIKey), cache, opts...)
	case ProviderLocal:
		inner = NewLocalProvider(cfg.Dimension, cache)
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedModel, provider)
	}
	if err != nil {
		return nil, err
	}
	return NewBreaker(inner, cfg.Breaker, logger), nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
