package embedder

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/sony/gobreaker/v2"

	"github.com/dshills/cardsynergy-mcp/pkg/errs"
)

// BreakerConfig controls when the circuit opens
type BreakerConfig struct {
	MinRequests      uint32
	FailureRatio     float64
	OpenTimeout      time.Duration
	HalfOpenMaxCalls uint32
}

// DefaultBreakerConfig returns the default trip policy
func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{
		MinRequests:      5,
		FailureRatio:     0.5,
		OpenTimeout:      30 * time.Second,
		HalfOpenMaxCalls: 2,
	}
}

// Breaker wraps an Embedder with a circuit breaker. Every failure, including
// an open circuit, surfaces as an errs ServiceUnavailable error so callers
// can switch to degraded search.
type Breaker struct {
	inner  Embedder
	cb     *gobreaker.CircuitBreaker[[]float32]
	logger *slog.Logger
}

// NewBreaker wraps inner
func NewBreaker(inner Embedder, cfg BreakerConfig, logger *slog.Logger) *Breaker {
	if logger == nil {
		logger = slog.Default()
	}
	def := DefaultBreakerConfig()
	if cfg.MinRequests == 0 {
		cfg.MinRequests = def.MinRequests
	}
	if cfg.FailureRatio <= 0 || cfg.FailureRatio > 1 {
		cfg.FailureRatio = def.FailureRatio
	}
	if cfg.OpenTimeout <= 0 {
		cfg.OpenTimeout = def.OpenTimeout
	}
	if cfg.HalfOpenMaxCalls == 0 {
		cfg.HalfOpenMaxCalls = def.HalfOpenMaxCalls
	}

	b := &Breaker{inner: inner, logger: logger}
	b.cb = gobreaker.NewCircuitBreaker[[]float32](gobreaker.Settings{
		Name:        "embedder." + inner.Provider(),
		MaxRequests: cfg.HalfOpenMaxCalls,
		Timeout:     cfg.OpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if counts.Requests < cfg.MinRequests {
				return false
			}
			return float64(counts.TotalFailures)/float64(counts.Requests) >= cfg.FailureRatio
		},
		IsSuccessful: func(err error) bool {
			// Caller cancellations and bad input say nothing about backend health
			return err == nil ||
				errors.Is(err, context.Canceled) ||
				errors.Is(err, context.DeadlineExceeded) ||
				errors.Is(err, ErrEmptyText)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("circuit_breaker_state_change", "operation", name, "from", from.String(), "to", to.String())
		},
	})
	return b
}

func (b *Breaker) Embed(ctx context.Context, text string) ([]float32, error) {
	vec, err := b.cb.Execute(func() ([]float32, error) {
		return b.inner.Embed(ctx, text)
	})
	if err == nil {
		return vec, nil
	}

	switch {
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return nil, err
	case errors.Is(err, ErrEmptyText):
		return nil, errs.Wrap(errs.CodeInvalidArgument, err, "embed query")
	case errors.Is(err, gobreaker.ErrOpenState), errors.Is(err, gobreaker.ErrTooManyRequests):
		return nil, errs.Wrap(errs.CodeServiceUnavailable, err, "embedding backend circuit open")
	}
	return nil, errs.Wrap(errs.CodeServiceUnavailable, err, "embedding backend unavailable")
}

// State reports the circuit state for status output
func (b *Breaker) State() string {
	return b.cb.State().String()
}

func (b *Breaker) Dimension() int   { return b.inner.Dimension() }
func (b *Breaker) Provider() string { return b.inner.Provider() }
func (b *Breaker) Model() string    { return b.inner.Model() }
func (b *Breaker) Close() error     { return b.inner.Close() }
