package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sony/gobreaker"
	"go.uber.org/zap"

	"github.com/kjstillabower/climate-history-service/internal/observability"
)

// ErrBreakerOpen is returned while the breaker is short-circuiting the cache backend.
var ErrBreakerOpen = errors.New("cache breaker open")

// BreakerConfig configures GuardedCache.
type BreakerConfig struct {
	Name             string
	FailureThreshold int           // consecutive failures before opening
	Timeout          time.Duration // open duration before a half-open probe
}

// GuardedCache wraps a Cache with a circuit breaker so an unreachable backend
// costs one fast error per request instead of a network timeout.
// Misses are successes; only backend errors count as failures.
type GuardedCache struct {
	inner Cache
	cb    *gobreaker.CircuitBreaker
}

type getResult struct {
	value []byte
	ok    bool
}

// NewGuardedCache wraps inner. Breaker transitions are logged and exported as metrics.
func NewGuardedCache(inner Cache, cfg BreakerConfig, logger *zap.Logger) *GuardedCache {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Name == "" {
		cfg.Name = "cache"
	}
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = 5
	}
	threshold := uint32(cfg.FailureThreshold)
	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        cfg.Name,
		MaxRequests: 1,
		Timeout:     cfg.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= threshold
		},
		IsSuccessful: func(err error) bool {
			// A cancelled request says nothing about backend health.
			return err == nil || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			observability.RecordBreakerTransition(name, from.String(), to.String())
			logger.Warn("cache breaker state change",
				zap.String("breaker", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()))
		},
	})
	observability.CacheBreakerState.WithLabelValues(cfg.Name).Set(0)
	return &GuardedCache{inner: inner, cb: cb}
}

// Get implements Cache.Get.
func (g *GuardedCache) Get(ctx context.Context, key string) ([]byte, bool, error) {
	res, err := g.cb.Execute(func() (interface{}, error) {
		v, ok, err := g.inner.Get(ctx, key)
		if err != nil {
			return nil, err
		}
		return getResult{value: v, ok: ok}, nil
	})
	if err != nil {
		return nil, false, breakerError(err)
	}
	r := res.(getResult)
	return r.value, r.ok, nil
}

// Set implements Cache.Set.
func (g *GuardedCache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	_, err := g.cb.Execute(func() (interface{}, error) {
		return nil, g.inner.Set(ctx, key, value, ttl)
	})
	return breakerError(err)
}

// State returns the breaker state name: closed, half-open or open.
func (g *GuardedCache) State() string {
	return g.cb.State().String()
}

func breakerError(err error) error {
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return fmt.Errorf("%w: %v", ErrBreakerOpen, err)
	}
	return err
}
