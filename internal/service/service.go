package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/kjstillabower/climate-history-service/internal/cache"
	"github.com/kjstillabower/climate-history-service/internal/engine"
	"github.com/kjstillabower/climate-history-service/internal/models"
	"github.com/kjstillabower/climate-history-service/internal/observability"
)

// Query kinds, used as metric labels and cache key prefixes.
const (
	QueryPrecipitation = "precipitation"
	QueryStations      = "stations"
	QueryTobs          = "tobs"
	QueryStats         = "stats"
)

// Queries is the read API of engine.QueryEngine.
type Queries interface {
	Precipitation(ctx context.Context) (models.PrecipitationByDate, error)
	Stations(ctx context.Context) ([]string, error)
	TemperatureObservations(ctx context.Context) ([]models.TemperatureObservation, error)
	TemperatureStats(ctx context.Context, r models.DateRange) (models.TemperatureStats, error)
}

// Options configures ClimateService.
type Options struct {
	TTL time.Duration
	// Namespace is prepended to cache keys so processes serving different
	// datasets never share entries in a shared cache.
	Namespace       string
	CoalesceEnabled bool
	CoalesceTimeout time.Duration
	Logger          *zap.Logger
}

// ClimateService answers climate queries through a cache-aside layer. The dataset
// is immutable, so a cached answer stays correct for the life of the process.
// Cache failures are logged and never fail a query.
type ClimateService struct {
	queries         Queries
	cache           cache.Cache
	ttl             time.Duration
	namespace       string
	logger          *zap.Logger
	stampedeTracker *stampedeTracker
	coalescer       *requestCoalescer // nil if disabled
}

// NewClimateService creates a ClimateService over q. A nil cache disables caching.
func NewClimateService(q Queries, c cache.Cache, opts Options) *ClimateService {
	var coalescer *requestCoalescer
	if opts.CoalesceEnabled && opts.CoalesceTimeout > 0 {
		coalescer = newRequestCoalescer(opts.CoalesceTimeout)
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ClimateService{
		queries:         q,
		cache:           c,
		ttl:             opts.TTL,
		namespace:       opts.Namespace,
		logger:          logger,
		stampedeTracker: newStampedeTracker(),
		coalescer:       coalescer,
	}
}

// Precipitation returns the trailing-window precipitation map.
func (s *ClimateService) Precipitation(ctx context.Context) (models.PrecipitationByDate, error) {
	return cachedQuery(ctx, s, QueryPrecipitation, QueryPrecipitation, s.queries.Precipitation)
}

// Stations returns every station id in stored order.
func (s *ClimateService) Stations(ctx context.Context) ([]string, error) {
	out, err := cachedQuery(ctx, s, QueryStations, QueryStations, s.queries.Stations)
	if out == nil && err == nil {
		out = []string{}
	}
	return out, err
}

// TemperatureObservations returns the most active station's trailing-window readings.
func (s *ClimateService) TemperatureObservations(ctx context.Context) ([]models.TemperatureObservation, error) {
	out, err := cachedQuery(ctx, s, QueryTobs, QueryTobs, s.queries.TemperatureObservations)
	if out == nil && err == nil {
		out = []models.TemperatureObservation{}
	}
	return out, err
}

// TemperatureStats returns TMIN/TAVG/TMAX over r. The range is validated before
// any cache or store access so malformed input never produces a cache key.
func (s *ClimateService) TemperatureStats(ctx context.Context, r models.DateRange) (models.TemperatureStats, error) {
	if err := engine.ValidateRange(r); err != nil {
		observability.RecordQuery(QueryStats, outcome(err), time.Now())
		return models.TemperatureStats{}, err
	}
	key := QueryStats + ":" + r.Start + ":" + r.End
	return cachedQuery(ctx, s, QueryStats, key, func(ctx context.Context) (models.TemperatureStats, error) {
		return s.queries.TemperatureStats(ctx, r)
	})
}

// cachedQuery implements cache-aside for one query. Results that come from the
// cache or a shared load are decoded per caller, so callers never alias each
// other's maps or slices.
func cachedQuery[T any](ctx context.Context, s *ClimateService, query, key string, compute func(context.Context) (T, error)) (out T, err error) {
	start := time.Now()
	logger := observability.LoggerFromContext(ctx, s.logger)
	key = s.cacheKey(key)
	defer func() {
		observability.RecordQuery(query, outcome(err), start)
	}()

	if raw, ok := s.cacheGet(ctx, logger, query, key); ok {
		var hit T
		decodeErr := json.Unmarshal(raw, &hit)
		if decodeErr == nil {
			observability.CacheHitsTotal.WithLabelValues(query).Inc()
			logger.Debug("cache hit", zap.String("query", query), zap.String("key", key))
			return hit, nil
		}
		logger.Warn("cache entry undecodable, recomputing", zap.String("key", key), zap.Error(decodeErr))
	}
	observability.CacheMissesTotal.WithLabelValues(query).Inc()

	if concurrent := s.stampedeTracker.RecordMiss(key); concurrent > 1 {
		observability.CacheStampedeDetectedTotal.WithLabelValues(query).Inc()
	}
	defer s.stampedeTracker.RecordHit(key)
	logger.Debug("cache miss, querying dataset", zap.String("query", query), zap.String("key", key))

	store := func(ctx context.Context, v T) ([]byte, error) {
		raw, err := json.Marshal(v)
		if err != nil {
			return nil, fmt.Errorf("encode %s result: %w", query, err)
		}
		s.cacheSet(ctx, logger, key, raw)
		return raw, nil
	}

	if s.coalescer == nil {
		out, err = compute(ctx)
		if err != nil {
			return out, err
		}
		if _, err := store(ctx, out); err != nil {
			return out, err
		}
		logger.Debug("query served", zap.String("query", query), zap.Duration("duration", time.Since(start)))
		return out, nil
	}

	waitStart := time.Now()
	raw, shared, err := s.coalescer.Do(ctx, key, func(ctx context.Context) ([]byte, error) {
		v, err := compute(ctx)
		if err != nil {
			return nil, err
		}
		return store(ctx, v)
	})
	if err != nil {
		return out, err
	}
	if shared {
		observability.RequestCoalescingHitsTotal.Inc()
		observability.RequestCoalescingWaitSeconds.Observe(time.Since(waitStart).Seconds())
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		return out, fmt.Errorf("decode %s result: %w", query, err)
	}
	logger.Debug("query served", zap.String("query", query), zap.Bool("coalesced", shared), zap.Duration("duration", time.Since(start)))
	return out, nil
}

func (s *ClimateService) cacheKey(key string) string {
	if s.namespace == "" {
		return key
	}
	return s.namespace + ":" + key
}

func (s *ClimateService) cacheGet(ctx context.Context, logger *zap.Logger, query, key string) ([]byte, bool) {
	if s.cache == nil {
		return nil, false
	}
	raw, ok, err := s.cache.Get(ctx, key)
	if err != nil {
		observability.CacheErrorsTotal.WithLabelValues("get").Inc()
		logger.Warn("cache get failed", zap.String("query", query), zap.Error(err))
		return nil, false
	}
	return raw, ok
}

func (s *ClimateService) cacheSet(ctx context.Context, logger *zap.Logger, key string, raw []byte) {
	if s.cache == nil {
		return
	}
	if err := s.cache.Set(ctx, key, raw, s.ttl); err != nil {
		observability.CacheErrorsTotal.WithLabelValues("set").Inc()
		logger.Warn("cache set failed", zap.String("key", key), zap.Error(err))
	}
}

// outcome returns the climateQueriesTotal outcome label for err.
func outcome(err error) string {
	switch {
	case err == nil:
		return "success"
	case errors.Is(err, engine.ErrValidation):
		return "invalid"
	case errors.Is(err, engine.ErrEmptyDataset):
		return "no_data"
	default:
		return "error"
	}
}
