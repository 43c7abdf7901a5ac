package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/kjstillabower/climate-history-service/internal/cache"
	"github.com/kjstillabower/climate-history-service/internal/config"
	"github.com/kjstillabower/climate-history-service/internal/engine"
	httphandler "github.com/kjstillabower/climate-history-service/internal/http"
	"github.com/kjstillabower/climate-history-service/internal/lifecycle"
	"github.com/kjstillabower/climate-history-service/internal/observability"
	"github.com/kjstillabower/climate-history-service/internal/service"
	"github.com/kjstillabower/climate-history-service/internal/store"
)

func main() {
	logger, err := observability.NewLogger()
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("config", zap.Error(err))
	}
	startTime := time.Now()

	startupCtx, startupCancel := context.WithTimeout(context.Background(), 30*time.Second)
	ds, closeStore, err := openStore(startupCtx, cfg, logger)
	if err != nil {
		startupCancel()
		logger.Fatal("dataset", zap.Error(err))
	}
	summary, err := ds.Summary(startupCtx)
	startupCancel()
	if err != nil {
		logger.Fatal("dataset summary", zap.Error(err))
	}
	logger.Info("dataset loaded",
		zap.String("backend", cfg.DatasetBackend),
		zap.Int("stations", summary.Stations),
		zap.Int("measurements", summary.Measurements),
		zap.String("first_date", summary.FirstDate),
		zap.String("latest_date", summary.LastDate))
	if summary.Measurements == 0 {
		logger.Warn("dataset has no measurements; queries will report NO_DATA")
	}
	observability.SetDatasetSummary(summary.Stations, summary.Measurements, summary.LastDate)

	queryEngine := engine.New(ds)

	resultCache, memcached, breaker, err := buildCache(cfg, logger)
	if err != nil {
		logger.Fatal("cache", zap.Error(err))
	}
	climateService := service.NewClimateService(queryEngine, resultCache, service.Options{
		TTL: cfg.CacheTTL,
		// Entries from a different dataset file must never be served.
		Namespace:       summary.LastDate,
		CoalesceEnabled: cfg.CoalesceEnabled,
		CoalesceTimeout: cfg.CoalesceTimeout,
		Logger:          logger,
	})

	healthConfig := &httphandler.HealthConfig{
		OverloadWindow:       cfg.OverloadWindow,
		OverloadThresholdPct: cfg.OverloadThresholdPct,
		RateLimitRPS:         cfg.RateLimitRPS,
		DegradedWindow:       cfg.DegradedWindow,
		DegradedErrorPct:     cfg.DegradedErrorPct,
		DatasetPing:          ds.Ping,
		StartTime:            startTime,
	}
	if memcached != nil {
		healthConfig.CachePing = memcached.Ping
	}
	if breaker != nil {
		healthConfig.CacheBreakerState = breaker.State
	}

	var limiter *rate.Limiter
	if cfg.RateLimitRPS > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.RateLimitRPS), cfg.RateLimitBurst)
	}
	observability.RegisterRateLimitGauges(cfg.OverloadWindow)

	handler := httphandler.NewHandler(climateService, healthConfig, logger, cfg.EmptyDatasetStatus)
	router := httphandler.NewRouter(handler, httphandler.RouterConfig{
		Logger:         logger,
		Limiter:        limiter,
		RequestTimeout: cfg.RequestTimeout,
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if cfg.WarmCache && resultCache != nil && summary.Measurements > 0 {
		warmer := cache.NewCacheWarmer(climateService, logger)
		warmCtx, warmCancel := context.WithTimeout(ctx, 30*time.Second)
		if err := warmer.Warm(warmCtx); err != nil {
			logger.Warn("cache warming failed", zap.Error(err))
		}
		warmCancel()
		if cfg.WarmInterval > 0 {
			go func() {
				if err := warmer.WarmPeriodic(ctx, cfg.WarmInterval); err != nil && !errors.Is(err, context.Canceled) {
					logger.Error("periodic cache warming stopped", zap.Error(err))
				}
			}()
		}
	}

	srv := &http.Server{
		Addr:         ":" + cfg.ServerPort,
		Handler:      router,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	go func() {
		logger.Info("server starting", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("server", zap.Error(err))
		}
	}()
	lifecycle.SetReady(true)

	<-ctx.Done()
	stop()

	logger.Info("graceful shutdown triggered")
	lifecycle.SetShuttingDown(true)
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown", zap.Error(err))
	}

	inFlight := httphandler.InFlightCount()
	logger.Info("waiting for in-flight requests", zap.Int64("count", inFlight))
	observability.RecordShutdownInFlight(inFlight)
	waitCtx, waitCancel := context.WithTimeout(context.Background(), cfg.ShutdownInFlightTimeout)
	defer waitCancel()
	if err := httphandler.WaitForInFlight(waitCtx, cfg.ShutdownInFlightCheckInterval); err != nil {
		logger.Warn("in-flight requests not completed", zap.Error(err), zap.Int64("remaining", httphandler.InFlightCount()))
	}

	if memcached != nil {
		if err := memcached.Close(); err != nil {
			logger.Error("memcached close", zap.Error(err))
		}
	}
	if err := closeStore(); err != nil {
		logger.Error("dataset close", zap.Error(err))
	}
	if err := observability.FlushTelemetry(context.Background(), logger); err != nil {
		logger.Error("telemetry flush", zap.Error(err))
	}
	logger.Info("shutdown complete")
}

// openStore opens the configured dataset backend. The returned close func releases it.
func openStore(ctx context.Context, cfg *config.Config, logger *zap.Logger) (store.DataStore, func() error, error) {
	switch cfg.DatasetBackend {
	case "csv":
		ms, err := store.LoadCSV(cfg.MeasurementsCSV, cfg.StationsCSV)
		if err != nil {
			return nil, nil, err
		}
		return ms, func() error { return nil }, nil
	default:
		ss, err := store.OpenSQLite(ctx, store.SQLiteConfig{
			Path:            cfg.SQLitePath,
			MaxOpenConns:    cfg.SQLiteMaxOpenConns,
			MaxIdleConns:    cfg.SQLiteMaxOpenConns,
			ConnMaxLifetime: cfg.SQLiteConnMaxLifetime,
		}, logger)
		if err != nil {
			return nil, nil, err
		}
		return ss, ss.Close, nil
	}
}

// buildCache returns the result cache for the configured backend. memcached is non-nil
// for the memcached backend, breaker is non-nil when the cache breaker is enabled.
func buildCache(cfg *config.Config, logger *zap.Logger) (c cache.Cache, memcached *cache.MemcachedCache, breaker *cache.GuardedCache, err error) {
	switch cfg.CacheBackend {
	case "none":
		logger.Info("cache backend: none")
		return nil, nil, nil, nil
	case "memcached":
		memcached, err = cache.NewMemcachedCache(cfg.MemcachedAddrs, cfg.MemcachedTimeout, cfg.MemcachedMaxIdleConns)
		if err != nil {
			return nil, nil, nil, err
		}
		c = memcached
		logger.Info("cache backend: memcached", zap.String("addrs", cfg.MemcachedAddrs))
	default:
		c = cache.NewInMemoryCache()
		logger.Info("cache backend: in_memory")
	}
	if cfg.CacheBreakerEnabled {
		breaker = cache.NewGuardedCache(c, cache.BreakerConfig{
			Name:             "result_cache",
			FailureThreshold: cfg.CacheBreakerFailureThreshold,
			Timeout:          cfg.CacheBreakerTimeout,
		}, logger)
		c = breaker
		logger.Info("cache breaker enabled",
			zap.Int("failure_threshold", cfg.CacheBreakerFailureThreshold),
			zap.Duration("timeout", cfg.CacheBreakerTimeout))
	}
	return c, memcached, breaker, nil
}
