package cache

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/go-co-op/gocron"
	"go.uber.org/zap"

	"github.com/kjstillabower/climate-history-service/internal/models"
	"github.com/kjstillabower/climate-history-service/internal/observability"
)

// Fetcher is implemented by the service layer. Calling it populates the cache.
// Declared here to avoid a circular dependency on the service package.
type Fetcher interface {
	Precipitation(ctx context.Context) (models.PrecipitationByDate, error)
	Stations(ctx context.Context) ([]string, error)
	TemperatureObservations(ctx context.Context) ([]models.TemperatureObservation, error)
}

// CacheWarmer prefetches the fixed queries, which depend on nothing but the dataset.
type CacheWarmer struct {
	fetcher Fetcher
	logger  *zap.Logger
}

// NewCacheWarmer creates a CacheWarmer that uses the given fetcher and logger.
func NewCacheWarmer(fetcher Fetcher, logger *zap.Logger) *CacheWarmer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CacheWarmer{fetcher: fetcher, logger: logger}
}

// Warm runs every fixed query concurrently. Returns the joined errors of the queries that failed.
func (w *CacheWarmer) Warm(ctx context.Context) error {
	start := time.Now()
	observability.CacheWarmingTotal.Inc()

	queries := map[string]func(context.Context) error{
		"precipitation": func(ctx context.Context) error { _, err := w.fetcher.Precipitation(ctx); return err },
		"stations":      func(ctx context.Context) error { _, err := w.fetcher.Stations(ctx); return err },
		"tobs":          func(ctx context.Context) error { _, err := w.fetcher.TemperatureObservations(ctx); return err },
	}
	w.logger.Info("warming cache", zap.Int("queries", len(queries)))

	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		errs []error
	)
	for name, run := range queries {
		wg.Add(1)
		go func(name string, run func(context.Context) error) {
			defer wg.Done()
			if err := run(ctx); err != nil {
				mu.Lock()
				errs = append(errs, fmt.Errorf("warm %s: %w", name, err))
				mu.Unlock()
			}
		}(name, run)
	}
	wg.Wait()

	duration := time.Since(start).Seconds()
	observability.CacheWarmingDurationSeconds.Observe(duration)
	w.logger.Info("cache warming complete", zap.Int("errors", len(errs)), zap.Float64("duration_seconds", duration))
	if len(errs) > 0 {
		observability.CacheWarmingErrorsTotal.Inc()
		return fmt.Errorf("cache warming: %w", errors.Join(errs...))
	}
	return nil
}

// WarmPeriodic re-runs Warm every interval on a gocron scheduler until ctx is done.
// Runs never overlap; the first run happens one interval after the call.
func (w *CacheWarmer) WarmPeriodic(ctx context.Context, interval time.Duration) error {
	if interval <= 0 {
		return fmt.Errorf("cache warming: interval must be positive, got %s", interval)
	}
	scheduler := gocron.NewScheduler(time.UTC)
	_, err := scheduler.Every(interval).WaitForSchedule().SingletonMode().Do(func() {
		if ctx.Err() != nil {
			return
		}
		if err := w.Warm(ctx); err != nil {
			w.logger.Warn("periodic cache warm failed", zap.Error(err))
		}
	})
	if err != nil {
		return fmt.Errorf("cache warming: schedule: %w", err)
	}
	scheduler.StartAsync()
	defer scheduler.Stop()

	<-ctx.Done()
	return ctx.Err()
}
