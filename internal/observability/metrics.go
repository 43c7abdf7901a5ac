package observability

import (
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/kjstillabower/climate-history-service/internal/traffic"
)

var (
	registry *prometheus.Registry

	// HTTP request rate. Watch for: sudden drops (service down) or spikes (traffic surge).
	HTTPRequestsTotal *prometheus.CounterVec

	// HTTP request latency per request. Watch for: p95/p99 latency increases, SLO breaches.
	HTTPRequestDuration *prometheus.HistogramVec

	// Concurrent requests in flight. Watch for: saturation, capacity limits.
	HTTPRequestsInFlight prometheus.Gauge

	// Climate queries by query kind and outcome (success, empty, invalid, error).
	ClimateQueriesTotal *prometheus.CounterVec

	// End-to-end query latency including cache lookup. Watch for: cold-cache scans on large datasets.
	ClimateQueryDuration *prometheus.HistogramVec

	// Dataset store latency per operation and backend (sqlite, memory).
	StoreOperationDuration *prometheus.HistogramVec

	// Cache hits and misses per query kind. Hit rate = hits/(hits+misses).
	CacheHitsTotal   *prometheus.CounterVec
	CacheMissesTotal *prometheus.CounterVec

	// Cache backend failures by operation (get, set). Watch for: memcached outages.
	CacheErrorsTotal *prometheus.CounterVec

	// Cache backend latency by operation.
	CacheOperationDurationSeconds *prometheus.HistogramVec

	// Cache breaker state: 0=closed, 1=half-open, 2=open.
	CacheBreakerState *prometheus.GaugeVec

	// Cache breaker transitions by from/to state.
	CacheBreakerTransitionsTotal *prometheus.CounterVec

	// Requests that joined an in-flight identical query instead of scanning the store.
	RequestCoalescingHitsTotal prometheus.Counter

	// Concurrent misses for the same cache key. Watch for: expiry storms on cold keys.
	CacheStampedeDetectedTotal *prometheus.CounterVec

	// Time followers spent waiting on the leader's result.
	RequestCoalescingWaitSeconds prometheus.Histogram

	// Cache warming runs, failures and duration.
	CacheWarmingTotal           prometheus.Counter
	CacheWarmingErrorsTotal     prometheus.Counter
	CacheWarmingDurationSeconds prometheus.Histogram

	// Rate limit denials. Watch for: overload, capacity exceeded.
	RateLimitDeniedTotal prometheus.Counter

	// Dataset shape read at startup.
	DatasetStations               prometheus.Gauge
	DatasetMeasurements           prometheus.Gauge
	DatasetLatestTimestampSeconds prometheus.Gauge

	// In-flight requests remaining when graceful shutdown began draining.
	ShutdownInFlightRequests prometheus.Gauge

	rateLimitGaugesOnce sync.Once
)

func init() {
	registry = prometheus.NewRegistry()

	registry.MustRegister(
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		collectors.NewGoCollector(),
	)

	HTTPRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "httpRequestsTotal",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "route", "statusCode"},
	)
	HTTPRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "httpRequestDurationSeconds",
			Help:    "HTTP request latency in seconds (per request)",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "route"},
	)
	HTTPRequestsInFlight = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "httpRequestsInFlight",
			Help: "Number of HTTP requests currently being served",
		},
	)
	ClimateQueriesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "climateQueriesTotal",
			Help: "Total number of climate queries by query kind and outcome",
		},
		[]string{"query", "outcome"},
	)
	ClimateQueryDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "climateQueryDurationSeconds",
			Help:    "Climate query latency in seconds, cache lookup included",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5},
		},
		[]string{"query"},
	)
	StoreOperationDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "storeOperationDurationSeconds",
			Help:    "Dataset store operation latency in seconds",
			Buckets: []float64{.0005, .001, .005, .01, .025, .05, .1, .25, .5, 1},
		},
		[]string{"operation", "backend"},
	)
	CacheHitsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cacheHitsTotal",
			Help: "Total number of query result cache hits",
		},
		[]string{"query"},
	)
	CacheMissesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cacheMissesTotal",
			Help: "Total number of query result cache misses",
		},
		[]string{"query"},
	)
	CacheErrorsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cacheErrorsTotal",
			Help: "Total number of cache backend errors by operation",
		},
		[]string{"operation"},
	)
	CacheOperationDurationSeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "cacheOperationDurationSeconds",
			Help:    "Cache backend operation latency in seconds",
			Buckets: []float64{.0005, .001, .005, .01, .05, .1, .5},
		},
		[]string{"operation"},
	)
	CacheBreakerState = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "cacheBreakerState",
			Help: "Cache circuit breaker state (0=closed, 1=half-open, 2=open)",
		},
		[]string{"breaker"},
	)
	CacheBreakerTransitionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cacheBreakerTransitionsTotal",
			Help: "Total number of cache circuit breaker state transitions",
		},
		[]string{"breaker", "from", "to"},
	)
	RequestCoalescingHitsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "requestCoalescingHitsTotal",
			Help: "Requests served by joining an in-flight identical query",
		},
	)
	CacheStampedeDetectedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cacheStampedeDetectedTotal",
			Help: "Cache misses that overlapped another in-progress miss for the same key",
		},
		[]string{"query"},
	)
	RequestCoalescingWaitSeconds = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "requestCoalescingWaitSeconds",
			Help:    "Time coalesced requests waited for the leading query",
			Buckets: []float64{.001, .005, .01, .05, .1, .5, 1, 5},
		},
	)
	CacheWarmingTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "cacheWarmingTotal",
			Help: "Total number of cache warming runs",
		},
	)
	CacheWarmingErrorsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "cacheWarmingErrorsTotal",
			Help: "Total number of cache warming runs with at least one failed query",
		},
	)
	CacheWarmingDurationSeconds = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "cacheWarmingDurationSeconds",
			Help:    "Cache warming run duration in seconds",
			Buckets: []float64{.01, .05, .1, .5, 1, 5, 10, 30},
		},
	)
	RateLimitDeniedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "rateLimitDeniedTotal",
			Help: "Total number of requests denied by rate limiter (429)",
		},
	)
	DatasetStations = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "datasetStations",
			Help: "Number of stations in the loaded dataset",
		},
	)
	DatasetMeasurements = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "datasetMeasurements",
			Help: "Number of measurements in the loaded dataset",
		},
	)
	DatasetLatestTimestampSeconds = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "datasetLatestTimestampSeconds",
			Help: "Unix time of the latest measurement date in the dataset",
		},
	)
	ShutdownInFlightRequests = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "shutdownInFlightRequests",
			Help: "In-flight requests when graceful shutdown started draining",
		},
	)

	registry.MustRegister(
		HTTPRequestsTotal, HTTPRequestDuration, HTTPRequestsInFlight,
		ClimateQueriesTotal, ClimateQueryDuration, StoreOperationDuration,
		CacheHitsTotal, CacheMissesTotal, CacheErrorsTotal, CacheOperationDurationSeconds,
		CacheBreakerState, CacheBreakerTransitionsTotal,
		RequestCoalescingHitsTotal, RequestCoalescingWaitSeconds, CacheStampedeDetectedTotal,
		CacheWarmingTotal, CacheWarmingErrorsTotal, CacheWarmingDurationSeconds,
		RateLimitDeniedTotal,
		DatasetStations, DatasetMeasurements, DatasetLatestTimestampSeconds,
		ShutdownInFlightRequests,
	)
}

// RegisterRateLimitGauges registers load and rejects gauges for the rate-limited path.
// Call from main after config load with cfg.OverloadWindow. Uses same window as health.
func RegisterRateLimitGauges(window time.Duration) {
	rateLimitGaugesOnce.Do(func() {
		registry.MustRegister(
			prometheus.NewGaugeFunc(
				prometheus.GaugeOpts{
					Name: "rateLimitRequestsInWindow",
					Help: "Requests hitting rate-limited path in sliding window; load/capacity planning",
				},
				func() float64 { return float64(traffic.RequestCount(window)) },
			),
			prometheus.NewGaugeFunc(
				prometheus.GaugeOpts{
					Name: "rateLimitRejectsInWindow",
					Help: "429 responses in sliding window; are we rejecting requests",
				},
				func() float64 { return float64(traffic.DenialCount(window)) },
			),
		)
	})
}

// RecordQuery records one climate query outcome and its latency.
func RecordQuery(query, outcome string, started time.Time) {
	ClimateQueriesTotal.WithLabelValues(query, outcome).Inc()
	ClimateQueryDuration.WithLabelValues(query).Observe(time.Since(started).Seconds())
}

// SetDatasetSummary exports the dataset shape. latestDate is YYYY-MM-DD; an
// unparseable date leaves the timestamp gauge untouched.
func SetDatasetSummary(stations, measurements int, latestDate string) {
	DatasetStations.Set(float64(stations))
	DatasetMeasurements.Set(float64(measurements))
	if t, err := time.Parse("2006-01-02", latestDate); err == nil {
		DatasetLatestTimestampSeconds.Set(float64(t.Unix()))
	}
}

// BreakerStateValue maps a breaker state name to the cacheBreakerState gauge value.
func BreakerStateValue(state string) float64 {
	switch state {
	case "half-open":
		return 1
	case "open":
		return 2
	default:
		return 0
	}
}

// RecordBreakerTransition records a breaker transition and updates the state gauge.
func RecordBreakerTransition(breaker, from, to string) {
	CacheBreakerTransitionsTotal.WithLabelValues(breaker, from, to).Inc()
	CacheBreakerState.WithLabelValues(breaker).Set(BreakerStateValue(to))
}

// RecordShutdownInFlight records the in-flight count observed when draining starts.
func RecordShutdownInFlight(n int64) {
	ShutdownInFlightRequests.Set(float64(n))
}

// MetricsHandler returns an http.Handler that serves application and runtime metrics.
func MetricsHandler() http.Handler {
	return promhttp.HandlerFor(registry, promhttp.HandlerOpts{})
}
