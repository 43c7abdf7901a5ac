package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/kjstillabower/climate-history-service/internal/engine"
	"github.com/kjstillabower/climate-history-service/internal/lifecycle"
	"github.com/kjstillabower/climate-history-service/internal/models"
	"github.com/kjstillabower/climate-history-service/internal/observability"
	"github.com/kjstillabower/climate-history-service/internal/traffic"
)

// APIPrefix is the path prefix of every query route.
const APIPrefix = "/api/v1.0"

// Version is reported by /health. Overridden at build time with -ldflags.
var Version = "dev"

// ClimateQueries is the query API served over HTTP. Implemented by service.ClimateService.
type ClimateQueries interface {
	Precipitation(ctx context.Context) (models.PrecipitationByDate, error)
	Stations(ctx context.Context) ([]string, error)
	TemperatureObservations(ctx context.Context) ([]models.TemperatureObservation, error)
	TemperatureStats(ctx context.Context, r models.DateRange) (models.TemperatureStats, error)
}

// HealthConfig holds dependency checks and lifecycle thresholds for the health handler.
type HealthConfig struct {
	OverloadWindow       time.Duration
	OverloadThresholdPct int
	RateLimitRPS         int
	DegradedWindow       time.Duration
	DegradedErrorPct     int
	// DatasetPing checks dataset reachability. Required.
	DatasetPing func(ctx context.Context) error
	// CachePing, when set, is called to check cache reachability. Used when backend is memcached.
	CachePing func(ctx context.Context) error
	// CacheBreakerState, when set, reports the cache breaker state (closed, half-open, open).
	CacheBreakerState func() string
	StartTime         time.Time
}

// Handler holds dependencies for HTTP handlers.
type Handler struct {
	queries            ClimateQueries
	healthConfig       *HealthConfig
	logger             *zap.Logger
	emptyDatasetStatus int
	healthStatusMu     sync.Mutex
	healthStatusPrev   string
}

// NewHandler returns a new Handler. emptyDatasetStatus is the HTTP status used when
// the dataset has no measurements (404 or 503).
func NewHandler(queries ClimateQueries, healthConfig *HealthConfig, logger *zap.Logger, emptyDatasetStatus int) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	if emptyDatasetStatus == 0 {
		emptyDatasetStatus = http.StatusNotFound
	}
	return &Handler{
		queries:            queries,
		healthConfig:       healthConfig,
		logger:             logger,
		emptyDatasetStatus: emptyDatasetStatus,
	}
}

var routeListing = strings.Join([]string{
	"Available Routes:",
	APIPrefix + "/precipitation",
	APIPrefix + "/stations",
	APIPrefix + "/tobs",
	APIPrefix + "/&lt;start&gt;",
	APIPrefix + "/&lt;start&gt;/&lt;end&gt;",
}, "<br/>")

// GetIndex handles GET /. Lists the available query routes.
func (h *Handler) GetIndex(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(routeListing))
}

// GetPrecipitation handles GET /api/v1.0/precipitation.
func (h *Handler) GetPrecipitation(w http.ResponseWriter, r *http.Request) {
	result, err := h.queries.Precipitation(r.Context())
	h.respond(w, r, result, err)
}

// GetStations handles GET /api/v1.0/stations.
func (h *Handler) GetStations(w http.ResponseWriter, r *http.Request) {
	result, err := h.queries.Stations(r.Context())
	h.respond(w, r, result, err)
}

// GetTobs handles GET /api/v1.0/tobs.
func (h *Handler) GetTobs(w http.ResponseWriter, r *http.Request) {
	result, err := h.queries.TemperatureObservations(r.Context())
	h.respond(w, r, result, err)
}

// GetTemperatureStats handles GET /api/v1.0/{start} and GET /api/v1.0/{start}/{end}.
// A missing end means no upper bound.
func (h *Handler) GetTemperatureStats(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	result, err := h.queries.TemperatureStats(r.Context(), models.DateRange{
		Start: vars["start"],
		End:   vars["end"],
	})
	h.respond(w, r, result, err)
}

// respond writes result as JSON or maps err onto an error response, and records the
// outcome for health tracking.
func (h *Handler) respond(w http.ResponseWriter, r *http.Request, result interface{}, err error) {
	if err != nil {
		h.writeQueryError(w, r, err)
		return
	}
	traffic.RecordSuccess()
	writeJSON(w, http.StatusOK, result)
}

// writeQueryError maps query errors onto HTTP responses. Only server-side failures
// count toward the degraded error rate.
func (h *Handler) writeQueryError(w http.ResponseWriter, r *http.Request, err error) {
	logger := observability.LoggerFromContext(r.Context(), h.logger)
	switch {
	case errors.Is(err, engine.ErrValidation):
		traffic.RecordSuccess()
		writeError(w, r, http.StatusBadRequest, "INVALID_DATE", err.Error())
	case errors.Is(err, engine.ErrEmptyDataset):
		traffic.RecordSuccess()
		writeError(w, r, h.emptyDatasetStatus, "NO_DATA", "The dataset contains no measurements")
	case errors.Is(err, engine.ErrMalformedData):
		traffic.RecordError()
		logger.Error("malformed dataset", zap.Error(err))
		writeError(w, r, http.StatusInternalServerError, "DATA_ERROR", "The dataset contains malformed data")
	default:
		traffic.RecordError()
		logger.Warn("dataset query failed", zap.Error(err))
		writeError(w, r, http.StatusServiceUnavailable, "DATASET_UNAVAILABLE", "Unable to query the climate dataset")
	}
}

// healthResult holds the computed health status and metadata for logging.
type healthResult struct {
	status     string
	statusCode int
	reason     string
}

// GetHealth handles GET /health.
func (h *Handler) GetHealth(w http.ResponseWriter, r *http.Request) {
	checks := h.runChecks(r.Context())
	result := h.computeHealthStatus(checks)

	h.healthStatusMu.Lock()
	prev := h.healthStatusPrev
	if prev != "" && prev != result.status {
		h.logger.Info("health status transition",
			zap.String("previous_status", prev),
			zap.String("current_status", result.status),
			zap.String("reason", result.reason))
	}
	h.healthStatusPrev = result.status
	h.healthStatusMu.Unlock()

	resp := map[string]interface{}{
		"status":    result.status,
		"service":   observability.ServiceName,
		"version":   Version,
		"checks":    checks,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	}
	if h.healthConfig != nil && !h.healthConfig.StartTime.IsZero() {
		resp["uptimeSeconds"] = int64(time.Since(h.healthConfig.StartTime).Seconds())
	}
	writeJSON(w, result.statusCode, resp)
}

// runChecks probes each dependency. Values are "healthy" or "unhealthy".
func (h *Handler) runChecks(ctx context.Context) map[string]string {
	checks := make(map[string]string)
	if h.healthConfig == nil {
		return checks
	}
	if h.healthConfig.DatasetPing != nil {
		checks["dataset"] = checkValue(h.healthConfig.DatasetPing(ctx) == nil)
	}
	if h.healthConfig.CachePing != nil {
		checks["cache"] = checkValue(h.healthConfig.CachePing(ctx) == nil)
	}
	if h.healthConfig.CacheBreakerState != nil {
		checks["cacheBreaker"] = h.healthConfig.CacheBreakerState()
	}
	return checks
}

func checkValue(ok bool) string {
	if ok {
		return "healthy"
	}
	return "unhealthy"
}

// computeHealthStatus evaluates conditions in priority order:
// shutting-down > starting > dataset unreachable > overloaded > degraded > healthy.
// The cache is an optimisation, so an unhealthy cache is reported in checks only.
func (h *Handler) computeHealthStatus(checks map[string]string) healthResult {
	if lifecycle.IsShuttingDown() {
		return healthResult{"shutting-down", http.StatusServiceUnavailable, "signal"}
	}
	if !lifecycle.IsReady() {
		return healthResult{"starting", http.StatusServiceUnavailable, "startup"}
	}
	if checks["dataset"] == "unhealthy" {
		return healthResult{"unavailable", http.StatusServiceUnavailable, "dataset_unreachable"}
	}
	if h.healthConfig == nil {
		return healthResult{"healthy", http.StatusOK, ""}
	}
	// Overloaded: request volume above the configured share of rate-limit capacity.
	if h.healthConfig.RateLimitRPS > 0 && h.healthConfig.OverloadWindow > 0 {
		threshold := float64(h.healthConfig.RateLimitRPS) * h.healthConfig.OverloadWindow.Seconds() * float64(h.healthConfig.OverloadThresholdPct) / 100
		if float64(traffic.RequestCount(h.healthConfig.OverloadWindow)) > threshold {
			return healthResult{"overloaded", http.StatusServiceUnavailable, "overload_threshold"}
		}
	}
	if h.healthConfig.DegradedWindow > 0 && h.healthConfig.DegradedErrorPct > 0 {
		errs, total := traffic.ErrorRate(h.healthConfig.DegradedWindow)
		if total > 0 {
			pct := float64(errs) * 100 / float64(total)
			if pct >= float64(h.healthConfig.DegradedErrorPct) {
				return healthResult{"degraded", http.StatusServiceUnavailable, "error_rate_breach"}
			}
		}
	}
	return healthResult{"healthy", http.StatusOK, ""}
}

// writeJSON writes a JSON response with the specified HTTP status code.
func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError writes an error response in the standard error format with code, message,
// and requestId (correlation ID) if available in request context.
func writeError(w http.ResponseWriter, r *http.Request, status int, code, message string) {
	writeJSON(w, status, map[string]interface{}{
		"error": map[string]string{
			"code":      code,
			"message":   message,
			"requestId": observability.CorrelationID(r.Context()),
		},
	})
}
