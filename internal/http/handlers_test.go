package http

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/kjstillabower/climate-history-service/internal/engine"
	"github.com/kjstillabower/climate-history-service/internal/lifecycle"
	"github.com/kjstillabower/climate-history-service/internal/models"
	"github.com/kjstillabower/climate-history-service/internal/testhelpers"
	"github.com/kjstillabower/climate-history-service/internal/traffic"
)

type mockQueries struct {
	err       error
	lastRange models.DateRange
	block     chan struct{} // if set, queries block until ctx is done or the channel closes
}

func (m *mockQueries) wait(ctx context.Context) error {
	if m.block == nil {
		return nil
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-m.block:
		return nil
	}
}

func (m *mockQueries) Precipitation(ctx context.Context) (models.PrecipitationByDate, error) {
	if err := m.wait(ctx); err != nil {
		return nil, err
	}
	if m.err != nil {
		return nil, m.err
	}
	return models.PrecipitationByDate{
		"2017-08-22": testhelpers.Float(0.5),
		"2017-08-23": nil,
	}, nil
}

func (m *mockQueries) Stations(ctx context.Context) ([]string, error) {
	if m.err != nil {
		return nil, m.err
	}
	return []string{testhelpers.StationWaikiki, testhelpers.StationWaihee}, nil
}

func (m *mockQueries) TemperatureObservations(ctx context.Context) ([]models.TemperatureObservation, error) {
	if m.err != nil {
		return nil, m.err
	}
	return []models.TemperatureObservation{
		{Date: "2017-08-22", Temperature: 76},
		{Date: "2017-08-23", Temperature: 81},
	}, nil
}

func (m *mockQueries) TemperatureStats(ctx context.Context, r models.DateRange) (models.TemperatureStats, error) {
	m.lastRange = r
	if m.err != nil {
		return models.TemperatureStats{}, m.err
	}
	if err := engine.ValidateRange(r); err != nil {
		return models.TemperatureStats{}, err
	}
	return models.TemperatureStats{
		Min: testhelpers.Float(60),
		Avg: testhelpers.Float(65),
		Max: testhelpers.Float(70),
	}, nil
}

// resetGlobals restores process-wide lifecycle and traffic state after a test.
func resetGlobals(t *testing.T) {
	t.Helper()
	traffic.Reset()
	lifecycle.SetShuttingDown(false)
	lifecycle.SetReady(true)
	t.Cleanup(func() {
		traffic.Reset()
		lifecycle.SetShuttingDown(false)
		lifecycle.SetReady(false)
	})
}

func newTestRouter(q ClimateQueries, hc *HealthConfig, logger *zap.Logger) http.Handler {
	h := NewHandler(q, hc, logger, http.StatusNotFound)
	return NewRouter(h, RouterConfig{Logger: logger, RequestTimeout: time.Second})
}

func serve(t *testing.T, router http.Handler, path string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

type errorBody struct {
	Error struct {
		Code      string `json:"code"`
		Message   string `json:"message"`
		RequestID string `json:"requestId"`
	} `json:"error"`
}

func decodeError(t *testing.T, w *httptest.ResponseRecorder) errorBody {
	t.Helper()
	var body errorBody
	if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
		t.Fatalf("decode error body: %v", err)
	}
	return body
}

func TestHandler_GetIndex(t *testing.T) {
	resetGlobals(t)
	router := newTestRouter(&mockQueries{}, nil, zap.NewNop())

	w := serve(t, router, "/")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	body := w.Body.String()
	for _, route := range []string{"/api/v1.0/precipitation", "/api/v1.0/stations", "/api/v1.0/tobs", "/api/v1.0/&lt;start&gt;", "/api/v1.0/&lt;start&gt;/&lt;end&gt;"} {
		if !strings.Contains(body, route) {
			t.Errorf("index body missing %q: %s", route, body)
		}
	}
	if !strings.HasPrefix(body, "Available Routes:") {
		t.Errorf("index body = %q, want Available Routes: prefix", body)
	}
}

func TestHandler_GetPrecipitation(t *testing.T) {
	resetGlobals(t)
	router := newTestRouter(&mockQueries{}, nil, zap.NewNop())

	w := serve(t, router, "/api/v1.0/precipitation")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	if ct := w.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("Content-Type = %q, want application/json", ct)
	}
	var got map[string]*float64
	if err := json.NewDecoder(w.Body).Decode(&got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("got %d dates, want 2", len(got))
	}
	if v, ok := got["2017-08-23"]; !ok || v != nil {
		t.Errorf("2017-08-23 = %v (present %v), want null", v, ok)
	}
	if v := got["2017-08-22"]; v == nil || *v != 0.5 {
		t.Errorf("2017-08-22 = %v, want 0.5", v)
	}
}

func TestHandler_GetStations(t *testing.T) {
	resetGlobals(t)
	router := newTestRouter(&mockQueries{}, nil, zap.NewNop())

	w := serve(t, router, "/api/v1.0/stations")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	var got []string
	if err := json.NewDecoder(w.Body).Decode(&got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(got) != 2 || got[0] != testhelpers.StationWaikiki || got[1] != testhelpers.StationWaihee {
		t.Errorf("stations = %v", got)
	}
}

func TestHandler_GetTobs(t *testing.T) {
	resetGlobals(t)
	router := newTestRouter(&mockQueries{}, nil, zap.NewNop())

	w := serve(t, router, "/api/v1.0/tobs")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	if got, want := strings.TrimSpace(w.Body.String()), `[{"2017-08-22":76},{"2017-08-23":81}]`; got != want {
		t.Errorf("body = %s, want %s", got, want)
	}
}

func TestHandler_GetTemperatureStats_Routes(t *testing.T) {
	tests := []struct {
		name      string
		path      string
		wantRange models.DateRange
	}{
		{"start only", "/api/v1.0/2017-01-01", models.DateRange{Start: "2017-01-01"}},
		{"start and end", "/api/v1.0/2017-01-01/2017-01-31", models.DateRange{Start: "2017-01-01", End: "2017-01-31"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resetGlobals(t)
			q := &mockQueries{}
			router := newTestRouter(q, nil, zap.NewNop())

			w := serve(t, router, tt.path)
			if w.Code != http.StatusOK {
				t.Fatalf("status = %d, want 200; body %s", w.Code, w.Body.String())
			}
			if q.lastRange != tt.wantRange {
				t.Errorf("range = %+v, want %+v", q.lastRange, tt.wantRange)
			}
			if got, want := strings.TrimSpace(w.Body.String()), `{"TMIN":60,"TAVG":65,"TMAX":70}`; got != want {
				t.Errorf("body = %s, want %s", got, want)
			}
		})
	}
}

// TestHandler_FixedRoutesWinOverStart verifies that the named query routes are not
// captured by the {start} pattern.
func TestHandler_FixedRoutesWinOverStart(t *testing.T) {
	resetGlobals(t)
	q := &mockQueries{}
	router := newTestRouter(q, nil, zap.NewNop())

	for _, path := range []string{"/api/v1.0/precipitation", "/api/v1.0/stations", "/api/v1.0/tobs"} {
		w := serve(t, router, path)
		if w.Code != http.StatusOK {
			t.Errorf("%s status = %d, want 200", path, w.Code)
		}
	}
	if q.lastRange != (models.DateRange{}) {
		t.Errorf("TemperatureStats called with %+v for a fixed route", q.lastRange)
	}
}

func TestHandler_QueryErrors(t *testing.T) {
	tests := []struct {
		name       string
		path       string
		err        error
		wantStatus int
		wantCode   string
		wantErrors int
	}{
		{"invalid start", "/api/v1.0/2017-13-01", nil, http.StatusBadRequest, "INVALID_DATE", 0},
		{"invalid end", "/api/v1.0/2017-01-01/01-31-2017", nil, http.StatusBadRequest, "INVALID_DATE", 0},
		{"non-date start", "/api/v1.0/yesterday", nil, http.StatusBadRequest, "INVALID_DATE", 0},
		{"empty dataset", "/api/v1.0/tobs", engine.ErrEmptyDataset, http.StatusNotFound, "NO_DATA", 0},
		{"malformed data", "/api/v1.0/precipitation", fmt.Errorf("recent window: %w", engine.ErrMalformedData), http.StatusInternalServerError, "DATA_ERROR", 1},
		{"store failure", "/api/v1.0/stations", errors.New("database is locked"), http.StatusServiceUnavailable, "DATASET_UNAVAILABLE", 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resetGlobals(t)
			router := newTestRouter(&mockQueries{err: tt.err}, nil, zap.NewNop())

			req := httptest.NewRequest(http.MethodGet, tt.path, nil)
			req.Header.Set(CorrelationIDHeader, "req-123")
			w := httptest.NewRecorder()
			router.ServeHTTP(w, req)

			if w.Code != tt.wantStatus {
				t.Fatalf("status = %d, want %d", w.Code, tt.wantStatus)
			}
			body := decodeError(t, w)
			if body.Error.Code != tt.wantCode {
				t.Errorf("code = %q, want %q", body.Error.Code, tt.wantCode)
			}
			if body.Error.RequestID != "req-123" {
				t.Errorf("requestId = %q, want req-123", body.Error.RequestID)
			}
			if body.Error.Message == "" {
				t.Error("message is empty")
			}
			if errs, _ := traffic.ErrorRate(time.Minute); errs != tt.wantErrors {
				t.Errorf("recorded errors = %d, want %d", errs, tt.wantErrors)
			}
		})
	}
}

func TestHandler_EmptyDatasetStatusConfigurable(t *testing.T) {
	resetGlobals(t)
	h := NewHandler(&mockQueries{err: engine.ErrEmptyDataset}, nil, zap.NewNop(), http.StatusServiceUnavailable)
	router := NewRouter(h, RouterConfig{})

	w := serve(t, router, "/api/v1.0/precipitation")
	if w.Code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want 503", w.Code)
	}
	if body := decodeError(t, w); body.Error.Code != "NO_DATA" {
		t.Errorf("code = %q, want NO_DATA", body.Error.Code)
	}
}

func TestHandler_StoreFailureLogged(t *testing.T) {
	resetGlobals(t)
	core, logs := observer.New(zapcore.DebugLevel)
	logger := zap.New(core)
	router := newTestRouter(&mockQueries{err: errors.New("disk I/O error")}, nil, logger)

	req := httptest.NewRequest(http.MethodGet, "/api/v1.0/stations", nil)
	req.Header.Set(CorrelationIDHeader, "corr-9")
	router.ServeHTTP(httptest.NewRecorder(), req)

	entries := logs.FilterMessage("dataset query failed").All()
	if len(entries) != 1 {
		t.Fatalf("got %d 'dataset query failed' logs, want 1", len(entries))
	}
	if got := entries[0].ContextMap()["correlation_id"]; got != "corr-9" {
		t.Errorf("correlation_id = %v, want corr-9", got)
	}
	if entries[0].Level != zapcore.WarnLevel {
		t.Errorf("level = %v, want warn", entries[0].Level)
	}
}

func TestHandler_UnknownRoute(t *testing.T) {
	resetGlobals(t)
	router := newTestRouter(&mockQueries{}, nil, zap.NewNop())

	for _, path := range []string{"/api/v1.0/2017-01-01/2017-01-31/extra", "/api/v2/stations", "/api/v1.0/2017-01-01/"} {
		if w := serve(t, router, path); w.Code != http.StatusNotFound {
			t.Errorf("%s status = %d, want 404", path, w.Code)
		}
	}
}

func healthyConfig() *HealthConfig {
	return &HealthConfig{
		OverloadWindow:       time.Minute,
		OverloadThresholdPct: 80,
		RateLimitRPS:         1,
		DegradedWindow:       time.Minute,
		DegradedErrorPct:     5,
		DatasetPing:          func(ctx context.Context) error { return nil },
		StartTime:            time.Now().Add(-time.Hour),
	}
}

type healthBody struct {
	Status        string            `json:"status"`
	Service       string            `json:"service"`
	Version       string            `json:"version"`
	Checks        map[string]string `json:"checks"`
	Timestamp     string            `json:"timestamp"`
	UptimeSeconds int64             `json:"uptimeSeconds"`
}

func getHealth(t *testing.T, h *Handler) (int, healthBody) {
	t.Helper()
	w := httptest.NewRecorder()
	h.GetHealth(w, httptest.NewRequest(http.MethodGet, "/health", nil))
	var body healthBody
	if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
		t.Fatalf("decode health: %v", err)
	}
	return w.Code, body
}

func TestHandler_GetHealth_Healthy(t *testing.T) {
	resetGlobals(t)
	h := NewHandler(&mockQueries{}, healthyConfig(), zap.NewNop(), 0)

	code, body := getHealth(t, h)
	if code != http.StatusOK || body.Status != "healthy" {
		t.Fatalf("health = %d %q, want 200 healthy", code, body.Status)
	}
	if body.Service != "climate-history-service" {
		t.Errorf("service = %q", body.Service)
	}
	if body.Checks["dataset"] != "healthy" {
		t.Errorf("checks.dataset = %q, want healthy", body.Checks["dataset"])
	}
	if _, err := time.Parse(time.RFC3339, body.Timestamp); err != nil {
		t.Errorf("timestamp %q: %v", body.Timestamp, err)
	}
	if body.UptimeSeconds < 3599 {
		t.Errorf("uptimeSeconds = %d, want about 3600", body.UptimeSeconds)
	}
}

func TestHandler_GetHealth_Priority(t *testing.T) {
	tests := []struct {
		name       string
		setup      func(hc *HealthConfig)
		wantStatus string
		wantCode   int
	}{
		{
			name:       "shutting down beats everything",
			setup:      func(hc *HealthConfig) { lifecycle.SetShuttingDown(true); lifecycle.SetReady(false) },
			wantStatus: "shutting-down",
			wantCode:   http.StatusServiceUnavailable,
		},
		{
			name:       "starting before ready",
			setup:      func(hc *HealthConfig) { lifecycle.SetReady(false) },
			wantStatus: "starting",
			wantCode:   http.StatusServiceUnavailable,
		},
		{
			name: "dataset unreachable beats overload",
			setup: func(hc *HealthConfig) {
				hc.DatasetPing = func(ctx context.Context) error { return errors.New("unable to open database file") }
				for i := 0; i < 100; i++ {
					traffic.RecordSuccess()
				}
			},
			wantStatus: "unavailable",
			wantCode:   http.StatusServiceUnavailable,
		},
		{
			name: "overloaded beats degraded",
			setup: func(hc *HealthConfig) {
				// 1 rps * 60s * 80% = 48 requests
				for i := 0; i < 49; i++ {
					traffic.RecordError()
				}
			},
			wantStatus: "overloaded",
			wantCode:   http.StatusServiceUnavailable,
		},
		{
			name: "denials count toward overload",
			setup: func(hc *HealthConfig) {
				for i := 0; i < 49; i++ {
					traffic.RecordDenied()
				}
			},
			wantStatus: "overloaded",
			wantCode:   http.StatusServiceUnavailable,
		},
		{
			name: "degraded on error rate",
			setup: func(hc *HealthConfig) {
				for i := 0; i < 9; i++ {
					traffic.RecordSuccess()
				}
				traffic.RecordError()
			},
			wantStatus: "degraded",
			wantCode:   http.StatusServiceUnavailable,
		},
		{
			name: "below error threshold stays healthy",
			setup: func(hc *HealthConfig) {
				hc.DegradedErrorPct = 20
				for i := 0; i < 9; i++ {
					traffic.RecordSuccess()
				}
				traffic.RecordError()
			},
			wantStatus: "healthy",
			wantCode:   http.StatusOK,
		},
		{
			name: "cache outage is reported but not fatal",
			setup: func(hc *HealthConfig) {
				hc.CachePing = func(ctx context.Context) error { return errors.New("memcache: connection refused") }
				hc.CacheBreakerState = func() string { return "open" }
			},
			wantStatus: "healthy",
			wantCode:   http.StatusOK,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resetGlobals(t)
			hc := healthyConfig()
			tt.setup(hc)
			h := NewHandler(&mockQueries{}, hc, zap.NewNop(), 0)

			code, body := getHealth(t, h)
			if code != tt.wantCode || body.Status != tt.wantStatus {
				t.Errorf("health = %d %q, want %d %q", code, body.Status, tt.wantCode, tt.wantStatus)
			}
		})
	}
}

func TestHandler_GetHealth_CacheChecks(t *testing.T) {
	resetGlobals(t)
	hc := healthyConfig()
	hc.CachePing = func(ctx context.Context) error { return errors.New("memcache: no servers configured or available") }
	hc.CacheBreakerState = func() string { return "half-open" }
	h := NewHandler(&mockQueries{}, hc, zap.NewNop(), 0)

	_, body := getHealth(t, h)
	if body.Checks["cache"] != "unhealthy" {
		t.Errorf("checks.cache = %q, want unhealthy", body.Checks["cache"])
	}
	if body.Checks["cacheBreaker"] != "half-open" {
		t.Errorf("checks.cacheBreaker = %q, want half-open", body.Checks["cacheBreaker"])
	}
}

func TestHandler_GetHealth_LogsTransition(t *testing.T) {
	resetGlobals(t)
	core, logs := observer.New(zapcore.InfoLevel)
	h := NewHandler(&mockQueries{}, healthyConfig(), zap.New(core), 0)

	getHealth(t, h)
	getHealth(t, h)
	if n := logs.FilterMessage("health status transition").Len(); n != 0 {
		t.Fatalf("transition logs = %d before any change, want 0", n)
	}

	lifecycle.SetShuttingDown(true)
	getHealth(t, h)

	entries := logs.FilterMessage("health status transition").All()
	if len(entries) != 1 {
		t.Fatalf("transition logs = %d, want 1", len(entries))
	}
	fields := entries[0].ContextMap()
	if fields["previous_status"] != "healthy" || fields["current_status"] != "shutting-down" {
		t.Errorf("transition fields = %v", fields)
	}
	if fields["reason"] != "signal" {
		t.Errorf("reason = %v, want signal", fields["reason"])
	}
}

func TestHandler_GetHealth_NilConfig(t *testing.T) {
	resetGlobals(t)
	h := NewHandler(&mockQueries{}, nil, nil, 0)

	code, body := getHealth(t, h)
	if code != http.StatusOK || body.Status != "healthy" {
		t.Errorf("health = %d %q, want 200 healthy", code, body.Status)
	}
}
