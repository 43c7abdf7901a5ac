package store

import (
	"context"
	"database/sql"
	_ "embed"
	"fmt"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"go.uber.org/zap"

	"github.com/kjstillabower/climate-history-service/internal/models"
	"github.com/kjstillabower/climate-history-service/internal/observability"
)

//go:embed sql/max-date.sql
var maxDateSQL string

//go:embed sql/measurements-on-or-after.sql
var measurementsOnOrAfterSQL string

//go:embed sql/station-measurements-in-range.sql
var stationMeasurementsInRangeSQL string

//go:embed sql/temperatures-in-range.sql
var temperaturesInRangeSQL string

//go:embed sql/station-observation-counts.sql
var stationObservationCountsSQL string

//go:embed sql/station-ids.sql
var stationIDsSQL string

//go:embed sql/dataset-summary.sql
var datasetSummarySQL string

// SQLiteConfig configures the read-only SQLite connection.
type SQLiteConfig struct {
	Path            string
	DSN             string // overrides Path when set
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// SQLiteStore implements DataStore over a SQLite file with the measurement and
// station tables of the climate dataset.
type SQLiteStore struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewSQLiteStore wraps an already opened database. The caller keeps ownership of db.
func NewSQLiteStore(db *sql.DB, logger *zap.Logger) *SQLiteStore {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SQLiteStore{db: db, logger: logger}
}

// OpenSQLite opens the dataset read-only and verifies connectivity.
func OpenSQLite(ctx context.Context, cfg SQLiteConfig, logger *zap.Logger) (*SQLiteStore, error) {
	dsn, err := buildDSN(cfg)
	if err != nil {
		return nil, err
	}
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("db open: %w", err)
	}
	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("db ping: %w", err)
	}
	return NewSQLiteStore(db, logger), nil
}

// buildDSN returns a read-only DSN. The dataset is never written by this process.
func buildDSN(cfg SQLiteConfig) (string, error) {
	if cfg.DSN != "" {
		return cfg.DSN, nil
	}
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		return "", fmt.Errorf("sqlite: path is required")
	}
	params := "mode=ro&_busy_timeout=5000"
	if strings.HasPrefix(path, "file:") {
		sep := "?"
		if strings.Contains(path, "?") {
			sep = "&"
		}
		return path + sep + params, nil
	}
	return fmt.Sprintf("file:%s?%s", path, params), nil
}

// Close closes the underlying database.
func (s *SQLiteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Ping implements DataStore.Ping.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// MaxDate implements DataStore.MaxDate.
func (s *SQLiteStore) MaxDate(ctx context.Context) (string, error) {
	defer observeStoreOp("max_date", time.Now())
	var latest sql.NullString
	if err := s.db.QueryRowContext(ctx, maxDateSQL).Scan(&latest); err != nil {
		return "", fmt.Errorf("max date: %w", err)
	}
	if !latest.Valid {
		return "", ErrEmptyDataset
	}
	return latest.String, nil
}

// MeasurementsOnOrAfter implements DataStore.MeasurementsOnOrAfter.
func (s *SQLiteStore) MeasurementsOnOrAfter(ctx context.Context, date string) ([]models.PrecipitationReading, error) {
	defer observeStoreOp("measurements_on_or_after", time.Now())
	rows, err := s.db.QueryContext(ctx, measurementsOnOrAfterSQL, date)
	if err != nil {
		return nil, fmt.Errorf("query precipitation: %w", err)
	}
	defer s.closeRows(rows, "precipitation")

	out := []models.PrecipitationReading{}
	for rows.Next() {
		var rec models.PrecipitationReading
		var prcp sql.NullFloat64
		if err := rows.Scan(&rec.Date, &prcp); err != nil {
			return nil, fmt.Errorf("scan precipitation: %w", err)
		}
		if prcp.Valid {
			v := prcp.Float64
			rec.Precipitation = &v
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// MeasurementsForStationInRange implements DataStore.MeasurementsForStationInRange.
func (s *SQLiteStore) MeasurementsForStationInRange(ctx context.Context, stationID, start, end string) ([]models.TemperatureObservation, error) {
	defer observeStoreOp("station_measurements_in_range", time.Now())
	rows, err := s.db.QueryContext(ctx, stationMeasurementsInRangeSQL, stationID, start, end, end)
	if err != nil {
		return nil, fmt.Errorf("query station temperatures: %w", err)
	}
	defer s.closeRows(rows, "station temperatures")

	out := []models.TemperatureObservation{}
	for rows.Next() {
		var rec models.TemperatureObservation
		if err := rows.Scan(&rec.Date, &rec.Temperature); err != nil {
			return nil, fmt.Errorf("scan station temperature: %w", err)
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// MeasurementsInRange implements DataStore.MeasurementsInRange.
func (s *SQLiteStore) MeasurementsInRange(ctx context.Context, start, end string) ([]float64, error) {
	defer observeStoreOp("measurements_in_range", time.Now())
	rows, err := s.db.QueryContext(ctx, temperaturesInRangeSQL, start, end, end)
	if err != nil {
		return nil, fmt.Errorf("query temperatures: %w", err)
	}
	defer s.closeRows(rows, "temperatures")

	out := []float64{}
	for rows.Next() {
		var temp float64
		if err := rows.Scan(&temp); err != nil {
			return nil, fmt.Errorf("scan temperature: %w", err)
		}
		out = append(out, temp)
	}
	return out, rows.Err()
}

// StationObservationCounts implements DataStore.StationObservationCounts.
func (s *SQLiteStore) StationObservationCounts(ctx context.Context) (map[string]int, error) {
	defer observeStoreOp("station_observation_counts", time.Now())
	rows, err := s.db.QueryContext(ctx, stationObservationCountsSQL)
	if err != nil {
		return nil, fmt.Errorf("query station counts: %w", err)
	}
	defer s.closeRows(rows, "station counts")

	out := make(map[string]int)
	for rows.Next() {
		var station string
		var n int
		if err := rows.Scan(&station, &n); err != nil {
			return nil, fmt.Errorf("scan station count: %w", err)
		}
		out[station] = n
	}
	return out, rows.Err()
}

// AllStationIDs implements DataStore.AllStationIDs.
func (s *SQLiteStore) AllStationIDs(ctx context.Context) ([]string, error) {
	defer observeStoreOp("station_ids", time.Now())
	rows, err := s.db.QueryContext(ctx, stationIDsSQL)
	if err != nil {
		return nil, fmt.Errorf("query stations: %w", err)
	}
	defer s.closeRows(rows, "stations")

	out := []string{}
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan station: %w", err)
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

// Summary implements DataStore.Summary.
func (s *SQLiteStore) Summary(ctx context.Context) (Summary, error) {
	defer observeStoreOp("summary", time.Now())
	var sum Summary
	var first, last sql.NullString
	err := s.db.QueryRowContext(ctx, datasetSummarySQL).Scan(&sum.Stations, &sum.Measurements, &first, &last)
	if err != nil {
		return Summary{}, fmt.Errorf("dataset summary: %w", err)
	}
	sum.FirstDate = first.String
	sum.LastDate = last.String
	return sum, nil
}

func (s *SQLiteStore) closeRows(rows *sql.Rows, what string) {
	if err := rows.Close(); err != nil {
		s.logger.Error("close rows", zap.String("query", what), zap.Error(err))
	}
}

func observeStoreOp(op string, start time.Time) {
	observability.StoreOperationDuration.WithLabelValues(op, "sqlite").Observe(time.Since(start).Seconds())
}
