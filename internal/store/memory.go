package store

import (
	"context"
	"time"

	"github.com/kjstillabower/climate-history-service/internal/models"
	"github.com/kjstillabower/climate-history-service/internal/observability"
)

// MemoryStore implements DataStore over records held in memory. It is never mutated
// after construction, so concurrent reads need no locking.
type MemoryStore struct {
	measurements []models.Measurement
	stations     []models.Station
}

// NewMemoryStore copies the given records; slice order becomes the stored order.
func NewMemoryStore(measurements []models.Measurement, stations []models.Station) *MemoryStore {
	return &MemoryStore{
		measurements: append([]models.Measurement(nil), measurements...),
		stations:     append([]models.Station(nil), stations...),
	}
}

// Ping implements DataStore.Ping.
func (s *MemoryStore) Ping(ctx context.Context) error {
	return ctx.Err()
}

// MaxDate implements DataStore.MaxDate.
func (s *MemoryStore) MaxDate(ctx context.Context) (string, error) {
	defer observeMemoryOp("max_date", time.Now())
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if len(s.measurements) == 0 {
		return "", ErrEmptyDataset
	}
	latest := s.measurements[0].Date
	for _, m := range s.measurements[1:] {
		if m.Date > latest {
			latest = m.Date
		}
	}
	return latest, nil
}

// MeasurementsOnOrAfter implements DataStore.MeasurementsOnOrAfter.
func (s *MemoryStore) MeasurementsOnOrAfter(ctx context.Context, date string) ([]models.PrecipitationReading, error) {
	defer observeMemoryOp("measurements_on_or_after", time.Now())
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	out := []models.PrecipitationReading{}
	for _, m := range s.measurements {
		if m.Date >= date {
			out = append(out, models.PrecipitationReading{Date: m.Date, Precipitation: m.Precipitation})
		}
	}
	return out, nil
}

// MeasurementsForStationInRange implements DataStore.MeasurementsForStationInRange.
func (s *MemoryStore) MeasurementsForStationInRange(ctx context.Context, stationID, start, end string) ([]models.TemperatureObservation, error) {
	defer observeMemoryOp("station_measurements_in_range", time.Now())
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	out := []models.TemperatureObservation{}
	for _, m := range s.measurements {
		if m.StationID == stationID && inRange(m.Date, start, end) {
			out = append(out, models.TemperatureObservation{Date: m.Date, Temperature: m.Temperature})
		}
	}
	return out, nil
}

// MeasurementsInRange implements DataStore.MeasurementsInRange.
func (s *MemoryStore) MeasurementsInRange(ctx context.Context, start, end string) ([]float64, error) {
	defer observeMemoryOp("measurements_in_range", time.Now())
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	out := []float64{}
	for _, m := range s.measurements {
		if inRange(m.Date, start, end) {
			out = append(out, m.Temperature)
		}
	}
	return out, nil
}

// StationObservationCounts implements DataStore.StationObservationCounts.
func (s *MemoryStore) StationObservationCounts(ctx context.Context) (map[string]int, error) {
	defer observeMemoryOp("station_observation_counts", time.Now())
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	out := make(map[string]int)
	for _, m := range s.measurements {
		out[m.StationID]++
	}
	return out, nil
}

// AllStationIDs implements DataStore.AllStationIDs.
func (s *MemoryStore) AllStationIDs(ctx context.Context) ([]string, error) {
	defer observeMemoryOp("station_ids", time.Now())
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	out := make([]string, 0, len(s.stations))
	for _, st := range s.stations {
		out = append(out, st.StationID)
	}
	return out, nil
}

// Summary implements DataStore.Summary.
func (s *MemoryStore) Summary(ctx context.Context) (Summary, error) {
	if err := ctx.Err(); err != nil {
		return Summary{}, err
	}
	sum := Summary{Stations: len(s.stations), Measurements: len(s.measurements)}
	for i, m := range s.measurements {
		if i == 0 || m.Date < sum.FirstDate {
			sum.FirstDate = m.Date
		}
		if m.Date > sum.LastDate {
			sum.LastDate = m.Date
		}
	}
	return sum, nil
}

func observeMemoryOp(op string, start time.Time) {
	observability.StoreOperationDuration.WithLabelValues(op, "memory").Observe(time.Since(start).Seconds())
}
