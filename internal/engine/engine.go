// Package engine answers the climate queries: the trailing 12-month window, the most
// active station and range aggregates, all computed over store.DataStore primitives.
package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/kjstillabower/climate-history-service/internal/models"
	"github.com/kjstillabower/climate-history-service/internal/store"
	"github.com/kjstillabower/climate-history-service/internal/validation"
)

// WindowDays is the fixed length of the trailing window. It is a day count, not
// "12 calendar months".
const WindowDays = 365

// QueryEngine holds no state besides the store handle; every method is a pure read.
type QueryEngine struct {
	store store.DataStore
}

// New returns a QueryEngine over s.
func New(s store.DataStore) *QueryEngine {
	return &QueryEngine{store: s}
}

// RecentWindowStart returns the inclusive lower bound of the trailing window: the
// dataset's latest date minus WindowDays. It never looks at the wall clock.
func (e *QueryEngine) RecentWindowStart(ctx context.Context) (string, error) {
	latest, err := e.store.MaxDate(ctx)
	if err != nil {
		return "", fmt.Errorf("latest date: %w", err)
	}
	t, err := time.Parse(validation.DateLayout, latest)
	if err != nil {
		return "", fmt.Errorf("%w: latest date %q: %v", ErrMalformedData, latest, err)
	}
	return t.AddDate(0, 0, -WindowDays).Format(validation.DateLayout), nil
}

// Precipitation returns date -> precipitation for the trailing window. Rows sharing a
// date collapse last-write-wins in store scan order.
func (e *QueryEngine) Precipitation(ctx context.Context) (models.PrecipitationByDate, error) {
	start, err := e.RecentWindowStart(ctx)
	if err != nil {
		return nil, err
	}
	rows, err := e.store.MeasurementsOnOrAfter(ctx, start)
	if err != nil {
		return nil, fmt.Errorf("precipitation since %s: %w", start, err)
	}
	out := make(models.PrecipitationByDate, len(rows))
	for _, r := range rows {
		out[r.Date] = r.Precipitation
	}
	return out, nil
}

// Stations returns every station id in stored order.
func (e *QueryEngine) Stations(ctx context.Context) ([]string, error) {
	ids, err := e.store.AllStationIDs(ctx)
	if err != nil {
		return nil, fmt.Errorf("stations: %w", err)
	}
	if ids == nil {
		ids = []string{}
	}
	return ids, nil
}

// MostActiveStation returns the station with the most measurement rows. Equal counts
// resolve to the lexicographically smallest station id.
func (e *QueryEngine) MostActiveStation(ctx context.Context) (string, error) {
	counts, err := e.store.StationObservationCounts(ctx)
	if err != nil {
		return "", fmt.Errorf("station counts: %w", err)
	}
	best, bestCount := "", 0
	for id, n := range counts {
		if n > bestCount || (n == bestCount && id < best) {
			best, bestCount = id, n
		}
	}
	if bestCount == 0 {
		return "", ErrEmptyDataset
	}
	return best, nil
}

// TemperatureObservations returns every (date, temperature) row of the most active
// station within the trailing window, one element per row.
func (e *QueryEngine) TemperatureObservations(ctx context.Context) ([]models.TemperatureObservation, error) {
	station, err := e.MostActiveStation(ctx)
	if err != nil {
		return nil, err
	}
	start, err := e.RecentWindowStart(ctx)
	if err != nil {
		return nil, err
	}
	obs, err := e.store.MeasurementsForStationInRange(ctx, station, start, "")
	if err != nil {
		return nil, fmt.Errorf("temperatures for %s since %s: %w", station, start, err)
	}
	if obs == nil {
		obs = []models.TemperatureObservation{}
	}
	return obs, nil
}

// ValidateRange checks the shape of r.Start and, when present, r.End.
func ValidateRange(r models.DateRange) error {
	if _, err := validation.ValidateDate(r.Start); err != nil {
		return fmt.Errorf("%w: start %q: %w", ErrValidation, r.Start, err)
	}
	if r.Bounded() {
		if _, err := validation.ValidateDate(r.End); err != nil {
			return fmt.Errorf("%w: end %q: %w", ErrValidation, r.End, err)
		}
	}
	return nil
}

// TemperatureStats returns min/avg/max temperature over r. A range that matches no
// rows, including Start > End, yields all-nil stats rather than an error.
func (e *QueryEngine) TemperatureStats(ctx context.Context, r models.DateRange) (models.TemperatureStats, error) {
	if err := ValidateRange(r); err != nil {
		return models.TemperatureStats{}, err
	}
	temps, err := e.store.MeasurementsInRange(ctx, r.Start, r.End)
	if err != nil {
		return models.TemperatureStats{}, fmt.Errorf("temperatures in range: %w", err)
	}
	return summarize(temps), nil
}
