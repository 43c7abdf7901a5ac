package store

import (
	"context"
	"errors"

	"github.com/kjstillabower/climate-history-service/internal/models"
)

// ErrEmptyDataset is returned when the dataset holds no measurements.
var ErrEmptyDataset = errors.New("dataset has no measurements")

// DataStore exposes read primitives over the measurement and station collections.
// It owns no query policy. Date bounds are ISO strings compared lexicographically;
// an empty end means no upper bound. Sequences come back in the store's insertion order.
type DataStore interface {
	// MaxDate returns the greatest measurement date, or ErrEmptyDataset.
	MaxDate(ctx context.Context) (string, error)
	// MeasurementsOnOrAfter returns (date, precipitation) for every row with date >= date.
	MeasurementsOnOrAfter(ctx context.Context, date string) ([]models.PrecipitationReading, error)
	// MeasurementsForStationInRange returns (date, temperature) rows of one station in range.
	MeasurementsForStationInRange(ctx context.Context, stationID, start, end string) ([]models.TemperatureObservation, error)
	// MeasurementsInRange returns the temperature of every row in range, across stations.
	MeasurementsInRange(ctx context.Context, start, end string) ([]float64, error)
	// StationObservationCounts returns the number of measurement rows per station.
	StationObservationCounts(ctx context.Context) (map[string]int, error)
	// AllStationIDs returns every station identifier in stored order.
	AllStationIDs(ctx context.Context) ([]string, error)
	// Summary returns record counts and the covered date span.
	Summary(ctx context.Context) (Summary, error)
	// Ping checks that the store is reachable.
	Ping(ctx context.Context) error
}

// Summary describes the loaded dataset. FirstDate and LastDate are empty when there
// are no measurements.
type Summary struct {
	Stations     int
	Measurements int
	FirstDate    string
	LastDate     string
}

// inRange reports whether date falls in [start, end]; empty end means unbounded.
func inRange(date, start, end string) bool {
	if date < start {
		return false
	}
	return end == "" || date <= end
}
