package models

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// Measurement is one daily reading from a station. Precipitation is nil when the
// station did not report it for that day.
type Measurement struct {
	StationID     string   `json:"station"`
	Date          string   `json:"date"`
	Precipitation *float64 `json:"prcp"`
	Temperature   float64  `json:"tobs"`
}

// Station describes a weather station. Only StationID is used by queries.
type Station struct {
	StationID string  `json:"station"`
	Name      string  `json:"name"`
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
	Elevation float64 `json:"elevation"`
}

// PrecipitationReading is the (date, precipitation) projection of a Measurement.
type PrecipitationReading struct {
	Date          string
	Precipitation *float64
}

// PrecipitationByDate maps an ISO date to its precipitation value (null when unreported).
type PrecipitationByDate map[string]*float64

// TemperatureObservation is the (date, temperature) projection of a Measurement.
// It encodes as a single-key object: {"2017-08-23": 81}.
type TemperatureObservation struct {
	Date        string
	Temperature float64
}

func (o TemperatureObservation) MarshalJSON() ([]byte, error) {
	return json.Marshal(map[string]float64{o.Date: o.Temperature})
}

func (o *TemperatureObservation) UnmarshalJSON(data []byte) error {
	var m map[string]float64
	if err := json.NewDecoder(bytes.NewReader(data)).Decode(&m); err != nil {
		return err
	}
	if len(m) != 1 {
		return fmt.Errorf("temperature observation: want 1 key, got %d", len(m))
	}
	for date, temp := range m {
		o.Date = date
		o.Temperature = temp
	}
	return nil
}

// DateRange is an inclusive date range. An empty End means no upper bound.
type DateRange struct {
	Start string
	End   string
}

// Bounded reports whether the range has an upper bound.
func (r DateRange) Bounded() bool {
	return r.End != ""
}

// TemperatureStats holds aggregate temperatures over a date range.
// All three fields are nil when no rows matched.
type TemperatureStats struct {
	Min *float64 `json:"TMIN"`
	Avg *float64 `json:"TAVG"`
	Max *float64 `json:"TMAX"`
}

// Empty reports whether the stats carry no data.
func (s TemperatureStats) Empty() bool {
	return s.Min == nil && s.Avg == nil && s.Max == nil
}
