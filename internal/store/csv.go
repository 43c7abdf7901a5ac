package store

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/kjstillabower/climate-history-service/internal/models"
)

// Column names shared with the SQLite schema.
var (
	measurementColumns = []string{"station", "date", "prcp", "tobs"}
	stationColumns     = []string{"station", "name", "latitude", "longitude", "elevation"}
)

// LoadCSV builds a MemoryStore from the measurement and station CSV exports of the
// dataset. Headers are matched by name; extra columns are ignored.
func LoadCSV(measurementsPath, stationsPath string) (*MemoryStore, error) {
	mf, err := os.Open(measurementsPath)
	if err != nil {
		return nil, fmt.Errorf("open measurements csv: %w", err)
	}
	defer mf.Close()
	measurements, err := ReadMeasurementsCSV(mf)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", measurementsPath, err)
	}

	sf, err := os.Open(stationsPath)
	if err != nil {
		return nil, fmt.Errorf("open stations csv: %w", err)
	}
	defer sf.Close()
	stations, err := ReadStationsCSV(sf)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", stationsPath, err)
	}
	return NewMemoryStore(measurements, stations), nil
}

// ReadMeasurementsCSV parses station,date,prcp,tobs rows. An empty prcp cell is a
// missing reading, not zero.
func ReadMeasurementsCSV(r io.Reader) ([]models.Measurement, error) {
	var out []models.Measurement
	err := readCSV(r, measurementColumns, func(line int, get func(string) string) error {
		m := models.Measurement{
			StationID: get("station"),
			Date:      get("date"),
		}
		if raw := get("prcp"); raw != "" {
			v, err := strconv.ParseFloat(raw, 64)
			if err != nil {
				return fmt.Errorf("line %d: prcp %q: %w", line, raw, err)
			}
			m.Precipitation = &v
		}
		temp, err := strconv.ParseFloat(get("tobs"), 64)
		if err != nil {
			return fmt.Errorf("line %d: tobs %q: %w", line, get("tobs"), err)
		}
		m.Temperature = temp
		out = append(out, m)
		return nil
	})
	return out, err
}

// ReadStationsCSV parses station,name,latitude,longitude,elevation rows.
func ReadStationsCSV(r io.Reader) ([]models.Station, error) {
	var out []models.Station
	err := readCSV(r, stationColumns, func(line int, get func(string) string) error {
		st := models.Station{StationID: get("station"), Name: get("name")}
		for _, f := range []struct {
			col string
			dst *float64
		}{
			{"latitude", &st.Latitude},
			{"longitude", &st.Longitude},
			{"elevation", &st.Elevation},
		} {
			raw := get(f.col)
			if raw == "" {
				continue
			}
			v, err := strconv.ParseFloat(raw, 64)
			if err != nil {
				return fmt.Errorf("line %d: %s %q: %w", line, f.col, raw, err)
			}
			*f.dst = v
		}
		out = append(out, st)
		return nil
	})
	return out, err
}

func readCSV(r io.Reader, required []string, row func(line int, get func(string) string) error) error {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1

	headers, err := reader.Read()
	if err != nil {
		return fmt.Errorf("read csv header: %w", err)
	}
	index := make(map[string]int, len(headers))
	for i, h := range headers {
		index[strings.ToLower(strings.TrimSpace(h))] = i
	}
	for _, col := range required {
		if _, ok := index[col]; !ok {
			return fmt.Errorf("csv header missing column %q", col)
		}
	}

	line := 1
	for {
		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			return nil
		}
		line++
		if err != nil {
			return fmt.Errorf("line %d: %w", line, err)
		}
		get := func(col string) string {
			i := index[col]
			if i >= len(record) {
				return ""
			}
			return strings.TrimSpace(record[i])
		}
		if err := row(line, get); err != nil {
			return err
		}
	}
}
