package store

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

const measurementsCSV = `station,date,prcp,tobs
USC00519397,2010-01-01,0.08,65.0
USC00519397,2010-01-02,,63.0
USC00519281,2010-01-02,0.1,70.0
`

const stationsCSV = `station,name,latitude,longitude,elevation
USC00519397,"WAIKIKI 717.2, HI US",21.2716,-157.8168,3.0
USC00519281,"WAIHEE 837.5, HI US",21.45167,-157.84889,32.9
`

func TestReadMeasurementsCSV(t *testing.T) {
	got, err := ReadMeasurementsCSV(strings.NewReader(measurementsCSV))
	if err != nil {
		t.Fatalf("ReadMeasurementsCSV() error = %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("ReadMeasurementsCSV() returned %d rows, want 3", len(got))
	}
	if got[0].Precipitation == nil || *got[0].Precipitation != 0.08 {
		t.Errorf("row 0 prcp = %v, want 0.08", got[0].Precipitation)
	}
	if got[1].Precipitation != nil {
		t.Errorf("row 1 prcp = %v, want nil for empty cell", *got[1].Precipitation)
	}
	if got[2].StationID != "USC00519281" || got[2].Temperature != 70 {
		t.Errorf("row 2 = %+v", got[2])
	}
}

func TestReadMeasurementsCSV_Errors(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		wantMsg string
	}{
		{"missing column", "station,date,prcp\nA,2010-01-01,0\n", `missing column "tobs"`},
		{"bad tobs", "station,date,prcp,tobs\nA,2010-01-01,0,warm\n", "line 2: tobs"},
		{"bad prcp", "station,date,prcp,tobs\nA,2010-01-01,wet,70\n", "line 2: prcp"},
		{"empty input", "", "read csv header"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := ReadMeasurementsCSV(strings.NewReader(tc.input))
			if err == nil {
				t.Fatal("ReadMeasurementsCSV() expected error, got nil")
			}
			if !strings.Contains(err.Error(), tc.wantMsg) {
				t.Errorf("error = %v, want message containing %q", err, tc.wantMsg)
			}
		})
	}
}

func TestLoadCSV(t *testing.T) {
	dir := t.TempDir()
	mPath := filepath.Join(dir, "hawaii_measurements.csv")
	sPath := filepath.Join(dir, "hawaii_stations.csv")
	if err := os.WriteFile(mPath, []byte(measurementsCSV), 0o644); err != nil {
		t.Fatalf("write measurements: %v", err)
	}
	if err := os.WriteFile(sPath, []byte(stationsCSV), 0o644); err != nil {
		t.Fatalf("write stations: %v", err)
	}

	s, err := LoadCSV(mPath, sPath)
	if err != nil {
		t.Fatalf("LoadCSV() error = %v", err)
	}
	ids, err := s.AllStationIDs(context.Background())
	if err != nil {
		t.Fatalf("AllStationIDs() error = %v", err)
	}
	if len(ids) != 2 || ids[0] != "USC00519397" || ids[1] != "USC00519281" {
		t.Errorf("AllStationIDs() = %v", ids)
	}
	if s.stations[1].Elevation != 32.9 {
		t.Errorf("station elevation = %v, want 32.9", s.stations[1].Elevation)
	}
	latest, err := s.MaxDate(context.Background())
	if err != nil || latest != "2010-01-02" {
		t.Errorf("MaxDate() = %q, %v; want 2010-01-02", latest, err)
	}
}

func TestLoadCSV_MissingFile(t *testing.T) {
	_, err := LoadCSV(filepath.Join(t.TempDir(), "nope.csv"), "also-missing.csv")
	if err == nil {
		t.Fatal("LoadCSV() expected error, got nil")
	}
}
