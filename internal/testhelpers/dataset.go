// Package testhelpers builds climate datasets for tests: SQLite files with the same
// tables as the production dataset, seeded from in-memory records.
package testhelpers

import (
	"database/sql"
	"path/filepath"
	"testing"

	_ "github.com/mattn/go-sqlite3"

	"github.com/kjstillabower/climate-history-service/internal/models"
)

// Schema mirrors the measurement and station tables of the dataset file.
const Schema = `
CREATE TABLE station (
  id        INTEGER NOT NULL PRIMARY KEY,
  station   VARCHAR(255),
  name      VARCHAR(255),
  latitude  FLOAT,
  longitude FLOAT,
  elevation FLOAT
);
CREATE TABLE measurement (
  id      INTEGER NOT NULL PRIMARY KEY,
  station VARCHAR(255),
  date    VARCHAR(255),
  prcp    FLOAT,
  tobs    FLOAT
);
`

// Dataset is a set of records to seed. Slice order becomes rowid order.
type Dataset struct {
	Stations     []models.Station
	Measurements []models.Measurement
}

// Float returns a pointer to v, for precipitation literals.
func Float(v float64) *float64 {
	return &v
}

// Sample station ids.
const (
	StationWaikiki = "USC00519397"
	StationWaihee  = "USC00519281"
	StationKaneohe = "USC00513117"
)

// SampleLatestDate is the greatest measurement date in SampleDataset.
const SampleLatestDate = "2017-08-23"

// SampleDataset returns a small dataset whose latest date is 2017-08-23. Waihee is the
// most active station (5 rows), two stations report on 2016-08-23 and 2017-08-23, and
// January 2017 holds readings of 60, 65 and 70.
func SampleDataset() Dataset {
	return Dataset{
		Stations: []models.Station{
			{StationID: StationWaikiki, Name: "WAIKIKI 717.2, HI US", Latitude: 21.2716, Longitude: -157.8168, Elevation: 3},
			{StationID: StationWaihee, Name: "WAIHEE 837.5, HI US", Latitude: 21.45167, Longitude: -157.84889, Elevation: 32.9},
			{StationID: StationKaneohe, Name: "KANEOHE 838.1, HI US", Latitude: 21.4234, Longitude: -157.8015, Elevation: 14.6},
		},
		Measurements: []models.Measurement{
			{StationID: StationWaikiki, Date: "2010-01-01", Precipitation: Float(0.08), Temperature: 65},
			{StationID: StationWaihee, Date: "2016-08-22", Precipitation: Float(1.2), Temperature: 70},
			{StationID: StationWaihee, Date: "2016-08-23", Precipitation: Float(1.79), Temperature: 77},
			{StationID: StationWaikiki, Date: "2016-08-23", Precipitation: Float(0.15), Temperature: 81},
			{StationID: StationWaihee, Date: "2017-01-05", Precipitation: nil, Temperature: 60},
			{StationID: StationWaihee, Date: "2017-01-15", Precipitation: Float(0), Temperature: 65},
			{StationID: StationKaneohe, Date: "2017-01-25", Precipitation: Float(0.02), Temperature: 70},
			{StationID: StationWaihee, Date: "2017-08-22", Precipitation: Float(0.5), Temperature: 76},
			{StationID: StationWaikiki, Date: "2017-08-23", Precipitation: Float(0), Temperature: 81},
			{StationID: StationKaneohe, Date: "2017-08-23", Precipitation: nil, Temperature: 82},
		},
	}
}

// NewDatasetFile writes ds to a SQLite file under t.TempDir and returns its path.
func NewDatasetFile(t testing.TB, ds Dataset) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "climate.sqlite")
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		t.Fatalf("open fixture db: %v", err)
	}
	defer func() {
		if err := db.Close(); err != nil {
			t.Fatalf("close fixture db: %v", err)
		}
	}()
	seed(t, db, ds)
	return path
}

// OpenDataset writes ds to a SQLite file and returns an open handle, closed on cleanup.
func OpenDataset(t testing.TB, ds Dataset) *sql.DB {
	t.Helper()
	db, err := sql.Open("sqlite3", NewDatasetFile(t, ds))
	if err != nil {
		t.Fatalf("open fixture db: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func seed(t testing.TB, db *sql.DB, ds Dataset) {
	t.Helper()
	if _, err := db.Exec(Schema); err != nil {
		t.Fatalf("exec schema: %v", err)
	}
	tx, err := db.Begin()
	if err != nil {
		t.Fatalf("begin: %v", err)
	}
	for i, st := range ds.Stations {
		_, err := tx.Exec(`INSERT INTO station (id, station, name, latitude, longitude, elevation) VALUES (?, ?, ?, ?, ?, ?)`,
			i+1, st.StationID, st.Name, st.Latitude, st.Longitude, st.Elevation)
		if err != nil {
			_ = tx.Rollback()
			t.Fatalf("insert station %s: %v", st.StationID, err)
		}
	}
	for i, m := range ds.Measurements {
		var prcp interface{}
		if m.Precipitation != nil {
			prcp = *m.Precipitation
		}
		_, err := tx.Exec(`INSERT INTO measurement (id, station, date, prcp, tobs) VALUES (?, ?, ?, ?, ?)`,
			i+1, m.StationID, m.Date, prcp, m.Temperature)
		if err != nil {
			_ = tx.Rollback()
			t.Fatalf("insert measurement %d: %v", i, err)
		}
	}
	if err := tx.Commit(); err != nil {
		t.Fatalf("commit: %v", err)
	}
}
