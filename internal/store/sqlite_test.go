package store

import (
	"context"
	"path/filepath"
	"strings"
	"testing"

	"github.com/kjstillabower/climate-history-service/internal/testhelpers"
)

func TestBuildDSN(t *testing.T) {
	tests := []struct {
		name    string
		cfg     SQLiteConfig
		want    string
		wantErr bool
	}{
		{"plain path", SQLiteConfig{Path: "Resources/hawaii.sqlite"}, "file:Resources/hawaii.sqlite?mode=ro&_busy_timeout=5000", false},
		{"file uri", SQLiteConfig{Path: "file:/data/hawaii.sqlite"}, "file:/data/hawaii.sqlite?mode=ro&_busy_timeout=5000", false},
		{"file uri with params", SQLiteConfig{Path: "file:/data/h.sqlite?cache=shared"}, "file:/data/h.sqlite?cache=shared&mode=ro&_busy_timeout=5000", false},
		{"dsn override", SQLiteConfig{Path: "ignored", DSN: "file:x.db"}, "file:x.db", false},
		{"missing path", SQLiteConfig{}, "", true},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got, err := buildDSN(tc.cfg)
			if (err != nil) != tc.wantErr {
				t.Fatalf("buildDSN() error = %v, wantErr %v", err, tc.wantErr)
			}
			if got != tc.want {
				t.Errorf("buildDSN() = %q, want %q", got, tc.want)
			}
		})
	}
}

func TestOpenSQLite_ReadOnlyFile(t *testing.T) {
	path := testhelpers.NewDatasetFile(t, testhelpers.SampleDataset())
	s, err := OpenSQLite(context.Background(), SQLiteConfig{Path: path, MaxOpenConns: 4}, nil)
	if err != nil {
		t.Fatalf("OpenSQLite() error = %v", err)
	}
	defer s.Close()

	latest, err := s.MaxDate(context.Background())
	if err != nil {
		t.Fatalf("MaxDate() error = %v", err)
	}
	if latest != testhelpers.SampleLatestDate {
		t.Errorf("MaxDate() = %q, want %q", latest, testhelpers.SampleLatestDate)
	}

	if _, err := s.db.Exec(`DELETE FROM measurement`); err == nil {
		t.Error("write on read-only store succeeded, want error")
	}
}

func TestOpenSQLite_MissingFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "absent.sqlite")
	_, err := OpenSQLite(context.Background(), SQLiteConfig{Path: path}, nil)
	if err == nil {
		t.Fatal("OpenSQLite() expected error for missing file, got nil")
	}
	if !strings.Contains(err.Error(), "db ping") {
		t.Errorf("OpenSQLite() error = %v, want db ping failure", err)
	}
}

func TestSQLiteStore_CloseNil(t *testing.T) {
	var s *SQLiteStore
	if err := s.Close(); err != nil {
		t.Errorf("Close() on nil store error = %v", err)
	}
}
