package store

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/paulmach/orb"

	"github.com/territorial-engagement/backend/internal/apperr"
	"github.com/territorial-engagement/backend/internal/domain"
)

func openPostGIS(t *testing.T) *Store {
	t.Helper()
	dsn := os.Getenv("ACTIVITY_ENGINE_TEST_DATABASE_URL")
	if dsn == "" {
		t.Skip("ACTIVITY_ENGINE_TEST_DATABASE_URL not set, skipping PostGIS integration test")
	}

	s, err := Open(context.Background(), Options{
		Driver:           "postgres",
		DSN:              dsn,
		PoolSize:         2,
		StatementTimeout: 5 * time.Second,
		PrePing:          true,
	})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestPostGISDecodesNumericAndDates(t *testing.T) {
	s := openPostGIS(t)

	rs, err := s.RunTabular(context.Background(),
		"SELECT CAST(:amount AS numeric(10, 2)) AS amount, CAST(:day AS date) AS day, CAST(NULL AS text) AS missing, CAST(7 AS bigint) AS n",
		map[string]interface{}{"amount": 12.5, "day": "2024-03-01"})
	if err != nil {
		t.Fatalf("RunTabular: %v", err)
	}
	if rs.Len() != 1 {
		t.Fatalf("rows = %d", rs.Len())
	}

	row := rs.Rows[0]
	if v, ok := row["amount"].(float64); !ok || v != 12.5 {
		t.Errorf("amount = %#v", row["amount"])
	}
	if d, ok := row.Time("day"); !ok || d.Month() != time.March {
		t.Errorf("day = %#v", row["day"])
	}
	if row["missing"] != nil {
		t.Errorf("NULL must stay nil, got %#v", row["missing"])
	}
	if rs.Kind("n") != domain.KindInt || row.Int("n") != 7 {
		t.Errorf("n = %#v (%s)", row["n"], rs.Kind("n"))
	}
}

func TestPostGISRunSpatial(t *testing.T) {
	s := openPostGIS(t)

	fc, err := s.RunSpatial(context.Background(),
		"SELECT 'a' AS name, ST_AsGeoJSON(ST_SetSRID(ST_MakePoint(:lon, :lat), 4326)) AS geometry",
		map[string]interface{}{"lon": -75.56, "lat": 6.25}, "geometry")
	if err != nil {
		t.Fatalf("RunSpatial: %v", err)
	}
	if len(fc.Features) != 1 {
		t.Fatalf("features = %d", len(fc.Features))
	}
	if p, ok := fc.Features[0].Geometry.(orb.Point); !ok || p.Lon() != -75.56 {
		t.Errorf("geometry = %#v", fc.Features[0].Geometry)
	}
	if fc.Features[0].Properties["name"] != "a" {
		t.Errorf("properties = %v", fc.Features[0].Properties)
	}
}

func TestPostGISStatementTimeout(t *testing.T) {
	s := openPostGIS(t)
	s.opts.StatementTimeout = 200 * time.Millisecond

	_, err := s.RunTabular(context.Background(), "SELECT pg_sleep(2)", nil)
	var se *apperr.StorageError
	if !errors.As(err, &se) || se.Kind != apperr.StorageTimeout {
		t.Errorf("want timeout StorageError, got %v", err)
	}
}
