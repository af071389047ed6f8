package store

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/territorial-engagement/backend/internal/apperr"
	"github.com/territorial-engagement/backend/internal/domain"
	"github.com/territorial-engagement/backend/pkg/retry"
)

const fixture = `
CREATE TABLE activities (
	id INTEGER PRIMARY KEY,
	date DATE NOT NULL,
	department TEXT NOT NULL,
	municipality TEXT,
	total_attendees INTEGER NOT NULL,
	cost NUMERIC,
	geometry_json TEXT
);
INSERT INTO activities VALUES (1, '2024-01-10', 'ANTIOQUIA', 'MEDELLIN', 12, 10.5, '{"type":"Point","coordinates":[-75.56,6.25]}');
INSERT INTO activities VALUES (2, '2024-02-11', 'ANTIOQUIA', NULL, 8, 3, '{"type":"Point","coordinates":[-75.6,6.2]}');
INSERT INTO activities VALUES (3, '2024-03-12', 'CHOCO', 'QUIBDO', 20, NULL, NULL);
`

var dbSeq int

func newTestStore(t *testing.T, opts Options) *Store {
	t.Helper()

	dbSeq++
	opts.Driver = "sqlite3"
	opts.DSN = fmt.Sprintf("file:store_test_%d?mode=memory&cache=shared", dbSeq)
	opts.PoolSize = 1
	opts.Retry = retry.Config{MaxAttempts: 1}

	s, err := Open(context.Background(), opts)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { s.Close() })

	if _, err := s.DB().Exec(fixture); err != nil {
		t.Fatalf("fixture: %v", err)
	}
	return s
}

func TestRunTabularBindsNamedParams(t *testing.T) {
	s := newTestStore(t, Options{})

	rs, err := s.RunTabular(context.Background(),
		"SELECT id, department FROM activities WHERE department = :dept ORDER BY id",
		map[string]interface{}{"dept": "ANTIOQUIA"})
	if err != nil {
		t.Fatalf("RunTabular: %v", err)
	}
	if rs.Len() != 2 {
		t.Fatalf("rows = %d, want 2", rs.Len())
	}
	if got, _ := rs.Rows[0].String("department"); got != "ANTIOQUIA" {
		t.Errorf("department = %q", got)
	}

	// A value that looks like SQL stays a value.
	rs, err = s.RunTabular(context.Background(),
		"SELECT id FROM activities WHERE department = :dept",
		map[string]interface{}{"dept": "x' OR '1'='1"})
	if err != nil {
		t.Fatal(err)
	}
	if rs.Len() != 0 {
		t.Errorf("injected predicate matched %d rows", rs.Len())
	}
}

func TestRunTabularPreservesTypes(t *testing.T) {
	s := newTestStore(t, Options{})

	rs, err := s.RunTabular(context.Background(),
		"SELECT id, date, municipality, total_attendees, cost, COUNT(*) OVER () AS n, AVG(total_attendees) OVER () AS mean FROM activities ORDER BY id",
		nil)
	if err != nil {
		t.Fatalf("RunTabular: %v", err)
	}

	first := rs.Rows[0]
	if _, ok := first["id"].(int64); !ok {
		t.Errorf("id is %T, want int64", first["id"])
	}
	if d, ok := first.Time("date"); !ok || d.Format("2006-01-02") != "2024-01-10" {
		t.Errorf("date = %v (%T)", first["date"], first["date"])
	}
	if v, ok := first["cost"].(float64); !ok || v != 10.5 {
		t.Errorf("cost = %v (%T)", first["cost"], first["cost"])
	}
	if v, ok := rs.Rows[1]["cost"].(float64); !ok || v != 3 {
		t.Errorf("integral numeric = %v (%T), want float64", rs.Rows[1]["cost"], rs.Rows[1]["cost"])
	}
	if _, ok := first["n"].(int64); !ok {
		t.Errorf("count is %T, want int64", first["n"])
	}
	if _, ok := first["mean"].(float64); !ok {
		t.Errorf("avg is %T, want float64", first["mean"])
	}

	if rs.Rows[1]["municipality"] != nil {
		t.Errorf("NULL municipality should stay nil, got %v", rs.Rows[1]["municipality"])
	}
	if rs.Kind("cost") != domain.KindFloat || rs.Kind("date") != domain.KindTime {
		t.Errorf("kinds = %v", rs.Columns)
	}
}

func TestRunTabularEmptyResult(t *testing.T) {
	s := newTestStore(t, Options{})

	rs, err := s.RunTabular(context.Background(),
		"SELECT id FROM activities WHERE department = :dept",
		map[string]interface{}{"dept": "NONE"})
	if err != nil {
		t.Fatal(err)
	}
	if rs.Rows == nil || rs.Len() != 0 {
		t.Errorf("want non-nil empty rows, got %#v", rs.Rows)
	}
	if len(rs.Columns) != 1 || rs.Columns[0].Name != "id" {
		t.Errorf("columns = %v", rs.Columns)
	}
}

func TestRunTabularQueryError(t *testing.T) {
	s := newTestStore(t, Options{})

	_, err := s.RunTabular(context.Background(), "SELECT * FROM missing_table", nil)

	var se *apperr.StorageError
	if !errors.As(err, &se) {
		t.Fatalf("want StorageError, got %v", err)
	}
	if se.Kind != apperr.StorageQuery {
		t.Errorf("kind = %s", se.Kind)
	}
	if se.Message == "" {
		t.Errorf("driver message should be carried")
	}
}

func TestRunTabularTimeout(t *testing.T) {
	s := newTestStore(t, Options{StatementTimeout: 50 * time.Millisecond})

	const slow = `WITH RECURSIVE c(x) AS (SELECT 1 UNION ALL SELECT x + 1 FROM c WHERE x < 100000000) SELECT COUNT(*) AS n FROM c`
	_, err := s.RunTabular(context.Background(), slow, nil)
	if !apperr.IsStorageKind(err, apperr.StorageTimeout) {
		t.Fatalf("want timeout StorageError, got %v", err)
	}
}

func TestRunTabularCanceledBeforeStart(t *testing.T) {
	s := newTestStore(t, Options{})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := s.RunTabular(ctx, "SELECT 1 AS one", nil)
	if !errors.Is(err, apperr.ErrCanceled) {
		t.Fatalf("want ErrCanceled, got %v", err)
	}
}

func TestOpenConnectionError(t *testing.T) {
	_, err := Open(context.Background(), Options{
		Driver: "sqlite3",
		DSN:    "file:/nonexistent/dir/activities.db?mode=ro",
		Retry:  retry.Config{MaxAttempts: 1},
	})
	if !apperr.IsStorageKind(err, apperr.StorageConnection) {
		t.Fatalf("want connection StorageError, got %v", err)
	}
}

type memoryCache struct {
	mu      sync.Mutex
	entries map[string]*domain.RowSet
	hits    int
}

func (c *memoryCache) Get(_ context.Context, key string, dest interface{}) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	rs, ok := c.entries[key]
	if !ok {
		return false, nil
	}
	c.hits++
	*dest.(*domain.RowSet) = *rs
	return true, nil
}

func (c *memoryCache) Set(_ context.Context, key string, value interface{}, _ time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key] = value.(*domain.RowSet)
	return nil
}

func TestRunTabularUsesCache(t *testing.T) {
	cache := &memoryCache{entries: map[string]*domain.RowSet{}}
	s := newTestStore(t, Options{Cache: cache})
	ctx := context.Background()

	const q = "SELECT COUNT(*) AS n FROM activities WHERE department = :dept"
	params := map[string]interface{}{"dept": "ANTIOQUIA"}

	first, err := s.RunTabular(ctx, q, params)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := s.DB().Exec("INSERT INTO activities VALUES (4, '2024-04-01', 'ANTIOQUIA', 'BELLO', 1, NULL, NULL)"); err != nil {
		t.Fatal(err)
	}

	second, err := s.RunTabular(ctx, q, params)
	if err != nil {
		t.Fatal(err)
	}
	if cache.hits != 1 {
		t.Errorf("hits = %d, want 1", cache.hits)
	}
	if first.Rows[0].Int("n") != second.Rows[0].Int("n") {
		t.Errorf("cached entry should be served until expiry")
	}

	other, err := s.RunTabular(ctx, q, map[string]interface{}{"dept": "CHOCO"})
	if err != nil {
		t.Fatal(err)
	}
	if other.Rows[0].Int("n") != 1 {
		t.Errorf("different params must not share a cache entry")
	}
}

func TestRunAllKeepsOrder(t *testing.T) {
	s := newTestStore(t, Options{Workers: 3})

	queries := []Query{
		{Name: "antioquia", SQL: "SELECT COUNT(*) AS n FROM activities WHERE department = :d", Params: map[string]interface{}{"d": "ANTIOQUIA"}},
		{Name: "choco", SQL: "SELECT COUNT(*) AS n FROM activities WHERE department = :d", Params: map[string]interface{}{"d": "CHOCO"}},
		{Name: "all", SQL: "SELECT COUNT(*) AS n FROM activities"},
	}

	results, err := s.RunAll(context.Background(), queries)
	if err != nil {
		t.Fatalf("RunAll: %v", err)
	}

	want := []int64{2, 1, 3}
	for i, rs := range results {
		if got := rs.Rows[0].Int("n"); got != want[i] {
			t.Errorf("%s = %d, want %d", queries[i].Name, got, want[i])
		}
	}
}

func TestRunAllPropagatesStorageError(t *testing.T) {
	s := newTestStore(t, Options{})

	_, err := s.RunAll(context.Background(), []Query{
		{Name: "ok", SQL: "SELECT 1 AS one"},
		{Name: "broken", SQL: "SELECT * FROM nope"},
	})

	var se *apperr.StorageError
	if !errors.As(err, &se) {
		t.Fatalf("want wrapped StorageError, got %v", err)
	}
}

func TestRunSpatial(t *testing.T) {
	s := newTestStore(t, Options{})

	fc, err := s.RunSpatial(context.Background(),
		"SELECT id, department, geometry_json AS geometry FROM activities ORDER BY id",
		nil, "geometry")
	if err != nil {
		t.Fatalf("RunSpatial: %v", err)
	}

	if len(fc.Features) != 2 {
		t.Fatalf("features = %d, want 2 (NULL geometry skipped)", len(fc.Features))
	}
	f := fc.Features[0]
	if f.Geometry.GeoJSONType() != "Point" {
		t.Errorf("geometry type = %s", f.Geometry.GeoJSONType())
	}
	if f.Properties["department"] != "ANTIOQUIA" {
		t.Errorf("properties = %v", f.Properties)
	}
	if _, leaked := f.Properties["geometry"]; leaked {
		t.Errorf("geometry column must not be duplicated into properties")
	}
	if f.ID != int64(1) {
		t.Errorf("id = %v (%T)", f.ID, f.ID)
	}
}

func TestKindForType(t *testing.T) {
	tests := []struct {
		in   string
		want domain.ColumnKind
	}{
		{"NUMERIC", domain.KindFloat},
		{"numeric(10,2)", domain.KindFloat},
		{"INT8", domain.KindInt},
		{"DATE", domain.KindTime},
		{"TIMESTAMPTZ", domain.KindTime},
		{"VARCHAR(20)", domain.KindString},
		{"BOOL", domain.KindBool},
		{"", ""},
		{"GEOMETRY", domain.KindOther},
	}
	for _, tt := range tests {
		if got := kindForType(tt.in); got != tt.want {
			t.Errorf("kindForType(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestNormalizeNumericBytes(t *testing.T) {
	v, err := normalize(domain.KindFloat, []byte("12.50"))
	if err != nil || v != 12.5 {
		t.Errorf("numeric bytes = %v, %v", v, err)
	}
	v, err = normalize(domain.KindInt, []byte("42"))
	if err != nil || v != int64(42) {
		t.Errorf("int bytes = %v, %v", v, err)
	}
	v, _ = normalize(domain.KindString, []byte("CHOCO"))
	if v != "CHOCO" {
		t.Errorf("text bytes = %v", v)
	}
}
