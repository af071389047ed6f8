package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gofiber/fiber/v2"

	"github.com/territorial-engagement/backend/internal/aggregation"
	"github.com/territorial-engagement/backend/internal/apperr"
	"github.com/territorial-engagement/backend/internal/artifacts"
	"github.com/territorial-engagement/backend/internal/engine"
	"github.com/territorial-engagement/backend/internal/store/storetest"
	"github.com/territorial-engagement/backend/pkg/config"
)

func testConfig() *config.Config {
	return &config.Config{
		Environment: config.EnvDevelopment,
		Forecast:    config.ForecastConfig{MinMonths: 1, MaxMonths: 24},
		Spatial:     config.SpatialConfig{ToleranceFactor: 0.0005},
		Server:      config.ServerConfig{RequestsPerMinute: 1000},
	}
}

func newTestApp(t *testing.T, fake *storetest.Fake, registry *artifacts.Registry) *fiber.App {
	t.Helper()
	cfg := testConfig()
	app, stop := NewApp(cfg, engine.Assemble(cfg, fake, registry, aggregation.Options{}))
	t.Cleanup(stop)
	return app
}

func do(t *testing.T, app *fiber.App, req *http.Request) (int, map[string]interface{}) {
	t.Helper()
	resp, err := app.Test(req, -1)
	if err != nil {
		t.Fatalf("%s %s: %v", req.Method, req.URL, err)
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)
	out := map[string]interface{}{}
	_ = json.Unmarshal(body, &out)
	return resp.StatusCode, out
}

func get(t *testing.T, app *fiber.App, target string) (int, map[string]interface{}) {
	return do(t, app, httptest.NewRequest("GET", target, nil))
}

func post(t *testing.T, app *fiber.App, target, body string) (int, map[string]interface{}) {
	req := httptest.NewRequest("POST", target, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	return do(t, app, req)
}

func TestKPIRoute(t *testing.T) {
	fake := storetest.New().Return("COUNT(DISTINCT", storetest.Rows(
		[]string{"total_activities", "total_attendees"},
		[]interface{}{int64(7), int64(90)},
	))
	app := newTestApp(t, fake, artifacts.NewStaticRegistry(nil, nil, nil))

	status, body := get(t, app, "/api/v1/kpi?department=ANTIOQUIA&start_date=2024-01-01")
	if status != 200 || body["total_activities"] != 7.0 {
		t.Fatalf("status = %d, body = %v", status, body)
	}

	calls := fake.Calls()
	if len(calls) != 1 || calls[0].Params["f_department"] != "ANTIOQUIA" || calls[0].Params["f_start_date"] == nil {
		t.Errorf("calls = %+v", calls)
	}
}

func TestFilterRejections(t *testing.T) {
	app := newTestApp(t, storetest.New(), artifacts.NewStaticRegistry(nil, nil, nil))

	tests := []struct {
		target string
		want   int
	}{
		{"/api/v1/kpi?month=13", 400},
		{"/api/v1/kpi?year=twenty", 400},
		{"/api/v1/kpi?start_date=2024-13-01", 400},
		{"/api/v1/kpi?start_date=2024-03-01&end_date=2024-01-01", 400},
		{"/api/v1/kpi?geometry_kind=barrio", 400},
		{"/api/v1/kpi?departmnt=ANTIOQUIA", 400},
		{"/api/v1/map/provinces", 400},
		{"/api/v1/layers/schools", 404},
		{"/api/v1/layers/roads/fields/surface_color/values", 404},
	}
	for _, tt := range tests {
		if status, body := get(t, app, tt.target); status != tt.want {
			t.Errorf("%s: status = %d, want %d (%v)", tt.target, status, tt.want, body)
		}
	}
}

func TestLayerList(t *testing.T) {
	app := newTestApp(t, storetest.New(), artifacts.NewStaticRegistry(nil, nil, nil))

	status, body := get(t, app, "/api/v1/layers")
	if status != 200 {
		t.Fatalf("status = %d", status)
	}
	if layers, ok := body["layers"].([]interface{}); !ok || len(layers) == 0 {
		t.Errorf("body = %v", body)
	}
}

func TestModelRoutes(t *testing.T) {
	app := newTestApp(t, storetest.New(), artifacts.NewStaticRegistry(nil, artifacts.NewForecastModels(nil, nil), nil))

	status, body := get(t, app, "/api/v1/forecast?department=ANTIOQUIA&horizon=3")
	if status != 200 || body["no_data"] != true {
		t.Errorf("forecast: status = %d, body = %v", status, body)
	}

	status, body = post(t, app, "/api/v1/predict", `{"department":"ANTIOQUIA","canonical_category":"CAPACITACION","date":"2025-06-15"}`)
	if status != fiber.StatusServiceUnavailable || body["error"] == "" {
		t.Errorf("predict without model: status = %d, body = %v", status, body)
	}

	status, _ = post(t, app, "/api/v1/predict", `{"department":"ANTIOQUIA","canonical_category":"CAPACITACION","date":"15/06/2025"}`)
	if status != 400 {
		t.Errorf("predict bad date: status = %d", status)
	}

	status, _ = post(t, app, "/api/v1/prioritize", `{"target":-1}`)
	if status != 400 {
		t.Errorf("prioritize negative target: status = %d", status)
	}

	status, _ = post(t, app, "/api/v1/prioritize", `{"target":10}`)
	if status != fiber.StatusServiceUnavailable {
		t.Errorf("prioritize without model: status = %d", status)
	}
}

func TestStorageErrorStatus(t *testing.T) {
	fake := storetest.New().Fail("", apperr.NewStorageError(apperr.StorageTimeout, errors.New("canceling statement due to statement timeout")))
	app := newTestApp(t, fake, artifacts.NewStaticRegistry(nil, nil, nil))

	status, body := get(t, app, "/api/v1/dashboard")
	if status != fiber.StatusGatewayTimeout {
		t.Errorf("status = %d", status)
	}
	if strings.Contains(body["error"].(string), "canceling") {
		t.Errorf("driver message leaked: %v", body)
	}

	if status, _ := get(t, app, "/ready"); status != fiber.StatusServiceUnavailable {
		t.Errorf("ready status = %d", status)
	}
	if status, _ := get(t, app, "/health"); status != 200 {
		t.Errorf("health status = %d", status)
	}
}
