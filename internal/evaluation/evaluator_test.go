package evaluation

import (
	"context"
	"encoding/json"
	"errors"
	"math"
	"strings"
	"testing"
	"time"

	"github.com/territorial-engagement/backend/internal/apperr"
	"github.com/territorial-engagement/backend/internal/artifacts"
	"github.com/territorial-engagement/backend/internal/domain"
	"github.com/territorial-engagement/backend/internal/filter"
)

type seriesByDepartment map[string][]domain.MonthlyPoint

func (s seriesByDepartment) MonthlySeries(ctx context.Context, c filter.Compiled) ([]domain.MonthlyPoint, error) {
	dept, _ := c.Params["f_department"].(string)
	return s[dept], nil
}

type failingSeries struct{ err error }

func (f failingSeries) MonthlySeries(ctx context.Context, c filter.Compiled) ([]domain.MonthlyPoint, error) {
	return nil, f.err
}

func linearSeries(n int) []domain.MonthlyPoint {
	out := make([]domain.MonthlyPoint, n)
	for i := range out {
		out[i] = domain.MonthlyPoint{
			Period:     time.Date(2023, time.January, 1, 0, 0, 0, 0, time.UTC).AddDate(0, i, 0),
			Activities: float64(10 + i),
		}
	}
	return out
}

func TestBacktest(t *testing.T) {
	dept := artifacts.NewScopeKey(artifacts.ScopeDepartment, "ANTIOQUIA")
	zone := artifacts.NewScopeKey(artifacts.ScopeZone, "NORTE")
	models := artifacts.NewForecastModels(
		[]*artifacts.ForecastModel{
			// random walk with drift follows the linear series exactly
			{Key: dept, Kind: artifacts.KindSARIMA, Version: "v1", SARIMA: &artifacts.SARIMAParams{D: 1, Intercept: 1, Sigma2: 1}},
			{Key: zone, Kind: artifacts.KindSARIMA, Version: "v1", SARIMA: &artifacts.SARIMAParams{AR: []float64{0.5}}},
		},
		map[string]artifacts.Metric{dept.String(): {RMSE: 0.5, MAE: 0.4}},
	)
	e := NewEvaluator(seriesByDepartment{"ANTIOQUIA": linearSeries(18)}, artifacts.NewStaticRegistry(nil, models, nil))

	report, err := e.Backtest(context.Background(), 3)
	if err != nil {
		t.Fatalf("Backtest: %v", err)
	}

	if report.TotalModels != 2 || report.Evaluated != 1 || report.Failed != 1 {
		t.Fatalf("report = %+v", report)
	}

	got := report.Results[0]
	if got.Scope != dept.String() || got.RMSE > 1e-9 || got.MAE > 1e-9 {
		t.Errorf("department result = %+v", got)
	}
	if got.StoredRMSE == nil || *got.StoredRMSE != 0.5 {
		t.Errorf("stored rmse = %v", got.StoredRMSE)
	}
	if report.BeatBaseline != 1 {
		t.Errorf("exact model should beat the seasonal-naive baseline")
	}

	if report.Results[1].Error == "" || report.Results[1].StoredRMSE != nil {
		t.Errorf("zone result = %+v", report.Results[1])
	}

	if _, err := json.Marshal(report); err != nil {
		t.Errorf("report must be JSON encodable: %v", err)
	}
	if !strings.Contains(GenerateReport(report), "zone__NORTE") {
		t.Errorf("text report misses failed scope")
	}
}

func TestBacktestErrors(t *testing.T) {
	e := NewEvaluator(seriesByDepartment{}, artifacts.NewStaticRegistry(nil, nil, nil))
	var mle *apperr.ModelLoadError
	if _, err := e.Backtest(context.Background(), 3); !errors.As(err, &mle) {
		t.Errorf("want ModelLoadError, got %v", err)
	}

	if _, err := e.Backtest(context.Background(), 0); err == nil {
		t.Errorf("zero holdout must be rejected")
	}

	dept := artifacts.NewScopeKey(artifacts.ScopeDepartment, "ANTIOQUIA")
	models := artifacts.NewForecastModels([]*artifacts.ForecastModel{
		{Key: dept, Kind: artifacts.KindSARIMA, SARIMA: &artifacts.SARIMAParams{D: 1}},
	}, nil)
	storageErr := apperr.NewStorageError(apperr.StorageTimeout, errors.New("canceling statement"))
	e = NewEvaluator(failingSeries{err: storageErr}, artifacts.NewStaticRegistry(nil, models, nil))
	if _, err := e.Backtest(context.Background(), 3); !apperr.IsStorageKind(err, apperr.StorageTimeout) {
		t.Errorf("want storage error, got %v", err)
	}
}

func TestScore(t *testing.T) {
	rmse, mae := Score([]float64{1, 2, 3}, []float64{1, 4, -1})
	// errors 0, -2, 3 once the negative prediction is floored at zero
	if math.Abs(rmse-math.Sqrt(13.0/3)) > 1e-9 || math.Abs(mae-5.0/3) > 1e-9 {
		t.Errorf("rmse = %v, mae = %v", rmse, mae)
	}
}

func TestFilterFor(t *testing.T) {
	f := FilterFor(artifacts.NewScopeKey(artifacts.ScopeMunicipality, "ANTIOQUIA", "MEDELLIN"))
	if *f.Department != "ANTIOQUIA" || *f.Municipality != "MEDELLIN" {
		t.Errorf("filter = %+v", f)
	}
	if f := FilterFor(artifacts.NewScopeKey(artifacts.ScopeCategory, "SIMULACRO")); *f.CanonicalCategory != "SIMULACRO" {
		t.Errorf("filter = %+v", f)
	}
}
