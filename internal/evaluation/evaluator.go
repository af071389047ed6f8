package evaluation

import (
	"context"
	"fmt"
	"math"
	"sort"

	"go.uber.org/zap"

	"github.com/territorial-engagement/backend/internal/artifacts"
	"github.com/territorial-engagement/backend/internal/domain"
	"github.com/territorial-engagement/backend/internal/filter"
	"github.com/territorial-engagement/backend/internal/forecast"
	"github.com/territorial-engagement/backend/pkg/logger"
)

// Evaluator backtests the stored forecast models against the activity
// history.
type Evaluator struct {
	series   forecast.SeriesSource
	registry *artifacts.Registry
}

type ModelResult struct {
	Scope         string   `json:"scope"`
	Kind          string   `json:"kind"`
	Version       string   `json:"version"`
	HoldoutMonths int      `json:"holdout_months"`
	RMSE          float64  `json:"rmse"`
	MAE           float64  `json:"mae"`
	StoredRMSE    *float64 `json:"stored_rmse,omitempty"`
	BaselineRMSE  float64  `json:"baseline_rmse"`
	Error         string   `json:"error,omitempty"`
}

type BacktestReport struct {
	TotalModels    int           `json:"total_models"`
	Evaluated      int           `json:"evaluated"`
	Failed         int           `json:"failed"`
	BeatBaseline   int           `json:"beat_baseline"`
	AvgRMSE        float64       `json:"avg_rmse"`
	AvgMAE         float64       `json:"avg_mae"`
	AvgBaselineMAE float64       `json:"avg_baseline_mae"`
	Results        []ModelResult `json:"results"`
}

func NewEvaluator(series forecast.SeriesSource, registry *artifacts.Registry) *Evaluator {
	return &Evaluator{
		series:   series,
		registry: registry,
	}
}

// Backtest holds out the last holdout months of each scope's series,
// projects them with the scope model and the seasonal-naive baseline, and
// scores both. Scopes that cannot be evaluated are reported, not fatal;
// storage errors abort the run.
func (e *Evaluator) Backtest(ctx context.Context, holdout int) (*BacktestReport, error) {
	if holdout < 1 {
		return nil, fmt.Errorf("holdout must be at least one month, got %d", holdout)
	}

	models, err := e.registry.Forecast()
	if err != nil {
		return nil, err
	}

	keys := models.Keys()
	sort.Slice(keys, func(i, j int) bool { return keys[i].String() < keys[j].String() })

	logger.Info("Running forecast backtest", zap.Int("models", len(keys)), zap.Int("holdout_months", holdout))

	report := &BacktestReport{TotalModels: len(keys), Results: []ModelResult{}}
	var totalRMSE, totalMAE, totalBaselineMAE float64

	for i, key := range keys {
		model, metric, _ := models.Lookup(key)
		res := ModelResult{
			Scope:         key.String(),
			Kind:          model.Kind,
			Version:       model.Version,
			HoldoutMonths: holdout,
		}
		if metric.Usable() {
			stored := metric.RMSE
			res.StoredRMSE = &stored
		}

		logger.Debug("Backtesting model", zap.Int("index", i+1), zap.Int("total", len(keys)), zap.String("scope", res.Scope))

		points, err := e.series.MonthlySeries(ctx, filter.Compile(FilterFor(key)))
		if err != nil {
			return nil, fmt.Errorf("failed to load series for %s: %w", res.Scope, err)
		}

		first, values := forecast.Densify(points)
		if len(values) <= holdout {
			res.Error = fmt.Sprintf("series of %d months is too short for a %d month holdout", len(values), holdout)
			report.Failed++
			report.Results = append(report.Results, res)
			continue
		}

		train, actual := values[:len(values)-holdout], values[len(values)-holdout:]
		est, err := forecast.Project(model, train, first, holdout)
		if err != nil {
			logger.Warn("Backtest projection failed", zap.String("scope", res.Scope), zap.Error(err))
			res.Error = err.Error()
			report.Failed++
			report.Results = append(report.Results, res)
			continue
		}

		res.RMSE, res.MAE = Score(actual, pointsOf(est))
		var baselineMAE float64
		res.BaselineRMSE, baselineMAE = Score(actual, pointsOf(forecast.SeasonalNaive(train, holdout)))

		if res.RMSE < res.BaselineRMSE {
			report.BeatBaseline++
		}
		totalRMSE += res.RMSE
		totalMAE += res.MAE
		totalBaselineMAE += baselineMAE
		report.Evaluated++
		report.Results = append(report.Results, res)
	}

	if report.Evaluated > 0 {
		n := float64(report.Evaluated)
		report.AvgRMSE = totalRMSE / n
		report.AvgMAE = totalMAE / n
		report.AvgBaselineMAE = totalBaselineMAE / n
	}

	logger.Info("Forecast backtest completed",
		zap.Int("evaluated", report.Evaluated),
		zap.Int("failed", report.Failed),
		zap.Int("beat_baseline", report.BeatBaseline),
		zap.Float64("avg_rmse", report.AvgRMSE),
	)

	return report, nil
}

// FilterFor narrows the activity history to a forecast scope.
func FilterFor(key artifacts.ScopeKey) domain.Filter {
	var f domain.Filter
	switch key.Level {
	case artifacts.ScopeMunicipality:
		f.Department = domain.String(key.IDs[0])
		f.Municipality = domain.String(key.IDs[1])
	case artifacts.ScopeDepartment:
		f.Department = domain.String(key.IDs[0])
	case artifacts.ScopeZone:
		f.Zone = domain.String(key.IDs[0])
	case artifacts.ScopeCategory:
		f.CanonicalCategory = domain.String(key.IDs[0])
	}
	return f
}

// Score returns the RMSE and MAE of predicted against actual. Negative
// predictions count as zero, as they are emitted.
func Score(actual, predicted []float64) (rmse, mae float64) {
	n := len(actual)
	if len(predicted) < n {
		n = len(predicted)
	}
	if n == 0 {
		return math.NaN(), math.NaN()
	}

	var sq, abs float64
	for i := 0; i < n; i++ {
		d := actual[i] - math.Max(0, predicted[i])
		sq += d * d
		abs += math.Abs(d)
	}
	return math.Sqrt(sq / float64(n)), abs / float64(n)
}

func pointsOf(est []forecast.Estimate) []float64 {
	out := make([]float64, len(est))
	for i, e := range est {
		out[i] = e.Point
	}
	return out
}

// GenerateReport renders a plain-text summary for the batch command.
func GenerateReport(report *BacktestReport) string {
	s := fmt.Sprintf(`
Forecast Backtest Report
========================

Models: %d (evaluated %d, failed %d)
Beat seasonal-naive baseline: %d

Average RMSE: %.3f
Average MAE: %.3f (baseline %.3f)
`,
		report.TotalModels, report.Evaluated, report.Failed,
		report.BeatBaseline,
		report.AvgRMSE,
		report.AvgMAE, report.AvgBaselineMAE,
	)

	for _, r := range report.Results {
		if r.Error != "" {
			s += fmt.Sprintf("\n- %s: %s", r.Scope, r.Error)
			continue
		}
		s += fmt.Sprintf("\n- %s (%s): rmse %.3f, mae %.3f", r.Scope, r.Kind, r.RMSE, r.MAE)
		if r.StoredRMSE != nil {
			s += fmt.Sprintf(", stored rmse %.3f", *r.StoredRMSE)
		}
	}
	return s + "\n"
}
