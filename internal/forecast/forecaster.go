package forecast

import (
	"context"
	"fmt"
	"math"
	"strings"
	"time"

	"go.uber.org/zap"
	"gonum.org/v1/gonum/stat"

	"github.com/territorial-engagement/backend/internal/artifacts"
	"github.com/territorial-engagement/backend/internal/domain"
	"github.com/territorial-engagement/backend/internal/filter"
	"github.com/territorial-engagement/backend/internal/metrics"
	"github.com/territorial-engagement/backend/pkg/config"
	"github.com/territorial-engagement/backend/pkg/logger"
)

// z value of a two-sided 95% interval.
const z95 = 1.959964

const BaselineKind = "seasonal_naive"

type Options struct {
	MinMonths          int
	MaxMonths          int
	LowVolumeThreshold float64
	LowVolumeFactor    float64
	EnvelopeFactor     float64
	Now                func() time.Time
}

func OptionsFromConfig(cfg config.ForecastConfig) Options {
	return Options{
		MinMonths:          cfg.MinMonths,
		MaxMonths:          cfg.MaxMonths,
		LowVolumeThreshold: cfg.LowVolumeThreshold,
		LowVolumeFactor:    cfg.LowVolumeFactor,
		EnvelopeFactor:     cfg.EnvelopeFactor,
	}
}

func (o Options) withDefaults() Options {
	if o.MinMonths < 1 {
		o.MinMonths = 1
	}
	if o.MaxMonths < o.MinMonths {
		o.MaxMonths = 24
		if o.MaxMonths < o.MinMonths {
			o.MaxMonths = o.MinMonths
		}
	}
	if o.LowVolumeThreshold <= 0 {
		o.LowVolumeThreshold = 10
	}
	if o.LowVolumeFactor <= 0 {
		o.LowVolumeFactor = 3
	}
	if o.EnvelopeFactor <= 1 {
		o.EnvelopeFactor = 2.5
	}
	if o.Now == nil {
		o.Now = time.Now
	}
	return o
}

// Coherent reports whether a predicted mean is plausible next to the
// historical mean. Low-volume series get a wider, zero-anchored envelope.
func (o Options) Coherent(historical, predicted float64) bool {
	if historical < o.LowVolumeThreshold {
		return predicted >= 0 && predicted <= historical*o.LowVolumeFactor+1
	}
	return predicted >= historical/o.EnvelopeFactor && predicted <= historical*o.EnvelopeFactor
}

// SeriesSource supplies the monthly activity series for a filter.
type SeriesSource interface {
	MonthlySeries(ctx context.Context, c filter.Compiled) ([]domain.MonthlyPoint, error)
}

type Forecaster struct {
	series   SeriesSource
	registry *artifacts.Registry
	opts     Options
}

func NewForecaster(series SeriesSource, registry *artifacts.Registry, opts Options) *Forecaster {
	return &Forecaster{series: series, registry: registry, opts: opts.withDefaults()}
}

// Forecast projects monthly activity counts for the filter. The emitted
// periods cover every month from the last observation to the current one
// (marked GapFill) plus horizon future months.
func (f *Forecaster) Forecast(ctx context.Context, flt domain.Filter, horizon int) (*domain.Forecast, error) {
	models, err := f.registry.Forecast()
	if err != nil {
		return nil, err
	}

	points, err := f.series.MonthlySeries(ctx, filter.Compile(flt))
	if err != nil {
		return nil, fmt.Errorf("failed to load monthly series: %w", err)
	}
	if len(points) == 0 {
		return &domain.Forecast{NoData: true, Periods: []domain.ForecastPeriod{}}, nil
	}

	first, values := Densify(points)
	last := addMonths(first, len(values)-1)

	gap := monthsBetween(last, monthStart(f.opts.Now()))
	if gap < 0 {
		gap = 0
	}
	horizon = clamp(horizon, f.opts.MinMonths, f.opts.MaxMonths)
	steps := gap + horizon

	histMean := stat.Mean(values, nil)

	result := &domain.Forecast{
		LastObserved:  &last,
		GapMonths:     gap,
		HorizonMonths: horizon,
	}

	var estimates []Estimate
	for _, key := range Candidates(flt) {
		model, metric, ok := models.Lookup(key)
		if !ok {
			continue
		}
		if !metric.Usable() {
			result.RejectedScopes = append(result.RejectedScopes, key.String()+": no validation rmse")
			continue
		}

		est, err := Project(model, values, first, steps)
		if err != nil {
			result.RejectedScopes = append(result.RejectedScopes, key.String()+": "+err.Error())
			continue
		}
		if predicted := meanPoint(est); !f.opts.Coherent(histMean, predicted) {
			logger.Debug("Forecast model rejected",
				zap.String("scope", key.String()),
				zap.Float64("historical_mean", histMean),
				zap.Float64("predicted_mean", predicted))
			result.RejectedScopes = append(result.RejectedScopes, key.String()+": incoherent with history")
			continue
		}

		estimates = est
		result.ScopeKey = key.String()
		result.ModelKind = model.Kind
		result.ModelVersion = model.Version
		result.RMSE = metric.RMSE
		break
	}

	scopeLabel := "baseline"
	if estimates == nil {
		estimates = SeasonalNaive(values, steps)
		result.ModelKind = BaselineKind
		result.Baseline = true
	} else {
		scopeLabel = strings.SplitN(result.ScopeKey, "__", 2)[0]
	}

	result.Periods = make([]domain.ForecastPeriod, steps)
	for k, e := range estimates {
		result.Periods[k] = bounded(addMonths(last, k+1), e, k < gap)
	}

	metrics.Forecasts.WithLabelValues(scopeLabel).Inc()
	logger.Info("Forecast computed",
		zap.String("scope", result.ScopeKey),
		zap.String("model_kind", result.ModelKind),
		zap.Int("gap_months", gap),
		zap.Int("horizon_months", horizon),
		zap.Int("rejected", len(result.RejectedScopes)))

	return result, nil
}

// Candidates lists the scope keys the filter can use, most specific first.
func Candidates(flt domain.Filter) []artifacts.ScopeKey {
	var keys []artifacts.ScopeKey
	dept, hasDept := nonEmpty(flt.Department)
	if muni, ok := nonEmpty(flt.Municipality); ok && hasDept {
		keys = append(keys, artifacts.NewScopeKey(artifacts.ScopeMunicipality, dept, muni))
	}
	if hasDept {
		keys = append(keys, artifacts.NewScopeKey(artifacts.ScopeDepartment, dept))
	}
	if zone, ok := nonEmpty(flt.Zone); ok {
		keys = append(keys, artifacts.NewScopeKey(artifacts.ScopeZone, zone))
	}
	if cat, ok := nonEmpty(flt.CanonicalCategory); ok {
		keys = append(keys, artifacts.NewScopeKey(artifacts.ScopeCategory, cat))
	}
	return keys
}

func nonEmpty(s *string) (string, bool) {
	if s == nil {
		return "", false
	}
	v := strings.TrimSpace(*s)
	return v, v != ""
}

// bounded turns an estimate into a period with a 95% interval, clipped at
// zero and ordered lower <= point <= upper.
func bounded(period time.Time, e Estimate, gapFill bool) domain.ForecastPeriod {
	raw := e.Point
	if math.IsNaN(raw) || math.IsInf(raw, 0) {
		raw = 0
	}
	half := z95 * e.StdErr
	if math.IsNaN(half) || math.IsInf(half, 0) || half < 0 {
		half = 0
	}

	point := math.Max(0, raw)
	lower := math.Min(math.Max(0, raw-half), point)
	upper := math.Max(raw+half, point)

	return domain.ForecastPeriod{
		Period:  period,
		Point:   point,
		Lower:   lower,
		Upper:   upper,
		GapFill: gapFill,
	}
}

func meanPoint(est []Estimate) float64 {
	if len(est) == 0 {
		return 0
	}
	sum := 0.0
	for _, e := range est {
		sum += math.Max(0, e.Point)
	}
	return sum / float64(len(est))
}

// Densify orders the series and fills missing months with zero. It
// returns the first month and one value per month.
func Densify(points []domain.MonthlyPoint) (time.Time, []float64) {
	if len(points) == 0 {
		return time.Time{}, nil
	}

	first, last := monthStart(points[0].Period), monthStart(points[0].Period)
	for _, p := range points[1:] {
		m := monthStart(p.Period)
		if m.Before(first) {
			first = m
		}
		if m.After(last) {
			last = m
		}
	}

	values := make([]float64, monthsBetween(first, last)+1)
	for _, p := range points {
		values[monthsBetween(first, monthStart(p.Period))] += p.Activities
	}
	return first, values
}

func monthStart(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, time.UTC)
}

func monthsBetween(from, to time.Time) int {
	return (to.Year()-from.Year())*12 + int(to.Month()) - int(from.Month())
}

func addMonths(t time.Time, n int) time.Time {
	return t.AddDate(0, n, 0)
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
