package prediction

import (
	"context"
	"fmt"
	"math"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/territorial-engagement/backend/internal/artifacts"
	"github.com/territorial-engagement/backend/internal/domain"
	"github.com/territorial-engagement/backend/internal/features"
	"github.com/territorial-engagement/backend/internal/metrics"
	"github.com/territorial-engagement/backend/pkg/logger"
)

const (
	baseWeight      = 0.5
	sameMonthWeight = 0.25
	sameDayWeight   = 0.25

	// dynamicImportanceRows is the prior-row count from which family
	// importances are derived from history instead of the fixed table.
	dynamicImportanceRows = 3

	// countSaturation is the row count at which a count-driven family
	// reaches full weight.
	countSaturation = 30.0
	importanceFloor = 0.05
)

var fallbackImportance = map[string]float64{
	"contextual":  0.30,
	"category":    0.25,
	"geography":   0.20,
	"day_of_week": 0.15,
	"month":       0.10,
}

type Predictor struct {
	registry *artifacts.Registry
	loader   features.HistoryLoader
}

func NewPredictor(registry *artifacts.Registry, loader features.HistoryLoader) *Predictor {
	return &Predictor{registry: registry, loader: loader}
}

// Predict estimates attendance for a planned activity. Missing history is
// reported through InsufficientData, not as an error.
func (p *Predictor) Predict(ctx context.Context, req domain.PredictionRequest) (*domain.PredictionResult, error) {
	model, err := p.registry.Attendance()
	if err != nil {
		return nil, err
	}

	eng := features.NewEngineer(p.loader, model.Encodings, model.FeatureList)
	fr, err := eng.Engineer(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("failed to predict attendance: %w", err)
	}

	result := &domain.PredictionResult{
		ID:                 uuid.New().String(),
		History:            fr.Context,
		ModelImportance:    model.Importance,
		ModelVersion:       model.Info.Version,
		FeatureListVersion: model.Info.FeatureListVersion,
	}

	if fr.InsufficientData {
		result.Confidence = domain.ConfidenceLow
		result.InsufficientData = true
		result.FeatureImportance = copyImportance(fallbackImportance)
		metrics.Predictions.WithLabelValues(string(result.Confidence)).Inc()
		logger.Debug("No history for prediction",
			zap.String("department", req.Department),
			zap.String("municipality", req.Municipality),
			zap.String("category", req.CanonicalCategory))
		return result, nil
	}

	base := math.Max(0, model.Ensemble.Predict(fr.Vector.Values))
	result.BaseEstimate = base

	estimate := Blend(base, fr.Context.SameMonthMean, fr.Context.SameDayMean)
	estimate = Clip(estimate, fr.Context)

	result.PredictedAttendees = Attendees(estimate, fr.Context)
	result.Confidence = ConfidenceFor(estimate, fr.Context, fr.Scope.Fallback())
	result.FeatureImportance = Importance(fr.Context)

	metrics.Predictions.WithLabelValues(string(result.Confidence)).Inc()
	logger.Debug("Attendance predicted",
		zap.String("id", result.ID),
		zap.String("scope", string(fr.Scope)),
		zap.Float64("base", base),
		zap.Int64("predicted", result.PredictedAttendees),
		zap.String("confidence", string(result.Confidence)))

	return result, nil
}

// Blend pulls the model estimate toward the same-month and same-weekday
// historical means. Components without history are left out and the
// remaining weights renormalized.
func Blend(base, sameMonth, sameDay float64) float64 {
	sum, weight := base*baseWeight, baseWeight
	if sameMonth > 0 {
		sum += sameMonth * sameMonthWeight
		weight += sameMonthWeight
	}
	if sameDay > 0 {
		sum += sameDay * sameDayWeight
		weight += sameDayWeight
	}
	return sum / weight
}

// Clip bounds the estimate by the scoped history. The upper bound wins
// when the two cross.
func Clip(estimate float64, hc domain.HistoricalContext) float64 {
	lower, upper := bounds(hc)

	v := math.Min(math.Max(estimate, lower), upper)
	if hc.CategoryMean > 0 && v > 2*hc.CategoryMean {
		v = 1.5 * hc.CategoryMean
	}
	return math.Max(0, v)
}

// Attendees rounds a clipped estimate to a head count that still respects
// the upper bound.
func Attendees(estimate float64, hc domain.HistoricalContext) int64 {
	n := math.Round(estimate)
	if _, upper := bounds(hc); n > upper {
		n = math.Floor(upper)
	}
	return int64(math.Max(0, n))
}

func bounds(hc domain.HistoricalContext) (lower, upper float64) {
	lower = math.Max(0.4*hc.CategoryMean, 0.5*hc.RollingMean30)
	upper = math.Min(1.1*hc.CategoryMax, 1.5*hc.CategoryMean)
	if lower > upper {
		lower = upper
	}
	return lower, upper
}

// ConfidenceFor labels the estimate by its distance, in standard
// deviations, from the recent rolling mean.
func ConfidenceFor(estimate float64, hc domain.HistoricalContext, fallback bool) domain.Confidence {
	diff := math.Abs(estimate - hc.RollingMean30)

	var c domain.Confidence
	switch {
	case hc.CategoryStd <= 0:
		c = domain.ConfidenceLow
		if diff < 0.5 {
			c = domain.ConfidenceHigh
		}
	case diff/hc.CategoryStd <= 1:
		c = domain.ConfidenceHigh
	case diff/hc.CategoryStd <= 2:
		c = domain.ConfidenceMedium
	default:
		c = domain.ConfidenceLow
	}

	if fallback && c == domain.ConfidenceHigh {
		c = domain.ConfidenceMedium
	}
	return c
}

// Importance weighs the feature families by how much history backs them.
// Below dynamicImportanceRows prior rows the fixed table is returned.
func Importance(hc domain.HistoricalContext) map[string]float64 {
	if hc.PriorRows < dynamicImportanceRows {
		return copyImportance(fallbackImportance)
	}

	raw := map[string]float64{
		"contextual":  saturate(float64(hc.PriorRows) / countSaturation),
		"category":    saturate(float64(hc.CategoryRows) / countSaturation),
		"geography":   saturate(float64(hc.DepartmentRows) / countSaturation),
		"day_of_week": saturate(hc.DayDeviation),
		"month":       saturate(hc.MonthDeviation),
	}

	total := 0.0
	for k, v := range raw {
		v = math.Max(v, importanceFloor)
		raw[k] = v
		total += v
	}
	for k, v := range raw {
		raw[k] = v / total
	}
	return raw
}

func saturate(v float64) float64 {
	if math.IsNaN(v) || v < 0 {
		return 0
	}
	return math.Min(v, 1)
}

func copyImportance(m map[string]float64) map[string]float64 {
	out := make(map[string]float64, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
