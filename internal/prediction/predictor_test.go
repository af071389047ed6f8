package prediction

import (
	"context"
	"errors"
	"math"
	"testing"
	"time"

	"github.com/territorial-engagement/backend/internal/apperr"
	"github.com/territorial-engagement/backend/internal/artifacts"
	"github.com/territorial-engagement/backend/internal/domain"
	"github.com/territorial-engagement/backend/internal/features"
)

type staticHistory struct {
	rows []features.HistoryRow
	err  error
}

func (s staticHistory) LoadHistory(ctx context.Context, before time.Time) ([]features.HistoryRow, error) {
	return s.rows, s.err
}

func constantModel(t *testing.T, value float64) *artifacts.AttendanceModel {
	t.Helper()
	leaf := value
	ens, err := artifacts.NewTreeEnsemble([]*artifacts.Node{{NodeID: 0, Leaf: &leaf}}, features.DefaultFeatureList, 0)
	if err != nil {
		t.Fatalf("NewTreeEnsemble: %v", err)
	}
	enc, err := artifacts.NewEncodings(map[string]map[string]int{"department": {"ANTIOQUIA": 1}})
	if err != nil {
		t.Fatal(err)
	}
	return &artifacts.AttendanceModel{
		Info:        artifacts.ModelInfo{Version: "test", FeatureListVersion: features.FeatureListVersion},
		FeatureList: features.DefaultFeatureList,
		Ensemble:    ens,
		Encodings:   enc,
	}
}

// Department ANTIOQUIA has CAPACITACION history with mean 40 and sample std
// 10, all of it in MEDELLIN on Wednesdays outside June.
func departmentHistory() staticHistory {
	row := func(m time.Month, d int, n float64) features.HistoryRow {
		return features.HistoryRow{
			Date:         time.Date(2024, m, d, 0, 0, 0, 0, time.UTC),
			Department:   "ANTIOQUIA",
			Municipality: "MEDELLIN",
			Category:     "CAPACITACION",
			Zone:         "NORTE",
			Attendees:    n,
		}
	}
	return staticHistory{rows: []features.HistoryRow{
		row(time.January, 10, 30),
		row(time.February, 14, 40),
		row(time.March, 13, 50),
	}}
}

var newMunicipalityRequest = domain.PredictionRequest{
	Department:        "ANTIOQUIA",
	Municipality:      "ENVIGADO",
	Zone:              "NORTE",
	CanonicalCategory: "CAPACITACION",
	Date:              time.Date(2025, 6, 15, 0, 0, 0, 0, time.UTC),
}

func TestPredictFallsBackToDepartment(t *testing.T) {
	reg := artifacts.NewStaticRegistry(constantModel(t, 35), nil, nil)
	p := NewPredictor(reg, departmentHistory())

	res, err := p.Predict(context.Background(), newMunicipalityRequest)
	if err != nil {
		t.Fatalf("Predict: %v", err)
	}

	if res.PredictedAttendees < 16 || res.PredictedAttendees > 44 {
		t.Errorf("predicted = %d, want within [16, 44]", res.PredictedAttendees)
	}
	if res.Confidence != domain.ConfidenceMedium && res.Confidence != domain.ConfidenceLow {
		t.Errorf("confidence = %s, fallback scope caps at Medium", res.Confidence)
	}
	if res.History.Scope != string(features.ScopeDepartmentCategory) {
		t.Errorf("scope = %s", res.History.Scope)
	}
	if res.InsufficientData || res.ID == "" || res.ModelVersion != "test" {
		t.Errorf("result = %+v", res)
	}

	sum := 0.0
	for _, v := range res.FeatureImportance {
		sum += v
	}
	if math.Abs(sum-1) > 1e-9 {
		t.Errorf("importances sum to %v", sum)
	}
}

func TestPredictClipsOutlyingModel(t *testing.T) {
	for _, value := range []float64{1000, -50} {
		reg := artifacts.NewStaticRegistry(constantModel(t, value), nil, nil)
		res, err := NewPredictor(reg, departmentHistory()).Predict(context.Background(), newMunicipalityRequest)
		if err != nil {
			t.Fatal(err)
		}

		// mean 40, max 50, rolling 40
		if res.PredictedAttendees < 0 || res.PredictedAttendees > 60 {
			t.Errorf("model %v: predicted %d outside [0, max(1.1*max, 1.5*mean)]", value, res.PredictedAttendees)
		}
		if res.PredictedAttendees < 20 {
			t.Errorf("model %v: predicted %d below max(0.4*mean, 0.5*rolling)", value, res.PredictedAttendees)
		}
	}
}

func TestPredictRoundingStaysUnderUpperBound(t *testing.T) {
	row := func(d int, n float64) features.HistoryRow {
		return features.HistoryRow{
			Date:         time.Date(2024, time.March, d, 0, 0, 0, 0, time.UTC),
			Department:   "ANTIOQUIA",
			Municipality: "ENVIGADO",
			Category:     "CAPACITACION",
			Zone:         "NORTE",
			Attendees:    n,
		}
	}
	history := staticHistory{rows: []features.HistoryRow{row(4, 3), row(11, 6)}}

	reg := artifacts.NewStaticRegistry(constantModel(t, 1000), nil, nil)
	res, err := NewPredictor(reg, history).Predict(context.Background(), newMunicipalityRequest)
	if err != nil {
		t.Fatal(err)
	}
	if res.History.Scope != string(features.ScopeMunicipalityCategory) {
		t.Fatalf("scope = %s", res.History.Scope)
	}

	// mean 4.5, max 6: the clipped 6.6 must not round up to 7
	bound := math.Max(1.1*6, 1.5*4.5)
	if float64(res.PredictedAttendees) > bound {
		t.Errorf("predicted %d above %v", res.PredictedAttendees, bound)
	}
	if res.PredictedAttendees != 6 {
		t.Errorf("predicted = %d, want 6", res.PredictedAttendees)
	}
}

func TestPredictWithoutHistory(t *testing.T) {
	reg := artifacts.NewStaticRegistry(constantModel(t, 35), nil, nil)
	req := newMunicipalityRequest
	req.Department = "ARAUCA"

	res, err := NewPredictor(reg, departmentHistory()).Predict(context.Background(), req)
	if err != nil {
		t.Fatalf("insufficient history must not be an error: %v", err)
	}
	if !res.InsufficientData || res.PredictedAttendees != 0 || res.Confidence != domain.ConfidenceLow {
		t.Errorf("result = %+v", res)
	}
	if res.FeatureImportance["contextual"] != 0.30 {
		t.Errorf("want fallback importances, got %v", res.FeatureImportance)
	}
}

func TestPredictErrors(t *testing.T) {
	p := NewPredictor(artifacts.NewStaticRegistry(nil, nil, nil), departmentHistory())
	_, err := p.Predict(context.Background(), newMunicipalityRequest)
	var mle *apperr.ModelLoadError
	if !errors.As(err, &mle) {
		t.Errorf("want ModelLoadError, got %v", err)
	}

	storageErr := apperr.NewStorageError(apperr.StorageTimeout, errors.New("canceling statement"))
	p = NewPredictor(artifacts.NewStaticRegistry(constantModel(t, 35), nil, nil), staticHistory{err: storageErr})
	_, err = p.Predict(context.Background(), newMunicipalityRequest)
	if !apperr.IsStorageKind(err, apperr.StorageTimeout) {
		t.Errorf("want storage timeout, got %v", err)
	}
}

func TestBlend(t *testing.T) {
	tests := []struct {
		name string
		base, month, day, want float64
	}{
		{"all components", 40, 20, 20, 30},
		{"no same month", 40, 0, 10, 30},
		{"base only", 40, 0, 0, 40},
	}
	for _, tt := range tests {
		if got := Blend(tt.base, tt.month, tt.day); math.Abs(got-tt.want) > 1e-9 {
			t.Errorf("%s: got %v, want %v", tt.name, got, tt.want)
		}
	}
}

func TestClip(t *testing.T) {
	hc := domain.HistoricalContext{CategoryMean: 40, CategoryMax: 50, RollingMean30: 40}
	if got := Clip(5, hc); got != 20 {
		t.Errorf("lower clip = %v", got)
	}
	if got := Clip(100, hc); math.Abs(got-55) > 1e-9 {
		t.Errorf("upper clip = %v", got)
	}

	crossed := domain.HistoricalContext{CategoryMean: 100, CategoryMax: 110, RollingMean30: 300}
	if got := Clip(10, crossed); math.Abs(got-121) > 1e-9 {
		t.Errorf("crossed bounds should resolve to the upper bound, got %v", got)
	}
}

func TestAttendees(t *testing.T) {
	hc := domain.HistoricalContext{CategoryMean: 4.5, CategoryMax: 6, RollingMean30: 4.5}
	tests := []struct {
		estimate float64
		want     int64
	}{
		{6.6, 6},
		{5.4, 5},
		{5.5, 6},
		{-1, 0},
	}
	for _, tt := range tests {
		if got := Attendees(tt.estimate, hc); got != tt.want {
			t.Errorf("Attendees(%v) = %d, want %d", tt.estimate, got, tt.want)
		}
	}
}

func TestConfidenceFor(t *testing.T) {
	hc := domain.HistoricalContext{RollingMean30: 40, CategoryStd: 10}
	tests := []struct {
		estimate float64
		fallback bool
		want     domain.Confidence
	}{
		{45, false, domain.ConfidenceHigh},
		{58, false, domain.ConfidenceMedium},
		{70, false, domain.ConfidenceLow},
		{45, true, domain.ConfidenceMedium},
		{70, true, domain.ConfidenceLow},
	}
	for _, tt := range tests {
		if got := ConfidenceFor(tt.estimate, hc, tt.fallback); got != tt.want {
			t.Errorf("ConfidenceFor(%v, fallback=%v) = %s, want %s", tt.estimate, tt.fallback, got, tt.want)
		}
	}
}

func TestImportance(t *testing.T) {
	dyn := Importance(domain.HistoricalContext{PriorRows: 30, CategoryRows: 15, DepartmentRows: 60, DayDeviation: 0, MonthDeviation: 0.5})
	sum := 0.0
	for _, v := range dyn {
		sum += v
	}
	if math.Abs(sum-1) > 1e-9 {
		t.Fatalf("sum = %v", sum)
	}
	if dyn["contextual"] <= dyn["category"] || dyn["month"] <= dyn["day_of_week"] {
		t.Errorf("importances = %v", dyn)
	}

	fixed := Importance(domain.HistoricalContext{PriorRows: 2})
	fixed["contextual"] = 99
	if fallbackImportance["contextual"] != 0.30 {
		t.Errorf("fallback table must not be shared")
	}
}
