package features

import (
	"context"
	"fmt"
	"math"
	"sort"
	"time"

	"gonum.org/v1/gonum/stat"

	"github.com/territorial-engagement/backend/internal/artifacts"
	"github.com/territorial-engagement/backend/internal/domain"
)

// FeatureListVersion versions DefaultFeatureList. Bump it whenever a name
// is added, removed or reordered.
const FeatureListVersion = "v3"

var DefaultFeatureList = []string{
	"month",
	"day_of_week",
	"quarter",
	"is_weekend",
	"same_month_as_mode",
	"same_dow_as_mode",
	"dept_cum_count",
	"category_cum_count",
	"category_mean",
	"category_median",
	"dept_mean",
	"dept_median",
	"category_std",
	"dept_std",
	"category_trend",
	"dept_trend",
	"category_min",
	"category_max",
	"dept_min",
	"dept_max",
	"dept_rolling_mean_30",
	"category_rolling_mean_30",
	"category_freq",
	"dept_freq",
	"zone_freq",
	"category_dept_ratio",
	"category_mean_percentile",
	"department_encoded",
	"category_encoded",
	"zone_encoded",
}

const rollingWindow = 30

type Scope string

const (
	ScopeMunicipalityCategory Scope = "municipality_category"
	ScopeDepartmentCategory   Scope = "department_category"
	ScopeDepartment           Scope = "department"
	ScopeNone                 Scope = "none"
)

// Fallback reports whether the scope is coarser than the request.
func (s Scope) Fallback() bool {
	return s != ScopeMunicipalityCategory
}

type Vector struct {
	Names  []string
	Values []float64
}

func (v Vector) Get(name string) (float64, bool) {
	for i, n := range v.Names {
		if n == name {
			return v.Values[i], true
		}
	}
	return 0, false
}

type Result struct {
	Vector           Vector
	Context          domain.HistoricalContext
	Scope            Scope
	InsufficientData bool
}

type Engineer struct {
	loader      HistoryLoader
	encodings   *artifacts.Encodings
	featureList []string
}

// NewEngineer builds an engineer that emits vectors in featureList order;
// an empty list means DefaultFeatureList.
func NewEngineer(loader HistoryLoader, encodings *artifacts.Encodings, featureList []string) *Engineer {
	if len(featureList) == 0 {
		featureList = DefaultFeatureList
	}
	return &Engineer{loader: loader, encodings: encodings, featureList: featureList}
}

func (e *Engineer) FeatureList() []string {
	return e.featureList
}

func (e *Engineer) Engineer(ctx context.Context, req domain.PredictionRequest) (*Result, error) {
	day := truncateDay(req.Date)
	history, err := e.loader.LoadHistory(ctx, day)
	if err != nil {
		return nil, fmt.Errorf("failed to engineer features: %w", err)
	}
	return e.Compute(req, history), nil
}

// Compute derives the vector from history. Rows dated on or after the
// request day are ignored whatever the loader returned.
func (e *Engineer) Compute(req domain.PredictionRequest, history []HistoryRow) *Result {
	day := truncateDay(req.Date)

	prior := make([]HistoryRow, 0, len(history))
	for _, r := range history {
		if truncateDay(r.Date).Before(day) {
			prior = append(prior, r)
		}
	}
	sort.SliceStable(prior, func(i, j int) bool { return prior[i].Date.Before(prior[j].Date) })

	var dept, catGlobal, zoneRows, muniCat, deptCat []HistoryRow
	for _, r := range prior {
		inDept := r.Department == req.Department
		inCat := r.Category == req.CanonicalCategory
		if inDept {
			dept = append(dept, r)
		}
		if inCat {
			catGlobal = append(catGlobal, r)
		}
		if req.Zone != "" && r.Zone == req.Zone {
			zoneRows = append(zoneRows, r)
		}
		if inDept && inCat {
			deptCat = append(deptCat, r)
			if req.Municipality != "" && r.Municipality == req.Municipality {
				muniCat = append(muniCat, r)
			}
		}
	}

	scope, scoped := ScopeNone, []HistoryRow(nil)
	switch {
	case len(muniCat) > 0:
		scope, scoped = ScopeMunicipalityCategory, muniCat
	case len(deptCat) > 0:
		scope, scoped = ScopeDepartmentCategory, deptCat
	case len(dept) > 0:
		scope, scoped = ScopeDepartment, dept
	}

	month := int(day.Month())
	dow := weekday(day)

	raw := map[string]float64{
		"month":       float64(month),
		"day_of_week": float64(dow),
		"quarter":     float64((month-1)/3 + 1),
		"is_weekend":  boolFloat(dow >= 5),
	}

	scopeStats := summarize(scoped)
	deptStats := summarize(dept)

	raw["same_month_as_mode"] = boolFloat(len(scoped) > 0 && modeOf(scoped, func(r HistoryRow) int { return int(r.Date.Month()) }) == month)
	raw["same_dow_as_mode"] = boolFloat(len(scoped) > 0 && modeOf(scoped, func(r HistoryRow) int { return weekday(r.Date) }) == dow)

	raw["dept_cum_count"] = float64(len(dept))
	raw["category_cum_count"] = float64(len(catGlobal))

	raw["category_mean"] = scopeStats.mean
	raw["category_median"] = scopeStats.median
	raw["category_std"] = scopeStats.std
	raw["category_trend"] = scopeStats.trend
	raw["category_min"] = scopeStats.min
	raw["category_max"] = scopeStats.max
	raw["category_rolling_mean_30"] = scopeStats.rolling

	raw["dept_mean"] = deptStats.mean
	raw["dept_median"] = deptStats.median
	raw["dept_std"] = deptStats.std
	raw["dept_trend"] = deptStats.trend
	raw["dept_min"] = deptStats.min
	raw["dept_max"] = deptStats.max
	raw["dept_rolling_mean_30"] = deptStats.rolling

	total := float64(len(prior))
	raw["category_freq"] = ratio(float64(len(catGlobal)), total)
	raw["dept_freq"] = ratio(float64(len(dept)), total)
	raw["zone_freq"] = ratio(float64(len(zoneRows)), total)

	raw["category_dept_ratio"] = ratio(scopeStats.mean, deptStats.mean)
	raw["category_mean_percentile"] = categoryMeanPercentile(prior, scopeStats.mean, len(scoped) > 0)

	raw["department_encoded"] = float64(e.encodings.Encode("department", req.Department))
	raw["category_encoded"] = float64(e.encodings.Encode("canonical_category", req.CanonicalCategory))
	raw["zone_encoded"] = float64(e.encodings.Encode("zone", req.Zone))

	for k, v := range raw {
		raw[k] = finite(v)
	}

	vec := Vector{Names: e.featureList, Values: make([]float64, len(e.featureList))}
	for i, name := range e.featureList {
		vec.Values[i] = raw[name]
	}

	sameMonth := meanWhere(scoped, func(r HistoryRow) bool { return int(r.Date.Month()) == month })
	sameDay := meanWhere(scoped, func(r HistoryRow) bool { return weekday(r.Date) == dow })

	hc := domain.HistoricalContext{
		Scope:          string(scope),
		PriorRows:      len(scoped),
		CategoryRows:   len(catGlobal),
		DepartmentRows: len(dept),
		CategoryMean:   raw["category_mean"],
		CategoryMedian: raw["category_median"],
		CategoryStd:    raw["category_std"],
		CategoryMin:    raw["category_min"],
		CategoryMax:    raw["category_max"],
		RollingMean30:  raw["category_rolling_mean_30"],
		SameMonthMean:  finite(sameMonth),
		SameDayMean:    finite(sameDay),
		MonthDeviation: finite(deviation(sameMonth, scopeStats.mean)),
		DayDeviation:   finite(deviation(sameDay, scopeStats.mean)),
		DepartmentMean: raw["dept_mean"],
	}

	return &Result{
		Vector:           vec,
		Context:          hc,
		Scope:            scope,
		InsufficientData: scope == ScopeNone,
	}
}

type stats struct {
	mean, median, std, trend, min, max, rolling float64
}

func summarize(rows []HistoryRow) stats {
	if len(rows) == 0 {
		return stats{}
	}

	values := make([]float64, len(rows))
	days := make([]float64, len(rows))
	origin := rows[0].Date
	for i, r := range rows {
		values[i] = r.Attendees
		days[i] = r.Date.Sub(origin).Hours() / 24
	}

	s := stats{mean: stat.Mean(values, nil)}

	sorted := append([]float64(nil), values...)
	sort.Float64s(sorted)
	s.min, s.max = sorted[0], sorted[len(sorted)-1]
	n := len(sorted)
	if n%2 == 1 {
		s.median = sorted[n/2]
	} else {
		s.median = (sorted[n/2-1] + sorted[n/2]) / 2
	}

	if n >= 2 {
		s.std = stat.StdDev(values, nil)
		_, s.trend = stat.LinearRegression(days, values, nil, false)
	}

	window := values
	if len(window) > rollingWindow {
		window = window[len(window)-rollingWindow:]
	}
	s.rolling = stat.Mean(window, nil)

	return s
}

// categoryMeanPercentile is the share of categories whose prior mean is at
// most the scoped mean.
func categoryMeanPercentile(prior []HistoryRow, mean float64, present bool) float64 {
	if !present {
		return 0
	}
	sums := map[string]float64{}
	counts := map[string]float64{}
	for _, r := range prior {
		sums[r.Category] += r.Attendees
		counts[r.Category]++
	}
	if len(sums) == 0 {
		return 0
	}
	below := 0
	for c, s := range sums {
		if s/counts[c] <= mean {
			below++
		}
	}
	return float64(below) / float64(len(sums))
}

func modeOf(rows []HistoryRow, key func(HistoryRow) int) int {
	counts := map[int]int{}
	for _, r := range rows {
		counts[key(r)]++
	}
	best, bestCount := math.MaxInt, 0
	for k, c := range counts {
		if c > bestCount || (c == bestCount && k < best) {
			best, bestCount = k, c
		}
	}
	return best
}

func meanWhere(rows []HistoryRow, keep func(HistoryRow) bool) float64 {
	sum, n := 0.0, 0
	for _, r := range rows {
		if keep(r) {
			sum += r.Attendees
			n++
		}
	}
	if n == 0 {
		return 0
	}
	return sum / float64(n)
}

func deviation(part, overall float64) float64 {
	if part == 0 || overall == 0 {
		return 0
	}
	return math.Abs(part-overall) / overall
}

// weekday numbers Monday as 0.
func weekday(t time.Time) int {
	return (int(t.Weekday()) + 6) % 7
}

func truncateDay(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

func ratio(a, b float64) float64 {
	if b == 0 {
		return 0
	}
	return a / b
}

func boolFloat(b bool) float64 {
	if b {
		return 1
	}
	return 0
}

func finite(v float64) float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0
	}
	return v
}
