package prioritize

import (
	"context"
	"fmt"
	"sort"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/territorial-engagement/backend/internal/artifacts"
	"github.com/territorial-engagement/backend/internal/domain"
	"github.com/territorial-engagement/backend/internal/filter"
	"github.com/territorial-engagement/backend/internal/metrics"
	"github.com/territorial-engagement/backend/internal/spatial"
	"github.com/territorial-engagement/backend/pkg/logger"
)

// MetricsSource is the slice of the aggregation service the prioritizer
// reads.
type MetricsSource interface {
	MunicipalityMetrics(ctx context.Context, c filter.Compiled) (*domain.RowSet, error)
	InterestGroupMetrics(ctx context.Context, c filter.Compiled) (*domain.RowSet, error)
}

type CentroidSource interface {
	MunicipalityCentroids(ctx context.Context, c filter.Compiled) ([]spatial.Centroid, error)
}

type Request struct {
	Filter       domain.Filter `json:"filter"`
	ActivityType string        `json:"activity_type,omitempty"`
	// Target is the number of activities to distribute. Zero keeps the
	// current total.
	Target int `json:"target,omitempty"`
}

type Prioritizer struct {
	metrics   MetricsSource
	centroids CentroidSource
	registry  *artifacts.Registry
}

func NewPrioritizer(m MetricsSource, c CentroidSource, registry *artifacts.Registry) *Prioritizer {
	return &Prioritizer{metrics: m, centroids: c, registry: registry}
}

type metricRow struct {
	department    string
	municipality  string
	interestGroup string
	activities    float64
	attendees     float64
	efficiency    float64
}

func (r metricRow) key() string {
	return r.department + "/" + r.municipality
}

func (p *Prioritizer) Prioritize(ctx context.Context, req Request) (*domain.PriorityTable, error) {
	geoModels, err := p.registry.Geographic()
	if err != nil {
		return nil, err
	}

	flt := req.Filter
	c := filter.Compile(flt)

	rs, err := p.metrics.MunicipalityMetrics(ctx, c)
	if err != nil {
		return nil, fmt.Errorf("failed to prioritize: %w", err)
	}
	rows := metricRows(rs)

	var centroids map[string]spatial.Centroid
	needCentroids := p.centroids != nil && (flt.ReferencesGeometry() || geoModels.DBSCAN != nil)
	if needCentroids && len(rows) > 0 {
		list, err := p.centroids.MunicipalityCentroids(ctx, c)
		if err != nil {
			return nil, fmt.Errorf("failed to prioritize: %w", err)
		}
		centroids = make(map[string]spatial.Centroid, len(list))
		for _, ct := range list {
			centroids[ct.Department+"/"+ct.Municipality] = ct
		}
		if flt.ReferencesGeometry() {
			rows = withGeometry(rows, centroids)
		}
	}

	weights, _ := geoModels.Weights.For(req.ActivityType)

	current := 0
	for _, r := range rows {
		current += int(r.activities)
	}
	target := req.Target
	if target <= 0 {
		target = current
	}

	table := &domain.PriorityTable{
		ID:              uuid.New().String(),
		ActivityType:    req.ActivityType,
		Weights:         weights,
		EffectiveTarget: target,
		CurrentTotal:    current,
		Municipalities:  []domain.PriorityScore{},
	}

	scores, z := score(rows, weights)
	normalized, suggested := Allocate(scores, target)
	mean := meanOf(scores)

	for i, r := range rows {
		table.Municipalities = append(table.Municipalities, priorityScore(r, scores[i], normalized[i], suggested[i], mean))
	}

	if geoModels.KMeans != nil && len(rows) > 0 {
		labels := assignClusters(geoModels.KMeans, geoModels.Scaler, rows, z)
		for i := range table.Municipalities {
			label := labels[i]
			table.Municipalities[i].Cluster = &label
		}
		table.Clusters = clusterProfiles(rows, labels)
		table.ClusterModel = geoModels.KMeans.Version
	}

	if geoModels.DBSCAN != nil && centroids != nil {
		var pts []densityPoint
		var idx []int
		for i, r := range rows {
			if ct, ok := centroids[r.key()]; ok {
				pts = append(pts, densityPoint{location: ct.Point, count: r.activities})
				idx = append(idx, i)
			}
		}
		for k, label := range DBSCAN(pts, *geoModels.DBSCAN) {
			label := label
			table.Municipalities[idx[k]].DensityRegion = &label
		}
		table.DensityApplied = true
	}

	groups, err := p.interestGroups(ctx, c, rows, suggested, weights)
	if err != nil {
		return nil, err
	}
	table.InterestGroups = groups

	sort.SliceStable(table.Municipalities, func(i, j int) bool {
		return table.Municipalities[i].RawScore > table.Municipalities[j].RawScore
	})

	metrics.PrioritizationRuns.Inc()
	logger.Info("Prioritization computed",
		zap.String("id", table.ID),
		zap.String("activity_type", req.ActivityType),
		zap.Int("municipalities", len(rows)),
		zap.Int("target", target),
		zap.Int("current", current),
		zap.Bool("clustered", table.ClusterModel != ""),
		zap.Bool("density", table.DensityApplied))

	return table, nil
}

// interestGroups repeats the allocation inside every municipality that
// receives activities. Only the best scored groups are kept, at most one
// per activity, and the municipality's activities are shared among them.
func (p *Prioritizer) interestGroups(ctx context.Context, c filter.Compiled, rows []metricRow, suggested []int, w domain.Weights) (map[string][]domain.PriorityScore, error) {
	budget := map[string]int{}
	for i, r := range rows {
		if suggested[i] > 0 {
			budget[r.key()] = suggested[i]
		}
	}
	if len(budget) == 0 {
		return nil, nil
	}

	rs, err := p.metrics.InterestGroupMetrics(ctx, c)
	if err != nil {
		return nil, fmt.Errorf("failed to prioritize interest groups: %w", err)
	}

	byMunicipality := map[string][]metricRow{}
	for _, r := range metricRows(rs) {
		if _, ok := budget[r.key()]; ok {
			byMunicipality[r.key()] = append(byMunicipality[r.key()], r)
		}
	}

	out := map[string][]domain.PriorityScore{}
	for key, sub := range byMunicipality {
		target := budget[key]
		scores, _ := score(sub, w)
		mean := meanOf(scores)

		order := make([]int, len(sub))
		for i := range order {
			order[i] = i
		}
		sort.SliceStable(order, func(i, j int) bool { return scores[order[i]] > scores[order[j]] })
		if len(order) > target {
			order = order[:target]
		}

		kept := make([]float64, len(order))
		for i, idx := range order {
			kept[i] = scores[idx]
		}
		normalized, counts := Allocate(kept, target)

		list := make([]domain.PriorityScore, len(order))
		for i, idx := range order {
			r := sub[idx]
			list[i] = priorityScore(r, scores[idx], normalized[i], counts[i], mean)
			group := r.interestGroup
			list[i].InterestGroup = &group
		}
		out[key] = list
	}
	return out, nil
}

func score(rows []metricRow, w domain.Weights) ([]float64, [][3]float64) {
	act := make([]float64, len(rows))
	att := make([]float64, len(rows))
	eff := make([]float64, len(rows))
	for i, r := range rows {
		act[i], att[i], eff[i] = r.activities, r.attendees, r.efficiency
	}

	za, zt, ze := Standardize(act), Standardize(att), Standardize(eff)
	z := make([][3]float64, len(rows))
	scores := make([]float64, len(rows))
	for i := range rows {
		z[i] = [3]float64{za[i], zt[i], ze[i]}
		scores[i] = w.Activities*za[i] + w.Attendees*zt[i] + w.Efficiency*ze[i]
	}
	return scores, z
}

func priorityScore(r metricRow, raw, normalized float64, suggested int, mean float64) domain.PriorityScore {
	current := int(r.activities)
	delta := suggested - current
	return domain.PriorityScore{
		Department:          r.department,
		Municipality:        r.municipality,
		Activities:          r.activities,
		Attendees:           r.attendees,
		Efficiency:          r.efficiency,
		RawScore:            raw,
		NormalizedScore:     normalized,
		CurrentActivities:   current,
		SuggestedActivities: suggested,
		Delta:               delta,
		Action:              actionFor(delta),
		Priority:            classify(raw, mean),
	}
}

func metricRows(rs *domain.RowSet) []metricRow {
	out := make([]metricRow, 0, rs.Len())
	for _, row := range rs.Rows {
		dept, _ := row.String("department")
		muni, _ := row.String("municipality")
		group, _ := row.String("interest_group")
		out = append(out, metricRow{
			department:    dept,
			municipality:  muni,
			interestGroup: group,
			activities:    row.Float("activities"),
			attendees:     row.Float("attendees"),
			efficiency:    row.Float("efficiency"),
		})
	}
	return out
}

func withGeometry(rows []metricRow, centroids map[string]spatial.Centroid) []metricRow {
	out := rows[:0:0]
	for _, r := range rows {
		if _, ok := centroids[r.key()]; ok {
			out = append(out, r)
		}
	}
	return out
}

func meanOf(v []float64) float64 {
	if len(v) == 0 {
		return 0
	}
	sum := 0.0
	for _, x := range v {
		sum += x
	}
	return sum / float64(len(v))
}
