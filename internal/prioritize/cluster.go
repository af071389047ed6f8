package prioritize

import (
	"math"
	"sort"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geo"

	"github.com/territorial-engagement/backend/internal/artifacts"
	"github.com/territorial-engagement/backend/internal/domain"
)

// Noise is the density label of points outside every dense region.
const Noise = -1

var clusterMetrics = []string{"activities", "attendees", "efficiency"}

// assignClusters labels each row with its nearest k-means centroid. Rows
// are scaled with the fitted scaler when there is one, otherwise the
// table's own z-scores are used.
func assignClusters(km *artifacts.KMeans, sc *artifacts.Scaler, rows []metricRow, z [][3]float64) []int {
	labels := make([]int, len(rows))
	for i, r := range rows {
		x := []float64{r.activities, r.attendees, r.efficiency}
		if sc != nil {
			x = sc.Transform(x)
		} else {
			x = []float64{z[i][0], z[i][1], z[i][2]}
		}
		labels[i] = km.Nearest(x)
	}
	return labels
}

// clusterProfiles summarizes every non-empty cluster. Each row is a member
// of exactly one profile.
func clusterProfiles(rows []metricRow, labels []int) []domain.ClusterProfile {
	byID := map[int]*domain.ClusterProfile{}
	for i, r := range rows {
		p, ok := byID[labels[i]]
		if !ok {
			p = &domain.ClusterProfile{ID: labels[i], Means: map[string]float64{}}
			byID[labels[i]] = p
		}
		p.Size++
		p.Members = append(p.Members, r.key())
		p.Means["activities"] += r.activities
		p.Means["attendees"] += r.attendees
		p.Means["efficiency"] += r.efficiency
	}

	out := make([]domain.ClusterProfile, 0, len(byID))
	for _, p := range byID {
		for _, m := range clusterMetrics {
			p.Means[m] /= float64(p.Size)
		}
		out = append(out, *p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

type densityPoint struct {
	location orb.Point
	count    float64
}

// DBSCAN groups points whose combined distance is within eps. The
// distance mixes the great-circle distance in km with the weighted
// difference in activity counts. Labels start at 0; Noise marks
// unclustered points.
func DBSCAN(points []densityPoint, params artifacts.DBSCANParams) []int {
	const unvisited = -2

	labels := make([]int, len(points))
	for i := range labels {
		labels[i] = unvisited
	}

	neighbors := func(i int) []int {
		var out []int
		for j := range points {
			if distanceKm(points[i], points[j], params.CountWeight) <= params.EpsKm {
				out = append(out, j)
			}
		}
		return out
	}

	cluster := 0
	for i := range points {
		if labels[i] != unvisited {
			continue
		}
		seeds := neighbors(i)
		if len(seeds) < params.MinSamples {
			labels[i] = Noise
			continue
		}

		labels[i] = cluster
		for k := 0; k < len(seeds); k++ {
			j := seeds[k]
			if labels[j] == Noise {
				labels[j] = cluster
			}
			if labels[j] != unvisited {
				continue
			}
			labels[j] = cluster
			if more := neighbors(j); len(more) >= params.MinSamples {
				seeds = append(seeds, more...)
			}
		}
		cluster++
	}
	return labels
}

func distanceKm(a, b densityPoint, countWeight float64) float64 {
	d := geo.DistanceHaversine(a.location, b.location) / 1000
	c := countWeight * (a.count - b.count)
	return math.Sqrt(d*d + c*c)
}
