package artifacts

import (
	"errors"
	"fmt"
	"io/fs"
	"math"
	"os"
	"path/filepath"
	"strings"

	"github.com/goccy/go-yaml"

	"github.com/territorial-engagement/backend/internal/domain"
)

// KMeans is a fitted k-means model over standardized metric vectors.
type KMeans struct {
	Version   string      `json:"version"`
	Features  []string    `json:"features"`
	Centroids [][]float64 `json:"centroids"`
}

// Nearest returns the index of the closest centroid by squared Euclidean
// distance.
func (k *KMeans) Nearest(x []float64) int {
	best, bestDist := 0, math.Inf(1)
	for i, c := range k.Centroids {
		d := 0.0
		for j := range c {
			if j < len(x) {
				diff := x[j] - c[j]
				d += diff * diff
			}
		}
		if d < bestDist {
			best, bestDist = i, d
		}
	}
	return best
}

// Scaler is the standard scaler fitted alongside the clustering model.
type Scaler struct {
	Mean  []float64 `json:"mean"`
	Scale []float64 `json:"scale"`
}

func (s *Scaler) Transform(x []float64) []float64 {
	out := make([]float64, len(x))
	for i, v := range x {
		mean, scale := 0.0, 1.0
		if i < len(s.Mean) {
			mean = s.Mean[i]
		}
		if i < len(s.Scale) && s.Scale[i] != 0 {
			scale = s.Scale[i]
		}
		out[i] = (v - mean) / scale
	}
	return out
}

// DBSCANParams configure density tagging over municipality centroids.
type DBSCANParams struct {
	EpsKm       float64 `json:"eps_km"`
	MinSamples  int     `json:"min_samples"`
	CountWeight float64 `json:"count_weight"`
}

type weightsFile struct {
	Default       *domain.Weights           `yaml:"default"`
	ActivityTypes map[string]domain.Weights `yaml:"activity_types"`
}

// WeightTable resolves the (activities, attendees, efficiency) weights by
// activity type.
type WeightTable struct {
	fallback domain.Weights
	byType   map[string]domain.Weights
}

var UniformWeights = domain.Weights{Activities: 1.0 / 3, Attendees: 1.0 / 3, Efficiency: 1.0 / 3}

func NewWeightTable(fallback *domain.Weights, byType map[string]domain.Weights) (*WeightTable, error) {
	t := &WeightTable{fallback: UniformWeights, byType: map[string]domain.Weights{}}
	if fallback != nil {
		w, err := normalizeWeights(*fallback)
		if err != nil {
			return nil, fmt.Errorf("default: %w", err)
		}
		t.fallback = w
	}
	for name, raw := range byType {
		w, err := normalizeWeights(raw)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", name, err)
		}
		t.byType[weightKey(name)] = w
	}
	return t, nil
}

func normalizeWeights(w domain.Weights) (domain.Weights, error) {
	if w.Activities < 0 || w.Attendees < 0 || w.Efficiency < 0 {
		return domain.Weights{}, fmt.Errorf("weights must not be negative")
	}
	sum := w.Sum()
	if sum <= 0 {
		return domain.Weights{}, fmt.Errorf("weights must not all be zero")
	}
	return domain.Weights{
		Activities: w.Activities / sum,
		Attendees:  w.Attendees / sum,
		Efficiency: w.Efficiency / sum,
	}, nil
}

func weightKey(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

// For returns the weights of the activity type and whether the type had
// its own entry.
func (t *WeightTable) For(activityType string) (domain.Weights, bool) {
	if t == nil {
		return UniformWeights, false
	}
	if w, ok := t.byType[weightKey(activityType)]; ok && activityType != "" {
		return w, true
	}
	return t.fallback, false
}

// GeographicModels bundles the prioritizer's artifacts. Clustering and
// density models are optional; a missing weights file means uniform
// weights.
type GeographicModels struct {
	KMeans  *KMeans
	Scaler  *Scaler
	DBSCAN  *DBSCANParams
	Weights *WeightTable
}

func loadGeographic(dir string) (*GeographicModels, error) {
	g := &GeographicModels{}

	var km KMeans
	if ok, err := readOptionalJSON(filepath.Join(dir, "kmeans.json"), &km); err != nil {
		return nil, err
	} else if ok {
		if len(km.Centroids) == 0 {
			return nil, fmt.Errorf("kmeans.json has no centroids")
		}
		width := len(km.Centroids[0])
		for i, c := range km.Centroids {
			if len(c) != width {
				return nil, fmt.Errorf("kmeans.json: centroid %d has %d dimensions, want %d", i, len(c), width)
			}
		}
		g.KMeans = &km
	}

	var sc Scaler
	if ok, err := readOptionalJSON(filepath.Join(dir, "scaler.json"), &sc); err != nil {
		return nil, err
	} else if ok {
		if len(sc.Mean) != len(sc.Scale) {
			return nil, fmt.Errorf("scaler.json: mean and scale differ in length")
		}
		g.Scaler = &sc
	}

	var db DBSCANParams
	if ok, err := readOptionalJSON(filepath.Join(dir, "dbscan.json"), &db); err != nil {
		return nil, err
	} else if ok {
		if db.EpsKm <= 0 || db.MinSamples < 1 {
			return nil, fmt.Errorf("dbscan.json: eps_km must be positive and min_samples at least 1")
		}
		g.DBSCAN = &db
	}

	data, err := os.ReadFile(filepath.Join(dir, "weights.yaml"))
	switch {
	case errors.Is(err, fs.ErrNotExist):
		g.Weights, _ = NewWeightTable(nil, nil)
	case err != nil:
		return nil, err
	default:
		var wf weightsFile
		if err := yaml.Unmarshal(data, &wf); err != nil {
			return nil, fmt.Errorf("failed to parse weights.yaml: %w", err)
		}
		table, err := NewWeightTable(wf.Default, wf.ActivityTypes)
		if err != nil {
			return nil, fmt.Errorf("weights.yaml: %w", err)
		}
		g.Weights = table
	}

	return g, nil
}
