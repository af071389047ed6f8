package artifacts

import (
	"errors"
	"fmt"
	"io/fs"
	"math"
	"os"
	"path/filepath"
	"strings"
	"time"
)

type ScopeLevel string

const (
	ScopeMunicipality ScopeLevel = "municipality"
	ScopeDepartment   ScopeLevel = "department"
	ScopeZone         ScopeLevel = "zone"
	ScopeCategory     ScopeLevel = "category"
)

func (l ScopeLevel) arity() int {
	switch l {
	case ScopeMunicipality:
		return 2
	case ScopeDepartment, ScopeZone, ScopeCategory:
		return 1
	}
	return 0
}

const keySep = "__"

// ScopeKey identifies a per-scope forecaster. Municipality keys carry the
// department first.
type ScopeKey struct {
	Level ScopeLevel
	IDs   []string
}

func NewScopeKey(level ScopeLevel, ids ...string) ScopeKey {
	return ScopeKey{Level: level, IDs: ids}
}

func (k ScopeKey) String() string {
	return string(k.Level) + keySep + strings.Join(k.IDs, keySep)
}

// ParseScopeKey decodes "<level>__<id>[__<id2>]", with or without the .json
// extension.
func ParseScopeKey(name string) (ScopeKey, error) {
	name = strings.TrimSuffix(filepath.Base(name), ".json")
	parts := strings.Split(name, keySep)
	if len(parts) < 2 {
		return ScopeKey{}, fmt.Errorf("scope key %q has no identifier", name)
	}

	level := ScopeLevel(parts[0])
	if level.arity() == 0 {
		return ScopeKey{}, fmt.Errorf("scope key %q has unknown level", name)
	}
	if len(parts)-1 != level.arity() {
		return ScopeKey{}, fmt.Errorf("scope key %q: level %s takes %d identifiers", name, level, level.arity())
	}
	for _, id := range parts[1:] {
		if id == "" {
			return ScopeKey{}, fmt.Errorf("scope key %q has an empty identifier", name)
		}
	}
	return ScopeKey{Level: level, IDs: parts[1:]}, nil
}

const (
	KindSARIMA   = "sarima"
	KindAdditive = "additive"
)

// SARIMAParams are fitted coefficients of a seasonal ARIMA(p,d,q)(P,D,Q,s)
// model. AR and MA follow the convention phi(B) y = theta(B) e with
// phi(B) = 1 - sum(AR_i B^i) and theta(B) = 1 + sum(MA_i B^i).
type SARIMAParams struct {
	D          int       `json:"d"`
	SeasonalD  int       `json:"seasonal_d"`
	Period     int       `json:"period"`
	AR         []float64 `json:"ar"`
	MA         []float64 `json:"ma"`
	SeasonalAR []float64 `json:"seasonal_ar"`
	SeasonalMA []float64 `json:"seasonal_ma"`
	Intercept  float64   `json:"intercept"`
	Sigma2     float64   `json:"sigma2"`
}

// AdditiveParams describe a piecewise-linear trend with changepoints plus
// a yearly Fourier seasonality. Time is measured in months from Start.
type AdditiveParams struct {
	Start        time.Time `json:"start"`
	K            float64   `json:"k"`
	M            float64   `json:"m"`
	Changepoints []float64 `json:"changepoints"`
	Deltas       []float64 `json:"deltas"`
	Fourier      []float64 `json:"fourier"`
	Sigma        float64   `json:"sigma"`
}

type ForecastModel struct {
	Key      ScopeKey        `json:"-"`
	Kind     string          `json:"kind"`
	Version  string          `json:"version"`
	SARIMA   *SARIMAParams   `json:"sarima,omitempty"`
	Additive *AdditiveParams `json:"additive,omitempty"`
}

func (m *ForecastModel) validate() error {
	switch m.Kind {
	case KindSARIMA:
		if m.SARIMA == nil {
			return fmt.Errorf("sarima model without parameters")
		}
		p := m.SARIMA
		if p.D < 0 || p.SeasonalD < 0 || p.Sigma2 < 0 {
			return fmt.Errorf("negative differencing order or variance")
		}
		if (p.SeasonalD > 0 || len(p.SeasonalAR) > 0 || len(p.SeasonalMA) > 0) && p.Period < 2 {
			return fmt.Errorf("seasonal terms need a period of at least 2")
		}
	case KindAdditive:
		if m.Additive == nil {
			return fmt.Errorf("additive model without parameters")
		}
		if len(m.Additive.Changepoints) != len(m.Additive.Deltas) {
			return fmt.Errorf("changepoints and deltas differ in length")
		}
		if len(m.Additive.Fourier)%2 != 0 {
			return fmt.Errorf("fourier coefficients must come in sine/cosine pairs")
		}
	default:
		return fmt.Errorf("unknown model kind %q", m.Kind)
	}
	return nil
}

type Metric struct {
	RMSE float64 `json:"rmse"`
	MAE  float64 `json:"mae"`
}

// Usable reports a finite, non-negative validation RMSE.
func (m Metric) Usable() bool {
	return !math.IsNaN(m.RMSE) && !math.IsInf(m.RMSE, 0) && m.RMSE >= 0
}

type ForecastModels struct {
	models  map[string]*ForecastModel
	metrics map[string]Metric
}

func NewForecastModels(models []*ForecastModel, metrics map[string]Metric) *ForecastModels {
	fm := &ForecastModels{models: map[string]*ForecastModel{}, metrics: map[string]Metric{}}
	for _, m := range models {
		fm.models[m.Key.String()] = m
	}
	for k, v := range metrics {
		fm.metrics[k] = v
	}
	return fm
}

// Lookup returns the model for the key and its metric. A model without a
// metrics entry gets a NaN RMSE.
func (f *ForecastModels) Lookup(key ScopeKey) (*ForecastModel, Metric, bool) {
	m, ok := f.models[key.String()]
	if !ok {
		return nil, Metric{}, false
	}
	metric, ok := f.metrics[key.String()]
	if !ok {
		metric = Metric{RMSE: math.NaN(), MAE: math.NaN()}
	}
	return m, metric, true
}

func (f *ForecastModels) Len() int {
	return len(f.models)
}

func (f *ForecastModels) Keys() []ScopeKey {
	out := make([]ScopeKey, 0, len(f.models))
	for _, m := range f.models {
		out = append(out, m.Key)
	}
	return out
}

const metricsFile = "metrics.json"

func loadForecastModels(dir string) (*ForecastModels, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}

	var models []*ForecastModel
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || filepath.Ext(name) != ".json" || name == metricsFile {
			continue
		}

		key, err := ParseScopeKey(name)
		if err != nil {
			return nil, err
		}

		var m ForecastModel
		if err := readJSON(filepath.Join(dir, name), &m); err != nil {
			return nil, err
		}
		if err := m.validate(); err != nil {
			return nil, fmt.Errorf("%s: %w", name, err)
		}
		m.Key = key
		models = append(models, &m)
	}

	metrics := map[string]Metric{}
	if err := readJSON(filepath.Join(dir, metricsFile), &metrics); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, err
	}

	return NewForecastModels(models, metrics), nil
}
