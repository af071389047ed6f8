package artifacts

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"

	"go.uber.org/zap"

	"github.com/territorial-engagement/backend/internal/apperr"
	"github.com/territorial-engagement/backend/pkg/logger"
)

const (
	FamilyAttendance = "attendance"
	FamilyForecast   = "forecast"
	FamilyGeographic = "geographic"
)

type Dirs struct {
	Attendance string
	Forecast   string
	Geographic string
}

// ModelInfo is attendance/model_info.json.
type ModelInfo struct {
	Version            string   `json:"version"`
	BaseScore          float64  `json:"base_score"`
	FeatureOrder       []string `json:"feature_order"`
	Categorical        []string `json:"categorical"`
	Numeric            []string `json:"numeric"`
	FeatureListVersion string   `json:"feature_list_version"`
}

type AttendanceModel struct {
	Info        ModelInfo
	FeatureList []string
	Ensemble    *TreeEnsemble
	Encodings   *Encodings
	Importance  map[string]float64
}

// Registry loads each artifact family on first use and keeps it for the
// life of the process. A family that fails to load keeps failing with the
// same ModelLoadError; other families are unaffected.
type Registry struct {
	dirs Dirs

	attendanceOnce sync.Once
	attendance     *AttendanceModel
	attendanceErr  error

	forecastOnce sync.Once
	forecast     *ForecastModels
	forecastErr  error

	geographicOnce sync.Once
	geographic     *GeographicModels
	geographicErr  error
}

func NewRegistry(dirs Dirs) *Registry {
	return &Registry{dirs: dirs}
}

// NewStaticRegistry returns a registry preloaded with in-memory models. Nil
// families report a ModelLoadError.
func NewStaticRegistry(a *AttendanceModel, f *ForecastModels, g *GeographicModels) *Registry {
	r := &Registry{}
	r.attendanceOnce.Do(func() {
		r.attendance = a
		if a == nil {
			r.attendanceErr = &apperr.ModelLoadError{Family: FamilyAttendance, Err: fs.ErrNotExist}
		}
	})
	r.forecastOnce.Do(func() {
		r.forecast = f
		if f == nil {
			r.forecastErr = &apperr.ModelLoadError{Family: FamilyForecast, Err: fs.ErrNotExist}
		}
	})
	r.geographicOnce.Do(func() {
		r.geographic = g
		if g == nil {
			r.geographicErr = &apperr.ModelLoadError{Family: FamilyGeographic, Err: fs.ErrNotExist}
		}
	})
	return r
}

func (r *Registry) Attendance() (*AttendanceModel, error) {
	r.attendanceOnce.Do(func() {
		var m interface{}
		m, r.attendanceErr = r.load(FamilyAttendance, r.dirs.Attendance, func(dir string) (interface{}, error) {
			return loadAttendance(dir)
		})
		if r.attendanceErr == nil {
			r.attendance = m.(*AttendanceModel)
		}
	})
	return r.attendance, r.attendanceErr
}

func (r *Registry) Forecast() (*ForecastModels, error) {
	r.forecastOnce.Do(func() {
		var m interface{}
		m, r.forecastErr = r.load(FamilyForecast, r.dirs.Forecast, func(dir string) (interface{}, error) {
			return loadForecastModels(dir)
		})
		if r.forecastErr == nil {
			r.forecast = m.(*ForecastModels)
		}
	})
	return r.forecast, r.forecastErr
}

func (r *Registry) Geographic() (*GeographicModels, error) {
	r.geographicOnce.Do(func() {
		var m interface{}
		m, r.geographicErr = r.load(FamilyGeographic, r.dirs.Geographic, func(dir string) (interface{}, error) {
			return loadGeographic(dir)
		})
		if r.geographicErr == nil {
			r.geographic = m.(*GeographicModels)
		}
	})
	return r.geographic, r.geographicErr
}

// Preload loads every family and returns the failures. Used at startup so
// broken artifacts are reported early; the process keeps running.
func (r *Registry) Preload() []error {
	var errs []error
	if _, err := r.Attendance(); err != nil {
		errs = append(errs, err)
	}
	if _, err := r.Forecast(); err != nil {
		errs = append(errs, err)
	}
	if _, err := r.Geographic(); err != nil {
		errs = append(errs, err)
	}
	return errs
}

func (r *Registry) load(family, dir string, fn func(string) (interface{}, error)) (interface{}, error) {
	m, err := fn(dir)
	if err != nil {
		logger.Error("Failed to load model family", zap.String("family", family), zap.String("dir", dir), zap.Error(err))
		return nil, &apperr.ModelLoadError{Family: family, Path: dir, Err: err}
	}
	logger.Info("Model family loaded", zap.String("family", family), zap.String("dir", dir))
	return m, nil
}

func loadAttendance(dir string) (*AttendanceModel, error) {
	var info ModelInfo
	if err := readJSON(filepath.Join(dir, "model_info.json"), &info); err != nil {
		return nil, err
	}

	var features []string
	if err := readJSON(filepath.Join(dir, "feature_list.json"), &features); err != nil {
		return nil, err
	}
	if len(features) == 0 {
		return nil, fmt.Errorf("feature_list.json is empty")
	}
	if len(info.FeatureOrder) > 0 && !sameStrings(info.FeatureOrder, features) {
		return nil, fmt.Errorf("feature_order in model_info.json disagrees with feature_list.json")
	}

	var mappings map[string]map[string]int
	if err := readJSON(filepath.Join(dir, "category_mappings.json"), &mappings); err != nil {
		return nil, err
	}
	enc, err := NewEncodings(mappings)
	if err != nil {
		return nil, fmt.Errorf("category_mappings.json: %w", err)
	}

	importance := map[string]float64{}
	if _, err := readOptionalJSON(filepath.Join(dir, "feature_importance.json"), &importance); err != nil {
		return nil, err
	}

	ensemble, err := LoadTreeEnsemble(filepath.Join(dir, "model.json"), features, info.BaseScore)
	if err != nil {
		return nil, err
	}

	return &AttendanceModel{
		Info:        info,
		FeatureList: features,
		Ensemble:    ensemble,
		Encodings:   enc,
		Importance:  importance,
	}, nil
}

func readJSON(path string, dest interface{}) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(data, dest); err != nil {
		return fmt.Errorf("failed to parse %s: %w", filepath.Base(path), err)
	}
	return nil
}

func readOptionalJSON(path string, dest interface{}) (bool, error) {
	err := readJSON(path, dest)
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func sameStrings(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
