// Package engine wires the store, the result cache, the model registry and
// every analytical service behind one handle.
package engine

import (
	"context"
	"fmt"

	"github.com/paulmach/orb/geojson"
	"go.uber.org/zap"

	"github.com/territorial-engagement/backend/internal/aggregation"
	"github.com/territorial-engagement/backend/internal/artifacts"
	"github.com/territorial-engagement/backend/internal/cache/redis"
	"github.com/territorial-engagement/backend/internal/domain"
	"github.com/territorial-engagement/backend/internal/evaluation"
	"github.com/territorial-engagement/backend/internal/features"
	"github.com/territorial-engagement/backend/internal/filter"
	"github.com/territorial-engagement/backend/internal/forecast"
	"github.com/territorial-engagement/backend/internal/prediction"
	"github.com/territorial-engagement/backend/internal/prioritize"
	"github.com/territorial-engagement/backend/internal/spatial"
	"github.com/territorial-engagement/backend/internal/store"
	"github.com/territorial-engagement/backend/pkg/config"
	"github.com/territorial-engagement/backend/pkg/logger"
)

type Engine struct {
	cfg      *config.Config
	querier  store.Querier
	registry *artifacts.Registry

	aggregation *aggregation.Service
	spatial     *spatial.Service
	predictor   *prediction.Predictor
	forecaster  *forecast.Forecaster
	prioritizer *prioritize.Prioritizer
	evaluator   *evaluation.Evaluator

	closers []func() error
}

// New opens the store and the optional cache and builds every service.
// Model families are loaded on first use; load failures found here are
// only logged.
func New(ctx context.Context, cfg *config.Config) (*Engine, error) {
	opts := store.OptionsFromConfig(cfg)

	var closers []func() error
	var cache *redis.Client
	if cfg.Cache.URL != "" {
		c, err := redis.NewClient(ctx, cfg.Cache.URL, cfg.Cache.TTL())
		if err != nil {
			logger.Warn("Result cache unavailable, continuing without it", zap.Error(err))
		} else {
			cache = c
			opts.Cache = c
			closers = append(closers, c.Close)
		}
	}

	st, err := store.Open(ctx, opts)
	if err != nil {
		for _, c := range closers {
			_ = c()
		}
		return nil, fmt.Errorf("failed to open store: %w", err)
	}
	closers = append(closers, st.Close)

	registry := artifacts.NewRegistry(artifacts.Dirs{
		Attendance: cfg.Models.AttendanceDir,
		Forecast:   cfg.Models.ForecastDir,
		Geographic: cfg.Models.GeographicDir,
	})
	for _, err := range registry.Preload() {
		logger.Warn("Model family not available", zap.Error(err))
	}

	aggOpts := aggregation.Options{
		CacheTTL:        cfg.Cache.TTL(),
		ToleranceFactor: cfg.Spatial.ToleranceFactor,
	}
	if cache != nil {
		aggOpts.Cache = cache
	}

	e := Assemble(cfg, st, registry, aggOpts)
	e.closers = closers

	logger.Info("Engine initialized",
		zap.String("environment", cfg.Environment),
		zap.Bool("cache", cache != nil),
		zap.Int("workers", st.Workers()),
	)
	return e, nil
}

// Assemble builds the services over an existing querier and registry.
func Assemble(cfg *config.Config, q store.Querier, registry *artifacts.Registry, aggOpts aggregation.Options) *Engine {
	agg := aggregation.NewService(q, aggOpts)
	sp := spatial.NewService(q, cfg.Spatial.ToleranceFactor)

	return &Engine{
		cfg:         cfg,
		querier:     q,
		registry:    registry,
		aggregation: agg,
		spatial:     sp,
		predictor:   prediction.NewPredictor(registry, features.NewStoreLoader(q)),
		forecaster:  forecast.NewForecaster(agg, registry, forecast.OptionsFromConfig(cfg.Forecast)),
		prioritizer: prioritize.NewPrioritizer(agg, sp, registry),
		evaluator:   evaluation.NewEvaluator(agg, registry),
	}
}

func (e *Engine) Close() error {
	var first error
	for i := len(e.closers) - 1; i >= 0; i-- {
		if err := e.closers[i](); err != nil && first == nil {
			first = err
		}
	}
	e.closers = nil
	return first
}

func (e *Engine) Config() *config.Config {
	return e.cfg
}

func (e *Engine) Registry() *artifacts.Registry {
	return e.registry
}

// Ready runs a trivial query through the adapter.
func (e *Engine) Ready(ctx context.Context) error {
	if _, err := e.querier.RunTabular(ctx, "SELECT 1 AS ok", nil); err != nil {
		return fmt.Errorf("failed to reach store: %w", err)
	}
	return nil
}

func compile(f domain.Filter) (filter.Compiled, error) {
	if err := f.Validate(); err != nil {
		return filter.Compiled{}, err
	}
	return filter.Compile(f), nil
}

func (e *Engine) KPI(ctx context.Context, f domain.Filter) (*domain.KPI, error) {
	c, err := compile(f)
	if err != nil {
		return nil, err
	}
	return e.aggregation.KPI(ctx, c)
}

func (e *Engine) MapLayer(ctx context.Context, f domain.Filter, level string) (*geojson.FeatureCollection, error) {
	lvl, err := aggregation.ParseLevel(level)
	if err != nil {
		return nil, err
	}
	c, err := compile(f)
	if err != nil {
		return nil, err
	}
	return e.aggregation.MapAggregate(ctx, c, lvl)
}

func (e *Engine) Detail(ctx context.Context, f domain.Filter) (*domain.RowSet, error) {
	c, err := compile(f)
	if err != nil {
		return nil, err
	}
	return e.aggregation.Detail(ctx, c)
}

func (e *Engine) Count(ctx context.Context, f domain.Filter) (int64, error) {
	c, err := compile(f)
	if err != nil {
		return 0, err
	}
	return e.aggregation.Count(ctx, c)
}

func (e *Engine) Temporal(ctx context.Context, f domain.Filter) (*domain.RowSet, error) {
	c, err := compile(f)
	if err != nil {
		return nil, err
	}
	return e.aggregation.Temporal(ctx, c)
}

func (e *Engine) Distribution(ctx context.Context, f domain.Filter) (*domain.RowSet, error) {
	c, err := compile(f)
	if err != nil {
		return nil, err
	}
	return e.aggregation.Distribution(ctx, c)
}

func (e *Engine) Comparative(ctx context.Context, f domain.Filter) (*domain.RowSet, error) {
	c, err := compile(f)
	if err != nil {
		return nil, err
	}
	return e.aggregation.Comparative(ctx, c)
}

func (e *Engine) Dashboard(ctx context.Context, f domain.Filter) (*aggregation.Dashboard, error) {
	c, err := compile(f)
	if err != nil {
		return nil, err
	}
	return e.aggregation.Dashboard(ctx, c)
}

func (e *Engine) Geometries(ctx context.Context, layer string, af *spatial.AttributeFilter) (*geojson.FeatureCollection, error) {
	return e.spatial.Geometries(ctx, layer, af)
}

func (e *Engine) FieldList(layer string) ([]spatial.Field, error) {
	return e.spatial.FieldList(layer)
}

func (e *Engine) FieldValues(ctx context.Context, layer, field string) ([]string, error) {
	return e.spatial.FieldValues(ctx, layer, field)
}

func (e *Engine) PredictAttendance(ctx context.Context, req domain.PredictionRequest) (*domain.PredictionResult, error) {
	return e.predictor.Predict(ctx, req)
}

func (e *Engine) Forecast(ctx context.Context, f domain.Filter, horizon int) (*domain.Forecast, error) {
	if err := f.Validate(); err != nil {
		return nil, err
	}
	return e.forecaster.Forecast(ctx, f, horizon)
}

func (e *Engine) Prioritize(ctx context.Context, req prioritize.Request) (*domain.PriorityTable, error) {
	if err := req.Filter.Validate(); err != nil {
		return nil, err
	}
	return e.prioritizer.Prioritize(ctx, req)
}

func (e *Engine) Backtest(ctx context.Context, holdout int) (*evaluation.BacktestReport, error) {
	return e.evaluator.Backtest(ctx, holdout)
}
