package metrics

import (
	"sync"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	StoreQueryDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "activity_engine_store_query_duration_seconds",
			Help:    "Store adapter query duration in seconds",
			Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 2, 5, 10, 30},
		},
		[]string{"operation"},
	)

	StorageErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "activity_engine_storage_errors_total",
			Help: "Storage errors by kind",
		},
		[]string{"kind"},
	)

	CacheHits = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "activity_engine_cache_hits_total",
			Help: "Result cache hits",
		},
		[]string{"cache_type"},
	)

	CacheMisses = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "activity_engine_cache_misses_total",
			Help: "Result cache misses",
		},
		[]string{"cache_type"},
	)

	Predictions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "activity_engine_predictions_total",
			Help: "Attendance predictions by confidence label",
		},
		[]string{"confidence"},
	)

	Forecasts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "activity_engine_forecasts_total",
			Help: "Forecasts by selected scope level",
		},
		[]string{"scope"},
	)

	PrioritizationRuns = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "activity_engine_prioritization_runs_total",
			Help: "Total prioritization runs",
		},
	)
)

var registerOnce sync.Once

func Init() {
	registerOnce.Do(func() {
		prometheus.MustRegister(
			StoreQueryDuration,
			StorageErrors,
			CacheHits,
			CacheMisses,
			Predictions,
			Forecasts,
			PrioritizationRuns,
		)
	})
}

func MetricsHandler() fiber.Handler {
	return adaptor.HTTPHandler(promhttp.Handler())
}
