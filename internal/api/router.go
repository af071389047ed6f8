// Package api mounts the engine's operations on a fiber app.
package api

import (
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	fiberlogger "github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"go.uber.org/zap"

	"github.com/territorial-engagement/backend/internal/api/handlers"
	"github.com/territorial-engagement/backend/internal/engine"
	"github.com/territorial-engagement/backend/internal/metrics"
	"github.com/territorial-engagement/backend/internal/middleware/ratelimit"
	"github.com/territorial-engagement/backend/internal/middleware/security"
	"github.com/territorial-engagement/backend/internal/middleware/validation"
	"github.com/territorial-engagement/backend/pkg/config"
	"github.com/territorial-engagement/backend/pkg/logger"
)

var mapOrigins = []string{"https://*.basemaps.cartocdn.com", "https://api.mapbox.com"}

// NewApp returns the app and a function that stops its background work.
func NewApp(cfg *config.Config, e *engine.Engine) (*fiber.App, func()) {
	app := fiber.New(fiber.Config{
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeout) * time.Second,
		BodyLimit:    cfg.Server.BodyLimit,
	})

	limiter := ratelimit.New(ratelimit.Config{
		RequestsPerMinute: cfg.Server.RequestsPerMinute,
		Logger:            logger.Named("ratelimit"),
	})

	app.Use(recover.New())
	app.Use(fiberlogger.New())
	app.Use(cors.New(cors.Config{
		AllowOrigins: "*",
		AllowHeaders: "Origin, Content-Type, Accept, X-Client-ID",
		AllowMethods: "GET, POST, OPTIONS",
	}))
	app.Use(security.HeadersMiddleware(security.HeadersConfig{
		MapOrigins:    mapOrigins,
		IsDevelopment: cfg.IsDevelopment(),
	}))

	app.Get("/metrics", metrics.MetricsHandler())

	app.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"status": "healthy",
			"time":   time.Now().Unix(),
		})
	})

	app.Get("/ready", func(c *fiber.Ctx) error {
		if err := e.Ready(c.UserContext()); err != nil {
			logger.Warn("Readiness check failed", zap.Error(err))
			return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{
				"status": "unavailable",
			})
		}
		return c.JSON(fiber.Map{
			"status": "ready",
		})
	})

	v1 := app.Group("/api/v1", limiter.Middleware())

	validationLogger := logger.Named("validation")
	filterOnly := validation.Middleware(validation.Config{AllowedParams: handlers.FilterParams, Logger: validationLogger})
	withHorizon := validation.Middleware(validation.Config{
		AllowedParams: append(append([]string{}, handlers.FilterParams...), "horizon"),
		Logger:        validationLogger,
	})
	layerParams := validation.Middleware(validation.Config{AllowedParams: []string{"field", "value"}, Logger: validationLogger})
	bodyOnly := validation.Middleware(validation.Config{Logger: validationLogger})

	explore := handlers.NewExploreHandler(e)
	v1.Get("/kpi", filterOnly, explore.KPI)
	v1.Get("/map/:level", filterOnly, explore.Map)
	v1.Get("/activities", filterOnly, explore.Detail)
	v1.Get("/activities/count", filterOnly, explore.Count)
	v1.Get("/temporal", filterOnly, explore.Temporal)
	v1.Get("/distribution", filterOnly, explore.Distribution)
	v1.Get("/comparative", filterOnly, explore.Comparative)
	v1.Get("/dashboard", filterOnly, explore.Dashboard)

	layers := handlers.NewLayersHandler(e)
	v1.Get("/layers", layers.List)
	v1.Get("/layers/:layer", layerParams, layers.Geometries)
	v1.Get("/layers/:layer/fields", layers.Fields)
	v1.Get("/layers/:layer/fields/:field/values", layers.FieldValues)

	models := handlers.NewModelsHandler(e)
	v1.Post("/predict", bodyOnly, models.Predict)
	v1.Get("/forecast", withHorizon, models.Forecast)
	v1.Post("/prioritize", bodyOnly, models.Prioritize)

	return app, limiter.Stop
}
