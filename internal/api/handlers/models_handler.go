package handlers

import (
	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/territorial-engagement/backend/internal/engine"
	"github.com/territorial-engagement/backend/internal/prioritize"
	"github.com/territorial-engagement/backend/pkg/logger"
)

type ModelsHandler struct {
	engine *engine.Engine
}

func NewModelsHandler(e *engine.Engine) *ModelsHandler {
	return &ModelsHandler{engine: e}
}

func (h *ModelsHandler) Predict(c *fiber.Ctx) error {
	var req PredictRequest
	if err := c.BodyParser(&req); err != nil {
		logger.Error("Failed to parse request body", zap.Error(err))
		return badRequest(c, "Invalid request body")
	}

	pr, err := req.Domain()
	if err != nil {
		return respondError(c, err, "Invalid prediction request")
	}

	result, err := h.engine.PredictAttendance(c.UserContext(), pr)
	if err != nil {
		return respondError(c, err, "Failed to predict attendance")
	}
	return c.JSON(result)
}

func (h *ModelsHandler) Forecast(c *fiber.Ctx) error {
	var req FilterRequest
	if err := c.QueryParser(&req); err != nil {
		return badRequest(c, "Invalid query parameters")
	}
	f, err := req.Filter()
	if err != nil {
		return respondError(c, err, "Invalid filter")
	}

	horizon := c.QueryInt("horizon", 0)
	result, err := h.engine.Forecast(c.UserContext(), f, horizon)
	if err != nil {
		return respondError(c, err, "Failed to forecast activities")
	}
	return c.JSON(result)
}

func (h *ModelsHandler) Prioritize(c *fiber.Ctx) error {
	var req PrioritizeRequest
	if err := c.BodyParser(&req); err != nil {
		logger.Error("Failed to parse request body", zap.Error(err))
		return badRequest(c, "Invalid request body")
	}
	if req.Target < 0 {
		return badRequest(c, "target must not be negative")
	}

	f, err := req.Filter.Filter()
	if err != nil {
		return respondError(c, err, "Invalid filter")
	}

	table, err := h.engine.Prioritize(c.UserContext(), prioritize.Request{
		Filter:       f,
		ActivityType: req.ActivityType,
		Target:       req.Target,
	})
	if err != nil {
		return respondError(c, err, "Failed to prioritize municipalities")
	}
	return c.JSON(table)
}
