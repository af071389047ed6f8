package handlers

import (
	"fmt"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/territorial-engagement/backend/internal/apperr"
	"github.com/territorial-engagement/backend/internal/domain"
	"github.com/territorial-engagement/backend/internal/engine"
	"github.com/territorial-engagement/backend/pkg/logger"
)

type ExploreHandler struct {
	engine *engine.Engine
}

func NewExploreHandler(e *engine.Engine) *ExploreHandler {
	return &ExploreHandler{engine: e}
}

func (h *ExploreHandler) filter(c *fiber.Ctx) (domain.Filter, error) {
	var req FilterRequest
	if err := c.QueryParser(&req); err != nil {
		logger.Debug("Failed to parse filter", zap.Error(err))
		return domain.Filter{}, fmt.Errorf("%w: %v", apperr.ErrInvalidFilter, err)
	}
	return req.Filter()
}

func (h *ExploreHandler) KPI(c *fiber.Ctx) error {
	f, err := h.filter(c)
	if err != nil {
		return respondError(c, err, "Invalid filter")
	}

	kpi, err := h.engine.KPI(c.UserContext(), f)
	if err != nil {
		return respondError(c, err, "Failed to compute KPIs")
	}
	return c.JSON(kpi)
}

func (h *ExploreHandler) Map(c *fiber.Ctx) error {
	f, err := h.filter(c)
	if err != nil {
		return respondError(c, err, "Invalid filter")
	}

	fc, err := h.engine.MapLayer(c.UserContext(), f, c.Params("level"))
	if err != nil {
		return respondError(c, err, "Failed to compute map layer")
	}
	return c.JSON(fc)
}

func (h *ExploreHandler) Detail(c *fiber.Ctx) error {
	f, err := h.filter(c)
	if err != nil {
		return respondError(c, err, "Invalid filter")
	}

	rs, err := h.engine.Detail(c.UserContext(), f)
	if err != nil {
		return respondError(c, err, "Failed to load activities")
	}
	return c.JSON(fiber.Map{
		"count": rs.Len(),
		"rows":  rs,
	})
}

func (h *ExploreHandler) Count(c *fiber.Ctx) error {
	f, err := h.filter(c)
	if err != nil {
		return respondError(c, err, "Invalid filter")
	}

	n, err := h.engine.Count(c.UserContext(), f)
	if err != nil {
		return respondError(c, err, "Failed to count activities")
	}
	return c.JSON(fiber.Map{"count": n})
}

func (h *ExploreHandler) Temporal(c *fiber.Ctx) error {
	f, err := h.filter(c)
	if err != nil {
		return respondError(c, err, "Invalid filter")
	}

	rs, err := h.engine.Temporal(c.UserContext(), f)
	if err != nil {
		return respondError(c, err, "Failed to compute temporal rollup")
	}
	return c.JSON(rs)
}

func (h *ExploreHandler) Distribution(c *fiber.Ctx) error {
	f, err := h.filter(c)
	if err != nil {
		return respondError(c, err, "Invalid filter")
	}

	rs, err := h.engine.Distribution(c.UserContext(), f)
	if err != nil {
		return respondError(c, err, "Failed to compute distribution rollup")
	}
	return c.JSON(rs)
}

func (h *ExploreHandler) Comparative(c *fiber.Ctx) error {
	f, err := h.filter(c)
	if err != nil {
		return respondError(c, err, "Invalid filter")
	}

	rs, err := h.engine.Comparative(c.UserContext(), f)
	if err != nil {
		return respondError(c, err, "Failed to compute comparative rollup")
	}
	return c.JSON(rs)
}

func (h *ExploreHandler) Dashboard(c *fiber.Ctx) error {
	f, err := h.filter(c)
	if err != nil {
		return respondError(c, err, "Invalid filter")
	}

	d, err := h.engine.Dashboard(c.UserContext(), f)
	if err != nil {
		return respondError(c, err, "Failed to compute dashboard")
	}
	return c.JSON(d)
}
