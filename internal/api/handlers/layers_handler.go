package handlers

import (
	"github.com/gofiber/fiber/v2"

	"github.com/territorial-engagement/backend/internal/engine"
	"github.com/territorial-engagement/backend/internal/spatial"
)

type LayersHandler struct {
	engine *engine.Engine
}

func NewLayersHandler(e *engine.Engine) *LayersHandler {
	return &LayersHandler{engine: e}
}

func (h *LayersHandler) List(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{"layers": spatial.LayerNames()})
}

// Geometries returns the layer as GeoJSON. The optional field and value
// query parameters apply a case-insensitive substring filter.
func (h *LayersHandler) Geometries(c *fiber.Ctx) error {
	var af *spatial.AttributeFilter
	if field := c.Query("field"); field != "" {
		af = &spatial.AttributeFilter{Field: field, Value: c.Query("value")}
	}

	fc, err := h.engine.Geometries(c.UserContext(), c.Params("layer"), af)
	if err != nil {
		return respondError(c, err, "Failed to load layer")
	}
	return c.JSON(fc)
}

func (h *LayersHandler) Fields(c *fiber.Ctx) error {
	fields, err := h.engine.FieldList(c.Params("layer"))
	if err != nil {
		return respondError(c, err, "Failed to list fields")
	}
	return c.JSON(fiber.Map{"fields": fields})
}

func (h *LayersHandler) FieldValues(c *fiber.Ctx) error {
	values, err := h.engine.FieldValues(c.UserContext(), c.Params("layer"), c.Params("field"))
	if err != nil {
		return respondError(c, err, "Failed to list field values")
	}
	return c.JSON(fiber.Map{"values": values})
}
