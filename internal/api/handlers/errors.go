package handlers

import (
	"errors"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/territorial-engagement/backend/internal/apperr"
	"github.com/territorial-engagement/backend/pkg/logger"
)

func statusFor(err error) int {
	var mle *apperr.ModelLoadError
	var se *apperr.StorageError

	switch {
	case errors.Is(err, apperr.ErrInvalidFilter), errors.Is(err, apperr.ErrUnknownAggregate):
		return fiber.StatusBadRequest
	case errors.Is(err, apperr.ErrLayerNotFound), errors.Is(err, apperr.ErrFieldNotFound):
		return fiber.StatusNotFound
	case errors.Is(err, apperr.ErrCanceled):
		return fiber.StatusRequestTimeout
	case errors.As(err, &mle):
		return fiber.StatusServiceUnavailable
	case errors.As(err, &se):
		switch se.Kind {
		case apperr.StorageTimeout:
			return fiber.StatusGatewayTimeout
		case apperr.StorageConnection:
			return fiber.StatusServiceUnavailable
		}
	}
	return fiber.StatusInternalServerError
}

// respondError writes the error body. Client errors carry the error text;
// server errors only carry msg.
func respondError(c *fiber.Ctx, err error, msg string) error {
	status := statusFor(err)
	if status >= fiber.StatusInternalServerError {
		logger.Error(msg, zap.Error(err), zap.String("path", c.Path()))
		return c.Status(status).JSON(fiber.Map{"error": msg})
	}

	logger.Debug(msg, zap.Error(err), zap.String("path", c.Path()))
	return c.Status(status).JSON(fiber.Map{"error": err.Error()})
}

func badRequest(c *fiber.Ctx, msg string) error {
	return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": msg})
}
