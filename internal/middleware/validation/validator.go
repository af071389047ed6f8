package validation

import (
	"strings"
	"unicode/utf8"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"
)

type Config struct {
	// AllowedParams are the query keys a route group accepts. Any other
	// key is rejected so a misspelled filter never widens a result.
	AllowedParams  []string
	MaxValueLength int
	Logger         *zap.Logger
}

func Middleware(cfg Config) fiber.Handler {
	if cfg.MaxValueLength == 0 {
		cfg.MaxValueLength = 200
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}

	allowed := make(map[string]bool, len(cfg.AllowedParams))
	for _, p := range cfg.AllowedParams {
		allowed[p] = true
	}

	return func(c *fiber.Ctx) error {
		if c.Method() == fiber.MethodPost || c.Method() == fiber.MethodPut {
			if !strings.HasPrefix(c.Get(fiber.HeaderContentType), fiber.MIMEApplicationJSON) {
				return c.Status(fiber.StatusUnsupportedMediaType).JSON(fiber.Map{
					"error": "Content type must be application/json",
				})
			}
		}

		var problem string
		c.Context().QueryArgs().VisitAll(func(key, value []byte) {
			if problem != "" {
				return
			}
			k := string(key)
			switch {
			case !allowed[k]:
				problem = "unknown query parameter " + k
			case len(value) > cfg.MaxValueLength:
				problem = "query parameter " + k + " exceeds maximum length"
			case !utf8.Valid(value) || strings.ContainsRune(string(value), 0):
				problem = "query parameter " + k + " is not valid text"
			}
		})

		if problem != "" {
			cfg.Logger.Warn("Rejected request",
				zap.String("ip", c.IP()),
				zap.String("path", c.Path()),
				zap.String("reason", problem),
			)
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
				"error": problem,
			})
		}

		return c.Next()
	}
}
