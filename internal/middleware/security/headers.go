package security

import (
	"strings"

	"github.com/gofiber/fiber/v2"
)

type HeadersConfig struct {
	// MapOrigins are the tile and style hosts map clients load from.
	MapOrigins    []string
	IsDevelopment bool
}

// HeadersMiddleware sets the response headers of a JSON and GeoJSON API.
// Analytical results are never stored by shared caches.
func HeadersMiddleware(cfg HeadersConfig) fiber.Handler {
	csp := "default-src 'none'; " +
		"img-src 'self' data: " + strings.Join(cfg.MapOrigins, " ") + "; " +
		"connect-src 'self' " + strings.Join(cfg.MapOrigins, " ") + "; " +
		"frame-ancestors 'none'; " +
		"base-uri 'none'; " +
		"form-action 'none'"
	csp = strings.ReplaceAll(csp, " ;", ";")

	return func(c *fiber.Ctx) error {
		c.Set("X-Frame-Options", "DENY")
		c.Set("X-Content-Type-Options", "nosniff")
		c.Set("Referrer-Policy", "no-referrer")
		c.Set("Content-Security-Policy", csp)
		c.Set("Cache-Control", "no-store")

		if !cfg.IsDevelopment {
			c.Set("Strict-Transport-Security", "max-age=31536000; includeSubDomains")
		}

		return c.Next()
	}
}
