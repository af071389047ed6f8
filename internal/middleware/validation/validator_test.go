package validation

import (
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gofiber/fiber/v2"
)

func newApp() *fiber.App {
	app := fiber.New()
	app.Use(Middleware(Config{AllowedParams: []string{"department", "month"}, MaxValueLength: 10}))
	app.Get("/", func(c *fiber.Ctx) error { return c.SendString("ok") })
	app.Post("/", func(c *fiber.Ctx) error { return c.SendString("ok") })
	return app
}

func TestMiddleware(t *testing.T) {
	tests := []struct {
		name        string
		method      string
		target      string
		contentType string
		want        int
	}{
		{"known params", "GET", "/?department=CHOCO&month=3", "", 200},
		{"no params", "GET", "/", "", 200},
		{"unknown param", "GET", "/?departmnt=CHOCO", "", 400},
		{"too long", "GET", "/?department=" + strings.Repeat("A", 11), "", 400},
		{"nul byte", "GET", "/?department=A%00B", "", 400},
		{"json body", "POST", "/", "application/json; charset=utf-8", 200},
		{"form body", "POST", "/", "application/x-www-form-urlencoded", fiber.StatusUnsupportedMediaType},
	}

	app := newApp()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(tt.method, tt.target, nil)
			if tt.contentType != "" {
				req.Header.Set("Content-Type", tt.contentType)
			}
			resp, err := app.Test(req)
			if err != nil {
				t.Fatal(err)
			}
			if resp.StatusCode != tt.want {
				t.Errorf("status = %d, want %d", resp.StatusCode, tt.want)
			}
		})
	}
}
