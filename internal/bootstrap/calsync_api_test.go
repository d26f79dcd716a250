package bootstrap

import (
	"net/http/httptest"
	"testing"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"calsync_server/config"
	"calsync_server/pkg/apperr"
)

func TestNewApp_MiddlewareStack(t *testing.T) {
	app := newApp(&config.Config{Environment: "development"})
	app.Get("/boom", func(c *fiber.Ctx) error { return apperr.NotFound("appointment") })
	app.Get("/panic", func(c *fiber.Ctx) error { panic("boom") })

	req := httptest.NewRequest("GET", "/boom", nil)
	req.Header.Set("Origin", "http://localhost:3000")
	resp, err := app.Test(req)
	require.NoError(t, err)

	assert.Equal(t, fiber.StatusNotFound, resp.StatusCode)
	assert.NotEmpty(t, resp.Header.Get("X-Request-ID"))
	assert.Equal(t, "no-store", resp.Header.Get("Cache-Control"))
	assert.Equal(t, "http://localhost:3000", resp.Header.Get("Access-Control-Allow-Origin"))

	resp, err = app.Test(httptest.NewRequest("GET", "/panic", nil))
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusInternalServerError, resp.StatusCode)
}
