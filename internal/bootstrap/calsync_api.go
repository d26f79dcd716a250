package bootstrap

import (
	"context"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"

	"calsync_server/adapter/in/http"
	"calsync_server/config"
	"calsync_server/infra/middleware"
	"calsync_server/pkg/logger"
	"calsync_server/pkg/metrics"
)

func NewAPI(ctx context.Context, cfg *config.Config) (*fiber.App, func(), error) {
	deps, cleanup, err := NewDependencies(ctx, cfg)
	if err != nil {
		logger.WithError(err).Error("Failed to initialize dependencies")
		return nil, nil, err
	}

	app := newApp(cfg)

	// Health check (no auth required)
	var redisCheck http.HealthChecker
	if deps.Redis != nil {
		redisCheck = http.RedisChecker(deps.Redis)
	}
	http.NewHealthHandler(deps.Postgres.Pool, redisCheck).Register(app)

	calendarHandler := http.NewCalendarHandler(deps.ConnectionService, deps.SyncService, deps.Metrics, cfg.FrontendURL)
	calendarHandler.SetPoolStats(func() map[string]any {
		return metrics.DBPoolStats(deps.Postgres.DB.DB)
	})

	// The callback is reached by the browser without a bearer token, so it
	// gets a per-IP limit instead.
	callbackLimiter := middleware.NewRateLimiter(30, time.Minute)
	calendarHandler.Register(app.Group("/api/v1"), middleware.JWTAuth(cfg.JWTSecret), callbackLimiter.Handler())

	logger.Info("API server initialized successfully")
	return app, cleanup, nil
}

func newApp(cfg *config.Config) *fiber.App {
	app := fiber.New(fiber.Config{
		ErrorHandler:          middleware.ErrorHandler(),
		DisableStartupMessage: cfg.IsProduction(),
		ReadTimeout:           30 * time.Second,
		WriteTimeout:          30 * time.Second,

		// go-json for fiber's codec
		JSONEncoder: json.Marshal,
		JSONDecoder: json.Unmarshal,

		BodyLimit:    64 * 1024,
		ServerHeader: "",
	})

	// Global middleware stack (order matters)
	app.Use(middleware.RequestID())
	app.Use(middleware.RequestLogger())
	app.Use(middleware.Recover())
	app.Use(middleware.SecurityHeaders())

	// AllowCredentials:true requires explicit origins (not "*")
	allowOrigins := strings.Join(cfg.AllowedOrigins, ",")
	allowCredentials := true
	if allowOrigins == "" || allowOrigins == "*" {
		if cfg.IsProduction() {
			allowOrigins = ""
			allowCredentials = false
		} else {
			allowOrigins = "http://localhost:3000,http://localhost:5173"
		}
	}
	app.Use(cors.New(cors.Config{
		AllowOrigins:     allowOrigins,
		AllowMethods:     "GET,POST,PATCH,DELETE,OPTIONS",
		AllowHeaders:     "Origin,Content-Type,Accept,Authorization,X-Request-ID",
		ExposeHeaders:    "X-Request-ID,X-RateLimit-Limit,X-RateLimit-Remaining,X-RateLimit-Reset",
		AllowCredentials: allowCredentials,
		MaxAge:           86400,
	}))

	return app
}
