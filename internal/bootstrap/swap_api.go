package bootstrap

import (
	"strings"

	"skillswap_server/adapter/in/http"
	"skillswap_server/config"
	"skillswap_server/infra/middleware"
	"skillswap_server/pkg/logger"

	"github.com/goccy/go-json"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/compress"
	"github.com/gofiber/fiber/v2/middleware/cors"
)

func NewAPI(cfg *config.Config) (*fiber.App, func(), error) {
	logLevel := logger.LevelInfo
	if cfg.IsDevelopment() {
		logLevel = logger.LevelDebug
	}
	logger.Init(logger.Config{
		Level:   logLevel,
		Service: "skillswap-sessions",
	})

	// JWKS for ES256/RS256 token verification
	middleware.InitJWKS(cfg.AuthIssuerURL)

	deps, cleanup, err := NewDependencies(cfg)
	if err != nil {
		logger.WithError(err).Error("Failed to initialize dependencies")
		return nil, nil, err
	}

	middleware.InitTokenBlacklist(deps.Redis)

	app := fiber.New(fiber.Config{
		ErrorHandler:          middleware.ErrorHandler(),
		DisableStartupMessage: cfg.IsProduction(),
		Prefork:               false,
		StrictRouting:         false,
		CaseSensitive:         false,

		ReadBufferSize:  16384,
		WriteBufferSize: 16384,

		JSONEncoder: json.Marshal,
		JSONDecoder: json.Unmarshal,

		BodyLimit:   1 * 1024 * 1024,
		Concurrency: 256 * 1024,

		ServerHeader:       "",
		DisableDefaultDate: true,
		DisableKeepalive:   false,
	})

	// Global middleware stack (order matters)
	app.Use(middleware.Recover())
	app.Use(middleware.RequestID())
	app.Use(middleware.SecurityHeaders())
	app.Use(middleware.ValidateContentType())
	app.Use(middleware.RequestLogger())

	app.Use(compress.New(compress.Config{
		Level: compress.LevelBestSpeed,
	}))

	// CORS: AllowCredentials requires explicit origins, never "*"
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
		AllowMethods:     "GET,POST,PUT,DELETE,PATCH,OPTIONS",
		AllowHeaders:     "Origin,Content-Type,Accept,Authorization,X-Request-ID",
		ExposeHeaders:    "X-Request-ID,X-RateLimit-Limit,X-RateLimit-Remaining",
		AllowCredentials: allowCredentials,
		MaxAge:           86400,
	}))

	// Health check (no auth required)
	healthHandler := http.NewHealthHandler(deps.DB, deps.Redis, deps.MongoDB)
	healthHandler.Register(app)

	sessionHandler := http.NewSessionHandler(deps.SessionService)
	reminderHandler := http.NewReminderHandler(deps.ReminderService)
	calendarHandler := http.NewCalendarHandler(deps.CalendarService)

	// Service-to-service endpoints (matching service creates hierarchies)
	internal := app.Group("/internal/v1")
	internal.Use(middleware.InternalAuth(cfg.InternalAPIToken))
	sessionHandler.RegisterInternal(internal)

	// User-facing API
	api := app.Group("/api/v1")

	rateLimiter := middleware.NewRateLimiter(middleware.DefaultRateLimitConfig())
	api.Use(rateLimiter.Handler())
	api.Use(middleware.JWTAuth(cfg.JWTSecret))

	sessionHandler.Register(api)
	reminderHandler.Register(api)
	calendarHandler.Register(api)

	logger.Info("API server initialized successfully")

	return app, cleanup, nil
}
