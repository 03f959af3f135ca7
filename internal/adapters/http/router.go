package http

import (
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/compress"
	"github.com/gofiber/fiber/v2/middleware/limiter"
	"github.com/gofiber/fiber/v2/middleware/requestid"
	"github.com/gofiber/fiber/v2/middleware/timeout"
	"github.com/gofiber/websocket/v2"

	"github.com/samirrijal/trailkit/internal/pkg/metrics"
)

const requestTimeout = 15 * time.Second

// Options tunes SetupRoutes.
type Options struct {
	RateLimit   int    // requests per minute per IP, 0 disables limiting
	OpenAPIPath string // served at /docs/openapi.yaml
}

// legacyRoutes are the polling paths older clients still call.
var legacyRoutes = []DeprecatedRoute{
	{Path: "/check-status/:id", SunsetDate: time.Date(2027, 6, 30, 0, 0, 0, 0, time.UTC), Alternative: "/v1/sessions/:id"},
}

// SetupRoutes registers all REST, GraphQL, and WebSocket routes.
func SetupRoutes(app *fiber.App, deps *Dependencies, opts Options) {
	if opts.OpenAPIPath == "" {
		opts.OpenAPIPath = "api/openapi.yaml"
	}

	// Prometheus metrics
	app.Use(metrics.Middleware())
	app.Get("/metrics", metrics.Handler())

	app.Use(compress.New(compress.Config{
		Level: compress.LevelBestSpeed,
	}))

	app.Use(requestid.New())
	app.Use(RequestIDLogMiddleware())
	app.Use(AccessLogMiddleware())

	if opts.RateLimit > 0 {
		app.Use(limiter.New(limiter.Config{
			Max:        opts.RateLimit,
			Expiration: 1 * time.Minute,
			KeyGenerator: func(c *fiber.Ctx) string {
				return c.IP()
			},
			LimitReached: func(c *fiber.Ctx) error {
				return newError(c, fiber.StatusTooManyRequests, "rate_limited", "too many requests, please try again later")
			},
		}))
	}

	// Security headers + API version
	app.Use(func(c *fiber.Ctx) error {
		c.Set("X-Content-Type-Options", "nosniff")
		c.Set("X-Frame-Options", "DENY")
		c.Set("Referrer-Policy", "strict-origin-when-cross-origin")
		c.Set("X-API-Version", "1.0.0")
		return c.Next()
	})

	app.Use(ETagMiddleware())
	app.Use(CachingMiddleware())
	app.Use(DeprecationMiddleware(legacyRoutes))

	// Health & readiness (no timeout, fast internal checks)
	app.Get("/v1/health", HealthHandler(deps))
	app.Get("/v1/ready", ReadyHandler(deps))

	// Fetches can outlast the request timeout on slow ArcGIS services, so
	// they get their own budget.
	v1 := app.Group("/v1")
	v1.Post("/fetch", timeout.NewWithContext(FetchHandler(deps), 4*requestTimeout))
	v1.Get("/workspaces/:workspace/layers", timeout.NewWithContext(SavedLayersHandler(deps), requestTimeout))
	v1.Get("/workspaces/:workspace/layers/:layer", timeout.NewWithContext(LayerHandler(deps), requestTimeout))
	v1.Get("/sessions", timeout.NewWithContext(ListSessionsHandler(deps), requestTimeout))
	v1.Post("/sessions", timeout.NewWithContext(CreateSessionHandler(deps), requestTimeout))
	v1.Get("/sessions/:id", timeout.NewWithContext(GetSessionHandler(deps), requestTimeout))
	v1.Post("/sessions/:id/retry", timeout.NewWithContext(RetrySessionHandler(deps), requestTimeout))
	v1.Get("/sessions/:id/adventure", timeout.NewWithContext(AdventureHandler(deps), requestTimeout))
	v1.Get("/sessions/:id/summary", timeout.NewWithContext(SummaryHandler(deps), requestTimeout))
	v1.Get("/sessions/:id/route.kml", timeout.NewWithContext(RouteKMLHandler(deps), requestTimeout))
	v1.Get("/layers", LayersHandler(deps))
	v1.Get("/weather", timeout.NewWithContext(WeatherHandler(deps), requestTimeout))

	// Legacy polling
	app.Get("/check-status/:id", CheckStatusHandler(deps))

	// GraphQL
	app.Post("/graphql", timeout.NewWithContext(GraphQLHandler(deps), requestTimeout))

	// API documentation (Swagger UI)
	SetupDocs(app, opts.OpenAPIPath, deps.Version)

	// WebSocket
	app.Use("/ws", func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	})
	app.Get("/ws", websocket.New(WebSocketHandler(deps.NATS)))
}
