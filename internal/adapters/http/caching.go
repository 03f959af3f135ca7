package http

import (
	"strings"

	"github.com/gofiber/fiber/v2"
)

// CachingMiddleware sets Cache-Control on GET responses that the handler
// left alone. Session state changes while a run is in flight, so anything
// under /v1/sessions is only briefly cacheable.
func CachingMiddleware() fiber.Handler {
	return func(c *fiber.Ctx) error {
		err := c.Next()

		if c.Method() != fiber.MethodGet {
			return err
		}
		if existing := c.GetRespHeader(fiber.HeaderCacheControl); existing != "" {
			return err
		}

		path := c.Path()
		var ttl string

		switch {
		case path == "/metrics":
			ttl = "no-cache"
		case path == "/v1/layers":
			ttl = "public, max-age=3600"
		case strings.HasPrefix(path, "/v1/workspaces/"):
			// Workspaces are immutable once fetched, unless refetched under the same id.
			ttl = "public, max-age=300"
		case strings.HasPrefix(path, "/v1/sessions"):
			ttl = "private, max-age=5"
		case strings.HasPrefix(path, "/docs"):
			ttl = "public, max-age=3600"
		case strings.HasPrefix(path, "/v1/"):
			ttl = "public, max-age=60"
		}

		if ttl != "" {
			c.Set(fiber.HeaderCacheControl, ttl)
		}
		return err
	}
}
