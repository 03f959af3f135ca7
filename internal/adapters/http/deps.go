package http

import (
	"context"

	"github.com/nats-io/nats.go"

	"github.com/samirrijal/trailkit/internal/core/usecases"
)

// Check is a named readiness probe (database ping, cache ping, ...).
type Check func(ctx context.Context) error

// Dependencies holds all services needed by HTTP handlers.
type Dependencies struct {
	Pipeline *usecases.PipelineService
	Weather  *usecases.WeatherService
	NATS     *nats.Conn
	Checks   map[string]Check
	Version  string
}
