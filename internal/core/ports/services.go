package ports

import (
	"context"

	"github.com/samirrijal/trailkit/internal/core/domain"
)

// FeatureQuerier runs a spatial intersects query against a remote feature layer.
type FeatureQuerier interface {
	Query(ctx context.Context, layer domain.LayerSpec, bbox domain.BoundingBox) (*domain.FeatureCollection, error)
}

// ElevationProvider downloads a DEM covering an envelope as raw GeoTIFF bytes.
type ElevationProvider interface {
	FetchRaster(ctx context.Context, env domain.Envelope) ([]byte, error)
}

// RasterDecoder turns raster bytes into an elevation grid.
type RasterDecoder interface {
	Decode(data []byte) (*domain.ElevationRaster, error)
}

// WeatherProvider looks up current conditions at a point.
type WeatherProvider interface {
	Current(ctx context.Context, lat, lon float64) (*domain.Weather, error)
}

// EventPublisher publishes pipeline events to a message broker.
type EventPublisher interface {
	PublishSessionEvent(ctx context.Context, event *domain.SessionEvent) error
	PublishArtifactEvent(ctx context.Context, event *domain.ArtifactEvent) error
}

// EventSubscriber consumes pipeline events from a message broker.
type EventSubscriber interface {
	SubscribeSessionEvents(ctx context.Context, handler func(ctx context.Context, event *domain.SessionEvent) error) error
}

// CacheService provides read-through caching.
type CacheService interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte, ttlSeconds int) error
	Delete(ctx context.Context, key string) error
}

// EnrichmentJob is the unit of work handed to a Dispatcher.
type EnrichmentJob struct {
	SessionID   string
	Workspace   string
	SelectedIDs []string
}

// Dispatcher runs an enrichment job off the caller's goroutine.
type Dispatcher interface {
	Dispatch(ctx context.Context, job EnrichmentJob) error
}
