package usecases

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/samirrijal/trailkit/internal/core/domain"
	"github.com/samirrijal/trailkit/internal/core/ports"
	"github.com/samirrijal/trailkit/internal/pkg/metrics"
)

// WeatherService looks up current conditions at the centre of a bounding box.
type WeatherService struct {
	provider ports.WeatherProvider
	cache    ports.CacheService
	ttl      int
}

// NewWeatherService creates a WeatherService. cache may be nil.
func NewWeatherService(provider ports.WeatherProvider, cache ports.CacheService, ttlSeconds int) *WeatherService {
	return &WeatherService{provider: provider, cache: cache, ttl: ttlSeconds}
}

// ForBoundingBox returns the weather at bbox's centroid.
func (s *WeatherService) ForBoundingBox(ctx context.Context, bbox domain.BoundingBox) (*domain.Weather, error) {
	if err := bbox.Validate(); err != nil {
		return nil, err
	}
	c := bbox.Centroid()
	cacheKey := fmt.Sprintf("weather:%.3f:%.3f", c.Lat, c.Lon)

	if s.cache != nil {
		if data, err := s.cache.Get(ctx, cacheKey); err == nil {
			var w domain.Weather
			if json.Unmarshal(data, &w) == nil {
				metrics.CacheHits.WithLabelValues("weather").Inc()
				return &w, nil
			}
		}
		metrics.CacheMisses.WithLabelValues("weather").Inc()
	}

	w, err := s.provider.Current(ctx, c.Lat, c.Lon)
	if err != nil {
		slog.WarnContext(ctx, "weather lookup failed", "lat", c.Lat, "lon", c.Lon, "error", err)
		return nil, err
	}

	if s.cache != nil && s.ttl > 0 {
		if data, err := json.Marshal(w); err == nil {
			_ = s.cache.Set(ctx, cacheKey, data, s.ttl)
		}
	}
	return w, nil
}
