package usecases

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"

	"github.com/samirrijal/trailkit/internal/core/domain"
	"github.com/samirrijal/trailkit/internal/core/ports"
	"github.com/samirrijal/trailkit/internal/pkg/metrics"
)

// ElevationSampler fetches a DEM covering the route and reads an elevation
// for every route vertex.
type ElevationSampler struct {
	provider ports.ElevationProvider
	decoder  ports.RasterDecoder
	store    ports.ArtifactStore
}

// NewElevationSampler creates an ElevationSampler.
func NewElevationSampler(provider ports.ElevationProvider, decoder ports.RasterDecoder, store ports.ArtifactStore) *ElevationSampler {
	return &ElevationSampler{provider: provider, decoder: decoder, store: store}
}

// Sample computes the route envelope, downloads the raster and samples it.
func (s *ElevationSampler) Sample(ctx context.Context, sessionID string, route *domain.FeatureCollection) (domain.ElevationSamples, error) {
	ctx, span := tracer.Start(ctx, "ElevationSampler.Sample")
	defer span.End()

	env, err := ComputeEnvelope(route)
	if err != nil {
		return nil, err
	}
	raster, err := s.RequestRaster(ctx, sessionID, env)
	if err != nil {
		return nil, err
	}
	samples := SampleAtVertices(route, raster)

	var total int
	for _, list := range samples {
		total += len(list)
	}
	slog.InfoContext(ctx, "elevation sampled",
		"session", sessionID,
		"features", len(samples),
		"samples", total,
		"raster_width", raster.Width,
		"raster_height", raster.Height,
	)
	return samples, nil
}

// ComputeEnvelope returns the extent of every line vertex in the route.
func ComputeEnvelope(route *domain.FeatureCollection) (domain.Envelope, error) {
	env := domain.Envelope{
		North: math.Inf(-1),
		South: math.Inf(1),
		East:  math.Inf(-1),
		West:  math.Inf(1),
	}
	var n int
	if route != nil {
		for _, f := range route.Features {
			for _, p := range domain.LineCoordinates(f.Geometry) {
				env.North = math.Max(env.North, p.Lat())
				env.South = math.Min(env.South, p.Lat())
				env.East = math.Max(env.East, p.Lon())
				env.West = math.Min(env.West, p.Lon())
				n++
			}
		}
	}
	if n == 0 {
		return domain.Envelope{}, fmt.Errorf("%w: route has no line coordinates", domain.ErrEmptyGeometry)
	}
	return env, nil
}

// RequestRaster downloads the DEM for env, stores the bytes verbatim as the
// session's raster artifact and decodes them. Any failure is
// domain.ErrRasterUnavailable.
func (s *ElevationSampler) RequestRaster(ctx context.Context, sessionID string, env domain.Envelope) (*domain.ElevationRaster, error) {
	slog.InfoContext(ctx, "requesting DEM", "session", sessionID,
		"north", env.North, "south", env.South, "east", env.East, "west", env.West)

	data, err := s.provider.FetchRaster(ctx, env)
	if err != nil {
		if errors.Is(err, domain.ErrRasterUnavailable) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %v", domain.ErrRasterUnavailable, err)
	}
	metrics.RasterBytes.Observe(float64(len(data)))

	if err := s.store.SaveRaster(ctx, sessionID, data); err != nil {
		return nil, fmt.Errorf("persist raster: %w", err)
	}

	raster, err := s.decoder.Decode(data)
	if err != nil {
		return nil, fmt.Errorf("%w: decode: %v", domain.ErrRasterUnavailable, err)
	}
	if raster.EPSG != 0 && raster.EPSG != int(domain.WGS84) {
		return nil, fmt.Errorf("%w: raster is in EPSG:%d: %v", domain.ErrRasterUnavailable, raster.EPSG, domain.ErrUnsupportedCRS)
	}
	return raster, nil
}

// SampleAtVertices returns one elevation list per route feature, in feature
// order and vertex order. Vertices that fall outside the grid, or on a
// nodata cell, contribute no sample.
func SampleAtVertices(route *domain.FeatureCollection, raster *domain.ElevationRaster) domain.ElevationSamples {
	samples := make(domain.ElevationSamples, route.Len())
	for i, f := range route.Features {
		pts := domain.LineCoordinates(f.Geometry)
		list := make([]float64, 0, len(pts))
		for _, p := range pts {
			row, col := raster.RowCol(p.Lon(), p.Lat())
			if v, ok := raster.At(row, col); ok {
				list = append(list, v)
			}
		}
		samples[i] = list
	}
	return samples
}
