package usecases

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/paulmach/orb/geojson"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/samirrijal/trailkit/internal/core/domain"
	"github.com/samirrijal/trailkit/internal/core/ports"
	"github.com/samirrijal/trailkit/internal/pkg/metrics"
	"github.com/samirrijal/trailkit/internal/pkg/telemetry"
)

var tracer = telemetry.Tracer("usecases")

// FeatureSource fetches remote feature layers for a bounding box and stores
// each non-empty layer as an artifact in the caller's workspace.
type FeatureSource struct {
	querier     ports.FeatureQuerier
	store       ports.ArtifactStore
	cache       ports.CacheService
	events      ports.EventPublisher
	concurrency int
	cacheTTL    int
}

// NewFeatureSource creates a FeatureSource. cache and events may be nil.
// concurrency <= 1 fetches layers one after another.
func NewFeatureSource(querier ports.FeatureQuerier, store ports.ArtifactStore, cache ports.CacheService, events ports.EventPublisher, concurrency, cacheTTLSeconds int) *FeatureSource {
	return &FeatureSource{
		querier:     querier,
		store:       store,
		cache:       cache,
		events:      events,
		concurrency: concurrency,
		cacheTTL:    cacheTTLSeconds,
	}
}

// Fetch queries one layer. An empty collection with a nil error means the
// layer has no features in bbox. Remote failures wrap domain.ErrRemoteService.
func (s *FeatureSource) Fetch(ctx context.Context, workspace string, layer domain.LayerSpec, bbox domain.BoundingBox) (*domain.FeatureCollection, error) {
	ctx, span := tracer.Start(ctx, "FeatureSource.Fetch", trace.WithAttributes(
		attribute.String("layer", layer.Name),
		attribute.String("workspace", workspace),
	))
	defer span.End()

	log := slog.With("layer", layer.Name, "workspace", workspace, "bbox", bbox.String())

	fc, err := s.query(ctx, layer, bbox)
	if err != nil {
		metrics.LayerFetches.WithLabelValues(layer.Name, "error").Inc()
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		log.ErrorContext(ctx, "layer fetch failed", "error", err)
		if !errors.Is(err, domain.ErrRemoteService) {
			err = fmt.Errorf("%w: layer %s: %v", domain.ErrRemoteService, layer.Name, err)
		}
		return nil, err
	}

	if fc.IsEmpty() {
		metrics.LayerFetches.WithLabelValues(layer.Name, "empty").Inc()
		log.InfoContext(ctx, "no features found for layer")
		return fc, nil
	}

	if err := s.store.SaveCollection(ctx, workspace, layer.Name, fc); err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("persist layer %s: %w", layer.Name, err)
	}
	notifyArtifact(ctx, s.events, workspace, layer.Name, fc.Len())

	metrics.LayerFetches.WithLabelValues(layer.Name, "ok").Inc()
	span.SetAttributes(attribute.Int("features", fc.Len()))
	log.InfoContext(ctx, "layer fetched", "features", fc.Len())
	return fc, nil
}

// query goes through the cache when one is configured, then normalizes the
// result to WGS84 and drops features outside bbox.
func (s *FeatureSource) query(ctx context.Context, layer domain.LayerSpec, bbox domain.BoundingBox) (*domain.FeatureCollection, error) {
	cacheKey := fmt.Sprintf("layer:%s:%.5f:%.5f:%.5f:%.5f", layer.Name, bbox.MinX, bbox.MinY, bbox.MaxX, bbox.MaxY)
	if s.cache != nil {
		if data, err := s.cache.Get(ctx, cacheKey); err == nil {
			if fc, err := domain.DecodeFeatureCollection(data); err == nil {
				metrics.CacheHits.WithLabelValues("layer").Inc()
				metrics.LayerFetches.WithLabelValues(layer.Name, "cached").Inc()
				return fc, nil
			}
		}
		metrics.CacheMisses.WithLabelValues("layer").Inc()
	}

	start := time.Now()
	fc, err := s.querier.Query(ctx, layer, bbox)
	metrics.LayerFetchDuration.WithLabelValues(layer.Name).Observe(time.Since(start).Seconds())
	if err != nil {
		return nil, err
	}
	if fc == nil {
		fc = domain.NewFeatureCollection()
	}
	if err := fc.Normalize(); err != nil {
		return nil, fmt.Errorf("%w: layer %s: %v", domain.ErrRemoteService, layer.Name, err)
	}
	fc = clipToBBox(fc, bbox)

	if s.cache != nil && s.cacheTTL > 0 {
		if data, err := fc.MarshalGeoJSON(); err == nil {
			_ = s.cache.Set(ctx, cacheKey, data, s.cacheTTL)
		}
	}
	return fc, nil
}

// clipToBBox drops features whose extent does not touch bbox.
func clipToBBox(fc *domain.FeatureCollection, bbox domain.BoundingBox) *domain.FeatureCollection {
	b := bbox.Bound()
	kept := make([]*geojson.Feature, 0, len(fc.Features))
	for _, f := range fc.Features {
		if f.Geometry == nil {
			continue
		}
		if f.Geometry.Bound().Intersects(b) {
			kept = append(kept, f)
		}
	}
	return &domain.FeatureCollection{CRS: fc.CRS, Features: kept}
}

// FetchAll fetches every layer for bbox. Layers that fail or come back empty
// are skipped; the batch never aborts because of one layer. Results follow
// the order of layers. domain.ErrNoDataFound is returned when nothing was
// fetched.
func (s *FeatureSource) FetchAll(ctx context.Context, workspace string, layers []domain.LayerSpec, bbox domain.BoundingBox) ([]domain.LayerResult, error) {
	if err := bbox.Validate(); err != nil {
		return nil, err
	}
	if err := domain.ValidateNamespace(workspace); err != nil {
		return nil, err
	}

	slots := make([]*domain.LayerResult, len(layers))
	fetchOne := func(i int, layer domain.LayerSpec) {
		fc, err := s.Fetch(ctx, workspace, layer, bbox)
		if err != nil || fc.IsEmpty() {
			return
		}
		slots[i] = &domain.LayerResult{
			Layer:    layer.Name,
			Role:     string(layer.Role),
			Features: fc.Len(),
			Artifact: layer.Name,
		}
	}

	if s.concurrency <= 1 {
		for i, layer := range layers {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
			fetchOne(i, layer)
		}
	} else {
		var wg sync.WaitGroup
		sem := make(chan struct{}, s.concurrency)
		for i, layer := range layers {
			wg.Add(1)
			go func(i int, l domain.LayerSpec) {
				defer wg.Done()
				sem <- struct{}{}
				defer func() { <-sem }()
				if ctx.Err() != nil {
					return
				}
				fetchOne(i, l)
			}(i, layer)
		}
		wg.Wait()
		if err := ctx.Err(); err != nil {
			return nil, err
		}
	}

	results := make([]domain.LayerResult, 0, len(layers))
	for _, r := range slots {
		if r != nil {
			results = append(results, *r)
		}
	}
	if len(results) == 0 {
		return results, fmt.Errorf("%w: no layer returned features for %s", domain.ErrNoDataFound, bbox)
	}
	return results, nil
}

func notifyArtifact(ctx context.Context, events ports.EventPublisher, namespace, name string, features int) {
	if events == nil {
		return
	}
	ev := &domain.ArtifactEvent{Namespace: namespace, Name: name, Features: features, At: time.Now().UTC()}
	if err := events.PublishArtifactEvent(ctx, ev); err != nil {
		slog.WarnContext(ctx, "publish artifact event failed", "namespace", namespace, "artifact", name, "error", err)
	}
}
