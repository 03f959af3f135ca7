package usecases

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
	"github.com/paulmach/orb/quadtree"

	"github.com/samirrijal/trailkit/internal/core/domain"
	"github.com/samirrijal/trailkit/internal/core/ports"
	"github.com/samirrijal/trailkit/internal/pkg/geospatial"
)

// DefaultBufferDegrees is the planar proximity threshold around the route.
const DefaultBufferDegrees = 0.001

// TrailheadFilter keeps the trailheads lying within a planar buffer of the route.
type TrailheadFilter struct {
	store  ports.ArtifactStore
	events ports.EventPublisher
	buffer float64
}

// NewTrailheadFilter creates a TrailheadFilter. A non-positive buffer falls
// back to DefaultBufferDegrees.
func NewTrailheadFilter(store ports.ArtifactStore, events ports.EventPublisher, bufferDegrees float64) *TrailheadFilter {
	if bufferDegrees <= 0 {
		bufferDegrees = DefaultBufferDegrees
	}
	return &TrailheadFilter{store: store, events: events, buffer: bufferDegrees}
}

// FilterArtifacts loads the session's final route and the workspace's
// trailhead layer and filters them. Absent artifacts are domain.ErrMissingInput.
func (t *TrailheadFilter) FilterArtifacts(ctx context.Context, sessionID, workspace, trailheadLayer string) (*domain.FeatureCollection, error) {
	route, err := t.store.LoadCollection(ctx, sessionID, domain.ArtifactFinalRoute)
	if err != nil {
		return nil, missingInput(err, "final route")
	}
	trailheads, err := t.store.LoadCollection(ctx, workspace, trailheadLayer)
	if err != nil {
		return nil, missingInput(err, "trailheads")
	}
	return t.Filter(ctx, sessionID, route, trailheads)
}

func missingInput(err error, what string) error {
	if errors.Is(err, domain.ErrArtifactNotFound) {
		return fmt.Errorf("%w: %s artifact does not exist", domain.ErrMissingInput, what)
	}
	return fmt.Errorf("load %s: %w", what, err)
}

// Filter returns the trailheads intersecting the buffer of at least one route
// feature, each at most once and in their original order. An empty result is
// not an error; it is not persisted and removes any earlier result.
func (t *TrailheadFilter) Filter(ctx context.Context, sessionID string, route, trailheads *domain.FeatureCollection) (*domain.FeatureCollection, error) {
	ctx, span := tracer.Start(ctx, "TrailheadFilter.Filter")
	defer span.End()

	if route.IsEmpty() || trailheads.IsEmpty() {
		return nil, fmt.Errorf("%w: route has %d features, trailheads has %d", domain.ErrEmptyInput, route.Len(), trailheads.Len())
	}

	idx := indexTrailheads(trailheads, t.buffer)
	matched := make(map[int]struct{})
	var candidates []orb.Pointer
	for _, f := range route.Features {
		if f.Geometry == nil {
			continue
		}
		buf := geospatial.NewBuffer(f.Geometry, t.buffer)
		candidates = idx.InBound(candidates[:0], buf.Bound())
		for _, c := range candidates {
			p := c.(indexedPoint)
			if _, ok := matched[p.feature]; ok {
				continue
			}
			if buf.Contains(p.Point()) {
				matched[p.feature] = struct{}{}
			}
		}
	}

	order := make([]int, 0, len(matched))
	for i := range matched {
		order = append(order, i)
	}
	sort.Ints(order)

	out := domain.NewFeatureCollection()
	for _, i := range order {
		out.Features = append(out.Features, trailheads.Features[i])
	}

	log := slog.With("session", sessionID, "buffer_degrees", t.buffer, "route_features", route.Len(), "trailheads", trailheads.Len())
	if out.IsEmpty() {
		log.WarnContext(ctx, "no trailheads found within buffer distance of the route")
		if err := t.store.Delete(ctx, sessionID, domain.ArtifactFilteredTrailheads); err != nil {
			return nil, fmt.Errorf("clear filtered trailheads: %w", err)
		}
		return out, nil
	}

	if err := t.store.SaveCollection(ctx, sessionID, domain.ArtifactFilteredTrailheads, out); err != nil {
		return nil, fmt.Errorf("persist filtered trailheads: %w", err)
	}
	notifyArtifact(ctx, t.events, sessionID, domain.ArtifactFilteredTrailheads, out.Len())
	log.InfoContext(ctx, "trailheads filtered", "kept", out.Len())
	return out, nil
}

// indexedPoint is a trailhead vertex tagged with the feature it belongs to.
type indexedPoint struct {
	p       orb.Point
	feature int
}

func (ip indexedPoint) Point() orb.Point { return ip.p }

func indexTrailheads(fc *domain.FeatureCollection, pad float64) *quadtree.Quadtree {
	var pts []indexedPoint
	bound := orb.Bound{Min: orb.Point{180, 90}, Max: orb.Point{-180, -90}}
	for i, f := range fc.Features {
		for _, p := range pointsOf(f) {
			pts = append(pts, indexedPoint{p: p, feature: i})
			bound = bound.Extend(p)
		}
	}
	qt := quadtree.New(bound.Pad(pad))
	for _, ip := range pts {
		_ = qt.Add(ip)
	}
	return qt
}

// pointsOf returns the points a trailhead feature can match on.
func pointsOf(f *geojson.Feature) []orb.Point {
	switch g := f.Geometry.(type) {
	case orb.Point:
		return []orb.Point{g}
	case orb.MultiPoint:
		return g
	}
	return nil
}
