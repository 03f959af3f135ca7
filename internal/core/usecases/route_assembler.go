package usecases

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/paulmach/orb/geojson"

	"github.com/samirrijal/trailkit/internal/core/domain"
	"github.com/samirrijal/trailkit/internal/core/ports"
	"github.com/samirrijal/trailkit/internal/pkg/geospatial"
)

// AssemblyInput is the selection handed to RouteAssembler. TrailIDField and
// RoadIDField come from the layer catalog; when either is empty the field is
// detected from the data instead.
type AssemblyInput struct {
	Trails       *domain.FeatureCollection
	Roads        *domain.FeatureCollection
	TrailIDField string
	RoadIDField  string
	SelectedIDs  []string
}

// RouteAssembler merges the selected trail and road segments into one route.
type RouteAssembler struct {
	store  ports.ArtifactStore
	events ports.EventPublisher
}

// NewRouteAssembler creates a RouteAssembler.
func NewRouteAssembler(store ports.ArtifactStore, events ports.EventPublisher) *RouteAssembler {
	return &RouteAssembler{store: store, events: events}
}

// Assemble filters both collections to the selected ids, concatenates them and
// stores the result as the session's final route.
func (a *RouteAssembler) Assemble(ctx context.Context, sessionID string, in AssemblyInput) (*domain.FeatureCollection, error) {
	ctx, span := tracer.Start(ctx, "RouteAssembler.Assemble")
	defer span.End()

	selected := make(map[string]struct{}, len(in.SelectedIDs))
	for _, id := range in.SelectedIDs {
		selected[id] = struct{}{}
	}
	if len(selected) == 0 {
		return nil, fmt.Errorf("%w: no segments selected", domain.ErrInvalidInput)
	}

	trailField, roadField, err := resolveIDFields(in)
	if err != nil {
		return nil, err
	}

	trails := selectByID(in.Trails, trailField, selected)
	roads := selectByID(in.Roads, roadField, selected)

	for _, fc := range []*domain.FeatureCollection{trails, roads} {
		if err := fc.Normalize(); err != nil {
			return nil, err
		}
	}
	route := domain.Concat(trails, roads)
	for _, f := range route.Features {
		f.Properties[domain.AttrLengthMiles] = geospatial.LengthMiles(f.Geometry)
	}

	if err := a.store.SaveCollection(ctx, sessionID, domain.ArtifactFinalRoute, route); err != nil {
		return nil, fmt.Errorf("persist final route: %w", err)
	}
	notifyArtifact(ctx, a.events, sessionID, domain.ArtifactFinalRoute, route.Len())

	slog.InfoContext(ctx, "route assembled",
		"session", sessionID,
		"trails", trails.Len(),
		"roads", roads.Len(),
		"trail_id_field", trailField,
		"road_id_field", roadField,
	)
	return route, nil
}

func resolveIDFields(in AssemblyInput) (trailField, roadField string, err error) {
	trailField, roadField = in.TrailIDField, in.RoadIDField
	if trailField != "" && roadField != "" {
		return trailField, roadField, nil
	}

	detected := DetectIDField(in.Trails, in.Roads)
	if detected == "" {
		return "", "", domain.ErrNoIdentifierField
	}
	if trailField == "" {
		trailField = detected
	}
	if roadField == "" {
		roadField = detected
	}
	return trailField, roadField, nil
}

// idFieldCandidates are matched case-insensitively, in this order.
var idFieldCandidates = []string{"id", "objectid"}

// DetectIDField is the compatibility path for layers that do not declare an
// id field. Collections are scanned in the given order; the first collection
// exposing an "id" or "objectid" attribute decides the field for all of them.
// It returns "" when none does.
func DetectIDField(collections ...*domain.FeatureCollection) string {
	for _, c := range collections {
		fields := c.Fields()
		for _, candidate := range idFieldCandidates {
			for _, f := range fields {
				if strings.EqualFold(f, candidate) {
					return f
				}
			}
		}
	}
	return ""
}

// selectByID keeps features whose id attribute, rendered as a string,
// exactly matches one of the selected ids.
func selectByID(fc *domain.FeatureCollection, field string, selected map[string]struct{}) *domain.FeatureCollection {
	out := domain.NewFeatureCollection()
	if fc.IsEmpty() {
		return out
	}
	out.CRS = fc.CRS
	for _, f := range fc.Features {
		id, ok := domain.AttributeString(f.Properties[field])
		if !ok {
			continue
		}
		if _, hit := selected[id]; hit {
			out.Features = append(out.Features, f)
		}
	}
	return out
}

// featureName picks a display name from the first populated attribute.
func featureName(f *geojson.Feature, fields ...string) string {
	for _, field := range fields {
		if field == "" {
			continue
		}
		if s, ok := domain.AttributeString(f.Properties[field]); ok && s != "" {
			return s
		}
	}
	return ""
}
