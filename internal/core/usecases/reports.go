package usecases

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math"
	"sort"
	"strings"

	"github.com/samirrijal/trailkit/internal/core/domain"
	"github.com/samirrijal/trailkit/internal/pkg/export"
	"github.com/samirrijal/trailkit/internal/pkg/geospatial"
)

// Adventure is everything a client needs to draw a finished session.
type Adventure struct {
	Trails     *domain.FeatureCollection `json:"trails"`
	Trailheads *domain.FeatureCollection `json:"trailheads"`
}

// SavedLayers lists the layer artifacts stored in a workspace.
func (p *PipelineService) SavedLayers(ctx context.Context, workspace string) ([]string, error) {
	if err := domain.ValidateNamespace(workspace); err != nil {
		return nil, err
	}
	names, err := p.store.List(ctx, workspace)
	if err != nil {
		return nil, err
	}
	sort.Strings(names)
	return names, nil
}

// LoadLayer returns one stored layer of a workspace.
func (p *PipelineService) LoadLayer(ctx context.Context, workspace, layer string) (*domain.FeatureCollection, error) {
	if err := domain.ValidateNamespace(workspace); err != nil {
		return nil, err
	}
	return p.store.LoadCollection(ctx, workspace, layer)
}

// finishedSession returns the session if its route is fully enriched. Other
// states fail with domain.ErrSessionConflict; a failed session's reason is
// part of the error.
func (p *PipelineService) finishedSession(ctx context.Context, sessionID string) (*domain.ProcessingSession, error) {
	s, err := p.sessions.Get(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	switch s.State {
	case domain.SessionDone:
		return s, nil
	case domain.SessionFailed:
		return nil, fmt.Errorf("%w: session %s failed: %s", domain.ErrSessionConflict, sessionID, s.Reason)
	}
	return nil, fmt.Errorf("%w: session %s is %s", domain.ErrSessionConflict, sessionID, s.State)
}

// Adventure returns the session's final route and its filtered trailheads.
// A session without nearby trailheads yields an empty trailhead collection.
// Only done sessions have one.
func (p *PipelineService) Adventure(ctx context.Context, sessionID string) (*Adventure, error) {
	if _, err := p.finishedSession(ctx, sessionID); err != nil {
		return nil, err
	}
	route, err := p.store.LoadCollection(ctx, sessionID, domain.ArtifactFinalRoute)
	if err != nil {
		return nil, err
	}
	trailheads, err := p.store.LoadCollection(ctx, sessionID, domain.ArtifactFilteredTrailheads)
	if errors.Is(err, domain.ErrArtifactNotFound) {
		trailheads, err = domain.NewFeatureCollection(), nil
	}
	if err != nil {
		return nil, err
	}
	return &Adventure{Trails: route, Trailheads: trailheads}, nil
}

// Summary condenses the session's route into one entry per segment.
func (p *PipelineService) Summary(ctx context.Context, sessionID string) ([]domain.SegmentSummary, error) {
	if _, err := p.finishedSession(ctx, sessionID); err != nil {
		return nil, err
	}
	route, err := p.store.LoadCollection(ctx, sessionID, domain.ArtifactFinalRoute)
	if err != nil {
		return nil, err
	}
	return p.SummarizeRoute(route), nil
}

// SummarizeRoute condenses any route, enriched or not, into segments.
// Attributes a feature lacks are left zero.
func (p *PipelineService) SummarizeRoute(route *domain.FeatureCollection) []domain.SegmentSummary {
	idFields, nameFields := p.attributeFields()
	out := make([]domain.SegmentSummary, 0, route.Len())
	for _, f := range route.Features {
		s := domain.SegmentSummary{
			ID:   featureName(f, idFields...),
			Name: featureName(f, nameFields...),
		}
		if v, ok := f.Properties[domain.AttrSlope].(float64); ok {
			s.Slope = math.Round(v*100) / 100
		}
		if v, ok := f.Properties[domain.AttrDifficulty].(string); ok {
			s.Difficulty = domain.Difficulty(v)
		}
		if v, ok := f.Properties[domain.AttrLengthMiles].(float64); ok {
			s.LengthMi = v
		} else {
			s.LengthMi = geospatial.LengthMiles(f.Geometry)
		}
		if pts := domain.LineCoordinates(f.Geometry); len(pts) > 0 {
			s.Polyline = geospatial.EncodePolyline(pts)
		}
		out = append(out, s)
	}
	return out
}

// RouteKML writes the session's route and trailheads as a KML document.
func (p *PipelineService) RouteKML(ctx context.Context, sessionID string, w io.Writer) error {
	adv, err := p.Adventure(ctx, sessionID)
	if err != nil {
		return err
	}
	_, nameFields := p.attributeFields()
	if spec, ok := p.layers.ByRole(domain.RoleTrailheads); ok && spec.NameField != "" {
		nameFields = append([]string{spec.NameField}, nameFields...)
	}
	doc := export.RouteDocument{
		Title:      fmt.Sprintf("Adventure %s", sessionID),
		Route:      adv.Trails.Features,
		Trailheads: adv.Trailheads.Features,
		Name: func(props map[string]interface{}) string {
			for _, field := range nameFields {
				if s, ok := domain.AttributeString(props[field]); ok && strings.TrimSpace(s) != "" {
					return s
				}
			}
			return ""
		},
	}
	return doc.WriteKML(w)
}

// attributeFields returns the id and name attributes to look for on route
// features, catalog-declared fields first.
func (p *PipelineService) attributeFields() (ids, names []string) {
	for _, role := range []domain.LayerRole{domain.RoleTrails, domain.RoleRoads} {
		if spec, ok := p.layers.ByRole(role); ok {
			ids = append(ids, spec.IDField)
			names = append(names, spec.NameField)
		}
	}
	ids = append(ids, "id", "ID", "OBJECTID")
	names = append(names, "name", "NAME", "TRAIL_NAME")
	return ids, names
}
