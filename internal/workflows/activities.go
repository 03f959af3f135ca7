package workflows

import (
	"context"
	"fmt"

	"go.temporal.io/sdk/activity"

	"github.com/samirrijal/trailkit/internal/core/usecases"
)

// EnrichmentActivities holds the activity implementations for the
// enrichment workflow. Each activity is one pipeline stage; the route and
// trailheads travel between them as stored artifacts, only counts cross the
// workflow boundary.
type EnrichmentActivities struct {
	Pipeline *usecases.PipelineService
}

// BeginRun moves the session from pending to running.
func (a *EnrichmentActivities) BeginRun(ctx context.Context, sessionID string) error {
	return a.Pipeline.BeginRun(ctx, sessionID)
}

// AssembleRoute builds the session's final route and returns its feature count.
func (a *EnrichmentActivities) AssembleRoute(ctx context.Context, in EnrichmentInput) (int, error) {
	route, err := a.Pipeline.Assemble(ctx, in.SessionID, in.Workspace, in.SelectedIDs)
	if err != nil {
		return 0, err
	}
	activity.GetLogger(ctx).Info("route assembled", "session", in.SessionID, "features", route.Len())
	return route.Len(), nil
}

// EnrichRoute samples elevation and classifies slope along the stored route.
func (a *EnrichmentActivities) EnrichRoute(ctx context.Context, sessionID string) (int, error) {
	route, err := a.Pipeline.Enrich(ctx, sessionID)
	if err != nil {
		return 0, err
	}
	return route.Len(), nil
}

// FilterTrailheads keeps the trailheads near the route. A workspace without
// trailheads is not an error.
func (a *EnrichmentActivities) FilterTrailheads(ctx context.Context, sessionID, workspace string) (int, error) {
	return a.Pipeline.FilterTrailheadsIfPresent(ctx, sessionID, workspace)
}

// CompleteRun marks the session done.
func (a *EnrichmentActivities) CompleteRun(ctx context.Context, sessionID string) error {
	return a.Pipeline.CompleteRun(ctx, sessionID)
}

// FailRun marks the session failed (saga compensation).
func (a *EnrichmentActivities) FailRun(ctx context.Context, sessionID, reason string) error {
	if err := a.Pipeline.FailRun(ctx, sessionID, reason); err != nil {
		return fmt.Errorf("record failure of %s: %w", sessionID, err)
	}
	return nil
}
