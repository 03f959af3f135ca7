package usecases

import (
	"context"
	"fmt"
	"log/slog"
	"math"

	"github.com/paulmach/orb/geojson"

	"github.com/samirrijal/trailkit/internal/core/domain"
	"github.com/samirrijal/trailkit/internal/core/ports"
)

// DefaultHorizontalResolution is the fixed run, in meters, between a segment's
// elevation samples. It is a constant of the slope formula, not the DEM's
// native spacing (SRTMGL3 cells are about 90 m).
const DefaultHorizontalResolution = 30.0

// SlopeClassifier turns elevation samples into Slope and Difficulty attributes.
type SlopeClassifier struct {
	store      ports.ArtifactStore
	events     ports.EventPublisher
	resolution float64
}

// NewSlopeClassifier creates a SlopeClassifier. A non-positive resolution
// falls back to DefaultHorizontalResolution.
func NewSlopeClassifier(store ports.ArtifactStore, events ports.EventPublisher, resolution float64) *SlopeClassifier {
	if resolution <= 0 {
		resolution = DefaultHorizontalResolution
	}
	return &SlopeClassifier{store: store, events: events, resolution: resolution}
}

// MeanSlope is the mean absolute grade, in percent, between consecutive
// samples. Fewer than two samples give 0.
func MeanSlope(elevations []float64, resolution float64) float64 {
	if len(elevations) < 2 {
		return 0
	}
	var sum float64
	for i := 1; i < len(elevations); i++ {
		sum += math.Abs(elevations[i]-elevations[i-1]) / resolution * 100
	}
	return sum / float64(len(elevations)-1)
}

// Classify writes Slope and Difficulty onto each route feature and replaces
// the session's final route artifact. samples[i] belongs to route.Features[i].
func (c *SlopeClassifier) Classify(ctx context.Context, sessionID string, route *domain.FeatureCollection, samples domain.ElevationSamples) (*domain.FeatureCollection, error) {
	ctx, span := tracer.Start(ctx, "SlopeClassifier.Classify")
	defer span.End()

	if len(samples) != route.Len() {
		return nil, fmt.Errorf("%w: %d elevation lists for %d route features", domain.ErrInvalidInput, len(samples), route.Len())
	}

	counts := make(map[domain.Difficulty]int)
	for i, f := range route.Features {
		slope := MeanSlope(samples[i], c.resolution)
		difficulty := domain.ClassifySlope(slope)
		if f.Properties == nil {
			f.Properties = geojson.Properties{}
		}
		f.Properties[domain.AttrSlope] = slope
		f.Properties[domain.AttrDifficulty] = string(difficulty)
		counts[difficulty]++
	}

	if err := c.store.SaveCollection(ctx, sessionID, domain.ArtifactFinalRoute, route); err != nil {
		return nil, fmt.Errorf("persist classified route: %w", err)
	}
	notifyArtifact(ctx, c.events, sessionID, domain.ArtifactFinalRoute, route.Len())

	slog.InfoContext(ctx, "route classified",
		"session", sessionID,
		"easy", counts[domain.Easy],
		"moderate", counts[domain.Moderate],
		"difficult", counts[domain.Difficult],
	)
	return route, nil
}
