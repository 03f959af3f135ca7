package ports

import (
	"context"

	"github.com/samirrijal/trailkit/internal/core/domain"
)

// ArtifactStore persists the hand-off artifacts between pipeline stages.
// Namespaces are workspace ids (fetched layers) or session ids (route,
// raster, filtered trailheads). Loads of absent artifacts return
// domain.ErrArtifactNotFound; deleting one is a no-op.
type ArtifactStore interface {
	SaveCollection(ctx context.Context, namespace, name string, fc *domain.FeatureCollection) error
	LoadCollection(ctx context.Context, namespace, name string) (*domain.FeatureCollection, error)
	SaveRaster(ctx context.Context, namespace string, data []byte) error
	LoadRaster(ctx context.Context, namespace string) ([]byte, error)
	List(ctx context.Context, namespace string) ([]string, error)
	Delete(ctx context.Context, namespace, name string) error
}

// SessionRepository stores processing sessions. Transition is an atomic
// compare-and-set: it fails with domain.ErrSessionConflict unless the stored
// state equals from.
type SessionRepository interface {
	Create(ctx context.Context, s *domain.ProcessingSession) error
	Get(ctx context.Context, id string) (*domain.ProcessingSession, error)
	Transition(ctx context.Context, id string, from, to domain.SessionState, reason string) (*domain.ProcessingSession, error)
	// List pages through sessions newest first. A non-positive limit
	// returns everything from offset on.
	List(ctx context.Context, limit, offset int) ([]domain.ProcessingSession, error)
	Count(ctx context.Context) (int, error)
}
