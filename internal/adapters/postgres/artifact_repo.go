package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/samirrijal/trailkit/internal/core/domain"
)

// ArtifactRepo implements ports.ArtifactStore on the artifacts table.
// Feature collections go into a jsonb column, the DEM into bytea.
type ArtifactRepo struct {
	db *DB
}

// NewArtifactRepo creates a new ArtifactRepo.
func NewArtifactRepo(db *DB) *ArtifactRepo {
	return &ArtifactRepo{db: db}
}

// SaveCollection upserts a GeoJSON artifact.
func (r *ArtifactRepo) SaveCollection(ctx context.Context, namespace, name string, fc *domain.FeatureCollection) error {
	data, err := fc.MarshalGeoJSON()
	if err != nil {
		return fmt.Errorf("encode %s/%s: %w", namespace, name, err)
	}
	_, err = r.db.Pool.Exec(ctx, `
		INSERT INTO artifacts (namespace, name, geojson, feature_count, updated_at)
		VALUES ($1, $2, $3::jsonb, $4, NOW())
		ON CONFLICT (namespace, name) DO UPDATE
		SET geojson = EXCLUDED.geojson, raster = NULL,
		    feature_count = EXCLUDED.feature_count, updated_at = NOW()
	`, namespace, name, string(data), fc.Len())
	if err != nil {
		return fmt.Errorf("save %s/%s: %w", namespace, name, err)
	}
	return nil
}

// LoadCollection reads a GeoJSON artifact back.
func (r *ArtifactRepo) LoadCollection(ctx context.Context, namespace, name string) (*domain.FeatureCollection, error) {
	var data []byte
	err := r.db.Pool.QueryRow(ctx, `
		SELECT geojson::text FROM artifacts
		WHERE namespace = $1 AND name = $2 AND geojson IS NOT NULL
	`, namespace, name).Scan(&data)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s/%s", domain.ErrArtifactNotFound, namespace, name)
	}
	if err != nil {
		return nil, fmt.Errorf("load %s/%s: %w", namespace, name, err)
	}
	return domain.DecodeFeatureCollection(data)
}

// SaveRaster stores the DEM bytes verbatim.
func (r *ArtifactRepo) SaveRaster(ctx context.Context, namespace string, data []byte) error {
	_, err := r.db.Pool.Exec(ctx, `
		INSERT INTO artifacts (namespace, name, raster, updated_at)
		VALUES ($1, $2, $3, NOW())
		ON CONFLICT (namespace, name) DO UPDATE
		SET raster = EXCLUDED.raster, geojson = NULL, updated_at = NOW()
	`, namespace, domain.ArtifactElevationRaster, data)
	if err != nil {
		return fmt.Errorf("save raster %s: %w", namespace, err)
	}
	return nil
}

// LoadRaster returns the stored DEM bytes.
func (r *ArtifactRepo) LoadRaster(ctx context.Context, namespace string) ([]byte, error) {
	var data []byte
	err := r.db.Pool.QueryRow(ctx, `
		SELECT raster FROM artifacts
		WHERE namespace = $1 AND name = $2 AND raster IS NOT NULL
	`, namespace, domain.ArtifactElevationRaster).Scan(&data)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s/%s", domain.ErrArtifactNotFound, namespace, domain.ArtifactElevationRaster)
	}
	if err != nil {
		return nil, fmt.Errorf("load raster %s: %w", namespace, err)
	}
	return data, nil
}

// List returns the names of the feature collections in namespace.
func (r *ArtifactRepo) List(ctx context.Context, namespace string) ([]string, error) {
	rows, err := r.db.Pool.Query(ctx, `
		SELECT name FROM artifacts
		WHERE namespace = $1 AND geojson IS NOT NULL
		ORDER BY name
	`, namespace)
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", namespace, err)
	}
	names, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, err
	}
	if names == nil {
		names = []string{}
	}
	return names, nil
}

// Delete removes an artifact. Deleting an absent one affects no rows.
func (r *ArtifactRepo) Delete(ctx context.Context, namespace, name string) error {
	if _, err := r.db.Pool.Exec(ctx, `
		DELETE FROM artifacts WHERE namespace = $1 AND name = $2
	`, namespace, name); err != nil {
		return fmt.Errorf("delete %s/%s: %w", namespace, name, err)
	}
	return nil
}
