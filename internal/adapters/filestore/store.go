// Package filestore keeps pipeline artifacts on the local filesystem:
// <root>/<namespace>/<name>.geojson for feature collections and
// <root>/<namespace>/elevation.tif for the DEM.
package filestore

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/samirrijal/trailkit/internal/core/domain"
)

const collectionExt = ".geojson"

// Store implements ports.ArtifactStore on a directory tree.
type Store struct {
	root string
}

// New creates the root directory if needed.
func New(root string) (*Store, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("create artifact root: %w", err)
	}
	return &Store{root: root}, nil
}

// Root returns the base directory.
func (s *Store) Root() string { return s.root }

func (s *Store) path(namespace, file string) (string, error) {
	if err := domain.ValidateNamespace(namespace); err != nil {
		return "", err
	}
	if err := domain.ValidateNamespace(file); err != nil {
		return "", err
	}
	return filepath.Join(s.root, namespace, file), nil
}

func (s *Store) SaveCollection(ctx context.Context, namespace, name string, fc *domain.FeatureCollection) error {
	p, err := s.path(namespace, name+collectionExt)
	if err != nil {
		return err
	}
	data, err := fc.MarshalGeoJSON()
	if err != nil {
		return fmt.Errorf("encode %s/%s: %w", namespace, name, err)
	}
	return writeAtomic(p, data)
}

func (s *Store) LoadCollection(ctx context.Context, namespace, name string) (*domain.FeatureCollection, error) {
	p, err := s.path(namespace, name+collectionExt)
	if err != nil {
		return nil, err
	}
	data, err := read(p)
	if err != nil {
		return nil, fmt.Errorf("%s/%s: %w", namespace, name, err)
	}
	return domain.DecodeFeatureCollection(data)
}

func (s *Store) SaveRaster(ctx context.Context, namespace string, data []byte) error {
	p, err := s.path(namespace, domain.ArtifactElevationRaster)
	if err != nil {
		return err
	}
	return writeAtomic(p, data)
}

func (s *Store) LoadRaster(ctx context.Context, namespace string) ([]byte, error) {
	p, err := s.path(namespace, domain.ArtifactElevationRaster)
	if err != nil {
		return nil, err
	}
	data, err := read(p)
	if err != nil {
		return nil, fmt.Errorf("%s/%s: %w", namespace, domain.ArtifactElevationRaster, err)
	}
	return data, nil
}

// List returns the sorted names of the collections saved in namespace. An
// unknown namespace is empty, not an error.
func (s *Store) List(ctx context.Context, namespace string) ([]string, error) {
	if err := domain.ValidateNamespace(namespace); err != nil {
		return nil, err
	}
	entries, err := os.ReadDir(filepath.Join(s.root, namespace))
	if errors.Is(err, fs.ErrNotExist) {
		return []string{}, nil
	}
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), collectionExt) {
			continue
		}
		names = append(names, strings.TrimSuffix(e.Name(), collectionExt))
	}
	sort.Strings(names)
	return names, nil
}

// Delete removes a feature collection. A missing file is not an error.
func (s *Store) Delete(ctx context.Context, namespace, name string) error {
	p, err := s.path(namespace, name+collectionExt)
	if err != nil {
		return err
	}
	if err := os.Remove(p); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("delete %s/%s: %w", namespace, name, err)
	}
	return nil
}

func read(p string) ([]byte, error) {
	data, err := os.ReadFile(p)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, domain.ErrArtifactNotFound
	}
	return data, err
}

// writeAtomic writes through a temp file in the same directory so readers
// never observe a partial artifact.
func writeAtomic(p string, data []byte) error {
	dir := filepath.Dir(p)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(dir, ".tmp-*")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), p)
}
