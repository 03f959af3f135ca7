package config

import (
	"fmt"

	"github.com/BurntSushi/toml"

	"github.com/samirrijal/trailkit/internal/core/domain"
)

type layerFile struct {
	Layers []domain.LayerSpec `toml:"layer"`
}

// LoadLayers reads the layer catalog from a TOML file of [[layer]] tables.
func LoadLayers(path string) (domain.LayerCatalog, error) {
	var f layerFile
	if _, err := toml.DecodeFile(path, &f); err != nil {
		return nil, fmt.Errorf("read layer catalog %s: %w", path, err)
	}
	return buildCatalog(f.Layers)
}

// ParseLayers decodes a catalog from TOML text.
func ParseLayers(data string) (domain.LayerCatalog, error) {
	var f layerFile
	if _, err := toml.Decode(data, &f); err != nil {
		return nil, fmt.Errorf("parse layer catalog: %w", err)
	}
	return buildCatalog(f.Layers)
}

func buildCatalog(layers []domain.LayerSpec) (domain.LayerCatalog, error) {
	if len(layers) == 0 {
		return nil, fmt.Errorf("layer catalog is empty")
	}
	seen := make(map[string]bool, len(layers))
	for _, l := range layers {
		if err := l.Validate(); err != nil {
			return nil, err
		}
		if err := domain.ValidateNamespace(l.Name); err != nil {
			return nil, fmt.Errorf("layer %s: %w", l.Name, err)
		}
		if seen[l.Name] {
			return nil, fmt.Errorf("layer %s is defined twice", l.Name)
		}
		seen[l.Name] = true
	}
	return domain.LayerCatalog(layers), nil
}
