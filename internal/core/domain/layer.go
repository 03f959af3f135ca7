package domain

import (
	"fmt"
	"strings"
)

// LayerRole tells the pipeline what a fetched layer is used for.
type LayerRole string

const (
	RoleTrails     LayerRole = "trails"
	RoleRoads      LayerRole = "roads"
	RoleTrailheads LayerRole = "trailheads"
)

// LayerSpec describes one remote feature layer. Name doubles as the artifact
// name the fetched collection is stored under.
type LayerSpec struct {
	Name       string    `json:"name" toml:"name"`
	Title      string    `json:"title,omitempty" toml:"title"`
	Role       LayerRole `json:"role" toml:"role"`
	ServiceURL string    `json:"service_url" toml:"service_url"`
	Fields     []string  `json:"fields" toml:"fields"`
	Where      string    `json:"where,omitempty" toml:"where"`
	IDField    string    `json:"id_field,omitempty" toml:"id_field"`
	NameField  string    `json:"name_field,omitempty" toml:"name_field"`
}

// FilterPredicate returns the attribute filter sent with every query.
func (l LayerSpec) FilterPredicate() string {
	if strings.TrimSpace(l.Where) == "" {
		return "1=1"
	}
	return l.Where
}

// Validate checks that the layer can be queried.
func (l LayerSpec) Validate() error {
	switch {
	case l.Name == "":
		return fmt.Errorf("layer name is required")
	case l.ServiceURL == "":
		return fmt.Errorf("layer %s: service_url is required", l.Name)
	}
	switch l.Role {
	case RoleTrails, RoleRoads, RoleTrailheads:
	default:
		return fmt.Errorf("layer %s: unknown role %q", l.Name, l.Role)
	}
	return nil
}

// LayerCatalog is the ordered, immutable set of layers loaded at startup.
type LayerCatalog []LayerSpec

// ByRole returns the first layer with the given role.
func (c LayerCatalog) ByRole(role LayerRole) (LayerSpec, bool) {
	for _, l := range c {
		if l.Role == role {
			return l, true
		}
	}
	return LayerSpec{}, false
}

// ByName looks a layer up by name.
func (c LayerCatalog) ByName(name string) (LayerSpec, bool) {
	for _, l := range c {
		if l.Name == name {
			return l, true
		}
	}
	return LayerSpec{}, false
}
