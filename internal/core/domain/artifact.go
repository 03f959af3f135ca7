package domain

import (
	"fmt"
	"regexp"
)

// Well-known artifact names. Fetched layers are stored under their LayerSpec
// name inside a workspace; the rest live inside the session namespace.
const (
	ArtifactFinalRoute         = "final_route"
	ArtifactFilteredTrailheads = "filtered_trailheads"
	ArtifactElevationRaster    = "elevation.tif"
)

var namespacePattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9_.-]{0,127}$`)

// ValidateNamespace guards artifact paths built from request input.
func ValidateNamespace(ns string) error {
	if !namespacePattern.MatchString(ns) || ns == "." || ns == ".." {
		return fmt.Errorf("%w: invalid namespace %q", ErrInvalidInput, ns)
	}
	return nil
}
