package domain

import "github.com/paulmach/orb"

// Attributes written onto route features during enrichment.
const (
	AttrSlope       = "Slope"
	AttrDifficulty  = "Difficulty"
	AttrLengthMiles = "Length_mi"
)

// Difficulty is a discrete rating derived from mean slope.
type Difficulty string

const (
	Easy      Difficulty = "Easy"
	Moderate  Difficulty = "Moderate"
	Difficult Difficulty = "Difficult"
)

// Slope thresholds, in percent.
const (
	ModerateSlope  = 5.0
	DifficultSlope = 10.0
)

// ClassifySlope maps a slope percentage onto a difficulty rating.
func ClassifySlope(slope float64) Difficulty {
	switch {
	case slope < ModerateSlope:
		return Easy
	case slope < DifficultSlope:
		return Moderate
	default:
		return Difficult
	}
}

// ElevationSamples holds one ordered elevation list per route feature.
type ElevationSamples [][]float64

// LineCoordinates flattens a LineString or MultiLineString into its vertices,
// in order. Other geometry types have no line vertices.
func LineCoordinates(g orb.Geometry) []orb.Point {
	switch geom := g.(type) {
	case orb.LineString:
		return append([]orb.Point(nil), geom...)
	case orb.MultiLineString:
		var pts []orb.Point
		for _, ls := range geom {
			pts = append(pts, ls...)
		}
		return pts
	}
	return nil
}

// SegmentSummary is the compact per-feature view of an enriched route.
type SegmentSummary struct {
	ID         string     `json:"id,omitempty"`
	Name       string     `json:"name,omitempty"`
	Slope      float64    `json:"slope"`
	Difficulty Difficulty `json:"difficulty"`
	LengthMi   float64    `json:"length_mi"`
	Polyline   string     `json:"polyline,omitempty"`
}
