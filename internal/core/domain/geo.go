package domain

import (
	"fmt"
	"math"

	"github.com/paulmach/orb"
)

// GeoPoint represents a geographic coordinate (WGS 84).
type GeoPoint struct {
	Lat float64 `json:"lat"`
	Lon float64 `json:"lon"`
}

// BoundingBox is an axis-aligned box in geographic degrees.
type BoundingBox struct {
	MinX float64 `json:"min_x"`
	MinY float64 `json:"min_y"`
	MaxX float64 `json:"max_x"`
	MaxY float64 `json:"max_y"`
}

// ParseBoundingBox builds a box from [minX, minY, maxX, maxY] and validates it.
func ParseBoundingBox(values []float64) (BoundingBox, error) {
	if len(values) != 4 {
		return BoundingBox{}, fmt.Errorf("%w: bbox needs 4 values [minX, minY, maxX, maxY], got %d", ErrInvalidInput, len(values))
	}
	b := BoundingBox{MinX: values[0], MinY: values[1], MaxX: values[2], MaxY: values[3]}
	if err := b.Validate(); err != nil {
		return BoundingBox{}, err
	}
	return b, nil
}

// Validate enforces minX < maxX and minY < maxY within geographic ranges.
func (b BoundingBox) Validate() error {
	for _, v := range []float64{b.MinX, b.MinY, b.MaxX, b.MaxY} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return fmt.Errorf("%w: bbox contains a non-finite value", ErrInvalidInput)
		}
	}
	if b.MinX < -180 || b.MaxX > 180 || b.MinY < -90 || b.MaxY > 90 {
		return fmt.Errorf("%w: bbox %s is outside geographic range", ErrInvalidInput, b)
	}
	if b.MinX >= b.MaxX || b.MinY >= b.MaxY {
		return fmt.Errorf("%w: bbox %s must satisfy minX < maxX and minY < maxY", ErrInvalidInput, b)
	}
	return nil
}

// Bound converts the box to an orb.Bound.
func (b BoundingBox) Bound() orb.Bound {
	return orb.Bound{Min: orb.Point{b.MinX, b.MinY}, Max: orb.Point{b.MaxX, b.MaxY}}
}

// Centroid returns the center of the box.
func (b BoundingBox) Centroid() GeoPoint {
	return GeoPoint{Lat: (b.MinY + b.MaxY) / 2, Lon: (b.MinX + b.MaxX) / 2}
}

func (b BoundingBox) String() string {
	return fmt.Sprintf("[%g,%g,%g,%g]", b.MinX, b.MinY, b.MaxX, b.MaxY)
}

// Envelope is the geographic extent of a route, as requested from a DEM provider.
type Envelope struct {
	North float64 `json:"north"`
	South float64 `json:"south"`
	East  float64 `json:"east"`
	West  float64 `json:"west"`
}
