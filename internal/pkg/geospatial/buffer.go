package geospatial

import (
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/planar"
)

// boundaryEpsilon absorbs rounding when a point sits exactly on the buffer edge.
const boundaryEpsilon = 1e-12

// Buffer is the planar region within Distance of a geometry, in the
// geometry's own units. It is not geodesically corrected.
type Buffer struct {
	geom  orb.Geometry
	dist  float64
	bound orb.Bound
}

// NewBuffer expands g by distance.
func NewBuffer(g orb.Geometry, distance float64) Buffer {
	return Buffer{geom: g, dist: distance, bound: g.Bound().Pad(distance)}
}

// Bound is the geometry's bound padded by the buffer distance.
func (b Buffer) Bound() orb.Bound {
	return b.bound
}

// Contains reports whether p lies in the buffer, boundary included.
func (b Buffer) Contains(p orb.Point) bool {
	if b.geom == nil || !b.bound.Contains(p) {
		return false
	}
	return distanceSquared(b.geom, p) <= b.dist*b.dist+boundaryEpsilon
}

func distanceSquared(g orb.Geometry, p orb.Point) float64 {
	switch geom := g.(type) {
	case orb.Point:
		return planar.DistanceSquared(geom, p)
	case orb.MultiPoint:
		best := -1.0
		for _, q := range geom {
			best = minDist(best, planar.DistanceSquared(q, p))
		}
		return orInf(best)
	case orb.LineString:
		return lineDistanceSquared(geom, p)
	case orb.MultiLineString:
		best := -1.0
		for _, ls := range geom {
			best = minDist(best, lineDistanceSquared(ls, p))
		}
		return orInf(best)
	case orb.Ring:
		return lineDistanceSquared(orb.LineString(geom), p)
	case orb.Polygon:
		if planar.PolygonContains(geom, p) {
			return 0
		}
		best := -1.0
		for _, r := range geom {
			best = minDist(best, lineDistanceSquared(orb.LineString(r), p))
		}
		return orInf(best)
	case orb.MultiPolygon:
		best := -1.0
		for _, poly := range geom {
			best = minDist(best, distanceSquared(poly, p))
		}
		return orInf(best)
	case orb.Collection:
		best := -1.0
		for _, sub := range geom {
			best = minDist(best, distanceSquared(sub, p))
		}
		return orInf(best)
	case orb.Bound:
		return distanceSquared(geom.ToPolygon(), p)
	}
	return inf
}

func lineDistanceSquared(ls orb.LineString, p orb.Point) float64 {
	switch len(ls) {
	case 0:
		return inf
	case 1:
		return planar.DistanceSquared(ls[0], p)
	}
	best := -1.0
	for i := 1; i < len(ls); i++ {
		best = minDist(best, planar.DistanceFromSegmentSquared(ls[i-1], ls[i], p))
	}
	return best
}

const inf = 1e308

func minDist(best, d float64) float64 {
	if best < 0 || d < best {
		return d
	}
	return best
}

func orInf(d float64) float64 {
	if d < 0 {
		return inf
	}
	return d
}
