package geospatial

import (
	"math"

	"github.com/golang/geo/s2"
	"github.com/paulmach/orb"
)

const (
	earthRadiusKm = 6371.0
	metersPerMile = 1609.344
)

// Haversine calculates the great-circle distance in meters between two points.
func Haversine(lat1, lon1, lat2, lon2 float64) float64 {
	dLat := toRad(lat2 - lat1)
	dLon := toRad(lon2 - lon1)

	a := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(toRad(lat1))*math.Cos(toRad(lat2))*
			math.Sin(dLon/2)*math.Sin(dLon/2)

	c := 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))
	return earthRadiusKm * c * 1000 // meters
}

// DegreesToMeters approximates the ground distance covered by a planar offset
// of deg degrees at the given latitude, as {north-south, east-west}.
func DegreesToMeters(lat, deg float64) (ns, ew float64) {
	ns = Haversine(lat, 0, lat+deg, 0)
	ew = Haversine(lat, 0, lat, deg)
	return ns, ew
}

// LengthMeters returns the geodesic length of a vertex sequence (lon/lat).
func LengthMeters(pts []orb.Point) float64 {
	var total float64
	for i := 1; i < len(pts); i++ {
		a := s2.LatLngFromDegrees(pts[i-1].Lat(), pts[i-1].Lon())
		b := s2.LatLngFromDegrees(pts[i].Lat(), pts[i].Lon())
		total += a.Distance(b).Radians() * earthRadiusKm * 1000
	}
	return total
}

// LengthMiles returns the geodesic length of a line geometry in miles,
// rounded to two decimals. Multi-part lines are summed part by part.
func LengthMiles(g orb.Geometry) float64 {
	var meters float64
	switch geom := g.(type) {
	case orb.LineString:
		meters = LengthMeters(geom)
	case orb.MultiLineString:
		for _, ls := range geom {
			meters += LengthMeters(ls)
		}
	}
	return math.Round(meters/metersPerMile*100) / 100
}

func toRad(deg float64) float64 {
	return deg * math.Pi / 180
}
