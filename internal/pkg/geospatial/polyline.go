package geospatial

import (
	"github.com/paulmach/orb"
	"github.com/twpayne/go-polyline"
)

// EncodePolyline encodes lon/lat vertices as a Google encoded polyline.
func EncodePolyline(pts []orb.Point) string {
	if len(pts) == 0 {
		return ""
	}
	coords := make([][]float64, len(pts))
	for i, p := range pts {
		coords[i] = []float64{p.Lat(), p.Lon()}
	}
	return string(polyline.EncodeCoords(coords))
}

// DecodePolyline is the inverse of EncodePolyline.
func DecodePolyline(encoded string) ([]orb.Point, error) {
	coords, _, err := polyline.DecodeCoords([]byte(encoded))
	if err != nil {
		return nil, err
	}
	pts := make([]orb.Point, len(coords))
	for i, c := range coords {
		pts[i] = orb.Point{c[1], c[0]}
	}
	return pts, nil
}
