// Package export renders enriched routes in formats other than GeoJSON.
package export

import (
	"fmt"
	"image/color"
	"io"
	"strings"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
	"github.com/twpayne/go-kml"
)

var difficultyColors = map[string]color.Color{
	"Easy":      color.RGBA{R: 0x2e, G: 0x7d, B: 0x32, A: 0xff},
	"Moderate":  color.RGBA{R: 0xf9, G: 0xa8, B: 0x25, A: 0xff},
	"Difficult": color.RGBA{R: 0xc6, G: 0x28, B: 0x28, A: 0xff},
}

// RouteDocument is a route plus its trailheads, ready to be written as KML.
type RouteDocument struct {
	Title      string
	Route      []*geojson.Feature
	Trailheads []*geojson.Feature
	// Name picks a display name from feature attributes. Optional.
	Name func(props map[string]interface{}) string
}

// WriteKML writes the document. Route segments are styled by their
// Difficulty attribute; trailheads become point placemarks.
func (d RouteDocument) WriteKML(w io.Writer) error {
	children := []kml.Element{kml.Name(d.Title)}
	for _, difficulty := range []string{"Easy", "Moderate", "Difficult"} {
		children = append(children, kml.SharedStyle(styleID(difficulty),
			kml.LineStyle(
				kml.Color(difficultyColors[difficulty]),
				kml.Width(4),
			),
		))
	}

	segments := []kml.Element{kml.Name("Route")}
	for i, f := range d.Route {
		if pm := d.segmentPlacemark(i, f); pm != nil {
			segments = append(segments, pm)
		}
	}
	children = append(children, kml.Folder(segments...))

	if len(d.Trailheads) > 0 {
		heads := []kml.Element{kml.Name("Trailheads")}
		for i, f := range d.Trailheads {
			if pm := d.trailheadPlacemark(i, f); pm != nil {
				heads = append(heads, pm)
			}
		}
		children = append(children, kml.Folder(heads...))
	}

	return kml.KML(kml.Document(children...)).WriteIndent(w, "", "  ")
}

func (d RouteDocument) segmentPlacemark(i int, f *geojson.Feature) kml.Element {
	var lines []orb.LineString
	switch g := f.Geometry.(type) {
	case orb.LineString:
		lines = []orb.LineString{g}
	case orb.MultiLineString:
		lines = g
	default:
		return nil
	}

	name := d.name(f, fmt.Sprintf("Segment %d", i+1))
	difficulty, _ := f.Properties["Difficulty"].(string)
	var desc []string
	if difficulty != "" {
		desc = append(desc, "Difficulty: "+difficulty)
	}
	if slope, ok := f.Properties["Slope"].(float64); ok {
		desc = append(desc, fmt.Sprintf("Slope: %.2f%%", slope))
	}
	if miles, ok := f.Properties["Length_mi"].(float64); ok {
		desc = append(desc, fmt.Sprintf("Length: %.2f mi", miles))
	}

	children := []kml.Element{kml.Name(name)}
	if len(desc) > 0 {
		children = append(children, kml.Description(strings.Join(desc, "\n")))
	}
	if _, ok := difficultyColors[difficulty]; ok {
		children = append(children, kml.StyleURL("#"+styleID(difficulty)))
	}

	if len(lines) == 1 {
		children = append(children, lineString(lines[0]))
	} else {
		geoms := make([]kml.Element, 0, len(lines))
		for _, ls := range lines {
			geoms = append(geoms, lineString(ls))
		}
		children = append(children, kml.MultiGeometry(geoms...))
	}
	return kml.Placemark(children...)
}

func (d RouteDocument) trailheadPlacemark(i int, f *geojson.Feature) kml.Element {
	p, ok := f.Geometry.(orb.Point)
	if !ok {
		mp, isMulti := f.Geometry.(orb.MultiPoint)
		if !isMulti || len(mp) == 0 {
			return nil
		}
		p = mp[0]
	}
	return kml.Placemark(
		kml.Name(d.name(f, fmt.Sprintf("Trailhead %d", i+1))),
		kml.Point(kml.Coordinates(kml.Coordinate{Lon: p.Lon(), Lat: p.Lat()})),
	)
}

func (d RouteDocument) name(f *geojson.Feature, fallback string) string {
	if d.Name != nil {
		if n := d.Name(f.Properties); n != "" {
			return n
		}
	}
	return fallback
}

func lineString(ls orb.LineString) kml.Element {
	coords := make([]kml.Coordinate, 0, len(ls))
	for _, p := range ls {
		coords = append(coords, kml.Coordinate{Lon: p.Lon(), Lat: p.Lat()})
	}
	return kml.LineString(kml.Tessellate(true), kml.Coordinates(coords...))
}

func styleID(difficulty string) string {
	return "difficulty-" + strings.ToLower(difficulty)
}
