package domain

import (
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/paulmach/orb/geojson"
	"github.com/paulmach/orb/project"
)

// CRS is an EPSG code.
type CRS int

const (
	CRSUnknown  CRS = 0
	WGS84       CRS = 4326
	WebMercator CRS = 3857
)

func (c CRS) String() string {
	return fmt.Sprintf("EPSG:%d", int(c))
}

// ParseCRS understands EPSG codes, OGC URNs and the Esri aliases of Web Mercator.
func ParseCRS(name string) (CRS, error) {
	n := strings.ToUpper(strings.TrimSpace(name))
	if n == "" {
		return CRSUnknown, nil
	}
	if strings.HasSuffix(n, "CRS84") {
		return WGS84, nil
	}
	if i := strings.LastIndexAny(n, ":"); i >= 0 {
		n = n[i+1:]
	}
	code, err := strconv.Atoi(n)
	if err != nil {
		return CRSUnknown, fmt.Errorf("%w: %q", ErrUnsupportedCRS, name)
	}
	switch code {
	case 102100, 102113, 900913:
		return WebMercator, nil
	}
	return CRS(code), nil
}

// FeatureCollection is an ordered set of features tagged with a CRS.
type FeatureCollection struct {
	CRS      CRS
	Features []*geojson.Feature
}

// NewFeatureCollection returns an empty WGS84 collection.
func NewFeatureCollection(features ...*geojson.Feature) *FeatureCollection {
	return &FeatureCollection{CRS: WGS84, Features: features}
}

// Len is safe on a nil collection.
func (fc *FeatureCollection) Len() int {
	if fc == nil {
		return 0
	}
	return len(fc.Features)
}

// IsEmpty reports whether the collection has no features.
func (fc *FeatureCollection) IsEmpty() bool {
	return fc.Len() == 0
}

// Fields returns the sorted union of attribute names across all features.
func (fc *FeatureCollection) Fields() []string {
	if fc == nil {
		return nil
	}
	seen := make(map[string]struct{})
	for _, f := range fc.Features {
		for k := range f.Properties {
			seen[k] = struct{}{}
		}
	}
	fields := make([]string, 0, len(seen))
	for k := range seen {
		fields = append(fields, k)
	}
	sort.Strings(fields)
	return fields
}

// Normalize reprojects the collection into WGS84. A collection without a CRS
// tag is taken to be WGS84 already.
func (fc *FeatureCollection) Normalize() error {
	switch fc.CRS {
	case WGS84, CRSUnknown:
	case WebMercator:
		for _, f := range fc.Features {
			if f.Geometry != nil {
				f.Geometry = project.Geometry(f.Geometry, project.Mercator.ToWGS84)
			}
		}
	default:
		return fmt.Errorf("%w: %s", ErrUnsupportedCRS, fc.CRS)
	}
	fc.CRS = WGS84
	return nil
}

// Concat merges collections into one WGS84 collection. Every feature carries the
// union of all attribute names; attributes a feature lacks are set to null.
func Concat(collections ...*FeatureCollection) *FeatureCollection {
	out := NewFeatureCollection()
	seen := make(map[string]struct{})
	var fields []string
	for _, c := range collections {
		for _, name := range c.Fields() {
			if _, ok := seen[name]; !ok {
				seen[name] = struct{}{}
				fields = append(fields, name)
			}
		}
	}
	for _, c := range collections {
		if c == nil {
			continue
		}
		for _, f := range c.Features {
			nf := geojson.NewFeature(f.Geometry)
			nf.ID = f.ID
			nf.Properties = f.Properties.Clone()
			if nf.Properties == nil {
				nf.Properties = geojson.Properties{}
			}
			for _, name := range fields {
				if _, ok := nf.Properties[name]; !ok {
					nf.Properties[name] = nil
				}
			}
			out.Features = append(out.Features, nf)
		}
	}
	return out
}

// AttributeString renders a scalar attribute the way it appears in a
// GeoJSON document: 3 -> "3", 3.5 -> "3.5", "A7" -> "A7".
func AttributeString(v interface{}) (string, bool) {
	switch t := v.(type) {
	case nil:
		return "", false
	case string:
		return t, true
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64), true
	case float32:
		return strconv.FormatFloat(float64(t), 'f', -1, 32), true
	case int:
		return strconv.Itoa(t), true
	case int64:
		return strconv.FormatInt(t, 10), true
	case json.Number:
		return t.String(), true
	case bool:
		return strconv.FormatBool(t), true
	default:
		return fmt.Sprint(t), true
	}
}

// MarshalGeoJSON encodes the collection with a "crs" member naming its EPSG code.
func (fc *FeatureCollection) MarshalGeoJSON() ([]byte, error) {
	out := geojson.NewFeatureCollection()
	if fc != nil {
		out.Features = fc.Features
	}
	crs := WGS84
	if fc != nil && fc.CRS != CRSUnknown {
		crs = fc.CRS
	}
	out.ExtraMembers = geojson.Properties{
		"crs": map[string]interface{}{
			"type":       "name",
			"properties": map[string]interface{}{"name": crs.String()},
		},
	}
	return out.MarshalJSON()
}

// MarshalJSON embeds the collection as GeoJSON in API payloads.
func (fc *FeatureCollection) MarshalJSON() ([]byte, error) {
	return fc.MarshalGeoJSON()
}

// UnmarshalJSON is the inverse of MarshalJSON.
func (fc *FeatureCollection) UnmarshalJSON(data []byte) error {
	out, err := DecodeFeatureCollection(data)
	if err != nil {
		return err
	}
	*fc = *out
	return nil
}

// DecodeFeatureCollection parses a GeoJSON FeatureCollection. The legacy "crs"
// member is honoured; without it the collection is WGS84.
func DecodeFeatureCollection(data []byte) (*FeatureCollection, error) {
	raw, err := geojson.UnmarshalFeatureCollection(data)
	if err != nil {
		return nil, fmt.Errorf("decode feature collection: %w", err)
	}
	crs := WGS84
	if member, ok := raw.ExtraMembers["crs"].(map[string]interface{}); ok {
		if props, ok := member["properties"].(map[string]interface{}); ok {
			if name, ok := props["name"].(string); ok {
				parsed, err := ParseCRS(name)
				if err != nil {
					return nil, err
				}
				if parsed != CRSUnknown {
					crs = parsed
				}
			}
		}
	}
	for _, f := range raw.Features {
		if f.Properties == nil {
			f.Properties = geojson.Properties{}
		}
	}
	return &FeatureCollection{CRS: crs, Features: raw.Features}, nil
}
