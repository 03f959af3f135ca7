// Package arcgis queries ArcGIS REST feature layers for GeoJSON features.
package arcgis

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/samirrijal/trailkit/internal/core/domain"
)

const maxBodyBytes = 64 << 20

// Client implements ports.FeatureQuerier against the ArcGIS REST query endpoint.
type Client struct {
	httpClient *http.Client
	pageSize   int
	maxPages   int
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the default HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// WithPaging requests pageSize records per call and follows
// exceededTransferLimit for at most maxPages calls. pageSize <= 0 leaves
// paging to the server.
func WithPaging(pageSize, maxPages int) Option {
	return func(c *Client) {
		c.pageSize = pageSize
		c.maxPages = maxPages
	}
}

// NewClient creates a Client whose requests time out after timeout.
func NewClient(timeout time.Duration, opts ...Option) *Client {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	c := &Client{
		httpClient: &http.Client{Timeout: timeout},
		maxPages:   1,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.maxPages < 1 {
		c.maxPages = 1
	}
	return c
}

// Query returns every feature of layer intersecting bbox. The collection is
// tagged with the CRS the server reported.
func (c *Client) Query(ctx context.Context, layer domain.LayerSpec, bbox domain.BoundingBox) (*domain.FeatureCollection, error) {
	out := &domain.FeatureCollection{CRS: domain.WGS84}
	offset := 0
	for page := 0; page < c.maxPages; page++ {
		fc, more, err := c.queryPage(ctx, layer, bbox, offset)
		if err != nil {
			return nil, err
		}
		if page == 0 {
			out.CRS = fc.CRS
		}
		out.Features = append(out.Features, fc.Features...)
		if !more || c.pageSize <= 0 || fc.Len() == 0 {
			return out, nil
		}
		offset += fc.Len()
	}
	slog.WarnContext(ctx, "arcgis paging limit reached, result truncated",
		"layer", layer.Name, "pages", c.maxPages, "features", out.Len())
	return out, nil
}

// QueryParams builds the query string for one request.
func QueryParams(layer domain.LayerSpec, bbox domain.BoundingBox) url.Values {
	env := fmt.Sprintf(`{"xmin":%s,"ymin":%s,"xmax":%s,"ymax":%s,"spatialReference":{"wkid":4326}}`,
		ftoa(bbox.MinX), ftoa(bbox.MinY), ftoa(bbox.MaxX), ftoa(bbox.MaxY))

	outFields := "*"
	if len(layer.Fields) > 0 {
		outFields = strings.Join(layer.Fields, ",")
	}

	v := url.Values{}
	v.Set("geometry", env)
	v.Set("geometryType", "esriGeometryEnvelope")
	v.Set("inSR", "4326")
	v.Set("spatialRel", "esriSpatialRelIntersects")
	v.Set("outFields", outFields)
	v.Set("outSR", "4326")
	v.Set("where", layer.FilterPredicate())
	v.Set("returnGeometry", "true")
	v.Set("f", "geojson")
	return v
}

func (c *Client) queryPage(ctx context.Context, layer domain.LayerSpec, bbox domain.BoundingBox, offset int) (*domain.FeatureCollection, bool, error) {
	params := QueryParams(layer, bbox)
	if c.pageSize > 0 {
		params.Set("resultOffset", strconv.Itoa(offset))
		params.Set("resultRecordCount", strconv.Itoa(c.pageSize))
	}
	endpoint := strings.TrimRight(layer.ServiceURL, "/") + "/query"

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint+"?"+params.Encode(), nil)
	if err != nil {
		return nil, false, fmt.Errorf("%w: build request: %v", domain.ErrRemoteService, err)
	}
	req.Header.Set("Accept", "application/geo+json, application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, false, fmt.Errorf("%w: query %s: %v", domain.ErrRemoteService, layer.Name, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, false, fmt.Errorf("%w: read %s: %v", domain.ErrRemoteService, layer.Name, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, false, fmt.Errorf("%w: query %s: status %d: %s", domain.ErrRemoteService, layer.Name, resp.StatusCode, snippet(body))
	}
	return decodeResponse(layer.Name, body)
}

type errorEnvelope struct {
	Error *struct {
		Code    int      `json:"code"`
		Message string   `json:"message"`
		Details []string `json:"details"`
	} `json:"error"`
}

// decodeResponse parses a GeoJSON query response. ArcGIS reports failures
// with HTTP 200 and an "error" member, so that is checked first.
func decodeResponse(layer string, body []byte) (*domain.FeatureCollection, bool, error) {
	var envelope errorEnvelope
	if err := json.Unmarshal(body, &envelope); err != nil {
		return nil, false, fmt.Errorf("%w: %s: malformed response: %v", domain.ErrRemoteService, layer, err)
	}
	if envelope.Error != nil {
		msg := envelope.Error.Message
		if len(envelope.Error.Details) > 0 {
			msg += ": " + strings.Join(envelope.Error.Details, "; ")
		}
		return nil, false, fmt.Errorf("%w: %s: arcgis error %d: %s", domain.ErrRemoteService, layer, envelope.Error.Code, msg)
	}

	fixed, err := repairNesting(body)
	if err != nil {
		return nil, false, fmt.Errorf("%w: %s: malformed response: %v", domain.ErrRemoteService, layer, err)
	}
	fc, err := domain.DecodeFeatureCollection(fixed)
	if err != nil {
		return nil, false, fmt.Errorf("%w: %s: %v", domain.ErrRemoteService, layer, err)
	}

	var meta struct {
		ExceededTransferLimit bool `json:"exceededTransferLimit"`
		Properties            struct {
			ExceededTransferLimit bool `json:"exceededTransferLimit"`
		} `json:"properties"`
	}
	_ = json.Unmarshal(body, &meta)
	return fc, meta.ExceededTransferLimit || meta.Properties.ExceededTransferLimit, nil
}

var expectedDepth = map[string]int{
	"MultiPoint":      2,
	"MultiLineString": 3,
	"MultiPolygon":    4,
}

// repairNesting wraps Multi* coordinate arrays that arrive one level too
// shallow, which some servers emit for single-part geometries.
func repairNesting(body []byte) ([]byte, error) {
	var doc map[string]json.RawMessage
	if err := json.Unmarshal(body, &doc); err != nil {
		return nil, err
	}
	raw, ok := doc["features"]
	if !ok {
		return body, nil
	}
	var features []map[string]json.RawMessage
	if err := json.Unmarshal(raw, &features); err != nil {
		return nil, err
	}

	changed := false
	for _, f := range features {
		g, ok := f["geometry"]
		if !ok || string(g) == "null" {
			continue
		}
		var geom struct {
			Type        string      `json:"type"`
			Coordinates interface{} `json:"coordinates"`
		}
		if err := json.Unmarshal(g, &geom); err != nil {
			return nil, err
		}
		want, multi := expectedDepth[geom.Type]
		if coords, ok := geom.Coordinates.([]interface{}); !ok || len(coords) == 0 {
			continue
		}
		if !multi || depth(geom.Coordinates) != want-1 {
			continue
		}
		geom.Coordinates = []interface{}{geom.Coordinates}
		fixed, err := json.Marshal(geom)
		if err != nil {
			return nil, err
		}
		f["geometry"] = fixed
		changed = true
	}
	if !changed {
		return body, nil
	}

	enc, err := json.Marshal(features)
	if err != nil {
		return nil, err
	}
	doc["features"] = enc
	return json.Marshal(doc)
}

// depth counts array nesting along the first element: a position is 1.
func depth(v interface{}) int {
	d := 0
	for {
		arr, ok := v.([]interface{})
		if !ok {
			return d
		}
		d++
		if len(arr) == 0 {
			return d
		}
		v = arr[0]
	}
}

func ftoa(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}

func snippet(body []byte) string {
	s := strings.TrimSpace(string(body))
	if len(s) > 200 {
		s = s[:200] + "..."
	}
	return s
}
