package http

import (
	"bytes"
	"errors"
	"strconv"
	"strings"

	"github.com/gofiber/fiber/v2"

	"github.com/samirrijal/trailkit/internal/core/domain"
)

type fetchRequest struct {
	BBox      []float64 `json:"bbox"`
	Workspace string    `json:"workspace"`
}

type fetchResponse struct {
	Workspace string               `json:"workspace"`
	Layers    []domain.LayerResult `json:"layers"`
	Message   string               `json:"message,omitempty"`
}

// FetchHandler queries every catalog layer for a bounding box and stores the
// results in a workspace.
func FetchHandler(deps *Dependencies) fiber.Handler {
	return func(c *fiber.Ctx) error {
		var req fetchRequest
		if err := c.BodyParser(&req); err != nil {
			return errBadRequest(c, "invalid request body")
		}
		if req.BBox == nil {
			return errBadRequest(c, "bbox is required")
		}
		bbox, err := domain.ParseBoundingBox(req.BBox)
		if err != nil {
			return fromDomain(c, err)
		}
		if req.Workspace != "" {
			if err := domain.ValidateNamespace(req.Workspace); err != nil {
				return fromDomain(c, err)
			}
		}

		workspace, results, err := deps.Pipeline.FetchAll(c.UserContext(), req.Workspace, bbox)
		if errors.Is(err, domain.ErrNoDataFound) {
			return c.JSON(fetchResponse{Workspace: workspace, Layers: []domain.LayerResult{}, Message: "no features found"})
		}
		if err != nil {
			return fromDomain(c, err)
		}
		return c.JSON(fetchResponse{Workspace: workspace, Layers: results})
	}
}

// SavedLayersHandler returns every layer stored in a workspace, keyed by name.
func SavedLayersHandler(deps *Dependencies) fiber.Handler {
	return func(c *fiber.Ctx) error {
		workspace := c.Params("workspace")
		names, err := deps.Pipeline.SavedLayers(c.UserContext(), workspace)
		if err != nil {
			return fromDomain(c, err)
		}
		if len(names) == 0 {
			return errNotFound(c, "no saved layers in workspace "+workspace)
		}

		layers := make(map[string]*domain.FeatureCollection, len(names))
		for _, name := range names {
			fc, err := deps.Pipeline.LoadLayer(c.UserContext(), workspace, name)
			if err != nil {
				return fromDomain(c, err)
			}
			layers[name] = fc
		}
		return c.JSON(fiber.Map{"workspace": workspace, "layers": layers})
	}
}

// LayerHandler returns one stored layer as a GeoJSON FeatureCollection.
func LayerHandler(deps *Dependencies) fiber.Handler {
	return func(c *fiber.Ctx) error {
		fc, err := deps.Pipeline.LoadLayer(c.UserContext(), c.Params("workspace"), c.Params("layer"))
		if err != nil {
			return fromDomain(c, err)
		}
		return sendGeoJSON(c, fc)
	}
}

type sessionRequest struct {
	Workspace   string   `json:"workspace"`
	SelectedIDs []string `json:"selected_ids"`
	SessionID   string   `json:"session_id"`
}

// CreateSessionHandler starts an assemble-and-enrich run and answers 202
// with the pending session.
func CreateSessionHandler(deps *Dependencies) fiber.Handler {
	return func(c *fiber.Ctx) error {
		var req sessionRequest
		if err := c.BodyParser(&req); err != nil {
			return errBadRequest(c, "invalid request body")
		}
		if req.Workspace == "" {
			return errBadRequest(c, "workspace is required")
		}
		s, err := deps.Pipeline.AssembleAndEnrich(c.UserContext(), req.SessionID, req.Workspace, req.SelectedIDs)
		if err != nil {
			if s != nil {
				return c.Status(fiber.StatusServiceUnavailable).JSON(s)
			}
			return fromDomain(c, err)
		}
		c.Location("/v1/sessions/" + s.ID)
		return c.Status(fiber.StatusAccepted).JSON(s)
	}
}

// ListSessionsHandler returns recent sessions, newest first.
func ListSessionsHandler(deps *Dependencies) fiber.Handler {
	return func(c *fiber.Ctx) error {
		offset := c.QueryInt("offset", 0)
		limit := c.QueryInt("limit", 20)
		if offset < 0 {
			offset = 0
		}
		if limit <= 0 || limit > 100 {
			limit = 20
		}

		page, total, err := deps.Pipeline.ListSessions(c.UserContext(), limit, offset)
		if err != nil {
			return fromDomain(c, err)
		}
		if page == nil {
			page = []domain.ProcessingSession{}
		}

		pg := Pagination{Offset: offset, Limit: limit, Total: total}
		SetLinkHeaders(c, pg)
		return c.JSON(PaginatedResponse{Data: page, Pagination: pg})
	}
}

// GetSessionHandler reports a session's state.
func GetSessionHandler(deps *Dependencies) fiber.Handler {
	return func(c *fiber.Ctx) error {
		s, err := deps.Pipeline.GetSession(c.UserContext(), c.Params("id"))
		if err != nil {
			return fromDomain(c, err)
		}
		c.Set("Cache-Control", "no-store")
		return c.JSON(s)
	}
}

// CheckStatusHandler is the legacy polling endpoint: {"done": bool}.
func CheckStatusHandler(deps *Dependencies) fiber.Handler {
	return func(c *fiber.Ctx) error {
		s, err := deps.Pipeline.GetSession(c.UserContext(), c.Params("id"))
		if err != nil {
			return fromDomain(c, err)
		}
		c.Set("Cache-Control", "no-store")
		return c.JSON(fiber.Map{"done": s.State == domain.SessionDone, "state": s.State})
	}
}

// RetrySessionHandler re-queues a done or failed session.
func RetrySessionHandler(deps *Dependencies) fiber.Handler {
	return func(c *fiber.Ctx) error {
		s, err := deps.Pipeline.RetrySession(c.UserContext(), c.Params("id"))
		if err != nil {
			return fromDomain(c, err)
		}
		return c.Status(fiber.StatusAccepted).JSON(s)
	}
}

// AdventureHandler returns the enriched route and its nearby trailheads.
func AdventureHandler(deps *Dependencies) fiber.Handler {
	return func(c *fiber.Ctx) error {
		adv, err := deps.Pipeline.Adventure(c.UserContext(), c.Params("id"))
		if err != nil {
			return fromDomain(c, err)
		}
		return c.JSON(adv)
	}
}

// SummaryHandler returns one compact entry per route segment.
func SummaryHandler(deps *Dependencies) fiber.Handler {
	return func(c *fiber.Ctx) error {
		segments, err := deps.Pipeline.Summary(c.UserContext(), c.Params("id"))
		if err != nil {
			return fromDomain(c, err)
		}
		var miles float64
		for _, s := range segments {
			miles += s.LengthMi
		}
		return c.JSON(fiber.Map{
			"session":    c.Params("id"),
			"segments":   segments,
			"total_mi":   miles,
			"difficulty": hardest(segments),
		})
	}
}

// RouteKMLHandler exports the session as a KML document.
func RouteKMLHandler(deps *Dependencies) fiber.Handler {
	return func(c *fiber.Ctx) error {
		id := c.Params("id")
		var buf bytes.Buffer
		if err := deps.Pipeline.RouteKML(c.UserContext(), id, &buf); err != nil {
			return fromDomain(c, err)
		}
		c.Set(fiber.HeaderContentType, "application/vnd.google-earth.kml+xml")
		c.Set(fiber.HeaderContentDisposition, `attachment; filename="`+id+`.kml"`)
		return c.Send(buf.Bytes())
	}
}

// LayersHandler returns the layer catalog.
func LayersHandler(deps *Dependencies) fiber.Handler {
	return func(c *fiber.Ctx) error {
		c.Set("Cache-Control", "public, max-age=3600")
		return c.JSON(deps.Pipeline.Layers())
	}
}

// WeatherHandler returns current conditions at the centre of ?bbox=.
func WeatherHandler(deps *Dependencies) fiber.Handler {
	return func(c *fiber.Ctx) error {
		if deps.Weather == nil {
			return errUnavailable(c, "weather lookups are not configured")
		}
		values, err := parseFloats(c.Query("bbox"))
		if err != nil {
			return errBadRequest(c, "bbox must be minX,minY,maxX,maxY")
		}
		bbox, err := domain.ParseBoundingBox(values)
		if err != nil {
			return fromDomain(c, err)
		}
		w, err := deps.Weather.ForBoundingBox(c.UserContext(), bbox)
		if err != nil {
			return fromDomain(c, err)
		}
		c.Set("Cache-Control", "public, max-age=600")
		return c.JSON(w)
	}
}

func sendGeoJSON(c *fiber.Ctx, fc *domain.FeatureCollection) error {
	data, err := fc.MarshalGeoJSON()
	if err != nil {
		return fromDomain(c, err)
	}
	c.Set(fiber.HeaderContentType, "application/geo+json")
	return c.Send(data)
}

func parseFloats(s string) ([]float64, error) {
	if strings.TrimSpace(s) == "" {
		return nil, errors.New("empty")
	}
	parts := strings.Split(s, ",")
	out := make([]float64, 0, len(parts))
	for _, p := range parts {
		v, err := strconv.ParseFloat(strings.TrimSpace(p), 64)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, nil
}

// hardest returns the most demanding rating along the route.
func hardest(segments []domain.SegmentSummary) domain.Difficulty {
	rank := map[domain.Difficulty]int{domain.Easy: 1, domain.Moderate: 2, domain.Difficult: 3}
	var out domain.Difficulty
	for _, s := range segments {
		if rank[s.Difficulty] > rank[out] {
			out = s.Difficulty
		}
	}
	return out
}
