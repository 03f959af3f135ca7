package http

import (
	"github.com/gofiber/fiber/v2"
	"github.com/graphql-go/graphql"

	"github.com/samirrijal/trailkit/internal/core/domain"
)

func sessionMap(s *domain.ProcessingSession) map[string]interface{} {
	return map[string]interface{}{
		"id":           s.ID,
		"workspace":    s.Workspace,
		"selected_ids": s.SelectedIDs,
		"state":        string(s.State),
		"reason":       s.Reason,
		"created_at":   s.CreatedAt,
		"updated_at":   s.UpdatedAt,
	}
}

func layerMap(l domain.LayerSpec) map[string]interface{} {
	return map[string]interface{}{
		"name":        l.Name,
		"title":       l.Title,
		"role":        string(l.Role),
		"service_url": l.ServiceURL,
		"fields":      l.Fields,
		"id_field":    l.IDField,
		"name_field":  l.NameField,
	}
}

// buildSchema creates the GraphQL schema over the pipeline service.
func buildSchema(deps *Dependencies) (graphql.Schema, error) {
	sessionType := graphql.NewObject(graphql.ObjectConfig{
		Name: "Session",
		Fields: graphql.Fields{
			"id":           &graphql.Field{Type: graphql.String},
			"workspace":    &graphql.Field{Type: graphql.String},
			"selected_ids": &graphql.Field{Type: graphql.NewList(graphql.String)},
			"state":        &graphql.Field{Type: graphql.String},
			"reason":       &graphql.Field{Type: graphql.String},
			"created_at":   &graphql.Field{Type: graphql.DateTime},
			"updated_at":   &graphql.Field{Type: graphql.DateTime},
		},
	})

	layerType := graphql.NewObject(graphql.ObjectConfig{
		Name: "Layer",
		Fields: graphql.Fields{
			"name":        &graphql.Field{Type: graphql.String},
			"title":       &graphql.Field{Type: graphql.String},
			"role":        &graphql.Field{Type: graphql.String},
			"service_url": &graphql.Field{Type: graphql.String},
			"fields":      &graphql.Field{Type: graphql.NewList(graphql.String)},
			"id_field":    &graphql.Field{Type: graphql.String},
			"name_field":  &graphql.Field{Type: graphql.String},
		},
	})

	segmentType := graphql.NewObject(graphql.ObjectConfig{
		Name: "Segment",
		Fields: graphql.Fields{
			"id":         &graphql.Field{Type: graphql.String},
			"name":       &graphql.Field{Type: graphql.String},
			"slope":      &graphql.Field{Type: graphql.Float},
			"difficulty": &graphql.Field{Type: graphql.String},
			"length_mi":  &graphql.Field{Type: graphql.Float},
			"polyline":   &graphql.Field{Type: graphql.String},
		},
	})

	queryType := graphql.NewObject(graphql.ObjectConfig{
		Name: "Query",
		Fields: graphql.Fields{
			"session": &graphql.Field{
				Type:        sessionType,
				Description: "Get a processing session by ID",
				Args: graphql.FieldConfigArgument{
					"id": &graphql.ArgumentConfig{Type: graphql.NewNonNull(graphql.String)},
				},
				Resolve: func(p graphql.ResolveParams) (interface{}, error) {
					s, err := deps.Pipeline.GetSession(p.Context, p.Args["id"].(string))
					if err != nil {
						return nil, err
					}
					return sessionMap(s), nil
				},
			},
			"sessions": &graphql.Field{
				Type:        graphql.NewList(sessionType),
				Description: "Most recent sessions, newest first",
				Args: graphql.FieldConfigArgument{
					"limit":  &graphql.ArgumentConfig{Type: graphql.Int, DefaultValue: 20},
					"offset": &graphql.ArgumentConfig{Type: graphql.Int, DefaultValue: 0},
				},
				Resolve: func(p graphql.ResolveParams) (interface{}, error) {
					list, _, err := deps.Pipeline.ListSessions(p.Context, p.Args["limit"].(int), p.Args["offset"].(int))
					if err != nil {
						return nil, err
					}
					out := make([]map[string]interface{}, 0, len(list))
					for i := range list {
						out = append(out, sessionMap(&list[i]))
					}
					return out, nil
				},
			},
			"layers": &graphql.Field{
				Type:        graphql.NewList(layerType),
				Description: "The layer catalog",
				Resolve: func(p graphql.ResolveParams) (interface{}, error) {
					catalog := deps.Pipeline.Layers()
					out := make([]map[string]interface{}, 0, len(catalog))
					for _, l := range catalog {
						out = append(out, layerMap(l))
					}
					return out, nil
				},
			},
			"savedLayers": &graphql.Field{
				Type:        graphql.NewList(graphql.String),
				Description: "Names of the layers stored in a workspace",
				Args: graphql.FieldConfigArgument{
					"workspace": &graphql.ArgumentConfig{Type: graphql.NewNonNull(graphql.String)},
				},
				Resolve: func(p graphql.ResolveParams) (interface{}, error) {
					return deps.Pipeline.SavedLayers(p.Context, p.Args["workspace"].(string))
				},
			},
			"segments": &graphql.Field{
				Type:        graphql.NewList(segmentType),
				Description: "Per-segment summary of a session's route",
				Args: graphql.FieldConfigArgument{
					"session": &graphql.ArgumentConfig{Type: graphql.NewNonNull(graphql.String)},
				},
				Resolve: func(p graphql.ResolveParams) (interface{}, error) {
					segs, err := deps.Pipeline.Summary(p.Context, p.Args["session"].(string))
					if err != nil {
						return nil, err
					}
					out := make([]map[string]interface{}, 0, len(segs))
					for _, s := range segs {
						out = append(out, map[string]interface{}{
							"id":         s.ID,
							"name":       s.Name,
							"slope":      s.Slope,
							"difficulty": string(s.Difficulty),
							"length_mi":  s.LengthMi,
							"polyline":   s.Polyline,
						})
					}
					return out, nil
				},
			},
		},
	})

	return graphql.NewSchema(graphql.SchemaConfig{
		Query: queryType,
	})
}

// GraphQLHandler serves the GraphQL endpoint.
func GraphQLHandler(deps *Dependencies) fiber.Handler {
	schema, err := buildSchema(deps)
	if err != nil {
		// This would be a programming error in the schema definition
		panic("graphql schema build: " + err.Error())
	}

	type gqlRequest struct {
		Query         string                 `json:"query"`
		OperationName string                 `json:"operationName"`
		Variables     map[string]interface{} `json:"variables"`
	}

	return func(c *fiber.Ctx) error {
		var req gqlRequest
		if err := c.BodyParser(&req); err != nil {
			return errBadRequest(c, "invalid request body")
		}

		result := graphql.Do(graphql.Params{
			Schema:         schema,
			RequestString:  req.Query,
			VariableValues: req.Variables,
			OperationName:  req.OperationName,
			Context:        c.UserContext(),
		})

		return c.JSON(result)
	}
}
