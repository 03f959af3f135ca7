package http

import (
	"bytes"
	"context"
	"html/template"
	"log/slog"
	"os"

	"github.com/getkin/kin-openapi/openapi3"
	"github.com/gofiber/fiber/v2"
)

var swaggerUI = template.Must(template.New("docs").Parse(`<!DOCTYPE html>
<html lang="en">
<head>
  <meta charset="UTF-8">
  <title>trailkit API {{.Version}}</title>
  <link rel="stylesheet" href="https://cdn.jsdelivr.net/npm/swagger-ui-dist@5/swagger-ui.css">
  <style>
    body{margin:0;background:#f6f7f4;font-family:system-ui,sans-serif}
    .tk-bar{display:flex;align-items:baseline;gap:.75rem;padding:.8rem 1.5rem;background:#2f4a32;color:#f6f7f4}
    .tk-bar h1{margin:0;font-size:1.2rem}
    .tk-bar span{font-size:.85rem;opacity:.8}
    .swagger-ui .topbar{display:none}
  </style>
</head>
<body>
  <header class="tk-bar"><h1>trailkit</h1><span>trail routes, elevation and difficulty &middot; {{.Version}}</span></header>
  <div id="swagger-ui"></div>
  <script src="https://cdn.jsdelivr.net/npm/swagger-ui-dist@5/swagger-ui-bundle.js"></script>
  <script>
    SwaggerUIBundle({
      url: '{{.SpecURL}}',
      dom_id: '#swagger-ui',
      deepLinking: true,
      presets: [SwaggerUIBundle.presets.apis],
      layout: 'BaseLayout',
    });
  </script>
</body>
</html>`))

type docsPage struct {
	Version string
	SpecURL string
}

// loadAPIDoc parses the OpenAPI document and stamps it with the running
// build's version. It returns nil if the document is missing or invalid.
func loadAPIDoc(specPath, version string) []byte {
	doc, err := openapi3.NewLoader().LoadFromFile(specPath)
	if err != nil {
		slog.Warn("openapi document not loaded", "path", specPath, "error", err)
		return nil
	}
	if err := doc.Validate(context.Background()); err != nil {
		slog.Warn("openapi document invalid", "path", specPath, "error", err)
		return nil
	}
	if version != "" {
		doc.Info.Version = version
	}
	data, err := doc.MarshalJSON()
	if err != nil {
		slog.Warn("openapi document not encoded", "error", err)
		return nil
	}
	return data
}

// SetupDocs registers Swagger UI at /docs, the version-stamped document at
// /docs/openapi.json and the raw file at /docs/openapi.yaml.
func SetupDocs(app *fiber.App, specPath, version string) {
	if version == "" {
		version = "dev"
	}
	specJSON := loadAPIDoc(specPath, version)

	page := docsPage{Version: version, SpecURL: "/docs/openapi.json"}
	if specJSON == nil {
		page.SpecURL = "/docs/openapi.yaml"
	}
	var html bytes.Buffer
	if err := swaggerUI.Execute(&html, page); err != nil {
		slog.Error("render docs page", "error", err)
	}

	app.Get("/docs", func(c *fiber.Ctx) error {
		c.Set("Content-Type", "text/html; charset=utf-8")
		return c.Send(html.Bytes())
	})

	app.Get("/docs/openapi.json", func(c *fiber.Ctx) error {
		if specJSON == nil {
			return errNotFound(c, "openapi document not available")
		}
		return c.Type("json").Send(specJSON)
	})

	app.Get("/docs/openapi.yaml", func(c *fiber.Ctx) error {
		data, err := os.ReadFile(specPath)
		if err != nil {
			return errNotFound(c, "openapi.yaml not found")
		}
		c.Set("Content-Type", "application/yaml")
		return c.Send(data)
	})
}
