package http_test

import (
	"context"
	"encoding/json"
	"io"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/getkin/kin-openapi/openapi3"
	"github.com/gofiber/fiber/v2"

	handler "github.com/samirrijal/trailkit/internal/adapters/http"
)

// findOpenAPISpec locates api/openapi.yaml by walking up from the test directory.
func findOpenAPISpec(t *testing.T) string {
	dir, _ := os.Getwd()
	for i := 0; i < 5; i++ {
		candidate := filepath.Join(dir, "api", "openapi.yaml")
		if info, err := os.Stat(candidate); err == nil && !info.IsDir() {
			return candidate
		}
		dir = filepath.Dir(dir)
	}

	t.Fatalf("could not find api/openapi.yaml")
	return ""
}

func loadSpec(t *testing.T) *openapi3.T {
	t.Helper()
	data, err := os.ReadFile(findOpenAPISpec(t))
	if err != nil {
		t.Fatalf("failed to read openapi.yaml: %v", err)
	}
	loader := &openapi3.Loader{IsExternalRefsAllowed: false}
	spec, err := loader.LoadFromData(data)
	if err != nil {
		t.Fatalf("failed to parse OpenAPI document: %v", err)
	}
	return spec
}

// TestOpenAPISpec validates the document and checks it covers every route.
func TestOpenAPISpec(t *testing.T) {
	spec := loadSpec(t)
	if err := spec.Validate(context.Background()); err != nil {
		t.Fatalf("OpenAPI validation failed: %v", err)
	}

	expectedPaths := []string{
		"/v1/health",
		"/v1/ready",
		"/v1/fetch",
		"/v1/layers",
		"/v1/workspaces/{workspace}/layers",
		"/v1/workspaces/{workspace}/layers/{layer}",
		"/v1/sessions",
		"/v1/sessions/{id}",
		"/v1/sessions/{id}/retry",
		"/v1/sessions/{id}/adventure",
		"/v1/sessions/{id}/summary",
		"/v1/sessions/{id}/route.kml",
		"/v1/weather",
		"/check-status/{id}",
		"/graphql",
	}
	for _, path := range expectedPaths {
		if item := spec.Paths.Find(path); item == nil {
			t.Errorf("expected path %s not found", path)
		}
	}

	if op := spec.Paths.Find("/check-status/{id}").Get; op == nil || !op.Deprecated {
		t.Error("legacy polling endpoint should be marked deprecated")
	}

	expectedSchemas := []string{
		"Session",
		"SessionState",
		"LayerSpec",
		"LayerResult",
		"SegmentSummary",
		"FeatureCollection",
		"Adventure",
		"Weather",
		"APIError",
		"Pagination",
	}
	for _, schema := range expectedSchemas {
		if spec.Components.Schemas[schema] == nil {
			t.Errorf("expected schema %s not found", schema)
		}
	}

	t.Logf("OpenAPI spec valid: %d paths, %d schemas", len(spec.Paths.Map()), len(spec.Components.Schemas))
}

// TestOpenAPIInfo verifies document metadata.
func TestOpenAPIInfo(t *testing.T) {
	spec := loadSpec(t)

	if spec.Info.Title != "trailkit API" {
		t.Errorf("expected title 'trailkit API', got %q", spec.Info.Title)
	}
	if spec.Info.Version != "1.0.0" {
		t.Errorf("expected version 1.0.0, got %q", spec.Info.Version)
	}
	if spec.Info.Description == "" {
		t.Error("expected non-empty description")
	}
	if len(spec.Servers) == 0 {
		t.Fatal("expected at least one server")
	}
}

// TestDocsCarryBuildVersion checks that Swagger UI and the served document
// report the running build rather than the file's version.
func TestDocsCarryBuildVersion(t *testing.T) {
	app := fiber.New()
	handler.SetupDocs(app, findOpenAPISpec(t), "1.4.2")

	get := func(path string) (int, []byte) {
		resp, err := app.Test(httptest.NewRequest("GET", path, nil))
		if err != nil {
			t.Fatalf("GET %s: %v", path, err)
		}
		defer resp.Body.Close()
		data, _ := io.ReadAll(resp.Body)
		return resp.StatusCode, data
	}

	status, page := get("/docs")
	if status != 200 {
		t.Fatalf("docs: expected 200, got %d", status)
	}
	if !strings.Contains(string(page), "<title>trailkit API 1.4.2</title>") {
		t.Errorf("docs page is missing the branded title")
	}
	if !strings.Contains(string(page), "openapi.json") {
		t.Errorf("docs page should load the stamped document")
	}

	status, body := get("/docs/openapi.json")
	if status != 200 {
		t.Fatalf("openapi.json: expected 200, got %d", status)
	}
	var doc struct {
		Info struct {
			Title   string `json:"title"`
			Version string `json:"version"`
		} `json:"info"`
	}
	if err := json.Unmarshal(body, &doc); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if doc.Info.Title != "trailkit API" || doc.Info.Version != "1.4.2" {
		t.Errorf("unexpected info %+v", doc.Info)
	}

	if status, _ := get("/docs/openapi.yaml"); status != 200 {
		t.Errorf("openapi.yaml: expected 200, got %d", status)
	}
}

func TestDocsWithoutDocument(t *testing.T) {
	app := fiber.New()
	handler.SetupDocs(app, filepath.Join(t.TempDir(), "missing.yaml"), "")

	resp, err := app.Test(httptest.NewRequest("GET", "/docs/openapi.json", nil))
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != 404 {
		t.Errorf("expected 404, got %d", resp.StatusCode)
	}
}
