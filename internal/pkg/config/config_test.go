package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/samirrijal/trailkit/internal/core/domain"
)

func TestLoadDefaults(t *testing.T) {
	t.Chdir(t.TempDir())

	cfg, err := Load("trailkit-test")
	require.NoError(t, err)
	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, StoreMemory, cfg.Pipeline.SessionStore)
	assert.Equal(t, RunnerLocal, cfg.Pipeline.Runner)
	assert.Equal(t, 10*time.Minute, cfg.Pipeline.RunTimeout)
	assert.InDelta(t, 0.001, cfg.Pipeline.BufferDegrees, 1e-12)
	assert.Equal(t, "trailkit-test", cfg.Telemetry.ServiceName)
	assert.False(t, cfg.UsesPostgres())
}

func TestLoadEnvironment(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("TRAILKIT_PIPELINE_RUNNER", "temporal")
	t.Setenv("TRAILKIT_PIPELINE_FETCH_CONCURRENCY", "4")
	t.Setenv("OPEN_TOPO_API_KEY", "topo-key")
	t.Setenv("OPENWEATHER_API_KEY", "owm-key")

	cfg, err := Load("trailkit-test")
	require.NoError(t, err)
	assert.Equal(t, RunnerTemporal, cfg.Pipeline.Runner)
	assert.Equal(t, 4, cfg.Pipeline.FetchConcurrency)
	assert.Equal(t, "topo-key", cfg.OpenTopo.APIKey)
	assert.Equal(t, "owm-key", cfg.Weather.APIKey)
}

func TestValidateAggregates(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("TRAILKIT_SERVER_PORT", "0")
	t.Setenv("TRAILKIT_PIPELINE_SESSION_STORE", "redis")
	t.Setenv("TRAILKIT_PIPELINE_BUFFER_DEGREES", "-1")

	_, err := Load("trailkit-test")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "server.port")
	assert.Contains(t, err.Error(), "pipeline.session_store")
	assert.Contains(t, err.Error(), "pipeline.buffer_degrees")
}

func TestPostgresRequiresDatabase(t *testing.T) {
	cfg := &Config{
		Server:   ServerConfig{Port: 8080, ReadTimeout: 1, WriteTimeout: 1},
		Pipeline: PipelineConfig{LayersFile: "l.toml", SessionStore: StorePostgres, ArtifactStore: StorePostgres, Runner: RunnerLocal, RunTimeout: time.Minute, BufferDegrees: 0.001, FetchConcurrency: 1},
		ArcGIS:   ArcGISConfig{Timeout: time.Second},
		OpenTopo: OpenTopoConfig{Timeout: time.Second},
	}
	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "database.host")

	cfg.Database = DatabaseConfig{Host: "db", Port: 5432, User: "u", DBName: "trailkit", SSLMode: "disable"}
	require.NoError(t, cfg.Validate())
	assert.Equal(t, "postgres://u:@db:5432/trailkit?sslmode=disable", cfg.Database.DSN())
}

const catalogTOML = `
[[layer]]
name = "trails"
role = "trails"
service_url = "https://example.test/EDW_TrailNFSPublish_01/MapServer/0"
fields = ["TRAIL_NO", "TRAIL_NAME", "GIS_MILES"]
id_field = "OBJECTID"
name_field = "TRAIL_NAME"

[[layer]]
name = "trailheads"
role = "trailheads"
service_url = "https://example.test/EDW_InfraRecreationSites_01/MapServer/0"
where = "SITE_SUBTYPE = 'TRAILHEAD'"
`

func TestParseLayers(t *testing.T) {
	cat, err := ParseLayers(catalogTOML)
	require.NoError(t, err)
	require.Len(t, cat, 2)

	trails, ok := cat.ByRole(domain.RoleTrails)
	require.True(t, ok)
	assert.Equal(t, []string{"TRAIL_NO", "TRAIL_NAME", "GIS_MILES"}, trails.Fields)
	assert.Equal(t, "OBJECTID", trails.IDField)

	th, ok := cat.ByName("trailheads")
	require.True(t, ok)
	assert.Equal(t, "SITE_SUBTYPE = 'TRAILHEAD'", th.FilterPredicate())
}

func TestParseLayers_Rejects(t *testing.T) {
	_, err := ParseLayers(``)
	assert.Error(t, err)

	_, err = ParseLayers(`
[[layer]]
name = "x"
role = "rivers"
service_url = "https://example.test"
`)
	assert.ErrorContains(t, err, "unknown role")

	_, err = ParseLayers(catalogTOML + catalogTOML)
	assert.ErrorContains(t, err, "defined twice")
}
