// Package app wires configuration into a ready PipelineService. The API
// server, the CLI and the Temporal worker all build their pipeline here.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/nats-io/nats.go"
	"go.temporal.io/sdk/client"

	"github.com/samirrijal/trailkit/internal/adapters/arcgis"
	"github.com/samirrijal/trailkit/internal/adapters/filestore"
	"github.com/samirrijal/trailkit/internal/adapters/memory"
	natsadapter "github.com/samirrijal/trailkit/internal/adapters/nats"
	"github.com/samirrijal/trailkit/internal/adapters/opentopo"
	"github.com/samirrijal/trailkit/internal/adapters/postgres"
	"github.com/samirrijal/trailkit/internal/adapters/sqlite"
	"github.com/samirrijal/trailkit/internal/adapters/valkey"
	"github.com/samirrijal/trailkit/internal/adapters/weather"
	"github.com/samirrijal/trailkit/internal/core/domain"
	"github.com/samirrijal/trailkit/internal/core/ports"
	"github.com/samirrijal/trailkit/internal/core/usecases"
	"github.com/samirrijal/trailkit/internal/pkg/config"
	"github.com/samirrijal/trailkit/internal/pkg/geotiff"
	"github.com/samirrijal/trailkit/internal/workflows"
)

// App holds the wired pipeline and the resources behind it.
type App struct {
	Config   *config.Config
	Layers   domain.LayerCatalog
	Pipeline *usecases.PipelineService
	Weather  *usecases.WeatherService // nil without an API key
	DB       *postgres.DB            // nil unless a postgres backend is configured
	NATS     *nats.Conn              // nil unless NATS is enabled and reachable

	// Checks are readiness probes keyed by dependency name.
	Checks map[string]func(ctx context.Context) error

	temporal client.Client
	closers  []func()
}

// New builds the pipeline described by cfg. Optional dependencies (NATS,
// Valkey) that cannot be reached are logged and left out.
func New(ctx context.Context, cfg *config.Config) (*App, error) {
	layers, err := config.LoadLayers(cfg.Pipeline.LayersFile)
	if err != nil {
		return nil, err
	}

	a := &App{
		Config: cfg,
		Layers: layers,
		Checks: make(map[string]func(ctx context.Context) error),
	}
	if err := a.build(ctx); err != nil {
		a.Close()
		return nil, err
	}
	return a, nil
}

func (a *App) build(ctx context.Context) error {
	cfg := a.Config

	if cfg.UsesPostgres() {
		db, err := postgres.New(ctx, cfg.Database.DSN(), cfg.Database.MaxConns)
		if err != nil {
			return fmt.Errorf("database: %w", err)
		}
		a.DB = db
		a.closers = append(a.closers, db.Close)
		a.Checks["database"] = db.Ping
	}

	sessions, err := a.sessionRepository(ctx)
	if err != nil {
		return err
	}
	store, err := a.artifactStore()
	if err != nil {
		return err
	}

	var events ports.EventPublisher
	if cfg.NATS.Enabled {
		pub, err := natsadapter.NewPublisher(cfg.NATS.URL)
		if err != nil {
			slog.Warn("nats unavailable, events disabled", "error", err)
		} else {
			events = pub
			a.NATS = pub.Conn()
			a.closers = append(a.closers, pub.Close)
		}
	}

	var cache ports.CacheService
	if cfg.Valkey.Enabled {
		vc, err := valkey.New(cfg.Valkey.Addr, cfg.Valkey.Prefix)
		if err != nil {
			slog.Warn("valkey unavailable, caching disabled", "error", err)
		} else {
			cache = vc
			a.closers = append(a.closers, vc.Close)
			a.Checks["valkey"] = vc.Ping
		}
	}

	querier := arcgis.NewClient(cfg.ArcGIS.Timeout, arcgis.WithPaging(cfg.ArcGIS.PageSize, cfg.ArcGIS.MaxPages))
	provider := opentopo.NewClient(cfg.OpenTopo.BaseURL, cfg.OpenTopo.APIKey, cfg.OpenTopo.DEMType, cfg.OpenTopo.Timeout)
	if cfg.OpenTopo.APIKey == "" {
		slog.Warn("no OpenTopography API key configured, elevation sampling will fail")
	}

	p := cfg.Pipeline
	stages := usecases.Stages{
		Source:     usecases.NewFeatureSource(querier, store, cache, events, p.FetchConcurrency, p.LayerCacheTTL),
		Assembler:  usecases.NewRouteAssembler(store, events),
		Sampler:    usecases.NewElevationSampler(provider, geotiff.Decoder{}, store),
		Classifier: usecases.NewSlopeClassifier(store, events, p.HorizontalResolution),
		Filter:     usecases.NewTrailheadFilter(store, events, p.BufferDegrees),
	}
	a.Pipeline = usecases.NewPipelineService(a.Layers, sessions, store, stages, events, p.RunTimeout)

	if cfg.Weather.APIKey != "" {
		wc := weather.NewClient(cfg.Weather.BaseURL, cfg.Weather.APIKey, cfg.Weather.Timeout)
		a.Weather = usecases.NewWeatherService(wc, cache, cfg.Weather.CacheTTL)
	}

	if p.Runner == config.RunnerTemporal {
		c, err := a.TemporalClient()
		if err != nil {
			return err
		}
		a.Pipeline.SetDispatcher(workflows.NewDispatcher(c, cfg.Temporal.TaskQueue))
		a.Checks["temporal"] = func(ctx context.Context) error {
			_, err := c.CheckHealth(ctx, &client.CheckHealthRequest{})
			return err
		}
	}

	slog.Info("pipeline ready",
		"layers", len(a.Layers),
		"session_store", p.SessionStore,
		"artifact_store", p.ArtifactStore,
		"runner", p.Runner,
		"events", events != nil,
		"cache", cache != nil,
	)
	return nil
}

func (a *App) sessionRepository(ctx context.Context) (ports.SessionRepository, error) {
	switch a.Config.Pipeline.SessionStore {
	case config.StoreSQLite:
		path := a.Config.SQLite.Path
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("sqlite: %w", err)
		}
		db, err := sqlite.Open(ctx, path)
		if err != nil {
			return nil, fmt.Errorf("sqlite: %w", err)
		}
		a.closers = append(a.closers, func() { _ = db.Close() })
		a.Checks["sqlite"] = db.PingContext
		return sqlite.NewSessionRepo(db), nil
	case config.StorePostgres:
		return postgres.NewSessionRepo(a.DB), nil
	default:
		return memory.NewSessionRepository(), nil
	}
}

func (a *App) artifactStore() (ports.ArtifactStore, error) {
	if a.Config.Pipeline.ArtifactStore == config.StorePostgres {
		return postgres.NewArtifactRepo(a.DB), nil
	}
	store, err := filestore.New(a.Config.Pipeline.ArtifactRoot)
	if err != nil {
		return nil, fmt.Errorf("artifact store: %w", err)
	}
	return store, nil
}

// TemporalClient dials Temporal on first use.
func (a *App) TemporalClient() (client.Client, error) {
	if a.temporal != nil {
		return a.temporal, nil
	}
	c, err := client.Dial(client.Options{
		HostPort:  a.Config.Temporal.HostPort,
		Namespace: a.Config.Temporal.Namespace,
	})
	if err != nil {
		return nil, fmt.Errorf("temporal client: %w", err)
	}
	a.temporal = c
	a.closers = append(a.closers, c.Close)
	return c, nil
}

// Shutdown waits for in-flight enrichment runs, then releases every resource.
func (a *App) Shutdown(ctx context.Context) error {
	var err error
	if a.Pipeline != nil {
		err = a.Pipeline.Shutdown(ctx)
	}
	a.Close()
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("enrichment runs still active at shutdown: %w", err)
	}
	return err
}

// Close releases resources in reverse order of acquisition.
func (a *App) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}
