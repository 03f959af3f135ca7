package main

import (
	"context"
	"log"
	"log/slog"

	"go.temporal.io/sdk/worker"

	"github.com/samirrijal/trailkit/internal/app"
	"github.com/samirrijal/trailkit/internal/pkg/config"
	"github.com/samirrijal/trailkit/internal/pkg/logging"
	"github.com/samirrijal/trailkit/internal/pkg/telemetry"
	"github.com/samirrijal/trailkit/internal/workflows"
)

func main() {
	cfg, err := config.Load("trailkit-worker")
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	logging.Setup(cfg.Log.Level, cfg.Log.Format)

	ctx := context.Background()
	if cfg.Telemetry.Enabled {
		shutdown, err := telemetry.InitTracer(ctx, cfg.Telemetry.ServiceName, cfg.Telemetry.TempoAddr)
		if err != nil {
			slog.Warn("telemetry init failed", "error", err)
		} else {
			defer shutdown()
		}
	}

	// The worker executes stages itself; it never dispatches.
	cfg.Pipeline.Runner = config.RunnerLocal
	a, err := app.New(ctx, cfg)
	if err != nil {
		log.Fatalf("pipeline: %v", err)
	}
	defer a.Close()

	c, err := a.TemporalClient()
	if err != nil {
		log.Fatalf("%v", err)
	}

	w := worker.New(c, cfg.Temporal.TaskQueue, worker.Options{})

	// Register workflow & activities
	w.RegisterWorkflow(workflows.EnrichmentWorkflow)
	w.RegisterActivity(&workflows.EnrichmentActivities{Pipeline: a.Pipeline})

	slog.Info("enrichment worker started", "task_queue", cfg.Temporal.TaskQueue, "namespace", cfg.Temporal.Namespace)
	if err := w.Run(worker.InterruptCh()); err != nil {
		log.Fatalf("worker: %v", err)
	}
}
