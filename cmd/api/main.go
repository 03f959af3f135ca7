package main

import (
	"context"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/recover"

	"github.com/samirrijal/trailkit/internal/adapters/http"
	"github.com/samirrijal/trailkit/internal/app"
	"github.com/samirrijal/trailkit/internal/pkg/config"
	"github.com/samirrijal/trailkit/internal/pkg/logging"
	"github.com/samirrijal/trailkit/internal/pkg/metrics"
	"github.com/samirrijal/trailkit/internal/pkg/telemetry"
)

var version = "dev"

func main() {
	cfg, err := config.Load("trailkit-api")
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	// Structured logging
	logging.Setup(cfg.Log.Level, cfg.Log.Format)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Telemetry
	if cfg.Telemetry.Enabled {
		shutdown, err := telemetry.InitTracer(ctx, cfg.Telemetry.ServiceName, cfg.Telemetry.TempoAddr)
		if err != nil {
			slog.Warn("telemetry init failed", "error", err)
		} else {
			defer shutdown()
		}
	}

	a, err := app.New(ctx, cfg)
	if err != nil {
		log.Fatalf("pipeline: %v", err)
	}

	// In-process runs die with the process; nothing will ever finish them.
	if cfg.Pipeline.Runner == config.RunnerLocal {
		n, err := a.Pipeline.RecoverInterrupted(ctx)
		if err != nil {
			log.Fatalf("recover sessions: %v", err)
		}
		if n > 0 {
			slog.Warn("failed interrupted sessions", "count", n)
		}
	}

	// Pool gauges
	if a.DB != nil {
		go func() {
			ticker := time.NewTicker(15 * time.Second)
			defer ticker.Stop()
			for {
				select {
				case <-ctx.Done():
					return
				case <-ticker.C:
					metrics.UpdateDBPoolMetrics(a.DB.Pool.Stat())
				}
			}
		}()
	}

	checks := make(map[string]http.Check, len(a.Checks))
	for name, check := range a.Checks {
		checks[name] = check
	}
	deps := &http.Dependencies{
		Pipeline: a.Pipeline,
		Weather:  a.Weather,
		NATS:     a.NATS,
		Checks:   checks,
		Version:  version,
	}

	// Fiber
	server := fiber.New(fiber.Config{
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeout) * time.Second,
		BodyLimit:    1024 * 1024, // 1 MB max request body
		AppName:      "trailkit API",
	})
	server.Use(recover.New())
	server.Use(cors.New(cors.Config{
		AllowOrigins:     "http://localhost:3000, http://localhost:5173",
		AllowMethods:     "GET,POST,OPTIONS",
		AllowHeaders:     "Origin, Content-Type, Accept, If-None-Match",
		ExposeHeaders:    "Location, ETag, Link",
		AllowCredentials: false,
		MaxAge:           3600,
	}))

	http.SetupRoutes(server, deps, http.Options{RateLimit: cfg.Server.RateLimit})

	// Graceful shutdown
	go func() {
		addr := fmt.Sprintf(":%d", cfg.Server.Port)
		slog.Info("API server starting", "addr", addr, "version", version)
		if err := server.Listen(addr); err != nil {
			log.Fatalf("listen: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	sig := <-quit

	slog.Info("shutdown signal received, draining connections...", "signal", sig.String())

	// Give in-flight requests up to 10s to complete
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := server.ShutdownWithContext(shutdownCtx); err != nil {
		slog.Error("forced shutdown", "error", err)
	}

	// Running enrichment jobs are cancelled and recorded as failed.
	if err := a.Shutdown(shutdownCtx); err != nil {
		slog.Error("pipeline shutdown", "error", err)
	}

	slog.Info("server stopped")
}
