// Command eventlog tails session events from NATS JetStream and writes one
// structured log line per state change.
package main

import (
	"context"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	natsadapter "github.com/samirrijal/trailkit/internal/adapters/nats"
	"github.com/samirrijal/trailkit/internal/core/domain"
	"github.com/samirrijal/trailkit/internal/pkg/config"
	"github.com/samirrijal/trailkit/internal/pkg/logging"
)

func main() {
	cfg, err := config.Load("trailkit-eventlog")
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	logging.Setup(cfg.Log.Level, cfg.Log.Format)

	durable := "trailkit-eventlog"
	if len(os.Args) > 1 {
		durable = os.Args[1]
	}

	sub, err := natsadapter.NewSubscriber(cfg.NATS.URL, durable)
	if err != nil {
		log.Fatalf("nats: %v", err)
	}
	defer sub.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	err = sub.SubscribeSessionEvents(ctx, func(ctx context.Context, ev *domain.SessionEvent) error {
		attrs := []any{
			"session", ev.SessionID,
			"workspace", ev.Workspace,
			"state", ev.State,
			"at", ev.At,
		}
		if ev.Stage != "" {
			attrs = append(attrs, "stage", ev.Stage)
		}
		if ev.State == domain.SessionFailed {
			slog.Warn("session failed", append(attrs, "reason", ev.Reason)...)
			return nil
		}
		slog.Info("session event", attrs...)
		return nil
	})
	if err != nil {
		log.Fatalf("subscribe: %v", err)
	}

	slog.Info("eventlog started", "subjects", natsadapter.SessionSubjects, "durable", durable)
	<-ctx.Done()
	slog.Info("eventlog stopped")
}
