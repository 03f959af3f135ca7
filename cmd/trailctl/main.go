// Command trailctl runs pipeline stages from the command line. Each stage
// reads its predecessor's artifact, so any stage can be re-run on its own.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"

	"github.com/spf13/pflag"

	"github.com/samirrijal/trailkit/internal/app"
	"github.com/samirrijal/trailkit/internal/core/domain"
	"github.com/samirrijal/trailkit/internal/core/ports"
	"github.com/samirrijal/trailkit/internal/core/usecases"
	"github.com/samirrijal/trailkit/internal/pkg/config"
	"github.com/samirrijal/trailkit/internal/pkg/logging"
)

const usage = `usage: trailctl [flags] <command> [args]

commands:
  fetch    <workspace> <minX,minY,maxX,maxY>   fetch every catalog layer
  assemble <session> <workspace> <id,id,...>   build the final route
  enrich   <session>                           sample elevation, classify slope
  filter   <session> <workspace>               keep trailheads near the route
  run      <workspace> <id,id,...>             assemble, enrich and filter as one session
  status   <session>                           show a session
  summary  <session>                           per-segment slope and difficulty
  kml      <session>                           write the route as KML to stdout

flags:
`

func main() {
	flags := pflag.NewFlagSet("trailctl", pflag.ContinueOnError)
	logLevel := flags.StringP("log-level", "l", "info", "log level: debug, info, warn, error")
	logFormat := flags.String("log-format", "text", "log format: text or json")
	flags.Usage = func() {
		fmt.Fprint(os.Stderr, usage)
		flags.PrintDefaults()
	}
	if err := flags.Parse(os.Args[1:]); err != nil {
		os.Exit(2)
	}
	args := flags.Args()
	if len(args) == 0 {
		flags.Usage()
		os.Exit(2)
	}

	slog.SetDefault(logging.New(os.Stderr, *logLevel, *logFormat))

	if err := run(args[0], args[1:]); err != nil {
		slog.Error("trailctl failed", "command", args[0], "error", err)
		os.Exit(1)
	}
}

func run(command string, args []string) error {
	cfg, err := config.Load("trailctl")
	if err != nil {
		return err
	}
	// Stages always run in this process.
	cfg.Pipeline.Runner = config.RunnerLocal

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := app.New(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.Close()
	p := a.Pipeline

	switch command {
	case "fetch":
		if err := need(args, 2, "fetch <workspace> <minX,minY,maxX,maxY>"); err != nil {
			return err
		}
		bbox, err := parseBBox(args[1])
		if err != nil {
			return err
		}
		workspace, results, err := p.FetchAll(ctx, args[0], bbox)
		if errors.Is(err, domain.ErrNoDataFound) {
			slog.Warn("no features found", "workspace", workspace, "bbox", bbox.String())
			results, err = []domain.LayerResult{}, nil
		}
		if err != nil {
			return err
		}
		return printJSON(map[string]interface{}{"workspace": workspace, "layers": results})

	case "assemble":
		if err := need(args, 3, "assemble <session> <workspace> <id,id,...>"); err != nil {
			return err
		}
		route, err := p.Assemble(ctx, args[0], args[1], splitIDs(args[2]))
		if err != nil {
			return err
		}
		return printJSON(map[string]interface{}{"session": args[0], "features": route.Len()})

	case "enrich":
		if err := need(args, 1, "enrich <session>"); err != nil {
			return err
		}
		route, err := p.Enrich(ctx, args[0])
		if err != nil {
			return err
		}
		return printJSON(p.SummarizeRoute(route))

	case "filter":
		if err := need(args, 2, "filter <session> <workspace>"); err != nil {
			return err
		}
		kept, err := p.FilterTrailheadsIfPresent(ctx, args[0], args[1])
		if err != nil {
			return err
		}
		return printJSON(map[string]interface{}{"session": args[0], "trailheads": kept})

	case "run":
		if err := need(args, 2, "run <workspace> <id,id,...>"); err != nil {
			return err
		}
		p.SetDispatcher(inline{p})
		s, err := p.AssembleAndEnrich(ctx, "", args[0], splitIDs(args[1]))
		if err != nil {
			return err
		}
		if s, err = p.GetSession(ctx, s.ID); err != nil {
			return err
		}
		if err := printJSON(s); err != nil {
			return err
		}
		if s.State == domain.SessionFailed {
			return fmt.Errorf("session %s failed: %s", s.ID, s.Reason)
		}
		return nil

	case "status":
		if err := need(args, 1, "status <session>"); err != nil {
			return err
		}
		s, err := p.GetSession(ctx, args[0])
		if err != nil {
			return err
		}
		return printJSON(s)

	case "summary":
		if err := need(args, 1, "summary <session>"); err != nil {
			return err
		}
		segments, err := p.Summary(ctx, args[0])
		if err != nil {
			return err
		}
		return printJSON(segments)

	case "kml":
		if err := need(args, 1, "kml <session>"); err != nil {
			return err
		}
		return p.RouteKML(ctx, args[0], os.Stdout)

	default:
		return fmt.Errorf("unknown command %q", command)
	}
}

// inline runs enrichment jobs on the caller's goroutine. The outcome is
// recorded on the session, so Dispatch itself never fails.
type inline struct {
	runner usecases.JobRunner
}

func (d inline) Dispatch(ctx context.Context, job ports.EnrichmentJob) error {
	if err := d.runner.RunEnrichment(ctx, job); err != nil {
		slog.Debug("enrichment run ended with error", "session", job.SessionID, "error", err)
	}
	return nil
}

func need(args []string, n int, form string) error {
	if len(args) < n {
		return fmt.Errorf("usage: trailctl %s", form)
	}
	return nil
}

func parseBBox(s string) (domain.BoundingBox, error) {
	parts := strings.Split(s, ",")
	values := make([]float64, 0, len(parts))
	for _, part := range parts {
		v, err := strconv.ParseFloat(strings.TrimSpace(part), 64)
		if err != nil {
			return domain.BoundingBox{}, fmt.Errorf("%w: bbox value %q", domain.ErrInvalidInput, part)
		}
		values = append(values, v)
	}
	return domain.ParseBoundingBox(values)
}

func splitIDs(s string) []string {
	return strings.Split(s, ",")
}

func printJSON(v interface{}) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
