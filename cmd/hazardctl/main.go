// Command hazardctl runs single hazard monitor operations against the
// configured store, for backfills and operations work.
//
// Usage:
//
//	hazardctl process -hazard earthquakes [-window 24h]
//	hazardctl aggregate -site wrecks/w-1 -hazard earthquakes -event ci40000001
//	hazardctl manifest [-print]
//	hazardctl seed -file sites.json
//
// Configuration is read from the same environment as the service.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	sharedobs "github.com/couchcryptid/storm-data-shared/observability"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/couchcryptid/wreck-hazard-monitor/internal/app"
	"github.com/couchcryptid/wreck-hazard-monitor/internal/config"
	"github.com/couchcryptid/wreck-hazard-monitor/internal/domain"
	"github.com/couchcryptid/wreck-hazard-monitor/internal/observability"
	"github.com/couchcryptid/wreck-hazard-monitor/internal/pipeline"
	"github.com/couchcryptid/wreck-hazard-monitor/internal/store"
)

var errUsage = errors.New("usage: hazardctl <process|aggregate|manifest|seed> [flags]")

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	err := run(ctx, os.Args[1:], os.Stdout)
	stop()
	if err != nil {
		log.Fatal(err)
	}
}

func run(ctx context.Context, args []string, out io.Writer) error {
	if len(args) == 0 {
		return errUsage
	}

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	logger := sharedobs.NewLogger(cfg.LogLevel, cfg.LogFormat)

	// One-shot commands keep their counters on a private registry.
	a, err := app.New(cfg, logger, observability.NewMetricsWith(prometheus.NewRegistry()))
	if err != nil {
		return err
	}
	defer a.Close()

	cmd, rest := args[0], args[1:]
	switch cmd {
	case "process":
		return runProcess(ctx, a, cfg, logger, rest, out)
	case "aggregate":
		return runAggregate(ctx, a, rest, out)
	case "manifest":
		return runManifest(ctx, a, rest, out)
	case "seed":
		return runSeed(ctx, a.Store, cfg.SiteCollections[0], rest, out)
	default:
		return fmt.Errorf("unknown command %q: %w", cmd, errUsage)
	}
}

func runProcess(ctx context.Context, a *app.App, cfg *config.Config, logger *slog.Logger, args []string, out io.Writer) error {
	fs := flag.NewFlagSet("process", flag.ContinueOnError)
	hazard := fs.String("hazard", domain.HazardEarthquakes, "hazard type to process")
	window := fs.Duration("window", 0, "lookback window (default: configured window)")
	if err := fs.Parse(args); err != nil {
		return err
	}

	job, ok := a.Job(*hazard)
	if !ok {
		return fmt.Errorf("hazard type %q is not enabled", *hazard)
	}
	if *window > 0 {
		job.Window = *window
	}

	sites, err := pipeline.LoadSites(ctx, a.Store, cfg.SiteCollections, logger)
	if err != nil {
		return err
	}
	res, err := job.Processor.Process(ctx, sites, job.Window)
	if err != nil {
		return err
	}
	return writeJSON(out, map[string]any{
		"hazardType":      *hazard,
		"sites":           len(sites),
		"window":          job.Window.String(),
		"consideredPairs": res.ConsideredPairs,
		"eventsWritten":   res.EventsWritten,
		"exceeded":        res.Exceeded,
	})
}

func runAggregate(ctx context.Context, a *app.App, args []string, out io.Writer) error {
	fs := flag.NewFlagSet("aggregate", flag.ContinueOnError)
	site := fs.String("site", "", "site document path, e.g. wrecks/w-1")
	hazard := fs.String("hazard", domain.HazardEarthquakes, "hazard type")
	event := fs.String("event", "", "event id")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *site == "" || *event == "" {
		fs.Usage()
		return errors.New("missing required flags: -site, -event")
	}

	outcome, err := a.Aggregator.Aggregate(ctx, *site, *hazard, *event)
	if err != nil {
		return err
	}
	return writeJSON(out, map[string]string{"outcome": outcome.String()})
}

func runManifest(ctx context.Context, a *app.App, args []string, out io.Writer) error {
	fs := flag.NewFlagSet("manifest", flag.ContinueOnError)
	printOnly := fs.Bool("print", false, "print the snapshot instead of uploading it")
	if err := fs.Parse(args); err != nil {
		return err
	}

	now := time.Now()
	if *printOnly {
		snap, err := a.Manifest.Snapshot(ctx, now)
		if err != nil {
			return err
		}
		return writeJSON(out, snap)
	}
	return a.Manifest.BuildHourlySnapshot(ctx, now)
}

// seedSite is one entry of a seed file. Fields other than collection and id
// are written to the site document as-is.
type seedSite map[string]any

func runSeed(ctx context.Context, st store.Store, defaultCollection string, args []string, out io.Writer) error {
	fs := flag.NewFlagSet("seed", flag.ContinueOnError)
	file := fs.String("file", "", "JSON file with an array of sites")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *file == "" {
		fs.Usage()
		return errors.New("missing required flag: -file")
	}

	data, err := os.ReadFile(*file)
	if err != nil {
		return fmt.Errorf("read seed file: %w", err)
	}
	var sites []seedSite
	if err := json.Unmarshal(data, &sites); err != nil {
		return fmt.Errorf("parse seed file: %w", err)
	}

	for i, s := range sites {
		collection, _ := s["collection"].(string)
		if collection == "" {
			collection = defaultCollection
		}
		id, _ := s["id"].(string)
		if id == "" {
			return fmt.Errorf("site %d: missing id", i)
		}
		doc := store.Document{}
		for k, v := range s {
			if k != "collection" && k != "id" {
				doc[k] = v
			}
		}
		if err := st.Merge(ctx, domain.SitePath(collection, id), doc); err != nil {
			return fmt.Errorf("site %d: %w", i, err)
		}
	}
	_, err = fmt.Fprintf(out, "seeded %d sites\n", len(sites))
	return err
}

func writeJSON(out io.Writer, v any) error {
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
