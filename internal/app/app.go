// Package app wires the hazard monitor's components from configuration.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"

	"github.com/go-redis/redis/v8"
	"golang.org/x/sync/errgroup"

	httpadapter "github.com/couchcryptid/wreck-hazard-monitor/internal/adapter/http"
	kafkaadapter "github.com/couchcryptid/wreck-hazard-monitor/internal/adapter/kafka"
	"github.com/couchcryptid/wreck-hazard-monitor/internal/adapter/objectstore"
	"github.com/couchcryptid/wreck-hazard-monitor/internal/adapter/spc"
	"github.com/couchcryptid/wreck-hazard-monitor/internal/adapter/usgs"
	"github.com/couchcryptid/wreck-hazard-monitor/internal/aggregator"
	"github.com/couchcryptid/wreck-hazard-monitor/internal/config"
	"github.com/couchcryptid/wreck-hazard-monitor/internal/domain"
	"github.com/couchcryptid/wreck-hazard-monitor/internal/manifest"
	"github.com/couchcryptid/wreck-hazard-monitor/internal/observability"
	"github.com/couchcryptid/wreck-hazard-monitor/internal/pipeline"
	"github.com/couchcryptid/wreck-hazard-monitor/internal/store"
	"github.com/couchcryptid/wreck-hazard-monitor/internal/store/memstore"
	"github.com/couchcryptid/wreck-hazard-monitor/internal/store/redisstore"
	"github.com/couchcryptid/wreck-hazard-monitor/internal/trigger"
)

// App holds the wired components of one hazard monitor process.
type App struct {
	cfg     *config.Config
	logger  *slog.Logger
	metrics *observability.Metrics

	Store      store.Store
	Jobs       []pipeline.Job
	Scheduler  *pipeline.Scheduler
	Aggregator *aggregator.Aggregator
	Manifest   *manifest.Builder

	storeFeed func(ctx context.Context, group string) (store.ChangeFeed, error)
	closers   []func() error
}

// New builds the store, hazard processors, aggregator, and manifest builder.
// Long-running loops are started by Run.
func New(cfg *config.Config, logger *slog.Logger, metrics *observability.Metrics) (*App, error) {
	a := &App{cfg: cfg, logger: logger, metrics: metrics}

	if err := a.openStore(); err != nil {
		return nil, err
	}

	for _, hazard := range cfg.EnabledHazards() {
		job, err := a.newJob(hazard)
		if err != nil {
			_ = a.Close()
			return nil, err
		}
		a.Jobs = append(a.Jobs, job)
	}
	a.Scheduler = pipeline.NewScheduler(a.Store, cfg.SiteCollections, a.Jobs, cfg.ProcessInterval, nil, logger, metrics)
	a.Aggregator = aggregator.New(a.Store, logger, metrics)

	var objects manifest.ObjectWriter
	if cfg.ManifestBucket != "" {
		client, err := objectstore.New(objectstore.Config{
			Endpoint:  cfg.S3Endpoint,
			AccessKey: cfg.S3AccessKey,
			SecretKey: cfg.S3SecretKey,
			Region:    cfg.S3Region,
			UseSSL:    cfg.S3UseSSL,
		}, logger)
		if err != nil {
			_ = a.Close()
			return nil, err
		}
		objects = client
	}
	a.Manifest = manifest.NewBuilder(a.Store, objects, cfg.ManifestBucket, cfg.AppID, cfg.SiteCollections, logger, metrics)

	return a, nil
}

func (a *App) openStore() error {
	switch a.cfg.Store {
	case config.StoreMemory:
		st := memstore.New(a.cfg.TxMaxAttempts)
		a.Store = st
		a.storeFeed = func(context.Context, string) (store.ChangeFeed, error) {
			return st.Changes(), nil
		}
		a.logger.Warn("using in-memory store, data is lost on exit")
	default:
		client := redis.NewClient(&redis.Options{
			Addr:     a.cfg.RedisAddr,
			Password: a.cfg.RedisPassword,
			DB:       a.cfg.RedisDB,
		})
		st := redisstore.New(client, a.cfg.RedisPrefix, a.cfg.TxMaxAttempts)
		a.Store = st
		a.closers = append(a.closers, client.Close)
		a.storeFeed = func(ctx context.Context, group string) (store.ChangeFeed, error) {
			return redisstore.NewFeed(ctx, st, group, consumerName(), 0)
		}
		a.logger.Info("using redis store", "addr", a.cfg.RedisAddr, "prefix", a.cfg.RedisPrefix)
	}
	return nil
}

func (a *App) newJob(hazard string) (pipeline.Job, error) {
	h := a.cfg.Hazards[hazard]
	model, err := domain.ModelFor(hazard, h.Threshold)
	if err != nil {
		return pipeline.Job{}, err
	}

	var feed pipeline.HazardFeed
	switch hazard {
	case domain.HazardEarthquakes:
		feed = usgs.NewClient(a.cfg.USGSBaseURL, a.cfg.USGSMinMagnitude, a.cfg.FeedTimeout, a.logger, a.metrics)
	case domain.HazardStorms:
		feed = spc.NewClient(a.cfg.SPCBaseURL, a.cfg.FeedTimeout, a.logger, a.metrics)
	default:
		return pipeline.Job{}, fmt.Errorf("no feed for hazard type %q", hazard)
	}

	a.logger.Info("hazard processing enabled", "hazard_type", hazard, "feed", feed.Name(),
		"threshold", h.Threshold, "window", h.Window)
	return pipeline.Job{
		Processor: pipeline.NewProcessor(feed, model, a.Store, a.logger, a.metrics, a.cfg.ProcessWorkers),
		Window:    h.Window,
	}, nil
}

// Job returns the configured job for hazard.
func (a *App) Job(hazard string) (pipeline.Job, bool) {
	for _, job := range a.Jobs {
		if job.Processor.HazardType() == hazard {
			return job, true
		}
	}
	return pipeline.Job{}, false
}

// CheckReadiness reports ready once the store is reachable.
func (a *App) CheckReadiness(ctx context.Context) error {
	if err := a.Store.Ping(ctx); err != nil {
		return fmt.Errorf("store: %w", err)
	}
	return nil
}

// Run starts the HTTP server, the processing scheduler, change delivery to
// the aggregator, change log trimming, and the manifest loop. It blocks until
// ctx is cancelled and the HTTP server has drained.
func (a *App) Run(ctx context.Context) error {
	var (
		relay  *trigger.Relay
		writer *kafkaadapter.Writer
	)
	if a.cfg.KafkaEnabled {
		source, err := a.storeFeed(ctx, a.cfg.AppID+"-relay")
		if err != nil {
			return fmt.Errorf("open store change feed: %w", err)
		}
		writer = kafkaadapter.NewWriter(a.cfg.KafkaBrokers, a.cfg.KafkaChangesTopic, a.logger)
		a.closers = append(a.closers, writer.Close)
		relay = trigger.NewRelay(source, writer, isEventPath, a.logger, a.metrics)
	}

	dispatchers, err := a.dispatchers(ctx, writer)
	if err != nil {
		return err
	}

	var trimmer *trigger.Trimmer
	if t, ok := a.Store.(store.ChangeTrimmer); ok && a.cfg.ChangeTrimInterval > 0 {
		trimmer = trigger.NewTrimmer(t, a.cfg.ChangeTrimInterval, nil, a.logger, a.metrics)
	}

	srv := httpadapter.NewServer(a.cfg.HTTPAddr, a, a.Manifest, a.logger)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		a.logger.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), a.cfg.ShutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			a.logger.Error("http server shutdown error", "error", err)
		}
		return nil
	})
	g.Go(func() error { return a.Scheduler.Run(gctx) })
	for _, d := range dispatchers {
		g.Go(func() error { return d.Run(gctx) })
	}
	g.Go(func() error { return a.Manifest.Run(gctx, a.cfg.ManifestInterval, nil) })
	if relay != nil {
		g.Go(func() error { return relay.Run(gctx) })
	}
	if trimmer != nil {
		g.Go(func() error { return trimmer.Run(gctx) })
	}

	return g.Wait()
}

// dispatchers builds change delivery to the aggregator. From Kafka, each
// consumer group member gets its own serial dispatcher, since a committed
// offset acknowledges the whole partition up to it; changes the aggregator
// keeps failing on are republished through requeue. From the store's own
// feed, one dispatcher spreads changes over workers keyed by site.
func (a *App) dispatchers(ctx context.Context, requeue kafkaadapter.Republisher) ([]*trigger.Dispatcher, error) {
	if a.cfg.KafkaEnabled {
		readers := max(a.cfg.DispatchWorkers, 1)
		out := make([]*trigger.Dispatcher, 0, readers)
		for range readers {
			reader := kafkaadapter.NewReader(a.cfg.KafkaBrokers, a.cfg.KafkaChangesTopic, a.cfg.KafkaGroupID, a.logger).
				WithRequeue(requeue)
			a.closers = append(a.closers, reader.Close)
			out = append(out, trigger.NewDispatcher(reader, a.Aggregator.HandleChange, a.cfg.DispatchMaxAttempts, a.logger, a.metrics))
		}
		a.logger.Info("reading changes from kafka", "topic", a.cfg.KafkaChangesTopic,
			"group", a.cfg.KafkaGroupID, "readers", len(out))
		return out, nil
	}

	feed, err := a.storeFeed(ctx, a.cfg.AppID+"-aggregator")
	if err != nil {
		return nil, fmt.Errorf("open store change feed: %w", err)
	}
	d := trigger.NewDispatcher(feed, a.Aggregator.HandleChange, a.cfg.DispatchMaxAttempts, a.logger, a.metrics).
		WithWorkers(a.cfg.DispatchWorkers, siteKey)
	return []*trigger.Dispatcher{d}, nil
}

// Close releases connections opened by New and Run.
func (a *App) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}

// siteKey orders event changes by the site they belong to.
func siteKey(ch store.Change) string {
	if sitePath, _, _, ok := domain.ParseEventPath(ch.Path); ok {
		return sitePath
	}
	return ch.Path
}

func isEventPath(path string) bool {
	_, _, _, ok := domain.ParseEventPath(path)
	return ok
}

func consumerName() string {
	host, err := os.Hostname()
	if err != nil || host == "" {
		return "hazard-monitor"
	}
	return host
}
