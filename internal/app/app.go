// Package app builds long-lived services from configuration and owns their
// shutdown.
package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"cloud.google.com/go/pubsub"
	"cloud.google.com/go/storage"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/JakeFAU/cert-registry-crawler/internal/api"
	"github.com/JakeFAU/cert-registry-crawler/internal/clock/system"
	"github.com/JakeFAU/cert-registry-crawler/internal/config"
	"github.com/JakeFAU/cert-registry-crawler/internal/crawler"
	collyfetcher "github.com/JakeFAU/cert-registry-crawler/internal/fetcher/colly"
	headlessfetcher "github.com/JakeFAU/cert-registry-crawler/internal/fetcher/headless"
	"github.com/JakeFAU/cert-registry-crawler/internal/hash/sha256"
	"github.com/JakeFAU/cert-registry-crawler/internal/id/uuid"
	"github.com/JakeFAU/cert-registry-crawler/internal/normalize"
	"github.com/JakeFAU/cert-registry-crawler/internal/orchestrator"
	"github.com/JakeFAU/cert-registry-crawler/internal/policy/ratelimit"
	"github.com/JakeFAU/cert-registry-crawler/internal/progress"
	"github.com/JakeFAU/cert-registry-crawler/internal/progress/sinks"
	pubsubpublisher "github.com/JakeFAU/cert-registry-crawler/internal/publisher/pubsub"
	"github.com/JakeFAU/cert-registry-crawler/internal/registry"
	gcsstorage "github.com/JakeFAU/cert-registry-crawler/internal/storage/gcs"
	localstorage "github.com/JakeFAU/cert-registry-crawler/internal/storage/local"
	memorystorage "github.com/JakeFAU/cert-registry-crawler/internal/storage/memory"
	"github.com/JakeFAU/cert-registry-crawler/internal/subscriber"
	"github.com/JakeFAU/cert-registry-crawler/internal/warehouse"
	memorywarehouse "github.com/JakeFAU/cert-registry-crawler/internal/warehouse/memory"
	postgreswarehouse "github.com/JakeFAU/cert-registry-crawler/internal/warehouse/postgres"
)

// App holds the services shared by the serve, crawl, and subscribe commands.
type App struct {
	Config       config.Config
	Logger       *zap.Logger
	Orchestrator *orchestrator.Orchestrator
	Warehouse    warehouse.Store
	Trigger      *subscriber.Trigger
	Archive      crawler.BlobStore

	pubsub  *pubsub.Client
	hub     *progress.Hub
	closers []func()
}

// Option customizes New.
type Option func(*options)

type options struct {
	registerer   prometheus.Registerer
	pubsubClient *pubsub.Client
	fetcher      crawler.Fetcher
}

// WithRegisterer sets where progress metrics register. Defaults to the
// Prometheus default registerer.
func WithRegisterer(reg prometheus.Registerer) Option {
	return func(o *options) { o.registerer = reg }
}

// WithPubSubClient reuses an existing client instead of dialing one.
func WithPubSubClient(c *pubsub.Client) Option {
	return func(o *options) { o.pubsubClient = c }
}

// WithFetcher overrides the registry fetcher.
func WithFetcher(f crawler.Fetcher) Option {
	return func(o *options) { o.fetcher = f }
}

// New builds every collaborator cfg selects. Services already started are
// closed when a later one fails.
func New(ctx context.Context, cfg config.Config, logger *zap.Logger, opts ...Option) (_ *App, err error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	o := options{registerer: prometheus.DefaultRegisterer}
	for _, opt := range opts {
		opt(&o)
	}

	a := &App{Config: cfg, Logger: logger, pubsub: o.pubsubClient}
	defer func() {
		if err != nil {
			a.Close(context.Background())
		}
	}()

	fetcher := o.fetcher
	if fetcher == nil {
		if fetcher, err = a.buildFetcher(); err != nil {
			return nil, err
		}
	}
	clock := system.New()
	regClient, err := registry.NewClient(fetcher,
		registry.Listings(registry.Config{
			RegularURL:     cfg.Registry.RegularURL,
			GrandMasterURL: cfg.Registry.GrandMasterURL,
		}),
		registry.WithLimiter(ratelimit.New(ratelimit.Config{
			RequestsPerSecond: cfg.Crawler.RequestsPerSecond,
			Burst:             cfg.Crawler.Burst,
		})),
		registry.WithClock(clock),
		registry.WithLogger(logger.Named("registry")),
	)
	if err != nil {
		return nil, fmt.Errorf("build registry client: %w", err)
	}

	orgs, err := loadOrgMap(cfg.Registry.OrgMapPath)
	if err != nil {
		return nil, err
	}

	if err := a.buildProgress(o.registerer); err != nil {
		return nil, err
	}
	if a.Archive, err = a.buildArchive(ctx); err != nil {
		return nil, err
	}
	if a.Warehouse, err = a.buildWarehouse(ctx); err != nil {
		return nil, err
	}

	orchOpts := []orchestrator.Option{
		orchestrator.WithOrgMap(orgs),
		orchestrator.WithClock(clock),
		orchestrator.WithIDGenerator(uuid.New()),
		orchestrator.WithHasher(sha256.New()),
		orchestrator.WithProgress(a.hub),
		orchestrator.WithLogger(logger.Named("orchestrator")),
	}
	if a.Archive != nil {
		orchOpts = append(orchOpts, orchestrator.WithArchive(a.Archive))
	}
	if cfg.PubSub.TopicName != "" {
		client, err := a.pubsubClient(ctx)
		if err != nil {
			return nil, err
		}
		pub := pubsubpublisher.New(client)
		a.closers = append(a.closers, pub.Stop)
		orchOpts = append(orchOpts, orchestrator.WithPublisher(pub))
	}
	a.Orchestrator, err = orchestrator.New(orchestrator.Config{
		Concurrency:   cfg.Crawler.Concurrency,
		PageTimeout:   cfg.PageTimeout(),
		CrawlTimeout:  cfg.CrawlTimeout(),
		ArchivePrefix: cfg.Storage.Prefix,
		NotifyTopic:   cfg.PubSub.TopicName,
	}, regClient, orchOpts...)
	if err != nil {
		return nil, fmt.Errorf("build orchestrator: %w", err)
	}

	a.Trigger, err = subscriber.NewTrigger(a.Orchestrator, a.Warehouse, logger.Named("trigger"))
	if err != nil {
		return nil, fmt.Errorf("build trigger: %w", err)
	}

	logger.Info("application services initialized",
		zap.String("warehouse", cfg.Warehouse.Provider),
		zap.String("storage", cfg.Storage.Provider),
		zap.Bool("headless", cfg.Headless.Enabled),
		zap.Int("org_rules", orgs.Len()),
	)
	return a, nil
}

func (a *App) buildFetcher() (crawler.Fetcher, error) {
	cfg := a.Config
	if !cfg.Headless.Enabled {
		return collyfetcher.New(collyfetcher.Config{
			UserAgent: cfg.Registry.UserAgent,
			Timeout:   cfg.FetchTimeout(),
		}), nil
	}
	f, err := headlessfetcher.NewChromedp(headlessfetcher.Config{
		MaxParallel:       cfg.Headless.MaxParallel,
		UserAgent:         cfg.Registry.UserAgent,
		NavigationTimeout: time.Duration(cfg.Headless.NavTimeoutSec) * time.Second,
	})
	if err != nil {
		return nil, fmt.Errorf("build headless fetcher: %w", err)
	}
	a.closers = append(a.closers, f.Close)
	return f, nil
}

func loadOrgMap(path string) (*normalize.OrgMap, error) {
	m, err := normalize.LoadOrgMap(path)
	if err != nil {
		return nil, fmt.Errorf("load org map: %w", err)
	}
	return m, nil
}

func (a *App) buildProgress(reg prometheus.Registerer) error {
	promSink, err := sinks.NewPrometheusSink(reg)
	if err != nil {
		return fmt.Errorf("build progress metrics: %w", err)
	}
	pc := a.Config.Progress
	a.hub = progress.NewHub(progress.Config{
		BufferSize:     pc.BufferSize,
		MaxBatchEvents: pc.MaxBatchEvents,
		MaxBatchWait:   time.Duration(pc.MaxBatchWaitMs) * time.Millisecond,
		Logger:         a.Logger.Named("progress"),
	}, sinks.NewLogSink(a.Logger.Named("progress")), promSink)
	return nil
}

func (a *App) buildArchive(ctx context.Context) (crawler.BlobStore, error) {
	sc := a.Config.Storage
	switch sc.Provider {
	case config.ProviderNone, "":
		return nil, nil
	case config.ProviderMemory:
		return memorystorage.NewBlobStore(), nil
	case config.ProviderLocal:
		store, err := localstorage.New(localstorage.Config{BaseDir: sc.LocalDir})
		if err != nil {
			return nil, fmt.Errorf("build local archive: %w", err)
		}
		return store, nil
	case config.ProviderGCS:
		client, err := storage.NewClient(ctx)
		if err != nil {
			return nil, fmt.Errorf("create storage client: %w", err)
		}
		store, err := gcsstorage.New(client, gcsstorage.Config{Bucket: sc.GCSBucket, CacheControl: sc.CacheControl})
		if err != nil {
			_ = client.Close()
			return nil, fmt.Errorf("build gcs archive: %w", err)
		}
		a.closers = append(a.closers, func() {
			if err := store.Close(); err != nil {
				a.Logger.Warn("close storage client", zap.Error(err))
			}
		})
		return store, nil
	default:
		return nil, fmt.Errorf("unknown storage provider %q", sc.Provider)
	}
}

func (a *App) buildWarehouse(ctx context.Context) (warehouse.Store, error) {
	wc := a.Config.Warehouse
	switch wc.Provider {
	case config.ProviderMemory, "":
		return memorywarehouse.NewStore(), nil
	case config.ProviderPostgres:
		store, err := postgreswarehouse.NewStore(ctx, postgreswarehouse.Config{
			DSN:      wc.DSN,
			Schema:   wc.Schema,
			Table:    wc.Table,
			MaxConns: wc.MaxConns,
		})
		if err != nil {
			return nil, fmt.Errorf("build postgres warehouse: %w", err)
		}
		return store, nil
	default:
		return nil, fmt.Errorf("unknown warehouse provider %q", wc.Provider)
	}
}

func (a *App) pubsubClient(ctx context.Context) (*pubsub.Client, error) {
	if a.pubsub != nil {
		return a.pubsub, nil
	}
	if a.Config.PubSub.ProjectID == "" {
		return nil, errors.New("pubsub.project_id is required")
	}
	client, err := pubsub.NewClient(ctx, a.Config.PubSub.ProjectID)
	if err != nil {
		return nil, fmt.Errorf("create pubsub client: %w", err)
	}
	a.pubsub = client
	a.closers = append(a.closers, func() {
		if err := client.Close(); err != nil {
			a.Logger.Warn("close pubsub client", zap.Error(err))
		}
	})
	return client, nil
}

// Server builds the HTTP front end.
func (a *App) Server() *api.Server {
	return api.NewServer(api.Config{
		Auth: api.AuthConfig{
			Enabled: a.Config.Auth.Enabled,
			APIKey:  a.Config.Auth.APIKey,
		},
		RequestTimeout:     a.Config.RequestTimeout(),
		DefaultCachedLimit: a.Config.Warehouse.CachedLimit,
	}, a.Orchestrator, a.Warehouse, a.Trigger, a.Logger.Named("api"))
}

// Subscriber builds the Pub/Sub trigger consumer.
func (a *App) Subscriber(ctx context.Context) (*subscriber.Subscriber, error) {
	if err := a.Config.ValidateSubscriber(); err != nil {
		return nil, err
	}
	client, err := a.pubsubClient(ctx)
	if err != nil {
		return nil, err
	}
	return subscriber.New(
		client.Subscription(a.Config.PubSub.Subscription),
		a.Trigger,
		subscriber.Config{MaxOutstandingMessages: a.Config.PubSub.MaxOutstanding},
		a.Logger.Named("subscriber"),
	)
}

// Close flushes progress events and releases clients in reverse build order.
func (a *App) Close(ctx context.Context) {
	if a.hub != nil {
		if err := a.hub.Close(ctx); err != nil {
			a.Logger.Warn("close progress hub", zap.Error(err))
		}
	}
	if a.Warehouse != nil {
		a.Warehouse.Close()
	}
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}
