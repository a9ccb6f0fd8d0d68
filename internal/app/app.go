// Package app initializes and holds the long-lived backends of the service:
// the job store, the result blob store and the completion publisher. It
// selects each implementation from configuration and owns their shutdown.
package app

import (
	"context"
	"fmt"
	"time"

	"cloud.google.com/go/pubsub"
	"cloud.google.com/go/storage"
	"go.uber.org/zap"

	"github.com/JakeFAU/marketplace-scraper/internal/config"
	"github.com/JakeFAU/marketplace-scraper/internal/crawler"
	memorypublisher "github.com/JakeFAU/marketplace-scraper/internal/publisher/memory"
	pubsubpublisher "github.com/JakeFAU/marketplace-scraper/internal/publisher/pubsub"
	gcsstorage "github.com/JakeFAU/marketplace-scraper/internal/storage/gcs"
	localstorage "github.com/JakeFAU/marketplace-scraper/internal/storage/local"
	memorystorage "github.com/JakeFAU/marketplace-scraper/internal/storage/memory"
	"github.com/JakeFAU/marketplace-scraper/internal/storage/postgres"
	"github.com/JakeFAU/marketplace-scraper/internal/storage/redis"
)

// Closer releases one backend on shutdown.
type Closer interface {
	Close() error
}

type closerFunc func() error

func (f closerFunc) Close() error { return f() }

// App holds the shared backends chosen by configuration.
type App struct {
	logger    *zap.Logger
	jobStore  crawler.JobStore
	blobStore crawler.BlobStore
	publisher crawler.Publisher
	checks    map[string]func(context.Context) error
	closers   []namedCloser
}

type namedCloser struct {
	name   string
	closer Closer
}

// JobStore returns the configured job store.
func (a *App) JobStore() crawler.JobStore { return a.jobStore }

// BlobStore returns the configured result blob store.
func (a *App) BlobStore() crawler.BlobStore { return a.blobStore }

// Publisher returns the configured completion publisher.
func (a *App) Publisher() crawler.Publisher { return a.publisher }

// ReadinessChecks returns the probes of backends that can become unreachable.
func (a *App) ReadinessChecks() map[string]func(context.Context) error {
	out := make(map[string]func(context.Context) error, len(a.checks))
	for name, check := range a.checks {
		out[name] = check
	}
	return out
}

// New creates the backends. It fails fast when any cannot be initialized and
// closes whatever was already opened.
func New(ctx context.Context, cfg config.Config, logger *zap.Logger) (*App, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	a := &App{
		logger: logger.Named("app"),
		checks: make(map[string]func(context.Context) error),
	}
	steps := []func(context.Context, config.Config) error{
		a.initJobStore,
		a.initBlobStore,
		a.initPublisher,
	}
	for _, step := range steps {
		if err := step(ctx, cfg); err != nil {
			a.Close()
			return nil, err
		}
	}
	a.logger.Info("application services initialized")
	return a, nil
}

func (a *App) initJobStore(ctx context.Context, cfg config.Config) error {
	switch cfg.JobStore.Backend {
	case "", "memory":
		a.logger.Info("using in-memory job store")
		a.jobStore = memorystorage.NewJobStore()
	case "postgres":
		store, err := postgres.NewJobStore(ctx, postgres.Config{
			DSN:             cfg.Database.DSN,
			Table:           cfg.Database.Table,
			MaxConns:        cfg.Database.MaxConns,
			MinConns:        cfg.Database.MinConns,
			MaxConnLifetime: cfg.Database.MaxConnLifetime,
		})
		if err != nil {
			return fmt.Errorf("init postgres job store: %w", err)
		}
		a.logger.Info("using postgres job store", zap.String("table", cfg.Database.Table))
		a.jobStore = store
		a.checks["postgres"] = store.Ping
		a.addCloser("postgres", closerFunc(func() error { store.Close(); return nil }))
	case "redis":
		store, err := redis.NewJobStore(ctx, redis.Config{
			Addr:      cfg.Redis.Addr,
			Password:  cfg.Redis.Password,
			DB:        cfg.Redis.DB,
			KeyPrefix: cfg.Redis.KeyPrefix,
			TTL:       time.Duration(cfg.Redis.TTLSeconds) * time.Second,
		})
		if err != nil {
			return fmt.Errorf("init redis job store: %w", err)
		}
		a.logger.Info("using redis job store", zap.String("addr", cfg.Redis.Addr))
		a.jobStore = store
		a.checks["redis"] = store.Ping
		a.addCloser("redis", store)
	default:
		return fmt.Errorf("unknown job store backend: %s", cfg.JobStore.Backend)
	}
	return nil
}

func (a *App) initBlobStore(ctx context.Context, cfg config.Config) error {
	switch cfg.Storage.Backend {
	case "", "memory":
		a.logger.Info("using in-memory blob store, exports are discarded on exit")
		a.blobStore = memorystorage.NewBlobStore()
	case "local":
		store, err := localstorage.New(localstorage.Config{BaseDir: cfg.Storage.Local.BaseDir})
		if err != nil {
			return fmt.Errorf("init local blob store: %w", err)
		}
		a.logger.Info("using local blob store", zap.String("base_dir", cfg.Storage.Local.BaseDir))
		a.blobStore = store
	case "gcs":
		client, err := storage.NewClient(ctx)
		if err != nil {
			return fmt.Errorf("create gcs client: %w", err)
		}
		a.addCloser("gcs", client)
		store, err := gcsstorage.New(client, gcsstorage.Config{Bucket: cfg.Storage.Bucket})
		if err != nil {
			return fmt.Errorf("init gcs blob store: %w", err)
		}
		a.logger.Info("using gcs blob store", zap.String("bucket", cfg.Storage.Bucket))
		a.blobStore = store
	default:
		return fmt.Errorf("unknown storage backend: %s", cfg.Storage.Backend)
	}
	return nil
}

func (a *App) initPublisher(ctx context.Context, cfg config.Config) error {
	if cfg.PubSub.ProjectID == "" {
		a.logger.Info("pubsub project not set, completion events are kept in memory")
		a.publisher = memorypublisher.New()
		return nil
	}
	client, err := pubsub.NewClient(ctx, cfg.PubSub.ProjectID)
	if err != nil {
		return fmt.Errorf("create pubsub client: %w", err)
	}
	pub := pubsubpublisher.New(client, cfg.PubSub.TopicName)
	a.addCloser("pubsub", closerFunc(func() error {
		pub.Stop()
		return client.Close()
	}))
	a.logger.Info("using pubsub publisher",
		zap.String("project_id", cfg.PubSub.ProjectID),
		zap.String("topic", cfg.PubSub.TopicName),
	)
	a.publisher = pub
	return nil
}

func (a *App) addCloser(name string, c Closer) {
	a.closers = append(a.closers, namedCloser{name: name, closer: c})
}

// Close shuts the backends down in reverse order of creation.
func (a *App) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		c := a.closers[i]
		if err := c.closer.Close(); err != nil {
			a.logger.Warn("error closing backend", zap.String("backend", c.name), zap.Error(err))
		}
	}
	a.closers = nil
}
