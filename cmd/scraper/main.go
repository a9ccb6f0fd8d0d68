package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/marketplace-scraper/internal/api"
	"github.com/JakeFAU/marketplace-scraper/internal/app"
	"github.com/JakeFAU/marketplace-scraper/internal/clock/system"
	"github.com/JakeFAU/marketplace-scraper/internal/config"
	"github.com/JakeFAU/marketplace-scraper/internal/crawler"
	"github.com/JakeFAU/marketplace-scraper/internal/dispatcher"
	"github.com/JakeFAU/marketplace-scraper/internal/engine"
	"github.com/JakeFAU/marketplace-scraper/internal/extract"
	collyfetcher "github.com/JakeFAU/marketplace-scraper/internal/fetcher/colly"
	"github.com/JakeFAU/marketplace-scraper/internal/hash/sha256"
	"github.com/JakeFAU/marketplace-scraper/internal/id/uuid"
	"github.com/JakeFAU/marketplace-scraper/internal/listing"
	"github.com/JakeFAU/marketplace-scraper/internal/logging"
	"github.com/JakeFAU/marketplace-scraper/internal/metrics"
	"github.com/JakeFAU/marketplace-scraper/internal/policy/ratelimit"
	queueMemory "github.com/JakeFAU/marketplace-scraper/internal/queue/memory"
	"github.com/JakeFAU/marketplace-scraper/internal/worker"
)

const shutdownTimeout = 10 * time.Second

func main() {
	cfgPath := flag.String("config", "", "Path to config file")
	flag.Parse()

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config failed: %v\n", err)
		os.Exit(1)
	}
	logger, err := logging.New(cfg.Logging)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger init failed: %v\n", err)
		os.Exit(1)
	}
	zap.ReplaceGlobals(logger)
	metrics.Init()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	err = run(ctx, cfg, logger)
	stop()
	if err != nil {
		logger.Error("scraper exited with error", zap.Error(err))
	}
	_ = logger.Sync()
	if err != nil {
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg config.Config, logger *zap.Logger) error {
	svc, err := newService(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer svc.Close()

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           svc.api.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	dispatchCtx, cancelDispatch := context.WithCancel(ctx)
	dispatchDone := make(chan struct{})
	go func() {
		defer close(dispatchDone)
		logger.Info("dispatcher started", zap.Int("workers", cfg.Crawler.Workers))
		svc.dispatcher.Run(dispatchCtx)
	}()

	serveErr := make(chan error, 1)
	go func() {
		logger.Info("http server started", zap.Int("port", cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	var runErr error
	select {
	case <-ctx.Done():
		logger.Info("shutdown initiated")
	case err, ok := <-serveErr:
		if ok {
			runErr = fmt.Errorf("http server: %w", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown error", zap.Error(err))
	}
	svc.queue.Close()
	cancelDispatch()
	<-dispatchDone
	logger.Info("shutdown complete")
	return runErr
}

// service is the fully wired process minus its listeners.
type service struct {
	backends   *app.App
	queue      *queueMemory.Queue
	dispatcher *dispatcher.Dispatcher
	api        *api.Server
}

func newService(ctx context.Context, cfg config.Config, logger *zap.Logger) (*service, error) {
	backends, err := app.New(ctx, cfg, logger)
	if err != nil {
		return nil, fmt.Errorf("init backends: %w", err)
	}
	recordClock, err := system.NewInLocation(cfg.Extract.Timezone)
	if err != nil {
		backends.Close()
		return nil, err
	}
	clock := system.New()
	eng := buildEngine(cfg, clock, recordClock, logger)

	queue := queueMemory.NewQueue(cfg.Crawler.QueueDepth)
	registry := dispatcher.NewRegistry()
	hasher := sha256.New(cfg.Storage.HashLength)
	workerCfg := worker.Config{
		ContentType: cfg.Storage.ContentType,
		BlobPrefix:  cfg.Storage.Prefix,
		Topic:       cfg.PubSub.TopicName,
		JobTimeout:  cfg.JobTimeout(),
	}

	workers := make([]*worker.Worker, 0, cfg.Crawler.Workers)
	for i := range cfg.Crawler.Workers {
		workers = append(workers, worker.New(
			queue,
			backends.JobStore(),
			backends.BlobStore(),
			backends.Publisher(),
			hasher,
			clock,
			eng,
			registry,
			workerCfg,
			logger.With(zap.Int("index", i)),
		))
	}
	dispatch := dispatcher.New(queue, workers, registry)

	server := api.NewServer(backends.JobStore(), dispatch, uuid.New(), clock, cfg, logger)
	for name, check := range backends.ReadinessChecks() {
		server.AddReadinessCheck(name, check)
	}

	return &service{
		backends:   backends,
		queue:      queue,
		dispatcher: dispatch,
		api:        server,
	}, nil
}

// Close releases the backends.
func (s *service) Close() {
	s.backends.Close()
}

// buildEngine wires page client, governor, paginator and extractor. The
// governor is shared by every job so the per-host spacing and the in-flight
// cap hold across concurrent runs.
func buildEngine(cfg config.Config, clock, recordClock crawler.Clock, logger *zap.Logger) *engine.Engine {
	pauser := crawler.TimerPauser{}
	p := cfg.Politeness

	fetcher := collyfetcher.New(collyfetcher.Config{
		UserAgents:      cfg.HTTP.UserAgents,
		AcceptLanguage:  cfg.HTTP.AcceptLanguage,
		BlockIndicators: cfg.HTTP.BlockIndicators,
		Timeout:         time.Duration(cfg.HTTP.TimeoutSeconds) * time.Second,
		Retry:           cfg.BackoffPolicy(),
	}, pauser, logger)

	governor := ratelimit.New(fetcher, ratelimit.Config{
		MinInterval: config.Millis(p.MinHostIntervalMs),
		MaxInFlight: int64(p.MaxInFlight),
	}, logger)

	paginator := listing.New(governor, pauser, listing.Config{
		MaxEmptyRetries: p.MaxEmptyRetries,
		EmptyRetryDelay: config.Millis(p.EmptyRetryDelayMs),
		CooldownEvery:   p.CooldownEvery,
		Cooldown:        crawler.DelayRange{Min: config.Millis(p.CooldownMinMs), Max: config.Millis(p.CooldownMaxMs)},
		InterPage:       crawler.DelayRange{Min: config.Millis(p.InterPageMinMs), Max: config.Millis(p.InterPageMaxMs)},
		LinkSelector:    cfg.Listing.LinkSelector,
		NextSelector:    cfg.Listing.NextSelector,
		DefaultMaxPages: cfg.Crawler.MaxPagesDefault,
	}, logger)

	extractor := extract.New(extract.Config{
		RequiredFields: cfg.Extract.RequiredFields,
		MaxReviews:     cfg.Extract.MaxReviews,
		ParallelTables: cfg.Extract.ParallelTables,
		Category:       cfg.Extract.Category,
	}, recordClock, logger)

	return engine.New(
		crawler.Regions(cfg.Regions),
		paginator,
		governor,
		extractor,
		clock,
		engine.Config{DefaultConcurrency: cfg.Crawler.ConcurrencyLimitDefault},
		logger,
	)
}
