// Package engine runs one crawl job end to end: pagination, frontier
// construction, bounded detail fan-out and result assembly.
package engine

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/JakeFAU/marketplace-scraper/internal/crawler"
	"github.com/JakeFAU/marketplace-scraper/internal/listing"
	"github.com/JakeFAU/marketplace-scraper/internal/metrics"
)

const defaultConcurrency = 5

// Paginator walks listing pages.
type Paginator interface {
	Walk(ctx context.Context, job crawler.CrawlJob, region crawler.Region, fn func(listing.Batch) error) (listing.Summary, error)
}

// Extractor turns a detail page into a record.
type Extractor interface {
	Extract(ctx context.Context, body string, url string, region crawler.Region) (*crawler.ProductRecord, error)
}

// Config holds engine defaults applied when a job leaves them unset.
type Config struct {
	DefaultConcurrency int
}

// Engine coordinates the listing walk and the detail workers.
type Engine struct {
	regions   crawler.Regions
	paginator Paginator
	fetcher   crawler.PageFetcher
	extractor Extractor
	clock     crawler.Clock
	cfg       Config
	logger    *zap.Logger
}

// New wires an Engine. fetcher is normally the rate governor.
func New(
	regions crawler.Regions,
	paginator Paginator,
	fetcher crawler.PageFetcher,
	extractor Extractor,
	clock crawler.Clock,
	cfg Config,
	logger *zap.Logger,
) *Engine {
	if cfg.DefaultConcurrency <= 0 {
		cfg.DefaultConcurrency = defaultConcurrency
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{
		regions:   regions,
		paginator: paginator,
		fetcher:   fetcher,
		extractor: extractor,
		clock:     clock,
		cfg:       cfg,
		logger:    logger.Named("engine"),
	}
}

// counters are updated concurrently by detail tasks.
type counters struct {
	extracted atomic.Int64
	dropped   atomic.Int64
	failures  atomic.Int64
}

// Run executes job and always returns a result; it never panics.
func (e *Engine) Run(ctx context.Context, job crawler.CrawlJob) (result crawler.JobResult) {
	start := e.clock.Now()
	logger := e.logger.With(zap.String("region", job.Region), zap.String("start_url", job.StartURL))
	reported := job.Region

	defer func() {
		if r := recover(); r != nil {
			logger.Error("engine run panicked", zap.Any("panic", r))
			result = crawler.JobResult{
				Status:        crawler.ResultError,
				Region:        reported,
				ExecutionTime: e.since(start),
				Error:         fmt.Sprintf("internal error: %v", r),
				ErrorKind:     crawler.ErrorKindInternal,
				ScrapedData:   []crawler.ProductRecord{},
			}
		}
	}()

	region, err := e.regions.Lookup(job.Region)
	if err != nil {
		logger.Warn("job rejected", zap.Error(err))
		return crawler.JobResult{
			Status:        crawler.ResultError,
			Region:        job.Region,
			ExecutionTime: e.since(start),
			Error:         err.Error(),
			ErrorKind:     crawler.ErrorKindConfiguration,
			ScrapedData:   []crawler.ProductRecord{},
		}
	}

	reported = region.Code

	frontier := crawler.NewFrontier()
	summary, err := e.paginator.Walk(ctx, job, region, func(b listing.Batch) error {
		added := 0
		for _, link := range b.URLs {
			if frontier.Add(link) {
				added++
			}
		}
		logger.Debug("listing batch", zap.Int("page", b.Page), zap.Int("links", len(b.URLs)), zap.Int("new", added))
		return nil
	})
	if err != nil {
		logger.Warn("listing walk ended with error", zap.Error(err))
	}
	logger.Info("frontier built",
		zap.Int("pages", summary.Pages),
		zap.Int("products", frontier.Len()),
		zap.String("state", string(summary.State)),
	)

	var stats counters
	records, admittedAll := e.extractAll(ctx, frontier, region, job.ConcurrencyLimit, &stats, logger)

	partial := !admittedAll || summary.State == listing.StateAborted || ctx.Err() != nil
	result = crawler.JobResult{
		Status:        crawler.ResultSuccess,
		Region:        region.Code,
		TotalProducts: len(records),
		ExecutionTime: e.since(start),
		ScrapedData:   records,
		Partial:       partial,
		Stats: crawler.JobCounters{
			ListingPages:       summary.Pages,
			ProductsDiscovered: frontier.Len(),
			ProductsExtracted:  int(stats.extracted.Load()),
			ProductsDropped:    int(stats.dropped.Load()),
			FetchFailures:      int(stats.failures.Load()),
		},
	}
	logger.Info("engine run finished",
		zap.Int("total_products", result.TotalProducts),
		zap.Bool("partial", partial),
		zap.Float64("execution_time", result.ExecutionTime),
	)
	return result
}

// extractAll fans out one task per frontier URL. It reports false when the
// context ended before every task was admitted.
func (e *Engine) extractAll(
	ctx context.Context,
	frontier *crawler.Frontier,
	region crawler.Region,
	limit int,
	stats *counters,
	logger *zap.Logger,
) ([]crawler.ProductRecord, bool) {
	if limit <= 0 {
		limit = e.cfg.DefaultConcurrency
	}
	urls := frontier.URLs()
	slots := make([]*crawler.ProductRecord, len(urls))

	var (
		g       errgroup.Group
		refused atomic.Bool
	)
	g.SetLimit(limit)
	for i, link := range urls {
		if ctx.Err() != nil {
			refused.Store(true)
			logger.Info("context done, no further detail pages admitted", zap.Int("admitted", i), zap.Int("total", len(urls)))
			break
		}
		g.Go(func() error {
			// A task that waited for a pool slot past the deadline is not started.
			if ctx.Err() != nil {
				refused.Store(true)
				return nil
			}
			slots[i] = e.extractOne(ctx, frontier, link, region, stats, logger)
			return nil
		})
	}
	_ = g.Wait()

	records := make([]crawler.ProductRecord, 0, len(urls))
	for _, record := range slots {
		if record != nil {
			records = append(records, *record)
		}
	}
	return records, !refused.Load()
}

func (e *Engine) extractOne(
	ctx context.Context,
	frontier *crawler.Frontier,
	link string,
	region crawler.Region,
	stats *counters,
	logger *zap.Logger,
) (record *crawler.ProductRecord) {
	defer func() {
		if r := recover(); r != nil {
			stats.dropped.Add(1)
			metrics.ObserveProduct(region.Site, "panic")
			logger.Error("detail task panicked", zap.String("url", link), zap.Any("panic", r))
			record = nil
		}
	}()

	if !frontier.MarkExtracted(link) {
		return nil
	}
	out := e.fetcher.Fetch(ctx, link)
	if !out.OK() {
		stats.failures.Add(1)
		metrics.ObserveProduct(region.Site, "fetch_failed")
		logger.Info("detail fetch failed", zap.String("url", link), zap.Stringer("outcome", out.Kind))
		return nil
	}

	// A page already fetched is always parsed, even past the deadline.
	record, err := e.extractor.Extract(context.WithoutCancel(ctx), out.Body, link, region)
	if err != nil {
		stats.dropped.Add(1)
		metrics.ObserveProduct(region.Site, "dropped")
		if !errors.Is(err, crawler.ErrValidation) {
			logger.Warn("detail extraction failed", zap.String("url", link), zap.Error(err))
		}
		return nil
	}
	stats.extracted.Add(1)
	metrics.ObserveProduct(region.Site, "extracted")
	return record
}

func (e *Engine) since(start time.Time) float64 {
	return e.clock.Now().Sub(start).Seconds()
}
