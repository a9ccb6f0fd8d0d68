// Package listing walks paginated search result pages and collects product
// detail links.
package listing

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/marketplace-scraper/internal/crawler"
	"github.com/JakeFAU/marketplace-scraper/internal/metrics"
)

// State is a pagination state. Summary.State is always terminal.
type State string

// Pagination states.
const (
	StateFetching   State = "fetching"
	StateCollected  State = "collected"
	StateEmptyRetry State = "empty_retry"
	StateDone       State = "done"
	StateAbandoned  State = "abandoned"
	StateAborted    State = "aborted"
)

const (
	defaultLinkSelector = "a.a-link-normal.s-underline-text.s-underline-link-text.s-link-style.a-text-normal"
	defaultNextSelector = "a.s-pagination-next"
	defaultMaxPages     = 17
)

// Config controls pacing and parsing of the walk.
type Config struct {
	MaxEmptyRetries int
	EmptyRetryDelay time.Duration
	CooldownEvery   int
	Cooldown        crawler.DelayRange
	InterPage       crawler.DelayRange
	LinkSelector    string
	NextSelector    string
	DefaultMaxPages int
}

// Batch is the set of links collected from one page.
type Batch struct {
	Page    int
	URLs    []string
	HasMore bool
}

// Summary reports how a walk ended.
type Summary struct {
	Pages int
	Links int
	State State
}

// Paginator walks listing pages strictly one after another.
type Paginator struct {
	fetcher crawler.PageFetcher
	pauser  crawler.Pauser
	cfg     Config
	logger  *zap.Logger
}

// New constructs a Paginator.
func New(fetcher crawler.PageFetcher, pauser crawler.Pauser, cfg Config, logger *zap.Logger) *Paginator {
	if cfg.LinkSelector == "" {
		cfg.LinkSelector = defaultLinkSelector
	}
	if cfg.NextSelector == "" {
		cfg.NextSelector = defaultNextSelector
	}
	if cfg.DefaultMaxPages <= 0 {
		cfg.DefaultMaxPages = defaultMaxPages
	}
	if cfg.MaxEmptyRetries < 0 {
		cfg.MaxEmptyRetries = 0
	}
	if pauser == nil {
		pauser = crawler.TimerPauser{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Paginator{
		fetcher: fetcher,
		pauser:  pauser,
		cfg:     cfg,
		logger:  logger.Named("listing"),
	}
}

// Walk fetches listing pages from job.StartURL and hands each page's links
// to fn. Only an error returned by fn is returned; cancellation and
// abandoned pages end the walk gracefully.
func (p *Paginator) Walk(
	ctx context.Context,
	job crawler.CrawlJob,
	region crawler.Region,
	fn func(Batch) error,
) (Summary, error) {
	maxPages := job.MaxPages
	if maxPages <= 0 {
		maxPages = p.cfg.DefaultMaxPages
	}

	summary := Summary{State: StateFetching}
	visited := map[string]struct{}{job.StartURL: {}}
	sinceCooldown := 0
	pageURL := job.StartURL

	for page := 1; ; page++ {
		listing, state := p.fetchPage(ctx, pageURL, page, region)
		if state != StateCollected {
			summary.State = state
			return summary, nil
		}
		summary.Pages++
		summary.Links += len(listing.Links)

		_, looped := visited[listing.Next]
		hasMore := listing.Next != "" && !looped && page+1 <= maxPages
		if err := fn(Batch{Page: page, URLs: listing.Links, HasMore: hasMore}); err != nil {
			summary.State = StateAborted
			return summary, fmt.Errorf("listing page %d: %w", page, err)
		}
		if !hasMore {
			p.logger.Info("listing walk finished",
				zap.Int("pages", summary.Pages),
				zap.Int("links", summary.Links),
			)
			summary.State = StateDone
			return summary, nil
		}

		sinceCooldown++
		if p.cfg.CooldownEvery > 0 && sinceCooldown >= p.cfg.CooldownEvery {
			delay := p.cfg.Cooldown.Pick()
			p.logger.Info("listing cooldown", zap.Int("pages", sinceCooldown), zap.Duration("delay", delay))
			p.pauser.Pause(ctx, delay)
			sinceCooldown = 0
		}
		p.pauser.Pause(ctx, p.cfg.InterPage.Pick())

		visited[listing.Next] = struct{}{}
		pageURL = listing.Next
	}
}

// fetchPage fetches one page until it yields links or its retries run out.
func (p *Paginator) fetchPage(ctx context.Context, pageURL string, page int, region crawler.Region) (Page, State) {
	for retry := 0; ; retry++ {
		if ctx.Err() != nil {
			return Page{}, StateAborted
		}
		out := p.fetcher.Fetch(ctx, pageURL)
		if ctx.Err() != nil {
			return Page{}, StateAborted
		}

		var listing Page
		if out.OK() {
			parsed, err := Parse(out.Body, region.BaseURL, p.cfg.LinkSelector, p.cfg.NextSelector)
			if err != nil {
				p.logger.Warn("listing parse failed", zap.String("url", pageURL), zap.Error(err))
			}
			listing = parsed
		}
		if len(listing.Links) > 0 {
			metrics.ObserveListingPage(region.Site, true)
			p.logger.Info("listing page collected",
				zap.Int("page", page),
				zap.Int("links", len(listing.Links)),
				zap.Bool("has_next", listing.Next != ""),
			)
			return listing, StateCollected
		}

		metrics.ObserveListingPage(region.Site, false)
		if retry >= p.cfg.MaxEmptyRetries {
			p.logger.Warn("listing page abandoned",
				zap.String("url", pageURL),
				zap.Int("page", page),
				zap.Int("retries", retry),
				zap.Stringer("outcome", out.Kind),
			)
			return Page{}, StateAbandoned
		}
		p.logger.Info("listing page empty, retrying",
			zap.String("state", string(StateEmptyRetry)),
			zap.String("url", pageURL),
			zap.Int("page", page),
			zap.Stringer("outcome", out.Kind),
			zap.Duration("delay", p.cfg.EmptyRetryDelay),
		)
		p.pauser.Pause(ctx, p.cfg.EmptyRetryDelay)
	}
}
