// Package ratelimit paces page fetches: a global in-flight cap plus a
// minimum spacing between requests to the same host.
package ratelimit

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"

	"github.com/JakeFAU/marketplace-scraper/internal/crawler"
	"github.com/JakeFAU/marketplace-scraper/internal/metrics"
)

const (
	defaultMinInterval = time.Second
	defaultMaxInFlight = 8
)

// Config holds governor configuration.
type Config struct {
	MinInterval time.Duration
	MaxInFlight int64
}

// Governor wraps a PageFetcher with admission control. It is itself a
// PageFetcher and never retries or inspects bodies.
type Governor struct {
	next     crawler.PageFetcher
	gate     *semaphore.Weighted
	interval time.Duration
	logger   *zap.Logger

	mu       sync.Mutex
	limiters map[string]*rate.Limiter
}

// New creates a Governor around next.
func New(next crawler.PageFetcher, cfg Config, logger *zap.Logger) *Governor {
	if cfg.MinInterval <= 0 {
		cfg.MinInterval = defaultMinInterval
	}
	if cfg.MaxInFlight <= 0 {
		cfg.MaxInFlight = defaultMaxInFlight
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Governor{
		next:     next,
		gate:     semaphore.NewWeighted(cfg.MaxInFlight),
		interval: cfg.MinInterval,
		logger:   logger,
		limiters: make(map[string]*rate.Limiter),
	}
}

// Fetch waits for a global slot, then for the host's spacing, then delegates.
func (g *Governor) Fetch(ctx context.Context, url string) crawler.FetchOutcome {
	if err := g.gate.Acquire(ctx, 1); err != nil {
		return canceled(err)
	}
	defer g.gate.Release(1)

	if err := g.Wait(ctx, url); err != nil {
		return canceled(err)
	}
	// Once admitted, the fetch runs to completion; the fetcher's own request
	// timeout bounds it.
	return g.next.Fetch(context.WithoutCancel(ctx), url)
}

// Wait blocks until the host of url may be contacted again.
func (g *Governor) Wait(ctx context.Context, url string) error {
	host := crawler.HostOf(url)
	limiter := g.limiterFor(host)

	start := time.Now()
	if err := limiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limit wait: %w", err)
	}
	if waited := time.Since(start); waited > time.Millisecond {
		metrics.ObserveRateLimitDelay(host, waited)
		g.logger.Debug("host spacing delay", zap.String("host", host), zap.Duration("waited", waited))
	}
	return nil
}

func (g *Governor) limiterFor(host string) *rate.Limiter {
	g.mu.Lock()
	defer g.mu.Unlock()
	limiter, ok := g.limiters[host]
	if !ok {
		limiter = rate.NewLimiter(rate.Every(g.interval), 1)
		g.limiters[host] = limiter
	}
	return limiter
}

func canceled(err error) crawler.FetchOutcome {
	return crawler.FetchOutcome{
		Kind: crawler.FetchTransportError,
		Err:  fmt.Errorf("admission canceled: %w", err),
	}
}
