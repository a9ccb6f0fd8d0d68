// Package collyfetcher implements the page client on top of gocolly: one GET
// per attempt with a rotating browser identity, anti-bot detection, charset
// decoding and bounded exponential retries.
package collyfetcher

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"github.com/gocolly/colly/v2"
	"go.uber.org/zap"

	"github.com/JakeFAU/marketplace-scraper/internal/crawler"
	"github.com/JakeFAU/marketplace-scraper/internal/metrics"
)

const (
	defaultAccept  = "text/html,application/xhtml+xml,application/xml;q=0.9,image/webp,*/*;q=0.8"
	defaultTimeout = 15 * time.Second
)

// Config controls collector behavior.
type Config struct {
	UserAgents      []string
	AcceptLanguage  string
	BlockIndicators []string
	Timeout         time.Duration
	Retry           crawler.BackoffPolicy
}

// Fetcher implements crawler.PageFetcher using the Colly collector.
type Fetcher struct {
	cfg           Config
	baseCollector *colly.Collector
	pauser        crawler.Pauser
	logger        *zap.Logger
	next          atomic.Uint64
}

type collectorHooks interface {
	OnRequest(colly.RequestCallback)
	OnResponse(colly.ResponseCallback)
	OnError(colly.ErrorCallback)
}

// attemptResult is what one collector visit produced.
type attemptResult struct {
	statusCode int
	finalURL   string
	body       []byte
	charset    string
}

// New builds a Fetcher. A nil pauser falls back to a real timer.
func New(cfg Config, pauser crawler.Pauser, logger *zap.Logger) *Fetcher {
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	if len(cfg.UserAgents) == 0 {
		cfg.UserAgents = []string{"Mozilla/5.0 (compatible; marketplace-scraper/1.0)"}
	}
	cfg.Retry = cfg.Retry.Normalize()
	if pauser == nil {
		pauser = crawler.TimerPauser{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	indicators := make([]string, len(cfg.BlockIndicators))
	for i, indicator := range cfg.BlockIndicators {
		indicators[i] = strings.ToLower(indicator)
	}
	cfg.BlockIndicators = indicators

	c := colly.NewCollector(colly.Async(false))
	c.AllowURLRevisit = true
	c.ParseHTTPErrorResponse = true
	// Clones share the backend, so the transport and timeout are set once here.
	c.WithTransport(&charsetPreservingTransport{base: newHTTPTransport()})
	c.SetRequestTimeout(cfg.Timeout)

	return &Fetcher{
		cfg:           cfg,
		baseCollector: c,
		pauser:        pauser,
		logger:        logger,
	}
}

// Fetch retrieves url and classifies the outcome. Transport failures are
// retried with backoff; blocks and server errors are returned at once.
func (f *Fetcher) Fetch(ctx context.Context, url string) crawler.FetchOutcome {
	identity := f.nextIdentity()
	policy := f.cfg.Retry
	for attempt := 1; ; attempt++ {
		res, err := f.attempt(ctx, url, identity)
		if err == nil {
			outcome := f.classify(res)
			outcome.Attempts = attempt
			f.observe(url, attempt, outcome)
			return outcome
		}

		if ctx.Err() != nil {
			outcome := crawler.FetchOutcome{Kind: crawler.FetchTransportError, Attempts: attempt, Err: ctx.Err()}
			f.observe(url, attempt, outcome)
			return outcome
		}
		if !policy.ShouldRetry(err, attempt) {
			outcome := crawler.FetchOutcome{Kind: crawler.FetchExhausted, Attempts: attempt, Err: err}
			f.observe(url, attempt, outcome)
			return outcome
		}
		delay := policy.Delay(attempt - 1)
		f.logger.Warn("fetch attempt failed, backing off",
			zap.String("url", url),
			zap.Int("attempt", attempt),
			zap.Duration("delay", delay),
			zap.Error(err),
		)
		f.pauser.Pause(ctx, delay)
	}
}

func (f *Fetcher) nextIdentity() string {
	n := f.next.Add(1) - 1
	return f.cfg.UserAgents[n%uint64(len(f.cfg.UserAgents))]
}

func (f *Fetcher) attempt(ctx context.Context, url, identity string) (attemptResult, error) {
	var (
		result   attemptResult
		fetchErr error
	)
	collector := f.buildCollector(ctx, identity, &result, &fetchErr)
	if err := f.runCollector(ctx, collector, url, &fetchErr); err != nil {
		return attemptResult{}, err
	}
	return result, nil
}

func (f *Fetcher) buildCollector(
	ctx context.Context,
	identity string,
	result *attemptResult,
	fetchErr *error,
) *colly.Collector {
	collector := f.baseCollector.Clone()
	collector.Context = ctx
	collector.UserAgent = identity
	f.configureCollectorHooks(collector, identity, result, fetchErr)
	return collector
}

func (f *Fetcher) configureCollectorHooks(
	hooks collectorHooks,
	identity string,
	result *attemptResult,
	fetchErr *error,
) {
	hooks.OnRequest(func(r *colly.Request) {
		r.Headers.Set("User-Agent", identity)
		r.Headers.Set("Accept", defaultAccept)
		if f.cfg.AcceptLanguage != "" {
			r.Headers.Set("Accept-Language", f.cfg.AcceptLanguage)
		}
		r.Headers.Set("Upgrade-Insecure-Requests", "1")
	})

	hooks.OnResponse(func(r *colly.Response) {
		finalURL := ""
		if r.Request != nil && r.Request.URL != nil {
			finalURL = r.Request.URL.String()
		}
		declared := ""
		if r.Headers != nil {
			declared = r.Headers.Get(declaredCharsetHeader)
		}
		*result = attemptResult{
			statusCode: r.StatusCode,
			finalURL:   finalURL,
			body:       append([]byte(nil), r.Body...),
			charset:    declared,
		}
	})

	hooks.OnError(func(_ *colly.Response, err error) {
		*fetchErr = err
	})
}

func (f *Fetcher) runCollector(ctx context.Context, collector *colly.Collector, url string, fetchErr *error) error {
	done := make(chan error, 1)
	go func() {
		done <- collector.Visit(url)
	}()

	select {
	case <-ctx.Done():
		return fmt.Errorf("colly fetch canceled: %w", ctx.Err())
	case err := <-done:
		if err != nil {
			return fmt.Errorf("colly visit failed: %w", err)
		}
		if *fetchErr != nil {
			return fmt.Errorf("colly response failed: %w", *fetchErr)
		}
		return nil
	}
}

func (f *Fetcher) classify(res attemptResult) crawler.FetchOutcome {
	outcome := crawler.FetchOutcome{
		StatusCode: res.statusCode,
		FinalURL:   res.finalURL,
	}
	switch {
	case f.isBlocked(res):
		outcome.Kind = crawler.FetchBlocked
	case res.statusCode >= http.StatusInternalServerError:
		outcome.Kind = crawler.FetchServerError
	default:
		outcome.Kind = crawler.FetchSuccess
		outcome.Body = decodeBody(res.body, res.charset)
	}
	return outcome
}

func (f *Fetcher) isBlocked(res attemptResult) bool {
	if res.statusCode == http.StatusForbidden || res.statusCode == http.StatusTooManyRequests {
		return true
	}
	lowered := strings.ToLower(res.finalURL)
	for _, indicator := range f.cfg.BlockIndicators {
		if indicator != "" && strings.Contains(lowered, indicator) {
			return true
		}
	}
	return false
}

func (f *Fetcher) observe(url string, attempt int, outcome crawler.FetchOutcome) {
	metrics.ObserveFetch(url, outcome.Kind.String(), len(outcome.Body))
	fields := []zap.Field{
		zap.String("url", url),
		zap.Int("attempt", attempt),
		zap.Stringer("outcome", outcome.Kind),
		zap.Int("status", outcome.StatusCode),
	}
	if outcome.FinalURL != "" && outcome.FinalURL != url {
		fields = append(fields, zap.String("final_url", outcome.FinalURL))
	}
	if outcome.Err != nil && !errors.Is(outcome.Err, context.Canceled) {
		fields = append(fields, zap.Error(outcome.Err))
	}
	f.logger.Debug("fetch attempt finished", fields...)
}

func newHTTPTransport() *http.Transport {
	return &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   15 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		MaxIdleConns:          100,
		MaxIdleConnsPerHost:   10,
		IdleConnTimeout:       90 * time.Second,
	}
}
