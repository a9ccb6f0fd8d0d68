package engine

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/marketplace-scraper/internal/crawler"
	"github.com/JakeFAU/marketplace-scraper/internal/extract"
	"github.com/JakeFAU/marketplace-scraper/internal/listing"
)

const startURL = "https://www.amazon.com/s?k=phone"

func listingPage(next string, links ...string) crawler.FetchOutcome {
	var b strings.Builder
	for _, l := range links {
		fmt.Fprintf(&b, `<a class="a-link-normal s-underline-text s-underline-link-text s-link-style a-text-normal" href="%s">p</a>`, l)
	}
	if next != "" {
		fmt.Fprintf(&b, `<a class="s-pagination-next" href="%s">next</a>`, next)
	}
	return crawler.FetchOutcome{Kind: crawler.FetchSuccess, Body: b.String()}
}

func productPage(title string) crawler.FetchOutcome {
	return crawler.FetchOutcome{Kind: crawler.FetchSuccess, Body: fmt.Sprintf(
		`<span id="productTitle">%s</span><div id="corePriceDisplay_desktop_feature_div"><span class="a-price-whole">10</span></div>`,
		title)}
}

type fixedClock struct{}

func (fixedClock) Now() time.Time { return time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC) }

type noPause struct{}

func (noPause) Pause(context.Context, time.Duration) {}

func newTestEngine(fetcher crawler.PageFetcher, extractor Extractor) *Engine {
	paginator := listing.New(fetcher, noPause{}, listing.Config{MaxEmptyRetries: 1}, zap.NewNop())
	if extractor == nil {
		extractor = extract.New(extract.Config{}, fixedClock{}, zap.NewNop())
	}
	return New(crawler.DefaultRegions(), paginator, fetcher, extractor, fixedClock{}, Config{}, zap.NewNop())
}

func TestRunUnsupportedRegionFetchesNothing(t *testing.T) {
	t.Parallel()

	fetcher := newMapFetcher(nil)
	result := newTestEngine(fetcher, nil).Run(context.Background(),
		crawler.CrawlJob{StartURL: startURL, Region: "zz"})

	require.Equal(t, crawler.ResultError, result.Status)
	require.Equal(t, crawler.ErrorKindConfiguration, result.ErrorKind)
	require.Contains(t, result.Error, "unsupported region")
	require.Empty(t, result.ScrapedData)
	require.Zero(t, fetcher.total())
}

func TestRunFetchesEachLinkOnce(t *testing.T) {
	t.Parallel()

	fetcher := newMapFetcher(map[string]crawler.FetchOutcome{
		startURL:                      listingPage("", "/dp/1", "/dp/2", "/dp/3"),
		"https://www.amazon.com/dp/1": productPage("One"),
		"https://www.amazon.com/dp/2": productPage("Two"),
		"https://www.amazon.com/dp/3": productPage("Three"),
	})
	result := newTestEngine(fetcher, nil).Run(context.Background(),
		crawler.CrawlJob{StartURL: startURL, Region: "US", MaxPages: 3, ConcurrencyLimit: 2})

	require.Equal(t, crawler.ResultSuccess, result.Status)
	require.Equal(t, "us", result.Region)
	require.Equal(t, 3, result.TotalProducts)
	require.False(t, result.Partial)
	require.Equal(t, 4, fetcher.total())
	for _, link := range []string{"/dp/1", "/dp/2", "/dp/3"} {
		require.Equal(t, 1, fetcher.count("https://www.amazon.com"+link))
	}
	titles := make([]string, 0, len(result.ScrapedData))
	for _, record := range result.ScrapedData {
		titles = append(titles, *record.Title)
		require.Equal(t, "amazon_us", record.Site)
	}
	require.Equal(t, []string{"One", "Two", "Three"}, titles)
	require.Equal(t, crawler.JobCounters{ListingPages: 1, ProductsDiscovered: 3, ProductsExtracted: 3}, result.Stats)
}

func TestRunDeduplicatesAcrossPages(t *testing.T) {
	t.Parallel()

	fetcher := newMapFetcher(map[string]crawler.FetchOutcome{
		startURL: listingPage("/s?k=phone&page=2", "/dp/1", "/dp/2"),
		"https://www.amazon.com/s?k=phone&page=2": listingPage("", "/dp/2#x", "/dp/3"),
		"https://www.amazon.com/dp/1":             productPage("One"),
		"https://www.amazon.com/dp/2":             productPage("Two"),
		"https://www.amazon.com/dp/3":             productPage("Three"),
	})
	result := newTestEngine(fetcher, nil).Run(context.Background(),
		crawler.CrawlJob{StartURL: startURL, Region: "us", MaxPages: 5})

	require.Equal(t, 3, result.TotalProducts)
	require.Equal(t, 1, fetcher.count("https://www.amazon.com/dp/2"))
	require.Equal(t, 2, result.Stats.ListingPages)
	require.Equal(t, 3, result.Stats.ProductsDiscovered)
}

func TestRunBlockedDetailProducesNoRecord(t *testing.T) {
	t.Parallel()

	fetcher := newMapFetcher(map[string]crawler.FetchOutcome{
		startURL:                      listingPage("", "/dp/1", "/dp/2"),
		"https://www.amazon.com/dp/1": productPage("One"),
		"https://www.amazon.com/dp/2": {Kind: crawler.FetchBlocked, StatusCode: 403},
	})
	result := newTestEngine(fetcher, nil).Run(context.Background(),
		crawler.CrawlJob{StartURL: startURL, Region: "us"})

	require.Equal(t, crawler.ResultSuccess, result.Status)
	require.Equal(t, 1, result.TotalProducts)
	require.Equal(t, 1, result.Stats.FetchFailures)
	require.Equal(t, "https://www.amazon.com/dp/1", result.ScrapedData[0].URL)
}

func TestRunDropsInvalidRecords(t *testing.T) {
	t.Parallel()

	fetcher := newMapFetcher(map[string]crawler.FetchOutcome{
		startURL:                      listingPage("", "/dp/1"),
		"https://www.amazon.com/dp/1": {Kind: crawler.FetchSuccess, Body: `<span id="productTitle">No price</span>`},
	})
	result := newTestEngine(fetcher, nil).Run(context.Background(),
		crawler.CrawlJob{StartURL: startURL, Region: "us"})

	require.Equal(t, crawler.ResultSuccess, result.Status)
	require.Zero(t, result.TotalProducts)
	require.Equal(t, 1, result.Stats.ProductsDropped)
}

func TestRunCanceledContextIsPartial(t *testing.T) {
	t.Parallel()

	fetcher := newMapFetcher(map[string]crawler.FetchOutcome{
		startURL: listingPage("", "/dp/1"),
	})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	result := newTestEngine(fetcher, nil).Run(ctx, crawler.CrawlJob{StartURL: startURL, Region: "us"})

	require.Equal(t, crawler.ResultSuccess, result.Status)
	require.True(t, result.Partial)
	require.Zero(t, result.TotalProducts)
	require.NotNil(t, result.ScrapedData)
	require.Zero(t, fetcher.total())
}

func TestRunKeepsRecordFetchedAcrossDeadline(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	fetcher := &deadlineFetcher{
		mapFetcher: newMapFetcher(map[string]crawler.FetchOutcome{
			startURL:                      listingPage("", "/dp/1", "/dp/2"),
			"https://www.amazon.com/dp/1": productPage("One"),
			"https://www.amazon.com/dp/2": productPage("Two"),
		}),
		trigger: "https://www.amazon.com/dp/1",
		cancel:  cancel,
	}

	result := newTestEngine(fetcher, nil).Run(ctx,
		crawler.CrawlJob{StartURL: startURL, Region: "us", ConcurrencyLimit: 1})

	require.Equal(t, crawler.ResultSuccess, result.Status)
	require.True(t, result.Partial)
	require.Equal(t, 1, result.TotalProducts)
	require.Equal(t, "One", *result.ScrapedData[0].Title)
	require.Zero(t, result.Stats.ProductsDropped)
	require.Zero(t, fetcher.count("https://www.amazon.com/dp/2"))
}

func TestRunRecoversTaskPanics(t *testing.T) {
	t.Parallel()

	fetcher := newMapFetcher(map[string]crawler.FetchOutcome{
		startURL:                      listingPage("", "/dp/1", "/dp/2"),
		"https://www.amazon.com/dp/1": productPage("One"),
		"https://www.amazon.com/dp/2": productPage("boom"),
	})
	inner := extract.New(extract.Config{}, fixedClock{}, zap.NewNop())
	result := newTestEngine(fetcher, panickingExtractor{next: inner, trigger: "https://www.amazon.com/dp/2"}).
		Run(context.Background(), crawler.CrawlJob{StartURL: startURL, Region: "us"})

	require.Equal(t, crawler.ResultSuccess, result.Status)
	require.Equal(t, 1, result.TotalProducts)
	require.Equal(t, 1, result.Stats.ProductsDropped)
}

func TestRunPaginatorPanicBecomesInternalError(t *testing.T) {
	t.Parallel()

	e := New(crawler.DefaultRegions(), panickingPaginator{}, newMapFetcher(nil), nil, fixedClock{}, Config{}, zap.NewNop())
	result := e.Run(context.Background(), crawler.CrawlJob{StartURL: startURL, Region: "us"})

	require.Equal(t, crawler.ResultError, result.Status)
	require.Equal(t, crawler.ErrorKindInternal, result.ErrorKind)
	require.Contains(t, result.Error, "walk exploded")
}

type mapFetcher struct {
	mu        sync.Mutex
	responses map[string]crawler.FetchOutcome
	calls     map[string]int
}

func newMapFetcher(responses map[string]crawler.FetchOutcome) *mapFetcher {
	return &mapFetcher{responses: responses, calls: make(map[string]int)}
}

func (f *mapFetcher) Fetch(ctx context.Context, url string) crawler.FetchOutcome {
	if err := ctx.Err(); err != nil {
		return crawler.FetchOutcome{Kind: crawler.FetchTransportError, Err: err}
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls[url]++
	if out, ok := f.responses[url]; ok {
		return out
	}
	return crawler.FetchOutcome{Kind: crawler.FetchSuccess, Body: "<html></html>"}
}

func (f *mapFetcher) count(url string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[url]
}

func (f *mapFetcher) total() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	sum := 0
	for _, n := range f.calls {
		sum += n
	}
	return sum
}

// deadlineFetcher ends the job context while the trigger page is in flight,
// then still answers with the page.
type deadlineFetcher struct {
	*mapFetcher
	trigger string
	cancel  context.CancelFunc
}

func (f *deadlineFetcher) Fetch(ctx context.Context, url string) crawler.FetchOutcome {
	if url != f.trigger {
		return f.mapFetcher.Fetch(ctx, url)
	}
	out := f.mapFetcher.Fetch(ctx, url)
	f.cancel()
	return out
}

type panickingExtractor struct {
	next    Extractor
	trigger string
}

func (p panickingExtractor) Extract(ctx context.Context, body, url string, region crawler.Region) (*crawler.ProductRecord, error) {
	if url == p.trigger {
		panic("extractor exploded")
	}
	return p.next.Extract(ctx, body, url, region)
}

type panickingPaginator struct{}

func (panickingPaginator) Walk(context.Context, crawler.CrawlJob, crawler.Region, func(listing.Batch) error) (listing.Summary, error) {
	panic("walk exploded")
}
