package listing

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/marketplace-scraper/internal/crawler"
)

const (
	emptyDelay    = 5 * time.Second
	interPage     = 3 * time.Second
	cooldownDelay = 7 * time.Second
)

func testRegion(t *testing.T) crawler.Region {
	t.Helper()
	region, err := crawler.DefaultRegions().Lookup("us")
	require.NoError(t, err)
	return region
}

func testConfig() Config {
	return Config{
		MaxEmptyRetries: 3,
		EmptyRetryDelay: emptyDelay,
		CooldownEvery:   10,
		Cooldown:        crawler.DelayRange{Min: cooldownDelay, Max: cooldownDelay},
		InterPage:       crawler.DelayRange{Min: interPage, Max: interPage},
	}
}

func listingHTML(next string, links ...string) string {
	var b strings.Builder
	b.WriteString("<html><body>")
	for _, l := range links {
		fmt.Fprintf(&b, `<a class="a-link-normal s-underline-text s-underline-link-text s-link-style a-text-normal" href="%s">p</a>`, l)
	}
	if next != "" {
		fmt.Fprintf(&b, `<a class="s-pagination-next" href="%s">Next</a>`, next)
	}
	b.WriteString("</body></html>")
	return b.String()
}

func ok(body string) crawler.FetchOutcome {
	return crawler.FetchOutcome{Kind: crawler.FetchSuccess, Body: body}
}

func TestWalkFollowsNextUntilDone(t *testing.T) {
	t.Parallel()

	fetcher := newScriptedFetcher(map[string][]crawler.FetchOutcome{
		"https://www.amazon.com/s?k=phone":        {ok(listingHTML("/s?k=phone&page=2", "/dp/A", "/dp/B"))},
		"https://www.amazon.com/s?k=phone&page=2": {ok(listingHTML("", "/dp/C"))},
	})
	pauser := &recordingPauser{}
	p := New(fetcher, pauser, testConfig(), zap.NewNop())

	var batches []Batch
	summary, err := p.Walk(context.Background(),
		crawler.CrawlJob{StartURL: "https://www.amazon.com/s?k=phone", MaxPages: 5},
		testRegion(t),
		func(b Batch) error {
			batches = append(batches, b)
			return nil
		})

	require.NoError(t, err)
	require.Equal(t, Summary{Pages: 2, Links: 3, State: StateDone}, summary)
	require.Len(t, batches, 2)
	require.Equal(t, []string{"https://www.amazon.com/dp/A", "https://www.amazon.com/dp/B"}, batches[0].URLs)
	require.True(t, batches[0].HasMore)
	require.False(t, batches[1].HasMore)
	require.Equal(t, []time.Duration{interPage}, pauser.delays())
}

func TestWalkStopsAtMaxPages(t *testing.T) {
	t.Parallel()

	fetcher := newScriptedFetcher(map[string][]crawler.FetchOutcome{
		"https://www.amazon.com/s?k=phone": {ok(listingHTML("/s?page=2", "/dp/A"))},
	})
	pauser := &recordingPauser{}
	p := New(fetcher, pauser, testConfig(), zap.NewNop())

	summary, err := p.Walk(context.Background(),
		crawler.CrawlJob{StartURL: "https://www.amazon.com/s?k=phone", MaxPages: 1},
		testRegion(t), func(Batch) error { return nil })

	require.NoError(t, err)
	require.Equal(t, StateDone, summary.State)
	require.Equal(t, 1, fetcher.total())
	require.Empty(t, pauser.delays())
}

func TestWalkRetriesEmptyPageThenCollects(t *testing.T) {
	t.Parallel()

	fetcher := newScriptedFetcher(map[string][]crawler.FetchOutcome{
		"https://www.amazon.com/s?k=phone": {
			ok(listingHTML("")),
			{Kind: crawler.FetchBlocked},
			ok(listingHTML("", "/dp/A")),
		},
	})
	pauser := &recordingPauser{}
	p := New(fetcher, pauser, testConfig(), zap.NewNop())

	summary, err := p.Walk(context.Background(),
		crawler.CrawlJob{StartURL: "https://www.amazon.com/s?k=phone"},
		testRegion(t), func(Batch) error { return nil })

	require.NoError(t, err)
	require.Equal(t, Summary{Pages: 1, Links: 1, State: StateDone}, summary)
	require.Equal(t, []time.Duration{emptyDelay, emptyDelay}, pauser.delays())
}

func TestWalkAbandonsAfterRetryBudget(t *testing.T) {
	t.Parallel()

	fetcher := newScriptedFetcher(map[string][]crawler.FetchOutcome{
		"https://www.amazon.com/s?k=phone": {{Kind: crawler.FetchExhausted, Err: errors.New("timeout")}},
	})
	pauser := &recordingPauser{}
	p := New(fetcher, pauser, testConfig(), zap.NewNop())

	summary, err := p.Walk(context.Background(),
		crawler.CrawlJob{StartURL: "https://www.amazon.com/s?k=phone"},
		testRegion(t), func(Batch) error { return nil })

	require.NoError(t, err)
	require.Equal(t, StateAbandoned, summary.State)
	require.Zero(t, summary.Pages)
	require.Equal(t, 4, fetcher.total())
	require.Len(t, pauser.delays(), 3)
}

func TestWalkCooldownEveryNPages(t *testing.T) {
	t.Parallel()

	script := make(map[string][]crawler.FetchOutcome)
	for i := 1; i <= 4; i++ {
		next := ""
		if i < 4 {
			next = fmt.Sprintf("/s?page=%d", i+1)
		}
		script[fmt.Sprintf("https://www.amazon.com/s?page=%d", i)] = []crawler.FetchOutcome{
			ok(listingHTML(next, fmt.Sprintf("/dp/%d", i))),
		}
	}
	cfg := testConfig()
	cfg.CooldownEvery = 2
	pauser := &recordingPauser{}
	p := New(newScriptedFetcher(script), pauser, cfg, zap.NewNop())

	summary, err := p.Walk(context.Background(),
		crawler.CrawlJob{StartURL: "https://www.amazon.com/s?page=1", MaxPages: 10},
		testRegion(t), func(Batch) error { return nil })

	require.NoError(t, err)
	require.Equal(t, 4, summary.Pages)
	require.Equal(t, []time.Duration{interPage, cooldownDelay, interPage, interPage}, pauser.delays())
}

func TestWalkStopsOnSelfLinkingNext(t *testing.T) {
	t.Parallel()

	fetcher := newScriptedFetcher(map[string][]crawler.FetchOutcome{
		"https://www.amazon.com/s?k=phone": {ok(listingHTML("/s?k=phone", "/dp/A"))},
	})
	p := New(fetcher, &recordingPauser{}, testConfig(), zap.NewNop())

	summary, err := p.Walk(context.Background(),
		crawler.CrawlJob{StartURL: "https://www.amazon.com/s?k=phone", MaxPages: 5},
		testRegion(t), func(Batch) error { return nil })

	require.NoError(t, err)
	require.Equal(t, StateDone, summary.State)
	require.Equal(t, 1, fetcher.total())
}

func TestWalkCallbackErrorAborts(t *testing.T) {
	t.Parallel()

	fetcher := newScriptedFetcher(map[string][]crawler.FetchOutcome{
		"https://www.amazon.com/s?k=phone": {ok(listingHTML("/s?page=2", "/dp/A"))},
	})
	p := New(fetcher, &recordingPauser{}, testConfig(), zap.NewNop())
	sentinel := errors.New("stop")

	summary, err := p.Walk(context.Background(),
		crawler.CrawlJob{StartURL: "https://www.amazon.com/s?k=phone"},
		testRegion(t), func(Batch) error { return sentinel })

	require.ErrorIs(t, err, sentinel)
	require.Equal(t, StateAborted, summary.State)
}

func TestWalkCanceledContextAborts(t *testing.T) {
	t.Parallel()

	fetcher := newScriptedFetcher(nil)
	p := New(fetcher, &recordingPauser{}, testConfig(), zap.NewNop())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	summary, err := p.Walk(ctx, crawler.CrawlJob{StartURL: "https://www.amazon.com/s"},
		testRegion(t), func(Batch) error { return nil })

	require.NoError(t, err)
	require.Equal(t, StateAborted, summary.State)
	require.Zero(t, fetcher.total())
}

func TestParseResolvesAndDeduplicates(t *testing.T) {
	t.Parallel()

	base, err := url.Parse("https://www.amazon.co.jp")
	require.NoError(t, err)
	body := `<a class="a-link-normal s-underline-text s-underline-link-text s-link-style a-text-normal" href="/dp/X#reviews">x</a>
<a class="a-link-normal s-underline-text s-underline-link-text s-link-style a-text-normal" href="/dp/X">x</a>
<a class="a-link-normal s-underline-text s-underline-link-text s-link-style a-text-normal">no href</a>
<a class="a-link-normal" href="/dp/ignored">other</a>
<a class="s-pagination-next">disabled</a>
<a class="s-pagination-next" href="/s?page=2">next</a>`

	page, err := Parse(body, base, defaultLinkSelector, defaultNextSelector)
	require.NoError(t, err)
	require.Equal(t, []string{"https://www.amazon.co.jp/dp/X"}, page.Links)
	require.Equal(t, "https://www.amazon.co.jp/s?page=2", page.Next)
}

// scriptedFetcher replays outcomes per URL; the last outcome repeats.
type scriptedFetcher struct {
	mu     sync.Mutex
	script map[string][]crawler.FetchOutcome
	calls  map[string]int
}

func newScriptedFetcher(script map[string][]crawler.FetchOutcome) *scriptedFetcher {
	return &scriptedFetcher{script: script, calls: make(map[string]int)}
}

func (f *scriptedFetcher) Fetch(_ context.Context, url string) crawler.FetchOutcome {
	f.mu.Lock()
	defer f.mu.Unlock()
	outcomes := f.script[url]
	n := f.calls[url]
	f.calls[url]++
	if len(outcomes) == 0 {
		return crawler.FetchOutcome{Kind: crawler.FetchServerError, StatusCode: 503}
	}
	if n >= len(outcomes) {
		n = len(outcomes) - 1
	}
	return outcomes[n]
}

func (f *scriptedFetcher) total() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	sum := 0
	for _, n := range f.calls {
		sum += n
	}
	return sum
}

type recordingPauser struct {
	mu     sync.Mutex
	waited []time.Duration
}

func (p *recordingPauser) Pause(_ context.Context, d time.Duration) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.waited = append(p.waited, d)
}

func (p *recordingPauser) delays() []time.Duration {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]time.Duration(nil), p.waited...)
}
