package crawler

import (
	"time"
)

// JobStatus represents the lifecycle state of a crawl job.
type JobStatus string

// Job status values persisted in the job store.
const (
	JobStatusQueued    JobStatus = "queued"
	JobStatusRunning   JobStatus = "running"
	JobStatusSucceeded JobStatus = "succeeded"
	JobStatusFailed    JobStatus = "failed"
	JobStatusCanceled  JobStatus = "canceled"
)

// IsTerminal reports whether no further transitions are expected.
func (s JobStatus) IsTerminal() bool {
	switch s {
	case JobStatusSucceeded, JobStatusFailed, JobStatusCanceled:
		return true
	default:
		return false
	}
}

// JobParameters captures per-job knobs requested by the client or a standard template.
type JobParameters struct {
	StartURL         string            `json:"start_url" mapstructure:"start_url"`
	Region           string            `json:"region" mapstructure:"region"`
	MaxPages         int               `json:"max_pages" mapstructure:"max_pages"`
	ConcurrencyLimit int               `json:"concurrency_limit" mapstructure:"concurrency_limit"`
	BudgetSeconds    int               `json:"budget_seconds" mapstructure:"budget_seconds"`
	Tags             map[string]string `json:"tags,omitempty" mapstructure:"tags"`
}

// CrawlJob converts the parameters into the engine's input.
func (p JobParameters) CrawlJob() CrawlJob {
	return CrawlJob{
		StartURL:         p.StartURL,
		Region:           p.Region,
		MaxPages:         p.MaxPages,
		ConcurrencyLimit: p.ConcurrencyLimit,
	}
}

// Job represents the metadata persisted for each submitted crawl request.
type Job struct {
	ID         string        `json:"id"`
	Status     JobStatus     `json:"status"`
	Submitted  time.Time     `json:"submitted_at"`
	Started    *time.Time    `json:"started_at,omitempty"`
	Finished   *time.Time    `json:"finished_at,omitempty"`
	ErrorText  string        `json:"error_text,omitempty"`
	Parameters JobParameters `json:"parameters"`
	Counters   JobCounters   `json:"counters"`
}

// JobCounters tracks progress of one engine run.
type JobCounters struct {
	ListingPages       int `json:"listing_pages"`
	ProductsDiscovered int `json:"products_discovered"`
	ProductsExtracted  int `json:"products_extracted"`
	ProductsDropped    int `json:"products_dropped"`
	FetchFailures      int `json:"fetch_failures"`
}

// CrawlJob is the immutable input of one engine run.
type CrawlJob struct {
	StartURL         string
	Region           string
	MaxPages         int
	ConcurrencyLimit int
}

// FetchKind classifies the outcome of a page fetch.
type FetchKind int

// Fetch outcome kinds.
const (
	FetchSuccess FetchKind = iota
	FetchBlocked
	FetchServerError
	FetchTransportError
	FetchExhausted
)

func (k FetchKind) String() string {
	switch k {
	case FetchSuccess:
		return "success"
	case FetchBlocked:
		return "blocked"
	case FetchServerError:
		return "server_error"
	case FetchTransportError:
		return "transport_error"
	case FetchExhausted:
		return "exhausted"
	default:
		return "unknown"
	}
}

// FetchOutcome is the tagged result of a fetch. Body is only set on success
// and is always fully decoded text.
type FetchOutcome struct {
	Kind       FetchKind
	Body       string
	FinalURL   string
	StatusCode int
	Attempts   int
	Err        error
}

// OK reports whether the fetch produced a usable body.
func (o FetchOutcome) OK() bool {
	return o.Kind == FetchSuccess
}

// ProductRecord is one extracted product detail page.
type ProductRecord struct {
	Date           string            `json:"date"`
	URL            string            `json:"url"`
	Site           string            `json:"site"`
	Category       string            `json:"category"`
	Title          *string           `json:"title"`
	Price          *string           `json:"price"`
	Discount       *string           `json:"discount"`
	Rating         *string           `json:"rating"`
	ImageURL       *string           `json:"image_url"`
	Description    *string           `json:"description"`
	Specifications map[string]string `json:"specifications"`
	Reviews        []Review          `json:"reviews"`
}

// Review is extracted as a unit; partial reviews are never recorded.
type Review struct {
	Reviewer string `json:"reviewer"`
	Rating   string `json:"rating"`
	Date     string `json:"date"`
	Text     string `json:"text"`
}

// ResultStatus is the top-level outcome of an engine run.
type ResultStatus string

// Result status values.
const (
	ResultSuccess ResultStatus = "success"
	ResultError   ResultStatus = "error"
)

// Error kinds reported on failed results.
const (
	ErrorKindConfiguration = "configuration"
	ErrorKindInternal      = "internal"
)

// JobResult is what an engine run hands back to its caller.
type JobResult struct {
	Status        ResultStatus    `json:"status"`
	Region        string          `json:"region,omitempty"`
	TotalProducts int             `json:"total_products"`
	ExecutionTime float64         `json:"execution_time"`
	ScrapedData   []ProductRecord `json:"scraped_data"`
	Error         string          `json:"error,omitempty"`
	ErrorKind     string          `json:"error_kind,omitempty"`
	Partial       bool            `json:"partial,omitempty"`
	Stats         JobCounters     `json:"stats"`
}
