package crawler

import (
	"context"
	"io"
	"time"
)

// PageFetcher issues one logical page fetch. Implementations never return a
// Go error; every failure is expressed through FetchOutcome.Kind.
type PageFetcher interface {
	Fetch(ctx context.Context, url string) FetchOutcome
}

// Pauser suspends the caller for a delay or until the context ends.
type Pauser interface {
	Pause(ctx context.Context, delay time.Duration)
}

// JobStore persists job metadata and final results.
type JobStore interface {
	CreateJob(ctx context.Context, job Job) error
	UpdateJobStatus(ctx context.Context, jobID string, status JobStatus, errText string, counters JobCounters) error
	SaveResult(ctx context.Context, jobID string, result JobResult) error
	GetJob(ctx context.Context, jobID string) (Job, error)
	GetResult(ctx context.Context, jobID string) (JobResult, error)
}

// BlobStore writes exported artifacts and returns a URI.
type BlobStore interface {
	PutObject(ctx context.Context, path string, contentType string, data io.Reader) (string, error)
}

// Publisher pushes completion events to Pub/Sub (or similar).
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) (string, error)
}

// Queue provides enqueue/dequeue semantics for crawl jobs.
type Queue interface {
	Enqueue(ctx context.Context, job QueueItem) error
	Dequeue(ctx context.Context) (QueueItem, error)
}

// Hasher computes digests for exported artifacts.
type Hasher interface {
	Hash(data []byte) (string, error)
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}

// IDGenerator produces job IDs (UUIDs).
type IDGenerator interface {
	NewID() (string, error)
}

// QueueItem wraps a job ready to run.
type QueueItem struct {
	JobID     string
	Params    JobParameters
	Attempt   int
	Submitted int64
}
