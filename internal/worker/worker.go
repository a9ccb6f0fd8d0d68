// Package worker implements the job execution loop: dequeue a job, run the
// crawl engine exactly once, then persist, export and announce the result.
package worker

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/marketplace-scraper/internal/crawler"
	"github.com/JakeFAU/marketplace-scraper/internal/metrics"
)

const defaultPersistTimeout = 30 * time.Second

// Engine runs one crawl. It never returns a Go error.
type Engine interface {
	Run(ctx context.Context, job crawler.CrawlJob) crawler.JobResult
}

// Registry tracks the cancel function of each running job.
type Registry interface {
	Register(jobID string, cancel context.CancelCauseFunc)
	Release(jobID string)
}

// Config controls Worker behavior.
type Config struct {
	ContentType    string
	BlobPrefix     string
	Topic          string
	JobTimeout     time.Duration
	PersistTimeout time.Duration
}

// Event is the completion message published for every finished job.
type Event struct {
	JobID         string `json:"job_id"`
	Region        string `json:"region"`
	Status        string `json:"status"`
	TotalProducts int    `json:"total_products"`
	BlobURI       string `json:"blob_uri"`
	Hash          string `json:"hash"`
	Partial       bool   `json:"partial"`
	Timestamp     string `json:"timestamp"`
}

// Worker consumes queue items and executes crawl jobs.
type Worker struct {
	queue     crawler.Queue
	jobStore  crawler.JobStore
	blobStore crawler.BlobStore
	publisher crawler.Publisher
	hasher    crawler.Hasher
	clock     crawler.Clock
	engine    Engine
	registry  Registry
	cfg       Config
	logger    *zap.Logger
}

// New constructs a Worker.
func New(
	queue crawler.Queue,
	jobStore crawler.JobStore,
	blobStore crawler.BlobStore,
	publisher crawler.Publisher,
	hasher crawler.Hasher,
	clock crawler.Clock,
	engine Engine,
	registry Registry,
	cfg Config,
	logger *zap.Logger,
) *Worker {
	if cfg.ContentType == "" {
		cfg.ContentType = "application/json"
	}
	if cfg.PersistTimeout <= 0 {
		cfg.PersistTimeout = defaultPersistTimeout
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Worker{
		queue:     queue,
		jobStore:  jobStore,
		blobStore: blobStore,
		publisher: publisher,
		hasher:    hasher,
		clock:     clock,
		engine:    engine,
		registry:  registry,
		cfg:       cfg,
		logger:    logger.Named("worker"),
	}
}

// Run blocks, consuming queue items until the context finishes.
func (w *Worker) Run(ctx context.Context) {
	for {
		item, err := w.queue.Dequeue(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			if errors.Is(err, crawler.ErrQueueClosed) {
				return
			}
			w.logger.Error("queue dequeue failed", zap.Error(err))
			continue
		}
		w.logger.Debug("dequeued job", zap.String("job_id", item.JobID))
		w.processJob(ctx, item)
	}
}

func (w *Worker) processJob(ctx context.Context, item crawler.QueueItem) {
	logger := w.logger.With(zap.String("job_id", item.JobID), zap.String("region", item.Params.Region))

	if w.engine == nil {
		logger.Error("no engine configured")
		w.updateStatus(ctx, item.JobID, crawler.JobStatusFailed, "no engine configured", crawler.JobCounters{})
		return
	}
	if job, err := w.jobStore.GetJob(ctx, item.JobID); err == nil && job.Status == crawler.JobStatusCanceled {
		logger.Info("skipping job canceled while queued")
		return
	}

	if err := w.jobStore.UpdateJobStatus(ctx, item.JobID, crawler.JobStatusRunning, "", crawler.JobCounters{}); err != nil {
		logger.Error("update job status failed", zap.Error(err))
		return
	}

	metrics.IncActiveWorkers()
	defer metrics.DecActiveWorkers()

	result, runCtx, release := w.runEngine(ctx, item)
	defer release()

	status, errText := w.deriveFinalStatus(runCtx, result)
	logger.Info("engine run finished",
		zap.String("status", string(status)),
		zap.Int("total_products", result.TotalProducts),
		zap.Bool("partial", result.Partial),
		zap.Float64("execution_time", result.ExecutionTime),
	)

	// Persistence outlives a canceled run and a shutting-down service.
	persistCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), w.cfg.PersistTimeout)
	defer cancel()

	if err := w.persistAndPublish(persistCtx, item, status, result); err != nil {
		logger.Error("persist result failed", zap.Error(err))
		status = crawler.JobStatusFailed
		errText = err.Error()
	}

	w.updateStatus(persistCtx, item.JobID, status, errText, result.Stats)
	metrics.ObserveJob(string(status))
}

// runEngine invokes the engine once under a cancelable, time-boxed context.
func (w *Worker) runEngine(ctx context.Context, item crawler.QueueItem) (crawler.JobResult, context.Context, func()) {
	runCtx, cancel := context.WithCancelCause(ctx)
	if w.registry != nil {
		w.registry.Register(item.JobID, cancel)
	}

	timedCtx, stop := runCtx, context.CancelFunc(func() {})
	if timeout := w.timeout(item.Params); timeout > 0 {
		timedCtx, stop = context.WithTimeout(runCtx, timeout)
	}

	release := func() {
		stop()
		cancel(nil)
		if w.registry != nil {
			w.registry.Release(item.JobID)
		}
	}
	return w.engine.Run(timedCtx, item.Params.CrawlJob()), timedCtx, release
}

func (w *Worker) timeout(params crawler.JobParameters) time.Duration {
	timeout := w.cfg.JobTimeout
	if params.BudgetSeconds > 0 {
		budget := time.Duration(params.BudgetSeconds) * time.Second
		if timeout <= 0 || budget < timeout {
			timeout = budget
		}
	}
	return timeout
}

func (w *Worker) deriveFinalStatus(runCtx context.Context, result crawler.JobResult) (crawler.JobStatus, string) {
	switch {
	case result.Status == crawler.ResultError:
		return crawler.JobStatusFailed, result.Error
	case errors.Is(context.Cause(runCtx), crawler.ErrJobCanceled):
		return crawler.JobStatusCanceled, "canceled by request"
	case errors.Is(runCtx.Err(), context.DeadlineExceeded):
		return crawler.JobStatusSucceeded, "time budget exhausted, result is partial"
	default:
		return crawler.JobStatusSucceeded, ""
	}
}

func (w *Worker) persistAndPublish(
	ctx context.Context,
	item crawler.QueueItem,
	status crawler.JobStatus,
	result crawler.JobResult,
) error {
	if err := w.jobStore.SaveResult(ctx, item.JobID, result); err != nil {
		return fmt.Errorf("save result: %w", err)
	}
	if w.blobStore == nil || w.hasher == nil {
		return nil
	}

	data, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("marshal result: %w", err)
	}
	hash, err := w.hasher.Hash(data)
	if err != nil {
		return fmt.Errorf("hash result: %w", err)
	}
	uri, err := w.blobStore.PutObject(ctx, w.buildBlobPath(item.JobID, hash), w.cfg.ContentType, bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("put object: %w", err)
	}

	return w.publishResult(ctx, Event{
		JobID:         item.JobID,
		Region:        item.Params.Region,
		Status:        string(status),
		TotalProducts: result.TotalProducts,
		BlobURI:       uri,
		Hash:          hash,
		Partial:       result.Partial,
		Timestamp:     w.clock.Now().Format(time.RFC3339),
	})
}

func (w *Worker) buildBlobPath(jobID, hash string) string {
	prefix := strings.Trim(w.cfg.BlobPrefix, "/")
	if prefix == "" {
		return fmt.Sprintf("%s/%s.json", jobID, hash)
	}
	return fmt.Sprintf("%s/%s/%s.json", prefix, jobID, hash)
}

func (w *Worker) publishResult(ctx context.Context, event Event) error {
	if w.cfg.Topic == "" || w.publisher == nil {
		return nil
	}
	if _, err := w.publisher.Publish(ctx, w.cfg.Topic, event); err != nil {
		return fmt.Errorf("publish payload: %w", err)
	}
	w.logger.Info("result published",
		zap.String("job_id", event.JobID),
		zap.String("blob_uri", event.BlobURI),
		zap.String("hash", event.Hash),
		zap.Int("total_products", event.TotalProducts),
	)
	return nil
}

func (w *Worker) updateStatus(
	ctx context.Context,
	jobID string,
	status crawler.JobStatus,
	errText string,
	counters crawler.JobCounters,
) {
	if err := w.jobStore.UpdateJobStatus(ctx, jobID, status, errText, counters); err != nil {
		w.logger.Error("final job status update failed", zap.String("job_id", jobID), zap.Error(err))
	}
}
