// Package dispatcher manages worker fan-out over the job queue and tracks
// running jobs so they can be canceled.
package dispatcher

import (
	"context"
	"fmt"
	"sync"

	"github.com/JakeFAU/marketplace-scraper/internal/crawler"
	"github.com/JakeFAU/marketplace-scraper/internal/worker"
)

// Dispatcher fans out queue work to a pool of workers.
type Dispatcher struct {
	queue    crawler.Queue
	workers  []*worker.Worker
	registry *Registry
}

// New creates a Dispatcher. The registry must be the one handed to the workers.
func New(queue crawler.Queue, workers []*worker.Worker, registry *Registry) *Dispatcher {
	if registry == nil {
		registry = NewRegistry()
	}
	return &Dispatcher{
		queue:    queue,
		workers:  workers,
		registry: registry,
	}
}

// Run starts all workers and blocks until the context finishes.
func (d *Dispatcher) Run(ctx context.Context) {
	var wg sync.WaitGroup
	for _, w := range d.workers {
		wg.Add(1)
		go func(wk *worker.Worker) {
			defer wg.Done()
			wk.Run(ctx)
		}(w)
	}
	<-ctx.Done()
	wg.Wait()
}

// Enqueue proxies to the underlying queue.
func (d *Dispatcher) Enqueue(ctx context.Context, item crawler.QueueItem) error {
	if err := d.queue.Enqueue(ctx, item); err != nil {
		return fmt.Errorf("queue enqueue: %w", err)
	}
	return nil
}

// Cancel stops a running job. It reports false when the job is not running.
func (d *Dispatcher) Cancel(jobID string) bool {
	return d.registry.Cancel(jobID)
}

// Registry maps running job IDs to the cancel function of their engine run.
type Registry struct {
	mu      sync.Mutex
	cancels map[string]context.CancelCauseFunc
}

// NewRegistry returns an empty Registry.
func NewRegistry() *Registry {
	return &Registry{cancels: make(map[string]context.CancelCauseFunc)}
}

// Register records the cancel function for jobID.
func (r *Registry) Register(jobID string, cancel context.CancelCauseFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.cancels[jobID] = cancel
}

// Release forgets jobID once its run has finished.
func (r *Registry) Release(jobID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.cancels, jobID)
}

// Cancel cancels jobID with crawler.ErrJobCanceled as the cause.
func (r *Registry) Cancel(jobID string) bool {
	r.mu.Lock()
	cancel, ok := r.cancels[jobID]
	r.mu.Unlock()
	if !ok {
		return false
	}
	cancel(crawler.ErrJobCanceled)
	return true
}

// Running reports the number of registered jobs.
func (r *Registry) Running() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.cancels)
}
