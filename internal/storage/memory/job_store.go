package memory

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/JakeFAU/marketplace-scraper/internal/crawler"
)

// JobStore keeps jobs and their final results in process memory.
type JobStore struct {
	mu      sync.RWMutex
	jobs    map[string]crawler.Job
	results map[string]crawler.JobResult
	now     func() time.Time
}

// NewJobStore constructs a JobStore.
func NewJobStore() *JobStore {
	return &JobStore{
		jobs:    make(map[string]crawler.Job),
		results: make(map[string]crawler.JobResult),
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// CreateJob stores a new job.
func (s *JobStore) CreateJob(_ context.Context, job crawler.Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.jobs[job.ID]; exists {
		return fmt.Errorf("create job %s: %w", job.ID, crawler.ErrJobExists)
	}
	s.jobs[job.ID] = job
	return nil
}

// UpdateJobStatus updates the status and counters for a job and stamps the
// start and finish times.
func (s *JobStore) UpdateJobStatus(
	_ context.Context,
	jobID string,
	status crawler.JobStatus,
	errText string,
	counters crawler.JobCounters,
) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[jobID]
	if !ok {
		return fmt.Errorf("update job %s: %w", jobID, crawler.ErrJobNotFound)
	}
	job.Status = status
	job.ErrorText = errText
	job.Counters = counters
	now := s.now()
	if status == crawler.JobStatusRunning && job.Started == nil {
		job.Started = &now
	}
	if status.IsTerminal() {
		job.Finished = &now
	}
	s.jobs[jobID] = job
	return nil
}

// SaveResult stores the engine result for a known job.
func (s *JobStore) SaveResult(_ context.Context, jobID string, result crawler.JobResult) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.jobs[jobID]; !ok {
		return fmt.Errorf("save result %s: %w", jobID, crawler.ErrJobNotFound)
	}
	s.results[jobID] = result
	return nil
}

// GetJob fetches a job by ID.
func (s *JobStore) GetJob(_ context.Context, jobID string) (crawler.Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	job, ok := s.jobs[jobID]
	if !ok {
		return crawler.Job{}, fmt.Errorf("get job %s: %w", jobID, crawler.ErrJobNotFound)
	}
	return job, nil
}

// GetResult returns the stored result, ErrJobNotFound for unknown jobs and
// ErrResultNotReady while the job is still running.
func (s *JobStore) GetResult(_ context.Context, jobID string) (crawler.JobResult, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if _, ok := s.jobs[jobID]; !ok {
		return crawler.JobResult{}, fmt.Errorf("get result %s: %w", jobID, crawler.ErrJobNotFound)
	}
	result, ok := s.results[jobID]
	if !ok {
		return crawler.JobResult{}, fmt.Errorf("get result %s: %w", jobID, crawler.ErrResultNotReady)
	}
	return result, nil
}
