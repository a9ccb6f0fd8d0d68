// Package redis provides a Redis-backed job store whose entries expire after
// a configurable TTL.
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/JakeFAU/marketplace-scraper/internal/crawler"
)

const (
	defaultKeyPrefix = "scraper:job:"
	defaultTTL       = 24 * time.Hour
)

// Config controls the Redis connection and key layout.
type Config struct {
	Addr      string
	Password  string
	DB        int
	KeyPrefix string
	TTL       time.Duration
}

type commands interface {
	Get(ctx context.Context, key string) *goredis.StringCmd
	Set(ctx context.Context, key string, value any, expiration time.Duration) *goredis.StatusCmd
	SetNX(ctx context.Context, key string, value any, expiration time.Duration) *goredis.BoolCmd
	Ping(ctx context.Context) *goredis.StatusCmd
	Close() error
}

// JobStore keeps each job and its result as JSON strings.
type JobStore struct {
	client commands
	prefix string
	ttl    time.Duration
	now    func() time.Time
}

// NewJobStore dials Redis and verifies the connection.
func NewJobStore(ctx context.Context, cfg Config) (*JobStore, error) {
	if cfg.Addr == "" {
		return nil, fmt.Errorf("redis.addr is required")
	}
	client := goredis.NewClient(&goredis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return newWithClient(client, cfg), nil
}

func newWithClient(client commands, cfg Config) *JobStore {
	if cfg.KeyPrefix == "" {
		cfg.KeyPrefix = defaultKeyPrefix
	}
	if cfg.TTL <= 0 {
		cfg.TTL = defaultTTL
	}
	return &JobStore{
		client: client,
		prefix: cfg.KeyPrefix,
		ttl:    cfg.TTL,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// Ping checks that Redis is reachable.
func (s *JobStore) Ping(ctx context.Context) error {
	if err := s.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("ping redis: %w", err)
	}
	return nil
}

// Close closes the client.
func (s *JobStore) Close() error {
	if err := s.client.Close(); err != nil {
		return fmt.Errorf("close redis: %w", err)
	}
	return nil
}

func (s *JobStore) jobKey(id string) string    { return s.prefix + id }
func (s *JobStore) resultKey(id string) string { return s.prefix + id + ":result" }

// CreateJob stores a job unless the ID is taken.
func (s *JobStore) CreateJob(ctx context.Context, job crawler.Job) error {
	payload, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("marshal job: %w", err)
	}
	created, err := s.client.SetNX(ctx, s.jobKey(job.ID), payload, s.ttl).Result()
	if err != nil {
		return fmt.Errorf("create job: %w", err)
	}
	if !created {
		return fmt.Errorf("create job %s: %w", job.ID, crawler.ErrJobExists)
	}
	return nil
}

// UpdateJobStatus rewrites the stored job. Only one worker owns a job, so a
// plain read-modify-write is enough.
func (s *JobStore) UpdateJobStatus(
	ctx context.Context,
	jobID string,
	status crawler.JobStatus,
	errText string,
	counters crawler.JobCounters,
) error {
	job, err := s.GetJob(ctx, jobID)
	if err != nil {
		return err
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
	payload, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("marshal job: %w", err)
	}
	if err := s.client.Set(ctx, s.jobKey(jobID), payload, s.ttl).Err(); err != nil {
		return fmt.Errorf("update job: %w", err)
	}
	return nil
}

// SaveResult stores the result next to its job.
func (s *JobStore) SaveResult(ctx context.Context, jobID string, result crawler.JobResult) error {
	if _, err := s.GetJob(ctx, jobID); err != nil {
		return err
	}
	payload, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("marshal result: %w", err)
	}
	if err := s.client.Set(ctx, s.resultKey(jobID), payload, s.ttl).Err(); err != nil {
		return fmt.Errorf("save result: %w", err)
	}
	return nil
}

// GetJob loads a job.
func (s *JobStore) GetJob(ctx context.Context, jobID string) (crawler.Job, error) {
	raw, err := s.client.Get(ctx, s.jobKey(jobID)).Bytes()
	if errors.Is(err, goredis.Nil) {
		return crawler.Job{}, fmt.Errorf("get job %s: %w", jobID, crawler.ErrJobNotFound)
	}
	if err != nil {
		return crawler.Job{}, fmt.Errorf("get job: %w", err)
	}
	var job crawler.Job
	if err := json.Unmarshal(raw, &job); err != nil {
		return crawler.Job{}, fmt.Errorf("decode job: %w", err)
	}
	return job, nil
}

// GetResult loads a result; ErrResultNotReady while only the job exists.
func (s *JobStore) GetResult(ctx context.Context, jobID string) (crawler.JobResult, error) {
	raw, err := s.client.Get(ctx, s.resultKey(jobID)).Bytes()
	if errors.Is(err, goredis.Nil) {
		if _, jobErr := s.GetJob(ctx, jobID); jobErr != nil {
			return crawler.JobResult{}, jobErr
		}
		return crawler.JobResult{}, fmt.Errorf("get result %s: %w", jobID, crawler.ErrResultNotReady)
	}
	if err != nil {
		return crawler.JobResult{}, fmt.Errorf("get result: %w", err)
	}
	var result crawler.JobResult
	if err := json.Unmarshal(raw, &result); err != nil {
		return crawler.JobResult{}, fmt.Errorf("decode result: %w", err)
	}
	return result, nil
}
