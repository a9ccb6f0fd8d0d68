// Package postgres provides a Postgres-backed job store.
package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/JakeFAU/marketplace-scraper/internal/crawler"
)

const uniqueViolation = "23505"

var validTableName = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// Config controls the Postgres connection pool used for job rows.
type Config struct {
	DSN             string
	Table           string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
}

type pool interface {
	Exec(context.Context, string, ...any) (pgconn.CommandTag, error)
	QueryRow(context.Context, string, ...any) pgx.Row
	Ping(context.Context) error
	Close()
}

// JobStore persists jobs and results in one table. The table is expected to
// have the columns id, status, submitted_at, started_at, finished_at,
// error_text, parameters, counters and result.
type JobStore struct {
	pool  pool
	table string
}

// NewJobStore connects a pgx pool and returns a JobStore.
func NewJobStore(ctx context.Context, cfg Config) (*JobStore, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("database.dsn is required")
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		poolCfg.MinConns = cfg.MinConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	p, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	return NewJobStoreWithPool(p, cfg.Table)
}

// NewJobStoreWithPool constructs a store from an existing pool.
func NewJobStoreWithPool(p pool, table string) (*JobStore, error) {
	if p == nil {
		return nil, fmt.Errorf("pool is required")
	}
	if table == "" {
		table = "scrape_jobs"
	}
	if !validTableName.MatchString(table) {
		return nil, fmt.Errorf("invalid table name %q", table)
	}
	return &JobStore{pool: p, table: table}, nil
}

// Ping checks that the database is reachable.
func (s *JobStore) Ping(ctx context.Context) error {
	if err := s.pool.Ping(ctx); err != nil {
		return fmt.Errorf("ping postgres: %w", err)
	}
	return nil
}

// Close releases the underlying pool resources.
func (s *JobStore) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

// CreateJob inserts a job row.
func (s *JobStore) CreateJob(ctx context.Context, job crawler.Job) error {
	params, err := json.Marshal(job.Parameters)
	if err != nil {
		return fmt.Errorf("marshal parameters: %w", err)
	}
	counters, err := json.Marshal(job.Counters)
	if err != nil {
		return fmt.Errorf("marshal counters: %w", err)
	}
	query := fmt.Sprintf(`
INSERT INTO %s (id, status, submitted_at, error_text, parameters, counters)
VALUES ($1, $2, $3, $4, $5, $6)`, s.table)

	_, err = s.pool.Exec(ctx, query, job.ID, string(job.Status), job.Submitted, job.ErrorText, params, counters)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return fmt.Errorf("create job %s: %w", job.ID, crawler.ErrJobExists)
		}
		return fmt.Errorf("insert job: %w", err)
	}
	return nil
}

// UpdateJobStatus sets the status, error text and counters. started_at is
// stamped on the first running update and finished_at on terminal ones.
func (s *JobStore) UpdateJobStatus(
	ctx context.Context,
	jobID string,
	status crawler.JobStatus,
	errText string,
	counters crawler.JobCounters,
) error {
	countersJSON, err := json.Marshal(counters)
	if err != nil {
		return fmt.Errorf("marshal counters: %w", err)
	}
	query := fmt.Sprintf(`
UPDATE %s SET
	status = $2,
	error_text = $3,
	counters = $4,
	started_at = CASE WHEN $2 = 'running' AND started_at IS NULL THEN now() ELSE started_at END,
	finished_at = CASE WHEN $5 THEN now() ELSE finished_at END
WHERE id = $1`, s.table)

	tag, err := s.pool.Exec(ctx, query, jobID, string(status), errText, countersJSON, status.IsTerminal())
	if err != nil {
		return fmt.Errorf("update job status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("update job %s: %w", jobID, crawler.ErrJobNotFound)
	}
	return nil
}

// SaveResult stores the engine result as JSON.
func (s *JobStore) SaveResult(ctx context.Context, jobID string, result crawler.JobResult) error {
	payload, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("marshal result: %w", err)
	}
	query := fmt.Sprintf(`UPDATE %s SET result = $2 WHERE id = $1`, s.table)
	tag, err := s.pool.Exec(ctx, query, jobID, payload)
	if err != nil {
		return fmt.Errorf("save result: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("save result %s: %w", jobID, crawler.ErrJobNotFound)
	}
	return nil
}

// GetJob loads one job row.
func (s *JobStore) GetJob(ctx context.Context, jobID string) (crawler.Job, error) {
	query := fmt.Sprintf(`
SELECT id, status, submitted_at, started_at, finished_at, error_text, parameters, counters
FROM %s WHERE id = $1`, s.table)

	var (
		job      crawler.Job
		status   string
		errText  *string
		params   []byte
		counters []byte
	)
	err := s.pool.QueryRow(ctx, query, jobID).Scan(
		&job.ID, &status, &job.Submitted, &job.Started, &job.Finished, &errText, &params, &counters,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return crawler.Job{}, fmt.Errorf("get job %s: %w", jobID, crawler.ErrJobNotFound)
	}
	if err != nil {
		return crawler.Job{}, fmt.Errorf("select job: %w", err)
	}
	job.Status = crawler.JobStatus(status)
	if errText != nil {
		job.ErrorText = *errText
	}
	if len(params) > 0 {
		if err := json.Unmarshal(params, &job.Parameters); err != nil {
			return crawler.Job{}, fmt.Errorf("decode parameters: %w", err)
		}
	}
	if len(counters) > 0 {
		if err := json.Unmarshal(counters, &job.Counters); err != nil {
			return crawler.Job{}, fmt.Errorf("decode counters: %w", err)
		}
	}
	return job, nil
}

// GetResult loads the stored result.
func (s *JobStore) GetResult(ctx context.Context, jobID string) (crawler.JobResult, error) {
	query := fmt.Sprintf(`SELECT result FROM %s WHERE id = $1`, s.table)

	var payload []byte
	err := s.pool.QueryRow(ctx, query, jobID).Scan(&payload)
	if errors.Is(err, pgx.ErrNoRows) {
		return crawler.JobResult{}, fmt.Errorf("get result %s: %w", jobID, crawler.ErrJobNotFound)
	}
	if err != nil {
		return crawler.JobResult{}, fmt.Errorf("select result: %w", err)
	}
	if len(payload) == 0 {
		return crawler.JobResult{}, fmt.Errorf("get result %s: %w", jobID, crawler.ErrResultNotReady)
	}
	var result crawler.JobResult
	if err := json.Unmarshal(payload, &result); err != nil {
		return crawler.JobResult{}, fmt.Errorf("decode result: %w", err)
	}
	return result, nil
}
