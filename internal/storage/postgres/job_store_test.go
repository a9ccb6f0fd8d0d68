package postgres

import (
	"context"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/marketplace-scraper/internal/crawler"
)

func newMockStore(t *testing.T) (*JobStore, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(mock.Close)
	store, err := NewJobStoreWithPool(mock, "")
	require.NoError(t, err)
	return store, mock
}

func TestNewJobStoreWithPoolValidates(t *testing.T) {
	t.Parallel()

	_, err := NewJobStoreWithPool(nil, "jobs")
	require.Error(t, err)

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()
	_, err = NewJobStoreWithPool(mock, "jobs; DROP TABLE x")
	require.ErrorContains(t, err, "invalid table name")

	_, err = NewJobStore(context.Background(), Config{})
	require.ErrorContains(t, err, "database.dsn")
}

func TestCreateJobInsertsRow(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	submitted := time.Unix(1700000000, 0).UTC()
	job := crawler.Job{
		ID:         "job-1",
		Status:     crawler.JobStatusQueued,
		Submitted:  submitted,
		Parameters: crawler.JobParameters{StartURL: "https://www.amazon.com/s?k=phone", Region: "us"},
	}

	mock.ExpectExec("INSERT INTO scrape_jobs").
		WithArgs("job-1", "queued", submitted, "", pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	require.NoError(t, store.CreateJob(context.Background(), job))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestCreateJobDuplicate(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	mock.ExpectExec("INSERT INTO scrape_jobs").
		WithArgs("job-1", "queued", pgxmock.AnyArg(), "", pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnError(&pgconn.PgError{Code: uniqueViolation})

	err := store.CreateJob(context.Background(), crawler.Job{ID: "job-1", Status: crawler.JobStatusQueued})
	require.ErrorIs(t, err, crawler.ErrJobExists)
}

func TestUpdateJobStatus(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	counters := crawler.JobCounters{ListingPages: 2, ProductsExtracted: 5}

	mock.ExpectExec("UPDATE scrape_jobs SET").
		WithArgs("job-1", "succeeded", "", []byte(`{"listing_pages":2,"products_discovered":0,"products_extracted":5,"products_dropped":0,"fetch_failures":0}`), true).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectExec("UPDATE scrape_jobs SET").
		WithArgs("missing", "running", "", pgxmock.AnyArg(), false).
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))

	ctx := context.Background()
	require.NoError(t, store.UpdateJobStatus(ctx, "job-1", crawler.JobStatusSucceeded, "", counters))
	require.ErrorIs(t, store.UpdateJobStatus(ctx, "missing", crawler.JobStatusRunning, "", crawler.JobCounters{}),
		crawler.ErrJobNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSaveAndGetResult(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	result := crawler.JobResult{Status: crawler.ResultSuccess, Region: "us", TotalProducts: 1}
	payload := []byte(`{"status":"success","region":"us","total_products":1,"execution_time":0,"scraped_data":null,"stats":{"listing_pages":0,"products_discovered":0,"products_extracted":0,"products_dropped":0,"fetch_failures":0}}`)

	mock.ExpectExec("UPDATE scrape_jobs SET result").
		WithArgs("job-1", pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectQuery("SELECT result FROM scrape_jobs").
		WithArgs("job-1").
		WillReturnRows(pgxmock.NewRows([]string{"result"}).AddRow(payload))

	ctx := context.Background()
	require.NoError(t, store.SaveResult(ctx, "job-1", result))
	got, err := store.GetResult(ctx, "job-1")
	require.NoError(t, err)
	require.Equal(t, result, got)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestGetResultStates(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	mock.ExpectQuery("SELECT result FROM scrape_jobs").
		WithArgs("running").
		WillReturnRows(pgxmock.NewRows([]string{"result"}).AddRow(nil))
	mock.ExpectQuery("SELECT result FROM scrape_jobs").
		WithArgs("missing").
		WillReturnRows(pgxmock.NewRows([]string{"result"}))

	ctx := context.Background()
	_, err := store.GetResult(ctx, "running")
	require.ErrorIs(t, err, crawler.ErrResultNotReady)
	_, err = store.GetResult(ctx, "missing")
	require.ErrorIs(t, err, crawler.ErrJobNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestGetJob(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	submitted := time.Unix(1700000000, 0).UTC()
	started := submitted.Add(time.Second)
	columns := []string{"id", "status", "submitted_at", "started_at", "finished_at", "error_text", "parameters", "counters"}

	mock.ExpectQuery("SELECT id, status").
		WithArgs("job-1").
		WillReturnRows(pgxmock.NewRows(columns).AddRow(
			"job-1", "running", submitted, &started, nil, nil,
			[]byte(`{"start_url":"https://www.amazon.com/s","region":"us","max_pages":3}`),
			[]byte(`{"listing_pages":1}`),
		))

	job, err := store.GetJob(context.Background(), "job-1")
	require.NoError(t, err)
	require.Equal(t, "job-1", job.ID)
	require.Equal(t, crawler.JobStatusRunning, job.Status)
	require.Equal(t, submitted, job.Submitted)
	require.NotNil(t, job.Started)
	require.Nil(t, job.Finished)
	require.Equal(t, 3, job.Parameters.MaxPages)
	require.Equal(t, 1, job.Counters.ListingPages)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestGetJobNotFound(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	mock.ExpectQuery("SELECT id, status").
		WithArgs("nope").
		WillReturnRows(pgxmock.NewRows([]string{"id"}))

	_, err := store.GetJob(context.Background(), "nope")
	require.ErrorIs(t, err, crawler.ErrJobNotFound)
}

func TestPing(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	mock.ExpectPing()
	require.NoError(t, store.Ping(context.Background()))
	require.NoError(t, mock.ExpectationsWereMet())
}
