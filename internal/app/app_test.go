package app

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/marketplace-scraper/internal/config"
	memorypublisher "github.com/JakeFAU/marketplace-scraper/internal/publisher/memory"
	localstorage "github.com/JakeFAU/marketplace-scraper/internal/storage/local"
	memorystorage "github.com/JakeFAU/marketplace-scraper/internal/storage/memory"
)

// MockCloser mocks a backend that must be released on shutdown.
type MockCloser struct {
	mock.Mock
}

// Close satisfies the Closer interface for the mock.
func (m *MockCloser) Close() error {
	args := m.Called()
	return args.Error(0)
}

func TestNewDefaultsToMemoryBackends(t *testing.T) {
	t.Parallel()

	a, err := New(context.Background(), config.Config{}, zap.NewNop())
	require.NoError(t, err)
	defer a.Close()

	assert.IsType(t, &memorystorage.JobStore{}, a.JobStore())
	assert.IsType(t, &memorystorage.BlobStore{}, a.BlobStore())
	assert.IsType(t, &memorypublisher.Publisher{}, a.Publisher())
	assert.Empty(t, a.ReadinessChecks())
}

func TestNewLocalBlobStore(t *testing.T) {
	t.Parallel()

	cfg := config.Config{}
	cfg.Storage.Backend = "local"
	cfg.Storage.Local.BaseDir = t.TempDir()

	a, err := New(context.Background(), cfg, zap.NewNop())
	require.NoError(t, err)
	defer a.Close()
	assert.IsType(t, &localstorage.BlobStore{}, a.BlobStore())
}

func TestNewRejectsBadBackends(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		mutate func(*config.Config)
		want   string
	}{
		{"unknown job store", func(c *config.Config) { c.JobStore.Backend = "etcd" }, "unknown job store backend"},
		{"postgres without dsn", func(c *config.Config) { c.JobStore.Backend = "postgres" }, "database.dsn"},
		{"redis without addr", func(c *config.Config) { c.JobStore.Backend = "redis" }, "redis.addr"},
		{"unknown storage", func(c *config.Config) { c.Storage.Backend = "s3" }, "unknown storage backend"},
		{"local without dir", func(c *config.Config) { c.Storage.Backend = "local" }, "base directory is required"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			cfg := config.Config{}
			tt.mutate(&cfg)
			ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			_, err := New(ctx, cfg, zap.NewNop())
			require.ErrorContains(t, err, tt.want)
		})
	}
}

func TestCloseRunsInReverseOrderAndLogsErrors(t *testing.T) {
	t.Parallel()

	var order []string
	first := &MockCloser{}
	first.On("Close").Run(func(mock.Arguments) { order = append(order, "first") }).Return(nil).Once()
	second := &MockCloser{}
	second.On("Close").Run(func(mock.Arguments) { order = append(order, "second") }).
		Return(errors.New("already closed")).Once()

	a := &App{logger: zap.NewNop()}
	a.addCloser("first", first)
	a.addCloser("second", second)
	a.Close()
	a.Close()

	assert.Equal(t, []string{"second", "first"}, order)
	first.AssertExpectations(t)
	second.AssertExpectations(t)
}
