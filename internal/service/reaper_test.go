package service

import (
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/docchat/docchat-go/config"
	"github.com/docchat/docchat-go/internal/core"
	"github.com/docchat/docchat-go/internal/domain/model"
)

// mockReaperRepo is a simple mock implementation for testing.
type mockReaperRepo struct {
	failStalePendingJobsCalled int
	failStalePendingJobsCount  int64
	failStalePendingJobsError  error

	deleteOldJobsCalls  map[model.JobStatus]int
	deleteOldJobsCounts map[model.JobStatus]int64
	deleteOldJobsError  error

	deleteOldDeliveriesCalls  map[model.DeliveryStatus]int
	deleteOldDeliveriesCounts map[model.DeliveryStatus]int64
	deleteOldDeliveriesError  error
}

func (m *mockReaperRepo) FailStalePendingJobs(
	ctx context.Context,
	maxAge time.Duration,
	batchSize int,
) (int64, error) {
	m.failStalePendingJobsCalled++
	if m.failStalePendingJobsError != nil {
		return 0, m.failStalePendingJobsError
	}
	// Return count on first call, then 0 to simulate batch exhaustion
	if m.failStalePendingJobsCalled == 1 {
		return m.failStalePendingJobsCount, nil
	}
	return 0, nil
}

func (m *mockReaperRepo) DeleteOldJobs(
	ctx context.Context,
	params core.DeleteOldJobsParams,
) (int64, error) {
	if m.deleteOldJobsCalls == nil {
		m.deleteOldJobsCalls = make(map[model.JobStatus]int)
	}
	if m.deleteOldJobsCounts == nil {
		m.deleteOldJobsCounts = make(map[model.JobStatus]int64)
	}

	m.deleteOldJobsCalls[params.Status]++
	if m.deleteOldJobsError != nil {
		return 0, m.deleteOldJobsError
	}
	if m.deleteOldJobsCalls[params.Status] == 1 {
		return m.deleteOldJobsCounts[params.Status], nil
	}
	return 0, nil
}

func (m *mockReaperRepo) DeleteOldDeliveries(
	ctx context.Context,
	params core.DeleteOldDeliveriesParams,
) (int64, error) {
	if m.deleteOldDeliveriesCalls == nil {
		m.deleteOldDeliveriesCalls = make(map[model.DeliveryStatus]int)
	}
	if m.deleteOldDeliveriesCounts == nil {
		m.deleteOldDeliveriesCounts = make(map[model.DeliveryStatus]int64)
	}

	m.deleteOldDeliveriesCalls[params.Status]++
	if m.deleteOldDeliveriesError != nil {
		return 0, m.deleteOldDeliveriesError
	}
	if m.deleteOldDeliveriesCalls[params.Status] == 1 {
		return m.deleteOldDeliveriesCounts[params.Status], nil
	}
	return 0, nil
}

func testReaperConfig() config.ReaperConfig {
	return config.ReaperConfig{
		Interval:         5 * time.Minute,
		PendingMaxAge:    24 * time.Hour,
		DoneMaxAge:       7 * 24 * time.Hour,
		FailedMaxAge:     7 * 24 * time.Hour,
		DeliveriesMaxAge: 90 * 24 * time.Hour,
		BatchSize:        1000,
	}
}

func TestNewReaperService(t *testing.T) {
	t.Run("creates service with valid options", func(t *testing.T) {
		svc, err := NewReaperService(ReaperServiceOptions{
			Repo:   &mockReaperRepo{},
			Config: testReaperConfig(),
			Logger: slog.Default(),
		})
		require.NoError(t, err)
		assert.NotNil(t, svc)
	})

	t.Run("requires repository", func(t *testing.T) {
		_, err := NewReaperService(ReaperServiceOptions{Config: testReaperConfig()})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "ReaperRepository")
	})
}

func TestReaperService_RunCleanup(t *testing.T) {
	t.Run("runs all cleanup operations", func(t *testing.T) {
		repo := &mockReaperRepo{
			failStalePendingJobsCount: 3,
			deleteOldJobsCounts: map[model.JobStatus]int64{
				model.JobStatusDone:   10,
				model.JobStatusFailed: 2,
			},
			deleteOldDeliveriesCounts: map[model.DeliveryStatus]int64{
				model.DeliveryStatusSuccess: 7,
				model.DeliveryStatusFailed:  1,
			},
		}
		svc, err := NewReaperService(ReaperServiceOptions{
			Repo:   repo,
			Config: testReaperConfig(),
		})
		require.NoError(t, err)

		require.NoError(t, svc.runCleanup(context.Background()))

		// Each operation loops until a zero-count batch
		assert.Equal(t, 2, repo.failStalePendingJobsCalled)
		assert.Equal(t, 2, repo.deleteOldJobsCalls[model.JobStatusDone])
		assert.Equal(t, 2, repo.deleteOldJobsCalls[model.JobStatusFailed])
		assert.Equal(t, 2, repo.deleteOldDeliveriesCalls[model.DeliveryStatusSuccess])
		assert.Equal(t, 2, repo.deleteOldDeliveriesCalls[model.DeliveryStatusFailed])
	})

	t.Run("aggregates step errors without stopping later steps", func(t *testing.T) {
		repo := &mockReaperRepo{
			failStalePendingJobsError: errors.New("lock timeout"),
			deleteOldJobsCounts: map[model.JobStatus]int64{
				model.JobStatusDone: 5,
			},
		}
		svc, err := NewReaperService(ReaperServiceOptions{
			Repo:   repo,
			Config: testReaperConfig(),
		})
		require.NoError(t, err)

		err = svc.runCleanup(context.Background())
		require.Error(t, err)
		assert.Contains(t, err.Error(), "fail stale pending jobs")

		// Later steps still ran
		assert.Equal(t, 2, repo.deleteOldJobsCalls[model.JobStatusDone])
		assert.Equal(t, 1, repo.deleteOldDeliveriesCalls[model.DeliveryStatusSuccess])
	})

	t.Run("returns context.Canceled when every failure is a cancellation", func(t *testing.T) {
		repo := &mockReaperRepo{
			failStalePendingJobsError: context.Canceled,
			deleteOldJobsError:        context.Canceled,
			deleteOldDeliveriesError:  context.Canceled,
		}
		svc, err := NewReaperService(ReaperServiceOptions{
			Repo:   repo,
			Config: testReaperConfig(),
		})
		require.NoError(t, err)

		err = svc.runCleanup(context.Background())
		assert.ErrorIs(t, err, context.Canceled)
	})
}

func TestReaperService_Run_GracefulShutdown(t *testing.T) {
	repo := &mockReaperRepo{}
	cfg := testReaperConfig()
	cfg.Interval = time.Minute

	svc, err := NewReaperService(ReaperServiceOptions{
		Repo:   repo,
		Config: cfg,
	})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() {
		done <- svc.Run(ctx)
	}()

	// Give the loop a moment to pass jitter and the initial cleanup
	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("reaper did not shut down")
	}
}
