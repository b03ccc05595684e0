package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"github.com/docchat/docchat-go/internal/core"
	"github.com/docchat/docchat-go/internal/domain/model"
	apperrors "github.com/docchat/docchat-go/internal/errors"
	"github.com/docchat/docchat-go/internal/mocks"
)

func newTestJobService(t *testing.T, repo core.JobRepository) *JobService {
	t.Helper()
	return MustNewJobService(JobServiceOptions{
		Repo:         repo,
		DefaultLease: 30 * time.Second,
	})
}

func TestNewJobService(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	t.Run("requires repository", func(t *testing.T) {
		_, err := NewJobService(JobServiceOptions{DefaultLease: time.Minute})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "JobRepository")
	})

	t.Run("requires positive default lease", func(t *testing.T) {
		_, err := NewJobService(JobServiceOptions{Repo: mocks.NewMockJobRepository(ctrl)})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "DefaultLease")
	})

	t.Run("creates service with valid options", func(t *testing.T) {
		svc, err := NewJobService(JobServiceOptions{
			Repo:         mocks.NewMockJobRepository(ctrl),
			DefaultLease: time.Minute,
		})
		require.NoError(t, err)
		assert.NotNil(t, svc)
	})
}

func TestJobService_Enqueue(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	repo := mocks.NewMockJobRepository(ctrl)
	svc := newTestJobService(t, repo)

	req := &model.CreateJobRequest{
		Type:    model.JobTypeDispatchWebhooks,
		Payload: json.RawMessage(`{"eventId":"ev-1"}`),
	}
	expected := &model.Job{ID: "job-1", Type: req.Type, Status: model.JobStatusPending}

	repo.EXPECT().Create(gomock.Any(), req).Return(expected, nil)

	job, err := svc.Enqueue(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, expected, job)
}

func TestJobService_ClaimNext(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	t.Run("resolves default lease", func(t *testing.T) {
		repo := mocks.NewMockJobRepository(ctrl)
		svc := newTestJobService(t, repo)

		expected := &model.Job{ID: "job-1", Status: model.JobStatusRunning, Attempts: 1}
		repo.EXPECT().ClaimNext(gomock.Any(), 30).Return(expected, nil)

		job, err := svc.ClaimNext(context.Background(), 0)
		require.NoError(t, err)
		assert.Equal(t, expected, job)
	})

	t.Run("passes explicit lease in seconds", func(t *testing.T) {
		repo := mocks.NewMockJobRepository(ctrl)
		svc := newTestJobService(t, repo)

		repo.EXPECT().ClaimNext(gomock.Any(), 45).Return(&model.Job{ID: "job-1"}, nil)

		_, err := svc.ClaimNext(context.Background(), 45*time.Second)
		require.NoError(t, err)
	})

	t.Run("clamps sub-second lease to one second", func(t *testing.T) {
		repo := mocks.NewMockJobRepository(ctrl)
		svc := newTestJobService(t, repo)

		repo.EXPECT().ClaimNext(gomock.Any(), 1).Return(&model.Job{ID: "job-1"}, nil)

		_, err := svc.ClaimNext(context.Background(), 200*time.Millisecond)
		require.NoError(t, err)
	})

	t.Run("passes empty-queue sentinel through unwrapped", func(t *testing.T) {
		repo := mocks.NewMockJobRepository(ctrl)
		svc := newTestJobService(t, repo)

		repo.EXPECT().ClaimNext(gomock.Any(), 30).Return(nil, model.ErrNoJobsAvailable)

		_, err := svc.ClaimNext(context.Background(), 0)
		assert.ErrorIs(t, err, model.ErrNoJobsAvailable)
	})
}

func TestJobService_Heartbeat(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	repo := mocks.NewMockJobRepository(ctrl)
	svc := newTestJobService(t, repo)

	repo.EXPECT().Heartbeat(gomock.Any(), "job-1", 30).Return(true, nil)

	updated, err := svc.Heartbeat(context.Background(), "job-1", 0)
	require.NoError(t, err)
	assert.True(t, updated)
}

func TestJobService_MarkDone(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	repo := mocks.NewMockJobRepository(ctrl)
	svc := newTestJobService(t, repo)

	repo.EXPECT().MarkDone(gomock.Any(), "job-1").Return(true, nil)

	done, err := svc.MarkDone(context.Background(), "job-1")
	require.NoError(t, err)
	assert.True(t, done)
}

func TestJobService_MarkFailed(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	t.Run("requires a handler error", func(t *testing.T) {
		repo := mocks.NewMockJobRepository(ctrl)
		svc := newTestJobService(t, repo)

		_, err := svc.MarkFailed(context.Background(), "job-1", nil)
		require.Error(t, err)
	})

	t.Run("retryable failure reschedules", func(t *testing.T) {
		repo := mocks.NewMockJobRepository(ctrl)
		svc := newTestJobService(t, repo)

		repo.EXPECT().
			MarkFailed(gomock.Any(), core.MarkJobFailedParams{
				ID:         "job-1",
				ErrMsg:     "pipeline unavailable",
				Reschedule: true,
			}).
			Return(true, nil)

		failed, err := svc.MarkFailed(context.Background(), "job-1", errors.New("pipeline unavailable"))
		require.NoError(t, err)
		assert.True(t, failed)
	})

	t.Run("non-retryable failure settles immediately", func(t *testing.T) {
		repo := mocks.NewMockJobRepository(ctrl)
		svc := newTestJobService(t, repo)

		handlerErr := apperrors.NonRetryable("document doc-1 not found")
		repo.EXPECT().
			MarkFailed(gomock.Any(), core.MarkJobFailedParams{
				ID:         "job-1",
				ErrMsg:     handlerErr.Error(),
				Reschedule: false,
			}).
			Return(true, nil)

		failed, err := svc.MarkFailed(context.Background(), "job-1", handlerErr)
		require.NoError(t, err)
		assert.True(t, failed)
	})

	t.Run("wrapped non-retryable failure settles immediately", func(t *testing.T) {
		repo := mocks.NewMockJobRepository(ctrl)
		svc := newTestJobService(t, repo)

		wrapped := fmt.Errorf("process document: %w", apperrors.NonRetryable("gone"))
		repo.EXPECT().
			MarkFailed(gomock.Any(), gomock.AssignableToTypeOf(core.MarkJobFailedParams{})).
			DoAndReturn(func(_ context.Context, params core.MarkJobFailedParams) (bool, error) {
				assert.False(t, params.Reschedule)
				return true, nil
			})

		_, err := svc.MarkFailed(context.Background(), "job-1", wrapped)
		require.NoError(t, err)
	})
}

func TestJobService_Stats(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	repo := mocks.NewMockJobRepository(ctrl)
	svc := newTestJobService(t, repo)

	expected := &model.JobStats{Pending: 3, Running: 1, Done: 10, Failed: 2}
	repo.EXPECT().Stats(gomock.Any()).Return(expected, nil)

	stats, err := svc.Stats(context.Background())
	require.NoError(t, err)
	assert.Equal(t, expected, stats)
}

func TestJobService_ListRecent(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	repo := mocks.NewMockJobRepository(ctrl)
	svc := newTestJobService(t, repo)

	expected := []*model.Job{{ID: "job-2"}, {ID: "job-1"}}
	repo.EXPECT().ListRecent(gomock.Any(), 10).Return(expected, nil)

	jobs, err := svc.ListRecent(context.Background(), 10)
	require.NoError(t, err)
	assert.Equal(t, expected, jobs)
}
