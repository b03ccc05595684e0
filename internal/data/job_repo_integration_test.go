package data

import (
	"context"
	"database/sql"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/docchat/docchat-go/internal/core"
	"github.com/docchat/docchat-go/internal/domain/model"
	"github.com/docchat/docchat-go/internal/testutil"
)

// TestJobRepo_Integration_CreateAndClaim tests that jobs come out oldest first.
func TestJobRepo_Integration_CreateAndClaim(t *testing.T) {
	testutil.SkipIfNoTestDB(t)

	testutil.WithTestDB(t, func(db *sql.DB) {
		repo := NewJobRepo(db, RepoConfig{})

		var ids []string
		for _, docID := range []string{"first", "second", "third"} {
			job, err := repo.Create(context.Background(), &model.CreateJobRequest{
				Type:    model.JobTypeProcessSupportDoc,
				Payload: json.RawMessage(`{"documentId": "` + docID + `"}`),
			})
			require.NoError(t, err)
			ids = append(ids, job.ID)
		}

		for i := range ids {
			claimed, err := repo.ClaimNext(context.Background(), 30)
			require.NoError(t, err)
			assert.Equal(t, ids[i], claimed.ID, "jobs should be claimed in creation order")
			assert.Equal(t, model.JobStatusRunning, claimed.Status)
			assert.Equal(t, 1, claimed.Attempts)
			assert.NotNil(t, claimed.LeaseExpiresAt)
		}

		_, err := repo.ClaimNext(context.Background(), 30)
		require.ErrorIs(t, err, model.ErrNoJobsAvailable)
	})
}

// TestJobRepo_Integration_JobLifecycle tests the complete lifecycle of a job.
func TestJobRepo_Integration_JobLifecycle(t *testing.T) {
	testutil.SkipIfNoTestDB(t)

	testutil.WithTestDB(t, func(db *sql.DB) {
		// Drive retry delays with a manual clock
		clock := NewManualClock(time.Now())
		repo := NewJobRepo(db, RepoConfig{
			RetryDelaySeconds: 5,
			Clock:             clock,
		})

		job, err := repo.Create(context.Background(), &model.CreateJobRequest{
			Type:        model.JobTypeProcessResume,
			Payload:     json.RawMessage(`{"documentId": "doc-1"}`),
			MaxAttempts: 2,
		})
		require.NoError(t, err)
		assert.Equal(t, model.JobStatusPending, job.Status)
		assert.Equal(t, 0, job.Attempts)

		claimed, err := repo.ClaimNext(context.Background(), 30)
		require.NoError(t, err)
		assert.Equal(t, job.ID, claimed.ID)
		assert.Equal(t, model.JobStatusRunning, claimed.Status)
		assert.Equal(t, 1, claimed.Attempts)

		ok, err := repo.Heartbeat(context.Background(), job.ID, 60)
		require.NoError(t, err)
		assert.True(t, ok)

		ok, err = repo.MarkFailed(context.Background(), core.MarkJobFailedParams{
			ID:         job.ID,
			ErrMsg:     "first failure",
			Reschedule: true,
		})
		require.NoError(t, err)
		assert.True(t, ok)

		// The retry is not claimable until the retry delay passes.
		_, err = repo.ClaimNext(context.Background(), 30)
		require.ErrorIs(t, err, model.ErrNoJobsAvailable)

		clock.Advance(6 * time.Second)

		retried, err := repo.ClaimNext(context.Background(), 30)
		require.NoError(t, err)
		assert.Equal(t, job.ID, retried.ID)
		assert.Equal(t, 2, retried.Attempts)
		require.NotNil(t, retried.LastError)
		assert.Equal(t, "first failure", *retried.LastError)

		ok, err = repo.MarkDone(context.Background(), job.ID)
		require.NoError(t, err)
		assert.True(t, ok)

		final, err := repo.GetByID(context.Background(), job.ID)
		require.NoError(t, err)
		assert.Equal(t, model.JobStatusDone, final.Status)
		assert.Nil(t, final.LastError)
		assert.Nil(t, final.LeaseExpiresAt)
	})
}

// TestJobRepo_Integration_ExhaustedAttempts verifies budget exhaustion lands in failed.
func TestJobRepo_Integration_ExhaustedAttempts(t *testing.T) {
	testutil.SkipIfNoTestDB(t)

	testutil.WithTestDB(t, func(db *sql.DB) {
		clock := NewManualClock(time.Now())
		repo := NewJobRepo(db, RepoConfig{
			RetryDelaySeconds: 1,
			Clock:             clock,
		})

		job, err := repo.Create(context.Background(), &model.CreateJobRequest{
			Type:        model.JobTypeProcessExpenseCSV,
			Payload:     json.RawMessage(`{"documentId": "doc-csv"}`),
			MaxAttempts: 2,
		})
		require.NoError(t, err)

		for attempt := 1; attempt <= 2; attempt++ {
			claimed, claimErr := repo.ClaimNext(context.Background(), 30)
			require.NoError(t, claimErr)
			assert.Equal(t, attempt, claimed.Attempts)

			ok, failErr := repo.MarkFailed(context.Background(), core.MarkJobFailedParams{
				ID:         job.ID,
				ErrMsg:     "boom",
				Reschedule: true,
			})
			require.NoError(t, failErr)
			assert.True(t, ok)

			clock.Advance(2 * time.Second)
		}

		final, err := repo.GetByID(context.Background(), job.ID)
		require.NoError(t, err)
		assert.Equal(t, model.JobStatusFailed, final.Status)

		_, err = repo.ClaimNext(context.Background(), 30)
		require.ErrorIs(t, err, model.ErrNoJobsAvailable)
	})
}

// TestJobRepo_Integration_NonRetryableFailure verifies Reschedule=false skips the retry budget.
func TestJobRepo_Integration_NonRetryableFailure(t *testing.T) {
	testutil.SkipIfNoTestDB(t)

	testutil.WithTestDB(t, func(db *sql.DB) {
		repo := NewJobRepo(db, RepoConfig{})

		job, err := repo.Create(context.Background(), &model.CreateJobRequest{
			Type:        model.JobTypeProcessSupportDoc,
			Payload:     json.RawMessage(`{"documentId": "doc-x"}`),
			MaxAttempts: 5,
		})
		require.NoError(t, err)

		_, err = repo.ClaimNext(context.Background(), 30)
		require.NoError(t, err)

		ok, err := repo.MarkFailed(context.Background(), core.MarkJobFailedParams{
			ID:         job.ID,
			ErrMsg:     "document not found",
			Reschedule: false,
		})
		require.NoError(t, err)
		assert.True(t, ok)

		final, err := repo.GetByID(context.Background(), job.ID)
		require.NoError(t, err)
		assert.Equal(t, model.JobStatusFailed, final.Status)
		assert.Equal(t, 1, final.Attempts)
	})
}

// TestJobRepo_Integration_ConcurrentClaim tests that one job cannot be claimed twice.
func TestJobRepo_Integration_ConcurrentClaim(t *testing.T) {
	testutil.SkipIfNoTestDB(t)

	testutil.WithTestDB(t, func(db *sql.DB) {
		repo := NewJobRepo(db, RepoConfig{})

		job, err := repo.Create(context.Background(), &model.CreateJobRequest{
			Type:    model.JobTypeDispatchWebhooks,
			Payload: json.RawMessage(`{"eventId": "ev-1"}`),
		})
		require.NoError(t, err)

		results := make(chan *model.Job, 2)
		claimErrs := make(chan error, 2)

		for i := 0; i < 2; i++ {
			go func() {
				claimed, claimErr := repo.ClaimNext(context.Background(), 30)
				if claimErr != nil {
					claimErrs <- claimErr
				} else {
					results <- claimed
				}
			}()
		}

		var successCount, errorCount int
		var claimedJob *model.Job

		for i := 0; i < 2; i++ {
			select {
			case j := <-results:
				successCount++
				claimedJob = j
			case claimErr := <-claimErrs:
				errorCount++
				require.ErrorIs(t, claimErr, model.ErrNoJobsAvailable)
			case <-time.After(5 * time.Second):
				t.Fatal("Test timed out")
			}
		}

		assert.Equal(t, 1, successCount, "Exactly one goroutine should claim the job")
		assert.Equal(t, 1, errorCount, "Exactly one goroutine should come up empty")
		if claimedJob != nil {
			assert.Equal(t, job.ID, claimedJob.ID)
			assert.Equal(t, 1, claimedJob.Attempts)
		}
	})
}

// TestJobRepo_Integration_LeaseReclaim tests that a lapsed lease hands the job back.
func TestJobRepo_Integration_LeaseReclaim(t *testing.T) {
	testutil.SkipIfNoTestDB(t)

	testutil.WithTestDB(t, func(db *sql.DB) {
		clock := NewManualClock(time.Now())
		repo := NewJobRepo(db, RepoConfig{Clock: clock})

		job, err := repo.Create(context.Background(), &model.CreateJobRequest{
			Type:    model.JobTypeDeliverWebhook,
			Payload: json.RawMessage(`{"deliveryId": "del-1"}`),
		})
		require.NoError(t, err)

		claimed, err := repo.ClaimNext(context.Background(), 10)
		require.NoError(t, err)
		assert.Equal(t, 1, claimed.Attempts)

		// Lease still live: nothing to claim.
		_, err = repo.ClaimNext(context.Background(), 10)
		require.ErrorIs(t, err, model.ErrNoJobsAvailable)

		// Simulate a dead worker by letting the lease lapse.
		clock.Advance(11 * time.Second)

		reclaimed, err := repo.ClaimNext(context.Background(), 10)
		require.NoError(t, err)
		assert.Equal(t, job.ID, reclaimed.ID)
		assert.Equal(t, 2, reclaimed.Attempts)

		ok, err := repo.MarkDone(context.Background(), job.ID)
		require.NoError(t, err)
		assert.True(t, ok)

		ok, err = repo.Heartbeat(context.Background(), job.ID, 10)
		require.NoError(t, err)
		assert.False(t, ok, "heartbeat on a terminal job must not succeed")
	})
}

// TestJobRepo_Integration_ScheduledJob tests that run_at gates claiming.
func TestJobRepo_Integration_ScheduledJob(t *testing.T) {
	testutil.SkipIfNoTestDB(t)

	testutil.WithTestDB(t, func(db *sql.DB) {
		clock := NewManualClock(time.Now())
		repo := NewJobRepo(db, RepoConfig{Clock: clock})

		runAt := clock.Now().Add(5 * time.Minute)
		_, err := repo.Create(context.Background(), &model.CreateJobRequest{
			Type:    model.JobTypeDeliverWebhook,
			Payload: json.RawMessage(`{"deliveryId": "del-later"}`),
			RunAt:   &runAt,
		})
		require.NoError(t, err)

		_, err = repo.ClaimNext(context.Background(), 30)
		require.ErrorIs(t, err, model.ErrNoJobsAvailable)

		clock.Advance(6 * time.Minute)

		claimed, err := repo.ClaimNext(context.Background(), 30)
		require.NoError(t, err)
		assert.Equal(t, model.JobTypeDeliverWebhook, claimed.Type)
	})
}

// TestJobRepo_Integration_Stats tests job statistics.
func TestJobRepo_Integration_Stats(t *testing.T) {
	testutil.SkipIfNoTestDB(t)

	testutil.WithTestDB(t, func(db *sql.DB) {
		repo := NewJobRepo(db, RepoConfig{})

		for i := 0; i < 3; i++ {
			_, err := repo.Create(context.Background(), &model.CreateJobRequest{
				Type:    model.JobTypeProcessSupportDoc,
				Payload: json.RawMessage(`{"documentId": "doc"}`),
			})
			require.NoError(t, err)
		}

		claimed, err := repo.ClaimNext(context.Background(), 30)
		require.NoError(t, err)

		ok, err := repo.MarkDone(context.Background(), claimed.ID)
		require.NoError(t, err)
		require.True(t, ok)

		stats, err := repo.Stats(context.Background())
		require.NoError(t, err)
		assert.Equal(t, 2, stats.Pending)
		assert.Equal(t, 0, stats.Running)
		assert.Equal(t, 1, stats.Done)
		assert.Equal(t, 0, stats.Failed)
	})
}

// TestJobRepo_Integration_TransactionalEnqueue tests CreateInTx rollback behavior.
func TestJobRepo_Integration_TransactionalEnqueue(t *testing.T) {
	testutil.SkipIfNoTestDB(t)

	testutil.WithTestDB(t, func(db *sql.DB) {
		repo := NewJobRepo(db, RepoConfig{})

		tx, err := db.BeginTx(context.Background(), nil)
		require.NoError(t, err)

		job, err := repo.CreateInTx(context.Background(), tx, &model.CreateJobRequest{
			Type:    model.JobTypeDispatchWebhooks,
			Payload: json.RawMessage(`{"eventId": "ev-rolled-back"}`),
		})
		require.NoError(t, err)
		require.NotEmpty(t, job.ID)

		require.NoError(t, tx.Rollback())

		_, err = repo.GetByID(context.Background(), job.ID)
		require.ErrorIs(t, err, ErrJobNotFound)
	})
}
