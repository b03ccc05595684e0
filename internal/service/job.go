// Package service contains the business logic that sits between the job
// runner / admin surfaces and the data layer.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/docchat/docchat-go/internal/core"
	domainjob "github.com/docchat/docchat-go/internal/domain/job"
	"github.com/docchat/docchat-go/internal/domain/model"
	apperrors "github.com/docchat/docchat-go/internal/errors"
)

// JobServiceOptions groups dependencies for JobService.
type JobServiceOptions struct {
	Repo         core.JobRepository     // Required: job repository
	DefaultLease time.Duration          // Required: default lease duration for claims
	Logger       *slog.Logger           // Optional: structured logger
	LeasePolicy  *domainjob.LeasePolicy // Optional: override default lease policy
}

// JobService provides business logic for job operations: enqueueing, the
// claim/heartbeat/settle cycle used by workers, and read paths for operators.
type JobService struct {
	repo        core.JobRepository
	leasePolicy *domainjob.LeasePolicy
	logger      *slog.Logger
}

// NewJobService constructs a new JobService.
func NewJobService(opts JobServiceOptions) (*JobService, error) {
	if opts.Repo == nil {
		return nil, errors.New("JobRepository is required")
	}

	var leasePolicy *domainjob.LeasePolicy
	switch {
	case opts.LeasePolicy != nil:
		leasePolicy = opts.LeasePolicy
	case opts.DefaultLease > 0:
		var err error
		leasePolicy, err = domainjob.NewLeasePolicy(opts.DefaultLease)
		if err != nil {
			return nil, fmt.Errorf("create lease policy: %w", err)
		}
	default:
		return nil, errors.New("DefaultLease must be positive")
	}

	var logger *slog.Logger
	if opts.Logger != nil {
		logger = opts.Logger.With("component", "job_service")
	}

	return &JobService{
		repo:        opts.Repo,
		leasePolicy: leasePolicy,
		logger:      logger,
	}, nil
}

// MustNewJobService constructs a new JobService and panics on error.
// Use this when you're certain the options are valid (e.g., in main.go).
func MustNewJobService(opts JobServiceOptions) *JobService {
	svc, err := NewJobService(opts)
	if err != nil {
		panic(fmt.Sprintf("failed to create JobService: %v", err))
	}
	return svc
}

// Enqueue creates a new job from the given request.
func (s *JobService) Enqueue(ctx context.Context, req *model.CreateJobRequest) (*model.Job, error) {
	job, err := s.repo.Create(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("enqueue job: %w", err)
	}

	if s.logger != nil {
		s.logger.DebugContext(ctx, "job enqueued",
			"id", job.ID,
			"type", job.Type,
			"run_at", job.RunAt,
		)
	}

	return job, nil
}

// ClaimNext claims the oldest eligible pending job for processing.
// Returns model.ErrNoJobsAvailable when nothing is claimable.
func (s *JobService) ClaimNext(ctx context.Context, lease time.Duration) (*model.Job, error) {
	decision := s.leasePolicy.Resolve(lease)
	if decision.Source == domainjob.LeaseSourceClamped && s.logger != nil {
		s.logger.DebugContext(ctx, "clamped sub-second lease duration to 1 second",
			"requested_duration", decision.Requested)
	}

	job, err := s.repo.ClaimNext(ctx, decision.Seconds)
	if err != nil {
		if errors.Is(err, model.ErrNoJobsAvailable) {
			return nil, err
		}
		return nil, fmt.Errorf("claim next job: %w", err)
	}

	if s.logger != nil && job != nil {
		s.logger.DebugContext(ctx, "job claimed",
			"id", job.ID,
			"type", job.Type,
			"attempt", job.Attempts,
			"lease_seconds", decision.Seconds,
		)
	}

	return job, nil
}

// Heartbeat extends the lease on a running job to indicate it's still being processed.
func (s *JobService) Heartbeat(ctx context.Context, id string, extend time.Duration) (bool, error) {
	decision := s.leasePolicy.Resolve(extend)

	updated, err := s.repo.Heartbeat(ctx, id, decision.Seconds)
	if err != nil {
		return false, fmt.Errorf("heartbeat job %s: %w", id, err)
	}

	if s.logger != nil && updated {
		s.logger.DebugContext(ctx, "job heartbeat updated", "id", id, "extend_seconds", decision.Seconds)
	}

	return updated, nil
}

// MarkDone marks a running job as completed successfully.
func (s *JobService) MarkDone(ctx context.Context, id string) (bool, error) {
	done, err := s.repo.MarkDone(ctx, id)
	if err != nil {
		return false, fmt.Errorf("complete job %s: %w", id, err)
	}

	if s.logger != nil && done {
		s.logger.DebugContext(ctx, "job done", "id", id)
	}

	return done, nil
}

// MarkFailed records a handler failure for a running job. Retryable failures
// reschedule the job (until its attempt budget is exhausted); failures carrying
// the non-retryable error code settle it as failed immediately.
func (s *JobService) MarkFailed(ctx context.Context, id string, handlerErr error) (bool, error) {
	if handlerErr == nil {
		return false, errors.New("handler error required")
	}

	reschedule := !apperrors.IsNonRetryable(handlerErr)
	failed, err := s.repo.MarkFailed(ctx, core.MarkJobFailedParams{
		ID:         id,
		ErrMsg:     handlerErr.Error(),
		Reschedule: reschedule,
	})
	if err != nil {
		return false, fmt.Errorf("fail job %s: %w", id, err)
	}

	if s.logger != nil && failed {
		s.logger.DebugContext(ctx, "job failure recorded",
			"id", id,
			"reschedule", reschedule,
			"error", handlerErr.Error(),
		)
	}

	return failed, nil
}

// Stats returns counts of jobs in each lifecycle state.
func (s *JobService) Stats(ctx context.Context) (*model.JobStats, error) {
	stats, err := s.repo.Stats(ctx)
	if err != nil {
		return nil, fmt.Errorf("get job stats: %w", err)
	}
	return stats, nil
}

// GetByID returns a job by its ID.
func (s *JobService) GetByID(ctx context.Context, id string) (*model.Job, error) {
	job, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("get job by id %s: %w", id, err)
	}
	return job, nil
}

// ListRecent returns the most recently created jobs.
func (s *JobService) ListRecent(ctx context.Context, limit int) ([]*model.Job, error) {
	jobs, err := s.repo.ListRecent(ctx, limit)
	if err != nil {
		return nil, fmt.Errorf("list recent jobs: %w", err)
	}
	return jobs, nil
}
