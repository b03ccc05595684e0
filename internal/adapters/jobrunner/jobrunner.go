// Package jobrunner provides job execution and worker management for the docchat job system.
package jobrunner

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	domainjob "github.com/docchat/docchat-go/internal/domain/job"
	"github.com/docchat/docchat-go/internal/domain/model"
	apperrors "github.com/docchat/docchat-go/internal/errors"
	obserrors "github.com/docchat/docchat-go/internal/observability/errors"
	"github.com/docchat/docchat-go/internal/observability/metrics"
	"github.com/docchat/docchat-go/internal/observability/statsd"
	"github.com/docchat/docchat-go/internal/service"
)

// HandlerFunc processes a job and returns error to indicate failure (which will be retried per policy).
type HandlerFunc func(ctx context.Context, job *model.Job) error

// RunnerOptions configures the job runner adapter.
type RunnerOptions struct {
	Jobs       *service.JobService        // Required: claim/settle cycle
	Documents  *service.DocumentService   // Required: document job handlers
	Dispatcher *service.DispatcherService // Required: dispatch-webhooks handler
	Delivery   *service.DeliveryService   // Required: deliver-webhook handler
	Logger     *slog.Logger               // Optional: structured logger
	Metrics    statsd.Sink                // Optional: job lifecycle metrics

	// Job processing settings
	Lease        time.Duration // per-job lease duration; defaults to 30s
	PollInterval time.Duration // idle sleep between empty claims; defaults to 1s
	Concurrency  int           // number of worker goroutines; defaults to 1
}

// Runner pulls jobs off the shared queue and executes them using registered
// handlers. Workers poll: an empty claim sleeps for the poll interval and
// tries again. While a handler runs, a heartbeat goroutine keeps extending
// the job's lease so slow handlers are not reclaimed mid-flight.
type Runner struct {
	jobs         *service.JobService
	logger       *slog.Logger
	lease        time.Duration
	pollInterval time.Duration
	workers      int
	handlers     map[model.JobType]HandlerFunc
	metrics      statsd.Sink
}

// NewRunner wires the built-in handlers and constructs a job runner.
func NewRunner(opts RunnerOptions) (*Runner, error) {
	if opts.Jobs == nil {
		return nil, errors.New("JobService is required")
	}
	if opts.Documents == nil {
		return nil, errors.New("DocumentService is required")
	}
	if opts.Dispatcher == nil {
		return nil, errors.New("DispatcherService is required")
	}
	if opts.Delivery == nil {
		return nil, errors.New("DeliveryService is required")
	}

	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	lease := opts.Lease
	if lease <= 0 {
		lease = 30 * time.Second
	}
	pollInterval := opts.PollInterval
	if pollInterval <= 0 {
		pollInterval = time.Second
	}
	workers := opts.Concurrency
	if workers <= 0 {
		workers = 1
	}

	r := &Runner{
		jobs:         opts.Jobs,
		logger:       logger.With("component", "job_runner"),
		lease:        lease,
		pollInterval: pollInterval,
		workers:      workers,
		handlers:     make(map[model.JobType]HandlerFunc),
		metrics:      opts.Metrics,
	}

	// Register built-in handlers
	documentHandler := newDocumentHandler(opts.Documents)
	r.handlers[model.JobTypeProcessSupportDoc] = documentHandler
	r.handlers[model.JobTypeProcessResume] = documentHandler
	r.handlers[model.JobTypeProcessExpenseCSV] = documentHandler
	r.handlers[model.JobTypeDispatchWebhooks] = newDispatchHandler(opts.Dispatcher)
	r.handlers[model.JobTypeDeliverWebhook] = newDeliveryHandler(opts.Delivery)

	return r, nil
}

// Run starts worker goroutines and processes jobs until the context is cancelled.
// Returns nil on graceful shutdown (context.Canceled), error otherwise.
func (r *Runner) Run(ctx context.Context) error {
	r.logger.InfoContext(ctx, "starting job runner",
		"workers", r.workers,
		"lease", r.lease,
		"poll_interval", r.pollInterval,
	)

	group, gctx := errgroup.WithContext(ctx)
	for i := 0; i < r.workers; i++ {
		group.Go(func() error { return r.workerLoop(gctx) })
	}

	err := group.Wait()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func (r *Runner) workerLoop(ctx context.Context) error {
	for ctx.Err() == nil {
		job, err := r.jobs.ClaimNext(ctx, r.lease)
		switch {
		case err == nil:
			r.processJob(ctx, job)
		case errors.Is(err, model.ErrNoJobsAvailable):
			if !r.sleep(ctx) {
				return ctx.Err()
			}
		case ctx.Err() != nil:
			// Shutdown, not a store failure.
			return ctx.Err()
		default:
			// A failed claim must not kill the worker. Log it, back off
			// one poll interval, and try again.
			r.logger.ErrorContext(ctx, "claim next error",
				"error", err,
				"error_class", obserrors.Classify(err),
			)
			if !r.sleep(ctx) {
				return ctx.Err()
			}
		}
	}
	return ctx.Err()
}

// sleep waits one poll interval. Returns false when the context was cancelled.
func (r *Runner) sleep(ctx context.Context) bool {
	select {
	case <-ctx.Done():
		return false
	case <-time.After(r.pollInterval):
		return true
	}
}

func (r *Runner) processJob(ctx context.Context, job *model.Job) {
	start := time.Now()
	emit := func(transition, result string, err error) {
		metrics.EmitJobLifecycle(r.metrics, metrics.JobMetric{
			JobType:    string(job.Type),
			Transition: transition,
			Result:     result,
			Duration:   time.Since(start),
			Err:        err,
		})
	}

	handler, ok := r.handlers[job.Type]
	if !ok {
		// Unknown types cannot succeed on retry, settle immediately
		err := apperrors.NonRetryablef("no handler for job type %s", job.Type)
		r.fail(ctx, job.ID, err)
		emit("failed", metrics.ResultError, err)
		return
	}

	// Keep the lease fresh while the handler runs
	hbCtx, stopHeartbeat := context.WithCancel(ctx)
	hbDone := make(chan struct{})
	go func() {
		defer close(hbDone)
		r.heartbeatLoop(hbCtx, job.ID)
	}()

	err := r.runHandler(ctx, handler, job)
	stopHeartbeat()
	<-hbDone

	if err != nil {
		r.fail(ctx, job.ID, err)
		emit("failed", metrics.ResultError, err)
		return
	}

	if done, err := r.jobs.MarkDone(ctx, job.ID); err != nil {
		r.logger.ErrorContext(ctx, "complete job error", "job_id", job.ID, "error", err)
		emit("done", metrics.ResultError, err)
	} else {
		result := metrics.ResultNoop
		if done {
			result = metrics.ResultSuccess
		}
		emit("done", result, nil)
	}
}

// runHandler invokes the handler, converting panics into non-retryable errors
// so one bad payload cannot take down the worker pool.
func (r *Runner) runHandler(
	ctx context.Context,
	handler HandlerFunc,
	job *model.Job,
) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = apperrors.NonRetryablef("handler panic: %v", rec)
			r.logger.ErrorContext(ctx, "handler panicked",
				"job_id", job.ID,
				"job_type", job.Type,
				"panic", rec,
			)
		}
	}()
	return handler(ctx, job)
}

func (r *Runner) heartbeatLoop(ctx context.Context, jobID string) {
	interval := domainjob.HeartbeatInterval(r.lease)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			updated, err := r.jobs.Heartbeat(ctx, jobID, r.lease)
			if err != nil {
				if errors.Is(err, context.Canceled) {
					return
				}
				r.logger.WarnContext(ctx, "heartbeat error", "job_id", jobID, "error", err)
				continue
			}
			if !updated {
				// The job left running status, nothing left to extend
				return
			}
		}
	}
}

func (r *Runner) fail(ctx context.Context, jobID string, handlerErr error) {
	if _, err := r.jobs.MarkFailed(ctx, jobID, handlerErr); err != nil {
		r.logger.ErrorContext(ctx, "fail job error",
			"job_id", jobID,
			"error", err,
			"original_error", handlerErr,
			"error_class", obserrors.Classify(handlerErr),
		)
	}
}

// newDocumentHandler adapts DocumentService.Process to the handler signature.
func newDocumentHandler(documents *service.DocumentService) HandlerFunc {
	return func(ctx context.Context, job *model.Job) error {
		var payload model.DocumentJobPayload
		if err := json.Unmarshal(job.Payload, &payload); err != nil {
			return apperrors.NonRetryablef("decode payload: %v", err)
		}
		if payload.DocumentID == "" {
			return apperrors.NonRetryable("missing documentId in job payload")
		}
		return documents.Process(ctx, job.Type, payload.DocumentID)
	}
}

// newDispatchHandler adapts DispatcherService.Dispatch to the handler signature.
func newDispatchHandler(dispatcher *service.DispatcherService) HandlerFunc {
	return func(ctx context.Context, job *model.Job) error {
		var payload model.DispatchJobPayload
		if err := json.Unmarshal(job.Payload, &payload); err != nil {
			return apperrors.NonRetryablef("decode payload: %v", err)
		}
		if payload.EventID == "" {
			return apperrors.NonRetryable("missing eventId in job payload")
		}
		_, err := dispatcher.Dispatch(ctx, payload.EventID)
		return err
	}
}

// newDeliveryHandler adapts DeliveryService.Deliver to the handler signature.
func newDeliveryHandler(delivery *service.DeliveryService) HandlerFunc {
	return func(ctx context.Context, job *model.Job) error {
		var payload model.DeliveryJobPayload
		if err := json.Unmarshal(job.Payload, &payload); err != nil {
			return apperrors.NonRetryablef("decode payload: %v", err)
		}
		if payload.DeliveryID == "" {
			return apperrors.NonRetryable("missing deliveryId in job payload")
		}
		return delivery.Deliver(ctx, payload.DeliveryID)
	}
}
