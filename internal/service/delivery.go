package service

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/docchat/docchat-go/internal/core"
	"github.com/docchat/docchat-go/internal/domain/model"
	"github.com/docchat/docchat-go/internal/domain/webhook"
	"github.com/docchat/docchat-go/internal/observability/metrics"
	"github.com/docchat/docchat-go/internal/observability/statsd"
)

// maxErrorBodyBytes caps how much of a failing response body is recorded in last_error.
const maxErrorBodyBytes = 512

// DeliveryServiceOptions groups dependencies for DeliveryService.
type DeliveryServiceOptions struct {
	DeliveryRepo core.DeliveryRepository // Required: delivery state transitions
	JobRepo      core.JobRepository      // Required: retry job enqueue
	HTTPClient   *http.Client            // Optional: defaults to a 10s-timeout client
	Metrics      statsd.Sink             // Optional: attempt metrics
	Logger       *slog.Logger            // Optional: structured logger
}

// DeliveryService performs one webhook delivery attempt: a signed HTTP POST
// of the source event to the subscriber endpoint, followed by the matching
// delivery state transition.
//
// Deliver returns an error only for infrastructure failures (repository
// errors). A rejected or timed-out POST is a handled outcome: the attempt is
// recorded and, budget permitting, a retry carrier job is enqueued.
type DeliveryService struct {
	deliveryRepo core.DeliveryRepository
	jobRepo      core.JobRepository
	client       *http.Client
	metrics      statsd.Sink
	logger       *slog.Logger
}

// NewDeliveryService constructs a new DeliveryService.
func NewDeliveryService(opts DeliveryServiceOptions) (*DeliveryService, error) {
	if opts.DeliveryRepo == nil {
		return nil, errors.New("DeliveryRepository is required")
	}
	if opts.JobRepo == nil {
		return nil, errors.New("JobRepository is required")
	}

	client := opts.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}

	var logger *slog.Logger
	if opts.Logger != nil {
		logger = opts.Logger.With("component", "webhook_delivery")
	}

	return &DeliveryService{
		deliveryRepo: opts.DeliveryRepo,
		jobRepo:      opts.JobRepo,
		client:       client,
		metrics:      opts.Metrics,
		logger:       logger,
	}, nil
}

// Deliver executes one delivery attempt for the given delivery ID.
func (s *DeliveryService) Deliver(ctx context.Context, deliveryID string) error {
	target, err := s.deliveryRepo.GetForDelivery(ctx, deliveryID)
	if err != nil {
		return fmt.Errorf("load delivery %s: %w", deliveryID, err)
	}
	if target == nil {
		// Dangling carrier job, the delivery row is gone. Nothing to do.
		if s.logger != nil {
			s.logger.WarnContext(ctx, "delivery not found, skipping", "delivery_id", deliveryID)
		}
		return nil
	}

	delivery := target.Delivery
	if delivery.Status.Terminal() {
		if s.logger != nil {
			s.logger.DebugContext(ctx, "delivery already settled, skipping",
				"delivery_id", deliveryID,
				"status", delivery.Status,
			)
		}
		return nil
	}

	// A duplicate carrier job can run ahead of the scheduled retry time.
	// The job with the matching run_at will perform the attempt.
	if delivery.NextAttemptAt != nil && delivery.NextAttemptAt.After(time.Now()) {
		if s.logger != nil {
			s.logger.DebugContext(ctx, "delivery not yet due, skipping",
				"delivery_id", deliveryID,
				"next_attempt_at", delivery.NextAttemptAt,
			)
		}
		return nil
	}

	attempts, ok, err := s.deliveryRepo.BeginAttempt(ctx, deliveryID)
	if err != nil {
		return fmt.Errorf("begin delivery attempt %s: %w", deliveryID, err)
	}
	if !ok {
		// Lost the race against another worker that settled the delivery.
		return nil
	}

	statusCode, duration, postErr := s.post(ctx, target)

	if postErr == nil {
		if err := s.deliveryRepo.MarkSuccess(ctx, deliveryID); err != nil {
			return fmt.Errorf("mark delivery %s success: %w", deliveryID, err)
		}
		s.emit(metrics.ResultSuccess, statusCode, duration)
		if s.logger != nil {
			s.logger.InfoContext(ctx, "webhook delivered",
				"delivery_id", deliveryID,
				"attempt", attempts,
				"status_code", statusCode,
			)
		}
		return nil
	}

	s.emit(metrics.ResultError, statusCode, duration)

	if attempts >= delivery.MaxAttempts {
		if err := s.deliveryRepo.MarkFailed(ctx, deliveryID, postErr.Error()); err != nil {
			return fmt.Errorf("mark delivery %s failed: %w", deliveryID, err)
		}
		if s.logger != nil {
			s.logger.WarnContext(ctx, "webhook delivery exhausted",
				"delivery_id", deliveryID,
				"attempts", attempts,
				"error", postErr.Error(),
			)
		}
		return nil
	}

	nextAttemptAt := time.Now().Add(webhook.RetryDelay(attempts))
	if err := s.deliveryRepo.MarkRetry(ctx, core.MarkDeliveryRetryParams{
		ID:            deliveryID,
		ErrMsg:        postErr.Error(),
		NextAttemptAt: nextAttemptAt,
	}); err != nil {
		return fmt.Errorf("mark delivery %s for retry: %w", deliveryID, err)
	}

	// If this enqueue fails the delivery stays pending without a carrier job.
	// The operator redelivery sweep picks those up.
	if err := s.enqueueRetry(ctx, deliveryID, nextAttemptAt); err != nil {
		return fmt.Errorf("enqueue retry for delivery %s: %w", deliveryID, err)
	}

	if s.logger != nil {
		s.logger.InfoContext(ctx, "webhook delivery scheduled for retry",
			"delivery_id", deliveryID,
			"attempt", attempts,
			"next_attempt_at", nextAttemptAt,
			"error", postErr.Error(),
		)
	}

	return nil
}

// post sends the signed event POST. Body bytes are built once; the same bytes
// are signed and written so the receiver can verify the signature.
func (s *DeliveryService) post(
	ctx context.Context,
	target *model.DeliveryWithTarget,
) (int, time.Duration, error) {
	body, err := webhook.BuildBody(target.Event)
	if err != nil {
		return 0, 0, err
	}
	signature := webhook.Sign(target.Secret, body)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, target.URL, bytes.NewReader(body))
	if err != nil {
		return 0, 0, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(webhook.SignatureHeader, signature)

	start := time.Now()
	resp, err := s.client.Do(req)
	duration := time.Since(start)
	if err != nil {
		return 0, duration, fmt.Errorf("post webhook: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		// Drain so the connection can be reused.
		_, _ = io.Copy(io.Discard, resp.Body)
		return resp.StatusCode, duration, nil
	}

	snippet, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodyBytes))
	return resp.StatusCode, duration, fmt.Errorf(
		"endpoint returned status %d: %s",
		resp.StatusCode,
		bytes.TrimSpace(snippet),
	)
}

func (s *DeliveryService) enqueueRetry(ctx context.Context, deliveryID string, runAt time.Time) error {
	payload, err := json.Marshal(model.DeliveryJobPayload{DeliveryID: deliveryID})
	if err != nil {
		return fmt.Errorf("marshal delivery payload: %w", err)
	}
	_, err = s.jobRepo.Create(ctx, &model.CreateJobRequest{
		Type:    model.JobTypeDeliverWebhook,
		Payload: payload,
		RunAt:   &runAt,
	})
	return err
}

func (s *DeliveryService) emit(result string, statusCode int, duration time.Duration) {
	if s.metrics == nil {
		return
	}
	metrics.EmitDeliveryAttempt(s.metrics, metrics.DeliveryMetric{
		Result:     result,
		StatusCode: statusCode,
		Duration:   duration,
	})
}
