package service

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/docchat/docchat-go/internal/core"
	"github.com/docchat/docchat-go/internal/data/pgxutil"
	"github.com/docchat/docchat-go/internal/domain/model"
)

// defaultRedeliverLimit caps one redelivery sweep when the caller does not
// specify a batch size.
const defaultRedeliverLimit = 50

// SubscriptionCacheInvalidator drops the cached active subscriber set after
// subscription mutations. Satisfied by DispatcherService.
type SubscriptionCacheInvalidator interface {
	InvalidateSubscriptionCache(ctx context.Context)
}

// WebhookServiceOptions groups dependencies for WebhookService.
type WebhookServiceOptions struct {
	DB                  *sql.DB                      // Required: database handle for transactions
	SubscriptionRepo    core.SubscriptionRepository  // Required: subscription management
	DeliveryRepo        core.DeliveryRepository      // Required: delivery reads and test deliveries
	EventRepo           core.EventRepository         // Required: test event creation
	JobRepo             core.JobRepositoryTx         // Required: transactional job enqueue
	Jobs                core.JobRepository           // Required: sweep job enqueue
	Dispatcher          SubscriptionCacheInvalidator // Optional: cache invalidation on mutations
	DeliveryMaxAttempts int                          // Optional: attempt budget per delivery, default 5
	Logger              *slog.Logger                 // Optional: structured logger
}

// WebhookService is the operator surface for webhook subscriptions and
// deliveries: registration, activation toggles, test pings, and the
// redelivery sweep that re-enqueues carrier jobs for stranded deliveries.
type WebhookService struct {
	db               *sql.DB
	subscriptionRepo core.SubscriptionRepository
	deliveryRepo     core.DeliveryRepository
	eventRepo        core.EventRepository
	jobRepoTx        core.JobRepositoryTx
	jobs             core.JobRepository
	dispatcher       SubscriptionCacheInvalidator
	maxAttempts      int
	logger           *slog.Logger
}

// NewWebhookService constructs a new WebhookService.
func NewWebhookService(opts WebhookServiceOptions) (*WebhookService, error) {
	if opts.DB == nil {
		return nil, errors.New("DB is required")
	}
	if opts.SubscriptionRepo == nil {
		return nil, errors.New("SubscriptionRepository is required")
	}
	if opts.DeliveryRepo == nil {
		return nil, errors.New("DeliveryRepository is required")
	}
	if opts.EventRepo == nil {
		return nil, errors.New("EventRepository is required")
	}
	if opts.JobRepo == nil {
		return nil, errors.New("transactional JobRepository is required")
	}
	if opts.Jobs == nil {
		return nil, errors.New("JobRepository is required")
	}

	maxAttempts := opts.DeliveryMaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = 5
	}

	var logger *slog.Logger
	if opts.Logger != nil {
		logger = opts.Logger.With("component", "webhook_service")
	}

	return &WebhookService{
		db:               opts.DB,
		subscriptionRepo: opts.SubscriptionRepo,
		deliveryRepo:     opts.DeliveryRepo,
		eventRepo:        opts.EventRepo,
		jobRepoTx:        opts.JobRepo,
		jobs:             opts.Jobs,
		dispatcher:       opts.Dispatcher,
		maxAttempts:      maxAttempts,
		logger:           logger,
	}, nil
}

// CreateSubscription registers a new webhook subscriber endpoint.
func (s *WebhookService) CreateSubscription(
	ctx context.Context,
	req *model.CreateSubscriptionRequest,
) (*model.WebhookSubscription, error) {
	sub, err := s.subscriptionRepo.Create(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("create subscription: %w", err)
	}

	s.invalidateCache(ctx)

	if s.logger != nil {
		s.logger.InfoContext(ctx, "webhook subscription created", "subscription_id", sub.ID, "url", sub.URL)
	}

	return sub, nil
}

// GetSubscription returns a subscription by its ID.
func (s *WebhookService) GetSubscription(ctx context.Context, id string) (*model.WebhookSubscription, error) {
	sub, err := s.subscriptionRepo.GetByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("get subscription %s: %w", id, err)
	}
	return sub, nil
}

// ListSubscriptions returns all registered subscriptions.
func (s *WebhookService) ListSubscriptions(ctx context.Context) ([]*model.WebhookSubscription, error) {
	subs, err := s.subscriptionRepo.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("list subscriptions: %w", err)
	}
	return subs, nil
}

// SetSubscriptionActive toggles a subscription's active flag. Inactive
// subscriptions are skipped by fan-out; their settled deliveries remain.
func (s *WebhookService) SetSubscriptionActive(
	ctx context.Context,
	id string,
	active bool,
) (*model.WebhookSubscription, error) {
	sub, err := s.subscriptionRepo.SetActive(ctx, id, active)
	if err != nil {
		return nil, fmt.Errorf("set subscription %s active=%t: %w", id, active, err)
	}

	s.invalidateCache(ctx)

	if s.logger != nil {
		s.logger.InfoContext(ctx, "webhook subscription toggled",
			"subscription_id", id,
			"active", active,
		)
	}

	return sub, nil
}

// SendTest delivers a synthetic test event to one subscription regardless of
// its active flag. Event, delivery, and carrier job are created in one
// transaction, same shape as regular fan-out but targeted.
func (s *WebhookService) SendTest(ctx context.Context, subscriptionID string) (*model.WebhookDelivery, error) {
	sub, err := s.subscriptionRepo.GetByID(ctx, subscriptionID)
	if err != nil {
		return nil, fmt.Errorf("get subscription %s: %w", subscriptionID, err)
	}

	payload, err := json.Marshal(map[string]string{
		"subscriptionId": sub.ID,
		"url":            sub.URL,
		"sentAt":         time.Now().UTC().Format(time.RFC3339),
	})
	if err != nil {
		return nil, fmt.Errorf("marshal test payload: %w", err)
	}

	var delivery *model.WebhookDelivery
	err = pgxutil.WithSQLTx(ctx, s.db, pgxutil.SQLTxConfig{
		Fn: func(tx *sql.Tx) error {
			event, err := s.eventRepo.CreateInTx(ctx, tx, &model.PublishEventRequest{
				Type:    model.EventTypeSubscriptionTestPinged,
				Payload: payload,
			})
			if err != nil {
				return fmt.Errorf("create test event: %w", err)
			}

			created, err := s.deliveryRepo.CreateInTx(ctx, tx, core.CreateDeliveryParams{
				SubscriptionID: sub.ID,
				EventID:        event.ID,
				MaxAttempts:    s.maxAttempts,
			})
			if err != nil {
				return fmt.Errorf("create test delivery: %w", err)
			}

			jobPayload, err := json.Marshal(model.DeliveryJobPayload{DeliveryID: created.ID})
			if err != nil {
				return fmt.Errorf("marshal delivery payload: %w", err)
			}
			if _, err := s.jobRepoTx.CreateInTx(ctx, tx, &model.CreateJobRequest{
				Type:    model.JobTypeDeliverWebhook,
				Payload: jobPayload,
			}); err != nil {
				return fmt.Errorf("enqueue test delivery job: %w", err)
			}

			delivery = created
			return nil
		},
	})
	if err != nil {
		return nil, fmt.Errorf("send test to subscription %s: %w", subscriptionID, err)
	}

	if s.logger != nil {
		s.logger.InfoContext(ctx, "test webhook queued",
			"subscription_id", subscriptionID,
			"delivery_id", delivery.ID,
		)
	}

	return delivery, nil
}

// GetDelivery returns a delivery by its ID.
func (s *WebhookService) GetDelivery(ctx context.Context, id string) (*model.WebhookDelivery, error) {
	delivery, err := s.deliveryRepo.GetByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("get delivery %s: %w", id, err)
	}
	return delivery, nil
}

// ListDeliveries returns deliveries with optional status filtering.
func (s *WebhookService) ListDeliveries(
	ctx context.Context,
	opts model.DeliveryListOptions,
) ([]*model.WebhookDelivery, error) {
	deliveries, err := s.deliveryRepo.List(ctx, opts)
	if err != nil {
		return nil, fmt.Errorf("list deliveries: %w", err)
	}
	return deliveries, nil
}

// RedeliverPending re-enqueues a carrier job for every pending delivery, up
// to limit. Pending deliveries whose carrier job was lost (crash between
// retry bookkeeping and enqueue, reaped jobs) are stranded until this sweep;
// duplicates are harmless because settled and not-yet-due deliveries no-op.
func (s *WebhookService) RedeliverPending(ctx context.Context, limit int) (int, error) {
	if limit <= 0 {
		limit = defaultRedeliverLimit
	}

	deliveries, err := s.deliveryRepo.ListPending(ctx, limit)
	if err != nil {
		return 0, fmt.Errorf("list pending deliveries: %w", err)
	}

	enqueued := 0
	for _, delivery := range deliveries {
		payload, err := json.Marshal(model.DeliveryJobPayload{DeliveryID: delivery.ID})
		if err != nil {
			return enqueued, fmt.Errorf("marshal delivery payload: %w", err)
		}

		req := &model.CreateJobRequest{
			Type:    model.JobTypeDeliverWebhook,
			Payload: payload,
		}
		if delivery.NextAttemptAt != nil {
			req.RunAt = delivery.NextAttemptAt
		}

		if _, err := s.jobs.Create(ctx, req); err != nil {
			return enqueued, fmt.Errorf("enqueue redelivery for %s: %w", delivery.ID, err)
		}
		enqueued++
	}

	if s.logger != nil {
		s.logger.InfoContext(ctx, "redelivery sweep complete", "enqueued", enqueued)
	}

	return enqueued, nil
}

func (s *WebhookService) invalidateCache(ctx context.Context) {
	if s.dispatcher != nil {
		s.dispatcher.InvalidateSubscriptionCache(ctx)
	}
}
