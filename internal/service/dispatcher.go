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
	apperrors "github.com/docchat/docchat-go/internal/errors"
)

// activeSubscriptionsCacheKey is where the dispatcher memoises the active
// subscriber set between fan-outs.
const activeSubscriptionsCacheKey = "webhook:subscriptions:active"

// DispatcherServiceOptions groups dependencies for DispatcherService.
type DispatcherServiceOptions struct {
	DB                  *sql.DB                     // Required: database handle for transactions
	EventRepo           core.EventRepository        // Required: event lookups
	SubscriptionRepo    core.SubscriptionRepository // Required: subscriber lookups
	DeliveryRepo        core.DeliveryRepository     // Required: transactional delivery creation
	JobRepo             core.JobRepositoryTx        // Required: transactional job enqueue
	Cache               core.CacheRepository        // Optional: active-subscription cache
	SubscriptionTTL     time.Duration               // Optional: cache TTL, default 30s
	DeliveryMaxAttempts int                         // Optional: attempt budget per delivery, default 5
	Logger              *slog.Logger                // Optional: structured logger
}

// DispatcherService fans a recorded event out to all active webhook
// subscribers. Fan-out is one transaction: a delivery row plus its
// deliver-webhook job per subscriber, so a delivery always has a carrier job
// and a delivery job always has a row to work on.
type DispatcherService struct {
	db               *sql.DB
	eventRepo        core.EventRepository
	subscriptionRepo core.SubscriptionRepository
	deliveryRepo     core.DeliveryRepository
	jobRepo          core.JobRepositoryTx
	cache            core.CacheRepository
	subscriptionTTL  time.Duration
	maxAttempts      int
	logger           *slog.Logger
}

// NewDispatcherService constructs a new DispatcherService.
func NewDispatcherService(opts DispatcherServiceOptions) (*DispatcherService, error) {
	if opts.DB == nil {
		return nil, errors.New("DB is required")
	}
	if opts.EventRepo == nil {
		return nil, errors.New("EventRepository is required")
	}
	if opts.SubscriptionRepo == nil {
		return nil, errors.New("SubscriptionRepository is required")
	}
	if opts.DeliveryRepo == nil {
		return nil, errors.New("DeliveryRepository is required")
	}
	if opts.JobRepo == nil {
		return nil, errors.New("transactional JobRepository is required")
	}

	ttl := opts.SubscriptionTTL
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	maxAttempts := opts.DeliveryMaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = 5
	}

	var logger *slog.Logger
	if opts.Logger != nil {
		logger = opts.Logger.With("component", "webhook_dispatcher")
	}

	return &DispatcherService{
		db:               opts.DB,
		eventRepo:        opts.EventRepo,
		subscriptionRepo: opts.SubscriptionRepo,
		deliveryRepo:     opts.DeliveryRepo,
		jobRepo:          opts.JobRepo,
		cache:            opts.Cache,
		subscriptionTTL:  ttl,
		maxAttempts:      maxAttempts,
		logger:           logger,
	}, nil
}

// Dispatch creates one delivery plus its carrier job for every active
// subscriber of the given event. With no active subscribers, or when the
// event no longer exists, it is a no-op.
func (s *DispatcherService) Dispatch(ctx context.Context, eventID string) (int, error) {
	// Confirm the event exists before fanning out. A missing event means the
	// dispatch job references rolled-back or reaped data, so there is nothing
	// to deliver and the job settles clean.
	if _, err := s.eventRepo.GetByID(ctx, eventID); err != nil {
		if apperrors.IsNotFound(err) {
			if s.logger != nil {
				s.logger.WarnContext(ctx, "event gone before fan-out, skipping", "event_id", eventID)
			}
			return 0, nil
		}
		return 0, fmt.Errorf("load event %s: %w", eventID, err)
	}

	subscriptions, err := s.activeSubscriptions(ctx)
	if err != nil {
		return 0, fmt.Errorf("load active subscriptions: %w", err)
	}

	if len(subscriptions) == 0 {
		if s.logger != nil {
			s.logger.DebugContext(ctx, "no active subscribers, skipping fan-out", "event_id", eventID)
		}
		return 0, nil
	}

	err = pgxutil.WithSQLTx(ctx, s.db, pgxutil.SQLTxConfig{
		Fn: func(tx *sql.Tx) error {
			for _, sub := range subscriptions {
				delivery, err := s.deliveryRepo.CreateInTx(ctx, tx, core.CreateDeliveryParams{
					SubscriptionID: sub.ID,
					EventID:        eventID,
					MaxAttempts:    s.maxAttempts,
				})
				if err != nil {
					return fmt.Errorf("create delivery for subscription %s: %w", sub.ID, err)
				}

				payload, err := json.Marshal(model.DeliveryJobPayload{DeliveryID: delivery.ID})
				if err != nil {
					return fmt.Errorf("marshal delivery payload: %w", err)
				}

				if _, err := s.jobRepo.CreateInTx(ctx, tx, &model.CreateJobRequest{
					Type:    model.JobTypeDeliverWebhook,
					Payload: payload,
				}); err != nil {
					return fmt.Errorf("enqueue delivery job for subscription %s: %w", sub.ID, err)
				}
			}
			return nil
		},
	})
	if err != nil {
		return 0, fmt.Errorf("dispatch event %s: %w", eventID, err)
	}

	if s.logger != nil {
		s.logger.InfoContext(ctx, "event dispatched",
			"event_id", eventID,
			"deliveries", len(subscriptions),
		)
	}

	return len(subscriptions), nil
}

// activeSubscriptions loads the active subscriber set, preferring the cache.
// Cache failures fall back to the database; fan-out must not depend on Redis.
func (s *DispatcherService) activeSubscriptions(ctx context.Context) ([]*model.WebhookSubscription, error) {
	if s.cache != nil {
		cached, err := s.cache.Get(ctx, activeSubscriptionsCacheKey)
		if err != nil && s.logger != nil {
			s.logger.WarnContext(ctx, "subscription cache read failed", "error", err)
		}
		if len(cached) > 0 {
			var subscriptions []*model.WebhookSubscription
			if err := json.Unmarshal(cached, &subscriptions); err == nil {
				return subscriptions, nil
			}
			// Unreadable cache entry, fall through to the database.
			if _, err := s.cache.Delete(ctx, activeSubscriptionsCacheKey); err != nil && s.logger != nil {
				s.logger.WarnContext(ctx, "subscription cache delete failed", "error", err)
			}
		}
	}

	subscriptions, err := s.subscriptionRepo.ListActive(ctx)
	if err != nil {
		return nil, err
	}

	if s.cache != nil {
		encoded, err := json.Marshal(subscriptions)
		if err == nil {
			if err := s.cache.Set(ctx, activeSubscriptionsCacheKey, encoded, s.subscriptionTTL); err != nil && s.logger != nil {
				s.logger.WarnContext(ctx, "subscription cache write failed", "error", err)
			}
		}
	}

	return subscriptions, nil
}

// InvalidateSubscriptionCache drops the cached active subscriber set. Called
// after subscription mutations so fan-out picks up changes before TTL expiry.
func (s *DispatcherService) InvalidateSubscriptionCache(ctx context.Context) {
	if s.cache == nil {
		return
	}
	if _, err := s.cache.Delete(ctx, activeSubscriptionsCacheKey); err != nil && s.logger != nil {
		s.logger.WarnContext(ctx, "subscription cache invalidation failed", "error", err)
	}
}
