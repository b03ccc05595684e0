package main

import (
	"context"
	"database/sql"
	"errors"
	"flag"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/docchat/docchat-go/internal/data"
	"github.com/docchat/docchat-go/internal/domain/model"
	"github.com/docchat/docchat-go/internal/service"
)

// requireSubscriptionID validates the -id flag before any connection is opened.
func requireSubscriptionID(id string) error {
	if id == "" {
		return errors.New("-id is required")
	}
	if _, err := uuid.Parse(id); err != nil {
		return fmt.Errorf("invalid subscription id %q: %w", id, err)
	}
	return nil
}

// newWebhookService builds the webhook operator service. When a Redis client
// is supplied, subscription mutations also invalidate the cached subscriber
// set so workers pick them up immediately.
func newWebhookService(db *sql.DB, redisClient redis.UniversalClient, cmdCtx *commandContext) (*service.WebhookService, error) {
	jobRepo := data.NewJobRepo(db, data.RepoConfig{})
	eventRepo := data.NewEventRepo(db)
	subscriptionRepo := data.NewWebhookSubscriptionRepo(db)
	deliveryRepo := data.NewWebhookDeliveryRepo(db, data.SystemClock{})

	dispatcherOpts := service.DispatcherServiceOptions{
		DB:               db,
		EventRepo:        eventRepo,
		SubscriptionRepo: subscriptionRepo,
		DeliveryRepo:     deliveryRepo,
		JobRepo:          jobRepo,
		SubscriptionTTL:  cmdCtx.Config.Cache.SubscriptionTTL,
		Logger:           cmdCtx.Logger,
	}
	if redisClient != nil {
		dispatcherOpts.Cache = data.NewRedisCacheRepo(redisClient)
	}
	dispatcher, err := service.NewDispatcherService(dispatcherOpts)
	if err != nil {
		return nil, err
	}

	return service.NewWebhookService(service.WebhookServiceOptions{
		DB:                  db,
		SubscriptionRepo:    subscriptionRepo,
		DeliveryRepo:        deliveryRepo,
		EventRepo:           eventRepo,
		JobRepo:             jobRepo,
		Jobs:                jobRepo,
		Dispatcher:          dispatcher,
		DeliveryMaxAttempts: cmdCtx.Config.Webhook.MaxAttempts,
		Logger:              cmdCtx.Logger,
	})
}

// withWebhookService handles connection setup and teardown for webhook commands.
func withWebhookService(cmdCtx *commandContext, fn func(ctx context.Context, svc *service.WebhookService) error) error {
	ctx, cancel := context.WithTimeout(cmdCtx.Ctx, defaultCommandTimeout)
	defer cancel()

	db, redisClient, err := connectInfra(cmdCtx.Logger, &cmdCtx.Config)
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := closeInfra(db, redisClient); closeErr != nil {
			cmdCtx.Logger.Warn("close connections failed", "error", closeErr)
		}
	}()

	svc, err := newWebhookService(db, redisClient, cmdCtx)
	if err != nil {
		return err
	}

	return fn(ctx, svc)
}

func runListSubscriptions(cmdCtx *commandContext, _ []string) error {
	return withWebhookService(cmdCtx, func(ctx context.Context, svc *service.WebhookService) error {
		subs, err := svc.ListSubscriptions(ctx)
		if err != nil {
			return err
		}

		w := newTabWriter()
		fmt.Fprintln(w, "ID\tURL\tACTIVE\tCREATED_AT")
		for _, sub := range subs {
			fmt.Fprintf(w, "%s\t%s\t%t\t%s\n",
				sub.ID,
				sub.URL,
				sub.IsActive,
				sub.CreatedAt.UTC().Format(time.RFC3339),
			)
		}
		return w.Flush()
	})
}

func runAddSubscription(cmdCtx *commandContext, args []string) error {
	fs := flag.NewFlagSet("subscription-add", flag.ContinueOnError)
	url := fs.String("url", "", "subscriber endpoint URL (required)")
	secret := fs.String("secret", "", "shared HMAC signing secret (required)")
	if err := fs.Parse(args); err != nil {
		return fmt.Errorf("parse subscription-add flags: %w", err)
	}

	return withWebhookService(cmdCtx, func(ctx context.Context, svc *service.WebhookService) error {
		sub, err := svc.CreateSubscription(ctx, &model.CreateSubscriptionRequest{
			URL:    *url,
			Secret: *secret,
		})
		if err != nil {
			return err
		}

		cmdCtx.Logger.Info("subscription created", "subscription_id", sub.ID, "url", sub.URL)
		return nil
	})
}

func runToggleSubscription(cmdCtx *commandContext, args []string) error {
	fs := flag.NewFlagSet("subscription-toggle", flag.ContinueOnError)
	id := fs.String("id", "", "subscription id (required)")
	active := fs.Bool("active", true, "desired active state")
	if err := fs.Parse(args); err != nil {
		return fmt.Errorf("parse subscription-toggle flags: %w", err)
	}
	if err := requireSubscriptionID(*id); err != nil {
		return err
	}

	return withWebhookService(cmdCtx, func(ctx context.Context, svc *service.WebhookService) error {
		sub, err := svc.SetSubscriptionActive(ctx, *id, *active)
		if err != nil {
			return err
		}

		cmdCtx.Logger.Info("subscription toggled", "subscription_id", sub.ID, "active", sub.IsActive)
		return nil
	})
}

func runTestSubscription(cmdCtx *commandContext, args []string) error {
	fs := flag.NewFlagSet("subscription-test", flag.ContinueOnError)
	id := fs.String("id", "", "subscription id (required)")
	if err := fs.Parse(args); err != nil {
		return fmt.Errorf("parse subscription-test flags: %w", err)
	}
	if err := requireSubscriptionID(*id); err != nil {
		return err
	}

	return withWebhookService(cmdCtx, func(ctx context.Context, svc *service.WebhookService) error {
		delivery, err := svc.SendTest(ctx, *id)
		if err != nil {
			return err
		}

		cmdCtx.Logger.Info("test delivery enqueued",
			"delivery_id", delivery.ID,
			"subscription_id", delivery.SubscriptionID,
			"event_id", delivery.EventID,
		)
		return nil
	})
}

func runListDeliveries(cmdCtx *commandContext, args []string) error {
	fs := flag.NewFlagSet("deliveries", flag.ContinueOnError)
	status := fs.String("status", "", "filter by status (pending, running, success, failed)")
	limit := fs.Int("limit", 20, "maximum number of deliveries to list")
	offset := fs.Int("offset", 0, "number of deliveries to skip")
	if err := fs.Parse(args); err != nil {
		return fmt.Errorf("parse deliveries flags: %w", err)
	}

	opts := model.DeliveryListOptions{Limit: *limit, Offset: *offset}
	if *status != "" {
		st := model.DeliveryStatus(*status)
		if !st.Valid() {
			return fmt.Errorf("invalid delivery status %q", *status)
		}
		opts.Status = &st
	}

	return withWebhookService(cmdCtx, func(ctx context.Context, svc *service.WebhookService) error {
		deliveries, err := svc.ListDeliveries(ctx, opts)
		if err != nil {
			return err
		}

		w := newTabWriter()
		fmt.Fprintln(w, "ID\tSUBSCRIPTION\tEVENT\tSTATUS\tATTEMPTS\tNEXT_ATTEMPT\tLAST_ERROR")
		for _, d := range deliveries {
			next := "-"
			if d.NextAttemptAt != nil {
				next = d.NextAttemptAt.UTC().Format(time.RFC3339)
			}
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%d/%d\t%s\t%s\n",
				d.ID,
				d.SubscriptionID,
				d.EventID,
				d.Status,
				d.Attempts,
				d.MaxAttempts,
				next,
				derefOrDash(d.LastError),
			)
		}
		return w.Flush()
	})
}

func runRedeliverPending(cmdCtx *commandContext, args []string) error {
	fs := flag.NewFlagSet("redeliver-pending", flag.ContinueOnError)
	limit := fs.Int("limit", 0, "maximum number of deliveries to sweep (0 uses the configured batch size)")
	if err := fs.Parse(args); err != nil {
		return fmt.Errorf("parse redeliver-pending flags: %w", err)
	}

	sweepLimit := *limit
	if sweepLimit <= 0 {
		sweepLimit = cmdCtx.Config.Webhook.SweepBatchSize
	}

	return withWebhookService(cmdCtx, func(ctx context.Context, svc *service.WebhookService) error {
		enqueued, err := svc.RedeliverPending(ctx, sweepLimit)
		if err != nil {
			return err
		}

		cmdCtx.Logger.Info("redeliver sweep complete", "deliveries_enqueued", enqueued)
		return nil
	})
}
