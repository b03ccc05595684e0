package service

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/docchat/docchat-go/internal/core"
	"github.com/docchat/docchat-go/internal/data/pgxutil"
	"github.com/docchat/docchat-go/internal/domain/model"
)

// EventServiceOptions groups dependencies for EventService.
type EventServiceOptions struct {
	DB        *sql.DB              // Required: database handle for transactions
	EventRepo core.EventRepository // Required: event repository
	JobRepo   core.JobRepositoryTx // Required: transactional job enqueue
	Logger    *slog.Logger         // Optional: structured logger
}

// EventService records domain events and schedules their webhook fan-out.
//
// Publish inserts the event row and its dispatch-webhooks job in one
// transaction. Either both exist or neither does, so a recorded event can
// never silently miss fan-out and a dispatch job can never reference a
// missing event.
type EventService struct {
	db        *sql.DB
	eventRepo core.EventRepository
	jobRepo   core.JobRepositoryTx
	logger    *slog.Logger
}

// NewEventService constructs a new EventService.
func NewEventService(opts EventServiceOptions) (*EventService, error) {
	if opts.DB == nil {
		return nil, errors.New("DB is required")
	}
	if opts.EventRepo == nil {
		return nil, errors.New("EventRepository is required")
	}
	if opts.JobRepo == nil {
		return nil, errors.New("transactional JobRepository is required")
	}

	var logger *slog.Logger
	if opts.Logger != nil {
		logger = opts.Logger.With("component", "event_service")
	}

	return &EventService{
		db:        opts.DB,
		eventRepo: opts.EventRepo,
		jobRepo:   opts.JobRepo,
		logger:    logger,
	}, nil
}

// Publish records the event and enqueues its dispatch-webhooks job atomically.
func (s *EventService) Publish(ctx context.Context, req *model.PublishEventRequest) (*model.Event, error) {
	var event *model.Event

	err := pgxutil.WithSQLTx(ctx, s.db, pgxutil.SQLTxConfig{
		Fn: func(tx *sql.Tx) error {
			created, err := s.eventRepo.CreateInTx(ctx, tx, req)
			if err != nil {
				return fmt.Errorf("create event: %w", err)
			}

			payload, err := json.Marshal(model.DispatchJobPayload{EventID: created.ID})
			if err != nil {
				return fmt.Errorf("marshal dispatch payload: %w", err)
			}

			if _, err := s.jobRepo.CreateInTx(ctx, tx, &model.CreateJobRequest{
				Type:    model.JobTypeDispatchWebhooks,
				Payload: payload,
			}); err != nil {
				return fmt.Errorf("enqueue dispatch job: %w", err)
			}

			event = created
			return nil
		},
	})
	if err != nil {
		return nil, fmt.Errorf("publish event: %w", err)
	}

	if s.logger != nil {
		s.logger.InfoContext(ctx, "event published",
			"event_id", event.ID,
			"type", event.Type,
		)
	}

	return event, nil
}

// GetByID returns an event by its ID.
func (s *EventService) GetByID(ctx context.Context, id string) (*model.Event, error) {
	event, err := s.eventRepo.GetByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("get event %s: %w", id, err)
	}
	return event, nil
}

// List returns recent events with pagination.
func (s *EventService) List(ctx context.Context, opts model.EventListOptions) ([]*model.Event, error) {
	events, err := s.eventRepo.List(ctx, opts)
	if err != nil {
		return nil, fmt.Errorf("list events: %w", err)
	}
	return events, nil
}
