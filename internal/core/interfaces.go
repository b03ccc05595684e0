// Package core defines the ports between the service layer and its adapters.
package core

import (
	"context"
	"database/sql"
	"time"

	"github.com/docchat/docchat-go/internal/domain/model"
)

// This file contains repository interface definitions (ports in hexagonal
// architecture). Services depend on these contracts, not on the concrete
// Postgres/Redis implementations in internal/data.

// JobRepository defines the interface for job store operations, including the
// atomic claim protocol.
type JobRepository interface {
	Create(ctx context.Context, req *model.CreateJobRequest) (*model.Job, error)
	GetByID(ctx context.Context, id string) (*model.Job, error)
	// ClaimNext atomically claims the oldest eligible pending job: the row is
	// selected with a lock strategy that skips rows locked by concurrent
	// claimers, flipped to running, and its attempts counter incremented, all
	// in one transaction. Returns model.ErrNoJobsAvailable when nothing is
	// claimable.
	ClaimNext(ctx context.Context, leaseSeconds int) (*model.Job, error)
	Heartbeat(ctx context.Context, jobID string, leaseSeconds int) (bool, error)
	MarkDone(ctx context.Context, id string) (bool, error)
	MarkFailed(ctx context.Context, params MarkJobFailedParams) (bool, error)
	Stats(ctx context.Context) (*model.JobStats, error)
	ListRecent(ctx context.Context, limit int) ([]*model.Job, error)
}

// JobRepositoryTx defines optional transactional job creation support.
type JobRepositoryTx interface {
	CreateInTx(ctx context.Context, tx *sql.Tx, req *model.CreateJobRequest) (*model.Job, error)
}

// MarkJobFailedParams groups parameters for JobRepository.MarkFailed.
type MarkJobFailedParams struct {
	ID         string
	ErrMsg     string
	Reschedule bool
}

// ReaperRepository defines the cleanup operations used by the reaper service.
type ReaperRepository interface {
	FailStalePendingJobs(ctx context.Context, maxAge time.Duration, batchSize int) (int64, error)
	DeleteOldJobs(ctx context.Context, params DeleteOldJobsParams) (int64, error)
	DeleteOldDeliveries(ctx context.Context, params DeleteOldDeliveriesParams) (int64, error)
}

// DeleteOldJobsParams groups parameters for ReaperRepository.DeleteOldJobs.
type DeleteOldJobsParams struct {
	Status    model.JobStatus
	MaxAge    time.Duration
	BatchSize int
}

// DeleteOldDeliveriesParams groups parameters for ReaperRepository.DeleteOldDeliveries.
type DeleteOldDeliveriesParams struct {
	Status    model.DeliveryStatus
	MaxAge    time.Duration
	BatchSize int
}

// EventRepository defines the interface for event data operations. Events are
// append-only; there is deliberately no update operation.
type EventRepository interface {
	CreateInTx(ctx context.Context, tx *sql.Tx, req *model.PublishEventRequest) (*model.Event, error)
	GetByID(ctx context.Context, id string) (*model.Event, error)
	List(ctx context.Context, opts model.EventListOptions) ([]*model.Event, error)
}

// SubscriptionRepository defines the interface for webhook subscription data operations.
type SubscriptionRepository interface {
	Create(ctx context.Context, req *model.CreateSubscriptionRequest) (*model.WebhookSubscription, error)
	GetByID(ctx context.Context, id string) (*model.WebhookSubscription, error)
	List(ctx context.Context) ([]*model.WebhookSubscription, error)
	ListActive(ctx context.Context) ([]*model.WebhookSubscription, error)
	SetActive(ctx context.Context, id string, active bool) (*model.WebhookSubscription, error)
}

// CreateDeliveryParams groups parameters for DeliveryRepository.CreateInTx.
type CreateDeliveryParams struct {
	SubscriptionID string
	EventID        string
	MaxAttempts    int
}

// DeliveryRepository defines the interface for webhook delivery data operations.
type DeliveryRepository interface {
	CreateInTx(ctx context.Context, tx *sql.Tx, params CreateDeliveryParams) (*model.WebhookDelivery, error)
	GetByID(ctx context.Context, id string) (*model.WebhookDelivery, error)
	// GetForDelivery loads the delivery joined with its subscription and
	// source event. Returns nil (no error) when the delivery does not exist.
	GetForDelivery(ctx context.Context, id string) (*model.DeliveryWithTarget, error)
	// BeginAttempt flips a non-terminal delivery to running and increments
	// attempts, returning the post-increment count. ok is false when the
	// delivery had already reached a terminal status.
	BeginAttempt(ctx context.Context, id string) (attempts int, ok bool, err error)
	MarkSuccess(ctx context.Context, id string) error
	MarkRetry(ctx context.Context, params MarkDeliveryRetryParams) error
	MarkFailed(ctx context.Context, id, errMsg string) error
	ListPending(ctx context.Context, limit int) ([]*model.WebhookDelivery, error)
	List(ctx context.Context, opts model.DeliveryListOptions) ([]*model.WebhookDelivery, error)
}

// MarkDeliveryRetryParams groups parameters for DeliveryRepository.MarkRetry.
type MarkDeliveryRetryParams struct {
	ID            string
	ErrMsg        string
	NextAttemptAt time.Time
}

// DocumentRepository defines the document state operations owned by the job handlers.
type DocumentRepository interface {
	GetByID(ctx context.Context, id string) (*model.Document, error)
	SetStatus(ctx context.Context, id string, status model.DocumentStatus) error
	// MarkReady sets status ready and clears any previous error message.
	MarkReady(ctx context.Context, id string) error
	// MarkFailed sets status failed and records the failure reason.
	MarkFailed(ctx context.Context, id, errMsg string) error
}

// CacheRepository defines a minimal byte cache used to memoise hot lookups.
type CacheRepository interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Delete(ctx context.Context, key string) (bool, error)
}

// DocumentPipeline is the external document-processing collaborator: text
// extraction plus the search index, keyed by (documentId, userId, ragType).
// The job core treats it as a black box returning success or a typed failure.
type DocumentPipeline interface {
	ExtractText(ctx context.Context, doc *model.Document) (string, error)
	UpsertDocument(ctx context.Context, key model.DocumentKey, text string) error
	DeleteDocument(ctx context.Context, key model.DocumentKey) error
}
