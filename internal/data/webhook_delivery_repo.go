package data

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/docchat/docchat-go/internal/core"
	"github.com/docchat/docchat-go/internal/domain/model"
)

// ErrDeliveryNotFound is returned when a webhook delivery is not found.
var ErrDeliveryNotFound = errors.New("webhook delivery not found")

const defaultDeliveryMaxAttempts = 5

// WebhookDeliveryRepo provides database operations for webhook deliveries.
type WebhookDeliveryRepo struct {
	DB    *sql.DB
	clock Clock
}

// NewWebhookDeliveryRepo creates a new WebhookDeliveryRepo instance.
func NewWebhookDeliveryRepo(db *sql.DB, clock Clock) *WebhookDeliveryRepo {
	if clock == nil {
		clock = SystemClock{}
	}
	return &WebhookDeliveryRepo{DB: db, clock: clock}
}

const deliveryColumns = `
  id,
  subscription_id,
  event_id,
  status,
  attempts,
  max_attempts,
  last_error,
  next_attempt_at,
  delivered_at,
  created_at,
  updated_at
`

type deliveryRowScanner interface {
	Scan(dest ...any) error
}

func scanDeliveryFromRow(scanner deliveryRowScanner) (*model.WebhookDelivery, error) {
	d := &model.WebhookDelivery{}
	var lastError sql.NullString
	var nextAttemptAt, deliveredAt sql.NullTime

	if err := scanner.Scan(
		&d.ID,
		&d.SubscriptionID,
		&d.EventID,
		&d.Status,
		&d.Attempts,
		&d.MaxAttempts,
		&lastError,
		&nextAttemptAt,
		&deliveredAt,
		&d.CreatedAt,
		&d.UpdatedAt,
	); err != nil {
		return nil, err
	}

	d.LastError = cloneNullableString(lastError)
	d.NextAttemptAt = cloneNullableTime(nextAttemptAt)
	d.DeliveredAt = cloneNullableTime(deliveredAt)
	return d, nil
}

// CreateInTx inserts a pending delivery within an existing SQL transaction.
// The dispatcher creates one row per active subscription, atomically with
// the delivery jobs that will carry them out.
func (r *WebhookDeliveryRepo) CreateInTx(
	ctx context.Context,
	sqlTx *sql.Tx,
	params core.CreateDeliveryParams,
) (*model.WebhookDelivery, error) {
	if sqlTx == nil {
		return nil, errors.New("transaction is required")
	}
	if params.SubscriptionID == "" || params.EventID == "" {
		return nil, errors.New("subscription id and event id are required")
	}

	maxAttempts := params.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = defaultDeliveryMaxAttempts
	}

	d, err := scanDeliveryFromRow(sqlTx.QueryRowContext(ctx, `
		INSERT INTO webhook_deliveries(subscription_id, event_id, status, max_attempts)
		VALUES ($1, $2, 'pending', $3)
		RETURNING `+deliveryColumns+`
	`, params.SubscriptionID, params.EventID, maxAttempts))
	if err != nil {
		return nil, fmt.Errorf("insert delivery: %w", err)
	}
	return d, nil
}

// GetByID retrieves a delivery by its ID.
func (r *WebhookDeliveryRepo) GetByID(ctx context.Context, id string) (*model.WebhookDelivery, error) {
	d, err := scanDeliveryFromRow(r.DB.QueryRowContext(ctx, `
		SELECT `+deliveryColumns+`
		FROM webhook_deliveries
		WHERE id = $1
	`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrDeliveryNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get delivery: %w", err)
	}
	return d, nil
}

// GetForDelivery loads a delivery joined with its subscription endpoint and
// source event, everything one HTTP attempt needs. Returns nil without error
// when the delivery does not exist so executors can treat a dangling job as
// a no-op rather than a retryable failure.
func (r *WebhookDeliveryRepo) GetForDelivery(ctx context.Context, id string) (*model.DeliveryWithTarget, error) {
	row := r.DB.QueryRowContext(ctx, `
		SELECT
		  d.id, d.subscription_id, d.event_id, d.status, d.attempts, d.max_attempts,
		  d.last_error, d.next_attempt_at, d.delivered_at, d.created_at, d.updated_at,
		  s.url, s.secret,
		  e.id, e.type, e.payload, e.user_id, e.created_at
		FROM webhook_deliveries d
		JOIN webhook_subscriptions s ON s.id = d.subscription_id
		JOIN events e ON e.id = d.event_id
		WHERE d.id = $1
	`, id)

	var dt model.DeliveryWithTarget
	var lastError sql.NullString
	var nextAttemptAt, deliveredAt sql.NullTime
	var eventPayload []byte
	var eventUserID sql.NullString

	err := row.Scan(
		&dt.Delivery.ID,
		&dt.Delivery.SubscriptionID,
		&dt.Delivery.EventID,
		&dt.Delivery.Status,
		&dt.Delivery.Attempts,
		&dt.Delivery.MaxAttempts,
		&lastError,
		&nextAttemptAt,
		&deliveredAt,
		&dt.Delivery.CreatedAt,
		&dt.Delivery.UpdatedAt,
		&dt.URL,
		&dt.Secret,
		&dt.Event.ID,
		&dt.Event.Type,
		&eventPayload,
		&eventUserID,
		&dt.Event.CreatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get delivery target: %w", err)
	}

	dt.Delivery.LastError = cloneNullableString(lastError)
	dt.Delivery.NextAttemptAt = cloneNullableTime(nextAttemptAt)
	dt.Delivery.DeliveredAt = cloneNullableTime(deliveredAt)
	dt.Event.Payload = cloneJSON(eventPayload)
	dt.Event.UserID = cloneNullableString(eventUserID)
	return &dt, nil
}

// BeginAttempt flips a non-terminal delivery to running and increments its
// attempts counter, returning the post-increment count. ok is false when the
// delivery had already reached success or failed, which makes duplicate
// delivery jobs harmless.
func (r *WebhookDeliveryRepo) BeginAttempt(ctx context.Context, id string) (int, bool, error) {
	currentTime := r.clock.Now().UTC()

	var attempts int
	err := r.DB.QueryRowContext(ctx, `
		UPDATE webhook_deliveries
		SET status = 'running',
		    attempts = attempts + 1,
		    updated_at = $2
		WHERE id = $1 AND status IN ('pending', 'running')
		RETURNING attempts
	`, id, currentTime).Scan(&attempts)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("begin delivery attempt: %w", err)
	}
	return attempts, true, nil
}

// MarkSuccess records a successful delivery. Terminal.
func (r *WebhookDeliveryRepo) MarkSuccess(ctx context.Context, id string) error {
	currentTime := r.clock.Now().UTC()

	_, err := r.DB.ExecContext(ctx, `
		UPDATE webhook_deliveries
		SET status = 'success',
		    last_error = NULL,
		    next_attempt_at = NULL,
		    delivered_at = $2,
		    updated_at = $2
		WHERE id = $1
	`, id, currentTime)
	if err != nil {
		return fmt.Errorf("mark delivery success: %w", err)
	}
	return nil
}

// MarkRetry records a failed attempt with a scheduled follow-up. The delivery
// goes back to pending so the retry job can claim it.
func (r *WebhookDeliveryRepo) MarkRetry(ctx context.Context, params core.MarkDeliveryRetryParams) error {
	currentTime := r.clock.Now().UTC()

	_, err := r.DB.ExecContext(ctx, `
		UPDATE webhook_deliveries
		SET status = 'pending',
		    last_error = $2,
		    next_attempt_at = $3,
		    updated_at = $4
		WHERE id = $1
	`, params.ID, params.ErrMsg, params.NextAttemptAt.UTC(), currentTime)
	if err != nil {
		return fmt.Errorf("mark delivery retry: %w", err)
	}
	return nil
}

// MarkFailed records a delivery that exhausted its attempt budget. Terminal.
func (r *WebhookDeliveryRepo) MarkFailed(ctx context.Context, id, errMsg string) error {
	currentTime := r.clock.Now().UTC()

	_, err := r.DB.ExecContext(ctx, `
		UPDATE webhook_deliveries
		SET status = 'failed',
		    last_error = $2,
		    next_attempt_at = NULL,
		    updated_at = $3
		WHERE id = $1
	`, id, errMsg, currentTime)
	if err != nil {
		return fmt.Errorf("mark delivery failed: %w", err)
	}
	return nil
}

// ListPending returns pending deliveries, oldest first, up to limit. The
// redelivery sweep re-enqueues jobs for exactly this set.
func (r *WebhookDeliveryRepo) ListPending(ctx context.Context, limit int) ([]*model.WebhookDelivery, error) {
	if limit <= 0 {
		limit = 50
	}

	rows, err := r.DB.QueryContext(ctx, `
		SELECT `+deliveryColumns+`
		FROM webhook_deliveries
		WHERE status = 'pending'
		ORDER BY created_at ASC
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("list pending deliveries: %w", err)
	}
	defer rows.Close()

	return collectDeliveries(rows)
}

// List returns deliveries newest first with optional status filtering.
func (r *WebhookDeliveryRepo) List(ctx context.Context, opts model.DeliveryListOptions) ([]*model.WebhookDelivery, error) {
	limit := opts.Limit
	if limit <= 0 {
		limit = 50
	}
	offset := opts.Offset
	if offset < 0 {
		offset = 0
	}

	query := `
		SELECT ` + deliveryColumns + `
		FROM webhook_deliveries
	`
	args := []any{limit, offset}
	if opts.Status != nil {
		query += ` WHERE status = $3`
		args = append(args, *opts.Status)
	}
	query += `
		ORDER BY created_at DESC
		LIMIT $1 OFFSET $2
	`

	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list deliveries: %w", err)
	}
	defer rows.Close()

	return collectDeliveries(rows)
}

func collectDeliveries(rows *sql.Rows) ([]*model.WebhookDelivery, error) {
	var deliveries []*model.WebhookDelivery
	for rows.Next() {
		d, scanErr := scanDeliveryFromRow(rows)
		if scanErr != nil {
			return nil, fmt.Errorf("scan delivery: %w", scanErr)
		}
		deliveries = append(deliveries, d)
	}
	if rowsErr := rows.Err(); rowsErr != nil {
		return nil, fmt.Errorf("list deliveries: %w", rowsErr)
	}
	return deliveries, nil
}
