package data

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	apperrors "github.com/docchat/docchat-go/internal/errors"

	"github.com/docchat/docchat-go/internal/domain/model"
)

// ErrSubscriptionNotFound is returned when a webhook subscription is not found.
var ErrSubscriptionNotFound = errors.New("webhook subscription not found")

// WebhookSubscriptionRepo provides database operations for webhook subscriptions.
type WebhookSubscriptionRepo struct{ DB *sql.DB }

// NewWebhookSubscriptionRepo creates a new WebhookSubscriptionRepo instance.
func NewWebhookSubscriptionRepo(db *sql.DB) *WebhookSubscriptionRepo {
	return &WebhookSubscriptionRepo{DB: db}
}

const subscriptionColumns = `
  id,
  url,
  secret,
  is_active,
  created_at
`

type subscriptionRowScanner interface {
	Scan(dest ...any) error
}

func scanSubscriptionFromRow(scanner subscriptionRowScanner) (*model.WebhookSubscription, error) {
	sub := &model.WebhookSubscription{}
	if err := scanner.Scan(
		&sub.ID,
		&sub.URL,
		&sub.Secret,
		&sub.IsActive,
		&sub.CreatedAt,
	); err != nil {
		return nil, err
	}
	return sub, nil
}

// Create registers a new active subscription. Duplicate URLs surface as a
// conflict via the unique constraint.
func (r *WebhookSubscriptionRepo) Create(
	ctx context.Context,
	req *model.CreateSubscriptionRequest,
) (*model.WebhookSubscription, error) {
	if req == nil {
		return nil, errors.New("create subscription request is required")
	}
	req.Normalize()
	if validateErr := req.Validate(); validateErr != nil {
		return nil, validateErr
	}

	sub, err := scanSubscriptionFromRow(r.DB.QueryRowContext(ctx, `
		INSERT INTO webhook_subscriptions(url, secret, is_active)
		VALUES ($1, $2, TRUE)
		RETURNING `+subscriptionColumns+`
	`, req.URL, req.Secret))
	if err != nil {
		return nil, fmt.Errorf("insert subscription: %w", apperrors.MapDBError(err))
	}
	return sub, nil
}

// GetByID retrieves a subscription by its ID.
func (r *WebhookSubscriptionRepo) GetByID(ctx context.Context, id string) (*model.WebhookSubscription, error) {
	sub, err := scanSubscriptionFromRow(r.DB.QueryRowContext(ctx, `
		SELECT `+subscriptionColumns+`
		FROM webhook_subscriptions
		WHERE id = $1
	`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrSubscriptionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get subscription: %w", err)
	}
	return sub, nil
}

// List returns all subscriptions, oldest first.
func (r *WebhookSubscriptionRepo) List(ctx context.Context) ([]*model.WebhookSubscription, error) {
	return r.list(ctx, false)
}

// ListActive returns only active subscriptions, oldest first. The dispatcher
// fans out to exactly this set.
func (r *WebhookSubscriptionRepo) ListActive(ctx context.Context) ([]*model.WebhookSubscription, error) {
	return r.list(ctx, true)
}

func (r *WebhookSubscriptionRepo) list(ctx context.Context, activeOnly bool) ([]*model.WebhookSubscription, error) {
	query := `
		SELECT ` + subscriptionColumns + `
		FROM webhook_subscriptions
	`
	if activeOnly {
		query += ` WHERE is_active = TRUE`
	}
	query += ` ORDER BY created_at ASC`

	rows, err := r.DB.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("list subscriptions: %w", err)
	}
	defer rows.Close()

	var subs []*model.WebhookSubscription
	for rows.Next() {
		sub, scanErr := scanSubscriptionFromRow(rows)
		if scanErr != nil {
			return nil, fmt.Errorf("scan subscription: %w", scanErr)
		}
		subs = append(subs, sub)
	}
	if rowsErr := rows.Err(); rowsErr != nil {
		return nil, fmt.Errorf("list subscriptions: %w", rowsErr)
	}
	return subs, nil
}

// SetActive toggles a subscription's active flag and returns the updated row.
func (r *WebhookSubscriptionRepo) SetActive(ctx context.Context, id string, active bool) (*model.WebhookSubscription, error) {
	sub, err := scanSubscriptionFromRow(r.DB.QueryRowContext(ctx, `
		UPDATE webhook_subscriptions
		SET is_active = $2
		WHERE id = $1
		RETURNING `+subscriptionColumns+`
	`, id, active))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrSubscriptionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("set subscription active: %w", err)
	}
	return sub, nil
}
