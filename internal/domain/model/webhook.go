package model

import (
	"errors"
	"net/url"
	"strings"
	"time"
)

// DeliveryStatus represents the current status of a webhook delivery.
type DeliveryStatus string

const (
	// DeliveryStatusPending indicates a delivery is waiting for an attempt.
	DeliveryStatusPending DeliveryStatus = "pending"
	// DeliveryStatusRunning indicates a delivery attempt is in flight.
	DeliveryStatusRunning DeliveryStatus = "running"
	// DeliveryStatusSuccess indicates the subscriber acknowledged the delivery. Terminal.
	DeliveryStatusSuccess DeliveryStatus = "success"
	// DeliveryStatusFailed indicates the delivery exhausted its retry budget. Terminal.
	DeliveryStatusFailed DeliveryStatus = "failed"
)

// Valid returns true if the DeliveryStatus is valid.
func (s DeliveryStatus) Valid() bool {
	return s == DeliveryStatusPending || s == DeliveryStatusRunning ||
		s == DeliveryStatusSuccess || s == DeliveryStatusFailed
}

// Terminal reports whether the status will never change again.
func (s DeliveryStatus) Terminal() bool {
	return s == DeliveryStatusSuccess || s == DeliveryStatusFailed
}

// WebhookSubscription is one subscriber endpoint plus its signing secret.
type WebhookSubscription struct {
	ID        string    `json:"id"         db:"id"`
	URL       string    `json:"url"        db:"url"`
	Secret    string    `json:"-"          db:"secret"`
	IsActive  bool      `json:"is_active"  db:"is_active"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

// CreateSubscriptionRequest represents a request to register a webhook subscriber.
type CreateSubscriptionRequest struct {
	URL    string `json:"url"`
	Secret string `json:"secret"`
}

// Validate validates the CreateSubscriptionRequest fields.
func (r *CreateSubscriptionRequest) Validate() error {
	u := strings.TrimSpace(r.URL)
	if u == "" {
		return errors.New("url is required")
	}
	parsed, err := url.Parse(u)
	if err != nil || parsed.Host == "" || (parsed.Scheme != "http" && parsed.Scheme != "https") {
		return errors.New("url must be a valid http(s) URL")
	}
	if strings.TrimSpace(r.Secret) == "" {
		return errors.New("secret is required")
	}
	return nil
}

// Normalize trims whitespace from the request fields.
func (r *CreateSubscriptionRequest) Normalize() {
	r.URL = strings.TrimSpace(r.URL)
	r.Secret = strings.TrimSpace(r.Secret)
}

// WebhookDelivery is one logical (possibly multi-attempt) transmission of an
// event to one subscriber endpoint. Status is monotonic:
// pending -> running -> success, or pending -> running -> pending (retry) -> ... -> failed.
type WebhookDelivery struct {
	ID             string         `json:"id"                        db:"id"`
	SubscriptionID string         `json:"subscription_id"           db:"subscription_id"`
	EventID        string         `json:"event_id"                  db:"event_id"`
	Status         DeliveryStatus `json:"status"                    db:"status"`
	Attempts       int            `json:"attempts"                  db:"attempts"`
	MaxAttempts    int            `json:"max_attempts"              db:"max_attempts"`
	LastError      *string        `json:"last_error,omitempty"      db:"last_error"`
	NextAttemptAt  *time.Time     `json:"next_attempt_at,omitempty" db:"next_attempt_at"`
	DeliveredAt    *time.Time     `json:"delivered_at,omitempty"    db:"delivered_at"`
	CreatedAt      time.Time      `json:"created_at"                db:"created_at"`
	UpdatedAt      time.Time      `json:"updated_at"                db:"updated_at"`
}

// DeliveryWithTarget joins a delivery with the subscription and source event
// it needs for one HTTP attempt.
type DeliveryWithTarget struct {
	Delivery WebhookDelivery
	URL      string
	Secret   string
	Event    Event
}

// DeliveryListOptions holds filter and pagination options for delivery listings.
type DeliveryListOptions struct {
	Status *DeliveryStatus
	Limit  int
	Offset int
}
