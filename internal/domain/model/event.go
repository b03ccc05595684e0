package model

import (
	"encoding/json"
	"errors"
	"time"
)

// Event types emitted by the document handlers.
const (
	EventTypeDocumentProcessed      = "document_processed"
	EventTypeResumeAnalysisDone     = "resume_analysis_completed"
	EventTypeExpenseSummaryReady    = "monthly_expense_summary_ready"
	EventTypeSubscriptionTestPinged = "webhook_subscription_test"
)

// Event is an immutable domain event. Once inserted it is never mutated,
// only referenced by webhook deliveries.
type Event struct {
	ID        string          `json:"id"                db:"id"`
	Type      string          `json:"type"              db:"type"`
	Payload   json.RawMessage `json:"payload"           db:"payload"`
	UserID    *string         `json:"user_id,omitempty" db:"user_id"`
	CreatedAt time.Time       `json:"created_at"        db:"created_at"`
}

// PublishEventRequest represents a request to record a new domain event.
type PublishEventRequest struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
	UserID  *string         `json:"user_id,omitempty"`
}

// Validate validates the PublishEventRequest fields.
func (r *PublishEventRequest) Validate() error {
	if r.Type == "" {
		return errors.New("event type is required")
	}
	if len(r.Payload) == 0 {
		return errors.New("payload is required")
	}
	return nil
}

// EventListOptions holds pagination options for event listings.
type EventListOptions struct {
	Limit  int
	Offset int
}
