// Package model defines the core data types and structures used throughout the docchat job system.
package model

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// JobType represents the type of job to be executed.
//
//nolint:recvcheck // UnmarshalText needs pointer receiver, Valid needs value receiver
type JobType string

// JobStatus represents the current status of a job.
type JobStatus string

const (
	// JobTypeProcessSupportDoc processes an uploaded support document.
	JobTypeProcessSupportDoc JobType = "process-support-doc"
	// JobTypeProcessResume processes an uploaded resume.
	JobTypeProcessResume JobType = "process-resume"
	// JobTypeProcessExpenseCSV processes an uploaded expense CSV.
	JobTypeProcessExpenseCSV JobType = "process-expense-csv"
	// JobTypeDispatchWebhooks fans an event out to webhook subscribers.
	JobTypeDispatchWebhooks JobType = "dispatch-webhooks"
	// JobTypeDeliverWebhook performs one webhook delivery attempt.
	JobTypeDeliverWebhook JobType = "deliver-webhook"

	// JobStatusPending indicates a job is waiting to be claimed.
	JobStatusPending JobStatus = "pending"
	// JobStatusRunning indicates a job is currently being executed by a worker.
	JobStatusRunning JobStatus = "running"
	// JobStatusDone indicates a job finished successfully.
	JobStatusDone JobStatus = "done"
	// JobStatusFailed indicates a job exhausted its retry budget or hit a non-retryable error.
	JobStatusFailed JobStatus = "failed"
)

// ErrNoJobsAvailable is returned when no claimable jobs exist.
var ErrNoJobsAvailable = errors.New("no jobs available")

// UnmarshalText implements encoding.TextUnmarshaler for JobType to allow env parsing.
func (t *JobType) UnmarshalText(text []byte) error {
	v := strings.ToLower(strings.TrimSpace(string(text)))
	jt := JobType(v)
	if jt.Valid() {
		*t = jt
		return nil
	}
	return fmt.Errorf("invalid JobType: %q", v)
}

// Valid returns true if the JobType is one of the closed set of known tags.
func (t JobType) Valid() bool {
	switch t {
	case JobTypeProcessSupportDoc,
		JobTypeProcessResume,
		JobTypeProcessExpenseCSV,
		JobTypeDispatchWebhooks,
		JobTypeDeliverWebhook:
		return true
	default:
		return false
	}
}

// Valid returns true if the JobStatus is valid.
func (s JobStatus) Valid() bool {
	return s == JobStatusPending || s == JobStatusRunning || s == JobStatusDone ||
		s == JobStatusFailed
}

// Terminal reports whether the status will never change again.
func (s JobStatus) Terminal() bool {
	return s == JobStatusDone || s == JobStatusFailed
}

// Job represents a unit of deferred, durable, retryable work.
//
// A job in status running is exclusively owned by the worker that claimed it
// until it reaches done, failed, or is rescheduled back to pending. The
// attempts counter is incremented exactly once per claim and never adjusted
// retroactively.
type Job struct {
	ID             string          `json:"id"                         db:"id"`
	Type           JobType         `json:"type"                       db:"type"`
	Status         JobStatus       `json:"status"                     db:"status"`
	Payload        json.RawMessage `json:"payload"                    db:"payload"`
	Attempts       int             `json:"attempts"                   db:"attempts"`
	MaxAttempts    int             `json:"max_attempts"               db:"max_attempts"`
	LastError      *string         `json:"last_error,omitempty"       db:"last_error"`
	RunAt          time.Time       `json:"run_at"                     db:"run_at"`
	LeaseExpiresAt *time.Time      `json:"lease_expires_at,omitempty" db:"lease_expires_at"`
	CreatedAt      time.Time       `json:"created_at"                 db:"created_at"`
	UpdatedAt      time.Time       `json:"updated_at"                 db:"updated_at"`
}

// CreateJobRequest represents a request to enqueue a new job.
type CreateJobRequest struct {
	Type        JobType         `json:"type"`
	Payload     json.RawMessage `json:"payload"`
	RunAt       *time.Time      `json:"run_at,omitempty"`
	MaxAttempts int             `json:"max_attempts,omitempty"`
}

// Validate validates the CreateJobRequest fields.
func (r *CreateJobRequest) Validate() error {
	if !r.Type.Valid() {
		return errors.New("invalid job type")
	}
	if len(r.Payload) == 0 {
		return errors.New("payload is required")
	}
	if r.MaxAttempts < 0 {
		return errors.New("max attempts must be >= 0")
	}
	return nil
}

// JobStats represents counts of jobs in each lifecycle state.
type JobStats struct {
	Pending int `json:"pending"`
	Running int `json:"running"`
	Done    int `json:"done"`
	Failed  int `json:"failed"`
}

// DocumentJobPayload is the payload shape shared by the document-processing job types.
type DocumentJobPayload struct {
	DocumentID string `json:"documentId"`
}

// DispatchJobPayload is the payload shape of dispatch-webhooks jobs.
type DispatchJobPayload struct {
	EventID string `json:"eventId"`
}

// DeliveryJobPayload is the payload shape of deliver-webhook jobs.
type DeliveryJobPayload struct {
	DeliveryID string `json:"deliveryId"`
}
