package testutil

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/docchat/docchat-go/internal/domain/model"
)

// JobRequestBuilder provides a fluent interface for building CreateJobRequest objects for testing.
type JobRequestBuilder struct {
	req *model.CreateJobRequest
}

// NewJobRequest creates a new JobRequestBuilder with sensible defaults.
func NewJobRequest() *JobRequestBuilder {
	return &JobRequestBuilder{
		req: &model.CreateJobRequest{
			Type:        model.JobTypeProcessSupportDoc,
			Payload:     json.RawMessage(`{"documentId": "00000000-0000-0000-0000-000000000001"}`),
			MaxAttempts: 3,
		},
	}
}

// WithType sets the job type.
func (b *JobRequestBuilder) WithType(jobType model.JobType) *JobRequestBuilder {
	b.req.Type = jobType
	return b
}

// WithPayload sets the job payload.
func (b *JobRequestBuilder) WithPayload(payload json.RawMessage) *JobRequestBuilder {
	b.req.Payload = payload
	return b
}

// WithPayloadString sets the job payload from a string.
func (b *JobRequestBuilder) WithPayloadString(payload string) *JobRequestBuilder {
	b.req.Payload = json.RawMessage(payload)
	return b
}

// WithRunAt sets the earliest claim time.
func (b *JobRequestBuilder) WithRunAt(runAt time.Time) *JobRequestBuilder {
	b.req.RunAt = &runAt
	return b
}

// WithMaxAttempts sets the attempt budget.
func (b *JobRequestBuilder) WithMaxAttempts(maxAttempts int) *JobRequestBuilder {
	b.req.MaxAttempts = maxAttempts
	return b
}

// Build returns the constructed CreateJobRequest.
func (b *JobRequestBuilder) Build() *model.CreateJobRequest {
	return b.req
}

// InsertDocument inserts a document row directly and returns its generated ID.
func InsertDocument(t TestingTB, db *sql.DB, doc *model.Document) string {
	t.Helper()

	if doc.UserID == "" {
		doc.UserID = "00000000-0000-0000-0000-0000000000aa"
	}
	if doc.RagType == "" {
		doc.RagType = model.RagTypeSupport
	}
	if doc.FilePath == "" {
		doc.FilePath = "/tmp/test.pdf"
	}
	if doc.FileType == "" {
		doc.FileType = "application/pdf"
	}
	if doc.Status == "" {
		doc.Status = model.DocumentStatusUploaded
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	var id string
	err := db.QueryRowContext(ctx, `
		INSERT INTO documents(user_id, rag_type, file_path, file_type, file_size, status)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id
	`, doc.UserID, doc.RagType, doc.FilePath, doc.FileType, doc.FileSize, doc.Status).Scan(&id)
	if err != nil {
		t.Fatal("Failed to insert test document:", err)
	}
	doc.ID = id
	return id
}

// InsertEvent inserts an event row directly and returns its generated ID.
func InsertEvent(t TestingTB, db *sql.DB, eventType string, payload json.RawMessage) string {
	t.Helper()

	if len(payload) == 0 {
		payload = json.RawMessage(`{}`)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	var id string
	err := db.QueryRowContext(ctx, `
		INSERT INTO events(type, payload)
		VALUES ($1, $2)
		RETURNING id
	`, eventType, []byte(payload)).Scan(&id)
	if err != nil {
		t.Fatal("Failed to insert test event:", err)
	}
	return id
}

// InsertSubscription inserts a webhook subscription row directly and returns its generated ID.
func InsertSubscription(t TestingTB, db *sql.DB, url, secret string, active bool) string {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	var id string
	err := db.QueryRowContext(ctx, `
		INSERT INTO webhook_subscriptions(url, secret, is_active)
		VALUES ($1, $2, $3)
		RETURNING id
	`, url, secret, active).Scan(&id)
	if err != nil {
		t.Fatal("Failed to insert test subscription:", err)
	}
	return id
}
