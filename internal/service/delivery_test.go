package service

import (
	"context"
	"database/sql"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/docchat/docchat-go/internal/core"
	"github.com/docchat/docchat-go/internal/domain/model"
	"github.com/docchat/docchat-go/internal/domain/webhook"
)

// fakeDeliveryRepo is an in-memory DeliveryRepository for executor tests.
type fakeDeliveryRepo struct {
	target *model.DeliveryWithTarget

	beginAttemptOK bool

	successID   string
	retryParams *core.MarkDeliveryRetryParams
	failedID    string
	failedErr   string
}

func (f *fakeDeliveryRepo) CreateInTx(
	ctx context.Context,
	tx *sql.Tx,
	params core.CreateDeliveryParams,
) (*model.WebhookDelivery, error) {
	panic("not used")
}

func (f *fakeDeliveryRepo) GetByID(ctx context.Context, id string) (*model.WebhookDelivery, error) {
	panic("not used")
}

func (f *fakeDeliveryRepo) GetForDelivery(ctx context.Context, id string) (*model.DeliveryWithTarget, error) {
	return f.target, nil
}

func (f *fakeDeliveryRepo) BeginAttempt(ctx context.Context, id string) (int, bool, error) {
	if !f.beginAttemptOK {
		return 0, false, nil
	}
	f.target.Delivery.Attempts++
	return f.target.Delivery.Attempts, true, nil
}

func (f *fakeDeliveryRepo) MarkSuccess(ctx context.Context, id string) error {
	f.successID = id
	return nil
}

func (f *fakeDeliveryRepo) MarkRetry(ctx context.Context, params core.MarkDeliveryRetryParams) error {
	f.retryParams = &params
	return nil
}

func (f *fakeDeliveryRepo) MarkFailed(ctx context.Context, id, errMsg string) error {
	f.failedID = id
	f.failedErr = errMsg
	return nil
}

func (f *fakeDeliveryRepo) ListPending(ctx context.Context, limit int) ([]*model.WebhookDelivery, error) {
	panic("not used")
}

func (f *fakeDeliveryRepo) List(
	ctx context.Context,
	opts model.DeliveryListOptions,
) ([]*model.WebhookDelivery, error) {
	panic("not used")
}

// fakeJobCreator records enqueued jobs.
type fakeJobCreator struct {
	created []*model.CreateJobRequest
}

func (f *fakeJobCreator) Create(ctx context.Context, req *model.CreateJobRequest) (*model.Job, error) {
	f.created = append(f.created, req)
	return &model.Job{ID: "job-1", Type: req.Type, Status: model.JobStatusPending}, nil
}

func (f *fakeJobCreator) GetByID(ctx context.Context, id string) (*model.Job, error) {
	panic("not used")
}
func (f *fakeJobCreator) ClaimNext(ctx context.Context, leaseSeconds int) (*model.Job, error) {
	panic("not used")
}
func (f *fakeJobCreator) Heartbeat(ctx context.Context, jobID string, leaseSeconds int) (bool, error) {
	panic("not used")
}
func (f *fakeJobCreator) MarkDone(ctx context.Context, id string) (bool, error) { panic("not used") }
func (f *fakeJobCreator) MarkFailed(ctx context.Context, params core.MarkJobFailedParams) (bool, error) {
	panic("not used")
}
func (f *fakeJobCreator) Stats(ctx context.Context) (*model.JobStats, error) { panic("not used") }
func (f *fakeJobCreator) ListRecent(ctx context.Context, limit int) ([]*model.Job, error) {
	panic("not used")
}

func testDeliveryTarget(url string, attempts, maxAttempts int) *model.DeliveryWithTarget {
	return &model.DeliveryWithTarget{
		Delivery: model.WebhookDelivery{
			ID:             "del-1",
			SubscriptionID: "sub-1",
			EventID:        "ev-1",
			Status:         model.DeliveryStatusPending,
			Attempts:       attempts,
			MaxAttempts:    maxAttempts,
		},
		URL:    url,
		Secret: "test-secret",
		Event: model.Event{
			ID:        "ev-1",
			Type:      model.EventTypeDocumentProcessed,
			Payload:   json.RawMessage(`{"documentId":"doc-1"}`),
			CreatedAt: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
		},
	}
}

func newTestDeliveryService(t *testing.T, repo *fakeDeliveryRepo, jobs *fakeJobCreator) *DeliveryService {
	t.Helper()
	svc, err := NewDeliveryService(DeliveryServiceOptions{
		DeliveryRepo: repo,
		JobRepo:      jobs,
		HTTPClient:   &http.Client{Timeout: 5 * time.Second},
	})
	require.NoError(t, err)
	return svc
}

func TestDeliveryService_Deliver_Success(t *testing.T) {
	var gotSignature string
	var gotBody []byte
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotSignature = r.Header.Get(webhook.SignatureHeader)
		gotBody, _ = io.ReadAll(r.Body)
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	repo := &fakeDeliveryRepo{
		target:         testDeliveryTarget(server.URL, 0, 5),
		beginAttemptOK: true,
	}
	jobs := &fakeJobCreator{}
	svc := newTestDeliveryService(t, repo, jobs)

	require.NoError(t, svc.Deliver(context.Background(), "del-1"))

	assert.Equal(t, "del-1", repo.successID)
	assert.Empty(t, jobs.created)

	// The delivered bytes verify against the subscription secret
	assert.True(t, webhook.VerifySignature("test-secret", gotBody, gotSignature))

	var envelope map[string]any
	require.NoError(t, json.Unmarshal(gotBody, &envelope))
	assert.Equal(t, "ev-1", envelope["id"])
	assert.Equal(t, model.EventTypeDocumentProcessed, envelope["type"])
}

func TestDeliveryService_Deliver_RetrySchedulesCarrierJob(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "try later", http.StatusServiceUnavailable)
	}))
	defer server.Close()

	repo := &fakeDeliveryRepo{
		target:         testDeliveryTarget(server.URL, 0, 5),
		beginAttemptOK: true,
	}
	jobs := &fakeJobCreator{}
	svc := newTestDeliveryService(t, repo, jobs)

	before := time.Now()
	require.NoError(t, svc.Deliver(context.Background(), "del-1"))

	require.NotNil(t, repo.retryParams)
	assert.Equal(t, "del-1", repo.retryParams.ID)
	assert.Contains(t, repo.retryParams.ErrMsg, "503")

	// First failure backs off one minute
	expected := before.Add(webhook.RetryDelay(1))
	assert.WithinDuration(t, expected, repo.retryParams.NextAttemptAt, 5*time.Second)

	require.Len(t, jobs.created, 1)
	carrier := jobs.created[0]
	assert.Equal(t, model.JobTypeDeliverWebhook, carrier.Type)
	require.NotNil(t, carrier.RunAt)
	assert.Equal(t, repo.retryParams.NextAttemptAt, *carrier.RunAt)

	var payload model.DeliveryJobPayload
	require.NoError(t, json.Unmarshal(carrier.Payload, &payload))
	assert.Equal(t, "del-1", payload.DeliveryID)
}

func TestDeliveryService_Deliver_ExhaustedBudgetFails(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "no", http.StatusInternalServerError)
	}))
	defer server.Close()

	// Attempt 5 of 5
	repo := &fakeDeliveryRepo{
		target:         testDeliveryTarget(server.URL, 4, 5),
		beginAttemptOK: true,
	}
	jobs := &fakeJobCreator{}
	svc := newTestDeliveryService(t, repo, jobs)

	require.NoError(t, svc.Deliver(context.Background(), "del-1"))

	assert.Equal(t, "del-1", repo.failedID)
	assert.Contains(t, repo.failedErr, "500")
	assert.Nil(t, repo.retryParams)
	assert.Empty(t, jobs.created)
}

func TestDeliveryService_Deliver_ConnectionErrorRetries(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	server.Close() // refuse connections

	repo := &fakeDeliveryRepo{
		target:         testDeliveryTarget(server.URL, 0, 5),
		beginAttemptOK: true,
	}
	jobs := &fakeJobCreator{}
	svc := newTestDeliveryService(t, repo, jobs)

	require.NoError(t, svc.Deliver(context.Background(), "del-1"))

	require.NotNil(t, repo.retryParams)
	require.Len(t, jobs.created, 1)
}

func TestDeliveryService_Deliver_SkipsMissingDelivery(t *testing.T) {
	repo := &fakeDeliveryRepo{target: nil}
	jobs := &fakeJobCreator{}
	svc := newTestDeliveryService(t, repo, jobs)

	require.NoError(t, svc.Deliver(context.Background(), "gone"))
	assert.Empty(t, repo.successID)
	assert.Empty(t, jobs.created)
}

func TestDeliveryService_Deliver_SkipsSettledDelivery(t *testing.T) {
	target := testDeliveryTarget("http://unused.invalid", 5, 5)
	target.Delivery.Status = model.DeliveryStatusSuccess

	repo := &fakeDeliveryRepo{target: target}
	jobs := &fakeJobCreator{}
	svc := newTestDeliveryService(t, repo, jobs)

	require.NoError(t, svc.Deliver(context.Background(), "del-1"))
	assert.Empty(t, repo.successID)
	assert.Nil(t, repo.retryParams)
}

func TestDeliveryService_Deliver_SkipsNotYetDue(t *testing.T) {
	target := testDeliveryTarget("http://unused.invalid", 1, 5)
	due := time.Now().Add(10 * time.Minute)
	target.Delivery.NextAttemptAt = &due

	repo := &fakeDeliveryRepo{target: target}
	jobs := &fakeJobCreator{}
	svc := newTestDeliveryService(t, repo, jobs)

	require.NoError(t, svc.Deliver(context.Background(), "del-1"))
	assert.Empty(t, repo.successID)
	assert.Nil(t, repo.retryParams)
	assert.Empty(t, jobs.created)
}

func TestDeliveryService_Deliver_SkipsLostRace(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("no request expected")
	}))
	defer server.Close()

	repo := &fakeDeliveryRepo{
		target:         testDeliveryTarget(server.URL, 0, 5),
		beginAttemptOK: false,
	}
	jobs := &fakeJobCreator{}
	svc := newTestDeliveryService(t, repo, jobs)

	require.NoError(t, svc.Deliver(context.Background(), "del-1"))
	assert.Empty(t, repo.successID)
	assert.Nil(t, repo.retryParams)
}
