package data

import (
	"context"
	"database/sql"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/docchat/docchat-go/internal/core"
	"github.com/docchat/docchat-go/internal/domain/model"
	apperrors "github.com/docchat/docchat-go/internal/errors"
	"github.com/docchat/docchat-go/internal/testutil"
)

func TestWebhookSubscriptionRepo_Integration_CreateAndList(t *testing.T) {
	testutil.SkipIfNoTestDB(t)

	testutil.WithTestDB(t, func(db *sql.DB) {
		repo := NewWebhookSubscriptionRepo(db)

		sub, err := repo.Create(context.Background(), &model.CreateSubscriptionRequest{
			URL:    "https://hooks.example.com/a",
			Secret: "s3cret",
		})
		require.NoError(t, err)
		assert.True(t, sub.IsActive)

		// Duplicate URL surfaces as a conflict.
		_, err = repo.Create(context.Background(), &model.CreateSubscriptionRequest{
			URL:    "https://hooks.example.com/a",
			Secret: "other",
		})
		require.Error(t, err)
		assert.True(t, apperrors.IsConflict(err), "duplicate url should map to conflict, got: %v", err)

		_, err = repo.Create(context.Background(), &model.CreateSubscriptionRequest{
			URL:    "https://hooks.example.com/b",
			Secret: "s3cret",
		})
		require.NoError(t, err)

		toggled, err := repo.SetActive(context.Background(), sub.ID, false)
		require.NoError(t, err)
		assert.False(t, toggled.IsActive)

		all, err := repo.List(context.Background())
		require.NoError(t, err)
		assert.Len(t, all, 2)

		active, err := repo.ListActive(context.Background())
		require.NoError(t, err)
		require.Len(t, active, 1)
		assert.Equal(t, "https://hooks.example.com/b", active[0].URL)
	})
}

func TestWebhookSubscriptionRepo_Integration_Validation(t *testing.T) {
	testutil.SkipIfNoTestDB(t)

	testutil.WithTestDB(t, func(db *sql.DB) {
		repo := NewWebhookSubscriptionRepo(db)

		_, err := repo.Create(context.Background(), &model.CreateSubscriptionRequest{
			URL:    "not-a-url",
			Secret: "s",
		})
		require.Error(t, err)

		_, err = repo.Create(context.Background(), &model.CreateSubscriptionRequest{
			URL:    "https://ok.example.com",
			Secret: "  ",
		})
		require.Error(t, err)

		_, err = repo.SetActive(context.Background(), "00000000-0000-0000-0000-000000000000", true)
		require.ErrorIs(t, err, ErrSubscriptionNotFound)
	})
}

func TestWebhookDeliveryRepo_Integration_Lifecycle(t *testing.T) {
	testutil.SkipIfNoTestDB(t)

	testutil.WithTestDB(t, func(db *sql.DB) {
		repo := NewWebhookDeliveryRepo(db, nil)

		subID := testutil.InsertSubscription(t, db, "https://hooks.example.com/x", "topsecret", true)
		eventID := testutil.InsertEvent(t, db, model.EventTypeDocumentProcessed, json.RawMessage(`{"documentId":"d1"}`))

		var delivery *model.WebhookDelivery
		tx, err := db.BeginTx(context.Background(), nil)
		require.NoError(t, err)
		delivery, err = repo.CreateInTx(context.Background(), tx, core.CreateDeliveryParams{
			SubscriptionID: subID,
			EventID:        eventID,
		})
		require.NoError(t, err)
		require.NoError(t, tx.Commit())

		assert.Equal(t, model.DeliveryStatusPending, delivery.Status)
		assert.Equal(t, 0, delivery.Attempts)
		assert.Equal(t, 5, delivery.MaxAttempts)

		// Join load carries everything one attempt needs.
		dt, err := repo.GetForDelivery(context.Background(), delivery.ID)
		require.NoError(t, err)
		require.NotNil(t, dt)
		assert.Equal(t, "https://hooks.example.com/x", dt.URL)
		assert.Equal(t, "topsecret", dt.Secret)
		assert.Equal(t, eventID, dt.Event.ID)
		assert.Equal(t, model.EventTypeDocumentProcessed, dt.Event.Type)

		attempts, ok, err := repo.BeginAttempt(context.Background(), delivery.ID)
		require.NoError(t, err)
		assert.True(t, ok)
		assert.Equal(t, 1, attempts)

		nextAt := time.Now().Add(time.Minute)
		require.NoError(t, repo.MarkRetry(context.Background(), core.MarkDeliveryRetryParams{
			ID:            delivery.ID,
			ErrMsg:        "upstream status 500",
			NextAttemptAt: nextAt,
		}))

		reloaded, err := repo.GetByID(context.Background(), delivery.ID)
		require.NoError(t, err)
		assert.Equal(t, model.DeliveryStatusPending, reloaded.Status)
		require.NotNil(t, reloaded.LastError)
		assert.Equal(t, "upstream status 500", *reloaded.LastError)
		require.NotNil(t, reloaded.NextAttemptAt)

		attempts, ok, err = repo.BeginAttempt(context.Background(), delivery.ID)
		require.NoError(t, err)
		assert.True(t, ok)
		assert.Equal(t, 2, attempts)

		require.NoError(t, repo.MarkSuccess(context.Background(), delivery.ID))

		final, err := repo.GetByID(context.Background(), delivery.ID)
		require.NoError(t, err)
		assert.Equal(t, model.DeliveryStatusSuccess, final.Status)
		assert.Nil(t, final.LastError)
		assert.Nil(t, final.NextAttemptAt)
		assert.NotNil(t, final.DeliveredAt)

		// Terminal status makes further attempts no-ops.
		_, ok, err = repo.BeginAttempt(context.Background(), delivery.ID)
		require.NoError(t, err)
		assert.False(t, ok)
	})
}

func TestWebhookDeliveryRepo_Integration_ListPending(t *testing.T) {
	testutil.SkipIfNoTestDB(t)

	testutil.WithTestDB(t, func(db *sql.DB) {
		repo := NewWebhookDeliveryRepo(db, nil)

		subID := testutil.InsertSubscription(t, db, "https://hooks.example.com/p", "s", true)
		eventID := testutil.InsertEvent(t, db, model.EventTypeResumeAnalysisDone, nil)

		var first string
		for i := 0; i < 3; i++ {
			tx, err := db.BeginTx(context.Background(), nil)
			require.NoError(t, err)
			d, err := repo.CreateInTx(context.Background(), tx, core.CreateDeliveryParams{
				SubscriptionID: subID,
				EventID:        eventID,
			})
			require.NoError(t, err)
			require.NoError(t, tx.Commit())
			if i == 0 {
				first = d.ID
			}
		}

		// Settle one delivery; the sweep must only see the rest.
		_, ok, err := repo.BeginAttempt(context.Background(), first)
		require.NoError(t, err)
		require.True(t, ok)
		require.NoError(t, repo.MarkFailed(context.Background(), first, "gave up"))

		pending, err := repo.ListPending(context.Background(), 10)
		require.NoError(t, err)
		assert.Len(t, pending, 2)
		for _, d := range pending {
			assert.Equal(t, model.DeliveryStatusPending, d.Status)
		}

		failedStatus := model.DeliveryStatusFailed
		failed, err := repo.List(context.Background(), model.DeliveryListOptions{Status: &failedStatus})
		require.NoError(t, err)
		require.Len(t, failed, 1)
		assert.Equal(t, first, failed[0].ID)
	})
}

func TestEventRepo_Integration_CreateAndList(t *testing.T) {
	testutil.SkipIfNoTestDB(t)

	testutil.WithTestDB(t, func(db *sql.DB) {
		repo := NewEventRepo(db)

		tx, err := db.BeginTx(context.Background(), nil)
		require.NoError(t, err)
		userID := "00000000-0000-0000-0000-0000000000bb"
		event, err := repo.CreateInTx(context.Background(), tx, &model.PublishEventRequest{
			Type:    model.EventTypeExpenseSummaryReady,
			Payload: json.RawMessage(`{"month":"2026-08"}`),
			UserID:  &userID,
		})
		require.NoError(t, err)
		require.NoError(t, tx.Commit())

		got, err := repo.GetByID(context.Background(), event.ID)
		require.NoError(t, err)
		assert.Equal(t, model.EventTypeExpenseSummaryReady, got.Type)
		assert.JSONEq(t, `{"month":"2026-08"}`, string(got.Payload))
		require.NotNil(t, got.UserID)
		assert.Equal(t, userID, *got.UserID)

		events, err := repo.List(context.Background(), model.EventListOptions{Limit: 10})
		require.NoError(t, err)
		assert.Len(t, events, 1)

		_, err = repo.GetByID(context.Background(), "00000000-0000-0000-0000-000000000000")
		require.ErrorIs(t, err, ErrEventNotFound)
	})
}
