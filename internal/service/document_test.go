package service

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"github.com/docchat/docchat-go/internal/data"
	"github.com/docchat/docchat-go/internal/domain/model"
	apperrors "github.com/docchat/docchat-go/internal/errors"
	"github.com/docchat/docchat-go/internal/mocks"
)

// stubEventPublisher records published events.
type stubEventPublisher struct {
	published []*model.PublishEventRequest
	err       error
}

func (s *stubEventPublisher) Publish(
	ctx context.Context,
	req *model.PublishEventRequest,
) (*model.Event, error) {
	if s.err != nil {
		return nil, s.err
	}
	s.published = append(s.published, req)
	return &model.Event{ID: "ev-1", Type: req.Type, Payload: req.Payload}, nil
}

func testDocument(ragType model.RagType) *model.Document {
	return &model.Document{
		ID:       "doc-1",
		UserID:   "user-1",
		RagType:  ragType,
		FilePath: "uploads/user-1/doc-1.pdf",
		FileType: "pdf",
		FileSize: 2048,
		Status:   model.DocumentStatusUploaded,
	}
}

func TestDocumentService_Process_Success(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	docs := mocks.NewMockDocumentRepository(ctrl)
	pipeline := mocks.NewMockDocumentPipeline(ctrl)
	events := &stubEventPublisher{}

	svc, err := NewDocumentService(DocumentServiceOptions{
		DocumentRepo: docs,
		Pipeline:     pipeline,
		Events:       events,
	})
	require.NoError(t, err)

	doc := testDocument(model.RagTypeSupport)
	key := model.DocumentKey{DocumentID: "doc-1", UserID: "user-1", RagType: model.RagTypeSupport}

	docs.EXPECT().GetByID(gomock.Any(), "doc-1").Return(doc, nil)
	docs.EXPECT().SetStatus(gomock.Any(), "doc-1", model.DocumentStatusProcessing).Return(nil)
	pipeline.EXPECT().ExtractText(gomock.Any(), doc).Return("extracted text", nil)
	pipeline.EXPECT().DeleteDocument(gomock.Any(), key).Return(nil)
	pipeline.EXPECT().UpsertDocument(gomock.Any(), key, "extracted text").Return(nil)
	docs.EXPECT().MarkReady(gomock.Any(), "doc-1").Return(nil)

	require.NoError(t, svc.Process(context.Background(), model.JobTypeProcessSupportDoc, "doc-1"))

	require.Len(t, events.published, 1)
	published := events.published[0]
	assert.Equal(t, model.EventTypeDocumentProcessed, published.Type)
	require.NotNil(t, published.UserID)
	assert.Equal(t, "user-1", *published.UserID)

	var payload DocumentProcessedPayload
	require.NoError(t, json.Unmarshal(published.Payload, &payload))
	assert.Equal(t, "doc-1", payload.DocumentID)
	assert.Equal(t, model.RagTypeSupport, payload.RagType)
}

func TestDocumentService_Process_EventTypePerJobType(t *testing.T) {
	tests := []struct {
		jobType   model.JobType
		ragType   model.RagType
		eventType string
	}{
		{model.JobTypeProcessSupportDoc, model.RagTypeSupport, model.EventTypeDocumentProcessed},
		{model.JobTypeProcessResume, model.RagTypeResume, model.EventTypeResumeAnalysisDone},
		{model.JobTypeProcessExpenseCSV, model.RagTypeExpense, model.EventTypeExpenseSummaryReady},
	}

	for _, tt := range tests {
		t.Run(string(tt.jobType), func(t *testing.T) {
			ctrl := gomock.NewController(t)
			defer ctrl.Finish()

			docs := mocks.NewMockDocumentRepository(ctrl)
			pipeline := mocks.NewMockDocumentPipeline(ctrl)
			events := &stubEventPublisher{}

			svc, err := NewDocumentService(DocumentServiceOptions{
				DocumentRepo: docs,
				Pipeline:     pipeline,
				Events:       events,
			})
			require.NoError(t, err)

			doc := testDocument(tt.ragType)
			docs.EXPECT().GetByID(gomock.Any(), "doc-1").Return(doc, nil)
			docs.EXPECT().SetStatus(gomock.Any(), "doc-1", model.DocumentStatusProcessing).Return(nil)
			pipeline.EXPECT().ExtractText(gomock.Any(), doc).Return("text", nil)
			pipeline.EXPECT().DeleteDocument(gomock.Any(), gomock.Any()).Return(nil)
			pipeline.EXPECT().UpsertDocument(gomock.Any(), gomock.Any(), "text").Return(nil)
			docs.EXPECT().MarkReady(gomock.Any(), "doc-1").Return(nil)

			require.NoError(t, svc.Process(context.Background(), tt.jobType, "doc-1"))

			require.Len(t, events.published, 1)
			assert.Equal(t, tt.eventType, events.published[0].Type)
		})
	}
}

func TestDocumentService_Process_MissingDocumentIsNonRetryable(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	docs := mocks.NewMockDocumentRepository(ctrl)
	pipeline := mocks.NewMockDocumentPipeline(ctrl)
	events := &stubEventPublisher{}

	svc, err := NewDocumentService(DocumentServiceOptions{
		DocumentRepo: docs,
		Pipeline:     pipeline,
		Events:       events,
	})
	require.NoError(t, err)

	// The repo sentinel must read as not-found so the job settles instead
	// of retrying against a row that no longer exists.
	docs.EXPECT().GetByID(gomock.Any(), "doc-1").Return(nil, data.ErrDocumentNotFound)

	err = svc.Process(context.Background(), model.JobTypeProcessSupportDoc, "doc-1")
	require.Error(t, err)
	assert.True(t, apperrors.IsNonRetryable(err))
	assert.Empty(t, events.published)
}

func TestDocumentService_Process_RagTypeMismatchIsNonRetryable(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	docs := mocks.NewMockDocumentRepository(ctrl)
	pipeline := mocks.NewMockDocumentPipeline(ctrl)
	events := &stubEventPublisher{}

	svc, err := NewDocumentService(DocumentServiceOptions{
		DocumentRepo: docs,
		Pipeline:     pipeline,
		Events:       events,
	})
	require.NoError(t, err)

	// A resume document reached a support-doc job
	docs.EXPECT().GetByID(gomock.Any(), "doc-1").Return(testDocument(model.RagTypeResume), nil)

	err = svc.Process(context.Background(), model.JobTypeProcessSupportDoc, "doc-1")
	require.Error(t, err)
	assert.True(t, apperrors.IsNonRetryable(err))
}

func TestDocumentService_Process_ExtractionFailureRecordsAndRetries(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	docs := mocks.NewMockDocumentRepository(ctrl)
	pipeline := mocks.NewMockDocumentPipeline(ctrl)
	events := &stubEventPublisher{}

	svc, err := NewDocumentService(DocumentServiceOptions{
		DocumentRepo: docs,
		Pipeline:     pipeline,
		Events:       events,
	})
	require.NoError(t, err)

	doc := testDocument(model.RagTypeSupport)
	docs.EXPECT().GetByID(gomock.Any(), "doc-1").Return(doc, nil)
	docs.EXPECT().SetStatus(gomock.Any(), "doc-1", model.DocumentStatusProcessing).Return(nil)
	pipeline.EXPECT().ExtractText(gomock.Any(), doc).Return("", errors.New("ocr timeout"))
	docs.EXPECT().
		MarkFailed(gomock.Any(), "doc-1", gomock.Any()).
		DoAndReturn(func(_ context.Context, _ string, reason string) error {
			assert.Contains(t, reason, "ocr timeout")
			return nil
		})

	err = svc.Process(context.Background(), model.JobTypeProcessSupportDoc, "doc-1")
	require.Error(t, err)
	// Extraction failures stay retryable
	assert.False(t, apperrors.IsNonRetryable(err))
	assert.Empty(t, events.published)
}

func TestDocumentService_Process_OversizedPDFFailsWithoutRetry(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	docs := mocks.NewMockDocumentRepository(ctrl)
	pipeline := mocks.NewMockDocumentPipeline(ctrl)
	events := &stubEventPublisher{}

	svc, err := NewDocumentService(DocumentServiceOptions{
		DocumentRepo: docs,
		Pipeline:     pipeline,
		Events:       events,
		MaxPDFBytes:  1 << 20,
	})
	require.NoError(t, err)

	doc := testDocument(model.RagTypeSupport)
	doc.FileType = "application/pdf"
	doc.FileSize = 2 << 20

	docs.EXPECT().GetByID(gomock.Any(), "doc-1").Return(doc, nil)
	docs.EXPECT().SetStatus(gomock.Any(), "doc-1", model.DocumentStatusProcessing).Return(nil)
	docs.EXPECT().
		MarkFailed(gomock.Any(), "doc-1", gomock.Any()).
		DoAndReturn(func(_ context.Context, _ string, reason string) error {
			assert.Contains(t, reason, "PDF too large")
			return nil
		})

	err = svc.Process(context.Background(), model.JobTypeProcessSupportDoc, "doc-1")
	require.Error(t, err)
	assert.True(t, apperrors.IsNonRetryable(err))
	assert.Empty(t, events.published)
}

func TestDocumentService_Process_EmptyExtractionFailsWithoutRetry(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	docs := mocks.NewMockDocumentRepository(ctrl)
	pipeline := mocks.NewMockDocumentPipeline(ctrl)
	events := &stubEventPublisher{}

	svc, err := NewDocumentService(DocumentServiceOptions{
		DocumentRepo: docs,
		Pipeline:     pipeline,
		Events:       events,
	})
	require.NoError(t, err)

	doc := testDocument(model.RagTypeSupport)
	docs.EXPECT().GetByID(gomock.Any(), "doc-1").Return(doc, nil)
	docs.EXPECT().SetStatus(gomock.Any(), "doc-1", model.DocumentStatusProcessing).Return(nil)
	pipeline.EXPECT().ExtractText(gomock.Any(), doc).Return("  \n ", nil)
	docs.EXPECT().
		MarkFailed(gomock.Any(), "doc-1", gomock.Any()).
		DoAndReturn(func(_ context.Context, _ string, reason string) error {
			assert.Contains(t, reason, "no text extracted")
			return nil
		})

	err = svc.Process(context.Background(), model.JobTypeProcessSupportDoc, "doc-1")
	require.Error(t, err)
	assert.True(t, apperrors.IsNonRetryable(err))
	assert.Empty(t, events.published)
}

func TestDocumentService_Process_IndexCleanupFailureRetries(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	docs := mocks.NewMockDocumentRepository(ctrl)
	pipeline := mocks.NewMockDocumentPipeline(ctrl)
	events := &stubEventPublisher{}

	svc, err := NewDocumentService(DocumentServiceOptions{
		DocumentRepo: docs,
		Pipeline:     pipeline,
		Events:       events,
	})
	require.NoError(t, err)

	doc := testDocument(model.RagTypeSupport)
	key := model.DocumentKey{DocumentID: "doc-1", UserID: "user-1", RagType: model.RagTypeSupport}

	docs.EXPECT().GetByID(gomock.Any(), "doc-1").Return(doc, nil)
	docs.EXPECT().SetStatus(gomock.Any(), "doc-1", model.DocumentStatusProcessing).Return(nil)
	pipeline.EXPECT().ExtractText(gomock.Any(), doc).Return("text", nil)
	pipeline.EXPECT().DeleteDocument(gomock.Any(), key).Return(errors.New("index unavailable"))
	docs.EXPECT().MarkFailed(gomock.Any(), "doc-1", gomock.Any()).Return(nil)

	err = svc.Process(context.Background(), model.JobTypeProcessSupportDoc, "doc-1")
	require.Error(t, err)
	assert.False(t, apperrors.IsNonRetryable(err))
	assert.Empty(t, events.published)
}

func TestDocumentService_Process_UnknownJobType(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	svc, err := NewDocumentService(DocumentServiceOptions{
		DocumentRepo: mocks.NewMockDocumentRepository(ctrl),
		Pipeline:     mocks.NewMockDocumentPipeline(ctrl),
		Events:       &stubEventPublisher{},
	})
	require.NoError(t, err)

	err = svc.Process(context.Background(), model.JobTypeDeliverWebhook, "doc-1")
	require.Error(t, err)
	assert.True(t, apperrors.IsNonRetryable(err))
}
