package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/docchat/docchat-go/internal/core"
	"github.com/docchat/docchat-go/internal/domain/model"
	apperrors "github.com/docchat/docchat-go/internal/errors"
)

// documentRoute maps a document job type to the corpus it indexes into and
// the event announced on success.
type documentRoute struct {
	ragType   model.RagType
	eventType string
}

var documentRoutes = map[model.JobType]documentRoute{
	model.JobTypeProcessSupportDoc: {
		ragType:   model.RagTypeSupport,
		eventType: model.EventTypeDocumentProcessed,
	},
	model.JobTypeProcessResume: {
		ragType:   model.RagTypeResume,
		eventType: model.EventTypeResumeAnalysisDone,
	},
	model.JobTypeProcessExpenseCSV: {
		ragType:   model.RagTypeExpense,
		eventType: model.EventTypeExpenseSummaryReady,
	},
}

// DocumentProcessedPayload is the payload of the events announced when a
// document finishes processing.
type DocumentProcessedPayload struct {
	DocumentID string        `json:"documentId"`
	UserID     string        `json:"userId"`
	RagType    model.RagType `json:"ragType"`
	FileType   string        `json:"fileType"`
}

// EventPublisher records a domain event and schedules its fan-out.
// Satisfied by EventService.
type EventPublisher interface {
	Publish(ctx context.Context, req *model.PublishEventRequest) (*model.Event, error)
}

const (
	pdfFileType        = "application/pdf"
	defaultMaxPDFBytes = 4 << 20
)

// DocumentServiceOptions groups dependencies for DocumentService.
type DocumentServiceOptions struct {
	DocumentRepo core.DocumentRepository // Required: document state transitions
	Pipeline     core.DocumentPipeline   // Required: extraction and index
	Events       EventPublisher          // Required: success event publishing
	MaxPDFBytes  int64                   // Optional: PDF size ceiling, defaults to 4MB
	Logger       *slog.Logger            // Optional: structured logger
}

// DocumentService runs the document processing flow behind the three
// document job types: flip the document to processing, extract its text,
// upsert it into the search index, mark it ready, and publish the matching
// domain event.
type DocumentService struct {
	documentRepo core.DocumentRepository
	pipeline     core.DocumentPipeline
	events       EventPublisher
	maxPDFBytes  int64
	logger       *slog.Logger
}

// NewDocumentService constructs a new DocumentService.
func NewDocumentService(opts DocumentServiceOptions) (*DocumentService, error) {
	if opts.DocumentRepo == nil {
		return nil, errors.New("DocumentRepository is required")
	}
	if opts.Pipeline == nil {
		return nil, errors.New("DocumentPipeline is required")
	}
	if opts.Events == nil {
		return nil, errors.New("EventService is required")
	}

	var logger *slog.Logger
	if opts.Logger != nil {
		logger = opts.Logger.With("component", "document_service")
	}

	maxPDFBytes := opts.MaxPDFBytes
	if maxPDFBytes <= 0 {
		maxPDFBytes = defaultMaxPDFBytes
	}

	return &DocumentService{
		documentRepo: opts.DocumentRepo,
		pipeline:     opts.Pipeline,
		events:       opts.Events,
		maxPDFBytes:  maxPDFBytes,
		logger:       logger,
	}, nil
}

// Process handles one document job. Failures before the document is marked
// ready record the reason on the document row; the returned error then drives
// the job retry decision upstream.
func (s *DocumentService) Process(ctx context.Context, jobType model.JobType, documentID string) error {
	route, ok := documentRoutes[jobType]
	if !ok {
		return apperrors.NonRetryablef("job type %s is not a document job", jobType)
	}

	doc, err := s.documentRepo.GetByID(ctx, documentID)
	if err != nil {
		if apperrors.IsNotFound(err) {
			// The document was deleted after the job was enqueued. Retrying
			// cannot bring it back.
			return apperrors.NonRetryablef("document %s not found", documentID)
		}
		return fmt.Errorf("load document %s: %w", documentID, err)
	}

	if doc.RagType != route.ragType {
		return apperrors.NonRetryablef(
			"document %s has rag type %s, job %s expects %s",
			documentID, doc.RagType, jobType, route.ragType,
		)
	}

	if err := s.documentRepo.SetStatus(ctx, documentID, model.DocumentStatusProcessing); err != nil {
		return fmt.Errorf("mark document %s processing: %w", documentID, err)
	}

	if doc.FileType == pdfFileType && doc.FileSize > s.maxPDFBytes {
		reason := fmt.Sprintf("PDF too large (max %dMB)", s.maxPDFBytes>>20)
		s.recordFailure(ctx, documentID, reason)
		return apperrors.NonRetryablef("document %s: %s", documentID, reason)
	}

	text, err := s.pipeline.ExtractText(ctx, doc)
	if err != nil {
		s.recordFailure(ctx, documentID, fmt.Sprintf("text extraction failed: %v", err))
		return fmt.Errorf("extract text for document %s: %w", documentID, err)
	}
	if strings.TrimSpace(text) == "" {
		reason := "no text extracted from document"
		s.recordFailure(ctx, documentID, reason)
		return apperrors.NonRetryablef("document %s: %s", documentID, reason)
	}

	key := model.DocumentKey{
		DocumentID: doc.ID,
		UserID:     doc.UserID,
		RagType:    doc.RagType,
	}

	// Drop any chunks from a previous run so a re-processed document does not
	// leave stale entries behind in the index.
	if err := s.pipeline.DeleteDocument(ctx, key); err != nil {
		s.recordFailure(ctx, documentID, fmt.Sprintf("index cleanup failed: %v", err))
		return fmt.Errorf("clear index for document %s: %w", documentID, err)
	}

	if err := s.pipeline.UpsertDocument(ctx, key, text); err != nil {
		s.recordFailure(ctx, documentID, fmt.Sprintf("index upsert failed: %v", err))
		return fmt.Errorf("index document %s: %w", documentID, err)
	}

	if err := s.documentRepo.MarkReady(ctx, documentID); err != nil {
		return fmt.Errorf("mark document %s ready: %w", documentID, err)
	}

	payload, err := json.Marshal(DocumentProcessedPayload{
		DocumentID: doc.ID,
		UserID:     doc.UserID,
		RagType:    doc.RagType,
		FileType:   doc.FileType,
	})
	if err != nil {
		return fmt.Errorf("marshal event payload for document %s: %w", documentID, err)
	}

	userID := doc.UserID
	if _, err := s.events.Publish(ctx, &model.PublishEventRequest{
		Type:    route.eventType,
		Payload: payload,
		UserID:  &userID,
	}); err != nil {
		return fmt.Errorf("publish %s for document %s: %w", route.eventType, documentID, err)
	}

	if s.logger != nil {
		s.logger.InfoContext(ctx, "document processed",
			"document_id", documentID,
			"rag_type", doc.RagType,
			"event_type", route.eventType,
		)
	}

	return nil
}

// recordFailure best-effort records a processing failure on the document row.
// The job's own failure path is the source of truth for retries.
func (s *DocumentService) recordFailure(ctx context.Context, documentID, reason string) {
	if err := s.documentRepo.MarkFailed(ctx, documentID, reason); err != nil && s.logger != nil {
		s.logger.WarnContext(ctx, "failed to record document failure",
			"document_id", documentID,
			"error", err,
		)
	}
}
