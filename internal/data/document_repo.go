package data

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	apperrors "github.com/docchat/docchat-go/internal/errors"

	"github.com/docchat/docchat-go/internal/domain/model"
)

// ErrDocumentNotFound is returned when a document is not found. It carries the
// not_found code so apperrors.IsNotFound matches it across wrap chains.
var ErrDocumentNotFound error = apperrors.NotFound("document not found")

// DocumentRepo provides the document state operations owned by the job handlers.
type DocumentRepo struct {
	DB    *sql.DB
	clock Clock
}

// NewDocumentRepo creates a new DocumentRepo instance.
func NewDocumentRepo(db *sql.DB, clock Clock) *DocumentRepo {
	if clock == nil {
		clock = SystemClock{}
	}
	return &DocumentRepo{DB: db, clock: clock}
}

const documentColumns = `
  id,
  user_id,
  rag_type,
  file_path,
  file_type,
  file_size,
  status,
  error_message,
  created_at,
  updated_at
`

// GetByID retrieves a document by its ID.
func (r *DocumentRepo) GetByID(ctx context.Context, id string) (*model.Document, error) {
	doc := &model.Document{}
	var errorMessage sql.NullString

	err := r.DB.QueryRowContext(ctx, `
		SELECT `+documentColumns+`
		FROM documents
		WHERE id = $1
	`, id).Scan(
		&doc.ID,
		&doc.UserID,
		&doc.RagType,
		&doc.FilePath,
		&doc.FileType,
		&doc.FileSize,
		&doc.Status,
		&errorMessage,
		&doc.CreatedAt,
		&doc.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrDocumentNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get document: %w", err)
	}

	doc.ErrorMessage = cloneNullableString(errorMessage)
	return doc, nil
}

// SetStatus updates a document's processing status.
func (r *DocumentRepo) SetStatus(ctx context.Context, id string, status model.DocumentStatus) error {
	if !status.Valid() {
		return fmt.Errorf("invalid document status: %s", status)
	}

	res, err := r.DB.ExecContext(ctx, `
		UPDATE documents
		SET status = $2,
		    updated_at = $3
		WHERE id = $1
	`, id, status, r.clock.Now().UTC())
	if err != nil {
		return fmt.Errorf("set document status: %w", err)
	}
	return requireDocumentRow(res)
}

// MarkReady sets status ready and clears any previous error message.
func (r *DocumentRepo) MarkReady(ctx context.Context, id string) error {
	res, err := r.DB.ExecContext(ctx, `
		UPDATE documents
		SET status = 'ready',
		    error_message = NULL,
		    updated_at = $2
		WHERE id = $1
	`, id, r.clock.Now().UTC())
	if err != nil {
		return fmt.Errorf("mark document ready: %w", err)
	}
	return requireDocumentRow(res)
}

// MarkFailed sets status failed and records the failure reason.
func (r *DocumentRepo) MarkFailed(ctx context.Context, id, errMsg string) error {
	res, err := r.DB.ExecContext(ctx, `
		UPDATE documents
		SET status = 'failed',
		    error_message = $2,
		    updated_at = $3
		WHERE id = $1
	`, id, errMsg, r.clock.Now().UTC())
	if err != nil {
		return fmt.Errorf("mark document failed: %w", err)
	}
	return requireDocumentRow(res)
}

func requireDocumentRow(res sql.Result) error {
	rowsAffected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return ErrDocumentNotFound
	}
	return nil
}
