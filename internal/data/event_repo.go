package data

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	apperrors "github.com/docchat/docchat-go/internal/errors"

	"github.com/docchat/docchat-go/internal/domain/model"
)

// ErrEventNotFound is returned when an event is not found. It carries the
// not_found code so apperrors.IsNotFound matches it across wrap chains.
var ErrEventNotFound error = apperrors.NotFound("event not found")

// EventRepo provides database operations for the append-only event log.
type EventRepo struct{ DB *sql.DB }

// NewEventRepo creates a new EventRepo instance.
func NewEventRepo(db *sql.DB) *EventRepo {
	return &EventRepo{DB: db}
}

const eventColumns = `
  id,
  type,
  payload,
  user_id,
  created_at
`

type eventRowScanner interface {
	Scan(dest ...any) error
}

func scanEventFromRow(scanner eventRowScanner) (*model.Event, error) {
	event := &model.Event{}
	var payload []byte
	var userID sql.NullString

	if err := scanner.Scan(
		&event.ID,
		&event.Type,
		&payload,
		&userID,
		&event.CreatedAt,
	); err != nil {
		return nil, err
	}

	event.Payload = cloneJSON(payload)
	event.UserID = cloneNullableString(userID)
	return event, nil
}

// CreateInTx inserts an event within an existing SQL transaction. The event
// insert is always paired with a dispatch job enqueue in the same
// transaction, so there is deliberately no standalone Create.
func (r *EventRepo) CreateInTx(
	ctx context.Context,
	sqlTx *sql.Tx,
	req *model.PublishEventRequest,
) (*model.Event, error) {
	if sqlTx == nil {
		return nil, errors.New("transaction is required")
	}
	if req == nil {
		return nil, errors.New("publish event request is required")
	}
	if validateErr := req.Validate(); validateErr != nil {
		return nil, validateErr
	}

	event, err := scanEventFromRow(sqlTx.QueryRowContext(ctx, `
		INSERT INTO events(type, payload, user_id)
		VALUES ($1, $2, $3)
		RETURNING `+eventColumns+`
	`, req.Type, []byte(req.Payload), req.UserID))
	if err != nil {
		return nil, fmt.Errorf("insert event: %w", apperrors.MapDBError(err))
	}
	return event, nil
}

// GetByID retrieves an event by its ID.
func (r *EventRepo) GetByID(ctx context.Context, id string) (*model.Event, error) {
	event, err := scanEventFromRow(r.DB.QueryRowContext(ctx, `
		SELECT `+eventColumns+`
		FROM events
		WHERE id = $1
	`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrEventNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get event: %w", err)
	}
	return event, nil
}

// List returns events newest first with offset pagination.
func (r *EventRepo) List(ctx context.Context, opts model.EventListOptions) ([]*model.Event, error) {
	limit := opts.Limit
	if limit <= 0 {
		limit = 50
	}
	offset := opts.Offset
	if offset < 0 {
		offset = 0
	}

	rows, err := r.DB.QueryContext(ctx, `
		SELECT `+eventColumns+`
		FROM events
		ORDER BY created_at DESC
		LIMIT $1 OFFSET $2
	`, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list events: %w", err)
	}
	defer rows.Close()

	var events []*model.Event
	for rows.Next() {
		event, scanErr := scanEventFromRow(rows)
		if scanErr != nil {
			return nil, fmt.Errorf("scan event: %w", scanErr)
		}
		events = append(events, event)
	}
	if rowsErr := rows.Err(); rowsErr != nil {
		return nil, fmt.Errorf("list events: %w", rowsErr)
	}
	return events, nil
}
