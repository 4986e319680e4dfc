package postgres

import (
	"context"
	"fmt"

	"bankline/internal/domain/linkevent"
)

type LinkEventRepository struct {
	db *DB
}

func NewLinkEventRepository(db *DB) *LinkEventRepository {
	return &LinkEventRepository{db: db}
}

func (r *LinkEventRepository) Create(ctx context.Context, e *linkevent.Event) (*linkevent.Event, error) {
	query := `
		INSERT INTO link_events (type, user_id, link_session_id, request_id, error_type, error_code, status)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id, created_at
	`

	out := *e
	err := r.db.conn(ctx).QueryRowContext(ctx, query,
		e.Type, e.UserID, e.LinkSessionID, nullString(e.RequestID),
		nullString(e.ErrorType), nullString(e.ErrorCode), nullString(e.Status),
	).Scan(&out.ID, &out.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to create link event: %w", err)
	}
	return &out, nil
}
