package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"time"

	"bankline/internal/domain/linktoken"
)

const linkTokenColumns = `value, user_id, item_id, issued_at, expires_at, consumed_at`

type LinkTokenRepository struct {
	db *DB
}

func NewLinkTokenRepository(db *DB) *LinkTokenRepository {
	return &LinkTokenRepository{db: db}
}

func scanLinkToken(row rowScanner) (*linktoken.LinkToken, error) {
	var t linktoken.LinkToken
	var itemID sql.NullInt64
	var consumedAt sql.NullTime

	if err := row.Scan(&t.Value, &t.UserID, &itemID, &t.IssuedAt, &t.ExpiresAt, &consumedAt); err != nil {
		return nil, err
	}
	if itemID.Valid {
		t.ItemID = &itemID.Int64
	}
	if consumedAt.Valid {
		t.ConsumedAt = &consumedAt.Time
	}
	return &t, nil
}

func linkTokenKey(userID int64, itemID *int64) string {
	target := "0"
	if itemID != nil {
		target = strconv.FormatInt(*itemID, 10)
	}
	return "linktoken:" + strconv.FormatInt(userID, 10) + ":" + target
}

// DeleteUnconsumed takes a transaction-scoped advisory lock on the
// (user, item) key before deleting, so a concurrent issuer waits for this
// transaction and then sees its token.
func (r *LinkTokenRepository) DeleteUnconsumed(ctx context.Context, userID int64, itemID *int64) error {
	if err := r.db.lockKey(ctx, linkTokenKey(userID, itemID)); err != nil {
		return err
	}

	var target sql.NullInt64
	if itemID != nil {
		target = sql.NullInt64{Int64: *itemID, Valid: true}
	}

	_, err := r.db.conn(ctx).ExecContext(ctx, `
		DELETE FROM link_tokens
		WHERE user_id = $1 AND item_id IS NOT DISTINCT FROM $2 AND consumed_at IS NULL`,
		userID, target,
	)
	if err != nil {
		return fmt.Errorf("failed to delete unconsumed link tokens: %w", err)
	}
	return nil
}

func (r *LinkTokenRepository) Insert(ctx context.Context, t *linktoken.LinkToken) error {
	var itemID sql.NullInt64
	if t.ItemID != nil {
		itemID = sql.NullInt64{Int64: *t.ItemID, Valid: true}
	}

	_, err := r.db.conn(ctx).ExecContext(ctx, `
		INSERT INTO link_tokens (value, user_id, item_id, issued_at, expires_at)
		VALUES ($1, $2, $3, $4, $5)`,
		t.Value, t.UserID, itemID, t.IssuedAt, t.ExpiresAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert link token: %w", err)
	}
	return nil
}

func (r *LinkTokenRepository) Get(ctx context.Context, value string) (*linktoken.LinkToken, error) {
	return r.get(ctx, `SELECT `+linkTokenColumns+` FROM link_tokens WHERE value = $1`, value)
}

func (r *LinkTokenRepository) GetForUpdate(ctx context.Context, value string) (*linktoken.LinkToken, error) {
	return r.get(ctx, `SELECT `+linkTokenColumns+` FROM link_tokens WHERE value = $1 FOR UPDATE`, value)
}

func (r *LinkTokenRepository) get(ctx context.Context, query, value string) (*linktoken.LinkToken, error) {
	t, err := scanLinkToken(r.db.conn(ctx).QueryRowContext(ctx, query, value))
	if err == sql.ErrNoRows {
		return nil, linktoken.ErrTokenNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get link token: %w", err)
	}
	return t, nil
}

func (r *LinkTokenRepository) MarkConsumed(ctx context.Context, value string, at time.Time) (bool, error) {
	result, err := r.db.conn(ctx).ExecContext(ctx,
		`UPDATE link_tokens SET consumed_at = $2 WHERE value = $1 AND consumed_at IS NULL`,
		value, at,
	)
	if err != nil {
		return false, fmt.Errorf("failed to consume link token: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get affected rows: %w", err)
	}
	return rows == 1, nil
}

func (r *LinkTokenRepository) DeleteStale(ctx context.Context, cutoff time.Time) (int64, error) {
	result, err := r.db.conn(ctx).ExecContext(ctx, `
		DELETE FROM link_tokens
		WHERE expires_at < $1 OR (consumed_at IS NOT NULL AND consumed_at < $1)`,
		cutoff,
	)
	if err != nil {
		return 0, fmt.Errorf("failed to delete stale link tokens: %w", err)
	}
	return result.RowsAffected()
}
