package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"bankline/internal/domain/item"
	"bankline/internal/infrastructure/crypto"
)

const itemColumns = `id, user_id, institution_id, institution_name, provider_item_id, access_token, state, created_at, updated_at`

// ItemRepository implements item.Repository. Access tokens are sealed
// before they reach the database.
type ItemRepository struct {
	db    *DB
	vault *crypto.Vault
}

func NewItemRepository(db *DB, vault *crypto.Vault) *ItemRepository {
	return &ItemRepository{db: db, vault: vault}
}

type rowScanner interface {
	Scan(dest ...any) error
}

func (r *ItemRepository) scan(row rowScanner) (*item.Item, error) {
	var it item.Item
	var institutionName sql.NullString
	var sealed string

	err := row.Scan(
		&it.ID, &it.UserID, &it.InstitutionID, &institutionName, &it.ProviderItemID,
		&sealed, &it.State, &it.CreatedAt, &it.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	it.InstitutionName = institutionName.String
	it.AccessToken, err = r.vault.Open(sealed, it.ProviderItemID)
	if err != nil {
		return nil, fmt.Errorf("failed to open access token for item %d: %w", it.ID, err)
	}
	return &it, nil
}

func (r *ItemRepository) scanOne(row rowScanner) (*item.Item, error) {
	it, err := r.scan(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, item.ErrItemNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get item: %w", err)
	}
	return it, nil
}

func (r *ItemRepository) Create(ctx context.Context, params item.CreateParams, state item.State) (*item.Item, error) {
	sealed, err := r.vault.Seal(params.AccessToken, params.ProviderItemID)
	if err != nil {
		return nil, fmt.Errorf("failed to seal access token: %w", err)
	}

	query := `
		INSERT INTO items (user_id, institution_id, institution_name, provider_item_id, access_token, state)
		VALUES ($1, $2, NULLIF($3, ''), $4, $5, $6)
		RETURNING ` + itemColumns

	it, err := r.scan(r.db.conn(ctx).QueryRowContext(ctx, query,
		params.UserID, params.InstitutionID, params.InstitutionName, params.ProviderItemID, sealed, state,
	))
	if err != nil {
		return nil, fmt.Errorf("failed to create item: %w", err)
	}
	return it, nil
}

func (r *ItemRepository) GetByID(ctx context.Context, id int64) (*item.Item, error) {
	query := `SELECT ` + itemColumns + ` FROM items WHERE id = $1`
	return r.scanOne(r.db.conn(ctx).QueryRowContext(ctx, query, id))
}

func (r *ItemRepository) GetByProviderItemID(ctx context.Context, providerItemID string) (*item.Item, error) {
	query := `SELECT ` + itemColumns + ` FROM items WHERE provider_item_id = $1`
	return r.scanOne(r.db.conn(ctx).QueryRowContext(ctx, query, providerItemID))
}

// GetForUpdate must run inside WithinTx for the row lock to hold.
func (r *ItemRepository) GetForUpdate(ctx context.Context, id int64) (*item.Item, error) {
	query := `SELECT ` + itemColumns + ` FROM items WHERE id = $1 FOR UPDATE`
	return r.scanOne(r.db.conn(ctx).QueryRowContext(ctx, query, id))
}

func (r *ItemRepository) ListByUserID(ctx context.Context, userID int64) ([]*item.Item, error) {
	query := `SELECT ` + itemColumns + ` FROM items WHERE user_id = $1 ORDER BY created_at DESC`

	rows, err := r.db.conn(ctx).QueryContext(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list items: %w", err)
	}
	defer rows.Close()

	var items []*item.Item
	for rows.Next() {
		it, err := r.scan(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan item: %w", err)
		}
		items = append(items, it)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating items: %w", err)
	}
	return items, nil
}

func (r *ItemRepository) UpdateState(ctx context.Context, id int64, state item.State) (*item.Item, error) {
	query := `
		UPDATE items SET state = $2, updated_at = NOW()
		WHERE id = $1
		RETURNING ` + itemColumns
	return r.scanOne(r.db.conn(ctx).QueryRowContext(ctx, query, id, state))
}

func (r *ItemRepository) Delete(ctx context.Context, id int64) error {
	result, err := r.db.conn(ctx).ExecContext(ctx, `DELETE FROM items WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete item: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get affected rows: %w", err)
	}
	if rows == 0 {
		return item.ErrItemNotFound
	}
	return nil
}
