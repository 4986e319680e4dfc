package postgres

import (
	"context"
	"database/sql"
	"fmt"

	"bankline/internal/domain/account"

	"github.com/shopspring/decimal"
)

const accountColumns = `id, item_id, user_id, name, mask, type, subtype, currency,
	available_balance, current_balance, funding_source_url, number_of_transfers, created_at, updated_at`

// AccountRepository implements the account.Repository interface for PostgreSQL
type AccountRepository struct {
	db *DB
}

// NewAccountRepository creates a new PostgreSQL account repository
func NewAccountRepository(db *DB) *AccountRepository {
	return &AccountRepository{db: db}
}

func scanAccount(row rowScanner) (*account.Account, error) {
	var acc account.Account
	var mask, subtype, fundingURL sql.NullString
	var available, current decimal.NullDecimal

	err := row.Scan(
		&acc.ID, &acc.ItemID, &acc.UserID, &acc.Name, &mask, &acc.Type, &subtype, &acc.Currency,
		&available, &current, &fundingURL, &acc.NumberOfTransfers, &acc.CreatedAt, &acc.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	acc.Mask = mask.String
	acc.Subtype = subtype.String
	acc.FundingSourceURL = fundingURL.String
	if available.Valid {
		acc.AvailableBalance = &available.Decimal
	}
	if current.Valid {
		acc.CurrentBalance = &current.Decimal
	}
	return &acc, nil
}

// Upsert creates an account or refreshes the one the aggregator reported
// earlier. Transfer counters survive the refresh.
func (r *AccountRepository) Upsert(ctx context.Context, params account.CreateParams) (*account.Account, error) {
	query := `
		INSERT INTO accounts (id, item_id, user_id, name, mask, type, subtype, currency,
		                      available_balance, current_balance, funding_source_url)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (id) DO UPDATE SET
			item_id = EXCLUDED.item_id,
			name = EXCLUDED.name,
			mask = EXCLUDED.mask,
			type = EXCLUDED.type,
			subtype = EXCLUDED.subtype,
			currency = EXCLUDED.currency,
			available_balance = EXCLUDED.available_balance,
			current_balance = EXCLUDED.current_balance,
			funding_source_url = COALESCE(EXCLUDED.funding_source_url, accounts.funding_source_url),
			updated_at = NOW()
		RETURNING ` + accountColumns

	acc, err := scanAccount(r.db.conn(ctx).QueryRowContext(ctx, query,
		params.ID, params.ItemID, params.UserID, params.Name, nullString(params.Mask), params.Type,
		nullString(params.Subtype), params.Currency, nullDecimal(params.AvailableBalance),
		nullDecimal(params.CurrentBalance), nullString(params.FundingSourceURL),
	))
	if err != nil {
		return nil, fmt.Errorf("failed to upsert account: %w", err)
	}
	return acc, nil
}

// GetByID retrieves an account by its ID
func (r *AccountRepository) GetByID(ctx context.Context, id string) (*account.Account, error) {
	query := `SELECT ` + accountColumns + ` FROM accounts WHERE id = $1`

	acc, err := scanAccount(r.db.conn(ctx).QueryRowContext(ctx, query, id))
	if err == sql.ErrNoRows {
		return nil, account.ErrAccountNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get account: %w", err)
	}
	return acc, nil
}

// ListByItemID retrieves the accounts surfaced by one item
func (r *AccountRepository) ListByItemID(ctx context.Context, itemID int64) ([]*account.Account, error) {
	query := `SELECT ` + accountColumns + ` FROM accounts WHERE item_id = $1 ORDER BY name`
	return r.list(ctx, query, itemID)
}

// ListByUserID retrieves all accounts for a specific user
func (r *AccountRepository) ListByUserID(ctx context.Context, userID int64) ([]*account.Account, error) {
	query := `SELECT ` + accountColumns + ` FROM accounts WHERE user_id = $1 ORDER BY item_id, name`
	return r.list(ctx, query, userID)
}

// UpdateBalances overwrites the balance snapshot with figures fetched from
// the aggregator.
func (r *AccountRepository) UpdateBalances(ctx context.Context, id string, available, current *decimal.Decimal) (*account.Account, error) {
	query := `
		UPDATE accounts
		SET available_balance = $2, current_balance = $3, updated_at = NOW()
		WHERE id = $1
		RETURNING ` + accountColumns

	acc, err := scanAccount(r.db.conn(ctx).QueryRowContext(ctx, query, id, nullDecimal(available), nullDecimal(current)))
	if err == sql.ErrNoRows {
		return nil, account.ErrAccountNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to update account balances: %w", err)
	}
	return acc, nil
}

func (r *AccountRepository) list(ctx context.Context, query string, arg any) ([]*account.Account, error) {
	rows, err := r.db.conn(ctx).QueryContext(ctx, query, arg)
	if err != nil {
		return nil, fmt.Errorf("failed to list accounts: %w", err)
	}
	defer rows.Close()

	var accounts []*account.Account
	for rows.Next() {
		acc, err := scanAccount(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan account: %w", err)
		}
		accounts = append(accounts, acc)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating accounts: %w", err)
	}
	return accounts, nil
}

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func nullDecimal(d *decimal.Decimal) decimal.NullDecimal {
	if d == nil {
		return decimal.NullDecimal{}
	}
	return decimal.NullDecimal{Decimal: *d, Valid: true}
}
