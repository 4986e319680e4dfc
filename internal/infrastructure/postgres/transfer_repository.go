package postgres

import (
	"context"
	"database/sql"
	"fmt"

	"bankline/internal/domain/transfer"

	"github.com/shopspring/decimal"
)

const transferColumns = `id, user_id, item_id, account_id, amount, risk_outcome, risk_payload, processor_ref, status, reason, created_at`

// TransferRepository is the transfer ledger, app funds included.
type TransferRepository struct {
	db *DB
}

func NewTransferRepository(db *DB) *TransferRepository {
	return &TransferRepository{db: db}
}

func scanTransfer(row rowScanner) (*transfer.Transfer, error) {
	var t transfer.Transfer
	var outcome, processorRef, reason sql.NullString
	var payload []byte

	err := row.Scan(
		&t.ID, &t.UserID, &t.ItemID, &t.AccountID, &t.Amount, &outcome, &payload,
		&processorRef, &t.Status, &reason, &t.CreatedAt,
	)
	if err != nil {
		return nil, err
	}

	t.RiskOutcome = outcome.String
	t.Reason = reason.String
	if len(payload) > 0 {
		t.RiskPayload = payload
	}
	if processorRef.Valid {
		t.ProcessorRef = &processorRef.String
	}
	return &t, nil
}

func (r *TransferRepository) Insert(ctx context.Context, t *transfer.Transfer) error {
	var payload any
	if len(t.RiskPayload) > 0 {
		payload = []byte(t.RiskPayload)
	}
	var processorRef sql.NullString
	if t.ProcessorRef != nil {
		processorRef = sql.NullString{String: *t.ProcessorRef, Valid: true}
	}

	_, err := r.db.conn(ctx).ExecContext(ctx, `
		INSERT INTO transfers (id, user_id, item_id, account_id, amount, risk_outcome, risk_payload,
		                       processor_ref, status, reason, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		t.ID, t.UserID, t.ItemID, t.AccountID, t.Amount, nullString(t.RiskOutcome), payload,
		processorRef, t.Status, nullString(t.Reason), t.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert transfer: %w", err)
	}
	return nil
}

func (r *TransferRepository) GetByID(ctx context.Context, id string) (*transfer.Transfer, error) {
	query := `SELECT ` + transferColumns + ` FROM transfers WHERE id::text = $1`

	t, err := scanTransfer(r.db.conn(ctx).QueryRowContext(ctx, query, id))
	if err == sql.ErrNoRows {
		return nil, transfer.ErrTransferNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get transfer: %w", err)
	}
	return t, nil
}

func (r *TransferRepository) ListByUserID(ctx context.Context, userID int64, limit int) ([]*transfer.Transfer, error) {
	query := `
		SELECT ` + transferColumns + `
		FROM transfers
		WHERE user_id = $1
		ORDER BY created_at DESC
		LIMIT $2
	`

	rows, err := r.db.conn(ctx).QueryContext(ctx, query, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list transfers: %w", err)
	}
	defer rows.Close()

	var transfers []*transfer.Transfer
	for rows.Next() {
		t, err := scanTransfer(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan transfer: %w", err)
		}
		transfers = append(transfers, t)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating transfers: %w", err)
	}
	return transfers, nil
}

func (r *TransferRepository) GetAppFund(ctx context.Context, userID int64) (*transfer.AppFund, error) {
	var f transfer.AppFund
	err := r.db.conn(ctx).QueryRowContext(ctx,
		`SELECT user_id, balance, updated_at FROM app_funds WHERE user_id = $1`,
		userID,
	).Scan(&f.UserID, &f.Balance, &f.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get app fund: %w", err)
	}
	return &f, nil
}

// CreditAppFund is a single upsert so concurrent credits never lose an
// increment.
func (r *TransferRepository) CreditAppFund(ctx context.Context, userID int64, amount decimal.Decimal) (*transfer.AppFund, error) {
	query := `
		INSERT INTO app_funds (user_id, balance)
		VALUES ($1, $2)
		ON CONFLICT (user_id) DO UPDATE
			SET balance = app_funds.balance + EXCLUDED.balance,
			    updated_at = NOW()
		RETURNING user_id, balance, updated_at
	`

	var f transfer.AppFund
	err := r.db.conn(ctx).QueryRowContext(ctx, query, userID, amount).Scan(&f.UserID, &f.Balance, &f.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to credit app fund: %w", err)
	}
	return &f, nil
}

func (r *TransferRepository) IncrementAccountTransfers(ctx context.Context, accountID string) error {
	_, err := r.db.conn(ctx).ExecContext(ctx,
		`UPDATE accounts SET number_of_transfers = number_of_transfers + 1, updated_at = NOW() WHERE id = $1`,
		accountID,
	)
	if err != nil {
		return fmt.Errorf("failed to increment account transfers: %w", err)
	}
	return nil
}

func (r *TransferRepository) LockAccount(ctx context.Context, accountID string) error {
	return r.db.lockKey(ctx, "account:"+accountID)
}

func (r *TransferRepository) ReserveBalance(ctx context.Context, accountID string, amount decimal.Decimal) (bool, error) {
	result, err := r.db.conn(ctx).ExecContext(ctx, `
		UPDATE accounts
		SET available_balance = available_balance - $2, updated_at = NOW()
		WHERE id = $1 AND available_balance >= $2`,
		accountID, amount,
	)
	if err != nil {
		return false, fmt.Errorf("failed to reserve balance: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get affected rows: %w", err)
	}
	return rows == 1, nil
}

func (r *TransferRepository) ReleaseBalance(ctx context.Context, accountID string, amount decimal.Decimal) error {
	_, err := r.db.conn(ctx).ExecContext(ctx, `
		UPDATE accounts
		SET available_balance = available_balance + $2, updated_at = NOW()
		WHERE id = $1 AND available_balance IS NOT NULL`,
		accountID, amount,
	)
	if err != nil {
		return fmt.Errorf("failed to release balance: %w", err)
	}
	return nil
}
