package account

import (
	"context"

	"github.com/shopspring/decimal"
)

// Repository defines the interface for account data access
// This interface is defined in the domain layer, but implemented in the infrastructure layer
type Repository interface {
	// Upsert creates or refreshes an account keyed by its aggregator id
	Upsert(ctx context.Context, params CreateParams) (*Account, error)

	// GetByID retrieves an account by its ID
	GetByID(ctx context.Context, id string) (*Account, error)

	// ListByItemID retrieves the accounts surfaced by one item
	ListByItemID(ctx context.Context, itemID int64) ([]*Account, error)

	// ListByUserID retrieves all accounts for a specific user
	ListByUserID(ctx context.Context, userID int64) ([]*Account, error)

	// UpdateBalances overwrites the stored balance snapshot
	UpdateBalances(ctx context.Context, id string, available, current *decimal.Decimal) (*Account, error)
}
