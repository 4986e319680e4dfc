package account

import (
	"context"
	"errors"
	"fmt"
)

const defaultCurrency = "USD"

// Service contains the business logic for account operations
type Service struct {
	repo     Repository
	balances BalanceSource
	items    ItemLookup
}

// NewService creates a new account service
func NewService(repo Repository) *Service {
	return &Service{repo: repo}
}

// CreateForItem stores every account of a newly linked item. It runs inside
// the caller's transaction when ctx carries one.
func (s *Service) CreateForItem(ctx context.Context, params []CreateParams) ([]*Account, error) {
	accounts := make([]*Account, 0, len(params))
	for _, p := range params {
		if p.Currency == "" {
			p.Currency = defaultCurrency
		}
		if err := p.Validate(); err != nil {
			return nil, fmt.Errorf("%w: account %s: %v", ErrInvalidInput, p.ID, err)
		}
		acc, err := s.repo.Upsert(ctx, p)
		if err != nil {
			return nil, err
		}
		accounts = append(accounts, acc)
	}
	return accounts, nil
}

// GetAccount retrieves an account by ID and verifies user ownership
func (s *Service) GetAccount(ctx context.Context, accountID string, userID int64) (*Account, error) {
	account, err := s.repo.GetByID(ctx, accountID)
	if err != nil {
		return nil, err
	}

	// Business rule: verify ownership
	if account.UserID != userID {
		return nil, ErrForbidden
	}

	return account, nil
}

// ListAccountsByUserID retrieves all accounts for a specific user
func (s *Service) ListAccountsByUserID(ctx context.Context, userID int64) ([]*Account, error) {
	if userID <= 0 {
		return nil, errors.New("valid user ID is required")
	}

	return s.repo.ListByUserID(ctx, userID)
}

// ListAccountsByItemID lists an item's accounts. Item ownership is checked by the caller.
func (s *Service) ListAccountsByItemID(ctx context.Context, itemID int64) ([]*Account, error) {
	return s.repo.ListByItemID(ctx, itemID)
}
