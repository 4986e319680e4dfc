package account

import (
	"context"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"

	"bankline/internal/domain/item"
)

// Balance is a point-in-time balance reported by the aggregator.
type Balance struct {
	AccountID string
	Available *decimal.Decimal
	Current   *decimal.Decimal
}

// BalanceSource fetches live balances for an item. An empty accountIDs asks
// for every account on the item.
type BalanceSource interface {
	GetBalances(ctx context.Context, accessToken string, accountIDs []string) ([]Balance, error)
}

// ItemLookup resolves an item the user owns.
type ItemLookup interface {
	GetOwnedItem(ctx context.Context, id, userID int64) (*item.Item, error)
}

// SetBalanceSource enables balance refreshes.
func (s *Service) SetBalanceSource(src BalanceSource, items ItemLookup) {
	s.balances = src
	s.items = items
}

// RefreshBalances pulls live balances for an item's accounts and overwrites
// the stored snapshot. Balances for accounts that were never stored locally
// are ignored.
func (s *Service) RefreshBalances(ctx context.Context, itemID, userID int64, accountIDs ...string) ([]*Account, error) {
	if s.balances == nil || s.items == nil {
		return nil, ErrBalanceUnavailable
	}

	it, err := s.items.GetOwnedItem(ctx, itemID, userID)
	if err != nil {
		return nil, err
	}
	for _, id := range accountIDs {
		acc, err := s.repo.GetByID(ctx, id)
		if err != nil {
			return nil, err
		}
		if acc.ItemID != itemID {
			return nil, fmt.Errorf("%w: account %s is not on item %d", ErrInvalidInput, id, itemID)
		}
	}

	balances, err := s.balances.GetBalances(ctx, it.AccessToken, accountIDs)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch balances for item %d: %w", itemID, err)
	}

	refreshed := make([]*Account, 0, len(balances))
	for _, b := range balances {
		acc, err := s.repo.UpdateBalances(ctx, b.AccountID, b.Available, b.Current)
		if errors.Is(err, ErrAccountNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		refreshed = append(refreshed, acc)
	}
	return refreshed, nil
}

// RefreshAccount refreshes one owned account and returns it with the live
// balance.
func (s *Service) RefreshAccount(ctx context.Context, accountID string, userID int64) (*Account, error) {
	acc, err := s.GetAccount(ctx, accountID, userID)
	if err != nil {
		return nil, err
	}

	refreshed, err := s.RefreshBalances(ctx, acc.ItemID, userID, accountID)
	if err != nil {
		return nil, err
	}
	for _, r := range refreshed {
		if r.ID == accountID {
			return r, nil
		}
	}
	return nil, fmt.Errorf("%w: no balance reported for account %s", ErrBalanceUnavailable, accountID)
}
