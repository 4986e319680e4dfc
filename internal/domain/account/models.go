package account

import (
	"errors"
	"time"

	"github.com/shopspring/decimal"
)

var (
	// Account types reported by the aggregator
	accountTypes = map[string]struct{}{
		"depository": {},
		"credit":     {},
		"loan":       {},
		"investment": {},
		"other":      {},
	}
	// Common ISO 4217 currency codes
	validCurrencies = map[string]struct{}{
		"USD": {}, "CAD": {}, "EUR": {}, "GBP": {}, "BRL": {},
		"MXN": {}, "CHF": {}, "JPY": {}, "AUD": {}, "NZD": {},
	}
)

// Domain errors
var (
	ErrInvalidAccountType = errors.New("invalid account type")
	ErrAccountNotFound    = errors.New("account not found")
	ErrForbidden          = errors.New("access forbidden")
	ErrInvalidInput       = errors.New("invalid input")
	ErrInvalidCurrency    = errors.New("valid ISO 4217 currency is required")
	ErrBalanceUnavailable = errors.New("live balance unavailable")
)

// Account is a bank account surfaced by an item. ID is the aggregator's
// account id. A nil AvailableBalance means the bank did not report one.
type Account struct {
	ID                string           `json:"id"`
	ItemID            int64            `json:"itemId"`
	UserID            int64            `json:"userId"`
	Name              string           `json:"name"`
	Mask              string           `json:"mask"`
	Type              string           `json:"type"`
	Subtype           string           `json:"subtype"`
	Currency          string           `json:"currency"`
	AvailableBalance  *decimal.Decimal `json:"availableBalance"`
	CurrentBalance    *decimal.Decimal `json:"currentBalance"`
	FundingSourceURL  string           `json:"-"`
	NumberOfTransfers int              `json:"numberOfTransfers"`
	CreatedAt         time.Time        `json:"createdAt"`
	UpdatedAt         time.Time        `json:"updatedAt"`
}

// CreateParams contains parameters for storing an account surfaced by a link
type CreateParams struct {
	ID               string
	ItemID           int64
	UserID           int64
	Name             string
	Mask             string
	Type             string
	Subtype          string
	Currency         string
	AvailableBalance *decimal.Decimal
	CurrentBalance   *decimal.Decimal
	FundingSourceURL string
}

// Validate validates the create parameters
func (p CreateParams) Validate() error {
	if p.ID == "" {
		return errors.New("account ID is required")
	}
	if p.ItemID <= 0 {
		return errors.New("valid item ID is required")
	}
	if p.UserID <= 0 {
		return errors.New("valid user ID is required")
	}
	if p.Name == "" {
		return errors.New("account name is required")
	}
	if !IsValidAccountType(p.Type) {
		return ErrInvalidAccountType
	}
	if !IsValidCurrency(p.Currency) {
		return ErrInvalidCurrency
	}
	return nil
}

// IsValidAccountType checks if the provided account type is valid.
func IsValidAccountType(t string) bool {
	_, ok := accountTypes[t]
	return ok
}

// IsValidCurrency checks if the provided currency is a valid ISO 4217 code.
func IsValidCurrency(c string) bool {
	if len(c) != 3 {
		return false
	}
	_, ok := validCurrencies[c]
	return ok
}
