package transfer

import (
	"context"
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"

	"bankline/internal/domain/account"
)

// Repository is the transfer ledger. Methods run inside the caller's
// transaction when ctx carries one.
type Repository interface {
	// Insert writes a terminal transfer.
	Insert(ctx context.Context, t *Transfer) error

	GetByID(ctx context.Context, id string) (*Transfer, error)

	// ListByUserID returns the user's transfers, newest first.
	ListByUserID(ctx context.Context, userID int64, limit int) ([]*Transfer, error)

	// GetAppFund returns nil and no error when the user has no fund yet.
	GetAppFund(ctx context.Context, userID int64) (*AppFund, error)

	// CreditAppFund adds amount to the user's fund, creating it if needed.
	CreditAppFund(ctx context.Context, userID int64, amount decimal.Decimal) (*AppFund, error)

	// IncrementAccountTransfers bumps the account's transfer counter.
	IncrementAccountTransfers(ctx context.Context, accountID string) error

	// LockAccount serializes writers for one account until the transaction ends.
	LockAccount(ctx context.Context, accountID string) error

	// ReserveBalance decrements the available balance if it covers amount.
	ReserveBalance(ctx context.Context, accountID string, amount decimal.Decimal) (bool, error)

	// ReleaseBalance undoes a reservation.
	ReleaseBalance(ctx context.Context, accountID string, amount decimal.Decimal) error
}

type Transactor interface {
	WithinTx(ctx context.Context, fn func(ctx context.Context) error) error
}

type AccountReader interface {
	GetAccount(ctx context.Context, accountID string, userID int64) (*account.Account, error)
}

// RiskRequest identifies the transfer being scored.
type RiskRequest struct {
	TransferID string
	UserID     int64
	ItemID     int64
	AccountID  string
	Amount     decimal.Decimal
}

// RiskDecision is the verdict. Payload is kept verbatim for audit.
type RiskDecision struct {
	Outcome string
	Payload json.RawMessage
}

type RiskEvaluator interface {
	Evaluate(ctx context.Context, req RiskRequest) (*RiskDecision, error)
}

// Submission is a request to move funds.
type Submission struct {
	TransferID       string
	UserID           int64
	ItemID           int64
	AccountID        string
	FundingSourceURL string
	Amount           decimal.Decimal
}

// Confirmation is the processor's acknowledgement.
type Confirmation struct {
	Reference   string
	Amount      decimal.Decimal
	ConfirmedAt time.Time
}

// Processor executes an approved transfer. A nil confirmation with a nil
// error means the processor did not confirm.
type Processor interface {
	Submit(ctx context.Context, s Submission) (*Confirmation, error)
}

// Notifier is told about stored transfers.
type Notifier interface {
	TransferCompleted(ctx context.Context, t *Transfer)
}

// IdentityGate decides whether an item's accounts may fund transfers. reason
// explains a refusal.
type IdentityGate interface {
	TransfersAllowed(ctx context.Context, userID, itemID int64) (ok bool, reason string, err error)
}

// BalanceRefresher re-reads an account's balances from the bank and stores
// them.
type BalanceRefresher interface {
	RefreshAccount(ctx context.Context, accountID string, userID int64) (*account.Account, error)
}
