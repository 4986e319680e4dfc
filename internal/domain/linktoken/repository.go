package linktoken

import (
	"context"
	"time"

	"bankline/internal/domain/account"
	"bankline/internal/domain/identity"
	"bankline/internal/domain/item"
)

type Repository interface {
	// DeleteUnconsumed removes unconsumed tokens for (userID, itemID) and
	// serializes concurrent issuers of that key until the transaction ends.
	DeleteUnconsumed(ctx context.Context, userID int64, itemID *int64) error
	Insert(ctx context.Context, t *LinkToken) error
	Get(ctx context.Context, value string) (*LinkToken, error)

	// GetForUpdate locks the token row until the transaction ends.
	GetForUpdate(ctx context.Context, value string) (*LinkToken, error)

	// MarkConsumed sets consumed_at if still unset. It reports false when
	// another caller consumed the token first.
	MarkConsumed(ctx context.Context, value string, at time.Time) (bool, error)

	// DeleteStale removes tokens that expired or were consumed before cutoff.
	DeleteStale(ctx context.Context, cutoff time.Time) (int64, error)
}

// Transactor runs fn inside one database transaction.
type Transactor interface {
	WithinTx(ctx context.Context, fn func(ctx context.Context) error) error
}

// Aggregator is the remote bank-aggregation provider. Errors are classified
// with the upstream package.
type Aggregator interface {
	CreateLinkToken(ctx context.Context, req TokenRequest) (*IssuedToken, error)
	ExchangePublicToken(ctx context.Context, publicToken string) (*Exchange, error)
	GetAccounts(ctx context.Context, accessToken string) ([]RemoteAccount, error)
	RemoveItem(ctx context.Context, accessToken string) error
}

// FundingLinker registers an account with the payment processor and returns
// its funding source URL.
type FundingLinker interface {
	LinkFundingSource(ctx context.Context, userID int64, accessToken, accountID string) (string, error)
}

// ItemStore is the part of the item service the broker drives.
type ItemStore interface {
	GetOwnedItem(ctx context.Context, id, userID int64) (*item.Item, error)
	CreateItem(ctx context.Context, params item.CreateParams) (*item.Item, error)
	ApplyTransition(ctx context.Context, itemID int64, event item.Event) (*item.TransitionResult, error)
	PublishTransition(ctx context.Context, res *item.TransitionResult)
}

// AccountStore stores the accounts of a new item.
type AccountStore interface {
	CreateForItem(ctx context.Context, params []account.CreateParams) ([]*account.Account, error)
}

// IdentitySource fetches the account owners the bank reports for an item.
type IdentitySource interface {
	GetIdentity(ctx context.Context, accessToken string) ([]identity.Owner, error)
}

// IdentityVerifier checks new items for users who opted into owner
// verification.
type IdentityVerifier interface {
	Required(ctx context.Context, userID int64) (bool, error)
	Record(ctx context.Context, userID, itemID int64, owners []identity.Owner) (*identity.Check, error)
}
