package item

import "context"

// Repository persists items. Access tokens cross this boundary in plaintext;
// implementations encrypt them at rest.
type Repository interface {
	Create(ctx context.Context, params CreateParams, state State) (*Item, error)
	GetByID(ctx context.Context, id int64) (*Item, error)
	GetByProviderItemID(ctx context.Context, providerItemID string) (*Item, error)
	ListByUserID(ctx context.Context, userID int64) ([]*Item, error)

	// GetForUpdate locks the row until the surrounding transaction ends.
	GetForUpdate(ctx context.Context, id int64) (*Item, error)

	// UpdateState writes state and refreshes updated_at.
	UpdateState(ctx context.Context, id int64, state State) (*Item, error)

	// Delete removes the item; accounts and link tokens cascade.
	Delete(ctx context.Context, id int64) error
}

// Transactor runs fn inside one database transaction.
type Transactor interface {
	WithinTx(ctx context.Context, fn func(ctx context.Context) error) error
}

// Provider is the remote side of an item held at the aggregator.
type Provider interface {
	RemoveItem(ctx context.Context, accessToken string) error
	ResetLogin(ctx context.Context, accessToken string) error
}

// Alerter is told about transitions the user should hear about.
type Alerter interface {
	ItemStateChanged(ctx context.Context, it *Item, previous State)
}
