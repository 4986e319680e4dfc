package identity

import "context"

// Repository stores one check per item.
type Repository interface {
	// Save creates or replaces the check for c.ItemID
	Save(ctx context.Context, c *Check) (*Check, error)

	// GetByItemID returns ErrCheckNotFound when the item was never checked
	GetByItemID(ctx context.Context, itemID int64) (*Check, error)
}
