package postgres

import (
	"context"
	"database/sql"
	"fmt"

	"bankline/internal/domain/identity"

	"github.com/lib/pq"
)

const identityColumns = `item_id, user_id, name_match, email_match, passed, owner_names, owner_emails, checked_at`

// IdentityRepository implements identity.Repository for PostgreSQL
type IdentityRepository struct {
	db *DB
}

func NewIdentityRepository(db *DB) *IdentityRepository {
	return &IdentityRepository{db: db}
}

func scanIdentityCheck(row rowScanner) (*identity.Check, error) {
	var c identity.Check
	err := row.Scan(&c.ItemID, &c.UserID, &c.NameMatch, &c.EmailMatch, &c.Passed,
		pq.Array(&c.OwnerNames), pq.Array(&c.OwnerEmails), &c.CheckedAt)
	if err != nil {
		return nil, err
	}
	return &c, nil
}

// Save replaces the item's previous check, if any.
func (r *IdentityRepository) Save(ctx context.Context, c *identity.Check) (*identity.Check, error) {
	query := `
		INSERT INTO identity_checks (item_id, user_id, name_match, email_match, passed, owner_names, owner_emails, checked_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (item_id) DO UPDATE SET
			name_match = EXCLUDED.name_match,
			email_match = EXCLUDED.email_match,
			passed = EXCLUDED.passed,
			owner_names = EXCLUDED.owner_names,
			owner_emails = EXCLUDED.owner_emails,
			checked_at = EXCLUDED.checked_at
		RETURNING ` + identityColumns

	saved, err := scanIdentityCheck(r.db.conn(ctx).QueryRowContext(ctx, query,
		c.ItemID, c.UserID, c.NameMatch, c.EmailMatch, c.Passed,
		pq.Array(c.OwnerNames), pq.Array(c.OwnerEmails), c.CheckedAt,
	))
	if err != nil {
		return nil, fmt.Errorf("failed to save identity check: %w", err)
	}
	return saved, nil
}

func (r *IdentityRepository) GetByItemID(ctx context.Context, itemID int64) (*identity.Check, error) {
	query := `SELECT ` + identityColumns + ` FROM identity_checks WHERE item_id = $1`

	c, err := scanIdentityCheck(r.db.conn(ctx).QueryRowContext(ctx, query, itemID))
	if err == sql.ErrNoRows {
		return nil, identity.ErrCheckNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get identity check: %w", err)
	}
	return c, nil
}
