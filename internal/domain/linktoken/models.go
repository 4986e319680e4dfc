package linktoken

import (
	"errors"
	"time"

	"github.com/shopspring/decimal"
)

// Mode distinguishes a first link from a repair of an existing item.
type Mode string

const (
	ModeInitial Mode = "initial"
	ModeUpdate  Mode = "update"
)

var (
	ErrTokenNotFound         = errors.New("link token not found")
	ErrExpired               = errors.New("link token expired")
	ErrAlreadyConsumed       = errors.New("link token already consumed")
	ErrNotOwned              = errors.New("link token target not owned by user")
	ErrInvalidInput          = errors.New("invalid input")
	ErrUpstreamUnavailable   = errors.New("aggregator unavailable")
	ErrUpstreamMisconfigured = errors.New("aggregator rejected credentials or configuration")
	ErrUpstreamRejected      = errors.New("aggregator rejected the request")
)

// LinkToken authorizes exactly one link or relink. A nil ItemID means
// initial mode.
type LinkToken struct {
	Value      string     `json:"token"`
	UserID     int64      `json:"-"`
	ItemID     *int64     `json:"itemId,omitempty"`
	IssuedAt   time.Time  `json:"issuedAt"`
	ExpiresAt  time.Time  `json:"expiresAt"`
	ConsumedAt *time.Time `json:"-"`
}

func (t *LinkToken) Mode() Mode {
	if t.ItemID != nil {
		return ModeUpdate
	}
	return ModeInitial
}

func (t *LinkToken) Expired(now time.Time) bool {
	return !now.Before(t.ExpiresAt)
}

// ExchangeContext is what a valid token unlocks.
type ExchangeContext struct {
	Token     string    `json:"-"`
	Mode      Mode      `json:"mode"`
	UserID    int64     `json:"-"`
	ItemID    *int64    `json:"itemId,omitempty"`
	ExpiresAt time.Time `json:"expiresAt"`
}

func exchangeContext(t *LinkToken) *ExchangeContext {
	return &ExchangeContext{
		Token:     t.Value,
		Mode:      t.Mode(),
		UserID:    t.UserID,
		ItemID:    t.ItemID,
		ExpiresAt: t.ExpiresAt,
	}
}

// CompleteRequest finishes a link flow started with a link token.
type CompleteRequest struct {
	UserID          int64
	LinkToken       string
	PublicToken     string
	InstitutionID   string
	InstitutionName string
}

func (r CompleteRequest) Validate() error {
	if r.UserID <= 0 {
		return errors.New("valid user ID is required")
	}
	if r.LinkToken == "" {
		return errors.New("link token is required")
	}
	return nil
}

// IssuedToken is the aggregator's answer to a link token request.
type IssuedToken struct {
	Value      string
	Expiration time.Time
}

// TokenRequest asks the aggregator for a link token. AccessToken is set in
// update mode.
type TokenRequest struct {
	UserID      int64
	AccessToken string
}

// Exchange is the result of trading a public token for long-lived access.
type Exchange struct {
	AccessToken    string
	ProviderItemID string
}

// RemoteAccount is an account as reported by the aggregator.
type RemoteAccount struct {
	ID        string
	Name      string
	Mask      string
	Type      string
	Subtype   string
	Currency  string
	Available *decimal.Decimal
	Current   *decimal.Decimal
}
