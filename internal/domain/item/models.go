package item

import (
	"errors"
	"time"
)

// State is the lifecycle state of a linked bank connection.
type State string

const (
	StatePending           State = "PENDING"
	StateGood              State = "GOOD"
	StateBad               State = "BAD"
	StatePendingDisconnect State = "PENDING_DISCONNECT"
	StatePendingExpiration State = "PENDING_EXPIRATION"
	StateRevoked           State = "REVOKED"
)

// Event drives a state transition.
type Event string

const (
	EventLoginError        Event = "LOGIN_ERROR"
	EventPendingDisconnect Event = "PENDING_DISCONNECT"
	EventPendingExpiration Event = "PENDING_EXPIRATION"
	EventLoginRepaired     Event = "LOGIN_REPAIRED"
	EventRevoke            Event = "REVOKE"
)

var (
	ErrItemNotFound = errors.New("item not found")
	ErrNotOwned     = errors.New("item does not belong to user")
	ErrInvalidInput = errors.New("invalid input")
)

// Item is one linked bank connection.
type Item struct {
	ID              int64     `json:"id"`
	UserID          int64     `json:"userId"`
	InstitutionID   string    `json:"institutionId"`
	InstitutionName string    `json:"institutionName"`
	ProviderItemID  string    `json:"-"`
	AccessToken     string    `json:"-"`
	State           State     `json:"state"`
	CreatedAt       time.Time `json:"createdAt"`
	UpdatedAt       time.Time `json:"updatedAt"`
}

// NeedsAttention reports whether the user must act to keep the item working.
func (i *Item) NeedsAttention() bool {
	switch i.State {
	case StateBad, StatePendingDisconnect, StatePendingExpiration, StateRevoked:
		return true
	}
	return false
}

type CreateParams struct {
	UserID          int64
	InstitutionID   string
	InstitutionName string
	ProviderItemID  string
	AccessToken     string
}

func (p CreateParams) Validate() error {
	if p.UserID <= 0 {
		return errors.New("valid user ID is required")
	}
	if p.InstitutionID == "" {
		return errors.New("institution ID is required")
	}
	if p.ProviderItemID == "" {
		return errors.New("provider item ID is required")
	}
	if p.AccessToken == "" {
		return errors.New("access token is required")
	}
	return nil
}
