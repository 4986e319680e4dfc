package notification

import (
	"errors"
	"time"
)

// Notification categories
const (
	CategoryItems     = "items"
	CategoryTransfers = "transfers"
	CategoryGeneral   = "general"
)

var validCategories = map[string]struct{}{
	CategoryItems:     {},
	CategoryTransfers: {},
	CategoryGeneral:   {},
}

var validDeviceTypes = map[string]struct{}{
	"ios":     {},
	"android": {},
	"web":     {},
}

// Domain errors
var (
	ErrDeviceTokenNotFound  = errors.New("device token not found")
	ErrNotificationNotFound = errors.New("notification not found")
	ErrPreferencesNotFound  = errors.New("notification preferences not found")
	ErrInvalidCategory      = errors.New("invalid notification category")
	ErrInvalidDeviceType    = errors.New("device type must be 'ios', 'android' or 'web'")
	ErrInvalidToken         = errors.New("device token is required")
)

// DeviceToken is a registered FCM device token
type DeviceToken struct {
	ID         string    `json:"id"`
	UserID     int64     `json:"userId"`
	Token      string    `json:"token"`
	DeviceType string    `json:"deviceType"`
	IsActive   bool      `json:"isActive"`
	CreatedAt  time.Time `json:"createdAt"`
	LastUsed   time.Time `json:"lastUsed"`
}

// Preference stores per-category toggles for a user
type Preference struct {
	UserID           int64     `json:"-"`
	ItemsEnabled     bool      `json:"itemsEnabled"`
	TransfersEnabled bool      `json:"transfersEnabled"`
	GeneralEnabled   bool      `json:"generalEnabled"`
	UpdatedAt        time.Time `json:"updatedAt"`
}

func defaultPreference(userID int64) *Preference {
	return &Preference{
		UserID:           userID,
		ItemsEnabled:     true,
		TransfersEnabled: true,
		GeneralEnabled:   true,
	}
}

// Enabled reports whether category may be delivered.
func (p *Preference) Enabled(category string) bool {
	switch category {
	case CategoryItems:
		return p.ItemsEnabled
	case CategoryTransfers:
		return p.TransfersEnabled
	case CategoryGeneral:
		return p.GeneralEnabled
	default:
		return false
	}
}

// Notification is a stored notification record
type Notification struct {
	ID        string            `json:"id"`
	UserID    int64             `json:"-"`
	Title     string            `json:"title"`
	Message   string            `json:"message"`
	Category  string            `json:"category"`
	Data      map[string]string `json:"data"`
	OpenedAt  *time.Time        `json:"openedAt"`
	CreatedAt time.Time         `json:"createdAt"`
}

// Push is one message handed to the messenger.
type Push struct {
	Title string
	Body  string
	Data  map[string]string
}

type RegisterDeviceParams struct {
	UserID     int64
	Token      string
	DeviceType string
}

func (p RegisterDeviceParams) Validate() error {
	if p.UserID <= 0 {
		return errors.New("valid user ID is required")
	}
	if p.Token == "" {
		return ErrInvalidToken
	}
	if !IsValidDeviceType(p.DeviceType) {
		return ErrInvalidDeviceType
	}
	return nil
}

// UpdatePreferenceParams changes only the non-nil toggles
type UpdatePreferenceParams struct {
	ItemsEnabled     *bool `json:"itemsEnabled"`
	TransfersEnabled *bool `json:"transfersEnabled"`
	GeneralEnabled   *bool `json:"generalEnabled"`
}

type CreateNotificationParams struct {
	UserID   int64
	Title    string
	Message  string
	Category string
	Data     map[string]string
}

func (p CreateNotificationParams) Validate() error {
	if p.UserID <= 0 {
		return errors.New("valid user ID is required")
	}
	if p.Title == "" {
		return errors.New("notification title is required")
	}
	if p.Message == "" {
		return errors.New("notification message is required")
	}
	if !IsValidCategory(p.Category) {
		return ErrInvalidCategory
	}
	return nil
}

func IsValidCategory(c string) bool {
	_, ok := validCategories[c]
	return ok
}

func IsValidDeviceType(dt string) bool {
	_, ok := validDeviceTypes[dt]
	return ok
}
