package liveupdate

import "context"

type EventType string

const (
	TypeItemStateChanged EventType = "item_state_changed"
	TypeWebhookReceived  EventType = "webhook_received"
)

// Event is one message on the live-update stream. UserID scopes delivery and
// is never sent to clients.
type Event struct {
	Type      EventType `json:"type"`
	ItemID    int64     `json:"itemId"`
	State     string    `json:"state,omitempty"`
	EventType string    `json:"eventType,omitempty"`
	UserID    int64     `json:"-"`
}

func ItemStateChanged(userID, itemID int64, state string) Event {
	return Event{Type: TypeItemStateChanged, ItemID: itemID, State: state, UserID: userID}
}

func WebhookReceived(userID, itemID int64, eventType string) Event {
	return Event{Type: TypeWebhookReceived, ItemID: itemID, EventType: eventType, UserID: userID}
}

// Publisher accepts events for delivery. Publishing never blocks on slow
// subscribers and never fails the caller.
type Publisher interface {
	Publish(ctx context.Context, e Event)
}
